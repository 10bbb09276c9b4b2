package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/pkg/sftp"
	xssh "golang.org/x/crypto/ssh"
)

// Fixed pseudo-terminal geometry for the interactive shell.
const (
	TerminalType = "xterm"
	TerminalCols = 200
	TerminalRows = 50
)

// Session bundles the transport, the interactive shell channel and a lazily
// opened sftp channel. A session belongs to exactly one target.
type Session struct {
	client *xssh.Client
	shell  *xssh.Session
	term   terminal

	mu          sync.Mutex
	sftp        *sftp.Client
	sftpChannel *xssh.Session
	closed      bool

	stopWatch func() bool
	closeOnce sync.Once
	closeErr  error
}

type terminal struct {
	io.Reader
	io.Writer
}

func openSession(client *xssh.Client, stopWatch func() bool) (*Session, error) {
	shell, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("new session: %w", err)
	}

	stdin, err := shell.StdinPipe()
	if err != nil {
		_ = shell.Close()
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := shell.StdoutPipe()
	if err != nil {
		_ = shell.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	modes := xssh.TerminalModes{
		xssh.ECHO:          1,
		xssh.TTY_OP_ISPEED: 14400,
		xssh.TTY_OP_OSPEED: 14400,
	}
	if err := shell.RequestPty(TerminalType, TerminalRows, TerminalCols, modes); err != nil {
		_ = shell.Close()
		return nil, fmt.Errorf("request pty: %w", err)
	}
	if err := shell.Shell(); err != nil {
		_ = shell.Close()
		return nil, fmt.Errorf("start shell: %w", err)
	}

	return &Session{
		client:    client,
		shell:     shell,
		term:      terminal{Reader: stdout, Writer: stdin},
		stopWatch: stopWatch,
	}, nil
}

// Terminal returns the interactive shell byte stream.
func (s *Session) Terminal() io.ReadWriter {
	return s.term
}

// Exec runs cmd on a separate exec channel and returns its output.
// A non-zero exit status is reported as *ExecError.
func (s *Session) Exec(ctx context.Context, cmd string) (stdout, stderr []byte, err error) {
	if s.isClosed() {
		return nil, nil, ErrSessionClosed
	}

	exec, err := s.client.NewSession()
	if err != nil {
		return nil, nil, fmt.Errorf("new exec session: %w", err)
	}
	defer exec.Close()

	var outBuf, errBuf bytes.Buffer
	exec.Stdout = &outBuf
	exec.Stderr = &errBuf

	done := make(chan error, 1)
	go func() {
		done <- exec.Run(cmd)
	}()

	select {
	case runErr := <-done:
		if runErr == nil {
			return outBuf.Bytes(), errBuf.Bytes(), nil
		}
		execErr := &ExecError{
			Command:  cmd,
			ExitCode: -1,
			Stdout:   outBuf.Bytes(),
			Stderr:   errBuf.Bytes(),
			Err:      runErr,
		}
		var exitErr *xssh.ExitError
		if errors.As(runErr, &exitErr) {
			execErr.ExitCode = exitErr.ExitStatus()
		}
		return execErr.Stdout, execErr.Stderr, execErr
	case <-ctx.Done():
		_ = exec.Signal(xssh.SIGKILL)
		_ = exec.Close()
		<-done
		return outBuf.Bytes(), errBuf.Bytes(), ctx.Err()
	}
}

// Open opens a remote file for reading over sftp. When ctx ends the sftp
// channel is torn down, failing the handshake or any pending read; the next
// Open starts a fresh channel.
func (s *Session) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	client, err := s.sftpClient(ctx)
	if err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() { s.dropSFTP(client) })
	file, err := client.Open(path)
	if err != nil {
		stop()
		if ctx.Err() != nil {
			return nil, fmt.Errorf("open %s: %w", path, ctx.Err())
		}
		return nil, err
	}
	return &remoteFile{File: file, stop: stop}, nil
}

// remoteFile releases the context watch when the caller is done reading.
type remoteFile struct {
	*sftp.File
	stop func() bool
}

func (f *remoteFile) Close() error {
	f.stop()
	return f.File.Close()
}

func (s *Session) sftpClient(ctx context.Context) (*sftp.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	if s.sftp != nil {
		return s.sftp, nil
	}

	channel, err := s.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("open sftp channel: %w", err)
	}
	stop := context.AfterFunc(ctx, func() { _ = channel.Close() })
	client, err := newSFTPClient(channel)
	if !stop() {
		if client != nil {
			_ = client.Close()
		}
		return nil, fmt.Errorf("open sftp channel: %w", ctx.Err())
	}
	if err != nil {
		_ = channel.Close()
		return nil, fmt.Errorf("open sftp channel: %w", err)
	}
	s.sftp = client
	s.sftpChannel = channel
	return client, nil
}

func newSFTPClient(channel *xssh.Session) (*sftp.Client, error) {
	if err := channel.RequestSubsystem("sftp"); err != nil {
		return nil, err
	}
	w, err := channel.StdinPipe()
	if err != nil {
		return nil, err
	}
	r, err := channel.StdoutPipe()
	if err != nil {
		return nil, err
	}
	return sftp.NewClientPipe(r, w)
}

// dropSFTP closes the channel under client so blocked requests fail with a
// lost connection instead of waiting on the server.
func (s *Session) dropSFTP(client *sftp.Client) {
	s.mu.Lock()
	if s.sftp != client {
		s.mu.Unlock()
		return
	}
	channel := s.sftpChannel
	s.sftp = nil
	s.sftpChannel = nil
	s.mu.Unlock()

	_ = channel.Close()
	_ = client.Close()
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close closes the sftp channel, the shell and the transport, in that order.
// It returns the first error and is safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		sftpClient, sftpChannel := s.sftp, s.sftpChannel
		s.sftp, s.sftpChannel = nil, nil
		s.mu.Unlock()

		var errs []error
		if sftpClient != nil {
			errs = append(errs, sftpChannel.Close(), sftpClient.Close())
		}
		errs = append(errs, s.shell.Close(), s.client.Close())
		if s.stopWatch != nil {
			s.stopWatch()
		}

		for _, err := range errs {
			if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.closeErr = err
				break
			}
		}
	})
	return s.closeErr
}
