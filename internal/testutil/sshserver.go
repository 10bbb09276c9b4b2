package testutil

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"

	xssh "golang.org/x/crypto/ssh"
)

// ShellFunc drives the interactive shell channel until it returns.
type ShellFunc func(term io.ReadWriter)

// ExecFunc handles one exec request and returns the exit status.
type ExecFunc func(cmd string, stdout, stderr io.Writer) uint32

// SFTPFunc serves one sftp subsystem channel until it returns.
type SFTPFunc func(channel io.ReadWriteCloser)

// PtyRequest is the last pseudo-terminal request seen by the server.
type PtyRequest struct {
	Term string
	Cols uint32
	Rows uint32
}

// SSHServer is an in-process SSH server with a scripted shell, exec
// handling and an sftp subsystem backed by the local filesystem.
type SSHServer struct {
	Addr         string
	Username     string
	ClientSigner xssh.Signer

	Shell ShellFunc
	Exec  ExecFunc
	SFTP  SFTPFunc

	listener   net.Listener
	config     *xssh.ServerConfig
	authorized []byte

	mu       sync.Mutex
	conns    map[net.Conn]struct{}
	pty      *PtyRequest
	execs    []string
	sessions int
	closed   bool
	wg       sync.WaitGroup
}

// NewSSHServer starts a server on a loopback port. It is closed when the
// test ends.
func NewSSHServer(t *testing.T, shell ShellFunc) *SSHServer {
	t.Helper()
	SkipIfNoNetwork(t)

	hostSigner := newSigner(t)
	clientSigner := newSigner(t)

	s := &SSHServer{
		Username:     "ceph-admin",
		ClientSigner: clientSigner,
		Shell:        shell,
		Exec:         ShellExec,
		SFTP:         ServeSFTP,
		conns:        make(map[net.Conn]struct{}),
	}

	s.authorized = clientSigner.PublicKey().Marshal()
	s.config = &xssh.ServerConfig{
		PublicKeyCallback: func(meta xssh.ConnMetadata, key xssh.PublicKey) (*xssh.Permissions, error) {
			s.mu.Lock()
			authorized := s.authorized
			s.mu.Unlock()
			if meta.User() == s.Username && bytes.Equal(key.Marshal(), authorized) {
				return nil, nil
			}
			return nil, fmt.Errorf("unknown public key for %q", meta.User())
		},
	}
	s.config.AddHostKey(hostSigner)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	s.listener = listener
	s.Addr = listener.Addr().String()

	s.wg.Add(1)
	go s.serve()
	t.Cleanup(s.Close)
	return s
}

// WriteClientKey writes the authorized client key as an OpenSSH PEM file.
func (s *SSHServer) WriteClientKey(t *testing.T, dir string) string {
	t.Helper()
	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	signer, err := xssh.NewSignerFromKey(key)
	if err != nil {
		t.Fatalf("failed to build signer: %v", err)
	}
	block, err := xssh.MarshalPrivateKey(key, "cephfetch-test")
	if err != nil {
		t.Fatalf("failed to marshal key: %v", err)
	}
	path := filepath.Join(dir, "id_ed25519")
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		t.Fatalf("failed to write key: %v", err)
	}
	s.mu.Lock()
	s.ClientSigner = signer
	s.authorized = signer.PublicKey().Marshal()
	s.mu.Unlock()
	return path
}

// TrustSigner makes the server accept signer as the client key, so several
// servers can share one set of credentials.
func (s *SSHServer) TrustSigner(signer xssh.Signer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ClientSigner = signer
	s.authorized = signer.PublicKey().Marshal()
}

// Pty returns the last pty request, or nil.
func (s *SSHServer) Pty() *PtyRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pty == nil {
		return nil
	}
	pty := *s.pty
	return &pty
}

// Execs returns the exec commands received so far.
func (s *SSHServer) Execs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.execs...)
}

// Sessions returns the number of shell sessions started.
func (s *SSHServer) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions
}

// Close stops accepting and drops every connection.
func (s *SSHServer) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	_ = s.listener.Close()
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// UnreachableAddress returns a loopback address nothing listens on.
func UnreachableAddress(t *testing.T) string {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	addr := listener.Addr().String()
	_ = listener.Close()
	return addr
}

// ShellExec runs cmd with the local /bin/sh.
func ShellExec(cmd string, stdout, stderr io.Writer) uint32 {
	command := exec.Command("/bin/sh", "-c", cmd)
	command.Stdout = stdout
	command.Stderr = stderr
	if err := command.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return uint32(exitErr.ExitCode())
		}
		return 127
	}
	return 0
}

func (s *SSHServer) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.wg.Add(1)
		s.mu.Unlock()
		go s.handleConn(conn)
	}
}

func (s *SSHServer) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	serverConn, chans, reqs, err := xssh.NewServerConn(conn, s.config)
	if err != nil {
		return
	}
	defer serverConn.Close()
	go xssh.DiscardRequests(reqs)

	var channels sync.WaitGroup
	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			_ = newChannel.Reject(xssh.UnknownChannelType, "unsupported channel type")
			continue
		}
		channel, requests, err := newChannel.Accept()
		if err != nil {
			continue
		}
		channels.Add(1)
		go func() {
			defer channels.Done()
			s.handleChannel(channel, requests)
		}()
	}
	channels.Wait()
}

func (s *SSHServer) handleChannel(channel xssh.Channel, requests <-chan *xssh.Request) {
	var started sync.WaitGroup
	defer started.Wait()

	finish := func(status uint32) {
		_, _ = channel.SendRequest("exit-status", false, xssh.Marshal(struct{ Status uint32 }{status}))
		_ = channel.Close()
	}

	for req := range requests {
		switch req.Type {
		case "pty-req":
			var payload struct {
				Term          string
				Cols, Rows    uint32
				Width, Height uint32
				Modes         string
			}
			if err := xssh.Unmarshal(req.Payload, &payload); err != nil {
				_ = req.Reply(false, nil)
				continue
			}
			s.mu.Lock()
			s.pty = &PtyRequest{Term: payload.Term, Cols: payload.Cols, Rows: payload.Rows}
			s.mu.Unlock()
			_ = req.Reply(true, nil)
		case "env", "window-change", "signal":
			_ = req.Reply(true, nil)
		case "shell":
			_ = req.Reply(true, nil)
			s.mu.Lock()
			s.sessions++
			s.mu.Unlock()
			started.Add(1)
			go func() {
				defer started.Done()
				if s.Shell != nil {
					s.Shell(channel)
				}
				finish(0)
			}()
		case "exec":
			var payload struct{ Command string }
			if err := xssh.Unmarshal(req.Payload, &payload); err != nil {
				_ = req.Reply(false, nil)
				continue
			}
			_ = req.Reply(true, nil)
			s.mu.Lock()
			s.execs = append(s.execs, payload.Command)
			s.mu.Unlock()
			started.Add(1)
			go func() {
				defer started.Done()
				status := uint32(127)
				if s.Exec != nil {
					status = s.Exec(payload.Command, channel, channel.Stderr())
				}
				finish(status)
			}()
		case "subsystem":
			var payload struct{ Name string }
			if err := xssh.Unmarshal(req.Payload, &payload); err != nil || payload.Name != "sftp" {
				_ = req.Reply(false, nil)
				continue
			}
			_ = req.Reply(true, nil)
			started.Add(1)
			go func() {
				defer started.Done()
				if s.SFTP != nil {
					s.SFTP(channel)
				}
				_ = channel.Close()
			}()
		default:
			_ = req.Reply(false, nil)
		}
	}
}

func newSigner(t *testing.T) xssh.Signer {
	t.Helper()
	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	signer, err := xssh.NewSignerFromKey(key)
	if err != nil {
		t.Fatalf("failed to build signer: %v", err)
	}
	return signer
}
