package testutil

import (
	"encoding/binary"
	"io"

	"github.com/pkg/sftp"
)

// sftpRead is the SSH_FXP_READ packet type.
const sftpRead = 5

// ServeSFTP serves channel read-only from the local filesystem.
func ServeSFTP(channel io.ReadWriteCloser) {
	server, err := sftp.NewServer(channel, sftp.ReadOnly())
	if err != nil {
		return
	}
	_ = server.Serve()
	_ = server.Close()
}

// SilentSFTP accepts the subsystem but never answers, so the client
// handshake hangs until the channel is closed.
func SilentSFTP(channel io.ReadWriteCloser) {
	_, _ = io.Copy(io.Discard, channel)
}

// ServeSFTPWithoutReads serves like ServeSFTP but swallows every read
// request: opens and stats succeed, reads never complete.
func ServeSFTPWithoutReads(channel io.ReadWriteCloser) {
	pr, pw := io.Pipe()
	defer pr.Close()
	go func() {
		pw.CloseWithError(forwardPackets(channel, pw))
	}()
	ServeSFTP(struct {
		io.Reader
		io.Writer
		io.Closer
	}{pr, channel, channel})
}

func forwardPackets(src io.Reader, dst io.Writer) error {
	header := make([]byte, 4)
	for {
		if _, err := io.ReadFull(src, header); err != nil {
			return err
		}
		body := make([]byte, binary.BigEndian.Uint32(header))
		if _, err := io.ReadFull(src, body); err != nil {
			return err
		}
		if len(body) > 0 && body[0] == sftpRead {
			continue
		}
		if _, err := dst.Write(header); err != nil {
			return err
		}
		if _, err := dst.Write(body); err != nil {
			return err
		}
	}
}
