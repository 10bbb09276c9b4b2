package artifact

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/cephdash/cephfetch/internal/logging"
)

// LocalPrefix and LocalSuffix frame every collected artifact name. The
// dashboard discovers reports by this pattern.
const (
	LocalPrefix = "ceph-details-output-"
	LocalSuffix = ".md"
)

// Opener opens remote files for reading. Reads from the returned file must
// fail once ctx is done.
type Opener interface {
	Open(ctx context.Context, path string) (io.ReadCloser, error)
}

// LocalPath returns the collection path for a target.
func LocalPath(dir, target string) string {
	return filepath.Join(dir, LocalPrefix+target+LocalSuffix)
}

// Retriever copies located artifacts into the collection directory.
type Retriever struct {
	dir    string
	settle time.Duration
	logger zerolog.Logger
}

// NewRetriever creates a retriever writing into dir after waiting settle.
func NewRetriever(dir string, settle time.Duration) *Retriever {
	return &Retriever{
		dir:    dir,
		settle: settle,
		logger: logging.Component("retriever"),
	}
}

// Retrieve waits for the remote file to settle and copies it to the
// target's local path. The final name only ever holds a complete copy.
// A missing remote file yields an error matching os.ErrNotExist.
func (r *Retriever) Retrieve(ctx context.Context, opener Opener, remotePath, target string) (string, error) {
	if r.settle > 0 {
		timer := time.NewTimer(r.settle)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
	}

	remote, err := opener.Open(ctx, remotePath)
	if err != nil {
		return "", fmt.Errorf("open remote %s: %w", remotePath, err)
	}
	defer remote.Close()

	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return "", fmt.Errorf("create collection dir: %w", err)
	}

	finalPath := LocalPath(r.dir, target)
	tmp, err := os.CreateTemp(r.dir, "."+LocalPrefix+target+"-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmp, contextReader{ctx: ctx, r: remote})
	if err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return "", fmt.Errorf("copy %s: %w", remotePath, err)
	}
	if err := tmp.Sync(); err != nil {
		return "", fmt.Errorf("sync %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", tmpPath, err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return "", fmt.Errorf("chmod %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("rename into %s: %w", finalPath, err)
	}
	committed = true

	r.logger.Debug().
		Str("remote", remotePath).
		Str("local", finalPath).
		Int64("bytes", written).
		Msg("artifact retrieved")
	return finalPath, nil
}

// contextReader stops a copy between reads once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
