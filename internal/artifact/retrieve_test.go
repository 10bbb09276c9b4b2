package artifact

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memOpener map[string][]byte

func (m memOpener) Open(_ context.Context, path string) (io.ReadCloser, error) {
	data, ok := m[path]
	if !ok {
		return nil, &os.PathError{Op: "open", Path: path, Err: os.ErrNotExist}
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("channel closed") }
func (failingReader) Close() error             { return nil }

type failingOpener struct{}

func (failingOpener) Open(context.Context, string) (io.ReadCloser, error) {
	return failingReader{}, nil
}

func TestLocalPath(t *testing.T) {
	assert.Equal(t, filepath.Join("output", "ceph-details-output-node-01.md"), LocalPath("output", "node-01"))
}

func TestRetrieveCopiesBytes(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "output")
	report := []byte("# Ceph\n\n| osd | host |\n|---|---|\n| 0 | node |\n")
	opener := memOpener{"/opt/ceph-tools/ceph-details-output-node.md": report}

	local, err := NewRetriever(dir, 0).Retrieve(context.Background(), opener, "/opt/ceph-tools/ceph-details-output-node.md", "node-01")
	require.NoError(t, err)
	assert.Equal(t, LocalPath(dir, "node-01"), local)

	data, err := os.ReadFile(local)
	require.NoError(t, err)
	assert.Equal(t, report, data)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not linger")
}

func TestRetrieveOverwritesPreviousCopy(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(LocalPath(dir, "node"), []byte("old"), 0o644))

	_, err := NewRetriever(dir, 0).Retrieve(context.Background(), memOpener{"r.md": []byte("new")}, "r.md", "node")
	require.NoError(t, err)

	data, err := os.ReadFile(LocalPath(dir, "node"))
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
}

func TestRetrieveVanishedFile(t *testing.T) {
	dir := t.TempDir()
	_, err := NewRetriever(dir, 0).Retrieve(context.Background(), memOpener{}, "/opt/gone.md", "node")
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))

	_, statErr := os.Stat(LocalPath(dir, "node"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestRetrievePartialCopyLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	_, err := NewRetriever(dir, 0).Retrieve(context.Background(), failingOpener{}, "r.md", "node")
	require.Error(t, err)
	assert.False(t, errors.Is(err, os.ErrNotExist))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRetrieveSettleDelayHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	_, err := NewRetriever(t.TempDir(), time.Minute).Retrieve(ctx, memOpener{"r.md": nil}, "r.md", "node")
	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

// stallingOpener returns a file whose reads block until ctx is done, the way
// a session tears down a stalled sftp channel.
type stallingOpener struct{}

func (stallingOpener) Open(ctx context.Context, _ string) (io.ReadCloser, error) {
	return io.NopCloser(readerFunc(func([]byte) (int, error) {
		<-ctx.Done()
		return 0, errors.New("connection lost")
	})), nil
}

type readerFunc func([]byte) (int, error)

func (f readerFunc) Read(p []byte) (int, error) { return f(p) }

func TestRetrieveStalledCopyReportsDeadline(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewRetriever(dir, 0).Retrieve(ctx, stallingOpener{}, "r.md", "node")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
