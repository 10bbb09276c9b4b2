package artifact

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListCollected(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(LocalPath(dir, "ceph-node-02"), []byte("two"), 0o644))
	require.NoError(t, os.WriteFile(LocalPath(dir, "ceph-node-01"), []byte("one!"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ceph-mapping.md"), []byte("legacy"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".ceph-details-output-x-123.tmp"), nil, 0o644))
	require.NoError(t, os.Mkdir(LocalPath(dir, "dir"), 0o755))

	reports, err := ListCollected(dir)
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.Equal(t, "ceph-node-01", reports[0].Target)
	assert.Equal(t, int64(4), reports[0].Size)
	assert.Equal(t, "ceph-node-02", reports[1].Target)
	assert.Equal(t, LocalPath(dir, "ceph-node-02"), reports[1].Path)
}

func TestListCollectedMissingDir(t *testing.T) {
	reports, err := ListCollected(filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	assert.Empty(t, reports)
}
