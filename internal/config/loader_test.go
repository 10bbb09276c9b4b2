package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cephdash/cephfetch/internal/models"
)

const validConfig = `
ssh:
  username: ceph-admin
  key_file: ~/.ssh/id_ed25519
  key_requires_password: true
targets:
  - name: ceph-node-02
    address: 10.0.0.12
  - name: ceph-node-01
    address: 10.0.0.11:2222
paths:
  remote_script_path: /opt/ceph-tools/get_ceph_info.sh
execution:
  script_timeout: 5m
  completion_markers:
    - "All done"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFromFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg, err := LoadFromFile(writeConfig(t, validConfig))
	require.NoError(t, err)

	require.Equal(t, "ceph-admin", cfg.SSH.Username)
	require.Equal(t, filepath.Join(home, ".ssh", "id_ed25519"), cfg.SSH.KeyFile)
	require.True(t, cfg.SSH.KeyRequiresPassword)
	require.Equal(t, DefaultPort, cfg.SSH.Port)

	require.Equal(t, []models.Target{
		{Name: "ceph-node-02", Address: "10.0.0.12"},
		{Name: "ceph-node-01", Address: "10.0.0.11:2222"},
	}, cfg.Targets)

	require.Equal(t, "/opt/ceph-tools", cfg.ScriptDir())
	require.Equal(t, "get_ceph_info.sh", cfg.ScriptName())
	require.Equal(t, 5*time.Minute, cfg.Execution.ScriptTimeout)
	require.Equal(t, DefaultPromptTimeout, cfg.Execution.PromptTimeout)
	require.Equal(t, DefaultLocateTimeout, cfg.Execution.LocateTimeout)
	require.Equal(t, DefaultTransferTimeout, cfg.Execution.TransferTimeout)
	require.Equal(t, []string{"All done"}, cfg.Execution.CompletionMarkers)
	require.Equal(t, DefaultArtifactNames, cfg.Execution.ArtifactNames)
	require.Equal(t, filepath.Join(DefaultCollectionDir, DefaultHistoryFile), cfg.HistoryPath())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CEPHFETCH_SSH_USERNAME", "from-env")
	t.Setenv("CEPHFETCH_EXECUTION_PROMPT_TIMEOUT", "45s")
	t.Setenv("CEPHFETCH_PATHS_COLLECTION_DIR", "/var/lib/cephfetch")

	cfg, err := LoadFromFile(writeConfig(t, validConfig))
	require.NoError(t, err)
	require.Equal(t, "from-env", cfg.SSH.Username)
	require.Equal(t, 45*time.Second, cfg.Execution.PromptTimeout)
	require.Equal(t, "/var/lib/cephfetch", cfg.Paths.CollectionDir)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)

	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
}

func TestLoadMissingRequiredKeys(t *testing.T) {
	_, err := LoadFromFile(writeConfig(t, "targets:\n  - name: a\n    address: 10.0.0.1\n"))
	require.Error(t, err)

	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	require.Contains(t, err.Error(), "ssh.username")
	require.Contains(t, err.Error(), "ssh.key_file")
	require.Contains(t, err.Error(), "paths.remote_script_path")
}

func TestValidateRejectsDuplicateTargets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SSH.Username = "ceph"
	cfg.SSH.KeyFile = "/tmp/key"
	cfg.Paths.RemoteScriptPath = "get_ceph_info.sh"
	cfg.Targets = []models.Target{
		{Name: "node", Address: "10.0.0.1"},
		{Name: "node", Address: "10.0.0.2"},
	}

	err := cfg.Validate()
	require.Error(t, err)
	require.True(t, errors.Is(err, models.ErrDuplicateTarget))
}

func TestValidateExecutionBounds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SSH.Username = "ceph"
	cfg.SSH.KeyFile = "/tmp/key"
	cfg.Paths.RemoteScriptPath = "get_ceph_info.sh"
	cfg.Targets = []models.Target{{Name: "node", Address: "10.0.0.1"}}
	require.NoError(t, cfg.Validate())

	cfg.Execution.MaxConcurrent = 0
	cfg.Execution.PollInterval = time.Millisecond
	cfg.Execution.ArtifactNames = []string{"../escape.md"}
	cfg.Execution.CompletionMarkers = []string{"  "}
	cfg.Execution.LocateTimeout = 0
	cfg.Execution.TransferTimeout = cfg.Execution.SettleDelay

	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "execution.max_concurrent")
	require.Contains(t, err.Error(), "execution.poll_interval")
	require.Contains(t, err.Error(), "execution.artifact_names[0]")
	require.Contains(t, err.Error(), "execution.completion_markers")
	require.Contains(t, err.Error(), "execution.locate_timeout")
	require.Contains(t, err.Error(), "execution.transfer_timeout")
}

func TestScriptDirWithoutDirectory(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Paths.RemoteScriptPath = "get_ceph_info.sh"
	require.Equal(t, "", cfg.ScriptDir())
	require.Equal(t, "get_ceph_info.sh", cfg.ScriptName())
}
