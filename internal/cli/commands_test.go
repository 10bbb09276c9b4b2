package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cephdash/cephfetch/internal/artifact"
	"github.com/cephdash/cephfetch/internal/credentials"
	"github.com/cephdash/cephfetch/internal/models"
	"github.com/cephdash/cephfetch/internal/testutil"
)

// isolate keeps user config files and env out of the test.
func isolate(t *testing.T) {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	t.Setenv(escalationPasswordEnv, "")
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd("test")
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestRootCommands(t *testing.T) {
	root := newRootCmd("dev")
	for _, name := range []string{"collect", "list", "ls", "history", "version"} {
		found, _, err := root.Find([]string{name})
		require.NoError(t, err, name)
		require.NotEqual(t, "cephfetch", found.Name(), name)
	}

	out, err := execute(t, "version")
	require.NoError(t, err)
	require.Equal(t, "cephfetch test\n", out)
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name    string
		summary models.RunSummary
		err     error
		want    int
	}{
		{name: "all succeeded", summary: models.RunSummary{Succeeded: 3}, want: ExitOK},
		{name: "partial", summary: models.RunSummary{Succeeded: 2, Failed: 1}, want: ExitPartial},
		{name: "none succeeded", summary: models.RunSummary{Failed: 3}, want: ExitFailure},
		{name: "fatal", summary: models.RunSummary{Succeeded: 1}, err: errors.New("fatal"), want: ExitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, exitCode(tt.summary, tt.err))
		})
	}
}

func TestWriteTableIgnoresANSIWidth(t *testing.T) {
	var buf bytes.Buffer
	err := writeTable(&buf, []string{"TARGET", "RESULT"}, [][]string{
		{"node-01", "\x1b[32mok\x1b[0m"},
		{"n2", "failed"},
	})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	require.Equal(t, "TARGET   RESULT", lines[0])
	require.Equal(t, "node-01  \x1b[32mok\x1b[0m", lines[1])
	require.Equal(t, "n2       failed", lines[2])
}

func TestTruncate(t *testing.T) {
	require.Equal(t, "short", truncate("short", 10))
	require.Equal(t, "a b c", truncate("a\n  b\tc", 10))
	require.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}

func TestListCommand(t *testing.T) {
	isolate(t)
	dir := t.TempDir()

	out, err := execute(t, "list", "--dir", dir)
	require.NoError(t, err)
	require.Contains(t, out, "No reports in "+dir)

	require.NoError(t, os.WriteFile(artifact.LocalPath(dir, "ceph-node-01"), []byte("# report"), 0o644))
	out, err = execute(t, "ls", "--dir", dir)
	require.NoError(t, err)
	require.Contains(t, out, "ceph-node-01")
	require.Contains(t, out, "TARGET")
}

func TestListCommandUsesConfiguredDir(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	t.Setenv("CEPHFETCH_PATHS_COLLECTION_DIR", dir)
	require.NoError(t, os.WriteFile(artifact.LocalPath(dir, "from-env"), []byte("x"), 0o644))

	out, err := execute(t, "list")
	require.NoError(t, err)
	require.Contains(t, out, "from-env")
}

func TestCollectInvalidConfig(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("targets: []\n"), 0o600))

	_, err := execute(t, "collect", "--config", path)
	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	require.Equal(t, ExitFailure, exitErr.Code)
	require.Contains(t, err.Error(), "ssh.username")
}

func TestCollectMissingKeyIsFatal(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	path := writeCollectConfig(t, dir, filepath.Join(dir, "absent_key"), "127.0.0.1:1")

	_, err := execute(t, "collect", "--config", path)
	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	require.Equal(t, ExitFailure, exitErr.Code)
	require.ErrorIs(t, err, credentials.ErrKeyFileMissing)
}

func TestCollectAndHistory(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	remote := filepath.Join(t.TempDir(), "ceph-details-output-node.md")
	report := []byte("# Ceph Cluster Details\n")

	shell := testutil.NewFakeShell("sudo-pass")
	shell.OnRun = func() { _ = os.WriteFile(remote, report, 0o644) }
	server := testutil.NewSSHServer(t, shell.Serve)
	server.Exec = func(cmd string, stdout, stderr io.Writer) uint32 {
		fmt.Fprintf(stdout, "%d.0\t%s\n", time.Now().Unix(), remote)
		return 0
	}
	keyFile := server.WriteClientKey(t, t.TempDir())
	t.Setenv(escalationPasswordEnv, "sudo-pass")

	path := writeCollectConfig(t, dir, keyFile, server.Addr)
	out, err := execute(t, "collect", "--config", path)
	require.NoError(t, err)
	require.Contains(t, out, "Successfully processed 1 servers, failed for 0 servers.")
	require.Contains(t, out, "Output files are available in "+filepath.Join(dir, "output"))

	data, err := os.ReadFile(artifact.LocalPath(filepath.Join(dir, "output"), "node-01"))
	require.NoError(t, err)
	require.Equal(t, report, data)
	require.Equal(t, 1, shell.PasswordCount())
	_, set := os.LookupEnv(escalationPasswordEnv)
	require.False(t, set, "preset password must not stay in the environment")

	out, err = execute(t, "history", "--config", path)
	require.NoError(t, err)
	require.Contains(t, out, string(models.RunStatusSucceeded))
}

func TestTakeEscalationPassword(t *testing.T) {
	t.Setenv(escalationPasswordEnv, "sudo-pass")
	require.Equal(t, []byte("sudo-pass"), takeEscalationPassword())
	_, set := os.LookupEnv(escalationPasswordEnv)
	require.False(t, set)
	require.Nil(t, takeEscalationPassword())

	t.Setenv(escalationPasswordEnv, "")
	require.Nil(t, takeEscalationPassword())
}

func TestCollectTargetsFilter(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	path := writeCollectConfig(t, dir, filepath.Join(dir, "key"), "127.0.0.1:1")

	_, err := execute(t, "collect", "--config", path, "--targets", "nope")
	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	require.Contains(t, err.Error(), "no configured target matches nope")
}

func writeCollectConfig(t *testing.T, dir, keyFile, address string) string {
	t.Helper()
	body := fmt.Sprintf(`
ssh:
  username: ceph-admin
  key_file: %s
  connect_timeout: 2s
targets:
  - name: node-01
    address: %s
paths:
  remote_script_path: /opt/ceph-tools/get_ceph_info.sh
  collection_dir: %s
execution:
  prompt_timeout: 2s
  script_timeout: 5s
  poll_interval: 10ms
  settle_delay: 0s
logging:
  level: error
`, keyFile, address, filepath.Join(dir, "output"))
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}
