package testutil

import (
	"os"
	"os/exec"
	"runtime"
	"testing"
)

// SkipIfNoNetwork skips the test if CEPHFETCH_TEST_SKIP_NETWORK is set.
// Use this for tests that listen on loopback TCP, which may not be
// available in sandboxed environments.
func SkipIfNoNetwork(t *testing.T) {
	t.Helper()
	if os.Getenv("CEPHFETCH_TEST_SKIP_NETWORK") != "" {
		t.Skip("skipping network test: CEPHFETCH_TEST_SKIP_NETWORK is set")
	}
}

// RequireGNUFind skips the test unless a find supporting -printf is available.
func RequireGNUFind(t *testing.T) {
	t.Helper()
	if runtime.GOOS != "linux" {
		t.Skip("find -printf requires GNU findutils")
	}
	if _, err := exec.LookPath("find"); err != nil {
		t.Skip("find not installed")
	}
}
