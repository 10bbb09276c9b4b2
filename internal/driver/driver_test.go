package driver

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cephdash/cephfetch/internal/models"
	"github.com/cephdash/cephfetch/internal/prompt"
)

const testPassword = "sudopass"

// fakeRemote answers each line the driver sends.
type fakeRemote struct {
	mu    sync.Mutex
	lines []string
}

func (r *fakeRemote) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}

func (r *fakeRemote) count(line string) int {
	n := 0
	for _, l := range r.Lines() {
		if l == line {
			n++
		}
	}
	return n
}

// startRemote wires a driver-facing writer and stream to handler.
func startRemote(t *testing.T, handler func(line string, out io.Writer)) (*fakeRemote, io.Writer, *prompt.Stream) {
	t.Helper()
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	remote := &fakeRemote{}

	go func() {
		scanner := bufio.NewScanner(inR)
		for scanner.Scan() {
			line := scanner.Text()
			remote.mu.Lock()
			remote.lines = append(remote.lines, line)
			remote.mu.Unlock()
			handler(line, outW)
		}
	}()

	stream := prompt.NewStream(outR)
	t.Cleanup(func() {
		stream.Close()
		_ = inW.Close()
		_ = outW.Close()
	})
	return remote, inW, stream
}

func cephScript(extra func(out io.Writer)) func(string, io.Writer) {
	return func(line string, out io.Writer) {
		switch {
		case strings.HasPrefix(line, "cd "), strings.HasPrefix(line, "chmod "):
			fmt.Fprintf(out, "%s\r\n\x1b[32mceph-admin@node\x1b[0m:~$ ", line)
		case strings.HasPrefix(line, "sudo "):
			fmt.Fprintf(out, "%s\r\n[sudo] password for ceph-admin: ", line)
		case line == testPassword:
			fmt.Fprint(out, "\r\nCollecting cluster status...\r\n")
			if extra != nil {
				extra(out)
				return
			}
			fmt.Fprint(out, "Results saved to ceph-details-output-node.md\r\nceph-admin@node:~$ ")
		}
	}
}

func testConfig() Config {
	return Config{
		ScriptPath:    "/opt/ceph-tools/get_ceph_info.sh",
		PromptTimeout: 2 * time.Second,
		ScriptTimeout: 2 * time.Second,
		PollInterval:  10 * time.Millisecond,
	}
}

type stateRecorder struct {
	mu     sync.Mutex
	states []models.OutcomeState
}

func (r *stateRecorder) report(state models.OutcomeState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
}

func TestRunFullSequence(t *testing.T) {
	remote, w, stream := startRemote(t, cephScript(nil))
	recorder := &stateRecorder{}

	d := New(testConfig(), zerolog.Nop())
	result, err := d.Run(context.Background(), stream, w, []byte(testPassword), recorder.report)
	require.NoError(t, err)

	assert.True(t, result.Injected)
	assert.Zero(t, result.Recurrences)
	assert.Equal(t, []string{
		"cd /opt/ceph-tools",
		"chmod +x get_ceph_info.sh",
		"sudo ./get_ceph_info.sh",
		testPassword,
	}, remote.Lines())
	assert.Equal(t, []models.OutcomeState{
		models.OutcomeStateDirectoryChanged,
		models.OutcomeStateExecutable,
		models.OutcomeStateRunning,
		models.OutcomeStateEscalationPromptSeen,
		models.OutcomeStateScriptCompleted,
	}, recorder.states)
	assert.NotContains(t, string(result.Output), testPassword)
}

func TestRunWithoutScriptDirectory(t *testing.T) {
	remote, w, stream := startRemote(t, cephScript(nil))
	cfg := testConfig()
	cfg.ScriptPath = "get_ceph_info.sh"

	_, err := New(cfg, zerolog.Nop()).Run(context.Background(), stream, w, []byte(testPassword), nil)
	require.NoError(t, err)
	assert.Equal(t, "chmod +x get_ceph_info.sh", remote.Lines()[0])
}

func TestRunInjectsPasswordOnce(t *testing.T) {
	remote, w, stream := startRemote(t, cephScript(func(out io.Writer) {
		fmt.Fprint(out, "Sorry, try again.\r\n[sudo] password for ceph-admin: ")
		time.Sleep(50 * time.Millisecond)
		fmt.Fprint(out, "\r\n[sudo] password for ceph-admin: ")
		time.Sleep(50 * time.Millisecond)
		fmt.Fprint(out, "\r\nCeph information collection complete\r\n")
	}))

	result, err := New(testConfig(), zerolog.Nop()).Run(context.Background(), stream, w, []byte(testPassword), nil)
	require.NoError(t, err)

	assert.Equal(t, 1, remote.count(testPassword))
	assert.True(t, result.Injected)
	assert.GreaterOrEqual(t, result.Recurrences, 1)
}

func TestRunScriptTimeoutRedactsOutput(t *testing.T) {
	_, w, stream := startRemote(t, cephScript(func(out io.Writer) {
		// A misbehaving remote echoing the secret.
		fmt.Fprintf(out, "debug: got %s\r\nstill working...\r\n", testPassword)
	}))

	cfg := testConfig()
	cfg.ScriptTimeout = 200 * time.Millisecond

	_, err := New(cfg, zerolog.Nop()).Run(context.Background(), stream, w, []byte(testPassword), nil)
	require.ErrorIs(t, err, ErrScriptTimeout)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, StepRun, stepErr.Step)
	assert.Contains(t, string(stepErr.Output), "still working")
	assert.NotContains(t, string(stepErr.Output), testPassword)
}

func TestRunPromptTimeoutOnChangeDir(t *testing.T) {
	_, w, stream := startRemote(t, func(line string, out io.Writer) {
		fmt.Fprintf(out, "%s\r\n", line)
	})

	cfg := testConfig()
	cfg.PromptTimeout = 100 * time.Millisecond

	_, err := New(cfg, zerolog.Nop()).Run(context.Background(), stream, w, []byte(testPassword), nil)
	require.ErrorIs(t, err, prompt.ErrTimeout)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, StepChangeDir, stepErr.Step)
	assert.Contains(t, string(stepErr.Output), "cd /opt/ceph-tools")
}

func TestRunCustomCompletionMarker(t *testing.T) {
	_, w, stream := startRemote(t, cephScript(func(out io.Writer) {
		fmt.Fprint(out, "ALL DONE\r\n")
	}))

	cfg := testConfig()
	cfg.CompletionMarkers = []string{"ALL DONE"}

	_, err := New(cfg, zerolog.Nop()).Run(context.Background(), stream, w, []byte(testPassword), nil)
	require.NoError(t, err)
}

func TestRunMarkerSplitAcrossColoredChunks(t *testing.T) {
	_, w, stream := startRemote(t, cephScript(func(out io.Writer) {
		fmt.Fprint(out, "\x1b[1;32mResults saved")
		time.Sleep(30 * time.Millisecond)
		fmt.Fprint(out, " to ceph-\x1b")
		time.Sleep(30 * time.Millisecond)
		fmt.Fprint(out, "[0mmapping.md\r\n")
	}))

	result, err := New(testConfig(), zerolog.Nop()).Run(context.Background(), stream, w, []byte(testPassword), nil)
	require.NoError(t, err)
	assert.Contains(t, string(result.Output), "Results saved")
}

func TestRunCancelled(t *testing.T) {
	_, w, stream := startRemote(t, cephScript(func(io.Writer) {}))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	_, err := New(testConfig(), zerolog.Nop()).Run(ctx, stream, w, []byte(testPassword), nil)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestShellQuote(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "/opt/ceph-tools", want: "/opt/ceph-tools"},
		{in: "get_ceph_info.sh", want: "get_ceph_info.sh"},
		{in: "/opt/my tools", want: "'/opt/my tools'"},
		{in: "it's", want: `'it'"'"'s'`},
		{in: "", want: "''"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ShellQuote(tt.in))
		})
	}
}
