package prompt

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/charmbracelet/x/ansi"
)

// Detector errors.
var (
	ErrTimeout      = errors.New("timed out waiting for shell prompt")
	ErrStreamClosed = errors.New("terminal stream closed")
)

// State is the outcome of a prompt wait.
type State string

const (
	StateWaiting              State = "waiting"
	StatePromptSeen           State = "prompt_seen"
	StateCredentialPromptSeen State = "credential_prompt_seen"
	StateTimedOut             State = "timed_out"
)

var (
	// shellPromptPattern matches $, # or % closing a word (user@host:~$,
	// [root@host ~]#) or alone at line start, followed by the trailing
	// space shells print, at the very end of the buffer.
	shellPromptPattern = regexp.MustCompile(`(?m)(?:^|\S)[$#%][ \t]+\z`)

	// credentialPattern matches login/password requests ending a line, so
	// banners such as "Last login: ..." do not count.
	credentialPattern = regexp.MustCompile(`(?im)(?:^|\s)(?:login|password)(?: for [^:\r\n]*)?:[ \t]*\r?$`)
)

// Result describes what a wait observed.
type Result struct {
	State    State
	Output   []byte
	Evidence string
}

// Detector waits for a shell prompt on a terminal stream.
type Detector struct {
	timeout      time.Duration
	pollInterval time.Duration
}

// NewDetector creates a detector bounded by timeout and polling every pollInterval.
func NewDetector(timeout, pollInterval time.Duration) *Detector {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if pollInterval <= 0 {
		pollInterval = 100 * time.Millisecond
	}
	return &Detector{timeout: timeout, pollInterval: pollInterval}
}

// Match classifies accumulated output. ANSI sequences are stripped first.
// A credential prompt positioned before the shell prompt wins.
func Match(buf []byte) (State, string) {
	if len(buf) == 0 {
		return StateWaiting, ""
	}
	clean := ansi.Strip(string(buf))

	credential := credentialPattern.FindStringIndex(clean)
	shell := shellPromptPattern.FindStringIndex(clean)

	if credential != nil && (shell == nil || credential[0] < shell[0]) {
		return StateCredentialPromptSeen, trimEvidence(clean[credential[0]:credential[1]])
	}
	if shell != nil {
		return StatePromptSeen, trimEvidence(lastLine(clean))
	}
	return StateWaiting, ""
}

// Wait polls stream until a prompt is seen, the timeout elapses, the stream
// closes or ctx is cancelled. The returned Output holds everything read
// during the wait.
func (d *Detector) Wait(ctx context.Context, stream *Stream) (Result, error) {
	var buf []byte
	check := func() (Result, bool) {
		buf = append(buf, stream.Drain()...)
		state, evidence := Match(buf)
		if state == StateWaiting {
			return Result{}, false
		}
		return Result{State: state, Output: buf, Evidence: evidence}, true
	}

	if result, ok := check(); ok {
		return result, nil
	}

	timer := time.NewTimer(d.timeout)
	defer timer.Stop()
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return Result{State: StateWaiting, Output: buf}, ctx.Err()
		case <-timer.C:
			if result, ok := check(); ok {
				return result, nil
			}
			return Result{State: StateTimedOut, Output: buf}, fmt.Errorf("%w after %s", ErrTimeout, d.timeout)
		case <-stream.Done():
			if result, ok := check(); ok {
				return result, nil
			}
			return Result{State: StateWaiting, Output: buf}, fmt.Errorf("%w: %v", ErrStreamClosed, stream.Err())
		case <-ticker.C:
			if result, ok := check(); ok {
				return result, nil
			}
		}
	}
}

func lastLine(s string) string {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '\n' {
			return s[i+1:]
		}
	}
	return s
}

func trimEvidence(s string) string {
	const max = 80
	if len(s) > max {
		s = s[len(s)-max:]
	}
	return s
}
