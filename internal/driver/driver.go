// Package driver walks the remote shell through the collection script.
package driver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/cephdash/cephfetch/internal/config"
	"github.com/cephdash/cephfetch/internal/logging"
	"github.com/cephdash/cephfetch/internal/models"
	"github.com/cephdash/cephfetch/internal/prompt"
)

// Driver errors.
var (
	ErrScriptTimeout              = errors.New("timed out waiting for script completion")
	ErrUnexpectedCredentialPrompt = errors.New("unexpected credential prompt")
)

// Step names.
const (
	StepChangeDir = "cd"
	StepChmod     = "chmod"
	StepRun       = "sudo"
)

// StepError reports a failed step with the redacted output seen so far.
type StepError struct {
	Step   string
	Output []byte
	Err    error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s step: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Config controls the command sequence and completion matching.
type Config struct {
	ScriptPath         string
	PromptTimeout      time.Duration
	ScriptTimeout      time.Duration
	PollInterval       time.Duration
	EscalationPatterns []string
	CompletionMarkers  []string
}

// FromConfig builds a driver config from the application config.
func FromConfig(cfg *config.Config) Config {
	return Config{
		ScriptPath:         cfg.Paths.RemoteScriptPath,
		PromptTimeout:      cfg.Execution.PromptTimeout,
		ScriptTimeout:      cfg.Execution.ScriptTimeout,
		PollInterval:       cfg.Execution.PollInterval,
		EscalationPatterns: cfg.Execution.EscalationPatterns,
		CompletionMarkers:  cfg.Execution.CompletionMarkers,
	}
}

// StateFunc receives state transitions as they happen.
type StateFunc func(state models.OutcomeState)

// Result summarizes a completed run.
type Result struct {
	// Output is the redacted script output.
	Output []byte

	// Injected reports whether the escalation password was sent.
	Injected bool

	// Recurrences counts escalation requests seen after the injection.
	Recurrences int
}

// Driver runs the collection script over an interactive shell.
type Driver struct {
	cfg      Config
	detector *prompt.Detector
	logger   zerolog.Logger

	// lookback is how far before new output a pattern can still start.
	lookback int
}

// New creates a driver.
func New(cfg Config, logger zerolog.Logger) *Driver {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = config.DefaultPollInterval
	}
	if cfg.ScriptTimeout <= 0 {
		cfg.ScriptTimeout = config.DefaultScriptTimeout
	}
	if len(cfg.EscalationPatterns) == 0 {
		cfg.EscalationPatterns = config.DefaultEscalationPatterns
	}
	if len(cfg.CompletionMarkers) == 0 {
		cfg.CompletionMarkers = config.DefaultCompletionMarkers
	}
	return &Driver{
		cfg:      cfg,
		detector: prompt.NewDetector(cfg.PromptTimeout, cfg.PollInterval),
		logger:   logger,
		lookback: maxLen(cfg.EscalationPatterns, cfg.CompletionMarkers),
	}
}

func maxLen(lists ...[]string) int {
	n := 0
	for _, list := range lists {
		for _, s := range list {
			n = max(n, len(s))
		}
	}
	return n
}

type step struct {
	name  string
	line  string
	state models.OutcomeState
}

func (d *Driver) steps() []step {
	dir := path.Dir(d.cfg.ScriptPath)
	name := path.Base(d.cfg.ScriptPath)
	var steps []step
	if dir != "." && dir != "" {
		steps = append(steps, step{StepChangeDir, "cd " + ShellQuote(dir), models.OutcomeStateDirectoryChanged})
	}
	return append(steps,
		step{StepChmod, "chmod +x " + ShellQuote(name), models.OutcomeStateExecutable},
		step{StepRun, "sudo ./" + ShellQuote(name), models.OutcomeStateRunning},
	)
}

// Commands returns the shell lines the driver sends, in order.
func (d *Driver) Commands() []string {
	steps := d.steps()
	cmds := make([]string, 0, len(steps))
	for _, s := range steps {
		cmds = append(cmds, s.line)
	}
	return cmds
}

// Run changes into the script directory, marks the script executable and
// runs it under sudo. The escalation password is written at most once.
// The shell must already be at a prompt.
func (d *Driver) Run(ctx context.Context, stream *prompt.Stream, w io.Writer, password []byte, report StateFunc) (Result, error) {
	if report == nil {
		report = func(models.OutcomeState) {}
	}

	steps := d.steps()
	for _, s := range steps[:len(steps)-1] {
		if err := d.send(stream, w, s.line); err != nil {
			return Result{}, &StepError{Step: s.name, Err: err}
		}
		result, err := d.detector.Wait(ctx, stream)
		if err != nil {
			return Result{}, &StepError{Step: s.name, Output: logging.RedactBytes(result.Output, password), Err: err}
		}
		if result.State == prompt.StateCredentialPromptSeen {
			return Result{}, &StepError{
				Step:   s.name,
				Output: logging.RedactBytes(result.Output, password),
				Err:    fmt.Errorf("%w: %q", ErrUnexpectedCredentialPrompt, result.Evidence),
			}
		}
		d.logger.Debug().Str("step", s.name).Msg("step completed")
		report(s.state)
	}

	run := steps[len(steps)-1]
	if err := d.send(stream, w, run.line); err != nil {
		return Result{}, &StepError{Step: run.name, Err: err}
	}
	report(run.state)

	return d.awaitCompletion(ctx, stream, w, password, report)
}

func (d *Driver) awaitCompletion(ctx context.Context, stream *prompt.Stream, w io.Writer, password []byte, report StateFunc) (Result, error) {
	timer := time.NewTimer(d.cfg.ScriptTimeout)
	defer timer.Stop()
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	var (
		out      []byte
		text     = newPlainText()
		scanned  int
		scanFrom int
		result   Result
	)

	fail := func(err error) (Result, error) {
		result.Output = logging.RedactBytes(out, password)
		return result, &StepError{Step: StepRun, Output: result.Output, Err: err}
	}

	poll := func() (bool, error) {
		chunk := stream.Drain()
		out = append(out, chunk...)
		text.Write(chunk)
		clean := text.String()

		// Only text that arrived since the last poll, plus room for a
		// pattern straddling the boundary, can produce a new match.
		from := max(scanned-d.lookback, 0)
		scanned = len(clean)

		if matchesEscalation(clean[max(from, scanFrom):], d.cfg.EscalationPatterns) {
			scanFrom = len(clean)
			if !result.Injected {
				report(models.OutcomeStateEscalationPromptSeen)
				if err := writeSecretLine(w, password); err != nil {
					return false, fmt.Errorf("send escalation password: %w", err)
				}
				result.Injected = true
				d.logger.Debug().Msg("escalation password sent")
			} else {
				result.Recurrences++
				d.logger.Warn().Int("recurrences", result.Recurrences).Msg("escalation prompt repeated; not answering again")
			}
		}

		if marker, ok := matchesMarker(clean[from:], d.cfg.CompletionMarkers); ok {
			d.logger.Debug().Str("marker", marker).Msg("completion marker seen")
			return true, nil
		}
		return false, nil
	}

	complete := func() (Result, error) {
		report(models.OutcomeStateScriptCompleted)
		result.Output = logging.RedactBytes(out, password)
		return result, nil
	}

	for {
		select {
		case <-ctx.Done():
			return fail(ctx.Err())
		case <-timer.C:
			done, err := poll()
			if err != nil {
				return fail(err)
			}
			if done {
				return complete()
			}
			return fail(fmt.Errorf("%w after %s", ErrScriptTimeout, d.cfg.ScriptTimeout))
		case <-stream.Done():
			if done, err := poll(); err == nil && done {
				return complete()
			}
			return fail(fmt.Errorf("%w: %v", prompt.ErrStreamClosed, stream.Err()))
		case <-ticker.C:
			done, err := poll()
			if err != nil {
				return fail(err)
			}
			if done {
				return complete()
			}
		}
	}
}

func (d *Driver) send(stream *prompt.Stream, w io.Writer, line string) error {
	// Stale output would satisfy the next prompt wait.
	stream.Drain()
	_, err := io.WriteString(w, line+"\n")
	return err
}

func writeSecretLine(w io.Writer, secret []byte) error {
	line := make([]byte, len(secret)+1)
	copy(line, secret)
	line[len(secret)] = '\n'
	defer clear(line)
	_, err := w.Write(line)
	return err
}

func matchesEscalation(output string, patterns []string) bool {
	lower := strings.ToLower(output)
	for _, pattern := range patterns {
		pattern = strings.ToLower(strings.TrimSpace(pattern))
		if pattern != "" && strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

func matchesMarker(output string, markers []string) (string, bool) {
	for _, marker := range markers {
		if marker != "" && strings.Contains(output, marker) {
			return marker, true
		}
	}
	return "", false
}

// ShellQuote quotes s for a POSIX shell when it contains special characters.
func ShellQuote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("-_./+,:@%=", r)) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
