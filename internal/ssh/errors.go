package ssh

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingAddress indicates a target without an address.
	ErrMissingAddress = errors.New("ssh address is required")

	// ErrSessionClosed is returned by operations on a closed session.
	ErrSessionClosed = errors.New("ssh session closed")
)

// ExecError wraps one-shot command failures with exit details.
type ExecError struct {
	Command  string
	ExitCode int
	Stdout   []byte
	Stderr   []byte
	Err      error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("ssh command failed (exit=%d): %s", e.ExitCode, e.Command)
}

func (e *ExecError) Unwrap() error {
	return e.Err
}

// ExitStatus returns the remote exit code, or -1 when the command did not exit normally.
func (e *ExecError) ExitStatus() int {
	return e.ExitCode
}
