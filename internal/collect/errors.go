package collect

import (
	"errors"
	"fmt"

	"github.com/cephdash/cephfetch/internal/config"
	"github.com/cephdash/cephfetch/internal/credentials"
)

// HostError reports a target that could not be reached or whose session
// broke down outside of a bounded wait.
type HostError struct {
	Target string
	Err    error
}

func (e *HostError) Error() string {
	return fmt.Sprintf("host %s: %v", e.Target, e.Err)
}

func (e *HostError) Unwrap() error {
	return e.Err
}

// PromptTimeoutError reports a shell prompt that never appeared.
type PromptTimeoutError struct {
	Target string
	Step   string
	// LastOutput is the redacted tail of the terminal output.
	LastOutput []byte
	Err        error
}

func (e *PromptTimeoutError) Error() string {
	if e.Step == "" {
		return fmt.Sprintf("host %s: no shell prompt: %v", e.Target, e.Err)
	}
	return fmt.Sprintf("host %s: no shell prompt after %s: %v", e.Target, e.Step, e.Err)
}

func (e *PromptTimeoutError) Unwrap() error {
	return e.Err
}

// ExecutionTimeoutError reports a script that never printed a completion marker.
type ExecutionTimeoutError struct {
	Target     string
	LastOutput []byte
	Err        error
}

func (e *ExecutionTimeoutError) Error() string {
	return fmt.Sprintf("host %s: script did not complete: %v", e.Target, e.Err)
}

func (e *ExecutionTimeoutError) Unwrap() error {
	return e.Err
}

// ArtifactNotFoundError reports that no report file matched after the script ran.
type ArtifactNotFoundError struct {
	Target string
	Dir    string
	Err    error
}

func (e *ArtifactNotFoundError) Error() string {
	return fmt.Sprintf("host %s: no report found in %s: %v", e.Target, e.Dir, e.Err)
}

func (e *ArtifactNotFoundError) Unwrap() error {
	return e.Err
}

// TransferError reports a failed copy of the located report.
type TransferError struct {
	Target     string
	RemotePath string
	// Vanished is true when the remote file disappeared before it could be read.
	Vanished bool
	Err      error
}

func (e *TransferError) Error() string {
	if e.Vanished {
		return fmt.Sprintf("host %s: %s vanished before transfer: %v", e.Target, e.RemotePath, e.Err)
	}
	return fmt.Sprintf("host %s: transfer %s: %v", e.Target, e.RemotePath, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err must stop the whole run rather than one target.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var credErr *credentials.CredentialError
	if errors.As(err, &credErr) {
		return true
	}
	var cfgErr *config.ConfigError
	return errors.As(err, &cfgErr)
}

// IsTargetError reports whether err is scoped to a single target.
func IsTargetError(err error) bool {
	var (
		hostErr     *HostError
		promptErr   *PromptTimeoutError
		execErr     *ExecutionTimeoutError
		notFoundErr *ArtifactNotFoundError
		transferErr *TransferError
	)
	return errors.As(err, &hostErr) ||
		errors.As(err, &promptErr) ||
		errors.As(err, &execErr) ||
		errors.As(err, &notFoundErr) ||
		errors.As(err, &transferErr)
}

// LastOutput returns the redacted output fragment carried by timeout errors.
func LastOutput(err error) []byte {
	var promptErr *PromptTimeoutError
	if errors.As(err, &promptErr) {
		return promptErr.LastOutput
	}
	var execErr *ExecutionTimeoutError
	if errors.As(err, &execErr) {
		return execErr.LastOutput
	}
	return nil
}
