package models

import "time"

// OutcomeState is the pipeline state reached by one target.
type OutcomeState string

const (
	OutcomeStatePending              OutcomeState = "pending"
	OutcomeStateConnected            OutcomeState = "connected"
	OutcomeStatePromptReady          OutcomeState = "prompt_ready"
	OutcomeStateDirectoryChanged     OutcomeState = "directory_changed"
	OutcomeStateExecutable           OutcomeState = "executable"
	OutcomeStateRunning              OutcomeState = "running"
	OutcomeStateEscalationPromptSeen OutcomeState = "escalation_prompt_seen"
	OutcomeStateScriptCompleted      OutcomeState = "script_completed"
	OutcomeStateTimedOut             OutcomeState = "timed_out"
	OutcomeStateArtifactFound        OutcomeState = "artifact_found"
	OutcomeStateArtifactMissing      OutcomeState = "artifact_missing"
	OutcomeStateTransferred          OutcomeState = "transferred"
	OutcomeStateFailed               OutcomeState = "failed"
)

// IsTerminal reports whether the state ends a target's pipeline.
func (s OutcomeState) IsTerminal() bool {
	switch s {
	case OutcomeStateTransferred, OutcomeStateFailed, OutcomeStateTimedOut, OutcomeStateArtifactMissing:
		return true
	default:
		return false
	}
}

// ExecutionOutcome records what happened to one target during a run.
// A fresh outcome is created for every target attempt.
type ExecutionOutcome struct {
	// Target is the host this outcome belongs to.
	Target Target `json:"target"`

	// State is the last state reached.
	State OutcomeState `json:"state"`

	// LastOutput holds the most recent raw terminal output, secrets removed.
	LastOutput []byte `json:"last_output,omitempty"`

	// RemotePath is the located remote artifact.
	RemotePath string `json:"remote_path,omitempty"`

	// LocalPath is where the artifact was written.
	LocalPath string `json:"local_path,omitempty"`

	// Err is the failure cause, if any.
	Err error `json:"-"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// NewExecutionOutcome starts an outcome for target.
func NewExecutionOutcome(target Target) *ExecutionOutcome {
	return &ExecutionOutcome{
		Target:    target,
		State:     OutcomeStatePending,
		StartedAt: time.Now().UTC(),
	}
}

// Succeeded reports whether the artifact was transferred.
func (o *ExecutionOutcome) Succeeded() bool {
	return o != nil && o.State == OutcomeStateTransferred && o.Err == nil
}

// ErrorMessage returns the failure cause as text.
func (o *ExecutionOutcome) ErrorMessage() string {
	if o == nil || o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

// Duration returns how long the attempt took.
func (o *ExecutionOutcome) Duration() time.Duration {
	if o == nil || o.FinishedAt.IsZero() {
		return 0
	}
	return o.FinishedAt.Sub(o.StartedAt)
}
