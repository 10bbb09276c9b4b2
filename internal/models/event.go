package models

import (
	"encoding/json"
	"time"
)

// EventType categorizes events emitted during a run.
type EventType string

const (
	// Run events
	EventTypeRunStarted  EventType = "run.started"
	EventTypeRunFinished EventType = "run.finished"
	EventTypeRunAborted  EventType = "run.aborted"

	// Target events
	EventTypeTargetStateChanged EventType = "target.state_changed"
	EventTypeTargetSucceeded    EventType = "target.succeeded"
	EventTypeTargetFailed       EventType = "target.failed"
)

// EntityType identifies the type of entity an event relates to.
type EntityType string

const (
	EntityTypeRun    EntityType = "run"
	EntityTypeTarget EntityType = "target"
)

// Event is a single notification about a run or one of its targets.
type Event struct {
	// ID is the unique identifier for the event.
	ID string `json:"id"`

	// RunID ties the event to its run.
	RunID string `json:"run_id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type categorizes the event.
	Type EventType `json:"type"`

	// EntityType identifies what kind of entity this event relates to.
	EntityType EntityType `json:"entity_type"`

	// EntityID is the run ID or target name.
	EntityID string `json:"entity_id"`

	// Payload contains event-specific data.
	Payload json.RawMessage `json:"payload,omitempty"`

	// Outcome is set on target.succeeded and target.failed events.
	Outcome *ExecutionOutcome `json:"-"`

	// Summary is set on run.finished events.
	Summary *RunSummary `json:"-"`
}

// StateChangedPayload is the payload for target.state_changed events.
type StateChangedPayload struct {
	OldState OutcomeState `json:"old_state"`
	NewState OutcomeState `json:"new_state"`
}

// ErrorPayload is the payload for target.failed and run.aborted events.
type ErrorPayload struct {
	Error   string `json:"error"`
	Context string `json:"context,omitempty"`
}
