package events

import (
	"encoding/json"

	"github.com/cephdash/cephfetch/internal/models"
)

// RunStarted announces a new run.
func RunStarted(runID string, targets int) *models.Event {
	payload, _ := json.Marshal(map[string]int{"targets": targets})
	return &models.Event{
		RunID:      runID,
		Type:       models.EventTypeRunStarted,
		EntityType: models.EntityTypeRun,
		EntityID:   runID,
		Payload:    payload,
	}
}

// RunFinished carries the final summary.
func RunFinished(runID string, summary models.RunSummary) *models.Event {
	payload, _ := json.Marshal(summary)
	return &models.Event{
		RunID:      runID,
		Type:       models.EventTypeRunFinished,
		EntityType: models.EntityTypeRun,
		EntityID:   runID,
		Payload:    payload,
		Summary:    &summary,
	}
}

// RunAborted reports a fatal error that stopped the run.
func RunAborted(runID string, summary models.RunSummary, err error) *models.Event {
	payload, _ := json.Marshal(models.ErrorPayload{Error: err.Error(), Context: summary.String()})
	return &models.Event{
		RunID:      runID,
		Type:       models.EventTypeRunAborted,
		EntityType: models.EntityTypeRun,
		EntityID:   runID,
		Payload:    payload,
		Summary:    &summary,
	}
}

// TargetStateChanged reports one pipeline transition.
func TargetStateChanged(runID, target string, oldState, newState models.OutcomeState) *models.Event {
	payload, _ := json.Marshal(models.StateChangedPayload{OldState: oldState, NewState: newState})
	return &models.Event{
		RunID:      runID,
		Type:       models.EventTypeTargetStateChanged,
		EntityType: models.EntityTypeTarget,
		EntityID:   target,
		Payload:    payload,
	}
}

// TargetFinished reports the final outcome of one target.
func TargetFinished(runID string, outcome *models.ExecutionOutcome) *models.Event {
	event := &models.Event{
		RunID:      runID,
		Type:       models.EventTypeTargetSucceeded,
		EntityType: models.EntityTypeTarget,
		EntityID:   outcome.Target.Name,
		Outcome:    outcome,
	}
	if !outcome.Succeeded() {
		event.Type = models.EventTypeTargetFailed
		event.Payload, _ = json.Marshal(models.ErrorPayload{Error: outcome.ErrorMessage(), Context: string(outcome.State)})
	}
	return event
}
