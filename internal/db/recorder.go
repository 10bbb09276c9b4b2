package db

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/cephdash/cephfetch/internal/events"
	"github.com/cephdash/cephfetch/internal/logging"
	"github.com/cephdash/cephfetch/internal/models"
)

const recorderSubscription = "history-recorder"

// recordTimeout bounds each history write so a locked database cannot stall a run.
const recordTimeout = 10 * time.Second

// Recorder turns run events into history rows.
type Recorder struct {
	runs   *RunRepository
	logger zerolog.Logger
}

// NewRecorder creates a recorder writing through runs.
func NewRecorder(runs *RunRepository) *Recorder {
	return &Recorder{runs: runs, logger: logging.Component("history")}
}

// Attach subscribes the recorder to run lifecycle and target result events.
func (r *Recorder) Attach(publisher events.Publisher) error {
	return publisher.Subscribe(recorderSubscription, events.Filter{
		EventTypes: []models.EventType{
			models.EventTypeRunStarted,
			models.EventTypeRunFinished,
			models.EventTypeRunAborted,
			models.EventTypeTargetSucceeded,
			models.EventTypeTargetFailed,
		},
	}, r.Handle)
}

// Handle records one event. Failures are logged, never returned.
func (r *Recorder) Handle(event *models.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	var err error
	switch event.Type {
	case models.EventTypeRunStarted:
		err = r.runs.Create(ctx, &models.RunRecord{ID: event.RunID, StartedAt: event.Timestamp})
	case models.EventTypeRunFinished:
		summary := summaryOf(event)
		err = r.runs.Finish(ctx, event.RunID, models.StatusFor(summary), summary, "")
	case models.EventTypeRunAborted:
		err = r.runs.Finish(ctx, event.RunID, models.RunStatusAborted, summaryOf(event), abortReason(event))
	case models.EventTypeTargetSucceeded, models.EventTypeTargetFailed:
		if event.Outcome == nil {
			return
		}
		err = r.runs.RecordTarget(ctx, targetRecord(event.RunID, event.Outcome))
	default:
		return
	}

	if err != nil {
		r.logger.Warn().Err(err).
			Str("run_id", event.RunID).
			Str("event_type", string(event.Type)).
			Msg("failed to record run history")
	}
}

func summaryOf(event *models.Event) models.RunSummary {
	if event.Summary == nil {
		return models.RunSummary{}
	}
	return *event.Summary
}

func abortReason(event *models.Event) string {
	var payload models.ErrorPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return ""
	}
	return payload.Error
}

func targetRecord(runID string, outcome *models.ExecutionOutcome) models.TargetRecord {
	finished := outcome.FinishedAt
	if finished.IsZero() {
		finished = time.Now().UTC()
	}
	return models.TargetRecord{
		RunID:      runID,
		Target:     outcome.Target.Name,
		Address:    outcome.Target.Address,
		State:      outcome.State,
		RemotePath: outcome.RemotePath,
		LocalPath:  outcome.LocalPath,
		Error:      outcome.ErrorMessage(),
		StartedAt:  outcome.StartedAt,
		FinishedAt: finished,
	}
}
