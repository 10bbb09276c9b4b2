package collect

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/cephdash/cephfetch/internal/credentials"
	"github.com/cephdash/cephfetch/internal/events"
	"github.com/cephdash/cephfetch/internal/logging"
	"github.com/cephdash/cephfetch/internal/models"
)

// TargetRunner processes one target. *Pipeline implements it.
type TargetRunner interface {
	Run(ctx context.Context, runID string, target models.Target, password []byte) *models.ExecutionOutcome
}

// Runner drives a whole collection run.
type Runner struct {
	pipeline      TargetRunner
	material      *credentials.Material
	publisher     events.Publisher
	maxConcurrent int
	runID         string
	logger        zerolog.Logger

	mu       sync.Mutex
	summary  models.RunSummary
	outcomes []*models.ExecutionOutcome
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithConcurrency bounds how many targets are processed at once.
func WithConcurrency(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.maxConcurrent = n
		}
	}
}

// WithPublisher publishes run lifecycle events.
func WithPublisher(publisher events.Publisher) RunnerOption {
	return func(r *Runner) {
		r.publisher = publisher
	}
}

// WithRunID fixes the run ID instead of generating one.
func WithRunID(id string) RunnerOption {
	return func(r *Runner) {
		if id != "" {
			r.runID = id
		}
	}
}

// NewRunner creates a runner. The runner owns material and wipes it when Run returns.
func NewRunner(pipeline TargetRunner, material *credentials.Material, opts ...RunnerOption) *Runner {
	r := &Runner{
		pipeline:      pipeline,
		material:      material,
		maxConcurrent: 1,
		runID:         uuid.NewString(),
		logger:        logging.Component("runner"),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.WithRun(r.logger, r.runID)
	return r
}

// RunID identifies this run in logs and history.
func (r *Runner) RunID() string {
	return r.runID
}

// Run visits targets in order with at most the configured number in flight.
// Target failures are counted and logged; a fatal error cancels the run,
// stops scheduling further targets and is returned.
func (r *Runner) Run(ctx context.Context, targets []models.Target) (models.RunSummary, error) {
	defer r.material.Wipe()

	r.mu.Lock()
	r.summary = models.RunSummary{}
	r.outcomes = make([]*models.ExecutionOutcome, len(targets))
	r.mu.Unlock()

	r.publish(ctx, events.RunStarted(r.runID, len(targets)))
	r.logger.Info().Int("targets", len(targets)).Int("concurrency", r.maxConcurrent).Msg("collection started")

	var password []byte
	if r.material != nil {
		password = r.material.EscalationPassword.Bytes()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.maxConcurrent)

	for i, target := range targets {
		if gctx.Err() != nil {
			break
		}
		i, target := i, target
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			outcome := r.pipeline.Run(gctx, r.runID, target, password)
			r.record(i, outcome)
			r.publish(ctx, events.TargetFinished(r.runID, outcome))
			if IsFatal(outcome.Err) {
				return outcome.Err
			}
			return nil
		})
	}

	err := g.Wait()
	if err == nil && ctx.Err() != nil {
		err = fmt.Errorf("run interrupted: %w", ctx.Err())
	}

	summary := r.Summary()
	if err != nil {
		r.logger.Error().Err(err).Msg("collection aborted")
		r.publish(ctx, events.RunAborted(r.runID, summary, err))
		return summary, err
	}

	r.logger.Info().
		Int("succeeded", summary.Succeeded).
		Int("failed", summary.Failed).
		Msg(summary.String())
	r.publish(ctx, events.RunFinished(r.runID, summary))
	return summary, nil
}

// Summary returns the counts accumulated so far.
func (r *Runner) Summary() models.RunSummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.summary
}

// Outcomes returns the outcome of every attempted target in configuration
// order. Targets never started are omitted.
func (r *Runner) Outcomes() []*models.ExecutionOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.ExecutionOutcome, 0, len(r.outcomes))
	for _, outcome := range r.outcomes {
		if outcome != nil {
			out = append(out, outcome)
		}
	}
	return out
}

func (r *Runner) record(i int, outcome *models.ExecutionOutcome) {
	r.mu.Lock()
	r.outcomes[i] = outcome
	if outcome.Succeeded() {
		r.summary.Succeeded++
	} else {
		r.summary.Failed++
	}
	r.mu.Unlock()

	logger := logging.WithTarget(r.logger, outcome.Target.Name, outcome.Target.Address)
	if outcome.Succeeded() {
		logger.Info().
			Str("remote_path", outcome.RemotePath).
			Str("local_path", outcome.LocalPath).
			Dur("duration", outcome.Duration()).
			Msg("report retrieved")
		return
	}

	event := logger.Error().Err(outcome.Err).Str("state", string(outcome.State))
	if len(outcome.LastOutput) > 0 {
		event = event.Str("last_output", string(outcome.LastOutput))
	}
	event.Msg("target failed")
}

func (r *Runner) publish(ctx context.Context, event *models.Event) {
	if r.publisher != nil {
		r.publisher.Publish(context.WithoutCancel(ctx), event)
	}
}
