// Package collect visits every target, runs the collection script and
// brings the report home, isolating failures per target.
package collect

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/cephdash/cephfetch/internal/artifact"
	"github.com/cephdash/cephfetch/internal/config"
	"github.com/cephdash/cephfetch/internal/credentials"
	"github.com/cephdash/cephfetch/internal/driver"
	"github.com/cephdash/cephfetch/internal/events"
	"github.com/cephdash/cephfetch/internal/logging"
	"github.com/cephdash/cephfetch/internal/models"
	"github.com/cephdash/cephfetch/internal/prompt"
)

// lastOutputBytes bounds the output fragment kept for timeout diagnostics.
const lastOutputBytes = 2048

// Session is one authenticated connection to a target.
type Session interface {
	// Terminal is the interactive pty shell.
	Terminal() io.ReadWriter
	// Exec runs a one-shot command on a separate channel.
	Exec(ctx context.Context, cmd string) (stdout, stderr []byte, err error)
	// Open reads a remote file. Reads fail once ctx is done.
	Open(ctx context.Context, path string) (io.ReadCloser, error)
	Close() error
}

// Connector opens sessions to targets.
type Connector interface {
	Connect(ctx context.Context, target models.Target) (Session, error)
}

// ConnectorFunc adapts a function to Connector.
type ConnectorFunc func(ctx context.Context, target models.Target) (Session, error)

// Connect calls f.
func (f ConnectorFunc) Connect(ctx context.Context, target models.Target) (Session, error) {
	return f(ctx, target)
}

// Pipeline runs the full sequence for a single target.
type Pipeline struct {
	connector Connector
	detector  *prompt.Detector
	driver    *driver.Driver
	locator   *artifact.Locator
	retriever *artifact.Retriever
	publisher events.Publisher
	logger    zerolog.Logger

	locateTimeout   time.Duration
	transferTimeout time.Duration
}

// NewPipeline builds a pipeline from cfg. A nil publisher drops state events.
func NewPipeline(cfg *config.Config, connector Connector, publisher events.Publisher) *Pipeline {
	logger := logging.Component("collect")
	exec := cfg.Execution
	return &Pipeline{
		connector: connector,
		detector:  prompt.NewDetector(exec.PromptTimeout, exec.PollInterval),
		driver:    driver.New(driver.FromConfig(cfg), logging.Component("driver")),
		locator:   artifact.NewLocator(cfg.ScriptDir(), exec.ArtifactNames, exec.ArtifactWindow),
		retriever: artifact.NewRetriever(cfg.Paths.CollectionDir, exec.SettleDelay),
		publisher: publisher,
		logger:    logger,

		locateTimeout:   exec.LocateTimeout,
		transferTimeout: exec.TransferTimeout,
	}
}

// Run processes target and returns its outcome. Outcome.Err is either a
// target-scoped error from this package or a fatal credential error.
func (p *Pipeline) Run(ctx context.Context, runID string, target models.Target, password []byte) *models.ExecutionOutcome {
	outcome := models.NewExecutionOutcome(target)
	logger := logging.WithTarget(logging.WithRun(p.logger, runID), target.Name, target.Address)

	transition := func(state models.OutcomeState) {
		old := outcome.State
		outcome.State = state
		logger.Debug().Str("state", string(state)).Msg("target state changed")
		if p.publisher != nil {
			p.publisher.Publish(context.WithoutCancel(ctx), events.TargetStateChanged(runID, target.Name, old, state))
		}
	}

	err := p.run(ctx, target, password, outcome, transition)
	outcome.FinishedAt = time.Now().UTC()
	if err != nil {
		outcome.Err = err
		outcome.LastOutput = LastOutput(err)
		transition(failureState(err))
	}
	return outcome
}

func (p *Pipeline) run(ctx context.Context, target models.Target, password []byte, outcome *models.ExecutionOutcome, transition driver.StateFunc) error {
	session, err := p.connector.Connect(ctx, target)
	if err != nil {
		var credErr *credentials.CredentialError
		if errors.As(err, &credErr) {
			return err
		}
		return &HostError{Target: target.Name, Err: err}
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			p.logger.Debug().Err(cerr).Str("target", target.Name).Msg("session close")
		}
	}()
	transition(models.OutcomeStateConnected)

	term := session.Terminal()
	stream := prompt.NewStream(term)
	defer stream.Close()

	ready, err := p.detector.Wait(ctx, stream)
	if err != nil {
		return p.promptError(target, "", ready.Output, password, err)
	}
	if ready.State == prompt.StateCredentialPromptSeen {
		return &HostError{Target: target.Name, Err: fmt.Errorf("%w before shell prompt: %q", driver.ErrUnexpectedCredentialPrompt, ready.Evidence)}
	}
	transition(models.OutcomeStatePromptReady)

	if _, err := p.driver.Run(ctx, stream, term, password, transition); err != nil {
		return p.driverError(target, password, err)
	}

	candidate, err := p.locate(ctx, session)
	if err != nil {
		if errors.Is(err, artifact.ErrNotFound) {
			return &ArtifactNotFoundError{Target: target.Name, Dir: p.locator.Dir(), Err: err}
		}
		return &HostError{Target: target.Name, Err: err}
	}
	outcome.RemotePath = candidate.Path
	transition(models.OutcomeStateArtifactFound)

	local, err := p.retrieve(ctx, session, candidate.Path, target.Name)
	if err != nil {
		return &TransferError{
			Target:     target.Name,
			RemotePath: candidate.Path,
			Vanished:   errors.Is(err, os.ErrNotExist),
			Err:        err,
		}
	}
	outcome.LocalPath = local
	transition(models.OutcomeStateTransferred)
	return nil
}

func (p *Pipeline) locate(ctx context.Context, session Session) (artifact.Candidate, error) {
	ctx, cancel := withOptionalTimeout(ctx, p.locateTimeout)
	defer cancel()
	return p.locator.Locate(ctx, session)
}

// retrieve bounds the settle delay, sftp handshake and copy together.
func (p *Pipeline) retrieve(ctx context.Context, session Session, remotePath, target string) (string, error) {
	ctx, cancel := withOptionalTimeout(ctx, p.transferTimeout)
	defer cancel()
	return p.retriever.Retrieve(ctx, session, remotePath, target)
}

func withOptionalTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

func (p *Pipeline) promptError(target models.Target, step string, output, password []byte, err error) error {
	if errors.Is(err, prompt.ErrTimeout) {
		return &PromptTimeoutError{
			Target:     target.Name,
			Step:       step,
			LastOutput: logging.Tail(logging.RedactBytes(output, password), lastOutputBytes),
			Err:        err,
		}
	}
	return &HostError{Target: target.Name, Err: err}
}

func (p *Pipeline) driverError(target models.Target, password []byte, err error) error {
	var stepErr *driver.StepError
	if !errors.As(err, &stepErr) {
		return &HostError{Target: target.Name, Err: err}
	}
	switch {
	case errors.Is(err, prompt.ErrTimeout):
		// Step output is already redacted by the driver.
		return p.promptError(target, stepErr.Step, stepErr.Output, password, err)
	case errors.Is(err, driver.ErrScriptTimeout):
		return &ExecutionTimeoutError{
			Target:     target.Name,
			LastOutput: logging.Tail(stepErr.Output, lastOutputBytes),
			Err:        err,
		}
	default:
		return &HostError{Target: target.Name, Err: err}
	}
}

func failureState(err error) models.OutcomeState {
	var (
		promptErr   *PromptTimeoutError
		execErr     *ExecutionTimeoutError
		notFoundErr *ArtifactNotFoundError
	)
	switch {
	case errors.As(err, &promptErr), errors.As(err, &execErr):
		return models.OutcomeStateTimedOut
	case errors.As(err, &notFoundErr):
		return models.OutcomeStateArtifactMissing
	default:
		return models.OutcomeStateFailed
	}
}
