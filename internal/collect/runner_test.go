package collect

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	xssh "golang.org/x/crypto/ssh"

	"github.com/cephdash/cephfetch/internal/credentials"
	"github.com/cephdash/cephfetch/internal/events"
	"github.com/cephdash/cephfetch/internal/models"
)

type targetFunc func(ctx context.Context, target models.Target) error

func (f targetFunc) Run(ctx context.Context, runID string, target models.Target, password []byte) *models.ExecutionOutcome {
	outcome := models.NewExecutionOutcome(target)
	if err := f(ctx, target); err != nil {
		outcome.State = models.OutcomeStateFailed
		outcome.Err = err
	} else {
		outcome.State = models.OutcomeStateTransferred
	}
	outcome.FinishedAt = time.Now().UTC()
	return outcome
}

func testMaterial(t *testing.T) *credentials.Material {
	t.Helper()
	_, key, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := xssh.NewSignerFromKey(key)
	require.NoError(t, err)
	return credentials.NewMaterial("ceph-admin", signer, []byte("s3cret"))
}

func targets(names ...string) []models.Target {
	out := make([]models.Target, len(names))
	for i, name := range names {
		out[i] = models.Target{Name: name, Address: "10.0.0." + name}
	}
	return out
}

func TestRunnerIsolatesTargetFailures(t *testing.T) {
	material := testMaterial(t)
	var visited []string
	runner := NewRunner(targetFunc(func(_ context.Context, target models.Target) error {
		visited = append(visited, target.Name)
		if target.Name == "1" {
			return &HostError{Target: target.Name, Err: errors.New("dial tcp: connection refused")}
		}
		return nil
	}), material)

	summary, err := runner.Run(context.Background(), targets("1", "2", "3"))
	require.NoError(t, err)
	assert.Equal(t, models.RunSummary{Succeeded: 2, Failed: 1}, summary)
	assert.Equal(t, []string{"1", "2", "3"}, visited)
	assert.True(t, material.Wiped())

	outcomes := runner.Outcomes()
	require.Len(t, outcomes, 3)
	assert.False(t, outcomes[0].Succeeded())
	assert.True(t, outcomes[2].Succeeded())
}

func TestRunnerFatalErrorStopsScheduling(t *testing.T) {
	material := testMaterial(t)
	fatal := &credentials.CredentialError{KeyFile: "id_rsa", Err: credentials.ErrPassphraseRequired}

	var visited []string
	runner := NewRunner(targetFunc(func(_ context.Context, target models.Target) error {
		visited = append(visited, target.Name)
		if target.Name == "2" {
			return fatal
		}
		return nil
	}), material)

	summary, err := runner.Run(context.Background(), targets("1", "2", "3", "4"))
	require.ErrorIs(t, err, credentials.ErrPassphraseRequired)
	assert.Equal(t, []string{"1", "2"}, visited)
	assert.Equal(t, models.RunSummary{Succeeded: 1, Failed: 1}, summary)
	assert.True(t, material.Wiped(), "secrets must be cleared after a fatal error")
	assert.Nil(t, material.EscalationPassword.Bytes())
}

func TestRunnerRespectsConcurrencyLimit(t *testing.T) {
	var inFlight, peak atomic.Int32
	runner := NewRunner(targetFunc(func(context.Context, models.Target) error {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		return nil
	}), testMaterial(t), WithConcurrency(2))

	summary, err := runner.Run(context.Background(), targets("1", "2", "3", "4", "5"))
	require.NoError(t, err)
	assert.Equal(t, 5, summary.Succeeded)
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Equal(t, int32(2), peak.Load())
}

func TestRunnerPublishesLifecycle(t *testing.T) {
	publisher := events.NewInMemoryPublisher()
	var mu sync.Mutex
	var seen []models.EventType
	require.NoError(t, publisher.Subscribe("test", events.Filter{}, func(event *models.Event) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, event.Type)
	}))

	runner := NewRunner(targetFunc(func(_ context.Context, target models.Target) error {
		if target.Name == "2" {
			return &PromptTimeoutError{Target: target.Name, Err: errors.New("timed out")}
		}
		return nil
	}), testMaterial(t), WithPublisher(publisher), WithRunID("run-42"))

	_, err := runner.Run(context.Background(), targets("1", "2"))
	require.NoError(t, err)
	assert.Equal(t, "run-42", runner.RunID())
	assert.Equal(t, []models.EventType{
		models.EventTypeRunStarted,
		models.EventTypeTargetSucceeded,
		models.EventTypeTargetFailed,
		models.EventTypeRunFinished,
	}, seen)
}

func TestRunnerInterrupted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	material := testMaterial(t)
	runner := NewRunner(targetFunc(func(ctx context.Context, target models.Target) error {
		cancel()
		return &HostError{Target: target.Name, Err: ctx.Err()}
	}), material)

	summary, err := runner.Run(ctx, targets("1", "2"))
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, models.RunSummary{Failed: 1}, summary)
	assert.True(t, material.Wiped())
}
