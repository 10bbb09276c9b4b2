package events

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/cephdash/cephfetch/internal/models"
)

func TestFilter_Matches(t *testing.T) {
	stateChanged := TargetStateChanged("run-1", "node-01", models.OutcomeStatePending, models.OutcomeStateConnected)

	tests := []struct {
		name   string
		filter Filter
		event  *models.Event
		want   bool
	}{
		{
			name:   "empty filter matches any event",
			filter: Filter{},
			event:  stateChanged,
			want:   true,
		},
		{
			name:   "nil event returns false",
			filter: Filter{},
			event:  nil,
			want:   false,
		},
		{
			name:   "event type filter matches",
			filter: Filter{EventTypes: []models.EventType{models.EventTypeTargetStateChanged}},
			event:  stateChanged,
			want:   true,
		},
		{
			name:   "event type filter rejects non-matching",
			filter: Filter{EventTypes: []models.EventType{models.EventTypeRunFinished}},
			event:  stateChanged,
			want:   false,
		},
		{
			name:   "entity type filter",
			filter: Filter{EntityTypes: []models.EntityType{models.EntityTypeRun}},
			event:  RunStarted("run-1", 3),
			want:   true,
		},
		{
			name:   "run filter rejects other runs",
			filter: Filter{RunID: "run-2"},
			event:  stateChanged,
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Matches(tt.event); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestInMemoryPublisher_Subscribe(t *testing.T) {
	p := NewInMemoryPublisher()
	handler := func(*models.Event) {}

	if err := p.Subscribe("", Filter{}, handler); !errors.Is(err, ErrInvalidSubscriptionID) {
		t.Errorf("expected ErrInvalidSubscriptionID, got %v", err)
	}
	if err := p.Subscribe("sub", Filter{}, nil); !errors.Is(err, ErrNilHandler) {
		t.Errorf("expected ErrNilHandler, got %v", err)
	}
	if err := p.Subscribe("sub", Filter{}, handler); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if err := p.Subscribe("sub", Filter{}, handler); !errors.Is(err, ErrSubscriptionExists) {
		t.Errorf("expected ErrSubscriptionExists, got %v", err)
	}
	if p.SubscriberCount() != 1 {
		t.Errorf("SubscriberCount = %d, want 1", p.SubscriberCount())
	}
}

func TestInMemoryPublisher_Unsubscribe(t *testing.T) {
	p := NewInMemoryPublisher()
	if err := p.Unsubscribe("missing"); !errors.Is(err, ErrSubscriptionNotFound) {
		t.Errorf("expected ErrSubscriptionNotFound, got %v", err)
	}

	_ = p.Subscribe("a", Filter{}, func(*models.Event) {})
	_ = p.Subscribe("b", Filter{}, func(*models.Event) {})
	if err := p.Unsubscribe("a"); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}
	if p.SubscriberCount() != 1 {
		t.Errorf("SubscriberCount = %d, want 1", p.SubscriberCount())
	}
}

func TestInMemoryPublisher_PublishInSubscriptionOrder(t *testing.T) {
	p := NewInMemoryPublisher()

	var mu sync.Mutex
	var calls []string
	record := func(name string) EventHandler {
		return func(*models.Event) {
			mu.Lock()
			defer mu.Unlock()
			calls = append(calls, name)
		}
	}
	_ = p.Subscribe("first", Filter{}, record("first"))
	_ = p.Subscribe("second", Filter{}, record("second"))
	_ = p.Subscribe("runs-only", Filter{EntityTypes: []models.EntityType{models.EntityTypeRun}}, record("runs-only"))

	p.Publish(context.Background(), TargetStateChanged("run-1", "node", models.OutcomeStatePending, models.OutcomeStateConnected))

	if len(calls) != 2 || calls[0] != "first" || calls[1] != "second" {
		t.Errorf("calls = %v, want [first second]", calls)
	}
}

func TestInMemoryPublisher_PublishStampsEvent(t *testing.T) {
	p := NewInMemoryPublisher()
	event := RunStarted("run-1", 2)
	p.Publish(context.Background(), event)

	if event.ID == "" {
		t.Error("expected event ID to be assigned")
	}
	if event.Timestamp.IsZero() {
		t.Error("expected timestamp to be assigned")
	}
}

func TestInMemoryPublisher_PublishNilEvent(t *testing.T) {
	p := NewInMemoryPublisher()
	called := false
	_ = p.Subscribe("sub", Filter{}, func(*models.Event) { called = true })
	p.Publish(context.Background(), nil)
	if called {
		t.Error("handler should not be called for nil event")
	}
}

type recordingRepo struct {
	events []*models.Event
	err    error
}

func (r *recordingRepo) Create(_ context.Context, event *models.Event) error {
	r.events = append(r.events, event)
	return r.err
}

func TestInMemoryPublisher_PersistsBeforeDelivery(t *testing.T) {
	repo := &recordingRepo{err: errors.New("disk full")}
	p := NewInMemoryPublisher(WithRepository(repo))

	delivered := 0
	_ = p.Subscribe("sub", Filter{}, func(*models.Event) { delivered++ })

	p.Publish(context.Background(), RunStarted("run-1", 1))

	if len(repo.events) != 1 {
		t.Errorf("persisted %d events, want 1", len(repo.events))
	}
	if delivered != 1 {
		t.Errorf("delivered %d events, want 1 even when persistence fails", delivered)
	}
}

func TestTargetFinished(t *testing.T) {
	ok := models.NewExecutionOutcome(models.Target{Name: "node-01", Address: "10.0.0.1"})
	ok.State = models.OutcomeStateTransferred
	if got := TargetFinished("run-1", ok).Type; got != models.EventTypeTargetSucceeded {
		t.Errorf("type = %s, want %s", got, models.EventTypeTargetSucceeded)
	}

	failed := models.NewExecutionOutcome(models.Target{Name: "node-02", Address: "10.0.0.2"})
	failed.State = models.OutcomeStateFailed
	failed.Err = errors.New("connection refused")
	event := TargetFinished("run-1", failed)
	if event.Type != models.EventTypeTargetFailed {
		t.Errorf("type = %s, want %s", event.Type, models.EventTypeTargetFailed)
	}
	if len(event.Payload) == 0 {
		t.Error("expected error payload")
	}
}
