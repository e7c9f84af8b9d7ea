// Package events publishes domain events. Publishing is best effort: callers
// log failures and carry on.
package events

import (
	"context"
	"slices"
	"sync"
	"time"
)

const (
	TypeOrderGenerated            = "order.generated"
	TypeOrderStatusChanged        = "order.status_changed"
	TypeSubscriptionStatusChanged = "subscription.status_changed"
	TypeFulfillmentRunCompleted   = "fulfillment.run_completed"
)

type Event struct {
	Type       string    `json:"type"`
	Key        string    `json:"key"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload"`
}

func New(eventType string, key string, payload any) Event {
	return Event{Type: eventType, Key: key, OccurredAt: time.Now().UTC(), Payload: payload}
}

type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
}

type NoopPublisher struct{}

func (NoopPublisher) Publish(_ context.Context, _ ...Event) error {
	return nil
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, events ...Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
	return nil
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events)
}

// OfType returns recorded events with the given type.
func (r *Recorder) OfType(eventType string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Event, 0)
	for _, ev := range r.events {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}
