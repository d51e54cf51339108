// Package bus mirrors the Task Queue and Process Registry's in-process
// OnChange streams onto an external publish/subscribe channel, so a process
// other than this one (a dashboard, an audit sink) can observe queuecore's
// domain events without polling its HTTP API.
package bus

import (
	"context"
	"time"

	"github.com/google/uuid"

	v1 "github.com/kdlabs/queuecore/pkg/api/v1"
)

// Event is a single domain change mirrored onto the bus. Exactly one of
// Queue or Process is populated, matching whichever OnChange stream it was
// built from.
type Event struct {
	ID        string           `json:"id"`
	Subject   string           `json:"subject"`
	Source    string           `json:"source"`
	Timestamp time.Time        `json:"timestamp"`
	Queue     *v1.QueueEvent   `json:"queue,omitempty"`
	Process   *v1.ProcessEvent `json:"process,omitempty"`
}

// NewQueueEvent wraps a Task Queue change for publication on subject.
func NewQueueEvent(subject, source string, evt v1.QueueEvent) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Subject:   subject,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Queue:     &evt,
	}
}

// NewProcessEvent wraps a Process Registry change for publication on subject.
func NewProcessEvent(subject, source string, evt v1.ProcessEvent) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Subject:   subject,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Process:   &evt,
	}
}

// EventHandler handles one delivered Event.
type EventHandler func(ctx context.Context, event *Event) error

// Subscription represents an active subscription.
type Subscription interface {
	Unsubscribe() error
	IsValid() bool
}

// EventBus publishes queuecore domain events to subscribers on a named
// subject. queuecore only ever publishes on two fixed subjects
// ("queue.events" and "process.events"), so implementations need not support
// NATS-style wildcard subjects or queue-group load balancing.
type EventBus interface {
	Publish(ctx context.Context, subject string, event *Event) error
	Subscribe(subject string, handler EventHandler) (Subscription, error)
	Close()
	IsConnected() bool
}
