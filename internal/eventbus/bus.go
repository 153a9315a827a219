// Package eventbus is the fan-out primitive shared by the message bus's
// live-delivery path and the RAG indexer's re-index trigger (spec §4.H,
// §4.I): publish an Event on a subject, any number of Subscribe calls on
// that subject each get their own delivery.
package eventbus

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event is one message published on the bus: an id and timestamp stamped
// at construction, a caller-chosen type/source pair, and an arbitrary
// payload.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// NewEvent stamps a fresh id and the current time onto a new Event.
func NewEvent(eventType, source string, data map[string]interface{}) *Event {
	e := &Event{Type: eventType, Source: source, Data: data}
	e.ID = uuid.New().String()
	e.Timestamp = time.Now().UTC()
	return e
}

// Bus is the fan-out abstraction underlying live delivery (spec §4.H)
// and the RAG re-index trigger (spec §4.I). Handler is the per-subject
// callback passed to Subscribe; Subscription is the live registration it
// returns, which the caller tears down with Unsubscribe when done.
type Bus interface {
	Publish(ctx context.Context, subject string, event *Event) error
	Subscribe(subject string, handler Handler) (Subscription, error)
	Close()
	IsConnected() bool
}

// Handler processes one delivered event.
type Handler func(ctx context.Context, event *Event) error

// Subscription is a live registration on the bus.
type Subscription interface {
	Unsubscribe() error
	IsValid() bool
}

// Well-known subjects this coordinator publishes/subscribes on.
const (
	SubjectAgentMessage = "coordinator.agent.message"
	SubjectRagReindex   = "coordinator.rag.reindex"
	SubjectAgentAction  = "coordinator.agent.action"
)
