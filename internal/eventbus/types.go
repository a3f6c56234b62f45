package eventbus

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of a lifecycle event.
type EventType string

const (
	// Node lifecycle events
	EventNodeHeartbeat EventType = "node.heartbeat"
	EventNodeStatus    EventType = "node.status"

	// Order lifecycle events
	EventOrderAllocated EventType = "order.allocated"
	EventOrderStarted   EventType = "order.started"
	EventOrderCompleted EventType = "order.completed"
	EventOrderFailed    EventType = "order.failed"

	// Cluster lifecycle events
	EventClusterStatus EventType = "cluster.status"
)

// Event is a JSON-serializable lifecycle event. The bus is an observability
// side channel; routing correctness never depends on event delivery.
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version"`
}

// NewEvent creates an event with a generated ID and UTC timestamp.
func NewEvent(eventType EventType, source string, data map[string]interface{}) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Data:      data,
		Timestamp: time.Now().UTC(),
		Version:   "1.0",
	}
}

// Handler processes a single event.
type Handler interface {
	Handle(ctx context.Context, event *Event) error
}

// HandlerFunc is a function adapter for Handler.
type HandlerFunc func(ctx context.Context, event *Event) error

// Handle calls f(ctx, event).
func (f HandlerFunc) Handle(ctx context.Context, event *Event) error {
	return f(ctx, event)
}

// Bus defines the interface for publishing and subscribing to lifecycle
// events.
type Bus interface {
	Publish(event *Event) error
	Subscribe(eventType EventType, handler Handler) error
	Close() error
}
