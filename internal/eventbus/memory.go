package eventbus

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// MemoryBus is an in-process event bus. It is the default transport when no
// NATS URL is configured and is used throughout the test suite. Handlers run
// synchronously on the publishing goroutine; handler errors are logged and
// never propagate to the publisher.
type MemoryBus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	closed   bool
	logger   *zap.Logger
}

// NewMemoryBus creates an empty in-process bus.
func NewMemoryBus(logger *zap.Logger) *MemoryBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryBus{
		handlers: make(map[EventType][]Handler),
		logger:   logger,
	}
}

// Publish delivers the event to every subscriber of its type.
func (b *MemoryBus) Publish(event *Event) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return nil
	}
	handlers := make([]Handler, len(b.handlers[event.Type]))
	copy(handlers, b.handlers[event.Type])
	b.mu.RUnlock()

	for _, h := range handlers {
		if err := h.Handle(context.Background(), event); err != nil {
			b.logger.Warn("event handler failed",
				zap.String("event_type", string(event.Type)),
				zap.String("event_id", event.ID),
				zap.Error(err))
		}
	}
	return nil
}

// Subscribe registers a handler for an event type. Multiple handlers per
// type are allowed.
func (b *MemoryBus) Subscribe(eventType EventType, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
	return nil
}

// Close drops all subscriptions. Publishes after Close are no-ops.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.handlers = make(map[EventType][]Handler)
	return nil
}
