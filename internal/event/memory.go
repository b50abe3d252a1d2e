package event

import (
	"context"
	"log/slog"
	"sync"
)

// MemoryBus is an in-process bus. Publish dispatches synchronously to every
// subscriber, so by the time Publish returns all handlers have run. That
// ordering is what single-node deployments and tests rely on.
type MemoryBus struct {
	log *slog.Logger

	mu       sync.RWMutex
	handlers map[string][]Handler
	closed   bool
}

// NewMemoryBus creates an in-process bus.
func NewMemoryBus(log *slog.Logger) *MemoryBus {
	return &MemoryBus{
		log:      log.With("component", "event_bus"),
		handlers: make(map[string][]Handler),
	}
}

// Publish dispatches to all handlers of the topic. Handler errors are logged
// and swallowed so one failing subscriber cannot break the publisher.
func (b *MemoryBus) Publish(ctx context.Context, topic string, payload []byte) error {
	b.mu.RLock()
	closed := b.closed
	handlers := b.handlers[topic]
	b.mu.RUnlock()

	if closed {
		return nil
	}

	for _, h := range handlers {
		if err := h(ctx, payload); err != nil {
			b.log.ErrorContext(ctx, "event handler failed", "topic", topic, "error", err)
		}
	}
	return nil
}

// Subscribe registers a handler for a topic.
func (b *MemoryBus) Subscribe(topic string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], h)
}

// Close stops delivery.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
