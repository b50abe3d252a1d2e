package event

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-redis/redis/v8"
)

// RedisBus is a Redis pub/sub backed bus for multi-node deployments. Each
// subscribed topic runs one receive goroutine; handlers registered for the
// same topic run sequentially per message.
type RedisBus struct {
	log    *slog.Logger
	client *redis.Client
	prefix string

	mu       sync.Mutex
	handlers map[string][]Handler
	subs     []*redis.PubSub
	cancel   context.CancelFunc
	ctx      context.Context
	wg       sync.WaitGroup
}

// NewRedisBus connects to Redis and returns a bus. prefix namespaces the
// channels so several environments can share one Redis.
func NewRedisBus(log *slog.Logger, addr, password string, db int, prefix string) (*RedisBus, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithCancel(context.Background())
	if err := client.Ping(ctx).Err(); err != nil {
		cancel()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &RedisBus{
		log:      log.With("component", "event_bus"),
		client:   client,
		prefix:   prefix,
		handlers: make(map[string][]Handler),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

func (b *RedisBus) channel(topic string) string {
	return b.prefix + ":" + topic
}

// Publish sends the payload to the topic channel.
func (b *RedisBus) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := b.client.Publish(ctx, b.channel(topic), payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe registers a handler for a topic. The first handler for a topic
// starts its receive loop.
func (b *RedisBus) Subscribe(topic string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	first := len(b.handlers[topic]) == 0
	b.handlers[topic] = append(b.handlers[topic], h)
	if !first {
		return
	}

	sub := b.client.Subscribe(b.ctx, b.channel(topic))
	b.subs = append(b.subs, sub)

	b.wg.Add(1)
	go b.receive(topic, sub)
}

func (b *RedisBus) receive(topic string, sub *redis.PubSub) {
	defer b.wg.Done()

	for msg := range sub.Channel() {
		b.mu.Lock()
		handlers := make([]Handler, len(b.handlers[topic]))
		copy(handlers, b.handlers[topic])
		b.mu.Unlock()

		for _, h := range handlers {
			if err := h(b.ctx, []byte(msg.Payload)); err != nil {
				b.log.Error("event handler failed", "topic", topic, "error", err)
			}
		}
	}
}

// Close unsubscribes, waits for receive loops to drain, and closes the
// client connection.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Close()
	}
	b.cancel()
	b.wg.Wait()
	return b.client.Close()
}
