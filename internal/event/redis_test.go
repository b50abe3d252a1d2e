package event

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestRedisBus_PublishDeliversToSubscriber(t *testing.T) {
	srv := miniredis.RunT(t)

	bus, err := NewRedisBus(discardLogger(), srv.Addr(), "", 0, "test")
	if err != nil {
		t.Fatalf("NewRedisBus: %v", err)
	}
	defer bus.Close()

	got := make(chan string, 1)
	bus.Subscribe("entity.created", func(_ context.Context, payload []byte) error {
		got <- string(payload)
		return nil
	})

	// Give the receive loop a moment to register the subscription.
	time.Sleep(50 * time.Millisecond)

	if err := bus.Publish(context.Background(), "entity.created", []byte("hello")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case payload := <-got:
		if payload != "hello" {
			t.Errorf("payload = %q, want %q", payload, "hello")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestRedisBus_ChannelPrefix(t *testing.T) {
	srv := miniredis.RunT(t)

	busA, err := NewRedisBus(discardLogger(), srv.Addr(), "", 0, "env-a")
	if err != nil {
		t.Fatalf("NewRedisBus: %v", err)
	}
	defer busA.Close()

	busB, err := NewRedisBus(discardLogger(), srv.Addr(), "", 0, "env-b")
	if err != nil {
		t.Fatalf("NewRedisBus: %v", err)
	}
	defer busB.Close()

	got := make(chan string, 1)
	busB.Subscribe("entity.created", func(_ context.Context, payload []byte) error {
		got <- string(payload)
		return nil
	})

	time.Sleep(50 * time.Millisecond)

	// Publish on env-a: env-b must not see it.
	if err := busA.Publish(context.Background(), "entity.created", []byte("x")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case payload := <-got:
		t.Fatalf("cross-prefix delivery: %q", payload)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestRedisBus_BadAddr(t *testing.T) {
	t.Parallel()

	if _, err := NewRedisBus(discardLogger(), "127.0.0.1:1", "", 0, "test"); err == nil {
		t.Fatal("expected connection error")
	}
}
