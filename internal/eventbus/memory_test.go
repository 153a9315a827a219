package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fleetmcp/coordinator/internal/common/logger"
)

func TestMemoryPublishDeliversToSubscriber(t *testing.T) {
	bus := NewMemory(logger.Default())
	defer bus.Close()

	var mu sync.Mutex
	var received *Event
	done := make(chan struct{})

	sub, err := bus.Subscribe("test.subject", func(ctx context.Context, e *Event) error {
		mu.Lock()
		received = e
		mu.Unlock()
		close(done)
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	if err := bus.Publish(context.Background(), "test.subject", NewEvent("greeting", "test", nil)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler was never invoked")
	}

	mu.Lock()
	defer mu.Unlock()
	if received == nil || received.Type != "greeting" {
		t.Fatalf("got %+v, want an event of type greeting", received)
	}
}

func TestMemoryUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewMemory(logger.Default())
	defer bus.Close()

	calls := 0
	var mu sync.Mutex
	sub, err := bus.Subscribe("test.subject", func(ctx context.Context, e *Event) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	if sub.IsValid() {
		t.Error("subscription should be invalid after Unsubscribe")
	}

	if err := bus.Publish(context.Background(), "test.subject", NewEvent("noop", "test", nil)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if calls != 0 {
		t.Errorf("handler invoked %d times after unsubscribe, want 0", calls)
	}
}

func TestMemoryPublishAfterCloseFails(t *testing.T) {
	bus := NewMemory(logger.Default())
	bus.Close()

	if bus.IsConnected() {
		t.Error("closed bus should report IsConnected() == false")
	}
	if err := bus.Publish(context.Background(), "test.subject", NewEvent("x", "test", nil)); err == nil {
		t.Error("expected publish on a closed bus to fail")
	}
}

func TestProvideFallsBackToMemoryWhenNoURL(t *testing.T) {
	bus, err := Provide(NATSConfig{}, logger.Default())
	if err != nil {
		t.Fatalf("provide: %v", err)
	}
	defer bus.Close()
	if _, ok := bus.(*Memory); !ok {
		t.Errorf("got %T, want *Memory when no NATS URL is configured", bus)
	}
}
