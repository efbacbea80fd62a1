package events

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"exposure_backend/platform/logger"
)

type pingEvent struct{ BaseEvent }

func (pingEvent) EventName() string { return "test.ping" }

func TestPublishSyncJoinsHandlerErrors(t *testing.T) {
	bus := NewInMemoryBus(logger.New("development"))
	var calls int32
	bus.Subscribe("test.ping", HandlerFunc(func(context.Context, Event) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}))
	bus.Subscribe("test.ping", HandlerFunc(func(context.Context, Event) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("boom")
	}))

	err := bus.PublishSync(context.Background(), pingEvent{BaseEvent: NewBaseEvent()})
	if err == nil {
		t.Fatalf("expected joined error")
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected both handlers to run, got %d", calls)
	}
}

func TestPublishRunsHandlersAsynchronously(t *testing.T) {
	bus := NewInMemoryBus(logger.New("development"))
	done := make(chan struct{})
	bus.Subscribe("test.ping", HandlerFunc(func(context.Context, Event) error {
		close(done)
		return nil
	}))

	bus.Publish(context.Background(), pingEvent{BaseEvent: NewBaseEvent()})
	bus.Wait()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("handler did not run")
	}
}

func TestPublishWithoutSubscribersIsNoop(t *testing.T) {
	bus := NewInMemoryBus(nil)
	if err := bus.PublishSync(context.Background(), pingEvent{}); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}
