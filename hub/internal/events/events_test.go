package events

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/fleetops/deployhub/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEmitOrder(t *testing.T) {
	bus := NewBus(time.Second, testLogger())

	var mu sync.Mutex
	var got []string
	bus.Register(func(ctx context.Context, ev types.Event) {
		mu.Lock()
		got = append(got, "first:"+string(ev.Type))
		mu.Unlock()
	})
	bus.Register(func(ctx context.Context, ev types.Event) {
		mu.Lock()
		got = append(got, "second:"+string(ev.Type))
		mu.Unlock()
	})

	bus.Emit(types.Event{Type: types.EventPlanCompleted})
	bus.Emit(types.Event{Type: types.EventPlanFailed})

	mu.Lock()
	defer mu.Unlock()
	want := []string{
		"first:plan_completed", "second:plan_completed",
		"first:plan_failed", "second:plan_failed",
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d deliveries, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("delivery[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestEmitSlowListenerDoesNotBlock(t *testing.T) {
	bus := NewBus(50*time.Millisecond, testLogger())

	release := make(chan struct{})
	bus.Register(func(ctx context.Context, ev types.Event) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		<-release // hold even past cancellation
	})

	delivered := make(chan struct{})
	bus.Register(func(ctx context.Context, ev types.Event) {
		close(delivered)
	})

	start := time.Now()
	bus.Emit(types.Event{Type: types.EventEntityStateChanged})
	elapsed := time.Since(start)

	select {
	case <-delivered:
	default:
		t.Fatal("second listener never reached")
	}
	if elapsed > time.Second {
		t.Errorf("emit blocked for %v despite timeout", elapsed)
	}
	close(release)
}

func TestEmitSetsTimestamp(t *testing.T) {
	bus := NewBus(time.Second, testLogger())

	var got types.Event
	bus.Register(func(ctx context.Context, ev types.Event) {
		got = ev
	})

	bus.Emit(types.Event{Type: types.EventPlanCompleted})
	if got.Timestamp.IsZero() {
		t.Error("expected bus to stamp events without a timestamp")
	}
}

func TestEmitNoListeners(t *testing.T) {
	bus := NewBus(time.Second, testLogger())
	bus.Emit(types.Event{Type: types.EventPlanCompleted}) // must not panic
}
