// Package events delivers engine events to in-process listeners.
//
// Delivery is synchronous and in emission order, but each listener gets a
// bounded time slice: a listener that overruns its deadline is abandoned
// (its context is cancelled and the bus moves on) so one slow consumer can
// never stall plan processing.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fleetops/deployhub/pkg/types"
)

// DefaultDeliveryTimeout bounds each listener invocation.
const DefaultDeliveryTimeout = 2 * time.Second

// Listener receives events. The context is cancelled when the delivery
// timeout expires; long-running listeners must honor it.
type Listener func(ctx context.Context, ev types.Event)

// Bus fans events out to registered listeners.
type Bus struct {
	mu        sync.RWMutex
	listeners []Listener

	timeout time.Duration
	logger  *slog.Logger
}

// NewBus creates a bus with the given per-listener delivery timeout.
// A zero timeout uses DefaultDeliveryTimeout.
func NewBus(timeout time.Duration, logger *slog.Logger) *Bus {
	if timeout <= 0 {
		timeout = DefaultDeliveryTimeout
	}
	return &Bus{
		timeout: timeout,
		logger:  logger.With("component", "events"),
	}
}

// Register adds a listener. Listeners cannot be removed; register for the
// life of the process.
func (b *Bus) Register(l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, l)
}

// Emit delivers the event to every listener in registration order. Each
// delivery is bounded by the bus timeout; an overrunning listener is logged
// and left behind.
func (b *Bus) Emit(ev types.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.RLock()
	listeners := make([]Listener, len(b.listeners))
	copy(listeners, b.listeners)
	b.mu.RUnlock()

	for i, l := range listeners {
		ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
		done := make(chan struct{})
		go func(l Listener) {
			defer close(done)
			l(ctx, ev)
		}(l)

		select {
		case <-done:
		case <-ctx.Done():
			b.logger.Warn("listener exceeded delivery timeout, abandoning",
				"listener", i, "event", ev.Type, "timeout", b.timeout)
		}
		cancel()
	}
}
