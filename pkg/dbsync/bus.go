package dbsync

import (
	"context"
	"sync/atomic"
	"time"

	"mirrordb/pkg/logger"
	"mirrordb/pkg/telemetry"
)

// Sink consumes events in bus order. Sinks must be cheap: marking
// persistence deadlines, enqueueing session payloads. A slow sink is
// logged but never skipped, otherwise per-table ordering would break.
type Sink func(Event)

// Bus is the process-wide sync event channel: many producers (one per
// table write at a time, linearized by the table lock), one dispatcher.
// FIFO order on the channel carries the per-table total order end to end.
type Bus struct {
	ch        chan Event
	published atomic.Uint64
}

// NewBus creates a bus with the given buffer capacity.
func NewBus(capacity int) *Bus {
	if capacity <= 0 {
		capacity = 4096
	}
	return &Bus{ch: make(chan Event, capacity)}
}

// Publish places an event on the bus, blocking if the dispatcher is
// behind. Publishing happens after the table lock is released.
func (b *Bus) Publish(ev Event) {
	b.published.Add(1)
	telemetry.SyncEventPublished(ev.Kind.String())
	b.ch <- ev
}

// Published returns the number of events accepted so far.
func (b *Bus) Published() uint64 { return b.published.Load() }

// Len reports the number of events waiting for dispatch.
func (b *Bus) Len() int { return len(b.ch) }

// slowEventBudget bounds per-event sink handling before a fatal-level
// log is emitted. The event still completes to preserve ordering.
const slowEventBudget = time.Second

// RunDispatcher drains the bus until ctx is done, feeding every event to
// the given sinks in order. Intended to run as the process's single sync
// dispatcher goroutine.
func (b *Bus) RunDispatcher(ctx context.Context, sinks ...Sink) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-b.ch:
			b.dispatch(ev, sinks)
		}
	}
}

// Drain synchronously delivers anything still buffered; used on
// shutdown after producers have stopped.
func (b *Bus) Drain(sinks ...Sink) {
	for {
		select {
		case ev := <-b.ch:
			b.dispatch(ev, sinks)
		default:
			return
		}
	}
}

func (b *Bus) dispatch(ev Event, sinks []Sink) {
	for _, sink := range sinks {
		done := make(chan struct{})
		go func() {
			defer close(done)
			sink(ev)
		}()
		select {
		case <-done:
		case <-time.After(slowEventBudget):
			logger.Error("sync_dispatch_overrun", "kind", ev.Kind.String(), "table", ev.Table)
			<-done
		}
	}
}
