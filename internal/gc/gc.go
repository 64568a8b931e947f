// Package gc runs the background timers: row expiration, table quota
// enforcement, stale reader sessions and abandoned transactions.
package gc

import (
	"context"
	"time"

	"mirrordb/pkg/logger"
	"mirrordb/pkg/nosql"
	"mirrordb/pkg/ops"
	"mirrordb/pkg/readers"
	"mirrordb/pkg/state"
	"mirrordb/pkg/transactions"
)

// Worker drives the periodic cleanups. All ticks are gated on the
// lifecycle: nothing runs before the cold start finished.
type Worker struct {
	Svc          *ops.Service
	Readers      *readers.Registry
	Transactions *transactions.Registry
	Life         *state.Lifecycle

	ExpireInterval  time.Duration
	SweepInterval   time.Duration
	StaleSessionTTL time.Duration
}

func NewWorker(svc *ops.Service, rd *readers.Registry, tx *transactions.Registry, life *state.Lifecycle) *Worker {
	return &Worker{
		Svc:             svc,
		Readers:         rd,
		Transactions:    tx,
		Life:            life,
		ExpireInterval:  time.Second,
		SweepInterval:   30 * time.Second,
		StaleSessionTTL: 60 * time.Second,
	}
}

// Run blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	expire := time.NewTicker(w.ExpireInterval)
	defer expire.Stop()
	sweep := time.NewTicker(w.SweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-expire.C:
			w.tick("expire_rows", func() {
				w.Svc.ExpireRows(nosql.Now())
			})
		case <-sweep.C:
			w.tick("enforce_quotas", func() {
				w.Svc.EnforceQuotas(nosql.Now())
			})
			w.tick("sweep_sessions", func() {
				w.Readers.SweepStale(w.StaleSessionTTL)
			})
			w.tick("sweep_transactions", func() {
				w.Transactions.SweepIdle()
			})
		}
	}
}

// tick wraps one timer action so a panic does not kill the loop.
func (w *Worker) tick(name string, fn func()) {
	if !w.Life.Initialized() || w.Life.ShuttingDown() {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Error("gc_tick_panicked", "tick", name, "panic", r)
		}
	}()
	fn()
}
