// Package state tracks the two process-wide gates of the server: cold
// start completion and shutdown. Request handling, GC and subscriber
// init consult them before touching the store.
package state

import (
	"sync/atomic"

	"mirrordb/pkg/nosql"
)

// Lifecycle is the shared gate set. The zero value is a server that has
// not finished loading yet.
type Lifecycle struct {
	initialized  atomic.Bool
	shuttingDown atomic.Bool
}

// MarkInitialized flips the cold-start gate open.
func (l *Lifecycle) MarkInitialized() { l.initialized.Store(true) }

// Initialized reports whether the cold start finished.
func (l *Lifecycle) Initialized() bool { return l.initialized.Load() }

// BeginShutdown flips the shutdown gate; writes are rejected from here.
func (l *Lifecycle) BeginShutdown() { l.shuttingDown.Store(true) }

// ShuttingDown reports whether shutdown started.
func (l *Lifecycle) ShuttingDown() bool { return l.shuttingDown.Load() }

// Check returns the gate error that applies, if any.
func (l *Lifecycle) Check() error {
	if l.shuttingDown.Load() {
		return nosql.Errf(nosql.KindAppIsShuttingDown, "server is shutting down")
	}
	if !l.initialized.Load() {
		return nosql.Errf(nosql.KindAppIsNotInitialized, "server is still loading tables")
	}
	return nil
}
