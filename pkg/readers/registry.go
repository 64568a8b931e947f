package readers

import (
	"sort"
	"sync"
	"time"

	"mirrordb/pkg/logger"
)

// Registry owns the set of live reader sessions.
type Registry struct {
	mu       sync.Mutex
	nextID   int64
	sessions map[int64]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: map[int64]*Session{}}
}

// NewSession allocates a session with the next monotonic id.
func (r *Registry) NewSession(transport Transport, name, version string, compress bool) *Session {
	r.mu.Lock()
	r.nextID++
	s := newSession(r.nextID, transport, name, version, compress)
	r.sessions[s.ID] = s
	r.mu.Unlock()

	logger.Info("reader_session_started",
		"session", s.ID, "transport", transport.String(), "name", name, "compress", compress)
	return s
}

// Get looks a session up by id.
func (r *Registry) Get(id int64) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Remove closes the session and drops it from the registry.
func (r *Registry) Remove(id int64) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if ok {
		s.Close()
		logger.Info("reader_session_removed", "session", id, "transport", s.Transport.String())
	}
}

// List returns all sessions ordered by id.
func (r *Registry) List() []*Session {
	r.mu.Lock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count reports the number of live sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// SweepStale removes sessions silent for longer than ttl and returns
// the removed ones.
func (r *Registry) SweepStale(ttl time.Duration) []*Session {
	deadline := time.Now().Add(-ttl)
	var stale []*Session
	for _, s := range r.List() {
		if s.Closed() || s.LastIncoming().Before(deadline) {
			stale = append(stale, s)
		}
	}
	for _, s := range stale {
		logger.Warn("reader_session_stale",
			"session", s.ID, "transport", s.Transport.String(), "last_incoming", s.LastIncoming())
		r.Remove(s.ID)
	}
	return stale
}
