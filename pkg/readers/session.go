package readers

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

// Transport identifies how a reader session is connected.
type Transport int

const (
	TransportTCP Transport = iota
	TransportHTTP
)

func (t Transport) String() string {
	if t == TransportTCP {
		return "tcp"
	}
	return "http"
}

// Sessions whose outgoing queue grows past this are disconnected.
const maxQueueBytes = 32 << 20

// ErrQueueOverflow is returned by Enqueue when the session fell too far
// behind and was marked dead.
var ErrQueueOverflow = errors.New("session outgoing queue overflow")

// ErrSessionClosed is returned by queue operations on a closed session.
var ErrSessionClosed = errors.New("session closed")

// Session is one connected data reader. It is shared between the
// registry, the broadcast sink and the transport flusher.
type Session struct {
	ID        int64
	Transport Transport
	Name      string
	Version   string
	Compress  bool
	Started   time.Time

	// RemoteAddr is the peer address as seen at greeting time.
	RemoteAddr string

	lastIncoming atomic.Int64 // unix micros

	mu          sync.Mutex
	subscribed  map[string]bool
	firstInit   map[string]bool
	outgoing    [][]byte
	queuedBytes int
	closed      bool
	wake        chan struct{}
}

func newSession(id int64, transport Transport, name, version string, compress bool) *Session {
	s := &Session{
		ID:         id,
		Transport:  transport,
		Name:       name,
		Version:    version,
		Compress:   compress,
		Started:    time.Now(),
		subscribed: map[string]bool{},
		firstInit:  map[string]bool{},
		wake:       make(chan struct{}, 1),
	}
	s.Touch()
	return s
}

// Touch records inbound traffic for liveness tracking.
func (s *Session) Touch() {
	s.lastIncoming.Store(time.Now().UnixMicro())
}

// LastIncoming reports when the peer was last heard from.
func (s *Session) LastIncoming() time.Time {
	return time.UnixMicro(s.lastIncoming.Load())
}

// Subscribe registers interest in a table. The first-init snapshot for
// it is delivered separately through the bus.
func (s *Session) Subscribe(table string) {
	s.mu.Lock()
	s.subscribed[table] = true
	s.mu.Unlock()
}

// Subscribed reports whether the session wants events for the table.
func (s *Session) Subscribed(table string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribed[table]
}

// Tables returns the session's subscriptions.
func (s *Session) Tables() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.subscribed))
	for t := range s.subscribed {
		out = append(out, t)
	}
	return out
}

// FirstInitDone reports whether the initial snapshot for the table was
// already queued. Regular updates are withheld until it was.
func (s *Session) FirstInitDone(table string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.firstInit[table]
}

func (s *Session) markFirstInit(table string) {
	s.mu.Lock()
	s.firstInit[table] = true
	s.mu.Unlock()
}

// Enqueue appends a payload to the outgoing queue.
func (s *Session) Enqueue(payload []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.queuedBytes+len(payload) > maxQueueBytes {
		s.closed = true
		s.mu.Unlock()
		s.signal()
		return ErrQueueOverflow
	}
	s.outgoing = append(s.outgoing, payload)
	s.queuedBytes += len(payload)
	s.mu.Unlock()
	s.signal()
	return nil
}

func (s *Session) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// TryDequeue pops the next payload without blocking.
func (s *Session) TryDequeue() ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.outgoing) == 0 {
		return nil, false
	}
	payload := s.outgoing[0]
	s.outgoing = s.outgoing[1:]
	s.queuedBytes -= len(payload)
	return payload, true
}

// Wake returns the channel signalled whenever the queue state changes.
func (s *Session) Wake() <-chan struct{} { return s.wake }

// QueueLen reports the number of queued payloads.
func (s *Session) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.outgoing)
}

// QueuedBytes reports the total size of pending payloads.
func (s *Session) QueuedBytes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queuedBytes
}

// Close marks the session dead and wakes any flusher blocked on it.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	s.outgoing = nil
	s.queuedBytes = 0
	s.mu.Unlock()
	s.signal()
}

// Closed reports whether the session was shut down or overflowed.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// PingBody completes a long-poll that parked past its deadline with no
// queued changes.
var PingBody = []byte(`{"type":"Ping"}`)

// AwaitPayload returns the next queued payload, parking up to park when
// the queue is empty. On timeout or cancellation it returns PingBody.
func (s *Session) AwaitPayload(ctx context.Context, park time.Duration) []byte {
	timer := time.NewTimer(park)
	defer timer.Stop()
	for {
		if data, ok := s.TryDequeue(); ok {
			return data
		}
		if s.Closed() {
			return PingBody
		}
		select {
		case <-ctx.Done():
			return PingBody
		case <-timer.C:
			return PingBody
		case <-s.Wake():
		}
	}
}
