// Package session owns the current trace of one viewer and notifies
// subscribers when it changes.
package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/23skdu/longbow-lens/internal/logger"
	"github.com/23skdu/longbow-lens/internal/metrics"
	"github.com/23skdu/longbow-lens/internal/trace"
	"github.com/google/uuid"
)

// EventKind says what happened to the current trace.
type EventKind string

const (
	EventReplaced EventKind = "replaced"
	EventCleared  EventKind = "cleared"
)

// subscriberBuffer is how many events a subscriber may lag behind before
// further events are dropped for it.
const subscriberBuffer = 16

// Event is a change notification.
type Event struct {
	Kind       EventKind `json:"kind"`
	SessionID  string    `json:"session_id"`
	TraceID    string    `json:"trace_id,omitempty"`
	Generation uint64    `json:"generation"`
	At         time.Time `json:"at"`
}

// Snapshot is an immutable view of the session at one generation.
type Snapshot struct {
	Trace      *trace.Trace
	Generation uint64
}

type state struct {
	trace      *trace.Trace
	generation uint64
}

// Session holds the current trace. Replacement is atomic: readers see the
// old or the new trace in full.
type Session struct {
	ID        string
	CreatedAt time.Time

	cur atomic.Pointer[state]
	// wmu serializes writers so generations are stored and published in
	// order.
	wmu sync.Mutex

	mu     sync.Mutex
	subs   map[uint64]chan Event
	nextID uint64
	closed bool

	log *logger.Logger
}

func New() *Session {
	s := &Session{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		subs:      make(map[uint64]chan Event),
	}
	s.log = logger.Log.With("session")
	s.cur.Store(&state{})
	return s
}

// Current returns the trace and its generation.
func (s *Session) Current() Snapshot {
	st := s.cur.Load()
	return Snapshot{Trace: st.trace, Generation: st.generation}
}

// Replace installs t as the current trace and returns the new generation.
func (s *Session) Replace(t *trace.Trace) uint64 {
	if t == nil {
		return s.Clear()
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	gen := s.swap(t)

	tokens, _ := t.TokenCount()
	metrics.RecordTraceReplaced(tokens)
	for field, err := range t.Validate() {
		s.log.Warn("Trace field failed validation", "session", s.ID, "field", field, "error", err)
	}
	for _, st := range t.Audit() {
		if st.Unstable() {
			s.log.Warn("Numerical instability in trace", "session", s.ID, "tensor", st.Name, "nans", st.NaNs, "infs", st.Infs)
		}
	}

	ev := Event{Kind: EventReplaced, SessionID: s.ID, TraceID: t.ID.String(), Generation: gen, At: time.Now().UTC()}
	s.log.Debug("Trace replaced", "session", s.ID, "generation", gen, "fields", t.Fields())
	s.publish(ev)
	return gen
}

// Clear drops the current trace and returns the new generation.
func (s *Session) Clear() uint64 {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	gen := s.swap(nil)
	metrics.RecordTraceCleared()
	s.log.Debug("Trace cleared", "session", s.ID, "generation", gen)
	s.publish(Event{Kind: EventCleared, SessionID: s.ID, Generation: gen, At: time.Now().UTC()})
	return gen
}

// swap must be called with wmu held.
func (s *Session) swap(t *trace.Trace) uint64 {
	gen := s.cur.Load().generation + 1
	s.cur.Store(&state{trace: t, generation: gen})
	return gen
}

// Subscribe returns a channel of change events and a func that ends the
// subscription. A subscriber that falls behind loses events instead of
// blocking writers.
func (s *Session) Subscribe() (<-chan Event, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	if s.closed {
		close(ch)
		return ch, func() {}
	}
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	metrics.AddSubscribers(1)

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if c, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(c)
				metrics.AddSubscribers(-1)
			}
		})
	}
}

// Subscribers returns the number of live subscriptions.
func (s *Session) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

func (s *Session) publish(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			s.log.Debug("Dropped event for slow subscriber", "session", s.ID, "subscriber", id, "generation", ev.Generation)
		}
	}
}

// Close ends every subscription.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
		metrics.AddSubscribers(-1)
	}
}
