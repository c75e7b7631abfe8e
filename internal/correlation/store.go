package correlation

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/softmech/journeyprobe/internal/domain/probe"
)

// ErrKeyExists signals a registration collision: two live expectations for
// the same correlation key would cross-talk, so the second registration is
// rejected instead of overwriting.
var ErrKeyExists = errors.New("correlation key already registered")

// Outcome is the exactly-once resume signal for a pending expectation:
// either the matched inbound event or a timeout, never both.
type Outcome struct {
	Event    *probe.InboundEvent
	TimedOut bool
}

// Expectation is a pending correlation entry. The outcome channel is
// buffered so the single delivery never blocks the store.
type Expectation struct {
	Key      string
	RunID    uuid.UUID
	StepID   string
	Deadline time.Time

	ch chan Outcome
}

// Outcome yields the expectation's single resolution signal.
func (e *Expectation) Outcome() <-chan Outcome { return e.ch }

// RecipientFor derives the synthetic contact identity used for a run. The
// platform echoes the recipient on every callback, which makes it the only
// identifier present on both sides of the exchange.
func RecipientFor(runID uuid.UUID) string {
	return "probe-" + runID.String()
}

// KeyFor normalizes a recipient identifier into a correlation key.
func KeyFor(recipient string) string {
	return strings.ToLower(strings.TrimSpace(recipient))
}

// Store maps live correlation keys to their pending expectations. It is the
// only state shared between run goroutines and the webhook listener; every
// mutation is serialized behind one mutex.
type Store struct {
	mu      sync.Mutex
	pending map[string]*Expectation
}

func NewStore() *Store {
	return &Store{pending: make(map[string]*Expectation)}
}

// Register creates a pending expectation for key. A live entry under the
// same key rejects the registration with ErrKeyExists.
func (s *Store) Register(key string, runID uuid.UUID, stepID string, deadline time.Time) (*Expectation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, live := s.pending[key]; live {
		return nil, ErrKeyExists
	}
	e := &Expectation{
		Key:      key,
		RunID:    runID,
		StepID:   stepID,
		Deadline: deadline,
		ch:       make(chan Outcome, 1),
	}
	s.pending[key] = e
	return e, nil
}

// Resolve matches an inbound event to the pending expectation for key,
// removes the entry and delivers the event. Returns false when no live
// expectation exists, which covers late, duplicate and unsolicited traffic.
func (s *Store) Resolve(key string, ev *probe.InboundEvent) (*Expectation, bool) {
	s.mu.Lock()
	e, ok := s.pending[key]
	if ok {
		delete(s.pending, key)
	}
	s.mu.Unlock()
	if !ok {
		return nil, false
	}
	e.ch <- Outcome{Event: ev}
	return e, true
}

// Sweep removes every expectation whose deadline has elapsed and delivers
// exactly one timeout signal per removed entry.
func (s *Store) Sweep(now time.Time) []*Expectation {
	s.mu.Lock()
	var expired []*Expectation
	for key, e := range s.pending {
		if !e.Deadline.After(now) {
			delete(s.pending, key)
			expired = append(expired, e)
		}
	}
	s.mu.Unlock()
	for _, e := range expired {
		e.ch <- Outcome{TimedOut: true}
	}
	return expired
}

// Release drops all live expectations belonging to runID without delivering
// any outcome. Used on run cancellation.
func (s *Store) Release(runID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key, e := range s.pending {
		if e.RunID == runID {
			delete(s.pending, key)
			n++
		}
	}
	return n
}

// Len reports the number of live expectations.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
