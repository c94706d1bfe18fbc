package events

import (
	"sync"
	"time"
)

// Store is an append-only, strictly ordered in-memory log of engine
// events. Recording assigns each event a unique ID and a timestamp that
// never decreases, even for events recorded within the same clock tick.
// Reads return copies so callers can never mutate the log in place.
type Store struct {
	mu     sync.Mutex
	clock  *Clock
	events []Event
}

// NewStore creates an empty event store.
func NewStore() *Store {
	return &Store{
		clock: NewClock(),
	}
}

// Record appends an event of the given type and returns the stored
// event with its assigned ID and timestamp. issueNumber may be zero for
// events not scoped to an issue.
func (s *Store) Record(t EventType, issueNumber int, payload Payload) Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	event := Event{
		ID:          NewEventID(),
		Type:        t,
		IssueNumber: issueNumber,
		Timestamp:   s.clock.Now(),
		RecordedAt:  time.Now().UTC(),
		Payload:     payload,
	}
	s.events = append(s.events, event)
	return event
}

// Events returns all recorded events in recording order. The returned
// slice is an independent copy.
func (s *Store) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// EventsForIssue returns the events whose issue number equals
// issueNumber, in recording order.
func (s *Store) EventsForIssue(issueNumber int) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Event
	for _, e := range s.events {
		if e.IssueNumber == issueNumber {
			out = append(out, e)
		}
	}
	return out
}

// LastOfType returns the most recently recorded event of the given
// type. The second return is false when no such event exists.
func (s *Store) LastOfType(t EventType) (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].Type == t {
			return s.events[i], true
		}
	}
	return Event{}, false
}

// Len returns the number of recorded events.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

// Clear empties the store. The clock is kept, so timestamps issued
// after a clear still never regress.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
}
