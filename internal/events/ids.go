// Package events provides the typed domain events, the monotonic event
// clock and the append-only event store used by the workflow engine.
package events

import (
	"encoding/json"

	"github.com/rs/xid"
)

// Identifiers are xids: 20-character, URL-safe strings that sort by
// creation time and need no coordination to generate.

// EventID uniquely identifies a recorded event.
type EventID struct {
	id xid.ID
}

// NewEventID generates a new event ID.
func NewEventID() EventID {
	return EventID{id: xid.New()}
}

// String returns the string representation.
func (e EventID) String() string {
	return e.id.String()
}

// IsZero returns true if this is the zero value.
func (e EventID) IsZero() bool {
	return e.id.IsNil()
}

// MarshalJSON implements json.Marshaler.
func (e EventID) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.id.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *EventID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	id, err := xid.FromString(s)
	if err != nil {
		return err
	}
	e.id = id
	return nil
}

// RunID identifies a single workflow run (one issue driven through the
// lifecycle). A fresh RunID is assigned every time the engine picks up
// an issue, so two attempts at the same issue are distinguishable.
type RunID struct {
	id xid.ID
}

// NewRunID generates a new run ID.
func NewRunID() RunID {
	return RunID{id: xid.New()}
}

// String returns the string representation.
func (r RunID) String() string {
	return r.id.String()
}

// Short returns the first 8 characters for branch names and log lines.
func (r RunID) Short() string {
	s := r.id.String()
	if len(s) >= 8 {
		return s[:8]
	}
	return s
}
