package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType identifies the type of event.
// Format: {aggregate}.{action}
type EventType string

// Event type constants organized by workflow stage.
const (
	// === SELECTION ===

	// IssueSelected marks an issue claimed for a workflow run.
	IssueSelected EventType = "issue.selected"

	// IssueAnalyzed marks the analysis context assembled for an issue.
	IssueAnalyzed EventType = "issue.analyzed"

	// === PLANNING ===

	// PlanGenerated marks a development plan produced by the agent.
	PlanGenerated EventType = "plan.generated"

	// PlanApproved marks a plan approved, by a human or automatically.
	PlanApproved EventType = "plan.approved"

	// PlanRejected marks a plan rejected with optional feedback.
	PlanRejected EventType = "plan.rejected"

	// IssueSkipped marks an issue abandoned at the approval gate.
	IssueSkipped EventType = "issue.skipped"

	// === IMPLEMENTATION ===

	// BranchCreated marks the working branch created.
	BranchCreated EventType = "branch.created"

	// ImplementationStarted marks the implementation agent call beginning.
	ImplementationStarted EventType = "implementation.started"

	// ImplementationCompleted marks the implementation agent call done.
	ImplementationCompleted EventType = "implementation.completed"

	// === DELIVERY ===

	// PRCreated marks the pull request opened.
	PRCreated EventType = "pr.created"

	// PRMerged marks the pull request merged.
	PRMerged EventType = "pr.merged"

	// IssueClosed marks the issue closed after a merge.
	IssueClosed EventType = "issue.closed"

	// === FAILURE ===

	// ErrorOccurred marks an unrecoverable failure of the current run.
	ErrorOccurred EventType = "error.occurred"
)

// String returns the string representation.
func (t EventType) String() string {
	return string(t)
}

// IsFailureEvent returns true if this event type indicates a failure.
func (t EventType) IsFailureEvent() bool {
	return t == ErrorOccurred
}

// IsTerminalEvent returns true if this event type ends a workflow run.
func (t EventType) IsTerminalEvent() bool {
	switch t {
	case IssueClosed, IssueSkipped, PlanRejected, ErrorOccurred:
		return true
	default:
		return false
	}
}

// AllEventTypes returns all defined event types.
func AllEventTypes() []EventType {
	return []EventType{
		IssueSelected,
		IssueAnalyzed,
		PlanGenerated,
		PlanApproved,
		PlanRejected,
		IssueSkipped,
		BranchCreated,
		ImplementationStarted,
		ImplementationCompleted,
		PRCreated,
		PRMerged,
		IssueClosed,
		ErrorOccurred,
	}
}

// Event is the canonical envelope for all engine events. Events are
// append-only: once recorded they are never mutated or deleted
// individually.
type Event struct {
	// ID is a globally unique event identifier (XID, time-ordered).
	ID EventID `json:"event_id"`

	// Type is the event type identifier (e.g. "issue.selected").
	Type EventType `json:"event_type"`

	// IssueNumber is the issue this event belongs to; zero when the
	// event is not scoped to an issue.
	IssueNumber int `json:"issue_number,omitempty"`

	// Timestamp is the store-issued monotonic timestamp. Within one
	// store it never decreases, even across events recorded in the
	// same clock tick.
	Timestamp Timestamp `json:"timestamp"`

	// RecordedAt is the wall clock time the event was recorded.
	RecordedAt time.Time `json:"recorded_at"`

	// Payload carries the type-specific event data. Its concrete type
	// is determined by Type.
	Payload Payload `json:"-"`
}

// Time returns the event's timestamp as wall clock time.
func (e Event) Time() time.Time {
	return e.Timestamp.Time()
}

// eventJSON is the wire form of an Event: the payload travels as raw
// JSON keyed by the event type.
type eventJSON struct {
	ID          EventID         `json:"event_id"`
	Type        EventType       `json:"event_type"`
	IssueNumber int             `json:"issue_number,omitempty"`
	Timestamp   Timestamp       `json:"timestamp"`
	RecordedAt  time.Time       `json:"recorded_at"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (e Event) MarshalJSON() ([]byte, error) {
	var raw json.RawMessage
	if e.Payload != nil {
		data, err := json.Marshal(e.Payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", e.Type, err)
		}
		raw = data
	}
	return json.Marshal(eventJSON{
		ID:          e.ID,
		Type:        e.Type,
		IssueNumber: e.IssueNumber,
		Timestamp:   e.Timestamp,
		RecordedAt:  e.RecordedAt,
		Payload:     raw,
	})
}

// UnmarshalJSON implements json.Unmarshaler. The payload is decoded
// into the concrete type registered for the event type.
func (e *Event) UnmarshalJSON(data []byte) error {
	var wire eventJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	e.ID = wire.ID
	e.Type = wire.Type
	e.IssueNumber = wire.IssueNumber
	e.Timestamp = wire.Timestamp
	e.RecordedAt = wire.RecordedAt
	e.Payload = nil

	if len(wire.Payload) == 0 {
		return nil
	}

	payload, err := decodePayload(wire.Type, wire.Payload)
	if err != nil {
		return err
	}
	e.Payload = payload
	return nil
}
