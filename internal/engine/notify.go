package engine

import (
	"time"

	"github.com/antinvestor/pilot/internal/events"
)

// StateUpdate notifies subscribers of a state transition.
type StateUpdate struct {
	// From is the state being left.
	From State `json:"from"`

	// To is the state being entered.
	To State `json:"to"`

	// IssueNumber is the issue the active run is working on; zero when
	// no run is active.
	IssueNumber int `json:"issue_number,omitempty"`

	// At is when the transition happened.
	At time.Time `json:"at"`
}

// LogLevel classifies a log notification.
type LogLevel string

const (
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// LogEntry is a human-readable progress message for subscribers. It
// mirrors, but is independent of, the structured service log.
type LogEntry struct {
	Level   LogLevel  `json:"level"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// ApprovalRequest notifies subscribers that a plan awaits a decision.
type ApprovalRequest struct {
	// IssueNumber is the issue the plan addresses.
	IssueNumber int `json:"issue_number"`

	// Plan is the generated plan awaiting the decision.
	Plan events.DevelopmentPlan `json:"plan"`

	// RequestedAt is when the engine started waiting.
	RequestedAt time.Time `json:"requested_at"`
}

// Sink receives engine notifications. All methods must be non-blocking
// or buffer internally; the engine calls them from the workflow
// goroutine. A nil Sink disables notifications.
type Sink interface {
	// PublishState delivers a state transition.
	PublishState(update StateUpdate)

	// PublishLog delivers a progress message.
	PublishLog(entry LogEntry)

	// PublishApproval delivers a pending approval request.
	PublishApproval(req ApprovalRequest)

	// PublishEvent delivers a recorded event.
	PublishEvent(event events.Event)
}

// discardSink drops all notifications. Used when no sink is configured.
type discardSink struct{}

func (discardSink) PublishState(StateUpdate)        {}
func (discardSink) PublishLog(LogEntry)             {}
func (discardSink) PublishApproval(ApprovalRequest) {}
func (discardSink) PublishEvent(events.Event)       {}
