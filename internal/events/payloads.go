package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// Payload is the sealed union of event payloads. Exactly one concrete
// payload type exists per EventType, so consumers switching on the
// payload type cover the full event set at compile time.
type Payload interface {
	// EventType returns the event type this payload belongs to.
	EventType() EventType

	sealed()
}

// ===== SELECTION =====

// IssueSelectedPayload is the payload for IssueSelected.
type IssueSelectedPayload struct {
	Issue      IssueData `json:"issue"`
	ClaimedBy  string    `json:"claimed_by"`
	SelectedAt time.Time `json:"selected_at"`
}

// IssueAnalyzedPayload is the payload for IssueAnalyzed.
type IssueAnalyzedPayload struct {
	IssueNumber   int       `json:"issue_number"`
	ContextLength int       `json:"context_length"`
	RelatedIssues []int     `json:"related_issues,omitempty"`
	AnalyzedAt    time.Time `json:"analyzed_at"`
}

// ===== PLANNING =====

// PlanGeneratedPayload is the payload for PlanGenerated.
type PlanGeneratedPayload struct {
	Plan        DevelopmentPlan `json:"plan"`
	CostUSD     float64         `json:"cost_usd"`
	DurationMS  int64           `json:"duration_ms"`
	GeneratedAt time.Time       `json:"generated_at"`
}

// PlanApprovedPayload is the payload for PlanApproved.
type PlanApprovedPayload struct {
	IssueNumber int       `json:"issue_number"`
	Automatic   bool      `json:"automatic"`
	ApprovedAt  time.Time `json:"approved_at"`
}

// PlanRejectedPayload is the payload for PlanRejected.
type PlanRejectedPayload struct {
	IssueNumber int       `json:"issue_number"`
	Feedback    string    `json:"feedback,omitempty"`
	RejectedAt  time.Time `json:"rejected_at"`
}

// IssueSkippedPayload is the payload for IssueSkipped.
type IssueSkippedPayload struct {
	IssueNumber int       `json:"issue_number"`
	Reason      string    `json:"reason,omitempty"`
	SkippedAt   time.Time `json:"skipped_at"`
}

// ===== IMPLEMENTATION =====

// BranchCreatedPayload is the payload for BranchCreated.
type BranchCreatedPayload struct {
	IssueNumber int       `json:"issue_number"`
	Branch      string    `json:"branch"`
	BaseBranch  string    `json:"base_branch"`
	CreatedAt   time.Time `json:"created_at"`
}

// ImplementationStartedPayload is the payload for ImplementationStarted.
type ImplementationStartedPayload struct {
	IssueNumber int       `json:"issue_number"`
	Branch      string    `json:"branch"`
	FileCount   int       `json:"file_count"`
	StartedAt   time.Time `json:"started_at"`
}

// ImplementationCompletedPayload is the payload for ImplementationCompleted.
type ImplementationCompletedPayload struct {
	IssueNumber int       `json:"issue_number"`
	CostUSD     float64   `json:"cost_usd"`
	DurationMS  int64     `json:"duration_ms"`
	CompletedAt time.Time `json:"completed_at"`
}

// ===== DELIVERY =====

// PRCreatedPayload is the payload for PRCreated.
type PRCreatedPayload struct {
	IssueNumber int             `json:"issue_number"`
	PullRequest PullRequestInfo `json:"pull_request"`
	CreatedAt   time.Time       `json:"created_at"`
}

// PRMergedPayload is the payload for PRMerged.
type PRMergedPayload struct {
	IssueNumber int       `json:"issue_number"`
	PRNumber    int       `json:"pr_number"`
	MergedAt    time.Time `json:"merged_at"`
}

// IssueClosedPayload is the payload for IssueClosed.
type IssueClosedPayload struct {
	IssueNumber int       `json:"issue_number"`
	ClosedAt    time.Time `json:"closed_at"`
}

// ===== FAILURE =====

// ErrorOccurredPayload is the payload for ErrorOccurred.
type ErrorOccurredPayload struct {
	IssueNumber int       `json:"issue_number,omitempty"`
	State       string    `json:"state"`
	Code        string    `json:"code,omitempty"`
	Message     string    `json:"message"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// EventType implementations tie each payload to its event type.

func (IssueSelectedPayload) EventType() EventType           { return IssueSelected }
func (IssueAnalyzedPayload) EventType() EventType           { return IssueAnalyzed }
func (PlanGeneratedPayload) EventType() EventType           { return PlanGenerated }
func (PlanApprovedPayload) EventType() EventType            { return PlanApproved }
func (PlanRejectedPayload) EventType() EventType            { return PlanRejected }
func (IssueSkippedPayload) EventType() EventType            { return IssueSkipped }
func (BranchCreatedPayload) EventType() EventType           { return BranchCreated }
func (ImplementationStartedPayload) EventType() EventType   { return ImplementationStarted }
func (ImplementationCompletedPayload) EventType() EventType { return ImplementationCompleted }
func (PRCreatedPayload) EventType() EventType               { return PRCreated }
func (PRMergedPayload) EventType() EventType                { return PRMerged }
func (IssueClosedPayload) EventType() EventType             { return IssueClosed }
func (ErrorOccurredPayload) EventType() EventType           { return ErrorOccurred }

func (IssueSelectedPayload) sealed()           {}
func (IssueAnalyzedPayload) sealed()           {}
func (PlanGeneratedPayload) sealed()           {}
func (PlanApprovedPayload) sealed()            {}
func (PlanRejectedPayload) sealed()            {}
func (IssueSkippedPayload) sealed()            {}
func (BranchCreatedPayload) sealed()           {}
func (ImplementationStartedPayload) sealed()   {}
func (ImplementationCompletedPayload) sealed() {}
func (PRCreatedPayload) sealed()               {}
func (PRMergedPayload) sealed()                {}
func (IssueClosedPayload) sealed()             {}
func (ErrorOccurredPayload) sealed()           {}

// decodePayload unmarshals raw payload JSON into the concrete type for
// the given event type.
func decodePayload(t EventType, raw json.RawMessage) (Payload, error) {
	var payload Payload
	switch t {
	case IssueSelected:
		payload = &IssueSelectedPayload{}
	case IssueAnalyzed:
		payload = &IssueAnalyzedPayload{}
	case PlanGenerated:
		payload = &PlanGeneratedPayload{}
	case PlanApproved:
		payload = &PlanApprovedPayload{}
	case PlanRejected:
		payload = &PlanRejectedPayload{}
	case IssueSkipped:
		payload = &IssueSkippedPayload{}
	case BranchCreated:
		payload = &BranchCreatedPayload{}
	case ImplementationStarted:
		payload = &ImplementationStartedPayload{}
	case ImplementationCompleted:
		payload = &ImplementationCompletedPayload{}
	case PRCreated:
		payload = &PRCreatedPayload{}
	case PRMerged:
		payload = &PRMergedPayload{}
	case IssueClosed:
		payload = &IssueClosedPayload{}
	case ErrorOccurred:
		payload = &ErrorOccurredPayload{}
	default:
		return nil, fmt.Errorf("unknown event type %q", t)
	}

	if err := json.Unmarshal(raw, payload); err != nil {
		return nil, fmt.Errorf("unmarshal %s payload: %w", t, err)
	}
	return payload, nil
}
