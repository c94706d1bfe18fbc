package events

import "time"

// =============================================================================
// Issue Types
// =============================================================================

// IssueData is an immutable snapshot of the issue a workflow run is
// operating on. It is captured once at selection time and never updated
// during the run.
type IssueData struct {
	// Number is the issue number, unique per repository.
	Number int `json:"number"`

	// Title is the issue title.
	Title string `json:"title"`

	// Body is the issue description.
	Body string `json:"body"`

	// Labels are the labels attached to the issue.
	Labels []string `json:"labels,omitempty"`

	// URL is the web URL of the issue.
	URL string `json:"url"`

	// Comments is the comment history, oldest first.
	Comments []IssueComment `json:"comments,omitempty"`

	// Assignees are the logins currently assigned to the issue.
	Assignees []string `json:"assignees,omitempty"`

	// RelatedIssues are issue numbers referenced from the issue text.
	RelatedIssues []int `json:"related_issues,omitempty"`

	// CreatedAt is when the issue was opened.
	CreatedAt time.Time `json:"created_at"`
}

// IssueComment is a single comment on an issue.
type IssueComment struct {
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// HasLabel reports whether the issue carries the given label.
func (i *IssueData) HasLabel(label string) bool {
	for _, l := range i.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// =============================================================================
// Development Plan
// =============================================================================

// DevelopmentPlan is the agent-produced proposal describing how an
// issue will be implemented.
type DevelopmentPlan struct {
	// IssueNumber is the issue this plan addresses.
	IssueNumber int `json:"issue_number"`

	// Summary is a one-paragraph summary of the change.
	Summary string `json:"summary"`

	// Approach is the narrative description of how the change is made.
	Approach string `json:"approach"`

	// FileChanges are the planned file changes, in application order.
	FileChanges []PlannedFileChange `json:"file_changes"`

	// TestingStrategy describes how the change will be verified.
	TestingStrategy string `json:"testing_strategy,omitempty"`

	// Complexity is the estimated complexity: low, medium or high.
	Complexity Complexity `json:"complexity"`

	// Risks are known risks of the change.
	Risks []string `json:"risks,omitempty"`
}

// PlannedFileChange is a single file change in a development plan.
type PlannedFileChange struct {
	// FilePath is the path of the file, relative to the repository root.
	FilePath string `json:"file_path"`

	// Action is what happens to the file.
	Action FileAction `json:"action"`

	// Description explains the change.
	Description string `json:"description"`
}

// FileAction describes what action to take on a file.
type FileAction string

const (
	FileActionCreate FileAction = "create"
	FileActionModify FileAction = "modify"
	FileActionDelete FileAction = "delete"
)

// Valid reports whether the action is one of the known values.
func (a FileAction) Valid() bool {
	switch a {
	case FileActionCreate, FileActionModify, FileActionDelete:
		return true
	default:
		return false
	}
}

// Complexity is a coarse complexity estimate for a plan.
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// Valid reports whether the complexity is one of the known values.
func (c Complexity) Valid() bool {
	switch c {
	case ComplexityLow, ComplexityMedium, ComplexityHigh:
		return true
	default:
		return false
	}
}

// =============================================================================
// Agent Results
// =============================================================================

// AgentTaskResult is the outcome of a single coding-agent invocation.
type AgentTaskResult struct {
	// Success reports whether the agent considered the task done.
	Success bool `json:"success"`

	// Output is the agent's free-text output.
	Output string `json:"output,omitempty"`

	// CostUSD is the cost of the invocation in US dollars.
	CostUSD float64 `json:"cost_usd"`

	// Duration is how long the invocation took.
	Duration time.Duration `json:"duration"`

	// ErrorMessage is set when the agent reported a failure.
	ErrorMessage string `json:"error_message,omitempty"`
}

// =============================================================================
// Pull Requests and CI
// =============================================================================

// PullRequestStatus is the lifecycle status of a pull request.
type PullRequestStatus string

const (
	PullRequestOpen   PullRequestStatus = "open"
	PullRequestClosed PullRequestStatus = "closed"
	PullRequestMerged PullRequestStatus = "merged"
)

// PullRequestInfo describes a pull request on the git platform.
type PullRequestInfo struct {
	Number int               `json:"number"`
	URL    string            `json:"url"`
	Title  string            `json:"title"`
	Body   string            `json:"body,omitempty"`
	Branch string            `json:"branch"`
	Status PullRequestStatus `json:"status"`
}

// CheckStatus is the status of a single CI check.
type CheckStatus string

const (
	CheckPassed  CheckStatus = "passed"
	CheckFailed  CheckStatus = "failed"
	CheckPending CheckStatus = "pending"
)

// CheckResult is the result of one CI check on a pull request.
type CheckResult struct {
	Name   string      `json:"name"`
	Status CheckStatus `json:"status"`
	URL    string      `json:"url,omitempty"`
}
