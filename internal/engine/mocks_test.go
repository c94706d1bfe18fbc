package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/antinvestor/pilot/internal/events"
)

// mockPlatform is a scriptable in-memory GitPlatform. Mutating calls
// are recorded so tests can assert on the exact side effects of a run.
type mockPlatform struct {
	mu sync.Mutex

	issues map[int]*events.IssueData

	// checks is returned by CIStatus; checksFn wins when set.
	checks   []events.CheckResult
	checksFn func(call int) []events.CheckResult
	ciCalls  int

	listErr   error
	branchErr error
	mergeErr  error

	assigned        map[int]string
	comments        map[int][]string
	closedIssues    []int
	createdBranches []string
	deletedBranches []string
	createdPRs      []PullRequestSpec
	mergedPRs       []int

	nextPRNumber int
}

func newMockPlatform(issues ...events.IssueData) *mockPlatform {
	p := &mockPlatform{
		issues:       map[int]*events.IssueData{},
		assigned:     map[int]string{},
		comments:     map[int][]string{},
		nextPRNumber: 101,
	}
	for i := range issues {
		issue := issues[i]
		p.issues[issue.Number] = &issue
	}
	return p
}

func (p *mockPlatform) ListOpenIssues(_ context.Context) ([]events.IssueData, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listErr != nil {
		return nil, p.listErr
	}
	out := make([]events.IssueData, 0, len(p.issues))
	for _, issue := range p.issues {
		out = append(out, *issue)
	}
	return out, nil
}

func (p *mockPlatform) GetIssue(_ context.Context, number int) (*events.IssueData, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	issue, ok := p.issues[number]
	if !ok {
		return nil, &PlatformError{Op: "get issue", Code: PlatformNotFound}
	}
	copied := *issue
	return &copied, nil
}

func (p *mockPlatform) AddComment(_ context.Context, issueNumber int, body string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.comments[issueNumber] = append(p.comments[issueNumber], body)
	return nil
}

func (p *mockPlatform) AssignIssue(_ context.Context, issueNumber int, login string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.assigned[issueNumber] = login
	return nil
}

func (p *mockPlatform) CloseIssue(_ context.Context, issueNumber int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closedIssues = append(p.closedIssues, issueNumber)
	return nil
}

func (p *mockPlatform) CreateBranch(_ context.Context, name, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.branchErr != nil {
		return p.branchErr
	}
	p.createdBranches = append(p.createdBranches, name)
	return nil
}

func (p *mockPlatform) DeleteBranch(_ context.Context, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deletedBranches = append(p.deletedBranches, name)
	return nil
}

func (p *mockPlatform) CreatePullRequest(_ context.Context, spec PullRequestSpec) (*events.PullRequestInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.createdPRs = append(p.createdPRs, spec)
	number := p.nextPRNumber
	p.nextPRNumber++
	return &events.PullRequestInfo{
		Number: number,
		URL:    fmt.Sprintf("https://example.test/pr/%d", number),
		Title:  spec.Title,
		Body:   spec.Body,
		Branch: spec.Branch,
		Status: events.PullRequestOpen,
	}, nil
}

func (p *mockPlatform) GetPullRequest(_ context.Context, number int) (*events.PullRequestInfo, error) {
	return &events.PullRequestInfo{Number: number, Status: events.PullRequestOpen}, nil
}

func (p *mockPlatform) MergePullRequest(_ context.Context, number int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.mergeErr != nil {
		return p.mergeErr
	}
	p.mergedPRs = append(p.mergedPRs, number)
	return nil
}

func (p *mockPlatform) CIStatus(_ context.Context, _ int) ([]events.CheckResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ciCalls++
	if p.checksFn != nil {
		return p.checksFn(p.ciCalls), nil
	}
	return p.checks, nil
}

func (p *mockPlatform) ListCommits(_ context.Context, _ string) ([]string, error) {
	return nil, nil
}

// mockAgent replays a scripted sequence of task results.
type mockAgent struct {
	mu       sync.Mutex
	results  []*events.AgentTaskResult
	errs     []error
	calls    []AgentTask
	blockOn  chan struct{}
	disposed int
}

func newMockAgent(results ...*events.AgentTaskResult) *mockAgent {
	return &mockAgent{results: results}
}

func (a *mockAgent) ExecuteTask(ctx context.Context, task AgentTask, _ ProgressFunc) (*events.AgentTaskResult, error) {
	a.mu.Lock()
	a.calls = append(a.calls, task)
	idx := len(a.calls) - 1
	block := a.blockOn
	a.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if idx < len(a.errs) && a.errs[idx] != nil {
		return nil, a.errs[idx]
	}
	if idx >= len(a.results) {
		return nil, fmt.Errorf("unexpected agent call %d", idx+1)
	}
	return a.results[idx], nil
}

func (a *mockAgent) IsAvailable(_ context.Context) bool { return true }

func (a *mockAgent) Dispose() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.disposed++
	return nil
}

func (a *mockAgent) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.calls)
}

// planOutput renders a valid fenced-JSON plan the way a well-behaved
// agent would.
func planOutput(issueNumber int) string {
	return fmt.Sprintf("Here is the plan.\n```json\n"+
		`{"issue_number": %d, "summary": "fix the bug", "approach": "patch the handler", `+
		`"file_changes": [{"file_path": "handler.go", "action": "modify", "description": "guard nil"}], `+
		`"testing_strategy": "unit test", "complexity": "low"}`+
		"\n```\n", issueNumber)
}

func planResult(issueNumber int, costUSD float64) *events.AgentTaskResult {
	return &events.AgentTaskResult{
		Success:  true,
		Output:   planOutput(issueNumber),
		CostUSD:  costUSD,
		Duration: 1500 * time.Millisecond,
	}
}

func failingAgentResult() *events.AgentTaskResult {
	return &events.AgentTaskResult{
		Success:      false,
		ErrorMessage: "model overloaded",
		CostUSD:      0.01,
	}
}

func implResult(costUSD float64) *events.AgentTaskResult {
	return &events.AgentTaskResult{
		Success:  true,
		Output:   "implemented and committed",
		CostUSD:  costUSD,
		Duration: 4 * time.Second,
	}
}

// recordingSink captures notifications for assertions.
type recordingSink struct {
	mu        sync.Mutex
	states    []StateUpdate
	logs      []LogEntry
	approvals []ApprovalRequest
	events    []events.Event
}

func (s *recordingSink) PublishState(u StateUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, u)
}

func (s *recordingSink) PublishLog(e LogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, e)
}

func (s *recordingSink) PublishApproval(r ApprovalRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.approvals = append(s.approvals, r)
}

func (s *recordingSink) PublishEvent(e events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *recordingSink) stateSequence() []State {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]State, len(s.states))
	for i, u := range s.states {
		out[i] = u.To
	}
	return out
}
