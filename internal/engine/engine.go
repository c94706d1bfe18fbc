package engine

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pitabwire/util"

	"github.com/antinvestor/pilot/internal/events"
)

// claimMarker is embedded in the claim comment so other engine
// instances recognize an issue as taken. The claim is advisory: a
// second instance that raced past it duplicates work but corrupts
// nothing.
const claimMarker = "<!-- pilot:claimed -->"

// Config carries engine tuning. Zero values fall back to defaults in
// New; Platform and Agent capabilities are passed separately because
// they are required.
type Config struct {
	// BotLogin is the platform login the engine claims issues under.
	BotLogin string

	// BaseBranch is the branch work branches fork from and PRs target.
	BaseBranch string

	// WorkDir is the checkout the coding agent operates in.
	WorkDir string

	// IncludeLabels restricts selection to issues carrying at least one
	// of these labels. Empty means all open issues are candidates.
	IncludeLabels []string

	// ExcludeLabels removes issues carrying any of these labels.
	ExcludeLabels []string

	// AutoApprove skips the human approval gate and approves every
	// generated plan immediately.
	AutoApprove bool

	// ApprovalTimeout resolves an unanswered approval as a skip. Zero
	// waits indefinitely.
	ApprovalTimeout time.Duration

	// CIPollInterval is how often CI status is polled while monitoring.
	CIPollInterval time.Duration

	// CITimeout bounds the CI watch; exceeding it fails the run.
	CITimeout time.Duration
}

// Engine drives the issue-to-merge workflow: select, analyze, plan,
// gate, implement, deliver. One workflow run executes at a time per
// engine; concurrent starts are refused, never queued.
type Engine struct {
	cfg      Config
	platform GitPlatform
	agent    AgentRunner
	store    *events.Store
	sink     Sink
	gate     *Gate
	ci       *CIObserver
	stats    *statsTracker

	mu           sync.Mutex
	state        State
	currentIssue int
	currentPR    *events.PullRequestInfo

	inFlight atomic.Bool
	disposed atomic.Bool
}

// New creates an engine over the given capabilities. The event store
// and sink may be shared with other components; a nil sink disables
// notifications.
func New(cfg Config, platform GitPlatform, agent AgentRunner, store *events.Store, sink Sink) (*Engine, error) {
	if platform == nil {
		return nil, &ConfigurationError{Field: "platform", Reason: "git platform is required"}
	}
	if agent == nil {
		return nil, &ConfigurationError{Field: "agent", Reason: "agent runner is required"}
	}
	if store == nil {
		store = events.NewStore()
	}
	if sink == nil {
		sink = discardSink{}
	}
	if cfg.BotLogin == "" {
		cfg.BotLogin = "pilot[bot]"
	}
	if cfg.BaseBranch == "" {
		cfg.BaseBranch = "main"
	}
	if cfg.CIPollInterval <= 0 {
		cfg.CIPollInterval = 10 * time.Second
	}
	if cfg.CITimeout <= 0 {
		cfg.CITimeout = 30 * time.Minute
	}

	return &Engine{
		cfg:      cfg,
		platform: platform,
		agent:    agent,
		store:    store,
		sink:     sink,
		gate:     NewGate(cfg.ApprovalTimeout),
		ci:       NewCIObserver(platform, cfg.CIPollInterval, cfg.CITimeout),
		stats:    newStatsTracker(),
		state:    StateIdle,
	}, nil
}

// Initialize verifies the capabilities are reachable before any
// workflow run starts.
func (e *Engine) Initialize(ctx context.Context) error {
	if e.disposed.Load() {
		return ErrEngineDisposed
	}
	if !e.agent.IsAvailable(ctx) {
		return &ConfigurationError{Field: "agent", Reason: "agent runner is not available"}
	}
	if _, err := e.platform.ListOpenIssues(ctx); err != nil {
		return fmt.Errorf("verify platform access: %w", err)
	}
	util.Log(ctx).Info("engine initialized",
		"base_branch", e.cfg.BaseBranch,
		"auto_approve", e.cfg.AutoApprove)
	return nil
}

// State returns the current workflow state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Stats returns a snapshot of the session counters.
func (e *Engine) Stats() Stats {
	return e.stats.Snapshot()
}

// CurrentPR returns the pull request of the active or most recent run,
// or nil when none exists yet.
func (e *Engine) CurrentPR() *events.PullRequestInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.currentPR == nil {
		return nil
	}
	pr := *e.currentPR
	return &pr
}

// CurrentIssue returns the issue number of the active run, or zero.
func (e *Engine) CurrentIssue() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentIssue
}

// Events exposes the engine's event store.
func (e *Engine) Events() *events.Store {
	return e.store
}

// PendingApproval returns the plan currently awaiting a decision.
func (e *Engine) PendingApproval() (PendingApproval, bool) {
	return e.gate.Pending()
}

// Approve resolves the pending approval positively. Returns false as a
// no-op when nothing is pending.
func (e *Engine) Approve() bool {
	return e.gate.Resolve(Resolution{Decision: DecisionApproved})
}

// Reject resolves the pending approval negatively, aborting the run.
// Returns false as a no-op when nothing is pending.
func (e *Engine) Reject(feedback string) bool {
	return e.gate.Resolve(Resolution{Decision: DecisionRejected, Feedback: feedback})
}

// Skip abandons the issue at the approval gate. Returns false as a
// no-op when nothing is pending.
func (e *Engine) Skip(reason string) bool {
	return e.gate.Resolve(Resolution{Decision: DecisionSkipped, Feedback: reason})
}

// Dispose releases the engine. A run already in flight finishes; new
// runs are refused. Safe to call more than once.
func (e *Engine) Dispose() error {
	if !e.disposed.CompareAndSwap(false, true) {
		return nil
	}
	e.gate.Resolve(Resolution{Decision: DecisionSkipped, Feedback: "engine disposed"})
	return e.agent.Dispose()
}

// SelectIssue finds, claims and announces the next eligible issue. With
// no eligible issue the engine stays idle and records nothing. A
// successful selection moves the engine to the selecting state and
// records the selection event.
func (e *Engine) SelectIssue(ctx context.Context) (*events.IssueData, error) {
	issues, err := e.platform.ListOpenIssues(ctx)
	if err != nil {
		return nil, err
	}

	eligible := make([]events.IssueData, 0, len(issues))
	for _, issue := range issues {
		if e.isEligible(&issue) {
			eligible = append(eligible, issue)
		}
	}
	if len(eligible) == 0 {
		return nil, nil
	}

	// Deterministic choice: oldest issue (lowest number) wins.
	sort.Slice(eligible, func(i, j int) bool { return eligible[i].Number < eligible[j].Number })
	issue := eligible[0]
	issue.RelatedIssues = extractRelatedIssues(&issue)

	if err := e.setState(ctx, StateSelectingIssue); err != nil {
		return nil, err
	}
	if err := e.claim(ctx, issue.Number); err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.currentIssue = issue.Number
	e.mu.Unlock()

	e.emit(issue.Number, &events.IssueSelectedPayload{
		Issue:      issue,
		ClaimedBy:  e.cfg.BotLogin,
		SelectedAt: time.Now().UTC(),
	})
	e.logf(ctx, LogInfo, "selected issue #%d: %s", issue.Number, issue.Title)
	return &issue, nil
}

// AnalyzeIssue assembles the context text the agent plans from. It
// pulls in titles of related issues when the platform can resolve
// them; resolution failures degrade the context rather than the run.
func (e *Engine) AnalyzeIssue(ctx context.Context, issue *events.IssueData) (string, error) {
	if issue == nil {
		return "", &EngineError{State: e.State(), Reason: "analyze called without an issue"}
	}
	return buildIssueContext(ctx, e.platform, issue), nil
}

// ProcessOneIssue runs the full lifecycle for one issue. It no-ops when
// no issue is eligible and refuses to start while another run is in
// flight.
func (e *Engine) ProcessOneIssue(ctx context.Context) error {
	release, err := e.begin()
	if err != nil {
		return err
	}
	defer release()

	e.resetForRun(ctx)

	issue, err := e.SelectIssue(ctx)
	if err != nil {
		return e.fail(ctx, 0, err)
	}
	if issue == nil {
		e.logf(ctx, LogInfo, "no eligible issues")
		return nil
	}
	return e.runWorkflow(ctx, issue, false)
}

// ProcessIssueNumber runs the full lifecycle for one specific issue,
// bypassing selection filters but still claiming it.
func (e *Engine) ProcessIssueNumber(ctx context.Context, number int) error {
	release, err := e.begin()
	if err != nil {
		return err
	}
	defer release()

	e.resetForRun(ctx)

	issue, err := e.platform.GetIssue(ctx, number)
	if err != nil {
		return e.fail(ctx, number, err)
	}
	issue.RelatedIssues = extractRelatedIssues(issue)

	if err := e.setState(ctx, StateSelectingIssue); err != nil {
		return e.fail(ctx, number, err)
	}
	if err := e.claim(ctx, number); err != nil {
		return e.fail(ctx, number, err)
	}

	e.mu.Lock()
	e.currentIssue = number
	e.mu.Unlock()

	e.emit(number, &events.IssueSelectedPayload{
		Issue:      *issue,
		ClaimedBy:  e.cfg.BotLogin,
		SelectedAt: time.Now().UTC(),
	})
	return e.runWorkflow(ctx, issue, false)
}

// ProcessDescription runs the lifecycle for ad-hoc work described in
// free text. No platform issue exists, so claiming and issue closure
// are skipped; everything else behaves as a normal run.
func (e *Engine) ProcessDescription(ctx context.Context, description string) error {
	if description == "" {
		return &ConfigurationError{Field: "description", Reason: "work description is empty"}
	}

	release, err := e.begin()
	if err != nil {
		return err
	}
	defer release()

	e.resetForRun(ctx)

	issue := synthesizeIssue(description)
	if err := e.setState(ctx, StateSelectingIssue); err != nil {
		return e.fail(ctx, 0, err)
	}
	e.emit(0, &events.IssueSelectedPayload{
		Issue:      *issue,
		ClaimedBy:  e.cfg.BotLogin,
		SelectedAt: time.Now().UTC(),
	})
	return e.runWorkflow(ctx, issue, true)
}

// begin reserves the single workflow slot.
func (e *Engine) begin() (func(), error) {
	if e.disposed.Load() {
		return nil, ErrEngineDisposed
	}
	if !e.inFlight.CompareAndSwap(false, true) {
		return nil, ErrWorkflowInFlight
	}
	return func() { e.inFlight.Store(false) }, nil
}

// resetForRun returns the engine to idle from the terminal states of a
// previous run. Runs end in merging or error; the reset happens at the
// start of the next cycle so those states stay observable in between.
func (e *Engine) resetForRun(ctx context.Context) {
	e.mu.Lock()
	from := e.state
	if from == StateMerging || from == StateError {
		e.state = StateIdle
		e.currentIssue = 0
		e.currentPR = nil
	}
	e.mu.Unlock()

	if from == StateMerging || from == StateError {
		e.sink.PublishState(StateUpdate{From: from, To: StateIdle, At: time.Now().UTC()})
	}
}

// runWorkflow executes analysis through delivery for an already
// selected issue. synthetic marks ad-hoc work with no platform issue.
func (e *Engine) runWorkflow(ctx context.Context, issue *events.IssueData, synthetic bool) error {
	n := issue.Number
	runID := events.NewRunID()
	log := util.Log(ctx).With("run_id", runID.String(), "issue", n)
	log.Info("workflow run starting", "title", issue.Title)

	// Analysis.
	if err := e.setState(ctx, StateAnalyzing); err != nil {
		return e.fail(ctx, n, err)
	}
	contextText, err := e.AnalyzeIssue(ctx, issue)
	if err != nil {
		return e.fail(ctx, n, err)
	}
	e.emit(n, &events.IssueAnalyzedPayload{
		IssueNumber:   n,
		ContextLength: len(contextText),
		RelatedIssues: issue.RelatedIssues,
		AnalyzedAt:    time.Now().UTC(),
	})

	// Planning.
	if err := e.setState(ctx, StatePlanning); err != nil {
		return e.fail(ctx, n, err)
	}
	planResult, err := e.agent.ExecuteTask(ctx, AgentTask{
		Stage:   "planning",
		Prompt:  planningPrompt(issue, contextText),
		WorkDir: e.cfg.WorkDir,
	}, e.progressFunc(ctx))
	if planResult != nil {
		e.stats.RecordCost(planResult.CostUSD)
	}
	if err != nil {
		return e.fail(ctx, n, &AgentError{Stage: "planning", Err: err})
	}
	if !planResult.Success {
		return e.fail(ctx, n, &AgentError{Stage: "planning", Output: planResult.ErrorMessage,
			Err: fmt.Errorf("agent reported failure: %s", planResult.ErrorMessage)})
	}
	plan, err := ParsePlan(planResult.Output, n)
	if err != nil {
		return e.fail(ctx, n, err)
	}
	e.emit(n, &events.PlanGeneratedPayload{
		Plan:        *plan,
		CostUSD:     planResult.CostUSD,
		DurationMS:  planResult.Duration.Milliseconds(),
		GeneratedAt: time.Now().UTC(),
	})
	e.logf(ctx, LogInfo, "plan generated for issue #%d (%d file changes, complexity %s)",
		n, len(plan.FileChanges), plan.Complexity)

	// Approval gate.
	if e.cfg.AutoApprove {
		e.emit(n, &events.PlanApprovedPayload{IssueNumber: n, Automatic: true, ApprovedAt: time.Now().UTC()})
	} else {
		if err := e.setState(ctx, StateAwaitingApproval); err != nil {
			return e.fail(ctx, n, err)
		}
		// Register before announcing so a listener that answers the
		// request immediately still finds the plan pending.
		ticket, err := e.gate.Register(ctx, n, *plan)
		if err != nil {
			return e.fail(ctx, n, err)
		}
		if !synthetic {
			if cerr := e.platform.AddComment(ctx, n, FormatPlanComment(plan)); cerr != nil {
				log.WithError(cerr).Warn("posting plan comment failed")
			}
		}
		e.sink.PublishApproval(ApprovalRequest{IssueNumber: n, Plan: *plan, RequestedAt: time.Now().UTC()})
		e.logf(ctx, LogInfo, "plan for issue #%d awaits approval", n)

		res, err := ticket.Wait(ctx)
		if err != nil {
			return e.fail(ctx, n, err)
		}
		switch res.Decision {
		case DecisionRejected:
			e.emit(n, &events.PlanRejectedPayload{IssueNumber: n, Feedback: res.Feedback, RejectedAt: time.Now().UTC()})
			if !synthetic && res.Feedback != "" {
				if cerr := e.platform.AddComment(ctx, n, "Plan rejected: "+res.Feedback); cerr != nil {
					log.WithError(cerr).Warn("posting rejection feedback failed")
				}
			}
			e.logf(ctx, LogInfo, "plan for issue #%d rejected", n)
			return e.endRun(ctx)
		case DecisionSkipped:
			e.emit(n, &events.IssueSkippedPayload{IssueNumber: n, Reason: res.Feedback, SkippedAt: time.Now().UTC()})
			e.logf(ctx, LogInfo, "issue #%d skipped at approval", n)
			return e.endRun(ctx)
		}
		e.emit(n, &events.PlanApprovedPayload{IssueNumber: n, Automatic: false, ApprovedAt: time.Now().UTC()})
	}

	// Implementation.
	if err := e.setState(ctx, StateImplementing); err != nil {
		return e.fail(ctx, n, err)
	}
	branch := e.branchName(issue, runID)
	if err := e.platform.CreateBranch(ctx, branch, e.cfg.BaseBranch); err != nil {
		return e.fail(ctx, n, err)
	}
	e.emit(n, &events.BranchCreatedPayload{
		IssueNumber: n,
		Branch:      branch,
		BaseBranch:  e.cfg.BaseBranch,
		CreatedAt:   time.Now().UTC(),
	})

	e.emit(n, &events.ImplementationStartedPayload{
		IssueNumber: n,
		Branch:      branch,
		FileCount:   len(plan.FileChanges),
		StartedAt:   time.Now().UTC(),
	})
	implResult, err := e.agent.ExecuteTask(ctx, AgentTask{
		Stage:   "implementation",
		Prompt:  implementationPrompt(issue, plan, branch, e.cfg.BaseBranch),
		WorkDir: e.cfg.WorkDir,
	}, e.progressFunc(ctx))
	if implResult != nil {
		e.stats.RecordCost(implResult.CostUSD)
	}
	if err != nil {
		return e.fail(ctx, n, &AgentError{Stage: "implementation", Err: err})
	}
	if !implResult.Success {
		return e.fail(ctx, n, &AgentError{Stage: "implementation", Output: implResult.ErrorMessage,
			Err: fmt.Errorf("agent reported failure: %s", implResult.ErrorMessage)})
	}
	e.emit(n, &events.ImplementationCompletedPayload{
		IssueNumber: n,
		CostUSD:     implResult.CostUSD,
		DurationMS:  implResult.Duration.Milliseconds(),
		CompletedAt: time.Now().UTC(),
	})

	// Delivery.
	if err := e.setState(ctx, StateCreatingPR); err != nil {
		return e.fail(ctx, n, err)
	}
	pr, err := e.platform.CreatePullRequest(ctx, PullRequestSpec{
		Title:      prTitle(issue),
		Body:       prBody(issue, plan, synthetic),
		Branch:     branch,
		BaseBranch: e.cfg.BaseBranch,
	})
	if err != nil {
		return e.fail(ctx, n, err)
	}
	e.mu.Lock()
	e.currentPR = pr
	e.mu.Unlock()
	e.emit(n, &events.PRCreatedPayload{IssueNumber: n, PullRequest: *pr, CreatedAt: time.Now().UTC()})
	e.logf(ctx, LogInfo, "pull request #%d opened for issue #%d", pr.Number, n)

	if err := e.setState(ctx, StateMonitoring); err != nil {
		return e.fail(ctx, n, err)
	}
	if err := e.ci.Wait(ctx, pr.Number); err != nil {
		return e.fail(ctx, n, err)
	}

	if err := e.setState(ctx, StateMerging); err != nil {
		return e.fail(ctx, n, err)
	}
	if err := e.platform.MergePullRequest(ctx, pr.Number); err != nil {
		return e.fail(ctx, n, err)
	}
	if err := e.platform.DeleteBranch(ctx, branch); err != nil {
		return e.fail(ctx, n, err)
	}
	e.emit(n, &events.PRMergedPayload{IssueNumber: n, PRNumber: pr.Number, MergedAt: time.Now().UTC()})

	if !synthetic {
		if err := e.platform.CloseIssue(ctx, n); err != nil {
			return e.fail(ctx, n, err)
		}
	}
	e.emit(n, &events.IssueClosedPayload{IssueNumber: n, ClosedAt: time.Now().UTC()})
	e.stats.RecordMerged()
	e.logf(ctx, LogInfo, "issue #%d merged and closed (PR #%d)", n, pr.Number)

	// The run ends in the merging state; the next cycle resets to idle.
	return nil
}

// endRun returns to idle after an abandoned (rejected or skipped) run.
func (e *Engine) endRun(ctx context.Context) error {
	if err := e.setState(ctx, StateIdle); err != nil {
		return e.fail(ctx, 0, err)
	}
	e.mu.Lock()
	e.currentIssue = 0
	e.mu.Unlock()
	return nil
}

// fail records the failure, routes the engine to the error state and
// surfaces the error to the caller.
func (e *Engine) fail(ctx context.Context, issueNumber int, err error) error {
	e.mu.Lock()
	from := e.state
	e.state = StateError
	e.mu.Unlock()

	e.emit(issueNumber, &events.ErrorOccurredPayload{
		IssueNumber: issueNumber,
		State:       from.String(),
		Code:        errorCode(err),
		Message:     err.Error(),
		OccurredAt:  time.Now().UTC(),
	})
	e.sink.PublishState(StateUpdate{From: from, To: StateError, IssueNumber: issueNumber, At: time.Now().UTC()})
	e.logf(ctx, LogError, "workflow run failed: %v", err)
	util.Log(ctx).WithError(err).Error("workflow run failed", "issue", issueNumber, "state", from)
	return err
}

// setState performs a validated state transition and notifies
// subscribers.
func (e *Engine) setState(ctx context.Context, to State) error {
	e.mu.Lock()
	from := e.state
	if !IsValidTransition(from, to) {
		e.mu.Unlock()
		return &EngineError{State: from, Reason: fmt.Sprintf("illegal transition to %s", to)}
	}
	e.state = to
	issue := e.currentIssue
	e.mu.Unlock()

	e.sink.PublishState(StateUpdate{From: from, To: to, IssueNumber: issue, At: time.Now().UTC()})
	util.Log(ctx).Debug("state transition", "from", from, "to", to)
	return nil
}

// emit records an event and fans it out to subscribers.
func (e *Engine) emit(issueNumber int, payload events.Payload) {
	event := e.store.Record(payload.EventType(), issueNumber, payload)
	e.sink.PublishEvent(event)
}

// logf publishes a progress message to subscribers.
func (e *Engine) logf(ctx context.Context, level LogLevel, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	e.sink.PublishLog(LogEntry{Level: level, Message: msg, At: time.Now().UTC()})
	if level == LogWarn {
		util.Log(ctx).Warn(msg)
	}
}

// progressFunc forwards agent output lines to log subscribers.
func (e *Engine) progressFunc(ctx context.Context) ProgressFunc {
	return func(line string) {
		if line == "" {
			return
		}
		e.sink.PublishLog(LogEntry{Level: LogInfo, Message: line, At: time.Now().UTC()})
	}
}

// claim marks the issue as taken: assign the bot and leave a marker
// comment a competing instance will notice.
func (e *Engine) claim(ctx context.Context, issueNumber int) error {
	if err := e.platform.AssignIssue(ctx, issueNumber, e.cfg.BotLogin); err != nil {
		return err
	}
	body := fmt.Sprintf("%s\nWorking on this issue.", claimMarker)
	return e.platform.AddComment(ctx, issueNumber, body)
}

// isEligible applies label filters and the claim check.
func (e *Engine) isEligible(issue *events.IssueData) bool {
	if len(e.cfg.IncludeLabels) > 0 {
		matched := false
		for _, l := range e.cfg.IncludeLabels {
			if issue.HasLabel(l) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	for _, l := range e.cfg.ExcludeLabels {
		if issue.HasLabel(l) {
			return false
		}
	}
	return !isClaimed(issue, e.cfg.BotLogin)
}

// isClaimed reports whether another run already took the issue.
func isClaimed(issue *events.IssueData, botLogin string) bool {
	for _, a := range issue.Assignees {
		if a == botLogin {
			return true
		}
	}
	for _, c := range issue.Comments {
		if strings.Contains(c.Body, claimMarker) {
			return true
		}
	}
	return false
}

// branchName derives the work branch for a run. Ad-hoc work has no
// issue number, so the run id disambiguates.
func (e *Engine) branchName(issue *events.IssueData, runID events.RunID) string {
	if issue.Number > 0 {
		return fmt.Sprintf("pilot/issue-%d", issue.Number)
	}
	return fmt.Sprintf("pilot/task-%s", runID.Short())
}

// synthesizeIssue wraps a free-form work description in issue form so
// the rest of the workflow needs no special casing.
func synthesizeIssue(description string) *events.IssueData {
	title := description
	if idx := strings.IndexByte(description, '\n'); idx >= 0 {
		title = description[:idx]
	}
	if len(title) > 80 {
		title = title[:80]
	}
	return &events.IssueData{
		Title:     title,
		Body:      description,
		Labels:    []string{"describe"},
		CreatedAt: time.Now().UTC(),
	}
}

var issueRefPattern = regexp.MustCompile(`#(\d+)`)

// extractRelatedIssues pulls issue references out of the issue text and
// its comments.
func extractRelatedIssues(issue *events.IssueData) []int {
	text := issue.Title + "\n" + issue.Body
	for _, c := range issue.Comments {
		text += "\n" + c.Body
	}

	seen := map[int]bool{issue.Number: true}
	var related []int
	for _, m := range issueRefPattern.FindAllStringSubmatch(text, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil || n <= 0 || seen[n] {
			continue
		}
		seen[n] = true
		related = append(related, n)
	}
	sort.Ints(related)
	return related
}
