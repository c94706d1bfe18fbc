package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antinvestor/pilot/internal/events"
)

func testIssue(number int, labels ...string) events.IssueData {
	return events.IssueData{
		Number:    number,
		Title:     "flaky retry handling",
		Body:      "The fetcher gives up on the first 429.",
		Labels:    labels,
		URL:       "https://example.test/issues/1",
		CreatedAt: time.Now().UTC(),
	}
}

func testConfig() Config {
	return Config{
		BotLogin:       "pilot[bot]",
		BaseBranch:     "main",
		AutoApprove:    true,
		CIPollInterval: time.Millisecond,
		CITimeout:      time.Second,
	}
}

func eventTypes(list []events.Event) []events.EventType {
	out := make([]events.EventType, len(list))
	for i, e := range list {
		out[i] = e.Type
	}
	return out
}

func TestProcessOneIssue_HappyPath(t *testing.T) {
	platform := newMockPlatform(testIssue(7))
	agent := newMockAgent(planResult(7, 0.30), implResult(1.20))
	sink := &recordingSink{}

	eng, err := New(testConfig(), platform, agent, nil, sink)
	require.NoError(t, err)

	require.NoError(t, eng.ProcessOneIssue(context.Background()))

	// Exactly this event sequence, nothing more.
	assert.Equal(t, []events.EventType{
		events.IssueSelected,
		events.IssueAnalyzed,
		events.PlanGenerated,
		events.PlanApproved,
		events.BranchCreated,
		events.ImplementationStarted,
		events.ImplementationCompleted,
		events.PRCreated,
		events.PRMerged,
		events.IssueClosed,
	}, eventTypes(eng.Events().Events()))

	assert.Equal(t, StateMerging, eng.State())
	assert.Equal(t, 2, agent.callCount())

	assert.Equal(t, []string{"pilot/issue-7"}, platform.createdBranches)
	assert.Equal(t, []string{"pilot/issue-7"}, platform.deletedBranches)
	assert.Equal(t, []int{101}, platform.mergedPRs)
	assert.Equal(t, []int{7}, platform.closedIssues)
	assert.Equal(t, "pilot[bot]", platform.assigned[7])
	require.NotEmpty(t, platform.comments[7])
	assert.Contains(t, platform.comments[7][0], claimMarker)

	stats := eng.Stats()
	assert.Equal(t, 1, stats.IssuesProcessed)
	assert.InDelta(t, 1.50, stats.TotalCostUSD, 1e-9)

	pr := eng.CurrentPR()
	require.NotNil(t, pr)
	assert.Equal(t, 101, pr.Number)
	assert.Contains(t, pr.Title, "#7")

	// Subscribers saw every event the store recorded.
	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Len(t, sink.events, 10)
}

func TestProcessOneIssue_NoEligibleIssue(t *testing.T) {
	platform := newMockPlatform()
	agent := newMockAgent()
	eng, err := New(testConfig(), platform, agent, nil, nil)
	require.NoError(t, err)

	require.NoError(t, eng.ProcessOneIssue(context.Background()))

	assert.Equal(t, StateIdle, eng.State())
	assert.Zero(t, eng.Events().Len())
	assert.Zero(t, agent.callCount())
}

func TestSelectIssue_SkipsClaimedAndPicksOldest(t *testing.T) {
	claimed := testIssue(3)
	claimed.Comments = []events.IssueComment{{Author: "pilot[bot]", Body: claimMarker + "\nWorking on this issue."}}

	platform := newMockPlatform(claimed, testIssue(9), testIssue(5))
	eng, err := New(testConfig(), platform, newMockAgent(), nil, nil)
	require.NoError(t, err)

	issue, err := eng.SelectIssue(context.Background())
	require.NoError(t, err)
	require.NotNil(t, issue)
	assert.Equal(t, 5, issue.Number)
}

func TestSelectIssue_LabelFilters(t *testing.T) {
	platform := newMockPlatform(
		testIssue(1, "wontfix", "auto"),
		testIssue(2, "auto"),
		testIssue(3),
	)
	cfg := testConfig()
	cfg.IncludeLabels = []string{"auto"}
	cfg.ExcludeLabels = []string{"wontfix"}

	eng, err := New(cfg, platform, newMockAgent(), nil, nil)
	require.NoError(t, err)

	issue, err := eng.SelectIssue(context.Background())
	require.NoError(t, err)
	require.NotNil(t, issue)
	assert.Equal(t, 2, issue.Number)
}

func TestSelectIssue_AssignedToBotIsClaimed(t *testing.T) {
	taken := testIssue(4)
	taken.Assignees = []string{"pilot[bot]"}

	platform := newMockPlatform(taken)
	eng, err := New(testConfig(), platform, newMockAgent(), nil, nil)
	require.NoError(t, err)

	issue, err := eng.SelectIssue(context.Background())
	require.NoError(t, err)
	assert.Nil(t, issue)
	assert.Equal(t, StateIdle, eng.State())
}

func TestManualApproval_Approve(t *testing.T) {
	platform := newMockPlatform(testIssue(7))
	agent := newMockAgent(planResult(7, 0.10), implResult(0.90))
	sink := &recordingSink{}

	cfg := testConfig()
	cfg.AutoApprove = false
	eng, err := New(cfg, platform, agent, nil, sink)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- eng.ProcessOneIssue(context.Background()) }()

	require.Eventually(t, func() bool {
		_, ok := eng.PendingApproval()
		return ok
	}, 2*time.Second, time.Millisecond)

	pending, ok := eng.PendingApproval()
	require.True(t, ok)
	assert.Equal(t, 7, pending.IssueNumber)
	assert.Equal(t, "fix the bug", pending.Plan.Summary)

	assert.True(t, eng.Approve())
	require.NoError(t, <-done)

	assert.Equal(t, StateMerging, eng.State())

	approved, ok := eng.Events().LastOfType(events.PlanApproved)
	require.True(t, ok)
	payload := approved.Payload.(*events.PlanApprovedPayload)
	assert.False(t, payload.Automatic)

	sink.mu.Lock()
	approvals := len(sink.approvals)
	sink.mu.Unlock()
	assert.Equal(t, 1, approvals)

	// The plan itself lands on the issue for reviewers to read.
	var planComment bool
	for _, c := range platform.comments[7] {
		if strings.Contains(c, "## Development Plan") {
			planComment = true
		}
	}
	assert.True(t, planComment, "plan comment missing from issue")
}

// decideOnRequestSink answers the approval request from inside the
// notification callback, the way an auto-approve front-end would.
type decideOnRequestSink struct {
	recordingSink
	eng      *Engine
	resolved chan bool
}

func (s *decideOnRequestSink) PublishApproval(r ApprovalRequest) {
	s.recordingSink.PublishApproval(r)
	s.resolved <- s.eng.Approve()
}

func TestManualApproval_DecisionAtRequestTimeIsNotLost(t *testing.T) {
	platform := newMockPlatform(testIssue(7))
	agent := newMockAgent(planResult(7, 0.10), implResult(0.90))
	sink := &decideOnRequestSink{resolved: make(chan bool, 1)}

	cfg := testConfig()
	cfg.AutoApprove = false
	eng, err := New(cfg, platform, agent, nil, sink)
	require.NoError(t, err)
	sink.eng = eng

	require.NoError(t, eng.ProcessOneIssue(context.Background()))

	assert.True(t, <-sink.resolved, "plan must already be pending when the request is published")
	assert.Equal(t, StateMerging, eng.State())
	assert.Equal(t, []int{101}, platform.mergedPRs)
}

func TestManualApproval_RejectAbortsRun(t *testing.T) {
	platform := newMockPlatform(testIssue(7))
	agent := newMockAgent(planResult(7, 0.10))

	cfg := testConfig()
	cfg.AutoApprove = false
	eng, err := New(cfg, platform, agent, nil, nil)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- eng.ProcessOneIssue(context.Background()) }()

	require.Eventually(t, func() bool {
		_, ok := eng.PendingApproval()
		return ok
	}, 2*time.Second, time.Millisecond)

	assert.True(t, eng.Reject("wrong file, the bug is in the client"))
	require.NoError(t, <-done)

	assert.Equal(t, StateIdle, eng.State())
	assert.Empty(t, platform.createdBranches)
	assert.Equal(t, 1, agent.callCount())

	rejected, ok := eng.Events().LastOfType(events.PlanRejected)
	require.True(t, ok)
	assert.Equal(t, "wrong file, the bug is in the client",
		rejected.Payload.(*events.PlanRejectedPayload).Feedback)

	// Feedback lands on the issue for the next attempt to read.
	var found bool
	for _, c := range platform.comments[7] {
		if c == "Plan rejected: wrong file, the bug is in the client" {
			found = true
		}
	}
	assert.True(t, found, "rejection feedback comment missing")
}

func TestManualApproval_SkipAbandonsIssue(t *testing.T) {
	platform := newMockPlatform(testIssue(7))
	agent := newMockAgent(planResult(7, 0.10))

	cfg := testConfig()
	cfg.AutoApprove = false
	eng, err := New(cfg, platform, agent, nil, nil)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- eng.ProcessOneIssue(context.Background()) }()

	require.Eventually(t, func() bool {
		_, ok := eng.PendingApproval()
		return ok
	}, 2*time.Second, time.Millisecond)

	assert.True(t, eng.Skip("not now"))
	require.NoError(t, <-done)

	assert.Equal(t, StateIdle, eng.State())
	skipped, ok := eng.Events().LastOfType(events.IssueSkipped)
	require.True(t, ok)
	assert.Equal(t, "not now", skipped.Payload.(*events.IssueSkippedPayload).Reason)
}

func TestApproval_NoOpWhenNothingPending(t *testing.T) {
	eng, err := New(testConfig(), newMockPlatform(), newMockAgent(), nil, nil)
	require.NoError(t, err)

	assert.False(t, eng.Approve())
	assert.False(t, eng.Reject("nope"))
	assert.False(t, eng.Skip(""))
}

func TestMalformedPlanRoutesToError(t *testing.T) {
	platform := newMockPlatform(testIssue(7))
	agent := newMockAgent(&events.AgentTaskResult{
		Success: true,
		Output:  "I could not come up with a plan, sorry.",
		CostUSD: 0.05,
	})

	eng, err := New(testConfig(), platform, agent, nil, nil)
	require.NoError(t, err)

	err = eng.ProcessOneIssue(context.Background())
	require.Error(t, err)

	var agentErr *AgentError
	assert.True(t, errors.As(err, &agentErr))
	assert.Equal(t, StateError, eng.State())

	last, ok := eng.Events().LastOfType(events.ErrorOccurred)
	require.True(t, ok)
	payload := last.Payload.(*events.ErrorOccurredPayload)
	assert.Equal(t, "agent_failure", payload.Code)
	assert.Equal(t, StatePlanning.String(), payload.State)

	// Spend happened before the failure and still counts.
	assert.InDelta(t, 0.05, eng.Stats().TotalCostUSD, 1e-9)
	assert.Zero(t, eng.Stats().IssuesProcessed)
}

func TestCIFailureRoutesToError(t *testing.T) {
	platform := newMockPlatform(testIssue(7))
	platform.checks = []events.CheckResult{{Name: "unit", Status: events.CheckFailed}}
	agent := newMockAgent(planResult(7, 0.10), implResult(0.50))

	eng, err := New(testConfig(), platform, agent, nil, nil)
	require.NoError(t, err)

	err = eng.ProcessOneIssue(context.Background())
	require.Error(t, err)

	var ciErr *CIError
	assert.True(t, errors.As(err, &ciErr))
	assert.Equal(t, StateError, eng.State())
	assert.Empty(t, platform.mergedPRs)

	last, ok := eng.Events().LastOfType(events.ErrorOccurred)
	require.True(t, ok)
	assert.Equal(t, "ci_failure", last.Payload.(*events.ErrorOccurredPayload).Code)
}

func TestConcurrentRunIsRefused(t *testing.T) {
	platform := newMockPlatform(testIssue(7))
	agent := newMockAgent(planResult(7, 0.10), implResult(0.50))
	agent.blockOn = make(chan struct{})

	eng, err := New(testConfig(), platform, agent, nil, nil)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- eng.ProcessOneIssue(context.Background()) }()

	require.Eventually(t, func() bool {
		return agent.callCount() == 1
	}, 2*time.Second, time.Millisecond)

	assert.ErrorIs(t, eng.ProcessOneIssue(context.Background()), ErrWorkflowInFlight)

	close(agent.blockOn)
	require.NoError(t, <-done)
}

func TestErrorStateRecoversOnNextRun(t *testing.T) {
	platform := newMockPlatform(testIssue(7))
	agent := newMockAgent(
		&events.AgentTaskResult{Success: false, ErrorMessage: "rate limited upstream"},
		planResult(7, 0.10),
		implResult(0.50),
	)

	eng, err := New(testConfig(), platform, agent, nil, nil)
	require.NoError(t, err)

	require.Error(t, eng.ProcessOneIssue(context.Background()))
	assert.Equal(t, StateError, eng.State())

	// The claim comment from the failed run would normally block
	// reselection; clear it the way a human unclaiming would.
	platform.mu.Lock()
	platform.comments[7] = nil
	platform.assigned = map[int]string{}
	platform.mu.Unlock()

	require.NoError(t, eng.ProcessOneIssue(context.Background()))
	assert.Equal(t, StateMerging, eng.State())
	assert.Equal(t, 1, eng.Stats().IssuesProcessed)
}

func TestProcessIssueNumber_BypassesFilters(t *testing.T) {
	platform := newMockPlatform(testIssue(42, "wontfix"))
	agent := newMockAgent(planResult(42, 0.10), implResult(0.50))

	cfg := testConfig()
	cfg.ExcludeLabels = []string{"wontfix"}
	eng, err := New(cfg, platform, agent, nil, nil)
	require.NoError(t, err)

	require.NoError(t, eng.ProcessIssueNumber(context.Background(), 42))
	assert.Equal(t, StateMerging, eng.State())
	assert.Equal(t, []int{42}, platform.closedIssues)
}

func TestProcessIssueNumber_UnknownIssue(t *testing.T) {
	eng, err := New(testConfig(), newMockPlatform(), newMockAgent(), nil, nil)
	require.NoError(t, err)

	err = eng.ProcessIssueNumber(context.Background(), 99)
	require.Error(t, err)

	var platformErr *PlatformError
	require.True(t, errors.As(err, &platformErr))
	assert.Equal(t, PlatformNotFound, platformErr.Code)
	assert.Equal(t, StateError, eng.State())
}

func TestProcessDescription_NoPlatformIssueTouched(t *testing.T) {
	platform := newMockPlatform()
	agent := newMockAgent(planResult(0, 0.10), implResult(0.50))

	eng, err := New(testConfig(), platform, agent, nil, nil)
	require.NoError(t, err)

	require.NoError(t, eng.ProcessDescription(context.Background(), "Add a --version flag\nPrint build info."))

	assert.Equal(t, StateMerging, eng.State())
	assert.Empty(t, platform.closedIssues)
	assert.Empty(t, platform.assigned)
	require.Len(t, platform.createdPRs, 1)
	assert.Equal(t, "Add a --version flag", platform.createdPRs[0].Title)
	assert.NotContains(t, platform.createdPRs[0].Body, "Closes #")

	selected, ok := eng.Events().LastOfType(events.IssueSelected)
	require.True(t, ok)
	assert.Zero(t, selected.IssueNumber)
	assert.Contains(t, selected.Payload.(*events.IssueSelectedPayload).Issue.Labels, "describe")
}

func TestProcessDescription_EmptyDescription(t *testing.T) {
	eng, err := New(testConfig(), newMockPlatform(), newMockAgent(), nil, nil)
	require.NoError(t, err)

	err = eng.ProcessDescription(context.Background(), "")
	var cfgErr *ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
}

func TestDispose_IdempotentAndRefusesRuns(t *testing.T) {
	agent := newMockAgent()
	eng, err := New(testConfig(), newMockPlatform(), agent, nil, nil)
	require.NoError(t, err)

	require.NoError(t, eng.Dispose())
	require.NoError(t, eng.Dispose())
	assert.Equal(t, 1, agent.disposed)

	assert.ErrorIs(t, eng.ProcessOneIssue(context.Background()), ErrEngineDisposed)
	assert.ErrorIs(t, eng.Initialize(context.Background()), ErrEngineDisposed)
}

func TestExtractRelatedIssues(t *testing.T) {
	issue := events.IssueData{
		Number: 10,
		Title:  "follow-up to #9",
		Body:   "see #12 and #9, also #10 itself",
		Comments: []events.IssueComment{
			{Author: "dev", Body: "duplicate of #3?"},
		},
	}
	assert.Equal(t, []int{3, 9, 12}, extractRelatedIssues(&issue))
}

func TestStateSequence_HappyPath(t *testing.T) {
	platform := newMockPlatform(testIssue(7))
	agent := newMockAgent(planResult(7, 0.10), implResult(0.50))
	sink := &recordingSink{}

	eng, err := New(testConfig(), platform, agent, nil, sink)
	require.NoError(t, err)
	require.NoError(t, eng.ProcessOneIssue(context.Background()))

	assert.Equal(t, []State{
		StateSelectingIssue,
		StateAnalyzing,
		StatePlanning,
		StateImplementing,
		StateCreatingPR,
		StateMonitoring,
		StateMerging,
	}, sink.stateSequence())
}
