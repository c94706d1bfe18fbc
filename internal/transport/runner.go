package transport

import (
	"context"
	"errors"
	"time"

	"github.com/pitabwire/util"

	"github.com/antinvestor/pilot/internal/engine"
	"github.com/antinvestor/pilot/internal/events"
)

// Status is a point-in-time snapshot of the whole system, served over
// both deployments.
type Status struct {
	State        engine.State            `json:"state"`
	Running      bool                    `json:"running"`
	Paused       bool                    `json:"paused"`
	CurrentIssue int                     `json:"current_issue,omitempty"`
	CurrentPR    *events.PullRequestInfo `json:"current_pr,omitempty"`
	Stats        engine.Stats            `json:"stats"`
	EventCount   int                     `json:"event_count"`

	// PendingApproval is set while a plan awaits a decision.
	PendingApproval *PendingApprovalStatus `json:"pending_approval,omitempty"`
}

// PendingApprovalStatus summarizes the plan awaiting a decision.
type PendingApprovalStatus struct {
	IssueNumber int                    `json:"issue_number"`
	Plan        events.DevelopmentPlan `json:"plan"`
	RequestedAt time.Time              `json:"requested_at"`
}

// Runner binds an engine and its poller to the command vocabulary.
// Both deployments apply commands through one Runner, so command
// semantics cannot drift between them.
type Runner struct {
	engine *engine.Engine
	poller *engine.Poller

	// runCtx outlives individual requests; workflow runs triggered by a
	// command keep going after the command's own context ends.
	runCtx context.Context
}

// NewRunner creates a runner. runCtx bounds the lifetime of workflow
// runs the runner launches.
func NewRunner(runCtx context.Context, eng *engine.Engine, poller *engine.Poller) *Runner {
	return &Runner{
		engine: eng,
		poller: poller,
		runCtx: runCtx,
	}
}

// Engine exposes the underlying engine.
func (r *Runner) Engine() *engine.Engine {
	return r.engine
}

// Apply executes one command and acknowledges it. Expected refusals
// (nothing pending to approve, already stopped) acknowledge OK; only a
// command that cannot be applied produces an error ack.
func (r *Runner) Apply(ctx context.Context, cmd Command) Ack {
	if err := cmd.Validate(); err != nil {
		return Ack{OK: false, Error: err.Error()}
	}

	log := util.Log(ctx).With("command", string(cmd.Kind))

	switch cmd.Kind {
	case CommandStart:
		r.poller.Start(r.runCtx, cmd.Once)
	case CommandStop:
		r.poller.Stop()
	case CommandPause:
		r.poller.Pause()
	case CommandResume:
		r.poller.Resume()
	case CommandApprove:
		if !r.engine.Approve() {
			log.Info("nothing pending to approve")
		}
	case CommandReject:
		if !r.engine.Reject(cmd.Feedback) {
			log.Info("nothing pending to reject")
		}
	case CommandSkip:
		if !r.engine.Skip(cmd.Feedback) {
			log.Info("nothing pending to skip")
		}
	case CommandProcessIssue:
		r.launch(func(ctx context.Context) error {
			return r.engine.ProcessIssueNumber(ctx, cmd.IssueNumber)
		})
	case CommandDescribeWork:
		r.launch(func(ctx context.Context) error {
			return r.engine.ProcessDescription(ctx, cmd.Description)
		})
	}
	return Ack{OK: true}
}

// launch runs a workflow in the background; the ack only confirms
// acceptance. Refusals and failures surface through the update streams
// and the structured log.
func (r *Runner) launch(run func(context.Context) error) {
	go func() {
		err := run(r.runCtx)
		switch {
		case err == nil:
		case errors.Is(err, engine.ErrWorkflowInFlight):
			util.Log(r.runCtx).Warn("run refused, another workflow is in flight")
		default:
			util.Log(r.runCtx).WithError(err).Error("triggered workflow run failed")
		}
	}()
}

// Status snapshots the system.
func (r *Runner) Status() Status {
	st := Status{
		State:        r.engine.State(),
		Running:      r.poller.Running(),
		Paused:       r.poller.Paused(),
		CurrentIssue: r.engine.CurrentIssue(),
		CurrentPR:    r.engine.CurrentPR(),
		Stats:        r.engine.Stats(),
		EventCount:   r.engine.Events().Len(),
	}
	if pending, ok := r.engine.PendingApproval(); ok {
		st.PendingApproval = &PendingApprovalStatus{
			IssueNumber: pending.IssueNumber,
			Plan:        pending.Plan,
			RequestedAt: pending.RequestedAt,
		}
	}
	return st
}
