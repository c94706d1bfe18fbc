package engine

import (
	"context"
	"sync"
	"time"

	"github.com/antinvestor/pilot/internal/events"
)

// Decision is a human (or timeout) verdict on a pending plan.
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
	DecisionSkipped  Decision = "skipped"
)

// Resolution is the outcome of an approval wait.
type Resolution struct {
	Decision Decision
	Feedback string
}

// PendingApproval describes the plan currently awaiting a decision.
type PendingApproval struct {
	IssueNumber int
	Plan        events.DevelopmentPlan
	RequestedAt time.Time

	ch chan Resolution
}

// Gate blocks a workflow run until its plan is approved, rejected or
// skipped. At most one approval is pending at a time; a second run
// reaching the gate queues behind the first. Decisions delivered while
// nothing is pending are reported as no-ops so the caller can
// acknowledge them without failing.
type Gate struct {
	mu      sync.Mutex
	pending *PendingApproval

	// slot serializes waiters: a run must hold the slot to register a
	// pending approval.
	slot chan struct{}

	// timeout resolves an unanswered approval as a skip. Zero waits
	// forever.
	timeout time.Duration
}

// NewGate creates a gate. timeout of zero means decisions are awaited
// indefinitely.
func NewGate(timeout time.Duration) *Gate {
	g := &Gate{
		slot:    make(chan struct{}, 1),
		timeout: timeout,
	}
	g.slot <- struct{}{}
	return g
}

// Ticket is a registered pending approval. The plan is resolvable from
// the moment Register returns, so callers can announce it to listeners
// before blocking on Wait without a decision slipping through the gap.
type Ticket struct {
	g *Gate
	p *PendingApproval
}

// Register claims the gate and records the plan as pending, blocking
// while an earlier approval is still unresolved. The returned ticket
// must be waited on exactly once.
func (g *Gate) Register(ctx context.Context, issueNumber int, plan events.DevelopmentPlan) (*Ticket, error) {
	select {
	case <-g.slot:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	p := &PendingApproval{
		IssueNumber: issueNumber,
		Plan:        plan,
		RequestedAt: time.Now().UTC(),
		ch:          make(chan Resolution, 1),
	}
	g.mu.Lock()
	g.pending = p
	g.mu.Unlock()

	return &Ticket{g: g, p: p}, nil
}

// Wait blocks until a decision arrives, the gate timeout elapses
// (resolved as a skip), or ctx is cancelled. It clears the pending
// approval and releases the gate for the next waiter on return.
func (t *Ticket) Wait(ctx context.Context) (Resolution, error) {
	defer func() {
		t.g.mu.Lock()
		if t.g.pending == t.p {
			t.g.pending = nil
		}
		t.g.mu.Unlock()
		t.g.slot <- struct{}{}
	}()

	var timeoutC <-chan time.Time
	if t.g.timeout > 0 {
		timer := time.NewTimer(t.g.timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	select {
	case res := <-t.p.ch:
		return res, nil
	case <-timeoutC:
		return Resolution{Decision: DecisionSkipped, Feedback: "approval timed out"}, nil
	case <-ctx.Done():
		return Resolution{}, ctx.Err()
	}
}

// Await registers the plan as pending and blocks until a decision
// arrives, the gate timeout elapses (resolved as a skip), or ctx is
// cancelled.
func (g *Gate) Await(ctx context.Context, issueNumber int, plan events.DevelopmentPlan) (Resolution, error) {
	ticket, err := g.Register(ctx, issueNumber, plan)
	if err != nil {
		return Resolution{}, err
	}
	return ticket.Wait(ctx)
}

// Resolve delivers a decision for the pending approval. It returns
// false when nothing is pending, which callers treat as a successful
// no-op.
func (g *Gate) Resolve(res Resolution) bool {
	g.mu.Lock()
	p := g.pending
	g.pending = nil
	g.mu.Unlock()

	if p == nil {
		return false
	}
	p.ch <- res
	return true
}

// Pending returns a snapshot of the approval currently awaiting a
// decision, if any.
func (g *Gate) Pending() (PendingApproval, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.pending == nil {
		return PendingApproval{}, false
	}
	return PendingApproval{
		IssueNumber: g.pending.IssueNumber,
		Plan:        g.pending.Plan,
		RequestedAt: g.pending.RequestedAt,
	}, true
}
