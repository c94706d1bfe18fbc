package engine

import (
	"sync"
	"time"
)

// Stats is a point-in-time snapshot of engine session counters.
type Stats struct {
	// IssuesProcessed counts issues taken all the way to a merged PR.
	IssuesProcessed int `json:"issues_processed"`

	// TotalCostUSD is the accumulated agent spend for the session,
	// including failed and abandoned runs.
	TotalCostUSD float64 `json:"total_cost_usd"`

	// StartedAt is when the session began.
	StartedAt time.Time `json:"started_at"`
}

// statsTracker accumulates session counters. Costs accrue on every
// agent invocation regardless of how the run ends.
type statsTracker struct {
	mu        sync.Mutex
	processed int
	costUSD   float64
	startedAt time.Time
}

func newStatsTracker() *statsTracker {
	return &statsTracker{startedAt: time.Now().UTC()}
}

// RecordCost adds agent spend to the session total.
func (t *statsTracker) RecordCost(usd float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.costUSD += usd
}

// RecordMerged counts one issue processed to completion.
func (t *statsTracker) RecordMerged() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.processed++
}

// Snapshot returns the current counters.
func (t *statsTracker) Snapshot() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Stats{
		IssuesProcessed: t.processed,
		TotalCostUSD:    t.costUSD,
		StartedAt:       t.startedAt,
	}
}
