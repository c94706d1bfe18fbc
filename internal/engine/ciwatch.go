package engine

import (
	"context"
	"time"

	"github.com/antinvestor/pilot/internal/events"
)

// CIObserver polls the git platform for the CI verdict on a pull
// request. It decides pass or fail; it never retries failed checks.
type CIObserver struct {
	platform GitPlatform
	interval time.Duration
	timeout  time.Duration
}

// NewCIObserver creates an observer polling every interval and giving
// up after timeout. A timed-out watch is a workflow failure.
func NewCIObserver(platform GitPlatform, interval, timeout time.Duration) *CIObserver {
	return &CIObserver{
		platform: platform,
		interval: interval,
		timeout:  timeout,
	}
}

// AggregateChecks reduces individual check results to a single verdict.
// Any failure fails the set; otherwise any pending check keeps the set
// pending. A repository with no checks configured passes immediately.
func AggregateChecks(checks []events.CheckResult) events.CheckStatus {
	verdict := events.CheckPassed
	for _, c := range checks {
		switch c.Status {
		case events.CheckFailed:
			return events.CheckFailed
		case events.CheckPending:
			verdict = events.CheckPending
		}
	}
	return verdict
}

// Wait blocks until CI on the pull request passes, fails, times out or
// ctx is cancelled. Only a pass returns nil.
func (o *CIObserver) Wait(ctx context.Context, prNumber int) error {
	deadline := time.Now().Add(o.timeout)
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	for {
		checks, err := o.platform.CIStatus(ctx, prNumber)
		if err != nil {
			return err
		}

		switch AggregateChecks(checks) {
		case events.CheckPassed:
			return nil
		case events.CheckFailed:
			return &CIError{PRNumber: prNumber, Failed: failedCheckNames(checks)}
		}

		if time.Now().After(deadline) {
			return &TimeoutError{Op: "ci watch", Limit: o.timeout}
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func failedCheckNames(checks []events.CheckResult) []string {
	var names []string
	for _, c := range checks {
		if c.Status == events.CheckFailed {
			names = append(names, c.Name)
		}
	}
	return names
}
