package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antinvestor/pilot/internal/events"
)

func TestAggregateChecks(t *testing.T) {
	tests := []struct {
		name   string
		checks []events.CheckResult
		want   events.CheckStatus
	}{
		{
			name: "all passed",
			checks: []events.CheckResult{
				{Name: "unit", Status: events.CheckPassed},
				{Name: "lint", Status: events.CheckPassed},
			},
			want: events.CheckPassed,
		},
		{
			name: "any failure wins",
			checks: []events.CheckResult{
				{Name: "unit", Status: events.CheckPassed},
				{Name: "lint", Status: events.CheckFailed},
				{Name: "e2e", Status: events.CheckPending},
			},
			want: events.CheckFailed,
		},
		{
			name: "pending holds the verdict open",
			checks: []events.CheckResult{
				{Name: "unit", Status: events.CheckPassed},
				{Name: "e2e", Status: events.CheckPending},
			},
			want: events.CheckPending,
		},
		{
			name:   "no checks configured passes",
			checks: nil,
			want:   events.CheckPassed,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, AggregateChecks(tc.checks))
		})
	}
}

func TestCIObserver_WaitsOutPendingChecks(t *testing.T) {
	platform := newMockPlatform()
	platform.checksFn = func(call int) []events.CheckResult {
		if call < 3 {
			return []events.CheckResult{{Name: "unit", Status: events.CheckPending}}
		}
		return []events.CheckResult{{Name: "unit", Status: events.CheckPassed}}
	}

	observer := NewCIObserver(platform, time.Millisecond, time.Second)
	require.NoError(t, observer.Wait(context.Background(), 1))
	assert.GreaterOrEqual(t, platform.ciCalls, 3)
}

func TestCIObserver_FailureIsImmediate(t *testing.T) {
	platform := newMockPlatform()
	platform.checks = []events.CheckResult{
		{Name: "unit", Status: events.CheckPassed},
		{Name: "lint", Status: events.CheckFailed},
	}

	observer := NewCIObserver(platform, time.Millisecond, time.Second)
	err := observer.Wait(context.Background(), 9)

	var ciErr *CIError
	require.True(t, errors.As(err, &ciErr))
	assert.Equal(t, 9, ciErr.PRNumber)
	assert.Equal(t, []string{"lint"}, ciErr.Failed)
	assert.Equal(t, 1, platform.ciCalls)
}

func TestCIObserver_TimeoutIsBounded(t *testing.T) {
	platform := newMockPlatform()
	platform.checks = []events.CheckResult{{Name: "e2e", Status: events.CheckPending}}

	timeout := 30 * time.Millisecond
	interval := 5 * time.Millisecond
	observer := NewCIObserver(platform, interval, timeout)

	start := time.Now()
	err := observer.Wait(context.Background(), 1)
	elapsed := time.Since(start)

	var timeoutErr *TimeoutError
	require.True(t, errors.As(err, &timeoutErr))
	assert.Equal(t, timeout, timeoutErr.Limit)

	// The watch must end within one extra poll interval past the limit.
	assert.Less(t, elapsed, timeout+interval+50*time.Millisecond)
}

func TestCIObserver_ContextCancellation(t *testing.T) {
	platform := newMockPlatform()
	platform.checks = []events.CheckResult{{Name: "e2e", Status: events.CheckPending}}

	ctx, cancel := context.WithCancel(context.Background())
	observer := NewCIObserver(platform, 10*time.Millisecond, time.Hour)

	done := make(chan error, 1)
	go func() { done <- observer.Wait(ctx, 1) }()

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
