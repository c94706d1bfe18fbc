// Package platform decorates git-platform capabilities with the retry
// behavior the workflow engine relies on: transient failures (rate
// limits, 5xx responses, network blips) are absorbed here with
// exponential backoff, so the engine only ever sees final errors.
package platform

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pitabwire/util"

	"github.com/antinvestor/pilot/internal/engine"
	"github.com/antinvestor/pilot/internal/events"
)

// RetryConfig tunes the backoff schedule.
type RetryConfig struct {
	// InitialInterval is the first retry delay.
	InitialInterval time.Duration

	// MaxInterval caps the delay between attempts.
	MaxInterval time.Duration

	// MaxElapsed bounds the total time spent retrying one call.
	MaxElapsed time.Duration
}

// DefaultRetryConfig is tuned for interactive use: quick first retry,
// giving up within a couple of minutes.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     30 * time.Second,
		MaxElapsed:      2 * time.Minute,
	}
}

// retrying wraps a raw GitPlatform and retries transient failures.
type retrying struct {
	inner engine.GitPlatform
	cfg   RetryConfig
}

// WithRetry decorates a platform so transient errors are retried with
// exponential backoff before being surfaced. Permanent errors
// (authorization, validation, not-found) pass through on the first
// attempt.
func WithRetry(inner engine.GitPlatform, cfg RetryConfig) engine.GitPlatform {
	if cfg.InitialInterval <= 0 {
		cfg = DefaultRetryConfig()
	}
	return &retrying{inner: inner, cfg: cfg}
}

func (r *retrying) newBackoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.InitialInterval
	b.MaxInterval = r.cfg.MaxInterval
	b.MaxElapsedTime = r.cfg.MaxElapsed
	return backoff.WithContext(b, ctx)
}

// call retries op while it fails transiently.
func (r *retrying) call(ctx context.Context, name string, op func() error) error {
	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		if !engine.IsRetryablePlatformError(err) {
			return backoff.Permanent(err)
		}
		util.Log(ctx).WithError(err).Warn("transient platform failure, retrying",
			"op", name, "attempt", attempt)
		return err
	}, r.newBackoff(ctx))
}

func retryValue[T any](ctx context.Context, r *retrying, name string, op func() (T, error)) (T, error) {
	var out T
	err := r.call(ctx, name, func() error {
		var opErr error
		out, opErr = op()
		return opErr
	})
	return out, err
}

func (r *retrying) ListOpenIssues(ctx context.Context) ([]events.IssueData, error) {
	return retryValue(ctx, r, "list issues", func() ([]events.IssueData, error) {
		return r.inner.ListOpenIssues(ctx)
	})
}

func (r *retrying) GetIssue(ctx context.Context, number int) (*events.IssueData, error) {
	return retryValue(ctx, r, "get issue", func() (*events.IssueData, error) {
		return r.inner.GetIssue(ctx, number)
	})
}

func (r *retrying) AddComment(ctx context.Context, issueNumber int, body string) error {
	return r.call(ctx, "add comment", func() error {
		return r.inner.AddComment(ctx, issueNumber, body)
	})
}

func (r *retrying) AssignIssue(ctx context.Context, issueNumber int, login string) error {
	return r.call(ctx, "assign issue", func() error {
		return r.inner.AssignIssue(ctx, issueNumber, login)
	})
}

func (r *retrying) CloseIssue(ctx context.Context, issueNumber int) error {
	return r.call(ctx, "close issue", func() error {
		return r.inner.CloseIssue(ctx, issueNumber)
	})
}

func (r *retrying) CreateBranch(ctx context.Context, name, base string) error {
	return r.call(ctx, "create branch", func() error {
		return r.inner.CreateBranch(ctx, name, base)
	})
}

func (r *retrying) DeleteBranch(ctx context.Context, name string) error {
	return r.call(ctx, "delete branch", func() error {
		return r.inner.DeleteBranch(ctx, name)
	})
}

func (r *retrying) CreatePullRequest(ctx context.Context, spec engine.PullRequestSpec) (*events.PullRequestInfo, error) {
	return retryValue(ctx, r, "create pr", func() (*events.PullRequestInfo, error) {
		return r.inner.CreatePullRequest(ctx, spec)
	})
}

func (r *retrying) GetPullRequest(ctx context.Context, number int) (*events.PullRequestInfo, error) {
	return retryValue(ctx, r, "get pr", func() (*events.PullRequestInfo, error) {
		return r.inner.GetPullRequest(ctx, number)
	})
}

func (r *retrying) MergePullRequest(ctx context.Context, number int) error {
	return r.call(ctx, "merge pr", func() error {
		return r.inner.MergePullRequest(ctx, number)
	})
}

func (r *retrying) CIStatus(ctx context.Context, prNumber int) ([]events.CheckResult, error) {
	return retryValue(ctx, r, "ci status", func() ([]events.CheckResult, error) {
		return r.inner.CIStatus(ctx, prNumber)
	})
}

func (r *retrying) ListCommits(ctx context.Context, branch string) ([]string, error) {
	return retryValue(ctx, r, "list commits", func() ([]string, error) {
		return r.inner.ListCommits(ctx, branch)
	})
}
