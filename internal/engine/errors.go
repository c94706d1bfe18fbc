package engine

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Common engine errors.
var (
	// ErrWorkflowInFlight is returned when ProcessOneIssue is invoked
	// while another workflow run is still executing on the same engine.
	ErrWorkflowInFlight = errors.New("a workflow run is already in flight")

	// ErrEngineDisposed is returned when an operation is attempted on a
	// disposed engine.
	ErrEngineDisposed = errors.New("engine is disposed")
)

// PlatformErrorCode classifies a git-platform failure. The code decides
// whether the failure is retried at the collaborator boundary.
type PlatformErrorCode string

const (
	PlatformRateLimited  PlatformErrorCode = "rate_limited"
	PlatformServerError  PlatformErrorCode = "server_error"
	PlatformNetwork      PlatformErrorCode = "network"
	PlatformUnauthorized PlatformErrorCode = "unauthorized"
	PlatformNotFound     PlatformErrorCode = "not_found"
	PlatformValidation   PlatformErrorCode = "validation"
)

// Retryable reports whether failures with this code are transient.
func (c PlatformErrorCode) Retryable() bool {
	switch c {
	case PlatformRateLimited, PlatformServerError, PlatformNetwork:
		return true
	default:
		return false
	}
}

// ConfigurationError reports invalid engine configuration. It is never
// retryable and blocks startup before any workflow begins.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %s: %s", e.Field, e.Reason)
}

// PlatformError reports a git-platform failure. Transient codes are
// resolved by the retrying platform decorator and never reach the
// engine; codes that do reach the engine are final.
type PlatformError struct {
	Op   string
	Code PlatformErrorCode
	Err  error
}

func (e *PlatformError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("platform %s (%s): %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("platform %s (%s)", e.Op, e.Code)
}

// Unwrap returns the underlying error.
func (e *PlatformError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the failure is transient.
func (e *PlatformError) Retryable() bool {
	return e.Code.Retryable()
}

// IsRetryablePlatformError reports whether err is a PlatformError with
// a transient classification.
func IsRetryablePlatformError(err error) bool {
	var pe *PlatformError
	return errors.As(err, &pe) && pe.Retryable()
}

// AgentError reports a failed or malformed coding-agent result. The
// engine never retries agent failures; they route the run to the error
// state.
type AgentError struct {
	Stage  string
	Output string
	Err    error
}

func (e *AgentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("agent %s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("agent %s failed", e.Stage)
}

// Unwrap returns the underlying error.
func (e *AgentError) Unwrap() error {
	return e.Err
}

// TimeoutError reports a deadline exceeded while observing an external
// process, most commonly the CI watch. It is an ordinary workflow
// failure, not a crash.
type TimeoutError struct {
	Op    string
	Limit time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Op, e.Limit)
}

// CIError reports CI checks concluding in failure on a pull request.
type CIError struct {
	PRNumber int
	Failed   []string
}

func (e *CIError) Error() string {
	if len(e.Failed) == 0 {
		return fmt.Sprintf("ci checks failed on PR #%d", e.PRNumber)
	}
	return fmt.Sprintf("ci checks failed on PR #%d: %s", e.PRNumber, strings.Join(e.Failed, ", "))
}

// EngineError reports an internal invariant violation, such as an
// illegal state transition. Always fatal to the current workflow run.
type EngineError struct {
	State  State
	Reason string
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("engine invariant violated in state %s: %s", e.State, e.Reason)
}

// errorCode extracts a short classification code for event payloads.
func errorCode(err error) string {
	var pe *PlatformError
	if errors.As(err, &pe) {
		return "platform_" + string(pe.Code)
	}
	var ae *AgentError
	if errors.As(err, &ae) {
		return "agent_failure"
	}
	var te *TimeoutError
	if errors.As(err, &te) {
		return "timeout"
	}
	var ce *CIError
	if errors.As(err, &ce) {
		return "ci_failure"
	}
	var ee *EngineError
	if errors.As(err, &ee) {
		return "engine_invariant"
	}
	return "internal"
}
