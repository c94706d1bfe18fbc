package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/antinvestor/pilot/internal/events"
)

// AgentTask describes one coding-agent invocation.
type AgentTask struct {
	// Stage names the workflow stage issuing the task ("planning" or
	// "implementation"); it is informational for the agent.
	Stage string

	// Prompt is the full instruction text for the agent.
	Prompt string

	// WorkDir is the working directory the agent operates in.
	WorkDir string
}

// ProgressFunc receives incremental agent output lines.
type ProgressFunc func(line string)

// AgentRunner is the capability contract for the coding agent. The
// engine never knows how tasks are executed; it only consumes results.
type AgentRunner interface {
	// ExecuteTask runs one task to completion. onProgress may be nil.
	ExecuteTask(ctx context.Context, task AgentTask, onProgress ProgressFunc) (*events.AgentTaskResult, error)

	// IsAvailable reports whether the agent can accept tasks.
	IsAvailable(ctx context.Context) bool

	// Dispose releases any resources held by the runner.
	Dispose() error
}

// PullRequestSpec describes a pull request to open.
type PullRequestSpec struct {
	Title      string
	Body       string
	Branch     string
	BaseBranch string
}

// GitPlatform is the capability contract for the git-hosting platform.
// Implementations retry transient failures (rate limits, server errors)
// before surfacing an error; the retrying decorator in
// internal/platform provides that behavior for any raw implementation.
type GitPlatform interface {
	// ListOpenIssues returns all open issues in the repository.
	ListOpenIssues(ctx context.Context) ([]events.IssueData, error)

	// GetIssue fetches a single issue by number.
	GetIssue(ctx context.Context, number int) (*events.IssueData, error)

	// AddComment adds a comment to an issue.
	AddComment(ctx context.Context, issueNumber int, body string) error

	// AssignIssue assigns an issue to the given login.
	AssignIssue(ctx context.Context, issueNumber int, login string) error

	// CloseIssue closes an issue.
	CloseIssue(ctx context.Context, issueNumber int) error

	// CreateBranch creates a branch off the given base.
	CreateBranch(ctx context.Context, name, base string) error

	// DeleteBranch deletes a branch.
	DeleteBranch(ctx context.Context, name string) error

	// CreatePullRequest opens a pull request.
	CreatePullRequest(ctx context.Context, spec PullRequestSpec) (*events.PullRequestInfo, error)

	// GetPullRequest fetches a pull request by number.
	GetPullRequest(ctx context.Context, number int) (*events.PullRequestInfo, error)

	// MergePullRequest merges a pull request.
	MergePullRequest(ctx context.Context, number int) error

	// CIStatus returns the CI check results for a pull request head.
	CIStatus(ctx context.Context, prNumber int) ([]events.CheckResult, error)

	// ListCommits lists commit subjects on a branch, newest first.
	ListCommits(ctx context.Context, branch string) ([]string, error)
}

// =============================================================================
// Capability Registry
// =============================================================================

// Capability factories are registered by scheme and resolved from URIs,
// the same way queue backends are chosen elsewhere in this stack:
// "github://owner/repo" or "claude-cli://" select implementations that
// live outside this module.

// PlatformFactory constructs a GitPlatform from a capability URI.
type PlatformFactory func(ctx context.Context, uri string) (GitPlatform, error)

// AgentFactory constructs an AgentRunner from a capability URI.
type AgentFactory func(ctx context.Context, uri string) (AgentRunner, error)

var (
	registryMu        sync.RWMutex
	platformFactories = map[string]PlatformFactory{}
	agentFactories    = map[string]AgentFactory{}
)

// RegisterPlatform registers a git-platform factory for a URI scheme.
func RegisterPlatform(scheme string, factory PlatformFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	platformFactories[strings.ToLower(scheme)] = factory
}

// RegisterAgent registers an agent-runner factory for a URI scheme.
func RegisterAgent(scheme string, factory AgentFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	agentFactories[strings.ToLower(scheme)] = factory
}

// OpenPlatform resolves a GitPlatform from a capability URI.
func OpenPlatform(ctx context.Context, uri string) (GitPlatform, error) {
	scheme, err := uriScheme(uri)
	if err != nil {
		return nil, err
	}

	registryMu.RLock()
	factory, ok := platformFactories[scheme]
	known := registeredSchemes(platformFactories)
	registryMu.RUnlock()
	if !ok {
		return nil, &ConfigurationError{
			Field:  "platform_uri",
			Reason: fmt.Sprintf("no git platform registered for scheme %q (registered: %s)", scheme, known),
		}
	}
	return factory(ctx, uri)
}

// OpenAgent resolves an AgentRunner from a capability URI.
func OpenAgent(ctx context.Context, uri string) (AgentRunner, error) {
	scheme, err := uriScheme(uri)
	if err != nil {
		return nil, err
	}

	registryMu.RLock()
	factory, ok := agentFactories[scheme]
	known := registeredSchemes(agentFactories)
	registryMu.RUnlock()
	if !ok {
		return nil, &ConfigurationError{
			Field:  "agent_uri",
			Reason: fmt.Sprintf("no agent runner registered for scheme %q (registered: %s)", scheme, known),
		}
	}
	return factory(ctx, uri)
}

func uriScheme(uri string) (string, error) {
	idx := strings.Index(uri, "://")
	if idx <= 0 {
		return "", &ConfigurationError{Field: "capability_uri", Reason: fmt.Sprintf("%q is not a capability URI", uri)}
	}
	return strings.ToLower(uri[:idx]), nil
}

func registeredSchemes[F any](m map[string]F) string {
	if len(m) == 0 {
		return "none"
	}
	schemes := make([]string, 0, len(m))
	for s := range m {
		schemes = append(schemes, s)
	}
	sort.Strings(schemes)
	return strings.Join(schemes, ", ")
}
