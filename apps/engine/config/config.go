package config

import (
	"time"

	"github.com/pitabwire/frame/config"
)

// EngineConfig defines configuration for the engine daemon. The daemon
// watches a repository's issue tracker, plans and implements issues
// with a coding agent, and delivers merged pull requests.
type EngineConfig struct {
	config.ConfigurationDefault

	// ==========================================================================
	// Capability URIs
	// ==========================================================================

	// PlatformURI selects the git-platform implementation by scheme,
	// e.g. "github://owner/repo".
	PlatformURI string `env:"PLATFORM_URI"`

	// AgentURI selects the coding-agent implementation by scheme,
	// e.g. "claude-cli://".
	AgentURI string `env:"AGENT_URI"`

	// ==========================================================================
	// Workflow Configuration
	// ==========================================================================

	// BotLogin is the platform login issues are claimed under.
	BotLogin string `envDefault:"pilot[bot]" env:"BOT_LOGIN"`

	// BaseBranch is the branch work forks from and PRs merge into.
	BaseBranch string `envDefault:"main" env:"BASE_BRANCH"`

	// WorkDir is the repository checkout the agent operates in.
	WorkDir string `envDefault:"/var/lib/pilot/workspace" env:"WORK_DIR"`

	// IncludeLabels restricts selection to issues with any of these
	// labels (comma separated). Empty selects all open issues.
	IncludeLabels []string `env:"INCLUDE_LABELS"`

	// ExcludeLabels removes issues carrying any of these labels.
	ExcludeLabels []string `env:"EXCLUDE_LABELS"`

	// AutoApprove approves every plan without waiting for a human.
	AutoApprove bool `envDefault:"false" env:"AUTO_APPROVE"`

	// ApprovalTimeoutSeconds skips an issue whose plan nobody decides
	// on in time. Zero waits indefinitely.
	ApprovalTimeoutSeconds int `envDefault:"0" env:"APPROVAL_TIMEOUT_SECONDS"`

	// ==========================================================================
	// Polling and CI
	// ==========================================================================

	// PollIntervalSeconds is the delay between workflow cycles.
	PollIntervalSeconds int `envDefault:"60" env:"POLL_INTERVAL_SECONDS"`

	// StartImmediately begins polling on boot instead of waiting for a
	// start command.
	StartImmediately bool `envDefault:"true" env:"START_IMMEDIATELY"`

	// RunOnce processes at most one issue and exits the poll loop.
	RunOnce bool `envDefault:"false" env:"RUN_ONCE"`

	// CIPollIntervalSeconds is how often CI status is polled.
	CIPollIntervalSeconds int `envDefault:"10" env:"CI_POLL_INTERVAL_SECONDS"`

	// CITimeoutMinutes bounds the CI watch for one pull request.
	CITimeoutMinutes int `envDefault:"30" env:"CI_TIMEOUT_MINUTES"`

	// ==========================================================================
	// Platform Retry
	// ==========================================================================

	// RetryInitialMS is the first backoff delay for transient platform
	// failures.
	RetryInitialMS int `envDefault:"500" env:"RETRY_INITIAL_MS"`

	// RetryMaxSeconds caps the delay between retry attempts.
	RetryMaxSeconds int `envDefault:"30" env:"RETRY_MAX_SECONDS"`

	// RetryElapsedSeconds bounds the total retry time per call.
	RetryElapsedSeconds int `envDefault:"120" env:"RETRY_ELAPSED_SECONDS"`

	// ==========================================================================
	// Command Endpoint
	// ==========================================================================

	// CommandsPerMinute rate-limits the command endpoint per client.
	CommandsPerMinute int `envDefault:"60" env:"COMMANDS_PER_MINUTE"`

	// CommandBurst is the short-term burst allowance per client.
	CommandBurst int `envDefault:"10" env:"COMMAND_BURST"`
}

// PollInterval returns the poll interval as a duration.
func (c *EngineConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// ApprovalTimeout returns the approval timeout as a duration.
func (c *EngineConfig) ApprovalTimeout() time.Duration {
	return time.Duration(c.ApprovalTimeoutSeconds) * time.Second
}

// CIPollInterval returns the CI poll interval as a duration.
func (c *EngineConfig) CIPollInterval() time.Duration {
	return time.Duration(c.CIPollIntervalSeconds) * time.Second
}

// CITimeout returns the CI watch bound as a duration.
func (c *EngineConfig) CITimeout() time.Duration {
	return time.Duration(c.CITimeoutMinutes) * time.Minute
}

// RetryInitial returns the first retry delay as a duration.
func (c *EngineConfig) RetryInitial() time.Duration {
	return time.Duration(c.RetryInitialMS) * time.Millisecond
}

// RetryMax returns the retry delay cap as a duration.
func (c *EngineConfig) RetryMax() time.Duration {
	return time.Duration(c.RetryMaxSeconds) * time.Second
}

// RetryElapsed returns the total retry bound as a duration.
func (c *EngineConfig) RetryElapsed() time.Duration {
	return time.Duration(c.RetryElapsedSeconds) * time.Second
}
