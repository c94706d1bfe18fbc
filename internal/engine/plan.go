package engine

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/antinvestor/pilot/internal/events"
)

// ParsePlan extracts a development plan from raw agent output. Agents
// are instructed to reply with a fenced JSON block; tolerated forms are
// a ```json fence, a bare ``` fence, or a naked JSON object. Anything
// else, or a plan that fails validation, is an error and routes the
// run to the error state.
func ParsePlan(output string, issueNumber int) (*events.DevelopmentPlan, error) {
	raw, ok := extractJSONBlock(output)
	if !ok {
		return nil, &AgentError{
			Stage:  "planning",
			Output: truncate(output, 512),
			Err:    fmt.Errorf("no JSON plan found in agent output"),
		}
	}

	var plan events.DevelopmentPlan
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		return nil, &AgentError{
			Stage:  "planning",
			Output: truncate(raw, 512),
			Err:    fmt.Errorf("decode plan: %w", err),
		}
	}

	if plan.IssueNumber == 0 {
		plan.IssueNumber = issueNumber
	}
	if err := validatePlan(&plan, issueNumber); err != nil {
		return nil, &AgentError{Stage: "planning", Err: err}
	}
	return &plan, nil
}

func validatePlan(plan *events.DevelopmentPlan, issueNumber int) error {
	if plan.IssueNumber != issueNumber {
		return fmt.Errorf("plan addresses issue #%d, expected #%d", plan.IssueNumber, issueNumber)
	}
	if strings.TrimSpace(plan.Summary) == "" {
		return fmt.Errorf("plan has no summary")
	}
	if len(plan.FileChanges) == 0 {
		return fmt.Errorf("plan has no file changes")
	}
	for i, fc := range plan.FileChanges {
		if strings.TrimSpace(fc.FilePath) == "" {
			return fmt.Errorf("file change %d has no path", i)
		}
		if !fc.Action.Valid() {
			return fmt.Errorf("file change %d has unknown action %q", i, fc.Action)
		}
	}
	if plan.Complexity == "" {
		plan.Complexity = events.ComplexityMedium
	}
	if !plan.Complexity.Valid() {
		return fmt.Errorf("unknown complexity %q", plan.Complexity)
	}
	return nil
}

// extractJSONBlock finds the plan JSON in agent output. Fenced blocks
// win over naked objects because agents often narrate around the fence.
func extractJSONBlock(output string) (string, bool) {
	for _, fence := range []string{"```json", "```"} {
		start := strings.Index(output, fence)
		if start < 0 {
			continue
		}
		rest := output[start+len(fence):]
		end := strings.Index(rest, "```")
		if end < 0 {
			continue
		}
		candidate := strings.TrimSpace(rest[:end])
		if strings.HasPrefix(candidate, "{") {
			return candidate, true
		}
	}

	// No usable fence; take the outermost braced object if one exists.
	start := strings.Index(output, "{")
	end := strings.LastIndex(output, "}")
	if start >= 0 && end > start {
		return output[start : end+1], true
	}
	return "", false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// FormatPlanComment renders a plan as the markdown comment posted to
// the issue when the plan goes up for review.
func FormatPlanComment(plan *events.DevelopmentPlan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Development Plan\n\n%s\n\n**Approach**\n\n%s\n\n", plan.Summary, plan.Approach)
	b.WriteString("**Planned changes**\n\n")
	for _, fc := range plan.FileChanges {
		fmt.Fprintf(&b, "- `%s` (%s): %s\n", fc.FilePath, fc.Action, fc.Description)
	}
	if plan.TestingStrategy != "" {
		fmt.Fprintf(&b, "\n**Testing**\n\n%s\n", plan.TestingStrategy)
	}
	fmt.Fprintf(&b, "\nEstimated complexity: %s\n", plan.Complexity)
	return b.String()
}
