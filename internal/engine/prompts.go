package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/pitabwire/util"
	"golang.org/x/sync/errgroup"

	"github.com/antinvestor/pilot/internal/events"
)

// buildIssueContext renders everything known about an issue into the
// text block both agent prompts share. Related issues that cannot be
// fetched are listed by number only.
func buildIssueContext(ctx context.Context, platform GitPlatform, issue *events.IssueData) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Issue #%d: %s\n", issue.Number, issue.Title)
	if len(issue.Labels) > 0 {
		fmt.Fprintf(&b, "Labels: %s\n", strings.Join(issue.Labels, ", "))
	}
	fmt.Fprintf(&b, "URL: %s\n\n%s\n", issue.URL, issue.Body)

	if len(issue.Comments) > 0 {
		b.WriteString("\nComments:\n")
		for _, c := range issue.Comments {
			if strings.Contains(c.Body, claimMarker) {
				continue
			}
			fmt.Fprintf(&b, "- %s: %s\n", c.Author, c.Body)
		}
	}

	if len(issue.RelatedIssues) > 0 {
		titles := make([]string, len(issue.RelatedIssues))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(4)
		for i, n := range issue.RelatedIssues {
			g.Go(func() error {
				related, err := platform.GetIssue(gctx, n)
				if err != nil {
					util.Log(gctx).WithError(err).Debug("related issue not resolvable", "issue", n)
					return nil
				}
				titles[i] = related.Title
				return nil
			})
		}
		_ = g.Wait()

		b.WriteString("\nRelated issues:\n")
		for i, n := range issue.RelatedIssues {
			if titles[i] == "" {
				fmt.Fprintf(&b, "- #%d\n", n)
				continue
			}
			fmt.Fprintf(&b, "- #%d: %s\n", n, titles[i])
		}
	}
	return b.String()
}

// planningPrompt instructs the agent to produce a plan as fenced JSON.
// The schema here must stay in sync with ParsePlan.
func planningPrompt(issue *events.IssueData, contextText string) string {
	var b strings.Builder
	b.WriteString("Analyze the following issue and produce a development plan.\n\n")
	b.WriteString(contextText)
	b.WriteString("\n\nRespond with exactly one fenced JSON block of this shape:\n")
	b.WriteString("```json\n")
	fmt.Fprintf(&b, `{
  "issue_number": %d,
  "summary": "one paragraph summary of the change",
  "approach": "how the change will be made",
  "file_changes": [
    {"file_path": "path/to/file", "action": "create|modify|delete", "description": "what changes"}
  ],
  "testing_strategy": "how the change is verified",
  "complexity": "low|medium|high",
  "risks": ["known risks"]
}
`, issue.Number)
	b.WriteString("```\n\nDo not make any code changes during planning.\n")
	return b.String()
}

// implementationPrompt instructs the agent to execute an approved plan
// on the work branch.
func implementationPrompt(issue *events.IssueData, plan *events.DevelopmentPlan, branch, baseBranch string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Implement the approved plan for issue #%d on branch %q (forked from %q).\n\n",
		issue.Number, branch, baseBranch)
	fmt.Fprintf(&b, "Summary: %s\n\nApproach: %s\n\nPlanned changes:\n", plan.Summary, plan.Approach)
	for _, fc := range plan.FileChanges {
		fmt.Fprintf(&b, "- %s %s: %s\n", fc.Action, fc.FilePath, fc.Description)
	}
	if plan.TestingStrategy != "" {
		fmt.Fprintf(&b, "\nVerify the change: %s\n", plan.TestingStrategy)
	}
	b.WriteString("\nCommit your work to the branch and make sure the test suite passes before finishing.\n")
	return b.String()
}

func prTitle(issue *events.IssueData) string {
	if issue.Number > 0 {
		return fmt.Sprintf("Fix #%d: %s", issue.Number, issue.Title)
	}
	return issue.Title
}

func prBody(issue *events.IssueData, plan *events.DevelopmentPlan, synthetic bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n%s\n", plan.Summary, plan.Approach)
	if !synthetic {
		fmt.Fprintf(&b, "\nCloses #%d\n", issue.Number)
	}
	return b.String()
}
