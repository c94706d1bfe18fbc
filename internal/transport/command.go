package transport

import (
	"fmt"
	"strconv"
	"strings"
)

// CommandKind is the closed set of engine commands.
type CommandKind string

const (
	CommandStart        CommandKind = "start"
	CommandStop         CommandKind = "stop"
	CommandPause        CommandKind = "pause"
	CommandResume       CommandKind = "resume"
	CommandApprove      CommandKind = "approve"
	CommandReject       CommandKind = "reject"
	CommandSkip         CommandKind = "skip"
	CommandProcessIssue CommandKind = "process-issue"
	CommandDescribeWork CommandKind = "describe-work"
)

// Command is one instruction to the engine. Only the fields relevant
// to the kind are used.
type Command struct {
	Kind CommandKind `json:"kind"`

	// Once makes start attempt a single run and stop.
	Once bool `json:"once,omitempty"`

	// Feedback accompanies reject (why the plan was refused) and skip
	// (why the issue was abandoned).
	Feedback string `json:"feedback,omitempty"`

	// IssueNumber names the issue for process-issue.
	IssueNumber int `json:"issue_number,omitempty"`

	// Description is the free-text work for describe-work.
	Description string `json:"description,omitempty"`
}

// Validate checks the command is well formed.
func (c Command) Validate() error {
	switch c.Kind {
	case CommandStart, CommandStop, CommandPause, CommandResume,
		CommandApprove, CommandReject, CommandSkip:
		return nil
	case CommandProcessIssue:
		if c.IssueNumber <= 0 {
			return fmt.Errorf("process-issue needs a positive issue number")
		}
		return nil
	case CommandDescribeWork:
		if strings.TrimSpace(c.Description) == "" {
			return fmt.Errorf("describe-work needs a description")
		}
		return nil
	default:
		return fmt.Errorf("unknown command %q", c.Kind)
	}
}

// ParseCommandLine turns an interactive input line into a command.
// Matching is case-insensitive; trailing words become feedback or the
// work description where the command takes one.
func ParseCommandLine(line string) (Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{}, fmt.Errorf("empty command")
	}

	verb := strings.ToLower(fields[0])
	rest := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), fields[0]))

	switch verb {
	case "start":
		once := len(fields) > 1 && strings.EqualFold(fields[1], "once")
		return Command{Kind: CommandStart, Once: once}, nil
	case "stop":
		return Command{Kind: CommandStop}, nil
	case "pause":
		return Command{Kind: CommandPause}, nil
	case "resume":
		return Command{Kind: CommandResume}, nil
	case "approve", "yes", "y":
		return Command{Kind: CommandApprove}, nil
	case "reject", "no", "n":
		return Command{Kind: CommandReject, Feedback: rest}, nil
	case "skip":
		return Command{Kind: CommandSkip, Feedback: rest}, nil
	case "issue", "process-issue":
		if len(fields) < 2 {
			return Command{}, fmt.Errorf("usage: issue <number>")
		}
		n, err := strconv.Atoi(strings.TrimPrefix(fields[1], "#"))
		if err != nil || n <= 0 {
			return Command{}, fmt.Errorf("%q is not an issue number", fields[1])
		}
		return Command{Kind: CommandProcessIssue, IssueNumber: n}, nil
	case "describe", "describe-work":
		if rest == "" {
			return Command{}, fmt.Errorf("usage: describe <what to build>")
		}
		return Command{Kind: CommandDescribeWork, Description: rest}, nil
	default:
		return Command{}, fmt.Errorf("unknown command %q", verb)
	}
}
