// Command pilot is the operator CLI for a running engine daemon. It
// sends commands over the daemon's HTTP transport and can follow the
// live update stream.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/antinvestor/pilot/internal/engine"
	"github.com/antinvestor/pilot/internal/events"
	"github.com/antinvestor/pilot/internal/transport"
)

var serverURL string

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "pilot",
		Short:         "Operate a pilot engine daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "engine daemon base URL")

	root.AddCommand(
		newStartCmd(),
		newSimpleCmd("stop", "Stop the workflow poller", transport.Command{Kind: transport.CommandStop}),
		newSimpleCmd("pause", "Pause issue processing", transport.Command{Kind: transport.CommandPause}),
		newSimpleCmd("resume", "Resume issue processing", transport.Command{Kind: transport.CommandResume}),
		newSimpleCmd("approve", "Approve the pending plan", transport.Command{Kind: transport.CommandApprove}),
		newRejectCmd(),
		newSkipCmd(),
		newIssueCmd(),
		newDescribeCmd(),
		newSendCmd(),
		newStatusCmd(),
		newWatchCmd(),
	)
	return root
}

// withClient runs fn against a connected transport client.
func withClient(ctx context.Context, fn func(ctx context.Context, c *transport.Client) error) error {
	clientCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	client := transport.NewClient(clientCtx, serverURL, nil)
	defer func() { _ = client.Dispose() }()

	return fn(clientCtx, client)
}

// send delivers one command and prints the acknowledgement.
func send(ctx context.Context, cmd transport.Command) error {
	return withClient(ctx, func(ctx context.Context, c *transport.Client) error {
		ack, err := c.SendCommand(ctx, cmd)
		if err != nil {
			return err
		}
		if !ack.OK {
			return fmt.Errorf("refused: %s", ack.Error)
		}
		fmt.Println("ok")
		return nil
	})
}

func newSimpleCmd(use, short string, cmd transport.Command) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			return send(c.Context(), cmd)
		},
	}
}

func newStartCmd() *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the workflow poller",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			return send(c.Context(), transport.Command{Kind: transport.CommandStart, Once: once})
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "process at most one issue, then stop")
	return cmd
}

func newRejectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reject [feedback...]",
		Short: "Reject the pending plan, optionally with feedback",
		RunE: func(c *cobra.Command, args []string) error {
			return send(c.Context(), transport.Command{
				Kind:     transport.CommandReject,
				Feedback: strings.Join(args, " "),
			})
		},
	}
}

func newSkipCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "skip [reason...]",
		Short: "Skip the issue awaiting approval",
		RunE: func(c *cobra.Command, args []string) error {
			return send(c.Context(), transport.Command{
				Kind:     transport.CommandSkip,
				Feedback: strings.Join(args, " "),
			})
		},
	}
}

func newIssueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "issue <number>",
		Short: "Process one specific issue",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			n, err := strconv.Atoi(strings.TrimPrefix(args[0], "#"))
			if err != nil || n <= 0 {
				return fmt.Errorf("%q is not an issue number", args[0])
			}
			return send(c.Context(), transport.Command{Kind: transport.CommandProcessIssue, IssueNumber: n})
		},
	}
}

func newDescribeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "describe <work description...>",
		Short: "Run the workflow on ad-hoc work described in free text",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return send(c.Context(), transport.Command{
				Kind:        transport.CommandDescribeWork,
				Description: strings.Join(args, " "),
			})
		},
	}
}

func newSendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <command line...>",
		Short: "Send a raw command line (same vocabulary as the interactive console)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			cmd, err := transport.ParseCommandLine(strings.Join(args, " "))
			if err != nil {
				return err
			}
			return send(c.Context(), cmd)
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the engine's state and session stats",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			return withClient(c.Context(), func(ctx context.Context, cl *transport.Client) error {
				st, err := cl.Status(ctx)
				if err != nil {
					return err
				}
				out, err := json.MarshalIndent(st, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(out))
				return nil
			})
		},
	}
}

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow the engine's live update stream",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(c.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return withClient(ctx, func(ctx context.Context, cl *transport.Client) error {
				unsubs := []transport.Unsubscribe{
					cl.OnStateUpdate(func(u engine.StateUpdate) {
						fmt.Printf("state  %s -> %s\n", u.From, u.To)
					}),
					cl.OnLog(func(e engine.LogEntry) {
						fmt.Printf("log    [%s] %s\n", e.Level, e.Message)
					}),
					cl.OnApprovalRequest(func(a engine.ApprovalRequest) {
						fmt.Printf("plan   issue #%d awaits approval: %s\n", a.IssueNumber, a.Plan.Summary)
					}),
					cl.OnEvent(func(e events.Event) {
						fmt.Printf("event  %s issue=%d\n", e.Type, e.IssueNumber)
					}),
				}
				defer func() {
					for _, u := range unsubs {
						u()
					}
				}()

				fmt.Println("watching, ctrl-c to stop")
				<-ctx.Done()
				return nil
			})
		},
	}
}
