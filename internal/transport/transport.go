// Package transport carries commands to the engine and pushes its
// updates to subscribers. One contract, two deployments: Local calls
// the engine in process, Client/Server move the same commands and
// update streams over HTTP. Both honor identical ordering and
// acknowledgement semantics.
package transport

import (
	"context"

	"github.com/antinvestor/pilot/internal/engine"
	"github.com/antinvestor/pilot/internal/events"
)

// Ack acknowledges a command. Expected refusals (approving with
// nothing pending, stopping a stopped poller) are OK acks, not errors;
// Error is set only when the command could not be applied.
type Ack struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Unsubscribe removes a previously registered listener. Safe to call
// more than once.
type Unsubscribe func()

// Transport is the command-and-subscription contract shared by the
// in-process and remote deployments. Listeners fire in the order
// updates occur and never concurrently for the same subscriber.
type Transport interface {
	// SendCommand applies a command to the engine and acknowledges it.
	SendCommand(ctx context.Context, cmd Command) (Ack, error)

	// OnStateUpdate registers a state transition listener.
	OnStateUpdate(fn func(engine.StateUpdate)) Unsubscribe

	// OnLog registers a progress message listener.
	OnLog(fn func(engine.LogEntry)) Unsubscribe

	// OnApprovalRequest registers a pending approval listener.
	OnApprovalRequest(fn func(engine.ApprovalRequest)) Unsubscribe

	// OnEvent registers a recorded event listener.
	OnEvent(fn func(events.Event)) Unsubscribe

	// Dispose releases all listeners and any underlying connection.
	Dispose() error
}
