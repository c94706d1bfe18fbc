package transport

import (
	"context"

	"github.com/antinvestor/pilot/internal/engine"
	"github.com/antinvestor/pilot/internal/events"
)

// Local is the in-process deployment of the transport contract: it
// applies commands directly and subscribes straight to the hub the
// engine publishes into.
type Local struct {
	runner *Runner
	hub    *Hub
}

// NewLocal creates a local transport over a runner and the hub wired
// as the engine's sink.
func NewLocal(runner *Runner, hub *Hub) *Local {
	return &Local{runner: runner, hub: hub}
}

// SendCommand implements Transport.
func (l *Local) SendCommand(ctx context.Context, cmd Command) (Ack, error) {
	return l.runner.Apply(ctx, cmd), nil
}

// Status snapshots the system.
func (l *Local) Status(_ context.Context) (Status, error) {
	return l.runner.Status(), nil
}

// OnStateUpdate implements Transport.
func (l *Local) OnStateUpdate(fn func(engine.StateUpdate)) Unsubscribe {
	return l.hub.OnStateUpdate(fn)
}

// OnLog implements Transport.
func (l *Local) OnLog(fn func(engine.LogEntry)) Unsubscribe {
	return l.hub.OnLog(fn)
}

// OnApprovalRequest implements Transport.
func (l *Local) OnApprovalRequest(fn func(engine.ApprovalRequest)) Unsubscribe {
	return l.hub.OnApprovalRequest(fn)
}

// OnEvent implements Transport.
func (l *Local) OnEvent(fn func(events.Event)) Unsubscribe {
	return l.hub.OnEvent(fn)
}

// Dispose implements Transport.
func (l *Local) Dispose() error {
	l.hub.Dispose()
	return nil
}
