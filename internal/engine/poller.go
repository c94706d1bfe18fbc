package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pitabwire/util"
)

// Poller drives the engine continuously: one workflow run per tick,
// skipping ticks while a run is still in flight or the poller is
// paused. A failed run leaves the engine in the error state, which the
// next tick recovers from, so the loop itself never stops on workflow
// errors.
type Poller struct {
	engine   *Engine
	interval time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	paused  bool
	running bool
}

// NewPoller creates a poller ticking every interval.
func NewPoller(engine *Engine, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Poller{
		engine:   engine,
		interval: interval,
	}
}

// Start begins polling. With once set, exactly one run is attempted and
// the poller stops by itself. Starting an already running poller is a
// no-op.
func (p *Poller) Start(ctx context.Context, once bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true
	p.paused = false

	go p.loop(runCtx, once)
}

// Stop halts polling and waits for the loop to exit. The run currently
// in flight, if any, is cancelled through its context.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	cancel := p.cancel
	done := p.done
	p.mu.Unlock()

	cancel()
	<-done
}

// Pause suspends new runs without stopping the loop.
func (p *Poller) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = true
}

// Resume lifts a pause.
func (p *Poller) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = false
}

// Running reports whether the loop is active.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Paused reports whether new runs are suspended.
func (p *Poller) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running && p.paused
}

func (p *Poller) loop(ctx context.Context, once bool) {
	defer func() {
		p.mu.Lock()
		p.running = false
		close(p.done)
		p.mu.Unlock()
	}()

	log := util.Log(ctx)
	log.Info("poller started", "interval", p.interval, "once", once)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if !p.Paused() {
			err := p.engine.ProcessOneIssue(ctx)
			switch {
			case err == nil:
				if once {
					log.Info("single run finished, poller stopping")
					return
				}
			case errors.Is(err, ErrWorkflowInFlight):
				// A manually triggered run is still going; wait it out.
			case errors.Is(err, context.Canceled), errors.Is(err, ErrEngineDisposed):
				return
			default:
				log.WithError(err).Error("workflow run failed, will retry next tick")
				if once {
					return
				}
			}
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			log.Info("poller stopped")
			return
		}
	}
}
