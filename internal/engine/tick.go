// Package engine provides the authoritative tick loop. One goroutine owns all
// war state: it steps the simulation on a ticker and applies player commands
// between ticks.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// ErrStopped is returned by Submit once the engine has stopped.
var ErrStopped = errors.New("engine stopped")

type request struct {
	ctx   context.Context
	cmd   Command
	reply chan reply
}

type reply struct {
	value any
	err   error
}

// Engine drives the simulation forward.
type Engine struct {
	sim      *Simulation
	interval time.Duration // wall-clock interval at speed 1
	speed    float64       // 1.0 = real-time, 0 = paused
	shown    atomic.Uint64 // float64 bits of speed, for Speed

	inbox    chan request
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewEngine creates an engine that paces sim steps at the simulation's tick
// interval.
func NewEngine(sim *Simulation) *Engine {
	e := &Engine{
		sim:      sim,
		interval: sim.Config().TickInterval,
		speed:    1.0,
		inbox:    make(chan request),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	e.shown.Store(math.Float64bits(e.speed))
	return e
}

// Simulation returns the driven simulation. Only Snapshot and Bus are safe to
// use from other goroutines while Run is active.
func (e *Engine) Simulation() *Simulation {
	return e.sim
}

// Snapshot returns the latest published view.
func (e *Engine) Snapshot() *Snapshot {
	return e.sim.Snapshot()
}

// Speed reports the current pacing multiplier. Safe from any goroutine.
func (e *Engine) Speed() float64 {
	return math.Float64frombits(e.shown.Load())
}

// Run starts the simulation loop. Blocks until ctx is cancelled or Stop is called.
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.done)
	slog.Info("simulation engine started", "tick", e.sim.CurrentTick(), "interval", e.interval, "speed", e.speed)

	ticker := time.NewTicker(e.pace())
	defer ticker.Stop()

	for {
		var tick <-chan time.Time
		if e.speed > 0 {
			tick = ticker.C
		}

		select {
		case <-ctx.Done():
			slog.Info("simulation engine stopped", "tick", e.sim.CurrentTick(), "reason", ctx.Err())
			return ctx.Err()
		case <-e.stop:
			slog.Info("simulation engine stopped", "tick", e.sim.CurrentTick())
			return nil
		case <-tick:
			e.sim.Step(ctx)
		case req := <-e.inbox:
			if sp, ok := req.cmd.(SetSpeed); ok {
				req.reply <- reply{value: e.setSpeed(sp.Speed, ticker)}
				continue
			}
			value, err := e.sim.Handle(req.ctx, req.cmd)
			req.reply <- reply{value: value, err: err}
		}
	}
}

func (e *Engine) pace() time.Duration {
	if e.speed <= 0 {
		return e.interval
	}
	return time.Duration(float64(e.interval) / e.speed)
}

func (e *Engine) setSpeed(speed float64, ticker *time.Ticker) float64 {
	e.speed = max(0, speed)
	e.shown.Store(math.Float64bits(e.speed))
	ticker.Reset(e.pace())
	slog.Info("engine speed changed", "speed", e.speed)
	return e.speed
}

// Submit hands cmd to the authority goroutine and waits for its result.
func (e *Engine) Submit(ctx context.Context, cmd Command) (any, error) {
	req := request{ctx: ctx, cmd: cmd, reply: make(chan reply, 1)}
	select {
	case e.inbox <- req:
	case <-e.done:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-req.reply:
		return r.value, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stop halts a running loop and waits for it to exit.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stop) })
	<-e.done
}

// SimTime formats elapsed sim time as "T+hh:mm:ss".
func SimTime(elapsed time.Duration) string {
	if elapsed < 0 {
		elapsed = 0
	}
	total := int64(elapsed / time.Second)
	return fmt.Sprintf("T+%02d:%02d:%02d", total/3600, total/60%60, total%60)
}
