package commander

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/talgya/frontline/internal/engine"
	"github.com/talgya/frontline/internal/world"
)

// Commander runs the observe, triage, decide, act cycle.
type Commander struct {
	Observer   *Observer
	Actor      *Actor
	Params     Params
	Memory     *CycleMemory
	MemoryPath string // empty keeps memory in process
}

// New creates a commander for the API at baseURL.
func New(baseURL string, p Params, memoryPath string) *Commander {
	return &Commander{
		Observer:   NewObserver(baseURL),
		Actor:      NewActor(baseURL),
		Params:     p,
		Memory:     LoadMemory(memoryPath),
		MemoryPath: memoryPath,
	}
}

// Cycle executes one observe, decide, act round and returns the record.
func (c *Commander) Cycle(ctx context.Context) (CycleRecord, error) {
	snap, err := c.Observer.Observe(ctx)
	if err != nil {
		return CycleRecord{}, fmt.Errorf("observe: %w", err)
	}

	faction := c.Params.Faction
	for _, sq := range snap.Squads {
		if sq.Owner == c.Params.Player {
			faction = sq.Faction
			break
		}
	}
	a := Triage(snap, faction)
	slog.Info("observation complete",
		"tick", snap.Tick, "state", snap.State, "faction", faction,
		"posture", a.Posture, "balance", a.Balance, "nodes", a.NodesHeld)

	rec := CycleRecord{Tick: snap.Tick, Posture: a.Posture, Balance: a.Balance, NodesHeld: a.NodesHeld}
	if !snap.State.Active() {
		slog.Info("war not active, standing by", "state", snap.State)
		c.remember(rec)
		return rec, nil
	}

	for _, cmd := range Decide(snap, a, c.Params, c.Memory) {
		_, err := c.Actor.Act(ctx, cmd)
		var rej *Rejection
		switch {
		case errors.As(err, &rej):
			slog.Info("order refused", "command", cmd.Name(), "code", rej.Code, "reason", rej.Message)
			rec.Refused = append(rec.Refused, Refusal{Command: cmd.Name(), Node: target(cmd), Code: rej.Code})
		case err != nil:
			c.remember(rec)
			return rec, fmt.Errorf("act %s: %w", cmd.Name(), err)
		default:
			slog.Debug("order accepted", "command", cmd.Name())
			rec.Orders++
		}
	}
	c.remember(rec)
	return rec, nil
}

func (c *Commander) remember(rec CycleRecord) {
	c.Memory.Record(rec)
	if c.MemoryPath == "" {
		return
	}
	if err := c.Memory.Save(c.MemoryPath); err != nil {
		slog.Error("failed to save commander memory", "error", err)
	}
}

// target is the node an order is aimed at, for refusal bookkeeping.
func target(cmd engine.Command) world.NodeID {
	switch c := cmd.(type) {
	case engine.MoveSquad:
		return c.Target
	case engine.RequestBattle:
		return c.Node
	case engine.Fortify:
		return c.Node
	case engine.RequestSpawnTicket:
		return c.Node
	default:
		return world.NoNode
	}
}

// Run waits for the API, then cycles every interval until ctx is done.
func (c *Commander) Run(ctx context.Context, interval time.Duration) error {
	if err := c.WaitReady(ctx, 5*time.Minute); err != nil {
		return err
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := c.Cycle(ctx); err != nil {
			slog.Error("commander cycle failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// WaitReady polls the status endpoint with exponential backoff until it
// responds or limit passes.
func (c *Commander) WaitReady(ctx context.Context, limit time.Duration) error {
	backoff := 500 * time.Millisecond
	const maxBackoff = 30 * time.Second
	deadline := time.Now().Add(limit)

	for {
		if c.Observer.Ready(ctx) {
			slog.Info("war API is ready")
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("war API not ready after %s", limit)
		}
		slog.Info("war API not ready, retrying", "backoff", backoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}
}
