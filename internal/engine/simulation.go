// Simulation ties together all war systems and runs them each tick.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/talgya/frontline/internal/capture"
	"github.com/talgya/frontline/internal/economy"
	"github.com/talgya/frontline/internal/entropy"
	"github.com/talgya/frontline/internal/events"
	"github.com/talgya/frontline/internal/occupancy"
	"github.com/talgya/frontline/internal/social"
	"github.com/talgya/frontline/internal/squads"
	"github.com/talgya/frontline/internal/war"
	"github.com/talgya/frontline/internal/world"
)

var tracer = otel.Tracer("github.com/talgya/frontline/internal/engine")

// Config gathers the rules for every subsystem.
type Config struct {
	TickInterval time.Duration // sim time advanced per step
	Factions     int
	AutoStart    bool // start the war as soon as the simulation is built
	Seed         int64
	SpawnHistory int

	Squads  squads.Config
	Economy economy.Config
	Capture capture.Config
	War     war.Config
}

// DefaultConfig returns the standard match rules.
func DefaultConfig() Config {
	return Config{
		TickInterval: 100 * time.Millisecond,
		Factions:     2,
		AutoStart:    true,
		SpawnHistory: occupancy.DefaultHistoryLimit,
		Squads:       squads.DefaultConfig(),
		Economy:      economy.DefaultConfig(),
		Capture:      capture.DefaultConfig(),
		War:          war.DefaultConfig(),
	}
}

// Simulation holds the complete war state and wires systems together. All
// mutating methods must be called from a single goroutine; Snapshot is safe
// from any goroutine.
type Simulation struct {
	cfg      Config
	capitals map[world.FactionID]world.NodeID

	Graph     *world.Graph
	Bus       *events.Bus
	Economy   *economy.Economy
	Members   *social.Membership
	Roster    *squads.Roster
	Occupancy *occupancy.Tracker
	Captures  *capture.Coordinator
	War       *war.Orchestrator

	start time.Time
	now   time.Time
	tick  uint64

	snap snapshotStore
}

// NewSimulation builds every subsystem around graph. Each participating
// faction needs a capital; start is the sim clock's origin.
func NewSimulation(cfg Config, graph *world.Graph, capitals map[world.FactionID]world.NodeID, start time.Time) (*Simulation, error) {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultConfig().TickInterval
	}
	factions := social.SeedFactions(cfg.Factions)
	ids := make([]world.FactionID, len(factions))
	for i, f := range factions {
		id, ok := capitals[f.ID]
		if !ok {
			return nil, fmt.Errorf("faction %s has no capital", f.ID)
		}
		if !graph.Has(id) {
			return nil, fmt.Errorf("capital %d for %s is not on the map", id, f.ID)
		}
		ids[i] = f.ID
	}

	s := &Simulation{
		cfg:      cfg,
		capitals: capitals,
		Graph:    graph,
		start:    start,
		now:      start,
	}
	s.Bus = events.NewBus(s.Now)
	graph.SetEmitter(s.Bus)

	s.Members = social.NewMembership(factions)
	s.Members.AssignCapitals(capitals)

	s.Economy = economy.New(cfg.Economy, s.Bus, s.Now)
	for _, id := range ids {
		s.Economy.Register(id)
	}
	s.Roster = squads.NewRoster(cfg.Squads, graph, s.Economy, s.Bus)
	s.Occupancy = occupancy.NewTracker(graph, s.Roster, entropy.New(cfg.Seed), s.Bus)
	s.Occupancy.SetHistoryLimit(cfg.SpawnHistory)
	s.Captures = capture.NewCoordinator(cfg.Capture, graph, s.Occupancy, s.Roster, s.Bus)

	orch, err := war.New(cfg.War, ids, war.Deps{
		Graph:    graph,
		Treasury: s.Economy,
		Captures: s.Captures,
		Squads:   s.Roster,
	}, s.Bus)
	if err != nil {
		return nil, err
	}
	s.War = orch

	slog.Info("simulation built", "nodes", graph.Len(), "factions", len(ids), "tick", cfg.TickInterval)
	if cfg.AutoStart {
		if err := s.startWar(); err != nil {
			return nil, err
		}
	}
	s.publish()
	return s, nil
}

// Now returns the authoritative sim clock.
func (s *Simulation) Now() time.Time {
	return s.now
}

// CurrentTick returns the number of steps taken.
func (s *Simulation) CurrentTick() uint64 {
	return s.tick
}

// Config returns the active configuration.
func (s *Simulation) Config() Config {
	return s.cfg
}

// Capitals returns each faction's starting node.
func (s *Simulation) Capitals() map[world.FactionID]world.NodeID {
	out := make(map[world.FactionID]world.NodeID, len(s.capitals))
	for f, id := range s.capitals {
		out[f] = id
	}
	return out
}

// Step advances the sim clock by one tick and runs every system in order:
// arrivals, occupancy, capture, war, economy. A snapshot is published last.
func (s *Simulation) Step(ctx context.Context) {
	_, span := tracer.Start(ctx, "engine.step")
	defer span.End()

	s.tick++
	s.now = s.now.Add(s.cfg.TickInterval)
	span.SetAttributes(attribute.Int64("tick", int64(s.tick)))

	if arrived := s.Roster.CompleteArrivals(s.now); len(arrived) > 0 {
		slog.Debug("squads arrived", "tick", s.tick, "count", len(arrived))
	}
	s.Occupancy.Rebuild(s.now)

	if s.War.State().Active() {
		if s.Captures.Tick(s.now) {
			span.AddEvent("capture evaluated")
		}
		s.War.Tick(s.now)
	}
	// Victory may have ended the war during this step.
	if s.War.State().Active() {
		if s.Economy.Tick(s.now, s.Graph) {
			span.AddEvent("token cycle")
		}
	}

	s.publish()
}

func (s *Simulation) startWar() error {
	if err := s.War.Start(s.now, s.capitals); err != nil {
		return err
	}
	s.Economy.Reset(s.now)
	s.Captures.Reset()
	s.Occupancy.Rebuild(s.now)
	return nil
}

// resetWar returns everything to Preparation: territory, treasuries, squads,
// and players. Faction seeding and capitals are kept.
func (s *Simulation) resetWar() {
	s.War.Reset()
	s.Captures.Reset()
	s.Roster.Reset()
	s.Graph.ResetControl()
	s.Economy.Reset(s.now)
	s.Occupancy.Reinitialize(s.Graph)
	s.Members = social.NewMembership(s.Members.Factions())
	s.Members.AssignCapitals(s.capitals)
	slog.Info("war reset", "tick", s.tick)
}
