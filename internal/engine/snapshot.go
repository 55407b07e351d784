package engine

import (
	"sync"
	"time"

	"github.com/talgya/frontline/internal/capture"
	"github.com/talgya/frontline/internal/occupancy"
	"github.com/talgya/frontline/internal/squads"
	"github.com/talgya/frontline/internal/war"
	"github.com/talgya/frontline/internal/world"
)

// FactionView is one faction's standing at snapshot time.
type FactionView struct {
	ID         world.FactionID `json:"id"`
	Name       string          `json:"name"`
	Color      string          `json:"color"`
	Capital    world.NodeID    `json:"capital"`
	Players    int             `json:"players"`
	Balance    int             `json:"balance"`
	NodesHeld  int             `json:"nodes_held"`
	AvgControl float64         `json:"avg_control"`
}

// Snapshot is an immutable view of the war after a tick or command. Nothing
// in it aliases live state.
type Snapshot struct {
	Tick      uint64                    `json:"tick"`
	At        time.Time                 `json:"at"`
	Clock     string                    `json:"clock"`
	State     war.State                 `json:"state"`
	Nodes     []world.Node              `json:"nodes"`
	Factions  []FactionView             `json:"factions"`
	Squads    []squads.Squad            `json:"squads"`
	Occupancy []occupancy.NodeOccupancy `json:"occupancy"`
	Captures  []capture.Attempt         `json:"captures"`
	Battles   []war.Session             `json:"battles"`
	NextCycle time.Time                 `json:"next_cycle"`
	Outcome   *war.Outcome              `json:"outcome,omitempty"`
}

// Node returns the node with id from the snapshot.
func (s *Snapshot) Node(id world.NodeID) (world.Node, bool) {
	for _, n := range s.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return world.Node{}, false
}

// Faction returns the view for id.
func (s *Snapshot) Faction(id world.FactionID) (FactionView, bool) {
	for _, f := range s.Factions {
		if f.ID == id {
			return f, true
		}
	}
	return FactionView{}, false
}

type snapshotStore struct {
	mu   sync.RWMutex
	snap *Snapshot
}

func (st *snapshotStore) load() *Snapshot {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.snap
}

func (st *snapshotStore) store(s *Snapshot) {
	st.mu.Lock()
	st.snap = s
	st.mu.Unlock()
}

// Snapshot returns the latest published view. Safe from any goroutine.
func (s *Simulation) Snapshot() *Snapshot {
	return s.snap.load()
}

func (s *Simulation) publish() {
	snap := &Snapshot{
		Tick:      s.tick,
		At:        s.now,
		Clock:     SimTime(s.now.Sub(s.start)),
		State:     s.War.State(),
		Nodes:     s.Graph.Nodes(),
		Squads:    s.Roster.All(),
		Occupancy: s.Occupancy.Snapshot(),
		Captures:  s.Captures.Attempts(),
		Battles:   s.War.Sessions(),
		NextCycle: s.Economy.NextCycle(),
	}
	if out, ok := s.War.Outcome(); ok {
		snap.Outcome = &out
	}

	counts := s.Members.Count()
	for _, f := range s.Members.Factions() {
		v := FactionView{
			ID:      f.ID,
			Name:    f.Name,
			Color:   f.Color,
			Capital: f.Capital,
			Players: counts[f.ID],
			Balance: s.Economy.Balance(f.ID),
		}
		total := 0.0
		for _, n := range snap.Nodes {
			if n.Owner == f.ID {
				v.NodesHeld++
				total += n.Control
			}
		}
		if v.NodesHeld > 0 {
			v.AvgControl = total / float64(v.NodesHeld)
		}
		snap.Factions = append(snap.Factions, v)
	}
	s.snap.store(snap)
}
