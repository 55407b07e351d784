package commander

import (
	"cmp"
	"slices"

	"github.com/talgya/frontline/internal/engine"
	"github.com/talgya/frontline/internal/world"
)

// Posture is the commander's reading of the front.
type Posture string

const (
	Defend Posture = "DEFEND" // our territory is being taken
	Expand Posture = "EXPAND" // neutral ground borders us
	Attack Posture = "ATTACK" // only enemy ground is left
)

// Assessment holds signals derived from one snapshot for one faction.
// Runs before any decision; deterministic.
type Assessment struct {
	Faction    world.FactionID
	Tick       uint64
	Balance    int
	NodesHeld  int
	AvgControl float64

	Frontier   []world.NodeID // neutral nodes bordering our territory
	Targets    []world.NodeID // enemy nodes bordering our territory, weakest first
	Threatened []world.NodeID // our nodes under capture or battle
	Weakened   []world.NodeID // our quiet nodes below full control, weakest first

	Posture Posture
}

// Triage computes an Assessment of snap from faction's point of view.
func Triage(snap *engine.Snapshot, faction world.FactionID) *Assessment {
	a := &Assessment{Faction: faction, Tick: snap.Tick}
	if f, ok := snap.Faction(faction); ok {
		a.Balance = f.Balance
		a.NodesHeld = f.NodesHeld
		a.AvgControl = f.AvgControl
	}

	byID := make(map[world.NodeID]world.Node, len(snap.Nodes))
	for _, n := range snap.Nodes {
		byID[n.ID] = n
	}
	underCapture := map[world.NodeID]bool{}
	for _, c := range snap.Captures {
		underCapture[c.Node] = true
	}

	frontier, targets := map[world.NodeID]bool{}, map[world.NodeID]bool{}
	for _, n := range snap.Nodes {
		if n.Owner != faction {
			continue
		}
		switch {
		case underCapture[n.ID] || n.BattleActive || n.Contested:
			a.Threatened = append(a.Threatened, n.ID)
		case n.Control < 100:
			a.Weakened = append(a.Weakened, n.ID)
		}
		for _, adj := range n.Adjacent {
			m, ok := byID[adj]
			if !ok || m.Owner == faction {
				continue
			}
			if m.Owner == world.NoFaction {
				frontier[adj] = true
			} else if !m.BattleActive {
				targets[adj] = true
			}
		}
	}

	byControl := func(x, y world.NodeID) int {
		return cmp.Or(cmp.Compare(byID[x].Control, byID[y].Control), cmp.Compare(x, y))
	}
	a.Frontier = sortedKeys(frontier, func(x, y world.NodeID) int { return cmp.Compare(x, y) })
	a.Targets = sortedKeys(targets, byControl)
	slices.SortFunc(a.Weakened, byControl)

	switch {
	case len(a.Threatened) > 0:
		a.Posture = Defend
	case len(a.Frontier) > 0:
		a.Posture = Expand
	default:
		a.Posture = Attack
	}
	return a
}

func sortedKeys(set map[world.NodeID]bool, order func(a, b world.NodeID) int) []world.NodeID {
	out := make([]world.NodeID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	slices.SortFunc(out, order)
	return out
}
