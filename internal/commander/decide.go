package commander

import (
	"slices"

	"github.com/talgya/frontline/internal/engine"
	"github.com/talgya/frontline/internal/squads"
	"github.com/talgya/frontline/internal/world"
)

// Params are the commander's standing instructions.
type Params struct {
	Player     string
	Faction    world.FactionID // empty lets the server pick
	Reserve    int             // tokens never spent
	BattleCost int             // tokens a battle request costs
	FortifyMax int             // most tokens sunk into one fortification
}

// Decide turns a snapshot and its assessment into an ordered list of
// commands. Resupply comes first so moves carry the new manpower.
func Decide(snap *engine.Snapshot, a *Assessment, p Params, mem *CycleMemory) []engine.Command {
	var mine []squads.Squad
	for _, sq := range snap.Squads {
		if sq.Owner == p.Player {
			mine = append(mine, sq)
		}
	}
	if len(mine) == 0 {
		return []engine.Command{engine.JoinPlayer{Player: p.Player, Faction: p.Faction}}
	}

	byID := make(map[world.NodeID]world.Node, len(snap.Nodes))
	for _, n := range snap.Nodes {
		byID[n.ID] = n
	}
	budget := a.Balance - p.Reserve
	var orders []engine.Command

	manpower := make(map[int]int, len(mine))
	for _, sq := range mine {
		manpower[sq.Index] = sq.Manpower
		if sq.State == squads.Moving || sq.Manpower >= sq.MaxManpower || budget <= 0 {
			continue
		}
		amount := min(sq.MaxManpower-sq.Manpower, budget)
		orders = append(orders, engine.Resupply{Player: p.Player, Squad: sq.Index, Amount: amount})
		manpower[sq.Index] += amount
		budget -= amount
	}

	claimed := map[world.NodeID]bool{}
	for _, sq := range mine {
		if sq.State != squads.Stationary || manpower[sq.Index] == 0 {
			continue
		}
		// Hold ground we are taking or defending.
		here := byID[sq.Node]
		if here.Owner != a.Faction || slices.Contains(a.Threatened, sq.Node) {
			continue
		}
		target, ok := pickMove(here, a, claimed, mem)
		if !ok {
			continue
		}
		orders = append(orders, engine.MoveSquad{Player: p.Player, Squad: sq.Index, Target: target})
		claimed[target] = true
	}

	if a.Posture == Attack && p.BattleCost > 0 && budget >= p.BattleCost {
		for _, t := range a.Targets {
			if mem.Refused(engine.RequestBattle{}.Name(), t) {
				continue
			}
			orders = append(orders, engine.RequestBattle{Player: p.Player, Node: t})
			budget -= p.BattleCost
			break
		}
	}

	if budget > 0 && p.FortifyMax > 0 {
		for _, n := range a.Weakened {
			if mem.Refused(engine.Fortify{}.Name(), n) {
				continue
			}
			orders = append(orders, engine.Fortify{Player: p.Player, Node: n, Tokens: min(budget, p.FortifyMax)})
			break
		}
	}
	return orders
}

// pickMove chooses a neighbour of here: a threatened node of ours first,
// then neutral ground, then the weakest enemy node.
func pickMove(here world.Node, a *Assessment, claimed map[world.NodeID]bool, mem *CycleMemory) (world.NodeID, bool) {
	move := engine.MoveSquad{}.Name()
	usable := func(id world.NodeID) bool {
		return slices.Contains(here.Adjacent, id) && !claimed[id] && !mem.Refused(move, id)
	}
	for _, list := range [][]world.NodeID{a.Threatened, a.Frontier, a.Targets} {
		for _, id := range list {
			if usable(id) {
				return id, true
			}
		}
	}
	return world.NoNode, false
}
