// Package occupancy projects every squad onto the territory graph once per
// tick and allocates spawn tickets from the squads present at a node.
package occupancy

import (
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/talgya/frontline/internal/apperrors"
	"github.com/talgya/frontline/internal/entropy"
	"github.com/talgya/frontline/internal/events"
	"github.com/talgya/frontline/internal/squads"
	"github.com/talgya/frontline/internal/world"
)

// DefaultHistoryLimit bounds the per-node spawn history.
const DefaultHistoryLimit = 50

var (
	// ErrNodeNotTracked is a configuration error: the node has no bucket.
	ErrNodeNotTracked = apperrors.New(apperrors.CodeNodeNotTracked, "node not tracked")
	// ErrNoEligibleSquads means the faction has no manpower at the node.
	ErrNoEligibleSquads = apperrors.New(apperrors.CodeNoEligibleSquads, "no eligible squads")
)

// Presence is the derived per-tick projection of a squad into a node.
type Presence struct {
	Squad    string          `json:"squad"`
	Owner    string          `json:"owner"`
	Faction  world.FactionID `json:"faction"`
	Manpower int             `json:"manpower"`
	ETA      time.Duration   `json:"eta,omitempty"` // incoming only
}

// NodeOccupancy is the present and incoming squads at one node.
type NodeOccupancy struct {
	Node     world.NodeID            `json:"node"`
	Present  []Presence              `json:"present"`
	Incoming []Presence              `json:"incoming"`
	Manpower map[world.FactionID]int `json:"manpower"` // present squads only
}

func (o *NodeOccupancy) clone() NodeOccupancy {
	c := NodeOccupancy{
		Node:     o.Node,
		Present:  slices.Clone(o.Present),
		Incoming: slices.Clone(o.Incoming),
		Manpower: make(map[world.FactionID]int, len(o.Manpower)),
	}
	for f, m := range o.Manpower {
		c.Manpower[f] = m
	}
	return c
}

// SpawnRecord is one consumed ticket.
type SpawnRecord struct {
	Node      world.NodeID `json:"node"`
	Squad     string       `json:"squad"`
	Owner     string       `json:"owner"`
	Requester string       `json:"requester"`
	At        time.Time    `json:"at"`
}

// TicketPayload accompanies spawn.ticket_consumed.
type TicketPayload struct {
	SpawnRecord
	Faction   world.FactionID `json:"faction"`
	Remaining int             `json:"remaining"`
}

// DepletedPayload accompanies faction.manpower_depleted.
type DepletedPayload struct {
	Node      world.NodeID    `json:"node"`
	Faction   world.FactionID `json:"faction"`
	Requester string          `json:"requester"`
}

// SquadSource lists squads and consumes their manpower.
type SquadSource interface {
	All() []squads.Squad
	ConsumeManpower(squadID string, amount int) error
}

// NodeLister enumerates the nodes to track.
type NodeLister interface {
	IDs() []world.NodeID
}

// Tracker holds the per-node occupancy view.
type Tracker struct {
	squads       SquadSource
	rng          entropy.Source
	emit         events.Emitter
	historyLimit int

	nodes   map[world.NodeID]*NodeOccupancy
	order   []world.NodeID
	history map[world.NodeID][]SpawnRecord
}

// NewTracker creates a tracker with one bucket per node in graph.
func NewTracker(graph NodeLister, src SquadSource, rng entropy.Source, emit events.Emitter) *Tracker {
	if emit == nil {
		emit = events.Discard
	}
	if rng == nil {
		rng = entropy.Crypto{}
	}
	t := &Tracker{
		squads:       src,
		rng:          rng,
		emit:         emit,
		historyLimit: DefaultHistoryLimit,
	}
	t.Reinitialize(graph)
	return t
}

// SetHistoryLimit changes the per-node spawn history bound.
func (t *Tracker) SetHistoryLimit(n int) {
	if n > 0 {
		t.historyLimit = n
	}
}

// Reinitialize rebuilds tracking buckets from the graph and clears history.
func (t *Tracker) Reinitialize(graph NodeLister) {
	t.order = graph.IDs()
	t.nodes = make(map[world.NodeID]*NodeOccupancy, len(t.order))
	t.history = make(map[world.NodeID][]SpawnRecord, len(t.order))
	for _, id := range t.order {
		t.nodes[id] = &NodeOccupancy{Node: id, Manpower: make(map[world.FactionID]int)}
	}
}

// Rebuild clears every bucket and re-projects all squads with manpower.
// Moving squads count as incoming at their destination with an ETA;
// stationary and in-battle squads count as present.
func (t *Tracker) Rebuild(now time.Time) {
	for _, o := range t.nodes {
		o.Present = o.Present[:0]
		o.Incoming = o.Incoming[:0]
		clear(o.Manpower)
	}

	for _, s := range t.squads.All() {
		if s.Manpower <= 0 {
			continue
		}
		p := Presence{Squad: s.ID, Owner: s.Owner, Faction: s.Faction, Manpower: s.Manpower}

		if s.IsMoving() {
			o, ok := t.nodes[s.Destination]
			if !ok {
				slog.Warn("squad heading to untracked node", "squad", s.ID, "node", s.Destination)
				continue
			}
			p.ETA = s.Remaining(now)
			o.Incoming = append(o.Incoming, p)
			continue
		}

		o, ok := t.nodes[s.Node]
		if !ok {
			slog.Warn("squad at untracked node", "squad", s.ID, "node", s.Node)
			continue
		}
		o.Present = append(o.Present, p)
		o.Manpower[s.Faction] += s.Manpower
	}
}

// At returns a copy of the node's occupancy.
func (t *Tracker) At(node world.NodeID) (NodeOccupancy, bool) {
	o, ok := t.nodes[node]
	if !ok {
		return NodeOccupancy{}, false
	}
	return o.clone(), true
}

// Manpower returns per-faction present manpower at node. The map is shared
// with the tracker and valid until the next Rebuild.
func (t *Tracker) Manpower(node world.NodeID) map[world.FactionID]int {
	if o, ok := t.nodes[node]; ok {
		return o.Manpower
	}
	return nil
}

// ManpowerAt returns one faction's present manpower at node.
func (t *Tracker) ManpowerAt(node world.NodeID, faction world.FactionID) int {
	if o, ok := t.nodes[node]; ok {
		return o.Manpower[faction]
	}
	return 0
}

// Nodes returns tracked node IDs in ascending order.
func (t *Tracker) Nodes() []world.NodeID {
	return slices.Clone(t.order)
}

// Snapshot returns copies of every node's occupancy.
func (t *Tracker) Snapshot() []NodeOccupancy {
	out := make([]NodeOccupancy, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.nodes[id].clone())
	}
	return out
}

// RequestSpawnTicket draws one unit of manpower from the faction's squads
// stationed at node, each weighted by its manpower. It returns the squad
// charged.
func (t *Tracker) RequestSpawnTicket(node world.NodeID, faction world.FactionID, requester string, now time.Time) (SpawnRecord, error) {
	o, ok := t.nodes[node]
	if !ok {
		slog.Error("spawn ticket for untracked node", "node", node, "faction", faction, "requester", requester)
		return SpawnRecord{}, apperrors.WithMetadata(apperrors.CodeNodeNotTracked,
			fmt.Sprintf("node %d is not tracked", node), map[string]string{"node": fmt.Sprint(node)})
	}

	// Commands land between rebuilds, so eligibility follows live squad state.
	total := 0
	var eligible []squads.Squad
	for _, s := range t.squads.All() {
		if s.IsMoving() || s.Node != node || s.Faction != faction || s.Manpower <= 0 {
			continue
		}
		eligible = append(eligible, s)
		total += s.Manpower
	}
	if total == 0 {
		t.emit.Emit(events.ManpowerDepleted,
			fmt.Sprintf("%s has no manpower at node %d", faction, node),
			DepletedPayload{Node: node, Faction: faction, Requester: requester})
		return SpawnRecord{}, apperrors.WithMetadata(apperrors.CodeNoEligibleSquads,
			fmt.Sprintf("%s has no manpower at node %d", faction, node),
			map[string]string{"node": fmt.Sprint(node), "faction": string(faction)})
	}

	draw := t.rng.Float64() * float64(total)
	chosen := eligible[len(eligible)-1]
	cum := 0.0
	for _, s := range eligible {
		cum += float64(s.Manpower)
		if draw < cum {
			chosen = s
			break
		}
	}

	if err := t.squads.ConsumeManpower(chosen.ID, 1); err != nil {
		return SpawnRecord{}, err
	}
	remaining := chosen.Manpower - 1
	for i := range o.Present {
		if o.Present[i].Squad == chosen.ID {
			o.Present[i].Manpower = remaining
			o.Manpower[faction] = max(o.Manpower[faction]-1, 0)
			break
		}
	}

	rec := SpawnRecord{Node: node, Squad: chosen.ID, Owner: chosen.Owner, Requester: requester, At: now}
	h := append(t.history[node], rec)
	if over := len(h) - t.historyLimit; over > 0 {
		h = slices.Delete(h, 0, over)
	}
	t.history[node] = h

	t.emit.Emit(events.SpawnTicketConsumed,
		fmt.Sprintf("%s spawned from %s at node %d (%d left)", requester, chosen.ID, node, remaining),
		TicketPayload{SpawnRecord: rec, Faction: faction, Remaining: remaining})
	return rec, nil
}

// SpawnHistory returns the node's recent tickets, oldest first.
func (t *Tracker) SpawnHistory(node world.NodeID) []SpawnRecord {
	return slices.Clone(t.history[node])
}
