package world

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/talgya/frontline/internal/apperrors"
	"github.com/talgya/frontline/internal/events"
	"github.com/talgya/frontline/internal/mathx"
)

var (
	// ErrUnknownNode indicates a node identity that is not in the graph.
	ErrUnknownNode = apperrors.New(apperrors.CodeUnknownNode, "unknown node")
	// ErrDuplicateNode indicates AddNode was called twice for the same identity.
	ErrDuplicateNode = apperrors.New(apperrors.CodeDuplicateNode, "duplicate node")
)

// NodeCapturedPayload accompanies events.NodeCaptured.
type NodeCapturedPayload struct {
	Node          NodeID    `json:"node"`
	Name          string    `json:"name"`
	Owner         FactionID `json:"owner"`
	PreviousOwner FactionID `json:"previous_owner"`
}

// ContestedChangedPayload accompanies events.NodeContestedChanged.
type ContestedChangedPayload struct {
	Node      NodeID    `json:"node"`
	Contested bool      `json:"contested"`
	Attacker  FactionID `json:"attacker,omitempty"`
}

// Graph holds the territory nodes, their adjacency, and control state.
// It is owned by the authority; observers receive copies.
type Graph struct {
	nodes map[NodeID]*Node
	order []NodeID // ascending IDs
	emit  events.Emitter
}

// NewGraph creates an empty graph. A nil emitter discards events.
func NewGraph(emit events.Emitter) *Graph {
	if emit == nil {
		emit = events.Discard
	}
	return &Graph{
		nodes: make(map[NodeID]*Node),
		emit:  emit,
	}
}

// SetEmitter replaces the event sink (used when a graph is built before the bus exists).
func (g *Graph) SetEmitter(emit events.Emitter) {
	if emit == nil {
		emit = events.Discard
	}
	g.emit = emit
}

// AddNode inserts a node. Adjacency listed on n is kept as given; use Connect
// to build symmetric edges.
func (g *Graph) AddNode(n Node) error {
	if _, exists := g.nodes[n.ID]; exists {
		return apperrors.WithMetadata(apperrors.CodeDuplicateNode,
			fmt.Sprintf("node %d already exists", n.ID), map[string]string{"node": fmt.Sprint(n.ID)})
	}
	n.Control = mathx.Clamp(n.Control, 0, 100)
	c := n.clone()
	g.nodes[n.ID] = &c

	i, _ := slices.BinarySearch(g.order, n.ID)
	g.order = slices.Insert(g.order, i, n.ID)
	return nil
}

// Connect adds a symmetric edge between a and b.
func (g *Graph) Connect(a, b NodeID) error {
	na, ok := g.nodes[a]
	if !ok {
		return unknownNode(a)
	}
	nb, ok := g.nodes[b]
	if !ok {
		return unknownNode(b)
	}
	if a == b {
		return apperrors.New(apperrors.CodeInvalidMap, fmt.Sprintf("node %d cannot connect to itself", a))
	}
	if !slices.Contains(na.Adjacent, b) {
		na.Adjacent = append(na.Adjacent, b)
		slices.Sort(na.Adjacent)
	}
	if !slices.Contains(nb.Adjacent, a) {
		nb.Adjacent = append(nb.Adjacent, a)
		slices.Sort(nb.Adjacent)
	}
	return nil
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.order)
}

// IDs returns all node identities in ascending order.
func (g *Graph) IDs() []NodeID {
	return slices.Clone(g.order)
}

// Node returns a copy of the node.
func (g *Graph) Node(id NodeID) (Node, bool) {
	n, ok := g.nodes[id]
	if !ok {
		return Node{}, false
	}
	return n.clone(), true
}

// Has reports whether the node exists.
func (g *Graph) Has(id NodeID) bool {
	_, ok := g.nodes[id]
	return ok
}

// Nodes returns copies of every node in ascending ID order.
func (g *Graph) Nodes() []Node {
	out := make([]Node, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.nodes[id].clone())
	}
	return out
}

// SetControl assigns ownership and control percentage. Control is clamped to
// [0,100]; reaching 100 clears the contested flag. A "node captured" event is
// emitted only when ownership changes at full control.
func (g *Graph) SetControl(id NodeID, faction FactionID, pct float64) error {
	n, ok := g.nodes[id]
	if !ok {
		return unknownNode(id)
	}

	pct = mathx.Clamp(pct, 0, 100)
	previous := n.Owner
	n.Owner = faction
	n.Control = pct

	if pct >= 100 && n.Contested {
		g.setContested(n, false, NoFaction)
	}

	if previous != faction && pct >= 100 {
		slog.Info("node captured", "node", n.Name, "id", id, "owner", faction, "previous", previous)
		g.emit.Emit(events.NodeCaptured,
			fmt.Sprintf("%s captured by %s", n.Name, faction),
			NodeCapturedPayload{Node: id, Name: n.Name, Owner: faction, PreviousOwner: previous})
	}
	return nil
}

// SetContested toggles the contested flag, emitting on transition only.
func (g *Graph) SetContested(id NodeID, contested bool, attacker FactionID) error {
	n, ok := g.nodes[id]
	if !ok {
		return unknownNode(id)
	}
	g.setContested(n, contested, attacker)
	return nil
}

func (g *Graph) setContested(n *Node, contested bool, attacker FactionID) {
	if !contested {
		attacker = NoFaction
	}
	if n.Contested == contested {
		n.ContestedBy = attacker
		return
	}
	n.Contested = contested
	n.ContestedBy = attacker
	g.emit.Emit(events.NodeContestedChanged,
		fmt.Sprintf("%s contested=%t", n.Name, contested),
		ContestedChangedPayload{Node: n.ID, Contested: contested, Attacker: attacker})
}

// SetBattleActive toggles the battle flag consumed by the tactical engine bootstrap.
func (g *Graph) SetBattleActive(id NodeID, active bool) error {
	n, ok := g.nodes[id]
	if !ok {
		return unknownNode(id)
	}
	n.BattleActive = active
	return nil
}

// CanBeAttackedBy reports whether faction may open an attack on the node. The
// faction must not own it, no battle may be running there, and at least one
// adjacent node must be held by the faction. This keeps expansion on the front line.
func (g *Graph) CanBeAttackedBy(id NodeID, faction FactionID) bool {
	n, ok := g.nodes[id]
	if !ok || faction == NoFaction {
		return false
	}
	if n.Owner == faction || n.BattleActive {
		return false
	}
	for _, adj := range n.Adjacent {
		if a, ok := g.nodes[adj]; ok && a.Owner == faction {
			return true
		}
	}
	return false
}

// IsAdjacent reports whether a and b share an edge.
func (g *Graph) IsAdjacent(a, b NodeID) bool {
	n, ok := g.nodes[a]
	if !ok {
		return false
	}
	return n.HasNeighbor(b)
}

// Distance returns the Euclidean distance between two nodes. ok is false if
// either node is unknown or has no position.
func (g *Graph) Distance(a, b NodeID) (float64, bool) {
	na, okA := g.nodes[a]
	nb, okB := g.nodes[b]
	if !okA || !okB || na.Position == nil || nb.Position == nil {
		return 0, false
	}
	return na.Position.DistanceTo(*nb.Position), true
}

// NearestOwned finds the closest node held by faction, excluding from itself.
// Adjacent nodes are preferred; otherwise the whole graph is searched breadth
// first. Ties resolve to the lowest ID.
func (g *Graph) NearestOwned(from NodeID, faction FactionID) (NodeID, bool) {
	start, ok := g.nodes[from]
	if !ok || faction == NoFaction {
		return NoNode, false
	}

	for _, adj := range start.Adjacent {
		if n, ok := g.nodes[adj]; ok && n.Owner == faction {
			return adj, true
		}
	}

	visited := map[NodeID]bool{from: true}
	frontier := []NodeID{from}
	for len(frontier) > 0 {
		var next []NodeID
		var found []NodeID
		for _, id := range frontier {
			for _, adj := range g.nodes[id].Adjacent {
				if visited[adj] {
					continue
				}
				visited[adj] = true
				n, ok := g.nodes[adj]
				if !ok {
					continue
				}
				if n.Owner == faction {
					found = append(found, adj)
				}
				next = append(next, adj)
			}
		}
		if len(found) > 0 {
			return slices.Min(found), true
		}
		slices.Sort(next)
		frontier = next
	}

	// Disconnected components still count as somewhere to fall back to.
	for _, id := range g.order {
		if id != from && !visited[id] && g.nodes[id].Owner == faction {
			return id, true
		}
	}
	return NoNode, false
}

// OwnedBy returns copies of every node held by faction.
func (g *Graph) OwnedBy(faction FactionID) []Node {
	var out []Node
	for _, id := range g.order {
		if n := g.nodes[id]; n.Owner == faction {
			out = append(out, n.clone())
		}
	}
	return out
}

// ResetControl returns every node to neutral, uncontested, with no battle.
func (g *Graph) ResetControl() {
	for _, id := range g.order {
		n := g.nodes[id]
		n.Owner = NoFaction
		n.Control = 0
		n.Contested = false
		n.ContestedBy = NoFaction
		n.BattleActive = false
	}
}

func unknownNode(id NodeID) error {
	return apperrors.WithMetadata(apperrors.CodeUnknownNode,
		fmt.Sprintf("unknown node %d", id), map[string]string{"node": fmt.Sprint(id)})
}
