package world

import (
	"fmt"
	"math"
	"slices"
)

// NodeID identifies a node in the territory graph.
type NodeID int

// NoNode marks the absence of a node (e.g. a squad in transit).
const NoNode NodeID = -1

// FactionID identifies one of the mutually exclusive sides.
type FactionID string

// NoFaction marks a neutral node.
const NoFaction FactionID = ""

// NodeType affects token generation and bonuses.
type NodeType uint8

const (
	NodeStandard  NodeType = iota // Ordinary territory
	NodeCapital                   // Faction seat, starting point for new squads
	NodeStrategic                 // Chokepoints and high ground
	NodeResource                  // Depots and supply fields
)

// Multiplier returns the generation multiplier for the node type.
func (t NodeType) Multiplier() float64 {
	switch t {
	case NodeCapital:
		return 1.5
	case NodeStrategic:
		return 1.25
	case NodeResource:
		return 2.0
	default:
		return 1.0
	}
}

// String returns the lowercase name used in map files and the API.
func (t NodeType) String() string {
	switch t {
	case NodeStandard:
		return "standard"
	case NodeCapital:
		return "capital"
	case NodeStrategic:
		return "strategic"
	case NodeResource:
		return "resource"
	default:
		return "unknown"
	}
}

// ParseNodeType maps a name to a NodeType.
func ParseNodeType(s string) (NodeType, error) {
	switch s {
	case "", "standard":
		return NodeStandard, nil
	case "capital":
		return NodeCapital, nil
	case "strategic":
		return NodeStrategic, nil
	case "resource":
		return NodeResource, nil
	default:
		return NodeStandard, fmt.Errorf("unknown node type %q", s)
	}
}

// MarshalText lets node types appear by name in JSON.
func (t NodeType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText parses a node type name.
func (t *NodeType) UnmarshalText(b []byte) error {
	v, err := ParseNodeType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Point is a position in map units.
type Point struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// DistanceTo returns the Euclidean distance between two points.
func (p Point) DistanceTo(o Point) float64 {
	return math.Hypot(p.X-o.X, p.Y-o.Y)
}

// Node is a piece of contestable territory.
type Node struct {
	ID       NodeID   `json:"id"`
	Name     string   `json:"name"`
	Type     NodeType `json:"type"`
	Position *Point   `json:"position,omitempty"`

	// Control state.
	Owner       FactionID `json:"owner"`
	Control     float64   `json:"control"` // 0–100; 100 means uncontested full ownership
	Contested   bool      `json:"contested"`
	ContestedBy FactionID `json:"contested_by,omitempty"`

	// BattleActive is set while the tactical engine resolves a battle here.
	BattleActive bool `json:"battle_active"`

	Adjacent []NodeID `json:"adjacent"`
}

// IsNeutral reports whether no faction owns the node.
func (n Node) IsNeutral() bool {
	return n.Owner == NoFaction
}

// HasNeighbor reports whether id is in the adjacency list.
func (n Node) HasNeighbor(id NodeID) bool {
	return slices.Contains(n.Adjacent, id)
}

// clone returns a deep copy safe to hand to observers.
func (n *Node) clone() Node {
	c := *n
	c.Adjacent = slices.Clone(n.Adjacent)
	if n.Position != nil {
		p := *n.Position
		c.Position = &p
	}
	return c
}
