package world

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// MapFile is the on-disk description of a hand-authored war map.
//
//	capitals: {red: 0, blue: 4}
//	nodes:
//	  - {id: 0, name: Ironhaven, type: capital, x: 0, y: 0, adjacent: [1]}
type MapFile struct {
	Capitals map[FactionID]NodeID `yaml:"capitals"`
	Nodes    []MapNode            `yaml:"nodes"`
}

// MapNode is one node entry in a MapFile. X and Y are optional; without them
// squads fall back to the default travel time.
type MapNode struct {
	ID       NodeID   `yaml:"id"`
	Name     string   `yaml:"name"`
	Type     string   `yaml:"type"`
	X        *float64 `yaml:"x"`
	Y        *float64 `yaml:"y"`
	Adjacent []NodeID `yaml:"adjacent"`
}

// LoadMapFile reads and builds a graph from a YAML map description.
func LoadMapFile(path string) (*Graph, map[FactionID]NodeID, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read map: %w", err)
	}
	return ParseMap(data)
}

// ParseMap builds a graph from YAML bytes. Adjacency is made symmetric.
func ParseMap(data []byte) (*Graph, map[FactionID]NodeID, error) {
	var mf MapFile
	if err := yaml.Unmarshal(data, &mf); err != nil {
		return nil, nil, fmt.Errorf("parse map: %w", err)
	}
	if len(mf.Nodes) == 0 {
		return nil, nil, fmt.Errorf("parse map: no nodes")
	}

	g := NewGraph(nil)
	for _, mn := range mf.Nodes {
		nodeType, err := ParseNodeType(mn.Type)
		if err != nil {
			return nil, nil, fmt.Errorf("parse map: node %d: %w", mn.ID, err)
		}
		n := Node{ID: mn.ID, Name: mn.Name, Type: nodeType}
		if n.Name == "" {
			n.Name = fmt.Sprintf("Node %d", mn.ID)
		}
		if mn.X != nil && mn.Y != nil {
			n.Position = &Point{X: *mn.X, Y: *mn.Y}
		}
		if err := g.AddNode(n); err != nil {
			return nil, nil, fmt.Errorf("parse map: %w", err)
		}
	}
	for _, mn := range mf.Nodes {
		for _, adj := range mn.Adjacent {
			if err := g.Connect(mn.ID, adj); err != nil {
				return nil, nil, fmt.Errorf("parse map: node %d: %w", mn.ID, err)
			}
		}
	}
	for faction, id := range mf.Capitals {
		if !g.Has(id) {
			return nil, nil, fmt.Errorf("parse map: capital of %s: %w", faction, unknownNode(id))
		}
	}
	return g, mf.Capitals, nil
}
