// War map generation using layered simplex noise.
// Cells of a hex grid become nodes; low terrain leaves holes, high ground
// becomes strategic, and a second noise layer marks resource depots.
package world

import (
	"fmt"
	"math/rand"
	"slices"

	opensimplex "github.com/ojrac/opensimplex-go"
)

// GenConfig holds war map generation parameters.
type GenConfig struct {
	Radius         int     // Hex grid radius (3 → up to 37 nodes)
	Seed           int64   // Noise seed
	HexSize        float64 // Hex circumradius in map units
	HoleLevel      float64 // Terrain below this leaves no node (0.0–1.0)
	StrategicLevel float64 // Terrain above this is strategic (0.0–1.0)
	ResourceLevel  float64 // Supply noise above this is a resource depot (0.0–1.0)
}

// DefaultGenConfig returns a reasonable starting configuration.
func DefaultGenConfig() GenConfig {
	return GenConfig{
		Radius:         3,
		Seed:           42,
		HexSize:        100,
		HoleLevel:      0.28,
		StrategicLevel: 0.68,
		ResourceLevel:  0.66,
	}
}

// Generated is a procedurally built graph together with its two capitals
// (west flank first).
type Generated struct {
	Graph    *Graph
	Capitals [2]NodeID
}

// Generate creates a connected war map. The central row of the grid is never
// holed so the two capitals at the west and east flanks stay connected.
func Generate(cfg GenConfig) (*Generated, error) {
	if cfg.Radius < 1 {
		return nil, fmt.Errorf("generate map: radius must be >= 1, got %d", cfg.Radius)
	}
	rng := rand.New(rand.NewSource(cfg.Seed + 200))

	terrainNoise := opensimplex.NewNormalized(cfg.Seed)
	supplyNoise := opensimplex.NewNormalized(cfg.Seed + 1)

	west := HexCoord{Q: -cfg.Radius, R: 0}
	east := HexCoord{Q: cfg.Radius, R: 0}

	type cell struct {
		coord   HexCoord
		terrain float64
		supply  float64
	}
	cells := make(map[HexCoord]cell)

	for q := -cfg.Radius; q <= cfg.Radius; q++ {
		for r := -cfg.Radius; r <= cfg.Radius; r++ {
			coord := HexCoord{Q: q, R: r}
			if max(abs(q), abs(r), abs(coord.S())) > cfg.Radius {
				continue
			}

			p := coord.Point(1)
			terrain := octaveNoise(terrainNoise, p.X, p.Y, 3, 0.35, 0.5)
			supply := octaveNoise(supplyNoise, p.X, p.Y, 2, 0.5, 0.5)

			if r != 0 && terrain < cfg.HoleLevel {
				continue
			}
			cells[coord] = cell{coord: coord, terrain: terrain, supply: supply}
		}
	}

	// Keep only cells reachable from the west capital.
	reachable := map[HexCoord]bool{west: true}
	queue := []HexCoord{west}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, nb := range cur.Neighbors() {
			if _, ok := cells[nb]; ok && !reachable[nb] {
				reachable[nb] = true
				queue = append(queue, nb)
			}
		}
	}

	coords := make([]HexCoord, 0, len(reachable))
	for c := range reachable {
		coords = append(coords, c)
	}
	slices.SortFunc(coords, func(a, b HexCoord) int {
		if a.R != b.R {
			return a.R - b.R
		}
		return a.Q - b.Q
	})

	names := generateNames(rng, len(coords))
	ids := make(map[HexCoord]NodeID, len(coords))
	g := NewGraph(nil)
	out := &Generated{Graph: g}

	for i, coord := range coords {
		c := cells[coord]
		id := NodeID(i)
		ids[coord] = id

		nodeType := NodeStandard
		switch {
		case coord == west || coord == east:
			nodeType = NodeCapital
		case c.terrain >= cfg.StrategicLevel:
			nodeType = NodeStrategic
		case c.supply >= cfg.ResourceLevel:
			nodeType = NodeResource
		}

		pos := coord.Point(cfg.HexSize)
		if err := g.AddNode(Node{ID: id, Name: names[i], Type: nodeType, Position: &pos}); err != nil {
			return nil, fmt.Errorf("generate map: %w", err)
		}
	}

	for _, coord := range coords {
		for _, nb := range coord.Neighbors() {
			if nid, ok := ids[nb]; ok && ids[coord] < nid {
				if err := g.Connect(ids[coord], nid); err != nil {
					return nil, fmt.Errorf("generate map: %w", err)
				}
			}
		}
	}

	out.Capitals = [2]NodeID{ids[west], ids[east]}
	return out, nil
}

// octaveNoise generates fractal noise by layering multiple frequencies.
func octaveNoise(noise opensimplex.Noise, x, y float64, octaves int, frequency, persistence float64) float64 {
	total := 0.0
	amplitude := 1.0
	maxVal := 0.0

	for i := 0; i < octaves; i++ {
		total += noise.Eval2(x*frequency, y*frequency) * amplitude
		maxVal += amplitude
		amplitude *= persistence
		frequency *= 2
	}

	return total / maxVal
}

// generateNames produces procedural node names by combining syllables.
func generateNames(rng *rand.Rand, count int) []string {
	prefixes := []string{
		"Iron", "Green", "Ash", "Stone", "Mill", "Cross", "Black",
		"Silver", "Red", "White", "Dark", "Bright", "High", "Low",
		"Old", "New", "Far", "Deep", "Long", "Broad", "Gold", "Frost",
		"Storm", "Thorn", "Elm", "Oak", "Pine", "Copper", "River",
	}
	suffixes := []string{
		"haven", "ford", "hollow", "wick", "bridge", "gate", "keep",
		"stead", "wood", "field", "dale", "crest", "vale", "port",
		"town", "bury", "marsh", "well", "brook", "cliff", "moor",
		"ridge", "watch", "fall", "rest", "point", "reach", "helm",
	}

	used := make(map[string]bool)
	names := make([]string, 0, count)

	for len(names) < count {
		name := prefixes[rng.Intn(len(prefixes))] + suffixes[rng.Intn(len(suffixes))]
		if !used[name] {
			used[name] = true
			names = append(names, name)
		}
	}

	return names
}

// TypeCounts returns a summary of node type distribution.
func TypeCounts(g *Graph) map[NodeType]int {
	counts := make(map[NodeType]int)
	for _, n := range g.nodes {
		counts[n.Type]++
	}
	return counts
}
