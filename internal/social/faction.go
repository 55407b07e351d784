// Package social tracks the warring factions and which players fight for them.
package social

import (
	"fmt"
	"slices"
	"sync"

	"github.com/talgya/frontline/internal/apperrors"
	"github.com/talgya/frontline/internal/world"
)

// Faction is one side of the war.
type Faction struct {
	ID      world.FactionID `json:"id"`
	Name    string          `json:"name"`
	Color   string          `json:"color"`
	Capital world.NodeID    `json:"capital"`
}

var seeds = []Faction{
	{ID: "red", Name: "Crimson Accord", Color: "#c0392b"},
	{ID: "blue", Name: "Azure Compact", Color: "#2e86c1"},
	{ID: "green", Name: "Verdant Host", Color: "#27ae60"},
	{ID: "gold", Name: "Gilded Legion", Color: "#d4ac0d"},
}

// SeedFactions creates the first n factions, at least two and at most four.
// Capitals are unassigned (NoNode) until the war starts.
func SeedFactions(n int) []*Faction {
	n = max(2, min(n, len(seeds)))
	out := make([]*Faction, n)
	for i := range n {
		f := seeds[i]
		f.Capital = world.NoNode
		out[i] = &f
	}
	return out
}

// Membership assigns players to factions. Assignment is permanent for a match.
type Membership struct {
	mu       sync.RWMutex
	factions []*Faction
	players  map[string]world.FactionID
}

// NewMembership creates an empty membership over the given factions.
func NewMembership(factions []*Faction) *Membership {
	return &Membership{
		factions: factions,
		players:  make(map[string]world.FactionID),
	}
}

// Factions returns the participating factions in seed order.
func (m *Membership) Factions() []*Faction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.factions)
}

// Faction returns the faction with the given ID.
func (m *Membership) Faction(id world.FactionID) (*Faction, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, f := range m.factions {
		if f.ID == id {
			return f, true
		}
	}
	return nil, false
}

// Join assigns a player. An empty preference picks the faction with the
// fewest players (ties to seed order).
func (m *Membership) Join(player string, prefer world.FactionID) (world.FactionID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.players[player]; exists {
		return world.NoFaction, apperrors.WithMetadata(apperrors.CodePlayerExists,
			fmt.Sprintf("player %s already joined", player), map[string]string{"player": player})
	}

	if prefer != world.NoFaction {
		if !slices.ContainsFunc(m.factions, func(f *Faction) bool { return f.ID == prefer }) {
			return world.NoFaction, apperrors.WithMetadata(apperrors.CodeUnknownFaction,
				fmt.Sprintf("unknown faction %s", prefer), map[string]string{"faction": string(prefer)})
		}
		m.players[player] = prefer
		return prefer, nil
	}

	counts := make(map[world.FactionID]int)
	for _, f := range m.players {
		counts[f]++
	}
	best := m.factions[0].ID
	for _, f := range m.factions[1:] {
		if counts[f.ID] < counts[best] {
			best = f.ID
		}
	}
	m.players[player] = best
	return best, nil
}

// Leave removes a player.
func (m *Membership) Leave(player string) (world.FactionID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.players[player]
	delete(m.players, player)
	return f, ok
}

// FactionOf returns a player's faction.
func (m *Membership) FactionOf(player string) (world.FactionID, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.players[player]
	return f, ok
}

// Count returns the number of players per faction.
func (m *Membership) Count() map[world.FactionID]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := make(map[world.FactionID]int, len(m.factions))
	for _, f := range m.factions {
		counts[f.ID] = 0
	}
	for _, f := range m.players {
		counts[f]++
	}
	return counts
}

// AssignCapitals sets faction capitals in seed order. Extra factions beyond
// the number of capitals keep NoNode.
func (m *Membership) AssignCapitals(capitals map[world.FactionID]world.NodeID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.factions {
		if id, ok := capitals[f.ID]; ok {
			f.Capital = id
		} else {
			f.Capital = world.NoNode
		}
	}
}
