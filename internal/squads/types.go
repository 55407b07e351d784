// Package squads provides the per-player squad ledgers: movement between
// adjacent nodes, manpower resupply paid from the faction treasury, and the
// roster that aggregates every player's squads for the authority.
package squads

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/talgya/frontline/internal/world"
)

// MovementState is where a squad is in its movement lifecycle.
type MovementState uint8

const (
	Stationary MovementState = iota // Holding a node
	Moving                          // In transit between nodes
	InBattle                        // Pinned at a node with an active battle
)

// String returns the lowercase state name.
func (s MovementState) String() string {
	switch s {
	case Stationary:
		return "stationary"
	case Moving:
		return "moving"
	case InBattle:
		return "in_battle"
	default:
		return "unknown"
	}
}

// MarshalText lets movement states appear by name in JSON.
func (s MovementState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a movement state name.
func (s *MovementState) UnmarshalText(b []byte) error {
	for c := Stationary; c <= InBattle; c++ {
		if c.String() == string(b) {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("unknown movement state %q", b)
}

// Squad is a player-owned, independently movable pool of manpower.
// Exactly one of {Node is valid, State == Moving} holds.
type Squad struct {
	ID          string          `json:"id"`
	Owner       string          `json:"owner"`
	Faction     world.FactionID `json:"faction"`
	Index       int             `json:"index"`
	Manpower    int             `json:"manpower"`
	MaxManpower int             `json:"max_manpower"`

	Node        world.NodeID  `json:"node"`        // NoNode while moving
	Origin      world.NodeID  `json:"origin"`      // Departure node of the current or last move
	Destination world.NodeID  `json:"destination"` // NoNode unless moving
	State       MovementState `json:"state"`
	MoveStart   time.Time     `json:"move_start,omitzero"`
	Arrival     time.Time     `json:"arrival,omitzero"`
}

// SquadID derives the identity of a player's squad.
func SquadID(owner string, index int) string {
	return owner + "#" + strconv.Itoa(index)
}

// ParseSquadID splits a squad identity into owner and index.
func ParseSquadID(id string) (string, int, error) {
	i := strings.LastIndexByte(id, '#')
	if i <= 0 {
		return "", 0, fmt.Errorf("malformed squad id %q", id)
	}
	index, err := strconv.Atoi(id[i+1:])
	if err != nil {
		return "", 0, fmt.Errorf("malformed squad id %q: %w", id, err)
	}
	return id[:i], index, nil
}

// IsMoving reports whether the squad is in transit.
func (s Squad) IsMoving() bool {
	return s.State == Moving
}

// Capacity returns how much manpower the squad can still take.
func (s Squad) Capacity() int {
	return s.MaxManpower - s.Manpower
}

// TravelTime returns the total duration of the current move.
func (s Squad) TravelTime() time.Duration {
	return s.Arrival.Sub(s.MoveStart)
}

// Progress returns elapsed ÷ total travel time in [0,1]. Zero when stationary.
func (s Squad) Progress(now time.Time) float64 {
	if !s.IsMoving() {
		return 0
	}
	total := s.TravelTime()
	if total <= 0 {
		return 1
	}
	p := float64(now.Sub(s.MoveStart)) / float64(total)
	return min(max(p, 0), 1)
}

// Remaining returns the time left until arrival (zero if not moving or overdue).
func (s Squad) Remaining(now time.Time) time.Duration {
	if !s.IsMoving() {
		return 0
	}
	return max(s.Arrival.Sub(now), 0)
}

// Config controls squad capacity and travel.
type Config struct {
	PerPlayer     int
	MaxManpower   int
	Speed         float64 // map units per second
	MinTravel     time.Duration
	MaxTravel     time.Duration
	DefaultTravel time.Duration // used when either node has no position
	CancelWindow  float64       // latest progress at which a move may be cancelled
}

// DefaultConfig returns the standard squad rules.
func DefaultConfig() Config {
	return Config{
		PerPlayer:     3,
		MaxManpower:   50,
		Speed:         10,
		MinTravel:     10 * time.Second,
		MaxTravel:     60 * time.Second,
		DefaultTravel: 15 * time.Second,
		CancelWindow:  0.5,
	}
}

// Terrain is the read-only graph view used for path validation and travel time.
type Terrain interface {
	Has(id world.NodeID) bool
	IsAdjacent(a, b world.NodeID) bool
	Distance(a, b world.NodeID) (float64, bool)
}

// Treasury pays for resupply.
type Treasury interface {
	Spend(faction world.FactionID, amount int, reason string) error
}

// SquadPayload accompanies created, updated, destroyed and resupplied events.
type SquadPayload struct {
	Squad  Squad `json:"squad"`
	Amount int   `json:"amount,omitempty"`
}

// MovementPayload accompanies movement, arrival and retreat events.
type MovementPayload struct {
	Squad   string          `json:"squad"`
	Owner   string          `json:"owner"`
	Faction world.FactionID `json:"faction"`
	From    world.NodeID    `json:"from"`
	To      world.NodeID    `json:"to"`
	Arrival time.Time       `json:"arrival"`
}
