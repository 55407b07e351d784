// Package war runs the top-level war state machine: battle sessions handed to
// the tactical engine, their results, timeouts, and victory.
package war

import (
	"fmt"
	"time"

	"github.com/talgya/frontline/internal/world"
)

// State of the war.
type State uint8

const (
	Preparation State = iota // Map set, nobody owns anything yet
	Strategic                // Open war, no battles running
	Battle                   // At least one tactical battle running
	Processing               // Applying a battle result
	Ended
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case Preparation:
		return "preparation"
	case Strategic:
		return "strategic"
	case Battle:
		return "battle"
	case Processing:
		return "processing"
	case Ended:
		return "ended"
	default:
		return "unknown"
	}
}

// MarshalText lets states appear by name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name.
func (s *State) UnmarshalText(b []byte) error {
	for c := Preparation; c <= Ended; c++ {
		if c.String() == string(b) {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("unknown war state %q", b)
}

// Active reports whether players may act.
func (s State) Active() bool {
	return s == Strategic || s == Battle
}

// Session is a battle handed to the tactical engine.
type Session struct {
	ID        string          `json:"id"`
	Node      world.NodeID    `json:"node"`
	Attacker  world.FactionID `json:"attacker"`
	Defender  world.FactionID `json:"defender"`
	StartedAt time.Time       `json:"started_at"`
	Active    bool            `json:"active"`
}

// Result is what the tactical engine reports when a battle ends.
type Result struct {
	Winner        world.FactionID `json:"winner"`
	Loser         world.FactionID `json:"loser"`
	Duration      time.Duration   `json:"duration"`
	Participants  int             `json:"participants"`
	ControlChange float64         `json:"control_change"` // control the attacker strips on a win
	Scores        map[string]int  `json:"scores,omitempty"`
}

// Outcome is the final result of a war.
type Outcome struct {
	Winner  world.FactionID         `json:"winner"`
	Reason  string                  `json:"reason"`
	EndedAt time.Time               `json:"ended_at"`
	Nodes   map[world.FactionID]int `json:"nodes"`
	Tokens  map[world.FactionID]int `json:"tokens"`
}

// Config controls battles and victory.
type Config struct {
	MaxBattles           int
	InitiationCost       int
	BattleTimeout        time.Duration
	DefenderBonus        float64 // control added when the defender holds
	DefaultControlChange float64 // used when a result carries no control change
	FortifyRate          float64 // control percent per token spent on fortification

	VictoryRule    string
	MinNodes       int
	MinAvgControl  float64
	TokenThreshold int
}

// DefaultVictoryRule wins on territory held at strength or on treasury size.
const DefaultVictoryRule = `(NodesHeld >= MinNodes && AvgControl >= MinAvgControl) || Tokens >= TokenThreshold`

// DefaultConfig returns the standard war rules.
func DefaultConfig() Config {
	return Config{
		MaxBattles:           3,
		InitiationCost:       100,
		BattleTimeout:        10 * time.Minute,
		DefenderBonus:        10,
		DefaultControlChange: 25,
		FortifyRate:          0.5,
		VictoryRule:          DefaultVictoryRule,
		MinNodes:             15,
		MinAvgControl:        80,
		TokenThreshold:       5000,
	}
}

// StartedPayload accompanies battle.started. It is the tactical engine's cue
// to bootstrap a scene.
type StartedPayload struct {
	Session Session `json:"session"`
}

// CompletedPayload accompanies battle.completed.
type CompletedPayload struct {
	Session  Session `json:"session"`
	Result   Result  `json:"result"`
	Takeover bool    `json:"takeover"`
	TimedOut bool    `json:"timed_out"`
}

// StatePayload accompanies war.state_changed.
type StatePayload struct {
	From State `json:"from"`
	To   State `json:"to"`
}

// FortifiedPayload accompanies node.fortified.
type FortifiedPayload struct {
	Node    world.NodeID    `json:"node"`
	Faction world.FactionID `json:"faction"`
	Tokens  int             `json:"tokens"`
	Control float64         `json:"control"`
}
