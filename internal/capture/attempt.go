// Package capture runs the per-node capture state machine. It reads
// per-faction manpower from the occupancy view, advances or freezes capture
// attempts, and hands ownership over in the territory graph.
package capture

import (
	"fmt"
	"slices"
	"time"

	"github.com/talgya/frontline/internal/world"
)

// State of a capture attempt.
type State uint8

const (
	Capturing State = iota // Single attacker, no defenders: timer running
	Contested              // Opposing presence: progress frozen
	Completed
	Cancelled
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case Capturing:
		return "capturing"
	case Contested:
		return "contested"
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
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
	for c := Capturing; c <= Cancelled; c++ {
		if c.String() == string(b) {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("unknown capture state %q", b)
}

// Attempt tracks one faction's effort to take a node. At most one exists per
// node. Progress only advances while Capturing.
type Attempt struct {
	ID           string            `json:"id"`
	Node         world.NodeID      `json:"node"`
	Attacker     world.FactionID   `json:"attacker"` // primary attacker when several are present
	Defender     world.FactionID   `json:"defender"`
	State        State             `json:"state"`
	StartedAt    time.Time         `json:"started_at"`
	Progress     float64           `json:"progress"`
	ContestedAt  time.Time         `json:"contested_at,omitzero"`
	Participants []world.FactionID `json:"participants"` // every faction that has attacked in this attempt
	Unresolved   bool              `json:"unresolved"`

	elapsed      time.Duration
	lastProgress time.Time
}

func (a *Attempt) participated(f world.FactionID) bool {
	return slices.Contains(a.Participants, f)
}

func (a *Attempt) join(f world.FactionID) {
	if !a.participated(f) {
		a.Participants = append(a.Participants, f)
		slices.Sort(a.Participants)
	}
}

func (a *Attempt) clone() Attempt {
	c := *a
	c.Participants = slices.Clone(a.Participants)
	return c
}

// Config controls capture timing.
type Config struct {
	EvalInterval     time.Duration
	Duration         time.Duration // uncontested time to capture
	ProgressInterval time.Duration // minimum gap between progress events
	DecayFactor      float64       // abandoned progress lost per unit of real time
}

// DefaultConfig returns the standard capture rules.
func DefaultConfig() Config {
	return Config{
		EvalInterval:     500 * time.Millisecond,
		Duration:         60 * time.Second,
		ProgressInterval: time.Second,
		DecayFactor:      0.5,
	}
}

// AttemptPayload accompanies capture.started, capture.progress and capture.cancelled.
type AttemptPayload struct {
	Attempt Attempt `json:"attempt"`
	Reason  string  `json:"reason,omitempty"`
}

// ContestedPayload accompanies capture.contested. PrepareTactical tells the
// tactical engine to get a scene ready for this node.
type ContestedPayload struct {
	Attempt         Attempt `json:"attempt"`
	PrepareTactical bool    `json:"prepare_tactical"`
}

// CompletedPayload accompanies capture.completed.
type CompletedPayload struct {
	Node          world.NodeID    `json:"node"`
	Owner         world.FactionID `json:"owner"`
	PreviousOwner world.FactionID `json:"previous_owner"`
	AttemptID     string          `json:"attempt_id,omitempty"`
	Retreated     []string        `json:"retreated,omitempty"`
}
