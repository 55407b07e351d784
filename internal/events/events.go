// Package events defines the typed notifications produced by the authority and
// the bus that fans them out to observers. Observers never mutate state; they
// render from snapshots and react to events.
package events

import (
	"strings"
	"sync"
	"time"
)

// Kind identifies the type of an event.
type Kind string

// Territory events.
const (
	NodeCaptured         Kind = "node.captured"
	NodeContestedChanged Kind = "node.contested_changed"
)

// Capture events.
const (
	CaptureStarted   Kind = "capture.started"
	CaptureProgress  Kind = "capture.progress"
	CaptureContested Kind = "capture.contested"
	CaptureCancelled Kind = "capture.cancelled"
	CaptureCompleted Kind = "capture.completed"
)

// Squad events.
const (
	SquadCreated           Kind = "squad.created"
	SquadUpdated           Kind = "squad.updated"
	SquadDestroyed         Kind = "squad.destroyed"
	SquadMovementStarted   Kind = "squad.movement_started"
	SquadMovementCancelled Kind = "squad.movement_cancelled"
	SquadArrived           Kind = "squad.arrived"
	SquadResupplied        Kind = "squad.resupplied"
	SquadRetreating        Kind = "squad.retreating"
)

// Player events.
const (
	PlayerJoined Kind = "player.joined"
	PlayerLeft   Kind = "player.left"
)

// Occupancy events.
const (
	SpawnTicketConsumed Kind = "spawn.ticket_consumed"
	ManpowerDepleted    Kind = "faction.manpower_depleted"
)

// Economy events.
const (
	TokensChanged       Kind = "tokens.changed"
	TokensSpent         Kind = "tokens.spent"
	TokensEarned        Kind = "tokens.earned"
	TokenCycleCompleted Kind = "tokens.cycle_completed"
)

// War events.
const (
	BattleStarted   Kind = "battle.started"
	BattleCompleted Kind = "battle.completed"
	WarStateChanged Kind = "war.state_changed"
	WarEnded        Kind = "war.ended"
	NodeFortified   Kind = "node.fortified"
)

// Domain returns the prefix of the kind (e.g. "capture" for "capture.started").
func (k Kind) Domain() string {
	if i := strings.IndexByte(string(k), '.'); i >= 0 {
		return string(k[:i])
	}
	return string(k)
}

// Event is an immutable notification. Payload holds a typed struct defined by
// the emitting package.
type Event struct {
	Seq         uint64    `json:"seq"`
	At          time.Time `json:"at"`
	Kind        Kind      `json:"kind"`
	Description string    `json:"description"`
	Payload     any       `json:"payload,omitempty"`
}

// Emitter is implemented by anything that accepts events from components.
type Emitter interface {
	Emit(kind Kind, description string, payload any)
}

// Discard is an Emitter that drops everything.
var Discard Emitter = discard{}

type discard struct{}

func (discard) Emit(Kind, string, any) {}

const (
	defaultRecent     = 1000
	subscriberBacklog = 256
)

// Bus stamps events with a sequence number and the authoritative clock, keeps a
// bounded ring of recent events, and fans them out to subscribers without
// blocking the emitter.
type Bus struct {
	mu      sync.Mutex
	clock   func() time.Time
	seq     uint64
	recent  []Event
	limit   int
	subs    map[int]chan Event
	nextSub int
	dropped uint64
}

// NewBus creates a bus using clock to timestamp events. A nil clock uses time.Now.
func NewBus(clock func() time.Time) *Bus {
	if clock == nil {
		clock = time.Now
	}
	return &Bus{
		clock: clock,
		limit: defaultRecent,
		subs:  make(map[int]chan Event),
	}
}

// Emit implements Emitter.
func (b *Bus) Emit(kind Kind, description string, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	e := Event{
		Seq:         b.seq,
		At:          b.clock(),
		Kind:        kind,
		Description: description,
		Payload:     payload,
	}

	b.recent = append(b.recent, e)
	if len(b.recent) > b.limit {
		b.recent = b.recent[len(b.recent)-b.limit:]
	}

	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped++
		}
	}
}

// Subscribe registers a new observer. The channel is closed by Unsubscribe.
func (b *Bus) Subscribe() (int, <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSub++
	ch := make(chan Event, subscriberBacklog)
	b.subs[b.nextSub] = ch
	return b.nextSub, ch
}

// Unsubscribe removes an observer and closes its channel.
func (b *Bus) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subs[id]; ok {
		close(ch)
		delete(b.subs, id)
	}
}

// Recent returns up to n of the most recent events, oldest first.
func (b *Bus) Recent(n int) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	start := len(b.recent) - n
	if n <= 0 || start < 0 {
		start = 0
	}
	out := make([]Event, len(b.recent)-start)
	copy(out, b.recent[start:])
	return out
}

// Filter returns recent events of the given kind, oldest first.
func (b *Bus) Filter(kind Kind) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []Event
	for _, e := range b.recent {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// Dropped reports how many deliveries were skipped because a subscriber was full.
func (b *Bus) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
