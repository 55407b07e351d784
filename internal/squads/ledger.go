package squads

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/talgya/frontline/internal/apperrors"
	"github.com/talgya/frontline/internal/events"
	"github.com/talgya/frontline/internal/mathx"
	"github.com/talgya/frontline/internal/world"
)

// ReasonResupply is the treasury reason recorded for manpower purchases.
const ReasonResupply = "squad resupply"

// Sentinel rejections. Returned errors match these with errors.Is.
var (
	ErrInvalidIndex         = apperrors.New(apperrors.CodeInvalidSquadIndex, "invalid squad index")
	ErrUnknownSquad         = apperrors.New(apperrors.CodeUnknownSquad, "unknown squad")
	ErrAlreadyMoving        = apperrors.New(apperrors.CodeSquadAlreadyMoving, "squad is already moving")
	ErrNotAtNode            = apperrors.New(apperrors.CodeSquadNotAtNode, "squad is not at a node")
	ErrNotMoving            = apperrors.New(apperrors.CodeSquadNotMoving, "squad is not moving")
	ErrInBattle             = apperrors.New(apperrors.CodeSquadInBattle, "squad is committed to a battle")
	ErrNotAdjacent          = apperrors.New(apperrors.CodeTargetNotAdjacent, "target is not adjacent")
	ErrPastPointOfNoReturn  = apperrors.New(apperrors.CodePastPointOfNoReturn, "past point of no return")
	ErrAtCapacity           = apperrors.New(apperrors.CodeSquadAtCapacity, "squad is at capacity")
	ErrInsufficientManpower = apperrors.New(apperrors.CodeInsufficientManpower, "insufficient manpower")
	ErrInvalidAmount        = apperrors.New(apperrors.CodeInvalidAmount, "amount must be positive")
)

// Ledger owns one player's fixed set of squads. All mutation goes through it.
type Ledger struct {
	cfg      Config
	owner    string
	faction  world.FactionID
	squads   []*Squad
	terrain  Terrain
	treasury Treasury
	emit     events.Emitter
}

// NewLedger creates the player's squads at start with zero manpower.
func NewLedger(cfg Config, owner string, faction world.FactionID, start world.NodeID,
	terrain Terrain, treasury Treasury, emit events.Emitter) (*Ledger, error) {
	if emit == nil {
		emit = events.Discard
	}
	if !terrain.Has(start) {
		return nil, apperrors.WithMetadata(apperrors.CodeNoStartingNode,
			fmt.Sprintf("no starting node %d for %s", start, faction),
			map[string]string{"faction": string(faction), "node": fmt.Sprint(start)})
	}

	l := &Ledger{
		cfg:      cfg,
		owner:    owner,
		faction:  faction,
		terrain:  terrain,
		treasury: treasury,
		emit:     emit,
	}
	for i := range cfg.PerPlayer {
		s := &Squad{
			ID:          SquadID(owner, i),
			Owner:       owner,
			Faction:     faction,
			Index:       i,
			MaxManpower: cfg.MaxManpower,
			Node:        start,
			Origin:      start,
			Destination: world.NoNode,
			State:       Stationary,
		}
		l.squads = append(l.squads, s)
		emit.Emit(events.SquadCreated, fmt.Sprintf("%s created at node %d", s.ID, start), SquadPayload{Squad: *s})
	}
	return l, nil
}

// Owner returns the owning player.
func (l *Ledger) Owner() string { return l.owner }

// Faction returns the owning faction.
func (l *Ledger) Faction() world.FactionID { return l.faction }

// Squads returns copies of every squad in index order.
func (l *Ledger) Squads() []Squad {
	out := make([]Squad, len(l.squads))
	for i, s := range l.squads {
		out[i] = *s
	}
	return out
}

// Squad returns a copy of the squad at index.
func (l *Ledger) Squad(index int) (Squad, error) {
	s, err := l.get(index)
	if err != nil {
		return Squad{}, err
	}
	return *s, nil
}

func (l *Ledger) get(index int) (*Squad, error) {
	if index < 0 || index >= len(l.squads) {
		return nil, apperrors.WithMetadata(apperrors.CodeInvalidSquadIndex,
			fmt.Sprintf("squad index %d out of range [0,%d)", index, len(l.squads)),
			map[string]string{"player": l.owner, "index": fmt.Sprint(index)})
	}
	return l.squads[index], nil
}

// TravelTime returns how long a move between two nodes takes.
func (l *Ledger) TravelTime(from, to world.NodeID) time.Duration {
	d, ok := l.terrain.Distance(from, to)
	if !ok || l.cfg.Speed <= 0 {
		return l.cfg.DefaultTravel
	}
	secs := d / l.cfg.Speed
	return mathx.Clamp(time.Duration(secs*float64(time.Second)), l.cfg.MinTravel, l.cfg.MaxTravel)
}

// Move sends a stationary squad to an adjacent node.
func (l *Ledger) Move(index int, target world.NodeID, now time.Time) error {
	s, err := l.get(index)
	if err != nil {
		return err
	}
	switch {
	case s.State == Moving:
		return ErrAlreadyMoving
	case s.State == InBattle:
		return ErrInBattle
	case s.Node == world.NoNode:
		return ErrNotAtNode
	}
	if !l.terrain.Has(target) {
		return apperrors.WithMetadata(apperrors.CodeUnknownNode,
			fmt.Sprintf("unknown node %d", target), map[string]string{"node": fmt.Sprint(target)})
	}
	if !l.terrain.IsAdjacent(s.Node, target) {
		return apperrors.WithMetadata(apperrors.CodeTargetNotAdjacent,
			fmt.Sprintf("node %d is not adjacent to node %d", target, s.Node),
			map[string]string{"from": fmt.Sprint(s.Node), "to": fmt.Sprint(target)})
	}

	l.depart(s, target, now)
	return nil
}

// Retreat forces a squad toward target regardless of adjacency. Used when the
// node it holds is lost.
func (l *Ledger) Retreat(index int, target world.NodeID, now time.Time) error {
	s, err := l.get(index)
	if err != nil {
		return err
	}
	if s.Node == world.NoNode {
		return ErrNotAtNode
	}
	from := s.Node
	l.depart(s, target, now)
	l.emit.Emit(events.SquadRetreating,
		fmt.Sprintf("%s retreating from node %d to node %d", s.ID, from, target),
		MovementPayload{Squad: s.ID, Owner: s.Owner, Faction: s.Faction, From: from, To: target, Arrival: s.Arrival})
	return nil
}

func (l *Ledger) depart(s *Squad, target world.NodeID, now time.Time) {
	travel := l.TravelTime(s.Node, target)
	s.Origin = s.Node
	s.Node = world.NoNode
	s.Destination = target
	s.State = Moving
	s.MoveStart = now
	s.Arrival = now.Add(travel)

	slog.Debug("squad moving", "squad", s.ID, "from", s.Origin, "to", target, "travel", travel)
	l.emit.Emit(events.SquadMovementStarted,
		fmt.Sprintf("%s moving from node %d to node %d", s.ID, s.Origin, target),
		MovementPayload{Squad: s.ID, Owner: s.Owner, Faction: s.Faction, From: s.Origin, To: target, Arrival: s.Arrival})
}

// CancelMovement returns a moving squad to its origin. It is allowed only
// while progress is at most the cancel window (half of the trip by default).
func (l *Ledger) CancelMovement(index int, now time.Time) error {
	s, err := l.get(index)
	if err != nil {
		return err
	}
	if s.State != Moving {
		return ErrNotMoving
	}
	if p := s.Progress(now); p > l.cfg.CancelWindow {
		return apperrors.WithMetadata(apperrors.CodePastPointOfNoReturn,
			fmt.Sprintf("%s is %.0f%% of the way to node %d", s.ID, p*100, s.Destination),
			map[string]string{"squad": s.ID, "progress": fmt.Sprintf("%.3f", p)})
	}

	dest := s.Destination
	s.Node = s.Origin
	s.Destination = world.NoNode
	s.State = Stationary
	s.MoveStart = time.Time{}
	s.Arrival = time.Time{}

	l.emit.Emit(events.SquadMovementCancelled,
		fmt.Sprintf("%s cancelled move to node %d", s.ID, dest),
		MovementPayload{Squad: s.ID, Owner: s.Owner, Faction: s.Faction, From: s.Node, To: dest})
	l.emit.Emit(events.SquadUpdated, s.ID+" updated", SquadPayload{Squad: *s})
	return nil
}

// Resupply buys manpower for a squad at one token per unit. The amount is
// clamped to the remaining capacity. It returns the manpower added.
func (l *Ledger) Resupply(index, amount int) (int, error) {
	s, err := l.get(index)
	if err != nil {
		return 0, err
	}
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	if s.State == Moving {
		return 0, ErrAlreadyMoving
	}
	if s.Capacity() <= 0 {
		return 0, ErrAtCapacity
	}

	amount = min(amount, s.Capacity())
	if err := l.treasury.Spend(s.Faction, amount, ReasonResupply); err != nil {
		return 0, err
	}
	s.Manpower += amount

	l.emit.Emit(events.SquadResupplied, fmt.Sprintf("%s resupplied +%d", s.ID, amount),
		SquadPayload{Squad: *s, Amount: amount})
	l.emit.Emit(events.SquadUpdated, s.ID+" updated", SquadPayload{Squad: *s})
	return amount, nil
}

// ConsumeManpower removes manpower from a squad. It fails without mutation if
// amount exceeds what the squad holds.
func (l *Ledger) ConsumeManpower(squadID string, amount int) error {
	s, err := l.find(squadID)
	if err != nil {
		return err
	}
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if amount > s.Manpower {
		return apperrors.WithMetadata(apperrors.CodeInsufficientManpower,
			fmt.Sprintf("%s has %d manpower, %d requested", s.ID, s.Manpower, amount),
			map[string]string{"squad": s.ID})
	}
	s.Manpower -= amount
	l.emit.Emit(events.SquadUpdated, s.ID+" updated", SquadPayload{Squad: *s})
	return nil
}

func (l *Ledger) find(squadID string) (*Squad, error) {
	for _, s := range l.squads {
		if s.ID == squadID {
			return s, nil
		}
	}
	return nil, apperrors.WithMetadata(apperrors.CodeUnknownSquad,
		fmt.Sprintf("unknown squad %s", squadID), map[string]string{"squad": squadID})
}

// CompleteArrivals lands every squad whose arrival time has passed.
func (l *Ledger) CompleteArrivals(now time.Time) []Squad {
	var arrived []Squad
	for _, s := range l.squads {
		if s.State != Moving || now.Before(s.Arrival) {
			continue
		}
		s.Node = s.Destination
		s.Destination = world.NoNode
		s.State = Stationary

		arrived = append(arrived, *s)
		l.emit.Emit(events.SquadArrived, fmt.Sprintf("%s arrived at node %d", s.ID, s.Node),
			MovementPayload{Squad: s.ID, Owner: s.Owner, Faction: s.Faction, From: s.Origin, To: s.Node, Arrival: s.Arrival})
	}
	return arrived
}

// SetBattle pins stationary squads at node while a battle runs there and
// releases them when it ends.
func (l *Ledger) SetBattle(node world.NodeID, active bool) {
	for _, s := range l.squads {
		if s.Node != node {
			continue
		}
		switch {
		case active && s.State == Stationary:
			s.State = InBattle
		case !active && s.State == InBattle:
			s.State = Stationary
		default:
			continue
		}
		l.emit.Emit(events.SquadUpdated, s.ID+" updated", SquadPayload{Squad: *s})
	}
}

// Close destroys the player's squads. The ledger must not be used afterwards.
func (l *Ledger) Close() {
	for _, s := range l.squads {
		l.emit.Emit(events.SquadDestroyed, s.ID+" destroyed", SquadPayload{Squad: *s})
	}
	l.squads = nil
}
