package squads

import (
	"fmt"
	"slices"
	"time"

	"github.com/talgya/frontline/internal/apperrors"
	"github.com/talgya/frontline/internal/events"
	"github.com/talgya/frontline/internal/world"
)

// Roster aggregates every player's ledger. Iteration follows join order.
type Roster struct {
	cfg      Config
	terrain  Terrain
	treasury Treasury
	emit     events.Emitter

	ledgers map[string]*Ledger
	order   []string
}

// NewRoster creates an empty roster.
func NewRoster(cfg Config, terrain Terrain, treasury Treasury, emit events.Emitter) *Roster {
	if emit == nil {
		emit = events.Discard
	}
	return &Roster{
		cfg:      cfg,
		terrain:  terrain,
		treasury: treasury,
		emit:     emit,
		ledgers:  make(map[string]*Ledger),
	}
}

// AddPlayer creates the player's squads at start.
func (r *Roster) AddPlayer(player string, faction world.FactionID, start world.NodeID) (*Ledger, error) {
	if _, ok := r.ledgers[player]; ok {
		return nil, apperrors.WithMetadata(apperrors.CodePlayerExists,
			fmt.Sprintf("player %s already has squads", player), map[string]string{"player": player})
	}
	l, err := NewLedger(r.cfg, player, faction, start, r.terrain, r.treasury, r.emit)
	if err != nil {
		return nil, err
	}
	r.ledgers[player] = l
	r.order = append(r.order, player)
	return l, nil
}

// RemovePlayer destroys the player's squads.
func (r *Roster) RemovePlayer(player string) error {
	l, err := r.Ledger(player)
	if err != nil {
		return err
	}
	l.Close()
	delete(r.ledgers, player)
	r.order = slices.DeleteFunc(r.order, func(p string) bool { return p == player })
	return nil
}

// Ledger returns the player's ledger.
func (r *Roster) Ledger(player string) (*Ledger, error) {
	l, ok := r.ledgers[player]
	if !ok {
		return nil, apperrors.WithMetadata(apperrors.CodeUnknownPlayer,
			fmt.Sprintf("unknown player %s", player), map[string]string{"player": player})
	}
	return l, nil
}

// Players returns player identities in join order.
func (r *Roster) Players() []string {
	return slices.Clone(r.order)
}

// All returns copies of every squad.
func (r *Roster) All() []Squad {
	var out []Squad
	for _, p := range r.order {
		out = append(out, r.ledgers[p].Squads()...)
	}
	return out
}

// SquadsAt returns the faction's squads holding node, including drained ones.
func (r *Roster) SquadsAt(node world.NodeID, faction world.FactionID) []Squad {
	var out []Squad
	for _, p := range r.order {
		l := r.ledgers[p]
		if l.faction != faction {
			continue
		}
		for _, s := range l.squads {
			if s.Node == node && s.State != Moving {
				out = append(out, *s)
			}
		}
	}
	return out
}

// Find returns a copy of the squad with the given identity.
func (r *Roster) Find(squadID string) (Squad, error) {
	l, err := r.ledgerFor(squadID)
	if err != nil {
		return Squad{}, err
	}
	s, err := l.find(squadID)
	if err != nil {
		return Squad{}, err
	}
	return *s, nil
}

func (r *Roster) ledgerFor(squadID string) (*Ledger, error) {
	owner, _, err := ParseSquadID(squadID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeUnknownSquad, err.Error(), err)
	}
	l, ok := r.ledgers[owner]
	if !ok {
		return nil, apperrors.WithMetadata(apperrors.CodeUnknownSquad,
			fmt.Sprintf("unknown squad %s", squadID), map[string]string{"squad": squadID})
	}
	return l, nil
}

// ConsumeManpower routes to the owning ledger.
func (r *Roster) ConsumeManpower(squadID string, amount int) error {
	l, err := r.ledgerFor(squadID)
	if err != nil {
		return err
	}
	return l.ConsumeManpower(squadID, amount)
}

// Retreat routes a forced movement to the owning ledger.
func (r *Roster) Retreat(squadID string, target world.NodeID, now time.Time) error {
	l, err := r.ledgerFor(squadID)
	if err != nil {
		return err
	}
	_, index, _ := ParseSquadID(squadID)
	return l.Retreat(index, target, now)
}

// CompleteArrivals lands every overdue squad across all players.
func (r *Roster) CompleteArrivals(now time.Time) []Squad {
	var arrived []Squad
	for _, p := range r.order {
		arrived = append(arrived, r.ledgers[p].CompleteArrivals(now)...)
	}
	return arrived
}

// SetBattle pins or releases squads at node across all players.
func (r *Roster) SetBattle(node world.NodeID, active bool) {
	for _, p := range r.order {
		r.ledgers[p].SetBattle(node, active)
	}
}

// Reset removes every player.
func (r *Roster) Reset() {
	for _, p := range slices.Clone(r.order) {
		_ = r.RemovePlayer(p)
	}
}
