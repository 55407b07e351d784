// Package economy provides the shared per-faction token treasury: capped
// balances, a bounded transaction log, and the periodic generation cycle fed
// by held territory.
package economy

import (
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/talgya/frontline/internal/apperrors"
	"github.com/talgya/frontline/internal/events"
	"github.com/talgya/frontline/internal/mathx"
	"github.com/talgya/frontline/internal/world"
)

// ReasonCycle is the transaction reason used for periodic generation.
const ReasonCycle = "cycle generation"

var (
	// ErrInsufficientFunds is returned when a spend exceeds the balance.
	ErrInsufficientFunds = apperrors.New(apperrors.CodeInsufficientFunds, "insufficient funds")
	// ErrUnknownFaction is returned for factions that were never registered.
	ErrUnknownFaction = apperrors.New(apperrors.CodeUnknownFaction, "unknown faction")
	// ErrInvalidAmount is returned for non-positive amounts.
	ErrInvalidAmount = apperrors.New(apperrors.CodeInvalidAmount, "amount must be positive")
)

// Config controls the treasury.
type Config struct {
	Cap             int
	StartingBalance int
	CycleInterval   time.Duration
	BaselineBonus   int
	HistoryLimit    int
	BaseGeneration  map[world.NodeType]int
}

// DefaultConfig returns the standard match economy.
func DefaultConfig() Config {
	return Config{
		Cap:             10000,
		StartingBalance: 200,
		CycleInterval:   60 * time.Second,
		BaselineBonus:   10,
		HistoryLimit:    100,
		BaseGeneration: map[world.NodeType]int{
			world.NodeStandard:  10,
			world.NodeCapital:   20,
			world.NodeStrategic: 15,
			world.NodeResource:  25,
		},
	}
}

// Transaction is one ledger entry. Amount is signed: positive for earnings.
type Transaction struct {
	At      time.Time `json:"at"`
	Amount  int       `json:"amount"`
	Reason  string    `json:"reason"`
	Balance int       `json:"balance"`
}

// Ledger is one faction's treasury.
type Ledger struct {
	Faction world.FactionID `json:"faction"`
	Balance int             `json:"balance"`
	Earned  int             `json:"earned"`
	Spent   int             `json:"spent"`
	History []Transaction   `json:"history"`
}

func (l *Ledger) clone() Ledger {
	c := *l
	c.History = slices.Clone(l.History)
	return c
}

// TokensPayload accompanies tokens.changed, tokens.earned and tokens.spent.
type TokensPayload struct {
	Faction world.FactionID `json:"faction"`
	Amount  int             `json:"amount"`
	Balance int             `json:"balance"`
	Reason  string          `json:"reason"`
}

// CyclePayload accompanies tokens.cycle_completed.
type CyclePayload struct {
	Cycle     int                     `json:"cycle"`
	Generated map[world.FactionID]int `json:"generated"`
}

// Territory is the read-only view of the graph the cycle needs.
type Territory interface {
	Nodes() []world.Node
}

// Economy holds every faction's ledger. Add and Spend are the only mutators.
type Economy struct {
	cfg     Config
	emit    events.Emitter
	clock   func() time.Time
	ledgers map[world.FactionID]*Ledger
	order   []world.FactionID

	lastCycle time.Time
	cycles    int
}

// New creates an empty economy. clock supplies transaction timestamps.
func New(cfg Config, emit events.Emitter, clock func() time.Time) *Economy {
	if emit == nil {
		emit = events.Discard
	}
	if clock == nil {
		clock = time.Now
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 100
	}
	return &Economy{
		cfg:     cfg,
		emit:    emit,
		clock:   clock,
		ledgers: make(map[world.FactionID]*Ledger),
	}
}

// Config returns the active configuration.
func (e *Economy) Config() Config {
	return e.cfg
}

// Register opens a ledger for faction at the starting balance. Registering an
// existing faction resets it.
func (e *Economy) Register(faction world.FactionID) {
	if _, ok := e.ledgers[faction]; !ok {
		e.order = append(e.order, faction)
	}
	start := mathx.Clamp(e.cfg.StartingBalance, 0, e.cfg.Cap)
	e.ledgers[faction] = &Ledger{Faction: faction, Balance: start}
}

// Reset reopens every ledger and restarts the cycle clock at now.
func (e *Economy) Reset(now time.Time) {
	for _, f := range e.order {
		e.Register(f)
	}
	e.lastCycle = now
	e.cycles = 0
}

// Balance returns the current balance.
func (e *Economy) Balance(faction world.FactionID) int {
	if l, ok := e.ledgers[faction]; ok {
		return l.Balance
	}
	return 0
}

// CanAfford reports whether faction holds at least amount.
func (e *Economy) CanAfford(faction world.FactionID, amount int) bool {
	l, ok := e.ledgers[faction]
	return ok && l.Balance >= amount
}

// Ledger returns a copy of faction's ledger.
func (e *Economy) Ledger(faction world.FactionID) (Ledger, bool) {
	l, ok := e.ledgers[faction]
	if !ok {
		return Ledger{}, false
	}
	return l.clone(), true
}

// Ledgers returns copies of every ledger in registration order.
func (e *Economy) Ledgers() []Ledger {
	out := make([]Ledger, 0, len(e.order))
	for _, f := range e.order {
		out = append(out, e.ledgers[f].clone())
	}
	return out
}

// Add credits amount, clamped so the balance never exceeds the cap. It
// returns the amount actually applied.
func (e *Economy) Add(faction world.FactionID, amount int, reason string) (int, error) {
	l, err := e.ledger(faction)
	if err != nil {
		return 0, err
	}
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	applied := min(amount, e.cfg.Cap-l.Balance)
	if applied <= 0 {
		slog.Debug("treasury at cap", "faction", faction, "cap", humanize.Comma(int64(e.cfg.Cap)))
		return 0, nil
	}
	l.Balance += applied
	l.Earned += applied
	e.record(l, applied, reason)

	payload := TokensPayload{Faction: faction, Amount: applied, Balance: l.Balance, Reason: reason}
	e.emit.Emit(events.TokensEarned, fmt.Sprintf("%s earned %d (%s)", faction, applied, reason), payload)
	e.emit.Emit(events.TokensChanged, fmt.Sprintf("%s balance %d", faction, l.Balance), payload)
	return applied, nil
}

// Spend debits amount. It fails without mutation when the balance is short.
func (e *Economy) Spend(faction world.FactionID, amount int, reason string) error {
	l, err := e.ledger(faction)
	if err != nil {
		return err
	}
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if l.Balance < amount {
		return apperrors.WithMetadata(apperrors.CodeInsufficientFunds,
			fmt.Sprintf("%s needs %d tokens, has %d", faction, amount, l.Balance),
			map[string]string{"faction": string(faction), "needed": fmt.Sprint(amount), "balance": fmt.Sprint(l.Balance)})
	}

	l.Balance -= amount
	l.Spent += amount
	e.record(l, -amount, reason)

	payload := TokensPayload{Faction: faction, Amount: amount, Balance: l.Balance, Reason: reason}
	e.emit.Emit(events.TokensSpent, fmt.Sprintf("%s spent %d (%s)", faction, amount, reason), payload)
	e.emit.Emit(events.TokensChanged, fmt.Sprintf("%s balance %d", faction, l.Balance), payload)
	return nil
}

func (e *Economy) ledger(faction world.FactionID) (*Ledger, error) {
	l, ok := e.ledgers[faction]
	if !ok {
		return nil, apperrors.WithMetadata(apperrors.CodeUnknownFaction,
			fmt.Sprintf("unknown faction %s", faction), map[string]string{"faction": string(faction)})
	}
	return l, nil
}

func (e *Economy) record(l *Ledger, amount int, reason string) {
	l.History = append(l.History, Transaction{
		At:      e.clock(),
		Amount:  amount,
		Reason:  reason,
		Balance: l.Balance,
	})
	if over := len(l.History) - e.cfg.HistoryLimit; over > 0 {
		l.History = slices.Delete(l.History, 0, over)
	}
}

// NodeYield is the per-cycle income of a single node at its current control.
func (e *Economy) NodeYield(n world.Node) int {
	base := e.cfg.BaseGeneration[n.Type]
	return mathx.RoundInt(float64(base) * n.Type.Multiplier() * n.Control / 100)
}

// CycleGeneration computes what each registered faction would earn this
// cycle. Contested nodes and nodes with an active battle yield nothing.
func (e *Economy) CycleGeneration(territory Territory) map[world.FactionID]int {
	out := make(map[world.FactionID]int, len(e.order))
	for _, f := range e.order {
		out[f] = e.cfg.BaselineBonus
	}
	for _, n := range territory.Nodes() {
		if n.IsNeutral() || n.Contested || n.BattleActive {
			continue
		}
		if _, ok := out[n.Owner]; !ok {
			continue
		}
		out[n.Owner] += e.NodeYield(n)
	}
	return out
}

// RunCycle applies one generation cycle immediately.
func (e *Economy) RunCycle(territory Territory) map[world.FactionID]int {
	gen := e.CycleGeneration(territory)
	e.cycles++
	for _, f := range e.order {
		if amount := gen[f]; amount > 0 {
			if _, err := e.Add(f, amount, ReasonCycle); err != nil {
				slog.Warn("cycle generation failed", "faction", f, "error", err)
			}
		}
	}

	e.emit.Emit(events.TokenCycleCompleted, fmt.Sprintf("token cycle %d complete", e.cycles),
		CyclePayload{Cycle: e.cycles, Generated: gen})
	for _, f := range e.order {
		slog.Debug("token cycle", "cycle", e.cycles, "faction", f,
			"generated", gen[f], "balance", humanize.Comma(int64(e.ledgers[f].Balance)))
	}
	return gen
}

// Tick runs the cycle when the interval has elapsed since the last one. The
// first call only starts the clock. At most one cycle runs per call.
func (e *Economy) Tick(now time.Time, territory Territory) bool {
	if e.lastCycle.IsZero() {
		e.lastCycle = now
		return false
	}
	if e.cfg.CycleInterval <= 0 || now.Sub(e.lastCycle) < e.cfg.CycleInterval {
		return false
	}
	e.lastCycle = e.lastCycle.Add(e.cfg.CycleInterval)
	e.RunCycle(territory)
	return true
}

// Cycles returns the number of completed generation cycles.
func (e *Economy) Cycles() int {
	return e.cycles
}

// NextCycle returns when the next cycle is due.
func (e *Economy) NextCycle() time.Time {
	return e.lastCycle.Add(e.cfg.CycleInterval)
}
