package economy

import (
	"errors"
	"testing"
	"time"

	"github.com/talgya/frontline/internal/events"
	"github.com/talgya/frontline/internal/world"
)

type nodes []world.Node

func (n nodes) Nodes() []world.Node { return n }

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func newEconomy(cfg Config, emit events.Emitter) *Economy {
	e := New(cfg, emit, func() time.Time { return epoch })
	e.Register("red")
	e.Register("blue")
	return e
}

func TestAddClampsAtCap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cap = 100
	cfg.StartingBalance = 90
	e := newEconomy(cfg, nil)

	applied, err := e.Add("red", 50, "loot")
	if err != nil {
		t.Fatal(err)
	}
	if applied != 10 || e.Balance("red") != 100 {
		t.Fatalf("applied %d, balance %d; want 10, 100", applied, e.Balance("red"))
	}
	applied, _ = e.Add("red", 5, "loot")
	if applied != 0 || e.Balance("red") != 100 {
		t.Fatal("balance exceeded cap")
	}
}

func TestSpendIsAtomic(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StartingBalance = 8
	e := newEconomy(cfg, nil)

	err := e.Spend("red", 20, "resupply")
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("Spend = %v, want ErrInsufficientFunds", err)
	}
	l, _ := e.Ledger("red")
	if l.Balance != 8 || l.Spent != 0 || len(l.History) != 0 {
		t.Fatalf("failed spend mutated ledger: %+v", l)
	}

	if err := e.Spend("red", 8, "resupply"); err != nil {
		t.Fatal(err)
	}
	if e.Balance("red") != 0 {
		t.Fatalf("balance = %d, want 0", e.Balance("red"))
	}
}

func TestRejectsBadInput(t *testing.T) {
	e := newEconomy(DefaultConfig(), nil)
	if _, err := e.Add("green", 5, "x"); !errors.Is(err, ErrUnknownFaction) {
		t.Fatalf("unknown faction: %v", err)
	}
	if err := e.Spend("red", 0, "x"); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("zero spend: %v", err)
	}
	if _, err := e.Add("red", -3, "x"); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("negative add: %v", err)
	}
}

func TestHistoryIsBounded(t *testing.T) {
	e := newEconomy(DefaultConfig(), nil)
	for i := 0; i < 150; i++ {
		_, _ = e.Add("red", 1, "drip")
	}
	l, _ := e.Ledger("red")
	if len(l.History) != 100 {
		t.Fatalf("history length = %d, want 100", len(l.History))
	}
	if l.History[len(l.History)-1].Balance != l.Balance {
		t.Fatal("last transaction should carry the current balance")
	}
}

func TestCycleSkipsContestedAndBattleNodes(t *testing.T) {
	e := newEconomy(DefaultConfig(), nil)
	terr := nodes{
		{ID: 0, Type: world.NodeCapital, Owner: "red", Control: 100},
		{ID: 1, Type: world.NodeStandard, Owner: "red", Control: 50},
		{ID: 2, Type: world.NodeResource, Owner: "red", Control: 100, Contested: true},
		{ID: 3, Type: world.NodeStrategic, Owner: "red", Control: 100, BattleActive: true},
		{ID: 4, Type: world.NodeStrategic, Owner: "blue", Control: 100},
		{ID: 5, Type: world.NodeResource},
	}
	gen := e.CycleGeneration(terr)
	// red: bonus 10 + capital round(20*1.5) + standard round(10*1*0.5)
	if gen["red"] != 10+30+5 {
		t.Fatalf("red generation = %d, want 45", gen["red"])
	}
	// blue: bonus 10 + strategic round(15*1.25) = 19
	if gen["blue"] != 10+19 {
		t.Fatalf("blue generation = %d, want 29", gen["blue"])
	}
}

// Scenario D: two resource nodes at full control across three cycles.
func TestThreeCyclesFromResourceNodes(t *testing.T) {
	cfg := DefaultConfig()
	bus := events.NewBus(func() time.Time { return epoch })
	e := newEconomy(cfg, bus)
	terr := nodes{
		{ID: 0, Type: world.NodeResource, Owner: "red", Control: 100},
		{ID: 1, Type: world.NodeResource, Owner: "red", Control: 100},
	}

	now := epoch
	e.Tick(now, terr)
	for i := 0; i < 3; i++ {
		now = now.Add(cfg.CycleInterval)
		if !e.Tick(now, terr) {
			t.Fatalf("cycle %d did not run", i+1)
		}
	}

	perCycle := 2*25*2 + cfg.BaselineBonus
	want := cfg.StartingBalance + 3*perCycle
	if got := e.Balance("red"); got != want {
		t.Fatalf("balance after 3 cycles = %d, want %d", got, want)
	}
	if got := len(bus.Filter(events.TokenCycleCompleted)); got != 3 {
		t.Fatalf("cycle events = %d, want 3", got)
	}
	l, _ := e.Ledger("red")
	for _, tx := range l.History {
		if tx.Reason != ReasonCycle {
			t.Fatalf("unexpected reason %q", tx.Reason)
		}
	}
}

func TestTickGating(t *testing.T) {
	e := newEconomy(DefaultConfig(), nil)
	if e.Tick(epoch, nodes{}) {
		t.Fatal("first tick should only start the clock")
	}
	if e.Tick(epoch.Add(59*time.Second), nodes{}) {
		t.Fatal("cycle ran early")
	}
	if !e.Tick(epoch.Add(60*time.Second), nodes{}) {
		t.Fatal("cycle did not run at interval")
	}
	if e.Cycles() != 1 {
		t.Fatalf("Cycles = %d", e.Cycles())
	}
}
