package squads

import (
	"errors"
	"testing"
	"time"

	"github.com/talgya/frontline/internal/apperrors"
	"github.com/talgya/frontline/internal/economy"
	"github.com/talgya/frontline/internal/events"
	"github.com/talgya/frontline/internal/world"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// fixture: 0 (red capital) - 1 - 2, nodes 200 units apart; 3 has no position.
func fixture(t *testing.T, balance int) (*world.Graph, *economy.Economy, *events.Bus) {
	t.Helper()
	bus := events.NewBus(func() time.Time { return epoch })
	g := world.NewGraph(bus)
	for i := 0; i < 3; i++ {
		pos := world.Point{X: float64(i) * 200}
		if err := g.AddNode(world.Node{ID: world.NodeID(i), Name: "n", Position: &pos}); err != nil {
			t.Fatal(err)
		}
	}
	_ = g.AddNode(world.Node{ID: 3, Name: "fog"})
	_ = g.Connect(0, 1)
	_ = g.Connect(1, 2)
	_ = g.Connect(2, 3)

	cfg := economy.DefaultConfig()
	cfg.StartingBalance = balance
	econ := economy.New(cfg, bus, func() time.Time { return epoch })
	econ.Register("red")
	econ.Register("blue")
	return g, econ, bus
}

func newLedger(t *testing.T, balance int) (*Ledger, *economy.Economy, *events.Bus) {
	t.Helper()
	g, econ, bus := fixture(t, balance)
	l, err := NewLedger(DefaultConfig(), "p1", "red", 0, g, econ, bus)
	if err != nil {
		t.Fatal(err)
	}
	return l, econ, bus
}

func TestNewLedgerCreatesEmptySquads(t *testing.T) {
	l, _, bus := newLedger(t, 0)
	squads := l.Squads()
	if len(squads) != 3 {
		t.Fatalf("squads = %d, want 3", len(squads))
	}
	for i, s := range squads {
		if s.ID != SquadID("p1", i) || s.Manpower != 0 || s.Node != 0 || s.State != Stationary {
			t.Fatalf("squad %d = %+v", i, s)
		}
	}
	if got := len(bus.Filter(events.SquadCreated)); got != 3 {
		t.Fatalf("created events = %d, want 3", got)
	}
}

func TestNewLedgerRequiresStartingNode(t *testing.T) {
	g, econ, _ := fixture(t, 0)
	_, err := NewLedger(DefaultConfig(), "p1", "red", 42, g, econ, nil)
	if apperrors.CodeOf(err) != apperrors.CodeNoStartingNode {
		t.Fatalf("err = %v, want NO_STARTING_NODE", err)
	}
}

func TestMoveValidation(t *testing.T) {
	l, _, _ := newLedger(t, 0)

	if err := l.Move(5, 1, epoch); !errors.Is(err, ErrInvalidIndex) {
		t.Fatalf("bad index: %v", err)
	}
	if err := l.Move(0, 2, epoch); !errors.Is(err, ErrNotAdjacent) {
		t.Fatalf("non-adjacent: %v", err)
	}
	if err := l.Move(0, 1, epoch); err != nil {
		t.Fatal(err)
	}
	if err := l.Move(0, 1, epoch); !errors.Is(err, ErrAlreadyMoving) {
		t.Fatalf("double move: %v", err)
	}

	s, _ := l.Squad(0)
	if s.Node != world.NoNode || s.Origin != 0 || s.Destination != 1 || !s.IsMoving() {
		t.Fatalf("moving squad = %+v", s)
	}
	// 200 units at 10/s = 20s.
	if s.TravelTime() != 20*time.Second {
		t.Fatalf("travel = %v, want 20s", s.TravelTime())
	}
}

func TestTravelTimeBounds(t *testing.T) {
	l, _, _ := newLedger(t, 0)
	if got := l.TravelTime(2, 3); got != 15*time.Second {
		t.Fatalf("no position travel = %v, want 15s", got)
	}
	l.cfg.Speed = 1000
	if got := l.TravelTime(0, 1); got != 10*time.Second {
		t.Fatalf("fast travel = %v, want clamp to 10s", got)
	}
	l.cfg.Speed = 1
	if got := l.TravelTime(0, 1); got != 60*time.Second {
		t.Fatalf("slow travel = %v, want clamp to 60s", got)
	}
}

func TestCancelMovementWindow(t *testing.T) {
	tests := []struct {
		name    string
		elapsed time.Duration
		wantErr error
	}{
		{"start", 0, nil},
		{"quarter", 5 * time.Second, nil},
		{"exactly half", 10 * time.Second, nil},
		{"just past half", 10*time.Second + time.Millisecond, ErrPastPointOfNoReturn},
		{"almost there", 19 * time.Second, ErrPastPointOfNoReturn},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, _, _ := newLedger(t, 0)
			if err := l.Move(0, 1, epoch); err != nil {
				t.Fatal(err)
			}
			before, _ := l.Squad(0)

			err := l.CancelMovement(0, epoch.Add(tt.elapsed))
			after, _ := l.Squad(0)

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				if after != before {
					t.Fatalf("rejected cancel mutated squad: %+v", after)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if after.State != Stationary || after.Node != 0 || after.Destination != world.NoNode {
				t.Fatalf("cancelled squad = %+v", after)
			}
		})
	}
}

func TestCancelRequiresMovement(t *testing.T) {
	l, _, _ := newLedger(t, 0)
	if err := l.CancelMovement(0, epoch); !errors.Is(err, ErrNotMoving) {
		t.Fatalf("err = %v", err)
	}
}

func TestArrival(t *testing.T) {
	l, _, bus := newLedger(t, 0)
	_ = l.Move(1, 1, epoch)

	if got := l.CompleteArrivals(epoch.Add(19 * time.Second)); len(got) != 0 {
		t.Fatal("arrived early")
	}
	got := l.CompleteArrivals(epoch.Add(20 * time.Second))
	if len(got) != 1 || got[0].Node != 1 || got[0].State != Stationary {
		t.Fatalf("arrivals = %+v", got)
	}
	if len(bus.Filter(events.SquadArrived)) != 1 {
		t.Fatal("missing arrival event")
	}
}

func TestResupplyClampsAndSpends(t *testing.T) {
	l, econ, _ := newLedger(t, 100)

	added, err := l.Resupply(0, 30)
	if err != nil {
		t.Fatal(err)
	}
	if added != 30 || econ.Balance("red") != 70 {
		t.Fatalf("added %d, balance %d", added, econ.Balance("red"))
	}

	added, err = l.Resupply(0, 40)
	if err != nil {
		t.Fatal(err)
	}
	if added != 20 || econ.Balance("red") != 50 {
		t.Fatalf("clamped add = %d, balance %d; want 20, 50", added, econ.Balance("red"))
	}
	s, _ := l.Squad(0)
	if s.Manpower != s.MaxManpower {
		t.Fatalf("manpower = %d, want %d", s.Manpower, s.MaxManpower)
	}

	if _, err := l.Resupply(0, 1); !errors.Is(err, ErrAtCapacity) {
		t.Fatalf("at capacity: %v", err)
	}
	if _, err := l.Resupply(1, 0); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("zero amount: %v", err)
	}

	_ = l.Move(2, 1, epoch)
	if _, err := l.Resupply(2, 5); !errors.Is(err, ErrAlreadyMoving) {
		t.Fatalf("while moving: %v", err)
	}
}

// Scenario C: resupply of 20 with only 8 tokens fails without side effects.
func TestResupplyInsufficientFunds(t *testing.T) {
	l, econ, _ := newLedger(t, 8)

	_, err := l.Resupply(0, 20)
	if !errors.Is(err, economy.ErrInsufficientFunds) {
		t.Fatalf("err = %v, want insufficient funds", err)
	}
	s, _ := l.Squad(0)
	if s.Manpower != 0 {
		t.Fatalf("manpower = %d, want 0", s.Manpower)
	}
	if econ.Balance("red") != 8 {
		t.Fatalf("balance = %d, want 8", econ.Balance("red"))
	}
}

func TestConsumeManpower(t *testing.T) {
	l, _, _ := newLedger(t, 100)
	_, _ = l.Resupply(0, 3)

	if err := l.ConsumeManpower("p1#0", 4); !errors.Is(err, ErrInsufficientManpower) {
		t.Fatalf("over-consume: %v", err)
	}
	if err := l.ConsumeManpower("p1#0", 3); err != nil {
		t.Fatal(err)
	}
	s, _ := l.Squad(0)
	if s.Manpower != 0 {
		t.Fatalf("manpower = %d", s.Manpower)
	}
	if err := l.ConsumeManpower("p1#9", 1); !errors.Is(err, ErrUnknownSquad) {
		t.Fatalf("unknown squad: %v", err)
	}
}

func TestManpowerStaysInBounds(t *testing.T) {
	l, _, _ := newLedger(t, 10000)
	for i := 0; i < 50; i++ {
		_, _ = l.Resupply(i%3, 7+i)
		_ = l.ConsumeManpower(SquadID("p1", (i+1)%3), i%5+1)
		for _, s := range l.Squads() {
			if s.Manpower < 0 || s.Manpower > s.MaxManpower {
				t.Fatalf("manpower out of bounds: %+v", s)
			}
		}
	}
}

func TestRetreatIgnoresAdjacency(t *testing.T) {
	l, _, bus := newLedger(t, 0)
	if err := l.Retreat(0, 2, epoch); err != nil {
		t.Fatal(err)
	}
	s, _ := l.Squad(0)
	if s.Destination != 2 || !s.IsMoving() {
		t.Fatalf("retreating squad = %+v", s)
	}
	if len(bus.Filter(events.SquadRetreating)) != 1 {
		t.Fatal("missing retreat event")
	}
}

func TestBattlePinsSquads(t *testing.T) {
	l, _, _ := newLedger(t, 0)
	l.SetBattle(0, true)
	if err := l.Move(0, 1, epoch); !errors.Is(err, ErrInBattle) {
		t.Fatalf("move in battle: %v", err)
	}
	l.SetBattle(0, false)
	if err := l.Move(0, 1, epoch); err != nil {
		t.Fatal(err)
	}
}
