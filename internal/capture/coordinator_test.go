package capture

import (
	"testing"
	"time"

	"github.com/talgya/frontline/internal/economy"
	"github.com/talgya/frontline/internal/entropy"
	"github.com/talgya/frontline/internal/events"
	"github.com/talgya/frontline/internal/occupancy"
	"github.com/talgya/frontline/internal/squads"
	"github.com/talgya/frontline/internal/world"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// presence is a hand-set Occupancy.
type presence map[world.NodeID]map[world.FactionID]int

func (p presence) Nodes() []world.NodeID {
	return []world.NodeID{0, 1, 2}
}

func (p presence) Manpower(node world.NodeID) map[world.FactionID]int {
	return p[node]
}

type noRetreat struct{}

func (noRetreat) SquadsAt(world.NodeID, world.FactionID) []squads.Squad { return nil }
func (noRetreat) Retreat(string, world.NodeID, time.Time) error        { return nil }

func lineGraph(t *testing.T, emit events.Emitter) *world.Graph {
	t.Helper()
	g := world.NewGraph(emit)
	for i := 0; i < 3; i++ {
		if err := g.AddNode(world.Node{ID: world.NodeID(i), Name: "n"}); err != nil {
			t.Fatal(err)
		}
	}
	_ = g.Connect(0, 1)
	_ = g.Connect(1, 2)
	return g
}

// run evaluates every 500ms from start through start+d inclusive and returns the end time.
func run(c *Coordinator, start time.Time, d time.Duration) time.Time {
	now := start
	for end := start.Add(d); !now.After(end); now = now.Add(500 * time.Millisecond) {
		c.Tick(now)
	}
	return now.Add(-500 * time.Millisecond)
}

func TestUncontestedCaptureTakesFullDuration(t *testing.T) {
	bus := events.NewBus(nil)
	g := lineGraph(t, bus)
	occ := presence{1: {"red": 5}}
	c := NewCoordinator(DefaultConfig(), g, occ, noRetreat{}, bus)

	now := run(c, epoch, 59500*time.Millisecond)
	a, ok := c.Attempt(1)
	if !ok || a.State != Capturing {
		t.Fatalf("attempt = %+v, %v", a, ok)
	}
	if a.Progress < 0.99 || a.Progress >= 1 {
		t.Fatalf("progress at 59.5s = %v", a.Progress)
	}

	c.Tick(now.Add(500 * time.Millisecond))
	n, _ := g.Node(1)
	if n.Owner != "red" || n.Control != 100 {
		t.Fatalf("node after 60s = %+v", n)
	}
	if _, ok := c.Attempt(1); ok {
		t.Fatal("attempt not removed after completion")
	}
	if len(bus.Filter(events.CaptureCompleted)) != 1 || len(bus.Filter(events.NodeCaptured)) != 1 {
		t.Fatal("missing completion events")
	}
	// Progress events are throttled to one per second.
	if got := len(bus.Filter(events.CaptureProgress)); got < 55 || got > 60 {
		t.Fatalf("progress events = %d, want about one per second", got)
	}
}

func TestEvalIsGated(t *testing.T) {
	g := lineGraph(t, nil)
	c := NewCoordinator(DefaultConfig(), g, presence{}, noRetreat{}, nil)
	if !c.Tick(epoch) {
		t.Fatal("first tick should evaluate")
	}
	if c.Tick(epoch.Add(400 * time.Millisecond)) {
		t.Fatal("evaluated before interval")
	}
	if !c.Tick(epoch.Add(500 * time.Millisecond)) {
		t.Fatal("did not evaluate at interval")
	}
}

func TestContestFreezesProgressAndDefenderHolds(t *testing.T) {
	bus := events.NewBus(nil)
	g := lineGraph(t, bus)
	_ = g.SetControl(1, "blue", 100)
	occ := presence{1: {"red": 5}}
	c := NewCoordinator(DefaultConfig(), g, occ, noRetreat{}, bus)

	now := run(c, epoch, 10*time.Second)
	before, _ := c.Attempt(1)

	occ[1]["blue"] = 4
	now = run(c, now.Add(500*time.Millisecond), 10*time.Second)
	a, _ := c.Attempt(1)
	if a.State != Contested || a.Progress != before.Progress || a.Unresolved {
		t.Fatalf("contested attempt = %+v (progress before %v)", a, before.Progress)
	}
	n, _ := g.Node(1)
	if !n.Contested || n.ContestedBy != "red" {
		t.Fatalf("node not marked contested: %+v", n)
	}
	contested := bus.Filter(events.CaptureContested)
	if len(contested) != 1 {
		t.Fatalf("contested events = %d, want 1", len(contested))
	}
	if p := contested[0].Payload.(ContestedPayload); !p.PrepareTactical {
		t.Fatal("contested event should ask the tactical engine to prepare")
	}

	// Attacker eliminated: defender holds.
	occ[1]["red"] = 0
	c.Tick(now.Add(500 * time.Millisecond))
	if _, ok := c.Attempt(1); ok {
		t.Fatal("attempt should be cancelled")
	}
	n, _ = g.Node(1)
	if n.Contested || n.Owner != "blue" {
		t.Fatalf("node after defence = %+v", n)
	}
}

func TestDefenderEliminatedCapturesInstantly(t *testing.T) {
	g := lineGraph(t, nil)
	_ = g.SetControl(1, "blue", 100)
	occ := presence{1: {"red": 5, "blue": 5}}
	c := NewCoordinator(DefaultConfig(), g, occ, noRetreat{}, nil)

	now := run(c, epoch, 2*time.Second)
	occ[1]["blue"] = 0
	c.Tick(now.Add(500 * time.Millisecond))

	n, _ := g.Node(1)
	if n.Owner != "red" || n.Control != 100 || n.Contested {
		t.Fatalf("node = %+v, want red at 100", n)
	}
}

func TestAbandonedProgressDecays(t *testing.T) {
	g := lineGraph(t, nil)
	occ := presence{1: {"red": 5}}
	c := NewCoordinator(DefaultConfig(), g, occ, noRetreat{}, nil)

	now := run(c, epoch, 30*time.Second)
	a, _ := c.Attempt(1)
	if a.Progress != 0.5 {
		t.Fatalf("progress at 30s = %v, want 0.5", a.Progress)
	}

	// Gone for 20s at decay factor 0.5: lose 10s of progress.
	occ[1]["red"] = 0
	now = run(c, now.Add(500*time.Millisecond), 19500*time.Millisecond)
	a, ok := c.Attempt(1)
	if !ok {
		t.Fatal("attempt cancelled too early")
	}
	if want := 20.0 / 60; a.Progress < want-0.001 || a.Progress > want+0.001 {
		t.Fatalf("decayed progress = %v, want %v", a.Progress, want)
	}

	// Returning attacker resumes from the decayed value.
	occ[1]["red"] = 5
	c.Tick(now.Add(500 * time.Millisecond))
	resumed, _ := c.Attempt(1)
	if resumed.ID != a.ID || resumed.Progress <= a.Progress {
		t.Fatalf("resumed attempt = %+v", resumed)
	}

	// Long absence decays to zero and cancels.
	occ[1]["red"] = 0
	run(c, now.Add(time.Second), 2*time.Minute)
	if _, ok := c.Attempt(1); ok {
		t.Fatal("fully decayed attempt should be cancelled")
	}
	n, _ := g.Node(1)
	if !n.IsNeutral() {
		t.Fatal("decay must not change ownership")
	}
}

func TestDifferentAttackerReplacesAttempt(t *testing.T) {
	bus := events.NewBus(nil)
	g := lineGraph(t, nil)
	occ := presence{1: {"red": 5}}
	c := NewCoordinator(DefaultConfig(), g, occ, noRetreat{}, bus)

	now := run(c, epoch, 5*time.Second)
	first, _ := c.Attempt(1)

	occ[1] = map[world.FactionID]int{"blue": 3}
	c.Tick(now.Add(500 * time.Millisecond))
	second, _ := c.Attempt(1)
	if second.ID == first.ID || second.Attacker != "blue" || second.Progress != 0 {
		t.Fatalf("replacement = %+v", second)
	}
	if len(bus.Filter(events.CaptureCancelled)) != 1 {
		t.Fatal("old attempt should be cancelled")
	}
}

func TestThreeWayContestStaysUnresolved(t *testing.T) {
	g := lineGraph(t, nil)
	_ = g.SetControl(1, "red", 100)
	occ := presence{1: {"red": 5, "blue": 5, "green": 8}}
	c := NewCoordinator(DefaultConfig(), g, occ, noRetreat{}, nil)

	now := run(c, epoch, 5*time.Minute)
	a, _ := c.Attempt(1)
	if a.State != Contested || !a.Unresolved || a.Attacker != "green" || a.Progress != 0 {
		t.Fatalf("attempt = %+v", a)
	}
	n, _ := g.Node(1)
	if n.Owner != "red" || !n.Contested || n.ContestedBy != "green" {
		t.Fatalf("node = %+v", n)
	}

	// Ties keep the current primary.
	occ[1]["blue"] = 8
	c.Tick(now.Add(500 * time.Millisecond))
	a, _ = c.Attempt(1)
	if a.Attacker != "green" {
		t.Fatalf("primary on tie = %s, want green", a.Attacker)
	}

	// Green leaves: a plain blue-vs-red contest.
	occ[1]["green"] = 0
	c.Tick(now.Add(time.Second))
	a, _ = c.Attempt(1)
	if a.Unresolved || a.Attacker != "blue" || a.State != Contested {
		t.Fatalf("after green left: %+v", a)
	}

	occ[1]["red"] = 0
	c.Tick(now.Add(1500 * time.Millisecond))
	n, _ = g.Node(1)
	if n.Owner != "blue" {
		t.Fatalf("owner = %s, want blue", n.Owner)
	}
}

func TestPrimaryTieBreak(t *testing.T) {
	mp := map[world.FactionID]int{"blue": 5, "gold": 5, "green": 3}
	att := []world.FactionID{"blue", "gold", "green"}
	if got := primary(world.NoFaction, att, mp); got != "blue" {
		t.Fatalf("no current: %s, want lowest id blue", got)
	}
	if got := primary("gold", att, mp); got != "gold" {
		t.Fatalf("current gold tied: %s", got)
	}
	if got := primary("green", att, mp); got != "blue" {
		t.Fatalf("current green outnumbered: %s", got)
	}
}

func TestBattleNodesAreSkipped(t *testing.T) {
	g := lineGraph(t, nil)
	_ = g.SetBattleActive(1, true)
	c := NewCoordinator(DefaultConfig(), g, presence{1: {"red": 5}}, noRetreat{}, nil)
	run(c, epoch, 2*time.Minute)
	if _, ok := c.Attempt(1); ok {
		t.Fatal("battle node should not get a capture attempt")
	}
}

// harness wires the real components for end-to-end scenarios.
type harness struct {
	graph   *world.Graph
	econ    *economy.Economy
	roster  *squads.Roster
	tracker *occupancy.Tracker
	coord   *Coordinator
	bus     *events.Bus
	now     time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{now: epoch}
	h.bus = events.NewBus(func() time.Time { return h.now })
	h.graph = lineGraph(t, h.bus)
	h.econ = economy.New(economy.DefaultConfig(), h.bus, func() time.Time { return h.now })
	h.econ.Register("red")
	h.econ.Register("blue")
	h.roster = squads.NewRoster(squads.DefaultConfig(), h.graph, h.econ, h.bus)
	h.tracker = occupancy.NewTracker(h.graph, h.roster, entropy.NewSeeded(1), h.bus)
	h.coord = NewCoordinator(DefaultConfig(), h.graph, h.tracker, h.roster, h.bus)
	return h
}

func (h *harness) step() {
	h.roster.CompleteArrivals(h.now)
	h.tracker.Rebuild(h.now)
	h.coord.Tick(h.now)
}

func (h *harness) advance(d time.Duration) {
	for end := h.now.Add(d); h.now.Before(end); {
		h.now = h.now.Add(100 * time.Millisecond)
		h.step()
	}
}

// Scenario A: Blue holds capital 0; a Red squad of 5 marches to neutral 1
// and takes it after 60s unopposed.
func TestScenarioUncontestedCapture(t *testing.T) {
	h := newHarness(t)
	_ = h.graph.SetControl(0, "blue", 100)
	_ = h.graph.SetControl(2, "red", 100)

	l, err := h.roster.AddPlayer("r1", "red", 2)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := l.Resupply(0, 5); err != nil {
		t.Fatal(err)
	}
	if err := l.Move(0, 1, h.now); err != nil {
		t.Fatal(err)
	}

	// 15s travel without positions, then 60s of presence.
	h.advance(15*time.Second + 59*time.Second)
	if n, _ := h.graph.Node(1); !n.IsNeutral() {
		t.Fatalf("captured early: %+v", n)
	}
	// Evaluation runs on its own 500ms cadence, so allow one interval of lag.
	h.advance(1500 * time.Millisecond)
	n, _ := h.graph.Node(1)
	if n.Owner != "red" || n.Control != 100 {
		t.Fatalf("node 1 = %+v, want red at 100", n)
	}
}

// Scenario B: Red and Blue meet at neutral 1; no progress while both hold
// manpower. Draining Blue through spawn tickets hands the node to Red.
func TestScenarioContestResolvedByAttrition(t *testing.T) {
	h := newHarness(t)
	red, _ := h.roster.AddPlayer("r1", "red", 1)
	blue, _ := h.roster.AddPlayer("b1", "blue", 1)
	_, _ = red.Resupply(0, 5)
	_, _ = blue.Resupply(0, 5)

	h.advance(30 * time.Second)
	a, ok := h.coord.Attempt(1)
	if !ok || a.State != Contested || a.Progress != 0 {
		t.Fatalf("attempt = %+v, %v", a, ok)
	}
	if n, _ := h.graph.Node(1); !n.Contested || !n.IsNeutral() {
		t.Fatalf("node = %+v", n)
	}

	for i := 0; i < 5; i++ {
		if _, err := h.tracker.RequestSpawnTicket(1, "blue", "b1", h.now); err != nil {
			t.Fatalf("ticket %d: %v", i, err)
		}
	}
	if _, err := h.tracker.RequestSpawnTicket(1, "blue", "b1", h.now); err == nil {
		t.Fatal("drained faction should be refused")
	}

	h.advance(500 * time.Millisecond)
	n, _ := h.graph.Node(1)
	if n.Owner != "red" || n.Control != 100 || n.Contested {
		t.Fatalf("node 1 = %+v, want red at 100", n)
	}
}

func TestCompleteCaptureRetreatsLosers(t *testing.T) {
	h := newHarness(t)
	_ = h.graph.SetControl(0, "blue", 100)
	_ = h.graph.SetControl(1, "blue", 100)
	blue, _ := h.roster.AddPlayer("b1", "blue", 1)
	_ = blue.Move(2, 0, h.now)

	if err := h.coord.CompleteCapture(1, "red", h.now); err != nil {
		t.Fatal(err)
	}
	for _, s := range blue.Squads()[:2] {
		if !s.IsMoving() || s.Destination != 0 {
			t.Fatalf("drained squad %s did not retreat: %+v", s.ID, s)
		}
	}
	if len(h.bus.Filter(events.SquadRetreating)) != 2 {
		t.Fatal("expected two retreat events")
	}
}

func TestCompleteCaptureWithNowhereToGo(t *testing.T) {
	h := newHarness(t)
	_ = h.graph.SetControl(1, "blue", 100)
	blue, _ := h.roster.AddPlayer("b1", "blue", 1)

	if err := h.coord.CompleteCapture(1, "red", h.now); err != nil {
		t.Fatal(err)
	}
	for _, s := range blue.Squads() {
		if s.IsMoving() {
			t.Fatal("squad should stay when no retreat target exists")
		}
	}
	if n, _ := h.graph.Node(1); n.Owner != "red" {
		t.Fatal("ownership not transferred")
	}
}

func TestLeftoverContestedFlagClears(t *testing.T) {
	g := lineGraph(t, nil)
	_ = g.SetControl(1, "blue", 70)
	_ = g.SetContested(1, true, "red")
	_ = g.SetBattleActive(1, true)
	c := NewCoordinator(DefaultConfig(), g, presence{}, noRetreat{}, nil)

	c.Tick(epoch)
	if n, _ := g.Node(1); !n.Contested {
		t.Fatal("flag cleared while the battle was still running")
	}

	_ = g.SetBattleActive(1, false)
	c.Tick(epoch.Add(time.Second))
	n, _ := g.Node(1)
	if n.Contested || n.ContestedBy != world.NoFaction {
		t.Fatalf("node still contested with nobody present: %+v", n)
	}
	if n.Owner != "blue" || n.Control != 70 {
		t.Fatalf("ownership changed: %+v", n)
	}
}
