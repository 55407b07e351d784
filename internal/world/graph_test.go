package world

import (
	"errors"
	"testing"

	"github.com/talgya/frontline/internal/apperrors"
	"github.com/talgya/frontline/internal/events"
)

type recorder struct {
	kinds []events.Kind
	last  any
}

func (r *recorder) Emit(kind events.Kind, _ string, payload any) {
	r.kinds = append(r.kinds, kind)
	r.last = payload
}

func (r *recorder) count(kind events.Kind) int {
	n := 0
	for _, k := range r.kinds {
		if k == kind {
			n++
		}
	}
	return n
}

// line builds 0 - 1 - 2 - 3 with nodes 10 units apart.
func line(t *testing.T, emit events.Emitter) *Graph {
	t.Helper()
	g := NewGraph(emit)
	for i := 0; i < 4; i++ {
		pos := Point{X: float64(i) * 10}
		if err := g.AddNode(Node{ID: NodeID(i), Name: "n", Position: &pos}); err != nil {
			t.Fatalf("AddNode(%d): %v", i, err)
		}
	}
	for i := 0; i < 3; i++ {
		if err := g.Connect(NodeID(i), NodeID(i+1)); err != nil {
			t.Fatalf("Connect: %v", err)
		}
	}
	return g
}

func TestSetControlClampsAndEmitsOnOwnershipChange(t *testing.T) {
	rec := &recorder{}
	g := line(t, rec)

	if err := g.SetControl(1, "red", 150); err != nil {
		t.Fatal(err)
	}
	n, _ := g.Node(1)
	if n.Control != 100 || n.Owner != "red" {
		t.Fatalf("node = %+v, want red at 100", n)
	}
	if rec.count(events.NodeCaptured) != 1 {
		t.Fatalf("captured events = %d, want 1", rec.count(events.NodeCaptured))
	}

	// Same owner again: no new capture event.
	_ = g.SetControl(1, "red", 100)
	if rec.count(events.NodeCaptured) != 1 {
		t.Fatalf("re-setting same owner emitted a capture event")
	}

	// Partial control by a new owner: no capture event.
	_ = g.SetControl(1, "blue", -20)
	n, _ = g.Node(1)
	if n.Control != 0 {
		t.Fatalf("control = %v, want clamp to 0", n.Control)
	}
	if rec.count(events.NodeCaptured) != 1 {
		t.Fatalf("partial control emitted a capture event")
	}
}

func TestFullControlClearsContested(t *testing.T) {
	rec := &recorder{}
	g := line(t, rec)

	_ = g.SetContested(2, true, "blue")
	_ = g.SetContested(2, true, "blue")
	if got := rec.count(events.NodeContestedChanged); got != 1 {
		t.Fatalf("contested events = %d, want 1 (transition only)", got)
	}

	_ = g.SetControl(2, "red", 100)
	n, _ := g.Node(2)
	if n.Contested || n.ContestedBy != NoFaction {
		t.Fatalf("contested not cleared: %+v", n)
	}
	if got := rec.count(events.NodeContestedChanged); got != 2 {
		t.Fatalf("contested events = %d, want 2", got)
	}
}

func TestCanBeAttackedBy(t *testing.T) {
	g := line(t, nil)
	_ = g.SetControl(0, "red", 100)
	_ = g.SetControl(3, "blue", 100)

	tests := []struct {
		name    string
		node    NodeID
		faction FactionID
		want    bool
	}{
		{"adjacent neutral", 1, "red", true},
		{"not adjacent", 2, "red", false},
		{"own node", 0, "red", false},
		{"enemy frontier", 2, "blue", true},
		{"unknown node", 99, "red", false},
		{"no faction", 1, NoFaction, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := g.CanBeAttackedBy(tt.node, tt.faction); got != tt.want {
				t.Fatalf("CanBeAttackedBy(%d, %q) = %v, want %v", tt.node, tt.faction, got, tt.want)
			}
		})
	}

	_ = g.SetBattleActive(1, true)
	if g.CanBeAttackedBy(1, "red") {
		t.Fatal("node with active battle should not be attackable")
	}
}

func TestNearestOwned(t *testing.T) {
	g := line(t, nil)
	_ = g.SetControl(3, "red", 100)

	got, ok := g.NearestOwned(0, "red")
	if !ok || got != 3 {
		t.Fatalf("NearestOwned(0) = %d, %v; want 3, true", got, ok)
	}

	_ = g.SetControl(1, "red", 100)
	got, _ = g.NearestOwned(2, "red")
	if got != 1 {
		t.Fatalf("NearestOwned(2) = %d, want adjacent lowest id 1", got)
	}

	if _, ok := g.NearestOwned(0, "green"); ok {
		t.Fatal("expected no owned node for green")
	}
}

func TestNearestOwnedExcludesSelf(t *testing.T) {
	g := line(t, nil)
	_ = g.SetControl(2, "red", 100)
	if _, ok := g.NearestOwned(2, "red"); ok {
		t.Fatal("the origin node must not count as a retreat target")
	}
}

func TestConnectValidation(t *testing.T) {
	g := line(t, nil)
	if err := g.Connect(0, 42); !errors.Is(err, ErrUnknownNode) {
		t.Fatalf("Connect to unknown = %v, want ErrUnknownNode", err)
	}
	if err := g.Connect(1, 1); apperrors.CodeOf(err) != apperrors.CodeInvalidMap {
		t.Fatalf("self loop = %v, want INVALID_MAP", err)
	}
	if err := g.AddNode(Node{ID: 0}); !errors.Is(err, ErrDuplicateNode) {
		t.Fatalf("duplicate AddNode = %v", err)
	}
	if !g.IsAdjacent(1, 0) || !g.IsAdjacent(0, 1) {
		t.Fatal("edges must be symmetric")
	}
}

func TestDistance(t *testing.T) {
	g := line(t, nil)
	d, ok := g.Distance(0, 3)
	if !ok || d != 30 {
		t.Fatalf("Distance = %v, %v; want 30, true", d, ok)
	}
	_ = g.AddNode(Node{ID: 9})
	if _, ok := g.Distance(0, 9); ok {
		t.Fatal("distance to a node without position should be unknown")
	}
}

func TestResetControl(t *testing.T) {
	g := line(t, nil)
	_ = g.SetControl(0, "red", 100)
	_ = g.SetContested(1, true, "red")
	_ = g.SetBattleActive(2, true)
	g.ResetControl()
	for _, n := range g.Nodes() {
		if !n.IsNeutral() || n.Control != 0 || n.Contested || n.BattleActive {
			t.Fatalf("node %d not reset: %+v", n.ID, n)
		}
	}
}

func TestNodeCopiesAreIndependent(t *testing.T) {
	g := line(t, nil)
	n, _ := g.Node(1)
	n.Adjacent[0] = 99
	n.Position.X = -1
	again, _ := g.Node(1)
	if again.Adjacent[0] == 99 || again.Position.X == -1 {
		t.Fatal("Node returned shared state")
	}
}
