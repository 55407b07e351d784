package persistence

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/talgya/frontline/internal/events"
	"github.com/talgya/frontline/internal/war"
	"github.com/talgya/frontline/internal/world"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func openMemory(t *testing.T) *DB {
	t.Helper()
	db, err := Open(MemoryPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func battleEvent(seq uint64, id string, winner world.FactionID, at time.Time) events.Event {
	return events.Event{
		Seq:         seq,
		At:          at,
		Kind:        events.BattleCompleted,
		Description: "battle over",
		Payload: war.CompletedPayload{
			Session:  war.Session{ID: id, Node: 4, Attacker: "red", Defender: "blue", StartedAt: at.Add(-time.Minute)},
			Result:   war.Result{Winner: winner, ControlChange: 30},
			Takeover: winner == "red",
		},
	}
}

func TestSaveAndQueryEvents(t *testing.T) {
	db := openMemory(t)
	batch := []events.Event{
		{Seq: 1, At: epoch, Kind: events.NodeCaptured, Description: "n1 captured"},
		{Seq: 2, At: epoch.Add(time.Second), Kind: events.TokensEarned, Description: "red earned 20",
			Payload: map[string]int{"amount": 20}},
		battleEvent(3, "b-1", "red", epoch.Add(2*time.Second)),
	}
	if err := db.SaveEvents(batch); err != nil {
		t.Fatal(err)
	}

	got, err := db.RecentEvents(10, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || got[0].Seq != 3 || got[2].Seq != 1 {
		t.Fatalf("events = %+v", got)
	}
	if got[0].Domain != "battle" || !got[2].At.Equal(epoch) {
		t.Fatalf("first = %+v", got[0])
	}
	if got[2].Payload != nil {
		t.Fatal("event without payload should have none")
	}
	var p map[string]int
	if err := json.Unmarshal(got[1].Payload, &p); err != nil || p["amount"] != 20 {
		t.Fatalf("payload = %s (%v)", got[1].Payload, err)
	}

	only, _ := db.RecentEvents(10, string(events.TokensEarned))
	if len(only) != 1 || only[0].Seq != 2 {
		t.Fatalf("filtered = %+v", only)
	}
	limited, _ := db.RecentEvents(2, "")
	if len(limited) != 2 {
		t.Fatalf("limit ignored: %d", len(limited))
	}
}

func TestBattleHistory(t *testing.T) {
	db := openMemory(t)
	_ = db.SaveEvents([]events.Event{
		battleEvent(1, "b-1", "red", epoch),
		battleEvent(2, "b-2", "blue", epoch.Add(time.Minute)),
	})

	got, err := db.BattleHistory(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != "b-2" {
		t.Fatalf("history = %+v", got)
	}
	b := got[1]
	if b.Node != 4 || b.Attacker != "red" || b.Winner != "red" || !b.Takeover || b.TimedOut {
		t.Fatalf("battle = %+v", b)
	}
	if !b.EndedAt.Equal(epoch) || !b.StartedAt.Equal(epoch.Add(-time.Minute)) {
		t.Fatalf("times = %v .. %v", b.StartedAt, b.EndedAt)
	}
}

func TestOutcomeAndMeta(t *testing.T) {
	db := openMemory(t)
	if _, ok, err := db.Outcome(); ok || err != nil {
		t.Fatalf("outcome before end: %v %v", ok, err)
	}

	ended := war.Outcome{Winner: "blue", Reason: "treasury", EndedAt: epoch}
	if err := db.SaveEvents([]events.Event{{Seq: 9, At: epoch, Kind: events.WarEnded, Payload: ended}}); err != nil {
		t.Fatal(err)
	}
	got, ok, err := db.Outcome()
	if err != nil || !ok || got.Winner != "blue" || got.Reason != "treasury" {
		t.Fatalf("outcome = %+v %v %v", got, ok, err)
	}

	if err := db.SaveMeta("map", "hex-3"); err != nil {
		t.Fatal(err)
	}
	if v, _ := db.GetMeta("map"); v != "hex-3" {
		t.Fatalf("meta = %q", v)
	}
}

func TestFollowFlushesOnClose(t *testing.T) {
	db := openMemory(t)
	ch := make(chan events.Event, 4)
	for i := uint64(1); i <= 3; i++ {
		ch <- events.Event{Seq: i, At: epoch, Kind: events.SquadArrived, Description: "arrived"}
	}
	close(ch)

	if err := db.Follow(context.Background(), ch); err != nil {
		t.Fatal(err)
	}
	got, _ := db.RecentEvents(10, "")
	if len(got) != 3 {
		t.Fatalf("journaled %d events, want 3", len(got))
	}
}

func TestFollowStopsOnCancel(t *testing.T) {
	db := openMemory(t)
	bus := events.NewBus(func() time.Time { return epoch })
	id, ch := bus.Subscribe()
	defer bus.Unsubscribe(id)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- db.Follow(ctx, ch) }()

	bus.Emit(events.NodeCaptured, "captured", nil)
	time.Sleep(20 * time.Millisecond)
	cancel()
	if err := <-done; err != context.Canceled {
		t.Fatalf("follow returned %v", err)
	}
	got, _ := db.RecentEvents(10, string(events.NodeCaptured))
	if len(got) != 1 {
		t.Fatalf("journaled %d events", len(got))
	}
}
