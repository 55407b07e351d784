package events

import (
	"testing"
	"time"
)

func TestBusStampsAndRetains(t *testing.T) {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewBus(func() time.Time { return at })

	b.Emit(NodeCaptured, "node 1 captured", nil)
	b.Emit(SquadArrived, "p1#0 arrived", nil)

	recent := b.Recent(10)
	if len(recent) != 2 {
		t.Fatalf("expected 2 events, got %d", len(recent))
	}
	if recent[0].Seq != 1 || recent[1].Seq != 2 {
		t.Fatalf("unexpected sequence numbers %d, %d", recent[0].Seq, recent[1].Seq)
	}
	if !recent[0].At.Equal(at) {
		t.Fatalf("event time = %v, want %v", recent[0].At, at)
	}
	if got := b.Filter(SquadArrived); len(got) != 1 {
		t.Fatalf("Filter(SquadArrived) returned %d events, want 1", len(got))
	}
}

func TestBusRingIsBounded(t *testing.T) {
	b := NewBus(nil)
	for i := 0; i < defaultRecent+25; i++ {
		b.Emit(TokensChanged, "", nil)
	}
	recent := b.Recent(0)
	if len(recent) != defaultRecent {
		t.Fatalf("ring holds %d events, want %d", len(recent), defaultRecent)
	}
	if recent[0].Seq != 26 {
		t.Fatalf("oldest retained seq = %d, want 26", recent[0].Seq)
	}
}

func TestSubscribeReceivesAndUnsubscribeCloses(t *testing.T) {
	b := NewBus(nil)
	id, ch := b.Subscribe()

	b.Emit(BattleStarted, "battle at node 3", nil)

	select {
	case e := <-ch:
		if e.Kind != BattleStarted {
			t.Fatalf("received %q, want %q", e.Kind, BattleStarted)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}

	b.Unsubscribe(id)
	if _, ok := <-ch; ok {
		t.Fatal("expected channel to be closed after Unsubscribe")
	}
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	b := NewBus(nil)
	b.Subscribe()
	for i := 0; i < subscriberBacklog+10; i++ {
		b.Emit(CaptureProgress, "", nil)
	}
	if b.Dropped() != 10 {
		t.Fatalf("dropped = %d, want 10", b.Dropped())
	}
}

func TestKindDomain(t *testing.T) {
	if got := CaptureCompleted.Domain(); got != "capture" {
		t.Fatalf("Domain() = %q, want capture", got)
	}
}
