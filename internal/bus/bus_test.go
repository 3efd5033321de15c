package bus

import (
	"testing"
	"time"
)

func TestBroadcastReachesSubscribers(t *testing.T) {
	mb := New()
	var got []string
	mb.Subscribe("a", func(e Event) { got = append(got, "a:"+e.Name) })
	mb.Subscribe("b", func(e Event) { got = append(got, "b:"+e.Name) })

	mb.Broadcast(Event{Name: "session.state"})
	if len(got) != 2 {
		t.Fatalf("delivered %d, want 2", len(got))
	}

	mb.Unsubscribe("a")
	got = nil
	mb.Broadcast(Event{Name: "session.state"})
	if len(got) != 1 || got[0] != "b:session.state" {
		t.Errorf("after unsubscribe got %v", got)
	}
	if mb.Subscribers() != 1 {
		t.Errorf("Subscribers = %d", mb.Subscribers())
	}
}

func TestBroadcastStampsTime(t *testing.T) {
	mb := New()
	var at time.Time
	mb.Subscribe("x", func(e Event) { at = e.At })
	mb.Broadcast(Event{Name: "n"})
	if at.IsZero() {
		t.Error("event time not set")
	}
}

func TestDedupeCache(t *testing.T) {
	d := NewDedupeCache(time.Minute, 2)
	if d.IsDuplicate("m1") {
		t.Fatal("first sighting reported duplicate")
	}
	if !d.IsDuplicate("m1") {
		t.Fatal("second sighting not reported duplicate")
	}
	d.IsDuplicate("m2")
	d.IsDuplicate("m3") // evicts m1
	if d.IsDuplicate("m1") {
		t.Error("evicted key still reported duplicate")
	}
	if d.IsDuplicate("") || d.IsDuplicate("") {
		t.Error("empty key must never be a duplicate")
	}
	if d.Len() != 2 {
		t.Errorf("Len = %d, want 2", d.Len())
	}
}
