package ws

import (
	"testing"
	"time"
)

func TestHubPublish(t *testing.T) {
	t.Parallel()

	h := NewHub()
	defer h.Stop()

	a := make(chan Event, 10)
	b := make(chan Event, 10)
	h.Register("a", a)
	h.Register("b", b)
	if h.Count() != 2 {
		t.Fatalf("Count = %d", h.Count())
	}

	h.Publish(TypeAgentConnected, map[string]interface{}{"agent_id": "jump-1"})

	for name, ch := range map[string]chan Event{"a": a, "b": b} {
		select {
		case ev := <-ch:
			if ev.Type != TypeAgentConnected || ev.Data["agent_id"] != "jump-1" {
				t.Errorf("%s got %+v", name, ev)
			}
		case <-time.After(time.Second):
			t.Fatalf("%s did not receive event", name)
		}
	}
}

func TestHubUnregisterClosesChannel(t *testing.T) {
	t.Parallel()

	h := NewHub()
	defer h.Stop()

	ch := make(chan Event, 1)
	h.Register("x", ch)
	h.Unregister("x")

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel was not closed")
	}
}

func TestHubDropsForFullSubscriber(t *testing.T) {
	t.Parallel()

	h := NewHub()
	defer h.Stop()

	slow := make(chan Event) // unbuffered and never read
	h.Register("slow", slow)
	h.Publish(TypeLog, nil)

	deadline := time.Now().Add(time.Second)
	for h.Dropped() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if h.Dropped() == 0 {
		t.Error("expected a dropped delivery")
	}
}

func TestHubStopIdempotent(t *testing.T) {
	t.Parallel()

	h := NewHub()
	ch := make(chan Event, 1)
	h.Register("x", ch)
	h.Stop()
	h.Stop()

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected closed channel after Stop")
		}
	case <-time.After(time.Second):
		t.Fatal("Stop did not close subscriber")
	}
	// Register after Stop closes the new channel instead of blocking.
	late := make(chan Event, 1)
	h.Register("late", late)
	if _, ok := <-late; ok {
		t.Error("late channel should be closed")
	}
}
