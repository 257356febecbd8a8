package moderation

import (
	"sync"
	"testing"
	"time"
)

func TestRateWindowFloodsAboveMaxEvents(t *testing.T) {
	t.Parallel()

	w := NewRateWindow(5, 3*time.Second)
	actor := Actor{ChatID: -100, UserID: 1}
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		if w.Record(actor, start.Add(time.Duration(i)*100*time.Millisecond)) {
			t.Fatalf("event %d must not flood", i+1)
		}
	}
	if !w.Record(actor, start.Add(500*time.Millisecond)) {
		t.Fatalf("sixth event inside the window must flood")
	}
	if !w.Record(actor, start.Add(600*time.Millisecond)) {
		t.Fatalf("subsequent events must keep flooding while the window is over the limit")
	}
	// 7 events in [0, 0.6s]; at 3.55s only the ones after 0.55s remain plus the new one.
	if w.Record(actor, start.Add(3550*time.Millisecond)) {
		t.Fatalf("flood must clear once the window holds at most maxEvents")
	}
}

func TestRateWindowKeepsActorsApart(t *testing.T) {
	t.Parallel()

	w := NewRateWindow(1, time.Second)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	w.Record(Actor{ChatID: 1, UserID: 1}, now)
	if w.Record(Actor{ChatID: 1, UserID: 2}, now) {
		t.Fatalf("another user must have its own window")
	}
	if w.Record(Actor{ChatID: 2, UserID: 1}, now) {
		t.Fatalf("the same user in another chat must have its own window")
	}
	if !w.Record(Actor{ChatID: 1, UserID: 1}, now) {
		t.Fatalf("second event for the first actor must flood")
	}
}

func TestRateWindowSweepDropsIdleActors(t *testing.T) {
	t.Parallel()

	w := NewRateWindow(5, time.Second)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	w.Record(Actor{ChatID: 1, UserID: 1}, now)
	w.Record(Actor{ChatID: 1, UserID: 2}, now.Add(900*time.Millisecond))

	if dropped := w.Sweep(now.Add(1500 * time.Millisecond)); dropped != 1 {
		t.Fatalf("dropped = %d, want 1", dropped)
	}
	if w.size() != 1 {
		t.Fatalf("size = %d, want 1", w.size())
	}
}

func TestRateWindowCountsConcurrentEvents(t *testing.T) {
	t.Parallel()

	w := NewRateWindow(50, time.Minute)
	actor := Actor{ChatID: 1, UserID: 1}
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Record(actor, now)
		}()
	}
	wg.Wait()

	if !w.Record(actor, now) {
		t.Fatalf("51st event must flood; concurrent records were lost")
	}
}
