package moderation

import (
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// RateWindow counts events per actor over a trailing window.
type RateWindow struct {
	window    time.Duration
	maxEvents int
	events    *xsync.MapOf[Actor, []time.Time]
}

func NewRateWindow(maxEvents int, window time.Duration) *RateWindow {
	return &RateWindow{
		window:    window,
		maxEvents: maxEvents,
		events:    xsync.NewMapOf[Actor, []time.Time](),
	}
}

// Record registers an event at now and reports whether the actor is flooding, that is
// whether more than maxEvents events fall inside the window ending at now.
func (w *RateWindow) Record(actor Actor, now time.Time) bool {
	var flooding bool
	w.events.Compute(actor, func(old []time.Time, _ bool) ([]time.Time, bool) {
		kept := w.prune(old, now, 1)
		kept = append(kept, now)
		flooding = len(kept) > w.maxEvents
		return kept, false
	})
	return flooding
}

// Sweep drops actors whose events all fell out of the window.
func (w *RateWindow) Sweep(now time.Time) int {
	var dropped int
	w.events.Range(func(actor Actor, _ []time.Time) bool {
		w.events.Compute(actor, func(old []time.Time, loaded bool) ([]time.Time, bool) {
			kept := w.prune(old, now, 0)
			if len(kept) == 0 {
				if loaded {
					dropped++
				}
				return nil, true
			}
			return kept, false
		})
		return true
	})
	return dropped
}

func (w *RateWindow) size() int {
	return w.events.Size()
}

func (w *RateWindow) prune(events []time.Time, now time.Time, extra int) []time.Time {
	kept := make([]time.Time, 0, len(events)+extra)
	for _, t := range events {
		if now.Sub(t) < w.window {
			kept = append(kept, t)
		}
	}
	return kept
}
