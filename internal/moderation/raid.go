package moderation

import (
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

type raidState struct {
	joins   []time.Time
	endsAt  time.Time
	locked bool
}

// JoinObservation describes what a single join did to the chat's raid state.
type JoinObservation struct {
	Lockdown    bool
	Activated   bool
	Deactivated bool
	EndsAt      time.Time
	Joins       int
}

type LockdownStatus struct {
	Active bool
	EndsAt time.Time
}

// RaidDetector tracks join bursts per chat and drives the timed lockdown.
type RaidDetector struct {
	threshold int
	window    time.Duration
	duration  time.Duration
	chats     *xsync.MapOf[int64, raidState]
}

func NewRaidDetector(threshold int, window, duration time.Duration) *RaidDetector {
	return &RaidDetector{
		threshold: threshold,
		window:    window,
		duration:  duration,
		chats:     xsync.NewMapOf[int64, raidState](),
	}
}

// RecordJoin first clears an expired lockdown, then counts the join and enters
// lockdown when the burst exceeds the threshold.
func (d *RaidDetector) RecordJoin(chatID int64, now time.Time) JoinObservation {
	var obs JoinObservation
	d.chats.Compute(chatID, func(old raidState, _ bool) (raidState, bool) {
		st := raidState{endsAt: old.endsAt, locked: old.locked}
		if st.locked && now.After(st.endsAt) {
			st.locked = false
			st.endsAt = time.Time{}
			obs.Deactivated = true
		}

		st.joins = make([]time.Time, 0, len(old.joins)+1)
		for _, t := range old.joins {
			if now.Sub(t) < d.window {
				st.joins = append(st.joins, t)
			}
		}
		st.joins = append(st.joins, now)

		if !st.locked && len(st.joins) > d.threshold {
			st.locked = true
			st.endsAt = now.Add(d.duration)
			obs.Activated = true
		}

		obs.Lockdown = st.locked
		obs.EndsAt = st.endsAt
		obs.Joins = len(st.joins)
		return st, false
	})
	return obs
}

// Status reports the lockdown without mutating it; an expired lockdown reads as inactive.
func (d *RaidDetector) Status(chatID int64, now time.Time) LockdownStatus {
	st, ok := d.chats.Load(chatID)
	if !ok || !st.locked || now.After(st.endsAt) {
		return LockdownStatus{}
	}
	return LockdownStatus{Active: true, EndsAt: st.endsAt}
}

// Unlock ends any lockdown immediately, forgets the join log and reports whether a lockdown was in place.
func (d *RaidDetector) Unlock(chatID int64) bool {
	var was bool
	d.chats.Compute(chatID, func(old raidState, loaded bool) (raidState, bool) {
		if !loaded {
			return old, true
		}
		was = old.locked
		return old, true
	})
	return was
}

// Sweep forgets chats with no recent joins and no lockdown.
func (d *RaidDetector) Sweep(now time.Time) {
	d.chats.Range(func(chatID int64, _ raidState) bool {
		d.chats.Compute(chatID, func(old raidState, loaded bool) (raidState, bool) {
			if !loaded {
				return old, true
			}
			if old.locked {
				return old, false
			}
			for _, t := range old.joins {
				if now.Sub(t) < d.window {
					return old, false
				}
			}
			return old, true
		})
		return true
	})
}
