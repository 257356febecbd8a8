package moderation

import (
	"testing"
	"time"
)

func TestRaidDetectorLockdownLifecycle(t *testing.T) {
	t.Parallel()

	d := NewRaidDetector(5, 10*time.Second, 300*time.Second)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	const chat = -100

	for i := 0; i < 5; i++ {
		if obs := d.RecordJoin(chat, start.Add(time.Duration(i)*time.Second)); obs.Lockdown {
			t.Fatalf("join %d must not lock down", i+1)
		}
	}
	obs := d.RecordJoin(chat, start.Add(5*time.Second))
	if !obs.Lockdown || !obs.Activated {
		t.Fatalf("sixth join must activate lockdown: %+v", obs)
	}
	if want := start.Add(305 * time.Second); !obs.EndsAt.Equal(want) {
		t.Fatalf("endsAt = %v, want %v", obs.EndsAt, want)
	}
	if st := d.Status(chat, start.Add(6*time.Second)); !st.Active {
		t.Fatalf("status must report lockdown")
	}

	obs = d.RecordJoin(chat, start.Add(6*time.Second))
	if !obs.Lockdown || obs.Activated {
		t.Fatalf("joins during lockdown must not re-activate: %+v", obs)
	}

	obs = d.RecordJoin(chat, start.Add(5*time.Second+301*time.Second))
	if !obs.Deactivated || obs.Lockdown {
		t.Fatalf("join after endsAt must deactivate: %+v", obs)
	}
	if st := d.Status(chat, start.Add(400*time.Second)); st.Active {
		t.Fatalf("lockdown must be over")
	}
}

func TestRaidDetectorChatsAreIndependent(t *testing.T) {
	t.Parallel()

	d := NewRaidDetector(1, 10*time.Second, time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	d.RecordJoin(1, now)
	if obs := d.RecordJoin(1, now); !obs.Activated {
		t.Fatalf("chat 1 must lock down")
	}
	if obs := d.RecordJoin(2, now); obs.Lockdown {
		t.Fatalf("chat 2 must stay normal")
	}
}

func TestRaidDetectorUnlock(t *testing.T) {
	t.Parallel()

	d := NewRaidDetector(1, 10*time.Second, time.Hour)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if d.Unlock(1) {
		t.Fatalf("unknown chat is not locked")
	}
	d.RecordJoin(1, now)
	d.RecordJoin(1, now)
	if !d.Unlock(1) {
		t.Fatalf("unlock must report the active lockdown")
	}
	if d.Status(1, now).Active {
		t.Fatalf("lockdown must be lifted immediately")
	}
	if d.Unlock(1) {
		t.Fatalf("second unlock must be a no-op")
	}
}

func TestRaidDetectorStatusIgnoresExpiredLockdown(t *testing.T) {
	t.Parallel()

	d := NewRaidDetector(1, 10*time.Second, time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	d.RecordJoin(1, now)
	d.RecordJoin(1, now)
	if d.Status(1, now.Add(2*time.Minute)).Active {
		t.Fatalf("expired lockdown must read as inactive")
	}
}

func TestRaidDetectorSweep(t *testing.T) {
	t.Parallel()

	d := NewRaidDetector(5, 10*time.Second, time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	d.RecordJoin(1, now)
	d.RecordJoin(2, now.Add(15*time.Second))
	d.Sweep(now.Add(20 * time.Second))
	if d.chats.Size() != 1 {
		t.Fatalf("idle chat must be forgotten, size = %d", d.chats.Size())
	}
}
