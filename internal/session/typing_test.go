package session

import (
	"sync"
	"testing"
	"time"
)

func TestTrackerEntryExpires(t *testing.T) {
	tr := newTypingTracker(80*time.Millisecond, func() {})

	tr.Renew(42, "Ava")
	if got := tr.Snapshot(); len(got) != 1 || got[0].UserID != 42 {
		t.Fatalf("snapshot = %+v, want Ava typing", got)
	}

	// Just before the TTL the entry is still present.
	time.Sleep(40 * time.Millisecond)
	if got := tr.Snapshot(); len(got) != 1 {
		t.Errorf("entry expired early: %+v", got)
	}

	// Well past the TTL it is gone without any server round-trip.
	time.Sleep(100 * time.Millisecond)
	if got := tr.Snapshot(); len(got) != 0 {
		t.Errorf("entry did not expire: %+v", got)
	}
}

func TestTrackerRenewResetsExpiry(t *testing.T) {
	tr := newTypingTracker(80*time.Millisecond, func() {})

	tr.Renew(42, "Ava")
	time.Sleep(50 * time.Millisecond)
	tr.Renew(42, "Ava")
	time.Sleep(50 * time.Millisecond)

	// 100ms since the first update but only 50ms since the renewal.
	if got := tr.Snapshot(); len(got) != 1 {
		t.Errorf("renewed entry expired: %+v", got)
	}
}

func TestTrackerStaleTimerDoesNotEvictRenewedEntry(t *testing.T) {
	tr := newTypingTracker(time.Second, func() {})

	// A timer from before the renewal can fire after Renew re-armed the
	// entry; it must not evict the renewed entry.
	tr.Renew(42, "Ava")
	tr.expire(42)

	if got := tr.Snapshot(); len(got) != 1 {
		t.Errorf("snapshot = %+v, want the renewed entry to survive", got)
	}
}

func TestTrackerOneEntryPerUser(t *testing.T) {
	tr := newTypingTracker(time.Second, func() {})

	tr.Renew(42, "Ava")
	tr.Renew(42, "Ava")
	tr.Renew(7, "Bo")

	if got := tr.Snapshot(); len(got) != 2 {
		t.Errorf("snapshot = %+v, want one entry per user", got)
	}
}

func TestTrackerClearStopsTimers(t *testing.T) {
	var mu sync.Mutex
	changes := 0
	tr := newTypingTracker(50*time.Millisecond, func() {
		mu.Lock()
		changes++
		mu.Unlock()
	})

	tr.Renew(42, "Ava")
	tr.Clear()
	if got := tr.Snapshot(); len(got) != 0 {
		t.Errorf("snapshot after clear = %+v, want empty", got)
	}

	mu.Lock()
	before := changes
	mu.Unlock()
	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	after := changes
	mu.Unlock()
	if after != before {
		t.Error("expiry fired for a cleared entry")
	}
}

// sentRecorder collects notifier sends in order.
type sentRecorder struct {
	mu    sync.Mutex
	sends []bool
}

func (r *sentRecorder) send(start bool) {
	r.mu.Lock()
	r.sends = append(r.sends, start)
	r.mu.Unlock()
}

func (r *sentRecorder) get() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]bool, len(r.sends))
	copy(out, r.sends)
	return out
}

func TestNotifierStartOncePerBurst(t *testing.T) {
	rec := &sentRecorder{}
	n := newTypingNotifier(30*time.Millisecond, 200*time.Millisecond, rec.send)

	// A burst of keystrokes faster than the debounce window.
	for i := 0; i < 5; i++ {
		n.Changed()
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(60 * time.Millisecond)

	if got := rec.get(); len(got) != 1 || !got[0] {
		t.Errorf("sends = %v, want a single start", got)
	}
}

func TestNotifierStopAfterInactivity(t *testing.T) {
	rec := &sentRecorder{}
	n := newTypingNotifier(20*time.Millisecond, 80*time.Millisecond, rec.send)

	n.Changed()
	time.Sleep(150 * time.Millisecond)

	got := rec.get()
	if len(got) != 2 || !got[0] || got[1] {
		t.Errorf("sends = %v, want start then stop", got)
	}
}

func TestNotifierStopSendsFinalStop(t *testing.T) {
	rec := &sentRecorder{}
	n := newTypingNotifier(20*time.Millisecond, time.Minute, rec.send)

	n.Changed()
	time.Sleep(50 * time.Millisecond) // start fired, stop still pending
	n.Stop()

	got := rec.get()
	if len(got) != 2 || !got[0] || got[1] {
		t.Errorf("sends = %v, want start then the final stop", got)
	}
}

func TestNotifierStopBeforeStartSendsNothing(t *testing.T) {
	rec := &sentRecorder{}
	n := newTypingNotifier(time.Minute, time.Minute, rec.send)

	n.Changed()
	n.Stop()
	time.Sleep(30 * time.Millisecond)

	if got := rec.get(); len(got) != 0 {
		t.Errorf("sends = %v, want none before the start fired", got)
	}
}
