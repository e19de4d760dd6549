package session

import (
	"sync"
	"time"
)

// TypingEntry is one user currently typing in the conversation.
type TypingEntry struct {
	UserID      int64
	DisplayName string
	ExpiresAt   time.Time
}

// typingTracker owns incoming typing entries. Each update resets a per-user
// expiry timer; an entry that is not renewed in time disappears without any
// server round-trip. A user has at most one live entry.
type typingTracker struct {
	mu       sync.Mutex
	ttl      time.Duration
	entries  map[int64]*typingState
	onChange func()
}

type typingState struct {
	name      string
	expiresAt time.Time
	timer     *time.Timer
}

func newTypingTracker(ttl time.Duration, onChange func()) *typingTracker {
	return &typingTracker{
		ttl:      ttl,
		entries:  make(map[int64]*typingState),
		onChange: onChange,
	}
}

// Renew records a typing update and resets the user's expiry timer.
func (t *typingTracker) Renew(userID int64, name string) {
	t.mu.Lock()
	st, ok := t.entries[userID]
	if ok {
		st.timer.Stop()
	} else {
		st = &typingState{}
		t.entries[userID] = st
	}
	st.name = name
	st.expiresAt = time.Now().Add(t.ttl)
	st.timer = time.AfterFunc(t.ttl, func() { t.expire(userID) })
	t.mu.Unlock()

	t.onChange()
}

func (t *typingTracker) expire(userID int64) {
	t.mu.Lock()
	st, ok := t.entries[userID]
	if ok && time.Now().Before(st.expiresAt) {
		// A stale timer firing after a renewal; the renewed timer owns the
		// entry now.
		t.mu.Unlock()
		return
	}
	if ok {
		delete(t.entries, userID)
	}
	t.mu.Unlock()

	if ok {
		t.onChange()
	}
}

// Snapshot returns the live entries.
func (t *typingTracker) Snapshot() []TypingEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]TypingEntry, 0, len(t.entries))
	for id, st := range t.entries {
		out = append(out, TypingEntry{UserID: id, DisplayName: st.name, ExpiresAt: st.expiresAt})
	}
	return out
}

// Clear cancels every timer and drops all entries.
func (t *typingTracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, st := range t.entries {
		st.timer.Stop()
		delete(t.entries, id)
	}
}

// typingNotifier debounces outgoing typing signals: "start" goes out once
// the input burst has paused for the debounce window, "stop" after the
// inactivity window with no further changes.
type typingNotifier struct {
	mu         sync.Mutex
	debounce   time.Duration
	inactivity time.Duration
	send       func(start bool)

	active     bool
	startTimer *time.Timer
	stopTimer  *time.Timer
}

func newTypingNotifier(debounce, inactivity time.Duration, send func(start bool)) *typingNotifier {
	return &typingNotifier{debounce: debounce, inactivity: inactivity, send: send}
}

// Changed records a text-input change.
func (n *typingNotifier) Changed() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.startTimer != nil {
		n.startTimer.Stop()
	}
	n.startTimer = time.AfterFunc(n.debounce, n.fireStart)

	if n.stopTimer != nil {
		n.stopTimer.Stop()
	}
	n.stopTimer = time.AfterFunc(n.inactivity, n.fireStop)
}

func (n *typingNotifier) fireStart() {
	n.mu.Lock()
	already := n.active
	n.active = true
	n.startTimer = nil
	n.mu.Unlock()

	if !already {
		n.send(true)
	}
}

func (n *typingNotifier) fireStop() {
	n.mu.Lock()
	wasActive := n.active
	n.active = false
	n.stopTimer = nil
	n.mu.Unlock()

	if wasActive {
		n.send(false)
	}
}

// Stop cancels pending timers; if a start was already sent, a final stop
// goes out so the peer never sees a stuck indicator.
func (n *typingNotifier) Stop() {
	n.mu.Lock()
	if n.startTimer != nil {
		n.startTimer.Stop()
		n.startTimer = nil
	}
	if n.stopTimer != nil {
		n.stopTimer.Stop()
		n.stopTimer = nil
	}
	wasActive := n.active
	n.active = false
	n.mu.Unlock()

	if wasActive {
		n.send(false)
	}
}
