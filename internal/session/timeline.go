package session

import (
	"cmp"
	"slices"

	"github.com/tbduarte/chatsync/internal/store"
)

// Timeline is the single merge point for history pages, live arrivals and
// local sends. It holds the invariant "ascending created_at, no duplicate
// ids" regardless of how those sources interleave. Not safe for concurrent
// use; the coordinator serializes access.
type Timeline struct {
	msgs []store.Message
	ids  map[int64]struct{}
}

// NewTimeline creates an empty timeline.
func NewTimeline() *Timeline {
	return &Timeline{ids: make(map[int64]struct{})}
}

func (t *Timeline) order(a, b store.Message) int {
	if c := cmp.Compare(a.CreatedAt, b.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// InsertIfAbsent adds a message unless an entity with that id (provisional
// or confirmed) already exists. Returns whether it was inserted. This is the
// idempotent re-delivery rule for live arrivals.
func (t *Timeline) InsertIfAbsent(m store.Message) bool {
	if _, ok := t.ids[m.ID]; ok {
		return false
	}
	idx, _ := slices.BinarySearchFunc(t.msgs, m, t.order)
	t.msgs = slices.Insert(t.msgs, idx, m)
	t.ids[m.ID] = struct{}{}
	return true
}

// Upsert inserts a message or replaces the existing entry with the same id
// (last-remote-write-wins for history pages). Returns whether anything
// changed position or content.
func (t *Timeline) Upsert(m store.Message) bool {
	if _, ok := t.ids[m.ID]; !ok {
		return t.InsertIfAbsent(m)
	}
	for i := range t.msgs {
		if t.msgs[i].ID == m.ID {
			if t.msgs[i] == m {
				return false
			}
			t.msgs = slices.Delete(t.msgs, i, i+1)
			break
		}
	}
	idx, _ := slices.BinarySearchFunc(t.msgs, m, t.order)
	t.msgs = slices.Insert(t.msgs, idx, m)
	return true
}

// Replace swaps a provisional entry for its confirmed counterpart. When the
// confirmed id is already present (the live channel echoed our own message
// first), the provisional entry is simply dropped and exactly one confirmed
// copy remains.
func (t *Timeline) Replace(provisionalID int64, confirmed store.Message) {
	t.Remove(provisionalID)
	t.InsertIfAbsent(confirmed)
}

// Remove drops an entry by id.
func (t *Timeline) Remove(id int64) {
	if _, ok := t.ids[id]; !ok {
		return
	}
	delete(t.ids, id)
	for i := range t.msgs {
		if t.msgs[i].ID == id {
			t.msgs = slices.Delete(t.msgs, i, i+1)
			return
		}
	}
}

// MergePage upserts a history page. Returns the number of changed entries.
func (t *Timeline) MergePage(msgs []store.Message) int {
	changed := 0
	for _, m := range msgs {
		if t.Upsert(m) {
			changed++
		}
	}
	return changed
}

// Earliest returns the created_at of the oldest loaded message, i.e. the
// load-older cursor. Zero when empty.
func (t *Timeline) Earliest() int64 {
	if len(t.msgs) == 0 {
		return 0
	}
	return t.msgs[0].CreatedAt
}

// Len returns the number of entries.
func (t *Timeline) Len() int { return len(t.msgs) }

// Snapshot returns a copy of the merged view, ascending by created_at.
func (t *Timeline) Snapshot() []store.Message {
	return slices.Clone(t.msgs)
}
