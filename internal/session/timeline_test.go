package session

import (
	"testing"

	"github.com/tbduarte/chatsync/internal/store"
)

func tlMsg(id, createdAt int64) store.Message {
	return store.Message{
		ID: id, ConversationID: 7, Kind: store.KindUser,
		Content: "m", CreatedAt: createdAt, Synced: id > 0,
	}
}

func assertAscending(t *testing.T, tl *Timeline) {
	t.Helper()
	snap := tl.Snapshot()
	seen := make(map[int64]struct{}, len(snap))
	for i, m := range snap {
		if _, dup := seen[m.ID]; dup {
			t.Fatalf("duplicate id %d in timeline: %+v", m.ID, snap)
		}
		seen[m.ID] = struct{}{}
		if i > 0 && snap[i].CreatedAt < snap[i-1].CreatedAt {
			t.Fatalf("timeline not ascending at %d: %+v", i, snap)
		}
	}
}

func TestInsertIfAbsentDedupes(t *testing.T) {
	tl := NewTimeline()

	if !tl.InsertIfAbsent(tlMsg(1, 1000)) {
		t.Error("first insert should report inserted")
	}
	if tl.InsertIfAbsent(tlMsg(1, 1000)) {
		t.Error("re-delivery of the same id should be a no-op")
	}
	if tl.Len() != 1 {
		t.Errorf("len = %d, want 1", tl.Len())
	}
}

func TestInterleavedSourcesStayOrdered(t *testing.T) {
	tl := NewTimeline()

	// History page, out of order.
	tl.MergePage([]store.Message{tlMsg(13, 3000), tlMsg(11, 1000), tlMsg(12, 2000)})
	// Live arrival newer than the page.
	tl.InsertIfAbsent(tlMsg(20, 9000))
	// Local provisional send between the two.
	tl.InsertIfAbsent(tlMsg(-500, 5000))
	// Older page loaded afterwards.
	tl.MergePage([]store.Message{tlMsg(5, 500), tlMsg(4, 400)})

	assertAscending(t, tl)
	if tl.Earliest() != 400 {
		t.Errorf("earliest = %d, want 400", tl.Earliest())
	}
}

func TestMergePageIdempotent(t *testing.T) {
	tl := NewTimeline()
	page := []store.Message{tlMsg(1, 1000), tlMsg(2, 2000)}

	if changed := tl.MergePage(page); changed != 2 {
		t.Errorf("first merge changed %d, want 2", changed)
	}
	if changed := tl.MergePage(page); changed != 0 {
		t.Errorf("repeated merge changed %d, want 0", changed)
	}
	assertAscending(t, tl)
}

func TestUpsertReplacesContent(t *testing.T) {
	tl := NewTimeline()
	tl.InsertIfAbsent(tlMsg(1, 1000))

	updated := tlMsg(1, 1000)
	updated.Content = "edited"
	if !tl.Upsert(updated) {
		t.Error("upsert of changed content should report changed")
	}
	if got := tl.Snapshot()[0].Content; got != "edited" {
		t.Errorf("content = %q, want edited", got)
	}
	if tl.Len() != 1 {
		t.Errorf("len = %d, want 1", tl.Len())
	}
}

func TestReplaceSwapsProvisional(t *testing.T) {
	tl := NewTimeline()
	tl.InsertIfAbsent(tlMsg(-100, 5000))

	confirmed := tlMsg(200, 5100)
	tl.Replace(-100, confirmed)

	if tl.Len() != 1 {
		t.Fatalf("len = %d, want 1", tl.Len())
	}
	if got := tl.Snapshot()[0].ID; got != 200 {
		t.Errorf("id = %d, want 200", got)
	}
	assertAscending(t, tl)
}

func TestReplaceAfterLiveEcho(t *testing.T) {
	tl := NewTimeline()
	tl.InsertIfAbsent(tlMsg(-100, 5000))

	// The live channel echoes our own message before the send confirms.
	confirmed := tlMsg(200, 5100)
	tl.InsertIfAbsent(confirmed)

	// Confirmation then replaces the provisional; only one copy remains.
	tl.Replace(-100, confirmed)

	if tl.Len() != 1 {
		t.Fatalf("len = %d, want exactly one confirmed copy", tl.Len())
	}
	if got := tl.Snapshot()[0].ID; got != 200 {
		t.Errorf("id = %d, want 200", got)
	}
}

func TestRemoveUnknownID(t *testing.T) {
	tl := NewTimeline()
	tl.InsertIfAbsent(tlMsg(1, 1000))
	tl.Remove(99)
	if tl.Len() != 1 {
		t.Errorf("len = %d, want 1", tl.Len())
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	tl := NewTimeline()
	tl.InsertIfAbsent(tlMsg(1, 1000))

	snap := tl.Snapshot()
	snap[0].Content = "mutated"

	if got := tl.Snapshot()[0].Content; got != "m" {
		t.Errorf("timeline content = %q, mutation of a snapshot leaked in", got)
	}
}
