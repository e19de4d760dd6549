package wire

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/tbduarte/chatsync/internal/store"
)

func TestToStoreMessage(t *testing.T) {
	sender := int64(42)
	m := &Message{
		ID: 101, ConversationID: 7, SenderID: &sender, Kind: store.KindUser,
		Content: "hello", CreatedAt: "2026-08-30T10:00:00Z",
	}

	got := m.ToStoreMessage()
	if got.ID != 101 || got.ConversationID != 7 || got.Content != "hello" {
		t.Errorf("entity = %+v", got)
	}
	if !got.Synced {
		t.Error("server message must be synced")
	}
	want := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC).UnixMilli()
	if got.CreatedAt != want {
		t.Errorf("createdAt = %d, want %d", got.CreatedAt, want)
	}
}

func TestToStoreMessageDefaultsKind(t *testing.T) {
	m := &Message{ID: 1, ConversationID: 7, CreatedAt: "2026-08-30T10:00:00Z"}
	if got := m.ToStoreMessage(); got.Kind != store.KindUser {
		t.Errorf("kind = %q, want USER", got.Kind)
	}
}

func TestParseTimestampFallsBackToNow(t *testing.T) {
	before := time.Now().UnixMilli()
	got := ParseTimestamp("garbage")
	after := time.Now().UnixMilli()
	if got < before || got > after {
		t.Errorf("fallback timestamp %d outside [%d, %d]", got, before, after)
	}
}

func TestTimestampRoundTrip(t *testing.T) {
	ms := int64(1787479200123)
	if got := ParseTimestamp(FormatTimestamp(ms)); got != ms {
		t.Errorf("round trip = %d, want %d", got, ms)
	}
}

func TestSystemEventDecoding(t *testing.T) {
	raw := []byte(`{
		"id": 5, "conversationId": 7, "senderId": null, "kind": "SYSTEM",
		"content": "Ava joined", "systemEventType": "USER_JOINED",
		"systemEventPayload": "{\"userId\": 42}", "createdAt": "2026-08-30T10:00:00Z"
	}`)

	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatal(err)
	}
	got := m.ToStoreMessage()
	if got.SenderID != nil {
		t.Error("system message sender should stay nil")
	}
	if got.Kind != store.KindSystem || got.SystemEventType != "USER_JOINED" {
		t.Errorf("entity = %+v", got)
	}
}
