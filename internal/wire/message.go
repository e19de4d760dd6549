// Package wire holds the JSON types shared by the REST backend and the live
// channel, and their normalization into cache entities.
package wire

import (
	"time"

	"github.com/tbduarte/chatsync/internal/store"
)

// Message is the message payload as the backend serializes it.
type Message struct {
	ID                 int64  `json:"id"`
	ConversationID     int64  `json:"conversationId"`
	SenderID           *int64 `json:"senderId"`
	Kind               string `json:"kind"`
	Content            string `json:"content"`
	SystemEventType    string `json:"systemEventType,omitempty"`
	SystemEventPayload string `json:"systemEventPayload,omitempty"`
	CreatedAt          string `json:"createdAt"`
}

// ToStoreMessage normalizes a wire message into a cache entity. Confirmed
// server messages are always synced. A missing or malformed createdAt falls
// back to the receive time so one sloppy payload cannot break ordering.
func (m *Message) ToStoreMessage() *store.Message {
	kind := m.Kind
	if kind == "" {
		kind = store.KindUser
	}
	return &store.Message{
		ID:                 m.ID,
		ConversationID:     m.ConversationID,
		SenderID:           m.SenderID,
		Kind:               kind,
		Content:            m.Content,
		SystemEventType:    m.SystemEventType,
		SystemEventPayload: m.SystemEventPayload,
		CreatedAt:          ParseTimestamp(m.CreatedAt),
		Synced:             true,
	}
}

// ParseTimestamp converts an RFC3339 timestamp to unix millis, falling back
// to now for unparseable input.
func ParseTimestamp(s string) int64 {
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts.UnixMilli()
	}
	return time.Now().UnixMilli()
}

// FormatTimestamp renders unix millis as the backend's RFC3339 form.
func FormatTimestamp(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339Nano)
}
