package store

// Message kinds.
const (
	KindUser   = "USER"
	KindSystem = "SYSTEM"
)

// Message is a cached conversation message. ID is the server-assigned id for
// confirmed messages; provisional messages created by the send pipeline carry
// a negative client-generated id until the server confirms them, so the two
// id spaces never collide.
type Message struct {
	ID                 int64
	ConversationID     int64
	SenderID           *int64 // nil for system messages
	Kind               string
	Content            string
	SystemEventType    string
	SystemEventPayload string
	CreatedAt          int64 // unix millis UTC, ordering truth
	Synced             bool
}

// Provisional reports whether the message is a not-yet-confirmed local row.
func (m *Message) Provisional() bool {
	return m.ID < 0
}
