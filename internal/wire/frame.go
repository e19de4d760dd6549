package wire

// Live channel frame types.
const (
	FrameMessage    = "MESSAGE"
	FrameTyping     = "TYPING"
	FrameUserJoined = "USER_JOINED"
	FrameUserLeft   = "USER_LEFT"
	FrameConnected  = "CONNECTED"
)

// Frame is an inbound live channel frame. Exactly which optional fields are
// set depends on Type; unknown types are tolerated and dropped upstream.
type Frame struct {
	Type           string   `json:"type"`
	Message        *Message `json:"message,omitempty"`
	TypingUserID   *int64   `json:"typingUserId,omitempty"`
	TypingUserName string   `json:"typingUserName,omitempty"`
	OnlineUsers    []int64  `json:"onlineUsers,omitempty"`
	Timestamp      string   `json:"timestamp"`
}

// OutboundFrame is what the client writes on the live channel.
type OutboundFrame struct {
	Type    string `json:"type,omitempty"`
	Content string `json:"content"`
}

// Outbound typing markers.
const (
	TypingStart = "start"
	TypingStop  = "stop"
)
