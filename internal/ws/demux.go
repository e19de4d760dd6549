package ws

import (
	"context"
	"encoding/json"

	"github.com/tbduarte/chatsync/internal/store"
	"github.com/tbduarte/chatsync/internal/wire"
	"go.uber.org/zap"
)

// channelCap bounds each demultiplexed channel. Producers block on a full
// channel rather than dropping: message loss is unacceptable, so a slow
// consumer throttles frame processing instead.
const channelCap = 64

// TypingUpdate reports that a user is typing.
type TypingUpdate struct {
	UserID int64
	Name   string
}

// Demux parses raw live-channel frames into typed domain events and fans
// them into independent bounded channels. A malformed or unrecognized frame
// is logged and discarded; it never terminates the stream.
type Demux struct {
	messages chan *store.Message
	typing   chan TypingUpdate
	presence chan []int64
	logger   *zap.Logger
}

// NewDemux creates a demultiplexer with bounded channels.
func NewDemux(logger *zap.Logger) *Demux {
	return &Demux{
		messages: make(chan *store.Message, channelCap),
		typing:   make(chan TypingUpdate, channelCap),
		presence: make(chan []int64, channelCap),
		logger:   logger,
	}
}

// Messages is the incoming message channel.
func (d *Demux) Messages() <-chan *store.Message { return d.messages }

// Typing is the typing update channel.
func (d *Demux) Typing() <-chan TypingUpdate { return d.typing }

// Presence is the online-user set channel. Each value replaces the previous
// set wholesale; the server is the source of truth for membership.
func (d *Demux) Presence() <-chan []int64 { return d.presence }

// Dispatch classifies one raw frame into exactly one typed event. It blocks
// while the target channel is full and returns only when delivered, the
// frame is dropped, or ctx is done.
func (d *Demux) Dispatch(ctx context.Context, raw []byte) error {
	var frame wire.Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		d.logger.Warn("malformed frame dropped", zap.Error(err))
		return nil
	}

	switch frame.Type {
	case wire.FrameMessage:
		if frame.Message == nil {
			d.logger.Warn("message frame without payload dropped")
			return nil
		}
		return send(ctx, d.messages, frame.Message.ToStoreMessage())
	case wire.FrameTyping:
		if frame.TypingUserID == nil {
			d.logger.Warn("typing frame without user dropped")
			return nil
		}
		return send(ctx, d.typing, TypingUpdate{UserID: *frame.TypingUserID, Name: frame.TypingUserName})
	case wire.FrameUserJoined, wire.FrameUserLeft, wire.FrameConnected:
		return send(ctx, d.presence, frame.OnlineUsers)
	default:
		d.logger.Warn("unrecognized frame type dropped", zap.String("type", frame.Type))
		return nil
	}
}

// Drain discards everything currently buffered on the typed channels.
// Typing and presence frames carry no conversation id, so a session drains
// leftovers from the previous conversation before it starts consuming.
func (d *Demux) Drain() {
	for {
		select {
		case <-d.messages:
		case <-d.typing:
		case <-d.presence:
		default:
			return
		}
	}
}

func send[T any](ctx context.Context, ch chan T, v T) error {
	select {
	case ch <- v:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
