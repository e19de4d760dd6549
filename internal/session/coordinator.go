// Package session composes the connection manager, demultiplexer, history
// coordinator and send pipeline into one stream of state for a conversation
// screen. It owns the typing debounce/expiry timers and the session
// lifecycle (enter on open, leave on close).
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tbduarte/chatsync/internal/auth"
	"github.com/tbduarte/chatsync/internal/bus"
	"github.com/tbduarte/chatsync/internal/history"
	"github.com/tbduarte/chatsync/internal/send"
	"github.com/tbduarte/chatsync/internal/status"
	"github.com/tbduarte/chatsync/internal/store"
	"github.com/tbduarte/chatsync/internal/view"
	"github.com/tbduarte/chatsync/internal/wire"
	"github.com/tbduarte/chatsync/internal/ws"
	"go.uber.org/zap"
)

// Timer defaults for the typing lifecycle.
const (
	typingDebounce   = 300 * time.Millisecond
	typingInactivity = 2 * time.Second
	typingExpiry     = 3 * time.Second
)

// State is the unified observable state of the active conversation.
type State struct {
	ConversationID int64
	Messages       []view.DisplayMessage
	Connection     status.Status
	TypingUsers    []TypingEntry
	Presence       []int64
	HasMore        bool
	// HistoryFromCache is set while the latest page came from the cache
	// because the remote fetch failed.
	HistoryFromCache bool
}

// Coordinator is the façade used by a screen/controller.
type Coordinator struct {
	history  *history.Coordinator
	pipeline *send.Pipeline
	conn     *ws.Manager
	demux    *ws.Demux
	creds    auth.Provider
	bus      *bus.Bus
	logger   *zap.Logger
	pageSize int

	mu        sync.Mutex
	convID    int64
	cancel    context.CancelFunc
	timeline  *Timeline
	typing    *typingTracker
	notifier  *typingNotifier
	presence  []int64
	connState status.Status
	hasMore   bool
	fromCache bool
}

// Options tunes the coordinator. Zero values take the defaults above.
type Options struct {
	PageSize         int
	TypingDebounce   time.Duration
	TypingInactivity time.Duration
	TypingExpiry     time.Duration
}

func (o Options) withDefaults() Options {
	if o.PageSize <= 0 {
		o.PageSize = 50
	}
	if o.TypingDebounce <= 0 {
		o.TypingDebounce = typingDebounce
	}
	if o.TypingInactivity <= 0 {
		o.TypingInactivity = typingInactivity
	}
	if o.TypingExpiry <= 0 {
		o.TypingExpiry = typingExpiry
	}
	return o
}

// NewCoordinator creates a session coordinator.
func NewCoordinator(h *history.Coordinator, p *send.Pipeline, conn *ws.Manager, demux *ws.Demux,
	creds auth.Provider, b *bus.Bus, logger *zap.Logger, opts Options) *Coordinator {
	opts = opts.withDefaults()
	c := &Coordinator{
		history:  h,
		pipeline: p,
		conn:     conn,
		demux:    demux,
		creds:    creds,
		bus:      b,
		logger:   logger,
		pageSize: opts.PageSize,
		timeline: NewTimeline(),
	}
	c.typing = newTypingTracker(opts.TypingExpiry, c.publishState)
	c.notifier = newTypingNotifier(opts.TypingDebounce, opts.TypingInactivity, c.sendTyping)
	return c
}

// Enter opens the conversation: connects the live channel, loads the first
// history page and starts consuming the demultiplexed event channels. Any
// previous session is left first.
func (c *Coordinator) Enter(conversationID int64) {
	c.Leave()

	ctx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	c.convID = conversationID
	c.cancel = cancel
	c.timeline = NewTimeline()
	c.presence = nil
	c.hasMore = false
	c.fromCache = false
	c.connState = status.Status{Phase: status.Disconnected}
	c.mu.Unlock()

	// Frames buffered from a previous conversation must not bleed in.
	c.demux.Drain()
	c.conn.Open(conversationID)

	// Provisional cache page plus any unsynced backlog, before the remote
	// page lands.
	if page, err := c.history.Cached(conversationID, 0, c.pageSize); err == nil {
		c.mu.Lock()
		c.timeline.MergePage(page.Messages)
		c.mu.Unlock()
	}
	if pending, err := c.history.Unsynced(conversationID); err == nil {
		c.mu.Lock()
		c.timeline.MergePage(pending)
		c.mu.Unlock()
	}
	c.publishState()

	go c.loadHistory(ctx, conversationID, 0)
	go c.consume(ctx, conversationID)
}

// Leave closes the session: cancels every timer and in-flight task, closes
// the live channel with the user-initiated close code (suppressing
// auto-reconnect) and releases channel subscriptions.
func (c *Coordinator) Leave() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.convID = 0
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	c.notifier.Stop()
	cancel()
	c.typing.Clear()
	c.conn.Close()
}

// Submit optimistically inserts the message and delivers it in the
// background. Returns the provisional id usable with Retry.
func (c *Coordinator) Submit(text string) (int64, error) {
	c.mu.Lock()
	convID := c.convID
	c.mu.Unlock()
	if convID == 0 {
		return 0, errors.New("no active conversation")
	}

	prov, err := c.pipeline.Prepare(convID, text)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	c.timeline.InsertIfAbsent(*prov)
	c.mu.Unlock()
	c.publishState()

	go c.deliver(convID, prov)
	return prov.ID, nil
}

// Retry re-delivers a retained provisional message, reusing its id.
func (c *Coordinator) Retry(provisionalID int64) {
	c.mu.Lock()
	convID := c.convID
	c.mu.Unlock()

	go func() {
		res, err := c.pipeline.Retry(context.Background(), convID, provisionalID)
		if err != nil {
			return
		}
		c.applyConfirmation(convID, provisionalID, res.Confirmed)
	}()
}

func (c *Coordinator) deliver(convID int64, prov *store.Message) {
	res, err := c.pipeline.Deliver(context.Background(), prov)
	if err != nil {
		// Provisional row retained unsynced; the send_failed bus event
		// carries the original input back to the compose field.
		return
	}
	c.applyConfirmation(convID, prov.ID, res.Confirmed)
}

func (c *Coordinator) applyConfirmation(convID, provisionalID int64, confirmed *store.Message) {
	c.mu.Lock()
	if c.convID != convID {
		c.mu.Unlock()
		return
	}
	c.timeline.Replace(provisionalID, *confirmed)
	c.mu.Unlock()
	c.publishState()
}

// LoadOlder fetches the page before the earliest loaded message.
func (c *Coordinator) LoadOlder() {
	c.mu.Lock()
	convID := c.convID
	cursor := c.timeline.Earliest()
	c.mu.Unlock()
	if convID == 0 {
		return
	}

	ctx := context.Background()
	go c.loadHistory(ctx, convID, cursor)
}

// InputChanged records a compose-field change for the outgoing typing
// lifecycle.
func (c *Coordinator) InputChanged() {
	c.notifier.Changed()
}

// State returns a snapshot of the unified session state, with presentation
// attributes recomputed.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		ConversationID:   c.convID,
		Messages:         view.Decorate(c.timeline.Snapshot(), c.creds.UserID(), time.Now()),
		Connection:       c.connState,
		TypingUsers:      c.typing.Snapshot(),
		Presence:         c.presence,
		HasMore:          c.hasMore,
		HistoryFromCache: c.fromCache,
	}
}

func (c *Coordinator) publishState() {
	c.bus.Publish(bus.Event{
		Kind:      "session.state_changed",
		Timestamp: time.Now(),
		Payload:   c.State(),
	})
}

func (c *Coordinator) sendTyping(start bool) {
	content := wire.TypingStop
	if start {
		content = wire.TypingStart
	}
	if err := c.conn.Send(wire.OutboundFrame{Type: wire.FrameTyping, Content: content}); err != nil {
		c.logger.Debug("typing frame not sent", zap.Error(err))
	}
}

// loadHistory runs one merged history fetch. A result that arrives after
// the session moved to another conversation is discarded as stale.
func (c *Coordinator) loadHistory(ctx context.Context, convID, before int64) {
	page, err := c.history.Fetch(ctx, convID, before, c.pageSize)
	if err != nil {
		c.logger.Warn("history load failed", zap.Error(err),
			zap.Int64("conversation_id", convID))
		c.bus.Publish(bus.Event{
			Kind:      "session.history_failed",
			Timestamp: time.Now(),
			Payload:   map[string]int64{"conversation_id": convID},
		})
		return
	}

	c.mu.Lock()
	if c.convID != convID || ctx.Err() != nil {
		c.mu.Unlock()
		return
	}
	c.timeline.MergePage(page.Messages)
	c.hasMore = page.HasMore
	c.fromCache = page.FromCache
	c.mu.Unlock()
	c.publishState()
}

// consume drains the demultiplexed channels and connection state changes
// until the session ends.
func (c *Coordinator) consume(ctx context.Context, convID int64) {
	connCh, unsub := c.bus.Subscribe("conn.", 16)
	defer unsub()

	ownID := c.creds.UserID()

	for {
		select {
		case m := <-c.demux.Messages():
			c.mu.Lock()
			if c.convID != convID || m.ConversationID != convID {
				c.mu.Unlock()
				continue
			}
			inserted := c.timeline.InsertIfAbsent(*m)
			c.mu.Unlock()
			if inserted {
				c.publishState()
			}
		case t := <-c.demux.Typing():
			if t.UserID == ownID {
				continue
			}
			c.typing.Renew(t.UserID, t.Name)
		case p := <-c.demux.Presence():
			c.mu.Lock()
			c.presence = p
			c.mu.Unlock()
			c.publishState()
		case evt := <-connCh:
			change, ok := evt.Payload.(status.Change)
			if !ok || change.ConversationID != convID {
				continue
			}
			c.mu.Lock()
			c.connState = change.To
			c.mu.Unlock()
			c.publishState()
		case <-ctx.Done():
			return
		}
	}
}
