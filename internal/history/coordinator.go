// Package history reconciles the local message cache with the paginated
// remote history endpoint and exposes merged, deduplicated pages.
package history

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/tbduarte/chatsync/internal/bus"
	"github.com/tbduarte/chatsync/internal/rest"
	"github.com/tbduarte/chatsync/internal/store"
	"go.uber.org/zap"
)

// Page is one merged history page, ascending by created_at.
type Page struct {
	ConversationID int64
	Messages       []store.Message
	// HasMore comes from the server; false for cache-only pages.
	HasMore bool
	// FromCache marks a page served from the cache because the remote
	// fetch failed (or was never attempted, for Cached()).
	FromCache bool
}

// Remote is the slice of the request executor the coordinator needs.
type Remote interface {
	History(ctx context.Context, conversationID, before int64, limit int) (*rest.HistoryPage, error)
}

// Coordinator merges the cache and the remote history endpoint.
type Coordinator struct {
	db     *store.DB
	remote Remote
	bus    *bus.Bus
	logger *zap.Logger
}

// NewCoordinator creates a history coordinator.
func NewCoordinator(db *store.DB, remote Remote, b *bus.Bus, logger *zap.Logger) *Coordinator {
	return &Coordinator{db: db, remote: remote, bus: b, logger: logger}
}

// Cached returns the cache-only page for immediate, offline-capable display.
// before <= 0 means the newest page.
func (c *Coordinator) Cached(conversationID, before int64, limit int) (*Page, error) {
	msgs, err := c.db.ListMessages(conversationID, before, limit)
	if err != nil {
		return nil, fmt.Errorf("read cache: %w", err)
	}
	return &Page{
		ConversationID: conversationID,
		Messages:       msgs,
		FromCache:      true,
	}, nil
}

// Unsynced returns the provisional backlog for a conversation so failed
// sends survive process restarts. These rows exist only in the cache.
func (c *Coordinator) Unsynced(conversationID int64) ([]store.Message, error) {
	return c.db.UnsyncedMessages(conversationID)
}

// Fetch returns the merged, deduplicated page older than before.
//
// The cache is read first as the provisional answer, then the remote page is
// fetched and written back (last-remote-write-wins, keyed by id; pending
// unsynced rows are never overwritten). The remote page is authoritative on
// success. On remote failure a non-empty cached page is the final answer and
// no error surfaces; an error surfaces only when both sources come up empty.
func (c *Coordinator) Fetch(ctx context.Context, conversationID, before int64, limit int) (*Page, error) {
	cached, cacheErr := c.db.ListMessages(conversationID, before, limit)
	if cacheErr != nil {
		c.logger.Warn("cache read failed", zap.Error(cacheErr),
			zap.Int64("conversation_id", conversationID))
	}

	remote, err := c.remote.History(ctx, conversationID, before, limit)
	if err != nil {
		if len(cached) > 0 {
			c.logger.Warn("history fetch failed, serving cache", zap.Error(err),
				zap.Int64("conversation_id", conversationID))
			return &Page{
				ConversationID: conversationID,
				Messages:       cached,
				FromCache:      true,
			}, nil
		}
		return nil, fmt.Errorf("history fetch (no cache fallback): %w", err)
	}

	msgs := make([]store.Message, 0, len(remote.Messages))
	for i := range remote.Messages {
		msgs = append(msgs, *remote.Messages[i].ToStoreMessage())
	}
	sortByCreatedAt(msgs)

	if err := c.db.UpsertPage(msgs); err != nil {
		// The page is still good; the cache just missed this write.
		c.logger.Warn("cache write failed", zap.Error(err),
			zap.Int64("conversation_id", conversationID))
	}

	c.bus.Publish(bus.Event{
		Kind:      "history.page",
		Timestamp: time.Now(),
		Payload: map[string]int64{
			"conversation_id": conversationID,
			"count":           int64(len(msgs)),
		},
	})

	return &Page{
		ConversationID: conversationID,
		Messages:       msgs,
		HasMore:        remote.HasMore,
	}, nil
}

// Cursor returns the load-older cursor for a page: the earliest created_at
// currently loaded. Successive calls must not re-request anything at or
// after it. Zero means "no cursor yet".
func (p *Page) Cursor() int64 {
	if len(p.Messages) == 0 {
		return 0
	}
	return p.Messages[0].CreatedAt
}

// sortByCreatedAt keeps a page ascending; ties break on id so the order is
// stable across merges.
func sortByCreatedAt(msgs []store.Message) {
	slices.SortStableFunc(msgs, func(a, b store.Message) int {
		if c := cmp.Compare(a.CreatedAt, b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}
