// Package send implements the optimistic send pipeline: provisional local
// insertion, remote submission, and confirm-or-retain reconciliation.
package send

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tbduarte/chatsync/internal/auth"
	"github.com/tbduarte/chatsync/internal/bus"
	"github.com/tbduarte/chatsync/internal/store"
	"github.com/tbduarte/chatsync/internal/wire"
	"go.uber.org/zap"
)

// Creator is the slice of the request executor the pipeline needs.
type Creator interface {
	Create(ctx context.Context, conversationID int64, content string) (*wire.Message, error)
}

// Result is the outcome of one delivery attempt.
type Result struct {
	ProvisionalID int64
	// Confirmed is set on success: the server-assigned row now in the cache.
	Confirmed *store.Message
	// Input is the original text, restored to the caller for re-edit/retry
	// when delivery failed.
	Input string
}

// Confirmation is the bus payload for "message.confirmed".
type Confirmation struct {
	ConversationID int64
	ProvisionalID  int64
	Message        *store.Message
}

// Failure is the bus payload for "message.send_failed".
type Failure struct {
	ConversationID int64
	ProvisionalID  int64
	Input          string
	Err            string
}

// Pipeline performs optimistic sends against the cache and the backend.
type Pipeline struct {
	db     *store.DB
	remote Creator
	creds  auth.Provider
	bus    *bus.Bus
	logger *zap.Logger

	mu     sync.Mutex
	lastID int64
	clock  func() int64
}

// NewPipeline creates a send pipeline.
func NewPipeline(db *store.DB, remote Creator, creds auth.Provider, b *bus.Bus, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		db:     db,
		remote: remote,
		creds:  creds,
		bus:    b,
		logger: logger,
		clock:  func() int64 { return time.Now().UnixMilli() },
	}
}

// nextProvisionalID derives a strictly monotonic id from the client clock.
// Provisional ids are negative so they can never collide with a
// server-assigned id.
func (p *Pipeline) nextProvisionalID() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := -p.clock()
	if p.lastID != 0 && id >= p.lastID {
		id = p.lastID - 1
	}
	p.lastID = id
	return id
}

// Prepare inserts the provisional, unsynced message into the cache and
// returns it for immediate timeline insertion (optimistic UI).
func (p *Pipeline) Prepare(conversationID int64, content string) (*store.Message, error) {
	senderID := p.creds.UserID()
	prov := &store.Message{
		ID:             p.nextProvisionalID(),
		ConversationID: conversationID,
		SenderID:       &senderID,
		Kind:           store.KindUser,
		Content:        content,
		CreatedAt:      p.clock(),
		Synced:         false,
	}
	if err := p.db.UpsertMessage(prov); err != nil {
		return nil, fmt.Errorf("insert provisional: %w", err)
	}
	p.bus.Publish(bus.Event{Kind: "message.upserted", Timestamp: time.Now(), Payload: prov})
	return prov, nil
}

// Deliver submits a provisional message to the backend. On success the
// provisional cache row is replaced by the confirmed one; on failure it is
// retained unsynced for a later Retry, never silently dropped.
func (p *Pipeline) Deliver(ctx context.Context, prov *store.Message) (*Result, error) {
	confirmed, err := p.remote.Create(ctx, prov.ConversationID, prov.Content)
	if err != nil {
		p.logger.Warn("send failed, provisional retained", zap.Error(err),
			zap.Int64("provisional_id", prov.ID))
		p.bus.Publish(bus.Event{
			Kind:      "message.send_failed",
			Timestamp: time.Now(),
			Payload: Failure{
				ConversationID: prov.ConversationID,
				ProvisionalID:  prov.ID,
				Input:          prov.Content,
				Err:            err.Error(),
			},
		})
		return &Result{ProvisionalID: prov.ID, Input: prov.Content}, err
	}

	msg := confirmed.ToStoreMessage()
	if err := p.db.ReplaceMessage(prov.ConversationID, prov.ID, msg); err != nil {
		return nil, fmt.Errorf("replace provisional: %w", err)
	}

	p.bus.Publish(bus.Event{
		Kind:      "message.confirmed",
		Timestamp: time.Now(),
		Payload: Confirmation{
			ConversationID: prov.ConversationID,
			ProvisionalID:  prov.ID,
			Message:        msg,
		},
	})
	return &Result{ProvisionalID: prov.ID, Confirmed: msg}, nil
}

// Submit is the one-shot path: optimistic insert, then delivery.
func (p *Pipeline) Submit(ctx context.Context, conversationID int64, content string) (*Result, error) {
	prov, err := p.Prepare(conversationID, content)
	if err != nil {
		return nil, err
	}
	return p.Deliver(ctx, prov)
}

// Retry re-submits a retained provisional message. The same provisional id
// is reused until success, so a retry can never duplicate the message.
func (p *Pipeline) Retry(ctx context.Context, conversationID, provisionalID int64) (*Result, error) {
	prov, err := p.db.GetMessage(conversationID, provisionalID)
	if err != nil {
		return nil, fmt.Errorf("load provisional: %w", err)
	}
	if prov == nil || prov.Synced {
		return nil, fmt.Errorf("no pending provisional message %d", provisionalID)
	}
	return p.Deliver(ctx, prov)
}
