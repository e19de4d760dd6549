package store

import (
	"database/sql"
	"fmt"
	"time"
)

const messageColumns = `conversation_id, id, sender_id, kind, content, system_event_type, system_event_payload, created_at, synced`

// UpsertMessage inserts or updates a message keyed by (conversation_id, id).
// A write is an upsert, never a blind insert: both the history coordinator
// and the send pipeline go through here, so concurrent writers cannot
// produce duplicate rows. A synced (remote) write never clobbers a pending
// unsynced local row.
func (db *DB) UpsertMessage(m *Message) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO messages (`+messageColumns+`, cached_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id, id) DO UPDATE SET
			sender_id = excluded.sender_id,
			kind = excluded.kind,
			content = excluded.content,
			system_event_type = excluded.system_event_type,
			system_event_payload = excluded.system_event_payload,
			created_at = excluded.created_at,
			synced = excluded.synced
		WHERE NOT (messages.synced = 0 AND excluded.synced = 1)`,
		m.ConversationID, m.ID, m.SenderID, m.Kind, m.Content,
		m.SystemEventType, m.SystemEventPayload, m.CreatedAt, m.Synced, now)
	return err
}

// UpsertPage writes a remote history page in one transaction
// (last-remote-write-wins, keyed by id).
func (db *DB) UpsertPage(msgs []Message) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	for _, m := range msgs {
		if _, err := tx.Exec(`
			INSERT INTO messages (`+messageColumns+`, cached_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(conversation_id, id) DO UPDATE SET
				sender_id = excluded.sender_id,
				kind = excluded.kind,
				content = excluded.content,
				system_event_type = excluded.system_event_type,
				system_event_payload = excluded.system_event_payload,
				created_at = excluded.created_at,
				synced = excluded.synced
			WHERE NOT (messages.synced = 0 AND excluded.synced = 1)`,
			m.ConversationID, m.ID, m.SenderID, m.Kind, m.Content,
			m.SystemEventType, m.SystemEventPayload, m.CreatedAt, m.Synced, now); err != nil {
			return fmt.Errorf("upsert message in page: %w", err)
		}
	}
	return tx.Commit()
}

// ListMessages returns up to limit messages for a conversation strictly older
// than beforeTs, ascending by created_at (keyset pagination). beforeTs <= 0
// means "newest page": no upper bound at all, since server-assigned
// created_at values may run ahead of the local clock.
func (db *DB) ListMessages(conversationID, beforeTs int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE conversation_id = ?`
	args := []any{conversationID}
	if beforeTs > 0 {
		query += ` AND created_at < ?`
		args = append(args, beforeTs)
	}
	query += `
		ORDER BY created_at DESC, id DESC
		LIMIT ?`
	args = append(args, limit)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ConversationID, &m.ID, &m.SenderID, &m.Kind, &m.Content,
			&m.SystemEventType, &m.SystemEventPayload, &m.CreatedAt, &m.Synced); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// The query walks newest-first for the keyset; callers see ascending.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// UnsyncedMessages returns provisional rows for a conversation, ascending by
// created_at. These rows only ever come from the local cache; the remote
// history endpoint never returns them.
func (db *DB) UnsyncedMessages(conversationID int64) ([]Message, error) {
	rows, err := db.Query(`
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = ? AND synced = 0
		ORDER BY created_at ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ConversationID, &m.ID, &m.SenderID, &m.Kind, &m.Content,
			&m.SystemEventType, &m.SystemEventPayload, &m.CreatedAt, &m.Synced); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// GetMessage returns a single cached row, or nil when absent.
func (db *DB) GetMessage(conversationID, id int64) (*Message, error) {
	row := db.QueryRow(`
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = ? AND id = ?`, conversationID, id)

	var m Message
	err := row.Scan(&m.ConversationID, &m.ID, &m.SenderID, &m.Kind, &m.Content,
		&m.SystemEventType, &m.SystemEventPayload, &m.CreatedAt, &m.Synced)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ReplaceMessage atomically swaps a provisional row for its confirmed
// counterpart. The provisional row is removed and the confirmed row is
// upserted in the same transaction.
func (db *DB) ReplaceMessage(conversationID, provisionalID int64, confirmed *Message) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM messages WHERE conversation_id = ? AND id = ?`,
		conversationID, provisionalID); err != nil {
		return fmt.Errorf("delete provisional: %w", err)
	}

	now := time.Now().UnixMilli()
	if _, err := tx.Exec(`
		INSERT INTO messages (`+messageColumns+`, cached_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id, id) DO UPDATE SET
			content = excluded.content,
			created_at = excluded.created_at,
			synced = excluded.synced`,
		confirmed.ConversationID, confirmed.ID, confirmed.SenderID, confirmed.Kind,
		confirmed.Content, confirmed.SystemEventType, confirmed.SystemEventPayload,
		confirmed.CreatedAt, confirmed.Synced, now); err != nil {
		return fmt.Errorf("insert confirmed: %w", err)
	}

	return tx.Commit()
}

// DeleteMessage removes a single cached row.
func (db *DB) DeleteMessage(conversationID, id int64) error {
	_, err := db.Exec(`DELETE FROM messages WHERE conversation_id = ? AND id = ?`,
		conversationID, id)
	return err
}

// ClearConversation evicts every cached row for a conversation
// (conversation-clear or account-deletion trigger).
func (db *DB) ClearConversation(conversationID int64) error {
	_, err := db.Exec(`DELETE FROM messages WHERE conversation_id = ?`, conversationID)
	return err
}
