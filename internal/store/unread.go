package store

import (
	"fmt"
	"time"
)

// UpsertUnreadCount sets a conversation's unread count (idempotent on conversation_id).
func (db *DB) UpsertUnreadCount(conversationID int64, count int) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO unread_counts (conversation_id, count, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET
			count = excluded.count,
			updated_at = excluded.updated_at`,
		conversationID, count, now)
	return err
}

// ReplaceUnreadCounts replaces the entire count mapping in one transaction.
func (db *DB) ReplaceUnreadCounts(counts map[int64]int) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM unread_counts`); err != nil {
		return fmt.Errorf("clear counts: %w", err)
	}
	now := time.Now().UnixMilli()
	for id, count := range counts {
		if _, err := tx.Exec(`
			INSERT INTO unread_counts (conversation_id, count, updated_at)
			VALUES (?, ?, ?)`,
			id, count, now); err != nil {
			return fmt.Errorf("insert count: %w", err)
		}
	}
	return tx.Commit()
}

// LoadUnreadCounts returns the persisted conversation -> count mapping.
func (db *DB) LoadUnreadCounts() (map[int64]int, error) {
	rows, err := db.Query(`SELECT conversation_id, count FROM unread_counts`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[int64]int)
	for rows.Next() {
		var id int64
		var count int
		if err := rows.Scan(&id, &count); err != nil {
			return nil, err
		}
		counts[id] = count
	}
	return counts, rows.Err()
}

// InsertUnreadMessage appends a message to the unread list. Inserting an ID
// that already exists is a no-op.
func (db *DB) InsertUnreadMessage(m *UnreadMessage) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO unread_messages (id, conversation_id, sender, sender_username, content, created_at, message_type, position, inserted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, COALESCE((SELECT MAX(position) + 1 FROM unread_messages), 0), ?)
		ON CONFLICT(id) DO NOTHING`,
		m.ID, m.ConversationID, m.Sender, m.SenderUsername, m.Content, m.CreatedAt, m.Type, now)
	return err
}

// DeleteUnreadMessagesFor removes every unread message for a conversation.
func (db *DB) DeleteUnreadMessagesFor(conversationID int64) error {
	_, err := db.Exec(`DELETE FROM unread_messages WHERE conversation_id = ?`, conversationID)
	return err
}

// DeleteUnreadMessage removes a single unread message by ID.
func (db *DB) DeleteUnreadMessage(id int64) error {
	_, err := db.Exec(`DELETE FROM unread_messages WHERE id = ?`, id)
	return err
}

// ListUnreadMessages returns the unread list in append order.
func (db *DB) ListUnreadMessages() ([]UnreadMessage, error) {
	rows, err := db.Query(`
		SELECT id, conversation_id, sender, sender_username, content, created_at, message_type
		FROM unread_messages
		ORDER BY position ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []UnreadMessage
	for rows.Next() {
		var m UnreadMessage
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Sender, &m.SenderUsername, &m.Content, &m.CreatedAt, &m.Type); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
