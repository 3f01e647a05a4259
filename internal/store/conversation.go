package store

import (
	"database/sql"
	"time"
)

// UpsertConversation inserts or updates a conversation summary.
func (db *DB) UpsertConversation(c *Conversation) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO conversations (id, listing_id, listing_title, peer_id, peer_name, unread_count, last_message_at, last_message_preview, last_sender_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			listing_id = excluded.listing_id,
			listing_title = excluded.listing_title,
			peer_id = excluded.peer_id,
			peer_name = excluded.peer_name,
			unread_count = excluded.unread_count,
			last_message_at = excluded.last_message_at,
			last_message_preview = excluded.last_message_preview,
			last_sender_id = excluded.last_sender_id,
			updated_at = excluded.updated_at`,
		c.ID, c.ListingID, c.ListingTitle, c.PeerID, c.PeerName, c.UnreadCount,
		c.LastMessageAt, c.LastMessagePreview, c.LastSenderID, now)
	return err
}

// TouchConversation updates only the last-message summary of a
// conversation, creating a stub row if the id is unknown. The unread
// counter moves by unreadDelta (0 for the active conversation).
func (db *DB) TouchConversation(id string, lastMessageAt int64, preview, senderID string, unreadDelta int) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO conversations (id, unread_count, last_message_at, last_message_preview, last_sender_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			unread_count = MAX(conversations.unread_count + ?, 0),
			last_message_at = MAX(conversations.last_message_at, excluded.last_message_at),
			last_message_preview = CASE WHEN excluded.last_message_at >= conversations.last_message_at THEN excluded.last_message_preview ELSE conversations.last_message_preview END,
			last_sender_id = CASE WHEN excluded.last_message_at >= conversations.last_message_at THEN excluded.last_sender_id ELSE conversations.last_sender_id END,
			updated_at = excluded.updated_at`,
		id, maxInt(unreadDelta, 0), lastMessageAt, preview, senderID, now, unreadDelta)
	return err
}

// ClearUnread resets a conversation's unread counter to zero.
func (db *DB) ClearUnread(id string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE conversations SET unread_count = 0, updated_at = ? WHERE id = ?`, now, id)
	return err
}

// ListConversations returns conversations sorted by last message recency.
func (db *DB) ListConversations(limit, offset int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT id, listing_id, listing_title, peer_id, peer_name, unread_count, last_message_at, last_message_preview, last_sender_id
		FROM conversations
		ORDER BY last_message_at DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.ListingID, &c.ListingTitle, &c.PeerID, &c.PeerName,
			&c.UnreadCount, &c.LastMessageAt, &c.LastMessagePreview, &c.LastSenderID); err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// GetConversation returns a single conversation by id, or nil if unknown.
func (db *DB) GetConversation(id string) (*Conversation, error) {
	var c Conversation
	err := db.QueryRow(`
		SELECT id, listing_id, listing_title, peer_id, peer_name, unread_count, last_message_at, last_message_preview, last_sender_id
		FROM conversations WHERE id = ?`, id).
		Scan(&c.ID, &c.ListingID, &c.ListingTitle, &c.PeerID, &c.PeerName,
			&c.UnreadCount, &c.LastMessageAt, &c.LastMessagePreview, &c.LastSenderID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
