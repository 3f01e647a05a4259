package store

import "time"

// UpsertMessage inserts or updates a message (idempotent on chat_id + msg_id).
func (db *DB) UpsertMessage(m *Message) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO messages (chat_id, msg_id, sender_id, sender_name, body, message_type, from_me, status, timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chat_id, msg_id) DO UPDATE SET
			sender_name = excluded.sender_name,
			body = excluded.body,
			status = excluded.status,
			timestamp = excluded.timestamp`,
		m.ChatID, m.MsgID, m.SenderID, m.SenderName, m.Body, m.MessageType, m.FromMe, m.Status, m.Timestamp, now)
	return err
}

// ConfirmMessage replaces a pending message's client id with the server id
// and advances it to confirmed. If a row with the server id already exists
// (the live push won the race) the pending row is removed instead, so the
// cache never holds both copies of one logical message.
func (db *DB) ConfirmMessage(chatID, clientMsgID, serverMsgID string, timestamp int64) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM messages WHERE chat_id = ? AND msg_id = ?`,
		chatID, serverMsgID).Scan(&exists); err != nil {
		return err
	}
	if exists > 0 {
		if _, err := tx.Exec(`DELETE FROM messages WHERE chat_id = ? AND msg_id = ?`, chatID, clientMsgID); err != nil {
			return err
		}
	} else {
		if _, err := tx.Exec(`
			UPDATE messages SET msg_id = ?, status = ?, timestamp = ?
			WHERE chat_id = ? AND msg_id = ?`,
			serverMsgID, StatusConfirmed, timestamp, chatID, clientMsgID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// MarkMessageFailed advances a pending message to failed.
func (db *DB) MarkMessageFailed(chatID, clientMsgID string) error {
	_, err := db.Exec(`
		UPDATE messages SET status = ? WHERE chat_id = ? AND msg_id = ? AND status = ?`,
		StatusFailed, chatID, clientMsgID, StatusPending)
	return err
}

// ListMessages returns messages for a conversation using keyset pagination
// by timestamp, newest first.
func (db *DB) ListMessages(chatID string, beforeTs int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTs <= 0 {
		beforeTs = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT id, chat_id, msg_id, sender_id, sender_name, body, message_type, from_me, status, timestamp
		FROM messages
		WHERE chat_id = ? AND timestamp < ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?`, chatID, beforeTs, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.MsgID, &m.SenderID, &m.SenderName,
			&m.Body, &m.MessageType, &m.FromMe, &m.Status, &m.Timestamp); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
