package store

import "database/sql"

// ConversationRow is one conversation pointer joined with its last
// surviving message, as loaded at boot. LastMessage is nil when the
// pointer was cleared by a deletion.
type ConversationRow struct {
	Username       string
	Friend         string
	LastUpdateTime string
	LastMessage    *Message
}

// UpsertConversation records the newest message between username and
// friend. A zero lastMessageID clears the pointer but keeps the row.
func (db *DB) UpsertConversation(username, friend string, lastMessageID int64, updateTime string) error {
	var msgID any
	if lastMessageID != 0 {
		msgID = lastMessageID
	}
	_, err := db.Exec(`
		INSERT INTO conversations (username, friend, last_message_id, last_update_time)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(username, friend) DO UPDATE SET
			last_message_id = excluded.last_message_id,
			last_update_time = excluded.last_update_time`,
		username, friend, msgID, updateTime)
	return err
}

// LoadConversations returns every conversation row joined with its
// last message. Used to warm the in-memory cache at startup.
func (db *DB) LoadConversations() ([]ConversationRow, error) {
	rows, err := db.Query(`
		SELECT c.username, c.friend, c.last_update_time,
			m.id, m.sender, m.receiver, m.message, m.write_time,
			m.attachment_type, m.original_file_name,
			COALESCE(m.reply_to, 0), m.reply_preview
		FROM conversations c
		LEFT JOIN messages m ON c.last_message_id = m.id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []ConversationRow
	for rows.Next() {
		var r ConversationRow
		var id sql.NullInt64
		var sender, receiver, body, writeTime sql.NullString
		var attachType, fileName, preview sql.NullString
		var replyTo sql.NullInt64
		if err := rows.Scan(&r.Username, &r.Friend, &r.LastUpdateTime,
			&id, &sender, &receiver, &body, &writeTime,
			&attachType, &fileName, &replyTo, &preview); err != nil {
			return nil, err
		}
		if id.Valid {
			r.LastMessage = &Message{
				ID:               id.Int64,
				Sender:           sender.String,
				Receiver:         receiver.String,
				Body:             body.String,
				WriteTime:        writeTime.String,
				AttachmentType:   attachType.String,
				OriginalFileName: fileName.String,
				ReplyTo:          replyTo.Int64,
				ReplyPreview:     preview.String,
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
