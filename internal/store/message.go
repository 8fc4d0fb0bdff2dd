package store

import (
	"database/sql"
	"fmt"
	"strings"
)

const messageColumns = `id, sender, receiver, message, write_time,
	attachment_type, attachment_path, original_file_name, thumbnail_path,
	file_size, duration, COALESCE(reply_to, 0), reply_preview, file_id`

func scanMessage(row interface{ Scan(...any) error }) (*Message, error) {
	var m Message
	err := row.Scan(&m.ID, &m.Sender, &m.Receiver, &m.Body, &m.WriteTime,
		&m.AttachmentType, &m.AttachmentPath, &m.OriginalFileName, &m.ThumbnailPath,
		&m.FileSize, &m.Duration, &m.ReplyTo, &m.ReplyPreview, &m.FileID)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// InsertMessage stores a message and returns its rowid. A zero ReplyTo
// is stored as NULL so the self-referencing foreign key holds.
func (db *DB) InsertMessage(m *Message) (int64, error) {
	var replyTo any
	if m.ReplyTo != 0 {
		replyTo = m.ReplyTo
	}
	res, err := db.Exec(`
		INSERT INTO messages (sender, receiver, message, write_time,
			attachment_type, attachment_path, original_file_name, thumbnail_path,
			file_size, duration, reply_to, reply_preview, file_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.Sender, m.Receiver, m.Body, m.WriteTime,
		m.AttachmentType, m.AttachmentPath, m.OriginalFileName, m.ThumbnailPath,
		m.FileSize, m.Duration, replyTo, m.ReplyPreview, m.FileID)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	m.ID = id
	return id, nil
}

// GetMessage returns one message by rowid, or nil when absent.
func (db *DB) GetMessage(id int64) (*Message, error) {
	m, err := scanMessage(db.QueryRow(
		`SELECT `+messageColumns+` FROM messages WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

// HistoryPage returns one page of the conversation between a and b,
// newest first. Pages are 1-based.
func (db *DB) HistoryPage(a, b string, page, pageSize int) ([]Message, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	rows, err := db.Query(`
		SELECT `+messageColumns+`
		FROM messages
		WHERE (sender = ? AND receiver = ?) OR (sender = ? AND receiver = ?)
		ORDER BY id DESC
		LIMIT ? OFFSET ?`,
		a, b, b, a, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

// LatestMessageBetween returns the newest surviving message between a
// and b, or nil when none remain.
func (db *DB) LatestMessageBetween(a, b string) (*Message, error) {
	m, err := scanMessage(db.QueryRow(`
		SELECT `+messageColumns+`
		FROM messages
		WHERE (sender = ? AND receiver = ?) OR (sender = ? AND receiver = ?)
		ORDER BY id DESC LIMIT 1`, a, b, b, a))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

// DeleteMessages removes the given rowids, but only those that owner
// sent or received. The deleted rows are returned so the caller can
// repair the affected conversation pointers and notify peers.
func (db *DB) DeleteMessages(owner string, ids []int64) ([]Message, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+2)
	for _, id := range ids {
		args = append(args, id)
	}
	args = append(args, owner, owner)

	tx, err := db.Begin()
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.Query(fmt.Sprintf(`
		SELECT %s FROM messages
		WHERE id IN (%s) AND (sender = ? OR receiver = ?)`,
		messageColumns, placeholders), args...)
	if err != nil {
		return nil, err
	}
	var victims []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		victims = append(victims, *m)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()
	if len(victims) == 0 {
		return nil, tx.Commit()
	}

	delPlaceholders := strings.TrimSuffix(strings.Repeat("?,", len(victims)), ",")
	delArgs := make([]any, 0, len(victims))
	for _, v := range victims {
		delArgs = append(delArgs, v.ID)
	}
	// Detach reply references and conversation pointers first.
	if _, err := tx.Exec(fmt.Sprintf(
		`UPDATE messages SET reply_to = NULL WHERE reply_to IN (%s)`,
		delPlaceholders), delArgs...); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(fmt.Sprintf(
		`UPDATE conversations SET last_message_id = NULL WHERE last_message_id IN (%s)`,
		delPlaceholders), delArgs...); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(fmt.Sprintf(
		`DELETE FROM messages WHERE id IN (%s)`,
		delPlaceholders), delArgs...); err != nil {
		return nil, err
	}
	return victims, tx.Commit()
}

// BuildReplyPreview derives the snippet stored with a reply. Media
// messages render as "[type]: filename", text messages as their body.
func (db *DB) BuildReplyPreview(id int64) (*ReplyPreview, error) {
	m, err := db.GetMessage(id)
	if err != nil || m == nil {
		return nil, err
	}
	content := m.Body
	if m.AttachmentType != "" && m.OriginalFileName != "" {
		content = fmt.Sprintf("[%s]: %s", m.AttachmentType, m.OriginalFileName)
	}
	return &ReplyPreview{Sender: m.Sender, Content: content}, nil
}

// AttachmentByFileID resolves a media file id to the stored message,
// or nil when unknown.
func (db *DB) AttachmentByFileID(fileID string) (*Message, error) {
	m, err := scanMessage(db.QueryRow(
		`SELECT `+messageColumns+` FROM messages WHERE file_id = ?`, fileID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

// ThumbnailPathByFileID resolves a media file id to its thumbnail path.
func (db *DB) ThumbnailPathByFileID(fileID string) (string, error) {
	var path string
	err := db.QueryRow(`
		SELECT thumbnail_path FROM messages WHERE file_id = ?`, fileID).Scan(&path)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return path, nil
}
