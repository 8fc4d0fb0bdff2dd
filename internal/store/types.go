package store

import "time"

// TimeLayout is the timestamp format used on the wire and in the DB.
const TimeLayout = "2006-01-02 15:04:05"

// Now returns the current time in TimeLayout.
func Now() string {
	return time.Now().Format(TimeLayout)
}

// User is an account row.
type User struct {
	Username   string
	Password   string
	AvatarID   string
	AvatarPath string
	Name       string
	Sign       string
}

// Friend is one direction of a friendship edge, joined with the
// friend's profile for list responses.
type Friend struct {
	Username string
	Remarks  string
	AvatarID string
	Name     string
	Sign     string
}

// Message is a stored chat message. A zero ReplyTo means the message
// is not a reply; empty attachment fields mean a plain text message.
type Message struct {
	ID               int64
	Sender           string
	Receiver         string
	Body             string
	WriteTime        string
	AttachmentType   string
	AttachmentPath   string
	OriginalFileName string
	ThumbnailPath    string
	FileSize         int64
	Duration         float64
	ReplyTo          int64
	ReplyPreview     string
	FileID           string
}

// Conversation is the persisted pointer to the newest message between
// two users. LastMessageID of zero means the pair has no surviving
// messages but the conversation row is kept.
type Conversation struct {
	Username       string
	Friend         string
	LastMessageID  int64
	LastUpdateTime string
}

// ReplyPreview is the denormalized snippet stored alongside a reply.
type ReplyPreview struct {
	Sender  string `json:"sender"`
	Content string `json:"content"`
}
