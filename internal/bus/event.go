package bus

import "time"

// Event kinds. Subscribers filter by namespace prefix, so "chat."
// matches every chat event and "link." every transport event.
const (
	KindChatMessage    = "chat.message"
	KindChatMedia      = "chat.media"
	KindChatDeleted    = "chat.deleted"
	KindFriendList     = "friend.list"
	KindFriendUpdate   = "friend.update"
	KindFriendRemarks  = "friend.remarks"
	KindLinkConnected  = "link.connected"
	KindLinkDisconnect = "link.disconnected"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// MessagePayload carries an inbound chat message push.
type MessagePayload struct {
	RowID     int64
	Sender    string
	Recipient string
	Text      string
	ReplyTo   int64
	WriteTime string
}

// MediaPayload carries an inbound media push. ThumbnailData is the
// base64 thumbnail exactly as it arrived; callers decode on demand.
type MediaPayload struct {
	RowID         int64
	Sender        string
	Recipient     string
	FileID        string
	FileName      string
	FileType      string
	ThumbnailData string
	WriteTime     string
}

// DeletedPayload names messages removed from a conversation.
type DeletedPayload struct {
	Peer   string
	RowIDs []int64
}

// FriendPayload describes a single friend's current state.
type FriendPayload struct {
	Username string
	Name     string
	Sign     string
	Online   bool
}

// RemarksPayload carries a remark change for one friend.
type RemarksPayload struct {
	Username string
	Remarks  string
}
