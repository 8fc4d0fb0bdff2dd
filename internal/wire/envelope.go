package wire

import "encoding/json"

// Request and push type discriminators carried in the "type" field.
const (
	TypeAuthenticate     = "authenticate"
	TypeUserRegister     = "user_register"
	TypeSendMessage      = "send_message"
	TypeSendMedia        = "send_media"
	TypeDownloadMedia    = "download_media"
	TypeChatHistory      = "get_chat_history_paginated"
	TypeChatHistoryReply = "chat_history"
	TypeGetUserInfo      = "get_user_info"
	TypeAddFriend        = "add_friend"
	TypeUploadAvatar     = "upload_avatar"
	TypeUpdateName       = "update_name"
	TypeUpdateSign       = "update_sign"
	TypeUpdateRemarks    = "update_remarks"
	TypeDeleteMessages   = "delete_messages"
	TypeExit             = "exit"
	TypeFriendListUpdate = "friend_list_update"
	TypeFriendUpdate     = "friend_update"
	TypeNewMessage       = "new_message"
	TypeNewMedia         = "new_media"
	TypeDeletedMessages  = "deleted_messages"
	TypeMessagesDeleted  = "messages_deleted"
)

// Status values carried in the "status" field of replies.
const (
	StatusSuccess = "success"
	StatusFail    = "fail"
	StatusError   = "error"
)

// pushTypes are server-initiated envelopes that are never replies to a
// pending request, regardless of any request_id they carry.
var pushTypes = map[string]bool{
	TypeFriendListUpdate: true,
	TypeFriendUpdate:     true,
	TypeNewMessage:       true,
	TypeNewMedia:         true,
	TypeDeletedMessages:  true,
	TypeUpdateRemarks:    false, // remark replies correlate; remark pushes carry no request_id
}

// Envelope is one decrypted protocol message. The dynamic shape is part
// of the wire contract; typed request structs in the server re-decode
// from it per type discriminator.
type Envelope map[string]any

// IsPush reports whether the envelope is a server push rather than a
// reply. An envelope with a push type, or with no request_id at all, is
// treated as a push.
func (e Envelope) IsPush() bool {
	if pushTypes[e.Type()] {
		return true
	}
	return e.RequestID() == ""
}

func (e Envelope) Type() string      { return e.String("type") }
func (e Envelope) RequestID() string { return e.String("request_id") }
func (e Envelope) Status() string    { return e.String("status") }

// OK reports a success status.
func (e Envelope) OK() bool { return e.Status() == StatusSuccess }

// String returns the field as a string, or "" if absent or not a string.
func (e Envelope) String(key string) string {
	s, _ := e[key].(string)
	return s
}

// Int64 returns the field as an int64. JSON numbers decode as float64;
// integral values round-trip exactly up to 2^53.
func (e Envelope) Int64(key string) int64 {
	switch v := e[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	}
	return 0
}

// Bool returns the field as a bool, tolerating absent values.
func (e Envelope) Bool(key string) bool {
	b, _ := e[key].(bool)
	return b
}

// Strings returns the field as a string slice.
func (e Envelope) Strings(key string) []string {
	raw, ok := e[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Int64s returns the field as an int64 slice.
func (e Envelope) Int64s(key string) []int64 {
	raw, ok := e[key].([]any)
	if !ok {
		return nil
	}
	out := make([]int64, 0, len(raw))
	for _, v := range raw {
		if f, ok := v.(float64); ok {
			out = append(out, int64(f))
		}
	}
	return out
}

// Int64Map returns the field as a map of string to int64.
func (e Envelope) Int64Map(key string) map[string]int64 {
	raw, ok := e[key].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]int64, len(raw))
	for k, v := range raw {
		if f, ok := v.(float64); ok {
			out[k] = int64(f)
		}
	}
	return out
}

// StringMap returns the field as a map of string to string.
func (e Envelope) StringMap(key string) map[string]string {
	raw, ok := e[key].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

// Decode re-marshals the envelope into a typed request struct. Fields
// the struct does not declare are ignored, which keeps unknown envelope
// shapes forward compatible.
func (e Envelope) Decode(dst any) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}
