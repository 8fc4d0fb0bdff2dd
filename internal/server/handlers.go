package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/halcyonchat/halcyon/internal/session"
	"github.com/halcyonchat/halcyon/internal/store"
	"github.com/halcyonchat/halcyon/internal/wire"
)

func (h *Handler) handleAuthenticate(c *ConnCtx, env wire.Envelope) []wire.Envelope {
	var req authRequest
	if err := env.Decode(&req); err != nil || req.Username == "" {
		return []wire.Envelope{errEnvelope(wire.TypeAuthenticate, env.RequestID(), "malformed request")}
	}

	reply := func(status, message string) wire.Envelope {
		return wire.Envelope{
			"type":       wire.TypeAuthenticate,
			"status":     status,
			"message":    message,
			"request_id": req.RequestID,
		}
	}

	ok, err := h.db.Authenticate(req.Username, req.Password)
	if err != nil {
		h.log.Error("authenticate query", zap.Error(err))
		return []wire.Envelope{reply(wire.StatusError, "lookup failed")}
	}
	if !ok {
		h.log.Info("authentication rejected", zap.String("username", req.Username))
		return []wire.Envelope{reply(wire.StatusFail, "invalid username or password")}
	}

	if err := h.sessions.Register(req.Username, c.nc); err != nil {
		if errors.Is(err, session.ErrAlreadyLoggedIn) {
			h.log.Info("duplicate login rejected", zap.String("username", req.Username))
			return []wire.Envelope{reply(wire.StatusFail, "account is already logged in")}
		}
		return []wire.Envelope{reply(wire.StatusError, "session setup failed")}
	}
	c.user = req.Username
	c.state = stateAuthenticated
	h.log.Info("authenticated", zap.String("username", req.Username))

	// The auth reply must hit the wire before the friend list push;
	// both go back on this connection in order. Peers learn we came
	// online through the registry.
	replies := []wire.Envelope{reply(wire.StatusSuccess, "authenticated")}
	if list := h.buildFriendList(req.Username); list != nil {
		replies = append(replies, wire.Envelope{
			"type":    wire.TypeFriendListUpdate,
			"status":  wire.StatusSuccess,
			"friends": list,
		})
	}
	h.pushFriendUpdateToPeers(req.Username)
	return replies
}

func (h *Handler) handleSendMessage(c *ConnCtx, env wire.Envelope) wire.Envelope {
	var req sendMessageRequest
	if err := env.Decode(&req); err != nil || req.To == "" {
		return errEnvelope(wire.TypeSendMessage, env.RequestID(), "malformed request")
	}

	now := store.Now()
	preview := h.replyPreviewJSON(req.ReplyTo)

	msg := &store.Message{
		Sender:       c.user,
		Receiver:     req.To,
		Body:         req.Message,
		WriteTime:    now,
		ReplyTo:      req.ReplyTo,
		ReplyPreview: preview,
	}
	rowID, err := h.db.InsertMessage(msg)
	if err != nil {
		h.log.Error("store message", zap.Error(err))
		return errEnvelope(wire.TypeSendMessage, req.RequestID, "message store failed")
	}
	if err := h.convos.Update(c.user, req.To, msg); err != nil {
		h.log.Error("update conversation", zap.Error(err))
	}

	push := wire.Envelope{
		"type":          wire.TypeNewMessage,
		"from":          c.user,
		"to":            req.To,
		"message":       req.Message,
		"write_time":    now,
		"reply_to":      req.ReplyTo,
		"reply_preview": preview,
		"rowid":         rowID,
		"conversations": req.Message,
	}
	if err := h.sessions.Push(req.To, push); err != nil {
		h.log.Warn("push new_message", zap.String("to", req.To), zap.Error(err))
	}

	return wire.Envelope{
		"type":          wire.TypeSendMessage,
		"status":        wire.StatusSuccess,
		"message":       "message delivered to " + req.To,
		"request_id":    req.RequestID,
		"rowid":         rowID,
		"reply_to":      req.ReplyTo,
		"reply_preview": preview,
		"conversations": req.Message,
		"write_time":    now,
	}
}

func (h *Handler) handleChatHistory(env wire.Envelope) wire.Envelope {
	var req chatHistoryRequest
	if err := env.Decode(&req); err != nil || req.Friend == "" {
		return wire.Envelope{
			"type":         wire.TypeChatHistoryReply,
			"status":       wire.StatusError,
			"message":      "malformed request",
			"chat_history": []any{},
			"request_id":   env.RequestID(),
		}
	}

	msgs, err := h.db.HistoryPage(req.Username, req.Friend, req.Page, req.PageSize)
	if err != nil {
		h.log.Error("chat history query", zap.Error(err))
		return wire.Envelope{
			"type":         wire.TypeChatHistoryReply,
			"status":       wire.StatusError,
			"message":      "history lookup failed",
			"chat_history": []any{},
			"request_id":   req.RequestID,
		}
	}

	history := make([]any, 0, len(msgs))
	for _, m := range msgs {
		record := map[string]any{
			"rowid":           m.ID,
			"write_time":      m.WriteTime,
			"username":        m.Sender,
			"friend_username": m.Receiver,
			"message":         m.Body,
			"reply_to":        m.ReplyTo,
			"reply_preview":   m.ReplyPreview,
		}
		if m.AttachmentType != "" {
			record["attachment_type"] = m.AttachmentType
			record["file_id"] = m.FileID
			record["original_file_name"] = m.OriginalFileName
			record["file_size"] = m.FileSize
			record["duration"] = m.Duration
		}
		history = append(history, record)
	}

	return wire.Envelope{
		"type":         wire.TypeChatHistoryReply,
		"status":       wire.StatusSuccess,
		"chat_history": history,
		"request_id":   req.RequestID,
	}
}

func (h *Handler) handleGetUserInfo(env wire.Envelope) wire.Envelope {
	username := env.String("username")
	requestID := env.RequestID()

	u, err := h.db.GetUser(username)
	if err != nil {
		h.log.Error("user lookup", zap.Error(err))
		return errEnvelope(wire.TypeGetUserInfo, requestID, "lookup failed")
	}
	if u == nil {
		return errEnvelope(wire.TypeGetUserInfo, requestID, "user does not exist")
	}
	name := u.Name
	if name == "" {
		name = u.Username
	}
	return wire.Envelope{
		"type":       wire.TypeGetUserInfo,
		"status":     wire.StatusSuccess,
		"username":   u.Username,
		"avatar_id":  u.AvatarID,
		"name":       name,
		"sign":       u.Sign,
		"request_id": requestID,
	}
}

func (h *Handler) handleAddFriend(env wire.Envelope) wire.Envelope {
	username := env.String("username")
	friend := env.String("friend")
	requestID := env.RequestID()

	exists, err := h.db.UserExists(friend)
	if err != nil {
		h.log.Error("friend lookup", zap.Error(err))
		return errEnvelope(wire.TypeAddFriend, requestID, "lookup failed")
	}
	if !exists {
		return errEnvelope(wire.TypeAddFriend, requestID,
			fmt.Sprintf("user %s does not exist", friend))
	}
	already, err := h.db.AreFriends(username, friend)
	if err != nil {
		return errEnvelope(wire.TypeAddFriend, requestID, "lookup failed")
	}
	if already {
		return wire.Envelope{
			"type":       wire.TypeAddFriend,
			"status":     wire.StatusFail,
			"message":    fmt.Sprintf("%s is already your friend", friend),
			"request_id": requestID,
		}
	}

	if err := h.db.AddFriend(username, friend); err != nil {
		h.log.Error("add friend", zap.Error(err))
		return errEnvelope(wire.TypeAddFriend, requestID, "add friend failed")
	}

	h.pushFriendUpdate(username, friend)
	h.pushFriendUpdate(friend, username)
	return wire.Envelope{
		"type":       wire.TypeAddFriend,
		"status":     wire.StatusSuccess,
		"message":    fmt.Sprintf("%s added as a friend", friend),
		"request_id": requestID,
	}
}

// handleUpdateProfile serves upload_avatar, update_name and
// update_sign, which share the users-table update path.
func (h *Handler) handleUpdateProfile(env wire.Envelope) wire.Envelope {
	reqType := env.Type()
	username := env.String("username")
	requestID := env.RequestID()

	u, err := h.db.GetUser(username)
	if err != nil {
		return errEnvelope(reqType, requestID, "lookup failed")
	}
	if u == nil {
		return errEnvelope(reqType, requestID, "user does not exist")
	}

	resp := wire.Envelope{
		"type":       reqType,
		"status":     wire.StatusSuccess,
		"message":    "updated",
		"request_id": requestID,
	}
	switch reqType {
	case wire.TypeUploadAvatar:
		raw, derr := base64.StdEncoding.DecodeString(env.String("file_data"))
		if derr != nil || len(raw) == 0 {
			return errEnvelope(reqType, requestID, "avatar payload missing or invalid")
		}
		avatarID := fmt.Sprintf("%s_avatar_%s.jpg", username, time.Now().Format("20060102150405.000000000"))
		avatarPath := filepath.Join(h.dirs.Avatars, avatarID)
		if err := os.MkdirAll(h.dirs.Avatars, 0700); err == nil {
			err = os.WriteFile(avatarPath, raw, 0600)
		}
		if err != nil {
			h.log.Error("save avatar", zap.Error(err))
			return errEnvelope(reqType, requestID, "avatar save failed")
		}
		if err := h.db.UpdateAvatar(username, avatarID, avatarPath); err != nil {
			return errEnvelope(reqType, requestID, "avatar update failed")
		}
		resp["avatar_id"] = avatarID
	case wire.TypeUpdateName:
		if err := h.db.UpdateName(username, env.String("new_name")); err != nil {
			return errEnvelope(reqType, requestID, "name update failed")
		}
	case wire.TypeUpdateSign:
		if err := h.db.UpdateSign(username, env.String("sign")); err != nil {
			return errEnvelope(reqType, requestID, "sign update failed")
		}
	}

	h.pushFriendUpdate(username, username)
	return resp
}

func (h *Handler) handleUpdateRemarks(env wire.Envelope) wire.Envelope {
	username := env.String("username")
	friend := env.String("friend")
	remarks := env.String("remarks")
	requestID := env.RequestID()

	isFriend, err := h.db.AreFriends(username, friend)
	if err != nil {
		return errEnvelope(wire.TypeUpdateRemarks, requestID, "lookup failed")
	}
	if !isFriend {
		return errEnvelope(wire.TypeUpdateRemarks, requestID,
			fmt.Sprintf("%s is not your friend", friend))
	}

	// Clearing a remark falls back to the friend's display name.
	display := remarks
	message := fmt.Sprintf("remark for %s updated to %s", friend, remarks)
	if remarks == "" {
		friendUser, err := h.db.GetUser(friend)
		if err != nil {
			return errEnvelope(wire.TypeUpdateRemarks, requestID, "lookup failed")
		}
		display = friend
		if friendUser != nil && friendUser.Name != "" {
			display = friendUser.Name
		}
		message = fmt.Sprintf("remark for %s cleared", friend)
	}

	if _, err := h.db.SetRemarks(username, friend, remarks); err != nil {
		h.log.Error("set remarks", zap.Error(err))
		return errEnvelope(wire.TypeUpdateRemarks, requestID, "remark update failed")
	}

	return wire.Envelope{
		"type":       wire.TypeUpdateRemarks,
		"status":     wire.StatusSuccess,
		"message":    message,
		"request_id": requestID,
		"friend":     friend,
		"remarks":    display,
	}
}

func (h *Handler) handleDeleteMessages(c *ConnCtx, env wire.Envelope) wire.Envelope {
	requestID := env.RequestID()
	rowIDs := env.Int64s("rowids")
	if len(rowIDs) == 0 {
		if id := env.Int64("rowid"); id != 0 {
			rowIDs = []int64{id}
		}
	}
	if len(rowIDs) == 0 {
		return errEnvelope(wire.TypeMessagesDeleted, requestID, "no messages specified")
	}

	victims, err := h.db.DeleteMessages(c.user, rowIDs)
	if err != nil {
		h.log.Error("delete messages", zap.Error(err))
		return errEnvelope(wire.TypeMessagesDeleted, requestID, "delete failed")
	}
	if len(victims) == 0 {
		return errEnvelope(wire.TypeMessagesDeleted, requestID,
			"messages not found or not yours")
	}

	deletedIDs := make([]int64, 0, len(victims))
	pairSeen := map[[2]string]bool{}
	pairs := make([][2]string, 0, 1)
	for _, v := range victims {
		deletedIDs = append(deletedIDs, v.ID)
		a, b := v.Sender, v.Receiver
		if a > b {
			a, b = b, a
		}
		if !pairSeen[[2]string{a, b}] {
			pairSeen[[2]string{a, b}] = true
			pairs = append(pairs, [2]string{a, b})
		}
	}

	content := ""
	writeTime := store.Now()
	for _, pair := range pairs {
		latest, err := h.convos.Rederive(pair[0], pair[1])
		if err != nil {
			h.log.Error("rederive conversation", zap.Error(err))
			continue
		}
		content = previewOf(latest)
		if latest != nil {
			writeTime = latest.WriteTime
		} else {
			writeTime = store.Now()
		}

		other := pair[0]
		if other == c.user {
			other = pair[1]
		}
		if other != c.user {
			push := wire.Envelope{
				"type":                wire.TypeDeletedMessages,
				"from":                c.user,
				"to":                  other,
				"deleted_rowids":      deletedIDs,
				"conversations":       content,
				"write_time":          writeTime,
				"show_floating_label": false,
			}
			if err := h.sessions.Push(other, push); err != nil {
				h.log.Warn("push deleted_messages", zap.String("to", other), zap.Error(err))
			}
		}
	}

	return wire.Envelope{
		"type":                wire.TypeMessagesDeleted,
		"status":              wire.StatusSuccess,
		"request_id":          requestID,
		"to":                  c.user,
		"deleted_rowids":      deletedIDs,
		"conversations":       content,
		"write_time":          writeTime,
		"show_floating_label": true,
	}
}

// replyPreviewJSON renders the stored preview snippet for a reply, or
// "" when the message is not a reply. A dangling reply target still
// yields a placeholder so the client can render something.
func (h *Handler) replyPreviewJSON(replyTo int64) string {
	if replyTo == 0 {
		return ""
	}
	p, err := h.db.BuildReplyPreview(replyTo)
	if err != nil {
		h.log.Error("reply preview", zap.Error(err))
	}
	if p == nil {
		p = &store.ReplyPreview{Sender: "unknown", Content: "message unavailable"}
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return ""
	}
	return string(raw)
}
