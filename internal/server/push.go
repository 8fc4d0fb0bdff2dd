package server

import (
	"go.uber.org/zap"

	"github.com/halcyonchat/halcyon/internal/convo"
	"github.com/halcyonchat/halcyon/internal/store"
	"github.com/halcyonchat/halcyon/internal/wire"
)

func previewOf(m *store.Message) string {
	return convo.PreviewText(m)
}

// buildFriendItem assembles one friend entry as seen by viewer: the
// profile row, remark-aware display name, presence, and the cached
// conversation summary for the pair.
func (h *Handler) buildFriendItem(viewer string, f store.Friend) map[string]any {
	display := f.Remarks
	if display == "" {
		display = f.Name
	}
	if display == "" {
		display = f.Username
	}

	var conversation map[string]any
	if e, ok := h.convos.Get(viewer, f.Username); ok && e.LastMessage != nil {
		conversation = map[string]any{
			"sender":           e.LastMessage.Sender,
			"content":          previewOf(e.LastMessage),
			"last_update_time": e.LastUpdateTime,
		}
	}

	return map[string]any{
		"username":      f.Username,
		"avatar_id":     f.AvatarID,
		"name":          display,
		"sign":          f.Sign,
		"online":        h.sessions.Online(f.Username),
		"conversations": conversation,
	}
}

// buildFriendList assembles viewer's complete friend list.
func (h *Handler) buildFriendList(viewer string) []any {
	friends, err := h.db.ListFriends(viewer)
	if err != nil {
		h.log.Error("list friends", zap.String("viewer", viewer), zap.Error(err))
		return nil
	}
	items := make([]any, 0, len(friends))
	for _, f := range friends {
		items = append(items, h.buildFriendItem(viewer, f))
	}
	return items
}

// friendItemFor builds viewer's entry for one specific friend, or nil
// when the edge does not exist.
func (h *Handler) friendItemFor(viewer, friend string) map[string]any {
	friends, err := h.db.ListFriends(viewer)
	if err != nil {
		return nil
	}
	for _, f := range friends {
		if f.Username == friend {
			return h.buildFriendItem(viewer, f)
		}
	}
	return nil
}

// pushFriendUpdate tells user that changed's entry is stale, then
// tells every friend of user that user's own entry changed.
func (h *Handler) pushFriendUpdate(user, changed string) {
	if item := h.friendItemFor(user, changed); item != nil {
		h.pushItem(user, item)
	}
	h.pushFriendUpdateToPeers(user)
}

// pushFriendUpdateToPeers sends user's entry to each of user's online
// friends, e.g. after a presence or profile change.
func (h *Handler) pushFriendUpdateToPeers(user string) {
	peers, err := h.db.FriendUsernames(user)
	if err != nil {
		h.log.Error("friend fanout", zap.String("user", user), zap.Error(err))
		return
	}
	for _, peer := range peers {
		if item := h.friendItemFor(peer, user); item != nil {
			h.pushItem(peer, item)
		}
	}
}

func (h *Handler) pushItem(to string, item map[string]any) {
	err := h.sessions.Push(to, wire.Envelope{
		"type":   wire.TypeFriendUpdate,
		"status": wire.StatusSuccess,
		"friend": item,
	})
	if err != nil {
		h.log.Warn("push friend_update", zap.String("to", to), zap.Error(err))
	}
}
