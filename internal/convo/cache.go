// Package convo keeps the per-pair conversation state: the newest
// message between two users and when it changed. Reads are served from
// memory; every mutation writes through to the conversations table.
package convo

import (
	"sync"

	"github.com/halcyonchat/halcyon/internal/store"
)

// PairKey identifies one conversation regardless of direction. A is
// always the lexicographically smaller username.
type PairKey struct {
	A, B string
}

// KeyOf canonicalizes two usernames into a PairKey.
func KeyOf(a, b string) PairKey {
	if a > b {
		a, b = b, a
	}
	return PairKey{A: a, B: b}
}

// Entry is the cached state of one conversation. LastMessage is nil
// when every message between the pair has been deleted.
type Entry struct {
	LastMessage    *store.Message
	LastUpdateTime string
}

// Cache is the in-memory conversation map with write-through.
type Cache struct {
	db *store.DB

	mu      sync.RWMutex
	entries map[PairKey]Entry
}

// NewCache creates an empty cache backed by db.
func NewCache(db *store.DB) *Cache {
	return &Cache{
		db:      db,
		entries: make(map[PairKey]Entry),
	}
}

// Load warms the cache from the conversations table. Called once at
// startup before the listener accepts connections.
func (c *Cache) Load() error {
	rows, err := c.db.LoadConversations()
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range rows {
		c.entries[KeyOf(r.Username, r.Friend)] = Entry{
			LastMessage:    r.LastMessage,
			LastUpdateTime: r.LastUpdateTime,
		}
	}
	return nil
}

// Update records m as the newest message between a and b, in memory
// and in the table. Update(a, b, m) and Update(b, a, m) mutate the
// same entry.
func (c *Cache) Update(a, b string, m *store.Message) error {
	key := KeyOf(a, b)
	now := store.Now()
	var msgID int64
	if m != nil {
		msgID = m.ID
		now = m.WriteTime
	}
	if err := c.db.UpsertConversation(key.A, key.B, msgID, now); err != nil {
		return err
	}
	c.mu.Lock()
	c.entries[key] = Entry{LastMessage: m, LastUpdateTime: now}
	c.mu.Unlock()
	return nil
}

// Rederive repairs the entry for a pair after deletions by looking up
// the newest surviving message. Pairs with no surviving messages keep
// an entry with a nil LastMessage.
func (c *Cache) Rederive(a, b string) (*store.Message, error) {
	latest, err := c.db.LatestMessageBetween(a, b)
	if err != nil {
		return nil, err
	}
	if err := c.Update(a, b, latest); err != nil {
		return nil, err
	}
	return latest, nil
}

// Get returns the cached entry for the pair, if any.
func (c *Cache) Get(a, b string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[KeyOf(a, b)]
	return e, ok
}

// Len reports the number of cached conversations.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// PreviewText renders the one-line preview for a message: media
// messages collapse to a type tag, text messages show their body.
func PreviewText(m *store.Message) string {
	if m == nil {
		return ""
	}
	switch m.AttachmentType {
	case "image":
		return "[image]"
	case "video":
		return "[video]"
	case "file":
		return "[file]"
	}
	return m.Body
}
