// Package session tracks which user owns which live connection. At
// most one session exists per username; a second login is rejected
// instead of evicting the first (observed product behavior, kept).
package session

import (
	"errors"
	"sync"

	"github.com/halcyonchat/halcyon/internal/netconn"
	"github.com/halcyonchat/halcyon/internal/wire"
)

// ErrAlreadyLoggedIn is returned when the username has a live session.
var ErrAlreadyLoggedIn = errors.New("session: account already logged in")

// Registry maps usernames to their active connections.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*netconn.Conn
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]*netconn.Conn)}
}

// Register claims the username for conn. The check and the insert are
// one critical section, so two concurrent logins for the same name
// resolve to exactly one winner.
func (r *Registry) Register(username string, conn *netconn.Conn) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[username]; ok {
		return ErrAlreadyLoggedIn
	}
	r.conns[username] = conn
	return nil
}

// Unregister releases the username, but only if conn still owns it.
// Returns true when an entry was removed.
func (r *Registry) Unregister(username string, conn *netconn.Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.conns[username]; ok && cur == conn {
		delete(r.conns, username)
		return true
	}
	return false
}

// Lookup returns the connection for username, if online.
func (r *Registry) Lookup(username string) (*netconn.Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[username]
	return c, ok
}

// Online reports whether the user has a live session.
func (r *Registry) Online(username string) bool {
	_, ok := r.Lookup(username)
	return ok
}

// Push sends env to username if online. Delivery is best effort; a
// write failure is reported but the session is not torn down here (the
// owning reader loop will observe the broken stream itself).
func (r *Registry) Push(username string, env wire.Envelope) error {
	conn, ok := r.Lookup(username)
	if !ok {
		return nil
	}
	return conn.Send(env)
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
