// Package correlate pairs outbound requests with their eventual
// replies by request_id. The slot is registered before the request hits
// the wire, so a reply can never arrive ahead of its slot.
package correlate

import (
	"errors"
	"sync"
	"time"

	"github.com/halcyonchat/halcyon/internal/wire"
)

// DefaultTimeout bounds a single request/response wait.
const DefaultTimeout = 30 * time.Second

var (
	// ErrTimeout means the reply did not arrive in time. The in-flight
	// request is not retracted; only the local wait is abandoned.
	ErrTimeout = errors.New("correlate: request timed out")
	// ErrClosed means the connection died with the request pending.
	ErrClosed = errors.New("correlate: connection closed")
)

// Correlator holds the pending-request map for one connection.
type Correlator struct {
	timeout time.Duration

	mu      sync.Mutex
	pending map[string]chan wire.Envelope
	failed  error
}

// New creates a correlator. A non-positive timeout uses DefaultTimeout.
func New(timeout time.Duration) *Correlator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Correlator{
		timeout: timeout,
		pending: make(map[string]chan wire.Envelope),
	}
}

// Track registers a slot for id. Must happen before the request is
// written. Returns ErrClosed if the correlator was already failed.
func (c *Correlator) Track(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failed != nil {
		return c.failed
	}
	c.pending[id] = make(chan wire.Envelope, 1)
	return nil
}

// Drop removes a slot without fulfilling it, e.g. when the send failed.
func (c *Correlator) Drop(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// Fulfill resolves the slot matching env's request_id. Returns false
// when no slot matches (stale or unknown reply; caller logs and drops).
func (c *Correlator) Fulfill(env wire.Envelope) bool {
	id := env.RequestID()
	if id == "" {
		return false
	}
	c.mu.Lock()
	ch, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	ch <- env
	return true
}

// Await blocks until the slot for id is fulfilled, the timeout lapses,
// or the correlator is failed. The slot is removed on every path.
func (c *Correlator) Await(id string) (wire.Envelope, error) {
	c.mu.Lock()
	ch, ok := c.pending[id]
	failed := c.failed
	c.mu.Unlock()
	if !ok {
		if failed != nil {
			return nil, failed
		}
		return nil, ErrClosed
	}

	t := time.NewTimer(c.timeout)
	defer t.Stop()
	select {
	case env, open := <-ch:
		if !open {
			c.mu.Lock()
			failed = c.failed
			c.mu.Unlock()
			if failed == nil {
				failed = ErrClosed
			}
			return nil, failed
		}
		return env, nil
	case <-t.C:
		c.Drop(id)
		return nil, ErrTimeout
	}
}

// FailAll resolves every pending slot with err and rejects future
// Track calls. Called when the reader loop exits so no caller is left
// hanging on a dead connection.
func (c *Correlator) FailAll(err error) {
	if err == nil {
		err = ErrClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failed != nil {
		return
	}
	c.failed = err
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

// PendingCount reports how many requests are awaiting replies.
func (c *Correlator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
