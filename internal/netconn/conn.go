// Package netconn wraps a raw TCP stream with the frame codec and a
// serialized send path. One Conn is shared by every logical operation
// on a session; the send mutex keeps concurrent writers from
// interleaving frames on the byte stream.
package netconn

import (
	"net"
	"sync"
	"time"

	"github.com/halcyonchat/halcyon/internal/wire"
)

// Conn is one framed, encrypted connection.
type Conn struct {
	raw   net.Conn
	codec *wire.Codec

	sendMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

// New wraps an established net.Conn.
func New(raw net.Conn, codec *wire.Codec) *Conn {
	return &Conn{raw: raw, codec: codec}
}

// Send encodes and writes one envelope. Safe for concurrent use; whole
// frames are written under the send lock.
func (c *Conn) Send(env wire.Envelope) error {
	frame, err := c.codec.Encode(env)
	if err != nil {
		return err
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	_, err = c.raw.Write(frame)
	return err
}

// Receive blocks until one full envelope is decoded. Only the owning
// reader goroutine may call it.
func (c *Conn) Receive() (wire.Envelope, error) {
	return c.codec.Decode(c.raw)
}

// SetReadDeadline bounds the next Receive.
func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.raw.SetReadDeadline(t)
}

// RemoteAddr reports the peer address for logging.
func (c *Conn) RemoteAddr() string {
	return c.raw.RemoteAddr().String()
}

// Close releases the socket. Idempotent; concurrent callers observe the
// first close result.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.raw.Close()
	})
	return c.closeErr
}
