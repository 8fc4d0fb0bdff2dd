// Package client implements the user-side transport: one encrypted TCP
// link per login, a reader goroutine that splits server pushes from
// correlated replies, and typed wrappers for every request the server
// understands.
package client

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/halcyonchat/halcyon/internal/bus"
	"github.com/halcyonchat/halcyon/internal/correlate"
	"github.com/halcyonchat/halcyon/internal/netconn"
	"github.com/halcyonchat/halcyon/internal/retry"
	"github.com/halcyonchat/halcyon/internal/wire"
)

// ErrClosed is returned by Request after the link shut down.
var ErrClosed = errors.New("client: link closed")

// closeGrace bounds how long Exit waits for the reader to drain after
// the logout reply.
const closeGrace = 2 * time.Second

// Options configures a Link.
type Options struct {
	Addr        string
	DownloadDir string
	// Timeout bounds each request/reply round trip.
	Timeout time.Duration
	// Attempts and Delay shape the connect retry loop.
	Attempts int
	Delay    time.Duration
}

// Link is one live connection to the server. All request methods are
// safe for concurrent use; replies are matched by request_id, so slow
// requests never block fast ones.
type Link struct {
	log   *zap.Logger
	codec *wire.Codec
	bus   *bus.Bus
	corr  *correlate.Correlator
	opts  Options

	nc   *netconn.Conn
	done chan struct{}

	mu     sync.Mutex
	closed bool
}

// Dial connects to opts.Addr, retrying per opts, and starts the reader.
func Dial(ctx context.Context, log *zap.Logger, codec *wire.Codec, b *bus.Bus, opts Options) (*Link, error) {
	if opts.Attempts <= 0 {
		opts.Attempts = 1
	}

	var raw net.Conn
	policy := retry.Fixed(opts.Attempts, opts.Delay)
	err := policy.Do(ctx, func() error {
		d := net.Dialer{}
		c, derr := d.DialContext(ctx, "tcp", opts.Addr)
		if derr != nil {
			log.Warn("connect failed", zap.String("addr", opts.Addr), zap.Error(derr))
			return derr
		}
		raw = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	l := &Link{
		log:   log,
		codec: codec,
		bus:   b,
		corr:  correlate.New(opts.Timeout),
		opts:  opts,
		nc:    netconn.New(raw, codec),
		done:  make(chan struct{}),
	}
	go l.readLoop()
	b.Emit(bus.KindLinkConnected, opts.Addr)
	log.Info("connected", zap.String("addr", opts.Addr))
	return l, nil
}

// readLoop owns the receive side: pushes go to the bus, everything else
// resolves a pending request. When the stream dies every waiter is
// failed so no caller hangs on a dead socket.
func (l *Link) readLoop() {
	defer close(l.done)
	for {
		env, err := l.nc.Receive()
		if err != nil {
			l.corr.FailAll(correlate.ErrClosed)
			l.bus.Emit(bus.KindLinkDisconnect, err.Error())
			return
		}
		if env.IsPush() {
			l.dispatchPush(env)
			continue
		}
		if !l.corr.Fulfill(env) {
			l.log.Debug("dropping unmatched reply",
				zap.String("type", env.Type()),
				zap.String("request_id", env.RequestID()))
		}
	}
}

func (l *Link) dispatchPush(env wire.Envelope) {
	switch env.Type() {
	case wire.TypeNewMessage:
		l.bus.Emit(bus.KindChatMessage, bus.MessagePayload{
			RowID:     env.Int64("rowid"),
			Sender:    env.String("from"),
			Recipient: env.String("to"),
			Text:      env.String("message"),
			ReplyTo:   env.Int64("reply_to"),
			WriteTime: env.String("write_time"),
		})
	case wire.TypeNewMedia:
		l.bus.Emit(bus.KindChatMedia, bus.MediaPayload{
			RowID:         env.Int64("rowid"),
			Sender:        env.String("from"),
			Recipient:     env.String("to"),
			FileID:        env.String("file_id"),
			FileName:      env.String("original_file_name"),
			FileType:      env.String("file_type"),
			ThumbnailData: env.String("thumbnail_data"),
			WriteTime:     env.String("write_time"),
		})
	case wire.TypeDeletedMessages:
		l.bus.Emit(bus.KindChatDeleted, bus.DeletedPayload{
			Peer:   env.String("from"),
			RowIDs: env.Int64s("deleted_rowids"),
		})
	case wire.TypeFriendListUpdate:
		l.bus.Emit(bus.KindFriendList, env)
	case wire.TypeFriendUpdate:
		item, _ := env["friend"].(map[string]any)
		f := wire.Envelope(item)
		l.bus.Emit(bus.KindFriendUpdate, bus.FriendPayload{
			Username: f.String("username"),
			Name:     f.String("name"),
			Sign:     f.String("sign"),
			Online:   f.Bool("online"),
		})
	case wire.TypeUpdateRemarks:
		l.bus.Emit(bus.KindFriendRemarks, bus.RemarksPayload{
			Username: env.String("friend"),
			Remarks:  env.String("remarks"),
		})
	default:
		l.log.Debug("unknown push", zap.String("type", env.Type()))
	}
}

// Request issues one correlated request and blocks for its reply. A
// request_id already present on env is kept, so multi-frame exchanges
// (chunked uploads) stay on one id.
func (l *Link) Request(env wire.Envelope) (wire.Envelope, error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, ErrClosed
	}
	l.mu.Unlock()

	id := env.RequestID()
	if id == "" {
		id = uuid.NewString()
		env["request_id"] = id
	}
	if err := l.corr.Track(id); err != nil {
		return nil, err
	}
	if err := l.nc.Send(env); err != nil {
		l.corr.Drop(id)
		return nil, err
	}
	return l.corr.Await(id)
}

// Send writes env without waiting for a reply.
func (l *Link) Send(env wire.Envelope) error {
	return l.nc.Send(env)
}

// Done is closed once the reader loop has exited.
func (l *Link) Done() <-chan struct{} {
	return l.done
}

// Close tears the connection down immediately.
func (l *Link) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	err := l.nc.Close()
	select {
	case <-l.done:
	case <-time.After(closeGrace):
	}
	return err
}

// Exit performs an orderly logout: the exit request is acknowledged by
// the server before the socket is closed.
func (l *Link) Exit() error {
	if _, err := l.Request(wire.Envelope{"type": wire.TypeExit}); err != nil && !errors.Is(err, correlate.ErrClosed) {
		l.log.Warn("logout request failed", zap.Error(err))
	}
	return l.Close()
}
