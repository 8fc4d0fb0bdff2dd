// Package server implements the chat daemon: the TCP accept loop, the
// per-connection dispatch state machine, and the request handlers.
package server

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/halcyonchat/halcyon/internal/convo"
	"github.com/halcyonchat/halcyon/internal/netconn"
	"github.com/halcyonchat/halcyon/internal/register"
	"github.com/halcyonchat/halcyon/internal/session"
	"github.com/halcyonchat/halcyon/internal/store"
	"github.com/halcyonchat/halcyon/internal/transfer"
	"github.com/halcyonchat/halcyon/internal/wire"
)

// connState tracks where a connection is in its lifecycle. The state
// gates which request types are dispatched.
type connState int

const (
	// stateUnauthenticated allows authenticate, user_register, exit.
	stateUnauthenticated connState = iota
	// stateRegistering allows only user_register until signup finishes.
	stateRegistering
	// stateAuthenticated allows the full request surface.
	stateAuthenticated
)

// ConnCtx is the per-connection dispatch context.
type ConnCtx struct {
	nc    *netconn.Conn
	state connState
	user  string
	// closing is set by the exit handler; the read loop stops after
	// the reply is flushed.
	closing bool
}

// Dirs names the directories the handlers write media into.
type Dirs struct {
	Media   string
	Avatars string
}

// Handler owns the shared state behind every connection.
type Handler struct {
	log      *zap.Logger
	db       *store.DB
	sessions *session.Registry
	convos   *convo.Cache
	uploads  *transfer.Uploads
	signup   *register.Service
	dirs     Dirs
}

// NewHandler wires the dispatcher's collaborators together.
func NewHandler(log *zap.Logger, db *store.DB, sessions *session.Registry,
	convos *convo.Cache, uploads *transfer.Uploads, signup *register.Service, dirs Dirs) *Handler {
	return &Handler{
		log:      log,
		db:       db,
		sessions: sessions,
		convos:   convos,
		uploads:  uploads,
		signup:   signup,
		dirs:     dirs,
	}
}

// Server accepts connections and runs one read loop per client.
type Server struct {
	log     *zap.Logger
	codec   *wire.Codec
	handler *Handler

	mu sync.Mutex
	ln net.Listener
	wg sync.WaitGroup
}

// New creates a server speaking codec's framing to handler.
func New(log *zap.Logger, codec *wire.Codec, handler *Handler) *Server {
	return &Server{log: log, codec: codec, handler: handler}
}

// Serve accepts on ln until the listener is closed.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	for {
		raw, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(raw)
		}()
	}
}

// Shutdown closes the listener and waits for in-flight connections.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) handleConn(raw net.Conn) {
	nc := netconn.New(raw, s.codec)
	c := &ConnCtx{nc: nc}
	remote := raw.RemoteAddr().String()
	s.log.Info("client connected", zap.String("remote", remote))

	defer func() {
		s.handler.teardown(c)
		_ = nc.Close()
		s.log.Info("client disconnected", zap.String("remote", remote))
	}()

	for {
		env, err := nc.Receive()
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
			case errors.Is(err, wire.ErrDecrypt):
				// Crypto failures are fatal; the stream cannot recover.
				s.log.Warn("undecryptable frame, closing", zap.String("remote", remote))
			default:
				s.log.Warn("read failed", zap.String("remote", remote), zap.Error(err))
			}
			return
		}

		for _, resp := range s.handler.Dispatch(c, env) {
			if err := nc.Send(resp); err != nil {
				s.log.Warn("write failed", zap.String("remote", remote), zap.Error(err))
				return
			}
		}
		if c.closing {
			return
		}
	}
}

// Dispatch routes one request according to the connection state and
// returns the direct replies, in order. Pushes to other users go
// through the session registry inside the handlers.
func (h *Handler) Dispatch(c *ConnCtx, env wire.Envelope) []wire.Envelope {
	reqType := env.Type()

	switch reqType {
	case wire.TypeUserRegister:
		c.state = stateRegistering
		resp := h.signup.Handle(env)
		if resp.String("subtype") == "register_3" && resp.OK() {
			c.state = stateUnauthenticated
		}
		return []wire.Envelope{resp}

	case wire.TypeAuthenticate:
		return h.handleAuthenticate(c, env)

	case wire.TypeExit:
		c.closing = true
		return []wire.Envelope{{
			"type":       wire.TypeExit,
			"status":     wire.StatusSuccess,
			"message":    c.user + " logged out",
			"request_id": env.RequestID(),
		}}
	}

	if c.state == stateRegistering {
		return []wire.Envelope{errEnvelope(reqType, env.RequestID(),
			"only user_register is allowed during registration")}
	}
	if c.state != stateAuthenticated {
		return []wire.Envelope{errEnvelope(reqType, env.RequestID(),
			"authenticate or register first")}
	}

	switch reqType {
	case wire.TypeSendMessage:
		return []wire.Envelope{h.handleSendMessage(c, env)}
	case wire.TypeSendMedia:
		return []wire.Envelope{h.handleSendMedia(c, env)}
	case wire.TypeDownloadMedia:
		return h.handleDownloadMedia(env)
	case wire.TypeChatHistory:
		return []wire.Envelope{h.handleChatHistory(env)}
	case wire.TypeGetUserInfo:
		return []wire.Envelope{h.handleGetUserInfo(env)}
	case wire.TypeAddFriend:
		return []wire.Envelope{h.handleAddFriend(env)}
	case wire.TypeUploadAvatar, wire.TypeUpdateName, wire.TypeUpdateSign:
		return []wire.Envelope{h.handleUpdateProfile(env)}
	case wire.TypeUpdateRemarks:
		return []wire.Envelope{h.handleUpdateRemarks(env)}
	case wire.TypeDeleteMessages:
		return []wire.Envelope{h.handleDeleteMessages(c, env)}
	}
	return []wire.Envelope{errEnvelope(reqType, env.RequestID(), "unknown request type")}
}

// teardown releases the session when the read loop exits, and tells
// the user's friends they went offline.
func (h *Handler) teardown(c *ConnCtx) {
	if c.user == "" {
		return
	}
	if h.sessions.Unregister(c.user, c.nc) {
		h.pushFriendUpdateToPeers(c.user)
	}
	c.user = ""
}

func errEnvelope(reqType, requestID, message string) wire.Envelope {
	return wire.Envelope{
		"type":       reqType,
		"status":     wire.StatusError,
		"message":    message,
		"request_id": requestID,
	}
}
