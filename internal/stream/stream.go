// Package stream is the WebSocket transport between the broadcast hub and
// listeners.
//
// Every accepted connection is wrapped in a [Conn] and registered with the
// hub, which pushes each audio chunk as one binary message. The handler then
// reads from the connection until the peer goes away: text messages are
// logged and otherwise ignored.
package stream

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/MrWong99/wavecast/internal/observe"
	"github.com/MrWong99/wavecast/internal/playback"
	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// defaultReadLimit caps incoming messages. Listeners only send short text.
const defaultReadLimit = 4 << 10

// Registry is the subset of [playback.Hub] the handler needs.
type Registry interface {
	Register(c playback.Client) error
	Unregister(c playback.Client) bool
}

// Conn adapts a WebSocket connection to [playback.Client].
type Conn struct {
	id     string
	remote string
	ws     *websocket.Conn

	closeOnce sync.Once
	closeErr  error
}

var _ playback.Client = (*Conn)(nil)

// NewConn wraps ws. remote is used for logging only.
func NewConn(ws *websocket.Conn, remote string) *Conn {
	return &Conn{id: uuid.NewString(), remote: remote, ws: ws}
}

// ID implements [playback.Client].
func (c *Conn) ID() string { return c.id }

// Remote returns the peer address.
func (c *Conn) Remote() string { return c.remote }

// Send writes payload as a single binary message. A cancelled or expired ctx
// closes the connection.
func (c *Conn) Send(ctx context.Context, payload []byte) error {
	return c.ws.Write(ctx, websocket.MessageBinary, payload)
}

// Close performs the close handshake once. Later calls return the first
// result.
func (c *Conn) Close(reason string) error {
	c.closeOnce.Do(func() {
		c.closeErr = c.ws.Close(websocket.StatusGoingAway, reason)
	})
	return c.closeErr
}

// Handler accepts WebSocket upgrades and registers each connection with the
// hub for as long as it stays open.
type Handler struct {
	hub       Registry
	origins   []string
	readLimit int64
}

// Option configures a [Handler].
type Option func(*Handler)

// WithOriginPatterns allows cross-origin upgrades from hosts matching the
// given patterns (see [websocket.AcceptOptions.OriginPatterns]).
func WithOriginPatterns(patterns ...string) Option {
	return func(h *Handler) { h.origins = append(h.origins, patterns...) }
}

// WithReadLimit sets the maximum size of an incoming message.
func WithReadLimit(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.readLimit = n
		}
	}
}

// NewHandler creates a WebSocket handler that registers clients with hub.
func NewHandler(hub Registry, opts ...Option) *Handler {
	h := &Handler{hub: hub, readLimit: defaultReadLimit}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP upgrades the request and blocks until the connection ends.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := observe.Logger(r.Context())

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		// Accept has already written an error response.
		log.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	ws.SetReadLimit(h.readLimit)

	c := NewConn(ws, r.RemoteAddr)
	if err := h.hub.Register(c); err != nil {
		log.Warn("rejecting client", "remote", r.RemoteAddr, "err", err)
		_ = ws.Close(websocket.StatusTryAgainLater, "server full")
		return
	}
	log.Info("client connected", "client", c.ID(), "remote", c.Remote())

	defer func() {
		h.hub.Unregister(c)
		_ = c.Close("connection closed")
		log.Info("client disconnected", "client", c.ID(), "remote", c.Remote())
	}()

	h.readLoop(r.Context(), c)
}

func (h *Handler) readLoop(ctx context.Context, c *Conn) {
	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			switch status := websocket.CloseStatus(err); {
			case status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway:
			case errors.Is(err, context.Canceled):
			default:
				slog.Debug("websocket read ended", "client", c.ID(), "status", status.String(), "err", err)
			}
			return
		}
		switch typ {
		case websocket.MessageText:
			slog.Info("message from client", "client", c.ID(), "text", string(data))
		default:
			slog.Debug("ignoring binary message from client", "client", c.ID(), "bytes", len(data))
		}
	}
}
