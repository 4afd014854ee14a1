package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/wavecast/internal/observe"
	"github.com/MrWong99/wavecast/pkg/audio"
)

// DefaultSendTimeout bounds a single client send.
const DefaultSendTimeout = 2 * time.Second

var (
	// ErrDelivery wraps per-client send failures. It is logged, never returned
	// from [Hub.Broadcast].
	ErrDelivery = errors.New("playback: delivery failed")

	// ErrHubFull is returned by [Hub.Register] when the client cap is reached.
	ErrHubFull = errors.New("playback: too many clients")
)

// Client is one connected listener.
type Client interface {
	// ID uniquely identifies the client within the hub.
	ID() string

	// Send delivers one binary message. It must honour ctx cancellation.
	Send(ctx context.Context, payload []byte) error

	// Close terminates the connection. It must be safe to call repeatedly.
	Close(reason string) error
}

// Hub is the broadcast set. All methods are safe for concurrent use.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]Client

	sendTimeout atomic.Int64
	maxClients  int
	metrics     *observe.Metrics
}

// HubOption configures a [Hub].
type HubOption func(*Hub)

// WithSendTimeout bounds each per-client send. Non-positive values are
// ignored.
func WithSendTimeout(d time.Duration) HubOption {
	return func(h *Hub) {
		if d > 0 {
			h.sendTimeout.Store(int64(d))
		}
	}
}

// WithMaxClients caps the number of registered clients. Zero means no cap.
func WithMaxClients(n int) HubOption {
	return func(h *Hub) {
		h.maxClients = max(n, 0)
	}
}

// WithHubMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithHubMetrics(m *observe.Metrics) HubOption {
	return func(h *Hub) {
		h.metrics = m
	}
}

// NewHub creates an empty hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{clients: make(map[string]Client)}
	h.sendTimeout.Store(int64(DefaultSendTimeout))
	for _, opt := range opts {
		opt(h)
	}
	if h.metrics == nil {
		h.metrics = observe.DefaultMetrics()
	}
	return h
}

// SetSendTimeout changes the per-client send bound at runtime.
func (h *Hub) SetSendTimeout(d time.Duration) {
	if d > 0 {
		h.sendTimeout.Store(int64(d))
	}
}

// Register adds c to the broadcast set. Registering the same ID twice is a
// no-op.
func (h *Hub) Register(c Client) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.ID()]; ok {
		return nil
	}
	if h.maxClients > 0 && len(h.clients) >= h.maxClients {
		return fmt.Errorf("%w: limit %d", ErrHubFull, h.maxClients)
	}
	h.clients[c.ID()] = c
	h.metrics.ActiveClients.Add(context.Background(), 1)
	return nil
}

// Unregister removes c from the broadcast set. It reports whether c was
// present; removing an absent client is a no-op.
func (h *Hub) Unregister(c Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.ID()]; !ok {
		return false
	}
	delete(h.clients, c.ID())
	h.metrics.ActiveClients.Add(context.Background(), -1)
	return true
}

// Count returns the number of registered clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) snapshot() []Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Client, 0, len(h.clients))
	for _, c := range h.clients {
		out = append(out, c)
	}
	return out
}

// Broadcast sends chunk to every client registered when the call starts and
// returns the number of successful deliveries. Sends run concurrently, each
// bounded by the send timeout. A client whose send fails is unregistered and
// closed; the failure never reaches the caller.
func (h *Hub) Broadcast(ctx context.Context, chunk audio.Chunk) int {
	targets := h.snapshot()
	if len(targets) == 0 {
		return 0
	}

	start := time.Now()
	timeout := time.Duration(h.sendTimeout.Load())

	var (
		delivered atomic.Int64
		wg        sync.WaitGroup
	)
	for _, c := range targets {
		wg.Go(func() {
			sendCtx, cancel := context.WithTimeout(ctx, timeout)
			err := c.Send(sendCtx, chunk.Payload)
			cancel()
			if err != nil {
				h.drop(ctx, c, err)
				return
			}
			delivered.Add(1)
			h.metrics.RecordDelivery(ctx, observe.StatusOK)
		})
	}
	wg.Wait()

	h.metrics.RecordBroadcast(ctx, time.Since(start))
	return int(delivered.Load())
}

func (h *Hub) drop(ctx context.Context, c Client, cause error) {
	h.metrics.RecordDelivery(ctx, observe.StatusError)
	err := fmt.Errorf("%w: client %s: %w", ErrDelivery, c.ID(), cause)
	observe.Logger(ctx).Warn("dropping client", "client", c.ID(), "err", err)
	h.Unregister(c)
	if cerr := c.Close("delivery failed"); cerr != nil {
		slog.Debug("close after failed delivery", "client", c.ID(), "err", cerr)
	}
}

// CloseAll removes every client and closes them concurrently.
func (h *Hub) CloseAll(reason string) {
	var wg sync.WaitGroup
	for _, c := range h.snapshot() {
		h.Unregister(c)
		wg.Go(func() { _ = c.Close(reason) })
	}
	wg.Wait()
}
