package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/wavecast/internal/catalog"
	"github.com/MrWong99/wavecast/internal/observe"
	"github.com/MrWong99/wavecast/pkg/audio"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/trace"
)

// ErrControllerStopped is returned by control calls once [Controller.Run]
// has exited.
var ErrControllerStopped = errors.New("playback: controller stopped")

// State is the externally visible playback state.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StateStalled State = "stalled"
	StateStopped State = "stopped"
)

// Library is the track source the controller snapshots from.
// [*catalog.Catalog] implements it.
type Library interface {
	Snapshot() ([]catalog.Track, error)
	Path(t catalog.Track) string
}

// Status is a point-in-time view of the playback engine.
type Status struct {
	State      State     `json:"state"`
	Clients    int       `json:"clients"`
	Position   Position  `json:"position"`
	SessionID  string    `json:"session_id,omitempty"`
	StartedAt  time.Time `json:"started_at,omitzero"`
	ChunksSent int       `json:"chunks_sent"`
}

type cmdKind int

const (
	cmdNext cmdKind = iota
	cmdPrevious
	cmdReload
	cmdEnded
)

type command struct {
	kind  cmdKind
	reply chan result

	// set for cmdEnded
	session uuid.UUID
	outcome Outcome
}

type result struct {
	pos Position
	err error
}

type activeSession struct {
	s      *Session
	cancel context.CancelFunc
	done   chan struct{}
}

// Controller owns the cursor and the current session. All mutations run on
// the goroutine executing [Controller.Run].
type Controller struct {
	lib     Library
	cursor  *Cursor
	hub     *Hub
	pcfg    ProducerConfig
	metrics *observe.Metrics
	tp      trace.TracerProvider

	advanceOnError atomic.Bool

	cmds    chan command
	stopped chan struct{}
	running atomic.Bool

	// Owned by the Run goroutine.
	failures int

	mu      sync.RWMutex
	state   State
	current *activeSession
}

// ControllerOption configures a [Controller].
type ControllerOption func(*Controller)

// WithDecoder sets the track decoder. Defaults to [audio.FileDecoder].
func WithDecoder(d audio.Decoder) ControllerOption {
	return func(c *Controller) { c.pcfg.Decoder = d }
}

// WithClock sets the clock used for pacing and timestamps.
func WithClock(clk clockwork.Clock) ControllerOption {
	return func(c *Controller) { c.pcfg.Clock = clk }
}

// WithChunkDuration sets the playback length of each chunk.
func WithChunkDuration(d time.Duration) ControllerOption {
	return func(c *Controller) {
		if d > 0 {
			c.pcfg.ChunkDuration = d
		}
	}
}

// WithAdvanceOnError makes the controller skip tracks that fail to decode
// instead of stalling.
func WithAdvanceOnError(v bool) ControllerOption {
	return func(c *Controller) { c.advanceOnError.Store(v) }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) ControllerOption {
	return func(c *Controller) { c.metrics = m }
}

// WithTracerProvider sets the provider session spans are started on.
// Defaults to the global provider.
func WithTracerProvider(tp trace.TracerProvider) ControllerOption {
	return func(c *Controller) { c.tp = tp }
}

// NewController snapshots lib and positions the cursor on the first track.
// It fails with [catalog.ErrCatalogEmpty] when lib has no tracks.
func NewController(lib Library, hub *Hub, opts ...ControllerOption) (*Controller, error) {
	snap, err := lib.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("playback: initial snapshot: %w", err)
	}
	cursor, err := NewCursor(snap)
	if err != nil {
		return nil, err
	}
	c := &Controller{
		lib:     lib,
		cursor:  cursor,
		hub:     hub,
		cmds:    make(chan command, 16),
		stopped: make(chan struct{}),
		state:   StateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.pcfg.Decoder == nil {
		c.pcfg.Decoder = audio.FileDecoder{}
	}
	if c.pcfg.Clock == nil {
		c.pcfg.Clock = clockwork.NewRealClock()
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	c.pcfg.Metrics = c.metrics
	return c, nil
}

// Cursor returns the controller's cursor for read-only use.
func (c *Controller) Cursor() *Cursor { return c.cursor }

// SetAdvanceOnError toggles skipping of undecodable tracks at runtime.
func (c *Controller) SetAdvanceOnError(v bool) { c.advanceOnError.Store(v) }

// Run starts playback of the current track and serves control commands until
// ctx is cancelled. It may only be called once.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("playback: controller already running")
	}
	defer close(c.stopped)

	c.restart(ctx, ReasonStart)

	for {
		select {
		case <-ctx.Done():
			c.stopSession()
			c.setState(StateStopped)
			slog.Info("playback controller stopped")
			return nil
		case cmd := <-c.cmds:
			c.handle(ctx, cmd)
		}
	}
}

// Next advances to the following track and restarts streaming. It returns
// once the new session has started.
func (c *Controller) Next(ctx context.Context) (Position, error) {
	return c.do(ctx, cmdNext)
}

// Previous retreats to the preceding track and restarts streaming.
func (c *Controller) Previous(ctx context.Context) (Position, error) {
	return c.do(ctx, cmdPrevious)
}

// Reload takes a fresh library snapshot. Streaming restarts only when the
// current track changed or playback is not running. When the library is
// empty or unreadable the old snapshot is kept and the error returned.
func (c *Controller) Reload(ctx context.Context) (Position, error) {
	return c.do(ctx, cmdReload)
}

// Ready reports whether the controller loop is serving commands.
func (c *Controller) Ready() bool {
	if !c.running.Load() {
		return false
	}
	select {
	case <-c.stopped:
		return false
	default:
		return true
	}
}

// Status returns the current playback status.
func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st := Status{
		State:    c.state,
		Clients:  c.hub.Count(),
		Position: c.cursor.Current(),
	}
	if c.current != nil {
		st.SessionID = c.current.s.ID.String()
		st.StartedAt = c.current.s.StartedAt
		st.ChunksSent = c.current.s.ChunksSent()
	}
	return st
}

func (c *Controller) do(ctx context.Context, kind cmdKind) (Position, error) {
	cmd := command{kind: kind, reply: make(chan result, 1)}
	select {
	case c.cmds <- cmd:
	case <-c.stopped:
		return Position{}, ErrControllerStopped
	case <-ctx.Done():
		return Position{}, ctx.Err()
	}
	select {
	case r := <-cmd.reply:
		return r.pos, r.err
	case <-c.stopped:
		select {
		case r := <-cmd.reply:
			return r.pos, r.err
		default:
			return Position{}, ErrControllerStopped
		}
	case <-ctx.Done():
		return Position{}, ctx.Err()
	}
}

func (c *Controller) handle(ctx context.Context, cmd command) {
	switch cmd.kind {
	case cmdNext:
		c.failures = 0
		pos := c.cursor.Advance()
		c.restart(ctx, ReasonNext)
		cmd.reply <- result{pos: pos}

	case cmdPrevious:
		c.failures = 0
		pos := c.cursor.Retreat()
		c.restart(ctx, ReasonPrevious)
		cmd.reply <- result{pos: pos}

	case cmdReload:
		cmd.reply <- c.reload(ctx)

	case cmdEnded:
		c.sessionEnded(ctx, cmd.session, cmd.outcome)
	}
}

func (c *Controller) reload(ctx context.Context) result {
	snap, err := c.lib.Snapshot()
	if err != nil {
		slog.Warn("library reload failed, keeping previous snapshot", "err", err)
		return result{pos: c.cursor.Current(), err: err}
	}
	pos, changed, err := c.cursor.Reload(snap)
	if err != nil {
		return result{pos: pos, err: err}
	}
	slog.Info("library reloaded", "tracks", pos.Total, "track", pos.Track.Name, "changed", changed)
	if changed || c.getState() != StateRunning {
		c.failures = 0
		c.restart(ctx, ReasonReload)
	}
	return result{pos: pos}
}

func (c *Controller) sessionEnded(ctx context.Context, id uuid.UUID, outcome Outcome) {
	c.mu.RLock()
	cur := c.current
	c.mu.RUnlock()
	if cur == nil || cur.s.ID != id {
		// A superseded session reporting late.
		return
	}
	cur.cancel()

	switch outcome {
	case OutcomeCompleted:
		c.failures = 0
		c.cursor.Advance()
		c.restart(ctx, ReasonAuto)

	case OutcomeFailed:
		c.failures++
		total := c.cursor.Current().Total
		switch {
		case !c.advanceOnError.Load():
			slog.Warn("playback stalled on undecodable track", "track", cur.s.Position.Track.Name)
			c.setState(StateStalled)
		case c.failures >= total:
			slog.Error("playback stalled, no track in the library could be decoded", "tracks", total)
			c.setState(StateStalled)
		default:
			c.cursor.Advance()
			c.restart(ctx, ReasonSkip)
		}

	case OutcomeSuperseded:
		c.setState(StateIdle)
	}
}

// restart stops the current session, waits for it to exit, and starts a new
// one for the cursor's current track.
func (c *Controller) restart(ctx context.Context, reason Reason) {
	c.stopSession()

	pos := c.cursor.Current()
	p := NewProducer(pos.Track.Name, c.lib.Path(pos.Track), c.pcfg)
	s := NewSession(pos, reason, p, c.hub, c.pcfg.Clock.Now(), WithSessionTracer(c.tp))

	sctx, cancel := context.WithCancel(ctx)
	active := &activeSession{s: s, cancel: cancel, done: make(chan struct{})}

	c.mu.Lock()
	c.current = active
	c.state = StateRunning
	c.mu.Unlock()

	c.metrics.RecordSessionStart(ctx, string(reason))
	slog.Info("session started",
		"session", s.ID.String(),
		"reason", string(reason),
		"track", pos.Track.Name,
		"index", pos.Index,
		"total", pos.Total,
	)

	go func() {
		outcome := s.Run(sctx)
		close(active.done)
		select {
		case c.cmds <- command{kind: cmdEnded, session: s.ID, outcome: outcome}:
		case <-ctx.Done():
		}
	}()
}

func (c *Controller) stopSession() {
	c.mu.RLock()
	cur := c.current
	c.mu.RUnlock()
	if cur == nil {
		return
	}
	cur.cancel()
	<-cur.done
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Controller) getState() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}
