package playback

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/MrWong99/wavecast/internal/observe"
	"github.com/MrWong99/wavecast/pkg/audio"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// Outcome describes how a [Session] ended.
type Outcome int

const (
	// OutcomeCompleted means the track played to its end.
	OutcomeCompleted Outcome = iota

	// OutcomeSuperseded means the session was cancelled by a newer one.
	OutcomeSuperseded

	// OutcomeFailed means the track could not be opened or decoded.
	OutcomeFailed
)

// String returns the lowercase outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeSuperseded:
		return "superseded"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Reason records why a session was started.
type Reason string

const (
	ReasonStart    Reason = "start"
	ReasonNext     Reason = "next"
	ReasonPrevious Reason = "previous"
	ReasonAuto     Reason = "auto"
	ReasonSkip     Reason = "skip"
	ReasonReload   Reason = "reload"
)

// Broadcaster fans a chunk out to the connected clients. [Hub] implements it.
type Broadcaster interface {
	Broadcast(ctx context.Context, chunk audio.Chunk) int
}

// Session is one run of decode, pace and broadcast for a single track.
type Session struct {
	ID        uuid.UUID
	Position  Position
	Reason    Reason
	StartedAt time.Time

	producer *Producer
	out      Broadcaster
	tp       trace.TracerProvider
	sent     atomic.Int64
}

// SessionOption configures a [Session].
type SessionOption func(*Session)

// WithSessionTracer sets the provider the session span is started on.
// Defaults to the global provider.
func WithSessionTracer(tp trace.TracerProvider) SessionOption {
	return func(s *Session) { s.tp = tp }
}

// NewSession creates a session that forwards every chunk of p to out.
func NewSession(pos Position, reason Reason, p *Producer, out Broadcaster, now time.Time, opts ...SessionOption) *Session {
	s := &Session{
		ID:        uuid.New(),
		Position:  pos,
		Reason:    reason,
		StartedAt: now,
		producer:  p,
		out:       out,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ChunksSent returns how many chunks the session has broadcast so far.
func (s *Session) ChunksSent() int { return int(s.sent.Load()) }

// Run pulls chunks until the track ends, fails, or ctx is cancelled.
// Cancellation is only observed between chunks: a broadcast in flight always
// finishes (bounded by the hub's send timeout), so no client ever sees a
// truncated message.
func (s *Session) Run(ctx context.Context) Outcome {
	ctx, span := observe.StartSession(ctx, s.tp, observe.SessionInfo{
		ID:     s.ID.String(),
		Reason: string(s.Reason),
		Track:  s.Position.Track.Name,
		Index:  s.Position.Index,
	})
	defer span.End()

	log := observe.Logger(ctx)
	sendCtx := context.WithoutCancel(ctx)

	for chunk := range s.producer.Chunks(ctx) {
		n := s.out.Broadcast(sendCtx, chunk)
		s.sent.Add(1)
		log.Debug("chunk broadcast", "seq", chunk.Seq, "bytes", len(chunk.Payload), "clients", n)
	}

	outcome := OutcomeCompleted
	var err error
	switch {
	case ctx.Err() != nil:
		outcome = OutcomeSuperseded
	case s.producer.Err() != nil:
		outcome = OutcomeFailed
		err = s.producer.Err()
	}
	observe.EndSession(span, outcome.String(), s.ChunksSent(), err)
	log.Info("session ended", "outcome", outcome.String(), "chunks", s.ChunksSent())
	return outcome
}
