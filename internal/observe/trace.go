package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope of every wavecast span.
const tracerName = "github.com/MrWong99/wavecast"

// SessionSpanName is the name of the span covering one playback session.
const SessionSpanName = "playback.session"

// Tracer returns the wavecast tracer of tp. A nil tp selects the global
// provider.
func Tracer(tp trace.TracerProvider) trace.Tracer {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return tp.Tracer(tracerName)
}

// SessionInfo identifies a playback session in spans and log lines.
type SessionInfo struct {
	ID     string
	Reason string
	Track  string
	Index  int
}

type sessionKey struct{}

// StartSession starts the [SessionSpanName] span on tp and attaches info to
// the returned context, so every line logged through [Logger] below it is
// tagged with the session.
func StartSession(ctx context.Context, tp trace.TracerProvider, info SessionInfo) (context.Context, trace.Span) {
	ctx, span := Tracer(tp).Start(ctx, SessionSpanName, trace.WithAttributes(
		attribute.String("session.id", info.ID),
		attribute.String("session.reason", info.Reason),
		attribute.String("track", info.Track),
		attribute.Int("track.index", info.Index),
	))
	return context.WithValue(ctx, sessionKey{}, info), span
}

// EndSession records how the session ended. A non-nil err marks the span as
// failed. The caller still ends the span.
func EndSession(span trace.Span, outcome string, chunks int, err error) {
	span.SetAttributes(
		attribute.String("session.outcome", outcome),
		attribute.Int("session.chunks", chunks),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SessionFrom returns the session attached by [StartSession].
func SessionFrom(ctx context.Context) (SessionInfo, bool) {
	info, ok := ctx.Value(sessionKey{}).(SessionInfo)
	return info, ok
}

// CorrelationID returns the trace ID of the span in ctx, or "".
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger tagged with the trace of ctx and, inside
// a playback session, a "session" group holding its id, track and reason.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	if info, ok := SessionFrom(ctx); ok {
		l = l.With(slog.Group("session",
			slog.String("id", info.ID),
			slog.String("track", info.Track),
			slog.String("reason", info.Reason),
		))
	}
	return l
}
