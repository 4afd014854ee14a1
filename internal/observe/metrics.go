// Package observe provides application-wide observability primitives for
// wavecast: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all wavecast metrics.
const meterName = "github.com/MrWong99/wavecast"

// Delivery status attribute values.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Producer ---

	// ChunksProduced counts encoded chunks yielded by producers. Use with
	// attribute.String("track", ...).
	ChunksProduced metric.Int64Counter

	// ChunkBytes tracks the payload size of produced chunks.
	ChunkBytes metric.Int64Histogram

	// DecodeErrors counts tracks that failed to open or decode. Use with
	// attribute.String("track", ...).
	DecodeErrors metric.Int64Counter

	// --- Delivery ---

	// Deliveries counts per-client sends. Use with
	// attribute.String("status", StatusOK|StatusError).
	Deliveries metric.Int64Counter

	// DeliveryDuration tracks how long one fan-out to all clients takes.
	DeliveryDuration metric.Float64Histogram

	// ActiveClients tracks the number of registered clients.
	ActiveClients metric.Int64UpDownCounter

	// --- Sessions ---

	// SessionsStarted counts playback sessions. Use with
	// attribute.String("reason", ...).
	SessionsStarted metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// fan-out and request latencies.
var latencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5,
}

// sizeBuckets defines histogram bucket boundaries (in bytes) for chunk
// payloads. A 3s stereo chunk at 48kHz is roughly 576KB.
var sizeBuckets = []float64{
	16 << 10, 64 << 10, 128 << 10, 256 << 10, 512 << 10, 1 << 20, 2 << 20,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Producer.
	if met.ChunksProduced, err = m.Int64Counter("wavecast.chunks.produced",
		metric.WithDescription("Total encoded chunks produced by track."),
	); err != nil {
		return nil, err
	}
	if met.ChunkBytes, err = m.Int64Histogram("wavecast.chunk.size",
		metric.WithDescription("Size of encoded chunk payloads."),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(sizeBuckets...),
	); err != nil {
		return nil, err
	}
	if met.DecodeErrors, err = m.Int64Counter("wavecast.decode.errors",
		metric.WithDescription("Total tracks that failed to open or decode."),
	); err != nil {
		return nil, err
	}

	// Delivery.
	if met.Deliveries, err = m.Int64Counter("wavecast.deliveries",
		metric.WithDescription("Total per-client chunk deliveries by status."),
	); err != nil {
		return nil, err
	}
	if met.DeliveryDuration, err = m.Float64Histogram("wavecast.broadcast.duration",
		metric.WithDescription("Latency of one chunk fan-out to all clients."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ActiveClients, err = m.Int64UpDownCounter("wavecast.active_clients",
		metric.WithDescription("Number of connected streaming clients."),
	); err != nil {
		return nil, err
	}

	// Sessions.
	if met.SessionsStarted, err = m.Int64Counter("wavecast.sessions.started",
		metric.WithDescription("Total playback sessions started by reason."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("wavecast.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordChunk records one produced chunk of size bytes for track.
func (m *Metrics) RecordChunk(ctx context.Context, track string, size int) {
	m.ChunksProduced.Add(ctx, 1, metric.WithAttributes(attribute.String("track", track)))
	m.ChunkBytes.Record(ctx, int64(size))
}

// RecordDecodeError records a track that could not be decoded.
func (m *Metrics) RecordDecodeError(ctx context.Context, track string) {
	m.DecodeErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("track", track)))
}

// RecordDelivery records one per-client send with the given status.
func (m *Metrics) RecordDelivery(ctx context.Context, status string) {
	m.Deliveries.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordBroadcast records the duration of one fan-out.
func (m *Metrics) RecordBroadcast(ctx context.Context, d time.Duration) {
	m.DeliveryDuration.Record(ctx, d.Seconds())
}

// RecordSessionStart records a new playback session started for reason.
func (m *Metrics) RecordSessionStart(ctx context.Context, reason string) {
	m.SessionsStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
