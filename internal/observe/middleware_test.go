package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// newTestMiddleware wraps h with a Middleware recording into a private
// meter and tracer provider.
func newTestMiddleware(t *testing.T, h http.Handler) (http.Handler, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()
	m, reader := newTestMetrics(t)

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	return Middleware(m, WithTracerProvider(tp))(h), reader, exp
}

func spanAttr(s tracetest.SpanStub, key string) (attribute.Value, bool) {
	for _, kv := range s.Attributes {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func durationPoints(t *testing.T, reader *sdkmetric.ManualReader) []metricdata.HistogramDataPoint[float64] {
	t.Helper()
	met := findMetric(collect(t, reader), "wavecast.http.request.duration")
	if met == nil {
		return nil
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("duration metric is %T, want histogram", met.Data)
	}
	return hist.DataPoints
}

func TestMiddleware_RoutePattern(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	var cid string
	mux.HandleFunc("GET /tracks/{index}", func(w http.ResponseWriter, r *http.Request) {
		cid = CorrelationID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	h, reader, exp := newTestMiddleware(t, mux)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tracks/7", nil))

	if len(cid) != 32 {
		t.Errorf("correlation id %q: got length %d, want 32", cid, len(cid))
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != cid {
		t.Errorf("X-Correlation-ID: got %q, want %q", got, cid)
	}

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans: got %d, want 1", len(spans))
	}
	if got, want := spans[0].Name, "HTTP GET /tracks/{index}"; got != want {
		t.Errorf("span name: got %q, want %q", got, want)
	}
	if v, _ := spanAttr(spans[0], "http.route"); v.AsString() != "GET /tracks/{index}" {
		t.Errorf("http.route: got %q, want %q", v.AsString(), "GET /tracks/{index}")
	}
	if v, _ := spanAttr(spans[0], "url.path"); v.AsString() != "/tracks/7" {
		t.Errorf("url.path: got %q, want %q", v.AsString(), "/tracks/7")
	}
	if v, _ := spanAttr(spans[0], "http.response.status_code"); v.AsInt64() != http.StatusNoContent {
		t.Errorf("status attribute: got %d, want %d", v.AsInt64(), http.StatusNoContent)
	}

	points := durationPoints(t, reader)
	if len(points) != 1 {
		t.Fatalf("duration points: got %d, want 1", len(points))
	}
	if v, _ := points[0].Attributes.Value("path"); v.AsString() != "GET /tracks/{index}" {
		t.Errorf("path label: got %q, want %q", v.AsString(), "GET /tracks/{index}")
	}
}

func TestMiddleware_UnmatchedRouteKeepsPath(t *testing.T) {
	t.Parallel()

	h, reader, exp := newTestMiddleware(t, http.NewServeMux())

	req := httptest.NewRequest(http.MethodGet, "/nowhere", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status: got %d, want %d", rec.Code, http.StatusNotFound)
	}
	if got, want := rec.Header().Get("X-Correlation-ID"), "4bf92f3577b34da6a3ce929d0e0e4736"; got != want {
		t.Errorf("X-Correlation-ID: got %q, want %q", got, want)
	}

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans: got %d, want 1", len(spans))
	}
	if got, want := spans[0].Name, "HTTP GET"; got != want {
		t.Errorf("span name: got %q, want %q", got, want)
	}
	if got, want := spans[0].Parent.SpanID().String(), "00f067aa0ba902b7"; got != want {
		t.Errorf("parent span: got %s, want %s", got, want)
	}
	if spans[0].Status.Code == codes.Error {
		t.Error("a 404 must not mark the span as failed")
	}

	points := durationPoints(t, reader)
	if len(points) != 1 {
		t.Fatalf("duration points: got %d, want 1", len(points))
	}
	if v, _ := points[0].Attributes.Value("path"); v.AsString() != "/nowhere" {
		t.Errorf("path label: got %q, want %q", v.AsString(), "/nowhere")
	}
}

func TestMiddleware_ServerErrorFailsSpan(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	h, _, exp := newTestMiddleware(t, mux)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans: got %d, want 1", len(spans))
	}
	if got := spans[0].Status.Code; got != codes.Error {
		t.Errorf("span status: got %v, want %v", got, codes.Error)
	}
}

func TestMiddleware_WebSocketUpgrade(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	closed := make(chan struct{})
	mux.HandleFunc("GET /stream", func(w http.ResponseWriter, r *http.Request) {
		defer close(closed)
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("Accept: %v", err)
			return
		}
		_ = ws.Write(r.Context(), websocket.MessageBinary, []byte{1, 2, 3})
		_ = ws.Close(websocket.StatusNormalClosure, "")
	})
	h, reader, exp := newTestMiddleware(t, mux)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ws, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/stream", nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if _, data, err := ws.Read(ctx); err != nil || len(data) != 3 {
		t.Fatalf("Read: got %d bytes, err %v, want 3 bytes", len(data), err)
	}
	_ = ws.CloseNow()

	select {
	case <-closed:
	case <-ctx.Done():
		t.Fatal("handler did not return")
	}

	// The span ends after the handler returns; wait for the exporter.
	var spans tracetest.SpanStubs
	for ctx.Err() == nil {
		if spans = exp.GetSpans(); len(spans) > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if len(spans) != 1 {
		t.Fatalf("spans: got %d, want 1", len(spans))
	}
	if got, want := spans[0].Name, "HTTP GET /stream"; got != want {
		t.Errorf("span name: got %q, want %q", got, want)
	}
	if v, _ := spanAttr(spans[0], "http.response.status_code"); v.AsInt64() != http.StatusSwitchingProtocols {
		t.Errorf("status attribute: got %d, want %d", v.AsInt64(), http.StatusSwitchingProtocols)
	}
	if v, _ := spanAttr(spans[0], "websocket.upgraded"); !v.AsBool() {
		t.Errorf("websocket.upgraded: got %v, want true", v.AsBool())
	}
	if points := durationPoints(t, reader); len(points) != 0 {
		t.Errorf("duration points: got %d, want 0 for an upgraded connection", len(points))
	}
}

func TestMiddleware_HijackUnsupported(t *testing.T) {
	t.Parallel()

	var hijackErr error
	h, _, exp := newTestMiddleware(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hj, ok := w.(http.Hijacker)
		if !ok {
			t.Error("wrapped writer does not implement http.Hijacker")
			return
		}
		_, _, hijackErr = hj.Hijack()
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/stream", nil))
	if hijackErr == nil {
		t.Fatal("got nil hijack error from a recorder, want an error")
	}
	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans: got %d, want 1", len(spans))
	}
	if v, _ := spanAttr(spans[0], "websocket.upgraded"); v.AsBool() {
		t.Error("websocket.upgraded: got true after a failed hijack, want false")
	}
}
