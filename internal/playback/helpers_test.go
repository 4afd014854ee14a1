package playback_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/wavecast/internal/catalog"
	"github.com/MrWong99/wavecast/internal/observe"
	"github.com/MrWong99/wavecast/pkg/audio"
	"go.opentelemetry.io/otel/metric/noop"
)

// fakeClient records every payload it is sent.
type fakeClient struct {
	id string

	// fail, when set, is returned from every Send.
	fail error

	// block makes Send wait for ctx to expire.
	block bool

	// onSend runs inside Send before the payload is recorded.
	onSend func()

	// msgs receives a copy of every successful payload when non-nil.
	msgs chan []byte

	mu          sync.Mutex
	sends       int
	payloads    [][]byte
	closes      int
	closeReason string
}

func newFakeClient(id string) *fakeClient {
	return &fakeClient{id: id, msgs: make(chan []byte, 256)}
}

func (c *fakeClient) ID() string { return c.id }

func (c *fakeClient) Send(ctx context.Context, payload []byte) error {
	c.mu.Lock()
	c.sends++
	c.mu.Unlock()

	if c.onSend != nil {
		c.onSend()
	}
	if c.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if c.fail != nil {
		return c.fail
	}

	c.mu.Lock()
	c.payloads = append(c.payloads, payload)
	c.mu.Unlock()
	if c.msgs != nil {
		c.msgs <- payload
	}
	return nil
}

func (c *fakeClient) Close(reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	c.closeReason = reason
	return nil
}

func (c *fakeClient) sendCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sends
}

func (c *fakeClient) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

// recv waits for the next payload and parses its header.
func (c *fakeClient) recv(t *testing.T) audio.WAVInfo {
	t.Helper()
	select {
	case p := <-c.msgs:
		info, err := audio.ParseWAVHeader(p)
		if err != nil {
			t.Fatalf("client %s: bad payload: %v", c.id, err)
		}
		return info
	case <-time.After(5 * time.Second):
		t.Fatalf("client %s: timed out waiting for a chunk", c.id)
		return audio.WAVInfo{}
	}
}

// expectNothing asserts no payload arrives within a short window.
func (c *fakeClient) expectNothing(t *testing.T) {
	t.Helper()
	select {
	case p := <-c.msgs:
		info, _ := audio.ParseWAVHeader(p)
		t.Fatalf("client %s: unexpected chunk %+v", c.id, info)
	case <-time.After(50 * time.Millisecond):
	}
}

// fakeLibrary is an in-memory [playback.Library].
type fakeLibrary struct {
	mu     sync.Mutex
	tracks []catalog.Track
}

func newFakeLibrary(names ...string) *fakeLibrary {
	return &fakeLibrary{tracks: tracks(names...)}
}

func (l *fakeLibrary) Snapshot() ([]catalog.Track, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.tracks) == 0 {
		return nil, catalog.ErrCatalogEmpty
	}
	return append([]catalog.Track(nil), l.tracks...), nil
}

func (l *fakeLibrary) Path(t catalog.Track) string { return "/lib/" + t.Name }

func (l *fakeLibrary) set(names ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tracks = tracks(names...)
}

// testMetrics returns metrics backed by a no-op provider.
func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

var errBrokenPipe = errors.New("broken pipe")
