package playback_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/wavecast/internal/catalog"
	"github.com/MrWong99/wavecast/internal/playback"
	"github.com/MrWong99/wavecast/pkg/audio"
	"github.com/MrWong99/wavecast/pkg/audio/mock"
	"github.com/jonboulle/clockwork"
)

// harness runs a controller over a fake library, a mock decoder, a fake
// clock and a single recording client.
type harness struct {
	ctrl   *playback.Controller
	hub    *playback.Hub
	dec    *mock.Decoder
	clock  *clockwork.FakeClock
	client *fakeClient
	ctx    context.Context
}

func startHarness(t *testing.T, lib *fakeLibrary, dec *mock.Decoder, opts ...playback.ControllerOption) *harness {
	t.Helper()
	m := testMetrics(t)
	clock := clockwork.NewFakeClock()
	hub := playback.NewHub(playback.WithHubMetrics(m))
	client := newFakeClient("listener")
	if err := hub.Register(client); err != nil {
		t.Fatal(err)
	}

	opts = append([]playback.ControllerOption{
		playback.WithDecoder(dec),
		playback.WithClock(clock),
		playback.WithChunkDuration(time.Second),
		playback.WithMetrics(m),
	}, opts...)
	ctrl, err := playback.NewController(lib, hub, opts...)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	done := make(chan error, 1)
	go func() { done <- ctrl.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Run: %v", err)
		}
	})

	return &harness{ctrl: ctrl, hub: hub, dec: dec, clock: clock, client: client, ctx: ctx}
}

// tick waits for the producer's pacing timer and fires it.
func (h *harness) tick(t *testing.T) {
	t.Helper()
	if err := h.clock.BlockUntilContext(h.ctx, 1); err != nil {
		t.Fatalf("pacing timer never armed: %v", err)
	}
	h.clock.Advance(time.Second)
}

func waitState(t *testing.T, c *playback.Controller, want playback.State) playback.Status {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		st := c.Status()
		if st.State == want {
			return st
		}
		if time.Now().After(deadline) {
			t.Fatalf("state = %q, want %q", st.State, want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func track(rate, frames int) mock.Track {
	return mock.Track{Format: audio.Format{SampleRate: rate, Channels: 1}, Frames: frames, Value: 0.1}
}

func TestNewController_EmptyLibrary(t *testing.T) {
	t.Parallel()

	_, err := playback.NewController(newFakeLibrary(), playback.NewHub(playback.WithHubMetrics(testMetrics(t))))
	if !errors.Is(err, catalog.ErrCatalogEmpty) {
		t.Errorf("got %v, want ErrCatalogEmpty", err)
	}
}

func TestController_AutoAdvanceAfterLastChunk(t *testing.T) {
	t.Parallel()

	dec := &mock.Decoder{Tracks: map[string]mock.Track{
		"/lib/a.wav": track(10, 25),
		"/lib/b.wav": track(20, 1000),
	}}
	h := startHarness(t, newFakeLibrary("a.wav", "b.wav"), dec)

	for i := range 3 {
		info := h.client.recv(t)
		if info.Format.SampleRate != 10 {
			t.Fatalf("chunk %d: rate %d, want 10", i, info.Format.SampleRate)
		}
		h.tick(t)
	}

	info := h.client.recv(t)
	if info.Format.SampleRate != 20 {
		t.Fatalf("after a.wav ended: rate %d, want 20 (b.wav)", info.Format.SampleRate)
	}
	st := h.ctrl.Status()
	if st.Position.Index != 1 || st.Position.Track.Name != "b.wav" {
		t.Errorf("position = %+v, want index 1 (b.wav)", st.Position)
	}
	if got := dec.Opened(); len(got) != 2 || got[1] != "/lib/b.wav" {
		t.Errorf("opened = %v", got)
	}
}

func TestController_NextSupersedesBeforeNewDelivery(t *testing.T) {
	t.Parallel()

	dec := &mock.Decoder{Tracks: map[string]mock.Track{
		"/lib/a.wav": track(8000, 1_000_000),
		"/lib/b.wav": track(16000, 1_000_000),
	}}
	h := startHarness(t, newFakeLibrary("a.wav", "b.wav"), dec)

	if info := h.client.recv(t); info.Format.SampleRate != 8000 {
		t.Fatalf("first chunk rate %d, want 8000", info.Format.SampleRate)
	}
	oldSession := h.ctrl.Status().SessionID

	pos, err := h.ctrl.Next(h.ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if pos.Index != 1 || pos.Track.Name != "b.wav" {
		t.Errorf("Next = %+v, want index 1 (b.wav)", pos)
	}

	// Next only returns once the old session exited.
	if !dec.StreamAt(0).Closed() {
		t.Error("superseded stream still open after Next returned")
	}
	if st := h.ctrl.Status(); st.SessionID == oldSession {
		t.Error("session ID unchanged after Next")
	}

	for i := range 3 {
		info := h.client.recv(t)
		if info.Format.SampleRate != 16000 {
			t.Fatalf("chunk %d after Next: rate %d, want 16000", i, info.Format.SampleRate)
		}
		h.tick(t)
	}
}

func TestController_PreviousWrapsToLast(t *testing.T) {
	t.Parallel()

	dec := &mock.Decoder{Tracks: map[string]mock.Track{
		"/lib/a.wav": track(8000, 1_000_000),
		"/lib/b.wav": track(11025, 1_000_000),
		"/lib/c.wav": track(22050, 1_000_000),
	}}
	h := startHarness(t, newFakeLibrary("a.wav", "b.wav", "c.wav"), dec)
	h.client.recv(t)

	pos, err := h.ctrl.Previous(h.ctx)
	if err != nil {
		t.Fatalf("Previous: %v", err)
	}
	if pos.Index != 2 {
		t.Errorf("Previous = %d, want 2", pos.Index)
	}
	if info := h.client.recv(t); info.Format.SampleRate != 22050 {
		t.Errorf("rate %d, want 22050", info.Format.SampleRate)
	}
}

func TestController_DecodeFailureStalls(t *testing.T) {
	t.Parallel()

	dec := &mock.Decoder{Tracks: map[string]mock.Track{
		"/lib/b.wav": track(8000, 100),
	}}
	h := startHarness(t, newFakeLibrary("a.wav", "b.wav"), dec)

	st := waitState(t, h.ctrl, playback.StateStalled)
	if st.Position.Track.Name != "a.wav" {
		t.Errorf("stalled on %q, want a.wav", st.Position.Track.Name)
	}
	h.client.expectNothing(t)
	if got := len(dec.Opened()); got != 1 {
		t.Errorf("Open called %d times, want 1", got)
	}

	// A manual next recovers.
	if _, err := h.ctrl.Next(h.ctx); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if info := h.client.recv(t); info.Format.SampleRate != 8000 {
		t.Errorf("rate %d, want 8000", info.Format.SampleRate)
	}
}

func TestController_AdvanceOnError(t *testing.T) {
	t.Parallel()

	dec := &mock.Decoder{Tracks: map[string]mock.Track{
		"/lib/b.wav": track(8000, 1_000_000),
	}}
	h := startHarness(t, newFakeLibrary("a.wav", "b.wav"), dec, playback.WithAdvanceOnError(true))

	if info := h.client.recv(t); info.Format.SampleRate != 8000 {
		t.Errorf("rate %d, want 8000", info.Format.SampleRate)
	}
	if st := h.ctrl.Status(); st.Position.Track.Name != "b.wav" || st.State != playback.StateRunning {
		t.Errorf("status = %+v, want running on b.wav", st)
	}
}

func TestController_AdvanceOnErrorStopsAfterOneLap(t *testing.T) {
	t.Parallel()

	dec := &mock.Decoder{}
	h := startHarness(t, newFakeLibrary("a.wav", "b.wav", "c.wav"), dec, playback.WithAdvanceOnError(true))

	waitState(t, h.ctrl, playback.StateStalled)
	if got := len(dec.Opened()); got != 3 {
		t.Errorf("Open called %d times, want 3 (one lap)", got)
	}
}

func TestController_Reload(t *testing.T) {
	t.Parallel()

	dec := &mock.Decoder{Tracks: map[string]mock.Track{
		"/lib/a.wav": track(8000, 1_000_000),
		"/lib/b.wav": track(16000, 1_000_000),
		"/lib/c.wav": track(32000, 1_000_000),
	}}
	lib := newFakeLibrary("a.wav", "b.wav")
	h := startHarness(t, lib, dec)
	h.client.recv(t)
	first := h.ctrl.Status().SessionID

	// Current track still present: no restart.
	lib.set("0.wav", "a.wav", "b.wav")
	pos, err := h.ctrl.Reload(h.ctx)
	if err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if pos.Index != 1 || pos.Total != 3 {
		t.Errorf("Reload = %+v, want index 1 of 3", pos)
	}
	if got := h.ctrl.Status().SessionID; got != first {
		t.Error("session restarted although the current track was unchanged")
	}

	// Current track removed: restart on the clamped index.
	lib.set("b.wav", "c.wav")
	pos, err = h.ctrl.Reload(h.ctx)
	if err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if pos.Track.Name != "c.wav" {
		t.Errorf("Reload = %+v, want c.wav", pos)
	}
	if info := h.client.recv(t); info.Format.SampleRate != 32000 {
		t.Errorf("rate %d, want 32000", info.Format.SampleRate)
	}

	// Empty library: error, snapshot kept.
	lib.set()
	if _, err := h.ctrl.Reload(h.ctx); !errors.Is(err, catalog.ErrCatalogEmpty) {
		t.Errorf("got %v, want ErrCatalogEmpty", err)
	}
	if st := h.ctrl.Status(); st.Position.Total != 2 {
		t.Errorf("Total = %d after failed reload, want 2", st.Position.Total)
	}
}

func TestController_Status(t *testing.T) {
	t.Parallel()

	dec := &mock.Decoder{Tracks: map[string]mock.Track{
		"/lib/a.wav": track(8000, 1_000_000),
	}}
	h := startHarness(t, newFakeLibrary("a.wav"), dec)
	h.client.recv(t)

	st := h.ctrl.Status()
	if st.State != playback.StateRunning {
		t.Errorf("State = %q, want running", st.State)
	}
	if st.Clients != 1 {
		t.Errorf("Clients = %d, want 1", st.Clients)
	}
	if st.SessionID == "" {
		t.Error("SessionID empty")
	}
	if st.ChunksSent < 1 {
		t.Errorf("ChunksSent = %d, want >= 1", st.ChunksSent)
	}
	if !h.ctrl.Ready() {
		t.Error("Ready = false while running")
	}
}

func TestController_StoppedRejectsCommands(t *testing.T) {
	t.Parallel()

	dec := &mock.Decoder{Tracks: map[string]mock.Track{
		"/lib/a.wav": track(8000, 1_000_000),
	}}
	hub := playback.NewHub(playback.WithHubMetrics(testMetrics(t)))
	ctrl, err := playback.NewController(newFakeLibrary("a.wav"), hub,
		playback.WithDecoder(dec), playback.WithClock(clockwork.NewFakeClock()), playback.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ctrl.Run(ctx) }()
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}

	if _, err := ctrl.Next(context.Background()); !errors.Is(err, playback.ErrControllerStopped) {
		t.Errorf("got %v, want ErrControllerStopped", err)
	}
	if ctrl.Ready() {
		t.Error("Ready = true after stop")
	}
	if st := ctrl.Status(); st.State != playback.StateStopped {
		t.Errorf("State = %q, want stopped", st.State)
	}
	if err := ctrl.Run(context.Background()); err == nil {
		t.Error("second Run succeeded")
	}
}
