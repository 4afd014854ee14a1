// Package mock provides in-memory implementations of [audio.Decoder] and the
// beep stream it returns, for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	dec := &mock.Decoder{
//	    Tracks: map[string]mock.Track{
//	        "/music/a.wav": {Format: audio.Format{SampleRate: 8000, Channels: 1}, Frames: 24000},
//	    },
//	}
//	s, format, err := dec.Open("/music/a.wav")
package mock

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/wavecast/pkg/audio"
	"github.com/gopxl/beep/v2"
)

// ─── Decoder ─────────────────────────────────────────────────────────────────

// Track describes the synthetic audio returned for one path.
type Track struct {
	// Format is reported by Open.
	Format audio.Format

	// Frames is the total number of frames the stream yields before draining.
	Frames int

	// Value is the sample value written into every frame (both channels).
	Value float64

	// StreamErr, when non-nil, is reported by the stream's Err after
	// FailAfter frames have been streamed.
	StreamErr error

	// FailAfter is the frame offset at which StreamErr is raised.
	FailAfter int
}

// OpenCall records the arguments of a single [Decoder.Open] invocation.
type OpenCall struct {
	// Path is the path argument passed to Open.
	Path string
}

// Decoder is a mock implementation of [audio.Decoder].
type Decoder struct {
	mu sync.Mutex

	// Tracks maps paths to synthetic tracks. Unknown paths fail with an error
	// wrapping [audio.ErrDecode].
	Tracks map[string]Track

	// OpenCalls records all Open invocations in order.
	OpenCalls []OpenCall

	// Streams records every stream handed out, in order of Open calls.
	Streams []*Stream
}

// Open implements [audio.Decoder].
func (d *Decoder) Open(path string) (beep.StreamCloser, audio.Format, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.OpenCalls = append(d.OpenCalls, OpenCall{Path: path})
	tr, ok := d.Tracks[path]
	if !ok {
		return nil, audio.Format{}, fmt.Errorf("%w: %q: no such mock track", audio.ErrDecode, path)
	}
	s := &Stream{track: tr}
	d.Streams = append(d.Streams, s)
	return s, tr.Format, nil
}

// Opened returns the paths passed to Open, in call order.
func (d *Decoder) Opened() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	paths := make([]string, len(d.OpenCalls))
	for i, c := range d.OpenCalls {
		paths[i] = c.Path
	}
	return paths
}

// StreamAt returns the i-th stream handed out by Open, or nil.
func (d *Decoder) StreamAt(i int) *Stream {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i < 0 || i >= len(d.Streams) {
		return nil
	}
	return d.Streams[i]
}

// ─── Stream ──────────────────────────────────────────────────────────────────

// Stream is a synthetic [beep.StreamCloser].
type Stream struct {
	mu     sync.Mutex
	track  Track
	pos    int
	err    error
	closed bool

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// ErrStreamClosed is reported by Err when Stream is called after Close.
var ErrStreamClosed = errors.New("mock: stream closed")

// Stream implements [beep.Streamer].
func (s *Stream) Stream(samples [][2]float64) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		s.err = ErrStreamClosed
		return 0, false
	}
	limit := s.track.Frames
	if s.track.StreamErr != nil && s.track.FailAfter < limit {
		limit = s.track.FailAfter
	}
	if s.pos >= limit {
		if s.track.StreamErr != nil && s.pos < s.track.Frames {
			s.err = s.track.StreamErr
		}
		return 0, false
	}
	n := min(len(samples), limit-s.pos)
	for i := range n {
		samples[i] = [2]float64{s.track.Value, s.track.Value}
	}
	s.pos += n
	return n, true
}

// Err implements [beep.Streamer].
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close implements [beep.StreamCloser].
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	s.closed = true
	return nil
}

// Closed reports whether Close has been called at least once.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
