package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/wavecast/internal/observe"
	"github.com/MrWong99/wavecast/pkg/audio"
	"github.com/jonboulle/clockwork"
)

// DefaultChunkDuration is the playback length of one chunk.
const DefaultChunkDuration = 3 * time.Second

// ErrProducerConsumed is reported by [Producer.Err] when [Producer.Chunks] is
// iterated more than once.
var ErrProducerConsumed = errors.New("playback: producer already consumed")

// ProducerConfig holds the collaborators of a [Producer].
type ProducerConfig struct {
	// Decoder opens the track. Required.
	Decoder audio.Decoder

	// Clock paces chunk production. Defaults to the real clock.
	Clock clockwork.Clock

	// ChunkDuration is the playback length of each chunk. Defaults to
	// [DefaultChunkDuration].
	ChunkDuration time.Duration

	// Metrics receives chunk and decode error counts. Defaults to
	// [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Producer decodes one track into a lazy, paced, one-shot sequence of WAV
// chunks.
type Producer struct {
	name string
	path string
	cfg  ProducerConfig

	consumed atomic.Bool

	mu  sync.Mutex
	err error
}

// NewProducer creates a producer for the track called name at path.
func NewProducer(name, path string, cfg ProducerConfig) *Producer {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.ChunkDuration <= 0 {
		cfg.ChunkDuration = DefaultChunkDuration
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Producer{name: name, path: path, cfg: cfg}
}

// Track returns the name of the track this producer plays.
func (p *Producer) Track() string { return p.name }

// Err returns the error that ended the sequence early, if any. It is only
// meaningful after iteration has finished.
func (p *Producer) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *Producer) setErr(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

// Chunks returns the chunk sequence. Each chunk holds chunkDuration worth of
// frames at the track's native rate (the last one may be shorter). After
// yielding a chunk the producer waits chunkDuration before continuing, and
// ctx is checked before every chunk; cancellation ends the sequence without
// error. The track is closed when the sequence ends for any reason.
//
// The sequence can be iterated once. Later iterations yield nothing and set
// [ErrProducerConsumed].
func (p *Producer) Chunks(ctx context.Context) iter.Seq[audio.Chunk] {
	return func(yield func(audio.Chunk) bool) {
		if !p.consumed.CompareAndSwap(false, true) {
			p.setErr(ErrProducerConsumed)
			return
		}
		if ctx.Err() != nil {
			return
		}

		s, format, err := p.cfg.Decoder.Open(p.path)
		if err != nil {
			p.fail(ctx, err)
			return
		}
		defer s.Close()

		if format.Channels > 2 {
			observe.Logger(ctx).Warn("track has more than two channels, downmixing to stereo",
				"track", p.name,
				"channels", format.Channels,
			)
		}
		format.Channels = min(max(format.Channels, 1), 2)
		frames := int(p.cfg.ChunkDuration.Seconds() * float64(format.SampleRate))
		if frames <= 0 {
			p.fail(ctx, fmt.Errorf("%w: %q: invalid sample rate %d", audio.ErrDecode, p.name, format.SampleRate))
			return
		}
		buf := make([][2]float64, frames)

		observe.Logger(ctx).Debug("producer started",
			"track", p.name,
			"format", format.String(),
			"frames_per_chunk", frames,
		)

		for seq := 0; ; seq++ {
			if ctx.Err() != nil {
				return
			}

			n, err := audio.ReadFrames(s, buf)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				p.fail(ctx, err)
				return
			}

			chunk := audio.Chunk{
				Payload:    audio.EncodeWAV(format, audio.EncodePCM16(buf[:n], format.Channels)),
				SampleRate: format.SampleRate,
				Channels:   format.Channels,
				Seq:        seq,
				Duration:   time.Duration(n) * time.Second / time.Duration(format.SampleRate),
			}
			p.cfg.Metrics.RecordChunk(ctx, p.name, len(chunk.Payload))

			if !yield(chunk) {
				return
			}

			if !p.pace(ctx) {
				return
			}
		}
	}
}

// pace waits one chunk duration. It returns false when ctx is cancelled
// first.
func (p *Producer) pace(ctx context.Context) bool {
	t := p.cfg.Clock.NewTimer(p.cfg.ChunkDuration)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.Chan():
		return true
	}
}

func (p *Producer) fail(ctx context.Context, err error) {
	if !errors.Is(err, audio.ErrDecode) {
		err = fmt.Errorf("%w: %v", audio.ErrDecode, err)
	}
	p.setErr(err)
	p.cfg.Metrics.RecordDecodeError(ctx, p.name)
	observe.Logger(ctx).Error("failed to decode track", "track", p.name, "err", err)
}
