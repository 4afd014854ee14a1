// Package audio defines the audio types, codecs, and decoders used by the
// wavecast broadcast pipeline.
//
// The pipeline is deliberately simple:
//
//   - a [Decoder] opens a track and yields floating-point frames at the
//     track's native sample rate and channel count;
//   - [EncodePCM16] converts a window of frames to signed 16-bit little-endian
//     PCM;
//   - [EncodeWAV] wraps the PCM in a 44-byte RIFF/WAVE header so that every
//     [Chunk] is a complete, independently playable WAV file.
//
// This package lives under pkg/ because browser and CLI clients written in Go
// can reuse [ParseWAVHeader] to inspect the chunks they receive.
package audio

import (
	"fmt"
	"time"
)

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns a human-readable description, e.g. "44100Hz stereo".
func (f Format) String() string {
	ch := "mono"
	if f.Channels == 2 {
		ch = "stereo"
	} else if f.Channels > 2 {
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}

// ByteRate returns the number of PCM bytes per second at 16 bits per sample.
func (f Format) ByteRate() int {
	return f.SampleRate * f.Channels * BytesPerSample
}

// BlockAlign returns the size in bytes of one interleaved frame.
func (f Format) BlockAlign() int {
	return f.Channels * BytesPerSample
}

// Chunk is one fixed-duration slice of a track, ready to be sent to clients.
// Payload is a complete WAV file (header followed by PCM data). A Chunk is
// immutable once produced; consumers must not modify Payload.
type Chunk struct {
	// Payload is the 44-byte WAV header followed by 16-bit PCM samples.
	Payload []byte

	// SampleRate in Hz, copied from the decoded track.
	SampleRate int

	// Channels: 1 for mono, 2 for stereo.
	Channels int

	// Seq is the zero-based position of this chunk within its track.
	Seq int

	// Duration is the playback length of the PCM data in this chunk.
	Duration time.Duration
}

// Format returns the chunk's audio format.
func (c Chunk) Format() Format {
	return Format{SampleRate: c.SampleRate, Channels: c.Channels}
}

// DataSize returns the number of PCM bytes in the chunk.
func (c Chunk) DataSize() int {
	if len(c.Payload) < HeaderSize {
		return 0
	}
	return len(c.Payload) - HeaderSize
}
