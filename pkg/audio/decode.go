package audio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/flac"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/vorbis"
	"github.com/gopxl/beep/v2/wav"
)

// ErrDecode marks a track that could not be opened or decoded. Errors
// returned by [Decoder.Open] and [ReadFrames] wrap it.
var ErrDecode = errors.New("audio: decode failed")

// SupportedExtensions lists the file extensions [FileDecoder] can open.
var SupportedExtensions = []string{".wav", ".mp3", ".flac", ".ogg"}

// Decoder opens a track and returns a stream of floating-point frames at the
// track's native format. The caller must Close the returned stream.
type Decoder interface {
	Open(path string) (beep.StreamCloser, Format, error)
}

// FileDecoder decodes local files with the beep codecs, selected by file
// extension. The zero value is ready to use.
type FileDecoder struct{}

var _ Decoder = FileDecoder{}

// Open implements [Decoder].
func (FileDecoder) Open(path string) (beep.StreamCloser, Format, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if !slices.Contains(SupportedExtensions, ext) {
		return nil, Format{}, fmt.Errorf("%w: %q: unsupported extension %q", ErrDecode, path, ext)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, Format{}, fmt.Errorf("%w: open %q: %v", ErrDecode, path, err)
	}

	var (
		s      beep.StreamSeekCloser
		format beep.Format
	)
	switch ext {
	case ".wav":
		s, format, err = wav.Decode(f)
	case ".mp3":
		s, format, err = mp3.Decode(f)
	case ".flac":
		s, format, err = flac.Decode(f)
	case ".ogg":
		s, format, err = vorbis.Decode(f)
	}
	if err != nil {
		_ = f.Close()
		return nil, Format{}, fmt.Errorf("%w: %q: %v", ErrDecode, path, err)
	}

	return &fileStream{StreamSeekCloser: s, file: f}, Format{
		SampleRate: int(format.SampleRate),
		Channels:   format.NumChannels,
	}, nil
}

// fileStream closes both the codec and the underlying file. Some beep
// decoders close their reader themselves, so a second close is tolerated.
type fileStream struct {
	beep.StreamSeekCloser
	file *os.File
}

func (s *fileStream) Close() error {
	err := s.StreamSeekCloser.Close()
	if ferr := s.file.Close(); ferr != nil && !errors.Is(ferr, os.ErrClosed) && err == nil {
		err = ferr
	}
	return err
}

// ReadFrames fills buf from s, calling Stream repeatedly until buf is full or
// s is drained. It returns the number of frames read. When s is drained and
// no frames were read it returns io.EOF. A streamer error is wrapped with
// [ErrDecode].
func ReadFrames(s beep.Streamer, buf [][2]float64) (int, error) {
	n := 0
	for n < len(buf) {
		got, ok := s.Stream(buf[n:])
		n += got
		if !ok || got == 0 {
			if err := s.Err(); err != nil {
				return n, fmt.Errorf("%w: %v", ErrDecode, err)
			}
			if n == 0 {
				return 0, io.EOF
			}
			return n, nil
		}
	}
	return n, nil
}
