package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// HeaderSize is the length of the canonical RIFF/WAVE header.
	HeaderSize = 44

	// BitsPerSample is fixed: every chunk carries signed 16-bit PCM.
	BitsPerSample = 16

	// BytesPerSample is BitsPerSample / 8.
	BytesPerSample = BitsPerSample / 8

	// formatPCM is the WAVE format tag for uncompressed integer PCM.
	formatPCM = 1

	// fmtChunkSize is the size of the "fmt " sub-chunk body for PCM.
	fmtChunkSize = 16
)

// ErrInvalidHeader is returned by [ParseWAVHeader] for data that does not
// start with a canonical 16-bit PCM WAV header.
var ErrInvalidHeader = errors.New("audio: invalid wav header")

// WAVHeader builds the 44-byte header for dataSize bytes of 16-bit PCM in
// format f. All multi-byte fields are little-endian.
//
//	offset  field
//	0       "RIFF"
//	4       36 + dataSize
//	8       "WAVE"
//	12      "fmt "
//	16      16
//	20      1 (PCM)
//	22      channels
//	24      sample rate
//	28      byte rate
//	32      block align
//	34      16 (bits per sample)
//	36      "data"
//	40      dataSize
func WAVHeader(f Format, dataSize int) []byte {
	h := make([]byte, HeaderSize)
	putWAVHeader(h, f, dataSize)
	return h
}

func putWAVHeader(h []byte, f Format, dataSize int) {
	le := binary.LittleEndian
	copy(h[0:4], "RIFF")
	le.PutUint32(h[4:8], uint32(HeaderSize-8+dataSize))
	copy(h[8:12], "WAVE")
	copy(h[12:16], "fmt ")
	le.PutUint32(h[16:20], fmtChunkSize)
	le.PutUint16(h[20:22], formatPCM)
	le.PutUint16(h[22:24], uint16(f.Channels))
	le.PutUint32(h[24:28], uint32(f.SampleRate))
	le.PutUint32(h[28:32], uint32(f.ByteRate()))
	le.PutUint16(h[32:34], uint16(f.BlockAlign()))
	le.PutUint16(h[34:36], BitsPerSample)
	copy(h[36:40], "data")
	le.PutUint32(h[40:44], uint32(dataSize))
}

// EncodeWAV returns a complete WAV file: the header for f followed by pcm.
// The returned slice is freshly allocated and never aliases pcm.
func EncodeWAV(f Format, pcm []byte) []byte {
	out := make([]byte, HeaderSize+len(pcm))
	putWAVHeader(out, f, len(pcm))
	copy(out[HeaderSize:], pcm)
	return out
}

// WAVInfo is the decoded content of a WAV header.
type WAVInfo struct {
	Format     Format
	TotalSize  uint32
	ByteRate   uint32
	BlockAlign uint16
	DataSize   uint32
}

// ParseWAVHeader decodes the header at the start of b. Only the canonical
// 44-byte layout produced by [WAVHeader] is accepted.
func ParseWAVHeader(b []byte) (WAVInfo, error) {
	if len(b) < HeaderSize {
		return WAVInfo{}, fmt.Errorf("%w: %d bytes, want at least %d", ErrInvalidHeader, len(b), HeaderSize)
	}
	if string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" || string(b[12:16]) != "fmt " || string(b[36:40]) != "data" {
		return WAVInfo{}, fmt.Errorf("%w: bad magic", ErrInvalidHeader)
	}
	le := binary.LittleEndian
	if tag := le.Uint16(b[20:22]); tag != formatPCM {
		return WAVInfo{}, fmt.Errorf("%w: format tag %d", ErrInvalidHeader, tag)
	}
	if bits := le.Uint16(b[34:36]); bits != BitsPerSample {
		return WAVInfo{}, fmt.Errorf("%w: %d bits per sample", ErrInvalidHeader, bits)
	}
	return WAVInfo{
		Format: Format{
			SampleRate: int(le.Uint32(b[24:28])),
			Channels:   int(le.Uint16(b[22:24])),
		},
		TotalSize:  le.Uint32(b[4:8]),
		ByteRate:   le.Uint32(b[28:32]),
		BlockAlign: le.Uint16(b[32:34]),
		DataSize:   le.Uint32(b[40:44]),
	}, nil
}
