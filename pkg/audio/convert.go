package audio

import "encoding/binary"

// pcmScale maps a float sample in [-1, 1] to the int16 range.
const pcmScale = 32767

// SampleToInt16 converts one floating-point sample to 16-bit PCM. Values
// outside [-1, 1] are clamped; the scaled value is truncated toward zero.
func SampleToInt16(s float64) int16 {
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	return int16(s * pcmScale)
}

// EncodePCM16 converts a window of stereo-pair frames to interleaved signed
// 16-bit little-endian PCM. For mono (channels == 1) only the left value of
// each frame is used; for stereo both values are written as L, R.
func EncodePCM16(frames [][2]float64, channels int) []byte {
	if channels != 1 {
		channels = 2
	}
	out := make([]byte, len(frames)*channels*BytesPerSample)
	i := 0
	for _, fr := range frames {
		for ch := range channels {
			binary.LittleEndian.PutUint16(out[i:], uint16(SampleToInt16(fr[ch])))
			i += BytesPerSample
		}
	}
	return out
}

// DecodePCM16 converts little-endian 16-bit PCM back to int16 samples. A
// trailing odd byte is ignored.
func DecodePCM16(pcm []byte) []int16 {
	samples := make([]int16, len(pcm)/BytesPerSample)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*BytesPerSample:]))
	}
	return samples
}
