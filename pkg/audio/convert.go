package audio

import (
	"encoding/binary"
	"fmt"
)

// Int16ToFloat32 appends src, scaled to [-1, 1), to dst and returns the
// extended slice.
func Int16ToFloat32(dst []float32, src []int16) []float32 {
	for _, s := range src {
		dst = append(dst, float32(s)/32768)
	}
	return dst
}

// Float32ToInt16 appends src, scaled to the int16 range and clamped, to dst and returns the extended slice.
func Float32ToInt16(dst []int16, src []float32) []int16 {
	for _, s := range src {
		dst = append(dst, clampSample(s))
	}
	return dst
}

// PCM16ToFloat32 converts little-endian int16 PCM bytes to float samples. A
// trailing odd byte is ignored.
func PCM16ToFloat32(b []byte) []float32 {
	out := make([]float32, 0, len(b)/2)
	for i := 0; i+1 < len(b); i += 2 {
		out = append(out, float32(int16(binary.LittleEndian.Uint16(b[i:])))/32768)
	}
	return out
}

// Float32ToPCM16 converts float samples to little-endian int16 PCM bytes.
func Float32ToPCM16(pcm []float32) []byte {
	out := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(clampSample(s)))
	}
	return out
}

// Silence returns n zero samples.
func Silence(n int) []float32 {
	return make([]float32, n)
}

// FrameSize returns the number of samples in one model frame. The rates must
// divide evenly; a model whose frame rate does not divide its sample rate
// cannot be served.
func FrameSize(sampleRate int, frameRate float64) (int, error) {
	if sampleRate <= 0 || frameRate <= 0 {
		return 0, fmt.Errorf("audio: invalid rates %d Hz / %g fps", sampleRate, frameRate)
	}
	size := float64(sampleRate) / frameRate
	if size != float64(int(size)) {
		return 0, fmt.Errorf("audio: sample rate %d is not a whole multiple of frame rate %g", sampleRate, frameRate)
	}
	return int(size), nil
}

func clampSample(s float32) int16 {
	v := s * 32768
	switch {
	case v > 32767:
		return 32767
	case v < -32768:
		return -32768
	}
	return int16(v)
}
