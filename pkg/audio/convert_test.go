package audio_test

import (
	"encoding/binary"
	"testing"

	"github.com/MrWong99/voxrelay/pkg/audio"
)

// samplesToBytes converts a slice of int16 samples to little-endian byte representation.
func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

func TestPCM16ToFloat32(t *testing.T) {
	t.Parallel()
	got := audio.PCM16ToFloat32(samplesToBytes([]int16{0, 16384, -32768, -16384}))
	want := []float32{0, 0.5, -1, -0.5}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestPCM16ToFloat32_OddByte(t *testing.T) {
	t.Parallel()
	got := audio.PCM16ToFloat32([]byte{0, 0x40, 0xFF})
	if len(got) != 1 {
		t.Fatalf("length: got %d, want 1", len(got))
	}
}

func TestFloat32ToPCM16_Clamping(t *testing.T) {
	t.Parallel()
	b := audio.Float32ToPCM16([]float32{2, -2, 1, -1, 0})
	want := []int16{32767, -32768, 32767, -32768, 0}
	for i, w := range want {
		got := int16(binary.LittleEndian.Uint16(b[i*2:]))
		if got != w {
			t.Errorf("sample %d: got %d, want %d", i, got, w)
		}
	}
}

func TestInt16Float32RoundTrip(t *testing.T) {
	t.Parallel()
	src := []int16{-32768, -1000, -1, 0, 1, 1000, 32767}
	f := audio.Int16ToFloat32(nil, src)
	back := audio.Float32ToInt16(nil, f)
	for i := range src {
		if back[i] != src[i] {
			t.Errorf("sample %d: got %d, want %d", i, back[i], src[i])
		}
	}
}

func TestFrameSize(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		rate      int
		frameRate float64
		want      int
		wantErr   bool
	}{
		{name: "24kHz at 12.5fps", rate: 24000, frameRate: 12.5, want: 1920},
		{name: "48kHz at 50fps", rate: 48000, frameRate: 50, want: 960},
		{name: "non-integral", rate: 24000, frameRate: 7, wantErr: true},
		{name: "zero rate", rate: 0, frameRate: 12.5, wantErr: true},
		{name: "zero frame rate", rate: 24000, frameRate: 0, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := audio.FrameSize(tt.rate, tt.frameRate)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err: got %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("FrameSize: got %d, want %d", got, tt.want)
			}
		})
	}
}
