package opusstream_test

import (
	"math"
	"testing"

	"github.com/MrWong99/voxrelay/pkg/audio/opusstream"
)

func sine(n, rate int, freq float64) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(0.3 * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
	}
	return out
}

func TestEncoder_HeadersFirst(t *testing.T) {
	t.Parallel()
	enc, err := opusstream.NewEncoder(24000)
	if err != nil {
		t.Fatalf("NewEncoder: %v", err)
	}
	hdr := enc.ReadBytes()
	if len(hdr) < 4 || string(hdr[:4]) != "OggS" {
		t.Fatalf("first bytes: got %q, want an Ogg page", hdr)
	}
	if enc.ReadBytes() != nil {
		t.Error("ReadBytes did not drain")
	}
}

func TestEncoder_BuffersPartialFrames(t *testing.T) {
	t.Parallel()
	enc, err := opusstream.NewEncoder(24000)
	if err != nil {
		t.Fatalf("NewEncoder: %v", err)
	}
	enc.ReadBytes()

	// 20ms at 24kHz is 480 samples.
	if err := enc.AppendPCM(sine(479, 24000, 440)); err != nil {
		t.Fatalf("AppendPCM: %v", err)
	}
	if b := enc.ReadBytes(); b != nil {
		t.Errorf("got %d bytes before a full frame, want none", len(b))
	}
	if err := enc.AppendPCM(sine(1, 24000, 440)); err != nil {
		t.Fatalf("AppendPCM: %v", err)
	}
	if enc.Packets() != 1 {
		t.Errorf("Packets: got %d, want 1", enc.Packets())
	}
	if b := enc.ReadBytes(); len(b) == 0 {
		t.Error("no bytes after a full frame")
	}
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()
	codec := opusstream.Codec{Bitrate: 32000}
	enc, err := codec.NewEncoder(24000)
	if err != nil {
		t.Fatalf("NewEncoder: %v", err)
	}
	dec, err := codec.NewDecoder(24000)
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}

	const frames = 5
	if err := enc.AppendPCM(sine(frames*480, 24000, 440)); err != nil {
		t.Fatalf("AppendPCM: %v", err)
	}
	stream := enc.ReadBytes()

	// Feed the stream in uneven slices, as a network would.
	var got int
	for off := 0; off < len(stream); off += 37 {
		end := min(off+37, len(stream))
		if err := dec.Append(stream[off:end]); err != nil {
			t.Fatalf("Append at %d: %v", off, err)
		}
		got += len(dec.ReadPCM())
	}
	if got != frames*480 {
		t.Errorf("decoded samples: got %d, want %d", got, frames*480)
	}
}

func TestNewEncoder_InvalidFrameDuration(t *testing.T) {
	t.Parallel()
	if _, err := opusstream.NewEncoder(24000, opusstream.WithFrameDuration(15)); err == nil {
		t.Error("expected error for 15ms frames")
	}
}
