package rawpcm_test

import (
	"testing"

	"github.com/MrWong99/voxrelay/pkg/audio/rawpcm"
)

func TestDecoder_SplitSample(t *testing.T) {
	t.Parallel()
	d := &rawpcm.Decoder{}

	// 0x4000 little-endian = 16384 = 0.5, delivered one byte at a time.
	if err := d.Append([]byte{0x00}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if got := d.ReadPCM(); len(got) != 0 {
		t.Fatalf("ReadPCM after half a sample: got %v, want empty", got)
	}
	if err := d.Append([]byte{0x40, 0x00, 0xC0}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	got := d.ReadPCM()
	want := []float32{0.5, -0.5}
	if len(got) != len(want) {
		t.Fatalf("length: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %v, want %v", i, got[i], want[i])
		}
	}
	if got := d.ReadPCM(); got != nil {
		t.Errorf("second ReadPCM: got %v, want nil", got)
	}
}

func TestEncoderDecoder(t *testing.T) {
	t.Parallel()
	c := rawpcm.Codec{}
	if c.Name() != "pcm16" {
		t.Errorf("Name: got %q, want %q", c.Name(), "pcm16")
	}
	enc, _ := c.NewEncoder(24000)
	dec, _ := c.NewDecoder(24000)

	in := []float32{0, 0.25, -0.25, 0.5}
	if err := enc.AppendPCM(in); err != nil {
		t.Fatalf("AppendPCM: %v", err)
	}
	b := enc.ReadBytes()
	if len(b) != 2*len(in) {
		t.Fatalf("encoded length: got %d, want %d", len(b), 2*len(in))
	}
	if enc.ReadBytes() != nil {
		t.Error("ReadBytes did not drain")
	}
	if err := dec.Append(b); err != nil {
		t.Fatalf("Append: %v", err)
	}
	out := dec.ReadPCM()
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("sample %d: got %v, want %v", i, out[i], in[i])
		}
	}
}
