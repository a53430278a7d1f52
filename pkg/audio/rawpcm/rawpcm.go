// Package rawpcm implements [audio.Codec] for headerless little-endian int16
// mono PCM. It is the format of choice for command-line tools and tests that
// do not want to pull in a lossy codec.
package rawpcm

import "github.com/MrWong99/voxrelay/pkg/audio"

// Name is the configuration identifier for this codec.
const Name = "pcm16"

// Codec produces raw PCM16 decoder/encoder pairs.
type Codec struct{}

var _ audio.Codec = Codec{}

// Name implements [audio.Codec].
func (Codec) Name() string { return Name }

// NewDecoder implements [audio.Codec]. The sample rate is implied by the
// stream and is not checked.
func (Codec) NewDecoder(int) (audio.StreamDecoder, error) { return &Decoder{}, nil }

// NewEncoder implements [audio.Codec].
func (Codec) NewEncoder(int) (audio.StreamEncoder, error) { return &Encoder{}, nil }

// Decoder converts PCM16 bytes to float samples. A sample split across two
// Append calls is reassembled.
type Decoder struct {
	carry   []byte
	pending []float32
}

// Append implements [audio.StreamDecoder]. It never fails.
func (d *Decoder) Append(b []byte) error {
	if len(d.carry) > 0 {
		b = append(d.carry, b...)
		d.carry = nil
	}
	even := len(b) &^ 1
	d.pending = append(d.pending, audio.PCM16ToFloat32(b[:even])...)
	if even < len(b) {
		d.carry = []byte{b[even]}
	}
	return nil
}

// ReadPCM implements [audio.StreamDecoder].
func (d *Decoder) ReadPCM() []float32 {
	out := d.pending
	d.pending = nil
	return out
}

// Encoder converts float samples to PCM16 bytes.
type Encoder struct {
	pending []byte
}

// AppendPCM implements [audio.StreamEncoder]. It never fails.
func (e *Encoder) AppendPCM(pcm []float32) error {
	e.pending = append(e.pending, audio.Float32ToPCM16(pcm)...)
	return nil
}

// ReadBytes implements [audio.StreamEncoder].
func (e *Encoder) ReadBytes() []byte {
	out := e.pending
	e.pending = nil
	return out
}
