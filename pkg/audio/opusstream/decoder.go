package opusstream

import (
	"errors"
	"fmt"

	"layeh.com/gopus"

	"github.com/MrWong99/voxrelay/pkg/audio"
)

// maxFrameMs is the longest duration a single Opus packet can carry.
const maxFrameMs = 120

// Decoder turns an Ogg Opus byte stream into mono PCM.
type Decoder struct {
	demux    demuxer
	dec      *gopus.Decoder
	maxFrame int
	pending  []float32
}

var _ audio.StreamDecoder = (*Decoder)(nil)

// NewDecoder creates a decoder producing mono PCM at sampleRate, which must be
// one of the Opus rates (8000, 12000, 16000, 24000, 48000).
func NewDecoder(sampleRate int) (*Decoder, error) {
	dec, err := gopus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("opusstream: create opus decoder: %w", err)
	}
	return &Decoder{
		dec:      dec,
		maxFrame: sampleRate * maxFrameMs / 1000,
	}, nil
}

// Append implements [audio.StreamDecoder]. Header packets are skipped.
// Undecodable packets are reported but do not stop the remaining ones.
func (d *Decoder) Append(b []byte) error {
	d.demux.write(b)
	packets, err := d.demux.packets()

	var errs []error
	if err != nil {
		errs = append(errs, err)
	}
	for _, pkt := range packets {
		if len(pkt) == 0 || isOpusHeader(pkt) {
			continue
		}
		pcm, err := d.dec.Decode(pkt, d.maxFrame, false)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: opus decode: %v", audio.ErrMalformed, err))
			continue
		}
		d.pending = audio.Int16ToFloat32(d.pending, pcm)
	}
	return errors.Join(errs...)
}

// ReadPCM implements [audio.StreamDecoder].
func (d *Decoder) ReadPCM() []float32 {
	out := d.pending
	d.pending = nil
	return out
}
