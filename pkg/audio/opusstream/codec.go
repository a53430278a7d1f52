// Package opusstream implements [audio.Codec] for Ogg-encapsulated Opus, the
// format produced and consumed by browser clients.
//
// Inbound streams may slice pages arbitrarily and pack several Opus packets
// into one page. Outbound streams start with the OpusHead and OpusTags pages
// and then carry one Opus packet per page.
package opusstream

import "github.com/MrWong99/voxrelay/pkg/audio"

// Name is the configuration identifier for this codec.
const Name = "opus"

// Opus streams on the relay are always mono.
const channels = 1

// Codec produces Ogg Opus decoder/encoder pairs.
type Codec struct {
	// Bitrate is the encoder target in bits per second. Zero keeps the
	// libopus default.
	Bitrate int

	// FrameMs is the encoder frame duration. Zero means 20ms.
	FrameMs int
}

var _ audio.Codec = Codec{}

// Name implements [audio.Codec].
func (Codec) Name() string { return Name }

// NewDecoder implements [audio.Codec].
func (c Codec) NewDecoder(sampleRate int) (audio.StreamDecoder, error) {
	d, err := NewDecoder(sampleRate)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// NewEncoder implements [audio.Codec].
func (c Codec) NewEncoder(sampleRate int) (audio.StreamEncoder, error) {
	var opts []EncoderOption
	if c.Bitrate > 0 {
		opts = append(opts, WithBitrate(c.Bitrate))
	}
	if c.FrameMs > 0 {
		opts = append(opts, WithFrameDuration(c.FrameMs))
	}
	e, err := NewEncoder(sampleRate, opts...)
	if err != nil {
		return nil, err
	}
	return e, nil
}
