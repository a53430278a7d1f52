package opusstream

import (
	"bytes"
	"fmt"
	"math/rand/v2"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3/pkg/media/oggwriter"
	"layeh.com/gopus"

	"github.com/MrWong99/voxrelay/pkg/audio"
)

const (
	// maxPacketBytes is the encode buffer size recommended by libopus.
	maxPacketBytes = 4000

	// granuleRate is the fixed clock of Ogg Opus granule positions.
	granuleRate = 48000

	opusPayloadType = 111
)

// Encoder turns mono PCM into an Ogg Opus byte stream. The stream headers
// are available from the first ReadBytes call.
type Encoder struct {
	enc         *gopus.Encoder
	frameSize   int
	granuleStep uint32

	ogg     *oggwriter.OggWriter
	out     bytes.Buffer
	pcm     []int16
	pkt     rtp.Packet
	written int
}

var _ audio.StreamEncoder = (*Encoder)(nil)

// EncoderOption configures an [Encoder].
type EncoderOption func(*encoderConfig)

type encoderConfig struct {
	bitrate int
	frameMs int
}

// WithBitrate sets the target bitrate in bits per second. Zero keeps the
// libopus default.
func WithBitrate(bps int) EncoderOption {
	return func(c *encoderConfig) { c.bitrate = bps }
}

// WithFrameDuration sets the Opus frame length in milliseconds. Valid values
// are 10, 20, 40 and 60. Default: 20.
func WithFrameDuration(ms int) EncoderOption {
	return func(c *encoderConfig) { c.frameMs = ms }
}

// NewEncoder creates an encoder consuming mono PCM at sampleRate.
func NewEncoder(sampleRate int, opts ...EncoderOption) (*Encoder, error) {
	cfg := encoderConfig{frameMs: 20}
	for _, o := range opts {
		o(&cfg)
	}
	switch cfg.frameMs {
	case 10, 20, 40, 60:
	default:
		return nil, fmt.Errorf("opusstream: unsupported frame duration %dms", cfg.frameMs)
	}

	enc, err := gopus.NewEncoder(sampleRate, channels, gopus.Audio)
	if err != nil {
		return nil, fmt.Errorf("opusstream: create opus encoder: %w", err)
	}
	if cfg.bitrate > 0 {
		enc.SetBitrate(cfg.bitrate)
	}

	e := &Encoder{
		enc:         enc,
		frameSize:   sampleRate * cfg.frameMs / 1000,
		granuleStep: uint32(granuleRate * cfg.frameMs / 1000),
	}
	e.ogg, err = oggwriter.NewWith(&e.out, uint32(sampleRate), channels)
	if err != nil {
		return nil, fmt.Errorf("opusstream: create ogg writer: %w", err)
	}
	e.pkt.Header = rtp.Header{
		Version:        2,
		PayloadType:    opusPayloadType,
		SequenceNumber: uint16(rand.Uint32()),
		Timestamp:      e.granuleStep,
		SSRC:           rand.Uint32(),
	}
	return e, nil
}

// AppendPCM implements [audio.StreamEncoder]. Each complete Opus frame is
// written to the stream as its own page.
func (e *Encoder) AppendPCM(pcm []float32) error {
	e.pcm = audio.Float32ToInt16(e.pcm, pcm)
	consumed := 0
	for len(e.pcm)-consumed >= e.frameSize {
		frame := e.pcm[consumed : consumed+e.frameSize]
		consumed += e.frameSize

		data, err := e.enc.Encode(frame, e.frameSize, maxPacketBytes)
		if err != nil {
			e.compact(consumed)
			return fmt.Errorf("opusstream: opus encode: %w", err)
		}
		e.pkt.Payload = data
		if err := e.ogg.WriteRTP(&e.pkt); err != nil {
			e.compact(consumed)
			return fmt.Errorf("opusstream: write ogg page: %w", err)
		}
		e.pkt.SequenceNumber++
		e.pkt.Timestamp += e.granuleStep
		e.written++
	}
	e.compact(consumed)
	return nil
}

func (e *Encoder) compact(consumed int) {
	n := copy(e.pcm, e.pcm[consumed:])
	e.pcm = e.pcm[:n]
}

// ReadBytes implements [audio.StreamEncoder].
func (e *Encoder) ReadBytes() []byte {
	if e.out.Len() == 0 {
		return nil
	}
	out := bytes.Clone(e.out.Bytes())
	e.out.Reset()
	return out
}

// Packets returns the number of audio packets encoded so far.
func (e *Encoder) Packets() int { return e.written }
