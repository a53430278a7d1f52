// Package audio defines the streaming codec contract used by relay sessions
// together with the PCM helpers shared by every codec implementation.
//
// PCM inside the relay is always mono float32 in [-1, 1] at the model's sample
// rate. A [Codec] turns that into the bytes a client speaks and back again.
// Codec implementations live in sub-packages (audio/opusstream, audio/rawpcm).
//
// This package lives under pkg/ because tools outside the server (load
// generators, test clients) reuse the codecs directly.
package audio

import "errors"

// ErrMalformed is wrapped by decoders when an inbound packet or page cannot be
// parsed. The decoder stays usable after returning it.
var ErrMalformed = errors.New("audio: malformed input")

// StreamDecoder turns a stream of encoded bytes into PCM. Append accepts
// arbitrary slices of the stream; partial packets are buffered until the rest
// arrives. Neither method blocks.
//
// Implementations are not safe for concurrent use.
type StreamDecoder interface {
	// Append feeds encoded bytes into the decoder. A returned error describes
	// the offending input only; buffered state for later input is kept.
	Append(b []byte) error

	// ReadPCM returns all PCM decoded since the previous call, or nil.
	ReadPCM() []float32
}

// StreamEncoder turns PCM into a stream of encoded bytes. PCM that does not
// fill a whole codec frame is held until more arrives. Neither method blocks.
//
// Implementations are not safe for concurrent use.
type StreamEncoder interface {
	// AppendPCM feeds samples into the encoder.
	AppendPCM(pcm []float32) error

	// ReadBytes returns all bytes encoded since the previous call, or nil.
	ReadBytes() []byte
}

// Codec creates session-scoped decoder/encoder pairs for one wire format.
type Codec interface {
	// Name is the identifier used in configuration (e.g. "opus").
	Name() string

	// NewDecoder returns a decoder producing mono PCM at sampleRate.
	NewDecoder(sampleRate int) (StreamDecoder, error)

	// NewEncoder returns an encoder consuming mono PCM at sampleRate.
	NewEncoder(sampleRate int) (StreamEncoder, error)
}
