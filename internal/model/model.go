// Package model defines the boundary between the relay and the streaming
// speech model it drives.
//
// The model is a process-wide singleton with internal streaming state, so it
// can serve only one session at a time. [Guard] enforces that: the only way
// to reach a [Resource] from session code is through a [Lease].
//
// Backends live in sub-packages: model/loopback (an in-process echo used in
// development) and model/onnx (ONNX Runtime graphs).
package model

import (
	"errors"
	"fmt"
)

// Resource is a streaming speech model. Implementations are not safe for
// concurrent use; callers serialise access through a [Guard].
type Resource interface {
	// SampleRate is the PCM rate the model consumes and produces.
	SampleRate() int

	// FrameRate is the number of model frames per second of audio.
	FrameRate() float64

	// ResetStreaming clears all per-session streaming state. It is idempotent
	// and must precede the first Encode of a session.
	ResetStreaming() error

	// PrimeStreaming allocates streaming state for batchSize parallel streams.
	// It is called once at startup.
	PrimeStreaming(batchSize int) error

	// Encode turns one frame of PCM into one or more code columns, in order.
	Encode(frame []float32) ([][]int32, error)

	// Step advances the model by one code column. ready is false while the
	// model is still filling its lookahead; no output exists for that column.
	Step(codes []int32) (tokens TokenFrame, ready bool, err error)

	// Decode turns the audio channels of a TokenFrame into PCM.
	Decode(audioTokens []int32) ([]float32, error)

	// Synchronize blocks until all queued work on the compute device is done.
	Synchronize() error
}

// TokenFrame is the model output for one step: the text token followed by one
// token per audio codebook.
type TokenFrame []int32

// ErrMalformedFrame is returned for a ready TokenFrame that lacks the text
// token or every audio token.
var ErrMalformedFrame = errors.New("model: malformed token frame")

// Check reports whether t holds a text token and at least one audio token.
// Text and Audio may only be called on a frame that passed Check.
func (t TokenFrame) Check() error {
	if len(t) < 2 {
		return fmt.Errorf("%w: got %d tokens, want at least 2", ErrMalformedFrame, len(t))
	}
	return nil
}

// Text returns the text-channel token.
func (t TokenFrame) Text() int32 { return t[0] }

// Audio returns the audio-channel tokens.
func (t TokenFrame) Audio() []int32 { return t[1:] }
