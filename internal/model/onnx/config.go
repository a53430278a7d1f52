// Package onnx runs a streaming speech model exported as three ONNX graphs
// through ONNX Runtime:
//
//   - encoder: pcm [1,1,frame] float32 + state → codes [1,codebooks,1] int64 + state
//   - lm:      codes [1,codebooks] int64 + state → tokens [1,1+codebooks] int64 + state
//   - decoder: tokens [1,codebooks,1] int64 + state → pcm [1,1,frame] float32 + state
//
// Streaming state is carried as one flat float32 tensor per graph, named
// "state" on input and "state_out" on output. A graph with StateSize 0 is
// treated as stateless. The LM emits nothing during its first DelaySteps
// steps, which covers the acoustic delay between text and audio codebooks.
//
// The backend needs cgo and the onnxruntime shared library. Builds without
// cgo get a stub whose [New] always fails.
package onnx

import (
	"errors"
	"fmt"
)

// ErrUnavailable is returned by [New] in builds without ONNX Runtime support.
var ErrUnavailable = errors.New("onnx: backend not available in this build")

// GraphConfig locates one graph and sizes its streaming state.
type GraphConfig struct {
	Path      string
	StateSize int
}

// Config configures an ONNX [Model].
type Config struct {
	// LibraryPath is the onnxruntime shared library. Empty uses the
	// platform default search path.
	LibraryPath string

	Encoder GraphConfig
	LM      GraphConfig
	Decoder GraphConfig

	SampleRate int
	FrameRate  float64

	// Codebooks is the number of audio codebooks per step.
	Codebooks int

	// DelaySteps is the number of initial LM steps that produce no output.
	DelaySteps int
}

func (c Config) validate() error {
	var errs []error
	for name, g := range map[string]GraphConfig{"encoder": c.Encoder, "lm": c.LM, "decoder": c.Decoder} {
		if g.Path == "" {
			errs = append(errs, fmt.Errorf("onnx: %s path is required", name))
		}
		if g.StateSize < 0 {
			errs = append(errs, fmt.Errorf("onnx: %s state_size must not be negative", name))
		}
	}
	if c.Codebooks <= 0 {
		errs = append(errs, fmt.Errorf("onnx: codebooks must be positive, got %d", c.Codebooks))
	}
	if c.DelaySteps < 0 {
		errs = append(errs, fmt.Errorf("onnx: delay_steps must not be negative, got %d", c.DelaySteps))
	}
	return errors.Join(errs...)
}
