// Package mock provides a test double for the model.Resource interface.
//
// Resource records every call and lets tests script Step output:
//
//	res := &mock.Resource{
//	    Rate: 1000, FPS: 12.5,
//	    StepFunc: func(n int, codes []int32) (model.TokenFrame, bool, error) {
//	        return model.TokenFrame{100 + int32(n), 1}, true, nil
//	    },
//	}
package mock

import (
	"slices"
	"sync"

	"github.com/MrWong99/voxrelay/internal/model"
)

// Resource is a mock implementation of model.Resource.
//
// Encode returns ColumnsPerFrame columns for each frame; every column holds
// the zero-based index of the frame it came from, so StepFunc can tie its
// output to input order.
type Resource struct {
	mu sync.Mutex

	// Rate and FPS are returned by SampleRate and FrameRate.
	Rate int
	FPS  float64

	// ColumnsPerFrame is the number of columns Encode returns. Default: 1.
	ColumnsPerFrame int

	// StepFunc produces the result of the n-th Step call (zero-based). When
	// nil, every step is ready with text token 0 and one audio token.
	StepFunc func(n int, codes []int32) (model.TokenFrame, bool, error)

	// DecodeSamples is the length of the PCM returned by Decode.
	DecodeSamples int

	// Error injection. Each non-nil error is returned by the matching method.
	ResetErr  error
	PrimeErr  error
	EncodeErr error
	DecodeErr error
	SyncErr   error

	// OnEncode, if set, is called at the start of every Encode.
	OnEncode func(frame []float32)

	// Recorded calls.
	ResetCalls  int
	PrimeCalls  []int
	EncodeCalls [][]float32
	StepCalls   [][]int32
	DecodeCalls [][]int32
	SyncCalls   int
}

var _ model.Resource = (*Resource)(nil)

// SampleRate implements model.Resource.
func (r *Resource) SampleRate() int { return r.Rate }

// FrameRate implements model.Resource.
func (r *Resource) FrameRate() float64 { return r.FPS }

// ResetStreaming implements model.Resource.
func (r *Resource) ResetStreaming() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ResetCalls++
	return r.ResetErr
}

// PrimeStreaming implements model.Resource.
func (r *Resource) PrimeStreaming(batchSize int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.PrimeCalls = append(r.PrimeCalls, batchSize)
	return r.PrimeErr
}

// Encode implements model.Resource.
func (r *Resource) Encode(frame []float32) ([][]int32, error) {
	if r.OnEncode != nil {
		r.OnEncode(frame)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := int32(len(r.EncodeCalls))
	r.EncodeCalls = append(r.EncodeCalls, slices.Clone(frame))
	if r.EncodeErr != nil {
		return nil, r.EncodeErr
	}
	n := max(r.ColumnsPerFrame, 1)
	cols := make([][]int32, n)
	for i := range cols {
		cols[i] = []int32{idx}
	}
	return cols, nil
}

// Step implements model.Resource.
func (r *Resource) Step(codes []int32) (model.TokenFrame, bool, error) {
	r.mu.Lock()
	n := len(r.StepCalls)
	r.StepCalls = append(r.StepCalls, slices.Clone(codes))
	fn := r.StepFunc
	r.mu.Unlock()

	if fn == nil {
		return model.TokenFrame{0, 1}, true, nil
	}
	return fn(n, codes)
}

// Decode implements model.Resource.
func (r *Resource) Decode(audioTokens []int32) ([]float32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.DecodeCalls = append(r.DecodeCalls, slices.Clone(audioTokens))
	if r.DecodeErr != nil {
		return nil, r.DecodeErr
	}
	return make([]float32, r.DecodeSamples), nil
}

// Synchronize implements model.Resource.
func (r *Resource) Synchronize() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.SyncCalls++
	return r.SyncErr
}

// Counts returns the number of Reset, Encode, Step and Decode calls so far.
// Thread-safe.
func (r *Resource) Counts() (reset, encode, step, decode int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ResetCalls, len(r.EncodeCalls), len(r.StepCalls), len(r.DecodeCalls)
}
