//go:build !cgo

package onnx

import "github.com/MrWong99/voxrelay/internal/model"

// Model is unavailable without cgo.
type Model struct{ model.Resource }

// New always returns [ErrUnavailable].
func New(cfg Config) (*Model, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return nil, ErrUnavailable
}

// Close is a no-op.
func (m *Model) Close() error { return nil }
