package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/voxrelay/internal/model"
	"github.com/MrWong99/voxrelay/pkg/audio"
)

// ErrNotRegistered is returned by Create* methods when no factory has been
// registered under the requested name.
var ErrNotRegistered = errors.New("config: backend not registered")

// ModelFactory builds a model backend from its configuration section.
type ModelFactory func(ModelConfig) (model.Resource, error)

// CodecFactory builds a wire codec from its configuration section.
type CodecFactory func(AudioConfig) (audio.Codec, error)

// Registry maps backend names to their constructor functions. It is safe for
// concurrent use.
type Registry struct {
	mu     sync.RWMutex
	models map[string]ModelFactory
	codecs map[string]CodecFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		models: make(map[string]ModelFactory),
		codecs: make(map[string]CodecFactory),
	}
}

// RegisterModel registers a model backend factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterModel(name string, factory ModelFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models[name] = factory
}

// RegisterCodec registers a codec factory under name.
func (r *Registry) RegisterCodec(name string, factory CodecFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codecs[name] = factory
}

// CreateModel builds the backend named by cfg.Backend.
func (r *Registry) CreateModel(cfg ModelConfig) (model.Resource, error) {
	r.mu.RLock()
	factory, ok := r.models[cfg.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: model %q", ErrNotRegistered, cfg.Backend)
	}
	res, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("config: create model %q: %w", cfg.Backend, err)
	}
	return res, nil
}

// CreateCodec builds the codec named by cfg.Codec.
func (r *Registry) CreateCodec(cfg AudioConfig) (audio.Codec, error) {
	r.mu.RLock()
	factory, ok := r.codecs[cfg.Codec]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: codec %q", ErrNotRegistered, cfg.Codec)
	}
	c, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("config: create codec %q: %w", cfg.Codec, err)
	}
	return c, nil
}

// Models returns the registered model backend names, sorted.
func (r *Registry) Models() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.models)
}

// Codecs returns the registered codec names, sorted.
func (r *Registry) Codecs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.codecs)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
