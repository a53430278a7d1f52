// Package loopback is an in-process model backend that echoes its input.
//
// Encode packs each frame losslessly into int16 pairs, Step delays columns by
// a fixed number of steps to imitate model lookahead, and Decode unpacks them
// again. The text channel replays a scripted token sequence, or the pad token
// when none is configured. It needs no weights and no accelerator, which makes
// it the default for local development and end-to-end tests.
package loopback

import (
	"fmt"

	"github.com/MrWong99/voxrelay/internal/model"
	"github.com/MrWong99/voxrelay/pkg/audio"
)

// Config configures a loopback [Model].
type Config struct {
	// SampleRate in Hz. Default: 24000.
	SampleRate int

	// FrameRate in frames per second. Default: 12.5.
	FrameRate float64

	// DelaySteps is the number of initial steps that produce no output.
	DelaySteps int

	// TextTokens is replayed on the text channel, one token per ready step,
	// cycling. When empty, PadID is emitted.
	TextTokens []int32

	// PadID is the text token emitted when TextTokens is empty. It should
	// match the relay's pad id so the filler is never sent as text.
	PadID int32
}

// Model is a loopback implementation of [model.Resource].
type Model struct {
	cfg       Config
	frameSize int
	batch     int
	delay     [][]int32
	step      int
}

var _ model.Resource = (*Model)(nil)

// New validates cfg and returns a ready Model.
func New(cfg Config) (*Model, error) {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 24000
	}
	if cfg.FrameRate == 0 {
		cfg.FrameRate = 12.5
	}
	if cfg.DelaySteps < 0 {
		return nil, fmt.Errorf("loopback: delay_steps must not be negative, got %d", cfg.DelaySteps)
	}
	frameSize, err := audio.FrameSize(cfg.SampleRate, cfg.FrameRate)
	if err != nil {
		return nil, fmt.Errorf("loopback: %w", err)
	}
	return &Model{cfg: cfg, frameSize: frameSize}, nil
}

// SampleRate implements [model.Resource].
func (m *Model) SampleRate() int { return m.cfg.SampleRate }

// FrameRate implements [model.Resource].
func (m *Model) FrameRate() float64 { return m.cfg.FrameRate }

// ResetStreaming implements [model.Resource].
func (m *Model) ResetStreaming() error {
	m.delay = m.delay[:0]
	m.step = 0
	return nil
}

// PrimeStreaming implements [model.Resource]. Only a batch of one is supported.
func (m *Model) PrimeStreaming(batchSize int) error {
	if batchSize != 1 {
		return fmt.Errorf("loopback: unsupported batch size %d", batchSize)
	}
	m.batch = batchSize
	return m.ResetStreaming()
}

// Encode implements [model.Resource]. Each frame becomes a single column.
func (m *Model) Encode(frame []float32) ([][]int32, error) {
	pcm := audio.Float32ToInt16(nil, frame)
	col := make([]int32, (len(pcm)+1)/2)
	for i := range col {
		lo := uint16(pcm[2*i])
		var hi uint16
		if 2*i+1 < len(pcm) {
			hi = uint16(pcm[2*i+1])
		}
		col[i] = int32(uint32(hi)<<16 | uint32(lo))
	}
	return [][]int32{col}, nil
}

// Step implements [model.Resource].
func (m *Model) Step(codes []int32) (model.TokenFrame, bool, error) {
	if m.batch == 0 {
		return nil, false, fmt.Errorf("loopback: step before PrimeStreaming")
	}
	m.delay = append(m.delay, codes)
	if len(m.delay) <= m.cfg.DelaySteps {
		return nil, false, nil
	}
	out := m.delay[0]
	m.delay = m.delay[1:]

	text := m.cfg.PadID
	if n := len(m.cfg.TextTokens); n > 0 {
		text = m.cfg.TextTokens[m.step%n]
	}
	m.step++

	tokens := make(model.TokenFrame, 0, 1+len(out))
	tokens = append(tokens, text)
	tokens = append(tokens, out...)
	return tokens, true, nil
}

// Decode implements [model.Resource].
func (m *Model) Decode(audioTokens []int32) ([]float32, error) {
	pcm := make([]int16, 0, 2*len(audioTokens))
	for _, t := range audioTokens {
		u := uint32(t)
		pcm = append(pcm, int16(uint16(u)), int16(uint16(u>>16)))
	}
	if len(pcm) > m.frameSize {
		pcm = pcm[:m.frameSize]
	}
	return audio.Int16ToFloat32(nil, pcm), nil
}

// Synchronize implements [model.Resource]. There is no device to wait for.
func (m *Model) Synchronize() error { return nil }
