//go:build cgo

package onnx

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/MrWong99/voxrelay/internal/model"
	"github.com/MrWong99/voxrelay/pkg/audio"
)

// Model is an ONNX Runtime implementation of [model.Resource].
type Model struct {
	cfg       Config
	frameSize int

	encoder *graph
	lm      *graph
	decoder *graph

	primed bool
	steps  int
}

var _ model.Resource = (*Model)(nil)

// graph is one ONNX session plus its streaming state tensors.
type graph struct {
	session  *ort.DynamicAdvancedSession
	state    *ort.Tensor[float32]
	stateOut *ort.Tensor[float32]
}

// New initialises ONNX Runtime and loads the three graphs.
func New(cfg Config) (*Model, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	frameSize, err := audio.FrameSize(cfg.SampleRate, cfg.FrameRate)
	if err != nil {
		return nil, fmt.Errorf("onnx: %w", err)
	}

	if err := initRuntime(cfg.LibraryPath); err != nil {
		return nil, fmt.Errorf("onnx: initialize runtime: %w", err)
	}

	m := &Model{cfg: cfg, frameSize: frameSize}
	if m.encoder, err = newGraph(cfg.Encoder, []string{"pcm"}, []string{"codes"}); err != nil {
		m.destroy()
		return nil, fmt.Errorf("onnx: load encoder: %w", err)
	}
	if m.lm, err = newGraph(cfg.LM, []string{"codes"}, []string{"tokens"}); err != nil {
		m.destroy()
		return nil, fmt.Errorf("onnx: load lm: %w", err)
	}
	if m.decoder, err = newGraph(cfg.Decoder, []string{"tokens"}, []string{"pcm"}); err != nil {
		m.destroy()
		return nil, fmt.Errorf("onnx: load decoder: %w", err)
	}
	return m, nil
}

var runtimeMu sync.Mutex

// initRuntime sets up the process-wide ONNX Runtime environment once. The
// library path of the first successful call wins.
func initRuntime(libraryPath string) error {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()
	if ort.IsInitialized() {
		return nil
	}
	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}
	return ort.InitializeEnvironment()
}

func newGraph(cfg GraphConfig, inputs, outputs []string) (*graph, error) {
	if cfg.StateSize > 0 {
		inputs = append(inputs, "state")
		outputs = append(outputs, "state_out")
	}
	session, err := ort.NewDynamicAdvancedSession(cfg.Path, inputs, outputs, nil)
	if err != nil {
		return nil, err
	}
	g := &graph{session: session}
	if cfg.StateSize == 0 {
		return g, nil
	}
	shape := ort.NewShape(int64(cfg.StateSize))
	if g.state, err = ort.NewTensor(shape, make([]float32, cfg.StateSize)); err != nil {
		g.destroy()
		return nil, fmt.Errorf("create state tensor: %w", err)
	}
	if g.stateOut, err = ort.NewTensor(shape, make([]float32, cfg.StateSize)); err != nil {
		g.destroy()
		return nil, fmt.Errorf("create state tensor: %w", err)
	}
	return g, nil
}

// run executes the graph and carries its state forward.
func (g *graph) run(inputs, outputs []ort.Value) error {
	if g.state != nil {
		inputs = append(inputs, g.state)
		outputs = append(outputs, g.stateOut)
	}
	if err := g.session.Run(inputs, outputs); err != nil {
		return err
	}
	if g.state != nil {
		copy(g.state.GetData(), g.stateOut.GetData())
	}
	return nil
}

func (g *graph) reset() {
	if g.state == nil {
		return
	}
	clear(g.state.GetData())
}

func (g *graph) destroy() {
	if g == nil {
		return
	}
	if g.state != nil {
		g.state.Destroy()
	}
	if g.stateOut != nil {
		g.stateOut.Destroy()
	}
	if g.session != nil {
		g.session.Destroy()
	}
}

func (m *Model) destroy() {
	m.encoder.destroy()
	m.lm.destroy()
	m.decoder.destroy()
}

// Close releases all ONNX Runtime resources held by m.
func (m *Model) Close() error {
	m.destroy()
	return nil
}

// SampleRate implements [model.Resource].
func (m *Model) SampleRate() int { return m.cfg.SampleRate }

// FrameRate implements [model.Resource].
func (m *Model) FrameRate() float64 { return m.cfg.FrameRate }

// ResetStreaming implements [model.Resource].
func (m *Model) ResetStreaming() error {
	m.encoder.reset()
	m.lm.reset()
	m.decoder.reset()
	m.steps = 0
	return nil
}

// PrimeStreaming implements [model.Resource]. The exported graphs have a
// fixed batch dimension of one.
func (m *Model) PrimeStreaming(batchSize int) error {
	if batchSize != 1 {
		return fmt.Errorf("onnx: unsupported batch size %d", batchSize)
	}
	m.primed = true
	return m.ResetStreaming()
}

// Encode implements [model.Resource].
func (m *Model) Encode(frame []float32) ([][]int32, error) {
	if len(frame) != m.frameSize {
		return nil, fmt.Errorf("onnx: encode: frame has %d samples, want %d", len(frame), m.frameSize)
	}
	in, err := ort.NewTensor(ort.NewShape(1, 1, int64(m.frameSize)), frame)
	if err != nil {
		return nil, fmt.Errorf("onnx: encode: %w", err)
	}
	defer in.Destroy()
	out, err := ort.NewEmptyTensor[int64](ort.NewShape(1, int64(m.cfg.Codebooks), 1))
	if err != nil {
		return nil, fmt.Errorf("onnx: encode: %w", err)
	}
	defer out.Destroy()

	if err := m.encoder.run([]ort.Value{in}, []ort.Value{out}); err != nil {
		return nil, fmt.Errorf("onnx: encode: %w", err)
	}
	return [][]int32{toInt32(out.GetData())}, nil
}

// Step implements [model.Resource].
func (m *Model) Step(codes []int32) (model.TokenFrame, bool, error) {
	if !m.primed {
		return nil, false, fmt.Errorf("onnx: step before PrimeStreaming")
	}
	if len(codes) != m.cfg.Codebooks {
		return nil, false, fmt.Errorf("onnx: step: got %d codes, want %d", len(codes), m.cfg.Codebooks)
	}
	in, err := ort.NewTensor(ort.NewShape(1, int64(len(codes))), toInt64(codes))
	if err != nil {
		return nil, false, fmt.Errorf("onnx: step: %w", err)
	}
	defer in.Destroy()
	out, err := ort.NewEmptyTensor[int64](ort.NewShape(1, int64(1+m.cfg.Codebooks)))
	if err != nil {
		return nil, false, fmt.Errorf("onnx: step: %w", err)
	}
	defer out.Destroy()

	if err := m.lm.run([]ort.Value{in}, []ort.Value{out}); err != nil {
		return nil, false, fmt.Errorf("onnx: step: %w", err)
	}
	m.steps++
	if m.steps <= m.cfg.DelaySteps {
		return nil, false, nil
	}
	return model.TokenFrame(toInt32(out.GetData())), true, nil
}

// Decode implements [model.Resource].
func (m *Model) Decode(audioTokens []int32) ([]float32, error) {
	in, err := ort.NewTensor(ort.NewShape(1, int64(len(audioTokens)), 1), toInt64(audioTokens))
	if err != nil {
		return nil, fmt.Errorf("onnx: decode: %w", err)
	}
	defer in.Destroy()
	out, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1, int64(m.frameSize)))
	if err != nil {
		return nil, fmt.Errorf("onnx: decode: %w", err)
	}
	defer out.Destroy()

	if err := m.decoder.run([]ort.Value{in}, []ort.Value{out}); err != nil {
		return nil, fmt.Errorf("onnx: decode: %w", err)
	}
	pcm := make([]float32, m.frameSize)
	copy(pcm, out.GetData())
	return pcm, nil
}

// Synchronize implements [model.Resource]. Session.Run is synchronous, so
// there is never outstanding device work.
func (m *Model) Synchronize() error { return nil }

func toInt64(in []int32) []int64 {
	out := make([]int64, len(in))
	for i, v := range in {
		out[i] = int64(v)
	}
	return out
}

func toInt32(in []int64) []int32 {
	out := make([]int32, len(in))
	for i, v := range in {
		out[i] = int32(v)
	}
	return out
}
