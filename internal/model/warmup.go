package model

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/MrWong99/voxrelay/pkg/audio"
)

// DefaultWarmupFrames is the number of silent frames pushed through the model
// at startup.
const DefaultWarmupFrames = 4

// FrameSize returns the number of samples in one model frame of res. It
// fails when the frame rate does not divide the sample rate.
func FrameSize(res Resource) (int, error) {
	return audio.FrameSize(res.SampleRate(), res.FrameRate())
}

// Warmup primes res for a single stream and runs frames silent frames through
// the full encode, step and decode path, discarding the output. It ends with a
// device barrier so the first real frame does not pay for lazy initialisation.
func Warmup(ctx context.Context, res Resource, frames int) error {
	size, err := FrameSize(res)
	if err != nil {
		return fmt.Errorf("model: %w", err)
	}
	if err := res.PrimeStreaming(1); err != nil {
		return fmt.Errorf("model: prime streaming: %w", err)
	}
	silence := make([]float32, size)
	for i := range frames {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := runFrame(res, silence); err != nil {
			return fmt.Errorf("model: warmup frame %d: %w", i, err)
		}
	}
	if err := res.Synchronize(); err != nil {
		return fmt.Errorf("model: synchronize: %w", err)
	}
	return nil
}

// runFrame pushes one frame through the model and drops the result.
func runFrame(res Resource, frame []float32) error {
	columns, err := res.Encode(frame)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	for _, col := range columns {
		tokens, ready, err := res.Step(col)
		if err != nil {
			return fmt.Errorf("step: %w", err)
		}
		if !ready {
			continue
		}
		if err := tokens.Check(); err != nil {
			return fmt.Errorf("step: %w", err)
		}
		if _, err := res.Decode(tokens.Audio()); err != nil {
			return fmt.Errorf("decode: %w", err)
		}
	}
	return nil
}

// BenchResult summarises per-frame model latency.
type BenchResult struct {
	Steps int
	Min   time.Duration
	P50   time.Duration
	P95   time.Duration
	Max   time.Duration
	Mean  time.Duration
}

// Bench resets res and measures steps silent frames through the full model
// path, synchronising after each one so device time is included.
func Bench(ctx context.Context, res Resource, steps int) (BenchResult, error) {
	if steps <= 0 {
		return BenchResult{}, fmt.Errorf("model: bench needs at least one step, got %d", steps)
	}
	size, err := FrameSize(res)
	if err != nil {
		return BenchResult{}, fmt.Errorf("model: %w", err)
	}
	if err := res.ResetStreaming(); err != nil {
		return BenchResult{}, fmt.Errorf("model: reset streaming: %w", err)
	}
	silence := make([]float32, size)
	durations := make([]time.Duration, 0, steps)
	for i := range steps {
		if err := ctx.Err(); err != nil {
			return BenchResult{}, err
		}
		start := time.Now()
		if err := runFrame(res, silence); err != nil {
			return BenchResult{}, fmt.Errorf("model: bench step %d: %w", i, err)
		}
		if err := res.Synchronize(); err != nil {
			return BenchResult{}, fmt.Errorf("model: synchronize: %w", err)
		}
		durations = append(durations, time.Since(start))
	}
	return summarise(durations), nil
}

func summarise(d []time.Duration) BenchResult {
	slices.Sort(d)
	var total time.Duration
	for _, v := range d {
		total += v
	}
	pick := func(q float64) time.Duration {
		return d[int(q*float64(len(d)-1))]
	}
	return BenchResult{
		Steps: len(d),
		Min:   d[0],
		P50:   pick(0.50),
		P95:   pick(0.95),
		Max:   d[len(d)-1],
		Mean:  total / time.Duration(len(d)),
	}
}
