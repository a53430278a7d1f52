package audio_test

import (
	"math/rand/v2"
	"testing"

	"github.com/MrWong99/voxrelay/pkg/audio"
)

func TestAccumulator_FrameBoundary(t *testing.T) {
	t.Parallel()
	acc := audio.NewAccumulator(80)
	for i := range 9 {
		acc.Push(make([]float32, 8))
		if _, ok := acc.Next(); ok {
			t.Fatalf("frame emitted after %d chunks, want none before 10", i+1)
		}
	}
	acc.Push(make([]float32, 8))
	if _, ok := acc.Next(); !ok {
		t.Fatal("no frame after 10 chunks")
	}
	if _, ok := acc.Next(); ok {
		t.Error("second frame emitted from 80 samples")
	}
	if acc.Buffered() != 0 {
		t.Errorf("Buffered: got %d, want 0", acc.Buffered())
	}
}

func TestAccumulator_PreservesOrder(t *testing.T) {
	t.Parallel()
	acc := audio.NewAccumulator(4)
	acc.Push([]float32{1, 2, 3})
	acc.Push([]float32{4, 5})
	acc.Push([]float32{6, 7, 8, 9})

	var got []float32
	for {
		f, ok := acc.Next()
		if !ok {
			break
		}
		got = append(got, f...)
	}
	want := []float32{1, 2, 3, 4, 5, 6, 7, 8}
	if len(got) != len(want) {
		t.Fatalf("length: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %v, want %v", i, got[i], want[i])
		}
	}
	if acc.Buffered() != 1 {
		t.Errorf("Buffered: got %d, want 1", acc.Buffered())
	}
}

func TestAccumulator_FrameNotAliased(t *testing.T) {
	t.Parallel()
	acc := audio.NewAccumulator(2)
	acc.Push([]float32{1, 2, 3, 4})
	first, _ := acc.Next()
	second, _ := acc.Next()
	if first[0] != 1 || second[0] != 3 {
		t.Errorf("frames: got %v %v, want [1 2] [3 4]", first, second)
	}
}

// Any chunking of the input keeps consumed+buffered equal to pushed, and the
// frames reproduce the input exactly.
func TestAccumulator_Conservation(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewPCG(1, 2))

	for round := range 50 {
		frameSize := 1 + rng.IntN(64)
		acc := audio.NewAccumulator(frameSize)

		var input, output []float32
		next := float32(0)
		for range 40 {
			chunk := make([]float32, rng.IntN(3*frameSize))
			for i := range chunk {
				next++
				chunk[i] = next
			}
			input = append(input, chunk...)
			acc.Push(chunk)

			for {
				f, ok := acc.Next()
				if !ok {
					break
				}
				if len(f) != frameSize {
					t.Fatalf("round %d: frame length got %d, want %d", round, len(f), frameSize)
				}
				output = append(output, f...)
			}
			if got := acc.Consumed() + uint64(acc.Buffered()); got != acc.Pushed() {
				t.Fatalf("round %d: consumed+buffered = %d, pushed = %d", round, got, acc.Pushed())
			}
			if acc.Buffered() >= frameSize {
				t.Fatalf("round %d: %d samples left buffered with frame size %d", round, acc.Buffered(), frameSize)
			}
		}
		for i := range output {
			if output[i] != input[i] {
				t.Fatalf("round %d: sample %d got %v, want %v", round, i, output[i], input[i])
			}
		}
	}
}
