package audio

// Accumulator regroups PCM chunks of arbitrary length into frames of a fixed
// size. Samples leave in exactly the order they arrived; none are dropped or
// repeated.
//
// An Accumulator is owned by a single goroutine.
type Accumulator struct {
	frameSize int
	buf       []float32

	pushed   uint64
	consumed uint64
}

// NewAccumulator returns an Accumulator emitting frames of frameSize samples.
// It panics if frameSize is not positive.
func NewAccumulator(frameSize int) *Accumulator {
	if frameSize <= 0 {
		panic("audio: accumulator frame size must be positive")
	}
	return &Accumulator{
		frameSize: frameSize,
		buf:       make([]float32, 0, 2*frameSize),
	}
}

// Push appends pcm to the pending buffer.
func (a *Accumulator) Push(pcm []float32) {
	a.buf = append(a.buf, pcm...)
	a.pushed += uint64(len(pcm))
}

// Next removes and returns the oldest full frame. ok is false when fewer than
// FrameSize samples are pending. The returned slice is owned by the caller.
func (a *Accumulator) Next() (frame []float32, ok bool) {
	if len(a.buf) < a.frameSize {
		return nil, false
	}
	frame = make([]float32, a.frameSize)
	copy(frame, a.buf)
	n := copy(a.buf, a.buf[a.frameSize:])
	a.buf = a.buf[:n]
	a.consumed += uint64(a.frameSize)
	return frame, true
}

// FrameSize returns the frame length in samples.
func (a *Accumulator) FrameSize() int { return a.frameSize }

// Buffered returns the number of pending samples.
func (a *Accumulator) Buffered() int { return len(a.buf) }

// Pushed returns the total number of samples ever pushed.
func (a *Accumulator) Pushed() uint64 { return a.pushed }

// Consumed returns the total number of samples returned by Next.
func (a *Accumulator) Consumed() uint64 { return a.consumed }
