package relay

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MrWong99/voxrelay/internal/model"
	"github.com/MrWong99/voxrelay/internal/observe"
	"github.com/MrWong99/voxrelay/pkg/audio"
	"github.com/MrWong99/voxrelay/pkg/wire"
)

// pipeline is the state owned by the process goroutine of one session: the
// stream decoder and encoder, the frame accumulator and the leased model.
// Nothing in it is shared, so none of it is locked.
type pipeline struct {
	res     model.Resource
	dec     audio.StreamDecoder
	enc     audio.StreamEncoder
	acc     *audio.Accumulator
	text    textFilter
	metrics *observe.Metrics
	log     *slog.Logger
}

func newPipeline(res model.Resource, codec audio.Codec, text textFilter, m *observe.Metrics, log *slog.Logger) (*pipeline, error) {
	frameSize, err := audio.FrameSize(res.SampleRate(), res.FrameRate())
	if err != nil {
		return nil, fmt.Errorf("relay: %w", err)
	}
	dec, err := codec.NewDecoder(res.SampleRate())
	if err != nil {
		return nil, fmt.Errorf("relay: create %s decoder: %w", codec.Name(), err)
	}
	enc, err := codec.NewEncoder(res.SampleRate())
	if err != nil {
		return nil, fmt.Errorf("relay: create %s encoder: %w", codec.Name(), err)
	}
	return &pipeline{
		res:     res,
		dec:     dec,
		enc:     enc,
		acc:     audio.NewAccumulator(frameSize),
		text:    text,
		metrics: m,
		log:     log,
	}, nil
}

// feed hands one inbound audio payload to the decoder and moves whatever PCM
// it produced into the accumulator. Malformed input is dropped; the decoder
// stays usable.
func (p *pipeline) feed(ctx context.Context, b []byte) {
	if err := p.dec.Append(b); err != nil {
		p.log.Warn("dropping malformed audio", "err", err, "bytes", len(b))
		p.metrics.RecordDropped(ctx, "malformed_audio")
	}
	if pcm := p.dec.ReadPCM(); len(pcm) > 0 {
		p.acc.Push(pcm)
	}
}

// drain runs every complete frame in the accumulator through the model.
// Output goes to emit in production order; emit returns false once the
// session is closing. Closing is checked between frames, never inside one.
func (p *pipeline) drain(ctx context.Context, emit func(wire.Message) bool) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		frame, ok := p.acc.Next()
		if !ok {
			return nil
		}
		start := time.Now()
		cont, err := p.frame(ctx, frame, emit)
		if err != nil {
			return err
		}
		elapsed := time.Since(start)
		p.metrics.Frames.Add(ctx, 1)
		p.metrics.FrameDuration.Record(ctx, elapsed.Seconds())
		p.log.Debug("frame processed", "duration", elapsed, "buffered", p.acc.Buffered())
		if !cont {
			return nil
		}
	}
}

// frame encodes one frame and steps the model once per code column.
func (p *pipeline) frame(ctx context.Context, frame []float32, emit func(wire.Message) bool) (bool, error) {
	columns, err := p.res.Encode(frame)
	if err != nil {
		return false, p.modelErr(ctx, "encode", err)
	}
	for _, col := range columns {
		tokens, ready, err := p.res.Step(col)
		if err != nil {
			return false, p.modelErr(ctx, "step", err)
		}
		if !ready {
			continue
		}
		if err := tokens.Check(); err != nil {
			return false, p.modelErr(ctx, "step", err)
		}
		pcm, err := p.res.Decode(tokens.Audio())
		if err != nil {
			return false, p.modelErr(ctx, "decode", err)
		}
		if err := p.enc.AppendPCM(pcm); err != nil {
			return false, fmt.Errorf("relay: encode output audio: %w", err)
		}
		if b := p.enc.ReadBytes(); len(b) > 0 {
			if !emit(wire.Audio(b)) {
				return false, nil
			}
		}
		if s, ok := p.text.piece(tokens.Text()); ok {
			p.log.Debug("text fragment", "text", s)
			p.metrics.TextFragments.Add(ctx, 1)
			if !emit(wire.Text(s)) {
				return false, nil
			}
		}
	}
	return true, nil
}

func (p *pipeline) modelErr(ctx context.Context, op string, err error) error {
	p.metrics.RecordModelError(ctx, op)
	return fmt.Errorf("%w: %s: %w", ErrModel, op, err)
}

// Tokenizer maps text-channel token ids to text pieces.
type Tokenizer interface {
	IDToPiece(id int32) (string, bool)
}

// textFilter turns text-channel tokens into client text.
type textFilter struct {
	tok          Tokenizer
	padID, endID int32
	boundary     string
	log          *slog.Logger
}

// piece returns the text for id, or false when id is a reserved token, no
// tokenizer is configured, or id is outside the vocabulary.
func (f textFilter) piece(id int32) (string, bool) {
	if id == f.padID || id == f.endID || f.tok == nil {
		return "", false
	}
	s, ok := f.tok.IDToPiece(id)
	if !ok {
		f.log.Warn("text token outside vocabulary", "id", id)
		return "", false
	}
	if f.boundary != "" {
		s = strings.ReplaceAll(s, f.boundary, " ")
	}
	return s, s != ""
}
