// Package relay runs the per-connection session pipeline.
//
// A [Session] drives one client through Idle, HandshakeSent, Active and
// Closed. While Active, three goroutines cooperate:
//
//   - ingest reads the socket and forwards audio payloads to process;
//   - process owns the codec pair, the frame accumulator and the model lease,
//     and turns accumulated frames into outbound audio and text messages;
//   - egress writes those messages to the socket in production order.
//
// The loops share no mutable state; they talk over channels. The errgroup
// context is the closing signal: the first loop to fail cancels it and the
// others return at their next wait. [Server] is the HTTP handler that
// upgrades connections, serialises sessions on the model guard and reports
// outcomes.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxrelay/internal/model"
	"github.com/MrWong99/voxrelay/internal/observe"
	"github.com/MrWong99/voxrelay/pkg/audio"
	"github.com/MrWong99/voxrelay/pkg/wire"
)

// State is the lifecycle position of a [Session].
type State int32

const (
	// StateIdle is a session that has not yet sent its handshake.
	StateIdle State = iota

	// StateHandshakeSent is entered just before the handshake is written.
	StateHandshakeSent

	// StateActive means the loops are running.
	StateActive

	// StateClosed is terminal.
	StateClosed
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateHandshakeSent:
		return "handshake_sent"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// SessionConfig holds the per-session settings shared by every session of a
// [Server].
type SessionConfig struct {
	// Codec builds the session's stream decoder and encoder.
	Codec audio.Codec

	// Tokenizer maps text tokens to text. When nil no text is sent.
	Tokenizer Tokenizer

	// PadID and EndID are the reserved text tokens that are never sent.
	PadID int32
	EndID int32

	// WordBoundary is replaced with a space in every text piece. Default: "▁".
	WordBoundary string

	// InboundQueue is the number of audio payloads buffered between ingest
	// and process. Default: 64.
	InboundQueue int

	// OutboundQueue is the number of messages buffered between process and
	// egress. Default: 64.
	OutboundQueue int

	// Metrics receives session instruments. Default: [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

func (c SessionConfig) withDefaults() SessionConfig {
	if c.WordBoundary == "" {
		c.WordBoundary = "▁"
	}
	if c.InboundQueue <= 0 {
		c.InboundQueue = 64
	}
	if c.OutboundQueue <= 0 {
		c.OutboundQueue = 64
	}
	if c.Metrics == nil {
		c.Metrics = observe.DefaultMetrics()
	}
	return c
}

// Session is one client's exchange with the model.
type Session struct {
	id    string
	conn  Conn
	cfg   SessionConfig
	state atomic.Int32
}

// NewSession returns an idle session for conn.
func NewSession(id string, conn Conn, cfg SessionConfig) *Session {
	return &Session{id: id, conn: conn, cfg: cfg.withDefaults()}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state. Safe for concurrent use.
func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(st State) { s.state.Store(int32(st)) }

// Run resets the leased model, sends the handshake and runs the session until
// the client goes away, a model call fails or ctx is cancelled. The caller
// keeps ownership of lease and releases it after Run returns.
//
// The returned error wraps [ErrTransport] or [ErrModel] when one of those
// ended the session, and is ctx.Err() when the session was cancelled.
func (s *Session) Run(ctx context.Context, lease *model.Lease) error {
	defer s.setState(StateClosed)

	log := observe.Logger(observe.WithSessionID(ctx, s.id))
	res := lease.Resource()

	p, err := newPipeline(res, s.cfg.Codec, textFilter{
		tok:      s.cfg.Tokenizer,
		padID:    s.cfg.PadID,
		endID:    s.cfg.EndID,
		boundary: s.cfg.WordBoundary,
		log:      log,
	}, s.cfg.Metrics, log)
	if err != nil {
		return err
	}
	if err := res.ResetStreaming(); err != nil {
		s.cfg.Metrics.RecordModelError(ctx, "reset")
		return fmt.Errorf("%w: reset streaming: %w", ErrModel, err)
	}

	s.setState(StateHandshakeSent)
	if err := s.conn.Write(ctx, wire.Handshake().Bytes()); err != nil {
		return fmt.Errorf("%w: write handshake: %w", ErrTransport, err)
	}
	s.setState(StateActive)
	log.Info("session active", "codec", s.cfg.Codec.Name(), "frame_size", p.acc.FrameSize())

	inbound := make(chan []byte, s.cfg.InboundQueue)
	outbound := make(chan wire.Message, s.cfg.OutboundQueue)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.ingest(gctx, log, inbound) })
	g.Go(func() error { return s.process(gctx, p, inbound, outbound) })
	g.Go(func() error { return s.egress(gctx, outbound) })

	err = g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	return err
}

// ingest reads client messages and forwards audio payloads to process.
// Everything else is logged and dropped.
func (s *Session) ingest(ctx context.Context, log *slog.Logger, inbound chan<- []byte) error {
	for {
		binary, data, err := s.conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%w: read: %w", ErrTransport, err)
		}
		if !binary {
			log.Warn("dropping non-binary message", "bytes", len(data))
			s.cfg.Metrics.RecordDropped(ctx, "non_binary")
			continue
		}
		msg, err := wire.Decode(data)
		if err != nil {
			log.Warn("dropping message", "err", err)
			s.cfg.Metrics.RecordDropped(ctx, "empty")
			continue
		}
		if msg.Kind != wire.KindAudio {
			log.Warn("dropping message of unexpected kind", "kind", msg.Kind, "bytes", len(msg.Payload))
			s.cfg.Metrics.RecordDropped(ctx, "unexpected_kind")
			continue
		}
		if len(msg.Payload) == 0 {
			log.Warn("dropping audio message without payload")
			s.cfg.Metrics.RecordDropped(ctx, "empty_audio")
			continue
		}
		select {
		case inbound <- msg.Payload:
		case <-ctx.Done():
			return nil
		}
	}
}

// process feeds inbound audio through the pipeline. It wakes only when audio
// arrives or the session is closing.
func (s *Session) process(ctx context.Context, p *pipeline, inbound <-chan []byte, outbound chan<- wire.Message) error {
	emit := func(m wire.Message) bool {
		select {
		case outbound <- m:
			return true
		case <-ctx.Done():
			return false
		}
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case b := <-inbound:
			p.feed(ctx, b)
		}
		// Take everything already queued before stepping the model.
	queued:
		for {
			select {
			case b := <-inbound:
				p.feed(ctx, b)
			default:
				break queued
			}
		}
		if err := p.drain(ctx, emit); err != nil {
			return err
		}
	}
}

// egress writes outbound messages in the order process produced them.
func (s *Session) egress(ctx context.Context, outbound <-chan wire.Message) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case m := <-outbound:
			if err := s.conn.Write(ctx, m.Bytes()); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("%w: write %s: %w", ErrTransport, m.Kind, err)
			}
		}
	}
}
