package relay

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/voxrelay/internal/model"
	"github.com/MrWong99/voxrelay/internal/observe"
	"github.com/MrWong99/voxrelay/internal/resilience"
)

// defaultReadLimit bounds a single inbound websocket message.
const defaultReadLimit = 1 << 20

// ServerConfig configures a [Server].
type ServerConfig struct {
	// Guard serialises sessions on the model. Required.
	Guard *model.Guard

	// Breaker, when set, runs every session and refuses new connections with
	// 503 while open. Build it with IsFailure set to [IsModelFailure].
	Breaker *resilience.CircuitBreaker

	// Session is applied to every session.
	Session SessionConfig

	// OriginPatterns lists extra origins allowed to open the socket. Same-origin
	// requests are always allowed.
	OriginPatterns []string

	// ReadLimit is the largest inbound message in bytes. Default: 1 MiB.
	ReadLimit int64
}

// Server is the connection handler: an [http.Handler] that upgrades each
// request to a websocket and runs one [Session] on it once the model is free.
type Server struct {
	cfg ServerConfig

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer returns a Server ready to be mounted on the chat path.
func NewServer(cfg ServerConfig) *Server {
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = defaultReadLimit
	}
	cfg.Session = cfg.Session.withDefaults()
	base, cancel := context.WithCancel(context.Background())
	return &Server{cfg: cfg, base: base, cancel: cancel}
}

// Shutdown cancels every running and waiting session and waits for their
// handlers to return, or for ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ServeHTTP implements [http.Handler].
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.wg.Add(1)
	defer s.wg.Done()

	m := s.cfg.Session.Metrics
	id := uuid.NewString()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stop := context.AfterFunc(s.base, cancel)
	defer stop()

	ctx = observe.WithSessionID(ctx, id)
	ctx, span := observe.StartSpan(ctx, "relay.session",
		trace.WithAttributes(attribute.String("session.id", id)))
	defer span.End()
	log := observe.Logger(ctx).With("remote", r.RemoteAddr)

	if s.cfg.Breaker != nil {
		if err := s.cfg.Breaker.Allow(); err != nil {
			log.Warn("refusing connection, model circuit breaker is open")
			m.RecordSessionEnd(ctx, observe.OutcomeRejected, 0)
			span.SetStatus(codes.Error, "breaker open")
			http.Error(w, "model unavailable", http.StatusServiceUnavailable)
			return
		}
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.OriginPatterns,
	})
	if err != nil {
		log.Warn("websocket upgrade failed", "err", err)
		return
	}
	conn.SetReadLimit(s.cfg.ReadLimit)

	wc := newWSConn(ctx, conn, func(n int) {
		log.Warn("dropping message sent before the handshake", "bytes", n)
		m.RecordDropped(ctx, "before_handshake")
	})
	defer func() {
		cancel()
		wc.wait()
	}()

	waitStart := time.Now()
	m.WaitingSessions.Add(ctx, 1)
	if s.cfg.Guard.Busy() {
		log.Info("waiting for the model", "waiting", s.cfg.Guard.Waiting()+1)
	}
	lease, err := s.cfg.Guard.Acquire(wc.Alive())
	m.WaitingSessions.Add(ctx, -1)
	m.LockWait.Record(ctx, time.Since(waitStart).Seconds())
	if err != nil {
		outcome := observe.OutcomeClientClosed
		if s.base.Err() != nil {
			outcome = observe.OutcomeShutdown
		}
		log.Info("connection closed while waiting for the model", "outcome", outcome)
		m.RecordSessionEnd(ctx, outcome, 0)
		conn.CloseNow()
		return
	}
	wc.goLive()

	sess := NewSession(id, wc, s.cfg.Session)
	m.ActiveSessions.Add(ctx, 1)
	start := time.Now()

	run := func() error { return sess.Run(ctx, lease) }
	if s.cfg.Breaker != nil {
		err = s.cfg.Breaker.Execute(run)
	} else {
		err = run()
	}

	lease.Release()
	m.ActiveSessions.Add(ctx, -1)

	outcome := s.finish(ctx, log, conn, err)
	m.RecordSessionEnd(ctx, outcome, time.Since(start).Seconds())
	if outcome == observe.OutcomeModelError {
		span.RecordError(err)
		span.SetStatus(codes.Error, "model failure")
	}
	log.Info("session closed", "outcome", outcome, "duration", time.Since(start))
}

// finish closes conn in a way that matches why the session ended and returns
// the outcome label.
func (s *Server) finish(ctx context.Context, log *slog.Logger, conn *websocket.Conn, err error) string {
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		conn.Close(websocket.StatusTryAgainLater, "model unavailable")
		return observe.OutcomeRejected
	case errors.Is(err, ErrModel):
		log.Error("session ended by model failure", "err", err)
		conn.Close(websocket.StatusInternalError, "model failure")
		return observe.OutcomeModelError
	case errors.Is(err, ErrTransport):
		log.Debug("session ended by transport", "err", err)
		conn.CloseNow()
		return observe.OutcomeClientClosed
	case s.base.Err() != nil:
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return observe.OutcomeShutdown
	case ctx.Err() != nil:
		conn.CloseNow()
		return observe.OutcomeClientClosed
	default:
		log.Error("session failed", "err", err)
		conn.Close(websocket.StatusInternalError, "internal error")
		return observe.OutcomeInternal
	}
}
