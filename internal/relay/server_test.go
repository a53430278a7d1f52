package relay

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/voxrelay/internal/model"
	"github.com/MrWong99/voxrelay/internal/model/mock"
	"github.com/MrWong99/voxrelay/internal/resilience"
	"github.com/MrWong99/voxrelay/pkg/audio/rawpcm"
	"github.com/MrWong99/voxrelay/pkg/wire"
)

// startRelay serves a relay Server for res on an httptest server.
func startRelay(t *testing.T, res model.Resource, breaker *resilience.CircuitBreaker, tok Tokenizer) (*Server, *httptest.Server) {
	t.Helper()
	srv := NewServer(ServerConfig{
		Guard:   model.NewGuard(res),
		Breaker: breaker,
		Session: SessionConfig{
			Codec:     rawpcm.Codec{},
			Tokenizer: tok,
			PadID:     3,
		},
	})
	hs := httptest.NewServer(srv)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		hs.Close()
	})
	return srv, hs
}

// wsURL converts an httptest server HTTP URL to a WebSocket URL.
func wsURL(hs *httptest.Server) string {
	return "ws" + strings.TrimPrefix(hs.URL, "http")
}

func dial(t *testing.T, hs *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL(hs), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

// readMsg reads one binary frame and decodes it.
func readMsg(t *testing.T, conn *websocket.Conn) wire.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	typ, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if typ != websocket.MessageBinary {
		t.Fatalf("read: got message type %v, want binary", typ)
	}
	m, err := wire.Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return m
}

func writeMsg(t *testing.T, conn *websocket.Conn, kind wire.Kind, payload []byte) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageBinary, wire.Encode(kind, payload)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// eventually polls cond until it holds or two seconds pass.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type readResult struct {
	msg  wire.Message
	err  error
	when time.Time
}

// readAsync reads one message in the background.
func readAsync(conn *websocket.Conn) <-chan readResult {
	ch := make(chan readResult, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, data, err := conn.Read(ctx)
		if err != nil {
			ch <- readResult{err: err, when: time.Now()}
			return
		}
		m, err := wire.Decode(data)
		ch <- readResult{msg: m, err: err, when: time.Now()}
	}()
	return ch
}

func TestServer_AudioAndTextRoundTrip(t *testing.T) {
	t.Parallel()
	res := testModel()
	res.StepFunc = func(int, []int32) (model.TokenFrame, bool, error) {
		return model.TokenFrame{5, 1}, true, nil
	}
	_, hs := startRelay(t, res, nil, mapTokenizer{5: "▁hi"})
	conn := dial(t, hs)

	if m := readMsg(t, conn); m.Kind != wire.KindHandshake {
		t.Fatalf("first message: got %s, want handshake", m.Kind)
	}
	writeMsg(t, conn, wire.KindAudio, pcmChunk(80))

	if m := readMsg(t, conn); m.Kind != wire.KindAudio || len(m.Payload) != 160 {
		t.Errorf("got %s with %d bytes, want 160 bytes of audio", m.Kind, len(m.Payload))
	}
	if m := readMsg(t, conn); m.Kind != wire.KindText || string(m.Payload) != " hi" {
		t.Errorf("got %s %q, want text %q", m.Kind, m.Payload, " hi")
	}
}

func TestServer_UnknownKindKeepsSessionOpen(t *testing.T) {
	t.Parallel()
	_, hs := startRelay(t, testModel(), nil, nil)
	conn := dial(t, hs)
	readMsg(t, conn) // handshake

	writeMsg(t, conn, wire.Kind(0x07), []byte("???"))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte("not binary")); err != nil {
		t.Fatalf("write text: %v", err)
	}
	writeMsg(t, conn, wire.KindAudio, pcmChunk(80))

	if m := readMsg(t, conn); m.Kind != wire.KindAudio {
		t.Errorf("got %s, want audio", m.Kind)
	}
}

func TestServer_SecondClientWaitsForFirst(t *testing.T) {
	t.Parallel()
	res := testModel()
	srv, hs := startRelay(t, res, nil, nil)

	first := dial(t, hs)
	if m := readMsg(t, first); m.Kind != wire.KindHandshake {
		t.Fatalf("first client: got %s, want handshake", m.Kind)
	}

	second := dial(t, hs)
	pending := readAsync(second)

	select {
	case r := <-pending:
		t.Fatalf("second client got %v (err %v) while the first session was active", r.msg.Kind, r.err)
	case <-time.After(200 * time.Millisecond):
	}
	if !srv.cfg.Guard.Busy() {
		t.Fatal("guard not busy while the first session is active")
	}

	closed := time.Now()
	first.CloseNow()

	r := <-pending
	if r.err != nil {
		t.Fatalf("second client: %v", r.err)
	}
	if r.msg.Kind != wire.KindHandshake {
		t.Errorf("second client: got %s, want handshake", r.msg.Kind)
	}
	if !r.when.After(closed) {
		t.Error("second handshake arrived before the first session closed")
	}
	if reset, _, _, _ := res.Counts(); reset != 2 {
		t.Errorf("ResetStreaming calls: got %d, want 2", reset)
	}
}

func TestServer_WaitingClientThatLeavesIsSkipped(t *testing.T) {
	t.Parallel()
	res := testModel()
	srv, hs := startRelay(t, res, nil, nil)

	first := dial(t, hs)
	readMsg(t, first) // handshake

	second := dial(t, hs)
	eventually(t, "second client queued", func() bool { return srv.cfg.Guard.Waiting() == 1 })
	// Audio before the handshake is discarded.
	writeMsg(t, second, wire.KindAudio, pcmChunk(160))
	second.CloseNow()
	eventually(t, "second client left the queue", func() bool { return srv.cfg.Guard.Waiting() == 0 })
	if !srv.cfg.Guard.Busy() {
		t.Fatal("first session lost the model when the waiting client left")
	}

	first.CloseNow()
	eventually(t, "lease released", func() bool { return !srv.cfg.Guard.Busy() })

	reset, enc, _, _ := res.Counts()
	if reset != 1 {
		t.Errorf("ResetStreaming calls: got %d, want 1", reset)
	}
	if enc != 0 {
		t.Errorf("Encode calls: got %d, want 0", enc)
	}
}

func TestServer_ModelFailureOpensBreaker(t *testing.T) {
	t.Parallel()
	res := testModel()
	res.StepFunc = func(int, []int32) (model.TokenFrame, bool, error) {
		return nil, false, errors.New("out of memory")
	}
	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:         "model",
		MaxFailures:  1,
		ResetTimeout: time.Hour,
		IsFailure:    IsModelFailure,
	})
	srv, hs := startRelay(t, res, breaker, nil)

	conn := dial(t, hs)
	readMsg(t, conn) // handshake
	writeMsg(t, conn, wire.KindAudio, pcmChunk(80))

	if r := <-readAsync(conn); r.err == nil {
		t.Fatalf("got message %s after model failure, want connection closed", r.msg.Kind)
	}

	eventually(t, "breaker open", func() bool { return breaker.State() == resilience.StateOpen })
	eventually(t, "lease released", func() bool { return !srv.cfg.Guard.Busy() })

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, resp, err := websocket.Dial(ctx, wsURL(hs), nil)
	if err == nil {
		t.Fatal("dial succeeded while breaker open")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status: got %v, want 503", resp)
	}
}

func TestServer_ClientDisconnectDoesNotTripBreaker(t *testing.T) {
	t.Parallel()
	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:        "model",
		MaxFailures: 1,
		IsFailure:   IsModelFailure,
	})
	srv, hs := startRelay(t, testModel(), breaker, nil)

	for range 3 {
		conn := dial(t, hs)
		readMsg(t, conn) // handshake
		conn.CloseNow()
	}
	// The next session only starts once the previous one released the lease.
	conn := dial(t, hs)
	readMsg(t, conn)

	if breaker.State() != resilience.StateClosed {
		t.Errorf("breaker state: got %s, want closed", breaker.State())
	}
	if !srv.cfg.Guard.Busy() {
		t.Error("guard not busy during the last session")
	}
}

func TestServer_ShutdownEndsSessions(t *testing.T) {
	t.Parallel()
	srv, hs := startRelay(t, testModel(), nil, nil)

	active := dial(t, hs)
	readMsg(t, active) // handshake
	waiting := dial(t, hs)

	activeDone := readAsync(active)
	waitingDone := readAsync(waiting)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	for name, ch := range map[string]<-chan readResult{"active": activeDone, "waiting": waitingDone} {
		if r := <-ch; r.err == nil {
			t.Errorf("%s client: got message %s, want connection closed", name, r.msg.Kind)
		}
	}
	eventually(t, "lease released", func() bool { return !srv.cfg.Guard.Busy() })
}

func TestServer_RejectsPlainHTTP(t *testing.T) {
	t.Parallel()
	res := &mock.Resource{Rate: 1000, FPS: 12.5}
	_, hs := startRelay(t, res, nil, nil)

	resp, err := http.Get(hs.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode < 400 {
		t.Errorf("status: got %d, want a client error", resp.StatusCode)
	}
	if reset, _, _, _ := res.Counts(); reset != 0 {
		t.Errorf("ResetStreaming calls: got %d, want 0", reset)
	}
}
