package relay

import (
	"context"
	"sync/atomic"

	"github.com/coder/websocket"
)

// Conn is the message transport a [Session] runs over. Read and Write may be
// called concurrently with each other but not with themselves.
type Conn interface {
	// Read blocks for the next inbound message. binary is false for
	// text-typed transport frames.
	Read(ctx context.Context) (binary bool, data []byte, err error)

	// Write sends one binary message.
	Write(ctx context.Context, data []byte) error
}

type inboundMsg struct {
	binary bool
	data   []byte
}

// wsConn adapts a websocket connection to [Conn]. One goroutine owns the read
// side from accept until the handler returns, so a peer that leaves is seen
// while the session still waits for the model.
//
// Messages read before the session goes live are handed to early and
// discarded; the client must not send audio before the handshake.
type wsConn struct {
	c     *websocket.Conn
	early func(n int)

	live atomic.Bool
	msgs chan inboundMsg

	gone   context.Context
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// newWSConn starts reading c. Reading stops when ctx is done or the
// connection fails; cancelling ctx also closes c.
func newWSConn(ctx context.Context, c *websocket.Conn, early func(n int)) *wsConn {
	w := &wsConn{
		c:     c,
		early: early,
		msgs:  make(chan inboundMsg),
		done:  make(chan struct{}),
	}
	w.gone, w.cancel = context.WithCancel(ctx)
	go w.readLoop(ctx)
	return w
}

func (w *wsConn) readLoop(ctx context.Context) {
	defer close(w.done)
	defer w.cancel()
	for {
		typ, data, err := w.c.Read(ctx)
		if err != nil {
			w.err = err
			return
		}
		if !w.live.Load() {
			w.early(len(data))
			continue
		}
		select {
		case w.msgs <- inboundMsg{binary: typ == websocket.MessageBinary, data: data}:
		case <-ctx.Done():
			w.err = ctx.Err()
			return
		}
	}
}

// Alive is cancelled once the peer is gone or reading has stopped.
func (w *wsConn) Alive() context.Context { return w.gone }

// goLive starts delivering messages to Read.
func (w *wsConn) goLive() { w.live.Store(true) }

// wait blocks until the read loop has exited.
func (w *wsConn) wait() { <-w.done }

func (w *wsConn) Read(ctx context.Context) (bool, []byte, error) {
	select {
	case m := <-w.msgs:
		return m.binary, m.data, nil
	case <-w.done:
		return false, nil, w.err
	case <-ctx.Done():
		return false, nil, ctx.Err()
	}
}

func (w *wsConn) Write(ctx context.Context, data []byte) error {
	return w.c.Write(ctx, websocket.MessageBinary, data)
}
