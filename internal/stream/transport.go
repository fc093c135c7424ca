package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
)

// outboundBuffer is the depth of the fire-and-forget send queue. Media frames
// that arrive while the buffer is full are dropped, never blocked on.
const outboundBuffer = 256

// stopSendTimeout bounds the synchronous stop-message write during a
// deliberate close.
const stopSendTimeout = 2 * time.Second

// writeTimeout bounds each write-loop socket write. A peer that stops
// reading stalls the write under TCP backpressure; the timeout guarantees
// the loop exits and hands the socket over instead of wedging a later
// deliberate close.
const writeTimeout = 5 * time.Second

// transport owns one WebSocket connection and its read/write goroutines.
// The socket handle never leaves this type; capture and playback interact
// with it only through the session's emit and inbound-frame paths.
type transport struct {
	conn *websocket.Conn
	out  chan Envelope
	done chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	once       sync.Once
	wg         sync.WaitGroup
	writeDone  chan struct{}
	deliberate atomic.Bool
}

// dialTransport opens the socket and sends the start envelope before any
// loops run, guaranteeing that start is fully written ahead of all media.
// The context bounds only the dial and handshake.
func dialTransport(ctx context.Context, url, token string, start Envelope) (*transport, error) {
	opts := &websocket.DialOptions{}
	if token != "" {
		h := http.Header{}
		h.Set("Authorization", "Bearer "+token)
		opts.HTTPHeader = h
	}

	conn, _, err := websocket.Dial(ctx, url, opts)
	if err != nil {
		return nil, fmt.Errorf("stream: dial %s: %w", url, err)
	}

	raw, err := json.Marshal(start)
	if err != nil {
		conn.Close(websocket.StatusInternalError, "encode start")
		return nil, fmt.Errorf("stream: encode start: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, raw); err != nil {
		conn.Close(websocket.StatusInternalError, "send start")
		return nil, fmt.Errorf("stream: send start: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	return &transport{
		conn:      conn,
		out:       make(chan Envelope, outboundBuffer),
		done:      make(chan struct{}),
		ctx:       runCtx,
		cancel:    cancel,
		writeDone: make(chan struct{}),
	}, nil
}

// send queues an envelope without blocking. Returns false when the transport
// is closed or the buffer is full (the frame is dropped).
func (t *transport) send(env Envelope) bool {
	select {
	case <-t.done:
		return false
	default:
	}
	select {
	case t.out <- env:
		return true
	case <-t.done:
		return false
	default:
		return false
	}
}

// writeLoop serialises queued envelopes onto the socket in FIFO order. It is
// the only writer while running; closeDeliberate takes over the socket only
// after writeDone is closed.
func (t *transport) writeLoop() {
	defer t.wg.Done()
	defer close(t.writeDone)
	for {
		select {
		case env := <-t.out:
			raw, err := json.Marshal(env)
			if err != nil {
				slog.Error("stream: encode outbound envelope", "event", env.Event, "err", err)
				continue
			}
			wctx, cancel := context.WithTimeout(t.ctx, writeTimeout)
			err = t.conn.Write(wctx, websocket.MessageText, raw)
			cancel()
			if err != nil {
				return
			}
		case <-t.done:
			return
		}
	}
}

// readLoop delivers every inbound message to handle until the socket closes,
// then reports the close error to onClosed.
func (t *transport) readLoop(handle func(msg []byte), onClosed func(err error)) {
	defer t.wg.Done()
	for {
		_, msg, err := t.conn.Read(t.ctx)
		if err != nil {
			onClosed(err)
			return
		}
		handle(msg)
	}
}

// start launches the read and write goroutines.
func (t *transport) start(handle func(msg []byte), onClosed func(err error)) {
	t.wg.Add(2)
	go t.writeLoop()
	go t.readLoop(handle, onClosed)
}

// closeDeliberate performs the locally-initiated shutdown: it sends the stop
// envelope synchronously (if the socket is still open), then closes with the
// normal-closure code so no reconnection is triggered. Safe to call more
// than once; only the first call sends stop.
func (t *transport) closeDeliberate(stop Envelope) {
	t.once.Do(func() {
		t.deliberate.Store(true)
		close(t.done)

		// Wait for the write loop to hand over the socket before writing
		// stop; two concurrent writers are not allowed on the connection.
		<-t.writeDone

		ctx, cancel := context.WithTimeout(context.Background(), stopSendTimeout)
		defer cancel()
		if raw, err := json.Marshal(stop); err == nil {
			if err := t.conn.Write(ctx, websocket.MessageText, raw); err != nil {
				slog.Debug("stream: stop message not delivered", "err", err)
			}
		}

		t.conn.Close(websocket.StatusNormalClosure, "session ended")
		t.wg.Wait()
		t.cancel()
	})
}

// closeQuiet tears the socket down without sending stop, for remote-initiated
// termination where the peer already ended the stream. It does not wait for
// the loops (it may be invoked from the read loop itself).
func (t *transport) closeQuiet() {
	t.once.Do(func() {
		t.deliberate.Store(true)
		close(t.done)
		t.cancel()
		t.conn.Close(websocket.StatusNormalClosure, "")
	})
}
