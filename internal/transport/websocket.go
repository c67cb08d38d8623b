package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/codefionn/wsrpc/internal/logger"
	"github.com/eapache/queue"
	"github.com/gorilla/websocket"
)

// Options tunes a WebSocket transport
type Options struct {
	// Maximum message size allowed from peer.
	MaxMessageSize int64

	// Send pings to peer with this period. Must be less than PongTimeout.
	PingInterval time.Duration

	// Time allowed to read the next pong message from the peer.
	PongTimeout time.Duration

	// Time allowed to write a message to the peer.
	WriteTimeout time.Duration

	// Time allowed for the peer to answer a close frame.
	CloseTimeout time.Duration

	// Maximum number of frames waiting to be written.
	SendQueueSize int

	// Frame type used for outbound messages.
	MessageType int
}

// DefaultOptions returns the defaults used by the server
func DefaultOptions() Options {
	return Options{
		MaxMessageSize: 1 << 20,
		PingInterval:   54 * time.Second,
		PongTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
		CloseTimeout:   time.Second,
		SendQueueSize:  256,
		MessageType:    websocket.TextMessage,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = def.MaxMessageSize
	}
	if o.PongTimeout <= 0 {
		o.PongTimeout = def.PongTimeout
	}
	if o.PingInterval <= 0 || o.PingInterval >= o.PongTimeout {
		o.PingInterval = (o.PongTimeout * 9) / 10
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = def.WriteTimeout
	}
	if o.CloseTimeout <= 0 {
		o.CloseTimeout = def.CloseTimeout
	}
	if o.SendQueueSize <= 0 {
		o.SendQueueSize = def.SendQueueSize
	}
	if o.MessageType != websocket.BinaryMessage {
		o.MessageType = websocket.TextMessage
	}
	return o
}

type outbound struct {
	data []byte
	sent func(error)
}

// WSTransport is a Transport backed by a gorilla WebSocket connection
type WSTransport struct {
	events

	conn *websocket.Conn
	opts Options
	log  *logger.Logger

	sendMu  sync.Mutex
	outbox  *queue.Queue
	drained bool // set once the outbox was failed; later frames are refused
	wake    chan struct{}
	done    chan struct{}
}

// NewWSTransport wraps an established WebSocket connection. The transport
// starts in StateConnecting; Open starts the pumps.
func NewWSTransport(conn *websocket.Conn, opts Options) *WSTransport {
	t := &WSTransport{
		conn:   conn,
		opts:   opts.withDefaults(),
		log:    logger.Global().WithPrefix("ws"),
		outbox: queue.New(),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	t.events.init()
	return t
}

// Open transitions to StateOpen, runs pending WhenOpen callbacks, then
// starts the read and write pumps.
func (t *WSTransport) Open() {
	if !t.setOpen() {
		return
	}
	go t.writePump()
	go t.readPump()
}

// RemoteAddr returns the peer address
func (t *WSTransport) RemoteAddr() string {
	return t.conn.RemoteAddr().String()
}

// Send queues data for the write pump
func (t *WSTransport) Send(data []byte, sent func(error)) error {
	if err := t.sendable(); err != nil {
		return err
	}

	t.sendMu.Lock()
	if t.drained {
		t.sendMu.Unlock()
		return ErrClosed
	}
	if t.outbox.Length() >= t.opts.SendQueueSize {
		t.sendMu.Unlock()
		return ErrQueueFull
	}
	frame := make([]byte, len(data))
	copy(frame, data)
	t.outbox.Add(outbound{data: frame, sent: sent})
	t.sendMu.Unlock()

	select {
	case t.wake <- struct{}{}:
	default:
	}
	return nil
}

// Close sends a close frame and lets the read pump observe the peer's
// answer. The connection is dropped after CloseTimeout either way.
func (t *WSTransport) Close() error {
	prev, ok := t.beginClose()
	if !ok {
		return nil
	}

	if prev == StateConnecting {
		err := t.conn.Close()
		t.finish(websocket.CloseAbnormalClosure, "")
		t.failQueued()
		return err
	}

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	deadline := time.Now().Add(t.opts.WriteTimeout)
	if err := t.conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
		t.log.Debug("Failed to write close frame: %v", err)
		return t.conn.Close()
	}

	time.AfterFunc(t.opts.CloseTimeout, func() {
		_ = t.conn.Close()
	})
	return nil
}

// nextFrame pops the oldest queued frame
func (t *WSTransport) nextFrame() (outbound, bool) {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()

	if t.outbox.Length() == 0 {
		return outbound{}, false
	}
	return t.outbox.Remove().(outbound), true
}

// failQueued reports ErrClosed for every frame that was never written and
// refuses frames sent afterwards
func (t *WSTransport) failQueued() {
	t.sendMu.Lock()
	t.drained = true
	t.sendMu.Unlock()

	for {
		frame, ok := t.nextFrame()
		if !ok {
			return
		}
		if frame.sent != nil {
			frame.sent(ErrClosed)
		}
	}
}

// readPump pumps frames from the connection to the message listeners
func (t *WSTransport) readPump() {
	code, reason := websocket.CloseAbnormalClosure, ""
	defer func() {
		close(t.done)
		_ = t.conn.Close()
		t.finish(code, reason)
		t.failQueued()
	}()

	t.conn.SetReadLimit(t.opts.MaxMessageSize)
	_ = t.conn.SetReadDeadline(time.Now().Add(t.opts.PongTimeout))
	t.conn.SetPongHandler(func(string) error {
		return t.conn.SetReadDeadline(time.Now().Add(t.opts.PongTimeout))
	})

	for {
		_, message, err := t.conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				code, reason = closeErr.Code, closeErr.Text
			}
			if t.State() == StateOpen && websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				t.log.Debug("WebSocket read error: %v", err)
				t.emitError(err)
			}
			return
		}
		t.deliver(message)
	}
}

// writePump pumps queued frames to the connection and keeps it alive. A
// failed write drops the connection; the read pump then closes the
// transport and fails whatever is still queued.
func (t *WSTransport) writePump() {
	ticker := time.NewTicker(t.opts.PingInterval)
	defer func() {
		ticker.Stop()
		_ = t.conn.Close()
	}()

	for {
		select {
		case <-t.wake:
			for {
				frame, ok := t.nextFrame()
				if !ok {
					break
				}
				_ = t.conn.SetWriteDeadline(time.Now().Add(t.opts.WriteTimeout))
				err := t.conn.WriteMessage(t.opts.MessageType, frame.data)
				if frame.sent != nil {
					frame.sent(err)
				}
				if err != nil {
					t.log.Debug("WebSocket write error: %v", err)
					return
				}
			}

		case <-ticker.C:
			deadline := time.Now().Add(t.opts.WriteTimeout)
			if err := t.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				t.log.Debug("Failed to write ping: %v", err)
				return
			}

		case <-t.done:
			return
		}
	}
}

// Dial opens a client-side WebSocket transport to url
func Dial(ctx context.Context, url string, header http.Header, opts Options) (*WSTransport, error) {
	dialer := websocket.Dialer{
		Proxy:             http.ProxyFromEnvironment,
		HandshakeTimeout:  45 * time.Second,
		EnableCompression: false,
	}

	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("failed to dial %s: %w", url, err)
	}

	t := NewWSTransport(conn, opts)
	t.Open()
	return t, nil
}
