package transport

import (
	"sync"

	"github.com/codefionn/wsrpc/internal/logger"
	"github.com/eapache/queue"
)

// events holds the lifecycle state machine and the listener lists shared
// by every transport implementation.
type events struct {
	mu        sync.Mutex
	state     State
	openWait  []func()
	onMessage []func([]byte)
	onError   []func(error)
	onClose   []func(int, string)
	held      int

	// inbound frames waiting for a listener or for a hold to end
	pending *queue.Queue

	// serializes listener invocations
	deliverMu sync.Mutex

	closeCode   int
	closeReason string
}

func (e *events) init() {
	e.state = StateConnecting
	e.pending = queue.New()
}

// State returns the current lifecycle state
func (e *events) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// WhenOpen runs fn now if open, later if connecting, never otherwise
func (e *events) WhenOpen(fn func()) {
	e.mu.Lock()
	switch e.state {
	case StateOpen:
		e.mu.Unlock()
		fn()
	case StateConnecting:
		e.openWait = append(e.openWait, fn)
		e.mu.Unlock()
	default:
		e.mu.Unlock()
	}
}

// OnMessage registers a frame listener and flushes buffered frames to it
func (e *events) OnMessage(fn func([]byte)) {
	e.deliverMu.Lock()
	defer e.deliverMu.Unlock()

	e.mu.Lock()
	e.onMessage = append(e.onMessage, fn)
	frames := e.takePendingLocked()
	e.mu.Unlock()

	for _, frame := range frames {
		fn(frame)
	}
}

// OnError registers an error listener
func (e *events) OnError(fn func(error)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onError = append(e.onError, fn)
}

// OnClose registers a close listener
func (e *events) OnClose(fn func(int, string)) {
	e.mu.Lock()
	if e.state == StateClosed {
		code, reason := e.closeCode, e.closeReason
		e.mu.Unlock()
		fn(code, reason)
		return
	}
	e.onClose = append(e.onClose, fn)
	e.mu.Unlock()
}

// Hold buffers inbound frames until the returned release func is called
func (e *events) Hold() func() {
	e.mu.Lock()
	e.held++
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(e.release)
	}
}

func (e *events) release() {
	e.deliverMu.Lock()
	defer e.deliverMu.Unlock()

	e.mu.Lock()
	e.held--
	frames := e.takePendingLocked()
	listeners := append([]func([]byte){}, e.onMessage...)
	e.mu.Unlock()

	for _, frame := range frames {
		for _, fn := range listeners {
			fn(frame)
		}
	}
}

// takePendingLocked drains buffered frames when delivery is possible.
// Caller must hold e.mu.
func (e *events) takePendingLocked() [][]byte {
	if e.held > 0 || len(e.onMessage) == 0 || e.pending.Length() == 0 {
		return nil
	}
	frames := make([][]byte, 0, e.pending.Length())
	for e.pending.Length() > 0 {
		frames = append(frames, e.pending.Remove().([]byte))
	}
	return frames
}

// setOpen moves Connecting to Open and runs the queued open callbacks
func (e *events) setOpen() bool {
	e.mu.Lock()
	if e.state != StateConnecting {
		e.mu.Unlock()
		return false
	}
	e.state = StateOpen
	waiters := e.openWait
	e.openWait = nil
	e.mu.Unlock()

	for _, fn := range waiters {
		fn()
	}
	return true
}

// beginClose moves the transport into Closing and reports the state it
// left. ok is false when a close was already in progress or done.
func (e *events) beginClose() (prev State, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	prev = e.state
	if prev >= StateClosing {
		return prev, false
	}
	e.state = StateClosing
	e.openWait = nil
	return prev, true
}

// sendable reports why a frame cannot be sent right now, if it cannot
func (e *events) sendable() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case StateOpen:
		return nil
	case StateConnecting:
		return ErrNotOpen
	default:
		return ErrClosed
	}
}

// deliver hands one inbound frame to every message listener
func (e *events) deliver(frame []byte) {
	e.deliverMu.Lock()
	defer e.deliverMu.Unlock()

	e.mu.Lock()
	if e.state == StateClosed {
		e.mu.Unlock()
		return
	}
	if e.held > 0 || len(e.onMessage) == 0 {
		e.pending.Add(frame)
		e.mu.Unlock()
		return
	}
	listeners := append([]func([]byte){}, e.onMessage...)
	e.mu.Unlock()

	for _, fn := range listeners {
		fn(frame)
	}
}

// emitError hands a runtime error to every error listener
func (e *events) emitError(err error) {
	e.deliverMu.Lock()
	defer e.deliverMu.Unlock()

	e.mu.Lock()
	listeners := append([]func(error){}, e.onError...)
	e.mu.Unlock()

	for _, fn := range listeners {
		fn(err)
	}
}

// finish moves the transport into Closed and fires close listeners once.
// Frames still buffered for a missing listener or an active hold are
// discarded.
func (e *events) finish(code int, reason string) {
	// wait for any in-flight delivery so close always comes last
	e.deliverMu.Lock()
	e.mu.Lock()
	if e.state == StateClosed {
		e.mu.Unlock()
		e.deliverMu.Unlock()
		return
	}
	e.state = StateClosed
	e.closeCode = code
	e.closeReason = reason
	e.openWait = nil
	listeners := e.onClose
	e.onClose = nil
	dropped := e.pending.Length()
	for e.pending.Length() > 0 {
		e.pending.Remove()
	}
	e.mu.Unlock()
	e.deliverMu.Unlock()

	if dropped > 0 {
		logger.Global().Warn("Transport closed with %d undelivered frame(s)", dropped)
	}

	for _, fn := range listeners {
		fn(code, reason)
	}
}
