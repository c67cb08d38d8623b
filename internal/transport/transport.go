// Package transport provides the raw duplex message transports that carry
// one upgraded connection.
//
// Every transport follows the same lifecycle:
//
//	Connecting -> Open -> Closing -> Closed
//
// Frames can only be sent while Open. Readiness is observed through
// WhenOpen, which runs its callback immediately when the transport is
// already open and queues it otherwise.
package transport

import (
	"errors"
)

// State is the lifecycle state of a transport
type State int32

const (
	// StateConnecting means the handshake finished but frames cannot flow yet
	StateConnecting State = iota
	// StateOpen means frames can be sent and received
	StateOpen
	// StateClosing means a close was requested and is in progress
	StateClosing
	// StateClosed is terminal
	StateClosed
)

// String returns string representation of the state
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Common transport errors
var (
	// ErrClosed is returned when sending on a closing or closed transport
	ErrClosed = errors.New("transport is closed")

	// ErrNotOpen is returned when sending before the transport opened
	ErrNotOpen = errors.New("transport is not open")

	// ErrQueueFull is returned when the outbound queue is at capacity
	ErrQueueFull = errors.New("send queue is full")
)

// Transport is a message-oriented duplex connection.
//
// Listener callbacks registered on one transport never run concurrently
// with each other. A message callback must not register further message
// listeners on the same transport.
type Transport interface {
	// State returns the current lifecycle state.
	State() State

	// WhenOpen runs fn once the transport is open. It runs fn synchronously
	// if the transport is already open and never runs it if the transport
	// closes first.
	WhenOpen(fn func())

	// Send queues data for transmission. The synchronous error reports
	// state or capacity problems; sent, if non-nil, receives the result of
	// the actual write.
	Send(data []byte, sent func(error)) error

	// OnMessage registers a listener for inbound frames, in arrival order.
	// Frames received before the first listener registers are buffered
	// until it does; frames still buffered at close are discarded.
	OnMessage(fn func(data []byte))

	// OnError registers a listener for transport-level runtime errors.
	OnError(fn func(err error))

	// OnClose registers a listener that fires exactly once when the
	// transport reaches StateClosed. Registering after close fires it
	// immediately.
	OnClose(fn func(code int, reason string))

	// Close requests closure. It is safe to call more than once.
	Close() error
}

// Holder is implemented by transports that can defer inbound delivery
// while several listeners are being attached. The returned function ends
// the hold and flushes anything buffered in the meantime.
type Holder interface {
	Hold() (release func())
}
