// Package socket exposes a transport through the minimal capability set the
// RPC layer needs: send, receive, error, close and dispose. It knows nothing
// about framing, request correlation or protocol semantics.
package socket

import (
	"github.com/codefionn/wsrpc/internal/transport"
)

// Socket is a raw duplex message channel
type Socket interface {
	// Send queues content for transmission. Write failures that happen
	// after queueing are reported to the logger only.
	Send(content []byte) error
	// OnMessage registers a handler invoked once per received frame
	OnMessage(cb func(content []byte))
	// OnError registers a handler for transport-level errors
	OnError(cb func(err error))
	// OnClose registers a handler invoked once when the transport closes
	OnClose(cb func(code int, reason string))
	// Dispose closes the underlying transport unless it is already closing
	Dispose()
}

// ErrorLogger receives send failures
type ErrorLogger interface {
	Error(format string, args ...interface{})
}

type transportSocket struct {
	t   transport.Transport
	log ErrorLogger
}

// FromTransport adapts t to the Socket interface
func FromTransport(t transport.Transport, log ErrorLogger) Socket {
	return &transportSocket{t: t, log: log}
}

func (s *transportSocket) Send(content []byte) error {
	err := s.t.Send(content, func(err error) {
		if err != nil {
			s.log.Error("Failed to send message: %v", err)
		}
	})
	if err != nil {
		s.log.Error("Failed to send message: %v", err)
	}
	return err
}

func (s *transportSocket) OnMessage(cb func(content []byte)) {
	s.t.OnMessage(cb)
}

func (s *transportSocket) OnError(cb func(err error)) {
	s.t.OnError(cb)
}

func (s *transportSocket) OnClose(cb func(code int, reason string)) {
	s.t.OnClose(cb)
}

func (s *transportSocket) Dispose() {
	if s.t.State() >= transport.StateClosing {
		return
	}
	if err := s.t.Close(); err != nil {
		s.log.Error("Failed to close socket: %v", err)
	}
}
