package messaging

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/codefionn/wsrpc/internal/socket"
)

// socketStream adapts a Socket to jsonrpc2.ObjectStream. Each frame carries
// exactly one JSON-RPC message.
type socketStream struct {
	sock socket.Socket
	log  Logger

	incoming chan []byte
	closed   chan struct{}
	once     sync.Once

	mu  sync.Mutex
	err error
}

func newSocketStream(sock socket.Socket, log Logger) *socketStream {
	s := &socketStream{
		sock:     sock,
		log:      log,
		incoming: make(chan []byte, 16),
		closed:   make(chan struct{}),
	}

	sock.OnMessage(func(content []byte) {
		select {
		case s.incoming <- content:
		case <-s.closed:
		}
	})
	sock.OnError(func(err error) {
		s.log.Warn("Socket error: %v", err)
		s.setErr(err)
	})
	sock.OnClose(func(code int, reason string) {
		if code != 1000 && code != 1001 {
			s.setErr(fmt.Errorf("socket closed with code %d: %s", code, reason))
		}
		s.shutdown()
	})

	return s
}

func (s *socketStream) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *socketStream) closeErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	return io.EOF
}

func (s *socketStream) shutdown() {
	s.once.Do(func() { close(s.closed) })
}

// WriteObject encodes obj and sends it as one frame
func (s *socketStream) WriteObject(obj interface{}) error {
	data, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return s.sock.Send(data)
}

// ReadObject decodes the next frame into v. Malformed frames are logged and
// skipped.
func (s *socketStream) ReadObject(v interface{}) error {
	for {
		data, ok := s.next()
		if !ok {
			return s.closeErr()
		}
		if err := json.Unmarshal(data, v); err != nil {
			s.log.Error("Dropping malformed message: %v", err)
			continue
		}
		return nil
	}
}

// next prefers buffered frames over the close signal so nothing received
// before close is lost.
func (s *socketStream) next() ([]byte, bool) {
	select {
	case data := <-s.incoming:
		return data, true
	default:
	}

	select {
	case data := <-s.incoming:
		return data, true
	case <-s.closed:
		select {
		case data := <-s.incoming:
			return data, true
		default:
			return nil, false
		}
	}
}

// Close disposes the socket
func (s *socketStream) Close() error {
	s.sock.Dispose()
	s.shutdown()
	return nil
}
