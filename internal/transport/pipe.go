package transport

import (
	"sync"

	"github.com/eapache/queue"
)

// PipeTransport is one end of an in-process transport pair. It satisfies
// the same contract as WSTransport without a network, which makes it the
// transport of choice for tests.
type PipeTransport struct {
	events

	peer *PipeTransport
	pair *pipePair

	inMu  sync.Mutex
	inbox *queue.Queue
	wake  chan struct{}
}

type pipePair struct {
	once   sync.Once
	closed chan struct{}
}

// Pipe returns two connected transports that are already open
func Pipe() (*PipeTransport, *PipeTransport) {
	a, b := PendingPipe()
	a.Open()
	b.Open()
	return a, b
}

// PendingPipe returns two connected transports in StateConnecting. Each
// end starts delivering once Open is called on it.
func PendingPipe() (*PipeTransport, *PipeTransport) {
	pair := &pipePair{closed: make(chan struct{})}
	a := newPipeEnd(pair)
	b := newPipeEnd(pair)
	a.peer, b.peer = b, a
	return a, b
}

func newPipeEnd(pair *pipePair) *PipeTransport {
	p := &PipeTransport{
		pair:  pair,
		inbox: queue.New(),
		wake:  make(chan struct{}, 1),
	}
	p.events.init()
	return p
}

// Open transitions this end to StateOpen and starts delivering frames
func (p *PipeTransport) Open() {
	if p.setOpen() {
		go p.pump()
	}
}

// Send hands data to the peer end. Writes never fail once queued.
func (p *PipeTransport) Send(data []byte, sent func(error)) error {
	if err := p.sendable(); err != nil {
		return err
	}
	select {
	case <-p.pair.closed:
		return ErrClosed
	default:
	}

	frame := make([]byte, len(data))
	copy(frame, data)
	p.peer.push(frame)

	if sent != nil {
		sent(nil)
	}
	return nil
}

// Close closes both ends
func (p *PipeTransport) Close() error {
	p.pair.once.Do(func() {
		close(p.pair.closed)
	})
	p.shutdown()
	p.peer.shutdown()
	return nil
}

// shutdown finishes ends whose pump never started; running pumps finish
// on their own after draining.
func (p *PipeTransport) shutdown() {
	prev, ok := p.beginClose()
	if ok && prev == StateConnecting {
		p.finish(1000, "")
	}
}

// SimulateError delivers err to the error listeners of this end
func (p *PipeTransport) SimulateError(err error) {
	p.emitError(err)
}

func (p *PipeTransport) push(frame []byte) {
	p.inMu.Lock()
	p.inbox.Add(frame)
	p.inMu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *PipeTransport) pop() ([]byte, bool) {
	p.inMu.Lock()
	defer p.inMu.Unlock()

	if p.inbox.Length() == 0 {
		return nil, false
	}
	return p.inbox.Remove().([]byte), true
}

func (p *PipeTransport) drain() {
	for {
		frame, ok := p.pop()
		if !ok {
			return
		}
		p.deliver(frame)
	}
}

func (p *PipeTransport) pump() {
	for {
		select {
		case <-p.wake:
			p.drain()
		case <-p.pair.closed:
			p.drain()
			p.finish(1000, "")
			return
		}
	}
}
