package bridge

import "sync"

// Transport moves messages one way each direction. Send may block; Endpoint
// keeps callers off that path.
type Transport interface {
	Send(Message) error
	Recv() (Message, error)
	Close() error
}

const pipeBuffer = 64

// Pipe returns the two ends of an in-process transport. Closing either end
// closes both.
func Pipe() (Transport, Transport) {
	ab := make(chan Message, pipeBuffer)
	ba := make(chan Message, pipeBuffer)
	p := &pipeState{done: make(chan struct{})}
	return &pipeEnd{p: p, in: ba, out: ab}, &pipeEnd{p: p, in: ab, out: ba}
}

type pipeState struct {
	once sync.Once
	done chan struct{}
}

type pipeEnd struct {
	p   *pipeState
	in  <-chan Message
	out chan<- Message
}

func (e *pipeEnd) Send(m Message) error {
	select {
	case <-e.p.done:
		return ErrClosed
	default:
	}
	select {
	case e.out <- m.clone():
		return nil
	case <-e.p.done:
		return ErrClosed
	}
}

func (e *pipeEnd) Recv() (Message, error) {
	select {
	case m := <-e.in:
		return m, nil
	case <-e.p.done:
		return Message{}, ErrClosed
	}
}

func (e *pipeEnd) Close() error {
	e.p.once.Do(func() { close(e.p.done) })
	return nil
}
