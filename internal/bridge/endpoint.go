package bridge

import (
	"errors"
	"io"
	"log"
	"sync"

	"github.com/jaakkos/hangout/internal/domain"
)

// Endpoint is one side of the bridge. Outgoing messages are queued and sent
// in call order by a single goroutine; incoming messages are dispatched in
// arrival order by another. Register handlers before Start.
type Endpoint struct {
	name   string
	t      Transport
	logger *log.Logger

	mu      sync.Mutex
	queue   []Message
	closing bool
	started bool
	wake    chan struct{}

	onRoster        func(domain.Roster)
	onRosterRequest func()
	onCapture       func(ignore bool)
	onOpen          func(domain.Roster)
	onClose         func()

	sendDone chan struct{}
	recvDone chan struct{}
}

// NewEndpoint wraps t. name prefixes log lines ("primary", "overlay").
func NewEndpoint(name string, t Transport, logger *log.Logger) *Endpoint {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Endpoint{
		name:     name,
		t:        t,
		logger:   logger,
		wake:     make(chan struct{}, 1),
		sendDone: make(chan struct{}),
		recvDone: make(chan struct{}),
	}
}

// OnRosterUpdate registers the handler for pushed rosters.
func (e *Endpoint) OnRosterUpdate(fn func(domain.Roster)) { e.onRoster = fn }

// OnRosterRequest registers the handler for snapshot requests.
func (e *Endpoint) OnRosterRequest(fn func()) { e.onRosterRequest = fn }

// OnCaptureModeChanged registers the handler for capture mode messages.
func (e *Endpoint) OnCaptureModeChanged(fn func(ignore bool)) { e.onCapture = fn }

// OnOpenSurface registers the handler for open-surface requests.
func (e *Endpoint) OnOpenSurface(fn func(domain.Roster)) { e.onOpen = fn }

// OnCloseSurface registers the handler for close-surface requests.
func (e *Endpoint) OnCloseSurface(fn func()) { e.onClose = fn }

// Start launches the send and receive goroutines.
func (e *Endpoint) Start() {
	e.mu.Lock()
	if e.started || e.closing {
		e.mu.Unlock()
		return
	}
	e.started = true
	e.mu.Unlock()
	go e.sendLoop()
	go e.recvLoop()
}

// PushRoster sends a roster snapshot.
func (e *Endpoint) PushRoster(r domain.Roster) {
	e.enqueue(Message{Kind: KindRoster, Roster: &r})
}

// RequestRosterSnapshot asks the other side to push its current roster.
func (e *Endpoint) RequestRosterSnapshot() {
	e.enqueue(Message{Kind: KindRoster, Pull: true})
}

// RequestCaptureMode sends a capture mode change.
func (e *Endpoint) RequestCaptureMode(ignore bool) {
	e.enqueue(Message{Kind: KindCaptureMode, Ignore: ignore})
}

// OpenSurface asks the overlay side to ensure a surface for space showing r.
func (e *Endpoint) OpenSurface(space domain.SpaceID, r domain.Roster) {
	r.SpaceID = space
	e.enqueue(Message{Kind: KindOpenSurface, Roster: &r})
}

// CloseSurface asks the overlay side to tear its surface down.
func (e *Endpoint) CloseSurface() {
	e.enqueue(Message{Kind: KindCloseSurface})
}

func (e *Endpoint) enqueue(m Message) {
	if err := m.Validate(); err != nil {
		e.logger.Printf("Bridge(%s): dropping outgoing message: %v", e.name, err)
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closing {
		return
	}
	e.queue = append(e.queue, m)
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Pending returns the number of queued outgoing messages.
func (e *Endpoint) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

func (e *Endpoint) sendLoop() {
	defer close(e.sendDone)
	for range e.wake {
		for {
			e.mu.Lock()
			if len(e.queue) == 0 {
				closing := e.closing
				e.mu.Unlock()
				if closing {
					return
				}
				break
			}
			m := e.queue[0]
			e.queue[0] = Message{}
			e.queue = e.queue[1:]
			e.mu.Unlock()

			if err := e.t.Send(m); err != nil {
				if errors.Is(err, ErrClosed) {
					e.drop()
					return
				}
				e.logger.Printf("Bridge(%s): send %s failed: %v", e.name, m.Kind, err)
			}
		}
	}
}

func (e *Endpoint) drop() {
	e.mu.Lock()
	e.queue = nil
	e.mu.Unlock()
}

func (e *Endpoint) recvLoop() {
	defer close(e.recvDone)
	for {
		m, err := e.t.Recv()
		if err != nil {
			if !errors.Is(err, ErrClosed) {
				e.logger.Printf("Bridge(%s): receive failed: %v", e.name, err)
			}
			return
		}
		e.dispatch(m)
	}
}

func (e *Endpoint) dispatch(m Message) {
	if err := m.Validate(); err != nil {
		e.logger.Printf("Bridge(%s): dropping incoming message: %v", e.name, err)
		return
	}
	switch m.Kind {
	case KindRoster:
		if m.Roster == nil {
			if e.onRosterRequest != nil {
				e.onRosterRequest()
			}
			return
		}
		if e.onRoster != nil {
			e.onRoster(*m.Roster)
		}
	case KindCaptureMode:
		if e.onCapture != nil {
			e.onCapture(m.Ignore)
		}
	case KindOpenSurface:
		if e.onOpen != nil {
			e.onOpen(*m.Roster)
		}
	case KindCloseSurface:
		if e.onClose != nil {
			e.onClose()
		}
	}
}

// Done is closed when the receive side has stopped, e.g. the peer hung up.
func (e *Endpoint) Done() <-chan struct{} { return e.recvDone }

// Close flushes queued messages, closes the transport and waits for both
// goroutines. Must not be called from a handler.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	if e.closing {
		e.mu.Unlock()
		return nil
	}
	e.closing = true
	started := e.started
	close(e.wake)
	e.mu.Unlock()

	if started {
		<-e.sendDone
	}
	err := e.t.Close()
	if started {
		<-e.recvDone
	}
	return err
}
