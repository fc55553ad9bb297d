// Package bus is the in-process ephemeral broadcast bus for motion and gesture
// events. Delivery is at-most-once: Publish never blocks, and an event that
// does not fit a subscriber's buffer is dropped for that subscriber.
package bus

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/jaakkos/hangout/internal/domain"
)

const defaultBuffer = 64

// ErrClosed is returned by Subscribe after Close.
var ErrClosed = errors.New("bus: closed")

// Bus is the publish/subscribe primitive the overlay consumes. Implementations
// give no ordering or delivery guarantee.
type Bus interface {
	Publish(space domain.SpaceID, ev domain.MotionEvent)
	Subscribe(space domain.SpaceID, onEvent func(domain.MotionEvent)) (cancel func(), err error)
}

// Stats counts deliveries for one subscriber.
type Stats struct {
	Sent    uint64
	Dropped uint64
}

type subscriber struct {
	id      string
	ch      chan domain.MotionEvent
	onEvent func(domain.MotionEvent)
	done    chan struct{}
	sent    uint64
	dropped uint64
}

// Hub is a Bus scoped by space. Each subscriber has its own buffered channel
// drained by its own goroutine, so a slow subscriber only loses its own events.
type Hub struct {
	mu        sync.RWMutex
	spaces    map[domain.SpaceID]map[string]*subscriber
	buffer    int
	closed    bool
	published uint64
}

// Option configures a Hub.
type Option func(*Hub)

// WithBuffer sets the per-subscriber buffer size.
func WithBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// New creates a Hub.
func New(opts ...Option) *Hub {
	h := &Hub{
		spaces: make(map[domain.SpaceID]map[string]*subscriber),
		buffer: defaultBuffer,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Publish fans ev out to every subscriber of space without blocking.
func (h *Hub) Publish(space domain.SpaceID, ev domain.MotionEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	atomic.AddUint64(&h.published, 1)
	for _, sub := range h.spaces[space] {
		select {
		case sub.ch <- ev:
			atomic.AddUint64(&sub.sent, 1)
		default:
			atomic.AddUint64(&sub.dropped, 1)
		}
	}
}

// Subscribe registers onEvent for space. onEvent runs on a goroutine owned by
// the subscription; cancel stops it and waits for an in-flight call to return.
func (h *Hub) Subscribe(space domain.SpaceID, onEvent func(domain.MotionEvent)) (func(), error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}
	sub := &subscriber{
		id:      uuid.NewString(),
		ch:      make(chan domain.MotionEvent, h.buffer),
		onEvent: onEvent,
		done:    make(chan struct{}),
	}
	if h.spaces[space] == nil {
		h.spaces[space] = make(map[string]*subscriber)
	}
	h.spaces[space][sub.id] = sub
	go sub.run()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			if subs := h.spaces[space]; subs != nil {
				if _, ok := subs[sub.id]; ok {
					delete(subs, sub.id)
					close(sub.ch)
				}
				if len(subs) == 0 {
					delete(h.spaces, space)
				}
			}
			h.mu.Unlock()
			<-sub.done
		})
	}, nil
}

func (s *subscriber) run() {
	defer close(s.done)
	for ev := range s.ch {
		s.onEvent(ev)
	}
}

// Subscribers returns the number of subscribers for space.
func (h *Hub) Subscribers(space domain.SpaceID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.spaces[space])
}

// Stats sums delivery counters across the subscribers of space.
func (h *Hub) Stats(space domain.SpaceID) Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var st Stats
	for _, sub := range h.spaces[space] {
		st.Sent += atomic.LoadUint64(&sub.sent)
		st.Dropped += atomic.LoadUint64(&sub.dropped)
	}
	return st
}

// Published returns the number of Publish calls accepted.
func (h *Hub) Published() uint64 {
	return atomic.LoadUint64(&h.published)
}

// Close stops every subscription. Later publishes are ignored.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	var subs []*subscriber
	for _, m := range h.spaces {
		for _, sub := range m {
			close(sub.ch)
			subs = append(subs, sub)
		}
	}
	h.spaces = nil
	h.mu.Unlock()
	for _, sub := range subs {
		<-sub.done
	}
}
