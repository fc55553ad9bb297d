package overlay

import (
	"fmt"
	"sync"
	"time"

	"github.com/jaakkos/hangout/internal/clock"
	"github.com/jaakkos/hangout/internal/domain"
)

// DefaultHoverRelease is the debounce between the last hover-leave and
// returning the surface to click-through.
const DefaultHoverRelease = 100 * time.Millisecond

// CapturePolicy selects how click-through is expressed to the platform.
type CapturePolicy string

const (
	// PolicyForward keeps pointer-move forwarding on while ignoring clicks so
	// hover-enter is still observed.
	PolicyForward CapturePolicy = "forward"
	// PolicyToggle switches a plain boolean; the platform must detect hover
	// on its own.
	PolicyToggle CapturePolicy = "toggle"
)

// ParseCapturePolicy validates a policy name. Empty means forward.
func ParseCapturePolicy(s string) (CapturePolicy, error) {
	switch CapturePolicy(s) {
	case "", PolicyForward:
		return PolicyForward, nil
	case PolicyToggle:
		return PolicyToggle, nil
	}
	return "", fmt.Errorf("unknown capture policy %q (want forward or toggle)", s)
}

// Arbiter decides the surface capture state from hover and drag requests of
// every avatar. Capture is taken immediately; release happens only when no
// avatar is hovered or dragged, debounced after a hover-leave. apply is
// called with the lock held, only when the state actually changes.
type Arbiter struct {
	delay time.Duration
	clock clock.Clock
	apply func(ignore bool)

	mu       sync.Mutex
	hovered  map[domain.ParticipantID]bool
	dragging map[domain.ParticipantID]bool
	ignore   bool
	release  *clock.Timer
	seq      uint64
}

// NewArbiter returns an arbiter in click-through state.
func NewArbiter(delay time.Duration, c clock.Clock, apply func(ignore bool)) *Arbiter {
	if delay < 0 {
		delay = 0
	}
	return &Arbiter{
		delay:    delay,
		clock:    clock.OrReal(c),
		apply:    apply,
		hovered:  make(map[domain.ParticipantID]bool),
		dragging: make(map[domain.ParticipantID]bool),
		ignore:   true,
	}
}

func (a *Arbiter) HoverEnter(id domain.ParticipantID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.hovered[id] = true
	a.captureLocked()
}

// HoverLeave schedules a release if nothing else holds capture.
func (a *Arbiter) HoverLeave(id domain.ParticipantID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.hovered, id)
	if a.busyLocked() {
		return
	}
	if a.delay == 0 {
		a.setLocked(true)
		return
	}
	a.release.Stop()
	a.seq++
	seq := a.seq
	a.release = a.clock.AfterFunc(a.delay, func() { a.fireRelease(seq) })
}

func (a *Arbiter) DragStart(id domain.ParticipantID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.dragging[id] = true
	a.captureLocked()
}

// DragEnd releases immediately unless a hover keeps capture.
func (a *Arbiter) DragEnd(id domain.ParticipantID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.dragging, id)
	if !a.busyLocked() {
		a.cancelReleaseLocked()
		a.setLocked(true)
	}
}

// Forget drops every claim of an avatar that left the surface.
func (a *Arbiter) Forget(id domain.ParticipantID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, h := a.hovered[id]
	_, d := a.dragging[id]
	if !h && !d {
		return
	}
	delete(a.hovered, id)
	delete(a.dragging, id)
	if !a.busyLocked() {
		a.cancelReleaseLocked()
		a.setLocked(true)
	}
}

// Stop cancels a pending release without applying it.
func (a *Arbiter) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cancelReleaseLocked()
}

// Ignore reports the arbitrated click-through state.
func (a *Arbiter) Ignore() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ignore
}

func (a *Arbiter) fireRelease(seq uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if seq != a.seq || a.busyLocked() {
		return
	}
	a.release = nil
	a.setLocked(true)
}

func (a *Arbiter) captureLocked() {
	a.cancelReleaseLocked()
	a.setLocked(false)
}

func (a *Arbiter) cancelReleaseLocked() {
	a.release.Stop()
	a.release = nil
	a.seq++
}

func (a *Arbiter) busyLocked() bool {
	return len(a.hovered) > 0 || len(a.dragging) > 0
}

func (a *Arbiter) setLocked(ignore bool) {
	if a.ignore == ignore {
		return
	}
	a.ignore = ignore
	if a.apply != nil {
		a.apply(ignore)
	}
}
