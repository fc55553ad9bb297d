// Package avatar reconciles one participant's displayed state. The local
// participant's drags are applied optimistically; remote motion events and
// roster snapshots are applied only when they cannot overwrite a newer local
// write.
package avatar

import (
	"sync"
	"time"

	"github.com/jaakkos/hangout/internal/clock"
	"github.com/jaakkos/hangout/internal/domain"
)

const (
	DefaultGestureDuration = 2 * time.Second
	DefaultRemoteSettle    = 750 * time.Millisecond
	DefaultEchoTimeout     = 5 * time.Second
	DefaultSize            = 64
)

// State is the reconciliation state of a loop.
type State int

const (
	// Idle displays the last authoritative position.
	Idle State = iota
	// LocalDrag is reachable only for the local participant's avatar.
	LocalDrag
	// RemoteUpdating means positions are arriving from the bus.
	RemoteUpdating
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case LocalDrag:
		return "local_drag"
	case RemoteUpdating:
		return "remote_updating"
	}
	return "unknown"
}

// VisualState is what a renderer draws for one avatar.
type VisualState struct {
	Participant   domain.ParticipantID `json:"participant_id"`
	Position      domain.Position      `json:"position"`
	State         State                `json:"-"`
	Dragging      bool                 `json:"is_local_drag_active"`
	Hovered       bool                 `json:"is_hovered"`
	Gesture       domain.Gesture       `json:"current_gesture,omitempty"`
	GestureTarget domain.ParticipantID `json:"gesture_target,omitempty"`
}

// Config describes one avatar.
type Config struct {
	Participant domain.ParticipantID
	// Local marks the avatar owned by this overlay's participant.
	Local bool
	// Bounds is the surface area positions are clamped to.
	Bounds domain.Bounds
	// Size is the avatar's edge length in surface pixels.
	Size            float64
	GestureDuration time.Duration
	// RemoteSettle is how long without motion before RemoteUpdating falls
	// back to Idle and roster snapshots apply again.
	RemoteSettle time.Duration
	// EchoTimeout bounds how long snapshots are held back after a commit
	// while the committed position has not come back from the store.
	EchoTimeout time.Duration
	Clock       clock.Clock
	// OnChange receives a snapshot after every visible change. It is called
	// without the loop's lock held.
	OnChange func(VisualState)
}

// Loop is the per-participant reconciliation state machine.
type Loop struct {
	cfg Config

	mu           sync.Mutex
	state        State
	pos          domain.Position
	grab         domain.Position
	hovered      bool
	gesture      domain.Gesture
	target       domain.ParticipantID
	gestureSeq   uint64
	gestureTimer *clock.Timer
	settleTimer  *clock.Timer
	awaitingEcho bool
	echoSeq      uint64
	echoTimer    *clock.Timer
	committed    domain.Position
	stopped      bool
}

// New creates a loop displaying initial.
func New(cfg Config, initial domain.Position) *Loop {
	if cfg.Size <= 0 {
		cfg.Size = DefaultSize
	}
	if cfg.GestureDuration <= 0 {
		cfg.GestureDuration = DefaultGestureDuration
	}
	if cfg.RemoteSettle <= 0 {
		cfg.RemoteSettle = DefaultRemoteSettle
	}
	if cfg.EchoTimeout <= 0 {
		cfg.EchoTimeout = DefaultEchoTimeout
	}
	cfg.Clock = clock.OrReal(cfg.Clock)
	l := &Loop{cfg: cfg}
	l.pos = l.clamp(initial)
	return l
}

// Participant returns the participant this loop renders.
func (l *Loop) Participant() domain.ParticipantID { return l.cfg.Participant }

// Local reports whether this is the local participant's avatar.
func (l *Loop) Local() bool { return l.cfg.Local }

// PointerDown starts a local drag with the pointer at p. The offset between
// p and the avatar origin is kept for the whole drag.
func (l *Loop) PointerDown(p domain.Position) error {
	if !l.cfg.Local {
		return domain.ErrNotLocal
	}
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return domain.ErrClosed
	}
	l.settleTimer.Stop()
	l.state = LocalDrag
	l.grab = domain.Position{X: p.X - l.pos.X, Y: p.Y - l.pos.Y}
	vs := l.snapshotLocked()
	l.mu.Unlock()
	l.notify(vs)
	return nil
}

// PointerMove moves the dragged avatar and returns the clamped position to
// publish. ok is false when no drag is active.
func (l *Loop) PointerMove(p domain.Position) (pos domain.Position, ok bool) {
	l.mu.Lock()
	if l.stopped || l.state != LocalDrag {
		l.mu.Unlock()
		return domain.Position{}, false
	}
	l.pos = l.clamp(domain.Position{X: p.X - l.grab.X, Y: p.Y - l.grab.Y})
	pos = l.pos
	vs := l.snapshotLocked()
	l.mu.Unlock()
	l.notify(vs)
	return pos, true
}

// PointerUp ends the drag and returns the position to commit. Until a roster
// snapshot carrying that position arrives, CommitFailed is called or the echo
// timeout passes, snapshots with any other position are treated as stale.
func (l *Loop) PointerUp() (pos domain.Position, ok bool) {
	l.mu.Lock()
	if l.stopped || l.state != LocalDrag {
		l.mu.Unlock()
		return domain.Position{}, false
	}
	l.state = Idle
	l.grab = domain.Position{}
	l.awaitingEcho = true
	l.committed = l.pos
	l.echoSeq++
	seq := l.echoSeq
	l.echoTimer.Stop()
	l.echoTimer = l.cfg.Clock.AfterFunc(l.cfg.EchoTimeout, func() { l.expireEcho(seq) })
	pos = l.pos
	vs := l.snapshotLocked()
	l.mu.Unlock()
	l.notify(vs)
	return pos, true
}

// CommitFailed stops waiting for the committed position. The optimistic
// position stays on screen until the next snapshot corrects it.
func (l *Loop) CommitFailed() {
	l.mu.Lock()
	l.stopEchoLocked()
	l.mu.Unlock()
}

// expireEcho gives up on an echo that never came, e.g. when the store cannot
// deliver change notifications.
func (l *Loop) expireEcho(seq uint64) {
	l.mu.Lock()
	if seq == l.echoSeq {
		l.awaitingEcho = false
		l.echoTimer = nil
	}
	l.mu.Unlock()
}

func (l *Loop) stopEchoLocked() {
	l.awaitingEcho = false
	l.echoSeq++
	l.echoTimer.Stop()
	l.echoTimer = nil
}

// ApplyRemote applies a position received from the bus. It reports whether
// the position was applied; a local avatar being dragged ignores it.
func (l *Loop) ApplyRemote(p domain.Position) bool {
	l.mu.Lock()
	if l.stopped || l.state == LocalDrag {
		l.mu.Unlock()
		return false
	}
	l.pos = l.clamp(p)
	l.state = RemoteUpdating
	l.settleTimer.Stop()
	l.settleTimer = l.cfg.Clock.AfterFunc(l.cfg.RemoteSettle, l.settle)
	vs := l.snapshotLocked()
	l.mu.Unlock()
	l.notify(vs)
	return true
}

func (l *Loop) settle() {
	l.mu.Lock()
	if l.stopped || l.state != RemoteUpdating {
		l.mu.Unlock()
		return
	}
	l.state = Idle
	vs := l.snapshotLocked()
	l.mu.Unlock()
	l.notify(vs)
}

// ApplyMembership applies the position from a durable roster snapshot. Only
// an Idle loop takes it, and a local avatar waiting for its own commit only
// takes the committed position.
func (l *Loop) ApplyMembership(p domain.Position) bool {
	l.mu.Lock()
	if l.stopped || l.state != Idle {
		l.mu.Unlock()
		return false
	}
	if l.awaitingEcho {
		if p != l.committed {
			l.mu.Unlock()
			return false
		}
		l.stopEchoLocked()
	}
	p = l.clamp(p)
	if p == l.pos {
		l.mu.Unlock()
		return true
	}
	l.pos = p
	vs := l.snapshotLocked()
	l.mu.Unlock()
	l.notify(vs)
	return true
}

// ApplyGesture shows g until the gesture duration elapses or another gesture
// replaces it.
func (l *Loop) ApplyGesture(g domain.Gesture, target domain.ParticipantID) {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.gestureSeq++
	seq := l.gestureSeq
	l.gesture = g
	l.target = target
	l.gestureTimer.Stop()
	l.gestureTimer = l.cfg.Clock.AfterFunc(l.cfg.GestureDuration, func() { l.clearGesture(seq) })
	vs := l.snapshotLocked()
	l.mu.Unlock()
	l.notify(vs)
}

func (l *Loop) clearGesture(seq uint64) {
	l.mu.Lock()
	if l.stopped || seq != l.gestureSeq {
		l.mu.Unlock()
		return
	}
	l.gesture = ""
	l.target = ""
	l.gestureTimer = nil
	vs := l.snapshotLocked()
	l.mu.Unlock()
	l.notify(vs)
}

// SetHovered records whether the pointer is over this avatar.
func (l *Loop) SetHovered(hovered bool) {
	l.mu.Lock()
	if l.stopped || l.hovered == hovered {
		l.mu.Unlock()
		return
	}
	l.hovered = hovered
	vs := l.snapshotLocked()
	l.mu.Unlock()
	l.notify(vs)
}

// Stop cancels timers and any drag in progress. It reports whether a drag was
// active so the caller can release capture. A stopped loop ignores all input.
func (l *Loop) Stop() (wasDragging bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return false
	}
	wasDragging = l.state == LocalDrag
	l.stopped = true
	l.state = Idle
	l.stopEchoLocked()
	l.gestureTimer.Stop()
	l.settleTimer.Stop()
	return wasDragging
}

// Visual returns the current visual state.
func (l *Loop) Visual() VisualState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshotLocked()
}

// State returns the reconciliation state.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// SetBounds changes the clamp area, e.g. after the usable screen changed.
func (l *Loop) SetBounds(b domain.Bounds) {
	l.mu.Lock()
	l.cfg.Bounds = b
	l.pos = l.clamp(l.pos)
	l.mu.Unlock()
}

func (l *Loop) clamp(p domain.Position) domain.Position {
	if l.cfg.Bounds.Width <= 0 || l.cfg.Bounds.Height <= 0 {
		return p
	}
	return l.cfg.Bounds.Clamp(p, l.cfg.Size)
}

func (l *Loop) snapshotLocked() VisualState {
	return VisualState{
		Participant:   l.cfg.Participant,
		Position:      l.pos,
		State:         l.state,
		Dragging:      l.state == LocalDrag,
		Hovered:       l.hovered,
		Gesture:       l.gesture,
		GestureTarget: l.target,
	}
}

func (l *Loop) notify(vs VisualState) {
	if l.cfg.OnChange != nil {
		l.cfg.OnChange(vs)
	}
}
