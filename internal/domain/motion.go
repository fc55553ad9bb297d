package domain

import "fmt"

// MotionKind distinguishes the two ephemeral event shapes.
type MotionKind string

const (
	MotionMove    MotionKind = "move"
	MotionGesture MotionKind = "gesture"
)

// Gesture is a transient avatar animation.
type Gesture string

const (
	GestureWave  Gesture = "wave"
	GestureJump  Gesture = "jump"
	GestureDance Gesture = "dance"
	GestureHeart Gesture = "heart"
)

// ParseGesture validates a gesture name.
func ParseGesture(s string) (Gesture, error) {
	switch g := Gesture(s); g {
	case GestureWave, GestureJump, GestureDance, GestureHeart:
		return g, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownGesture, s)
}

// MotionEvent is a fire-and-forget bus message. It is never persisted, carries
// no identity beyond the participant id and may be dropped or reordered.
// Origin names the publishing overlay instance so it can skip its own echo.
type MotionEvent struct {
	Kind          MotionKind    `json:"kind"`
	ParticipantID ParticipantID `json:"participant_id"`
	X             float64       `json:"x,omitempty"`
	Y             float64       `json:"y,omitempty"`
	Action        Gesture       `json:"action,omitempty"`
	Target        ParticipantID `json:"target,omitempty"`
	Origin        string        `json:"origin,omitempty"`
}

// MoveEvent builds a position event.
func MoveEvent(id ParticipantID, p Position) MotionEvent {
	return MotionEvent{Kind: MotionMove, ParticipantID: id, X: p.X, Y: p.Y}
}

// GestureEvent builds a gesture event. target may be empty.
func GestureEvent(id ParticipantID, g Gesture, target ParticipantID) MotionEvent {
	return MotionEvent{Kind: MotionGesture, ParticipantID: id, Action: g, Target: target}
}

// Position returns the event coordinates.
func (e MotionEvent) Position() Position { return Position{X: e.X, Y: e.Y} }

// Bounds is an axis-aligned rectangle in screen coordinates.
type Bounds struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Clamp keeps an avatar of the given size fully inside b, where p is
// relative to the rectangle's origin.
func (b Bounds) Clamp(p Position, size float64) Position {
	maxX := b.Width - size
	maxY := b.Height - size
	if maxX < 0 {
		maxX = 0
	}
	if maxY < 0 {
		maxY = 0
	}
	return Position{X: clamp(p.X, 0, maxX), Y: clamp(p.Y, 0, maxY)}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
