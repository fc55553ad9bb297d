// Package bridge relays roster and capture messages between the primary
// process and the overlay surface. Delivery is in order per endpoint, senders
// never block, and nothing is acknowledged: a lost message heals on the next
// roster push or snapshot request.
package bridge

import (
	"errors"
	"fmt"

	"github.com/jaakkos/hangout/internal/domain"
)

// Kind is one of the four bridge message kinds.
type Kind string

const (
	// KindRoster carries a roster snapshot. With Pull set and no roster it
	// asks the other side to push one.
	KindRoster       Kind = "roster"
	KindCaptureMode  Kind = "capture_mode"
	KindOpenSurface  Kind = "open_surface"
	KindCloseSurface Kind = "close_surface"
)

// ErrClosed is returned by a transport after Close.
var ErrClosed = errors.New("bridge: closed")

// Message is the bridge envelope.
type Message struct {
	Kind   Kind           `cbor:"kind"`
	Roster *domain.Roster `cbor:"roster,omitempty"`
	Ignore bool           `cbor:"ignore,omitempty"`
	Pull   bool           `cbor:"pull,omitempty"`
}

// Validate checks that the message carries what its kind needs.
func (m Message) Validate() error {
	switch m.Kind {
	case KindRoster:
		if m.Roster == nil && !m.Pull {
			return fmt.Errorf("bridge: roster message without roster")
		}
	case KindOpenSurface:
		if m.Roster == nil || m.Roster.SpaceID == "" {
			return fmt.Errorf("bridge: open_surface without space")
		}
	case KindCaptureMode, KindCloseSurface:
	default:
		return fmt.Errorf("bridge: unknown message kind %q", m.Kind)
	}
	return nil
}

func (m Message) clone() Message {
	if m.Roster != nil {
		r := m.Roster.WithLocal(m.Roster.Local)
		m.Roster = &r
	}
	return m
}
