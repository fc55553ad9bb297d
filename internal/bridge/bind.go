package bridge

import "github.com/jaakkos/hangout/internal/domain"

// Primary is the presence side of the bridge.
type Primary interface {
	RepublishRoster()
	RecordCaptureMode(ignore bool)
}

// Surfaces is the overlay side of the bridge.
type Surfaces interface {
	EnsureSurface(r domain.Roster) error
	ApplyRoster(r domain.Roster) bool
	CloseSurface()
}

// BindPrimary routes snapshot requests and capture mode reports arriving at
// e to p. Call before Start.
func BindPrimary(e *Endpoint, p Primary) {
	e.OnRosterRequest(p.RepublishRoster)
	e.OnCaptureModeChanged(p.RecordCaptureMode)
}

// BindOverlay routes surface lifecycle and roster pushes arriving at e to s.
// A roster pushed while no surface is up is dropped; the surface asks for a
// snapshot when it comes up. Call before Start.
func BindOverlay(e *Endpoint, s Surfaces) {
	e.OnOpenSurface(func(r domain.Roster) {
		if err := s.EnsureSurface(r); err != nil {
			e.logger.Printf("Bridge(%s): open surface for %s: %v", e.name, r.SpaceID, err)
		}
	})
	e.OnRosterUpdate(func(r domain.Roster) { s.ApplyRoster(r) })
	e.OnCloseSurface(s.CloseSurface)
}
