// Package overlay owns the transparent always-on-top surface, its input
// capture state and the avatars staged on it.
package overlay

import "github.com/jaakkos/hangout/internal/domain"

// SurfaceOptions describes the window a Platform creates.
type SurfaceOptions struct {
	Title         string
	Bounds        domain.Bounds
	Transparent   bool
	Borderless    bool
	AlwaysOnTop   bool
	IgnorePointer bool
	// ForwardPointer keeps pointer-move events flowing to the surface while
	// it ignores clicks, so hover can still be detected.
	ForwardPointer bool
}

// Surface is a created overlay window.
type Surface interface {
	// SetIgnorePointer switches click-through on or off. forward is only
	// meaningful when ignore is true.
	SetIgnorePointer(ignore, forward bool) error
	Close() error
}

// Platform creates surfaces. Rendering is the platform's concern.
type Platform interface {
	UsableArea() domain.Bounds
	CreateSurface(opts SurfaceOptions) (Surface, error)
}
