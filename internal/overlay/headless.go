package overlay

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/jaakkos/hangout/internal/domain"
)

// HeadlessPlatform creates surfaces that only record what was asked of them.
// It backs the overlay command when no window system is wired in, and tests.
type HeadlessPlatform struct {
	Area domain.Bounds
	// CreateErr, when set, makes CreateSurface fail.
	CreateErr error

	mu       sync.Mutex
	surfaces []*HeadlessSurface
}

// NewHeadlessPlatform returns a platform with the given usable area.
func NewHeadlessPlatform(area domain.Bounds) *HeadlessPlatform {
	return &HeadlessPlatform{Area: area}
}

func (p *HeadlessPlatform) UsableArea() domain.Bounds { return p.Area }

func (p *HeadlessPlatform) CreateSurface(opts SurfaceOptions) (Surface, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.CreateErr != nil {
		return nil, p.CreateErr
	}
	s := &HeadlessSurface{ID: uuid.NewString(), Options: opts, ignore: opts.IgnorePointer}
	p.surfaces = append(p.surfaces, s)
	return s, nil
}

// Created returns every surface created so far.
func (p *HeadlessPlatform) Created() []*HeadlessSurface {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*HeadlessSurface, len(p.surfaces))
	copy(out, p.surfaces)
	return out
}

// HeadlessSurface records capture changes.
type HeadlessSurface struct {
	ID      string
	Options SurfaceOptions

	mu      sync.Mutex
	ignore  bool
	forward bool
	changes []bool
	closed  bool
}

var errSurfaceClosed = errors.New("surface closed")

func (s *HeadlessSurface) SetIgnorePointer(ignore, forward bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errSurfaceClosed
	}
	s.ignore = ignore
	s.forward = forward
	s.changes = append(s.changes, ignore)
	return nil
}

func (s *HeadlessSurface) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// IgnoresPointer reports the current click-through state.
func (s *HeadlessSurface) IgnoresPointer() (ignore, forward bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ignore, s.forward
}

// Changes returns every SetIgnorePointer value in call order.
func (s *HeadlessSurface) Changes() []bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]bool, len(s.changes))
	copy(out, s.changes)
	return out
}

// Closed reports whether Close was called.
func (s *HeadlessSurface) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
