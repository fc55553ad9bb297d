package bridge

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaakkos/hangout/internal/domain"
)

type fakePrimary struct {
	mu       sync.Mutex
	requests int
	capture  []bool
}

func (p *fakePrimary) RepublishRoster() {
	p.mu.Lock()
	p.requests++
	p.mu.Unlock()
}

func (p *fakePrimary) RecordCaptureMode(ignore bool) {
	p.mu.Lock()
	p.capture = append(p.capture, ignore)
	p.mu.Unlock()
}

type fakeSurfaces struct {
	mu      sync.Mutex
	space   domain.SpaceID
	applied []domain.Roster
	closes  int
	failing bool
}

func (s *fakeSurfaces) EnsureSurface(r domain.Roster) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return errors.New("no display")
	}
	s.space = r.SpaceID
	return nil
}

func (s *fakeSurfaces) ApplyRoster(r domain.Roster) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.space == "" {
		return false
	}
	s.applied = append(s.applied, r)
	return true
}

func (s *fakeSurfaces) CloseSurface() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.space = ""
	s.closes++
}

func (s *fakeSurfaces) snapshot() (domain.SpaceID, int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.space, len(s.applied), s.closes
}

func TestBindRoutesBothDirections(t *testing.T) {
	ta, tb := Pipe()
	primary := NewEndpoint("primary", ta, nil)
	overlay := NewEndpoint("overlay", tb, nil)
	p := &fakePrimary{}
	s := &fakeSurfaces{}
	BindPrimary(primary, p)
	BindOverlay(overlay, s)
	primary.Start()
	overlay.Start()
	defer primary.Close()
	defer overlay.Close()

	r := testRoster("s1", 2)
	primary.PushRoster(r) // no surface yet, dropped
	primary.OpenSurface("s1", r)
	primary.PushRoster(r)
	overlay.RequestRosterSnapshot()
	overlay.RequestCaptureMode(false)

	require.Eventually(t, func() bool {
		space, applied, _ := s.snapshot()
		return space == "s1" && applied == 1
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.requests == 1 && len(p.capture) == 1
	}, time.Second, 5*time.Millisecond)
	assert.False(t, p.capture[0])

	primary.CloseSurface()
	require.Eventually(t, func() bool {
		space, _, closes := s.snapshot()
		return space == "" && closes == 1
	}, time.Second, 5*time.Millisecond)
}

func TestBindOverlayContainsOpenFailure(t *testing.T) {
	ta, tb := Pipe()
	primary := NewEndpoint("primary", ta, nil)
	overlay := NewEndpoint("overlay", tb, nil)
	s := &fakeSurfaces{failing: true}
	BindOverlay(overlay, s)
	primary.Start()
	overlay.Start()
	defer primary.Close()
	defer overlay.Close()

	primary.OpenSurface("s1", testRoster("s1", 1))
	primary.CloseSurface()
	require.Eventually(t, func() bool {
		_, _, closes := s.snapshot()
		return closes == 1
	}, time.Second, 5*time.Millisecond)
	space, applied, _ := s.snapshot()
	assert.Empty(t, space)
	assert.Zero(t, applied)
}
