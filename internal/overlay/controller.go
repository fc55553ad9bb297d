package overlay

import (
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/jaakkos/hangout/internal/avatar"
	"github.com/jaakkos/hangout/internal/bus"
	"github.com/jaakkos/hangout/internal/clock"
	"github.com/jaakkos/hangout/internal/domain"
)

// Link is the controller's side of the cross-surface bridge.
type Link interface {
	RequestCaptureMode(ignore bool)
	RequestRosterSnapshot()
}

// Config configures a Controller.
type Config struct {
	Platform            Platform
	Bus                 bus.Bus
	Commit              CommitFunc
	Policy              CapturePolicy
	HoverRelease        time.Duration
	AvatarSize          float64
	GestureDuration     time.Duration
	RemoteSettle        time.Duration
	PersistencePresence bool
	Clock               clock.Clock
	Logger              *log.Logger
	OnVisual            func(avatar.VisualState)
}

// Controller owns at most one overlay surface. The surface and its stage are
// created by EnsureSurface and torn down by CloseSurface; nothing outlives
// that pair.
type Controller struct {
	cfg    Config
	logger *log.Logger

	mu      sync.Mutex
	link    Link
	surface Surface
	stage   *Stage
	arbiter *Arbiter
	ignore  bool
}

// NewController creates a controller with no surface.
func NewController(cfg Config) *Controller {
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard, "", 0)
	}
	if cfg.Policy == "" {
		cfg.Policy = PolicyForward
	}
	if cfg.HoverRelease <= 0 {
		cfg.HoverRelease = DefaultHoverRelease
	}
	cfg.Clock = clock.OrReal(cfg.Clock)
	return &Controller{cfg: cfg, logger: cfg.Logger, ignore: true}
}

// Attach sets the bridge link capture changes and snapshot requests go to.
func (c *Controller) Attach(link Link) {
	c.mu.Lock()
	c.link = link
	c.mu.Unlock()
}

// EnsureSurface creates the surface for roster's space if none exists and
// stages the roster. With a surface already up for the same space it only
// applies the roster. A surface for another space is replaced.
func (c *Controller) EnsureSurface(r domain.Roster) error {
	if r.SpaceID == "" {
		return domain.ErrInvalidSpace
	}
	c.mu.Lock()
	if c.stage != nil && c.stage.Space() == r.SpaceID {
		stage := c.stage
		c.mu.Unlock()
		stage.ApplyRoster(r)
		return nil
	}
	c.mu.Unlock()
	if c.HasSurface() {
		c.CloseSurface()
	}

	c.mu.Lock()
	if c.stage != nil {
		// Lost a race with another EnsureSurface.
		stage := c.stage
		c.mu.Unlock()
		stage.ApplyRoster(r)
		return nil
	}
	area := c.cfg.Platform.UsableArea()
	surface, err := c.cfg.Platform.CreateSurface(SurfaceOptions{
		Title:          "hangout: " + string(r.SpaceID),
		Bounds:         area,
		Transparent:    true,
		Borderless:     true,
		AlwaysOnTop:    true,
		IgnorePointer:  true,
		ForwardPointer: c.cfg.Policy == PolicyForward,
	})
	if err != nil {
		c.mu.Unlock()
		c.logger.Printf("Overlay: create surface for %s failed: %v", r.SpaceID, err)
		return fmt.Errorf("%w: %v", domain.ErrSurfaceUnavailable, err)
	}
	var arbiter *Arbiter
	arbiter = NewArbiter(c.cfg.HoverRelease, c.cfg.Clock, func(ignore bool) { _ = c.setCaptureMode(arbiter, ignore) })
	stage := NewStage(StageConfig{
		Space:               r.SpaceID,
		Local:               r.Local,
		Bounds:              domain.Bounds{Width: area.Width, Height: area.Height},
		AvatarSize:          c.cfg.AvatarSize,
		GestureDuration:     c.cfg.GestureDuration,
		RemoteSettle:        c.cfg.RemoteSettle,
		PersistencePresence: c.cfg.PersistencePresence,
		Bus:                 c.cfg.Bus,
		Commit:              c.cfg.Commit,
		Arbiter:             arbiter,
		Clock:               c.cfg.Clock,
		Logger:              c.logger,
		OnVisual:            c.cfg.OnVisual,
	})
	c.surface = surface
	c.stage = stage
	c.arbiter = arbiter
	c.ignore = true
	link := c.link
	c.mu.Unlock()

	c.logger.Printf("Overlay: surface up for %s (%gx%g)", r.SpaceID, area.Width, area.Height)
	stage.ApplyRoster(r)
	if link != nil {
		link.RequestCaptureMode(true)
		link.RequestRosterSnapshot()
	}
	return nil
}

// ApplyRoster stages a pushed roster. It reports false when no surface is up.
func (c *Controller) ApplyRoster(r domain.Roster) bool {
	c.mu.Lock()
	stage := c.stage
	c.mu.Unlock()
	if stage == nil {
		return false
	}
	stage.ApplyRoster(r)
	return true
}

// CloseSurface tears down the surface and its stage. Safe without a surface.
func (c *Controller) CloseSurface() {
	c.mu.Lock()
	stage, surface := c.stage, c.surface
	c.stage, c.surface, c.arbiter = nil, nil, nil
	c.ignore = true
	c.mu.Unlock()
	if stage == nil {
		return
	}
	stage.Close()
	if err := surface.Close(); err != nil {
		c.logger.Printf("Overlay: close surface: %v", err)
	}
	c.logger.Printf("Overlay: surface for %s closed", stage.Space())
}

// SetCaptureMode switches the surface between click-through (ignore=true)
// and receiving pointer input, and reports the change over the link.
func (c *Controller) SetCaptureMode(ignore bool) error {
	return c.setCaptureMode(nil, ignore)
}

// setCaptureMode drops requests from an arbiter whose surface is gone.
func (c *Controller) setCaptureMode(from *Arbiter, ignore bool) error {
	c.mu.Lock()
	if c.surface == nil || (from != nil && from != c.arbiter) {
		c.mu.Unlock()
		return domain.ErrSurfaceUnavailable
	}
	c.ignore = ignore
	err := c.surface.SetIgnorePointer(ignore, ignore && c.cfg.Policy == PolicyForward)
	link := c.link
	c.mu.Unlock()
	if err != nil {
		c.logger.Printf("Overlay: set capture mode ignore=%v: %v", ignore, err)
		return err
	}
	if link != nil {
		link.RequestCaptureMode(ignore)
	}
	return nil
}

// CaptureMode reports whether the surface ignores pointer input. True when
// no surface exists.
func (c *Controller) CaptureMode() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ignore
}

// RequestRosterSnapshot asks the primary side to push the current roster.
func (c *Controller) RequestRosterSnapshot() {
	c.mu.Lock()
	link := c.link
	c.mu.Unlock()
	if link != nil {
		link.RequestRosterSnapshot()
	}
}

// HasSurface reports whether a surface is up.
func (c *Controller) HasSurface() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.surface != nil
}

// Stage returns the current stage, or nil.
func (c *Controller) Stage() *Stage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stage
}
