package overlay

import (
	"context"
	"io"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jaakkos/hangout/internal/avatar"
	"github.com/jaakkos/hangout/internal/bus"
	"github.com/jaakkos/hangout/internal/clock"
	"github.com/jaakkos/hangout/internal/domain"
)

// StageConfig configures the avatars of one surface.
type StageConfig struct {
	Space           domain.SpaceID
	Local           domain.ParticipantID
	Bounds          domain.Bounds
	AvatarSize      float64
	GestureDuration time.Duration
	RemoteSettle    time.Duration
	// PersistencePresence keeps remote avatars on the surface while their
	// membership exists even if the bus could not be subscribed.
	PersistencePresence bool
	Bus                 bus.Bus
	Commit              CommitFunc
	Arbiter             *Arbiter
	Clock               clock.Clock
	Logger              *log.Logger
	// OnVisual receives every avatar's visual changes. It must not call
	// back into the stage.
	OnVisual func(avatar.VisualState)
}

type stagedAvatar struct {
	loop   *avatar.Loop
	ctx    context.Context
	cancel context.CancelFunc
}

// Stage holds one reconciliation loop per roster participant and routes
// pointer input, bus events and roster snapshots to them.
type Stage struct {
	cfg     StageConfig
	origin  string
	logger  *log.Logger
	commits *commitQueue

	mu          sync.Mutex
	avatars     map[domain.ParticipantID]*stagedAvatar
	busOK       bool
	closed      bool
	unsubscribe func()
}

// NewStage creates a stage and subscribes it to the bus for its space. A bus
// subscription failure is logged; the stage still follows roster snapshots.
func NewStage(cfg StageConfig) *Stage {
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard, "", 0)
	}
	cfg.Clock = clock.OrReal(cfg.Clock)
	if cfg.Arbiter == nil {
		cfg.Arbiter = NewArbiter(DefaultHoverRelease, cfg.Clock, nil)
	}
	s := &Stage{
		cfg:     cfg,
		origin:  uuid.NewString(),
		logger:  cfg.Logger,
		avatars: make(map[domain.ParticipantID]*stagedAvatar),
	}
	s.commits = newCommitQueue(cfg.Commit, cfg.Logger)
	if cfg.Bus != nil {
		cancel, err := cfg.Bus.Subscribe(cfg.Space, func(ev domain.MotionEvent) { s.HandleMotion(ev) })
		if err != nil {
			s.logger.Printf("Overlay: bus subscribe for %s failed: %v", cfg.Space, err)
		} else {
			s.unsubscribe = cancel
			s.busOK = true
		}
	}
	return s
}

// Space returns the space the stage shows.
func (s *Stage) Space() domain.SpaceID { return s.cfg.Space }

// Origin identifies events published by this stage.
func (s *Stage) Origin() string { return s.origin }

// ApplyRoster adds avatars for new members, removes avatars of departed ones
// and offers snapshot positions to the rest. Removing an avatar cancels its
// drag and discards its pending commit.
func (s *Stage) ApplyRoster(r domain.Roster) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if r.SpaceID != "" && r.SpaceID != s.cfg.Space {
		s.logger.Printf("Overlay: ignoring roster for %s on surface for %s", r.SpaceID, s.cfg.Space)
		return
	}
	keep := make(map[domain.ParticipantID]bool, r.Len())
	for _, m := range r.Members {
		id := m.ParticipantID
		if id != s.cfg.Local && !s.busOK && !s.cfg.PersistencePresence {
			continue
		}
		keep[id] = true
		if a, ok := s.avatars[id]; ok {
			a.loop.ApplyMembership(m.Position)
			continue
		}
		s.avatars[id] = s.newAvatar(id, m.Position)
	}
	for id, a := range s.avatars {
		if keep[id] {
			continue
		}
		s.removeLocked(id, a)
	}
}

func (s *Stage) newAvatar(id domain.ParticipantID, pos domain.Position) *stagedAvatar {
	ctx, cancel := context.WithCancel(context.Background())
	loop := avatar.New(avatar.Config{
		Participant:     id,
		Local:           id == s.cfg.Local,
		Bounds:          s.cfg.Bounds,
		Size:            s.cfg.AvatarSize,
		GestureDuration: s.cfg.GestureDuration,
		RemoteSettle:    s.cfg.RemoteSettle,
		Clock:           s.cfg.Clock,
		OnChange:        s.cfg.OnVisual,
	}, pos)
	return &stagedAvatar{loop: loop, ctx: ctx, cancel: cancel}
}

func (s *Stage) removeLocked(id domain.ParticipantID, a *stagedAvatar) {
	a.cancel()
	if a.loop.Stop() {
		s.logger.Printf("Overlay: drag of %s cancelled, participant left", id)
	}
	s.cfg.Arbiter.Forget(id)
	delete(s.avatars, id)
}

func (s *Stage) lookup(id domain.ParticipantID) (*stagedAvatar, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false
	}
	a, ok := s.avatars[id]
	return a, ok
}

// HandleMotion applies a bus event. Events published by this stage and
// events for participants not on the surface are ignored.
func (s *Stage) HandleMotion(ev domain.MotionEvent) bool {
	if ev.Origin == s.origin {
		return false
	}
	a, ok := s.lookup(ev.ParticipantID)
	if !ok {
		return false
	}
	switch ev.Kind {
	case domain.MotionMove:
		return a.loop.ApplyRemote(ev.Position())
	case domain.MotionGesture:
		if _, err := domain.ParseGesture(string(ev.Action)); err != nil {
			return false
		}
		a.loop.ApplyGesture(ev.Action, ev.Target)
		return true
	}
	return false
}

// PointerDown starts dragging id's avatar and takes capture.
func (s *Stage) PointerDown(id domain.ParticipantID, p domain.Position) error {
	a, ok := s.lookup(id)
	if !ok {
		return domain.ErrNotInRoster
	}
	if err := a.loop.PointerDown(p); err != nil {
		return err
	}
	s.cfg.Arbiter.DragStart(id)
	return nil
}

// PointerMove moves a dragged avatar and publishes the new position.
func (s *Stage) PointerMove(id domain.ParticipantID, p domain.Position) (domain.Position, bool) {
	a, ok := s.lookup(id)
	if !ok {
		return domain.Position{}, false
	}
	pos, ok := a.loop.PointerMove(p)
	if ok {
		s.publish(domain.MoveEvent(id, pos))
	}
	return pos, ok
}

// PointerUp ends a drag: the final position is published, queued for commit
// and capture is released unless a hover still holds it.
func (s *Stage) PointerUp(id domain.ParticipantID) (domain.Position, bool) {
	a, ok := s.lookup(id)
	if !ok {
		return domain.Position{}, false
	}
	pos, ok := a.loop.PointerUp()
	if !ok {
		return domain.Position{}, false
	}
	s.publish(domain.MoveEvent(id, pos))
	s.commits.submit(commitJob{ctx: a.ctx, space: s.cfg.Space, participant: id, pos: pos, loop: a.loop})
	s.cfg.Arbiter.DragEnd(id)
	return pos, true
}

func (s *Stage) HoverEnter(id domain.ParticipantID) error {
	a, ok := s.lookup(id)
	if !ok {
		return domain.ErrNotInRoster
	}
	a.loop.SetHovered(true)
	s.cfg.Arbiter.HoverEnter(id)
	return nil
}

func (s *Stage) HoverLeave(id domain.ParticipantID) error {
	a, ok := s.lookup(id)
	if !ok {
		return domain.ErrNotInRoster
	}
	a.loop.SetHovered(false)
	s.cfg.Arbiter.HoverLeave(id)
	return nil
}

// SendGesture shows a gesture on the local avatar and broadcasts it.
func (s *Stage) SendGesture(g domain.Gesture, target domain.ParticipantID) error {
	if _, err := domain.ParseGesture(string(g)); err != nil {
		return err
	}
	a, ok := s.lookup(s.cfg.Local)
	if !ok {
		return domain.ErrNotInRoster
	}
	a.loop.ApplyGesture(g, target)
	s.publish(domain.GestureEvent(s.cfg.Local, g, target))
	return nil
}

func (s *Stage) publish(ev domain.MotionEvent) {
	if s.cfg.Bus == nil {
		return
	}
	ev.Origin = s.origin
	s.cfg.Bus.Publish(s.cfg.Space, ev)
}

// Visual returns the visual state of id's avatar.
func (s *Stage) Visual(id domain.ParticipantID) (avatar.VisualState, bool) {
	a, ok := s.lookup(id)
	if !ok {
		return avatar.VisualState{}, false
	}
	return a.loop.Visual(), true
}

// Visuals returns every avatar's visual state.
func (s *Stage) Visuals() []avatar.VisualState {
	s.mu.Lock()
	loops := make([]*avatar.Loop, 0, len(s.avatars))
	for _, a := range s.avatars {
		loops = append(loops, a.loop)
	}
	s.mu.Unlock()
	out := make([]avatar.VisualState, 0, len(loops))
	for _, l := range loops {
		out = append(out, l.Visual())
	}
	return out
}

// Participants returns the ids of staged avatars.
func (s *Stage) Participants() []domain.ParticipantID {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]domain.ParticipantID, 0, len(s.avatars))
	for id := range s.avatars {
		ids = append(ids, id)
	}
	return ids
}

// WaitCommits blocks until queued commits have run.
func (s *Stage) WaitCommits() { s.commits.wait() }

// Close unsubscribes from the bus, stops every avatar and drops pending
// commits.
func (s *Stage) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	s.mu.Lock()
	for id, a := range s.avatars {
		s.removeLocked(id, a)
	}
	s.mu.Unlock()
	s.cfg.Arbiter.Stop()
	s.commits.close()
}
