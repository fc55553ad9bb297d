package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jaakkos/hangout/internal/domain"
)

// RosterEvent is delivered to roster subscribers. Err is set when a reload
// failed; Roster is then the previous roster and Stale is true.
type RosterEvent struct {
	Roster domain.Roster
	Err    error
	Stale  bool
}

// Session is the lifecycle-scoped handle of the local participant's presence
// in one space. It is created by Join and torn down by Leave.
type Session struct {
	ID          string
	Space       domain.SpaceID
	Participant domain.ParticipantID
	StartedAt   time.Time

	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe func()
	membership  domain.Membership

	// reload coalescing, guarded by PresenceManager.mu
	reloading bool
	pending   bool
}

// SessionInfo is a read-only view of the active session.
type SessionInfo struct {
	ID          string               `json:"id"`
	Space       domain.SpaceID       `json:"space_id"`
	Participant domain.ParticipantID `json:"participant_id"`
	Position    domain.Position      `json:"position"`
	AvatarKind  domain.AvatarKind    `json:"avatar_kind"`
	StartedAt   time.Time            `json:"started_at"`
}

func (s *Session) close() {
	s.cancel()
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
}

// JoinOption customizes a join.
type JoinOption func(*joinOptions)

type joinOptions struct {
	kind        domain.AvatarKind
	displayName string
}

// WithAvatarKind sets the avatar kind stored with the membership.
func WithAvatarKind(k domain.AvatarKind) JoinOption {
	return func(o *joinOptions) { o.kind = k }
}

// WithDisplayName registers name in the display directory on join.
func WithDisplayName(name string) JoinOption {
	return func(o *joinOptions) { o.displayName = name }
}

// PresenceManager owns the local participant's join/leave lifecycle and the
// authoritative roster of the joined space. Rosters are always rebuilt from a
// full store read; a read that started before a newer one is discarded.
type PresenceManager struct {
	store  SessionStore
	dir    DisplayDirectory
	policy Policy
	logger *log.Logger

	// publishMu keeps roster application and delivery in the same order.
	publishMu sync.Mutex

	mu      sync.Mutex
	link    SurfaceLink
	session *Session
	roster  domain.Roster
	// rosterSeq counts roster replacements, so a delivery made outside
	// publishMu can tell whether it was overtaken.
	rosterSeq uint64
	gen       uint64
	subs      map[int]func(RosterEvent)
	nextSub   int
	capture   bool
	loops     sync.WaitGroup
}

// NewPresenceManager returns a manager with no active session. dir may be nil.
func NewPresenceManager(store SessionStore, dir DisplayDirectory, policy Policy, logger *log.Logger) *PresenceManager {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &PresenceManager{
		store:   store,
		dir:     dir,
		policy:  policy,
		logger:  logger,
		subs:    make(map[int]func(RosterEvent)),
		capture: true,
	}
}

// SetLink attaches the bridge the roster is pushed through.
func (m *PresenceManager) SetLink(link SurfaceLink) {
	m.mu.Lock()
	m.link = link
	m.mu.Unlock()
}

// Subscribe registers fn for roster events. fn must not block.
func (m *PresenceManager) Subscribe(fn func(RosterEvent)) (cancel func()) {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// Join records participant in space at pos and makes it the local session. A
// repeated join of the same participant refreshes the row and keeps the
// session; joining another space leaves the current one first. The overlay
// is asked to ensure its surface either way.
func (m *PresenceManager) Join(ctx context.Context, space domain.SpaceID, participant domain.ParticipantID, pos domain.Position, opts ...JoinOption) (SessionInfo, error) {
	if space == "" {
		return SessionInfo{}, domain.ErrInvalidSpace
	}
	if participant == "" {
		return SessionInfo{}, domain.ErrInvalidParticipant
	}
	o := joinOptions{}
	if m.policy != nil {
		o.kind = m.policy.AvatarKind()
		if participant == m.policy.Participant() {
			o.displayName = m.policy.DisplayName()
		}
	}
	for _, opt := range opts {
		opt(&o)
	}

	m.mu.Lock()
	cur := m.session
	m.mu.Unlock()
	if cur != nil && (cur.Space != space || cur.Participant != participant) {
		if err := m.Leave(ctx, cur.Space, cur.Participant); err != nil {
			m.logger.Printf("Presence: leaving %s before joining %s: %v", cur.Space, space, err)
		}
	}

	membership := domain.Membership{SpaceID: space, ParticipantID: participant, Position: pos, AvatarKind: o.kind}
	if err := m.store.Insert(ctx, membership); err != nil {
		return SessionInfo{}, fmt.Errorf("join %s: %w", space, err)
	}
	if reg, ok := m.dir.(DisplayRegistrar); ok && o.displayName != "" {
		if err := reg.UpsertParticipant(ctx, participant, domain.DisplayInfo{Name: o.displayName, Status: "online"}); err != nil {
			m.logger.Printf("Presence: register display name for %s: %v", participant, err)
		}
	}

	m.mu.Lock()
	s := m.session
	fresh := s == nil || s.Space != space || s.Participant != participant
	if fresh {
		sctx, cancel := context.WithCancel(context.Background())
		s = &Session{
			ID:          uuid.NewString(),
			Space:       space,
			Participant: participant,
			StartedAt:   time.Now(),
			ctx:         sctx,
			cancel:      cancel,
			membership:  membership,
		}
		m.session = s
		m.gen++
		m.setRosterLocked(domain.Roster{SpaceID: space, Local: participant})
	} else if o.kind != "" {
		s.membership.AvatarKind = o.kind
	}
	m.mu.Unlock()

	if fresh {
		unsubscribe, err := m.store.Subscribe(space, func() { m.onRosterChanged(s) })
		if err != nil {
			m.logger.Printf("Presence: subscribe %s failed, roster only refreshes on demand: %v", space, err)
		} else {
			m.mu.Lock()
			if m.session == s {
				s.unsubscribe = unsubscribe
				unsubscribe = nil
			}
			m.mu.Unlock()
			if unsubscribe != nil {
				unsubscribe()
			}
		}
		m.logger.Printf("Presence: %s joined %s (session %s)", participant, space, s.ID)
	}

	if err := m.reload(ctx, s, false); err != nil {
		m.logger.Printf("Presence: initial roster read for %s failed: %v", space, err)
	}

	m.mu.Lock()
	if m.session != s {
		m.mu.Unlock()
		return SessionInfo{}, fmt.Errorf("join %s: %w", space, domain.ErrNoSession)
	}
	if !m.roster.Contains(participant) {
		// The first read was overtaken by a notification reload still in
		// flight; show the local avatar until that one lands.
		m.setRosterLocked(domain.NewRoster(space, participant, []domain.Member{{Membership: s.membership}}))
	}
	roster := m.roster
	seq := m.rosterSeq
	info := s.info()
	link := m.link
	m.mu.Unlock()
	if link != nil {
		// OpenSurface may call back into RepublishRoster, so it runs outside
		// publishMu. A roster published meanwhile is pushed again after it.
		link.OpenSurface(space, roster)
		m.publishMu.Lock()
		m.mu.Lock()
		overtaken := m.session == s && m.rosterSeq != seq
		latest := m.roster
		m.mu.Unlock()
		if overtaken {
			link.PushRoster(latest)
		}
		m.publishMu.Unlock()
	}
	return info, nil
}

// Leave deletes participant's membership. When participant is the local
// session the session is torn down and the overlay surface closed, even if
// the delete failed; otherwise the roster is reloaded.
func (m *PresenceManager) Leave(ctx context.Context, space domain.SpaceID, participant domain.ParticipantID) error {
	if space == "" {
		return domain.ErrInvalidSpace
	}
	if participant == "" {
		return domain.ErrInvalidParticipant
	}
	delErr := m.store.Delete(ctx, space, participant)
	if delErr != nil {
		delErr = fmt.Errorf("leave %s: %w", space, delErr)
	}

	m.mu.Lock()
	s := m.session
	local := s != nil && s.Space == space && s.Participant == participant
	var link SurfaceLink
	var subs []func(RosterEvent)
	if local {
		m.session = nil
		m.gen++
		m.setRosterLocked(domain.Roster{})
		link = m.link
		subs = m.subscribersLocked()
	}
	m.mu.Unlock()

	if !local {
		if delErr != nil {
			return delErr
		}
		if s != nil && s.Space == space {
			if err := m.Reload(ctx); err != nil && !errors.Is(err, domain.ErrNoSession) {
				m.logger.Printf("Presence: reload after %s left: %v", participant, err)
			}
		}
		return nil
	}

	s.close()
	m.publishMu.Lock()
	for _, fn := range subs {
		fn(RosterEvent{Roster: domain.Roster{}})
	}
	if link != nil {
		link.CloseSurface()
	}
	m.publishMu.Unlock()
	m.logger.Printf("Presence: %s left %s (session %s)", participant, space, s.ID)
	return delErr
}

// Reload re-reads the active space and publishes the roster.
func (m *PresenceManager) Reload(ctx context.Context) error {
	m.mu.Lock()
	s := m.session
	m.mu.Unlock()
	if s == nil {
		return domain.ErrNoSession
	}
	return m.reload(ctx, s, true)
}

func (m *PresenceManager) reload(ctx context.Context, s *Session, push bool) error {
	m.mu.Lock()
	if m.session != s {
		m.mu.Unlock()
		return domain.ErrNoSession
	}
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	roster, readErr := m.read(ctx, s)

	m.publishMu.Lock()
	defer m.publishMu.Unlock()
	m.mu.Lock()
	if m.gen != gen || m.session != s {
		m.mu.Unlock()
		return nil
	}
	if readErr != nil {
		if !m.roster.Contains(s.Participant) {
			m.setRosterLocked(domain.NewRoster(s.Space, s.Participant, []domain.Member{{Membership: s.membership}}))
		}
		ev := RosterEvent{Roster: m.roster, Err: readErr, Stale: true}
		subs := m.subscribersLocked()
		m.mu.Unlock()
		m.logger.Printf("Presence: reload %s failed, keeping previous roster: %v", s.Space, readErr)
		for _, fn := range subs {
			fn(ev)
		}
		return readErr
	}
	m.setRosterLocked(roster)
	link := m.link
	subs := m.subscribersLocked()
	m.mu.Unlock()

	for _, fn := range subs {
		fn(RosterEvent{Roster: roster})
	}
	if push && link != nil {
		link.PushRoster(roster)
	}
	return nil
}

// read builds the roster from one full membership read plus a batch display
// lookup. The local participant is kept even if its row is missing.
func (m *PresenceManager) read(ctx context.Context, s *Session) (domain.Roster, error) {
	rows, err := m.store.Query(ctx, s.Space)
	if err != nil {
		return domain.Roster{}, fmt.Errorf("query %s: %w", s.Space, err)
	}
	members := make([]domain.Member, 0, len(rows)+1)
	ids := make([]domain.ParticipantID, 0, len(rows)+1)
	local := false
	for _, row := range rows {
		members = append(members, domain.Member{Membership: row})
		ids = append(ids, row.ParticipantID)
		if row.ParticipantID == s.Participant {
			local = true
			m.mu.Lock()
			s.membership = row
			m.mu.Unlock()
		}
	}
	if !local {
		m.mu.Lock()
		own := s.membership
		m.mu.Unlock()
		m.logger.Printf("Presence: local membership %s missing from %s, keeping it", s.Participant, s.Space)
		members = append(members, domain.Member{Membership: own})
		ids = append(ids, s.Participant)
	}
	if m.dir != nil {
		infos, err := m.dir.LookupDisplayInfo(ctx, ids)
		if err != nil {
			m.logger.Printf("Presence: display lookup for %s failed: %v", s.Space, err)
		}
		for i := range members {
			members[i].Display = infos[members[i].ParticipantID]
		}
	}
	return domain.NewRoster(s.Space, s.Participant, members), nil
}

// onRosterChanged coalesces change notifications: while a reload runs, any
// number of further notifications schedule exactly one more.
func (m *PresenceManager) onRosterChanged(s *Session) {
	m.mu.Lock()
	if m.session != s {
		m.mu.Unlock()
		return
	}
	if s.reloading {
		s.pending = true
		m.mu.Unlock()
		return
	}
	s.reloading = true
	m.loops.Add(1)
	m.mu.Unlock()
	go m.reloadLoop(s)
}

func (m *PresenceManager) reloadLoop(s *Session) {
	defer m.loops.Done()
	for {
		if err := m.reload(s.ctx, s, true); err != nil && !errors.Is(err, domain.ErrNoSession) && s.ctx.Err() == nil {
			m.logger.Printf("Presence: notification reload: %v", err)
		}
		m.mu.Lock()
		if !s.pending || m.session != s {
			s.reloading = false
			s.pending = false
			m.mu.Unlock()
			return
		}
		s.pending = false
		m.mu.Unlock()
	}
}

// CommitPosition writes the local participant's released drag position. Only
// the active session's own row may be written.
func (m *PresenceManager) CommitPosition(ctx context.Context, space domain.SpaceID, participant domain.ParticipantID, pos domain.Position) error {
	m.mu.Lock()
	s := m.session
	m.mu.Unlock()
	if s == nil || s.Space != space || s.Participant != participant {
		return fmt.Errorf("commit %s/%s: %w", space, participant, domain.ErrNoSession)
	}
	if err := m.store.Update(ctx, space, participant, pos); err != nil {
		return fmt.Errorf("commit %s/%s: %w", space, participant, err)
	}
	m.mu.Lock()
	if m.session == s {
		s.membership.Position = pos
	}
	m.mu.Unlock()
	return nil
}

// RepublishRoster answers a snapshot request: the held roster is pushed at
// once and a fresh read follows.
func (m *PresenceManager) RepublishRoster() {
	m.mu.Lock()
	s := m.session
	roster := m.roster
	link := m.link
	m.mu.Unlock()
	if s == nil || link == nil {
		return
	}
	m.publishMu.Lock()
	link.PushRoster(roster)
	m.publishMu.Unlock()
	m.onRosterChanged(s)
}

// Heartbeat refreshes the local membership's last_seen.
func (m *PresenceManager) Heartbeat(ctx context.Context) error {
	m.mu.Lock()
	s := m.session
	m.mu.Unlock()
	if s == nil {
		return nil
	}
	t, ok := m.store.(Toucher)
	if !ok {
		return nil
	}
	return t.Touch(ctx, s.Space, s.Participant)
}

// Roster returns the current roster. Empty without a session.
func (m *PresenceManager) Roster() domain.Roster {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.roster.WithLocal(m.roster.Local)
}

// Session returns the active session.
func (m *PresenceManager) Session() (SessionInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return SessionInfo{}, false
	}
	return m.session.info(), true
}

// RecordCaptureMode stores the overlay's last reported capture state.
func (m *PresenceManager) RecordCaptureMode(ignore bool) {
	m.mu.Lock()
	m.capture = ignore
	m.mu.Unlock()
}

// CaptureMode reports whether the overlay last said it ignores the pointer.
func (m *PresenceManager) CaptureMode() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.capture
}

// Wait blocks until in-flight notification reloads have finished.
func (m *PresenceManager) Wait() { m.loops.Wait() }

// Close drops the session without deleting its row, so a restart resumes
// it, and waits for reloads to finish.
func (m *PresenceManager) Close() {
	m.mu.Lock()
	s := m.session
	m.session = nil
	m.gen++
	m.mu.Unlock()
	if s != nil {
		s.close()
	}
	m.loops.Wait()
}

func (m *PresenceManager) setRosterLocked(r domain.Roster) {
	m.roster = r
	m.rosterSeq++
}

func (m *PresenceManager) subscribersLocked() []func(RosterEvent) {
	subs := make([]func(RosterEvent), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	return subs
}

func (s *Session) info() SessionInfo {
	return SessionInfo{
		ID:          s.ID,
		Space:       s.Space,
		Participant: s.Participant,
		Position:    s.membership.Position,
		AvatarKind:  s.membership.AvatarKind,
		StartedAt:   s.StartedAt,
	}
}
