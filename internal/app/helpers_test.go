package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jaakkos/hangout/internal/domain"
	"github.com/jaakkos/hangout/internal/overlay"
)

type memKey struct {
	space       domain.SpaceID
	participant domain.ParticipantID
}

// memStore is an in-memory SessionStore and DisplayDirectory. In manual mode
// change notifications are held until the test fires them.
type memStore struct {
	mu         sync.Mutex
	rows       map[memKey]domain.Membership
	seq        int
	subs       map[domain.SpaceID]map[int]func()
	nextSub    int
	manual     bool
	queryCalls int
	queryErr   error
	// afterRead runs after Query copied its rows, before it returns.
	afterRead func(call int)
	deleteErr error
	infos     map[domain.ParticipantID]domain.DisplayInfo
	lookupErr error
	touches   int
}

func newMemStore() *memStore {
	return &memStore{
		rows:  make(map[memKey]domain.Membership),
		subs:  make(map[domain.SpaceID]map[int]func()),
		infos: make(map[domain.ParticipantID]domain.DisplayInfo),
	}
}

func (s *memStore) Insert(_ context.Context, m domain.Membership) error {
	s.mu.Lock()
	k := memKey{m.SpaceID, m.ParticipantID}
	if old, ok := s.rows[k]; ok {
		old.AvatarKind = m.AvatarKind
		s.rows[k] = old
	} else {
		s.seq++
		m.JoinedAt = time.Unix(int64(s.seq), 0)
		s.rows[k] = m
	}
	s.mu.Unlock()
	s.signal(m.SpaceID)
	return nil
}

func (s *memStore) Update(_ context.Context, space domain.SpaceID, id domain.ParticipantID, pos domain.Position) error {
	s.mu.Lock()
	k := memKey{space, id}
	row, ok := s.rows[k]
	if !ok {
		s.mu.Unlock()
		return domain.ErrNoMembership
	}
	row.Position = pos
	s.rows[k] = row
	s.mu.Unlock()
	s.signal(space)
	return nil
}

func (s *memStore) Delete(_ context.Context, space domain.SpaceID, id domain.ParticipantID) error {
	s.mu.Lock()
	if s.deleteErr != nil {
		err := s.deleteErr
		s.mu.Unlock()
		return err
	}
	delete(s.rows, memKey{space, id})
	s.mu.Unlock()
	s.signal(space)
	return nil
}

func (s *memStore) Query(_ context.Context, space domain.SpaceID) ([]domain.Membership, error) {
	s.mu.Lock()
	s.queryCalls++
	call := s.queryCalls
	if s.queryErr != nil {
		err := s.queryErr
		s.mu.Unlock()
		return nil, err
	}
	var out []domain.Membership
	for k, m := range s.rows {
		if k.space == space {
			out = append(out, m)
		}
	}
	hook := s.afterRead
	s.mu.Unlock()
	if hook != nil {
		hook(call)
	}
	return out, nil
}

func (s *memStore) Subscribe(space domain.SpaceID, fn func()) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs[space] == nil {
		s.subs[space] = make(map[int]func())
	}
	id := s.nextSub
	s.nextSub++
	s.subs[space][id] = fn
	return func() {
		s.mu.Lock()
		delete(s.subs[space], id)
		s.mu.Unlock()
	}, nil
}

func (s *memStore) Touch(context.Context, domain.SpaceID, domain.ParticipantID) error {
	s.mu.Lock()
	s.touches++
	s.mu.Unlock()
	return nil
}

func (s *memStore) LookupDisplayInfo(_ context.Context, ids []domain.ParticipantID) (map[domain.ParticipantID]domain.DisplayInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lookupErr != nil {
		return nil, s.lookupErr
	}
	out := make(map[domain.ParticipantID]domain.DisplayInfo)
	for _, id := range ids {
		if info, ok := s.infos[id]; ok {
			out[id] = info
		}
	}
	return out, nil
}

func (s *memStore) UpsertParticipant(_ context.Context, id domain.ParticipantID, info domain.DisplayInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.infos[id] = info
	return nil
}

func (s *memStore) subscribers(space domain.SpaceID) []func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	var fns []func()
	for _, fn := range s.subs[space] {
		fns = append(fns, fn)
	}
	return fns
}

func (s *memStore) signal(space domain.SpaceID) {
	s.mu.Lock()
	manual := s.manual
	s.mu.Unlock()
	if manual {
		return
	}
	for _, fn := range s.subscribers(space) {
		fn()
	}
}

func (s *memStore) count(space domain.SpaceID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k := range s.rows {
		if k.space == space {
			n++
		}
	}
	return n
}

func (s *memStore) row(space domain.SpaceID, id domain.ParticipantID) (domain.Membership, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.rows[memKey{space, id}]
	return m, ok
}

// recordingLink records bridge calls. deliveries holds every roster the
// overlay would have been handed, opens and pushes alike, in order.
type recordingLink struct {
	mu         sync.Mutex
	opens      []domain.Roster
	pushes     []domain.Roster
	deliveries []domain.Roster
	closes     int
	// beforeOpen runs at the start of the next OpenSurface.
	beforeOpen func()
}

func (l *recordingLink) OpenSurface(space domain.SpaceID, r domain.Roster) {
	l.mu.Lock()
	hook := l.beforeOpen
	l.beforeOpen = nil
	l.mu.Unlock()
	if hook != nil {
		hook()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	r.SpaceID = space
	l.opens = append(l.opens, r)
	l.deliveries = append(l.deliveries, r)
}

func (l *recordingLink) PushRoster(r domain.Roster) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pushes = append(l.pushes, r)
	l.deliveries = append(l.deliveries, r)
}

func (l *recordingLink) CloseSurface() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closes++
}

func (l *recordingLink) counts() (opens, pushes, closes int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.opens), len(l.pushes), l.closes
}

func (l *recordingLink) firstOpen() domain.Roster {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.opens) == 0 {
		return domain.Roster{}
	}
	return l.opens[0]
}

func (l *recordingLink) lastDelivered() domain.Roster {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.deliveries) == 0 {
		return domain.Roster{}
	}
	return l.deliveries[len(l.deliveries)-1]
}

// directLink wires a presence manager straight to an overlay controller,
// the way the bridge does without the transport.
type directLink struct {
	ctrl *overlay.Controller
	mgr  *PresenceManager
}

func (l *directLink) OpenSurface(space domain.SpaceID, r domain.Roster) {
	r.SpaceID = space
	_ = l.ctrl.EnsureSurface(r)
}
func (l *directLink) PushRoster(r domain.Roster)     { l.ctrl.ApplyRoster(r) }
func (l *directLink) CloseSurface()                  { l.ctrl.CloseSurface() }
func (l *directLink) RequestCaptureMode(ignore bool) { l.mgr.RecordCaptureMode(ignore) }
func (l *directLink) RequestRosterSnapshot()         { l.mgr.RepublishRoster() }

type stubPolicy struct {
	participant domain.ParticipantID
	name        string
	ttl         time.Duration
}

func (p stubPolicy) Participant() domain.ParticipantID { return p.participant }
func (p stubPolicy) DisplayName() string               { return p.name }
func (p stubPolicy) AvatarKind() domain.AvatarKind     { return domain.DefaultAvatarKind }
func (p stubPolicy) MembershipTTL() time.Duration      { return p.ttl }

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond, "timed out waiting for %s", what)
}

func ids(r domain.Roster) map[domain.ParticipantID]bool {
	out := make(map[domain.ParticipantID]bool, r.Len())
	for _, id := range r.IDs() {
		out[id] = true
	}
	return out
}

var errBoom = errors.New("boom")
