package app

import (
	"sync"
	"time"

	"github.com/jaakkos/hangout/internal/clock"
	"github.com/jaakkos/hangout/internal/domain"
)

// SessionRegistry maps connected MCP client sessions to the participant each
// one joined as, and remembers when each client last called a tool. A
// participant is bound to at most one client session.
type SessionRegistry struct {
	clock clock.Clock

	mu     sync.RWMutex
	bySID  map[string]*clientBinding
	byPart map[domain.ParticipantID]*clientBinding
}

type clientBinding struct {
	sessionID   string
	participant domain.ParticipantID
	lastCall    time.Time
}

// RegistryOption configures a SessionRegistry.
type RegistryOption func(*SessionRegistry)

// WithRegistryClock sets the clock activity is stamped with.
func WithRegistryClock(c clock.Clock) RegistryOption {
	return func(r *SessionRegistry) { r.clock = c }
}

// NewSessionRegistry creates an empty registry.
func NewSessionRegistry(opts ...RegistryOption) *SessionRegistry {
	r := &SessionRegistry{
		bySID:  make(map[string]*clientBinding),
		byPart: make(map[domain.ParticipantID]*clientBinding),
	}
	for _, o := range opts {
		o(r)
	}
	r.clock = clock.OrReal(r.clock)
	return r
}

// Bind associates a client session with a participant. Any earlier binding of
// either side is dropped.
func (r *SessionRegistry) Bind(sessionID string, participant domain.ParticipantID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old := r.byPart[participant]; old != nil {
		delete(r.bySID, old.sessionID)
	}
	if old := r.bySID[sessionID]; old != nil {
		delete(r.byPart, old.participant)
	}
	b := &clientBinding{sessionID: sessionID, participant: participant, lastCall: r.clock.Now()}
	r.bySID[sessionID] = b
	r.byPart[participant] = b
}

// Participant returns the participant bound to a session, or "".
func (r *SessionRegistry) Participant(sessionID string) domain.ParticipantID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if b := r.bySID[sessionID]; b != nil {
		return b.participant
	}
	return ""
}

// TouchSession stamps a tool call. Unbound sessions are ignored.
func (r *SessionRegistry) TouchSession(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b := r.bySID[sessionID]; b != nil {
		b.lastCall = r.clock.Now()
	}
}

// LastActivity returns when participant's client last called a tool. Zero
// when no client is bound to participant.
func (r *SessionRegistry) LastActivity(participant domain.ParticipantID) time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if b := r.byPart[participant]; b != nil {
		return b.lastCall
	}
	return time.Time{}
}

// IdleFor reports whether participant's bound client has made no call for
// longer than d. A participant without a bound client is never idle.
func (r *SessionRegistry) IdleFor(participant domain.ParticipantID, d time.Duration) bool {
	last := r.LastActivity(participant)
	return !last.IsZero() && r.clock.Now().Sub(last) > d
}

// RemoveSession drops a session on disconnect and returns its participant.
func (r *SessionRegistry) RemoveSession(sessionID string) domain.ParticipantID {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.bySID[sessionID]
	if b == nil {
		return ""
	}
	delete(r.bySID, sessionID)
	delete(r.byPart, b.participant)
	return b.participant
}

// Count returns the number of bound sessions.
func (r *SessionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bySID)
}
