// Package app implements the presence use cases and defines the ports they
// consume (session store, display directory, surface link).
package app

import (
	"context"
	"time"

	"github.com/jaakkos/hangout/internal/domain"
)

// SessionStore is the durable membership store.
// Implementation: internal/repository/sqlite.
type SessionStore interface {
	Insert(ctx context.Context, m domain.Membership) error
	Update(ctx context.Context, space domain.SpaceID, participant domain.ParticipantID, pos domain.Position) error
	Delete(ctx context.Context, space domain.SpaceID, participant domain.ParticipantID) error
	Query(ctx context.Context, space domain.SpaceID) ([]domain.Membership, error)
	// Subscribe calls onChange after any change to space. Notifications carry
	// no payload; the subscriber re-reads.
	Subscribe(space domain.SpaceID, onChange func()) (cancel func(), err error)
}

// DisplayDirectory resolves participant display metadata.
type DisplayDirectory interface {
	LookupDisplayInfo(ctx context.Context, ids []domain.ParticipantID) (map[domain.ParticipantID]domain.DisplayInfo, error)
}

// DisplayRegistrar is implemented by directories that accept registrations.
type DisplayRegistrar interface {
	UpsertParticipant(ctx context.Context, id domain.ParticipantID, info domain.DisplayInfo) error
}

// Toucher refreshes a membership's liveness without a roster change.
type Toucher interface {
	Touch(ctx context.Context, space domain.SpaceID, participant domain.ParticipantID) error
}

// StalePruner deletes memberships last seen before cutoff.
type StalePruner interface {
	PruneStale(ctx context.Context, cutoff time.Time) (int, error)
}

// SurfaceLink is the primary side of the cross-surface bridge.
// Implementation: internal/bridge.Endpoint.
type SurfaceLink interface {
	OpenSurface(space domain.SpaceID, r domain.Roster)
	PushRoster(r domain.Roster)
	CloseSurface()
}
