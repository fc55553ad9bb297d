package app

import (
	"context"
	"fmt"

	"github.com/jaakkos/hangout/internal/domain"
)

// ReadRoster reads the durable roster of any space for display. It needs no
// session and the result has no local participant. A failed display lookup
// leaves display metadata empty.
func ReadRoster(ctx context.Context, store SessionStore, dir DisplayDirectory, space domain.SpaceID) (domain.Roster, error) {
	if space == "" {
		return domain.Roster{}, domain.ErrInvalidSpace
	}
	rows, err := store.Query(ctx, space)
	if err != nil {
		return domain.Roster{}, fmt.Errorf("query %s: %w", space, err)
	}
	members := make([]domain.Member, len(rows))
	ids := make([]domain.ParticipantID, len(rows))
	for i, row := range rows {
		members[i] = domain.Member{Membership: row}
		ids[i] = row.ParticipantID
	}
	if dir != nil && len(ids) > 0 {
		if infos, err := dir.LookupDisplayInfo(ctx, ids); err == nil {
			for i := range members {
				members[i].Display = infos[members[i].ParticipantID]
			}
		}
	}
	return domain.NewRoster(space, "", members), nil
}
