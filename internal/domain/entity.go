// Package domain holds hangout entities: memberships, rosters and motion events.
// It has no dependencies on other packages.
package domain

import (
	"sort"
	"time"
)

// SpaceID identifies the shared overlay context of one conversation.
type SpaceID string

// ParticipantID identifies a chat member.
type ParticipantID string

// AvatarKind selects the avatar artwork. Rendering is not modelled here.
type AvatarKind string

// DefaultAvatarKind is used when a join does not name one.
const DefaultAvatarKind AvatarKind = "blob"

// Position is an avatar origin in surface coordinates.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Membership is the durable record of one participant in a space.
// Unique per (SpaceID, ParticipantID).
type Membership struct {
	SpaceID       SpaceID       `json:"space_id"`
	ParticipantID ParticipantID `json:"participant_id"`
	Position      Position      `json:"position"`
	AvatarKind    AvatarKind    `json:"avatar_kind"`
	JoinedAt      time.Time     `json:"joined_at"`
	LastSeen      time.Time     `json:"last_seen,omitempty"`
}

// DisplayInfo is read-only participant metadata from the directory.
type DisplayInfo struct {
	Name   string `json:"name"`
	Status string `json:"status,omitempty"` // online, away, busy
}

// Member is a roster entry: a membership merged with display metadata.
type Member struct {
	Membership
	Display DisplayInfo `json:"display"`
}

// Roster is the ordered set of members currently valid for a space.
// Local names the participant that owns the overlay instance the roster is
// delivered to; it is empty on rosters read for display only.
type Roster struct {
	SpaceID SpaceID       `json:"space_id"`
	Local   ParticipantID `json:"local,omitempty"`
	Members []Member      `json:"members"`
}

// NewRoster builds a roster ordered by join time (then participant id), keeping
// the last entry seen for a duplicated participant id.
func NewRoster(space SpaceID, local ParticipantID, members []Member) Roster {
	byID := make(map[ParticipantID]Member, len(members))
	for _, m := range members {
		byID[m.ParticipantID] = m
	}
	out := make([]Member, 0, len(byID))
	for _, m := range byID {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].ParticipantID < out[j].ParticipantID
	})
	return Roster{SpaceID: space, Local: local, Members: out}
}

// Get returns the member for id.
func (r Roster) Get(id ParticipantID) (Member, bool) {
	for _, m := range r.Members {
		if m.ParticipantID == id {
			return m, true
		}
	}
	return Member{}, false
}

// Contains reports whether id is in the roster.
func (r Roster) Contains(id ParticipantID) bool {
	_, ok := r.Get(id)
	return ok
}

// IDs returns participant ids in roster order.
func (r Roster) IDs() []ParticipantID {
	ids := make([]ParticipantID, 0, len(r.Members))
	for _, m := range r.Members {
		ids = append(ids, m.ParticipantID)
	}
	return ids
}

// Len returns the number of members.
func (r Roster) Len() int { return len(r.Members) }

// WithLocal returns a copy of the roster addressed to local.
func (r Roster) WithLocal(local ParticipantID) Roster {
	members := make([]Member, len(r.Members))
	copy(members, r.Members)
	return Roster{SpaceID: r.SpaceID, Local: local, Members: members}
}
