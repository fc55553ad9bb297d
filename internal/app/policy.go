package app

import (
	"time"

	"github.com/jaakkos/hangout/internal/domain"
)

// Policy is the configuration port used by the application.
// Implemented by internal/policy.Policy.
type Policy interface {
	Participant() domain.ParticipantID
	DisplayName() string
	AvatarKind() domain.AvatarKind
	MembershipTTL() time.Duration
}
