package domain

import "errors"

var (
	ErrInvalidSpace       = errors.New("space id is required")
	ErrInvalidParticipant = errors.New("participant id is required")
	ErrNoSession          = errors.New("no active hangout session")
	ErrNoMembership       = errors.New("membership not found")
	ErrNotInRoster        = errors.New("participant not in roster")
	ErrNotLocal           = errors.New("only the local avatar can be dragged")
	ErrUnknownGesture     = errors.New("unknown gesture")
	ErrSurfaceUnavailable = errors.New("overlay surface unavailable")
	ErrClosed             = errors.New("closed")
)
