package guard

import "time"

// OperationClass partitions requests so each kind gets its own ceiling.
type OperationClass string

const (
	// OpStart covers session creation attempts.
	OpStart OperationClass = "start"
	// OpControl covers pause, resume, status and subscribe calls.
	OpControl OperationClass = "control"
)

// identityState tracks one caller's recent behavior.
type identityState struct {
	// windows holds the in-window request timestamps per operation class,
	// oldest first. Pruned lazily on access.
	windows map[OperationClass][]time.Time
	// consecutive rejected authorization attempts
	failures int
	// zero when the identity is not banned
	bannedUntil time.Time
	lastSeen    time.Time
}

func newIdentityState() *identityState {
	return &identityState{
		windows: make(map[OperationClass][]time.Time),
	}
}
