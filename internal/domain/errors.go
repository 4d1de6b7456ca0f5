package domain

import "errors"

// Error taxonomy. Callers classify failures with errors.Is against these
// sentinels; concrete errors wrap them with context.
var (
	// ErrValidation covers rejected inputs: rollback of an ineligible
	// match, malformed rating parameters. Never retried.
	ErrValidation = errors.New("validation error")

	// ErrPersistence covers storage failures mid-operation. Recovery is a
	// fresh full recalculation, which always clears then rebuilds.
	ErrPersistence = errors.New("persistence error")

	// ErrConsistency marks a violated season-identity invariant, e.g. two
	// seasons claiming the active slot. Requires manual repair.
	ErrConsistency = errors.New("consistency error")

	ErrNotFound = errors.New("not found")
)
