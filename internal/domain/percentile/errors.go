package percentile

import "errors"

// Sentinel kinds for percentile errors.
var (
	ErrSessionNotFinalized = errors.New("session not finalized")
	ErrNoPopulationData    = errors.New("no other finalized sessions")
)
