package oracle

import "errors"

// Sentinel kinds for oracle errors.
var (
	ErrNotConfigured   = errors.New("oracle endpoint not configured")
	ErrEmptyReply      = errors.New("oracle returned no completion")
	ErrMalformedReply  = errors.New("oracle reply has no score")
	ErrSimulatedOutage = errors.New("simulated oracle outage")
)
