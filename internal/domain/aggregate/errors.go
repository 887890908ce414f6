package aggregate

import "errors"

// Sentinel kinds for aggregation errors.
var (
	ErrIncomplete = errors.New("session has stages that are not submitted")
)
