package clock

import "errors"

// Sentinel kinds for clock errors.
var (
	ErrAlreadyArmed = errors.New("clock already armed")
	ErrSpent        = errors.New("clock already fired or cancelled")
)
