package repository

import "time"

// Default index configuration constants.
const (
	defaultSnapshotInterval = 1 * time.Second
	defaultSeed             = 0x5eed
)

// IndexOption applies a configuration option to the TreapIndex.
type IndexOption func(*TreapIndex)

// WithSnapshotInterval sets how often the lock-free snapshot is rebuilt.
func WithSnapshotInterval(interval time.Duration) IndexOption {
	return func(s *TreapIndex) {
		if interval > 0 {
			s.snapshotInterval = interval
		}
	}
}

