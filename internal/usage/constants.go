package usage

import "time"

const (
	// BatchFlushThreshold triggers a write without waiting for the ticker.
	BatchFlushThreshold = 100

	defaultBufferSize    = 1000
	defaultFlushInterval = 5 * time.Second

	// CleanupInterval is how often expired entries are deleted.
	CleanupInterval = time.Hour
)
