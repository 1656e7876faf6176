package storage

import (
	"errors"
	"time"
)

const (
	// DefaultDedupWindow is the width of one dedup time bucket.
	DefaultDedupWindow = 100 * time.Millisecond
	// DefaultDedupCleanupInterval is how often the whole dedup set is dropped.
	DefaultDedupCleanupInterval = 10 * time.Second
	// DefaultNoticeSuppression is how long a join/leave notice is muted after first delivery.
	DefaultNoticeSuppression = 3 * time.Second
)

var (
	// ErrNotFound indicates a requested record does not exist.
	ErrNotFound = errors.New("storage: record not found")
)
