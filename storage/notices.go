package storage

import (
	"sync"
	"time"
)

// NoticeSuppressor mutes repeated (kind, group, actor) notices for a fixed period.
type NoticeSuppressor struct {
	ttl time.Duration
	now func() time.Time

	entries sync.Map // key -> expiry in unix nanos
}

// NewNoticeSuppressor creates a suppressor. A zero ttl uses DefaultNoticeSuppression.
func NewNoticeSuppressor(ttl time.Duration, now func() time.Time) *NoticeSuppressor {
	if ttl <= 0 {
		ttl = DefaultNoticeSuppression
	}
	if now == nil {
		now = time.Now
	}
	return &NoticeSuppressor{ttl: ttl, now: now}
}

// Allow reports whether the notice should be delivered and, if so, starts its
// suppression period.
func (s *NoticeSuppressor) Allow(kind, group, actor string) bool {
	key := kind + "\x00" + group + "\x00" + actor
	now := s.now().UnixNano()
	expiry := now + int64(s.ttl)

	for {
		current, loaded := s.entries.LoadOrStore(key, expiry)
		if !loaded {
			return true
		}
		if current.(int64) > now {
			return false
		}
		if s.entries.CompareAndSwap(key, current, expiry) {
			return true
		}
	}
}

// Sweep removes expired entries and returns how many were removed.
func (s *NoticeSuppressor) Sweep() int {
	now := s.now().UnixNano()
	removed := 0
	s.entries.Range(func(key, value any) bool {
		if value.(int64) <= now && s.entries.CompareAndDelete(key, value) {
			removed++
		}
		return true
	})
	return removed
}
