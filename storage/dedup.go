package storage

import (
	"encoding/binary"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"
)

type dedupKey [blake2b.Size256]byte

// Deduplicator is a coarse time-bucketed idempotence filter for broadcast
// traffic. Identical (type, payload) pairs seen within the same bucket are
// reported as duplicates. The whole set is dropped by Clear, which the owner
// schedules every cleanup interval.
type Deduplicator struct {
	window time.Duration
	now    func() time.Time

	seen sync.Map // dedupKey -> struct{}
}

// NewDeduplicator creates a filter with the given bucket width. A zero window
// uses DefaultDedupWindow; a nil clock uses time.Now.
func NewDeduplicator(window time.Duration, now func() time.Time) *Deduplicator {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	if now == nil {
		now = time.Now
	}
	return &Deduplicator{window: window, now: now}
}

// IsDuplicate records the message and reports whether it was already seen in
// the current bucket. Check and insert happen atomically.
func (d *Deduplicator) IsDuplicate(messageType string, raw []byte) bool {
	key := d.key(messageType, raw, d.now())
	_, loaded := d.seen.LoadOrStore(key, struct{}{})
	return loaded
}

// Len returns the number of remembered keys.
func (d *Deduplicator) Len() int {
	count := 0
	d.seen.Range(func(_, _ any) bool {
		count++
		return true
	})
	return count
}

// Clear drops every remembered key.
func (d *Deduplicator) Clear() {
	d.seen.Clear()
}

func (d *Deduplicator) key(messageType string, raw []byte, at time.Time) dedupKey {
	var bucket [8]byte
	binary.BigEndian.PutUint64(bucket[:], uint64(at.UnixNano()/int64(d.window)))

	hasher, _ := blake2b.New256(nil)
	_, _ = hasher.Write([]byte(messageType))
	_, _ = hasher.Write([]byte{0})
	_, _ = hasher.Write(raw)
	_, _ = hasher.Write([]byte{0})
	_, _ = hasher.Write(bucket[:])

	var key dedupKey
	copy(key[:], hasher.Sum(nil))
	return key
}
