package storage

import (
	"testing"
	"time"
)

func TestNoticeSuppressorMutesWithinTTL(t *testing.T) {
	clock := newFakeClock()
	notices := NewNoticeSuppressor(DefaultNoticeSuppression, clock.Now)

	if !notices.Allow("JOIN_GROUP", "team", "bob") {
		t.Fatalf("expected first notice to pass")
	}
	clock.Advance(time.Second)
	if notices.Allow("JOIN_GROUP", "team", "bob") {
		t.Fatalf("expected repeat within ttl to be muted")
	}
	if !notices.Allow("LEAVE_GROUP", "team", "bob") {
		t.Fatalf("expected a different kind to pass")
	}
	if !notices.Allow("JOIN_GROUP", "team", "carol") {
		t.Fatalf("expected a different actor to pass")
	}

	clock.Advance(3 * time.Second)
	if !notices.Allow("JOIN_GROUP", "team", "bob") {
		t.Fatalf("expected notice to pass after ttl")
	}
}

func TestNoticeSuppressorSweep(t *testing.T) {
	clock := newFakeClock()
	notices := NewNoticeSuppressor(time.Second, clock.Now)

	notices.Allow("JOIN_GROUP", "team", "bob")
	notices.Allow("LEAVE_GROUP", "team", "bob")
	if removed := notices.Sweep(); removed != 0 {
		t.Fatalf("expected nothing expired yet, removed %d", removed)
	}
	clock.Advance(2 * time.Second)
	if removed := notices.Sweep(); removed != 2 {
		t.Fatalf("expected 2 expired entries, removed %d", removed)
	}
}
