package storage

import (
	"sync"
	"testing"
	"time"

	"lanchat/models"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	// Aligned to a whole second so bucket boundaries are predictable.
	return &fakeClock{now: time.Unix(1_706_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func mustAddGroup(t *testing.T, groups *GroupDirectory, name string, visibility models.Visibility, password string) models.Group {
	t.Helper()

	group, created := groups.AddDiscovered(name, visibility, password)
	if !created {
		t.Fatalf("expected group %q to be created", name)
	}
	return group
}
