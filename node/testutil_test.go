package node

import (
	"io"
	"log"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"lanchat/discovery"
	"lanchat/network"
)

// memBus is an in-process broadcast domain. Every Send reaches every
// started endpoint, the sender included, like multicast loopback does.
type memBus struct {
	mu      sync.RWMutex
	members map[*memEndpoint]struct{}
	// drop, when set, discards matching broadcasts before delivery.
	drop func(payload []byte) bool
}

func (b *memBus) setDrop(drop func(payload []byte) bool) {
	b.mu.Lock()
	b.drop = drop
	b.mu.Unlock()
}

func (b *memBus) dropped(payload []byte) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.drop != nil && b.drop(payload)
}

func newMemBus() *memBus {
	return &memBus{members: make(map[*memEndpoint]struct{})}
}

func (b *memBus) endpoint(ip string) *memEndpoint {
	e := &memEndpoint{bus: b, ip: ip}
	b.mu.Lock()
	b.members[e] = struct{}{}
	b.mu.Unlock()
	return e
}

func (b *memBus) snapshot() []*memEndpoint {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*memEndpoint, 0, len(b.members))
	for e := range b.members {
		out = append(out, e)
	}
	return out
}

type memEndpoint struct {
	bus *memBus
	ip  string

	mu      sync.RWMutex
	handler discovery.Handler
	closed  bool
}

func (e *memEndpoint) Start(handler discovery.Handler) {
	e.mu.Lock()
	e.handler = handler
	e.mu.Unlock()
}

func (e *memEndpoint) Send(payload []byte) error {
	if e.bus.dropped(payload) {
		return nil
	}
	for _, member := range e.bus.snapshot() {
		member.deliver(payload, e.ip)
	}
	return nil
}

func (e *memEndpoint) SendTo(ip string, payload []byte) error {
	for _, member := range e.bus.snapshot() {
		if member.ip == ip {
			member.deliver(payload, e.ip)
		}
	}
	return nil
}

func (e *memEndpoint) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	e.bus.mu.Lock()
	delete(e.bus.members, e)
	e.bus.mu.Unlock()
	return nil
}

// Inject delivers payload to this endpoint alone, as if sent from srcIP.
func (e *memEndpoint) Inject(payload, srcIP string) {
	e.deliver([]byte(payload), srcIP)
}

func (e *memEndpoint) deliver(payload []byte, srcIP string) {
	e.mu.RLock()
	handler, closed := e.handler, e.closed
	e.mu.RUnlock()
	if handler == nil || closed {
		return
	}
	data := append([]byte(nil), payload...)
	handler(data, &net.UDPAddr{IP: net.ParseIP(srcIP), Port: discovery.DefaultPort})
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
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

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func testOptions(t *testing.T, nickname string, bus Broadcaster) Options {
	t.Helper()

	return Options{
		Nickname:         nickname,
		ListenAddress:    "127.0.0.1:0",
		DownloadDir:      filepath.Join(t.TempDir(), "downloads"),
		Broadcaster:      bus,
		AnnounceInterval: -1,
		ShutdownSpacing:  10 * time.Millisecond,
		Client: network.ClientConfig{
			DialTimeout:   2 * time.Second,
			MessageLinger: 10 * time.Millisecond,
			FileLinger:    10 * time.Millisecond,
		},
		Logger: quietLogger(),
	}
}

func startTestNode(t *testing.T, opts Options) *Node {
	t.Helper()

	n, err := New(opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := n.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(n.Stop)
	return n
}

// drainEvents returns every event already queued without waiting.
func drainEvents(n *Node) []Event {
	var out []Event
	for {
		select {
		case event, ok := <-n.Events():
			if !ok {
				return out
			}
			out = append(out, event)
		default:
			return out
		}
	}
}

func countEvents(events []Event, eventType EventType) int {
	count := 0
	for _, event := range events {
		if event.Type == eventType {
			count++
		}
	}
	return count
}

// waitForEvent discards events until one of eventType satisfies match.
func waitForEvent(t *testing.T, n *Node, eventType EventType, match func(Event) bool) Event {
	t.Helper()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case event, ok := <-n.Events():
			if !ok {
				t.Fatalf("events closed while waiting for %s", eventType)
			}
			if event.Type == eventType && (match == nil || match(event)) {
				return event
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s on %s", eventType, n.Nickname())
		}
	}
}

func waitForCondition(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}
