package discovery

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
)

// ScanEventType distinguishes scanner updates.
type ScanEventType string

const (
	// PresenceSeen is emitted the first time a nickname shows up in a scan.
	PresenceSeen ScanEventType = "presence_seen"
	// PresenceLost is emitted when a nickname drops out of a scan.
	PresenceLost ScanEventType = "presence_lost"
)

// Presence is one peer learned from an mDNS record.
type Presence struct {
	Nickname   string
	InstanceID string
	IP         string
	Port       int
	SeenAt     time.Time
}

// ScanEvent carries one scanner update.
type ScanEvent struct {
	Type     ScanEventType
	Presence Presence
}

// Scanner browses for other beacons in fixed windows.
type Scanner struct {
	cfg    MDNSConfig
	browse browseFunc

	mu    sync.Mutex
	known map[string]Presence

	events chan ScanEvent

	startOnce sync.Once
	stopOnce  sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewScanner creates a scanner. It resolves with zeroconf unless a browse
// function is injected.
func NewScanner(config MDNSConfig) (*Scanner, error) {
	cfg := config.withDefaults()
	if strings.TrimSpace(cfg.InstanceID) == "" {
		return nil, errors.New("discovery: instance ID is required")
	}

	browse := cfg.browseFn
	if browse == nil {
		resolver, err := zeroconf.NewResolver(nil)
		if err != nil {
			return nil, err
		}
		browse = resolver.Browse
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scanner{
		cfg:    cfg,
		browse: browse,
		known:  make(map[string]Presence),
		events: make(chan ScanEvent, 64),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Events delivers scanner updates. The channel closes after Stop.
func (s *Scanner) Events() <-chan ScanEvent {
	return s.events
}

// Start runs a scan immediately and then every ScanInterval.
func (s *Scanner) Start() {
	s.startOnce.Do(func() {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			_, _ = s.Scan(s.ctx)

			ticker := time.NewTicker(s.cfg.ScanInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					_, _ = s.Scan(s.ctx)
				case <-s.ctx.Done():
					return
				}
			}
		}()
	})
}

// Stop cancels any running scan and closes Events.
func (s *Scanner) Stop() {
	s.stopOnce.Do(func() {
		s.cancel()
		s.wg.Wait()
		s.mu.Lock()
		close(s.events)
		s.mu.Unlock()
	})
}

// Scan browses for one window and returns what it found.
func (s *Scanner) Scan(ctx context.Context) ([]Presence, error) {
	window, cancel := context.WithTimeout(ctx, s.cfg.ScanTimeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 32)
	found := make(map[string]Presence)
	done := make(chan struct{})
	go func() {
		defer close(done)
		incoming := entries
		for {
			select {
			case <-window.Done():
				return
			case entry, ok := <-incoming:
				if !ok {
					incoming = nil
					continue
				}
				if p, ok := presenceFromEntry(entry, s.cfg.InstanceID); ok {
					p.SeenAt = time.Now()
					found[p.Nickname] = p
				}
			}
		}
	}()

	if err := s.browse(window, s.cfg.Service, s.cfg.Domain, entries); err != nil {
		cancel()
		<-done
		return nil, err
	}
	<-window.Done()
	<-done

	out := make([]Presence, 0, len(found))
	for _, p := range found {
		out = append(out, p)
	}
	if ctx.Err() == nil {
		s.reconcile(found)
	}
	return out, nil
}

func (s *Scanner) reconcile(found map[string]Presence) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return
	}

	for nick, p := range found {
		if _, ok := s.known[nick]; !ok {
			s.emit(ScanEvent{Type: PresenceSeen, Presence: p})
		}
	}
	for nick, p := range s.known {
		if _, ok := found[nick]; !ok {
			s.emit(ScanEvent{Type: PresenceLost, Presence: p})
		}
	}
	s.known = found
}

func (s *Scanner) emit(event ScanEvent) {
	select {
	case s.events <- event:
	default:
	}
}

func presenceFromEntry(entry *zeroconf.ServiceEntry, selfInstanceID string) (Presence, bool) {
	if entry == nil || entry.Port <= 0 {
		return Presence{}, false
	}
	txt := parseTXT(entry.Text)
	instanceID := txt[txtInstanceID]
	if instanceID == "" || instanceID == selfInstanceID {
		return Presence{}, false
	}

	nickname := txt[txtNickname]
	if nickname == "" {
		nickname = strings.TrimSpace(entry.Instance)
	}
	if nickname == "" || strings.ContainsAny(nickname, ";:") {
		return Presence{}, false
	}

	var ip string
	for _, addr := range entry.AddrIPv4 {
		if addr != nil {
			ip = addr.String()
			break
		}
	}
	if ip == "" {
		return Presence{}, false
	}

	return Presence{Nickname: nickname, InstanceID: instanceID, IP: ip, Port: entry.Port}, true
}

func parseTXT(records []string) map[string]string {
	out := make(map[string]string, len(records))
	for _, record := range records {
		key, value, ok := strings.Cut(record, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		out[key] = strings.TrimSpace(value)
	}
	return out
}
