package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
)

const (
	// DefaultMDNSService is the mDNS service name without domain suffix.
	DefaultMDNSService = "_lanchat._tcp"
	// DefaultMDNSDomain is the mDNS domain.
	DefaultMDNSDomain = "local."
	// DefaultMDNSVersion is the TXT record protocol version.
	DefaultMDNSVersion = 1
	// DefaultScanInterval is the pause between background browse windows.
	DefaultScanInterval = 15 * time.Second
	// DefaultScanTimeout bounds each browse window.
	DefaultScanTimeout = 3 * time.Second

	txtNickname   = "nickname"
	txtInstanceID = "instance_id"
	txtVersion    = "version"
)

type registerFunc func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (*zeroconf.Server, error)
type browseFunc func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error

// MDNSConfig controls the presence beacon and scanner.
type MDNSConfig struct {
	Service      string
	Domain       string
	Version      int
	ScanInterval time.Duration
	ScanTimeout  time.Duration

	InstanceID string
	Nickname   string
	TCPPort    int

	registerFn registerFunc
	browseFn   browseFunc
}

func (c MDNSConfig) withDefaults() MDNSConfig {
	out := c
	if out.Service == "" {
		out.Service = DefaultMDNSService
	}
	if out.Domain == "" {
		out.Domain = DefaultMDNSDomain
	}
	if out.Version == 0 {
		out.Version = DefaultMDNSVersion
	}
	if out.ScanInterval <= 0 {
		out.ScanInterval = DefaultScanInterval
	}
	if out.ScanTimeout <= 0 {
		out.ScanTimeout = DefaultScanTimeout
	}
	if out.registerFn == nil {
		out.registerFn = zeroconf.Register
	}
	return out
}

func (c MDNSConfig) validate() error {
	if strings.TrimSpace(c.InstanceID) == "" {
		return errors.New("discovery: instance ID is required")
	}
	if strings.TrimSpace(c.Nickname) == "" {
		return errors.New("discovery: nickname is required")
	}
	if c.TCPPort <= 0 {
		return errors.New("discovery: tcp port must be > 0")
	}
	return nil
}

// Beacon advertises this peer over mDNS.
type Beacon struct {
	server *zeroconf.Server
}

// StartBeacon registers the local service record.
func StartBeacon(config MDNSConfig) (*Beacon, error) {
	cfg := config.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	txt := []string{
		txtNickname + "=" + cfg.Nickname,
		txtInstanceID + "=" + cfg.InstanceID,
		txtVersion + "=" + strconv.Itoa(cfg.Version),
	}
	server, err := cfg.registerFn(cfg.Nickname, cfg.Service, cfg.Domain, cfg.TCPPort, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("discovery: register mDNS service: %w", err)
	}
	return &Beacon{server: server}, nil
}

// Stop withdraws the service record.
func (b *Beacon) Stop() {
	if b == nil || b.server == nil {
		return
	}
	b.server.Shutdown()
}

// MDNS bundles a running beacon and scanner.
type MDNS struct {
	Beacon  *Beacon
	Scanner *Scanner
}

// StartMDNS starts both halves with one config.
func StartMDNS(config MDNSConfig) (*MDNS, error) {
	cfg := config.withDefaults()

	beacon, err := StartBeacon(cfg)
	if err != nil {
		return nil, err
	}
	scanner, err := NewScanner(cfg)
	if err != nil {
		beacon.Stop()
		return nil, err
	}
	scanner.Start()

	return &MDNS{Beacon: beacon, Scanner: scanner}, nil
}

// Stop stops the scanner, then the beacon.
func (m *MDNS) Stop() {
	if m == nil {
		return
	}
	if m.Scanner != nil {
		m.Scanner.Stop()
	}
	if m.Beacon != nil {
		m.Beacon.Stop()
	}
}
