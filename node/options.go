package node

import (
	"log"
	"net"
	"time"

	"lanchat/call"
	"lanchat/discovery"
	"lanchat/network"
	"lanchat/storage"
)

const (
	// DefaultEventBuffer is the capacity of the Events channel.
	DefaultEventBuffer = 256
	// DefaultAnnounceInterval is the periodic presence re-announcement period.
	DefaultAnnounceInterval = 30 * time.Second
	// DefaultShutdownNotices is how many OFFLINE broadcasts Stop sends.
	DefaultShutdownNotices = 3
	// DefaultShutdownSpacing separates the OFFLINE broadcasts.
	DefaultShutdownSpacing = 100 * time.Millisecond
	// DefaultShutdownTimeout bounds the TCP_OFFLINE round.
	DefaultShutdownTimeout = 2 * time.Second
)

// Broadcaster is the UDP control plane a Node sends and receives on.
// *discovery.Channel is the production implementation.
type Broadcaster interface {
	Start(handler discovery.Handler)
	Send(payload []byte) error
	SendTo(ip string, payload []byte) error
	Close() error
}

// Options configures a Node.
type Options struct {
	Nickname   string
	InstanceID string
	// ListenAddress is the TCP bind address; empty picks a free port.
	ListenAddress string
	DownloadDir   string

	UDPPort        int
	MulticastGroup string
	MulticastTTL   int
	// Broadcaster replaces the UDP channel, mainly for tests.
	Broadcaster Broadcaster

	MDNSEnabled bool
	// AnnounceInterval is the re-announcement period; negative disables it.
	AnnounceInterval time.Duration

	DedupWindow          time.Duration
	DedupCleanupInterval time.Duration
	NoticeSuppression    time.Duration

	Workers     int
	EventBuffer int
	ReadyToken  string
	Client      network.ClientConfig

	ShutdownNotices int
	ShutdownSpacing time.Duration
	ShutdownTimeout time.Duration

	Logger *log.Logger
	Now    func() time.Time
}

func (o Options) withDefaults() Options {
	out := o
	if out.ListenAddress == "" {
		out.ListenAddress = net.JoinHostPort("", "0")
	}
	if out.UDPPort <= 0 {
		out.UDPPort = discovery.DefaultPort
	}
	if out.MulticastGroup == "" {
		out.MulticastGroup = discovery.DefaultMulticastGroup
	}
	if out.MulticastTTL <= 0 {
		out.MulticastTTL = discovery.DefaultMulticastTTL
	}
	if out.AnnounceInterval == 0 {
		out.AnnounceInterval = DefaultAnnounceInterval
	}
	if out.DedupWindow <= 0 {
		out.DedupWindow = storage.DefaultDedupWindow
	}
	if out.DedupCleanupInterval <= 0 {
		out.DedupCleanupInterval = storage.DefaultDedupCleanupInterval
	}
	if out.NoticeSuppression <= 0 {
		out.NoticeSuppression = storage.DefaultNoticeSuppression
	}
	if out.EventBuffer <= 0 {
		out.EventBuffer = DefaultEventBuffer
	}
	if out.ReadyToken == "" {
		out.ReadyToken = call.DefaultReadyToken
	}
	if out.ShutdownNotices <= 0 {
		out.ShutdownNotices = DefaultShutdownNotices
	}
	if out.ShutdownSpacing <= 0 {
		out.ShutdownSpacing = DefaultShutdownSpacing
	}
	if out.ShutdownTimeout <= 0 {
		out.ShutdownTimeout = DefaultShutdownTimeout
	}
	if out.Logger == nil {
		out.Logger = log.Default()
	}
	if out.Now == nil {
		out.Now = time.Now
	}
	return out
}
