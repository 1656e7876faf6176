// Package node wires discovery, direct transfer, groups and calls into one
// running chat peer.
package node

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"lanchat/call"
	"lanchat/config"
	"lanchat/discovery"
	"lanchat/models"
	"lanchat/network"
	"lanchat/pool"
	"lanchat/storage"
)

var (
	// ErrNotJoined is returned by group sends for a group not joined locally.
	ErrNotJoined = errors.New("node: not joined")
	// ErrPasswordMismatch is returned when a private group password differs.
	ErrPasswordMismatch = errors.New("node: password mismatch")
	// ErrPasswordUnknown is returned for a private group whose password was never learned.
	ErrPasswordUnknown = errors.New("node: password unknown for private group")
	// ErrUnknownPeer is returned when a nickname is not in the peer directory.
	ErrUnknownPeer = errors.New("node: unknown peer")
	// ErrGroupExists is returned when creating a group whose name is taken.
	ErrGroupExists = errors.New("node: group already exists")
	// ErrNotRunning is returned by commands issued before Start or after Stop.
	ErrNotRunning = errors.New("node: not running")
)

// Node is one running chat peer.
type Node struct {
	opts   Options
	logger *log.Logger

	peers   *storage.PeerDirectory
	groups  *storage.GroupDirectory
	dedup   *storage.Deduplicator
	notices *storage.NoticeSuppressor
	calls   *call.Registry

	pool   *pool.Pool
	files  *network.FileStore
	client *network.Client
	server *network.Server
	udp    Broadcaster
	mdns   *discovery.MDNS

	events       chan Event
	eventsMu     sync.RWMutex
	eventsClosed bool

	running   atomic.Bool
	startOnce sync.Once
	stopOnce  sync.Once
	startErr  error
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New validates options and builds an idle Node.
func New(options Options) (*Node, error) {
	opts := options.withDefaults()
	if err := config.ValidateNickname(opts.Nickname); err != nil {
		return nil, err
	}
	if opts.InstanceID == "" {
		opts.InstanceID = uuid.NewString()
	}

	files, err := network.NewFileStore(opts.DownloadDir)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Node{
		opts:    opts,
		logger:  opts.Logger,
		peers:   storage.NewPeerDirectory(),
		groups:  storage.NewGroupDirectory(),
		dedup:   storage.NewDeduplicator(opts.DedupWindow, opts.Now),
		notices: storage.NewNoticeSuppressor(opts.NoticeSuppression, opts.Now),
		calls:   call.NewRegistry(),
		pool:    pool.New(opts.Workers),
		files:   files,
		client:  network.NewClient(opts.Client),
		events:  make(chan Event, opts.EventBuffer),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start binds sockets, begins receiving and announces presence.
func (n *Node) Start() error {
	n.startOnce.Do(func() {
		n.startErr = n.start()
	})
	return n.startErr
}

func (n *Node) start() error {
	server, err := network.Listen(n.opts.ListenAddress, network.ServerConfig{
		Nickname: n.opts.Nickname,
		Handler:  tcpHandler{n: n},
		Files:    n.files,
		Pool:     n.pool,
		Logger:   n.logger,
	})
	if err != nil {
		return err
	}
	n.server = server

	n.udp = n.opts.Broadcaster
	if n.udp == nil {
		channel, err := discovery.OpenChannel(discovery.ChannelConfig{
			Port:           n.opts.UDPPort,
			MulticastGroup: n.opts.MulticastGroup,
			MulticastTTL:   n.opts.MulticastTTL,
			Logger:         n.logger,
		})
		if err != nil {
			_ = server.Close()
			return err
		}
		n.udp = channel
	}
	n.udp.Start(n.handleDatagram)

	if n.opts.MDNSEnabled {
		m, err := discovery.StartMDNS(discovery.MDNSConfig{
			InstanceID: n.opts.InstanceID,
			Nickname:   n.opts.Nickname,
			TCPPort:    server.Port(),
		})
		if err != nil {
			n.logger.Printf("node: mdns disabled: %v", err)
		} else {
			n.mdns = m
			n.wg.Add(1)
			go n.consumePresence(m.Scanner.Events())
		}
	}

	n.running.Store(true)
	n.wg.Add(1)
	go n.maintenanceLoop()
	if n.opts.AnnounceInterval > 0 {
		n.wg.Add(1)
		go n.announceLoop()
	}

	n.logger.Printf("node: started nickname=%s tcp_port=%d", n.opts.Nickname, server.Port())
	n.AnnounceOnline()
	return nil
}

// Stop announces departure and releases every resource. It is safe to call
// more than once.
func (n *Node) Stop() {
	n.stopOnce.Do(func() {
		wasRunning := n.running.Swap(false)
		if wasRunning {
			n.sayGoodbye()
			for _, snap := range n.calls.EndAll() {
				n.logger.Printf("node: call with %s ended by shutdown", snap.Remote.Nickname)
			}
		}

		n.cancel()
		if n.mdns != nil {
			n.mdns.Stop()
		}
		if n.udp != nil {
			if err := n.udp.Close(); err != nil {
				n.logger.Printf("node: close udp: %v", err)
			}
		}
		if n.server != nil {
			if err := n.server.Close(); err != nil {
				n.logger.Printf("node: close tcp: %v", err)
			}
		}
		n.wg.Wait()
		n.pool.Stop()
		n.peers.Clear()
		n.groups.Clear()
		n.closeEvents()
		n.logger.Printf("node: stopped nickname=%s", n.opts.Nickname)
	})
}

func (n *Node) sayGoodbye() {
	offline := discovery.EncodeOffline(n.opts.Nickname, n.Port())
	for i := 0; i < n.opts.ShutdownNotices; i++ {
		if i > 0 {
			time.Sleep(n.opts.ShutdownSpacing)
		}
		if err := n.udp.Send(offline); err != nil {
			n.logger.Printf("node: offline broadcast %d: %v", i+1, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), n.opts.ShutdownTimeout)
	defer cancel()

	var sent sync.WaitGroup
	for _, peer := range n.peers.List() {
		sent.Add(1)
		peer := peer
		err := n.pool.Submit(func(context.Context) {
			defer sent.Done()
			if err := n.client.SendOffline(ctx, peer.Addr(), n.opts.Nickname); err != nil {
				n.logger.Printf("node: tcp offline to %s: %v", peer.Nickname, err)
			}
		})
		if err != nil {
			sent.Done()
		}
	}

	done := make(chan struct{})
	go func() {
		sent.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		n.logger.Printf("node: tcp offline round timed out")
	}
}

func (n *Node) maintenanceLoop() {
	defer n.wg.Done()

	ticker := time.NewTicker(n.opts.DedupCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			n.dedup.Clear()
			n.notices.Sweep()
		case <-n.ctx.Done():
			return
		}
	}
}

func (n *Node) announceLoop() {
	defer n.wg.Done()

	ticker := time.NewTicker(n.opts.AnnounceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			n.AnnounceOnline()
		case <-n.ctx.Done():
			return
		}
	}
}

func (n *Node) consumePresence(events <-chan discovery.ScanEvent) {
	defer n.wg.Done()

	for event := range events {
		switch event.Type {
		case discovery.PresenceSeen:
			p := event.Presence
			n.learnPeer(models.Peer{Nickname: p.Nickname, IP: p.IP, Port: p.Port})
		case discovery.PresenceLost:
			n.logger.Printf("node: mdns lost nickname=%s", event.Presence.Nickname)
		}
	}
}

// submit runs job on the shared pool, logging when the pool has stopped.
func (n *Node) submit(what string, job func(ctx context.Context)) {
	if err := n.pool.Submit(job); err != nil {
		n.logger.Printf("node: %s skipped: %v", what, err)
	}
}

func (n *Node) broadcast(what string, payloads ...[]byte) {
	n.submit(what, func(context.Context) {
		for _, payload := range payloads {
			if err := n.udp.Send(payload); err != nil {
				n.logger.Printf("node: %s: %v", what, err)
			}
		}
	})
}

func (n *Node) checkRunning() error {
	if !n.running.Load() {
		return ErrNotRunning
	}
	return nil
}

// AnnounceOnline broadcasts ONLINE followed by every joined group.
func (n *Node) AnnounceOnline() {
	if n.checkRunning() != nil {
		return
	}
	payloads := [][]byte{discovery.EncodeOnline(n.opts.Nickname, n.Port())}
	for _, name := range n.groups.Joined() {
		group, err := n.groups.Get(name)
		if err != nil {
			continue
		}
		if group.IsPublic() {
			payloads = append(payloads, discovery.EncodeGroupPublic(name))
		} else {
			payloads = append(payloads, discovery.EncodeGroupPrivate(name))
		}
	}
	n.broadcast("announce", payloads...)
}

// Nickname returns the local nickname.
func (n *Node) Nickname() string {
	return n.opts.Nickname
}

// InstanceID returns the process identity advertised over mDNS.
func (n *Node) InstanceID() string {
	return n.opts.InstanceID
}

// Port returns the TCP listening port, or 0 before Start.
func (n *Node) Port() int {
	if n.server == nil {
		return 0
	}
	return n.server.Port()
}

// Peers returns known peers sorted by nickname.
func (n *Node) Peers() []models.Peer {
	return n.peers.List()
}

// Peer returns one known peer.
func (n *Node) Peer(nickname string) (models.Peer, error) {
	peer, err := n.peers.Get(nickname)
	if err != nil {
		return models.Peer{}, fmt.Errorf("%w: %s", ErrUnknownPeer, nickname)
	}
	return peer, nil
}

// SendMessage delivers text to one peer over TCP.
func (n *Node) SendMessage(nickname, text string) error {
	if err := n.checkRunning(); err != nil {
		return err
	}
	peer, err := n.Peer(nickname)
	if err != nil {
		return err
	}

	n.submit("send message", func(ctx context.Context) {
		if err := n.client.SendMessage(ctx, peer.Addr(), n.opts.Nickname, text); err != nil {
			n.logger.Printf("node: message to %s failed: %v", peer.Nickname, err)
		}
	})
	return nil
}

// SendFile streams the file at path to one peer over TCP.
func (n *Node) SendFile(nickname, path string) error {
	if err := n.checkRunning(); err != nil {
		return err
	}
	peer, err := n.Peer(nickname)
	if err != nil {
		return err
	}
	if err := checkRegularFile(path); err != nil {
		return err
	}

	n.submit("send file", func(ctx context.Context) {
		size, err := n.client.SendFile(ctx, peer.Addr(), n.opts.Nickname, path)
		if err != nil {
			n.logger.Printf("node: file to %s failed: %v", peer.Nickname, err)
			return
		}
		n.logger.Printf("node: sent file to=%s path=%q size=%d", peer.Nickname, path, size)
	})
	return nil
}
