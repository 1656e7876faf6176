package discovery

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/net/ipv4"
)

const (
	// DefaultPort is the UDP port every peer listens on.
	DefaultPort = 8888
	// DefaultMulticastGroup is joined on every usable interface.
	DefaultMulticastGroup = "230.0.0.1"
	// DefaultMulticastTTL is applied to outgoing multicast datagrams.
	DefaultMulticastTTL = 32
	// MaxDatagramSize is the largest UDP payload read or written.
	MaxDatagramSize = 65507
)

// vpnInterfacePrefixes identify overlay interfaces that get a /24 directed broadcast.
var vpnInterfacePrefixes = []string{"zt", "tun", "tap", "wg"}

// Handler receives every datagram from every receive loop.
type Handler func(payload []byte, src *net.UDPAddr)

// ChannelConfig controls DiscoveryChannel sockets.
type ChannelConfig struct {
	Port           int
	MulticastGroup string
	MulticastTTL   int
	// ListenHost binds the fallback socket to one address; empty means all.
	ListenHost string
	// DisableMulticast skips interface joins, leaving only the fallback socket.
	DisableMulticast bool
	Logger           *log.Logger

	interfacesFn func() ([]net.Interface, error)
	addrsFn      func(net.Interface) ([]net.Addr, error)
}

func (c ChannelConfig) withDefaults() ChannelConfig {
	out := c
	if out.Port <= 0 {
		out.Port = DefaultPort
	}
	if out.MulticastGroup == "" {
		out.MulticastGroup = DefaultMulticastGroup
	}
	if out.MulticastTTL <= 0 {
		out.MulticastTTL = DefaultMulticastTTL
	}
	if out.Logger == nil {
		out.Logger = log.Default()
	}
	if out.interfacesFn == nil {
		out.interfacesFn = net.Interfaces
	}
	if out.addrsFn == nil {
		out.addrsFn = func(iface net.Interface) ([]net.Addr, error) { return iface.Addrs() }
	}
	return out
}

type ifaceConn struct {
	iface net.Interface
	conn  net.PacketConn
	pc    *ipv4.PacketConn
}

// Channel is the UDP control plane: multicast on every joined interface, plain
// broadcast per interface, and a directed /24 broadcast on VPN interfaces.
type Channel struct {
	cfg   ChannelConfig
	group *net.UDPAddr

	fallback net.PacketConn
	sender   net.PacketConn
	joined   []ifaceConn
	targets  []*net.UDPAddr

	startOnce sync.Once
	closeOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// OpenChannel binds the discovery sockets and joins the multicast group.
func OpenChannel(config ChannelConfig) (*Channel, error) {
	cfg := config.withDefaults()

	groupIP := net.ParseIP(cfg.MulticastGroup).To4()
	if groupIP == nil || !groupIP.IsMulticast() {
		return nil, fmt.Errorf("discovery: invalid multicast group %q", cfg.MulticastGroup)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Channel{
		cfg:    cfg,
		group:  &net.UDPAddr{IP: groupIP, Port: cfg.Port},
		ctx:    ctx,
		cancel: cancel,
	}

	listenAddr := net.JoinHostPort(cfg.ListenHost, strconv.Itoa(cfg.Port))
	fallback, err := listenUDP(ctx, listenAddr, true)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("discovery: listen %s: %w", listenAddr, err)
	}
	c.fallback = fallback

	// Connectionless sender so outgoing datagrams never race the receive loops.
	sender, err := listenUDP(ctx, net.JoinHostPort(cfg.ListenHost, "0"), true)
	if err != nil {
		_ = fallback.Close()
		cancel()
		return nil, fmt.Errorf("discovery: open sender: %w", err)
	}
	c.sender = sender

	if !cfg.DisableMulticast {
		c.joinInterfaces(listenAddr)
	}
	return c, nil
}

func listenUDP(ctx context.Context, addr string, broadcast bool) (net.PacketConn, error) {
	lc := net.ListenConfig{Control: reuseControl(broadcast)}
	return lc.ListenPacket(ctx, "udp4", addr)
}

func (c *Channel) joinInterfaces(listenAddr string) {
	ifaces, err := c.cfg.interfacesFn()
	if err != nil {
		c.cfg.Logger.Printf("discovery: list interfaces: %v", err)
		return
	}

	seen := make(map[string]struct{})
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagMulticast == 0 {
			continue
		}
		addrs, err := c.cfg.addrsFn(iface)
		if err != nil || len(addrs) == 0 {
			continue
		}
		targets := broadcastTargets(iface.Name, addrs, c.cfg.Port)
		if len(targets) == 0 {
			continue
		}

		conn, err := listenUDP(c.ctx, listenAddr, false)
		if err != nil {
			c.cfg.Logger.Printf("discovery: iface=%s bind failed: %v", iface.Name, err)
			continue
		}
		pc := ipv4.NewPacketConn(conn)
		if err := pc.JoinGroup(&iface, &net.UDPAddr{IP: c.group.IP}); err != nil {
			c.cfg.Logger.Printf("discovery: iface=%s join %s failed: %v", iface.Name, c.group.IP, err)
			_ = conn.Close()
			continue
		}
		_ = pc.SetMulticastInterface(&iface)
		_ = pc.SetMulticastTTL(c.cfg.MulticastTTL)
		_ = pc.SetMulticastLoopback(true)

		c.joined = append(c.joined, ifaceConn{iface: iface, conn: conn, pc: pc})
		for _, target := range targets {
			key := target.String()
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			c.targets = append(c.targets, target)
		}
		c.cfg.Logger.Printf("discovery: joined group=%s iface=%s", c.group.IP, iface.Name)
	}

	if len(c.joined) == 0 {
		c.cfg.Logger.Printf("discovery: no multicast interfaces joined, using fallback socket only")
	}
}

// broadcastTargets derives the subnet broadcast of each IPv4 address, plus a
// /24 directed broadcast for VPN overlays.
func broadcastTargets(ifaceName string, addrs []net.Addr, port int) []*net.UDPAddr {
	vpn := isVPNInterface(ifaceName)
	var out []*net.UDPAddr
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		ip := ipNet.IP.To4()
		if ip == nil {
			continue
		}
		mask := ipNet.Mask
		if len(mask) == net.IPv6len {
			mask = mask[12:]
		}
		if ones, bits := mask.Size(); bits == 32 && ones < 31 {
			bcast := make(net.IP, net.IPv4len)
			for i := range bcast {
				bcast[i] = ip[i] | ^mask[i]
			}
			out = append(out, &net.UDPAddr{IP: bcast, Port: port})
		}
		if vpn {
			out = append(out, &net.UDPAddr{IP: net.IPv4(ip[0], ip[1], ip[2], 255).To4(), Port: port})
		}
	}
	return out
}

func isVPNInterface(name string) bool {
	name = strings.ToLower(name)
	if strings.Contains(name, "zerotier") {
		return true
	}
	for _, prefix := range vpnInterfacePrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// Interfaces reports the names of interfaces with an active multicast join.
func (c *Channel) Interfaces() []string {
	out := make([]string, 0, len(c.joined))
	for _, j := range c.joined {
		out = append(out, j.iface.Name)
	}
	return out
}

// Port returns the bound discovery port.
func (c *Channel) Port() int {
	if addr, ok := c.fallback.LocalAddr().(*net.UDPAddr); ok {
		return addr.Port
	}
	return c.cfg.Port
}

// Start launches one receive loop per socket, all feeding handler.
func (c *Channel) Start(handler Handler) {
	c.startOnce.Do(func() {
		c.wg.Add(1)
		go c.readLoop("fallback", c.fallback, handler)
		for _, j := range c.joined {
			c.wg.Add(1)
			go c.readLoop(j.iface.Name, j.conn, handler)
		}
	})
}

func (c *Channel) readLoop(name string, conn net.PacketConn, handler Handler) {
	defer c.wg.Done()

	buf := make([]byte, MaxDatagramSize)
	for {
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			if c.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			c.cfg.Logger.Printf("discovery: iface=%s read: %v", name, err)
			continue
		}
		src, ok := addr.(*net.UDPAddr)
		if !ok {
			continue
		}
		payload := make([]byte, n)
		copy(payload, buf[:n])
		handler(payload, src)
	}
}

// Send transmits payload over multicast, subnet broadcast and VPN broadcast.
// An error is returned only when every path failed.
func (c *Channel) Send(payload []byte) error {
	if len(payload) > MaxDatagramSize {
		return fmt.Errorf("discovery: payload of %d bytes exceeds datagram size", len(payload))
	}

	var errs []error
	delivered := 0
	for _, j := range c.joined {
		if _, err := j.pc.WriteTo(payload, nil, c.group); err != nil {
			errs = append(errs, fmt.Errorf("multicast iface=%s: %w", j.iface.Name, err))
			continue
		}
		delivered++
	}
	for _, target := range c.targets {
		if _, err := c.sender.WriteTo(payload, target); err != nil {
			errs = append(errs, fmt.Errorf("broadcast %s: %w", target, err))
			continue
		}
		delivered++
	}
	if len(c.joined) == 0 && len(c.targets) == 0 {
		limited := &net.UDPAddr{IP: net.IPv4bcast, Port: c.cfg.Port}
		if _, err := c.sender.WriteTo(payload, limited); err != nil {
			errs = append(errs, fmt.Errorf("broadcast %s: %w", limited, err))
		} else {
			delivered++
		}
	}

	if delivered == 0 && len(errs) > 0 {
		return errors.Join(errs...)
	}
	for _, err := range errs {
		c.cfg.Logger.Printf("discovery: send: %v", err)
	}
	return nil
}

// SendTo unicasts payload to one peer's discovery port.
func (c *Channel) SendTo(ip string, payload []byte) error {
	addr := net.ParseIP(ip)
	if addr == nil {
		return fmt.Errorf("discovery: invalid unicast address %q", ip)
	}
	if _, err := c.sender.WriteTo(payload, &net.UDPAddr{IP: addr, Port: c.cfg.Port}); err != nil {
		return fmt.Errorf("discovery: unicast %s: %w", ip, err)
	}
	return nil
}

// Close leaves the multicast group and closes every socket.
func (c *Channel) Close() error {
	var errs []error
	c.closeOnce.Do(func() {
		c.cancel()
		for _, j := range c.joined {
			_ = j.pc.LeaveGroup(&j.iface, &net.UDPAddr{IP: c.group.IP})
			if err := j.conn.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if err := c.fallback.Close(); err != nil {
			errs = append(errs, err)
		}
		if err := c.sender.Close(); err != nil {
			errs = append(errs, err)
		}
		c.wg.Wait()
	})
	return errors.Join(errs...)
}
