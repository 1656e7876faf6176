package discovery

import (
	"io"
	"log"
	"net"
	"testing"
	"time"
)

func freeUDPPort(t *testing.T) int {
	t.Helper()

	conn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve udp port: %v", err)
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).Port
}

func TestChannelUnicastLoopback(t *testing.T) {
	port := freeUDPPort(t)
	ch, err := OpenChannel(ChannelConfig{
		Port:             port,
		ListenHost:       "127.0.0.1",
		DisableMulticast: true,
		Logger:           log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("OpenChannel failed: %v", err)
	}
	defer ch.Close()

	received := make(chan string, 1)
	ch.Start(func(payload []byte, src *net.UDPAddr) {
		received <- string(payload)
	})

	if err := ch.SendTo("127.0.0.1", EncodeOnline("bob", 5000)); err != nil {
		t.Fatalf("SendTo failed: %v", err)
	}

	select {
	case got := <-received:
		if got != "ONLINE;bob;5000" {
			t.Fatalf("unexpected payload %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for datagram")
	}
}

func TestChannelSkipsUnusableInterfaces(t *testing.T) {
	ch, err := OpenChannel(ChannelConfig{
		Port:       freeUDPPort(t),
		ListenHost: "127.0.0.1",
		Logger:     log.New(io.Discard, "", 0),
		interfacesFn: func() ([]net.Interface, error) {
			return []net.Interface{
				{Index: 1, Name: "lo", Flags: net.FlagUp | net.FlagLoopback | net.FlagMulticast},
				{Index: 2, Name: "eth-down", Flags: net.FlagMulticast},
				{Index: 3, Name: "eth-nomcast", Flags: net.FlagUp},
			}, nil
		},
	})
	if err != nil {
		t.Fatalf("OpenChannel failed: %v", err)
	}
	defer ch.Close()

	if got := ch.Interfaces(); len(got) != 0 {
		t.Fatalf("expected no joined interfaces, got %v", got)
	}
}

func TestChannelCloseIsIdempotent(t *testing.T) {
	ch, err := OpenChannel(ChannelConfig{
		Port:             freeUDPPort(t),
		ListenHost:       "127.0.0.1",
		DisableMulticast: true,
		Logger:           log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("OpenChannel failed: %v", err)
	}
	ch.Start(func([]byte, *net.UDPAddr) {})

	if err := ch.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := ch.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
}

func TestBroadcastTargets(t *testing.T) {
	_, lan, _ := net.ParseCIDR("192.168.1.0/24")
	lan.IP = net.ParseIP("192.168.1.40").To4()
	_, vpn, _ := net.ParseCIDR("10.147.0.0/16")
	vpn.IP = net.ParseIP("10.147.17.5").To4()

	lanTargets := broadcastTargets("eth0", []net.Addr{lan}, 8888)
	if len(lanTargets) != 1 || lanTargets[0].String() != "192.168.1.255:8888" {
		t.Fatalf("unexpected lan targets %v", lanTargets)
	}

	vpnTargets := broadcastTargets("ztabcdef", []net.Addr{vpn}, 8888)
	if len(vpnTargets) != 2 {
		t.Fatalf("expected subnet and /24 targets, got %v", vpnTargets)
	}
	if vpnTargets[0].String() != "10.147.255.255:8888" || vpnTargets[1].String() != "10.147.17.255:8888" {
		t.Fatalf("unexpected vpn targets %v", vpnTargets)
	}
}

func TestIsVPNInterface(t *testing.T) {
	for name, want := range map[string]bool{
		"ZeroTier One": true,
		"zt3jnxxx":     true,
		"tun0":         true,
		"wg0":          true,
		"eth0":         false,
		"wlan0":        false,
	} {
		if got := isVPNInterface(name); got != want {
			t.Fatalf("isVPNInterface(%q) = %v, want %v", name, got, want)
		}
	}
}
