package node

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"lanchat/call"
)

func startPair(t *testing.T) (*Node, *Node) {
	t.Helper()
	return startPairOn(t, newMemBus())
}

func startPairOn(t *testing.T, bus *memBus) (*Node, *Node) {
	t.Helper()

	alice := startTestNode(t, testOptions(t, "alice", bus.endpoint("127.0.0.1")))
	bob := startTestNode(t, testOptions(t, "bob", bus.endpoint("127.0.0.1")))

	waitForEvent(t, alice, EventPeerOnline, func(e Event) bool { return e.Peer.Nickname == "bob" })
	waitForEvent(t, bob, EventPeerOnline, func(e Event) bool { return e.Peer.Nickname == "alice" })
	return alice, bob
}

func TestNodesDiscoverAndMessage(t *testing.T) {
	alice, bob := startPair(t)

	peer, err := alice.Peer("bob")
	if err != nil {
		t.Fatalf("Peer failed: %v", err)
	}
	if peer.Port != bob.Port() {
		t.Fatalf("expected bob's tcp port %d, got %d", bob.Port(), peer.Port)
	}

	if err := alice.SendMessage("bob", "hello: there"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	event := waitForEvent(t, bob, EventDirectMessage, nil)
	if event.Message.From != "alice" || event.Message.Text != "hello: there" {
		t.Fatalf("unexpected message %+v", event.Message)
	}

	if err := alice.SendMessage("carol", "hi"); err == nil {
		t.Fatal("expected an error for an unknown peer")
	}

	source := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(source, []byte("direct file body"), 0o600); err != nil {
		t.Fatalf("write source: %v", err)
	}
	if err := bob.SendFile("alice", source); err != nil {
		t.Fatalf("SendFile failed: %v", err)
	}
	received := waitForEvent(t, alice, EventFileReceived, nil)
	data, err := os.ReadFile(received.File.Path)
	if err != nil {
		t.Fatalf("read received file: %v", err)
	}
	if string(data) != "direct file body" || received.File.Sender != "bob" {
		t.Fatalf("unexpected received file %+v with %q", received.File, data)
	}
}

func TestGroupLifecycleAcrossNodes(t *testing.T) {
	alice, bob := startPair(t)

	if err := alice.CreatePublicGroup("team"); err != nil {
		t.Fatalf("CreatePublicGroup failed: %v", err)
	}
	waitForEvent(t, bob, EventGroupDiscovered, func(e Event) bool { return e.Group.Name == "team" })

	if err := bob.JoinGroup("team", ""); err != nil {
		t.Fatalf("JoinGroup failed: %v", err)
	}
	notice := waitForEvent(t, alice, EventGroupNotice, nil)
	if notice.Notice.Kind != NoticeJoined || notice.Notice.Actor != "bob" {
		t.Fatalf("unexpected notice %+v", notice.Notice)
	}

	if err := alice.SendGroupMessage("team", "standup; now"); err != nil {
		t.Fatalf("SendGroupMessage failed: %v", err)
	}
	msg := waitForEvent(t, bob, EventGroupMessage, nil)
	if msg.GroupMessage.Sender != "alice" || msg.GroupMessage.Content != "standup; now" {
		t.Fatalf("unexpected group message %+v", msg.GroupMessage)
	}

	source := filepath.Join(t.TempDir(), "plan.bin")
	body := make([]byte, 10_000)
	for i := range body {
		body[i] = byte(i % 251)
	}
	if err := os.WriteFile(source, body, 0o600); err != nil {
		t.Fatalf("write source: %v", err)
	}
	if err := alice.SendGroupFile("team", source); err != nil {
		t.Fatalf("SendGroupFile failed: %v", err)
	}
	pulled := waitForEvent(t, bob, EventFileReceived, nil)
	if pulled.File.Group != "team" || pulled.File.Name != "plan.bin" {
		t.Fatalf("unexpected pulled file %+v", pulled.File)
	}
	got, err := os.ReadFile(pulled.File.Path)
	if err != nil {
		t.Fatalf("read pulled file: %v", err)
	}
	if string(got) != string(body) {
		t.Fatalf("pulled file differs: %d bytes vs %d", len(got), len(body))
	}

	if err := bob.LeaveGroup("team"); err != nil {
		t.Fatalf("LeaveGroup failed: %v", err)
	}
	left := waitForEvent(t, alice, EventGroupNotice, func(e Event) bool { return e.Notice.Kind == NoticeLeft })
	if left.Notice.Actor != "bob" {
		t.Fatalf("unexpected leave notice %+v", left.Notice)
	}
	group, err := bob.Group("team")
	if err != nil || group.Joined {
		t.Fatalf("expected the record kept and not joined, got %+v err=%v", group, err)
	}
}

func TestCallFlowAcrossNodes(t *testing.T) {
	alice, bob := startPair(t)

	if err := alice.StartCall("bob"); err != nil {
		t.Fatalf("StartCall failed: %v", err)
	}
	if phase := alice.CallPhase("bob"); phase != call.PhaseCalling {
		t.Fatalf("expected calling, got %s", phase)
	}
	incoming := waitForEvent(t, bob, EventIncomingCall, nil)
	if incoming.Peer.Nickname != "alice" {
		t.Fatalf("unexpected caller %+v", incoming.Peer)
	}
	if incoming.CallID == "" {
		t.Fatal("expected the incoming call to carry a call ID")
	}

	if err := bob.AcceptCall("alice"); err != nil {
		t.Fatalf("AcceptCall failed: %v", err)
	}
	waitForEvent(t, alice, EventCallSignal, func(e Event) bool { return e.Signal.Kind == SignalConnected })
	waitForEvent(t, bob, EventCallSignal, func(e Event) bool { return e.Signal.Kind == SignalConnected })
	if phase := alice.CallPhase("bob"); phase != call.PhaseConnected {
		t.Fatalf("expected alice connected, got %s", phase)
	}

	if err := alice.SendICECandidate("bob", "candidate:1 1 udp 2122 10.0.0.1 5000 typ host"); err != nil {
		t.Fatalf("SendICECandidate failed: %v", err)
	}
	ice := waitForEvent(t, bob, EventCallSignal, func(e Event) bool { return e.Signal.Kind == SignalICECandidate })
	if ice.Signal.Payload != "candidate:1 1 udp 2122 10.0.0.1 5000 typ host" {
		t.Fatalf("unexpected candidate %q", ice.Signal.Payload)
	}

	frame := []byte("jpeg-bytes")
	if err := alice.SendVideoFrame("bob", frame); err != nil {
		t.Fatalf("SendVideoFrame failed: %v", err)
	}
	got := waitForEvent(t, bob, EventVideoFrame, nil)
	if string(got.Frame) != string(frame) {
		t.Fatalf("unexpected frame %q", got.Frame)
	}
	if got.CallID != incoming.CallID {
		t.Fatalf("frame call ID %q does not match incoming call %q", got.CallID, incoming.CallID)
	}

	if err := alice.EndCall("bob"); err != nil {
		t.Fatalf("EndCall failed: %v", err)
	}
	ended := waitForEvent(t, bob, EventCallSignal, func(e Event) bool { return e.Signal.Kind == SignalEnded })
	if ended.CallID != incoming.CallID {
		t.Fatalf("end call ID %q does not match incoming call %q", ended.CallID, incoming.CallID)
	}
	if phase := bob.CallPhase("alice"); phase != call.PhaseIdle {
		t.Fatalf("expected bob idle after end, got %s", phase)
	}
	if err := alice.EndCall("bob"); err == nil {
		t.Fatal("expected an error ending a call twice")
	}
}

func TestRejectedCall(t *testing.T) {
	alice, bob := startPair(t)

	if err := alice.StartCall("bob"); err != nil {
		t.Fatalf("StartCall failed: %v", err)
	}
	waitForEvent(t, bob, EventIncomingCall, nil)
	if err := bob.RejectCall("alice"); err != nil {
		t.Fatalf("RejectCall failed: %v", err)
	}
	waitForEvent(t, alice, EventCallSignal, func(e Event) bool { return e.Signal.Kind == SignalRejected })
	waitForCondition(t, time.Second, func() bool { return alice.CallPhase("bob") == call.PhaseIdle })
}

func TestStopAnnouncesOffline(t *testing.T) {
	alice, bob := startPair(t)

	alice.Stop()
	event := waitForEvent(t, bob, EventPeerOffline, nil)
	if event.Peer.Nickname != "alice" {
		t.Fatalf("unexpected offline peer %+v", event.Peer)
	}
	if peers := bob.Peers(); len(peers) != 0 {
		t.Fatalf("expected bob to forget alice, got %+v", peers)
	}
	if peers := alice.Peers(); len(peers) != 0 {
		t.Fatalf("expected a stopped node to hold no peers, got %+v", peers)
	}
}

func TestStopReachesPeersOverTCPWhenBroadcastIsLost(t *testing.T) {
	bus := newMemBus()
	alice, bob := startPairOn(t, bus)
	bus.setDrop(func(payload []byte) bool {
		return strings.HasPrefix(string(payload), "OFFLINE;")
	})

	alice.Stop()
	event := waitForEvent(t, bob, EventPeerOffline, nil)
	if event.Peer.Nickname != "alice" {
		t.Fatalf("unexpected offline peer %+v", event.Peer)
	}
	if _, err := bob.Peer("alice"); err == nil {
		t.Fatal("expected bob to forget alice after TCP_OFFLINE")
	}
}

func TestNewGeneratesInstanceID(t *testing.T) {
	n, err := New(testOptions(t, "alice", newMemBus().endpoint("127.0.0.1")))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer n.Stop()
	if n.InstanceID() == "" {
		t.Fatal("expected a generated instance ID")
	}
}
