package node

import (
	"context"
	"encoding/base64"
	"fmt"

	"lanchat/call"
	"lanchat/discovery"
	"lanchat/models"
	"lanchat/network"
)

// StartCall rings a known peer over TCP and moves the local session to calling.
func (n *Node) StartCall(nickname string) error {
	if err := n.checkRunning(); err != nil {
		return err
	}
	peer, err := n.Peer(nickname)
	if err != nil {
		return err
	}
	if _, err := n.calls.Dial(peer); err != nil {
		return err
	}
	n.logger.Printf("node: calling nickname=%s", nickname)

	request := network.CallSignal{Kind: network.KindCallRequest, Port: n.Port()}
	n.submit("call request", func(ctx context.Context) {
		if err := n.client.SendCallSignal(ctx, peer.Addr(), n.opts.Nickname, request); err != nil {
			n.logger.Printf("node: call request to %s failed: %v", nickname, err)
			if snap, changed := n.calls.End(nickname); changed {
				n.emitSignal(snap.Remote, snap.ID, SignalEnded, "", call.PhaseEnded)
			}
		}
	})
	return nil
}

// AcceptCall answers a ringing call. The caller learns of it over UDP and
// then sends its offer.
func (n *Node) AcceptCall(nickname string) error {
	if err := n.checkRunning(); err != nil {
		return err
	}
	session, err := n.calls.Get(nickname)
	if err != nil {
		return err
	}
	if err := session.Accept(); err != nil {
		return err
	}
	n.sendTo("call accept", session.Remote().IP, discovery.EncodeVideoCallAccept(n.opts.Nickname))
	return nil
}

// RejectCall declines a ringing call and releases the session.
func (n *Node) RejectCall(nickname string) error {
	if err := n.checkRunning(); err != nil {
		return err
	}
	snap, changed := n.calls.End(nickname)
	if !changed {
		return fmt.Errorf("%w: %s", call.ErrNoSession, nickname)
	}
	n.sendTo("call reject", snap.Remote.IP, discovery.EncodeVideoCallReject(n.opts.Nickname))
	return nil
}

// EndCall hangs up and tells the peer over TCP.
func (n *Node) EndCall(nickname string) error {
	if err := n.checkRunning(); err != nil {
		return err
	}
	snap, changed := n.calls.End(nickname)
	if !changed {
		return fmt.Errorf("%w: %s", call.ErrNoSession, nickname)
	}
	n.logger.Printf("node: call ended nickname=%s", nickname)
	n.sendSignal(snap.Remote, network.CallSignal{Kind: network.KindCallEnd})
	return nil
}

// SendICECandidate relays an opaque candidate to the peer in a live call.
func (n *Node) SendICECandidate(nickname, candidate string) error {
	if err := n.checkRunning(); err != nil {
		return err
	}
	session, err := n.calls.Get(nickname)
	if err != nil {
		return err
	}
	n.sendSignal(session.Remote(), network.CallSignal{Kind: network.KindICECandidate, Payload: candidate})
	return nil
}

// SendVideoFrame unicasts one captured frame to the peer in a live call.
// Frames at or above call.MaxFrameSize are dropped.
func (n *Node) SendVideoFrame(nickname string, frame []byte) error {
	if err := n.checkRunning(); err != nil {
		return err
	}
	if err := call.CheckFrame(frame); err != nil {
		n.logger.Printf("node: dropped outgoing frame to=%s: %v", nickname, err)
		return err
	}
	session, err := n.calls.Get(nickname)
	if err != nil {
		return err
	}
	if !session.AcceptsFrames() {
		return fmt.Errorf("%w: frames in %s", call.ErrInvalidTransition, session.Phase())
	}
	payload := discovery.EncodeVideoFrame(n.opts.Nickname, nickname, base64.StdEncoding.EncodeToString(frame))
	n.sendTo("video frame", session.Remote().IP, payload)
	return nil
}

// CallPhase reports the phase of the call with nickname, or idle.
func (n *Node) CallPhase(nickname string) call.Phase {
	return n.calls.Phase(nickname)
}

func (n *Node) sendTo(what, ip string, payload []byte) {
	n.submit(what, func(context.Context) {
		if err := n.udp.SendTo(ip, payload); err != nil {
			n.logger.Printf("node: %s to %s: %v", what, ip, err)
		}
	})
}

func (n *Node) sendSignal(peer models.Peer, signal network.CallSignal) {
	n.submit(string(signal.Kind), func(ctx context.Context) {
		if err := n.client.SendCallSignal(ctx, peer.Addr(), n.opts.Nickname, signal); err != nil {
			n.logger.Printf("node: %s to %s failed: %v", signal.Kind, peer.Nickname, err)
		}
	})
}

func (n *Node) emitSignal(peer models.Peer, callID string, kind SignalKind, payload string, phase call.Phase) {
	n.emit(Event{Type: EventCallSignal, Peer: peer, CallID: callID, Signal: CallSignal{Kind: kind, Payload: payload, Phase: phase}})
}

func (n *Node) receiveCallRequest(from, ip string, port int) {
	if from == "" || from == n.opts.Nickname {
		return
	}
	peer := models.Peer{Nickname: from, IP: ip, Port: port}
	if known, err := n.peers.Get(from); err == nil {
		peer = known
	}
	session, err := n.calls.Ring(peer)
	if err != nil {
		n.logger.Printf("node: refused call from=%s: %v", from, err)
		return
	}
	n.logger.Printf("node: incoming call from=%s id=%s", from, session.ID())
	n.emit(Event{Type: EventIncomingCall, Peer: peer, CallID: session.ID()})
}

func (n *Node) receiveCallAccept(from string) {
	session, err := n.calls.Get(from)
	if err != nil {
		return
	}
	if err := session.Accept(); err != nil {
		n.logger.Printf("node: ignored accept from=%s: %v", from, err)
		return
	}
	peer := session.Remote()
	n.emitSignal(peer, session.ID(), SignalAccepted, "", call.PhaseNegotiating)

	phase, err := session.SetLocalToken(n.opts.ReadyToken)
	if err != nil {
		n.logger.Printf("node: offer to %s: %v", from, err)
		return
	}
	n.sendSignal(peer, network.CallSignal{Kind: network.KindSDPOffer, Payload: n.opts.ReadyToken})
	n.logger.Printf("node: offer sent to=%s phase=%s", from, phase)
}

func (n *Node) receiveCallReject(from string) {
	session, err := n.calls.Get(from)
	if err != nil || session.Snapshot().Role != call.RoleCaller {
		return
	}
	snap, changed := n.calls.End(from)
	if !changed {
		return
	}
	n.emitSignal(snap.Remote, snap.ID, SignalRejected, "", call.PhaseEnded)
}

func (n *Node) receiveOffer(from, token string) {
	session, err := n.calls.Get(from)
	if err != nil {
		n.logger.Printf("node: offer without call from=%s", from)
		return
	}
	if _, err := session.SetRemoteToken(token); err != nil {
		n.logger.Printf("node: ignored offer from=%s: %v", from, err)
		return
	}
	peer := session.Remote()
	n.emitSignal(peer, session.ID(), SignalOffer, token, session.Phase())

	phase, err := session.SetLocalToken(n.opts.ReadyToken)
	if err != nil {
		n.logger.Printf("node: answer to %s: %v", from, err)
		return
	}
	n.sendSignal(peer, network.CallSignal{Kind: network.KindSDPAnswer, Payload: n.opts.ReadyToken})
	if phase == call.PhaseConnected {
		n.emitSignal(peer, session.ID(), SignalConnected, "", phase)
	}
}

func (n *Node) receiveAnswer(from, token string) {
	session, err := n.calls.Get(from)
	if err != nil {
		n.logger.Printf("node: answer without call from=%s", from)
		return
	}
	phase, err := session.SetRemoteToken(token)
	if err != nil {
		n.logger.Printf("node: ignored answer from=%s: %v", from, err)
		return
	}
	peer := session.Remote()
	n.emitSignal(peer, session.ID(), SignalAnswer, token, phase)
	if phase == call.PhaseConnected {
		n.emitSignal(peer, session.ID(), SignalConnected, "", phase)
	}
}

func (n *Node) receiveICECandidate(from, candidate string) {
	session, err := n.calls.Get(from)
	if err != nil {
		return
	}
	n.emitSignal(session.Remote(), session.ID(), SignalICECandidate, candidate, session.Phase())
}

func (n *Node) receiveCallEnd(from string) {
	snap, changed := n.calls.End(from)
	if !changed {
		return
	}
	n.logger.Printf("node: call ended by remote nickname=%s", from)
	n.emitSignal(snap.Remote, snap.ID, SignalEnded, "", call.PhaseEnded)
}
