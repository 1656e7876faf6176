package node

import (
	"fmt"
	"net"

	"lanchat/models"
	"lanchat/network"
)

// tcpHandler adapts inbound DirectChannel exchanges to node state and events.
type tcpHandler struct {
	n *Node
}

func (h tcpHandler) HandleMessage(sender, text, raw string, remote *net.TCPAddr) {
	h.n.emit(Event{
		Type:    EventDirectMessage,
		Peer:    h.n.peerOrRemote(sender, remote),
		Message: models.DirectMessage{From: sender, Text: text, Raw: raw},
	})
}

func (h tcpHandler) HandleFile(file models.ReceivedFile, remote *net.TCPAddr) {
	h.n.logger.Printf("node: file received from=%s name=%q size=%d path=%s", file.Sender, file.Name, file.Received, file.Path)
	h.n.emit(Event{
		Type: EventFileReceived,
		Peer: h.n.peerOrRemote(file.Sender, remote),
		File: file,
	})
}

func (h tcpHandler) ResolveGroupFile(group, fileName string) (string, error) {
	if !h.n.groups.IsJoined(group) {
		return "", fmt.Errorf("%w: %s", network.ErrNotInGroup, group)
	}
	path, err := h.n.groups.FilePath(group, fileName)
	if err != nil {
		return "", fmt.Errorf("%w: %s/%s", network.ErrFileNotFound, group, fileName)
	}
	return path, nil
}

func (h tcpHandler) HandleOffline(nickname string) {
	if nickname != h.n.opts.Nickname {
		h.n.removePeer(nickname)
	}
}

func (h tcpHandler) HandleCallSignal(signal network.CallSignal, remote *net.TCPAddr) {
	if signal.From == h.n.opts.Nickname {
		return
	}
	switch signal.Kind {
	case network.KindCallRequest:
		ip := ""
		if remote != nil {
			ip = remote.IP.String()
		}
		h.n.receiveCallRequest(signal.From, ip, signal.Port)
	case network.KindSDPOffer:
		h.n.receiveOffer(signal.From, signal.Payload)
	case network.KindSDPAnswer:
		h.n.receiveAnswer(signal.From, signal.Payload)
	case network.KindICECandidate:
		h.n.receiveICECandidate(signal.From, signal.Payload)
	case network.KindCallEnd:
		h.n.receiveCallEnd(signal.From)
	}
}

// peerOrRemote prefers the directory entry and falls back to the
// connection's address.
func (n *Node) peerOrRemote(nickname string, remote *net.TCPAddr) models.Peer {
	if peer, err := n.peers.Get(nickname); err == nil {
		return peer
	}
	peer := models.Peer{Nickname: nickname}
	if remote != nil {
		peer.IP = remote.IP.String()
	}
	return peer
}
