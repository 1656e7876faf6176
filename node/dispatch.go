package node

import (
	"context"
	"encoding/base64"
	"errors"
	"net"
	"strconv"

	"lanchat/call"
	"lanchat/discovery"
	"lanchat/models"
)

// handleDatagram is the single dispatch point for every UDP receive loop.
func (n *Node) handleDatagram(payload []byte, src *net.UDPAddr) {
	msg, err := discovery.Parse(string(payload))
	if err != nil {
		if !errors.Is(err, discovery.ErrUnknownType) {
			n.logger.Printf("node: dropped datagram from=%s: %v", src, err)
		}
		return
	}
	// Frames are unicast and carry distinct bytes.
	if msg.Type != discovery.TypeVideoFrame && n.dedup.IsDuplicate(string(msg.Type), payload) {
		return
	}

	srcIP := ""
	if src != nil {
		srcIP = src.IP.String()
	}

	switch msg.Type {
	case discovery.TypeOnline:
		port, err := msg.Port(1)
		if err != nil {
			n.logger.Printf("node: dropped ONLINE from=%s: %v", srcIP, err)
			return
		}
		n.learnPeer(models.Peer{Nickname: msg.Field(0), IP: srcIP, Port: port})
	case discovery.TypeOffline:
		if msg.Field(0) != n.opts.Nickname {
			n.removePeer(msg.Field(0))
		}
	case discovery.TypeGroupPublic:
		n.discoverGroup(msg.Field(0), models.VisibilityPublic, "")
	case discovery.TypeGroupPrivate:
		n.discoverGroup(msg.Field(0), models.VisibilityPrivate, msg.Field(1))
	case discovery.TypeGroupMessage:
		n.receiveGroupMessage(models.GroupMessage{Group: msg.Field(0), Sender: msg.Field(1), Content: msg.Field(2)})
	case discovery.TypeGroupFile:
		n.receiveGroupFile(msg, srcIP)
	case discovery.TypeJoinGroup:
		n.receiveNotice(NoticeJoined, msg.Field(0), msg.Field(1))
	case discovery.TypeLeaveGroup:
		n.receiveNotice(NoticeLeft, msg.Field(0), msg.Field(1))
	case discovery.TypeVideoCallRequest:
		port, err := msg.Port(1)
		if err != nil {
			n.logger.Printf("node: dropped VIDEO_CALL_REQUEST from=%s: %v", srcIP, err)
			return
		}
		n.receiveCallRequest(msg.Field(0), srcIP, port)
	case discovery.TypeVideoCallAccept:
		n.receiveCallAccept(msg.Field(0))
	case discovery.TypeVideoCallReject:
		n.receiveCallReject(msg.Field(0))
	case discovery.TypeVideoFrame:
		n.receiveVideoFrame(msg.Field(0), msg.Field(1), msg.Field(2))
	}
}

// learnPeer inserts a newly seen peer and answers with catch-up gossip.
func (n *Node) learnPeer(peer models.Peer) {
	if peer.Nickname == "" || peer.Nickname == n.opts.Nickname {
		return
	}
	if !n.peers.Add(peer) {
		return
	}
	n.logger.Printf("node: peer online nickname=%s addr=%s", peer.Nickname, peer.Addr())
	n.emit(Event{Type: EventPeerOnline, Peer: peer})
	n.AnnounceOnline()
}

func (n *Node) removePeer(nickname string) {
	peer, ok := n.peers.Remove(nickname)
	if !ok {
		return
	}
	n.logger.Printf("node: peer offline nickname=%s", nickname)
	n.emit(Event{Type: EventPeerOffline, Peer: peer})

	if snap, changed := n.calls.End(nickname); changed {
		n.emitSignal(snap.Remote, snap.ID, SignalEnded, "", call.PhaseEnded)
	}
}

func (n *Node) discoverGroup(name string, visibility models.Visibility, password string) {
	if validateGroupName(name) != nil {
		return
	}
	group, created := n.groups.AddDiscovered(name, visibility, password)
	if !created {
		return
	}
	n.logger.Printf("node: group discovered name=%s visibility=%s", name, visibility)
	n.emit(Event{Type: EventGroupDiscovered, Group: group})
}

func (n *Node) receiveGroupMessage(msg models.GroupMessage) {
	if msg.Sender == n.opts.Nickname || !n.groups.IsJoined(msg.Group) {
		return
	}
	n.groups.IncrementUnread(msg.Group)
	n.emit(Event{Type: EventGroupMessage, GroupMessage: msg})
}

func (n *Node) receiveGroupFile(msg discovery.Message, srcIP string) {
	group, sender, name := msg.Field(0), msg.Field(1), msg.Field(2)
	if sender == n.opts.Nickname || !n.groups.IsJoined(group) {
		return
	}
	port, err := msg.Port(4)
	if err != nil {
		n.logger.Printf("node: dropped GFILE from=%s: %v", srcIP, err)
		return
	}
	address := net.JoinHostPort(srcIP, strconv.Itoa(port))

	n.submit("group file pull", func(ctx context.Context) {
		file, err := n.client.RequestGroupFile(ctx, address, group, name, n.files)
		if err != nil {
			n.logger.Printf("node: group file pull group=%s name=%q from=%s: %v", group, name, address, err)
			return
		}
		file.Group = group
		if file.Sender == "" {
			file.Sender = sender
		}
		n.logger.Printf("node: group file received group=%s name=%q size=%d", group, file.Name, file.Received)
		n.emit(Event{Type: EventFileReceived, File: file})
	})
}

func (n *Node) receiveNotice(kind NoticeKind, group, actor string) {
	if actor == n.opts.Nickname || !n.groups.IsJoined(group) {
		return
	}
	if !n.notices.Allow(string(kind), group, actor) {
		return
	}
	n.emit(Event{Type: EventGroupNotice, Notice: GroupNotice{Kind: kind, Group: group, Actor: actor}})
}

func (n *Node) receiveVideoFrame(from, to, data string) {
	if to != n.opts.Nickname || from == n.opts.Nickname {
		return
	}
	session, err := n.calls.Get(from)
	if err != nil || !session.AcceptsFrames() {
		return
	}
	frame, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		n.logger.Printf("node: dropped frame from=%s: %v", from, err)
		return
	}
	n.emit(Event{Type: EventVideoFrame, Peer: session.Remote(), CallID: session.ID(), Frame: frame})
}
