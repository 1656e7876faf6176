package node

import (
	"time"

	"lanchat/call"
	"lanchat/models"
)

// EventType identifies what a Node is reporting.
type EventType string

const (
	EventPeerOnline      EventType = "peer_online"
	EventPeerOffline     EventType = "peer_offline"
	EventDirectMessage   EventType = "direct_message"
	EventFileReceived    EventType = "file_received"
	EventGroupMessage    EventType = "group_message"
	EventGroupDiscovered EventType = "group_discovered"
	EventGroupNotice     EventType = "group_notice"
	EventIncomingCall    EventType = "incoming_call"
	EventCallSignal      EventType = "call_signal"
	EventVideoFrame      EventType = "video_frame"
)

// NoticeKind distinguishes group membership notices.
type NoticeKind string

const (
	NoticeJoined NoticeKind = "joined"
	NoticeLeft   NoticeKind = "left"
)

// GroupNotice reports another peer joining or leaving a joined group.
type GroupNotice struct {
	Kind  NoticeKind
	Group string
	Actor string
}

// SignalKind names a call-signaling step.
type SignalKind string

const (
	SignalAccepted     SignalKind = "accepted"
	SignalRejected     SignalKind = "rejected"
	SignalOffer        SignalKind = "offer"
	SignalAnswer       SignalKind = "answer"
	SignalICECandidate SignalKind = "ice_candidate"
	SignalConnected    SignalKind = "connected"
	SignalEnded        SignalKind = "ended"
)

// CallSignal reports a call-signaling step with the resulting phase.
type CallSignal struct {
	Kind    SignalKind
	Payload string
	Phase   call.Phase
}

// Event is one notification on the Events channel. Only the fields that
// belong to Type are set.
type Event struct {
	Type EventType
	At   time.Time

	Peer         models.Peer
	Message      models.DirectMessage
	GroupMessage models.GroupMessage
	File         models.ReceivedFile
	Group        models.Group
	Notice       GroupNotice
	Signal       CallSignal
	Frame        []byte
	// CallID identifies the call for incoming_call, call_signal and video_frame.
	CallID string
}

// Events delivers notifications. The channel closes when Stop returns.
func (n *Node) Events() <-chan Event {
	return n.events
}

// emit never blocks; a full buffer drops the event.
func (n *Node) emit(event Event) {
	event.At = n.opts.Now()

	n.eventsMu.RLock()
	defer n.eventsMu.RUnlock()
	if n.eventsClosed {
		return
	}
	select {
	case n.events <- event:
	default:
		n.logger.Printf("node: event buffer full, dropped type=%s", event.Type)
	}
}

func (n *Node) closeEvents() {
	n.eventsMu.Lock()
	defer n.eventsMu.Unlock()
	if !n.eventsClosed {
		n.eventsClosed = true
		close(n.events)
	}
}
