// Package call tracks video-call signaling state per remote peer.
package call

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"lanchat/models"
)

// Phase is the lifecycle state of one call.
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseCalling     Phase = "calling"
	PhaseRinging     Phase = "ringing"
	PhaseNegotiating Phase = "negotiating"
	PhaseConnected   Phase = "connected"
	PhaseEnded       Phase = "ended"
)

// Role records which side initiated the call.
type Role string

const (
	RoleCaller Role = "caller"
	RoleCallee Role = "callee"
)

const (
	// DefaultReadyToken is the opaque offer/answer token for direct UDP frames.
	DefaultReadyToken = "UDP_VIDEO_READY"
	// MaxFrameSize is the exclusive ceiling for one raw video frame.
	MaxFrameSize = 40000
)

var (
	// ErrInvalidTransition is returned for any move the state machine forbids.
	ErrInvalidTransition = errors.New("call: invalid transition")
	// ErrFrameTooLarge is returned for frames at or above MaxFrameSize.
	ErrFrameTooLarge = errors.New("call: frame exceeds max size")
	// ErrNoSession is returned when no call exists for a peer.
	ErrNoSession = errors.New("call: no session")
)

// Snapshot is a read-only copy of a session.
type Snapshot struct {
	ID          string
	Remote      models.Peer
	Role        Role
	Phase       Phase
	LocalToken  string
	RemoteToken string
}

// Session is one call with one remote peer.
type Session struct {
	mu          sync.Mutex
	id          string
	remote      models.Peer
	role        Role
	phase       Phase
	localToken  string
	remoteToken string
}

// NewSession creates a session in PhaseIdle.
func NewSession(remote models.Peer, role Role) *Session {
	return &Session{
		id:     uuid.NewString(),
		remote: remote,
		role:   role,
		phase:  PhaseIdle,
	}
}

// ID returns the local session identifier.
func (s *Session) ID() string {
	return s.id
}

// Remote returns the peer on the other end.
func (s *Session) Remote() models.Peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remote
}

// Phase returns the current phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Snapshot copies the session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ID:          s.id,
		Remote:      s.remote,
		Role:        s.role,
		Phase:       s.phase,
		LocalToken:  s.localToken,
		RemoteToken: s.remoteToken,
	}
}

func (s *Session) move(from []Phase, to Phase) error {
	for _, p := range from {
		if s.phase == p {
			s.phase = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.phase, to)
}

// Dial moves a caller from idle to calling.
func (s *Session) Dial() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.role != RoleCaller {
		return fmt.Errorf("%w: callee cannot dial", ErrInvalidTransition)
	}
	return s.move([]Phase{PhaseIdle}, PhaseCalling)
}

// Ring moves a callee from idle to ringing.
func (s *Session) Ring() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.role != RoleCallee {
		return fmt.Errorf("%w: caller cannot ring", ErrInvalidTransition)
	}
	return s.move([]Phase{PhaseIdle}, PhaseRinging)
}

// Accept starts negotiation: the callee accepts locally, the caller on the
// remote accept notice.
func (s *Session) Accept() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.role == RoleCaller {
		return s.move([]Phase{PhaseCalling}, PhaseNegotiating)
	}
	return s.move([]Phase{PhaseRinging}, PhaseNegotiating)
}

// SetLocalToken records the offer or answer this side sent.
func (s *Session) SetLocalToken(token string) (Phase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseNegotiating {
		return s.phase, fmt.Errorf("%w: local token in %s", ErrInvalidTransition, s.phase)
	}
	s.localToken = token
	s.maybeConnect()
	return s.phase, nil
}

// SetRemoteToken records the offer or answer the peer sent.
func (s *Session) SetRemoteToken(token string) (Phase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseNegotiating {
		return s.phase, fmt.Errorf("%w: remote token in %s", ErrInvalidTransition, s.phase)
	}
	s.remoteToken = token
	s.maybeConnect()
	return s.phase, nil
}

func (s *Session) maybeConnect() {
	if s.localToken != "" && s.remoteToken != "" {
		s.phase = PhaseConnected
	}
}

// End moves any phase to ended. It reports false when the session had
// already ended, in which case nothing changes.
func (s *Session) End() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == PhaseEnded {
		return false
	}
	s.phase = PhaseEnded
	return true
}

// AcceptsFrames reports whether frames may flow in either direction.
func (s *Session) AcceptsFrames() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase == PhaseNegotiating || s.phase == PhaseConnected
}

// CheckFrame enforces the frame ceiling.
func CheckFrame(frame []byte) error {
	if len(frame) >= MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(frame))
	}
	return nil
}
