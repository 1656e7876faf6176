package call

import (
	"fmt"
	"sync"

	"lanchat/models"
)

// Registry holds at most one live session per remote nickname.
type Registry struct {
	sessions sync.Map // nickname -> *Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Dial creates a caller session and moves it to calling.
func (r *Registry) Dial(remote models.Peer) (*Session, error) {
	session := NewSession(remote, RoleCaller)
	if err := session.Dial(); err != nil {
		return nil, err
	}
	if err := r.install(remote.Nickname, session); err != nil {
		return nil, err
	}
	return session, nil
}

// Ring creates a callee session and moves it to ringing.
func (r *Registry) Ring(remote models.Peer) (*Session, error) {
	session := NewSession(remote, RoleCallee)
	if err := session.Ring(); err != nil {
		return nil, err
	}
	if err := r.install(remote.Nickname, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (r *Registry) install(nickname string, session *Session) error {
	for {
		existing, loaded := r.sessions.LoadOrStore(nickname, session)
		if !loaded {
			return nil
		}
		current := existing.(*Session)
		if current.Phase() != PhaseEnded {
			return fmt.Errorf("%w: call with %s already %s", ErrInvalidTransition, nickname, current.Phase())
		}
		r.sessions.CompareAndDelete(nickname, current)
	}
}

// Get returns the live session with nickname.
func (r *Registry) Get(nickname string) (*Session, error) {
	value, ok := r.sessions.Load(nickname)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSession, nickname)
	}
	return value.(*Session), nil
}

// End ends and releases the session with nickname. It reports false when
// there was nothing live to end.
func (r *Registry) End(nickname string) (Snapshot, bool) {
	value, ok := r.sessions.LoadAndDelete(nickname)
	if !ok {
		return Snapshot{}, false
	}
	session := value.(*Session)
	changed := session.End()
	return session.Snapshot(), changed
}

// EndAll ends every session and returns the ones that were live.
func (r *Registry) EndAll() []Snapshot {
	var out []Snapshot
	r.sessions.Range(func(key, _ any) bool {
		if snap, changed := r.End(key.(string)); changed {
			out = append(out, snap)
		}
		return true
	})
	return out
}

// Phase returns the phase of the call with nickname, or PhaseIdle.
func (r *Registry) Phase(nickname string) Phase {
	session, err := r.Get(nickname)
	if err != nil {
		return PhaseIdle
	}
	return session.Phase()
}
