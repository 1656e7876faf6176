package storage

import (
	"sort"
	"strings"
	"sync"

	"lanchat/models"
)

// PeerDirectory is the process-local table of known remote peers keyed by nickname.
type PeerDirectory struct {
	peers sync.Map // nickname -> models.Peer
}

// NewPeerDirectory returns an empty directory.
func NewPeerDirectory() *PeerDirectory {
	return &PeerDirectory{}
}

// Add inserts a peer if its nickname is unknown and reports whether it was inserted.
// An existing entry is never replaced.
func (d *PeerDirectory) Add(peer models.Peer) bool {
	peer.Nickname = strings.TrimSpace(peer.Nickname)
	if peer.Nickname == "" {
		return false
	}
	_, loaded := d.peers.LoadOrStore(peer.Nickname, peer)
	return !loaded
}

// Remove deletes a peer and returns the removed entry.
func (d *PeerDirectory) Remove(nickname string) (models.Peer, bool) {
	value, ok := d.peers.LoadAndDelete(nickname)
	if !ok {
		return models.Peer{}, false
	}
	return value.(models.Peer), true
}

// Get returns the peer registered under nickname.
func (d *PeerDirectory) Get(nickname string) (models.Peer, error) {
	value, ok := d.peers.Load(nickname)
	if !ok {
		return models.Peer{}, ErrNotFound
	}
	return value.(models.Peer), nil
}

// List returns a nickname-ordered snapshot.
func (d *PeerDirectory) List() []models.Peer {
	out := make([]models.Peer, 0)
	d.peers.Range(func(_, value any) bool {
		out = append(out, value.(models.Peer))
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		return out[i].Nickname < out[j].Nickname
	})
	return out
}

// Len returns the number of known peers.
func (d *PeerDirectory) Len() int {
	count := 0
	d.peers.Range(func(_, _ any) bool {
		count++
		return true
	})
	return count
}

// Clear forgets every peer.
func (d *PeerDirectory) Clear() {
	d.peers.Clear()
}
