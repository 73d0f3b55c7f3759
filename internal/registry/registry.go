// Package registry tracks known peers: their addresses, public keys,
// discovery state, and the explicit flag that keeps a peer connected
// regardless of mesh limits.
//
// The registry is mutated only from the node event loop and therefore needs
// no locking of its own.
package registry

import (
	"crypto/ed25519"
	"time"

	"github.com/rudransh-shrivastava/gossip-it/internal/identity"
)

type State int

const (
	StateActive State = iota
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

type Entry struct {
	ID        identity.PeerID
	Addrs     []string
	PublicKey ed25519.PublicKey
	State     State
	Explicit  bool
	LastSeen  time.Time
}

type Registry struct {
	peers map[identity.PeerID]*Entry
	now   func() time.Time
}

func New() *Registry {
	return &Registry{
		peers: make(map[identity.PeerID]*Entry),
		now:   time.Now,
	}
}

// Upsert adds or refreshes a peer entry, merging addrs into the known set
// and marking the peer active.
func (r *Registry) Upsert(id identity.PeerID, addrs []string, pub ed25519.PublicKey) *Entry {
	e, ok := r.peers[id]
	if !ok {
		e = &Entry{ID: id}
		r.peers[id] = e
	}
	for _, addr := range addrs {
		if addr != "" && !contains(e.Addrs, addr) {
			e.Addrs = append(e.Addrs, addr)
		}
	}
	if len(pub) == ed25519.PublicKeySize {
		e.PublicKey = pub
	}
	e.State = StateActive
	e.LastSeen = r.now()
	return e
}

func (r *Registry) Get(id identity.PeerID) (*Entry, bool) {
	e, ok := r.peers[id]
	return e, ok
}

// PublicKey looks up a peer's verification key. Used by the router to check
// envelope signatures.
func (r *Registry) PublicKey(id identity.PeerID) (ed25519.PublicKey, bool) {
	e, ok := r.peers[id]
	if !ok || len(e.PublicKey) != ed25519.PublicKeySize {
		return nil, false
	}
	return e.PublicKey, true
}

func (r *Registry) SetExplicit(id identity.PeerID) bool {
	e, ok := r.peers[id]
	if !ok {
		return false
	}
	e.Explicit = true
	return true
}

// ClearExplicit downgrades a peer after discovery expiry. The entry remains
// until the connection owner decides to drop it.
func (r *Registry) ClearExplicit(id identity.PeerID) bool {
	e, ok := r.peers[id]
	if !ok {
		return false
	}
	e.Explicit = false
	e.State = StateExpired
	return true
}

func (r *Registry) Remove(id identity.PeerID) {
	delete(r.peers, id)
}

func (r *Registry) Len() int {
	return len(r.peers)
}

func (r *Registry) Peers() []*Entry {
	out := make([]*Entry, 0, len(r.peers))
	for _, e := range r.peers {
		out = append(out, e)
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
