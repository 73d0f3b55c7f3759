package discovery

import (
	"sync"
	"time"

	"github.com/rudransh-shrivastava/gossip-it/internal/identity"
)

// presence tracks when each peer was last heard from. It is separated from
// the socket plumbing so expiry behaviour is testable without multicast.
type presence struct {
	mu   sync.Mutex
	last map[identity.PeerID]time.Time
	now  func() time.Time
}

func newPresence() *presence {
	return &presence{
		last: make(map[identity.PeerID]time.Time),
		now:  time.Now,
	}
}

// touch records a beacon from id and reports whether the peer is new (not
// currently tracked).
func (p *presence) touch(id identity.PeerID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, known := p.last[id]
	p.last[id] = p.now()
	return !known
}

// expire removes and returns every peer not heard from within ttl.
func (p *presence) expire(ttl time.Duration) []identity.PeerID {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	var expired []identity.PeerID
	for id, at := range p.last {
		if now.Sub(at) >= ttl {
			delete(p.last, id)
			expired = append(expired, id)
		}
	}
	return expired
}

func (p *presence) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.last)
}
