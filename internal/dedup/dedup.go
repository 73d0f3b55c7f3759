// Package dedup suppresses re-delivery of broadcast messages. A MessageID is
// derived from payload content alone, so byte-identical payloads collapse to
// one id regardless of sender. That is a deliberate trade-off: a peer
// re-publishing identical bytes within the TTL window is indistinguishable
// from a relay duplicate.
package dedup

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// MessageID is a content-derived message identifier. Collisions are treated
// as true duplicates; the 64-bit space is large relative to chat traffic.
type MessageID uint64

// Identify computes the MessageID for a payload. Deterministic.
func Identify(payload []byte) MessageID {
	return MessageID(xxhash.Sum64(payload))
}

// SeenCache is a bounded-by-time set of recently seen MessageIDs. Entries
// expire after the configured TTL, independent of the mesh heartbeat.
type SeenCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[MessageID]time.Time
	now     func() time.Time
}

func NewSeenCache(ttl time.Duration) *SeenCache {
	return &SeenCache{
		ttl:     ttl,
		entries: make(map[MessageID]time.Time),
		now:     time.Now,
	}
}

// CheckAndRecord atomically checks whether id was seen within the TTL and
// records it if not. Returns true if the id was already seen. The check and
// insert happen under one lock so two near-simultaneous identical messages
// cannot both pass.
func (c *SeenCache) CheckAndRecord(id MessageID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if at, ok := c.entries[id]; ok && now.Sub(at) < c.ttl {
		return true
	}
	c.entries[id] = now
	return false
}

// Seen reports whether id is currently recorded and unexpired.
func (c *SeenCache) Seen(id MessageID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	at, ok := c.entries[id]
	return ok && c.now().Sub(at) < c.ttl
}

// Sweep removes all expired entries.
func (c *SeenCache) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for id, at := range c.entries {
		if now.Sub(at) >= c.ttl {
			delete(c.entries, id)
		}
	}
}

func (c *SeenCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
