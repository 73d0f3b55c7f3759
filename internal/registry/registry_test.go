package registry

import (
	"bytes"
	"testing"

	"github.com/rudransh-shrivastava/gossip-it/internal/identity"
)

func testIdentity(t *testing.T, b byte) *identity.Identity {
	t.Helper()
	return identity.FromSeed(bytes.Repeat([]byte{b}, 32))
}

func TestUpsertAndGet(t *testing.T) {
	r := New()
	id := testIdentity(t, 1)

	r.Upsert(id.PeerID(), []string{"127.0.0.1:1000"}, id.PublicKey())

	e, ok := r.Get(id.PeerID())
	if !ok {
		t.Fatal("expected entry after upsert")
	}
	if e.State != StateActive {
		t.Errorf("expected active state, got %s", e.State)
	}
	if len(e.Addrs) != 1 || e.Addrs[0] != "127.0.0.1:1000" {
		t.Errorf("unexpected addrs %v", e.Addrs)
	}
}

func TestUpsertMergesAddrs(t *testing.T) {
	r := New()
	id := testIdentity(t, 2)

	r.Upsert(id.PeerID(), []string{"127.0.0.1:1000"}, id.PublicKey())
	r.Upsert(id.PeerID(), []string{"127.0.0.1:1000", "10.0.0.1:2000"}, nil)

	e, _ := r.Get(id.PeerID())
	if len(e.Addrs) != 2 {
		t.Errorf("expected 2 addrs, got %v", e.Addrs)
	}
	// A nil key on refresh must not clobber the known key.
	if _, ok := r.PublicKey(id.PeerID()); !ok {
		t.Error("public key lost on refresh")
	}
}

func TestPublicKeyLookup(t *testing.T) {
	r := New()
	id := testIdentity(t, 3)

	if _, ok := r.PublicKey(id.PeerID()); ok {
		t.Error("expected no key for unknown peer")
	}

	r.Upsert(id.PeerID(), nil, id.PublicKey())
	pub, ok := r.PublicKey(id.PeerID())
	if !ok {
		t.Fatal("expected key after upsert")
	}
	if !bytes.Equal(pub, id.PublicKey()) {
		t.Error("returned key does not match")
	}
}

func TestExplicitFlag(t *testing.T) {
	r := New()
	id := testIdentity(t, 4)

	if r.SetExplicit(id.PeerID()) {
		t.Error("SetExplicit succeeded for unknown peer")
	}

	r.Upsert(id.PeerID(), nil, id.PublicKey())
	if !r.SetExplicit(id.PeerID()) {
		t.Fatal("SetExplicit failed")
	}
	e, _ := r.Get(id.PeerID())
	if !e.Explicit {
		t.Error("explicit flag not set")
	}

	if !r.ClearExplicit(id.PeerID()) {
		t.Fatal("ClearExplicit failed")
	}
	e, _ = r.Get(id.PeerID())
	if e.Explicit {
		t.Error("explicit flag not cleared")
	}
	if e.State != StateExpired {
		t.Errorf("expected expired state after clear, got %s", e.State)
	}
}

func TestRemove(t *testing.T) {
	r := New()
	id := testIdentity(t, 5)

	r.Upsert(id.PeerID(), nil, id.PublicKey())
	if r.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", r.Len())
	}

	r.Remove(id.PeerID())
	if r.Len() != 0 {
		t.Errorf("expected 0 entries, got %d", r.Len())
	}
	if _, ok := r.Get(id.PeerID()); ok {
		t.Error("entry still present after remove")
	}
}
