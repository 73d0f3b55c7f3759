// Package identity provides node identities: an ed25519 keypair plus a
// PeerID derived from the public key. Signing is exposed through the Signer
// interface so the router can be tested with a deterministic keypair.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

const peerIDBytes = 10

// PeerID is an opaque identifier for a node, derived from its public key.
// Two identities with the same public key compare equal.
type PeerID string

func (id PeerID) String() string { return string(id) }

// Short returns a truncated form suitable for log lines.
func (id PeerID) Short() string {
	if len(id) > 8 {
		return string(id[:8])
	}
	return string(id)
}

// PeerIDFromPublicKey derives the PeerID for a public key.
func PeerIDFromPublicKey(pub ed25519.PublicKey) PeerID {
	sum := sha256.Sum256(pub)
	return PeerID(hex.EncodeToString(sum[:peerIDBytes]))
}

// Signer signs outbound envelopes on behalf of the local node.
type Signer interface {
	Sign(data []byte) []byte
	PeerID() PeerID
	PublicKey() ed25519.PublicKey
}

type Identity struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
	id   PeerID
}

// Generate creates a fresh random identity.
func Generate() (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate identity: %w", err)
	}
	return &Identity{priv: priv, pub: pub, id: PeerIDFromPublicKey(pub)}, nil
}

// FromSeed derives an identity deterministically from a 32-byte seed.
// Used by tests that need stable peer IDs.
func FromSeed(seed []byte) *Identity {
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return &Identity{priv: priv, pub: pub, id: PeerIDFromPublicKey(pub)}
}

func (i *Identity) Sign(data []byte) []byte { return ed25519.Sign(i.priv, data) }

func (i *Identity) PeerID() PeerID { return i.id }

func (i *Identity) PublicKey() ed25519.PublicKey { return i.pub }

// Verify reports whether sig is a valid signature over data by pub.
func Verify(pub ed25519.PublicKey, data, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(pub, data, sig)
}

// SigningBytes builds the byte string signed for a topic message. The topic
// is length-prefixed so that (topic, payload) pairs cannot collide.
func SigningBytes(topic string, payload []byte) []byte {
	buf := make([]byte, 4, 4+len(topic)+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(len(topic)))
	buf = append(buf, topic...)
	buf = append(buf, payload...)
	return buf
}
