package protocol

import "github.com/rudransh-shrivastava/gossip-it/internal/identity"

type Message interface {
	Type() MessageType
}

// Hello is the first message on every session. It binds the connection to a
// node identity; the receiver derives the PeerID from the public key and
// rejects a mismatch.
type Hello struct {
	NodeID    identity.PeerID
	PublicKey []byte
	Nick      string
}

func (Hello) Type() MessageType { return MsgHello }

// Envelope carries one broadcast message. The signature covers the topic and
// payload and is made by the original sender, so relays forward it unchanged.
// The sender's public key travels with the envelope because a relayed message
// can arrive from a peer the receiver never exchanged a Hello with; the
// receiver re-derives the sender id from the key before trusting it.
type Envelope struct {
	Topic     string
	Payload   []byte
	Sender    identity.PeerID
	PublicKey []byte
	Signature []byte
}

func (Envelope) Type() MessageType { return MsgEnvelope }

type Subscribe struct {
	Topic string
}

func (Subscribe) Type() MessageType { return MsgSubscribe }

type Unsubscribe struct {
	Topic string
}

func (Unsubscribe) Type() MessageType { return MsgUnsubscribe }

// Graft asks the receiving peer to add the sender to its mesh for the topic.
type Graft struct {
	Topic string
}

func (Graft) Type() MessageType { return MsgGraft }

// Prune tells the receiving peer it has been dropped from the sender's mesh.
type Prune struct {
	Topic string
}

func (Prune) Type() MessageType { return MsgPrune }

type Ping struct{}

func (Ping) Type() MessageType { return MsgPing }

type Pong struct{}

func (Pong) Type() MessageType { return MsgPong }

type Error struct {
	Code    ErrorCode
	Message string
}

func (Error) Type() MessageType { return MsgError }
