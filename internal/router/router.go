// Package router implements single-node gossip routing: per-topic mesh
// membership maintained at heartbeat boundaries, duplicate suppression via a
// content-addressed seen-cache, and strict validation of inbound envelopes.
//
// The router does no I/O of its own. Outbound messages go through the Sender
// interface and all methods must be called from one goroutine (the node event
// loop), which serializes every state transition.
package router

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/rudransh-shrivastava/gossip-it/internal/dedup"
	"github.com/rudransh-shrivastava/gossip-it/internal/identity"
	"github.com/rudransh-shrivastava/gossip-it/internal/protocol"
)

var (
	// ErrNoMeshPeers reports a publish on a topic with an empty mesh. The
	// message was recorded as seen but reached nobody.
	ErrNoMeshPeers = errors.New("no peers in topic mesh")

	// ErrDuplicateMessage reports a publish of a payload still in the
	// seen-cache. The publish is a no-op.
	ErrDuplicateMessage = errors.New("duplicate message")

	ErrNotSubscribed = errors.New("not subscribed to topic")
)

const (
	DefaultMeshLow    = 4
	DefaultMeshTarget = 6
	DefaultMeshHigh   = 12
)

// Sender delivers a protocol message to a connected peer.
type Sender interface {
	Send(ctx context.Context, peer identity.PeerID, msg protocol.Message) error
}

// KeyLookup resolves a peer's verification key. Implemented by the registry.
type KeyLookup interface {
	PublicKey(id identity.PeerID) (ed25519.PublicKey, bool)
}

// Delivery is a validated, deduplicated message handed to the application.
type Delivery struct {
	Topic   string
	Payload []byte
	Sender  identity.PeerID
	ID      dedup.MessageID
}

type Config struct {
	MeshLow    int
	MeshTarget int
	MeshHigh   int

	Signer  identity.Signer
	Keys    KeyLookup
	Seen    *dedup.SeenCache
	Sender  Sender
	Deliver func(Delivery)
	Logger  *slog.Logger

	// Rand picks mesh candidates; defaults to math/rand. Tests inject a
	// deterministic function.
	Rand func(n int) int
}

// peerState tracks one connected peer: its topic subscriptions and whether
// it is explicit (always kept, never pruned).
type peerState struct {
	topics   map[string]struct{}
	explicit bool
}

type Router struct {
	config Config
	logger *slog.Logger

	localTopics map[string]struct{}
	meshes      map[string]map[identity.PeerID]struct{}
	peers       map[identity.PeerID]*peerState
}

func New(cfg Config) (*Router, error) {
	if cfg.MeshLow == 0 && cfg.MeshTarget == 0 && cfg.MeshHigh == 0 {
		cfg.MeshLow = DefaultMeshLow
		cfg.MeshTarget = DefaultMeshTarget
		cfg.MeshHigh = DefaultMeshHigh
	}
	if cfg.MeshLow <= 0 || cfg.MeshLow > cfg.MeshTarget || cfg.MeshTarget > cfg.MeshHigh {
		return nil, fmt.Errorf("invalid mesh watermarks low=%d target=%d high=%d", cfg.MeshLow, cfg.MeshTarget, cfg.MeshHigh)
	}
	if cfg.Signer == nil {
		return nil, errors.New("router requires a signer")
	}
	if cfg.Keys == nil {
		return nil, errors.New("router requires a key lookup")
	}
	if cfg.Seen == nil {
		return nil, errors.New("router requires a seen cache")
	}
	if cfg.Sender == nil {
		return nil, errors.New("router requires a sender")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.Intn
	}

	return &Router{
		config:      cfg,
		logger:      cfg.Logger,
		localTopics: make(map[string]struct{}),
		meshes:      make(map[string]map[identity.PeerID]struct{}),
		peers:       make(map[identity.PeerID]*peerState),
	}, nil
}

// Subscribe joins a topic locally and announces the subscription to every
// connected peer.
func (r *Router) Subscribe(ctx context.Context, topic string) {
	if _, ok := r.localTopics[topic]; ok {
		return
	}
	r.localTopics[topic] = struct{}{}
	r.meshes[topic] = make(map[identity.PeerID]struct{})

	for id := range r.peers {
		r.send(ctx, id, &protocol.Subscribe{Topic: topic})
	}
}

// Unsubscribe leaves a topic: the mesh is dropped and peers are notified.
func (r *Router) Unsubscribe(ctx context.Context, topic string) {
	if _, ok := r.localTopics[topic]; !ok {
		return
	}
	delete(r.localTopics, topic)
	delete(r.meshes, topic)

	for id := range r.peers {
		r.send(ctx, id, &protocol.Unsubscribe{Topic: topic})
	}
}

// AddPeer registers a newly connected peer and announces our subscriptions
// to it.
func (r *Router) AddPeer(ctx context.Context, id identity.PeerID, explicit bool) {
	if _, ok := r.peers[id]; ok {
		r.peers[id].explicit = explicit
		return
	}
	r.peers[id] = &peerState{
		topics:   make(map[string]struct{}),
		explicit: explicit,
	}
	for topic := range r.localTopics {
		r.send(ctx, id, &protocol.Subscribe{Topic: topic})
	}
}

// RemovePeer drops a disconnected peer from every mesh and subscription
// table immediately.
func (r *Router) RemovePeer(id identity.PeerID) {
	delete(r.peers, id)
	for _, mesh := range r.meshes {
		delete(mesh, id)
	}
}

// SetExplicit flips the explicit flag for a connected peer. Explicit peers
// bypass mesh size limits: they join every shared topic mesh right away and
// are never pruned.
func (r *Router) SetExplicit(ctx context.Context, id identity.PeerID, explicit bool) {
	ps, ok := r.peers[id]
	if !ok {
		return
	}
	ps.explicit = explicit
	if !explicit {
		return
	}
	for topic := range r.localTopics {
		if _, subscribed := ps.topics[topic]; subscribed {
			r.graft(ctx, topic, id)
		}
	}
}

// Publish signs a payload and forwards it to every peer in the topic mesh.
func (r *Router) Publish(ctx context.Context, topic string, payload []byte) (dedup.MessageID, error) {
	id := dedup.Identify(payload)
	if r.config.Seen.CheckAndRecord(id) {
		return id, ErrDuplicateMessage
	}

	env := &protocol.Envelope{
		Topic:     topic,
		Payload:   payload,
		Sender:    r.config.Signer.PeerID(),
		PublicKey: r.config.Signer.PublicKey(),
		Signature: r.config.Signer.Sign(identity.SigningBytes(topic, payload)),
	}

	mesh := r.meshes[topic]
	if len(mesh) == 0 {
		return id, ErrNoMeshPeers
	}
	for peer := range mesh {
		r.send(ctx, peer, env)
	}
	return id, nil
}

// HandleMessage dispatches one inbound message from a connected peer.
func (r *Router) HandleMessage(ctx context.Context, from identity.PeerID, msg protocol.Message) {
	if _, ok := r.peers[from]; !ok {
		r.logger.Debug("Message from unknown peer", "peer", from.Short(), "type", msg.Type().String())
		return
	}

	switch m := msg.(type) {
	case *protocol.Envelope:
		r.handleEnvelope(ctx, from, m)
	case *protocol.Subscribe:
		r.handleSubscribe(ctx, from, m.Topic)
	case *protocol.Unsubscribe:
		r.handleUnsubscribe(from, m.Topic)
	case *protocol.Graft:
		r.handleGraft(ctx, from, m.Topic)
	case *protocol.Prune:
		r.handlePrune(from, m.Topic)
	default:
		r.logger.Debug("Unhandled message type", "peer", from.Short(), "type", msg.Type().String())
	}
}

// handleEnvelope runs strict validation, then the seen check, then delivers
// locally and relays to mesh peers other than the one it arrived from.
func (r *Router) handleEnvelope(ctx context.Context, from identity.PeerID, env *protocol.Envelope) {
	if err := r.validate(env); err != nil {
		r.logger.Debug("Dropping invalid envelope", "from", from.Short(), "error", err)
		return
	}

	id := dedup.Identify(env.Payload)
	if r.config.Seen.CheckAndRecord(id) {
		return
	}

	if r.config.Deliver != nil {
		r.config.Deliver(Delivery{
			Topic:   env.Topic,
			Payload: env.Payload,
			Sender:  env.Sender,
			ID:      id,
		})
	}

	for peer := range r.meshes[env.Topic] {
		if peer == from || peer == env.Sender {
			continue
		}
		r.send(ctx, peer, env)
	}
}

func (r *Router) validate(env *protocol.Envelope) error {
	if _, ok := r.localTopics[env.Topic]; !ok {
		return ErrNotSubscribed
	}
	if len(env.Payload) > protocol.MaxPayloadSize {
		return fmt.Errorf("payload exceeds %d bytes", protocol.MaxPayloadSize)
	}
	// A relayed envelope may originate from a peer we never handshook with,
	// so the embedded key is authoritative; the registry covers envelopes
	// from peers that omit it.
	pub := ed25519.PublicKey(env.PublicKey)
	if len(pub) == 0 {
		var ok bool
		pub, ok = r.config.Keys.PublicKey(env.Sender)
		if !ok {
			return fmt.Errorf("no key for sender %s", env.Sender.Short())
		}
	}
	if identity.PeerIDFromPublicKey(pub) != env.Sender {
		return errors.New("sender id does not match key")
	}
	if !identity.Verify(pub, identity.SigningBytes(env.Topic, env.Payload), env.Signature) {
		return errors.New("bad signature")
	}
	return nil
}

func (r *Router) handleSubscribe(ctx context.Context, from identity.PeerID, topic string) {
	ps := r.peers[from]
	ps.topics[topic] = struct{}{}

	// Explicit peers join the mesh immediately; everyone else waits for a
	// heartbeat boundary.
	if ps.explicit {
		if _, ok := r.localTopics[topic]; ok {
			r.graft(ctx, topic, from)
		}
	}
}

func (r *Router) handleUnsubscribe(from identity.PeerID, topic string) {
	ps := r.peers[from]
	delete(ps.topics, topic)
	if mesh, ok := r.meshes[topic]; ok {
		delete(mesh, from)
	}
}

func (r *Router) handleGraft(ctx context.Context, from identity.PeerID, topic string) {
	ps := r.peers[from]
	_, localOK := r.localTopics[topic]
	_, peerOK := ps.topics[topic]
	if !localOK || !peerOK {
		r.send(ctx, from, &protocol.Prune{Topic: topic})
		return
	}
	r.meshes[topic][from] = struct{}{}
}

func (r *Router) handlePrune(from identity.PeerID, topic string) {
	if mesh, ok := r.meshes[topic]; ok {
		delete(mesh, from)
	}
}

// Heartbeat runs one round of mesh maintenance for every local topic:
// grafting up to the target when below the low watermark, pruning down to
// the target when above the high watermark. Explicit peers never count as
// prunable.
func (r *Router) Heartbeat(ctx context.Context) {
	for topic := range r.localTopics {
		r.maintainMesh(ctx, topic)
	}
}

func (r *Router) maintainMesh(ctx context.Context, topic string) {
	mesh := r.meshes[topic]

	// Explicit peers are mesh members whenever they subscribe, independent
	// of the watermarks.
	for id, ps := range r.peers {
		if !ps.explicit {
			continue
		}
		if _, subscribed := ps.topics[topic]; subscribed {
			r.graft(ctx, topic, id)
		}
	}

	if len(mesh) < r.config.MeshLow {
		candidates := r.graftCandidates(topic)
		shuffle(candidates, r.config.Rand)
		for _, id := range candidates {
			if len(mesh) >= r.config.MeshTarget {
				break
			}
			r.graft(ctx, topic, id)
		}
		return
	}

	if len(mesh) > r.config.MeshHigh {
		prunable := make([]identity.PeerID, 0, len(mesh))
		for id := range mesh {
			if !r.peers[id].explicit {
				prunable = append(prunable, id)
			}
		}
		shuffle(prunable, r.config.Rand)
		for _, id := range prunable {
			if len(mesh) <= r.config.MeshTarget {
				break
			}
			delete(mesh, id)
			r.send(ctx, id, &protocol.Prune{Topic: topic})
		}
	}
}

// graftCandidates returns peers subscribed to topic but not yet in its mesh.
func (r *Router) graftCandidates(topic string) []identity.PeerID {
	mesh := r.meshes[topic]
	var out []identity.PeerID
	for id, ps := range r.peers {
		if _, subscribed := ps.topics[topic]; !subscribed {
			continue
		}
		if _, inMesh := mesh[id]; inMesh {
			continue
		}
		out = append(out, id)
	}
	return out
}

func (r *Router) graft(ctx context.Context, topic string, id identity.PeerID) {
	mesh := r.meshes[topic]
	if _, ok := mesh[id]; ok {
		return
	}
	mesh[id] = struct{}{}
	r.send(ctx, id, &protocol.Graft{Topic: topic})
}

// MeshPeers returns the current mesh membership for a topic.
func (r *Router) MeshPeers(topic string) []identity.PeerID {
	mesh := r.meshes[topic]
	out := make([]identity.PeerID, 0, len(mesh))
	for id := range mesh {
		out = append(out, id)
	}
	return out
}

func (r *Router) PeerCount() int {
	return len(r.peers)
}

// Subscribed reports whether peer id is known subscribed to topic.
func (r *Router) Subscribed(id identity.PeerID, topic string) bool {
	ps, ok := r.peers[id]
	if !ok {
		return false
	}
	_, ok = ps.topics[topic]
	return ok
}

func (r *Router) send(ctx context.Context, id identity.PeerID, msg protocol.Message) {
	if err := r.config.Sender.Send(ctx, id, msg); err != nil {
		r.logger.Debug("Failed to send to peer", "peer", id.Short(), "type", msg.Type().String(), "error", err)
	}
}

func shuffle(ids []identity.PeerID, randFn func(n int) int) {
	for i := len(ids) - 1; i > 0; i-- {
		j := randFn(i + 1)
		ids[i], ids[j] = ids[j], ids[i]
	}
}
