package node

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/rudransh-shrivastava/gossip-it/internal/config"
	"github.com/rudransh-shrivastava/gossip-it/internal/discovery"
	"github.com/rudransh-shrivastava/gossip-it/internal/identity"
	"github.com/rudransh-shrivastava/gossip-it/internal/protocol"
	"github.com/rudransh-shrivastava/gossip-it/internal/transport"
)

func newTestNode(t *testing.T, id *identity.Identity) *Node {
	t.Helper()

	cfg := config.Default()
	cfg.Discovery.Enabled = false

	n, err := New(Options{Config: cfg, Identity: id})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(n.shutdown)
	return n
}

// sessionPair connects a throwaway transport to the node's listener and
// returns both ends.
func sessionPair(t *testing.T, n *Node) (server, client *transport.Session) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tr, err := transport.NewTransport(":0")
	if err != nil {
		t.Fatalf("NewTransport failed: %v", err)
	}
	t.Cleanup(func() { _ = tr.Close() })

	type dialResult struct {
		sess *transport.Session
		err  error
	}
	dialed := make(chan dialResult, 1)
	go func() {
		sess, err := tr.Dial(ctx, n.Addr())
		dialed <- dialResult{sess: sess, err: err}
	}()

	server, err = n.transport.Accept(ctx)
	if err != nil {
		t.Fatalf("Accept failed: %v", err)
	}
	d := <-dialed
	if d.err != nil {
		t.Fatalf("Dial failed: %v", d.err)
	}

	t.Cleanup(func() {
		_ = server.Close()
		_ = d.sess.Close()
	})
	return server, d.sess
}

func TestValidateHello(t *testing.T) {
	id := identity.FromSeed(bytes.Repeat([]byte{1}, 32))

	good := &protocol.Hello{
		NodeID:    id.PeerID(),
		PublicKey: id.PublicKey(),
		Nick:      "alice",
	}
	if err := validateHello(good); err != nil {
		t.Errorf("valid hello rejected: %v", err)
	}

	shortKey := &protocol.Hello{
		NodeID:    id.PeerID(),
		PublicKey: []byte{1, 2, 3},
	}
	if err := validateHello(shortKey); err == nil {
		t.Error("expected error for truncated public key")
	}

	other := identity.FromSeed(bytes.Repeat([]byte{2}, 32))
	mismatched := &protocol.Hello{
		NodeID:    other.PeerID(),
		PublicKey: id.PublicKey(),
	}
	if err := validateHello(mismatched); err == nil {
		t.Error("expected error for id not derived from key")
	}
}

func TestDisplayName(t *testing.T) {
	id := identity.FromSeed(bytes.Repeat([]byte{3}, 32))
	n := &Node{nicks: map[identity.PeerID]string{}}

	if got := n.displayName(id.PeerID()); got != id.PeerID().Short() {
		t.Errorf("expected short id %s, got %s", id.PeerID().Short(), got)
	}

	n.nicks[id.PeerID()] = "bob"
	if got := n.displayName(id.PeerID()); got != "bob" {
		t.Errorf("expected nick bob, got %s", got)
	}
}

// The event loop is not running here, so handler calls are serialized by the
// test itself, same as they would be by the loop.
func TestDiscoveryEventRegistryLifecycle(t *testing.T) {
	cfg := config.Default()
	cfg.Discovery.Enabled = false

	// The higher PeerID never dials on discovery, which keeps this test free
	// of background connection attempts.
	local := identity.FromSeed(bytes.Repeat([]byte{4}, 32))
	peer := identity.FromSeed(bytes.Repeat([]byte{5}, 32))
	if local.PeerID() < peer.PeerID() {
		local, peer = peer, local
	}

	n, err := New(Options{Config: cfg, Identity: local})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer n.shutdown()

	ctx := context.Background()

	n.handleDiscoveryEvent(ctx, discovery.Event{
		Type:      discovery.PeerDiscovered,
		ID:        peer.PeerID(),
		Addrs:     []string{"127.0.0.1:1234"},
		PublicKey: peer.PublicKey(),
	})

	e, ok := n.reg.Get(peer.PeerID())
	if !ok {
		t.Fatal("discovered peer not in registry")
	}
	if !e.Explicit {
		t.Error("discovered peer not marked explicit")
	}

	// No session ever came up, so expiry removes the peer entirely.
	n.handleDiscoveryEvent(ctx, discovery.Event{
		Type: discovery.PeerExpired,
		ID:   peer.PeerID(),
	})

	if _, ok := n.reg.Get(peer.PeerID()); ok {
		t.Error("expired peer without session still in registry")
	}
}

// Expiry of a connected peer must tear the session down; the keep-alive would
// otherwise hold the connection open indefinitely.
func TestPeerExpiryClosesSession(t *testing.T) {
	n := newTestNode(t, nil)
	serverSess, _ := sessionPair(t, n)

	ctx := context.Background()
	peer := identity.FromSeed(bytes.Repeat([]byte{6}, 32))
	n.sessions[peer.PeerID()] = serverSess
	n.reg.Upsert(peer.PeerID(), []string{serverSess.RemoteAddr()}, peer.PublicKey())
	n.reg.SetExplicit(peer.PeerID())
	n.router.AddPeer(ctx, peer.PeerID(), true)

	n.handleDiscoveryEvent(ctx, discovery.Event{
		Type: discovery.PeerExpired,
		ID:   peer.PeerID(),
	})

	if _, ok := n.sessions[peer.PeerID()]; ok {
		t.Error("session still tracked after expiry")
	}
	if _, ok := n.reg.Get(peer.PeerID()); ok {
		t.Error("expired peer still in registry")
	}
	if n.router.PeerCount() != 0 {
		t.Errorf("expected 0 router peers, got %d", n.router.PeerCount())
	}

	sendCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := serverSess.Send(sendCtx, &protocol.Ping{}); err == nil {
		t.Error("session still usable after expiry")
	}
}

func TestHeartbeatPingsPeers(t *testing.T) {
	n := newTestNode(t, nil)
	serverSess, clientSess := sessionPair(t, n)

	peer := identity.FromSeed(bytes.Repeat([]byte{7}, 32))
	n.sessions[peer.PeerID()] = serverSess

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	n.pingPeers(ctx)

	msg, err := clientSess.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if _, ok := msg.(*protocol.Ping); !ok {
		t.Fatalf("expected *Ping, got %T", msg)
	}
}

func TestHandshakeRejectsBadHello(t *testing.T) {
	n := newTestNode(t, nil)
	serverSess, clientSess := sessionPair(t, n)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	go n.handshakeInbound(ctx, serverSess)

	// Claimed id is not derived from the advertised key.
	a := identity.FromSeed(bytes.Repeat([]byte{8}, 32))
	b := identity.FromSeed(bytes.Repeat([]byte{9}, 32))
	if err := clientSess.Send(ctx, &protocol.Hello{NodeID: a.PeerID(), PublicKey: b.PublicKey()}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	msg, err := clientSess.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	perr, ok := msg.(*protocol.Error)
	if !ok {
		t.Fatalf("expected *Error, got %T", msg)
	}
	if perr.Code != protocol.ErrInvalidMsg {
		t.Errorf("expected code %s, got %s", protocol.ErrInvalidMsg, perr.Code)
	}
}
