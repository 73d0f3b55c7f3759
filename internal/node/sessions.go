package node

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/rudransh-shrivastava/gossip-it/internal/identity"
	"github.com/rudransh-shrivastava/gossip-it/internal/protocol"
	"github.com/rudransh-shrivastava/gossip-it/internal/transport"
)

const (
	handshakeTimeout = 10 * time.Second
	sendTimeout      = 5 * time.Second
)

// Send implements router.Sender over the session table. Called only from the
// event loop.
func (n *Node) Send(ctx context.Context, peer identity.PeerID, msg protocol.Message) error {
	sess, ok := n.sessions[peer]
	if !ok {
		return fmt.Errorf("no session for peer %s", peer.Short())
	}

	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	return sess.Send(sendCtx, msg)
}

func (n *Node) hello() *protocol.Hello {
	return &protocol.Hello{
		NodeID:    n.id.PeerID(),
		PublicKey: n.id.PublicKey(),
		Nick:      n.config.Nick,
	}
}

// acceptLoop hands every inbound session to a handshake goroutine.
func (n *Node) acceptLoop(ctx context.Context) {
	for {
		sess, err := n.transport.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			n.logger.Debug("Accept failed", "error", err)
			return
		}
		go n.handshakeInbound(ctx, sess)
	}
}

// handshakeInbound waits for the peer's Hello, replies with ours, and hands
// the session to the event loop. The first message on a session must be
// Hello or the session is dropped.
func (n *Node) handshakeInbound(ctx context.Context, sess *transport.Session) {
	hsCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	msg, err := sess.Receive(hsCtx)
	if err != nil {
		n.logger.Debug("Handshake receive failed", "addr", sess.RemoteAddr(), "error", err)
		_ = sess.Close()
		return
	}
	hello, ok := msg.(*protocol.Hello)
	if !ok {
		n.logger.Debug("First message was not Hello", "addr", sess.RemoteAddr(), "type", msg.Type().String())
		_ = sess.Send(hsCtx, &protocol.Error{Code: protocol.ErrInvalidMsg, Message: "expected hello"})
		_ = sess.Close()
		return
	}
	if err := validateHello(hello); err != nil {
		n.logger.Debug("Rejecting handshake", "addr", sess.RemoteAddr(), "error", err)
		_ = sess.Send(hsCtx, &protocol.Error{Code: protocol.ErrInvalidMsg, Message: err.Error()})
		_ = sess.Close()
		return
	}

	if err := sess.Send(hsCtx, n.hello()); err != nil {
		n.logger.Debug("Handshake send failed", "addr", sess.RemoteAddr(), "error", err)
		_ = sess.Close()
		return
	}

	n.offerSession(ctx, sessionReady{
		sess: sess,
		id:   hello.NodeID,
		pub:  hello.PublicKey,
		nick: hello.Nick,
		addr: sess.RemoteAddr(),
	})
}

// dialPeer connects out, sends our Hello first, and expects the peer's Hello
// in response.
func (n *Node) dialPeer(ctx context.Context, addr string, explicit bool, want identity.PeerID) {
	hsCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	sess, err := n.transport.Dial(hsCtx, addr)
	if err != nil {
		n.logger.Warn("Failed to dial peer", "addr", addr, "error", err)
		return
	}

	if err := sess.Send(hsCtx, n.hello()); err != nil {
		n.logger.Debug("Handshake send failed", "addr", addr, "error", err)
		_ = sess.Close()
		return
	}

	msg, err := sess.Receive(hsCtx)
	if err != nil {
		n.logger.Debug("Handshake receive failed", "addr", addr, "error", err)
		_ = sess.Close()
		return
	}
	hello, ok := msg.(*protocol.Hello)
	if !ok {
		n.logger.Debug("First message was not Hello", "addr", addr, "type", msg.Type().String())
		_ = sess.Close()
		return
	}
	if err := validateHello(hello); err != nil {
		n.logger.Debug("Rejecting handshake", "addr", addr, "error", err)
		_ = sess.Close()
		return
	}
	if want != "" && hello.NodeID != want {
		n.logger.Debug("Peer identity mismatch", "addr", addr, "want", want.Short(), "got", hello.NodeID.Short())
		_ = sess.Close()
		return
	}

	n.offerSession(ctx, sessionReady{
		sess:     sess,
		id:       hello.NodeID,
		pub:      hello.PublicKey,
		nick:     hello.Nick,
		addr:     addr,
		explicit: explicit,
	})
}

func (n *Node) offerSession(ctx context.Context, r sessionReady) {
	select {
	case n.ready <- r:
	case <-ctx.Done():
		_ = r.sess.Close()
	}
}

// pingPeers sends an application-level Ping over every session's control
// stream. QUIC keep-alives only prove the transport is alive; the Ping proves
// the peer process still reads the stream.
func (n *Node) pingPeers(ctx context.Context) {
	for id := range n.sessions {
		if err := n.Send(ctx, id, &protocol.Ping{}); err != nil {
			n.logger.Debug("Ping failed", "peer", id.Short(), "error", err)
		}
	}
}

// validateHello checks that the advertised id is derived from the advertised
// key. It does not prove possession of the private key: a peer can claim a
// foreign id and occupy that node's session slot, but cannot forge messages,
// since envelopes carry their own signatures.
func validateHello(h *protocol.Hello) error {
	if len(h.PublicKey) != ed25519.PublicKeySize {
		return fmt.Errorf("bad public key length %d", len(h.PublicKey))
	}
	if identity.PeerIDFromPublicKey(h.PublicKey) != h.NodeID {
		return fmt.Errorf("node id does not match public key")
	}
	return nil
}

// readPump feeds one session's messages into the event loop until the
// session dies.
func (n *Node) readPump(ctx context.Context, id identity.PeerID, sess *transport.Session) {
	for {
		msg, err := sess.Receive(ctx)
		if err != nil {
			select {
			case n.closed <- id:
			case <-ctx.Done():
			}
			return
		}
		select {
		case n.inbound <- inboundMsg{from: id, msg: msg}:
		case <-ctx.Done():
			return
		}
	}
}
