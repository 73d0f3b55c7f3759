package node

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rudransh-shrivastava/gossip-it/internal/discovery"
	"github.com/rudransh-shrivastava/gossip-it/internal/identity"
	"github.com/rudransh-shrivastava/gossip-it/internal/protocol"
	"github.com/rudransh-shrivastava/gossip-it/internal/router"
)

// Run starts the node and blocks in the event loop until ctx is cancelled.
// The loop processes one ready event per iteration, which serializes every
// state transition and keeps the core structures lock-free.
func (n *Node) Run(ctx context.Context) error {
	n.logger.Info("Node listening", "addr", n.Addr(), "peer", n.id.PeerID().Short())
	fmt.Fprintf(n.output, "listening on %s as %s\n", n.Addr(), n.id.PeerID())

	go n.acceptLoop(ctx)
	go n.readLines(ctx)

	var discoveryEvents <-chan discovery.Event
	if n.disc != nil {
		n.disc.Start()
		discoveryEvents = n.disc.Events()
	}

	n.router.Subscribe(ctx, n.config.Topic)

	for _, addr := range n.connectAddrs {
		go n.dialPeer(ctx, addr, true, "")
	}

	heartbeat := time.NewTicker(n.config.HeartbeatInterval.Std())
	defer heartbeat.Stop()
	sweep := time.NewTicker(n.config.SeenTTL.Std())
	defer sweep.Stop()

	lines := n.lines
	for {
		select {
		case <-ctx.Done():
			n.shutdown()
			return nil

		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			n.handleLine(ctx, line)

		case ev := <-discoveryEvents:
			n.handleDiscoveryEvent(ctx, ev)

		case r := <-n.ready:
			n.handleSessionReady(ctx, r)

		case im := <-n.inbound:
			n.handleInbound(ctx, im)

		case id := <-n.closed:
			n.handleSessionClosed(id)

		case <-heartbeat.C:
			n.router.Heartbeat(ctx)
			n.pingPeers(ctx)

		case <-sweep.C:
			n.seen.Sweep()
		}
	}
}

// readLines publishes one message per newline-terminated stdin line. Empty
// lines are not filtered.
func (n *Node) readLines(ctx context.Context) {
	scanner := bufio.NewScanner(n.input)
	scanner.Buffer(make([]byte, 4096), protocol.MaxPayloadSize)
	for scanner.Scan() {
		select {
		case n.lines <- scanner.Text():
		case <-ctx.Done():
			return
		}
	}
	close(n.lines)
}

func (n *Node) handleLine(ctx context.Context, line string) {
	_, err := n.router.Publish(ctx, n.config.Topic, []byte(line))
	switch {
	case errors.Is(err, router.ErrDuplicateMessage):
		n.logger.Info("Duplicate message suppressed", "topic", n.config.Topic)
		return
	case errors.Is(err, router.ErrNoMeshPeers):
		n.logger.Warn("No peers to send to", "topic", n.config.Topic)
	case err != nil:
		n.logger.Warn("Publish failed", "topic", n.config.Topic, "error", err)
		return
	}

	if n.hist != nil {
		if err := n.hist.Append(n.config.Topic, string(n.id.PeerID()), line); err != nil {
			n.logger.Warn("Failed to record message", "error", err)
		}
	}
}

func (n *Node) handleDiscoveryEvent(ctx context.Context, ev discovery.Event) {
	switch ev.Type {
	case discovery.PeerDiscovered:
		n.logger.Info("Discovered peer", "peer", ev.ID.Short(), "addrs", ev.Addrs)
		n.reg.Upsert(ev.ID, ev.Addrs, ev.PublicKey)
		n.reg.SetExplicit(ev.ID)

		if _, connected := n.sessions[ev.ID]; connected {
			n.router.SetExplicit(ctx, ev.ID, true)
			return
		}
		// Both sides see each other; the lower PeerID dials so only one
		// session comes up.
		if n.id.PeerID() < ev.ID && len(ev.Addrs) > 0 {
			go n.dialPeer(ctx, ev.Addrs[0], false, ev.ID)
		}

	case discovery.PeerExpired:
		n.logger.Info("Peer expired", "peer", ev.ID.Short())
		n.reg.ClearExplicit(ev.ID)
		n.router.SetExplicit(ctx, ev.ID, false)
		if _, connected := n.sessions[ev.ID]; connected {
			// QUIC keep-alives would hold the connection open forever, so
			// an expired peer's session is torn down, not left to idle out.
			n.handleSessionClosed(ev.ID)
			return
		}
		n.reg.Remove(ev.ID)
	}
}

func (n *Node) handleSessionReady(ctx context.Context, r sessionReady) {
	if r.id == n.id.PeerID() {
		_ = r.sess.Close()
		return
	}
	if _, exists := n.sessions[r.id]; exists {
		// Simultaneous connect; keep the session we already have.
		n.logger.Debug("Dropping duplicate session", "peer", r.id.Short())
		_ = r.sess.Close()
		return
	}

	n.sessions[r.id] = r.sess
	if r.nick != "" {
		n.nicks[r.id] = r.nick
	}

	entry := n.reg.Upsert(r.id, []string{r.addr}, r.pub)
	if r.explicit {
		entry.Explicit = true
	}
	n.router.AddPeer(ctx, r.id, entry.Explicit)

	n.logger.Info("Peer connected", "peer", r.id.Short(), "addr", r.addr)
	go n.readPump(ctx, r.id, r.sess)
}

func (n *Node) handleInbound(ctx context.Context, im inboundMsg) {
	switch m := im.msg.(type) {
	case *protocol.Ping:
		if err := n.Send(ctx, im.from, &protocol.Pong{}); err != nil {
			n.logger.Debug("Failed to send Pong", "peer", im.from.Short(), "error", err)
		}
	case *protocol.Pong, *protocol.Hello:
		// Pong needs no action; a second Hello is harmless noise.
	case *protocol.Error:
		n.logger.Warn("Peer reported error", "peer", im.from.Short(), "code", m.Code.String(), "message", m.Message)
	default:
		n.router.HandleMessage(ctx, im.from, im.msg)
	}
}

func (n *Node) handleSessionClosed(id identity.PeerID) {
	sess, ok := n.sessions[id]
	if !ok {
		return
	}
	_ = sess.Close()
	delete(n.sessions, id)
	n.router.RemovePeer(id)

	if e, ok := n.reg.Get(id); ok && !e.Explicit {
		n.reg.Remove(id)
	}
	n.logger.Info("Peer disconnected", "peer", id.Short())
}
