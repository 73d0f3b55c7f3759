// Package node wires the gossip core together: identity, transport,
// registry, discovery, router, and history, all driven by a single event
// loop. Every mutable core structure (meshes, seen-cache, registry) is
// touched only from that loop goroutine; concurrency exists only at the I/O
// boundary (per-session read pumps, discovery sockets, stdin).
package node

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"

	"github.com/rudransh-shrivastava/gossip-it/internal/config"
	"github.com/rudransh-shrivastava/gossip-it/internal/dedup"
	"github.com/rudransh-shrivastava/gossip-it/internal/discovery"
	"github.com/rudransh-shrivastava/gossip-it/internal/history"
	"github.com/rudransh-shrivastava/gossip-it/internal/identity"
	"github.com/rudransh-shrivastava/gossip-it/internal/protocol"
	"github.com/rudransh-shrivastava/gossip-it/internal/registry"
	"github.com/rudransh-shrivastava/gossip-it/internal/router"
	"github.com/rudransh-shrivastava/gossip-it/internal/transport"
)

type Options struct {
	Config config.Config
	Logger *slog.Logger

	// Identity is generated when nil.
	Identity *identity.Identity

	// ConnectAddrs are peers dialed directly at startup, kept as explicit
	// peers. Used to bootstrap beyond multicast reach.
	ConnectAddrs []string

	// Input and Output default to stdin/stdout.
	Input  io.Reader
	Output io.Writer

	// OnDelivery, when set, observes every delivered message in addition to
	// the normal chat output. Used by the integration harness.
	OnDelivery func(router.Delivery)
}

type sessionReady struct {
	sess     *transport.Session
	id       identity.PeerID
	pub      []byte
	nick     string
	addr     string
	explicit bool
}

type inboundMsg struct {
	from identity.PeerID
	msg  protocol.Message
}

type Node struct {
	config config.Config
	logger *slog.Logger
	id     *identity.Identity

	transport *transport.Transport
	router    *router.Router
	reg       *registry.Registry
	seen      *dedup.SeenCache
	disc      *discovery.Service
	hist      *history.Store

	sessions map[identity.PeerID]*transport.Session
	nicks    map[identity.PeerID]string

	ready   chan sessionReady
	inbound chan inboundMsg
	closed  chan identity.PeerID
	lines   chan string

	connectAddrs []string
	input        io.Reader
	output       io.Writer
	onDelivery   func(router.Delivery)
}

func New(opts Options) (*Node, error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	id := opts.Identity
	if id == nil {
		var err error
		id, err = identity.Generate()
		if err != nil {
			return nil, err
		}
	}

	tr, err := transport.NewTransportWithConfig(cfg.ListenAddr, transport.Config{
		KeepAlive:   transport.DefaultKeepAlive,
		IdleTimeout: cfg.IdleTimeout.Std(),
	})
	if err != nil {
		return nil, err
	}

	n := &Node{
		config:       cfg,
		logger:       logger,
		id:           id,
		transport:    tr,
		reg:          registry.New(),
		seen:         dedup.NewSeenCache(cfg.SeenTTL.Std()),
		sessions:     make(map[identity.PeerID]*transport.Session),
		nicks:        make(map[identity.PeerID]string),
		ready:        make(chan sessionReady, 16),
		inbound:      make(chan inboundMsg, 256),
		closed:       make(chan identity.PeerID, 16),
		lines:        make(chan string, 16),
		connectAddrs: opts.ConnectAddrs,
		input:        opts.Input,
		output:       opts.Output,
		onDelivery:   opts.OnDelivery,
	}
	if n.input == nil {
		n.input = os.Stdin
	}
	if n.output == nil {
		n.output = os.Stdout
	}

	n.router, err = router.New(router.Config{
		MeshLow:    cfg.Mesh.Low,
		MeshTarget: cfg.Mesh.Target,
		MeshHigh:   cfg.Mesh.High,
		Signer:     id,
		Keys:       n.reg,
		Seen:       n.seen,
		Sender:     n,
		Deliver:    n.deliver,
		Logger:     logger,
	})
	if err != nil {
		_ = tr.Close()
		return nil, err
	}

	if cfg.Discovery.Enabled {
		port := tr.LocalAddr().(*net.UDPAddr).Port
		n.disc, err = discovery.NewService(discovery.Config{
			Group:     cfg.Discovery.Group,
			Interval:  cfg.Discovery.Interval.Std(),
			NodeID:    id.PeerID(),
			Port:      port,
			PublicKey: id.PublicKey(),
			Logger:    logger,
		})
		if err != nil {
			_ = tr.Close()
			return nil, err
		}
	}

	if cfg.HistoryPath != "" {
		n.hist, err = history.Open(cfg.HistoryPath)
		if err != nil {
			_ = tr.Close()
			if n.disc != nil {
				_ = n.disc.Close()
			}
			return nil, fmt.Errorf("open history: %w", err)
		}
	}

	return n, nil
}

func (n *Node) ID() identity.PeerID {
	return n.id.PeerID()
}

func (n *Node) Addr() string {
	return n.transport.LocalAddr().String()
}

// deliver prints a validated message and records it. Called synchronously
// from the event loop via the router.
func (n *Node) deliver(d router.Delivery) {
	fmt.Fprintf(n.output, "<%s> %s\n", n.displayName(d.Sender), d.Payload)

	if n.hist != nil {
		if err := n.hist.Append(d.Topic, string(d.Sender), string(d.Payload)); err != nil {
			n.logger.Warn("Failed to record message", "error", err)
		}
	}
	if n.onDelivery != nil {
		n.onDelivery(d)
	}
}

func (n *Node) displayName(id identity.PeerID) string {
	if nick, ok := n.nicks[id]; ok && nick != "" {
		return nick
	}
	return id.Short()
}

func (n *Node) shutdown() {
	if n.disc != nil {
		_ = n.disc.Close()
	}
	for id, sess := range n.sessions {
		_ = sess.Close()
		delete(n.sessions, id)
	}
	_ = n.transport.Close()
	if n.hist != nil {
		_ = n.hist.Close()
	}
	n.logger.Info("Node stopped")
}
