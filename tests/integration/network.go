package integration

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/rudransh-shrivastava/gossip-it/internal/config"
	"github.com/rudransh-shrivastava/gossip-it/internal/logger"
	"github.com/rudransh-shrivastava/gossip-it/internal/node"
	"github.com/rudransh-shrivastava/gossip-it/internal/router"
)

// Network is a multicast-free harness: discovery stays off and nodes are
// wired through explicit connect addresses instead of LAN beacons.
type Network struct {
	nodes  []*TestNode
	ctx    context.Context
	cancel context.CancelFunc
	t      *testing.T
}

type TestNode struct {
	*node.Node
	Deliveries chan router.Delivery

	input  *io.PipeWriter
	runErr chan error
}

func NewNetwork(t *testing.T) *Network {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	return &Network{
		ctx:    ctx,
		cancel: cancel,
		t:      t,
	}
}

// NewNode starts a node that connects out to the given addresses. A short
// heartbeat keeps mesh formation fast enough for test timeouts.
func (n *Network) NewNode(connectAddrs ...string) *TestNode {
	n.t.Helper()

	cfg := config.Default()
	cfg.Discovery.Enabled = false
	cfg.HeartbeatInterval = config.Duration(100 * time.Millisecond)

	pr, pw := io.Pipe()
	deliveries := make(chan router.Delivery, 64)

	nd, err := node.New(node.Options{
		Config:       cfg,
		Logger:       logger.NewLogger(),
		ConnectAddrs: connectAddrs,
		Input:        pr,
		Output:       io.Discard,
		OnDelivery: func(d router.Delivery) {
			deliveries <- d
		},
	})
	if err != nil {
		n.t.Fatalf("Failed to create node: %v", err)
	}

	tn := &TestNode{
		Node:       nd,
		Deliveries: deliveries,
		input:      pw,
		runErr:     make(chan error, 1),
	}
	go func() {
		tn.runErr <- nd.Run(n.ctx)
	}()

	n.nodes = append(n.nodes, tn)
	return tn
}

func (n *Network) Context() context.Context {
	return n.ctx
}

func (n *Network) Close() {
	n.cancel()
	for _, tn := range n.nodes {
		_ = tn.input.Close()
		select {
		case <-tn.runErr:
		case <-time.After(2 * time.Second):
			n.t.Error("Node did not stop in time")
		}
	}
}

// Say feeds one line into the node as if typed on stdin.
func (tn *TestNode) Say(line string) {
	_, _ = tn.input.Write([]byte(line + "\n"))
}

func waitDelivery(t *testing.T, tn *TestNode, timeout time.Duration) router.Delivery {
	t.Helper()
	select {
	case d := <-tn.Deliveries:
		return d
	case <-time.After(timeout):
		t.Fatal("Timeout waiting for delivery")
		return router.Delivery{}
	}
}

func assertNoDelivery(t *testing.T, tn *TestNode, wait time.Duration) {
	t.Helper()
	select {
	case d := <-tn.Deliveries:
		t.Fatalf("Unexpected delivery %q from %s", d.Payload, d.Sender.Short())
	case <-time.After(wait):
	}
}

// settle gives handshakes, subscription exchange, and the first heartbeats
// time to complete before publishing.
func settle() {
	time.Sleep(500 * time.Millisecond)
}
