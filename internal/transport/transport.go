// Package transport owns the encrypted, multiplexed connections between
// peers. Each Session wraps one QUIC connection carrying a control stream of
// gob-framed protocol messages.
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"

	"github.com/quic-go/quic-go"
)

type Transport struct {
	listener *quic.Listener
	tlsConf  *tls.Config
	quicConf *quic.Config
}

// NewTransport binds a QUIC listener on addr. Use ":0" for an OS-assigned
// port on all interfaces.
func NewTransport(addr string) (*Transport, error) {
	return NewTransportWithConfig(addr, DefaultConfig())
}

func NewTransportWithConfig(addr string, cfg Config) (*Transport, error) {
	tlsConf, err := DefaultTLSConfig()
	if err != nil {
		return nil, fmt.Errorf("build tls config: %w", err)
	}

	quicConf := cfg.quicConfig()
	listener, err := quic.ListenAddr(addr, tlsConf, quicConf)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	return &Transport{
		listener: listener,
		tlsConf:  tlsConf,
		quicConf: quicConf,
	}, nil
}

func (t *Transport) LocalAddr() net.Addr {
	return t.listener.Addr()
}

// Dial opens an outbound session to addr.
func (t *Transport) Dial(ctx context.Context, addr string) (*Session, error) {
	conn, err := quic.DialAddr(ctx, addr, t.tlsConf, t.quicConf)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return NewSession(conn), nil
}

// Accept waits for the next inbound session.
func (t *Transport) Accept(ctx context.Context) (*Session, error) {
	conn, err := t.listener.Accept(ctx)
	if err != nil {
		return nil, err
	}
	return NewSession(conn), nil
}

func (t *Transport) Close() error {
	return t.listener.Close()
}
