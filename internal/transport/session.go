package transport

import (
	"context"
	"io"
	"sync"

	"github.com/quic-go/quic-go"
	"github.com/rudransh-shrivastava/gossip-it/internal/protocol"
)

// Session is one authenticated connection to a peer. The control stream is
// opened lazily: the dialing side opens it on first Send, the accepting side
// adopts it on first Receive.
type Session struct {
	codec   *protocol.Codec
	conn    *quic.Conn
	control *quic.Stream
	mu      sync.Mutex
}

func NewSession(conn *quic.Conn) *Session {
	return &Session{
		codec: protocol.NewCodec(),
		conn:  conn,
	}
}

func (s *Session) RemoteAddr() string {
	return s.conn.RemoteAddr().String()
}

func (s *Session) Send(ctx context.Context, msg protocol.Message) error {
	stream, err := s.getControlStream(ctx)
	if err != nil {
		return err
	}
	return s.codec.Encode(stream, msg)
}

func (s *Session) Receive(ctx context.Context) (protocol.Message, error) {
	stream, err := s.acceptControlStream(ctx)
	if err != nil {
		return nil, err
	}
	return s.codec.Decode(stream)
}

// OpenStream opens an extra logical stream on the session, e.g. for a bulk
// protocol multiplexed beside gossip control.
func (s *Session) OpenStream(ctx context.Context) (io.ReadWriteCloser, error) {
	return s.conn.OpenStreamSync(ctx)
}

func (s *Session) AcceptStream(ctx context.Context) (io.ReadWriteCloser, error) {
	return s.conn.AcceptStream(ctx)
}

// Close tears down the session. In-flight reads and writes on this session
// fail; other sessions are unaffected.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.control != nil {
		_ = s.control.Close()
	}
	s.mu.Unlock()
	return s.conn.CloseWithError(0, "")
}

func (s *Session) getControlStream(ctx context.Context) (*quic.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.control != nil {
		return s.control, nil
	}

	stream, err := s.conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, err
	}
	s.control = stream
	return stream, nil
}

func (s *Session) acceptControlStream(ctx context.Context) (*quic.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.control != nil {
		return s.control, nil
	}

	stream, err := s.conn.AcceptStream(ctx)
	if err != nil {
		return nil, err
	}
	s.control = stream
	return stream, nil
}
