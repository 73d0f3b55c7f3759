// Package discovery finds peers on the local network segment. Each node
// periodically multicasts a small beacon with its id, listen port, and
// public key, and listens for beacons from others. Peers that stop
// beaconing are reported expired after a few missed intervals.
package discovery

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/rudransh-shrivastava/gossip-it/internal/identity"
)

const (
	// DefaultGroup is the multicast group and port beacons are sent on.
	DefaultGroup = "239.41.7.53:9477"

	DefaultInterval = 15 * time.Second

	// missedIntervals is how many silent intervals expire a peer.
	missedIntervals = 3

	maxDatagram = 1024
)

type EventType int

const (
	PeerDiscovered EventType = iota
	PeerExpired
)

func (t EventType) String() string {
	switch t {
	case PeerDiscovered:
		return "discovered"
	case PeerExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Event is one element of the lazy, infinite discovery sequence.
type Event struct {
	Type      EventType
	ID        identity.PeerID
	Addrs     []string
	PublicKey []byte
}

// Beacon is the gob-encoded datagram a node multicasts about itself.
type Beacon struct {
	NodeID    identity.PeerID
	Port      int
	PublicKey []byte
}

type Config struct {
	Group     string
	Interval  time.Duration
	NodeID    identity.PeerID
	Port      int
	PublicKey []byte
	Logger    *slog.Logger
}

type Service struct {
	config   Config
	logger   *slog.Logger
	group    *net.UDPAddr
	conn     *net.UDPConn
	presence *presence
	events   chan Event

	closeOnce sync.Once
	done      chan struct{}
}

// NewService binds the multicast listener. Start must be called to begin
// announcing and reading.
func NewService(cfg Config) (*Service, error) {
	if cfg.Group == "" {
		cfg.Group = DefaultGroup
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	group, err := net.ResolveUDPAddr("udp4", cfg.Group)
	if err != nil {
		return nil, fmt.Errorf("resolve multicast group: %w", err)
	}

	conn, err := net.ListenMulticastUDP("udp4", nil, group)
	if err != nil {
		return nil, fmt.Errorf("join multicast group: %w", err)
	}
	_ = conn.SetReadBuffer(maxDatagram * 64)

	return &Service{
		config:   cfg,
		logger:   logger,
		group:    group,
		conn:     conn,
		presence: newPresence(),
		events:   make(chan Event, 64),
		done:     make(chan struct{}),
	}, nil
}

// Events returns the discovery event stream. The sequence ends only when the
// service is closed.
func (s *Service) Events() <-chan Event {
	return s.events
}

func (s *Service) Start() {
	go s.announceLoop()
	go s.readLoop()
	go s.expireLoop()
}

func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
	return nil
}

func (s *Service) announceLoop() {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.announce()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.announce()
		}
	}
}

func (s *Service) announce() {
	data, err := encodeBeacon(Beacon{
		NodeID:    s.config.NodeID,
		Port:      s.config.Port,
		PublicKey: s.config.PublicKey,
	})
	if err != nil {
		s.logger.Error("Failed to encode beacon", "error", err)
		return
	}

	if _, err := s.conn.WriteToUDP(data, s.group); err != nil {
		// Multicast send failures degrade discovery, never the node.
		s.logger.Debug("Failed to send beacon", "error", err)
	}
}

func (s *Service) readLoop() {
	buf := make([]byte, maxDatagram)
	for {
		n, src, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				continue
			}
			s.logger.Debug("Discovery read error", "error", err)
			continue
		}

		beacon, err := decodeBeacon(buf[:n])
		if err != nil {
			s.logger.Debug("Ignoring malformed beacon", "from", src.String(), "error", err)
			continue
		}
		if beacon.NodeID == s.config.NodeID {
			continue
		}

		if s.presence.touch(beacon.NodeID) {
			addr := net.JoinHostPort(src.IP.String(), strconv.Itoa(beacon.Port))
			s.emit(Event{
				Type:      PeerDiscovered,
				ID:        beacon.NodeID,
				Addrs:     []string{addr},
				PublicKey: beacon.PublicKey,
			})
		}
	}
}

func (s *Service) expireLoop() {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			for _, id := range s.presence.expire(time.Duration(missedIntervals) * s.config.Interval) {
				s.emit(Event{Type: PeerExpired, ID: id})
			}
		}
	}
}

func (s *Service) emit(ev Event) {
	select {
	case s.events <- ev:
	case <-s.done:
	default:
		s.logger.Warn("Discovery event dropped, consumer too slow", "type", ev.Type.String(), "peer", ev.ID.Short())
	}
}

func encodeBeacon(b Beacon) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&b); err != nil {
		return nil, err
	}
	if buf.Len() > maxDatagram {
		return nil, fmt.Errorf("beacon too large: %d bytes", buf.Len())
	}
	return buf.Bytes(), nil
}

func decodeBeacon(data []byte) (Beacon, error) {
	var b Beacon
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&b); err != nil {
		return Beacon{}, err
	}
	if b.NodeID == "" {
		return Beacon{}, errors.New("beacon missing node id")
	}
	if b.Port <= 0 || b.Port > 65535 {
		return Beacon{}, fmt.Errorf("beacon has invalid port %d", b.Port)
	}
	return b, nil
}
