// Package transport provides the UDP socket layer beneath the SRP server
// and DNS-SD responder: one socket per server, a read loop delivering
// datagrams to a handler, and a WriteTo surface for responses.
package transport

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/ipv6"

	"github.com/weft-protocol/weft-go/pkg/log"
)

const (
	// MaxDatagramSize is the largest datagram the read loop accepts.
	MaxDatagramSize = 65535

	// DefaultReadBufferSize is the socket receive buffer size used when
	// none is configured.
	DefaultReadBufferSize = 64 * 1024
)

// UDPConfig configures a UDPServer.
type UDPConfig struct {
	// Address to listen on (e.g., ":53535" or "[::1]:53535"). A zero
	// port picks an ephemeral one.
	Address string

	// HopLimit overrides the outgoing hop limit when positive.
	HopLimit int

	// ReadBufferSize sizes the socket receive buffer
	// (default: DefaultReadBufferSize).
	ReadBufferSize int

	// Logger for packet logging (optional).
	Logger log.Logger

	// OnPacket is called from the read loop for every received datagram.
	// The slice is owned by the callee.
	OnPacket func(pkt []byte, from netip.AddrPort)

	// OnError is called when the read loop hits a non-fatal error.
	OnError func(err error)
}

// UDPServer owns one UDP socket. Received datagrams are delivered to
// OnPacket; responses go out through WriteTo, which satisfies the
// PacketConn surface of the SRP server and the DNS-SD responder.
type UDPServer struct {
	config UDPConfig

	conn *net.UDPConn
	pc   *ipv6.PacketConn

	// State
	running atomic.Bool
	wg      sync.WaitGroup
}

// NewUDPServer creates a UDP server. The socket is not opened until
// Start.
func NewUDPServer(config UDPConfig) (*UDPServer, error) {
	if config.OnPacket == nil {
		return nil, fmt.Errorf("OnPacket handler is required")
	}
	if config.Address == "" {
		config.Address = ":0"
	}
	if config.ReadBufferSize == 0 {
		config.ReadBufferSize = DefaultReadBufferSize
	}
	return &UDPServer{config: config}, nil
}

// Start opens the socket and begins the read loop.
func (s *UDPServer) Start() error {
	if s.running.Load() {
		return fmt.Errorf("server already running")
	}

	addr, err := net.ResolveUDPAddr("udp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to resolve %q: %w", s.config.Address, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	// Best effort: a small buffer only risks drops under load.
	_ = conn.SetReadBuffer(s.config.ReadBufferSize)

	// The ipv6 wrapper carries the hop limit and per-packet interface
	// information. Both are best effort: they are unavailable on
	// IPv4-mapped sockets and on some platforms.
	pc := ipv6.NewPacketConn(conn)
	if s.config.HopLimit > 0 {
		_ = pc.SetHopLimit(s.config.HopLimit)
	}
	_ = pc.SetControlMessage(ipv6.FlagHopLimit|ipv6.FlagInterface, true)

	s.conn = conn
	s.pc = pc
	s.running.Store(true)

	s.wg.Add(1)
	go s.readLoop()

	return nil
}

// Stop closes the socket and waits for the read loop to exit.
func (s *UDPServer) Stop() error {
	if !s.running.Load() {
		return nil
	}
	s.running.Store(false)

	if s.conn != nil {
		s.conn.Close()
	}
	s.wg.Wait()
	return nil
}

// WriteTo sends one datagram to the given address.
func (s *UDPServer) WriteTo(b []byte, to netip.AddrPort) error {
	if !s.running.Load() {
		return fmt.Errorf("server not running")
	}
	n, err := s.conn.WriteToUDPAddrPort(b, to)
	if err != nil {
		return fmt.Errorf("write to %s: %w", to, err)
	}
	if n != len(b) {
		return fmt.Errorf("short write to %s: %d of %d bytes", to, n, len(b))
	}
	s.logPacket(log.DirectionOut, n, to)
	return nil
}

// LocalPort returns the bound port, zero before Start.
func (s *UDPServer) LocalPort() uint16 {
	if s.conn == nil {
		return 0
	}
	if a, ok := s.conn.LocalAddr().(*net.UDPAddr); ok {
		return uint16(a.Port)
	}
	return 0
}

// Addr returns the socket's local address, nil before Start.
func (s *UDPServer) Addr() net.Addr {
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// readLoop receives datagrams and hands them to the packet handler.
func (s *UDPServer) readLoop() {
	defer s.wg.Done()

	buf := make([]byte, MaxDatagramSize)
	for s.running.Load() {
		n, from, err := s.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			if s.running.Load() && s.config.OnError != nil {
				s.config.OnError(fmt.Errorf("read error: %w", err))
			}
			continue
		}

		from = netip.AddrPortFrom(from.Addr().Unmap(), from.Port())
		pkt := make([]byte, n)
		copy(pkt, buf[:n])

		s.logPacket(log.DirectionIn, n, from)
		s.config.OnPacket(pkt, from)
	}
}

func (s *UDPServer) logPacket(dir log.Direction, size int, remote netip.AddrPort) {
	if s.config.Logger == nil {
		return
	}
	s.config.Logger.Log(log.Event{
		Timestamp:  time.Now(),
		Direction:  dir,
		Layer:      log.LayerTransport,
		Category:   log.CategoryMessage,
		RemoteAddr: remote.String(),
		Packet:     &log.PacketEvent{Size: size},
	})
}
