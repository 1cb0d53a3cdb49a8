package dnssd

import (
	"encoding/binary"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/miekg/dns"

	"github.com/weft-protocol/weft-go/pkg/dnsname"
	"github.com/weft-protocol/weft-go/pkg/log"
	"github.com/weft-protocol/weft-go/pkg/srp"
)

// PacketConn is the narrow UDP send surface the responder writes
// responses to. Received datagrams are fed in through HandlePacket.
type PacketConn interface {
	WriteTo(b []byte, to netip.AddrPort) error
}

// Server answers DNS-SD queries from an SRP server's registration table.
type Server struct {
	mu sync.RWMutex

	cfg    Config
	logger log.Logger

	registry *srp.Server

	running bool
	conn    PacketConn

	subscribe   func(name string)
	unsubscribe func(name string)

	queries    []*queryTransaction
	queryTimer *time.Timer

	// timeNow returns the current time. Defaults to time.Now.
	// Replaced in tests for deterministic behavior.
	timeNow func() time.Time
}

// NewServer creates a responder answering from the given registration
// server's table.
func NewServer(cfg Config, registry *srp.Server) (*Server, error) {
	if registry == nil {
		return nil, fmt.Errorf("%w: nil registration server", ErrInvalidArgs)
	}
	if cfg.Domain == "" {
		cfg.Domain = registry.Domain()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Domain = dns.Fqdn(cfg.Domain)
	logger := cfg.Logger
	if logger == nil {
		logger = log.NoopLogger{}
	}
	return &Server{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		timeNow:  time.Now,
	}, nil
}

// Domain returns the browsing domain in fully qualified form.
func (s *Server) Domain() string {
	return s.cfg.Domain
}

// Start begins answering queries on the given connection.
func (s *Server) Start(conn PacketConn) error {
	if conn == nil {
		return fmt.Errorf("%w: nil connection", ErrInvalidArgs)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("%w: already running", ErrInvalidState)
	}
	s.conn = conn
	s.running = true
	return nil
}

// Stop stops the responder. Parked queries are dropped without a
// response and their subscriptions released.
func (s *Server) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.conn = nil
	parked := s.queries
	s.queries = nil
	if s.queryTimer != nil {
		s.queryTimer.Stop()
		s.queryTimer = nil
	}
	unsubscribe := s.unsubscribe
	s.mu.Unlock()

	if unsubscribe != nil {
		for _, q := range parked {
			unsubscribe(q.name)
		}
	}
}

// SetQueryCallbacks installs the discovery callbacks. The responder
// calls subscribe when it parks a query the table cannot answer and
// unsubscribe when that query is answered, times out or is dropped.
// Callbacks are invoked without the server lock held. Without a
// subscribe callback unanswerable queries draw NXDOMAIN immediately.
func (s *Server) SetQueryCallbacks(subscribe, unsubscribe func(name string)) {
	s.mu.Lock()
	s.subscribe = subscribe
	s.unsubscribe = unsubscribe
	s.mu.Unlock()
}

// HandlePacket processes one received datagram. Malformed datagrams
// that still look like standard queries draw a header-only FORMERR;
// everything else unreadable is dropped silently.
func (s *Server) HandlePacket(raw []byte, from netip.AddrPort) {
	s.mu.RLock()
	running := s.running
	s.mu.RUnlock()
	if !running {
		return
	}

	req := new(dns.Msg)
	if err := req.Unpack(raw); err != nil {
		if looksLikeQuery(raw) {
			s.sendHeaderOnly(binary.BigEndian.Uint16(raw[0:2]), from, dns.RcodeFormatError, uuid.Nil)
		}
		return
	}
	if req.Response {
		return
	}

	trace := uuid.New()
	s.logQueryReceived(req, from, trace)

	if req.Opcode != dns.OpcodeQuery {
		s.sendHeaderOnly(req.Id, from, dns.RcodeNotImplemented, trace)
		return
	}
	if req.Truncated || len(req.Question) == 0 {
		s.sendHeaderOnly(req.Id, from, dns.RcodeFormatError, trace)
		return
	}

	resp := newResponse(req)
	if rcode := s.checkQuestions(req); rcode != dns.RcodeSuccess {
		resp.Rcode = rcode
		s.send(resp, from, trace)
		return
	}

	for _, q := range req.Question {
		s.resolveQuestion(q, resp, true, additionalFlags{})
	}
	if len(resp.Answer) > 0 {
		extra := additionalTypes(req)
		for _, q := range req.Question {
			s.resolveQuestion(q, resp, false, extra)
		}
		s.send(resp, from, trace)
		return
	}

	if s.parkQuery(req, resp, from, trace) {
		return
	}
	resp.Rcode = dns.RcodeNameError
	s.send(resp, from, trace)
}

// looksLikeQuery reports whether a datagram too malformed to unpack
// still carries a standard-query header worth a FORMERR reply.
func looksLikeQuery(raw []byte) bool {
	return len(raw) >= 12 && raw[2]&0x80 == 0 && int(raw[2]>>3)&0xf == dns.OpcodeQuery
}

// checkQuestions validates the question types and names. Unsupported
// types draw NOTIMPL; names outside the domain, unparseable names and
// name kinds that cannot carry the queried type draw NXDOMAIN.
func (s *Server) checkQuestions(req *dns.Msg) int {
	for _, q := range req.Question {
		var want dnsname.Kind
		switch q.Qtype {
		case dns.TypePTR:
			want = dnsname.KindService
		case dns.TypeSRV, dns.TypeTXT:
			want = dnsname.KindInstance
		case dns.TypeAAAA:
			want = dnsname.KindHost
		default:
			return dns.RcodeNotImplemented
		}
		comp, err := dnsname.Parse(q.Name, s.cfg.Domain)
		if err != nil || comp.Kind != want {
			return dns.RcodeNameError
		}
	}
	return dns.RcodeSuccess
}

// additionalFlags marks which record types still belong in the
// additional section. A type the query asks for explicitly is answered
// in the answer section and not repeated.
type additionalFlags struct {
	srv  bool
	txt  bool
	aaaa bool
}

func additionalTypes(req *dns.Msg) additionalFlags {
	f := additionalFlags{srv: true, txt: true, aaaa: true}
	for _, q := range req.Question {
		switch q.Qtype {
		case dns.TypeSRV:
			f.srv = false
		case dns.TypeTXT:
			f.txt = false
		case dns.TypeAAAA:
			f.aaaa = false
		}
	}
	return f
}

// resolveQuestion walks the registration table for one question. In
// answer mode matching records join the answer section. In additional
// mode the flagged record types of instances matched by a PTR question
// join the additional section, and the host addresses of every matched
// instance ride along.
func (s *Server) resolveQuestion(q dns.Question, resp *dns.Msg, answer bool, extra additionalFlags) {
	now := s.timeNow()
	for host := s.nextHost(nil); host != nil; host = s.nextHost(host) {
		hostName := host.FullName()
		wantAddresses := false

		if q.Qtype != dns.TypeAAAA {
			for _, svc := range host.Services() {
				if svc.IsDeleted() {
					continue
				}
				instanceName := svc.FullName()
				ttl := remainingTTL(svc.LeaseExpireTime(), now)
				ptrMatch := q.Qtype == dns.TypePTR && dnsname.Equal(svc.ServiceName(), q.Name)
				srvMatch := q.Qtype == dns.TypeSRV && dnsname.Equal(instanceName, q.Name)
				txtMatch := q.Qtype == dns.TypeTXT && dnsname.Equal(instanceName, q.Name)

				if ptrMatch || srvMatch {
					wantAddresses = true
				}
				if answer && ptrMatch {
					resp.Answer = append(resp.Answer, ptrRecord(q.Name, instanceName, ttl))
				}
				if (answer && srvMatch) || (!answer && extra.srv && ptrMatch) {
					appendRecord(resp, srvRecord(instanceName, hostName, svc.Priority(), svc.Weight(), svc.Port(), ttl), answer)
				}
				if (answer && txtMatch) || (!answer && extra.txt && ptrMatch) {
					appendRecord(resp, txtRecord(instanceName, svc.TxtData(), ttl), answer)
				}
			}
		}

		aaaaAnswer := answer && q.Qtype == dns.TypeAAAA && dnsname.Equal(hostName, q.Name)
		if aaaaAnswer || (!answer && extra.aaaa && wantAddresses) {
			ttl := remainingTTL(host.LeaseExpireTime(), now)
			for _, addr := range host.Addresses() {
				appendRecord(resp, aaaaRecord(hostName, addr, ttl), aaaaAnswer)
			}
		}
	}
}

// nextHost walks the registry's hosts, skipping deleted entries.
func (s *Server) nextHost(prev *srp.Host) *srp.Host {
	host := s.registry.NextHost(prev)
	for host != nil && host.IsDeleted() {
		host = s.registry.NextHost(host)
	}
	return host
}

// newResponse starts a response echoing the query's questions.
func newResponse(req *dns.Msg) *dns.Msg {
	resp := new(dns.Msg)
	resp.Id = req.Id
	resp.Response = true
	resp.Opcode = req.Opcode
	resp.Compress = true
	resp.Question = append([]dns.Question(nil), req.Question...)
	return resp
}

func (s *Server) sendHeaderOnly(id uint16, to netip.AddrPort, rcode int, trace uuid.UUID) {
	resp := new(dns.Msg)
	resp.Id = id
	resp.Response = true
	resp.Rcode = rcode
	s.send(resp, to, trace)
}

func (s *Server) send(resp *dns.Msg, to netip.AddrPort, trace uuid.UUID) {
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn == nil {
		return
	}
	wire, err := resp.Pack()
	if err != nil {
		// Fall back to a header-only server failure.
		s.logServerError(trace, "failed to pack response", err)
		fail := new(dns.Msg)
		fail.Id = resp.Id
		fail.Response = true
		fail.Rcode = dns.RcodeServerFailure
		resp = fail
		if wire, err = resp.Pack(); err != nil {
			return
		}
	}
	if err := conn.WriteTo(wire, to); err != nil {
		s.logServerError(trace, "failed to send response", err)
		return
	}
	s.logResponseSent(resp, to, trace)
}

func (s *Server) logQueryReceived(req *dns.Msg, from netip.AddrPort, trace uuid.UUID) {
	ev := &log.DNSEvent{
		MessageID: req.Id,
		Opcode:    req.Opcode,
	}
	if len(req.Question) > 0 {
		ev.QName = req.Question[0].Name
		qtype := req.Question[0].Qtype
		ev.QType = &qtype
	}
	s.logger.Log(log.Event{
		Timestamp:  s.timeNow(),
		TraceID:    trace.String(),
		Direction:  log.DirectionIn,
		Layer:      log.LayerDNSSD,
		Category:   log.CategoryMessage,
		RemoteAddr: from.String(),
		DNS:        ev,
	})
}

func (s *Server) logResponseSent(resp *dns.Msg, to netip.AddrPort, trace uuid.UUID) {
	rcode := resp.Rcode
	answers := len(resp.Answer)
	event := log.Event{
		Timestamp:  s.timeNow(),
		Direction:  log.DirectionOut,
		Layer:      log.LayerDNSSD,
		Category:   log.CategoryMessage,
		RemoteAddr: to.String(),
		DNS: &log.DNSEvent{
			MessageID:   resp.Id,
			Opcode:      resp.Opcode,
			Rcode:       &rcode,
			AnswerCount: &answers,
		},
	}
	if len(resp.Question) > 0 {
		event.DNS.QName = resp.Question[0].Name
	}
	if trace != uuid.Nil {
		event.TraceID = trace.String()
	}
	s.logger.Log(event)
}

func (s *Server) logServerError(trace uuid.UUID, msg string, err error) {
	event := log.Event{
		Timestamp: s.timeNow(),
		Layer:     log.LayerDNSSD,
		Category:  log.CategoryError,
		Error: &log.ErrorEventData{
			Layer:   log.LayerDNSSD,
			Message: fmt.Sprintf("%s: %v", msg, err),
		},
	}
	if trace != uuid.Nil {
		event.TraceID = trace.String()
	}
	s.logger.Log(event)
}
