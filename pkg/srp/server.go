package srp

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
	"github.com/weft-protocol/weft-go/pkg/netdata"
)

// srpServiceNumber identifies the SRP server entry in network data.
const srpServiceNumber = 0x5d

// State represents the server lifecycle state.
type State uint8

const (
	// StateStopped indicates the server is not serving.
	StateStopped State = iota

	// StateRunning indicates the server is serving updates.
	StateRunning
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "STOPPED"
	case StateRunning:
		return "RUNNING"
	default:
		return "UNKNOWN"
	}
}

// PacketConn is the narrow UDP send surface the server writes responses
// to. Received datagrams are fed in through HandlePacket.
type PacketConn interface {
	WriteTo(b []byte, to netip.AddrPort) error
}

// AdvertisingUpdate is handed to the advertising handler for
// confirmation before an update commits.
type AdvertisingUpdate struct {
	// ID identifies the update for logging and correlation.
	ID uuid.UUID

	// Host is the staged host carrying the requested changes. Services
	// flagged deleted mark removals.
	Host *Host

	// Timeout is how long the server waits before rejecting the update.
	Timeout time.Duration
}

// AdvertisingHandler gates SRP commits. The handler must eventually call
// HandleAdvertisingResult with the update's host; until then the client
// receives no response.
type AdvertisingHandler func(update AdvertisingUpdate)

// outstandingUpdate is a validated update parked until the advertising
// handler confirms it or the advertising timeout fires.
type outstandingUpdate struct {
	id       uuid.UUID
	update   *updateMessage
	expireAt time.Time
}

type stateChange struct {
	entity   log.StateEntity
	name     string
	oldState string
	newState string
	reason   string
}

// Server is the SRP registration server. It validates signed DNS UPDATE
// messages, maintains the registered hosts and services, and expires
// them when their leases end.
type Server struct {
	mu sync.RWMutex

	cfg    Config
	logger log.Logger

	state   State
	enabled bool

	conn PacketConn
	port uint16

	minLease    uint32
	maxLease    uint32
	minKeyLease uint32
	maxKeyLease uint32

	hosts       []*Host
	outstanding []*outstandingUpdate

	advertisingHandler AdvertisingHandler

	leaseTimer       *time.Timer
	outstandingTimer *time.Timer

	// timeNow returns the current time. Defaults to time.Now.
	// Replaced in tests for deterministic behavior.
	timeNow func() time.Time
}

// NewServer creates an SRP server with the given configuration.
func NewServer(cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Domain = dns.Fqdn(cfg.Domain)
	logger := cfg.Logger
	if logger == nil {
		logger = log.NoopLogger{}
	}
	return &Server{
		cfg:         cfg,
		logger:      logger,
		enabled:     true,
		minLease:    cfg.MinLease,
		maxLease:    cfg.MaxLease,
		minKeyLease: cfg.MinKeyLease,
		maxKeyLease: cfg.MaxKeyLease,
		timeNow:     time.Now,
	}, nil
}

// Domain returns the registration domain in fully qualified form.
func (s *Server) Domain() string {
	return s.cfg.Domain
}

// Start begins serving on the given connection. The port is the UDP port
// peers reach the server on; it is published into network data when a
// registry is configured. If the server is disabled the connection is
// recorded and serving starts on the next SetEnabled(true).
func (s *Server) Start(conn PacketConn, port uint16) error {
	if conn == nil {
		return fmt.Errorf("%w: nil connection", ErrInvalidArgs)
	}

	s.mu.Lock()
	if s.state == StateRunning {
		s.mu.Unlock()
		return fmt.Errorf("%w: already running", ErrInvalidState)
	}
	s.conn = conn
	s.port = port
	enabled := s.enabled
	s.mu.Unlock()

	if !enabled {
		return nil
	}
	return s.start()
}

// Stop stops the server, flushing all hosts and outstanding updates,
// stopping both timers and withdrawing the network data registration.
func (s *Server) Stop() {
	s.stop(false)
}

func (s *Server) start() error {
	s.mu.Lock()
	if s.state == StateRunning {
		s.mu.Unlock()
		return fmt.Errorf("%w: already running", ErrInvalidState)
	}
	if s.conn == nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: no connection", ErrInvalidState)
	}
	s.state = StateRunning
	port := s.port
	s.mu.Unlock()

	s.publishServerData(port)
	s.logServerState(StateStopped, StateRunning, "started")
	return nil
}

// stop tears the server down. With keepConn the connection stays
// recorded so that SetEnabled(true) can resume serving.
func (s *Server) stop(keepConn bool) {
	s.mu.Lock()
	if !keepConn {
		s.conn = nil
	}
	if s.state != StateRunning {
		s.mu.Unlock()
		return
	}
	s.state = StateStopped
	s.hosts = nil
	s.outstanding = nil
	if s.leaseTimer != nil {
		s.leaseTimer.Stop()
		s.leaseTimer = nil
	}
	if s.outstandingTimer != nil {
		s.outstandingTimer.Stop()
		s.outstandingTimer = nil
	}
	s.mu.Unlock()

	s.unpublishServerData()
	s.logServerState(StateRunning, StateStopped, "stopped")
}

// SetEnabled enables or disables the server. Disabling stops serving and
// flushes all registrations; enabling resumes serving when a connection
// has been configured.
func (s *Server) SetEnabled(enabled bool) {
	s.mu.Lock()
	if s.enabled == enabled {
		s.mu.Unlock()
		return
	}
	s.enabled = enabled
	hasConn := s.conn != nil
	s.mu.Unlock()

	if !enabled {
		s.stop(true)
	} else if hasConn {
		_ = s.start()
	}
}

// Enabled reports whether the server is administratively enabled.
func (s *Server) Enabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.enabled
}

// State returns the current lifecycle state.
func (s *Server) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Port returns the UDP port the server was started with.
func (s *Server) Port() uint16 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.port
}

// SetLeaseRange reconfigures the granted lease bounds.
func (s *Server) SetLeaseRange(minLease, maxLease, minKeyLease, maxKeyLease uint32) error {
	if err := validateLeaseRange(minLease, maxLease, minKeyLease, maxKeyLease); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.minLease, s.maxLease = minLease, maxLease
	s.minKeyLease, s.maxKeyLease = minKeyLease, maxKeyLease
	return nil
}

// LeaseRange returns the configured lease bounds.
func (s *Server) LeaseRange() (minLease, maxLease, minKeyLease, maxKeyLease uint32) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.minLease, s.maxLease, s.minKeyLease, s.maxKeyLease
}

// SetAdvertisingHandler registers the handler that must confirm each
// update before it commits. Pass nil to commit updates immediately.
func (s *Server) SetAdvertisingHandler(handler AdvertisingHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advertisingHandler = handler
}

// NextHost iterates the registered hosts. Pass nil for the first host
// and the previous return value to continue; returns nil at the end.
func (s *Server) NextHost(prev *Host) *Host {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if prev == nil {
		if len(s.hosts) == 0 {
			return nil
		}
		return s.hosts[0]
	}
	for i, host := range s.hosts {
		if host == prev && i+1 < len(s.hosts) {
			return s.hosts[i+1]
		}
	}
	return nil
}

// Hosts returns all registered hosts, including deleted ones retained
// under their key leases.
func (s *Server) Hosts() []*Host {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*Host(nil), s.hosts...)
}

// HandlePacket processes one datagram received on the server's port.
func (s *Server) HandlePacket(raw []byte, from netip.AddrPort) {
	s.mu.RLock()
	running := s.state == StateRunning
	s.mu.RUnlock()
	if !running {
		return
	}

	msg := new(dns.Msg)
	if err := msg.Unpack(raw); err != nil {
		// Reply FORMERR only if the header marks this as an update
		// request; everything else is not for us.
		if len(raw) >= 12 && raw[2]&0x80 == 0 && int(raw[2]>>3)&0xf == dns.OpcodeUpdate {
			s.sendRawFormatError(raw, from)
		}
		return
	}
	if msg.Opcode != dns.OpcodeUpdate || msg.Response {
		return
	}

	upd := &updateMessage{
		trace:  uuid.New(),
		msg:    msg,
		raw:    raw,
		from:   from,
		rxTime: s.timeNow(),
	}
	s.logUpdateReceived(upd)

	if s.isDuplicate(msg.Id, from) {
		return
	}

	if err := s.processUpdate(upd); err != nil {
		s.logUpdateError(upd, err)
		s.sendResponse(upd, rcodeForError(err))
		return
	}

	s.handleUpdate(upd)
}

// isDuplicate reports whether an update with the same message id from
// the same client is already awaiting advertising confirmation. Such
// retransmissions are dropped silently.
func (s *Server) isDuplicate(msgID uint16, from netip.AddrPort) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, o := range s.outstanding {
		if o.update.msg.Id == msgID && o.update.from == from {
			return true
		}
	}
	return false
}

// handleUpdate either commits a validated update directly or parks it
// until the advertising handler confirms it.
func (s *Server) handleUpdate(upd *updateMessage) {
	host := upd.host

	// A removal update may omit services registered earlier. Stage
	// deletion markers for them so the advertising handler sees the
	// full removal.
	if host.Lease() == 0 {
		s.stageExistingServiceRemovals(host)
	}

	s.mu.Lock()
	handler := s.advertisingHandler
	if handler == nil {
		s.mu.Unlock()
		s.commitUpdate(upd, nil)
		return
	}
	timeout := s.cfg.AdvertisingTimeout
	o := &outstandingUpdate{
		id:       upd.trace,
		update:   upd,
		expireAt: s.timeNow().Add(timeout),
	}
	s.outstanding = append(s.outstanding, o)
	s.scheduleOutstandingTimerLocked()
	s.mu.Unlock()

	handler(AdvertisingUpdate{ID: o.id, Host: host, Timeout: timeout})
}

func (s *Server) stageExistingServiceRemovals(host *Host) {
	s.mu.RLock()
	existing := s.findHostLocked(host.FullName())
	s.mu.RUnlock()
	if existing == nil {
		return
	}
	for _, svc := range existing.Services() {
		if host.findService(svc.FullName()) != nil {
			continue
		}
		staged, err := host.addService(svc.ServiceName(), svc.FullName())
		if err != nil {
			continue
		}
		staged.deleted = true
	}
}

// HandleAdvertisingResult completes a parked update with the handler's
// verdict. The host must be the one delivered in the AdvertisingUpdate;
// results for unknown or already expired updates are ignored.
func (s *Server) HandleAdvertisingResult(host *Host, result error) {
	s.mu.Lock()
	var found *outstandingUpdate
	for i, o := range s.outstanding {
		if o.update.host == host {
			found = o
			s.outstanding = append(s.outstanding[:i], s.outstanding[i+1:]...)
			break
		}
	}
	if found != nil {
		s.scheduleOutstandingTimerLocked()
	}
	s.mu.Unlock()

	if found == nil {
		return
	}
	s.commitUpdate(found.update, result)
}

// commitUpdate applies or rejects a fully validated update and sends the
// response. Leases are granted here, clamped into the configured range.
func (s *Server) commitUpdate(upd *updateMessage, result error) {
	if result != nil {
		s.logUpdateError(upd, result)
		s.sendResponse(upd, rcodeForError(result))
		return
	}

	host := upd.host
	grantedLease := s.grantLease(upd.lease)
	grantedKeyLease := s.grantKeyLease(upd.keyLease)
	host.setLeases(grantedLease, grantedKeyLease)
	now := s.timeNow()

	var changes []stateChange

	s.mu.Lock()
	existing := s.findHostLocked(host.FullName())
	switch {
	case grantedLease == 0 && grantedKeyLease == 0:
		if existing != nil {
			s.dropHostLocked(existing)
			changes = append(changes, stateChange{
				entity: log.StateEntityHost, name: existing.FullName(),
				oldState: hostStateName(existing), newState: "removed", reason: "removed by client",
			})
		}
	case grantedLease == 0:
		if existing != nil {
			changes = append(changes, stateChange{
				entity: log.StateEntityHost, name: existing.FullName(),
				oldState: hostStateName(existing), newState: "deleted", reason: "removed by client",
			})
			existing.markDeleted()
			existing.setLeases(0, grantedKeyLease)
			existing.touch(now)
		}
	case existing != nil:
		existing.mergeFrom(host, now)
		changes = append(changes, stateChange{
			entity: log.StateEntityHost, name: existing.FullName(),
			oldState: "active", newState: "active", reason: "updated",
		})
	default:
		s.hosts = append(s.hosts, host)
		changes = append(changes, stateChange{
			entity: log.StateEntityHost, name: host.FullName(),
			oldState: "", newState: "active", reason: "registered",
		})
	}
	s.scheduleLeaseTimerLocked()
	s.mu.Unlock()

	s.logStateChanges(upd.trace, changes)

	if grantedLease != upd.lease || grantedKeyLease != upd.keyLease {
		s.sendGrantedResponse(upd, grantedLease, grantedKeyLease)
		return
	}
	s.sendResponse(upd, dns.RcodeSuccess)
}

// grantLease clamps a requested lease into the configured range. A zero
// request is granted unchanged.
func (s *Server) grantLease(lease uint32) uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if lease == 0 {
		return 0
	}
	return clamp(lease, s.minLease, s.maxLease)
}

// grantKeyLease clamps a requested key lease into the configured range.
// A zero request is granted unchanged.
func (s *Server) grantKeyLease(keyLease uint32) uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if keyLease == 0 {
		return 0
	}
	return clamp(keyLease, s.minKeyLease, s.maxKeyLease)
}

// findHostLocked returns the registered host with the given name. The
// caller must hold s.mu.
func (s *Server) findHostLocked(fullName string) *Host {
	for _, host := range s.hosts {
		if dnsname.Equal(host.FullName(), fullName) {
			return host
		}
	}
	return nil
}

// dropHostLocked removes a host from the table. The caller must hold
// s.mu.
func (s *Server) dropHostLocked(host *Host) {
	for i, h := range s.hosts {
		if h == host {
			s.hosts = append(s.hosts[:i], s.hosts[i+1:]...)
			return
		}
	}
}

// scheduleLeaseTimerLocked re-arms the lease timer at the earliest lease
// or key-lease expiry across all hosts and services. The caller must
// hold s.mu.
func (s *Server) scheduleLeaseTimerLocked() {
	if s.leaseTimer != nil {
		s.leaseTimer.Stop()
		s.leaseTimer = nil
	}
	if s.state != StateRunning {
		return
	}
	earliest, ok := s.earliestLeaseExpiryLocked()
	if !ok {
		return
	}
	d := earliest.Sub(s.timeNow())
	if d < 0 {
		d = 0
	}
	s.leaseTimer = time.AfterFunc(d, s.handleLeaseExpiry)
}

func (s *Server) earliestLeaseExpiryLocked() (time.Time, bool) {
	var earliest time.Time
	have := false
	consider := func(t time.Time) {
		if !have || t.Before(earliest) {
			earliest = t
			have = true
		}
	}
	for _, host := range s.hosts {
		if host.IsDeleted() {
			consider(host.KeyLeaseExpireTime())
		} else {
			consider(host.LeaseExpireTime())
		}
		for _, svc := range host.Services() {
			if svc.IsDeleted() {
				consider(svc.KeyLeaseExpireTime())
			} else {
				consider(svc.LeaseExpireTime())
			}
		}
	}
	return earliest, have
}

// handleLeaseExpiry sweeps the table when the lease timer fires: an
// expired key lease destroys the entry, an expired lease clears its
// resources and marks it deleted.
func (s *Server) handleLeaseExpiry() {
	var changes []stateChange

	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return
	}
	now := s.timeNow()

	kept := s.hosts[:0]
	for _, host := range s.hosts {
		switch {
		case !host.KeyLeaseExpireTime().After(now):
			changes = append(changes, stateChange{
				entity: log.StateEntityHost, name: host.FullName(),
				oldState: hostStateName(host), newState: "removed", reason: "key lease expired",
			})
			continue
		case host.IsDeleted():
			// Name retained; only service names can expire here.
			for _, svc := range host.Services() {
				if !svc.KeyLeaseExpireTime().After(now) {
					host.removeService(svc)
					changes = append(changes, stateChange{
						entity: log.StateEntityServiceInstance, name: svc.FullName(),
						oldState: "deleted", newState: "removed", reason: "key lease expired",
					})
				}
			}
		case !host.LeaseExpireTime().After(now):
			changes = append(changes, stateChange{
				entity: log.StateEntityHost, name: host.FullName(),
				oldState: "active", newState: "deleted", reason: "lease expired",
			})
			host.markDeleted()
		default:
			for _, svc := range host.Services() {
				switch {
				case !svc.KeyLeaseExpireTime().After(now):
					host.removeService(svc)
					changes = append(changes, stateChange{
						entity: log.StateEntityServiceInstance, name: svc.FullName(),
						oldState: svcStateName(svc), newState: "removed", reason: "key lease expired",
					})
				case svc.IsDeleted():
					// Waiting out its key lease.
				case !svc.LeaseExpireTime().After(now):
					changes = append(changes, stateChange{
						entity: log.StateEntityServiceInstance, name: svc.FullName(),
						oldState: "active", newState: "deleted", reason: "lease expired",
					})
					svc.markDeleted()
				}
			}
		}
		kept = append(kept, host)
	}
	s.hosts = kept
	s.scheduleLeaseTimerLocked()
	s.mu.Unlock()

	s.logStateChanges(uuid.Nil, changes)
}

// scheduleOutstandingTimerLocked re-arms the advertising timeout timer
// at the earliest parked-update deadline. The caller must hold s.mu.
func (s *Server) scheduleOutstandingTimerLocked() {
	if s.outstandingTimer != nil {
		s.outstandingTimer.Stop()
		s.outstandingTimer = nil
	}
	if s.state != StateRunning || len(s.outstanding) == 0 {
		return
	}
	earliest := s.outstanding[0].expireAt
	for _, o := range s.outstanding[1:] {
		if o.expireAt.Before(earliest) {
			earliest = o.expireAt
		}
	}
	d := earliest.Sub(s.timeNow())
	if d < 0 {
		d = 0
	}
	s.outstandingTimer = time.AfterFunc(d, s.handleOutstandingExpiry)
}

// handleOutstandingExpiry rejects parked updates whose advertising
// deadline passed without a handler verdict.
func (s *Server) handleOutstandingExpiry() {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return
	}
	now := s.timeNow()
	var expired []*outstandingUpdate
	kept := s.outstanding[:0]
	for _, o := range s.outstanding {
		if !o.expireAt.After(now) {
			expired = append(expired, o)
		} else {
			kept = append(kept, o)
		}
	}
	s.outstanding = kept
	s.scheduleOutstandingTimerLocked()
	s.mu.Unlock()

	for _, o := range expired {
		s.logUpdateError(o.update, ErrResponseTimeout)
		s.sendResponse(o.update, rcodeForError(ErrResponseTimeout))
	}
}

func (s *Server) publishServerData(port uint16) {
	if s.cfg.NetData == nil {
		return
	}
	server := make([]byte, 2)
	binary.BigEndian.PutUint16(server, port)
	if err := s.cfg.NetData.AddService(netdata.ThreadEnterpriseNumber, []byte{srpServiceNumber}, server, true); err != nil {
		s.logServerError(uuid.Nil, "failed to publish server data", err)
	}
}

func (s *Server) unpublishServerData() {
	if s.cfg.NetData == nil {
		return
	}
	_ = s.cfg.NetData.RemoveService(netdata.ThreadEnterpriseNumber, []byte{srpServiceNumber})
}

// sendResponse sends a header-only UPDATE response.
func (s *Server) sendResponse(upd *updateMessage, rcode int) {
	resp := new(dns.Msg)
	resp.Id = upd.msg.Id
	resp.Response = true
	resp.Opcode = dns.OpcodeUpdate
	resp.Rcode = rcode
	s.send(resp, upd.from, upd.trace)
}

// sendGrantedResponse sends a success response echoing the granted lease
// values, used when they differ from the requested ones.
func (s *Server) sendGrantedResponse(upd *updateMessage, lease, keyLease uint32) {
	resp := new(dns.Msg)
	resp.Id = upd.msg.Id
	resp.Response = true
	resp.Opcode = dns.OpcodeUpdate
	resp.Rcode = dns.RcodeSuccess

	opt := &dns.OPT{Hdr: dns.RR_Header{Name: ".", Rrtype: dns.TypeOPT}}
	opt.SetUDPSize(dns.DefaultMsgSize)
	opt.Option = append(opt.Option, &dns.EDNS0_UL{Code: dns.EDNS0UL, Lease: lease, KeyLease: keyLease})
	resp.Extra = append(resp.Extra, opt)

	s.send(resp, upd.from, upd.trace)
}

// sendRawFormatError replies FORMERR to an update whose body could not
// be parsed, echoing the raw header id.
func (s *Server) sendRawFormatError(raw []byte, from netip.AddrPort) {
	resp := new(dns.Msg)
	resp.Id = binary.BigEndian.Uint16(raw[0:2])
	resp.Response = true
	resp.Opcode = dns.OpcodeUpdate
	resp.Rcode = dns.RcodeFormatError
	s.send(resp, from, uuid.Nil)
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
		s.logServerError(trace, "failed to pack response", err)
		return
	}
	if err := conn.WriteTo(wire, to); err != nil {
		s.logServerError(trace, "failed to send response", err)
		return
	}
	s.logResponseSent(resp, to, trace)
}

func (s *Server) logUpdateReceived(upd *updateMessage) {
	zone := ""
	if len(upd.msg.Question) > 0 {
		zone = upd.msg.Question[0].Name
	}
	s.logger.Log(log.Event{
		Timestamp:  upd.rxTime,
		TraceID:    upd.trace.String(),
		Direction:  log.DirectionIn,
		Layer:      log.LayerSRP,
		Category:   log.CategoryMessage,
		RemoteAddr: upd.from.String(),
		DNS: &log.DNSEvent{
			MessageID: upd.msg.Id,
			Opcode:    upd.msg.Opcode,
			QName:     zone,
		},
	})
}

func (s *Server) logUpdateError(upd *updateMessage, err error) {
	code := rcodeForError(err)
	s.logger.Log(log.Event{
		Timestamp:  s.timeNow(),
		TraceID:    upd.trace.String(),
		Direction:  log.DirectionIn,
		Layer:      log.LayerSRP,
		Category:   log.CategoryError,
		RemoteAddr: upd.from.String(),
		Error: &log.ErrorEventData{
			Layer:   log.LayerSRP,
			Message: err.Error(),
			Code:    &code,
			Context: "update processing",
		},
	})
}

func (s *Server) logServerError(trace uuid.UUID, msg string, err error) {
	event := log.Event{
		Timestamp: s.timeNow(),
		Layer:     log.LayerSRP,
		Category:  log.CategoryError,
		Error: &log.ErrorEventData{
			Layer:   log.LayerSRP,
			Message: fmt.Sprintf("%s: %v", msg, err),
		},
	}
	if trace != uuid.Nil {
		event.TraceID = trace.String()
	}
	s.logger.Log(event)
}

func (s *Server) logResponseSent(resp *dns.Msg, to netip.AddrPort, trace uuid.UUID) {
	rcode := resp.Rcode
	event := log.Event{
		Timestamp:  s.timeNow(),
		Direction:  log.DirectionOut,
		Layer:      log.LayerSRP,
		Category:   log.CategoryMessage,
		RemoteAddr: to.String(),
		DNS: &log.DNSEvent{
			MessageID: resp.Id,
			Opcode:    resp.Opcode,
			Rcode:     &rcode,
		},
	}
	if trace != uuid.Nil {
		event.TraceID = trace.String()
	}
	if opt := resp.IsEdns0(); opt != nil {
		for _, o := range opt.Option {
			if ul, ok := o.(*dns.EDNS0_UL); ok {
				lease, keyLease := ul.Lease, ul.KeyLease
				event.DNS.Lease = &lease
				event.DNS.KeyLease = &keyLease
			}
		}
	}
	s.logger.Log(event)
}

func (s *Server) logStateChanges(trace uuid.UUID, changes []stateChange) {
	for _, c := range changes {
		event := log.Event{
			Timestamp: s.timeNow(),
			Layer:     log.LayerSRP,
			Category:  log.CategoryState,
			StateChange: &log.StateChangeEvent{
				Entity:   c.entity,
				Name:     c.name,
				OldState: c.oldState,
				NewState: c.newState,
				Reason:   c.reason,
			},
		}
		if trace != uuid.Nil {
			event.TraceID = trace.String()
		}
		s.logger.Log(event)
	}
}

func (s *Server) logServerState(oldState, newState State, reason string) {
	s.logger.Log(log.Event{
		Timestamp: s.timeNow(),
		Layer:     log.LayerSRP,
		Category:  log.CategoryState,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityServer,
			Name:     "srp",
			OldState: oldState.String(),
			NewState: newState.String(),
			Reason:   reason,
		},
	})
}

func hostStateName(h *Host) string {
	if h.IsDeleted() {
		return "deleted"
	}
	return "active"
}

func svcStateName(svc *Service) string {
	if svc.IsDeleted() {
		return "deleted"
	}
	return "active"
}

func clamp(v, lo, hi uint32) uint32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
