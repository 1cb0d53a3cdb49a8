package tcp

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/weft-protocol/weft-go/pkg/log"
	"github.com/weft-protocol/weft-go/pkg/message"
)

// SegmentWriter carries assembled segments toward the IPv6 layer.
type SegmentWriter interface {
	// WriteSegment sends one TCP segment between the given addresses.
	WriteSegment(seg []byte, src, dst netip.Addr) error
}

// Stack multiplexes TCP endpoints over one segment path. All endpoint
// state is guarded by a single mutex and all retransmission, probing and
// TIME-WAIT expiry is driven by a single timer armed at the earliest
// deadline across endpoints.
type Stack struct {
	mu  sync.Mutex
	cfg Config

	pool   *message.Pool
	msl    time.Duration
	logger log.Logger

	endpoints []*Endpoint

	nextEphemeral uint16

	timer *time.Timer

	// outbound and pendingEvents hold work queued under the lock and
	// performed by flush after it is released, so the output path and
	// event handlers may call back into the stack.
	outbound      []outboundSegment
	pendingEvents []endpointEvent

	// timeNow returns the current time. Defaults to time.Now.
	// Replaced in tests for deterministic behavior.
	timeNow func() time.Time
}

type outboundSegment struct {
	seg []byte
	src netip.Addr
	dst netip.Addr
}

type endpointEvent struct {
	ep    *Endpoint
	event Event
}

// NewStack creates a TCP stack with the given configuration.
func NewStack(cfg Config) (*Stack, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	pool := cfg.Pool
	if pool == nil {
		pool = message.NewPool(0)
	}
	msl := cfg.MSL
	if msl == 0 {
		msl = DefaultMSL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NoopLogger{}
	}
	return &Stack{
		cfg:           cfg,
		pool:          pool,
		msl:           msl,
		logger:        logger,
		nextEphemeral: DynamicPortMin,
		timeNow:       time.Now,
	}, nil
}

// Open creates a new endpoint in the CLOSED state. The handler receives
// lifecycle and data events and must not be nil.
func (s *Stack) Open(handler EventHandler) (*Endpoint, error) {
	if handler == nil {
		return nil, fmt.Errorf("%w: nil event handler", ErrInvalidArgs)
	}
	e := &Endpoint{
		stack:       s,
		handler:     handler,
		trace:       uuid.New(),
		smoothedRTT: InitialSmoothedRTT,
		minRTT:      DefaultMinRTT,
		maxRTT:      DefaultMaxRTT,
	}
	e.sendWin.wnd = 1
	s.mu.Lock()
	s.endpoints = append(s.endpoints, e)
	s.mu.Unlock()
	return e, nil
}

// Close aborts every endpoint and stops the shared timer.
func (s *Stack) Close() {
	s.mu.Lock()
	for _, e := range append([]*Endpoint(nil), s.endpoints...) {
		e.abortLocked()
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.mu.Unlock()
	s.flush()
}

// HandleSegment feeds one received TCP segment (header plus payload, no
// IPv6 header) into the stack. Segments failing checksum or header
// validation are dropped silently; segments matching no endpoint draw a
// reset.
func (s *Stack) HandleSegment(seg []byte, src, dst netip.Addr) {
	if !verifyChecksum(src, dst, seg) {
		s.logError("verify segment", errBadChecksum, src)
		return
	}
	h, dataOff, err := parseHeader(seg)
	if err != nil {
		s.logError("parse segment", err, src)
		return
	}
	payload := seg[dataOff:]
	segLen := len(payload) + flagSeqLen(h.flags)

	s.mu.Lock()
	var ep *Endpoint
	for _, cand := range s.endpoints {
		if cand.matchesLocked(h, src, dst) {
			ep = cand
			break
		}
	}
	if ep == nil {
		s.logSegment(log.DirectionIn, h, len(payload), src, "", "")
		if h.flags&flagRST == 0 {
			s.respondResetLocked(h, segLen, dst, src, "")
		}
		s.mu.Unlock()
		s.flush()
		return
	}
	s.logSegment(log.DirectionIn, h, len(payload), src, ep.trace.String(), ep.state.String())

	switch ep.handleSegmentLocked(h, payload, src, dst) {
	case actionAck:
		if h.flags&flagRST == 0 {
			ep.requireAckLocked()
		}
	case actionReset:
		if h.flags&flagRST == 0 {
			s.respondResetLocked(h, segLen, dst, src, ep.trace.String())
		}
	case actionAbort:
		ep.onAbortedLocked()
	case actionReceive:
		ep.processRecvQueueLocked()
	}
	ep.resetTimerLocked()
	s.mu.Unlock()
	s.flush()
}

// respondResetLocked queues the RST reply mandated for an offending
// segment: echoing its acknowledgment when it carried one, otherwise
// resetting with an acknowledgment covering the whole segment.
func (s *Stack) respondResetLocked(offender header, segLen int, src, dst netip.Addr, trace string) {
	h := header{srcPort: offender.dstPort, dstPort: offender.srcPort}
	if offender.flags&flagACK != 0 {
		h.flags = flagRST
		h.seq = offender.ack
	} else {
		h.flags = flagRST | flagACK
		h.ack = offender.seq.Add(segLen)
	}
	s.queueSegmentLocked(h, nil, src, dst, trace, "")
}

// queueSegmentLocked assembles a segment and queues it for transmission
// by the next flush.
func (s *Stack) queueSegmentLocked(h header, payload []byte, src, dst netip.Addr, trace, state string) {
	if addrIsWild(src) {
		src = s.cfg.LocalAddr
	}
	seg := packSegment(h, payload)
	fillChecksum(src, dst, seg)
	s.outbound = append(s.outbound, outboundSegment{seg: seg, src: src, dst: dst})
	s.logSegment(log.DirectionOut, h, len(payload), dst, trace, state)
}

func (s *Stack) queueEventLocked(e *Endpoint, ev Event) {
	s.pendingEvents = append(s.pendingEvents, endpointEvent{ep: e, event: ev})
}

// flush performs the work queued under the lock: segment transmission
// and event delivery. It loops because handlers and the output path may
// queue more.
func (s *Stack) flush() {
	for {
		s.mu.Lock()
		segs := s.outbound
		s.outbound = nil
		events := s.pendingEvents
		s.pendingEvents = nil
		s.mu.Unlock()
		if len(segs) == 0 && len(events) == 0 {
			return
		}
		for _, o := range segs {
			if err := s.cfg.Output.WriteSegment(o.seg, o.src, o.dst); err != nil {
				s.logError("write segment", err, o.dst)
			}
		}
		for _, ev := range events {
			ev.ep.handler(ev.ep, ev.event)
		}
	}
}

func (s *Stack) detachLocked(e *Endpoint) {
	for i, cand := range s.endpoints {
		if cand == e {
			s.endpoints = append(s.endpoints[:i], s.endpoints[i+1:]...)
			break
		}
	}
	e.detached = true
	e.nextWake = time.Time{}
	s.rescheduleLocked()
}

// ephemeralPortLocked hands out ports from the dynamic range, wrapping
// around at the top.
func (s *Stack) ephemeralPortLocked() uint16 {
	p := s.nextEphemeral
	if s.nextEphemeral == DynamicPortMax {
		s.nextEphemeral = DynamicPortMin
	} else {
		s.nextEphemeral++
	}
	return p
}

// rescheduleLocked arms the shared timer at the earliest endpoint
// deadline, or stops it when no endpoint has one.
func (s *Stack) rescheduleLocked() {
	var earliest time.Time
	for _, e := range s.endpoints {
		if e.nextWake.IsZero() {
			continue
		}
		if earliest.IsZero() || e.nextWake.Before(earliest) {
			earliest = e.nextWake
		}
	}
	if earliest.IsZero() {
		if s.timer != nil {
			s.timer.Stop()
		}
		return
	}
	d := earliest.Sub(s.timeNow())
	if d < 0 {
		d = 0
	}
	if s.timer == nil {
		s.timer = time.AfterFunc(d, s.handleTimer)
	} else {
		s.timer.Stop()
		s.timer.Reset(d)
	}
}

// handleTimer services every endpoint whose deadline has arrived. Each
// due endpoint is serviced once per firing; endpoints rearming at the
// current instant are picked up by an immediate refire.
func (s *Stack) handleTimer() {
	s.mu.Lock()
	now := s.timeNow()
	var due []*Endpoint
	for _, e := range s.endpoints {
		if !e.nextWake.IsZero() && !e.nextWake.After(now) {
			due = append(due, e)
		}
	}
	for _, e := range due {
		if e.detached {
			continue
		}
		e.nextWake = time.Time{}
		e.handleTimerLocked(now)
	}
	s.rescheduleLocked()
	s.mu.Unlock()
	s.flush()
}

func (s *Stack) logSegment(dir log.Direction, h header, length int, remote netip.Addr, trace, state string) {
	local, peer := h.dstPort, h.srcPort
	if dir == log.DirectionOut {
		local, peer = h.srcPort, h.dstPort
	}
	s.logger.Log(log.Event{
		Timestamp:  s.timeNow(),
		TraceID:    trace,
		Direction:  dir,
		Layer:      log.LayerTCP,
		Category:   log.CategoryMessage,
		RemoteAddr: netip.AddrPortFrom(remote, peer).String(),
		Segment: &log.SegmentEvent{
			LocalPort: local,
			PeerPort:  peer,
			Seq:       uint32(h.seq),
			Ack:       uint32(h.ack),
			Flags:     h.flags.String(),
			Window:    h.window,
			Length:    length,
			State:     state,
		},
	})
}

func (s *Stack) logState(e *Endpoint, prev, next State, reason string) {
	s.logger.Log(log.Event{
		Timestamp: s.timeNow(),
		TraceID:   e.trace.String(),
		Layer:     log.LayerTCP,
		Category:  log.CategoryState,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityEndpoint,
			Name:     fmt.Sprintf("%d-%d", e.sockPort, e.peerPort),
			OldState: prev.String(),
			NewState: next.String(),
			Reason:   reason,
		},
	})
}

func (s *Stack) logError(context string, err error, remote netip.Addr) {
	s.logger.Log(log.Event{
		Timestamp:  s.timeNow(),
		Direction:  log.DirectionIn,
		Layer:      log.LayerTCP,
		Category:   log.CategoryError,
		RemoteAddr: remote.String(),
		Error: &log.ErrorEventData{
			Layer:   log.LayerTCP,
			Message: err.Error(),
			Context: context,
		},
	})
}

func addrIsWild(a netip.Addr) bool {
	return !a.IsValid() || a.IsUnspecified()
}

// initialSequence returns a randomized initial send sequence number.
func initialSequence() Sequence {
	var b [4]byte
	if _, err := rand.Read(b[:]); err == nil {
		return Sequence(binary.BigEndian.Uint32(b[:]))
	}
	return Sequence(time.Now().UnixNano())
}
