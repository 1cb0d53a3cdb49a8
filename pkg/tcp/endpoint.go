package tcp

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/google/uuid"
)

// State is a TCP connection state.
type State uint8

// Connection states.
const (
	StateClosed State = iota
	StateListen
	StateSynSent
	StateSynRcvd
	StateEstablished
	StateFinWait1
	StateFinWait2
	StateCloseWait
	StateLastAck
	StateClosing
	StateTimeWait
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateListen:
		return "LISTEN"
	case StateSynSent:
		return "SYN-SENT"
	case StateSynRcvd:
		return "SYN-RCVD"
	case StateEstablished:
		return "ESTABLISHED"
	case StateFinWait1:
		return "FIN-WAIT-1"
	case StateFinWait2:
		return "FIN-WAIT-2"
	case StateCloseWait:
		return "CLOSE-WAIT"
	case StateLastAck:
		return "LAST-ACK"
	case StateClosing:
		return "CLOSING"
	case StateTimeWait:
		return "TIME-WAIT"
	default:
		return "UNKNOWN"
	}
}

// Event is an endpoint notification delivered through the EventHandler.
type Event uint8

const (
	// EventConnected fires when the connection reaches ESTABLISHED.
	EventConnected Event = iota

	// EventDisconnected fires when the connection comes apart: entering
	// TIME-WAIT, or reaching CLOSED without passing through it.
	EventDisconnected

	// EventAborted fires when the connection is reset, locally or by the
	// peer.
	EventAborted

	// EventClosed fires when the endpoint reaches CLOSED and is detached
	// from the stack.
	EventClosed

	// EventDataReceived fires when newly delivered payload is readable.
	EventDataReceived

	// EventDataSent fires when acknowledgments freed send window space.
	EventDataSent
)

// String returns the event name.
func (e Event) String() string {
	switch e {
	case EventConnected:
		return "CONNECTED"
	case EventDisconnected:
		return "DISCONNECTED"
	case EventAborted:
		return "ABORTED"
	case EventClosed:
		return "CLOSED"
	case EventDataReceived:
		return "DATA-RECEIVED"
	case EventDataSent:
		return "DATA-SENT"
	default:
		return "UNKNOWN"
	}
}

// EventHandler receives endpoint events. Handlers run outside the stack
// lock and may call back into the endpoint.
type EventHandler func(*Endpoint, Event)

// Pending work flags, serviced by the shared timer.
const (
	pendingNotifyDataSent uint8 = 1 << iota
	pendingNotifyDataReceived
	pendingRequireAckPeer
)

// segmentAction is the disposition chosen for a received segment.
type segmentAction uint8

const (
	actionNone segmentAction = iota
	actionAck
	actionReset
	actionAbort
	actionReceive
)

// Endpoint is one TCP connection or listener. Endpoints are created
// through Stack.Open and are single-use: once CLOSED they detach from the
// stack and cannot be rebound.
type Endpoint struct {
	stack   *Stack
	handler EventHandler
	trace   uuid.UUID

	state    State
	sockAddr netip.Addr
	sockPort uint16
	peerAddr netip.Addr
	peerPort uint16

	sendWin sendWindow
	recvWin recvWindow

	// rcvNxt is the sequence number expected next from the peer
	// (RCV.NXT). Valid once a SYN has been consumed.
	rcvNxt Sequence

	smoothedRTT time.Duration
	minRTT      time.Duration
	maxRTT      time.Duration

	pendingFlags  uint8
	timeWaitStart time.Time

	// nextWake is when the shared stack timer should service this
	// endpoint; zero means no pending work.
	nextWake time.Time

	// detached is set once the endpoint leaves the stack's demux list.
	detached bool
}

// State returns the current connection state.
func (e *Endpoint) State() State {
	e.stack.mu.Lock()
	defer e.stack.mu.Unlock()
	return e.state
}

// LocalAddrPort returns the bound local address and port.
func (e *Endpoint) LocalAddrPort() netip.AddrPort {
	e.stack.mu.Lock()
	defer e.stack.mu.Unlock()
	return netip.AddrPortFrom(e.sockAddr, e.sockPort)
}

// RemoteAddrPort returns the peer address and port.
func (e *Endpoint) RemoteAddrPort() netip.AddrPort {
	e.stack.mu.Lock()
	defer e.stack.mu.Unlock()
	return netip.AddrPortFrom(e.peerAddr, e.peerPort)
}

// Bind sets the local address and port. A zero port selects an ephemeral
// port; the unspecified address accepts any destination.
func (e *Endpoint) Bind(addr netip.Addr, port uint16) error {
	e.stack.mu.Lock()
	defer e.stack.mu.Unlock()
	return e.bindLocked(addr, port)
}

func (e *Endpoint) bindLocked(addr netip.Addr, port uint16) error {
	if e.detached {
		return fmt.Errorf("%w: endpoint detached", ErrInvalidState)
	}
	if e.sockPort != 0 {
		return fmt.Errorf("%w: already bound", ErrInvalidState)
	}
	if port == 0 {
		port = e.stack.ephemeralPortLocked()
	}
	e.sockAddr = addr
	e.sockPort = port
	return nil
}

// Listen makes the endpoint accept one incoming connection on its bound
// port. The endpoint must be freshly opened and bound.
func (e *Endpoint) Listen() error {
	e.stack.mu.Lock()
	defer e.stack.mu.Unlock()
	if e.detached || e.state != StateClosed {
		return fmt.Errorf("%w: %s", ErrInvalidState, e.state)
	}
	if e.sockPort == 0 {
		return fmt.Errorf("%w: not bound", ErrInvalidState)
	}
	e.setStateLocked(StateListen, "listen")
	return nil
}

// Connect starts the active open toward the peer, binding an ephemeral
// port first when the endpoint is unbound.
func (e *Endpoint) Connect(addr netip.Addr, port uint16) error {
	s := e.stack
	s.mu.Lock()
	err := e.connectLocked(addr, port)
	s.mu.Unlock()
	s.flush()
	return err
}

func (e *Endpoint) connectLocked(addr netip.Addr, port uint16) error {
	if e.detached || e.state != StateClosed {
		return fmt.Errorf("%w: %s", ErrInvalidState, e.state)
	}
	if !addr.IsValid() || port == 0 {
		return fmt.Errorf("%w: peer address and port required", ErrInvalidArgs)
	}
	if e.sockPort == 0 {
		if err := e.bindLocked(netip.Addr{}, 0); err != nil {
			return err
		}
	}
	if addrIsWild(e.sockAddr) {
		e.sockAddr = e.stack.cfg.LocalAddr
	}
	e.peerAddr = addr
	e.peerPort = port
	e.sendSYNLocked()
	return nil
}

// Write queues payload for transmission and returns the number of bytes
// accepted. It never blocks: when the send ring is full or the peer
// window exhausted it accepts a prefix, possibly none. Data may only be
// sent in ESTABLISHED and CLOSE-WAIT.
func (e *Endpoint) Write(b []byte) int {
	s := e.stack
	s.mu.Lock()
	n := e.writeLocked(b)
	s.mu.Unlock()
	s.flush()
	return n
}

func (e *Endpoint) writeLocked(b []byte) int {
	if !e.canSendDataLocked() {
		return 0
	}
	now := e.stack.timeNow()
	written := 0
	for len(b) > 0 {
		entry := e.sendWin.lastWritable()
		if entry == nil {
			if e.sendWin.full() {
				break
			}
			if e.sendWin.stopSeq().After(e.sendWin.startSeq.Add(int(e.sendWin.wnd))) {
				break
			}
			msg, err := e.stack.pool.NewMessage()
			if err != nil {
				break
			}
			entry = &sendEntry{data: msg}
			e.sendWin.push(entry, now)
		}
		chunk := MaxSegmentSize - entry.data.Len()
		if chunk > len(b) {
			chunk = len(b)
		}
		if err := entry.data.Append(b[:chunk]); err != nil {
			break
		}
		b = b[chunk:]
		written += chunk
	}
	if written > 0 {
		e.resetTimerLocked()
	}
	return written
}

// Read copies received payload into b and returns the number of bytes
// copied. It never blocks; zero means nothing is currently readable.
func (e *Endpoint) Read(b []byte) int {
	e.stack.mu.Lock()
	defer e.stack.mu.Unlock()
	return e.recvWin.read(b)
}

// Close starts an orderly shutdown. A listener or an endpoint still
// awaiting its first reply closes immediately; connections with
// handshake state send a FIN and complete the close exchange in the
// background.
func (e *Endpoint) Close() {
	s := e.stack
	s.mu.Lock()
	switch e.state {
	case StateListen, StateSynSent:
		e.sendWin.flush()
		e.setStateLocked(StateClosed, "close")
	case StateSynRcvd, StateEstablished, StateCloseWait:
		e.sendFINLocked()
	}
	s.mu.Unlock()
	s.flush()
}

// Abort tears the connection down immediately, sending a reset when the
// peer may still hold state for it.
func (e *Endpoint) Abort() {
	s := e.stack
	s.mu.Lock()
	e.abortLocked()
	s.mu.Unlock()
	s.flush()
}

func (e *Endpoint) abortLocked() {
	switch e.state {
	case StateSynRcvd, StateEstablished, StateFinWait1, StateFinWait2, StateCloseWait:
		e.stack.queueSegmentLocked(header{
			srcPort: e.sockPort,
			dstPort: e.peerPort,
			seq:     e.sendWin.sendNextSeq(),
			flags:   flagRST,
		}, nil, e.sockAddr, e.peerAddr, e.trace.String(), e.state.String())
	}
	if e.state != StateClosed {
		e.onAbortedLocked()
	}
}

// ConfigRoundTripTime sets the clamp applied to the retransmission
// timeout.
func (e *Endpoint) ConfigRoundTripTime(minRTT, maxRTT time.Duration) error {
	if minRTT <= 0 || maxRTT < minRTT {
		return fmt.Errorf("%w: bad round-trip bounds", ErrInvalidArgs)
	}
	e.stack.mu.Lock()
	e.minRTT = minRTT
	e.maxRTT = maxRTT
	e.stack.mu.Unlock()
	return nil
}

func (e *Endpoint) canSendDataLocked() bool {
	return e.state == StateEstablished || e.state == StateCloseWait
}

// sendSYNLocked queues the opening SYN and moves into the handshake
// state matching the open direction.
func (e *Endpoint) sendSYNLocked() {
	e.sendWin.startSeq = initialSequence()
	e.sendWin.wnd = 1
	e.sendWin.queueSYN(e.stack.timeNow())
	if e.state == StateListen {
		e.setStateLocked(StateSynRcvd, "syn received")
	} else {
		e.setStateLocked(StateSynSent, "connect")
	}
}

func (e *Endpoint) sendFINLocked() {
	e.sendWin.queueFIN(e.stack.timeNow())
	if e.state == StateCloseWait {
		e.setStateLocked(StateLastAck, "close")
	} else {
		e.setStateLocked(StateFinWait1, "close")
	}
}

// matchesLocked implements demultiplexing: the local port must match and
// the local address be wildcard or equal; the peer side matches when the
// endpoint has none recorded yet.
func (e *Endpoint) matchesLocked(h header, src, dst netip.Addr) bool {
	if e.state == StateClosed {
		return false
	}
	if e.sockPort != h.dstPort {
		return false
	}
	if !addrIsWild(e.sockAddr) && e.sockAddr != dst {
		return false
	}
	if e.peerPort != 0 && e.peerPort != h.srcPort {
		return false
	}
	if !addrIsWild(e.peerAddr) && e.peerAddr != src {
		return false
	}
	return true
}

// handleSegmentLocked runs the per-state receive logic and returns the
// action the stack should take for the segment.
func (e *Endpoint) handleSegmentLocked(h header, payload []byte, src, dst netip.Addr) segmentAction {
	segLen := len(payload) + flagSeqLen(h.flags)

	switch e.state {
	case StateListen:
		switch {
		case h.flags&flagRST != 0:
			return actionNone
		case h.flags&flagACK != 0:
			return actionReset
		case h.flags&flagSYN == 0:
			return actionReset
		case h.flags&flagFIN != 0:
			return actionNone
		}
		e.rcvNxt = h.seq.Add(1)
		e.sendWin.configBySYN(h.seq)
		e.peerAddr = src
		e.peerPort = h.srcPort
		if addrIsWild(e.sockAddr) {
			e.sockAddr = dst
		}
		e.sendSYNLocked()
		return actionAck

	case StateSynSent:
		switch {
		case h.flags&flagACK == 0:
			return actionReset
		case !e.ackAcceptableLocked(h.ack):
			return actionReset
		case h.flags&flagRST != 0:
			return actionAbort
		case h.flags&flagSYN == 0:
			return actionNone
		case h.flags&flagFIN != 0:
			return actionNone
		}
		e.rcvNxt = h.seq.Add(1)
		e.sendWin.configBySYN(h.seq)
		e.setStateLocked(StateEstablished, "handshake complete")
		e.processAckLocked(h.seq, h.ack, h.window)
		return actionAck

	case StateClosed:
		return actionNone

	default:
		if acceptable, duplicate := e.seqAcceptableLocked(h.seq, segLen); !acceptable && duplicate {
			return actionAck
		}
		seg := &recvSegment{seq: h.seq, flags: h.flags, ack: h.ack, window: h.window}
		if len(payload) > 0 {
			m, err := e.stack.pool.NewMessage()
			if err != nil {
				e.stack.logError("recv buffer", err, e.peerAddr)
				return actionAck
			}
			if err := m.Append(payload); err != nil {
				m.Free()
				return actionAck
			}
			seg.data = m
		}
		if err := e.recvWin.add(seg); err != nil {
			return actionAck
		}
		return actionReceive
	}
}

// ackAcceptableLocked reports whether ack falls in SND.UNA..SND.NXT.
func (e *Endpoint) ackAcceptableLocked(ack Sequence) bool {
	return !ack.Before(e.sendWin.startSeq) && !ack.After(e.sendWin.sendNextSeq())
}

// seqAcceptableLocked applies the four-case acceptability test and
// additionally classifies segments lying entirely before RCV.NXT as
// duplicates.
func (e *Endpoint) seqAcceptableLocked(seq Sequence, segLen int) (acceptable, duplicate bool) {
	rcvNxt := e.rcvNxt
	stop := seq.Add(segLen)
	winEnd := rcvNxt.Add(int(e.receiveWindowLocked()))
	switch {
	case winEnd == rcvNxt:
		acceptable = segLen == 0 && seq == rcvNxt
	case segLen == 0:
		acceptable = !seq.Before(rcvNxt) && seq.Before(winEnd)
	default:
		acceptable = (!seq.Before(rcvNxt) && seq.Before(winEnd)) ||
			(rcvNxt.Before(stop) && !stop.After(winEnd))
	}
	duplicate = seq.Before(rcvNxt) && !stop.After(rcvNxt)
	return acceptable, duplicate
}

// processRecvQueueLocked delivers every in-order segment, acknowledges
// across any remaining gap and schedules the data-received notification.
func (e *Endpoint) processRecvQueueLocked() {
	for e.state != StateClosed {
		seg := e.takeDeliverableLocked()
		if seg == nil {
			break
		}
		e.processDeliveredLocked(seg)
	}
	if e.state != StateClosed && e.recvWin.next() != nil {
		e.requireAckLocked()
	}
	e.recvWin.clearEmpty()
	e.notifyDataReceivedLocked()
}

// takeDeliverableLocked moves the next in-order segment into the
// readable region, trimming payload already received, and advances
// RCV.NXT past it.
func (e *Endpoint) takeDeliverableLocked() *recvSegment {
	seg := e.recvWin.next()
	if seg == nil || seg.seq.After(e.rcvNxt) {
		return nil
	}
	stop := seg.stop()
	e.recvWin.deliverNext()
	if seg.data != nil {
		overlap := int(e.rcvNxt.Diff(seg.seq))
		if overlap > seg.data.Len() {
			overlap = seg.data.Len()
		}
		if overlap > 0 {
			seg.data.TrimFront(overlap)
		}
	}
	e.rcvNxt = stop
	return seg
}

func (e *Endpoint) processDeliveredLocked(seg *recvSegment) {
	switch e.deliveredActionLocked(seg) {
	case actionAck:
		e.requireAckLocked()
	case actionReset:
		e.stack.respondResetLocked(header{
			srcPort: e.peerPort,
			dstPort: e.sockPort,
			seq:     seg.seq,
			ack:     seg.ack,
			flags:   seg.flags,
		}, seg.seqLen(), e.sockAddr, e.peerAddr, e.trace.String())
	case actionAbort:
		e.onAbortedLocked()
	}
}

// deliveredActionLocked applies one delivered segment's control
// information to the connection.
func (e *Endpoint) deliveredActionLocked(seg *recvSegment) segmentAction {
	switch {
	case seg.flags&flagRST != 0:
		return actionAbort
	case seg.flags&flagSYN != 0:
		return actionReset
	case seg.flags&flagACK == 0:
		return actionNone
	}
	if e.state == StateSynRcvd {
		if !e.ackAcceptableLocked(seg.ack) {
			return actionReset
		}
		e.setStateLocked(StateEstablished, "handshake complete")
	}
	if seg.ack.Before(e.sendWin.startSeq) {
		return actionNone
	}
	if seg.ack.After(e.sendWin.sendNextSeq()) {
		return actionAck
	}
	e.processAckLocked(seg.seq, seg.ack, seg.window)
	e.processFINLocked(seg.flags)
	if seg.seqLen() == 0 {
		return actionNone
	}
	return actionAck
}

func (e *Endpoint) processAckLocked(seq, ack Sequence, wnd uint16) {
	oldWnd := e.sendWin.wnd
	e.sendWin.updateWindow(seq, ack, wnd)
	notify := e.sendWin.wnd > oldWnd
	if n, rtt, ok := e.sendWin.reclaim(ack, e.stack.timeNow()); n > 0 {
		e.processFINAckedLocked()
		if ok {
			e.updateRTT(rtt)
		}
		notify = true
	}
	if notify {
		e.notifyDataSentLocked()
	}
}

// processFINLocked applies the peer's FIN once all data ahead of it has
// been delivered.
func (e *Endpoint) processFINLocked(flags segmentFlags) {
	if flags&flagFIN == 0 {
		return
	}
	switch e.state {
	case StateEstablished:
		e.setStateLocked(StateCloseWait, "peer closed")
	case StateFinWait1:
		e.setStateLocked(StateClosing, "peer closed")
	case StateFinWait2:
		e.setStateLocked(StateTimeWait, "peer closed")
	}
}

// processFINAckedLocked advances the close handshake once the send
// window has fully drained, meaning the peer acknowledged our FIN.
func (e *Endpoint) processFINAckedLocked() {
	if !e.sendWin.empty() {
		return
	}
	switch e.state {
	case StateFinWait1:
		e.setStateLocked(StateFinWait2, "fin acked")
	case StateClosing:
		e.setStateLocked(StateTimeWait, "fin acked")
	case StateLastAck:
		e.setStateLocked(StateClosed, "fin acked")
	}
}

func (e *Endpoint) onAbortedLocked() {
	e.sendWin.flush()
	e.recvWin.flush()
	e.stack.queueEventLocked(e, EventAborted)
	e.setStateLocked(StateClosed, "aborted")
}

func (e *Endpoint) setStateLocked(next State, reason string) {
	prev := e.state
	if prev == next {
		return
	}
	e.state = next
	e.stack.logState(e, prev, next, reason)
	if next == StateTimeWait {
		e.timeWaitStart = e.stack.timeNow()
	}
	if next == StateEstablished {
		e.stack.queueEventLocked(e, EventConnected)
	}
	if next == StateTimeWait || (next == StateClosed && prev != StateTimeWait) {
		e.stack.queueEventLocked(e, EventDisconnected)
	}
	e.resetTimerLocked()
	if next == StateClosed {
		e.recvWin.flush()
		e.pendingFlags = 0
		e.stack.queueEventLocked(e, EventClosed)
		e.stack.detachLocked(e)
	}
}

func (e *Endpoint) requireAckLocked() {
	e.pendingFlags |= pendingRequireAckPeer
	e.resetTimerLocked()
}

func (e *Endpoint) notifyDataReceivedLocked() {
	if e.recvWin.available() == 0 {
		return
	}
	e.pendingFlags |= pendingNotifyDataReceived
	e.resetTimerLocked()
}

func (e *Endpoint) notifyDataSentLocked() {
	if !e.canSendDataLocked() {
		return
	}
	e.pendingFlags |= pendingNotifyDataSent
	e.resetTimerLocked()
}

// resetTimerLocked recomputes when the shared timer should service this
// endpoint: immediately while notifications or an acknowledgment are
// pending, at TIME-WAIT expiry, or at the send window's next due time.
// The deadline is pushed out while the buffer pool runs low so reads can
// drain it before more segments arrive.
func (e *Endpoint) resetTimerLocked() {
	if e.detached {
		return
	}
	now := e.stack.timeNow()
	var next time.Time
	switch {
	case e.pendingFlags != 0:
		next = now
	case e.state == StateTimeWait:
		next = e.timeWaitStart.Add(2 * e.stack.msl)
	default:
		t, ok := e.sendWin.nextSendTime(now, e.rttLocked())
		if !ok {
			e.nextWake = time.Time{}
			e.stack.rescheduleLocked()
			return
		}
		next = t
	}
	if next.Before(now.Add(lowBufferDeferral)) && e.stack.pool.FreeCount() <= minFreeBufferThreshold {
		next = now.Add(lowBufferDeferral)
	}
	e.nextWake = next
	e.stack.rescheduleLocked()
}

// handleTimerLocked services the endpoint: pending notifications first,
// then TIME-WAIT expiry, then transmission.
func (e *Endpoint) handleTimerLocked(now time.Time) {
	if e.pendingFlags&(pendingNotifyDataReceived|pendingNotifyDataSent) != 0 {
		if e.pendingFlags&pendingNotifyDataReceived != 0 {
			e.pendingFlags &^= pendingNotifyDataReceived
			e.stack.queueEventLocked(e, EventDataReceived)
		}
		if e.pendingFlags&pendingNotifyDataSent != 0 {
			e.pendingFlags &^= pendingNotifyDataSent
			if e.canSendDataLocked() {
				e.stack.queueEventLocked(e, EventDataSent)
			}
		}
		e.resetTimerLocked()
		return
	}
	if e.state == StateTimeWait && now.Sub(e.timeWaitStart) >= 2*e.stack.msl {
		e.setStateLocked(StateClosed, "time-wait elapsed")
		return
	}
	e.sendLocked()
	e.resetTimerLocked()
}

// sendLocked transmits the next due entry, or a bare acknowledgment when
// an ACK is owed but nothing else is due.
func (e *Endpoint) sendLocked() {
	now := e.stack.timeNow()
	entry, seq := e.sendWin.sendNext(now, e.rttLocked())
	if entry == nil && e.pendingFlags&pendingRequireAckPeer == 0 {
		return
	}
	h := header{
		srcPort: e.sockPort,
		dstPort: e.peerPort,
		seq:     seq,
		ack:     e.rcvNxt,
		window:  e.receiveWindowLocked(),
	}
	if e.state != StateSynSent {
		h.flags |= flagACK
	}
	var payload []byte
	if entry != nil {
		if entry.syn {
			h.flags |= flagSYN
			h.mss = MaxSegmentSize
		}
		if entry.fin {
			h.flags |= flagFIN
		}
		if entry.data != nil {
			payload = entry.data.Bytes()
		}
	}
	if h.flags&flagACK != 0 {
		e.pendingFlags &^= pendingRequireAckPeer
	}
	e.stack.queueSegmentLocked(h, payload, e.sockAddr, e.peerAddr, e.trace.String(), e.state.String())
}

// receiveWindowLocked computes the window advertisement: reassembly
// slots not yet holding readable data, additionally capped while the
// buffer pool runs low so peers back off before allocation fails.
func (e *Endpoint) receiveWindowLocked() uint16 {
	free := e.stack.pool.FreeCount()
	if free <= minFreeBufferThreshold {
		return 0
	}
	window := e.recvWin.slotsLeft() * MaxSegmentSize
	if limit := (free - minFreeBufferThreshold) * MaxSegmentSize; window > limit {
		window = limit
	}
	return uint16(window)
}

// rttLocked returns the retransmission timeout derived from the
// smoothed round-trip estimate.
func (e *Endpoint) rttLocked() time.Duration {
	rtt := e.smoothedRTT * rttBetaNum / rttBetaDen
	if rtt > e.maxRTT {
		rtt = e.maxRTT
	}
	if rtt < e.minRTT {
		rtt = e.minRTT
	}
	return rtt
}

func (e *Endpoint) updateRTT(sample time.Duration) {
	e.smoothedRTT = (e.smoothedRTT*(rttAlpha-1) + sample) / rttAlpha
}

func flagSeqLen(f segmentFlags) int {
	n := 0
	if f&flagSYN != 0 {
		n++
	}
	if f&flagFIN != 0 {
		n++
	}
	return n
}
