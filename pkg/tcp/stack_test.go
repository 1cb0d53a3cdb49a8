package tcp

import (
	"bytes"
	"errors"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/weft-protocol/weft-go/pkg/message"
)

var (
	stackTestTime = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	addrA         = netip.MustParseAddr("fd00::1")
	addrB         = netip.MustParseAddr("fd00::2")
)

// fakeClock provides a controllable time source for deterministic tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{now: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// captureWriter records every segment the stack emits.
type captureWriter struct {
	mu   sync.Mutex
	segs [][]byte
}

func (c *captureWriter) WriteSegment(seg []byte, src, dst netip.Addr) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.segs = append(c.segs, append([]byte(nil), seg...))
	return nil
}

func (c *captureWriter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.segs)
}

func (c *captureWriter) last(t *testing.T) (header, []byte) {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.segs) == 0 {
		t.Fatal("no segment captured")
	}
	seg := c.segs[len(c.segs)-1]
	h, off, err := parseHeader(seg)
	if err != nil {
		t.Fatalf("parse captured segment: %v", err)
	}
	return h, seg[off:]
}

// pipe delivers emitted segments synchronously into the peer stack.
type pipe struct {
	mu   sync.Mutex
	peer *Stack
	drop bool
}

func (p *pipe) WriteSegment(seg []byte, src, dst netip.Addr) error {
	p.mu.Lock()
	peer := p.peer
	drop := p.drop
	p.mu.Unlock()
	if peer != nil && !drop {
		peer.HandleSegment(seg, src, dst)
	}
	return nil
}

// eventRecorder collects endpoint events in order.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) handler() EventHandler {
	return func(_ *Endpoint, ev Event) {
		r.mu.Lock()
		r.events = append(r.events, ev)
		r.mu.Unlock()
	}
}

func (r *eventRecorder) has(ev Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e == ev {
			return true
		}
	}
	return false
}

func newTestStack(t *testing.T, out SegmentWriter, local netip.Addr, clk *fakeClock) *Stack {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Output = out
	cfg.LocalAddr = local
	cfg.MSL = 200 * time.Millisecond
	s, err := NewStack(cfg)
	if err != nil {
		t.Fatalf("NewStack() error = %v", err)
	}
	s.timeNow = clk.Now
	t.Cleanup(s.Close)
	return s
}

// dueNow reports whether any endpoint's deadline has arrived.
func (s *Stack) dueNow() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.timeNow()
	for _, e := range s.endpoints {
		if !e.nextWake.IsZero() && !e.nextWake.After(now) {
			return true
		}
	}
	return false
}

// pump fires the stack timers until no endpoint has due work left. The
// explicit flush calls drain anything a concurrently fired background
// timer queued but has not yet written out.
func pump(t *testing.T, stacks ...*Stack) {
	t.Helper()
	for i := 0; i < 64; i++ {
		idle := true
		for _, s := range stacks {
			s.flush()
			if s.dueNow() {
				s.handleTimer()
				idle = false
			}
		}
		if idle {
			for _, s := range stacks {
				s.flush()
			}
			return
		}
	}
	t.Fatal("stacks did not quiesce")
}

func inject(s *Stack, h header, payload []byte, src, dst netip.Addr) {
	seg := packSegment(h, payload)
	fillChecksum(src, dst, seg)
	s.HandleSegment(seg, src, dst)
}

func rcvNxtOf(s *Stack, e *Endpoint) Sequence {
	s.mu.Lock()
	defer s.mu.Unlock()
	return e.rcvNxt
}

// establishPair wires two stacks back to back and completes a handshake
// between a listener on B port 7 and a connector on A.
func establishPair(t *testing.T) (*fakeClock, *Stack, *Stack, *Endpoint, *Endpoint, *eventRecorder, *eventRecorder) {
	t.Helper()
	clk := newFakeClock(stackTestTime)
	pa, pb := &pipe{}, &pipe{}
	sA := newTestStack(t, pa, addrA, clk)
	sB := newTestStack(t, pb, addrB, clk)
	pa.peer, pb.peer = sB, sA

	recA, recB := &eventRecorder{}, &eventRecorder{}
	epB, err := sB.Open(recB.handler())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := epB.Bind(netip.Addr{}, 7); err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	if err := epB.Listen(); err != nil {
		t.Fatalf("Listen() error = %v", err)
	}

	epA, err := sA.Open(recA.handler())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := epA.Connect(addrB, 7); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	pump(t, sA, sB)

	if got := epA.State(); got != StateEstablished {
		t.Fatalf("connector state = %s, want ESTABLISHED", got)
	}
	if got := epB.State(); got != StateEstablished {
		t.Fatalf("listener state = %s, want ESTABLISHED", got)
	}
	if !recA.has(EventConnected) || !recB.has(EventConnected) {
		t.Fatal("missing CONNECTED events")
	}
	return clk, sA, sB, epA, epB, recA, recB
}

func TestConnectionLifecycle(t *testing.T) {
	clk, sA, sB, epA, epB, recA, recB := establishPair(t)

	if n := epA.Write([]byte("ping")); n != 4 {
		t.Fatalf("Write = %d, want 4", n)
	}
	clk.Advance(20 * time.Millisecond)
	pump(t, sA, sB)

	buf := make([]byte, 16)
	if n := epB.Read(buf); n != 4 || !bytes.Equal(buf[:4], []byte("ping")) {
		t.Fatalf("listener read %q (%d bytes)", buf[:n], n)
	}
	if !recB.has(EventDataReceived) {
		t.Error("listener missing DATA-RECEIVED")
	}
	if !recA.has(EventDataSent) {
		t.Error("connector missing DATA-SENT")
	}

	if n := epB.Write([]byte("pong")); n != 4 {
		t.Fatalf("Write = %d, want 4", n)
	}
	clk.Advance(20 * time.Millisecond)
	pump(t, sA, sB)
	if n := epA.Read(buf); n != 4 || !bytes.Equal(buf[:4], []byte("pong")) {
		t.Fatalf("connector read %q (%d bytes)", buf[:n], n)
	}

	epA.Close()
	pump(t, sA, sB)
	if got := epA.State(); got != StateFinWait2 {
		t.Fatalf("connector state after close = %s, want FIN-WAIT-2", got)
	}
	if got := epB.State(); got != StateCloseWait {
		t.Fatalf("listener state = %s, want CLOSE-WAIT", got)
	}

	epB.Close()
	pump(t, sA, sB)
	if got := epB.State(); got != StateClosed {
		t.Fatalf("listener state = %s, want CLOSED", got)
	}
	if got := epA.State(); got != StateTimeWait {
		t.Fatalf("connector state = %s, want TIME-WAIT", got)
	}

	clk.Advance(500 * time.Millisecond)
	pump(t, sA, sB)
	if got := epA.State(); got != StateClosed {
		t.Fatalf("connector state after 2*MSL = %s, want CLOSED", got)
	}

	for name, rec := range map[string]*eventRecorder{"connector": recA, "listener": recB} {
		if !rec.has(EventDisconnected) || !rec.has(EventClosed) {
			t.Errorf("%s missing close events", name)
		}
		if rec.has(EventAborted) {
			t.Errorf("%s saw ABORTED on orderly close", name)
		}
	}
}

// acceptConnection drives a handshake against a listener from a crafted
// peer and returns the listener's initial send sequence.
func acceptConnection(t *testing.T, s *Stack, out *captureWriter, peerISS Sequence) Sequence {
	t.Helper()
	inject(s, header{
		srcPort: 50000, dstPort: 7,
		seq: peerISS, flags: flagSYN, window: 4096, mss: MaxSegmentSize,
	}, nil, addrB, addrA)
	pump(t, s)

	synAck, _ := out.last(t)
	if synAck.flags != flagSYN|flagACK {
		t.Fatalf("reply flags = %s, want SYN|ACK", synAck.flags)
	}
	if synAck.ack != peerISS.Add(1) {
		t.Fatalf("SYN-ACK ack = %d, want %d", synAck.ack, peerISS.Add(1))
	}

	inject(s, header{
		srcPort: 50000, dstPort: 7,
		seq: peerISS.Add(1), ack: synAck.seq.Add(1), flags: flagACK, window: 4096,
	}, nil, addrB, addrA)
	pump(t, s)
	return synAck.seq
}

func TestOutOfOrderSegmentsReassembled(t *testing.T) {
	clk := newFakeClock(stackTestTime)
	out := &captureWriter{}
	s := newTestStack(t, out, addrA, clk)
	rec := &eventRecorder{}
	ep, err := s.Open(rec.handler())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := ep.Bind(netip.Addr{}, 7); err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	if err := ep.Listen(); err != nil {
		t.Fatalf("Listen() error = %v", err)
	}

	acceptConnection(t, s, out, 1000)
	if got := ep.State(); got != StateEstablished {
		t.Fatalf("state = %s, want ESTABLISHED", got)
	}

	p1 := bytes.Repeat([]byte("a"), 100)
	p2 := bytes.Repeat([]byte("b"), 100)
	p3 := bytes.Repeat([]byte("c"), 100)

	inject(s, header{srcPort: 50000, dstPort: 7, seq: 1001, ack: rcvAckOf(s, ep), flags: flagACK, window: 4096}, p1, addrB, addrA)
	pump(t, s)
	if got := rcvNxtOf(s, ep); got != 1101 {
		t.Fatalf("RCV.NXT after first segment = %d, want 1101", got)
	}

	// The third segment arrives before the second: it is held, the
	// cursor does not move, and the gap draws a duplicate acknowledgment.
	inject(s, header{srcPort: 50000, dstPort: 7, seq: 1201, ack: rcvAckOf(s, ep), flags: flagACK, window: 4096}, p3, addrB, addrA)
	pump(t, s)
	if got := rcvNxtOf(s, ep); got != 1101 {
		t.Fatalf("RCV.NXT after out-of-order segment = %d, want 1101", got)
	}
	h, _ := out.last(t)
	if h.ack != 1101 {
		t.Fatalf("gap acknowledgment = %d, want 1101", h.ack)
	}

	inject(s, header{srcPort: 50000, dstPort: 7, seq: 1101, ack: rcvAckOf(s, ep), flags: flagACK, window: 4096}, p2, addrB, addrA)
	pump(t, s)
	if got := rcvNxtOf(s, ep); got != 1301 {
		t.Fatalf("RCV.NXT after gap fill = %d, want 1301", got)
	}
	h, _ = out.last(t)
	if h.ack != 1301 {
		t.Fatalf("final acknowledgment = %d, want 1301", h.ack)
	}

	buf := make([]byte, 400)
	n := ep.Read(buf)
	want := append(append(append([]byte(nil), p1...), p2...), p3...)
	if n != 300 || !bytes.Equal(buf[:n], want) {
		t.Fatalf("read %d bytes, payload mismatch", n)
	}
}

// rcvAckOf returns the acknowledgment number a crafted peer should use:
// the endpoint's next unsent sequence.
func rcvAckOf(s *Stack, e *Endpoint) Sequence {
	s.mu.Lock()
	defer s.mu.Unlock()
	return e.sendWin.sendNextSeq()
}

func TestDuplicateSegmentAcknowledgedNotDelivered(t *testing.T) {
	clk := newFakeClock(stackTestTime)
	out := &captureWriter{}
	s := newTestStack(t, out, addrA, clk)
	ep, err := s.Open((&eventRecorder{}).handler())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := ep.Bind(netip.Addr{}, 7); err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	if err := ep.Listen(); err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	acceptConnection(t, s, out, 1000)

	payload := bytes.Repeat([]byte("x"), 50)
	seg := header{srcPort: 50000, dstPort: 7, seq: 1001, ack: rcvAckOf(s, ep), flags: flagACK, window: 4096}
	inject(s, seg, payload, addrB, addrA)
	pump(t, s)

	buf := make([]byte, 100)
	if n := ep.Read(buf); n != 50 {
		t.Fatalf("first read = %d, want 50", n)
	}

	before := out.count()
	inject(s, seg, payload, addrB, addrA)
	pump(t, s)

	if out.count() <= before {
		t.Fatal("duplicate segment drew no acknowledgment")
	}
	h, _ := out.last(t)
	if h.ack != 1051 {
		t.Errorf("duplicate ack = %d, want 1051", h.ack)
	}
	if n := ep.Read(buf); n != 0 {
		t.Errorf("duplicate delivered %d bytes", n)
	}
	if got := rcvNxtOf(s, ep); got != 1051 {
		t.Errorf("RCV.NXT = %d, want 1051", got)
	}
}

func TestUnknownDestinationDrawsReset(t *testing.T) {
	clk := newFakeClock(stackTestTime)
	out := &captureWriter{}
	s := newTestStack(t, out, addrA, clk)

	// A segment carrying ACK draws a reset sequenced at that ACK.
	inject(s, header{srcPort: 1234, dstPort: 9999, seq: 5000, ack: 7777, flags: flagACK, window: 512}, []byte("junk"), addrB, addrA)
	h, _ := out.last(t)
	if h.flags != flagRST {
		t.Fatalf("reply flags = %s, want RST", h.flags)
	}
	if h.seq != 7777 || h.srcPort != 9999 || h.dstPort != 1234 {
		t.Errorf("reset header = %+v", h)
	}

	// Without ACK the reset acknowledges the whole segment instead.
	inject(s, header{srcPort: 1234, dstPort: 9999, seq: 5000, flags: flagSYN, window: 512}, nil, addrB, addrA)
	h, _ = out.last(t)
	if h.flags != flagRST|flagACK {
		t.Fatalf("reply flags = %s, want RST|ACK", h.flags)
	}
	if h.seq != 0 || h.ack != 5001 {
		t.Errorf("reset seq/ack = %d/%d, want 0/5001", h.seq, h.ack)
	}

	// Resets never answer resets.
	before := out.count()
	inject(s, header{srcPort: 1234, dstPort: 9999, seq: 5000, flags: flagRST, window: 0}, nil, addrB, addrA)
	if out.count() != before {
		t.Error("reset segment drew a reply")
	}
}

func TestPeerResetAbortsConnect(t *testing.T) {
	clk := newFakeClock(stackTestTime)
	out := &captureWriter{}
	s := newTestStack(t, out, addrA, clk)
	rec := &eventRecorder{}
	ep, err := s.Open(rec.handler())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := ep.Connect(addrB, 9); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	pump(t, s)

	syn, _ := out.last(t)
	if syn.flags != flagSYN {
		t.Fatalf("first segment flags = %s, want SYN", syn.flags)
	}
	if syn.mss != MaxSegmentSize {
		t.Errorf("SYN mss = %d, want %d", syn.mss, MaxSegmentSize)
	}

	inject(s, header{
		srcPort: 9, dstPort: syn.srcPort,
		ack: syn.seq.Add(1), flags: flagRST | flagACK,
	}, nil, addrB, addrA)

	if got := ep.State(); got != StateClosed {
		t.Fatalf("state = %s, want CLOSED", got)
	}
	for _, ev := range []Event{EventAborted, EventDisconnected, EventClosed} {
		if !rec.has(ev) {
			t.Errorf("missing %s event", ev)
		}
	}
}

func TestAbortSendsReset(t *testing.T) {
	_, sA, sB, epA, epB, recA, recB := establishPair(t)

	epA.Abort()
	pump(t, sA, sB)

	if got := epA.State(); got != StateClosed {
		t.Errorf("aborting side state = %s, want CLOSED", got)
	}
	if got := epB.State(); got != StateClosed {
		t.Errorf("peer state = %s, want CLOSED", got)
	}
	if !recA.has(EventAborted) || !recB.has(EventAborted) {
		t.Error("missing ABORTED events")
	}
}

func TestZeroWindowProbe(t *testing.T) {
	clk := newFakeClock(stackTestTime)
	out := &captureWriter{}
	s := newTestStack(t, out, addrA, clk)
	ep, err := s.Open((&eventRecorder{}).handler())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := ep.Bind(netip.Addr{}, 7); err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	if err := ep.Listen(); err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	acceptConnection(t, s, out, 1000)

	if n := ep.Write([]byte("abcd")); n != 4 {
		t.Fatalf("Write = %d, want 4", n)
	}
	clk.Advance(20 * time.Millisecond)
	pump(t, s)
	h, payload := out.last(t)
	if !bytes.Equal(payload, []byte("abcd")) {
		t.Fatalf("data segment payload = %q", payload)
	}

	// Acknowledge the data while closing the window.
	inject(s, header{
		srcPort: 50000, dstPort: 7,
		seq: 1001, ack: h.seq.Add(4), flags: flagACK, window: 0,
	}, nil, addrB, addrA)
	pump(t, s)

	if n := ep.Write([]byte("wxyz")); n != 4 {
		t.Fatalf("Write = %d, want 4", n)
	}
	before := out.count()
	clk.Advance(500 * time.Millisecond)
	pump(t, s)
	if out.count() != before {
		t.Fatal("segment sent before the zero-window probe interval")
	}

	clk.Advance(600 * time.Millisecond)
	pump(t, s)
	if out.count() == before {
		t.Fatal("no zero-window probe sent")
	}
	_, payload = out.last(t)
	if !bytes.Equal(payload, []byte("wxyz")) {
		t.Errorf("probe payload = %q", payload)
	}
}

func TestChecksumFailureDropped(t *testing.T) {
	clk := newFakeClock(stackTestTime)
	out := &captureWriter{}
	s := newTestStack(t, out, addrA, clk)
	ep, err := s.Open((&eventRecorder{}).handler())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := ep.Bind(netip.Addr{}, 7); err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	if err := ep.Listen(); err != nil {
		t.Fatalf("Listen() error = %v", err)
	}

	seg := packSegment(header{srcPort: 50000, dstPort: 7, seq: 1000, flags: flagSYN, window: 4096}, nil)
	fillChecksum(addrB, addrA, seg)
	seg[4] ^= 0xff
	s.HandleSegment(seg, addrB, addrA)
	pump(t, s)

	if got := ep.State(); got != StateListen {
		t.Errorf("state = %s, want LISTEN", got)
	}
	if out.count() != 0 {
		t.Errorf("%d segments emitted for corrupt input", out.count())
	}
}

func TestEphemeralPortAssignment(t *testing.T) {
	clk := newFakeClock(stackTestTime)
	s := newTestStack(t, &captureWriter{}, addrA, clk)

	s.mu.Lock()
	s.nextEphemeral = DynamicPortMax
	s.mu.Unlock()

	ep1, _ := s.Open((&eventRecorder{}).handler())
	if err := ep1.Bind(netip.Addr{}, 0); err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	if got := ep1.LocalAddrPort().Port(); got != DynamicPortMax {
		t.Errorf("first ephemeral port = %d, want %d", got, DynamicPortMax)
	}

	ep2, _ := s.Open((&eventRecorder{}).handler())
	if err := ep2.Bind(netip.Addr{}, 0); err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	if got := ep2.LocalAddrPort().Port(); got != DynamicPortMin {
		t.Errorf("wrapped ephemeral port = %d, want %d", got, DynamicPortMin)
	}
}

func TestEndpointArgumentChecks(t *testing.T) {
	clk := newFakeClock(stackTestTime)
	s := newTestStack(t, &captureWriter{}, addrA, clk)

	if _, err := s.Open(nil); !errors.Is(err, ErrInvalidArgs) {
		t.Errorf("Open(nil) error = %v, want ErrInvalidArgs", err)
	}

	rec := &eventRecorder{}
	ep, err := s.Open(rec.handler())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	if err := ep.Listen(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Listen() unbound error = %v, want ErrInvalidState", err)
	}
	if err := ep.Connect(netip.Addr{}, 9); !errors.Is(err, ErrInvalidArgs) {
		t.Errorf("Connect() no addr error = %v, want ErrInvalidArgs", err)
	}
	if err := ep.Connect(addrB, 0); !errors.Is(err, ErrInvalidArgs) {
		t.Errorf("Connect() no port error = %v, want ErrInvalidArgs", err)
	}
	if err := ep.ConfigRoundTripTime(time.Second, time.Millisecond); !errors.Is(err, ErrInvalidArgs) {
		t.Errorf("ConfigRoundTripTime() error = %v, want ErrInvalidArgs", err)
	}
	if n := ep.Write([]byte("x")); n != 0 {
		t.Errorf("Write before connect = %d, want 0", n)
	}

	if err := ep.Bind(netip.Addr{}, 7); err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	if err := ep.Bind(netip.Addr{}, 8); !errors.Is(err, ErrInvalidState) {
		t.Errorf("second Bind() error = %v, want ErrInvalidState", err)
	}

	if err := ep.Listen(); err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	ep.Close()
	if got := ep.State(); got != StateClosed {
		t.Fatalf("state after close = %s, want CLOSED", got)
	}
	if !rec.has(EventClosed) {
		t.Error("missing CLOSED event")
	}
	if err := ep.Listen(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Listen() on detached endpoint error = %v, want ErrInvalidState", err)
	}
}

func TestLowBufferPoolClosesWindow(t *testing.T) {
	clk := newFakeClock(stackTestTime)
	cfg := DefaultConfig()
	cfg.Output = &captureWriter{}
	cfg.LocalAddr = addrA
	cfg.Pool = message.NewPool(minFreeBufferThreshold + 1)
	s, err := NewStack(cfg)
	if err != nil {
		t.Fatalf("NewStack() error = %v", err)
	}
	s.timeNow = clk.Now
	t.Cleanup(s.Close)

	ep, err := s.Open((&eventRecorder{}).handler())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	s.mu.Lock()
	got := ep.receiveWindowLocked()
	s.mu.Unlock()
	if got != MaxSegmentSize {
		t.Errorf("window with one spare buffer = %d, want %d", got, MaxSegmentSize)
	}

	msg, err := s.pool.NewMessage()
	if err != nil {
		t.Fatalf("NewMessage() error = %v", err)
	}
	defer msg.Free()

	s.mu.Lock()
	got = ep.receiveWindowLocked()
	s.mu.Unlock()
	if got != 0 {
		t.Errorf("window at low-buffer threshold = %d, want 0", got)
	}
}
