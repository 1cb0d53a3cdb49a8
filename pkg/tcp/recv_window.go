package tcp

import (
	"errors"

	"github.com/weft-protocol/weft-go/pkg/message"
)

// errSegmentDropped reports a segment whose range was already covered;
// its flags were folded into the covering segment.
var errSegmentDropped = errors.New("segment dropped")

// recvSegment is one received segment held for reassembly or reading.
// Flags and acknowledgment travel with the payload so they are processed
// in sequence order.
type recvSegment struct {
	seq    Sequence
	flags  segmentFlags
	ack    Sequence
	window uint16
	data   *message.Message
}

func (s *recvSegment) dataLen() int {
	if s.data == nil {
		return 0
	}
	return s.data.Len()
}

// seqLen is the sequence space the segment occupies, including SYN and
// FIN bits.
func (s *recvSegment) seqLen() int {
	n := s.dataLen()
	if s.flags&flagSYN != 0 {
		n++
	}
	if s.flags&flagFIN != 0 {
		n++
	}
	return n
}

func (s *recvSegment) stop() Sequence {
	return s.seq.Add(s.seqLen())
}

func (s *recvSegment) free() {
	if s.data != nil {
		s.data.Free()
		s.data = nil
	}
}

// mergeFlags folds another segment's control information into s: RST is
// sticky and the more recent acknowledgment wins.
func (s *recvSegment) mergeFlags(o *recvSegment) {
	s.flags |= o.flags & flagRST
	if o.flags&flagACK == 0 {
		return
	}
	if s.flags&flagACK == 0 || o.ack.After(s.ack) {
		s.flags |= flagACK
		s.ack = o.ack
		s.window = o.window
	}
}

// recvWindow is the receive ring. segments[:processed] hold delivered
// payload waiting to be read; segments[processed:] wait for the sequence
// cursor to reach them.
type recvWindow struct {
	segments  []*recvSegment
	processed int
}

func (w *recvWindow) full() bool {
	return len(w.segments) >= MaxRecvSegments
}

// slotsLeft returns the ring slots not occupied by delivered payload.
func (w *recvWindow) slotsLeft() int {
	return MaxRecvSegments - w.processed
}

// add inserts seg in sequence order. A segment contained in an existing
// one only contributes its flags (errSegmentDropped); a segment
// containing existing ones replaces them. When the ring is full a
// segment that would append at the tail is dropped with its flags folded
// into the tail, otherwise the undelivered tail is evicted to make room;
// when every slot holds delivered payload nothing can be inserted and
// ErrNoBufs is returned.
func (w *recvWindow) add(seg *recvSegment) error {
	for _, e := range w.segments[w.processed:] {
		if !seg.seq.Before(e.seq) && !seg.stop().After(e.stop()) {
			e.mergeFlags(seg)
			seg.free()
			return errSegmentDropped
		}
	}

	kept := w.segments[:w.processed]
	for _, e := range w.segments[w.processed:] {
		if !e.seq.Before(seg.seq) && !e.stop().After(seg.stop()) {
			seg.mergeFlags(e)
			e.free()
			continue
		}
		kept = append(kept, e)
	}
	w.segments = kept

	pos := len(w.segments)
	for i := w.processed; i < len(w.segments); i++ {
		if seg.seq.Before(w.segments[i].seq) {
			pos = i
			break
		}
	}

	if w.full() {
		if w.processed == len(w.segments) {
			seg.free()
			return message.ErrNoBufs
		}
		if pos == len(w.segments) {
			w.segments[len(w.segments)-1].mergeFlags(seg)
			seg.free()
			return message.ErrNoBufs
		}
		tail := w.segments[len(w.segments)-1]
		w.segments = w.segments[:len(w.segments)-1]
		if pos == len(w.segments) {
			seg.mergeFlags(tail)
		} else {
			w.segments[len(w.segments)-1].mergeFlags(tail)
		}
		tail.free()
	}

	w.segments = append(w.segments, nil)
	copy(w.segments[pos+1:], w.segments[pos:])
	w.segments[pos] = seg
	return nil
}

// next returns the first undelivered segment.
func (w *recvWindow) next() *recvSegment {
	if w.processed >= len(w.segments) {
		return nil
	}
	return w.segments[w.processed]
}

// deliverNext moves the first undelivered segment into the readable
// region.
func (w *recvWindow) deliverNext() {
	w.processed++
}

// clearEmpty releases delivered segments that carried no payload (pure
// acknowledgments and control segments) so they stop occupying ring
// slots.
func (w *recvWindow) clearEmpty() {
	kept := w.segments[:0]
	removed := 0
	for i, s := range w.segments {
		if i < w.processed && s.dataLen() == 0 {
			s.free()
			removed++
			continue
		}
		kept = append(kept, s)
	}
	w.segments = kept
	w.processed -= removed
}

// read copies delivered payload into buf, releasing drained segments.
func (w *recvWindow) read(buf []byte) int {
	n := 0
	for w.processed > 0 && n < len(buf) {
		s := w.segments[0]
		if s.dataLen() == 0 {
			w.removeFirst()
			continue
		}
		c := copy(buf[n:], s.data.Bytes())
		s.data.TrimFront(c)
		n += c
		if s.data.Len() == 0 {
			w.removeFirst()
		}
	}
	return n
}

// available returns the number of delivered bytes waiting to be read.
func (w *recvWindow) available() int {
	n := 0
	for _, s := range w.segments[:w.processed] {
		n += s.dataLen()
	}
	return n
}

func (w *recvWindow) removeFirst() {
	w.segments[0].free()
	w.segments = w.segments[1:]
	w.processed--
}

// flush releases every segment and its buffers.
func (w *recvWindow) flush() {
	for _, s := range w.segments {
		s.free()
	}
	w.segments = nil
	w.processed = 0
}
