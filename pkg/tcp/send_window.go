package tcp

import (
	"time"

	"github.com/weft-protocol/weft-go/pkg/message"
)

// sendEntry is one slot of the send window ring. A SYN or FIN marker may
// have no message; a FIN may also piggyback on a data entry.
type sendEntry struct {
	data      *message.Message
	sendCount int

	// lastSend is the creation time until the first send.
	lastSend time.Time

	syn bool
	fin bool
}

func (e *sendEntry) dataLen() int {
	if e.data == nil {
		return 0
	}
	return e.data.Len()
}

// seqLen is the sequence space the entry occupies. SYN and FIN each
// consume one sequence number.
func (e *sendEntry) seqLen() int {
	n := e.dataLen()
	if e.syn {
		n++
	}
	if e.fin {
		n++
	}
	return n
}

// writable reports whether more payload may be appended to the entry.
func (e *sendEntry) writable() bool {
	return e.sendCount == 0 && !e.syn && !e.fin && e.data != nil &&
		e.data.Len() < MaxSegmentSize
}

// sendWindow is the FIFO ring of unacknowledged and unsent entries.
// startSeq is the sequence number of the first entry (SND.UNA).
type sendWindow struct {
	entries  []*sendEntry
	startSeq Sequence

	// Peer-advertised window and the coordinates of the segment it was
	// taken from (SND.WND, SND.WL1, SND.WL2). wnd starts at 1 so the
	// opening SYN may go out before the peer has advertised anything.
	wnd uint16
	wl1 Sequence
	wl2 Sequence

	// pendingFIN records a FIN that could not be queued because the ring
	// was full. It is enqueued when acknowledgments free a slot.
	pendingFIN bool
}

func (w *sendWindow) empty() bool {
	return len(w.entries) == 0
}

func (w *sendWindow) full() bool {
	return len(w.entries) >= MaxSendSegments
}

// seqOf returns the sequence number of entry i.
func (w *sendWindow) seqOf(i int) Sequence {
	seq := w.startSeq
	for _, e := range w.entries[:i] {
		seq = seq.Add(e.seqLen())
	}
	return seq
}

// stopSeq returns the sequence number just past the last entry.
func (w *sendWindow) stopSeq() Sequence {
	return w.seqOf(len(w.entries))
}

// lastWritable returns the final entry if payload may still be appended
// to it.
func (w *sendWindow) lastWritable() *sendEntry {
	if len(w.entries) == 0 {
		return nil
	}
	last := w.entries[len(w.entries)-1]
	if !last.writable() {
		return nil
	}
	return last
}

func (w *sendWindow) push(e *sendEntry, now time.Time) {
	e.lastSend = now
	w.entries = append(w.entries, e)
}

// queueSYN places the opening SYN. The ring must be empty.
func (w *sendWindow) queueSYN(now time.Time) {
	w.push(&sendEntry{syn: true}, now)
}

// queueFIN places a FIN in the ring: piggybacked on the last unsent data
// entry when possible, as its own entry when there is room, otherwise
// latched until reclaim frees a slot.
func (w *sendWindow) queueFIN(now time.Time) {
	if len(w.entries) > 0 {
		last := w.entries[len(w.entries)-1]
		if last.sendCount == 0 && !last.syn && !last.fin {
			last.fin = true
			return
		}
	}
	if !w.full() {
		w.push(&sendEntry{fin: true}, now)
		return
	}
	w.pendingFIN = true
}

// reclaim removes entries fully covered by ack and advances startSeq.
// It returns the number of reclaimed entries and the smallest round-trip
// sample among them (ok is false when no entry yielded a sample). A
// latched FIN is enqueued once room opens.
func (w *sendWindow) reclaim(ack Sequence, now time.Time) (reclaimed int, rtt time.Duration, ok bool) {
	for len(w.entries) > 0 {
		e := w.entries[0]
		stop := w.startSeq.Add(e.seqLen())
		if ack.Before(stop) {
			break
		}
		if e.sendCount > 0 {
			sample := now.Sub(e.lastSend)
			if !ok || sample < rtt {
				rtt = sample
				ok = true
			}
		}
		if e.data != nil {
			e.data.Free()
		}
		w.entries = w.entries[1:]
		w.startSeq = stop
		reclaimed++
	}
	if w.pendingFIN && !w.full() {
		w.push(&sendEntry{fin: true}, now)
		w.pendingFIN = false
	}
	return reclaimed, rtt, ok
}

// flush releases every entry and its buffers.
func (w *sendWindow) flush() {
	for _, e := range w.entries {
		if e.data != nil {
			e.data.Free()
		}
	}
	w.entries = nil
	w.pendingFIN = false
}

// configBySYN seats the window-update coordinates from the peer's SYN so
// the first acknowledgment after the handshake passes the update test.
func (w *sendWindow) configBySYN(seq Sequence) {
	w.wl1 = seq.Add(-1)
}

// updateWindow applies the peer's advertised window when the carrying
// segment is newer than the last update (the SND.WL1/SND.WL2 rule).
// Segments not acknowledging anything beyond startSeq are ignored.
func (w *sendWindow) updateWindow(seq, ack Sequence, wnd uint16) {
	if !ack.After(w.startSeq) {
		return
	}
	if w.wl1.Before(seq) || (w.wl1 == seq && !w.wl2.After(ack)) {
		w.wnd = wnd
		w.wl1 = seq
		w.wl2 = ack
	}
}

// sendNextSeq returns SND.NXT: the sequence number after the last entry
// that has been handed to the wire at least once.
func (w *sendWindow) sendNextSeq() Sequence {
	seq := w.startSeq
	for _, e := range w.entries {
		if e.sendCount == 0 {
			break
		}
		seq = seq.Add(e.seqLen())
	}
	return seq
}

// sendTimeout returns the delay after lastSend before the entry starting
// at seq should next hit the wire: the probe interval when it does not
// fit the peer window, the coalescing delay for fresh writable data,
// immediately for other unsent entries, and the retransmission timeout
// after a send.
func (w *sendWindow) sendTimeout(e *sendEntry, seq Sequence, rtt time.Duration) time.Duration {
	switch {
	case seq.Add(e.seqLen()).After(w.startSeq.Add(int(w.wnd))):
		return ZeroWindowProbeInterval
	case e.sendCount == 0:
		if e.writable() {
			return NewMessageSendDelay
		}
		return 0
	case e.syn:
		return SynRetryInterval
	default:
		return rtt
	}
}

// sendNext picks the first entry whose send time has arrived, allowing
// the coalescing delay of slack so one timer firing drains entries due
// imminently. The entry is marked sent and returned with its sequence
// number; nil means nothing is due.
func (w *sendWindow) sendNext(now time.Time, rtt time.Duration) (*sendEntry, Sequence) {
	seq := w.startSeq
	for _, e := range w.entries {
		due := e.lastSend.Add(w.sendTimeout(e, seq, rtt))
		if !now.Add(NewMessageSendDelay).Before(due) {
			e.sendCount++
			e.lastSend = now
			return e, seq
		}
		seq = seq.Add(e.seqLen())
	}
	return nil, w.startSeq
}

// nextSendTime returns the earliest time any entry becomes due, clamped
// to now. ok is false when the ring is empty.
func (w *sendWindow) nextSendTime(now time.Time, rtt time.Duration) (next time.Time, ok bool) {
	seq := w.startSeq
	for _, e := range w.entries {
		due := e.lastSend.Add(w.sendTimeout(e, seq, rtt))
		if !due.After(now) {
			return now, true
		}
		if !ok || due.Before(next) {
			next = due
			ok = true
		}
		seq = seq.Add(e.seqLen())
	}
	return next, ok
}
