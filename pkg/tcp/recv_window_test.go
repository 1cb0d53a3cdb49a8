package tcp

import (
	"bytes"
	"errors"
	"testing"

	"github.com/weft-protocol/weft-go/pkg/message"
)

func newRecvSegment(t *testing.T, pool *message.Pool, seq Sequence, payload []byte, flags segmentFlags) *recvSegment {
	t.Helper()
	seg := &recvSegment{seq: seq, flags: flags}
	if len(payload) > 0 {
		msg, err := pool.NewMessage()
		if err != nil {
			t.Fatalf("NewMessage() error = %v", err)
		}
		if err := msg.Append(payload); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
		seg.data = msg
	}
	return seg
}

func TestRecvWindowSortedInsert(t *testing.T) {
	pool := message.NewPool(0)
	var w recvWindow

	for _, seq := range []Sequence{300, 100, 200} {
		if err := w.add(newRecvSegment(t, pool, seq, []byte("abcd"), flagACK)); err != nil {
			t.Fatalf("add(%d) error = %v", seq, err)
		}
	}
	var got []Sequence
	for _, s := range w.segments {
		got = append(got, s.seq)
	}
	want := []Sequence{100, 200, 300}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestRecvWindowContainedSegmentDropped(t *testing.T) {
	pool := message.NewPool(0)
	var w recvWindow

	if err := w.add(newRecvSegment(t, pool, 100, []byte("abcdefgh"), flagACK)); err != nil {
		t.Fatalf("add error = %v", err)
	}
	err := w.add(newRecvSegment(t, pool, 102, []byte("cd"), flagACK|flagRST))
	if !errors.Is(err, errSegmentDropped) {
		t.Fatalf("contained add error = %v, want errSegmentDropped", err)
	}
	if len(w.segments) != 1 {
		t.Fatalf("segments = %d, want 1", len(w.segments))
	}
	if w.segments[0].flags&flagRST == 0 {
		t.Error("RST flag not folded into covering segment")
	}
}

func TestRecvWindowContainingSegmentReplaces(t *testing.T) {
	pool := message.NewPool(0)
	var w recvWindow

	if err := w.add(newRecvSegment(t, pool, 102, []byte("cd"), flagACK|flagRST)); err != nil {
		t.Fatalf("add error = %v", err)
	}
	if err := w.add(newRecvSegment(t, pool, 100, []byte("abcdefgh"), flagACK)); err != nil {
		t.Fatalf("containing add error = %v", err)
	}
	if len(w.segments) != 1 || w.segments[0].seq != 100 {
		t.Fatalf("containing segment did not replace: %d segments", len(w.segments))
	}
	if w.segments[0].flags&flagRST == 0 {
		t.Error("RST flag lost when subsumed segment was replaced")
	}
}

func TestRecvWindowFullRing(t *testing.T) {
	pool := message.NewPool(0)

	t.Run("tail append dropped with flags folded", func(t *testing.T) {
		var w recvWindow
		for i := 0; i < MaxRecvSegments; i++ {
			if err := w.add(newRecvSegment(t, pool, Sequence(100*i), []byte("ab"), flagACK)); err != nil {
				t.Fatalf("add error = %v", err)
			}
		}
		err := w.add(newRecvSegment(t, pool, Sequence(100*MaxRecvSegments), []byte("ab"), flagACK|flagRST))
		if !errors.Is(err, message.ErrNoBufs) {
			t.Fatalf("tail add error = %v, want ErrNoBufs", err)
		}
		last := w.segments[len(w.segments)-1]
		if last.flags&flagRST == 0 {
			t.Error("dropped tail flags not folded into last segment")
		}
	})

	t.Run("gap fill evicts tail", func(t *testing.T) {
		var w recvWindow
		// Leave a hole at seq 100.
		for i := 0; i < MaxRecvSegments; i++ {
			seq := Sequence(100 * (i + 2))
			if err := w.add(newRecvSegment(t, pool, seq, []byte("ab"), flagACK)); err != nil {
				t.Fatalf("add error = %v", err)
			}
		}
		if err := w.add(newRecvSegment(t, pool, 100, []byte("ab"), flagACK)); err != nil {
			t.Fatalf("gap fill error = %v", err)
		}
		if len(w.segments) != MaxRecvSegments {
			t.Fatalf("segments = %d, want %d", len(w.segments), MaxRecvSegments)
		}
		if w.segments[0].seq != 100 {
			t.Errorf("first seq = %d, want 100", w.segments[0].seq)
		}
		// The former tail is gone.
		lastSeq := w.segments[len(w.segments)-1].seq
		if lastSeq != Sequence(100*MaxRecvSegments) {
			t.Errorf("last seq = %d, want %d", lastSeq, 100*MaxRecvSegments)
		}
	})

	t.Run("all delivered refuses everything", func(t *testing.T) {
		var w recvWindow
		for i := 0; i < MaxRecvSegments; i++ {
			if err := w.add(newRecvSegment(t, pool, Sequence(100*i), []byte("ab"), flagACK)); err != nil {
				t.Fatalf("add error = %v", err)
			}
			w.deliverNext()
		}
		err := w.add(newRecvSegment(t, pool, 5000, []byte("ab"), flagACK))
		if !errors.Is(err, message.ErrNoBufs) {
			t.Fatalf("add error = %v, want ErrNoBufs", err)
		}
	})
}

func TestRecvWindowReadAndAvailable(t *testing.T) {
	pool := message.NewPool(0)
	var w recvWindow

	for i, p := range [][]byte{[]byte("hello "), []byte("world")} {
		if err := w.add(newRecvSegment(t, pool, Sequence(10*i), p, flagACK)); err != nil {
			t.Fatalf("add error = %v", err)
		}
		w.deliverNext()
	}
	if got := w.available(); got != 11 {
		t.Fatalf("available = %d, want 11", got)
	}

	buf := make([]byte, 8)
	if n := w.read(buf); n != 8 || !bytes.Equal(buf, []byte("hello wo")) {
		t.Fatalf("read = %d %q", n, buf[:n])
	}
	if got := w.available(); got != 3 {
		t.Errorf("available after partial read = %d, want 3", got)
	}
	if n := w.read(buf); n != 3 || !bytes.Equal(buf[:3], []byte("rld")) {
		t.Fatalf("second read = %d %q", n, buf[:n])
	}
	if len(w.segments) != 0 || w.processed != 0 {
		t.Errorf("drained window not empty: %d segments", len(w.segments))
	}
}

func TestRecvWindowClearEmpty(t *testing.T) {
	pool := message.NewPool(0)
	var w recvWindow

	if err := w.add(newRecvSegment(t, pool, 0, nil, flagACK)); err != nil {
		t.Fatalf("add error = %v", err)
	}
	if err := w.add(newRecvSegment(t, pool, 1, []byte("ab"), flagACK)); err != nil {
		t.Fatalf("add error = %v", err)
	}
	w.deliverNext()
	w.deliverNext()

	w.clearEmpty()
	if len(w.segments) != 1 || w.processed != 1 {
		t.Fatalf("clearEmpty: %d segments processed=%d, want 1/1", len(w.segments), w.processed)
	}
	if got := w.available(); got != 2 {
		t.Errorf("available = %d, want 2", got)
	}
}
