package message

import (
	"bytes"
	"errors"
	"testing"
)

func TestPoolAllocatesUpToLimit(t *testing.T) {
	pool := NewPool(3)

	var msgs []*Message
	for i := 0; i < 3; i++ {
		m, err := pool.NewMessage()
		if err != nil {
			t.Fatalf("allocation %d failed: %v", i, err)
		}
		msgs = append(msgs, m)
	}

	if pool.FreeCount() != 0 {
		t.Errorf("FreeCount = %d, want 0", pool.FreeCount())
	}

	_, err := pool.NewMessage()
	if !errors.Is(err, ErrNoBufs) {
		t.Errorf("expected ErrNoBufs, got %v", err)
	}

	msgs[0].Free()
	if pool.FreeCount() != 1 {
		t.Errorf("FreeCount after Free = %d, want 1", pool.FreeCount())
	}

	if _, err := pool.NewMessage(); err != nil {
		t.Errorf("allocation after Free failed: %v", err)
	}
}

func TestPoolDefaultSize(t *testing.T) {
	pool := NewPool(0)
	if pool.NumBuffers() != DefaultNumBuffers {
		t.Errorf("NumBuffers = %d, want %d", pool.NumBuffers(), DefaultNumBuffers)
	}
	if pool.FreeCount() != DefaultNumBuffers {
		t.Errorf("FreeCount = %d, want %d", pool.FreeCount(), DefaultNumBuffers)
	}
}

func TestMessageAppendAndRead(t *testing.T) {
	pool := NewPool(1)
	m, err := pool.NewMessage()
	if err != nil {
		t.Fatalf("NewMessage failed: %v", err)
	}

	if err := m.Append([]byte("hello ")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := m.Append([]byte("world")); err != nil {
		t.Fatalf("second Append failed: %v", err)
	}

	if m.Len() != 11 {
		t.Errorf("Len = %d, want 11", m.Len())
	}
	if !bytes.Equal(m.Bytes(), []byte("hello world")) {
		t.Errorf("Bytes = %q", m.Bytes())
	}
}

func TestMessageTrimFront(t *testing.T) {
	pool := NewPool(1)
	m, _ := pool.NewMessage()
	_ = m.Append([]byte("abcdef"))

	m.TrimFront(2)
	if !bytes.Equal(m.Bytes(), []byte("cdef")) {
		t.Errorf("Bytes after TrimFront(2) = %q", m.Bytes())
	}
	if m.Len() != 4 {
		t.Errorf("Len after TrimFront(2) = %d, want 4", m.Len())
	}

	// Trimming past the end empties the message
	m.TrimFront(100)
	if m.Len() != 0 {
		t.Errorf("Len after over-trim = %d, want 0", m.Len())
	}
}

func TestMessageAppendOverflow(t *testing.T) {
	pool := NewPool(1)
	m, _ := pool.NewMessage()

	big := make([]byte, BufferSize)
	if err := m.Append(big); err != nil {
		t.Fatalf("Append at capacity failed: %v", err)
	}

	if err := m.Append([]byte{1}); !errors.Is(err, ErrNoSpace) {
		t.Errorf("expected ErrNoSpace, got %v", err)
	}
}

func TestMessageDoubleFree(t *testing.T) {
	pool := NewPool(2)
	m, _ := pool.NewMessage()

	m.Free()
	m.Free() // no-op

	if pool.FreeCount() != 2 {
		t.Errorf("FreeCount after double free = %d, want 2", pool.FreeCount())
	}
}
