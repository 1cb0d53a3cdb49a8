// Package message provides a bounded buffer pool for TCP segment payloads.
// The pool's free count drives receive-window advertisement and timer
// deferral when buffers run low.
package message

import (
	"errors"
	"sync"
)

var (
	// ErrNoBufs indicates the pool has no free buffers.
	ErrNoBufs = errors.New("no free message buffers")

	// ErrNoSpace indicates an append would exceed the buffer capacity.
	ErrNoSpace = errors.New("message buffer full")
)

const (
	// BufferSize is the capacity of a single message buffer. Sized for one
	// maximum TCP segment (header, options and payload) on a 1280-byte MTU.
	BufferSize = 1280

	// DefaultNumBuffers is the pool size when none is configured.
	DefaultNumBuffers = 64
)

// Pool hands out fixed-size message buffers up to a configured limit.
// All methods are safe for concurrent use.
type Pool struct {
	mu    sync.Mutex
	total int
	free  int
}

// NewPool creates a pool with numBuffers buffers.
// A numBuffers of 0 uses DefaultNumBuffers.
func NewPool(numBuffers int) *Pool {
	if numBuffers <= 0 {
		numBuffers = DefaultNumBuffers
	}
	return &Pool{total: numBuffers, free: numBuffers}
}

// NewMessage allocates a message backed by one pool buffer.
// Returns ErrNoBufs when the pool is exhausted.
func (p *Pool) NewMessage() (*Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.free == 0 {
		return nil, ErrNoBufs
	}
	p.free--
	return &Message{pool: p, buf: make([]byte, 0, BufferSize)}, nil
}

// FreeCount returns the number of free buffers.
func (p *Pool) FreeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.free
}

// NumBuffers returns the pool size.
func (p *Pool) NumBuffers() int {
	return p.total
}

func (p *Pool) release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.free < p.total {
		p.free++
	}
}

// Message is a byte buffer drawn from a Pool. The offset cursor supports
// consuming parsed headers without copying.
type Message struct {
	pool  *Pool
	buf   []byte
	off   int
	freed bool
}

// Append adds data to the end of the message.
// Returns ErrNoSpace when the buffer capacity would be exceeded.
func (m *Message) Append(data []byte) error {
	if len(m.buf)+len(data) > BufferSize {
		return ErrNoSpace
	}
	m.buf = append(m.buf, data...)
	return nil
}

// Bytes returns the unread portion of the message.
// The slice is valid until the message is freed.
func (m *Message) Bytes() []byte {
	return m.buf[m.off:]
}

// Len returns the number of unread bytes.
func (m *Message) Len() int {
	return len(m.buf) - m.off
}

// TrimFront advances the read offset by n bytes.
// Trimming past the end empties the message.
func (m *Message) TrimFront(n int) {
	m.off += n
	if m.off > len(m.buf) {
		m.off = len(m.buf)
	}
}

// Free returns the message's buffer to the pool.
// Freeing twice is a no-op.
func (m *Message) Free() {
	if m.freed || m.pool == nil {
		return
	}
	m.freed = true
	m.buf = nil
	m.pool.release()
}
