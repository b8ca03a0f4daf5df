package tty

// RingBuffer is a fixed-capacity byte FIFO. It does no locking of its own;
// Dev serialises access.
type RingBuffer struct {
	buf        []byte
	head, tail int // next write, next read
	used       int
}

// NewRingBuffer returns a ring that holds size bytes.
func NewRingBuffer(size int) *RingBuffer {
	if size < 1 {
		size = 1
	}
	return &RingBuffer{buf: make([]byte, size)}
}

// Size returns the total capacity of the buffer in bytes.
func (rb *RingBuffer) Size() int { return len(rb.buf) }

// Used returns how many bytes in buffer have been used.
func (rb *RingBuffer) Used() int { return rb.used }

// Free returns the space left.
func (rb *RingBuffer) Free() int { return rb.Size() - rb.Used() }

// Put stores a byte in the buffer. If the buffer is already full, it returns false.
func (rb *RingBuffer) Put(val byte) bool {
	if rb.Used() == rb.Size() {
		return false
	}
	rb.buf[rb.head] = val
	rb.head = (rb.head + 1) % len(rb.buf)
	rb.used++
	return true
}

// Get returns a byte from the buffer. If the buffer is empty, it returns (0, false).
func (rb *RingBuffer) Get() (byte, bool) {
	if rb.Used() == 0 {
		return 0, false
	}
	v := rb.buf[rb.tail]
	rb.tail = (rb.tail + 1) % len(rb.buf)
	rb.used--
	return v, true
}

// Clear resets the head and tail pointers to zero.
func (rb *RingBuffer) Clear() {
	rb.head, rb.tail, rb.used = 0, 0, 0
}
