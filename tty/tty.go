// Package tty is a buffered byte-stream device that sits between a serial
// driver and its readers and writers. The driver pushes received bytes in
// with ByteReceived and pulls bytes to transmit with NextByte; both are safe
// from interrupt context and never block. Writers block in Write until their
// bytes are queued; readers use the non-blocking Read/ReadByte or the
// context-aware blocking helpers.
//
// Dev never calls back into the driver while holding its own lock, so the
// driver may call ByteReceived and NextByte with its locks held.
package tty

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrBufferEmpty is returned by ReadByte when nothing is buffered.
	ErrBufferEmpty = errors.New("tty buffer empty")
	// ErrClosed is returned by blocking calls once the device is closed.
	ErrClosed = errors.New("tty closed")
	// ErrTimeout is returned by ReadWithTimeout when nothing arrived.
	ErrTimeout = errors.New("tty read timeout")
)

// Dev is one buffered serial device.
type Dev struct {
	mu sync.Mutex
	rd *RingBuffer
	wr *RingBuffer

	start func() // transmitter start-up, called without mu held

	notify   chan struct{} // coalesced RX readiness
	txNotify chan struct{} // coalesced TX progress
	closed   chan struct{}
	once     sync.Once

	dropped atomic.Uint64 // received bytes lost to a full read buffer
}

// New returns a device with the given buffer sizes. start is called after
// bytes are queued for output so the driver can re-arm its transmitter; it
// may be nil.
func New(rdSize, wrSize int, start func()) *Dev {
	return &Dev{
		rd:       NewRingBuffer(rdSize),
		wr:       NewRingBuffer(wrSize),
		start:    start,
		notify:   make(chan struct{}, 1),
		txNotify: make(chan struct{}, 1),
		closed:   make(chan struct{}),
	}
}

// SetStartup replaces the transmitter start-up callback.
func (d *Dev) SetStartup(start func()) {
	d.mu.Lock()
	d.start = start
	d.mu.Unlock()
}

// ---------- Driver side ----------

// ByteReceived queues one received byte. When the read buffer is full the
// byte is dropped and counted.
func (d *Dev) ByteReceived(b byte) {
	d.mu.Lock()
	wasEmpty := d.rd.Used() == 0
	ok := d.rd.Put(b)
	d.mu.Unlock()
	if !ok {
		d.dropped.Add(1)
		return
	}
	if wasEmpty {
		wake(d.notify)
	}
}

// NextByte dequeues the next byte to transmit.
func (d *Dev) NextByte() (byte, bool) {
	d.mu.Lock()
	b, ok := d.wr.Get()
	d.mu.Unlock()
	if ok {
		wake(d.txNotify)
	}
	return b, ok
}

// ---------- Writer side ----------

// TryWrite queues up to len(p) bytes without blocking and returns how many
// were accepted.
func (d *Dev) TryWrite(p []byte) int {
	d.mu.Lock()
	n := 0
	for n < len(p) && d.wr.Put(p[n]) {
		n++
	}
	start := d.start
	d.mu.Unlock()
	if n > 0 && start != nil {
		start()
	}
	return n
}

// Write implements io.Writer. It blocks until every byte of p is queued; it
// does not wait for them to be transmitted.
func (d *Dev) Write(p []byte) (int, error) {
	sent := 0
	for sent < len(p) {
		if n := d.TryWrite(p[sent:]); n > 0 {
			sent += n
			continue
		}
		select {
		case <-d.txNotify:
		case <-d.closed:
			return sent, ErrClosed
		}
	}
	return sent, nil
}

// WriteByte queues a single byte.
func (d *Dev) WriteByte(c byte) error {
	_, err := d.Write([]byte{c})
	return err
}

// Pending returns the number of bytes queued for output.
func (d *Dev) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.wr.Used()
}

// Drain blocks until the output queue is empty or ctx is done. Bytes may
// still be in the UART when it returns.
func (d *Dev) Drain(ctx context.Context) error {
	for d.Pending() > 0 {
		select {
		case <-d.txNotify:
		case <-time.After(time.Millisecond):
		case <-d.closed:
			return ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// FlushOutput discards queued output.
func (d *Dev) FlushOutput() {
	d.mu.Lock()
	d.wr.Clear()
	d.mu.Unlock()
	wake(d.txNotify)
}

// FlushInput discards buffered input.
func (d *Dev) FlushInput() {
	d.mu.Lock()
	d.rd.Clear()
	d.mu.Unlock()
}

// ---------- Reader side ----------

// Read copies buffered input into p. It never blocks; 0, nil means "no data
// now".
func (d *Dev) Read(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for n < len(p) {
		b, ok := d.rd.Get()
		if !ok {
			break
		}
		p[n] = b
		n++
	}
	return n, nil
}

// ReadByte reads a single buffered byte or returns ErrBufferEmpty.
func (d *Dev) ReadByte() (byte, error) {
	d.mu.Lock()
	b, ok := d.rd.Get()
	d.mu.Unlock()
	if !ok {
		return 0, ErrBufferEmpty
	}
	return b, nil
}

// Buffered returns the number of bytes waiting to be read.
func (d *Dev) Buffered() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rd.Used()
}

// Dropped returns the number of received bytes lost to overflow.
func (d *Dev) Dropped() uint64 { return d.dropped.Load() }

// Readable returns a coalesced notification for RX readiness. Callers must
// re-check state after waking.
func (d *Dev) Readable() <-chan struct{} { return d.notify }

// await calls try until it reports progress, sleeping on RX notifications
// in between. A closed device ends the wait only once try finds nothing
// more to read, so input that arrived before Close is still delivered.
func (d *Dev) await(ctx context.Context, try func() bool) error {
	for {
		if try() {
			return nil
		}
		select {
		case <-d.notify:
		case <-d.closed:
			if try() {
				return nil
			}
			return ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// WaitReadable blocks until input is buffered, ctx is done or the device
// is closed and drained.
func (d *Dev) WaitReadable(ctx context.Context) error {
	return d.await(ctx, func() bool { return d.Buffered() > 0 })
}

// ReadBlocking blocks until at least one byte is available and reads up to
// len(p). An empty p returns at once.
func (d *Dev) ReadBlocking(ctx context.Context, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	var n int
	err := d.await(ctx, func() bool {
		n, _ = d.Read(p)
		return n > 0
	})
	return n, err
}

// ReadFullBlocking blocks until len(p) bytes have been read. On error it
// returns what was read so far.
func (d *Dev) ReadFullBlocking(ctx context.Context, p []byte) (int, error) {
	read := 0
	err := d.await(ctx, func() bool {
		n, _ := d.Read(p[read:])
		read += n
		return read == len(p)
	})
	return read, err
}

// ReadByteBlocking blocks for a single byte.
func (d *Dev) ReadByteBlocking(ctx context.Context) (byte, error) {
	var b byte
	err := d.await(ctx, func() bool {
		c, err := d.ReadByte()
		b = c
		return err == nil
	})
	return b, err
}

// ReadWithTimeout is ReadBlocking bounded by timeout. It fails with
// ErrTimeout when nothing arrived in time.
func (d *Dev) ReadWithTimeout(p []byte, timeout time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	n, err := d.ReadBlocking(ctx, p)
	if errors.Is(err, context.DeadlineExceeded) {
		return n, fmt.Errorf("%w after %v", ErrTimeout, timeout)
	}
	return n, err
}

// Close unblocks all waiters. Buffered data stays readable.
func (d *Dev) Close() error {
	d.once.Do(func() { close(d.closed) })
	return nil
}

func wake(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
