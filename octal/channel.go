package octal

import (
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/jangala-dev/tinygo-gsoctal/scc2698"
)

// LineDiscipline is the buffered byte stream a channel feeds. ByteReceived
// and NextByte are called from the interrupt dispatcher with the module
// critical section held; they must not block and must not call back into
// the driver. Write is called from task context with no driver lock held.
type LineDiscipline interface {
	ByteReceived(b byte)
	NextByte() (byte, bool)
	Write(p []byte) (int, error)
}

// pender is implemented by line disciplines that can report queued output.
type pender interface{ Pending() int }

// Channel is one serial port of a module.
//
// Invariants:
//   - The dispatcher never touches a channel whose created flag is clear.
//   - Fields marked "guarded by m.mu" are only touched with Module.mu held.
type Channel struct {
	m     *Module
	port  int
	block int
	upper bool
	chip  scc2698.Chan
	regs  scc2698.Block

	// guarded by m.mu
	name       string
	created    bool
	ld         LineDiscipline
	halfDuplex bool
	irqEnable  byte // this port's TxRDY bit in the block IMR; 0 once quiesced
	baud       int
	opts       Options
	mr1, mr2   byte
	held       byte // byte taken by StartTx that the transmitter could not accept
	holding    bool

	rxCount  atomic.Uint64
	txCount  atomic.Uint64
	errCount atomic.Uint64
}

// Port returns the channel number, 0..7.
func (c *Channel) Port() int { return c.port }

// Module returns the owning module.
func (c *Channel) Module() *Module { return c.m }

// Name returns the device name the channel was registered under.
func (c *Channel) Name() string {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	return c.name
}

// Created reports whether a device is bound to the port.
func (c *Channel) Created() bool {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	return c.created
}

// LineDiscipline returns the channel's byte stream, or nil before Create.
func (c *Channel) LineDiscipline() LineDiscipline {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	return c.ld
}

// HalfDuplex reports whether writes switch the transceiver direction.
func (c *Channel) HalfDuplex() bool {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	return c.halfDuplex
}

// Baud returns the last applied baud rate.
func (c *Channel) Baud() int {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	return c.baud
}

// Options returns the last applied word format.
func (c *Channel) Options() Options {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	return c.opts
}

// Config returns the last applied baud rate and word format.
func (c *Channel) Config() Config {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	return Config{Baud: c.baud, Options: c.opts}
}

// ModeBytes returns the MR1/MR2 values last written to the chip.
func (c *Channel) ModeBytes() (mr1, mr2 byte) {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	return c.mr1, c.mr2
}

// PortStats are a channel's running counters.
type PortStats struct {
	Received    uint64
	Transmitted uint64
	Errors      uint64
}

// Stats returns the channel's counters.
func (c *Channel) Stats() PortStats {
	return PortStats{
		Received:    c.rxCount.Load(),
		Transmitted: c.txCount.Load(),
		Errors:      c.errCount.Load(),
	}
}

// ---------------- Configuration ----------------

// SetBaud programs the baud rate. Only 1200, 2400, 4800, 9600, 19200 and
// 38400 are supported; anything else fails with ErrUnsupportedRate and
// leaves the channel as it was.
func (c *Channel) SetBaud(rate int) error {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	if !c.created {
		return ErrNotCreated
	}
	return c.setBaud(rate)
}

// SetOptions programs the word format.
func (c *Channel) SetOptions(o Options) error {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	if !c.created {
		return ErrNotCreated
	}
	c.setOptions(o)
	return nil
}

// setBaud requires m.mu.
func (c *Channel) setBaud(rate int) error {
	csr, ok := scc2698.CSR(rate)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnsupportedRate, rate)
	}
	c.chip.SetCSR(csr)
	c.baud = rate
	return nil
}

// setOptions requires m.mu.
func (c *Channel) setOptions(o Options) {
	o = o.normalize()
	mr1, mr2 := o.ModeBytes()
	c.setmr(mr1, mr2, o.HalfDuplex || c.m.variant.HalfDuplex())
	c.opts = o
}

// setmr writes both mode registers. The chip's MR pointer advances from MR1
// to MR2 after the first write, so the pointer reset and the two writes
// must happen in this order with nothing in between.
func (c *Channel) setmr(mr1, mr2 byte, halfDuplex bool) {
	c.halfDuplex = halfDuplex
	if halfDuplex {
		mr1, mr2 = halfDuplexModeBytes(mr1, mr2)
	}
	c.regs.SetOPCR(scc2698.OPCRMPO)
	c.chip.Command(scc2698.CRResetMRPtr)
	c.chip.SetMR(mr1)
	c.chip.SetMR(mr2)
	c.mr1, c.mr2 = mr1, mr2

	if mr1&scc2698.MR1RxRTS != 0 {
		c.chip.Command(scc2698.CRAssertRTSN)
	}
}

// ---------------- Transmit ----------------

// StartTx re-arms the transmitter after output has been queued. It takes
// the next byte from the line discipline, writes it straight to the chip
// if the holding register is free, and enables this port's TxRDY
// interrupt; with nothing to send it disables the interrupt instead.
// A byte the chip could not accept is kept for the dispatcher.
func (c *Channel) StartTx() {
	m := c.m
	m.mu.Lock()
	defer m.mu.Unlock()
	if !c.created {
		return
	}

	if !c.holding {
		if b, ok := c.ld.NextByte(); ok {
			c.held, c.holding = b, true
		}
	}
	if !c.holding {
		m.disableTx(c)
		return
	}
	if c.chip.SR()&scc2698.SRTxRDY != 0 {
		c.chip.SetTHR(c.held)
		c.holding = false
		c.txCount.Add(1)
	}
	m.enableTx(c)
}

// nextByte returns the held byte first. Requires m.mu.
func (c *Channel) nextByte() (byte, bool) {
	if c.holding {
		c.holding = false
		return c.held, true
	}
	return c.ld.NextByte()
}

// Write hands p to the line discipline. On a half-duplex channel the
// transceiver driver is enabled first and only released once the UART
// reports its shift register empty, so the last stop bit is on the wire
// before the line turns around. The wait is a tight poll with no timeout.
func (c *Channel) Write(p []byte) (int, error) {
	c.m.mu.Lock()
	if !c.created {
		c.m.mu.Unlock()
		return 0, ErrNotCreated
	}
	ld, half := c.ld, c.halfDuplex
	if half {
		c.chip.Command(scc2698.CRAssertRTSN | scc2698.CRDisableRx)
	}
	c.m.mu.Unlock()

	if !half {
		return ld.Write(p)
	}

	n, err := ld.Write(p)
	c.waitTxEmpty(ld)

	c.m.mu.Lock()
	c.chip.Command(scc2698.CRNegateRTSN | scc2698.CREnableRx)
	c.m.mu.Unlock()
	return n, err
}

// waitTxEmpty spins until nothing is queued and the transmitter is empty,
// or until the driver is quiesced and nothing will drain the queue.
//
// The held byte, the queue and TxEMT are sampled under one hold of m.mu.
// The dispatcher pops a byte and writes it to THR under the same lock, so
// a byte can never be between the queue and the chip while they are read.
func (c *Channel) waitTxEmpty(ld LineDiscipline) {
	p, _ := ld.(pender)
	for !c.txDrained(p) {
		runtime.Gosched()
	}
}

func (c *Channel) txDrained(p pender) bool {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	if c.m.quiesced {
		return true
	}
	if c.holding || (p != nil && p.Pending() != 0) {
		return false
	}
	return c.chip.SR()&scc2698.SRTxEMT != 0
}
