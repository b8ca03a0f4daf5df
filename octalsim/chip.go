// Package octalsim is a behavioural model of an IP-Octal module and of the
// carrier that hosts it. The chip model decodes SCC2698 register accesses
// the way the real part does (MR pointer, command nibble, receive FIFO,
// holding and shift registers, per-block ISR/IMR) and advances its
// transmitters one character per Tick. Tests drive it directly; the CLI
// runs it in real time behind a simulated interrupt.
package octalsim

import (
	"sync"

	"github.com/jangala-dev/tinygo-gsoctal/scc2698"
)

const rxFIFODepth = 3

// TxEvent records one character leaving a transmitter.
type TxEvent struct {
	B        byte
	RTSStart bool // direction output when the character entered the shifter
	RTSEnd   bool // and when its stop bit finished
}

// Access is one traced bus cycle.
type Access struct {
	Off   uint32
	Write bool
	V     byte
}

type channel struct {
	mr    [2]byte
	mrPtr int
	csr   byte

	rxOn bool
	txOn bool
	rx   []byte
	errs byte

	thr      byte
	thrFull  bool
	shift    byte
	shifting bool
	rtsStart bool

	rts  bool // MPO driven active (RTSN low)
	peer int

	cmds      []byte
	sent      []TxEvent
	overwrite int
}

// Chip models one SCC2698 on an IP-Octal module. It implements
// scc2698.Bus and is safe for concurrent use.
type Chip struct {
	mu   sync.Mutex
	ch   [scc2698.Ports]channel
	imr  [scc2698.Blocks]byte
	acr  [scc2698.Blocks]byte
	opcr [scc2698.Blocks]byte

	tracing bool
	trace   []Access
}

// NewChip returns a chip fresh out of reset.
func NewChip() *Chip {
	c := &Chip{}
	for i := range c.ch {
		c.ch[i].peer = -1
	}
	return c
}

// decode splits a bus offset into the port or block it addresses. For
// per-channel registers port is >= 0 and reg is 0..3.
func decode(off uint32) (block, port int, reg uint32, ok bool) {
	if off%2 == 0 {
		return 0, 0, 0, false
	}
	block = int(off / 32)
	if block >= scc2698.Blocks {
		return 0, 0, 0, false
	}
	reg = (off % 32) / 2
	port = -1
	switch {
	case reg <= 3:
		port = block * 2
	case reg >= 8 && reg <= 11:
		port = block*2 + 1
		reg -= 8
	}
	return block, port, reg, true
}

// Read8 implements scc2698.Bus.
func (c *Chip) Read8(off uint32) byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := c.read(off)
	if c.tracing {
		c.trace = append(c.trace, Access{Off: off, V: v})
	}
	return v
}

func (c *Chip) read(off uint32) byte {
	block, port, reg, ok := decode(off)
	if !ok {
		return 0xff
	}
	if port >= 0 {
		ch := &c.ch[port]
		switch reg {
		case scc2698.RegMR:
			v := ch.mr[ch.mrPtr]
			ch.mrPtr = 1
			return v
		case scc2698.RegSR:
			return ch.status()
		case scc2698.RegRHR:
			if len(ch.rx) == 0 {
				return 0
			}
			v := ch.rx[0]
			ch.rx = ch.rx[1:]
			return v
		}
		return 0
	}
	if reg == scc2698.RegISR {
		return c.isr(block)
	}
	return 0
}

// Write8 implements scc2698.Bus.
func (c *Chip) Write8(off uint32, v byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tracing {
		c.trace = append(c.trace, Access{Off: off, Write: true, V: v})
	}
	block, port, reg, ok := decode(off)
	if !ok {
		return
	}
	if port >= 0 {
		ch := &c.ch[port]
		switch reg {
		case scc2698.RegMR:
			ch.mr[ch.mrPtr] = v
			ch.mrPtr = 1
		case scc2698.RegCSR:
			ch.csr = v
		case scc2698.RegCR:
			ch.command(v)
		case scc2698.RegTHR:
			if !ch.txOn {
				return
			}
			if ch.thrFull {
				ch.overwrite++
			}
			ch.thr, ch.thrFull = v, true
		}
		return
	}
	switch reg {
	case scc2698.RegACR:
		c.acr[block] = v
	case scc2698.RegIMR:
		c.imr[block] = v
	case scc2698.RegOPCR:
		c.opcr[block] = v
	}
}

func (ch *channel) command(cr byte) {
	ch.cmds = append(ch.cmds, cr)
	switch cr & 0x03 {
	case scc2698.CREnableRx:
		ch.rxOn = true
	case scc2698.CRDisableRx:
		ch.rxOn = false
	}
	switch cr & 0x0c {
	case scc2698.CREnableTx:
		ch.txOn = true
	case scc2698.CRDisableTx:
		ch.txOn = false
	}
	switch scc2698.Command(cr) {
	case scc2698.CRResetMRPtr:
		ch.mrPtr = 0
	case scc2698.CRResetRx:
		ch.rxOn = false
		ch.rx = nil
	case scc2698.CRResetTx:
		ch.txOn = false
		ch.thrFull = false
		ch.shifting = false
	case scc2698.CRResetError:
		ch.errs = 0
	case scc2698.CRAssertRTSN:
		ch.rts = true
	case scc2698.CRNegateRTSN:
		ch.rts = false
	}
}

func (ch *channel) status() byte {
	var sr byte
	if len(ch.rx) > 0 {
		sr |= scc2698.SRRxRDY
	}
	if len(ch.rx) >= rxFIFODepth {
		sr |= scc2698.SRFFULL
	}
	if ch.txOn && !ch.thrFull {
		sr |= scc2698.SRTxRDY
		if !ch.shifting {
			sr |= scc2698.SRTxEMT
		}
	}
	return sr | ch.errs
}

// isr is the raw (unmasked) interrupt status of a block.
func (c *Chip) isr(block int) byte {
	var v byte
	for i, port := range [2]int{block * 2, block*2 + 1} {
		sr := c.ch[port].status()
		var nib byte
		if sr&scc2698.SRTxRDY != 0 {
			nib |= scc2698.ISRTxRDY
		}
		if sr&scc2698.SRRxRDY != 0 {
			nib |= scc2698.ISRRxRDY
		}
		v |= nib << (4 * i)
	}
	return v
}

// Asserted reports whether any unmasked interrupt source is active.
func (c *Chip) Asserted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for b := 0; b < scc2698.Blocks; b++ {
		if c.isr(b)&c.imr[b] != 0 {
			return true
		}
	}
	return false
}

// Tick advances every transmitter by one character time: a character in
// the shift register finishes, and the holding register moves into the
// shifter.
func (c *Chip) Tick() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for port := range c.ch {
		ch := &c.ch[port]
		if ch.shifting {
			ch.shifting = false
			ch.sent = append(ch.sent, TxEvent{B: ch.shift, RTSStart: ch.rtsStart, RTSEnd: ch.rts})
			if ch.peer >= 0 {
				c.ch[ch.peer].receive(ch.shift)
			}
		}
		if ch.thrFull && ch.txOn {
			ch.shift, ch.shifting, ch.rtsStart = ch.thr, true, ch.rts
			ch.thrFull = false
		}
	}
}

func (ch *channel) receive(b byte) {
	if !ch.rxOn {
		return
	}
	if len(ch.rx) >= rxFIFODepth {
		ch.errs |= scc2698.SROverrn
		return
	}
	ch.rx = append(ch.rx, b)
}

// ---------- Test and wiring hooks ----------

// Inject delivers b to port's receiver as if it had arrived on the wire.
func (c *Chip) Inject(port int, b byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ch[port].receive(b)
}

// InjectError raises line error bits (SR high nibble) on port.
func (c *Chip) InjectError(port int, bits byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ch[port].errs |= bits & scc2698.SRErrors
}

// Loopback wires port a's transmitter to port b's receiver and back.
func (c *Chip) Loopback(a, b int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ch[a].peer = b
	c.ch[b].peer = a
}

// Sent returns the characters port has finished transmitting.
func (c *Chip) Sent(port int) []TxEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]TxEvent(nil), c.ch[port].sent...)
}

// SentBytes returns just the bytes of Sent.
func (c *Chip) SentBytes(port int) []byte {
	ev := c.Sent(port)
	out := make([]byte, len(ev))
	for i, e := range ev {
		out[i] = e.B
	}
	return out
}

// Commands returns every CR value written for port.
func (c *Chip) Commands(port int) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.ch[port].cmds...)
}

// RTS reports whether port's direction output is asserted.
func (c *Chip) RTS(port int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ch[port].rts
}

// Mode returns port's MR1 and MR2.
func (c *Chip) Mode(port int) (mr1, mr2 byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ch[port].mr[0], c.ch[port].mr[1]
}

// CSR returns port's clock select register.
func (c *Chip) CSR(port int) byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ch[port].csr
}

// Enabled reports whether port's receiver and transmitter are on.
func (c *Chip) Enabled(port int) (rx, tx bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ch[port].rxOn, c.ch[port].txOn
}

// Overwrites counts THR writes that replaced an unsent character.
func (c *Chip) Overwrites(port int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ch[port].overwrite
}

// IMR returns the interrupt mask of block b as last written.
func (c *Chip) IMR(b int) byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.imr[b]
}

// ACR returns the auxiliary control register of block b.
func (c *Chip) ACR(b int) byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.acr[b]
}

// OPCR returns the output port configuration of block b.
func (c *Chip) OPCR(b int) byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opcr[b]
}

// SetTracing turns bus cycle tracing on or off and discards the trace.
func (c *Chip) SetTracing(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tracing = on
	c.trace = nil
}

// Trace returns the bus cycles recorded since tracing was turned on.
func (c *Chip) Trace() []Access {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Access(nil), c.trace...)
}
