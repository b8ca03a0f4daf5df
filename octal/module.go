package octal

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/jangala-dev/tinygo-gsoctal/scc2698"
)

// ManufacturerGreenSpring is the IPAC manufacturer ID of GreenSpring/SBS.
const ManufacturerGreenSpring byte = 0xf0

// Variant is the electrical flavour of an IP-Octal module. All three share
// one register layout.
type Variant int

const (
	Octal232 Variant = iota
	Octal422
	Octal485
)

// ParseVariant matches a module type string such as "232", "RS485" or
// "IP-Octal 422".
func ParseVariant(typ string) (Variant, error) {
	switch {
	case strings.Contains(typ, "232"):
		return Octal232, nil
	case strings.Contains(typ, "422"):
		return Octal422, nil
	case strings.Contains(typ, "485"):
		return Octal485, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedType, typ)
}

// Model returns the IPAC model ID.
func (v Variant) Model() byte {
	switch v {
	case Octal422:
		return 0x2a
	case Octal485:
		return 0x48
	}
	return 0x22
}

// HalfDuplex reports whether the variant's transceivers need software
// direction control.
func (v Variant) HalfDuplex() bool { return v == Octal485 }

func (v Variant) String() string {
	switch v {
	case Octal232:
		return "octal232"
	case Octal422:
		return "octal422"
	case Octal485:
		return "octal485"
	}
	return fmt.Sprintf("variant(%d)", int(v))
}

// Module is one IP-Octal card.
//
// mu is the module critical section: it is held by every task-context path
// that touches the shared IMR shadows or issues a multi-write register
// sequence, and by the dispatcher while it services a channel. It is never
// held across a blocking line-discipline Write or the half-duplex drain
// poll.
type Module struct {
	id      string
	carrier int
	slot    int
	vector  int
	variant Variant
	bus     scc2698.Bus
	index   int

	mu        sync.Mutex
	imr       [scc2698.Blocks]byte // authoritative copy of the write-only IMRs
	scan      int                  // last port serviced
	quiesced  bool
	ports     [scc2698.Ports]Channel
	newLD     LineDisciplineFactory
	interrupt atomic.Uint64

	dispatching atomic.Bool
	reentered   atomic.Uint64
}

func newModule(id string, variant Variant, carrier, slot, vector int, bus scc2698.Bus, newLD LineDisciplineFactory) *Module {
	m := &Module{
		id:      id,
		carrier: carrier,
		slot:    slot,
		vector:  vector,
		variant: variant,
		bus:     bus,
		newLD:   newLD,
	}
	for port := range m.ports {
		c := &m.ports[port]
		c.m = m
		c.port = port
		c.block = scc2698.BlockOf(port)
		c.upper = scc2698.Upper(port)
		c.chip = scc2698.NewChan(bus, port)
		c.regs = scc2698.NewBlock(bus, c.block)
	}
	return m
}

// ID returns the name the module was registered under.
func (m *Module) ID() string { return m.id }

// Carrier returns the carrier board number.
func (m *Module) Carrier() int { return m.carrier }

// Slot returns the slot on the carrier.
func (m *Module) Slot() int { return m.slot }

// Vector returns the interrupt vector.
func (m *Module) Vector() int { return m.vector }

// Variant returns the module's electrical variant.
func (m *Module) Variant() Variant { return m.variant }

// Interrupts returns the number of dispatcher invocations.
func (m *Module) Interrupts() uint64 { return m.interrupt.Load() }

// Scan returns the port the dispatcher serviced last.
func (m *Module) Scan() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scan
}

// IMR returns the shadow interrupt mask of block b.
func (m *Module) IMR(b int) byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.imr[b]
}

// Port returns channel port, created or not.
func (m *Module) Port(port int) (*Channel, error) {
	if port < 0 || port >= scc2698.Ports {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPort, port)
	}
	return &m.ports[port], nil
}

// Create binds a device to port with line-discipline buffers of the given
// sizes and brings the channel up at 9600 8N1.
func (m *Module) Create(port, rdSize, wrSize int) (*Channel, error) {
	return m.create("", port, rdSize, wrSize)
}

func (m *Module) create(name string, port, rdSize, wrSize int) (*Channel, error) {
	c, err := m.Port(port)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.quiesced {
		return nil, ErrQuiesced
	}
	if c.created {
		return nil, fmt.Errorf("%w: %s port %d", ErrAlreadyCreated, m.id, port)
	}
	c.ld = m.newLD(rdSize, wrSize, c.StartTx)
	c.name = name
	m.initChannel(c)
	c.created = true
	return c, nil
}

// initChannel performs the one-time bring-up of a port. Requires m.mu.
func (m *Module) initChannel(c *Channel) {
	c.irqEnable = scc2698.TxBit(c.port)

	c.regs.SetACR(scc2698.ACRBRGSet2)

	c.chip.Command(scc2698.CRResetMRPtr | scc2698.CRDisableTx | scc2698.CRDisableRx)
	c.chip.Command(scc2698.CRResetRx)
	c.chip.Command(scc2698.CRResetTx)
	c.chip.Command(scc2698.CRResetError)

	_ = c.setBaud(9600)
	c.setOptions(DefaultOptions())

	// Receive interrupts only; StartTx arms the transmitter on demand.
	m.imr[c.block] |= scc2698.RxBit(c.port)
	c.regs.SetIMR(m.imr[c.block])
	c.chip.Command(scc2698.CREnableTx | scc2698.CREnableRx)
}

// enableTx sets c's TxRDY bit in shadow and hardware. Requires m.mu.
func (m *Module) enableTx(c *Channel) {
	m.imr[c.block] |= c.irqEnable
	c.regs.SetIMR(m.imr[c.block])
}

// disableTx clears c's TxRDY bit in shadow and hardware. Requires m.mu.
func (m *Module) disableTx(c *Channel) {
	m.imr[c.block] &^= scc2698.TxBit(c.port)
	c.regs.SetIMR(m.imr[c.block])
}

// quiesce masks every interrupt of the module. Requires m.mu.
func (m *Module) quiesce() {
	for port := range m.ports {
		c := &m.ports[port]
		if !c.created {
			continue
		}
		c.irqEnable = 0
		m.imr[c.block] = 0
		c.regs.SetIMR(0)
	}
	m.quiesced = true
}
