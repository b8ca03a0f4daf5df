package octalsim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jangala-dev/tinygo-gsoctal/ipac"
	"github.com/jangala-dev/tinygo-gsoctal/scc2698"
)

const (
	// MaxCarriers and MaxSlots bound the addresses Validate accepts.
	MaxCarriers = 21
	MaxSlots    = 6

	// maxServicePasses bounds how often Service calls the handler for one
	// assertion, standing in for the interrupt controller's priority logic.
	maxServicePasses = 64
)

// Memory is a module's memory window.
type Memory struct {
	mu sync.Mutex
	b  [256]byte
}

// Read8 implements scc2698.Bus.
func (m *Memory) Read8(off uint32) byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	if int(off) >= len(m.b) {
		return 0xff
	}
	return m.b[off]
}

// Write8 implements scc2698.Bus.
func (m *Memory) Write8(off uint32, v byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if int(off) < len(m.b) {
		m.b[off] = v
	}
}

// promWindow presents an ID PROM on the odd byte lane.
type promWindow []byte

func (p promWindow) Read8(off uint32) byte {
	i := int(off / 2)
	if off%2 == 0 || i >= len(p) {
		return 0xff
	}
	return p[i]
}

func (promWindow) Write8(uint32, byte) {}

// Slot is one populated carrier slot.
type Slot struct {
	Chip *Chip
	Mem  *Memory
	prom promWindow

	mu     sync.Mutex
	isr    func()
	vector int
	irq    [2]bool
	active bool
}

// Vector returns the interrupt vector the driver programmed into the
// module's memory window.
func (s *Slot) Vector() int {
	return int(s.Mem.Read8(0))<<8 | int(s.Mem.Read8(1))
}

// IrqEnabled reports whether request line 0 or 1 is enabled.
func (s *Slot) IrqEnabled(line int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.irq[line]
}

// Active reports the slot's activity indicator.
func (s *Slot) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Fire delivers one interrupt to the connected handler regardless of the
// chip's request state. It reports whether a handler ran.
func (s *Slot) Fire() bool {
	s.mu.Lock()
	isr, enabled := s.isr, s.irq[0] || s.irq[1]
	s.mu.Unlock()
	if isr == nil || !enabled {
		return false
	}
	isr()
	return true
}

// Service delivers interrupts for as long as the chip requests one, the
// way a level-triggered line keeps re-entering the handler.
func (s *Slot) Service() int {
	n := 0
	for n < maxServicePasses && s.Chip.Asserted() {
		if !s.Fire() {
			break
		}
		n++
	}
	return n
}

// Run clocks the chip every period and services its interrupt until ctx
// is done. It plays the part of the hardware: one goroutine per slot, so
// the handler is never re-entered.
func (s *Slot) Run(ctx context.Context, period time.Duration) error {
	t := time.NewTicker(period)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			s.Chip.Tick()
			s.Service()
		}
	}
}

type slotKey struct{ carrier, slot int }

// Carrier is a simulated IPAC carrier. It implements ipac.Carrier.
type Carrier struct {
	mu    sync.Mutex
	slots map[slotKey]*Slot
}

// NewCarrier returns an empty carrier.
func NewCarrier() *Carrier {
	return &Carrier{slots: make(map[slotKey]*Slot)}
}

// Install populates carrier/slot with a GreenSpring IP-Octal of the given
// IPAC model ID.
func (c *Carrier) Install(carrier, slot int, model byte) *Slot {
	return c.InstallPROM(carrier, slot, ipac.BuildID(ipac.ID{Manufacturer: 0xf0, Model: model, Revision: 1}))
}

// InstallPROM populates carrier/slot with a module whose ID PROM is prom.
func (c *Carrier) InstallPROM(carrier, slot int, prom []byte) *Slot {
	s := &Slot{Chip: NewChip(), Mem: &Memory{}, prom: promWindow(prom)}
	c.mu.Lock()
	c.slots[slotKey{carrier, slot}] = s
	c.mu.Unlock()
	return s
}

// Slot returns the module at carrier/slot.
func (c *Carrier) Slot(carrier, slot int) (*Slot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.slots[slotKey{carrier, slot}]
	return s, ok
}

// Slots returns every populated slot.
func (c *Carrier) Slots() []*Slot {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Slot, 0, len(c.slots))
	for _, s := range c.slots {
		out = append(out, s)
	}
	return out
}

func (c *Carrier) lookup(carrier, slot int) (*Slot, error) {
	if carrier < 0 || carrier >= MaxCarriers || slot < 0 || slot >= MaxSlots {
		return nil, fmt.Errorf("%w: carrier %d slot %d", ipac.ErrBadAddress, carrier, slot)
	}
	s, ok := c.Slot(carrier, slot)
	if !ok {
		return nil, ipac.ErrNoModule
	}
	return s, nil
}

// Validate implements ipac.Carrier.
func (c *Carrier) Validate(carrier, slot int, manufacturer, model byte) error {
	s, err := c.lookup(carrier, slot)
	if err != nil {
		return err
	}
	return ipac.ValidateID(ipac.ReadID(s.prom), manufacturer, model)
}

// BaseAddr implements ipac.Carrier.
func (c *Carrier) BaseAddr(carrier, slot int, space ipac.Space) (scc2698.Bus, error) {
	s, err := c.lookup(carrier, slot)
	if err != nil {
		return nil, err
	}
	switch space {
	case ipac.SpaceID:
		return s.prom, nil
	case ipac.SpaceIO:
		return s.Chip, nil
	case ipac.SpaceMem:
		return s.Mem, nil
	}
	return nil, fmt.Errorf("%w: %v", ipac.ErrNoSpace, space)
}

// IntConnect implements ipac.Carrier.
func (c *Carrier) IntConnect(carrier, slot, vector int, isr func()) error {
	s, err := c.lookup(carrier, slot)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.isr, s.vector = isr, vector
	s.mu.Unlock()
	return nil
}

// IrqCmd implements ipac.Carrier.
func (c *Carrier) IrqCmd(carrier, slot, line int, cmd ipac.IrqCmd) error {
	s, err := c.lookup(carrier, slot)
	if err != nil {
		return err
	}
	if line < 0 || line > 1 {
		return fmt.Errorf("irq line %d out of range", line)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch cmd {
	case ipac.IrqEnable:
		s.irq[line] = true
	case ipac.IrqDisable:
		s.irq[line] = false
	case ipac.StatActive:
		s.active = true
	case ipac.StatUnused:
		s.active = false
	default:
		return fmt.Errorf("unsupported command %v", cmd)
	}
	return nil
}
