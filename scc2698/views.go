package scc2698

// Block is the register view shared by the two channels of one block.
type Block struct {
	bus Bus
	n   int
}

// NewBlock returns the view of block n (0..3) on bus.
func NewBlock(bus Bus, n int) Block { return Block{bus: bus, n: n} }

// Index returns the block number.
func (b Block) Index() int { return b.n }

// ISR reads the live interrupt status of both channels.
func (b Block) ISR() byte { return b.bus.Read8(RegOffset(b.n, RegISR)) }

// SetIMR writes the interrupt mask. The register is write-only; callers keep
// the authoritative copy.
func (b Block) SetIMR(v byte) { b.bus.Write8(RegOffset(b.n, RegIMR), v) }

// SetACR writes the auxiliary control register.
func (b Block) SetACR(v byte) { b.bus.Write8(RegOffset(b.n, RegACR), v) }

// SetOPCR writes the output port configuration register.
func (b Block) SetOPCR(v byte) { b.bus.Write8(RegOffset(b.n, RegOPCR), v) }

// IMROffset is the bus offset of the IMR, for callers that need to read it
// back to force a posted write out.
func (b Block) IMROffset() uint32 { return RegOffset(b.n, RegIMR) }

// Chan is the per-channel register view.
type Chan struct {
	bus  Bus
	port int
}

// NewChan returns the view of port (0..7) on bus.
func NewChan(bus Bus, port int) Chan { return Chan{bus: bus, port: port} }

// Port returns the channel number.
func (c Chan) Port() int { return c.port }

// SR reads the live channel status.
func (c Chan) SR() byte { return c.bus.Read8(ChanOffset(c.port, RegSR)) }

// RHR reads one received byte.
func (c Chan) RHR() byte { return c.bus.Read8(ChanOffset(c.port, RegRHR)) }

// SetTHR writes one byte for transmission.
func (c Chan) SetTHR(v byte) { c.bus.Write8(ChanOffset(c.port, RegTHR), v) }

// Command writes the command register.
func (c Chan) Command(cr byte) { c.bus.Write8(ChanOffset(c.port, RegCR), cr) }

// SetCSR writes the clock select register.
func (c Chan) SetCSR(v byte) { c.bus.Write8(ChanOffset(c.port, RegCSR), v) }

// SetMR writes the mode register the chip's MR pointer currently selects.
func (c Chan) SetMR(v byte) { c.bus.Write8(ChanOffset(c.port, RegMR), v) }

// CROffset is the bus offset of the command register.
func (c Chan) CROffset() uint32 { return ChanOffset(c.port, RegCR) }

// Flush reads back the register at off so that a posted write to it has
// completed before the caller continues.
func Flush(bus Bus, off uint32) { _ = bus.Read8(off) }
