package octal

import (
	"fmt"
	"io"

	"github.com/jangala-dev/tinygo-gsoctal/scc2698"
)

// Regs is a snapshot of a channel's registers and the driver's shadows of
// the write-only ones.
type Regs struct {
	SR      byte // live channel status
	ISR     byte // live block interrupt status, this channel's nibble
	IMR     byte // block mask shadow, this channel's nibble
	MR1     byte
	MR2     byte
	CSR     byte
	Holding bool // a byte is waiting for the transmitter
}

// DebugRegs reads the channel's status registers. Reading SR and ISR has
// no side effects on the SCC2698.
func (c *Channel) DebugRegs() Regs {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	csr, _ := scc2698.CSR(c.baud)
	return Regs{
		SR:      c.chip.SR(),
		ISR:     scc2698.ChannelStatus(c.regs.ISR(), c.upper),
		IMR:     scc2698.ChannelStatus(c.m.imr[c.block], c.upper),
		MR1:     c.mr1,
		MR2:     c.mr2,
		CSR:     csr,
		Holding: c.holding,
	}
}

func (r Regs) String() string {
	return fmt.Sprintf("SR=%02x ISR=%x IMR=%x MR1=%02x MR2=%02x CSR=%02x holding=%v",
		r.SR, r.ISR, r.IMR, r.MR1, r.MR2, r.CSR, r.Holding)
}

// WriteRegs prints DebugRegs for every created port.
func (d *Driver) WriteRegs(w io.Writer) error {
	for _, m := range d.Modules() {
		for port := range m.ports {
			c := &m.ports[port]
			if !c.Created() {
				continue
			}
			if _, err := fmt.Fprintf(w, "%s port %d: %v\n", m.id, port, c.DebugRegs()); err != nil {
				return err
			}
		}
	}
	return nil
}
