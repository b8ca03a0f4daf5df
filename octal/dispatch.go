package octal

import "github.com/jangala-dev/tinygo-gsoctal/scc2698"

// Dispatch services one interrupt from the module. The eight ports share a
// single interrupt, so Dispatch scans them round-robin starting after the
// port it serviced last, handles the first one with work and stops. That
// bounds the time spent per interrupt and keeps a busy low-numbered port
// from starving the others.
//
// Dispatch is the only code that reads RHR, writes THR on the interrupt
// path or clears error status. It must not be re-entered for one module;
// an overlapping call is counted and dropped.
func (m *Module) Dispatch() {
	if !m.dispatching.CompareAndSwap(false, true) {
		m.reentered.Add(1)
		return
	}
	defer m.dispatching.Store(false)

	m.interrupt.Add(1)

	m.mu.Lock()
	start, quiesced := m.scan, m.quiesced
	m.mu.Unlock()
	if quiesced {
		return
	}

	var flush flushReg
	for i := 1; i <= scc2698.Ports; i++ {
		port := (start + i) & (scc2698.Ports - 1)
		c := &m.ports[port]

		m.mu.Lock()
		if !c.created {
			m.mu.Unlock()
			continue
		}
		work, f := m.service(c)
		if f.valid {
			flush = f
		}
		if work {
			m.scan = port
		}
		m.mu.Unlock()

		if work {
			break
		}
	}

	if flush.valid {
		scc2698.Flush(m.bus, flush.off)
	}
}

// flushReg names the register whose posted write must be read back before
// the interrupt returns.
type flushReg struct {
	off   uint32
	valid bool
}

// service handles receive, transmit and error work for one created
// channel. It reports whether there was any and which register, if any,
// needs flushing. Requires m.mu.
func (m *Module) service(c *Channel) (work bool, flush flushReg) {
	sr := c.chip.SR()
	isr := scc2698.ChannelStatus(c.regs.ISR()&m.imr[c.block], c.upper)

	if isr&scc2698.ISRRxRDY != 0 {
		c.ld.ByteReceived(c.chip.RHR())
		c.rxCount.Add(1)
	}

	if isr&scc2698.ISRTxRDY != 0 {
		if b, ok := c.nextByte(); ok {
			c.chip.SetTHR(b)
			c.txCount.Add(1)
			c.chip.Command(scc2698.CRNull)
			flush = flushReg{off: c.chip.CROffset(), valid: true}
		} else {
			m.disableTx(c)
			flush = flushReg{off: c.regs.IMROffset(), valid: true}
		}
	}

	if sr&scc2698.SRErrors != 0 {
		c.errCount.Add(1)
		c.chip.Command(scc2698.CRResetError)
		flush = flushReg{off: c.chip.CROffset(), valid: true}
	}

	work = isr&(scc2698.ISRRxRDY|scc2698.ISRTxRDY) != 0 || sr&scc2698.SRErrors != 0
	return work, flush
}
