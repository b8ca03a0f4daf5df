package octal

import (
	"fmt"
	"io"
)

// Report is a snapshot of the driver's counters.
type Report struct {
	Modules []ModuleReport
}

// ModuleReport holds one module's counters and its created ports.
type ModuleReport struct {
	Index      int
	ID         string
	Carrier    int
	Slot       int
	Interrupts uint64
	Reentered  uint64 // dispatcher calls dropped because one was running
	Ports      []PortReport
}

// PortReport holds one created port's counters.
type PortReport struct {
	Port int
	Name string
	PortStats
}

// Report snapshots the counters of every module and created port.
func (d *Driver) Report() Report {
	var r Report
	for _, m := range d.Modules() {
		mr := ModuleReport{
			Index:      m.index,
			ID:         m.id,
			Carrier:    m.carrier,
			Slot:       m.slot,
			Interrupts: m.Interrupts(),
			Reentered:  m.reentered.Load(),
		}
		for port := range m.ports {
			c := &m.ports[port]
			m.mu.Lock()
			created, name := c.created, c.name
			m.mu.Unlock()
			if !created {
				continue
			}
			mr.Ports = append(mr.Ports, PortReport{Port: port, Name: name, PortStats: c.Stats()})
		}
		r.Modules = append(r.Modules, mr)
	}
	return r
}

// WriteTo prints the report in the driver's traditional text form.
func (r Report) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for _, m := range r.Modules {
		n, err := fmt.Fprintf(w, "Module %d: carrier=%d slot=%d\n  %d interrupts\n",
			m.Index, m.Carrier, m.Slot, m.Interrupts)
		total += int64(n)
		if err != nil {
			return total, err
		}
		for _, p := range m.Ports {
			n, err := fmt.Fprintf(w, "  Port %d: %d chars in, %d chars out, %d errors\n",
				p.Port, p.Received, p.Transmitted, p.Errors)
			total += int64(n)
			if err != nil {
				return total, err
			}
		}
	}
	return total, nil
}

// WriteReport prints Report() to w.
func (d *Driver) WriteReport(w io.Writer) error {
	_, err := d.Report().WriteTo(w)
	return err
}
