// Package ipac is the contract between IP module drivers and the carrier
// boards that host them: locating a module's address spaces, checking its
// identity, and wiring its interrupt.
package ipac

import (
	"errors"
	"fmt"

	"github.com/jangala-dev/tinygo-gsoctal/scc2698"
)

// Space selects one of an IP module's address windows.
type Space int

const (
	SpaceID  Space = iota // identification PROM
	SpaceIO               // register window
	SpaceMem              // memory window
)

func (s Space) String() string {
	switch s {
	case SpaceID:
		return "id"
	case SpaceIO:
		return "io"
	case SpaceMem:
		return "mem"
	}
	return fmt.Sprintf("space(%d)", int(s))
}

// IrqCmd is a command to a slot's interrupt logic.
type IrqCmd int

const (
	IrqEnable IrqCmd = iota
	IrqDisable
	StatActive // drive the slot's activity indicator
	StatUnused
)

func (c IrqCmd) String() string {
	switch c {
	case IrqEnable:
		return "irq-enable"
	case IrqDisable:
		return "irq-disable"
	case StatActive:
		return "stat-active"
	case StatUnused:
		return "stat-unused"
	}
	return fmt.Sprintf("irqcmd(%d)", int(c))
}

// Validation failures. Validate wraps one of these.
var (
	ErrBadAddress = errors.New("bad carrier or slot number")
	ErrNoModule   = errors.New("no module installed")
	ErrNoIpacID   = errors.New("IPAC identifier not found")
	ErrBadCRC     = errors.New("CRC check failed")
	ErrBadModule  = errors.New("manufacturer or model IDs wrong")
)

// ErrNoSpace is returned by BaseAddr when a window is not mapped.
var ErrNoSpace = errors.New("address space not mapped")

// Carrier locates IP modules and wires their interrupts.
type Carrier interface {
	// Validate checks that a module of the given manufacturer and model
	// is installed at carrier/slot.
	Validate(carrier, slot int, manufacturer, model byte) error
	// BaseAddr returns access to one of the module's windows.
	BaseAddr(carrier, slot int, space Space) (scc2698.Bus, error)
	// IntConnect arranges for isr to be called for every interrupt the
	// module raises with vector. isr is never re-entered for one slot.
	IntConnect(carrier, slot, vector int, isr func()) error
	// IrqCmd controls interrupt request line 0 or 1 of the slot.
	IrqCmd(carrier, slot, line int, cmd IrqCmd) error
}
