package octal

import (
	"fmt"
	"strings"

	"github.com/jangala-dev/tinygo-gsoctal/scc2698"
)

// Parity defines the parity setting used for serial communication.
type Parity uint8

const (
	// ParityNone disables parity generation and checking.
	ParityNone Parity = iota
	// ParityEven sets even parity.
	ParityEven
	// ParityOdd sets odd parity.
	ParityOdd
)

func (p Parity) String() string {
	switch p {
	case ParityNone:
		return "none"
	case ParityEven:
		return "even"
	case ParityOdd:
		return "odd"
	}
	return fmt.Sprintf("parity(%d)", uint8(p))
}

// Options is a channel's word format.
type Options struct {
	DataBits int // 5..8; out of range values are clamped
	StopBits int // 1 or 2
	Parity   Parity
	// HWFlow lets the UART drive RTS from its receive FIFO and gate the
	// transmitter on CTS. Ignored on half-duplex channels.
	HWFlow bool
	// HalfDuplex forces software direction control on a channel whose
	// module variant would not otherwise need it.
	HalfDuplex bool
}

// DefaultOptions is 8 data bits, no parity, 1 stop bit, no flow control.
func DefaultOptions() Options {
	return Options{DataBits: 8, StopBits: 1, Parity: ParityNone}
}

func (o Options) String() string {
	p := "N"
	switch o.Parity {
	case ParityEven:
		p = "E"
	case ParityOdd:
		p = "O"
	}
	s := fmt.Sprintf("%d%s%d", o.DataBits, p, o.StopBits)
	if o.HWFlow {
		s += " rtscts"
	}
	if o.HalfDuplex {
		s += " half-duplex"
	}
	return s
}

// normalize clamps the fields to what the hardware supports.
func (o Options) normalize() Options {
	switch {
	case o.DataBits < 5:
		o.DataBits = 5
	case o.DataBits > 8:
		o.DataBits = 8
	}
	if o.StopBits >= 2 {
		o.StopBits = 2
	} else {
		o.StopBits = 1
	}
	if o.Parity > ParityOdd {
		o.Parity = ParityNone
	}
	return o
}

// ModeBytes returns the MR1 and MR2 values for o before any half-duplex
// adjustment.
func (o Options) ModeBytes() (mr1, mr2 byte) {
	o = o.normalize()
	switch o.DataBits {
	case 5:
		mr1 |= scc2698.MR1Bits5
	case 6:
		mr1 |= scc2698.MR1Bits6
	case 7:
		mr1 |= scc2698.MR1Bits7
	default:
		mr1 |= scc2698.MR1Bits8
	}

	if o.StopBits == 2 {
		mr2 |= scc2698.MR2Stop2
	} else {
		mr2 |= scc2698.MR2Stop1
	}

	switch o.Parity {
	case ParityNone:
		mr1 |= scc2698.MR1NoParity
	case ParityOdd:
		mr1 |= scc2698.MR1ParityOdd
	}

	if o.HWFlow {
		mr1 |= scc2698.MR1RxRTS // RTS from RxFIFO
		mr2 |= scc2698.MR2CTSTx // Tx gated by CTS
	}
	return mr1, mr2
}

// halfDuplexModeBytes strips the automatic RTS/CTS bits: on a direction
// controlled channel the MPO pin is the transceiver enable and belongs to
// the driver.
func halfDuplexModeBytes(mr1, mr2 byte) (byte, byte) {
	return mr1 &^ scc2698.MR1RxRTS, mr2 &^ (scc2698.MR2CTSTx | scc2698.MR2TxRTS)
}

// LegacyOptions builds Options from the one-shot configuration arguments:
// a parity letter ('e', 'o', anything else none), a stop bit count, a word
// size and a flow letter ('h' for hardware handshake).
func LegacyOptions(parity byte, stop, bits int, flow byte) Options {
	o := Options{DataBits: bits, StopBits: 1}
	if bits < 5 || bits > 8 {
		o.DataBits = 8
	}
	if stop == 2 {
		o.StopBits = 2
	}
	switch strings.ToLower(string(parity)) {
	case "e":
		o.Parity = ParityEven
	case "o":
		o.Parity = ParityOdd
	}
	o.HWFlow = strings.ToLower(string(flow)) == "h"
	return o
}

// Config is a channel's last applied configuration.
type Config struct {
	Baud    int
	Options Options
}
