// Package scc2698 describes the register layout of the Philips SCC2698 octal
// UART as wired on GreenSpring/SBS IP-Octal modules. It has no behaviour of
// its own: Block and Chan are typed views over a Bus that name the registers
// and the bits inside them.
//
// The IP bus is 16 bits wide and the SCC2698 sits on the odd byte lane, so
// every register occupies the odd byte of a 16-bit word. The chip has four
// blocks of sixteen registers; each block serves two channels ("a" and "b")
// and carries the interrupt status/mask registers those channels share.
package scc2698

// Bus is byte-wide access to a module's IO window. Offsets are byte offsets
// from the start of the window. Implementations must not reorder or merge
// accesses: several registers have side effects on read or write.
type Bus interface {
	Read8(off uint32) byte
	Write8(off uint32, v byte)
}

const (
	// Ports is the number of serial channels on one chip.
	Ports = 8
	// Blocks is the number of two-channel register blocks.
	Blocks = 4

	blockStride = 32 // 16 registers, one per 16-bit word
	chanStride  = 16 // 8 registers, one per 16-bit word
)

// Register numbers within a block. Read and write share numbers but not
// meaning. Channel b's MR, SR/CSR, CR and RHR/THR are at these numbers + 8.
const (
	RegMR   = 0x0 // r/w: MR1/MR2 (pointer auto-advances after MR1)
	RegSR   = 0x1 // r: status
	RegCSR  = 0x1 // w: clock select
	RegCR   = 0x2 // w: command
	RegRHR  = 0x3 // r: receive holding
	RegTHR  = 0x3 // w: transmit holding
	RegIPCR = 0x4 // r: input port change
	RegACR  = 0x4 // w: auxiliary control
	RegISR  = 0x5 // r: interrupt status
	RegIMR  = 0x5 // w: interrupt mask
	RegIP   = 0xd // r: input port
	RegOPCR = 0xd // w: output port configuration
)

// SR (channel status) bits.
const (
	SRRxRDY  byte = 0x01
	SRFFULL  byte = 0x02
	SRTxRDY  byte = 0x04
	SRTxEMT  byte = 0x08
	SROverrn byte = 0x10
	SRParity byte = 0x20
	SRFrame  byte = 0x40
	SRBreak  byte = 0x80

	// SRErrors is the error nibble: overrun, parity, framing, break.
	SRErrors byte = 0xf0
)

// ISR/IMR bits. Channel a uses the low nibble, channel b the high one.
const (
	ISRTxRDYA byte = 0x01
	ISRRxRDYA byte = 0x02
	ISRTxRDYB byte = 0x10
	ISRRxRDYB byte = 0x20

	// Channel-local bits after ChannelStatus has selected the nibble.
	ISRTxRDY byte = 0x01
	ISRRxRDY byte = 0x02
)

// CR commands. The high nibble is a miscellaneous command; the low bits
// enable or disable the receiver and transmitter and may be combined with it.
const (
	CRNull        byte = 0x00
	CREnableRx    byte = 0x01
	CRDisableRx   byte = 0x02
	CREnableTx    byte = 0x04
	CRDisableTx   byte = 0x08
	CRResetMRPtr  byte = 0x10
	CRResetRx     byte = 0x20
	CRResetTx     byte = 0x30
	CRResetError  byte = 0x40
	CRAssertRTSN  byte = 0x80
	CRNegateRTSN  byte = 0x90
	crCommandMask byte = 0xf0
)

// MR1 fields.
const (
	MR1Bits5     byte = 0x00
	MR1Bits6     byte = 0x01
	MR1Bits7     byte = 0x02
	MR1Bits8     byte = 0x03
	MR1BitsMask  byte = 0x03
	MR1ParityOdd byte = 0x04
	MR1NoParity  byte = 0x10
	MR1RxRTS     byte = 0x80
)

// MR2 fields.
const (
	MR2Stop1     byte = 0x07
	MR2Stop2     byte = 0x0f
	MR2StopMask  byte = 0x0f
	MR2CTSTx     byte = 0x10
	MR2TxRTS     byte = 0x20
	MR2ChanModes byte = 0xc0
)

const (
	// ACRBRGSet2 selects baud rate generator set 2; the CSR values below
	// assume it.
	ACRBRGSet2 byte = 0x80
	// OPCRMPO configures MPP as output and MPOa/b as RTSN.
	OPCRMPO byte = 0x80
)

// CSR returns the clock select value for a baud rate with BRG set 2 and
// reports whether the rate is supported.
func CSR(baud int) (byte, bool) {
	switch baud {
	case 1200:
		return 0x66, true
	case 2400:
		return 0x88, true
	case 4800:
		return 0x99, true
	case 9600:
		return 0xbb, true
	case 19200:
		return 0xcc, true
	case 38400:
		return 0x22, true
	}
	return 0, false
}

// Baud is the inverse of CSR. It returns 0 for an unknown selector.
func Baud(csr byte) int {
	switch csr & 0x0f {
	case 0x6:
		return 1200
	case 0x8:
		return 2400
	case 0x9:
		return 4800
	case 0xb:
		return 9600
	case 0xc:
		return 19200
	case 0x2:
		return 38400
	}
	return 0
}

// BlockOf returns the register block serving port.
func BlockOf(port int) int { return port / 2 }

// Upper reports whether port is channel b of its block and so owns the high
// nibble of the shared ISR/IMR bytes.
func Upper(port int) bool { return port%2 == 1 }

// TxBit returns port's transmitter-ready bit within its block's ISR/IMR.
func TxBit(port int) byte {
	if Upper(port) {
		return ISRTxRDYB
	}
	return ISRTxRDYA
}

// RxBit returns port's receiver-ready bit within its block's ISR/IMR.
func RxBit(port int) byte {
	if Upper(port) {
		return ISRRxRDYB
	}
	return ISRRxRDYA
}

// ChannelStatus selects a channel's nibble of a shared ISR (or IMR) byte.
func ChannelStatus(isr byte, upper bool) byte {
	if upper {
		return (isr >> 4) & 0x0f
	}
	return isr & 0x0f
}

// RegOffset returns the byte offset of register reg of block b.
func RegOffset(b int, reg uint32) uint32 {
	return uint32(b)*blockStride + reg*2 + 1
}

// ChanOffset returns the byte offset of per-channel register reg of port.
func ChanOffset(port int, reg uint32) uint32 {
	return uint32(port)*chanStride + reg*2 + 1
}

// Command returns the miscellaneous command nibble of a CR value.
func Command(cr byte) byte { return cr & crCommandMask }
