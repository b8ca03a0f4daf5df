package ipac

import (
	"fmt"

	"github.com/jangala-dev/tinygo-gsoctal/scc2698"
)

// ID PROM byte indices. Each byte sits on the odd lane of a 16-bit word, so
// index i is at offset 2*i+1 of the ID space.
const (
	idManufacturer = 4
	idModel        = 5
	idRevision     = 6
	idDriverLo     = 8
	idDriverHi     = 9
	idUsed         = 10
	idCRC          = 11

	idMinLen = 12
	idMaxLen = 32
)

// ID is a decoded identification PROM.
type ID struct {
	Manufacturer byte
	Model        byte
	Revision     byte
	Driver       uint16
}

// ReadID copies the identification PROM out of an ID window.
func ReadID(bus scc2698.Bus) []byte {
	prom := make([]byte, idMaxLen)
	for i := range prom {
		prom[i] = bus.Read8(uint32(2*i + 1))
	}
	if n := int(prom[idUsed]); n >= idMinLen && n <= idMaxLen {
		prom = prom[:n]
	}
	return prom
}

// ParseID checks the "IPAC" signature and CRC of prom and decodes it.
func ParseID(prom []byte) (ID, error) {
	if len(prom) < idMinLen {
		return ID{}, ErrNoIpacID
	}
	blank := true
	for _, b := range prom {
		if b != 0xff {
			blank = false
			break
		}
	}
	if blank {
		return ID{}, ErrNoModule
	}
	if string(prom[:4]) != "IPAC" {
		return ID{}, ErrNoIpacID
	}
	if got, want := CRC(prom), prom[idCRC]; got != want {
		return ID{}, fmt.Errorf("%w: computed %#02x, prom %#02x", ErrBadCRC, got, want)
	}
	return ID{
		Manufacturer: prom[idManufacturer],
		Model:        prom[idModel],
		Revision:     prom[idRevision],
		Driver:       uint16(prom[idDriverHi])<<8 | uint16(prom[idDriverLo]),
	}, nil
}

// ValidateID checks prom and that it names manufacturer and model.
func ValidateID(prom []byte, manufacturer, model byte) error {
	id, err := ParseID(prom)
	if err != nil {
		return err
	}
	if id.Manufacturer != manufacturer || id.Model != model {
		return fmt.Errorf("%w: found %#02x/%#02x, want %#02x/%#02x",
			ErrBadModule, id.Manufacturer, id.Model, manufacturer, model)
	}
	return nil
}

// CRC computes the PROM check byte: CRC-16/CCITT (poly 0x1021, seed
// 0xffff, MSB first) over the used bytes with the CRC byte taken as zero,
// complemented, low byte.
func CRC(prom []byte) byte {
	crc := uint16(0xffff)
	for i, b := range prom {
		if i == idCRC {
			b = 0
		}
		for bit := byte(0x80); bit != 0; bit >>= 1 {
			in := b&bit != 0
			top := crc&0x8000 != 0
			crc <<= 1
			if in != top {
				crc ^= 0x1021
			}
		}
	}
	return byte(^crc)
}

// BuildID returns a well-formed PROM image for id. Simulated carriers use
// it to populate their ID windows.
func BuildID(id ID) []byte {
	prom := make([]byte, idMinLen)
	copy(prom, "IPAC")
	prom[idManufacturer] = id.Manufacturer
	prom[idModel] = id.Model
	prom[idRevision] = id.Revision
	prom[idDriverLo] = byte(id.Driver)
	prom[idDriverHi] = byte(id.Driver >> 8)
	prom[idUsed] = idMinLen
	prom[idCRC] = CRC(prom)
	return prom
}
