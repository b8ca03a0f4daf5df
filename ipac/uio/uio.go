// Package uio is an ipac.Carrier for IP modules exposed to userspace through
// the Linux UIO framework. Each populated slot is one /dev/uioN device whose
// memory maps are the module's ID, IO and memory windows; its interrupt is
// delivered by read(2) on the device and re-armed by write(2).
package uio

import (
	"fmt"

	"github.com/jangala-dev/tinygo-gsoctal/ipac"
)

// Slot describes one UIO device and which of its maps back which window.
type Slot struct {
	Carrier int    `yaml:"carrier"`
	Slot    int    `yaml:"slot"`
	Device  string `yaml:"device"` // e.g. /dev/uio0
	IDMap   int    `yaml:"id_map"`
	IOMap   int    `yaml:"io_map"`
	MemMap  int    `yaml:"mem_map"`
}

// DefaultSlot numbers the maps the way the common IP carrier UIO drivers
// export them: ID, IO, memory.
func DefaultSlot(carrier, slot int, device string) Slot {
	return Slot{Carrier: carrier, Slot: slot, Device: device, IDMap: 0, IOMap: 1, MemMap: 2}
}

func (s Slot) window(space ipac.Space) (int, error) {
	switch space {
	case ipac.SpaceID:
		return s.IDMap, nil
	case ipac.SpaceIO:
		return s.IOMap, nil
	case ipac.SpaceMem:
		return s.MemMap, nil
	}
	return 0, fmt.Errorf("%w: %v", ipac.ErrNoSpace, space)
}

type key struct{ carrier, slot int }
