package ipac

import (
	"errors"
	"testing"
)

type promBus []byte

func (p promBus) Read8(off uint32) byte {
	if off%2 == 0 || int(off/2) >= len(p) {
		return 0xff
	}
	return p[off/2]
}

func (p promBus) Write8(uint32, byte) {}

func TestBuildParseID(t *testing.T) {
	want := ID{Manufacturer: 0xf0, Model: 0x22, Revision: 3, Driver: 0x1234}
	got, err := ParseID(ReadID(promBus(BuildID(want))))
	if err != nil {
		t.Fatalf("ParseID: %v", err)
	}
	if got != want {
		t.Fatalf("got %+v want %+v", got, want)
	}
}

func TestValidateID(t *testing.T) {
	good := BuildID(ID{Manufacturer: 0xf0, Model: 0x48})

	corrupt := append([]byte(nil), good...)
	corrupt[idRevision] ^= 0x01

	noSig := append([]byte(nil), good...)
	noSig[0] = 'X'

	blank := make([]byte, idMaxLen)
	for i := range blank {
		blank[i] = 0xff
	}

	cases := []struct {
		name  string
		prom  []byte
		model byte
		want  error
	}{
		{"ok", good, 0x48, nil},
		{"wrong model", good, 0x22, ErrBadModule},
		{"bad crc", corrupt, 0x48, ErrBadCRC},
		{"no signature", noSig, 0x48, ErrNoIpacID},
		{"empty slot", blank, 0x48, ErrNoModule},
		{"short", good[:4], 0x48, ErrNoIpacID},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := ValidateID(c.prom, 0xf0, c.model)
			if c.want == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, c.want) {
				t.Fatalf("got %v want %v", err, c.want)
			}
		})
	}
}
