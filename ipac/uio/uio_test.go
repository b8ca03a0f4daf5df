package uio

import (
	"errors"
	"testing"

	"github.com/jangala-dev/tinygo-gsoctal/ipac"
)

func TestDefaultSlotWindows(t *testing.T) {
	s := DefaultSlot(0, 2, "/dev/uio3")
	for space, want := range map[ipac.Space]int{ipac.SpaceID: 0, ipac.SpaceIO: 1, ipac.SpaceMem: 2} {
		got, err := s.window(space)
		if err != nil || got != want {
			t.Fatalf("%v: map %d, %v; want %d", space, got, err, want)
		}
	}
	if _, err := s.window(ipac.Space(42)); !errors.Is(err, ipac.ErrNoSpace) {
		t.Fatalf("unknown space = %v", err)
	}
}

func TestOpenMissingDevice(t *testing.T) {
	_, err := Open([]Slot{DefaultSlot(0, 0, "/dev/uio-does-not-exist")}, nil)
	if err == nil {
		t.Fatal("Open of a missing device succeeded")
	}
}
