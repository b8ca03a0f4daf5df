package octal

import (
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/jangala-dev/tinygo-gsoctal/octalsim"
)

// fakeLD is a line discipline that records every call the driver makes.
type fakeLD struct {
	mu        sync.Mutex
	in        []byte
	out       []byte
	nextCalls int
	start     func()
	onReceive func()
}

func (l *fakeLD) ByteReceived(b byte) {
	l.mu.Lock()
	l.in = append(l.in, b)
	hook := l.onReceive
	l.mu.Unlock()
	if hook != nil {
		hook()
	}
}

func (l *fakeLD) NextByte() (byte, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextCalls++
	if len(l.out) == 0 {
		return 0, false
	}
	b := l.out[0]
	l.out = l.out[1:]
	return b, true
}

func (l *fakeLD) Write(p []byte) (int, error) {
	l.mu.Lock()
	l.out = append(l.out, p...)
	l.mu.Unlock()
	l.start()
	return len(p), nil
}

func (l *fakeLD) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.out)
}

func (l *fakeLD) received() []byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]byte(nil), l.in...)
}

func (l *fakeLD) calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.nextCalls
}

func (l *fakeLD) resetCalls() {
	l.mu.Lock()
	l.nextCalls = 0
	l.mu.Unlock()
}

func fakeFactory(rd, wr int, start func()) LineDiscipline {
	return &fakeLD{start: start}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// rig is one simulated module at carrier 0, slot 1.
type rig struct {
	car  *octalsim.Carrier
	slot *octalsim.Slot
	chip *octalsim.Chip
	d    *Driver
	m    *Module
}

func newRig(t *testing.T, typ string, opts ...Option) *rig {
	t.Helper()
	v, err := ParseVariant(typ)
	if err != nil {
		t.Fatal(err)
	}
	car := octalsim.NewCarrier()
	slot := car.Install(0, 1, v.Model())
	d, err := NewDriver(4, car, append([]Option{WithLogger(quietLogger())}, opts...)...)
	if err != nil {
		t.Fatal(err)
	}
	m, err := d.ModuleInit("octal0", typ, 0x60, 0, 1)
	if err != nil {
		t.Fatalf("ModuleInit: %v", err)
	}
	return &rig{car: car, slot: slot, chip: slot.Chip, d: d, m: m}
}

func (r *rig) create(t *testing.T, port int) (*Channel, *fakeLD) {
	t.Helper()
	c, err := r.m.Create(port, 512, 512)
	if err != nil {
		t.Fatalf("Create(%d): %v", port, err)
	}
	ld, _ := c.LineDiscipline().(*fakeLD)
	return c, ld
}

// pump clocks the chip n character times, servicing interrupts after each.
func (r *rig) pump(n int) {
	for i := 0; i < n; i++ {
		r.chip.Tick()
		r.slot.Service()
	}
}
