package octal

import (
	"bytes"
	"errors"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/jangala-dev/tinygo-gsoctal/scc2698"
)

func TestCreateBringsUp9600_8N1(t *testing.T) {
	r := newRig(t, "232", WithLineDiscipline(fakeFactory))
	c, _ := r.create(t, 3)

	if c.Baud() != 9600 || r.chip.CSR(3) != 0xbb {
		t.Fatalf("baud = %d csr = %#x, want 9600/0xbb", c.Baud(), r.chip.CSR(3))
	}
	if mr1, mr2 := r.chip.Mode(3); mr1 != 0x13 || mr2 != 0x07 {
		t.Fatalf("mode = %#x/%#x, want 0x13/0x07", mr1, mr2)
	}
	if got := c.Options(); got != DefaultOptions() {
		t.Fatalf("options = %v", got)
	}
	if r.chip.ACR(1) != scc2698.ACRBRGSet2 || r.chip.OPCR(1) != scc2698.OPCRMPO {
		t.Fatalf("acr/opcr = %#x/%#x", r.chip.ACR(1), r.chip.OPCR(1))
	}
	// Receive interrupts only until output is queued.
	if r.m.IMR(1) != scc2698.ISRRxRDYB || r.chip.IMR(1) != scc2698.ISRRxRDYB {
		t.Fatalf("imr shadow/hw = %#x/%#x", r.m.IMR(1), r.chip.IMR(1))
	}
	if rx, tx := r.chip.Enabled(3); !rx || !tx {
		t.Fatalf("enabled rx=%v tx=%v", rx, tx)
	}
	want := []byte{0x1a, 0x20, 0x30, 0x40, 0x10, 0x05}
	if got := r.chip.Commands(3); !bytes.Equal(got, want) {
		t.Fatalf("commands = % x, want % x", got, want)
	}
	if _, err := r.m.Create(3, 512, 512); !errors.Is(err, ErrAlreadyCreated) {
		t.Fatalf("second Create = %v", err)
	}
	if _, err := r.m.Create(8, 512, 512); !errors.Is(err, ErrInvalidPort) {
		t.Fatalf("Create(8) = %v", err)
	}
}

func TestSetBaud(t *testing.T) {
	r := newRig(t, "232", WithLineDiscipline(fakeFactory))
	c, _ := r.create(t, 0)

	if err := c.SetBaud(57600); !errors.Is(err, ErrUnsupportedRate) {
		t.Fatalf("SetBaud(57600) = %v", err)
	}
	if c.Baud() != 9600 || r.chip.CSR(0) != 0xbb {
		t.Fatalf("failed SetBaud changed the channel: %d %#x", c.Baud(), r.chip.CSR(0))
	}

	for _, rate := range []int{1200, 2400, 4800, 9600, 19200, 38400} {
		if err := c.SetBaud(rate); err != nil {
			t.Fatalf("SetBaud(%d): %v", rate, err)
		}
		want, _ := scc2698.CSR(rate)
		if r.chip.CSR(0) != want || c.Baud() != rate {
			t.Fatalf("rate %d: csr %#x want %#x", rate, r.chip.CSR(0), want)
		}
		if scc2698.Baud(r.chip.CSR(0)) != rate {
			t.Fatalf("rate %d does not decode back", rate)
		}
	}

	other, _ := r.m.Port(1)
	if err := other.SetBaud(9600); !errors.Is(err, ErrNotCreated) {
		t.Fatalf("SetBaud on uncreated port = %v", err)
	}
}

func TestSetOptions(t *testing.T) {
	cases := []struct {
		name     string
		typ      string
		opts     Options
		mr1, mr2 byte
		rts      bool
	}{
		{"8N1", "232", DefaultOptions(), 0x13, 0x07, false},
		{"7E2 rtscts", "232", Options{DataBits: 7, StopBits: 2, Parity: ParityEven, HWFlow: true}, 0x82, 0x1f, true},
		{"5O1", "422", Options{DataBits: 5, StopBits: 1, Parity: ParityOdd}, 0x04, 0x07, false},
		{"clamped", "232", Options{DataBits: 12, StopBits: 3}, 0x13, 0x0f, false},
		{"485 strips flow", "485", Options{DataBits: 8, StopBits: 1, HWFlow: true}, 0x13, 0x07, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newRig(t, tc.typ, WithLineDiscipline(fakeFactory))
			c, _ := r.create(t, 6)
			for i := 0; i < 2; i++ {
				if err := c.SetOptions(tc.opts); err != nil {
					t.Fatal(err)
				}
				mr1, mr2 := r.chip.Mode(6)
				if mr1 != tc.mr1 || mr2 != tc.mr2 {
					t.Fatalf("pass %d: mode = %#x/%#x, want %#x/%#x", i, mr1, mr2, tc.mr1, tc.mr2)
				}
				if cm1, cm2 := c.ModeBytes(); cm1 != mr1 || cm2 != mr2 {
					t.Fatalf("recorded mode %#x/%#x differs from chip", cm1, cm2)
				}
			}
			if r.chip.RTS(6) != tc.rts {
				t.Fatalf("rts = %v, want %v", r.chip.RTS(6), tc.rts)
			}
		})
	}
}

func TestHalfDuplexOption(t *testing.T) {
	r := newRig(t, "422", WithLineDiscipline(fakeFactory))
	c, _ := r.create(t, 2)
	if c.HalfDuplex() {
		t.Fatal("422 port half-duplex by default")
	}
	if err := c.SetOptions(Options{DataBits: 8, StopBits: 1, HalfDuplex: true}); err != nil {
		t.Fatal(err)
	}
	if !c.HalfDuplex() {
		t.Fatal("HalfDuplex option not applied")
	}
}

func TestStartTxKeepsByteWhenHoldingRegisterBusy(t *testing.T) {
	r := newRig(t, "232", WithLineDiscipline(fakeFactory))
	c, _ := r.create(t, 4)

	// The first byte goes straight to THR; the second finds it full.
	if _, err := c.Write([]byte("A")); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Write([]byte("B")); err != nil {
		t.Fatal(err)
	}
	if r.m.IMR(2)&scc2698.ISRTxRDYA == 0 {
		t.Fatal("TxRDY interrupt not enabled")
	}
	r.pump(6)

	if got := r.chip.SentBytes(4); !bytes.Equal(got, []byte("AB")) {
		t.Fatalf("sent %q, want %q", got, "AB")
	}
	if n := r.chip.Overwrites(4); n != 0 {
		t.Fatalf("%d THR overwrites", n)
	}
	if r.m.IMR(2)&scc2698.ISRTxRDYA != 0 {
		t.Fatal("TxRDY interrupt still enabled after output drained")
	}
	if st := c.Stats(); st.Transmitted != 2 {
		t.Fatalf("transmitted = %d", st.Transmitted)
	}
}

func TestFullDuplexWriteLeavesRTSAlone(t *testing.T) {
	r := newRig(t, "232")
	c, err := r.m.Create(1, 64, 64)
	if err != nil {
		t.Fatal(err)
	}
	msg := []byte("hello, octal")
	if _, err := c.Write(msg); err != nil {
		t.Fatal(err)
	}
	r.pump(2*len(msg) + 4)

	if got := r.chip.SentBytes(1); !bytes.Equal(got, msg) {
		t.Fatalf("sent %q", got)
	}
	for _, cr := range r.chip.Commands(1) {
		if cmd := scc2698.Command(cr); cmd == scc2698.CRAssertRTSN || cmd == scc2698.CRNegateRTSN {
			t.Fatalf("full-duplex port issued RTS command %#x", cr)
		}
	}
}

func TestHalfDuplexWriteHoldsRTSUntilEmpty(t *testing.T) {
	r := newRig(t, "485")
	c, err := r.m.Create(5, 64, 64)
	if err != nil {
		t.Fatal(err)
	}
	if !c.HalfDuplex() {
		t.Fatal("485 port not half-duplex")
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			default:
				r.pump(1)
			}
		}
	}()

	msg := []byte("turnaround")
	n, err := c.Write(msg)
	close(stop)
	<-done
	if err != nil || n != len(msg) {
		t.Fatalf("Write = %d, %v", n, err)
	}

	sent := r.chip.Sent(5)
	if len(sent) != len(msg) {
		t.Fatalf("sent %d bytes before RTS dropped, want %d", len(sent), len(msg))
	}
	for i, ev := range sent {
		if ev.B != msg[i] || !ev.RTSStart || !ev.RTSEnd {
			t.Fatalf("byte %d = %+v, want %q with RTS held throughout", i, ev, msg[i])
		}
	}
	if r.chip.RTS(5) {
		t.Fatal("RTS still asserted after Write returned")
	}
	if rx, _ := r.chip.Enabled(5); !rx {
		t.Fatal("receiver not re-enabled")
	}
	cmds := r.chip.Commands(5)
	if !bytes.Contains(cmds, []byte{0x82}) || cmds[len(cmds)-1] != 0x91 {
		t.Fatalf("commands = % x", cmds)
	}
}

// stallingLD stalls inside NextByte after handing out its final byte, so
// the dispatcher sits between the queue and THR with the module locked.
type stallingLD struct {
	fakeLD
	stall time.Duration
}

func (l *stallingLD) NextByte() (byte, bool) {
	b, ok := l.fakeLD.NextByte()
	if ok && l.fakeLD.Pending() == 0 {
		time.Sleep(l.stall)
	}
	return b, ok
}

func TestHalfDuplexWriteHoldsRTSWithFreeRunningClock(t *testing.T) {
	r := newRig(t, "485", WithLineDiscipline(func(rd, wr int, start func()) LineDiscipline {
		return &stallingLD{fakeLD: fakeLD{start: start}, stall: 30 * time.Millisecond}
	}))
	c, err := r.m.Create(2, 64, 64)
	if err != nil {
		t.Fatal(err)
	}

	// The chip clocks on its own, independent of interrupt service.
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				r.chip.Tick()
				time.Sleep(100 * time.Microsecond)
			}
		}
	}()
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				r.slot.Service()
				runtime.Gosched()
			}
		}
	}()

	msg := []byte("abc")
	n, err := c.Write(msg)
	close(stop)
	wg.Wait()
	if err != nil || n != len(msg) {
		t.Fatalf("Write = %d, %v", n, err)
	}

	sent := r.chip.Sent(2)
	if len(sent) != len(msg) {
		t.Fatalf("%d bytes on the wire when Write returned, want %d", len(sent), len(msg))
	}
	for i, ev := range sent {
		if ev.B != msg[i] || !ev.RTSStart || !ev.RTSEnd {
			t.Fatalf("byte %d = %+v, want %q with RTS held throughout", i, ev, msg[i])
		}
	}
	if r.chip.RTS(2) {
		t.Fatal("RTS still asserted after Write returned")
	}
}

func TestWriteOnUncreatedPort(t *testing.T) {
	r := newRig(t, "232", WithLineDiscipline(fakeFactory))
	c, _ := r.m.Port(7)
	if _, err := c.Write([]byte("x")); !errors.Is(err, ErrNotCreated) {
		t.Fatalf("Write = %v", err)
	}
	c.StartTx()
	if r.chip.IMR(3) != 0 || len(r.chip.Commands(7)) != 0 {
		t.Fatal("StartTx touched an uncreated port")
	}
}
