package scc2698

import "testing"

type recBus struct {
	writes []access
	reads  []uint32
	mem    map[uint32]byte
}

type access struct {
	off uint32
	v   byte
}

func (b *recBus) Read8(off uint32) byte {
	b.reads = append(b.reads, off)
	return b.mem[off]
}

func (b *recBus) Write8(off uint32, v byte) {
	b.writes = append(b.writes, access{off, v})
}

func TestOffsets(t *testing.T) {
	cases := []struct {
		name string
		got  uint32
		want uint32
	}{
		{"block0 ISR", RegOffset(0, RegISR), 0x0b},
		{"block3 IMR", RegOffset(3, RegIMR), 3*32 + 0x0b},
		{"block1 OPCR", RegOffset(1, RegOPCR), 32 + 0x1b},
		{"port0 SR", ChanOffset(0, RegSR), 0x03},
		{"port1 CR", ChanOffset(1, RegCR), 16 + 0x05},
		{"port7 THR", ChanOffset(7, RegTHR), 7*16 + 0x07},
	}
	for _, c := range cases {
		if c.got != c.want {
			t.Errorf("%s: got %#x want %#x", c.name, c.got, c.want)
		}
	}
}

// Channel b's registers sit at block register numbers 8..11.
func TestChannelBAliasesBlock(t *testing.T) {
	for port := 1; port < Ports; port += 2 {
		b := BlockOf(port)
		if got, want := ChanOffset(port, RegSR), RegOffset(b, RegSR+8); got != want {
			t.Fatalf("port %d SR: got %#x want %#x", port, got, want)
		}
	}
}

func TestChannelStatus(t *testing.T) {
	isr := ISRRxRDYA | ISRTxRDYB
	if got := ChannelStatus(isr, false); got != ISRRxRDY {
		t.Fatalf("lower nibble: got %#x", got)
	}
	if got := ChannelStatus(isr, true); got != ISRTxRDY {
		t.Fatalf("upper nibble: got %#x", got)
	}
}

func TestBits(t *testing.T) {
	for port := 0; port < Ports; port++ {
		upper := Upper(port)
		if ChannelStatus(TxBit(port), upper) != ISRTxRDY {
			t.Errorf("port %d tx bit %#x not in own nibble", port, TxBit(port))
		}
		if ChannelStatus(RxBit(port), upper) != ISRRxRDY {
			t.Errorf("port %d rx bit %#x not in own nibble", port, RxBit(port))
		}
		if ChannelStatus(TxBit(port)|RxBit(port), !upper) != 0 {
			t.Errorf("port %d bits leak into sibling nibble", port)
		}
	}
}

func TestCSRRoundTrip(t *testing.T) {
	for _, baud := range []int{1200, 2400, 4800, 9600, 19200, 38400} {
		csr, ok := CSR(baud)
		if !ok {
			t.Fatalf("CSR(%d) unsupported", baud)
		}
		if got := Baud(csr); got != baud {
			t.Fatalf("Baud(%#x) = %d, want %d", csr, got, baud)
		}
	}
	for _, baud := range []int{0, 300, 57600, 115200, -1} {
		if _, ok := CSR(baud); ok {
			t.Fatalf("CSR(%d) should be unsupported", baud)
		}
	}
}

func TestViews(t *testing.T) {
	bus := &recBus{mem: map[uint32]byte{ChanOffset(5, RegSR): SRTxRDY}}
	c := NewChan(bus, 5)
	if c.SR() != SRTxRDY {
		t.Fatal("SR did not read channel 5 status")
	}
	c.Command(CRResetError)
	NewBlock(bus, 2).SetIMR(0x22)
	want := []access{
		{ChanOffset(5, RegCR), CRResetError},
		{RegOffset(2, RegIMR), 0x22},
	}
	if len(bus.writes) != len(want) {
		t.Fatalf("writes = %v", bus.writes)
	}
	for i := range want {
		if bus.writes[i] != want[i] {
			t.Fatalf("write %d = %+v, want %+v", i, bus.writes[i], want[i])
		}
	}
}
