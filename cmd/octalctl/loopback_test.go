package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/jangala-dev/tinygo-gsoctal/config"
)

func startSim(t *testing.T, yaml, a, b string) *system {
	t.Helper()
	cfg, err := config.Parse([]byte(yaml))
	if err != nil {
		t.Fatal(err)
	}
	sys, err := bringUp(cfg, true, 50*time.Microsecond, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatal(err)
	}
	if err := sys.wireLoopback(a, b); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = sys.serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		sys.close()
	})
	return sys
}

func TestLoopbackFullDuplex(t *testing.T) {
	sys := startSim(t, simDefault, "/tyCo/0", "/tyCo/1")
	lb := &loopback{a: "/tyCo/0", b: "/tyCo/1", n: 300, timeout: 20 * time.Second}

	var out bytes.Buffer
	if err := lb.run(context.Background(), sys.driver, &out); err != nil {
		t.Fatalf("loopback: %v\n%s", err, out.String())
	}
	if !strings.Contains(out.String(), "[PASS] full-duplex") {
		t.Fatalf("output:\n%s", out.String())
	}

	rep := sys.driver.Report()
	for _, p := range rep.Modules[0].Ports[:2] {
		if p.Received != 300 || p.Transmitted != 300 {
			t.Fatalf("port %d stats %+v", p.Port, p.PortStats)
		}
	}
}

func TestLoopbackHalfDuplex(t *testing.T) {
	const cfg = `
modules:
  - {id: rs485, type: "485", vector: 0x70, carrier: 1, slot: 3}
ports:
  - {name: /rs485/a, module: rs485, port: 2, baud: 38400}
  - {name: /rs485/b, module: rs485, port: 5, baud: 38400}
`
	sys := startSim(t, cfg, "/rs485/a", "/rs485/b")
	lb := &loopback{a: "/rs485/a", b: "/rs485/b", n: 100, timeout: 20 * time.Second}

	var out bytes.Buffer
	if err := lb.run(context.Background(), sys.driver, &out); err != nil {
		t.Fatalf("loopback: %v\n%s", err, out.String())
	}
	for _, want := range []string{"[PASS] /rs485/a -> /rs485/b", "[PASS] /rs485/b -> /rs485/a", "failed = 0"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("missing %q in:\n%s", want, out.String())
		}
	}
}

func TestMismatchContext(t *testing.T) {
	chunk := make([]byte, 40)
	for i := range chunk {
		chunk[i] = patternA(100 + i)
	}
	chunk[20] ^= 0xff

	err := newMismatch(patternA, 100, chunk, 20)
	var me *mismatchError
	if !errors.As(err, &me) {
		t.Fatalf("error type %T", err)
	}
	if me.off != 120 || me.start != 104 || len(me.exp) != 2*contextRadius+1 {
		t.Fatalf("mismatch %+v", me)
	}
	if me.act[contextRadius] == me.exp[contextRadius] || me.act[0] != me.exp[0] {
		t.Fatal("context window misaligned")
	}
	if !strings.Contains(err.Error(), "offset 120") {
		t.Fatalf("message %q", err.Error())
	}
}

func TestParseLoopback(t *testing.T) {
	lb, err := parseLoopback([]string{"-bytes", "64", "-one-way", "/a", "/b"})
	if err != nil {
		t.Fatal(err)
	}
	if lb.n != 64 || !lb.oneWay || lb.a != "/a" || lb.b != "/b" || lb.timeout != defaultTimeout {
		t.Fatalf("parsed %+v", lb)
	}
	if _, err := parseLoopback([]string{"/a"}); err == nil {
		t.Fatal("one device accepted")
	}
	if _, err := parseLoopback([]string{"-bytes", "0", "/a", "/b"}); err == nil {
		t.Fatal("zero bytes accepted")
	}
}
