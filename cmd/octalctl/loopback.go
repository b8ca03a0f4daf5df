package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jangala-dev/tinygo-gsoctal/octal"
	"github.com/jangala-dev/tinygo-gsoctal/tty"
)

const (
	sendChunk      = 64  // bytes per Write
	recvChunk      = 256 // bytes per read
	contextRadius  = 16  // surrounding bytes shown on mismatch
	defaultBytes   = 1024
	defaultTimeout = 30 * time.Second
)

func patternA(i int) byte { return byte((i*31 + 0x55) & 0xff) }
func patternB(i int) byte { return byte((i*17 + 0xa6) & 0xff) }

// loopback is a pattern integrity test between two ports wired TX to RX in
// both directions.
type loopback struct {
	a, b    string
	n       int
	oneWay  bool
	timeout time.Duration
}

func parseLoopback(args []string) (*loopback, error) {
	fs := flag.NewFlagSet("loopback", flag.ContinueOnError)
	lb := &loopback{}
	fs.IntVar(&lb.n, "bytes", defaultBytes, "bytes per direction")
	fs.BoolVar(&lb.oneWay, "one-way", false, "test each direction separately")
	fs.DurationVar(&lb.timeout, "timeout", defaultTimeout, "time limit per test")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() != 2 {
		return nil, fmt.Errorf("usage: loopback [-bytes N] [-one-way] <a> <b>")
	}
	if lb.n <= 0 {
		return nil, fmt.Errorf("-bytes must be positive")
	}
	lb.a, lb.b = fs.Arg(0), fs.Arg(1)
	return lb, nil
}

type endpoint struct {
	name string
	ch   *octal.Channel
	dev  *tty.Dev
}

func openEndpoint(d *octal.Driver, name string) (endpoint, error) {
	ch, ok := d.Find(name)
	if !ok {
		return endpoint{}, fmt.Errorf("%w: %q", octal.ErrNoSuchDevice, name)
	}
	dev, ok := ch.LineDiscipline().(*tty.Dev)
	if !ok {
		return endpoint{}, fmt.Errorf("%s: line discipline is not a tty", name)
	}
	return endpoint{name: name, ch: ch, dev: dev}, nil
}

func (lb *loopback) run(ctx context.Context, d *octal.Driver, w io.Writer) error {
	a, err := openEndpoint(d, lb.a)
	if err != nil {
		return err
	}
	b, err := openEndpoint(d, lb.b)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "octal integrity test\n")
	fmt.Fprintf(w, "%s %v @ %d  <->  %s %v @ %d  bytes/dir = %d\n",
		a.name, a.ch.Options(), a.ch.Baud(), b.name, b.ch.Options(), b.ch.Baud(), lb.n)

	pass, fail := 0, 0
	report := func(name string, err error) {
		if err == nil {
			fmt.Fprintf(w, "[PASS] %s\n", name)
			pass++
			return
		}
		fmt.Fprintf(w, "[FAIL] %s: %v\n", name, err)
		fail++
	}

	// A half-duplex line cannot carry both directions at once.
	if lb.oneWay || a.ch.HalfDuplex() || b.ch.HalfDuplex() {
		report(a.name+" -> "+b.name, lb.oneDirection(ctx, a, b, patternA))
		report(b.name+" -> "+a.name, lb.oneDirection(ctx, b, a, patternB))
	} else {
		report("full-duplex", lb.fullDuplex(ctx, a, b))
	}

	fmt.Fprintf(w, "\nSummary\n  passed = %d\n  failed = %d\n", pass, fail)
	if fail > 0 {
		return fmt.Errorf("%d of %d tests failed", fail, pass+fail)
	}
	return nil
}

func (lb *loopback) oneDirection(ctx context.Context, tx, rx endpoint, gen func(int) byte) error {
	rx.dev.FlushInput()
	ctx, cancel := context.WithTimeout(ctx, lb.timeout)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return recvAndCheck(ctx, rx.dev, gen, lb.n) })
	g.Go(func() error { return sendPattern(ctx, tx.ch, gen, lb.n) })
	return g.Wait()
}

func (lb *loopback) fullDuplex(ctx context.Context, a, b endpoint) error {
	a.dev.FlushInput()
	b.dev.FlushInput()
	ctx, cancel := context.WithTimeout(ctx, lb.timeout)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return recvAndCheck(ctx, b.dev, patternA, lb.n) })
	g.Go(func() error { return recvAndCheck(ctx, a.dev, patternB, lb.n) })
	g.Go(func() error { return sendPattern(ctx, a.ch, patternA, lb.n) })
	g.Go(func() error { return sendPattern(ctx, b.ch, patternB, lb.n) })
	return g.Wait()
}

func sendPattern(ctx context.Context, ch *octal.Channel, gen func(int) byte, n int) error {
	var buf [sendChunk]byte
	for i := 0; i < n; {
		if err := ctx.Err(); err != nil {
			return err
		}
		k := min(sendChunk, n-i)
		for j := 0; j < k; j++ {
			buf[j] = gen(i + j)
		}
		if _, err := ch.Write(buf[:k]); err != nil {
			return err
		}
		i += k
	}
	return nil
}

// mismatchError reports the first byte that differed, with the expected
// and received bytes around it.
type mismatchError struct {
	off      int
	start    int
	exp, act []byte
}

func (e *mismatchError) Error() string {
	return fmt.Sprintf("integrity mismatch at offset %d\n  bytes %d..%d\n  exp: % X\n  act: % X",
		e.off, e.start, e.start+len(e.exp)-1, e.exp, e.act)
}

// recvAndCheck reads exactly n bytes and compares each against gen(i).
func recvAndCheck(ctx context.Context, dev *tty.Dev, gen func(int) byte, n int) error {
	var buf [recvChunk]byte
	received := 0
	for received < n {
		m, err := dev.ReadBlocking(ctx, buf[:min(len(buf), n-received)])
		if err != nil {
			return fmt.Errorf("after %d of %d bytes: %w", received, n, err)
		}
		for i := 0; i < m; i++ {
			if buf[i] != gen(received+i) {
				return newMismatch(gen, received, buf[:m], i)
			}
		}
		received += m
	}
	return nil
}

// newMismatch builds the context window around chunk[rel], the byte at
// stream offset base+rel. Bytes not in chunk are shown as zero.
func newMismatch(gen func(int) byte, base int, chunk []byte, rel int) error {
	off := base + rel
	start := max(off-contextRadius, 0)
	end := off + contextRadius + 1
	e := &mismatchError{off: off, start: start, exp: make([]byte, end-start), act: make([]byte, end-start)}
	for i := range e.exp {
		e.exp[i] = gen(start + i)
		if idx := start + i - base; idx >= 0 && idx < len(chunk) {
			e.act[i] = chunk[idx]
		}
	}
	return e
}
