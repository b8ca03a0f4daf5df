package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"

	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/jangala-dev/tinygo-gsoctal/octal"
)

// escapeByte (Ctrl-]) ends a bridge session.
const escapeByte = 0x1d

// bridge copies the terminal to a port and the port to the terminal until
// the escape byte is typed or ctx is done.
func bridge(ctx context.Context, d *octal.Driver, name string) error {
	ep, err := openEndpoint(d, name)
	if err != nil {
		return err
	}

	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		old, err := term.MakeRaw(fd)
		if err != nil {
			return fmt.Errorf("enable raw mode: %w", err)
		}
		defer term.Restore(fd, old)
	}
	fmt.Fprintf(os.Stderr, "connected to %s (%v @ %d); Ctrl-] to exit\r\n", name, ep.ch.Options(), ep.ch.Baud())

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Stdin reads cannot be interrupted, so the reader lives outside the
	// group and is abandoned on exit.
	in := make(chan []byte)
	go func() {
		defer close(in)
		var buf [256]byte
		for {
			n, err := os.Stdin.Read(buf[:])
			if n > 0 {
				select {
				case in <- append([]byte(nil), buf[:n]...):
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var buf [256]byte
		for {
			n, err := ep.dev.ReadBlocking(gctx, buf[:])
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			}
			if _, err := os.Stdout.Write(buf[:n]); err != nil {
				return err
			}
		}
	})
	g.Go(func() error {
		defer cancel()
		for {
			select {
			case <-gctx.Done():
				return nil
			case p, ok := <-in:
				if !ok {
					return nil
				}
				quit := false
				if i := bytes.IndexByte(p, escapeByte); i >= 0 {
					p, quit = p[:i], true
				}
				if _, err := ep.ch.Write(p); err != nil {
					return err
				}
				if quit {
					return nil
				}
			}
		}
	})
	return g.Wait()
}
