//go:build linux

package uio

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

// socketDevice stands a socketpair in for a UIO fd: writes on the peer are
// interrupt counts, and the device's enable words arrive there.
func socketDevice(t *testing.T) (*device, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatal(err)
	}
	d := &device{cfg: DefaultSlot(0, 0, "socketpair"), fd: fds[0], enabled: true}
	t.Cleanup(func() {
		d.close()
		_ = unix.Close(fds[1])
	})
	return d, fds[1]
}

func fire(t *testing.T, peer int) {
	t.Helper()
	var count [4]byte
	binary.NativeEndian.PutUint32(count[:], 1)
	if _, err := unix.Write(peer, count[:]); err != nil {
		t.Fatal(err)
	}
}

// enableWords drains whatever the device has written to peer.
func enableWords(t *testing.T, peer int) []uint32 {
	t.Helper()
	if err := unix.SetNonblock(peer, true); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 64)
	n, err := unix.Read(peer, buf)
	if err != nil && !errors.Is(err, unix.EAGAIN) {
		t.Fatal(err)
	}
	var words []uint32
	for i := 0; i+4 <= n; i += 4 {
		words = append(words, binary.NativeEndian.Uint32(buf[i:]))
	}
	return words
}

func serveOne(t *testing.T, d *device, peer int) {
	t.Helper()
	handled := make(chan struct{}, 1)
	isr := d.isr
	d.isr = func() {
		if isr != nil {
			isr()
		}
		handled <- struct{}{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.serve(ctx) }()

	fire(t, peer)
	select {
	case <-handled:
	case <-time.After(2 * time.Second):
		t.Fatal("interrupt not delivered")
	}
	// Let serve finish the pass it is in before stopping it.
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("serve did not stop")
	}
}

func TestServeRearmsAfterInterrupt(t *testing.T) {
	d, peer := socketDevice(t)
	serveOne(t, d, peer)

	words := enableWords(t, peer)
	if len(words) != 1 || words[0] != 1 {
		t.Fatalf("enable words = %v, want [1]", words)
	}
}

func TestServeDoesNotRearmAfterDisableInHandler(t *testing.T) {
	d, peer := socketDevice(t)
	// A shutdown landing while the handler runs.
	d.isr = func() {
		if err := d.irqControl(false); err != nil {
			t.Error(err)
		}
	}
	serveOne(t, d, peer)

	words := enableWords(t, peer)
	if len(words) != 1 || words[0] != 0 {
		t.Fatalf("enable words = %v, want only the disable [0]", words)
	}
}
