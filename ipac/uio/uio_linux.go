//go:build linux

package uio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/jangala-dev/tinygo-gsoctal/ipac"
	"github.com/jangala-dev/tinygo-gsoctal/scc2698"
)

// pollTimeout bounds how long an interrupt goroutine sleeps before it
// looks at its context again, in milliseconds.
const pollTimeout = 100

// window is an mmapped UIO map.
type window []byte

func (w window) Read8(off uint32) byte {
	if int(off) >= len(w) {
		return 0xff
	}
	return w[off]
}

func (w window) Write8(off uint32, v byte) {
	if int(off) < len(w) {
		w[off] = v
	}
}

type device struct {
	cfg  Slot
	fd   int
	maps map[int]window

	mu      sync.Mutex
	isr     func()
	enabled bool
}

// Carrier drives UIO-backed slots. Close releases every mapping and fd.
type Carrier struct {
	log   *slog.Logger
	devs  map[key]*device
	order []*device
}

// Open opens and maps every slot.
func Open(slots []Slot, log *slog.Logger) (*Carrier, error) {
	if log == nil {
		log = slog.Default()
	}
	c := &Carrier{log: log, devs: make(map[key]*device)}
	for _, s := range slots {
		k := key{s.Carrier, s.Slot}
		if _, dup := c.devs[k]; dup {
			c.Close()
			return nil, fmt.Errorf("uio: carrier %d slot %d listed twice", s.Carrier, s.Slot)
		}
		d, err := openDevice(s)
		if err != nil {
			c.Close()
			return nil, err
		}
		c.devs[k] = d
		c.order = append(c.order, d)
		log.Debug("uio slot mapped", "device", s.Device, "carrier", s.Carrier, "slot", s.Slot)
	}
	return c, nil
}

func openDevice(s Slot) (*device, error) {
	fd, err := unix.Open(s.Device, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("uio: open %s: %w", s.Device, err)
	}
	d := &device{cfg: s, fd: fd, maps: make(map[int]window)}
	for _, idx := range []int{s.IDMap, s.IOMap, s.MemMap} {
		if _, ok := d.maps[idx]; ok {
			continue
		}
		size, err := mapSize(s.Device, idx)
		if err != nil {
			d.close()
			return nil, err
		}
		// UIO selects map N by an mmap offset of N pages.
		mem, err := unix.Mmap(fd, int64(idx*os.Getpagesize()), size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
		if err != nil {
			d.close()
			return nil, fmt.Errorf("uio: mmap %s map%d: %w", s.Device, idx, err)
		}
		d.maps[idx] = window(mem)
	}
	return d, nil
}

// mapSize reads /sys/class/uio/uioN/maps/mapI/size.
func mapSize(dev string, idx int) (int, error) {
	p := filepath.Join("/sys/class/uio", filepath.Base(dev), "maps", fmt.Sprintf("map%d", idx), "size")
	raw, err := os.ReadFile(p)
	if err != nil {
		return 0, fmt.Errorf("uio: %w", err)
	}
	n, err := strconv.ParseUint(strings.TrimSpace(string(raw)), 0, 32)
	if err != nil {
		return 0, fmt.Errorf("uio: parse %s: %w", p, err)
	}
	return int(n), nil
}

func (d *device) close() {
	for _, w := range d.maps {
		_ = unix.Munmap(w)
	}
	d.maps = nil
	if d.fd >= 0 {
		_ = unix.Close(d.fd)
		d.fd = -1
	}
}

// irqControl writes the 32-bit enable word UIO expects.
func (d *device) irqControl(on bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enabled = on
	return d.arm(on)
}

// rearm re-enables the interrupt after it was handled, unless it was
// disabled while the handler ran.
func (d *device) rearm() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.enabled {
		return nil
	}
	return d.arm(true)
}

// arm requires d.mu.
func (d *device) arm(on bool) error {
	var buf [4]byte
	if on {
		binary.NativeEndian.PutUint32(buf[:], 1)
	}
	_, err := unix.Write(d.fd, buf[:])
	return err
}

func (c *Carrier) lookup(carrier, slot int) (*device, error) {
	if carrier < 0 || slot < 0 {
		return nil, fmt.Errorf("%w: carrier %d slot %d", ipac.ErrBadAddress, carrier, slot)
	}
	d, ok := c.devs[key{carrier, slot}]
	if !ok {
		return nil, ipac.ErrNoModule
	}
	return d, nil
}

// Validate implements ipac.Carrier.
func (c *Carrier) Validate(carrier, slot int, manufacturer, model byte) error {
	d, err := c.lookup(carrier, slot)
	if err != nil {
		return err
	}
	return ipac.ValidateID(ipac.ReadID(d.maps[d.cfg.IDMap]), manufacturer, model)
}

// BaseAddr implements ipac.Carrier.
func (c *Carrier) BaseAddr(carrier, slot int, space ipac.Space) (scc2698.Bus, error) {
	d, err := c.lookup(carrier, slot)
	if err != nil {
		return nil, err
	}
	idx, err := d.cfg.window(space)
	if err != nil {
		return nil, err
	}
	return d.maps[idx], nil
}

// IntConnect implements ipac.Carrier. The vector is programmed into the
// module by the driver; UIO has no use for it.
func (c *Carrier) IntConnect(carrier, slot, vector int, isr func()) error {
	d, err := c.lookup(carrier, slot)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.isr = isr
	d.mu.Unlock()
	return nil
}

// IrqCmd implements ipac.Carrier. Both request lines share the device's
// single interrupt, so enabling or disabling either one affects both.
func (c *Carrier) IrqCmd(carrier, slot, line int, cmd ipac.IrqCmd) error {
	d, err := c.lookup(carrier, slot)
	if err != nil {
		return err
	}
	switch cmd {
	case ipac.IrqEnable:
		return d.irqControl(true)
	case ipac.IrqDisable:
		return d.irqControl(false)
	case ipac.StatActive, ipac.StatUnused:
		c.log.Debug("slot status", "device", d.cfg.Device, "status", cmd)
		return nil
	}
	return fmt.Errorf("uio: unsupported command %v", cmd)
}

// Run services interrupts until ctx is done or a device fails. Each slot
// gets its own goroutine, which is that slot's interrupt context.
func (c *Carrier) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, d := range c.order {
		g.Go(func() error { return d.serve(ctx) })
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (d *device) serve(ctx context.Context) error {
	fds := []unix.PollFd{{Fd: int32(d.fd), Events: unix.POLLIN}}
	var count [4]byte
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := unix.Poll(fds, pollTimeout)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("uio: poll %s: %w", d.cfg.Device, err)
		}
		if n == 0 {
			continue
		}
		if _, err := unix.Read(d.fd, count[:]); err != nil {
			if errors.Is(err, unix.EINTR) || errors.Is(err, unix.EAGAIN) {
				continue
			}
			return fmt.Errorf("uio: read %s: %w", d.cfg.Device, err)
		}

		d.mu.Lock()
		isr, enabled := d.isr, d.enabled
		d.mu.Unlock()
		if !enabled {
			continue
		}
		if isr != nil {
			isr()
		}
		if err := d.rearm(); err != nil {
			return fmt.Errorf("uio: re-arm %s: %w", d.cfg.Device, err)
		}
	}
}

// Close unmaps and closes every device.
func (c *Carrier) Close() error {
	for _, d := range c.order {
		d.close()
	}
	c.order = nil
	c.devs = nil
	return nil
}
