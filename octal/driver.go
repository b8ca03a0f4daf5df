// Package octal drives GreenSpring/SBS IP-Octal serial modules: eight
// SCC2698 UART channels per module behind one shared interrupt.
//
// A Driver owns a fixed-size module table. ModuleInit validates and
// registers a module with the carrier and connects its interrupt to
// Module.Dispatch; DevCreate binds a named device with its own line
// discipline to a port. Task-context configuration (SetBaud, SetOptions,
// Configure) and the interrupt dispatcher exclude each other through a
// per-module critical section.
package octal

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/jangala-dev/tinygo-gsoctal/ipac"
	"github.com/jangala-dev/tinygo-gsoctal/scc2698"
	"github.com/jangala-dev/tinygo-gsoctal/tty"
)

// LineDisciplineFactory builds the byte stream for a newly created port.
// start must be called, without locks held, whenever output is queued.
type LineDisciplineFactory func(rdSize, wrSize int, start func()) LineDiscipline

// TTY is the default factory: a tty.Dev with the requested buffer sizes.
func TTY(rdSize, wrSize int, start func()) LineDiscipline {
	return tty.New(rdSize, wrSize, start)
}

// Driver is the table of registered modules and named devices.
type Driver struct {
	carrier ipac.Carrier
	log     *slog.Logger
	newLD   LineDisciplineFactory

	mu       sync.Mutex
	max      int
	modules  []*Module
	names    map[string]*Channel
	quiesced bool
}

// Option configures a Driver.
type Option func(*Driver)

// WithLogger sets the logger used for registration diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(d *Driver) { d.log = l }
}

// WithLineDiscipline replaces the line discipline built for each port.
func WithLineDiscipline(f LineDisciplineFactory) Option {
	return func(d *Driver) { d.newLD = f }
}

// NewDriver installs a driver for up to maxModules modules on carrier.
func NewDriver(maxModules int, carrier ipac.Carrier, opts ...Option) (*Driver, error) {
	if maxModules <= 0 {
		return nil, fmt.Errorf("%w: module table size %d", ErrAllocationFailed, maxModules)
	}
	if carrier == nil {
		return nil, fmt.Errorf("%w: no carrier", ErrAllocationFailed)
	}
	d := &Driver{
		carrier: carrier,
		log:     slog.Default(),
		newLD:   TTY,
		max:     maxModules,
		modules: make([]*Module, 0, maxModules),
		names:   make(map[string]*Channel),
	}
	for _, o := range opts {
		o(d)
	}
	return d, nil
}

// ModuleInit registers the module of type typ ("232", "422" or "485") at
// carrier/slot under id and connects its interrupt. Registering the same
// carrier/slot again returns the existing module.
func (d *Driver) ModuleInit(id, typ string, vector, carrier, slot int) (*Module, error) {
	if id == "" || typ == "" {
		return nil, fmt.Errorf("%w: module id and type are required", ErrInvalidArgument)
	}
	variant, err := ParseVariant(typ)
	if err != nil {
		d.log.Error("unsupported module type", "module", id, "type", typ)
		return nil, err
	}

	if err := d.carrier.Validate(carrier, slot, ManufacturerGreenSpring, variant.Model()); err != nil {
		d.log.Error("IPAC module validation failed",
			"carrier", carrier, "slot", slot, "model", fmt.Sprintf("%#x", variant.Model()), "error", err)
		return nil, fmt.Errorf("%w: carrier %d slot %d: %w", ErrValidationFailed, carrier, slot, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.quiesced {
		return nil, ErrQuiesced
	}

	for _, m := range d.modules {
		if m.carrier == carrier && m.slot == slot {
			return m, nil
		}
	}
	if len(d.modules) >= d.max {
		d.log.Error("maximum module count exceeded", "max", d.max)
		return nil, fmt.Errorf("%w: %d", ErrCapacityExceeded, d.max)
	}

	io, err := d.carrier.BaseAddr(carrier, slot, ipac.SpaceIO)
	if err != nil {
		return nil, fmt.Errorf("%w: io space: %w", ErrValidationFailed, err)
	}
	mem, err := d.carrier.BaseAddr(carrier, slot, ipac.SpaceMem)
	if err != nil {
		d.log.Error("no IPAC memory allocated", "carrier", carrier, "slot", slot)
		return nil, fmt.Errorf("%w: memory space: %w", ErrValidationFailed, err)
	}

	m := newModule(id, variant, carrier, slot, vector, io, d.newLD)
	m.index = len(d.modules)

	// The module returns this vector on interrupt acknowledge.
	mem.Write8(0, byte(vector>>8))
	mem.Write8(1, byte(vector))

	if err := d.carrier.IntConnect(carrier, slot, vector, m.Dispatch); err != nil {
		d.log.Error("unable to connect ISR", "carrier", carrier, "slot", slot, "error", err)
		return nil, fmt.Errorf("connect interrupt: %w", err)
	}
	for line := 0; line < 2; line++ {
		if err := d.carrier.IrqCmd(carrier, slot, line, ipac.IrqEnable); err != nil {
			return nil, fmt.Errorf("enable irq %d: %w", line, err)
		}
	}
	if err := d.carrier.IrqCmd(carrier, slot, 0, ipac.StatActive); err != nil {
		d.log.Warn("carrier status indicator", "carrier", carrier, "slot", slot, "error", err)
	}

	d.modules = append(d.modules, m)
	d.log.Info("module registered", "module", id, "variant", variant,
		"carrier", carrier, "slot", slot, "vector", vector, "index", m.index)
	return m, nil
}

// Module returns the module registered under id.
func (d *Driver) Module(id string) (*Module, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.findModule(id)
}

func (d *Driver) findModule(id string) (*Module, bool) {
	for _, m := range d.modules {
		if m.id == id {
			return m, true
		}
	}
	return nil, false
}

// Modules returns the registered modules in registration order.
func (d *Driver) Modules() []*Module {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Module(nil), d.modules...)
}

// DevCreate creates the device name on port of module moduleID.
func (d *Driver) DevCreate(name, moduleID string, port, rdSize, wrSize int) (*Channel, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: device name is required", ErrInvalidArgument)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.devCreate(name, moduleID, port, rdSize, wrSize)
}

func (d *Driver) devCreate(name, moduleID string, port, rdSize, wrSize int) (*Channel, error) {
	m, ok := d.findModule(moduleID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModule, moduleID)
	}
	if _, taken := d.names[name]; taken {
		return nil, fmt.Errorf("%w: %q", ErrNameInUse, name)
	}
	c, err := m.create(name, port, rdSize, wrSize)
	if err != nil {
		return nil, err
	}
	d.names[name] = c
	d.log.Debug("device created", "name", name, "module", moduleID, "port", port)
	return c, nil
}

// DevCreateAll creates base+"0" through base+"7" for every port of the
// module that has no device yet.
func (d *Driver) DevCreateAll(base, moduleID string, rdSize, wrSize int) error {
	if base == "" {
		return fmt.Errorf("%w: base name is required", ErrInvalidArgument)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	m, ok := d.findModule(moduleID)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownModule, moduleID)
	}
	for port := 0; port < scc2698.Ports; port++ {
		if m.ports[port].Created() {
			continue
		}
		if _, err := d.devCreate(fmt.Sprintf("%s%d", base, port), moduleID, port, rdSize, wrSize); err != nil {
			return err
		}
	}
	return nil
}

// Find returns the device registered as name.
func (d *Driver) Find(name string) (*Channel, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.names[name]
	return c, ok
}

// Configure is the one-shot configuration call: parity is 'n', 'e' or 'o',
// flow is 'h' for hardware handshake, anything else for none. An
// unsupported rate fails before anything is written, leaving the port as
// it was.
func (d *Driver) Configure(name string, baud int, parity byte, stop, bits int, flow byte) error {
	c, ok := d.Find(name)
	if !ok {
		d.log.Error("device not found", "name", name)
		return fmt.Errorf("%w: %q", ErrNoSuchDevice, name)
	}
	if _, ok := scc2698.CSR(baud); !ok {
		return fmt.Errorf("%w: %d", ErrUnsupportedRate, baud)
	}
	opts := LegacyOptions(parity, stop, bits, flow)

	m := c.m
	m.mu.Lock()
	defer m.mu.Unlock()
	if !c.created {
		return ErrNotCreated
	}
	if err := c.setBaud(baud); err != nil {
		return err
	}
	c.setOptions(opts)
	return nil
}

// Quiesce masks every interrupt of every module and disconnects them at
// the carrier so nothing fires into hardware or code that is going away.
// It is meant for process teardown and is safe to call more than once.
func (d *Driver) Quiesce() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.quiesced = true

	for _, m := range d.modules {
		m.mu.Lock()
		m.quiesce()
		m.mu.Unlock()

		for line := 0; line < 2; line++ {
			if err := d.carrier.IrqCmd(m.carrier, m.slot, line, ipac.IrqDisable); err != nil {
				d.log.Warn("disable irq", "module", m.id, "line", line, "error", err)
			}
		}
		if err := d.carrier.IrqCmd(m.carrier, m.slot, 0, ipac.StatUnused); err != nil {
			d.log.Warn("carrier status indicator", "module", m.id, "error", err)
		}
	}
	d.log.Info("driver quiesced", "modules", len(d.modules))
}
