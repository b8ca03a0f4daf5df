// Command octalctl brings up IP-Octal modules from a startup file and works
// with their serial ports: print the driver report, bridge a port to the
// terminal, or run a pattern integrity test between two ports.
//
// With -sim the modules are simulated, so every subcommand can be tried
// without hardware.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jangala-dev/tinygo-gsoctal/config"
	"github.com/jangala-dev/tinygo-gsoctal/ipac"
	"github.com/jangala-dev/tinygo-gsoctal/ipac/uio"
	"github.com/jangala-dev/tinygo-gsoctal/octal"
	"github.com/jangala-dev/tinygo-gsoctal/octalsim"
)

// simDefault is used with -sim when no startup file is given.
const simDefault = `
modules:
  - id: octal0
    type: "232"
    vector: 0x60
    carrier: 0
    slot: 0
ports:
  - name: /tyCo/
    module: octal0
    all: true
`

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "octalctl: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "startup file (YAML)")
	sim := flag.Bool("sim", false, "simulate the modules instead of opening UIO devices")
	tick := flag.Duration("tick", time.Millisecond, "simulated character time")
	verbose := flag.Bool("v", false, "debug logging")
	regs := flag.Bool("regs", false, "report: also dump channel registers")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <command> [args...]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  report                    print module and port counters\n")
		fmt.Fprintf(os.Stderr, "  bridge <device>           connect the terminal to a port (Ctrl-] exits)\n")
		fmt.Fprintf(os.Stderr, "  loopback [-bytes N] <a> <b>  pattern integrity test between two wired ports\n")
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s -sim loopback /tyCo/0 /tyCo/1\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -config octal.yaml bridge /tyCo/3\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nFlags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	args := flag.Args()
	if len(args) < 1 {
		flag.Usage()
		return fmt.Errorf("command required")
	}

	cfg, err := loadConfig(*configPath, *sim)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	sys, err := bringUp(cfg, *sim, *tick, log)
	if err != nil {
		return err
	}
	defer sys.close()

	var cmd func(context.Context) error
	switch args[0] {
	case "report":
		cmd = func(context.Context) error {
			if err := sys.driver.WriteReport(os.Stdout); err != nil || !*regs {
				return err
			}
			return sys.driver.WriteRegs(os.Stdout)
		}
	case "bridge":
		if len(args) != 2 {
			return fmt.Errorf("usage: bridge <device>")
		}
		cmd = func(ctx context.Context) error { return bridge(ctx, sys.driver, args[1]) }
	case "loopback":
		lb, err := parseLoopback(args[1:])
		if err != nil {
			return err
		}
		if sys.sim != nil {
			if err := sys.wireLoopback(lb.a, lb.b); err != nil {
				return err
			}
		}
		cmd = func(ctx context.Context) error { return lb.run(ctx, sys.driver, os.Stdout) }
	default:
		flag.Usage()
		return fmt.Errorf("unknown command %q", args[0])
	}

	g, ctx := errgroup.WithContext(ctx)
	ctx, cancel := context.WithCancel(ctx)
	g.Go(func() error {
		err := sys.serve(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		defer cancel()
		return cmd(ctx)
	})
	return g.Wait()
}

func loadConfig(path string, sim bool) (*config.Config, error) {
	switch {
	case path != "":
		return config.Load(path)
	case sim:
		return config.Parse([]byte(simDefault))
	}
	return nil, fmt.Errorf("-config is required without -sim")
}

// system is a running driver and whatever delivers its interrupts.
type system struct {
	driver *octal.Driver
	sim    *octalsim.Carrier
	hw     *uio.Carrier
	tick   time.Duration
}

func bringUp(cfg *config.Config, sim bool, tick time.Duration, log *slog.Logger) (*system, error) {
	sys := &system{tick: tick}
	var carrier ipac.Carrier
	if sim {
		sys.sim = octalsim.NewCarrier()
		for _, m := range cfg.Modules {
			v, err := octal.ParseVariant(m.Type)
			if err != nil {
				return nil, err
			}
			sys.sim.Install(m.Carrier, m.Slot, v.Model())
		}
		carrier = sys.sim
	} else {
		hw, err := uio.Open(cfg.UIO, log)
		if err != nil {
			return nil, err
		}
		sys.hw = hw
		carrier = hw
	}

	d, err := octal.NewDriver(cfg.MaxModules, carrier, octal.WithLogger(log))
	if err != nil {
		sys.close()
		return nil, err
	}
	sys.driver = d
	if err := cfg.Apply(d); err != nil {
		sys.close()
		return nil, err
	}
	return sys, nil
}

// serve delivers interrupts until ctx is done.
func (s *system) serve(ctx context.Context) error {
	if s.hw != nil {
		return s.hw.Run(ctx)
	}
	g, ctx := errgroup.WithContext(ctx)
	for _, slot := range s.sim.Slots() {
		g.Go(func() error { return slot.Run(ctx, s.tick) })
	}
	return g.Wait()
}

// wireLoopback connects two simulated ports back to back.
func (s *system) wireLoopback(a, b string) error {
	ca, ok := s.driver.Find(a)
	if !ok {
		return fmt.Errorf("%w: %q", octal.ErrNoSuchDevice, a)
	}
	cb, ok := s.driver.Find(b)
	if !ok {
		return fmt.Errorf("%w: %q", octal.ErrNoSuchDevice, b)
	}
	if ca.Module() != cb.Module() {
		return fmt.Errorf("simulated loopback needs both ports on one module")
	}
	m := ca.Module()
	slot, _ := s.sim.Slot(m.Carrier(), m.Slot())
	slot.Chip.Loopback(ca.Port(), cb.Port())
	return nil
}

func (s *system) close() {
	if s.driver != nil {
		s.driver.Quiesce()
	}
	if s.hw != nil {
		_ = s.hw.Close()
	}
}
