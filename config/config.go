// Package config loads the startup description of an IP-Octal system: the
// module table size, the modules to register and the devices to create on
// them, with their line settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jangala-dev/tinygo-gsoctal/ipac/uio"
	"github.com/jangala-dev/tinygo-gsoctal/octal"
	"github.com/jangala-dev/tinygo-gsoctal/scc2698"
)

// Defaults applied by Parse.
const (
	DefaultMaxModules = 4
	DefaultBuffer     = 512
	DefaultBaud       = 9600
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("config: invalid")

// Config is a startup file.
type Config struct {
	MaxModules int        `yaml:"max_modules"`
	UIO        []uio.Slot `yaml:"uio,omitempty"`
	Modules    []Module   `yaml:"modules"`
	Ports      []Port     `yaml:"ports"`
}

// Module registers one IP-Octal.
type Module struct {
	ID      string `yaml:"id"`
	Type    string `yaml:"type"` // 232, 422 or 485
	Vector  int    `yaml:"vector"`
	Carrier int    `yaml:"carrier"`
	Slot    int    `yaml:"slot"`
}

// Port creates one device, or with All a device on every free port named
// Name followed by the port number.
type Port struct {
	Name        string `yaml:"name"`
	Module      string `yaml:"module"`
	Port        int    `yaml:"port"`
	All         bool   `yaml:"all,omitempty"`
	ReadBuffer  int    `yaml:"read_buffer"`
	WriteBuffer int    `yaml:"write_buffer"`

	Baud       int    `yaml:"baud"`
	Parity     string `yaml:"parity"` // none, even, odd
	Stop       int    `yaml:"stop"`
	Bits       int    `yaml:"bits"`
	Flow       string `yaml:"flow"` // none or rtscts
	HalfDuplex bool   `yaml:"half_duplex,omitempty"`
}

// Load reads and parses a startup file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a startup file, fills in defaults and validates it.
func Parse(data []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.MaxModules == 0 {
		c.MaxModules = DefaultMaxModules
	}
	for i := range c.Ports {
		p := &c.Ports[i]
		if p.ReadBuffer == 0 {
			p.ReadBuffer = DefaultBuffer
		}
		if p.WriteBuffer == 0 {
			p.WriteBuffer = DefaultBuffer
		}
		if p.Baud == 0 {
			p.Baud = DefaultBaud
		}
		if p.Parity == "" {
			p.Parity = "none"
		}
		if p.Stop == 0 {
			p.Stop = 1
		}
		if p.Bits == 0 {
			p.Bits = 8
		}
		if p.Flow == "" {
			p.Flow = "none"
		}
	}
}

// Validate checks references and value ranges.
func (c *Config) Validate() error {
	if c.MaxModules < 0 {
		return fmt.Errorf("%w: max_modules %d", ErrInvalid, c.MaxModules)
	}
	if len(c.Modules) > c.MaxModules {
		return fmt.Errorf("%w: %d modules listed, max_modules is %d", ErrInvalid, len(c.Modules), c.MaxModules)
	}
	ids := make(map[string]bool)
	for _, m := range c.Modules {
		if m.ID == "" {
			return fmt.Errorf("%w: module without id", ErrInvalid)
		}
		if ids[m.ID] {
			return fmt.Errorf("%w: module %q listed twice", ErrInvalid, m.ID)
		}
		ids[m.ID] = true
		if _, err := octal.ParseVariant(m.Type); err != nil {
			return fmt.Errorf("%w: module %q: %w", ErrInvalid, m.ID, err)
		}
	}
	names := make(map[string]bool)
	for _, p := range c.Ports {
		if p.Name == "" {
			return fmt.Errorf("%w: port without name", ErrInvalid)
		}
		if names[p.Name] {
			return fmt.Errorf("%w: port %q listed twice", ErrInvalid, p.Name)
		}
		names[p.Name] = true
		if !ids[p.Module] {
			return fmt.Errorf("%w: port %q: unknown module %q", ErrInvalid, p.Name, p.Module)
		}
		if !p.All && (p.Port < 0 || p.Port >= scc2698.Ports) {
			return fmt.Errorf("%w: port %q: port %d out of range", ErrInvalid, p.Name, p.Port)
		}
		if _, ok := scc2698.CSR(p.Baud); !ok {
			return fmt.Errorf("%w: port %q: baud %d", ErrInvalid, p.Name, p.Baud)
		}
		if _, err := parityLetter(p.Parity); err != nil {
			return fmt.Errorf("%w: port %q: %w", ErrInvalid, p.Name, err)
		}
		if _, err := flowLetter(p.Flow); err != nil {
			return fmt.Errorf("%w: port %q: %w", ErrInvalid, p.Name, err)
		}
		if p.Stop != 1 && p.Stop != 2 {
			return fmt.Errorf("%w: port %q: stop bits %d", ErrInvalid, p.Name, p.Stop)
		}
		if p.Bits < 5 || p.Bits > 8 {
			return fmt.Errorf("%w: port %q: data bits %d", ErrInvalid, p.Name, p.Bits)
		}
	}
	return nil
}

func parityLetter(s string) (byte, error) {
	switch strings.ToLower(s) {
	case "none", "n":
		return 'n', nil
	case "even", "e":
		return 'e', nil
	case "odd", "o":
		return 'o', nil
	}
	return 0, fmt.Errorf("unknown parity %q", s)
}

func flowLetter(s string) (byte, error) {
	switch strings.ToLower(s) {
	case "none", "n":
		return 'n', nil
	case "rtscts", "hw", "h":
		return 'h', nil
	}
	return 0, fmt.Errorf("unknown flow control %q", s)
}

// Names returns the device names p creates.
func (p Port) Names() []string {
	if !p.All {
		return []string{p.Name}
	}
	out := make([]string, scc2698.Ports)
	for i := range out {
		out[i] = fmt.Sprintf("%s%d", p.Name, i)
	}
	return out
}

// Apply registers the modules, creates the devices and configures them.
// It stops at the first failure.
func (c *Config) Apply(d *octal.Driver) error {
	for _, m := range c.Modules {
		if _, err := d.ModuleInit(m.ID, m.Type, m.Vector, m.Carrier, m.Slot); err != nil {
			return fmt.Errorf("module %q: %w", m.ID, err)
		}
	}
	for _, p := range c.Ports {
		if p.All {
			if err := d.DevCreateAll(p.Name, p.Module, p.ReadBuffer, p.WriteBuffer); err != nil {
				return fmt.Errorf("ports %q: %w", p.Name, err)
			}
		} else if _, err := d.DevCreate(p.Name, p.Module, p.Port, p.ReadBuffer, p.WriteBuffer); err != nil {
			return fmt.Errorf("port %q: %w", p.Name, err)
		}

		parity, _ := parityLetter(p.Parity)
		flow, _ := flowLetter(p.Flow)
		for _, name := range p.Names() {
			if _, ok := d.Find(name); !ok && p.All {
				continue // port already had a device under another name
			}
			if err := d.Configure(name, p.Baud, parity, p.Stop, p.Bits, flow); err != nil {
				return fmt.Errorf("port %q: %w", name, err)
			}
			if !p.HalfDuplex {
				continue
			}
			ch, _ := d.Find(name)
			o := ch.Options()
			o.HalfDuplex = true
			if err := ch.SetOptions(o); err != nil {
				return fmt.Errorf("port %q: %w", name, err)
			}
		}
	}
	return nil
}
