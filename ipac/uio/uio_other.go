//go:build !linux

package uio

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jangala-dev/tinygo-gsoctal/ipac"
	"github.com/jangala-dev/tinygo-gsoctal/scc2698"
)

// ErrUnsupported is returned by Open on platforms without UIO.
var ErrUnsupported = errors.New("uio: not supported on this platform")

// Carrier is unavailable off Linux.
type Carrier struct{}

// Open always fails off Linux.
func Open(slots []Slot, log *slog.Logger) (*Carrier, error) { return nil, ErrUnsupported }

func (c *Carrier) Validate(carrier, slot int, manufacturer, model byte) error {
	return ErrUnsupported
}

func (c *Carrier) BaseAddr(carrier, slot int, space ipac.Space) (scc2698.Bus, error) {
	return nil, ErrUnsupported
}

func (c *Carrier) IntConnect(carrier, slot, vector int, isr func()) error { return ErrUnsupported }

func (c *Carrier) IrqCmd(carrier, slot, line int, cmd ipac.IrqCmd) error { return ErrUnsupported }

func (c *Carrier) Run(ctx context.Context) error { return ErrUnsupported }

func (c *Carrier) Close() error { return nil }
