// Package connutil opens the serial link to a GPIB controller and sets up a
// labmeas.Controller from the shared configuration.
package connutil

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"go.bug.st/serial"
	"go.uber.org/multierr"

	labmeas "github.com/sife223/Lab-Measurement"
	"github.com/sife223/Lab-Measurement/lib/cmdlog"
	"github.com/sife223/Lab-Measurement/lib/config"
	"github.com/sife223/Lab-Measurement/lib/find"
)

// Port is the part of a serial port used here.
type Port interface {
	io.ReadWriteCloser
	ResetInputBuffer() error
}

// timeoutPort turns the (0, nil) read go.bug.st/serial returns on a read
// timeout into os.ErrDeadlineExceeded, so buffered readers give up at once
// instead of retrying.
type timeoutPort struct {
	Port
}

func (p timeoutPort) Read(b []byte) (int, error) {
	n, err := p.Port.Read(b)
	if n == 0 && err == nil && len(b) > 0 {
		return 0, os.ErrDeadlineExceeded
	}
	return n, err
}

// ErrDiagOnly is returned by Setup after running the line diagnostic.
var ErrDiagOnly = errors.New("diagnostic run, no controller")

// these are swapped out in tests
var (
	openPort = func(name string, baud int, timeout time.Duration) (Port, error) {
		p, err := serial.Open(name, &serial.Mode{BaudRate: baud})
		if err != nil {
			return nil, err
		}
		if err := p.SetReadTimeout(timeout); err != nil {
			p.Close()
			return nil, err
		}
		return timeoutPort{p}, nil
	}
	locate = func() (string, error) {
		return find.Find(find.VIDFilter(find.FTDIVID))
	}
)

// Conn sets up a controller. The zero value logs nothing.
type Conn struct {
	Logger zerolog.Logger
	Diag   bool
}

// AddFlags defines the connection flags on fs, including those of
// config.AddFlags. Call it before parsing.
func (c *Conn) AddFlags(fs *pflag.FlagSet) {
	config.AddFlags(fs)
	fs.BoolVar(&c.Diag, "diag", c.Diag, "toggle the AR488 bus lines with xdiag and exit")
}

// Setup opens the serial port named in cfg, or the only FTDI USB port when
// none is named, and configures the controller for cfg's instrument address.
// cleanup returns the instrument to local control and closes the port.
func (c *Conn) Setup(cfg *config.Config, opts ...labmeas.ControllerOption) (gpib *labmeas.Controller, cleanup func() error, err error) {
	name := cfg.Serial.Port
	if name == "" {
		name, err = locate()
		if err != nil {
			return nil, nil, fmt.Errorf("locate serial port: %w", err)
		}
	}
	c.Logger.Info().Str("port", name).Int("baud", cfg.Serial.Baud).Msg("opening serial port")

	port, err := openPort(name, cfg.Serial.Baud, cfg.Serial.ReadTimeout)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", name, err)
	}

	var rw io.ReadWriter = port
	opts = append([]labmeas.ControllerOption{labmeas.WithLogger(c.Logger)}, opts...)
	if cfg.GPIB.Debug {
		rw = cmdlog.NewTraceConn(port, c.Logger)
		opts = append(opts, labmeas.WithDebug())
	}
	if cfg.GPIB.ReadTimeout > 0 {
		opts = append(opts, labmeas.WithReadTimeout(cfg.GPIB.ReadTimeout))
	}
	if cfg.GPIB.Delay > 0 {
		opts = append(opts, labmeas.WithWriteDelay(cfg.GPIB.Delay))
	}
	if cfg.GPIB.SAD != 0 {
		opts = append(opts, labmeas.WithSecondaryAddress(cfg.GPIB.SAD))
	}
	if cfg.GPIB.AR488 {
		opts = append(opts, labmeas.WithAR488())
	}

	gpib, err = labmeas.NewController(rw, cfg.GPIB.PAD, cfg.GPIB.Clear, opts...)
	if err != nil {
		return nil, nil, multierr.Append(err, port.Close())
	}

	if c.Diag {
		err = diag(gpib, c.Logger)
		return nil, nil, multierr.Combine(err, port.Close(), ErrDiagOnly)
	}

	cleanup = func() error {
		return multierr.Combine(
			gpib.FrontPanel(true),
			port.ResetInputBuffer(),
			port.Close(),
		)
	}
	return gpib, cleanup, nil
}

// diag pulses every bus line so they can be checked with a scope or LEDs.
func diag(gpib *labmeas.Controller, logger zerolog.Logger) error {
	logger.Info().Msg("diag starting")
	steps := []struct {
		cmd  string
		wait time.Duration
	}{
		{"xdiag 1 255", time.Millisecond},
		{"xdiag 0 255", 100 * time.Millisecond},
		{"xdiag 0 0", 0},
		{"xdiag 1 0", 0},
	}
	for _, s := range steps {
		if err := gpib.CommandController(s.cmd); err != nil {
			return err
		}
		time.Sleep(s.wait)
	}
	return nil
}
