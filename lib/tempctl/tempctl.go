// Package tempctl drives a cryogenic temperature controller through a
// temperature sweep: heater range selection from a threshold table, setpoint
// changes, and waiting for the sample to stabilize.
package tempctl

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/gotmc/query"
	"github.com/rs/zerolog"
)

// Instrument is the link to the controller, usually a *labmeas.Controller.
type Instrument interface {
	Command(format string, a ...any) error
	Query(cmd string) (string, error)
}

// HeaterRange is a heater output range.
type HeaterRange int

// Heater ranges, lowest power first.
const (
	HeaterOff HeaterRange = iota
	HeaterLow
	HeaterMedium
	HeaterHigh
)

var heaterDesc = map[HeaterRange]string{
	HeaterOff:    "off",
	HeaterLow:    "low",
	HeaterMedium: "medium",
	HeaterHigh:   "high",
}

func (r HeaterRange) String() string {
	return heaterDesc[r]
}

// Commands holds the commands used to talk to the controller. Setpoint takes
// a %g temperature and Range a %d heater range.
type Commands struct {
	Temperature string
	Setpoint    string
	Range       string
}

// DefaultCommands are Lake Shore style commands for loop 1 and input A.
var DefaultCommands = Commands{
	Temperature: "KRDG? A",
	Setpoint:    "SETP 1,%g",
	Range:       "RANGE 1,%d",
}

// Controller is a temperature controller.
type Controller struct {
	inst Instrument
	cmds Commands
}

// NewController returns a Controller. Empty commands fall back to
// DefaultCommands.
func NewController(inst Instrument, cmds Commands) *Controller {
	if cmds.Temperature == "" {
		cmds.Temperature = DefaultCommands.Temperature
	}
	if cmds.Setpoint == "" {
		cmds.Setpoint = DefaultCommands.Setpoint
	}
	if cmds.Range == "" {
		cmds.Range = DefaultCommands.Range
	}
	return &Controller{inst: inst, cmds: cmds}
}

// Temperature reads the sample temperature in kelvin.
func (c *Controller) Temperature() (float64, error) {
	return query.Float64(c.inst, c.cmds.Temperature)
}

// Measure reads the temperature. It has the shape of a stepper.MeasureFunc.
func (c *Controller) Measure(ctx context.Context, _ float64) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return c.Temperature()
}

// SetSetpoint sets the control loop setpoint in kelvin.
func (c *Controller) SetSetpoint(t float64) error {
	return c.inst.Command(c.cmds.Setpoint, t)
}

// SetHeaterRange sets the heater output range.
func (c *Controller) SetHeaterRange(r HeaterRange) error {
	return c.inst.Command(c.cmds.Range, int(r))
}

// Threshold selects Range for setpoints below Below kelvin.
type Threshold struct {
	Below float64
	Range HeaterRange
}

// HeaterTable maps setpoints to heater ranges. Thresholds are in ascending
// order of Below; a setpoint at or above the last threshold uses the last
// range.
type HeaterTable []Threshold

// DefaultHeaterTable suits a small sample stage from 1.5 K to room
// temperature.
var DefaultHeaterTable = HeaterTable{
	{Below: 10, Range: HeaterLow},
	{Below: 50, Range: HeaterMedium},
	{Below: math.Inf(1), Range: HeaterHigh},
}

// ErrHeaterTable is returned for an empty or unordered table.
var ErrHeaterTable = errors.New("tempctl: heater table must be non-empty and ascending")

// Validate checks the table is usable.
func (h HeaterTable) Validate() error {
	if len(h) == 0 {
		return ErrHeaterTable
	}
	for i := 1; i < len(h); i++ {
		if h[i].Below <= h[i-1].Below {
			return fmt.Errorf("%w: %g follows %g", ErrHeaterTable, h[i].Below, h[i-1].Below)
		}
	}
	return nil
}

// Select returns the heater range for setpoint t.
func (h HeaterTable) Select(t float64) HeaterRange {
	for _, th := range h {
		if t < th.Below {
			return th.Range
		}
	}
	if len(h) == 0 {
		return HeaterOff
	}
	return h[len(h)-1].Range
}

// ErrNotStable is returned when the temperature does not settle in time.
var ErrNotStable = errors.New("tempctl: temperature not stable")

// Stabilizer decides when a temperature has settled: Window consecutive
// readings, Poll apart, within Tolerance of the target.
type Stabilizer struct {
	Tolerance float64
	Window    int
	Poll      time.Duration
	// Timeout bounds the wait; zero waits until ctx is done.
	Timeout time.Duration
}

// Wait polls read until the temperature is stable around target and returns
// the last reading.
func (s Stabilizer) Wait(ctx context.Context, read func() (float64, error), target float64) (float64, error) {
	window := max(s.Window, 1)
	poll := s.Poll
	if poll <= 0 {
		poll = time.Second
	}
	var deadline <-chan time.Time
	if s.Timeout > 0 {
		t := time.NewTimer(s.Timeout)
		defer t.Stop()
		deadline = t.C
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	var (
		last   float64
		stable int
	)
	for {
		temp, err := read()
		if err != nil {
			return last, err
		}
		last = temp
		if math.Abs(temp-target) <= s.Tolerance {
			stable++
			if stable >= window {
				return temp, nil
			}
		} else {
			stable = 0
		}

		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-deadline:
			return last, fmt.Errorf("%w: %g K after %s, target %g K", ErrNotStable, last, s.Timeout, target)
		case <-ticker.C:
		}
	}
}

// Setpointer moves the controller to a new setpoint and waits for it to
// settle. It is a stepper.Setpointer for temperature sweeps.
type Setpointer struct {
	Ctl    *Controller
	Table  HeaterTable
	Stab   Stabilizer
	Logger zerolog.Logger

	rangeSet bool
	current  HeaterRange
}

// SetValue selects the heater range for t, changing it only when it differs
// from the range last set, then sets the setpoint and waits for stability.
func (s *Setpointer) SetValue(ctx context.Context, t float64) error {
	table := s.Table
	if table == nil {
		table = DefaultHeaterTable
	}
	if err := table.Validate(); err != nil {
		return err
	}

	r := table.Select(t)
	if !s.rangeSet || r != s.current {
		if err := s.Ctl.SetHeaterRange(r); err != nil {
			return fmt.Errorf("set heater range %s: %w", r, err)
		}
		s.Logger.Info().Stringer("range", r).Float64("setpoint", t).Msg("heater range changed")
		s.current, s.rangeSet = r, true
	}
	if err := s.Ctl.SetSetpoint(t); err != nil {
		return fmt.Errorf("set setpoint %g K: %w", t, err)
	}

	start := time.Now()
	temp, err := s.Stab.Wait(ctx, s.Ctl.Temperature, t)
	if err != nil {
		return err
	}
	s.Logger.Info().
		Float64("setpoint", t).
		Float64("temperature", temp).
		Dur("settled_in", time.Since(start)).
		Msg("temperature stable")
	return nil
}
