// Copyright (c) 2024–2026 The Lab-Measurement developers. All rights reserved.
// Project site: https://github.com/sife223/Lab-Measurement
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package labmeas

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gotmc/query"
)

// controllerQuerier routes gotmc/query helpers to the `++` command set
// instead of the instrument.
type controllerQuerier struct{ c *Controller }

func (q controllerQuerier) Query(cmd string) (string, error) {
	return q.c.QueryController(cmd)
}

// FrontPanel returns the instrument to local (front panel) control when local
// is true, and locks out the front panel otherwise.
func (c *Controller) FrontPanel(local bool) error {
	if local {
		return c.CommandController("loc")
	}
	return c.CommandController("llo")
}

// ClearDevice sends the Selected Device Clear (SDC) message to the instrument
// at the currently assigned GPIB address.
func (c *Controller) ClearDevice() error {
	return c.CommandController("clr")
}

// InstrumentAddress returns the primary and secondary GPIB address the
// controller is currently talking to. A secondary address of zero means none
// is set.
func (c *Controller) InstrumentAddress() (int, int, error) {
	s, err := c.QueryController("addr")
	if err != nil {
		return 0, 0, err
	}
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return 0, 0, fmt.Errorf("empty reply to ++addr")
	}
	pad, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, 0, fmt.Errorf("parsing primary address %q: %w", s, err)
	}
	if len(fields) == 1 {
		return pad, 0, nil
	}
	sad, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, 0, fmt.Errorf("parsing secondary address %q: %w", s, err)
	}
	return pad, sad, nil
}

// Version returns the version string of the GPIB controller.
func (c *Controller) Version() (string, error) {
	return c.QueryController("ver")
}

// ReadTimeout returns the inter-character read timeout of the controller.
func (c *Controller) ReadTimeout() (time.Duration, error) {
	ms, err := query.Int(controllerQuerier{c}, "read_tmo_ms")
	if err != nil {
		return 0, err
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// ReadAfterWrite reports whether the controller automatically addresses the
// instrument to talk after each command.
func (c *Controller) ReadAfterWrite() (bool, error) {
	auto, err := query.Int(controllerQuerier{c}, "auto")
	if err != nil {
		return false, err
	}
	return auto != 0, nil
}

// GPIBTermination returns the terminator the controller appends to
// instrument commands.
func (c *Controller) GPIBTermination() (GpibTerm, error) {
	eos, err := query.Int(controllerQuerier{c}, "eos")
	if err != nil {
		return 0, err
	}
	term := GpibTerm(eos)
	if _, ok := gpibTermDesc[term]; !ok {
		return 0, fmt.Errorf("unknown GPIB termination %d", eos)
	}
	return term, nil
}
