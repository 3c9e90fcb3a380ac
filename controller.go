// Copyright (c) 2024–2026 The Lab-Measurement developers. All rights reserved.
// Project site: https://github.com/sife223/Lab-Measurement
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package labmeas

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Controller models a Prologix-compatible GPIB controller-in-charge talking to
// one instrument over a serial virtual COM port.
type Controller struct {
	rw               io.ReadWriter
	rd               *bufio.Reader
	primaryAddr      int
	hasSecondaryAddr bool
	secondaryAddr    int
	auto             bool
	usbTerm          byte
	eotChar          byte
	readTimeout      time.Duration
	writeDelay       time.Duration
	debug            bool // log commands and replies. Set via WithDebug().
	ar488            bool // compatibility with Arduino AR488 - see WithAR488.
	logger           zerolog.Logger
}

// ControllerOption applies an option to the controller.
type ControllerOption func(*Controller)

// NewController creates a GPIB controller-in-charge for the instrument at the
// given primary address, using rw as the link to the controller (usually a
// serial port). Enable clear to send the Selected Device Clear (SDC) message
// to the instrument once configured.
func NewController(
	rw io.ReadWriter,
	addr int,
	clear bool,
	opts ...ControllerOption,
) (*Controller, error) {
	c := Controller{
		rw:          rw,
		rd:          bufio.NewReader(rw),
		primaryAddr: addr,
		usbTerm:     '\n',
		eotChar:     '\n',
		readTimeout: 500 * time.Millisecond,
		logger:      zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(&c)
	}

	if !isPrimaryAddressValid(c.primaryAddr) {
		return nil, fmt.Errorf("invalid primary address %d (must be 0-30)", c.primaryAddr)
	}

	addrCmd := fmt.Sprintf("addr %d", c.primaryAddr)
	if c.hasSecondaryAddr {
		if !isSecondaryAddressValid(c.secondaryAddr) {
			return nil, fmt.Errorf("invalid secondary address %d (must be 96-126)", c.secondaryAddr)
		}
		addrCmd = fmt.Sprintf("addr %d %d", c.primaryAddr, c.secondaryAddr)
	}
	cmds := []string{}
	if !c.ar488 {
		cmds = append(cmds,
			"verbose 0", // turn off verbosity if on
			"savecfg 0", // don't write the settings below to EPROM
		)
	}
	cmds = append(cmds,
		addrCmd,
		"mode 1", // controller mode
		fmt.Sprintf("auto %d", boolInt(c.auto)),
		"eoi 1",  // assert EOI with the last character
		"eos 0",  // CR+LF GPIB termination
		fmt.Sprintf("read_tmo_ms %d", c.readTimeout.Milliseconds()),
		fmt.Sprintf("eot_char %d", c.eotChar),
		"eot_enable 1",
	)
	if !c.ar488 {
		cmds = append(cmds, "savecfg 1")
	}
	if clear {
		cmds = append(cmds, "clr")
	}
	for _, cmd := range cmds {
		if err := c.CommandController(cmd); err != nil {
			return nil, err
		}
	}

	return &c, nil
}

// WithSecondaryAddress sets a secondary address, which must be in the range of
// 96 and 126, inclusive.
func WithSecondaryAddress(addr int) ControllerOption {
	return func(c *Controller) {
		c.hasSecondaryAddr = true
		c.secondaryAddr = addr
	}
}

// WithDebug causes commands and responses to be logged at debug level.
func WithDebug() ControllerOption { return func(c *Controller) { c.debug = true } }

// WithAR488 slightly alters the init commands, for compatibility with the
// Arduino-based AR488. Specifically, we do not emit 'verbose 0', nor do
// we toggle savecfg.
func WithAR488() ControllerOption { return func(c *Controller) { c.ar488 = true } }

// WithWriteDelay waits d before each command addressed to the controller
// itself. Some AR488 builds drop `++` commands sent back to back.
func WithWriteDelay(d time.Duration) ControllerOption {
	return func(c *Controller) { c.writeDelay = d }
}

// WithReadTimeout sets the GPIB read timeout programmed into the controller.
// The Prologix accepts 1 to 3000 ms.
func WithReadTimeout(d time.Duration) ControllerOption {
	return func(c *Controller) {
		if d > 0 {
			c.readTimeout = d
		}
	}
}

// WithReadAfterWrite has the controller address the instrument to talk after
// every command (`++auto 1`). Otherwise Query sends `++read eoi` itself.
func WithReadAfterWrite() ControllerOption {
	return func(c *Controller) { c.auto = true }
}

// WithLogger sets the logger used for debug output.
func WithLogger(l zerolog.Logger) ControllerOption {
	return func(c *Controller) { c.logger = l }
}

// Read reads from the instrument at the currently assigned GPIB address into
// the given byte slice.
func (c *Controller) Read(p []byte) (n int, err error) {
	return c.rd.Read(p)
}

// Command formats according to a format specifier if provided and sends a
// SCPI/ASCII command to the instrument at the currently assigned GPIB address.
// All leading and trailing whitespace is removed before appending the USB
// terminator.
func (c *Controller) Command(format string, a ...any) error {
	cmd := format
	if a != nil {
		cmd = fmt.Sprintf(format, a...)
	}
	cmd = c.terminate(cmd)
	if c.debug {
		c.logger.Debug().Str("cmd", cmd).Hex("raw", []byte(cmd)).Msg("command")
	}
	_, err := io.WriteString(c.rw, cmd)
	return err
}

// Query sends cmd to the instrument and returns its reply up to the EOT
// character, which is stripped. When read-after-write is disabled the
// controller is told to read with `++read eoi`. An EOF after a partial
// reply is not an error.
func (c *Controller) Query(cmd string) (string, error) {
	cmd = c.terminate(cmd)
	if c.debug {
		c.logger.Debug().Str("query", cmd).Msg("query")
	}
	if _, err := io.WriteString(c.rw, cmd); err != nil {
		return "", fmt.Errorf("error writing command: %w", err)
	}
	if !c.auto {
		if err := c.CommandController("read eoi"); err != nil {
			return "", fmt.Errorf("error sending `++read eoi` command: %w", err)
		}
	}
	s, err := c.readReply()
	if c.debug {
		c.logger.Debug().Str("reply", s).Err(err).Msg("read data")
	}
	return s, err
}

// QueryBinary sends cmd and reads a length-prefixed binary block: a '%'
// header byte, a 16-bit big-endian count, then count more bytes and a
// trailer byte. The EOT character the controller appends is discarded. The
// block is returned whole, header included, so it may hold any byte value.
func (c *Controller) QueryBinary(cmd string) ([]byte, error) {
	if err := c.Command(cmd); err != nil {
		return nil, fmt.Errorf("error writing command: %w", err)
	}
	if !c.auto {
		if err := c.CommandController("read eoi"); err != nil {
			return nil, fmt.Errorf("error sending `++read eoi` command: %w", err)
		}
	}

	hdr := make([]byte, 3)
	if _, err := io.ReadFull(c, hdr); err != nil {
		return nil, fmt.Errorf("reading block header: %w", err)
	}
	if hdr[0] != '%' {
		c.discardReply()
		return nil, fmt.Errorf("block header %q, want '%%'", hdr[0])
	}
	count := int(hdr[1])<<8 | int(hdr[2])
	block := make([]byte, len(hdr)+count+1)
	copy(block, hdr)
	if _, err := io.ReadFull(c, block[len(hdr):]); err != nil {
		return nil, fmt.Errorf("reading %d byte block: %w", count+1, err)
	}
	if err := c.discardReply(); err != nil {
		return nil, fmt.Errorf("reading EOT after block: %w", err)
	}
	if c.debug {
		c.logger.Debug().Int("len", len(block)).Hex("block", block).Msg("read block")
	}
	return block, nil
}

// discardReply drops everything up to and including the next EOT character.
func (c *Controller) discardReply() error {
	_, err := c.rd.ReadString(c.eotChar)
	if err == io.EOF {
		return nil
	}
	return err
}

// QueryController sends the given command to the Prologix controller and
// returns its response with the EOT character stripped. To indicate this is a
// command for the controller, thereby not transmitting over GPIB, two plus
// signs `++` are prepended.
func (c *Controller) QueryController(cmd string) (string, error) {
	if err := c.CommandController(cmd); err != nil {
		return "", err
	}
	s, err := c.readReply()
	if c.debug {
		c.logger.Debug().Str("reply", s).Err(err).Msg("read controller data")
	}
	return s, err
}

// CommandController sends the given command to the Prologix controller. To
// indicate this is a command for the controller, thereby not transmitting to
// the instrument over GPIB, two plus signs `++` are prepended.
func (c *Controller) CommandController(cmd string) error {
	if c.writeDelay > 0 {
		time.Sleep(c.writeDelay)
	}
	cmd = fmt.Sprintf("++%s%c", strings.ToLower(strings.TrimSpace(cmd)), c.usbTerm)
	if c.debug {
		c.logger.Debug().Str("cmd", cmd).Msg("controller command")
	}
	_, err := c.rw.Write([]byte(cmd))
	return err
}

func (c *Controller) terminate(s string) string {
	return fmt.Sprintf("%s%c", strings.TrimSpace(s), c.usbTerm)
}

func (c *Controller) readReply() (string, error) {
	s, err := c.rd.ReadString(c.eotChar)
	s = strings.TrimRight(s, string([]byte{c.eotChar, '\r'}))
	if err == io.EOF && s != "" {
		return s, nil
	}
	return s, err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// GpibTerm provides the type for the available GPIB terminators.
type GpibTerm int

// Available GPIB terminators for the Prologix Controller.
const (
	AppendCRLF GpibTerm = iota
	AppendCR
	AppendLF
	AppendNothing
)

var gpibTermDesc = map[GpibTerm]string{
	AppendCRLF:    `Append CR+LF (\r\n) to instrument commands`,
	AppendCR:      `Append CR (\r) to instrument commands`,
	AppendLF:      `Append LF (\n) to instrument commands`,
	AppendNothing: `Do not append anything to instrument commands`,
}

func (term GpibTerm) String() string {
	return gpibTermDesc[term]
}

// isPrimaryAddressValid checks that the primary GPIB address is between 0 and
// 30, inclusive.
func isPrimaryAddressValid(addr int) bool {
	return addr >= 0 && addr <= 30
}

// isSecondaryAddressValid checks that the secondary GPIB address is between 96
// and 126, inclusive.
func isSecondaryAddressValid(addr int) bool {
	return addr >= 96 && addr <= 126
}
