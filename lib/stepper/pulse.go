package stepper

import (
	"context"
	"fmt"

	"github.com/gotmc/query"
)

// Commander sends formatted commands to an instrument.
type Commander interface {
	Command(format string, a ...any) error
}

// Querier reads a reply to a command.
type Querier interface {
	Query(cmd string) (string, error)
}

// PulseWidth is a Setpointer for the pulse width, in seconds, of a function
// generator in pulse mode.
type PulseWidth struct {
	Inst Commander
	// Format is the command with one %g verb; empty means "PULS:WIDT %g".
	Format string
	// Min and Max bound the accepted width when Max is non-zero.
	Min, Max float64
}

func (p PulseWidth) SetValue(ctx context.Context, w float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if w <= 0 || (p.Max != 0 && (w < p.Min || w > p.Max)) {
		return fmt.Errorf("pulse width %g s out of range", w)
	}
	format := p.Format
	if format == "" {
		format = "PULS:WIDT %g"
	}
	return p.Inst.Command(format, w)
}

// QueryMeasure returns a MeasureFunc reading a single float reply to cmd,
// such as a DMM or power meter reading.
func QueryMeasure(q Querier, cmd string) MeasureFunc {
	return func(ctx context.Context, _ float64) (float64, error) {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		return query.Float64(q, cmd)
	}
}
