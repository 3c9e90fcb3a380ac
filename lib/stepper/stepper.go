// Package stepper steps an instrument through a list of setpoints and records
// a measurement at each one.
package stepper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"github.com/sife223/Lab-Measurement/lib/sweep"
)

// Setpointer drives an instrument output to a value. Implementations may
// block until the output has settled.
type Setpointer interface {
	SetValue(ctx context.Context, v float64) error
}

// SetpointerFunc adapts a function to a Setpointer.
type SetpointerFunc func(ctx context.Context, v float64) error

func (f SetpointerFunc) SetValue(ctx context.Context, v float64) error { return f(ctx, v) }

// MeasureFunc takes one reading after the output reached setpoint.
type MeasureFunc func(ctx context.Context, setpoint float64) (float64, error)

// Plan is a linear setpoint sweep.
type Plan struct {
	Range  sweep.Range
	Points int
	// Settle is the wait between setting a value and measuring.
	Settle time.Duration
}

// Setpoints expands the plan into its setpoint values.
func (p Plan) Setpoints() ([]float64, error) {
	return sweep.GenerateAbscissa(p.Range, p.Points)
}

// Point is the outcome of one step.
type Point struct {
	Index    int
	Setpoint float64
	Value    float64
	Time     time.Time
	Err      error
}

// Result holds the points of one run. ID tags the run's log lines.
type Result struct {
	ID      uuid.UUID
	Started time.Time
	Points  []Point
}

// Values returns the measured values of the steps that succeeded.
func (r Result) Values() (setpoints, values []float64) {
	for _, p := range r.Points {
		if p.Err != nil {
			continue
		}
		setpoints = append(setpoints, p.Setpoint)
		values = append(values, p.Value)
	}
	return setpoints, values
}

type runner struct {
	logger          zerolog.Logger
	continueOnError bool
	now             func() time.Time
}

// Option applies an option to Run.
type Option func(*runner)

// WithLogger sets the logger for step progress.
func WithLogger(l zerolog.Logger) Option { return func(r *runner) { r.logger = l } }

// WithContinueOnError records failed steps and carries on; Run then returns
// all step errors combined.
func WithContinueOnError() Option { return func(r *runner) { r.continueOnError = true } }

// Run sets each setpoint of plan in turn, waits plan.Settle, and measures.
// By default the first failing step ends the run. Cancelling ctx ends the
// run between steps or during the settle wait. The points gathered so far
// are returned in every case.
func Run(ctx context.Context, sp Setpointer, measure MeasureFunc, plan Plan, opts ...Option) (Result, error) {
	r := runner{logger: zerolog.Nop(), now: time.Now}
	for _, opt := range opts {
		opt(&r)
	}

	res := Result{ID: uuid.New(), Started: r.now()}
	setpoints, err := plan.Setpoints()
	if err != nil {
		return res, err
	}
	logger := r.logger.With().Str("run", res.ID.String()).Logger()
	logger.Info().
		Float64("start", plan.Range.Start).
		Float64("stop", plan.Range.Stop).
		Int("points", len(setpoints)).
		Msg("sweep started")

	var errs error
	for i, v := range setpoints {
		if err := ctx.Err(); err != nil {
			return res, multierr.Append(errs, err)
		}

		value, err := step(ctx, sp, measure, v, plan.Settle)
		p := Point{Index: i, Setpoint: v, Value: value, Time: r.now(), Err: err}
		res.Points = append(res.Points, p)
		if err != nil {
			err = fmt.Errorf("step %d (setpoint %g): %w", i, v, err)
			logger.Warn().Err(err).Int("step", i).Msg("step failed")
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || !r.continueOnError {
				return res, multierr.Append(errs, err)
			}
			errs = multierr.Append(errs, err)
			continue
		}
		logger.Info().Int("step", i).Float64("setpoint", v).Float64("value", value).Msg("measured")
	}
	logger.Info().Int("failed", len(multierr.Errors(errs))).Msg("sweep finished")
	return res, errs
}

func step(ctx context.Context, sp Setpointer, measure MeasureFunc, v float64, settle time.Duration) (float64, error) {
	if err := sp.SetValue(ctx, v); err != nil {
		return 0, fmt.Errorf("set: %w", err)
	}
	if settle > 0 {
		t := time.NewTimer(settle)
		select {
		case <-ctx.Done():
			t.Stop()
			return 0, ctx.Err()
		case <-t.C:
		}
	}
	value, err := measure(ctx, v)
	if err != nil {
		return 0, fmt.Errorf("measure: %w", err)
	}
	return value, nil
}
