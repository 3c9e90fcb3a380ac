// Package specan drives a swept spectrum analyzer over a GPIB controller and
// turns its traces into sweeps with a resolved frequency axis.
package specan

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	vecmath "github.com/cwbudde/algo-vecmath"
	"github.com/gotmc/query"
	"github.com/rs/zerolog"

	"github.com/sife223/Lab-Measurement/lib/sweep"
	"github.com/sife223/Lab-Measurement/lib/tek"
)

// Instrument is the link to the analyzer, usually a *labmeas.Controller.
type Instrument interface {
	Command(format string, a ...any) error
	Query(cmd string) (string, error)
}

// BinaryQuerier reads a length-prefixed binary reply. Instruments
// implementing it, such as *labmeas.Controller, are read this way for
// FormatPack traces, since block bytes may equal the line terminator.
type BinaryQuerier interface {
	QueryBinary(cmd string) ([]byte, error)
}

// Format is the encoding of trace replies.
type Format int

// Trace encodings.
const (
	FormatASCII Format = iota // comma separated floats
	FormatPack                // Tektronix binary pack block, see package tek
)

// Commands holds the queries used to talk to the analyzer. An empty Prepare
// skips triggering a new sweep before reading the trace.
type Commands struct {
	Start   string
	Stop    string
	Points  string
	Trace   string
	Prepare string
}

// SCPICommands are generic SCPI spectrum analyzer queries.
var SCPICommands = Commands{
	Start:   ":SENS:FREQ:STAR?",
	Stop:    ":SENS:FREQ:STOP?",
	Points:  ":SENS:SWE:POIN?",
	Trace:   ":TRAC:DATA? TRACE1",
	Prepare: ":INIT:IMM;*WAI",
}

// Profile describes what an analyzer model can do.
type Profile struct {
	Capability sweep.Capability
	Commands   Commands
	Format     Format
	// Averages is the number of traces averaged per acquisition; zero or
	// one disables averaging.
	Averages int
	// Scale and Offset map raw pack samples to trace units as
	// raw*Scale + Offset. A zero Scale means 1.
	Scale  float64
	Offset float64
}

// Analyzer is a spectrum analyzer. It implements sweep.TraceSource and
// sweep.PointCountQuerier.
type Analyzer struct {
	inst    Instrument
	profile Profile
	logger  zerolog.Logger
	rsvOpts []sweep.ResolverOption
}

// Option applies an option to an Analyzer.
type Option func(*Analyzer)

// WithLogger sets the logger; resolver diagnostics are written to it too.
func WithLogger(l zerolog.Logger) Option { return func(a *Analyzer) { a.logger = l } }

// WithResolverOptions passes options to the resolver built by Sweep.
func WithResolverOptions(opts ...sweep.ResolverOption) Option {
	return func(a *Analyzer) { a.rsvOpts = append(a.rsvOpts, opts...) }
}

// New creates an Analyzer. A profile without commands uses SCPICommands;
// otherwise empty queries fall back to their SCPI defaults while an empty
// Prepare stays empty.
func New(inst Instrument, p Profile, opts ...Option) (*Analyzer, error) {
	if inst == nil {
		return nil, fmt.Errorf("%w: nil instrument", sweep.ErrInvalidConfiguration)
	}
	if p.Commands == (Commands{}) {
		p.Commands = SCPICommands
	}
	if p.Commands.Start == "" {
		p.Commands.Start = SCPICommands.Start
	}
	if p.Commands.Stop == "" {
		p.Commands.Stop = SCPICommands.Stop
	}
	if p.Commands.Points == "" {
		p.Commands.Points = SCPICommands.Points
	}
	if p.Commands.Trace == "" {
		p.Commands.Trace = SCPICommands.Trace
	}
	if p.Scale == 0 {
		p.Scale = 1
	}
	if p.Averages < 1 {
		p.Averages = 1
	}
	a := Analyzer{
		inst:    inst,
		profile: p,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&a)
	}
	return &a, nil
}

// Profile returns the profile after defaults were applied.
func (a *Analyzer) Profile() Profile { return a.profile }

// replyRecorder remembers the last reply and transport error so failures
// from gotmc/query helpers can be told apart.
type replyRecorder struct {
	inst  Instrument
	reply string
	err   error
}

func (r *replyRecorder) Query(cmd string) (string, error) {
	r.reply, r.err = r.inst.Query(cmd)
	return r.reply, r.err
}

func (r *replyRecorder) classify(op string, err error) error {
	if r.err != nil {
		return &sweep.TransportError{Op: op, Err: r.err}
	}
	return &sweep.ProtocolError{Op: op, Reply: r.reply, Err: err}
}

// QueryPointCount asks the analyzer for its number of trace points.
func (a *Analyzer) QueryPointCount() (int, error) {
	rec := &replyRecorder{inst: a.inst}
	n, err := query.Int(rec, a.profile.Commands.Points)
	if err != nil {
		return 0, rec.classify("query point count", err)
	}
	return n, nil
}

// FrequencyRange reads the start and stop frequency of the current sweep.
func (a *Analyzer) FrequencyRange() (sweep.Range, error) {
	rec := &replyRecorder{inst: a.inst}
	start, err := query.Float64(rec, a.profile.Commands.Start)
	if err != nil {
		return sweep.Range{}, rec.classify("query start frequency", err)
	}
	stop, err := query.Float64(rec, a.profile.Commands.Stop)
	if err != nil {
		return sweep.Range{}, rec.classify("query stop frequency", err)
	}
	return sweep.Range{Start: start, Stop: stop}, nil
}

// AcquireTraceY reads one trace, averaging Profile.Averages sweeps. Traces of
// differing length cannot be averaged and yield a *sweep.ProtocolError.
func (a *Analyzer) AcquireTraceY() ([]float64, error) {
	acc, err := a.readTrace()
	if err != nil {
		return nil, err
	}
	n := a.profile.Averages
	for i := 1; i < n; i++ {
		y, err := a.readTrace()
		if err != nil {
			return nil, err
		}
		if len(y) != len(acc) {
			return nil, &sweep.ProtocolError{
				Op:  "average traces",
				Err: fmt.Errorf("trace %d has %d points, want %d", i, len(y), len(acc)),
			}
		}
		vecmath.AddBlockInPlace(acc, y)
	}
	if n > 1 {
		vecmath.ScaleBlock(acc, acc, 1/float64(n))
	}
	a.logger.Debug().
		Int("points", len(acc)).
		Int("averages", n).
		Float64("peak", slices.Max(acc)).
		Msg("acquired trace")
	return acc, nil
}

func (a *Analyzer) readTrace() ([]float64, error) {
	if cmd := a.profile.Commands.Prepare; cmd != "" {
		if err := a.inst.Command(cmd); err != nil {
			return nil, &sweep.TransportError{Op: "trigger sweep", Err: err}
		}
	}
	var (
		reply string
		err   error
	)
	if bq, ok := a.inst.(BinaryQuerier); ok && a.profile.Format == FormatPack {
		var block []byte
		block, err = bq.QueryBinary(a.profile.Commands.Trace)
		reply = string(block)
	} else {
		reply, err = a.inst.Query(a.profile.Commands.Trace)
	}
	if err != nil {
		return nil, &sweep.TransportError{Op: "acquire trace", Err: err}
	}

	var y []float64
	switch a.profile.Format {
	case FormatPack:
		y, err = a.decodePack(reply)
	default:
		y, err = ParseASCII(reply)
	}
	if err != nil {
		return nil, &sweep.ProtocolError{Op: "acquire trace", Reply: abbreviate(reply), Err: err}
	}
	return y, nil
}

func (a *Analyzer) decodePack(reply string) ([]float64, error) {
	raw, err := tek.Unpack([]byte(strings.TrimSpace(reply)))
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, ErrEmptyTrace
	}
	y := make([]float64, len(raw))
	for i, v := range raw {
		y[i] = float64(v)
	}
	vecmath.ScaleBlock(y, y, a.profile.Scale)
	if a.profile.Offset != 0 {
		for i := range y {
			y[i] += a.profile.Offset
		}
	}
	return y, nil
}

// ErrEmptyTrace is returned for a trace reply without values.
var ErrEmptyTrace = errors.New("specan: empty trace")

// ParseASCII parses a comma separated list of floats, ignoring surrounding
// whitespace and a trailing comma.
func ParseASCII(s string) ([]float64, error) {
	s = strings.TrimSuffix(strings.TrimSpace(s), ",")
	if s == "" {
		return nil, ErrEmptyTrace
	}
	fields := strings.Split(s, ",")
	y := make([]float64, len(fields))
	for i, elem := range fields {
		f, err := strconv.ParseFloat(strings.TrimSpace(elem), 64)
		if err != nil {
			return nil, fmt.Errorf("value %d: %w", i, err)
		}
		y[i] = f
	}
	return y, nil
}

// Resolver returns a resolver for this analyzer using its profile's
// capability.
func (a *Analyzer) Resolver(opts ...sweep.ResolverOption) (*sweep.Resolver, error) {
	all := append([]sweep.ResolverOption{sweep.WithObserver(sweep.LogObserver(a.logger))}, a.rsvOpts...)
	return sweep.NewResolver(a.profile.Capability, a, append(all, opts...)...)
}

// Sweep reads the frequency range, acquires a trace and pairs it with its
// frequency axis.
func (a *Analyzer) Sweep() (sweep.Trace, error) {
	rng, err := a.FrequencyRange()
	if err != nil {
		return sweep.Trace{}, err
	}
	r, err := a.Resolver()
	if err != nil {
		return sweep.Trace{}, err
	}
	return r.AcquireSweep(rng)
}

func abbreviate(s string) string {
	const limit = 64
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
