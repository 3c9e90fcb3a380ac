package sweep

import "fmt"

// TraceSource acquires one full trace of ordinate values from an instrument.
type TraceSource interface {
	AcquireTraceY() ([]float64, error)
}

// PointCountQuerier asks an instrument for its current point count.
type PointCountQuerier interface {
	QueryPointCount() (int, error)
}

// Resolver resolves the point count of an instrument and builds the abscissa
// for its traces. A Resolver is not safe for concurrent use; callers must
// serialize access to the underlying instrument.
type Resolver struct {
	capability Capability
	source     TraceSource
	querier    PointCountQuerier
	observe    Observer
	strict     bool

	cached    int
	hasCached bool
}

// ResolverOption applies an option to a Resolver.
type ResolverOption func(*Resolver)

// WithObserver sets the callback receiving diagnostics.
func WithObserver(o Observer) ResolverOption {
	return func(r *Resolver) {
		if o != nil {
			r.observe = o
		}
	}
}

// WithQuerier sets the point count querier used by a queryable capability.
// Without it, NewResolver uses the trace source if it implements
// PointCountQuerier.
func WithQuerier(q PointCountQuerier) ResolverOption {
	return func(r *Resolver) { r.querier = q }
}

// WithStrictPointCount makes AcquireSweep return an
// *InconsistentPointCountError when the trace length disagrees with the
// declared point count.
func WithStrictPointCount() ResolverOption { return func(r *Resolver) { r.strict = true } }

// NewResolver creates a Resolver for an instrument with the given capability.
func NewResolver(c Capability, src TraceSource, opts ...ResolverOption) (*Resolver, error) {
	r := Resolver{
		capability: c,
		source:     src,
		observe:    nopObserver,
	}
	for _, opt := range opts {
		opt(&r)
	}

	if r.source == nil {
		return nil, fmt.Errorf("%w: nil trace source", ErrInvalidConfiguration)
	}
	switch c.Kind() {
	case KindQueryable:
		if r.querier == nil {
			q, ok := src.(PointCountQuerier)
			if !ok {
				return nil, fmt.Errorf("%w: queryable capability without a point count querier", ErrInvalidConfiguration)
			}
			r.querier = q
		}
	case KindFixed:
		if n, _ := c.FixedCount(); n < 1 {
			return nil, fmt.Errorf("%w: fixed point count %d", ErrInvalidConfiguration, n)
		}
	}
	return &r, nil
}

// Capability returns the capability the resolver was created with.
func (r *Resolver) Capability() Capability { return r.capability }

// Invalidate drops the cached point count so the next ResolvePointCount
// consults the instrument again.
func (r *Resolver) Invalidate() {
	r.cached = 0
	r.hasCached = false
}

// ResolvePointCount returns the number of points in a trace. A fixed
// capability costs no I/O; a queryable one issues the point count query; a
// heuristic one acquires a full trace and counts its samples. The result is
// cached until Invalidate or the next AcquireSweep. Errors from the
// instrument are returned unchanged.
func (r *Resolver) ResolvePointCount() (int, error) {
	if r.hasCached {
		return r.cached, nil
	}

	var (
		n   int
		src Source
	)
	switch r.capability.Kind() {
	case KindFixed:
		n, _ = r.capability.FixedCount()
		src = SourceFixed
	case KindQueryable:
		count, err := r.querier.QueryPointCount()
		if err != nil {
			return 0, err
		}
		n, src = count, SourceHardware
	default:
		y, err := r.source.AcquireTraceY()
		if err != nil {
			return 0, err
		}
		n, src = len(y), SourceHeuristic
	}

	if n < 1 {
		return 0, fmt.Errorf("%w: %s point count %d", ErrInvalidConfiguration, src, n)
	}
	r.observe(Note{Source: src, Count: n})
	r.cached, r.hasCached = n, true
	return n, nil
}

// Trace is one acquired sweep: ordinate values paired with the generated
// abscissa.
type Trace struct {
	X      []float64
	Y      []float64
	Source Source
	Count  int
}

// Check returns an *InconsistentPointCountError if X and Y differ in length.
// Only traces resolved from hardware or a fixed profile can disagree.
func (t Trace) Check() error {
	if len(t.X) == len(t.Y) {
		return nil
	}
	return &InconsistentPointCountError{Declared: t.Count, Measured: len(t.Y), Source: t.Source}
}

// AcquireSweep acquires one trace over r and pairs it with its abscissa. The
// cached point count is invalidated first. With a heuristic capability the
// point count is taken from the acquired trace, avoiding a second
// acquisition; otherwise it is resolved from the capability. A trace whose
// length disagrees with a declared count is returned as is; see Trace.Check
// and WithStrictPointCount.
func (r *Resolver) AcquireSweep(rng Range) (Trace, error) {
	r.Invalidate()

	y, err := r.source.AcquireTraceY()
	if err != nil {
		return Trace{}, err
	}

	var src Source
	if r.capability.Kind() == KindHeuristic {
		if len(y) < 1 {
			return Trace{}, fmt.Errorf("%w: empty trace", ErrInvalidConfiguration)
		}
		r.cached, r.hasCached = len(y), true
		src = SourceHeuristic
		r.observe(Note{Source: src, Count: len(y)})
	} else if r.capability.Kind() == KindFixed {
		src = SourceFixed
	} else {
		src = SourceHardware
	}

	n, err := r.ResolvePointCount()
	if err != nil {
		return Trace{}, err
	}
	x, err := GenerateAbscissa(rng, n)
	if err != nil {
		return Trace{}, err
	}

	t := Trace{X: x, Y: y, Source: src, Count: n}
	if err := t.Check(); err != nil {
		r.observe(Note{Source: SourceInconsistent, Count: n, Measured: len(y)})
		if r.strict {
			return t, err
		}
	}
	return t, nil
}
