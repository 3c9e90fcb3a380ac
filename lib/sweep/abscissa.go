package sweep

import "fmt"

// Range holds the inclusive endpoints of a linear sweep, e.g. a frequency
// span in Hz. Stop may be below Start for a descending sweep.
type Range struct {
	Start float64
	Stop  float64
}

// Span returns Stop - Start.
func (r Range) Span() float64 { return r.Stop - r.Start }

// GenerateAbscissa returns count evenly spaced values from r.Start to r.Stop.
//
// For count >= 2 the i-th value is
//
//	Start + (Stop-Start) * (i / (count-1))
//
// so the first value is Start and the last is Stop up to floating-point
// rounding. A count of one yields only Start. A count below one wraps
// ErrInvalidConfiguration.
func GenerateAbscissa(r Range, count int) ([]float64, error) {
	if count < 1 {
		return nil, fmt.Errorf("%w: point count %d", ErrInvalidConfiguration, count)
	}
	if count == 1 {
		return []float64{r.Start}, nil
	}

	n := count - 1
	span := r.Span()
	x := make([]float64, count)
	for i := range x {
		x[i] = r.Start + span*(float64(i)/float64(n))
	}
	return x, nil
}
