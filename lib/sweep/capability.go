package sweep

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind identifies how an instrument's point count is obtained.
type Kind int

// Available point count capabilities.
const (
	KindHeuristic Kind = iota
	KindQueryable
	KindFixed
)

var kindDesc = map[Kind]string{
	KindHeuristic: "heuristic",
	KindQueryable: "queryable",
	KindFixed:     "fixed",
}

func (k Kind) String() string {
	return kindDesc[k]
}

// Capability is the point count profile of one instrument. The zero value is
// the heuristic capability. A Capability is chosen once when a driver is
// configured and never changes afterwards.
type Capability struct {
	kind  Kind
	fixed int
}

// HardwareQueryable returns the capability of an instrument that reports its
// point count on request.
func HardwareQueryable() Capability { return Capability{kind: KindQueryable} }

// HardwareFixed returns the capability of an instrument whose point count is
// immutable and known in advance.
func HardwareFixed(n int) Capability { return Capability{kind: KindFixed, fixed: n} }

// Heuristic returns the capability of an instrument whose point count must be
// inferred from the length of a measured trace.
func Heuristic() Capability { return Capability{kind: KindHeuristic} }

// Kind returns the variant of the capability.
func (c Capability) Kind() Kind { return c.kind }

// FixedCount returns the declared point count and true for a fixed
// capability.
func (c Capability) FixedCount() (int, bool) {
	if c.kind != KindFixed {
		return 0, false
	}
	return c.fixed, true
}

func (c Capability) String() string {
	if c.kind == KindFixed {
		return fmt.Sprintf("fixed(%d)", c.fixed)
	}
	return c.kind.String()
}

// ParseCapability parses the textual form used in configuration files:
// "heuristic", "queryable", or "fixed:<n>". A bare "fixed" is rejected since
// it carries no count.
func ParseCapability(s string) (Capability, error) {
	name, arg, hasArg := strings.Cut(strings.ToLower(strings.TrimSpace(s)), ":")
	switch name {
	case "", "heuristic":
		return Heuristic(), nil
	case "queryable", "hardware":
		return HardwareQueryable(), nil
	case "fixed":
		if !hasArg {
			return Capability{}, fmt.Errorf("%w: fixed capability %q needs a count", ErrInvalidConfiguration, s)
		}
		n, err := strconv.Atoi(arg)
		if err != nil {
			return Capability{}, fmt.Errorf("%w: fixed capability %q: %w", ErrInvalidConfiguration, s, err)
		}
		if n < 1 {
			return Capability{}, fmt.Errorf("%w: fixed count %d", ErrInvalidConfiguration, n)
		}
		return HardwareFixed(n), nil
	}
	return Capability{}, fmt.Errorf("%w: unknown capability %q", ErrInvalidConfiguration, s)
}
