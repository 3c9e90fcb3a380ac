package sweep

import "github.com/rs/zerolog"

// Source names where a resolved point count came from.
type Source int

// Point count sources reported to an Observer.
const (
	SourceFixed Source = iota
	SourceHardware
	SourceHeuristic
	SourceInconsistent
)

var sourceDesc = map[Source]string{
	SourceFixed:        "fixed",
	SourceHardware:     "hardware",
	SourceHeuristic:    "heuristic",
	SourceInconsistent: "inconsistent",
}

func (s Source) String() string {
	return sourceDesc[s]
}

// Note is a diagnostic emitted while resolving a sweep.
type Note struct {
	Source Source
	Count  int
	// Measured is the trace length, set only for SourceInconsistent.
	Measured int
}

// Observer receives diagnostics from a Resolver. It must not block.
type Observer func(Note)

func nopObserver(Note) {}

// LogObserver returns an Observer writing each note to the given logger.
// Inconsistent counts are logged at warn level, everything else at debug.
func LogObserver(logger zerolog.Logger) Observer {
	return func(n Note) {
		if n.Source == SourceInconsistent {
			logger.Warn().
				Int("declared", n.Count).
				Int("measured", n.Measured).
				Msg("point count disagrees with trace length")
			return
		}
		var msg string
		switch n.Source {
		case SourceFixed:
			msg = "using fixed point count"
		case SourceHardware:
			msg = "using point count reported by hardware"
		case SourceHeuristic:
			msg = "inferring point count from trace length"
		}
		logger.Debug().Stringer("source", n.Source).Int("points", n.Count).Msg(msg)
	}
}
