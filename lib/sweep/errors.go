package sweep

import (
	"errors"
	"fmt"
)

// ErrInvalidConfiguration is returned when a point count below one would
// reach abscissa generation, or when a resolver is built without the
// collaborators its capability needs.
var ErrInvalidConfiguration = errors.New("sweep: invalid point count configuration")

// TransportError reports a communication failure with the instrument, such as
// a closed link or a read timeout.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("sweep: transport error during %s: %s", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError reports a reply that was received but could not be parsed as
// a point count or a trace.
type ProtocolError struct {
	Op    string
	Reply string
	Err   error
}

func (e *ProtocolError) Error() string {
	if e.Reply == "" {
		return fmt.Sprintf("sweep: protocol error during %s: %s", e.Op, e.Err)
	}
	return fmt.Sprintf("sweep: protocol error during %s: %s (reply %q)", e.Op, e.Err, e.Reply)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// InconsistentPointCountError reports a trace whose length disagrees with the
// point count declared by the instrument or its profile.
type InconsistentPointCountError struct {
	Declared int
	Measured int
	Source   Source
}

func (e *InconsistentPointCountError) Error() string {
	return fmt.Sprintf("sweep: %s point count %d disagrees with trace length %d",
		e.Source, e.Declared, e.Measured)
}
