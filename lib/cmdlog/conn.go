package cmdlog

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/rs/zerolog"
)

// TraceConn wraps a link to an instrument and logs all traffic at debug
// level. It is the serial-port equivalent of WithDebug on a controller, but
// also shows bytes the controller never sees, such as replies left unread.
type TraceConn struct {
	rw     io.ReadWriter
	logger zerolog.Logger
}

// NewTraceConn returns rw wrapped so each Write and Read is logged.
func NewTraceConn(rw io.ReadWriter, logger zerolog.Logger) *TraceConn {
	return &TraceConn{rw: rw, logger: logger}
}

func (t *TraceConn) Write(p []byte) (int, error) {
	n, err := t.rw.Write(p)
	t.logger.Debug().Str("dir", "tx").Str("data", Format(string(p[:n]))).Err(err).Send()
	return n, err
}

func (t *TraceConn) Read(p []byte) (int, error) {
	n, err := t.rw.Read(p)
	if n > 0 || (err != nil && err != io.EOF) {
		t.logger.Debug().Str("dir", "rx").Str("data", Format(string(p[:n]))).Err(err).Send()
	}
	return n, err
}

// Close closes the wrapped link if it is an io.Closer.
func (t *TraceConn) Close() error {
	if c, ok := t.rw.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Format renders s for a log line: quoted when it is printable ASCII, quoted
// with a hex dump when short binary, and as hex alone otherwise.
func Format(s string) string {
	switch {
	case isAscii(s):
		return fmt.Sprintf("[%d] %q", len(s), s)
	case len(s) < 32:
		return fmt.Sprintf("[%d] %q (% 2x)", len(s), s, []byte(s))
	}
	return fmt.Sprintf("[%d] %s", len(s), hex.EncodeToString([]byte(s)))
}
