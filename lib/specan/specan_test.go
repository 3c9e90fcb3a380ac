package specan

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	labmeas "github.com/sife223/Lab-Measurement"
	"github.com/sife223/Lab-Measurement/lib/sweep"
	"github.com/sife223/Lab-Measurement/lib/tek"
)

// fakeAnalyzer answers queries from a table. Trace replies are consumed in
// order so averaging can be tested.
type fakeAnalyzer struct {
	replies  map[string]string
	traces   []string
	cmds     []string
	queryErr error
	cmdErr   error
}

func (f *fakeAnalyzer) Command(format string, a ...any) error {
	f.cmds = append(f.cmds, format)
	return f.cmdErr
}

func (f *fakeAnalyzer) Query(cmd string) (string, error) {
	if f.queryErr != nil {
		return "", f.queryErr
	}
	if cmd == SCPICommands.Trace || cmd == "LDS" {
		if len(f.traces) == 0 {
			return "", errors.New("no trace queued")
		}
		t := f.traces[0]
		f.traces = f.traces[1:]
		return t, nil
	}
	r, ok := f.replies[cmd]
	if !ok {
		return "", errors.New("read timeout")
	}
	return r, nil
}

func scpiReplies() map[string]string {
	return map[string]string{
		SCPICommands.Start:  "1.0E+06",
		SCPICommands.Stop:   "3.0E+06",
		SCPICommands.Points: "3",
	}
}

func TestParseASCII(t *testing.T) {
	y, err := ParseASCII(" -80.5, -79.25 ,-60,\n")
	require.NoError(t, err)
	assert.Equal(t, []float64{-80.5, -79.25, -60}, y)

	_, err = ParseASCII("  \n")
	assert.ErrorIs(t, err, ErrEmptyTrace)

	_, err = ParseASCII("1,,3")
	assert.ErrorContains(t, err, "value 1")
}

func TestQueryPointCount(t *testing.T) {
	f := &fakeAnalyzer{replies: scpiReplies()}
	a, err := New(f, Profile{Capability: sweep.HardwareQueryable()})
	require.NoError(t, err)

	n, err := a.QueryPointCount()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestQueryErrorsAreClassified(t *testing.T) {
	f := &fakeAnalyzer{replies: map[string]string{SCPICommands.Points: "lots"}}
	a, err := New(f, Profile{})
	require.NoError(t, err)

	_, err = a.QueryPointCount()
	var pe *sweep.ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "lots", pe.Reply)

	f.queryErr = errors.New("serial port closed")
	_, err = a.QueryPointCount()
	var te *sweep.TransportError
	require.ErrorAs(t, err, &te)
	assert.ErrorIs(t, err, f.queryErr)

	_, err = a.FrequencyRange()
	assert.ErrorAs(t, err, &te)
}

func TestFrequencyRange(t *testing.T) {
	f := &fakeAnalyzer{replies: scpiReplies()}
	a, err := New(f, Profile{})
	require.NoError(t, err)

	r, err := a.FrequencyRange()
	require.NoError(t, err)
	assert.Equal(t, sweep.Range{Start: 1e6, Stop: 3e6}, r)
}

func TestSweepQueryable(t *testing.T) {
	f := &fakeAnalyzer{replies: scpiReplies(), traces: []string{"-90,-40,-91"}}
	a, err := New(f, Profile{Capability: sweep.HardwareQueryable()})
	require.NoError(t, err)

	tr, err := a.Sweep()
	require.NoError(t, err)
	assert.Equal(t, []float64{1e6, 2e6, 3e6}, tr.X)
	assert.Equal(t, []float64{-90, -40, -91}, tr.Y)
	assert.Equal(t, sweep.SourceHardware, tr.Source)
	assert.Equal(t, []string{SCPICommands.Prepare}, f.cmds)
}

func TestSweepHeuristicLegacyCommands(t *testing.T) {
	// An HP 3582A style analyzer: no point count query, LDS returns the
	// dataset, no trigger command.
	f := &fakeAnalyzer{
		replies: map[string]string{"STA?": "0", "STP?": "25000"},
		traces:  []string{"1,2,3,4,5,6"},
	}
	a, err := New(f, Profile{
		Capability: sweep.Heuristic(),
		Commands:   Commands{Start: "STA?", Stop: "STP?", Trace: "LDS"},
	})
	require.NoError(t, err)

	tr, err := a.Sweep()
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0, 5000, 10000, 15000, 20000, 25000}, tr.X, 1e-9)
	assert.Len(t, tr.Y, 6)
	assert.Empty(t, f.cmds)
}

func TestSweepFixedMismatchStrict(t *testing.T) {
	f := &fakeAnalyzer{replies: scpiReplies(), traces: []string{"1,2"}}
	a, err := New(f,
		Profile{Capability: sweep.HardwareFixed(3)},
		WithResolverOptions(sweep.WithStrictPointCount()),
	)
	require.NoError(t, err)

	_, err = a.Sweep()
	var ie *sweep.InconsistentPointCountError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, 3, ie.Declared)
	assert.Equal(t, 2, ie.Measured)
}

func TestAveraging(t *testing.T) {
	f := &fakeAnalyzer{traces: []string{"1,2,3", "3,4,5", "5,6,7", "7,8,9"}}
	a, err := New(f, Profile{Averages: 4})
	require.NoError(t, err)

	y, err := a.AcquireTraceY()
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{4, 5, 6}, y, 1e-12)
	assert.Len(t, f.cmds, 4, "one trigger per averaged trace")
}

func TestAveragingLengthMismatch(t *testing.T) {
	f := &fakeAnalyzer{traces: []string{"1,2,3", "3,4"}}
	a, err := New(f, Profile{Averages: 2})
	require.NoError(t, err)

	_, err = a.AcquireTraceY()
	var pe *sweep.ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "average traces", pe.Op)
}

func TestPackFormat(t *testing.T) {
	f := &fakeAnalyzer{traces: []string{string(tek.Pack([]uint16{0, 256, 512}))}}
	a, err := New(f, Profile{Format: FormatPack, Scale: 0.5, Offset: -10})
	require.NoError(t, err)

	y, err := a.AcquireTraceY()
	require.NoError(t, err)
	assert.Equal(t, []float64{-10, 118, 246}, y)
}

// serialLink stands in for the serial port under a real controller.
type serialLink struct {
	written bytes.Buffer
	replies *strings.Reader
}

func (l *serialLink) Write(p []byte) (int, error) { return l.written.Write(p) }
func (l *serialLink) Read(p []byte) (int, error)  { return l.replies.Read(p) }

func TestPackFormatThroughController(t *testing.T) {
	block := tek.Pack([]uint16{10, 20, 30})
	link := &serialLink{replies: strings.NewReader(string(block) + "\n")}
	gpib, err := labmeas.NewController(link, 1, false)
	require.NoError(t, err)

	a, err := New(gpib, Profile{Format: FormatPack})
	require.NoError(t, err)

	y, err := a.AcquireTraceY()
	require.NoError(t, err)
	assert.Equal(t, []float64{10, 20, 30}, y)
	assert.Contains(t, link.written.String(), ":INIT:IMM;*WAI\n:TRAC:DATA? TRACE1\n++read eoi\n")
}

func TestPackFormatCorrupt(t *testing.T) {
	pack := tek.Pack([]uint16{1, 2})
	pack[len(pack)-2]++
	f := &fakeAnalyzer{traces: []string{string(pack)}}
	a, err := New(f, Profile{Format: FormatPack})
	require.NoError(t, err)

	_, err = a.AcquireTraceY()
	var pe *sweep.ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.ErrorIs(t, err, tek.ErrChecksum)
}

func TestTriggerFailure(t *testing.T) {
	f := &fakeAnalyzer{traces: []string{"1"}, cmdErr: errors.New("write timeout")}
	a, err := New(f, Profile{})
	require.NoError(t, err)

	_, err = a.AcquireTraceY()
	var te *sweep.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "trigger sweep", te.Op)
}

func TestNewRejectsNilInstrument(t *testing.T) {
	_, err := New(nil, Profile{})
	assert.ErrorIs(t, err, sweep.ErrInvalidConfiguration)
}
