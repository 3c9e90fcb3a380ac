package cmdlog

import (
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"
)

func isAscii(s string) bool {
	return !strings.ContainsFunc(s, func(r rune) bool {
		switch {
		case r < 7:
			return true
		case r > 6 && r < 14:
			return false
		case r > 13 && r < 32:
			return true
		case r > 127:
			return true
		}
		return false
	})
}

var (
	CmdStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	R1Style  = lipgloss.NewStyle().Foreground(lipgloss.Color("35"))
	R2Style  = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
)

// NewConsoleLogger returns a human readable logger writing to w, with
// millisecond timestamps.
func NewConsoleLogger(w io.Writer, level zerolog.Level) zerolog.Logger {
	cw := zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05.000"}
	return zerolog.New(cw).Level(level).With().Timestamp().Logger()
}

// Instrument is the part of a GPIB controller the pretty helpers need.
type Instrument interface {
	Command(format string, a ...any) error
	Query(cmd string) (string, error)
}

// PrettyFuncs returns helpers for interactive sessions that log styled
// commands and replies. bquery logs the reply instead of returning it; cmd
// logs success or failure.
func PrettyFuncs(inst Instrument, logger zerolog.Logger) (
	query func(string) string,
	bquery func(string),
	cmd func(string),
) {
	query = func(q string) string {
		s, err := inst.Query(q)
		if err != nil {
			logger.Error().Err(err).Str("query", CmdStyle.Render(q)).Msg("query failed")
		}
		return s
	}
	bquery = func(q string) {
		a := query(q)
		styled := CmdStyle.Render(q)

		a = strings.TrimSuffix(a, "\n") // appended by ar488
		if len(a) == 1 && a[0] == 0xff {
			// some instruments reply 0xff when a response is expected
			// but the last command has no result
			a = ""
		}
		if len(a) == 0 {
			logger.Info().Msg(R1Style.Render("<no response>"))
			return
		}
		logger.Info().Str("query", styled).Int("len", len(a)).Msg(R2Style.Render(Format(a)))
	}
	cmd = func(c string) {
		if err := inst.Command(c); err != nil {
			logger.Error().Err(err).Str("cmd", CmdStyle.Render(c)).Msg("command failed")
		} else {
			logger.Info().Msg(CmdStyle.Render(c) + "()")
		}
	}
	return query, bquery, cmd
}
