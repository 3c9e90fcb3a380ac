package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sife223/Lab-Measurement/lib/sweep"
)

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	AddFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, 115200, cfg.Serial.Baud)
	assert.Equal(t, 30*time.Second, cfg.Serial.ReadTimeout)
	assert.Equal(t, 4, cfg.GPIB.PAD)
	assert.Equal(t, 100*time.Millisecond, cfg.GPIB.Delay)
	assert.Equal(t, 500*time.Millisecond, cfg.GPIB.ReadTimeout)
	assert.Equal(t, sweep.HardwareQueryable(), cfg.Sweep.Capability)
	assert.Equal(t, 1, cfg.Sweep.Averages)
	assert.Equal(t, "ascii", cfg.Sweep.Format)
	assert.Equal(t, time.Second, cfg.Temperature.Poll)
	assert.Equal(t, zerolog.InfoLevel, cfg.Log.Level)
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	yaml := `
gpib:
  pad: 7
  delay: 50ms
sweep:
  capability: fixed:401
  start: 100
  stop: 200
temperature:
  tolerance: 0.1
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "labsweep.yaml"), []byte(yaml), 0o644))
	t.Setenv("LABSWEEP_GPIB_PAD", "9")
	t.Setenv("LABSWEEP_SWEEP_STOP", "300")
	t.Setenv("LABSWEEP_GPIB_READ_TIMEOUT", "1200ms")

	cfg, err := Load(newFlags(t, "--stop", "400", "--averages", "4"))
	require.NoError(t, err)

	// file
	assert.Equal(t, 50*time.Millisecond, cfg.GPIB.Delay)
	assert.Equal(t, sweep.HardwareFixed(401), cfg.Sweep.Capability)
	assert.Equal(t, 100.0, cfg.Sweep.Start)
	assert.Equal(t, 0.1, cfg.Temperature.Tolerance)
	assert.Equal(t, zerolog.DebugLevel, cfg.Log.Level)
	// environment over file
	assert.Equal(t, 9, cfg.GPIB.PAD)
	assert.Equal(t, 1200*time.Millisecond, cfg.GPIB.ReadTimeout)
	// flag over environment
	assert.Equal(t, 400.0, cfg.Sweep.Stop)
	assert.Equal(t, 4, cfg.Sweep.Averages)
	assert.Equal(t, sweep.Range{Start: 100, Stop: 400}, cfg.Sweep.Range())
}

func TestLoadExplicitFile(t *testing.T) {
	t.Chdir(t.TempDir())
	file := filepath.Join(t.TempDir(), "bench.yaml")
	require.NoError(t, os.WriteFile(file, []byte("serial:\n  port: /dev/ttyUSB3\n"), 0o644))

	cfg, err := Load(newFlags(t, "--config", file))
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB3", cfg.Serial.Port)

	_, err = Load(newFlags(t, "--config", filepath.Join(t.TempDir(), "missing.yaml")))
	assert.Error(t, err)
}

func TestLoadInvalid(t *testing.T) {
	t.Chdir(t.TempDir())

	_, err := Load(newFlags(t, "--capability", "fixed:0"))
	assert.ErrorIs(t, err, sweep.ErrInvalidConfiguration)

	_, err = Load(newFlags(t, "--pad", "31"))
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = Load(newFlags(t, "--sad", "12"))
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = Load(newFlags(t, "--format", "binary"))
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = Load(newFlags(t, "--log-level", "loud"))
	assert.Error(t, err)

	_, err = Load(newFlags(t, "--gpib-timeout", "5s"))
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestRequirePoints(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.ErrorIs(t, cfg.Sweep.RequirePoints(), ErrInvalid)

	cfg, err = Load(newFlags(t, "--points", "1"))
	require.NoError(t, err)
	assert.NoError(t, cfg.Sweep.RequirePoints())
}
