// Package config loads the settings shared by the measurement programs from
// defaults, an optional labsweep.yaml, LABSWEEP_* environment variables and
// command line flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/sife223/Lab-Measurement/lib/sweep"
)

// EnvPrefix prefixes environment overrides, e.g. LABSWEEP_GPIB_PAD.
const EnvPrefix = "LABSWEEP"

// Config holds all configuration for a measurement program.
type Config struct {
	Serial      SerialConfig
	GPIB        GPIBConfig
	Sweep       SweepConfig
	Temperature TemperatureConfig
	Log         LogConfig
}

// SerialConfig holds the USB virtual COM port settings. An empty Port means
// the port is located by USB vendor ID.
type SerialConfig struct {
	Port        string
	Baud        int
	ReadTimeout time.Duration
}

// GPIBConfig holds the controller and bus settings.
type GPIBConfig struct {
	PAD   int
	SAD   int // 0 for none
	Delay time.Duration
	// ReadTimeout is the controller's GPIB read timeout, 1ms to 3s.
	ReadTimeout time.Duration
	AR488       bool
	Debug       bool
	Clear       bool
}

// SweepConfig describes the swept range and how the instrument reports its
// point count.
type SweepConfig struct {
	Start      float64
	Stop       float64
	Points     int
	Capability sweep.Capability
	Averages   int
	Format     string
}

// Range returns the swept range.
func (s SweepConfig) Range() sweep.Range {
	return sweep.Range{Start: s.Start, Stop: s.Stop}
}

// TemperatureConfig holds the stability criteria for temperature sweeps.
type TemperatureConfig struct {
	Tolerance float64
	Window    int
	Poll      time.Duration
	Timeout   time.Duration
	Settle    time.Duration
}

// LogConfig holds the logging settings.
type LogConfig struct {
	Level zerolog.Level
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("serial.port", "")
	v.SetDefault("serial.baud", 115200)
	v.SetDefault("serial.read_timeout", 30*time.Second)

	v.SetDefault("gpib.pad", 4)
	v.SetDefault("gpib.sad", 0)
	v.SetDefault("gpib.delay", 100*time.Millisecond)
	v.SetDefault("gpib.read_timeout", 500*time.Millisecond)
	v.SetDefault("gpib.ar488", false)
	v.SetDefault("gpib.debug", false)
	v.SetDefault("gpib.clear", false)

	v.SetDefault("sweep.start", 0.0)
	v.SetDefault("sweep.stop", 0.0)
	v.SetDefault("sweep.points", 0)
	v.SetDefault("sweep.capability", "queryable")
	v.SetDefault("sweep.averages", 1)
	v.SetDefault("sweep.format", "ascii")

	v.SetDefault("temperature.tolerance", 0.05)
	v.SetDefault("temperature.window", 5)
	v.SetDefault("temperature.poll", time.Second)
	v.SetDefault("temperature.timeout", 30*time.Minute)
	v.SetDefault("temperature.settle", 0)

	v.SetDefault("log.level", "info")
}

// flagKeys maps flag names to configuration keys.
var flagKeys = map[string]string{
	"port":         "serial.port",
	"baud":         "serial.baud",
	"pad":          "gpib.pad",
	"sad":          "gpib.sad",
	"delay":        "gpib.delay",
	"gpib-timeout": "gpib.read_timeout",
	"ar488":        "gpib.ar488",
	"debug":        "gpib.debug",
	"clear":        "gpib.clear",
	"start":        "sweep.start",
	"stop":         "sweep.stop",
	"points":       "sweep.points",
	"capability":   "sweep.capability",
	"averages":     "sweep.averages",
	"format":       "sweep.format",
	"log-level":    "log.level",
}

// AddFlags defines the common flags on fs. Defaults shown in help are the
// built-in ones; the file and environment still apply when a flag is unset.
func AddFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "configuration file (default ./labsweep.yaml if present)")
	fs.StringP("port", "p", "", "serial port of the GPIB controller (default: locate by USB vendor)")
	fs.Int("baud", 115200, "serial baud rate")
	fs.Int("pad", 4, "GPIB primary address of the instrument")
	fs.Int("sad", 0, "GPIB secondary address of the instrument, 0 for none")
	fs.Duration("delay", 100*time.Millisecond, "delay before each controller command")
	fs.Duration("gpib-timeout", 500*time.Millisecond, "GPIB read timeout programmed into the controller")
	fs.Bool("ar488", false, "controller is an AR488 clone")
	fs.BoolP("debug", "d", false, "log every byte on the serial link")
	fs.Bool("clear", false, "send selected device clear on connect")
	fs.Float64("start", 0, "sweep start")
	fs.Float64("stop", 0, "sweep stop")
	fs.Int("points", 0, "number of sweep points")
	fs.String("capability", "queryable", "point count source: queryable, fixed:<n> or heuristic")
	fs.Int("averages", 1, "traces averaged per sweep")
	fs.String("format", "ascii", "trace transfer format: ascii or pack")
	fs.String("log-level", "info", "log level")
}

// Load reads the configuration. fs may be nil; when set it must have been
// parsed, and only flags the user changed override the other sources.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	file := ""
	if fs != nil {
		file, _ = fs.GetString("config")
	}
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	} else {
		v.SetConfigName("labsweep")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	cfg.Serial.Port = v.GetString("serial.port")
	cfg.Serial.Baud = v.GetInt("serial.baud")
	cfg.Serial.ReadTimeout = v.GetDuration("serial.read_timeout")

	cfg.GPIB.PAD = v.GetInt("gpib.pad")
	cfg.GPIB.SAD = v.GetInt("gpib.sad")
	cfg.GPIB.Delay = v.GetDuration("gpib.delay")
	cfg.GPIB.ReadTimeout = v.GetDuration("gpib.read_timeout")
	cfg.GPIB.AR488 = v.GetBool("gpib.ar488")
	cfg.GPIB.Debug = v.GetBool("gpib.debug")
	cfg.GPIB.Clear = v.GetBool("gpib.clear")

	cfg.Sweep.Start = v.GetFloat64("sweep.start")
	cfg.Sweep.Stop = v.GetFloat64("sweep.stop")
	cfg.Sweep.Points = v.GetInt("sweep.points")
	cfg.Sweep.Averages = v.GetInt("sweep.averages")
	cfg.Sweep.Format = strings.ToLower(v.GetString("sweep.format"))
	capability, err := sweep.ParseCapability(v.GetString("sweep.capability"))
	if err != nil {
		return nil, err
	}
	cfg.Sweep.Capability = capability

	cfg.Temperature.Tolerance = v.GetFloat64("temperature.tolerance")
	cfg.Temperature.Window = v.GetInt("temperature.window")
	cfg.Temperature.Poll = v.GetDuration("temperature.poll")
	cfg.Temperature.Timeout = v.GetDuration("temperature.timeout")
	cfg.Temperature.Settle = v.GetDuration("temperature.settle")

	level, err := zerolog.ParseLevel(v.GetString("log.level"))
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	cfg.Log.Level = level

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// RequirePoints checks the sweep has at least one point, as programs that
// step through setpoints need.
func (s SweepConfig) RequirePoints() error {
	if s.Points < 1 {
		return fmt.Errorf("%w: sweep needs at least one point, set --points", ErrInvalid)
	}
	return nil
}

// ErrInvalid is wrapped by all validation errors.
var ErrInvalid = errors.New("invalid configuration")

// Validate checks the values that cannot be caught when the instrument is
// opened.
func (c *Config) Validate() error {
	switch {
	case c.Serial.Baud <= 0:
		return fmt.Errorf("%w: baud rate %d", ErrInvalid, c.Serial.Baud)
	case c.GPIB.PAD < 0 || c.GPIB.PAD > 30:
		return fmt.Errorf("%w: primary address %d not in 0..30", ErrInvalid, c.GPIB.PAD)
	case c.GPIB.SAD != 0 && (c.GPIB.SAD < 96 || c.GPIB.SAD > 126):
		return fmt.Errorf("%w: secondary address %d not in 96..126", ErrInvalid, c.GPIB.SAD)
	case c.GPIB.Delay < 0:
		return fmt.Errorf("%w: negative delay", ErrInvalid)
	case c.GPIB.ReadTimeout < time.Millisecond || c.GPIB.ReadTimeout > 3*time.Second:
		return fmt.Errorf("%w: GPIB read timeout %s not in 1ms..3s", ErrInvalid, c.GPIB.ReadTimeout)
	case c.Sweep.Points < 0:
		return fmt.Errorf("%w: %d sweep points", ErrInvalid, c.Sweep.Points)
	case c.Sweep.Averages < 1:
		return fmt.Errorf("%w: %d averages", ErrInvalid, c.Sweep.Averages)
	case c.Sweep.Format != "ascii" && c.Sweep.Format != "pack":
		return fmt.Errorf("%w: trace format %q", ErrInvalid, c.Sweep.Format)
	case c.Temperature.Tolerance < 0:
		return fmt.Errorf("%w: negative temperature tolerance", ErrInvalid)
	}
	return nil
}
