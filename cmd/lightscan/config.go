package main

import (
	"errors"
	"fmt"
	"io/fs"
	"runtime"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"

	"github.com/thzlab/lightscan/lockin"
	"github.com/thzlab/lightscan/recorder"
	"github.com/thzlab/lightscan/scan"
	"github.com/thzlab/lightscan/srs"
	"github.com/thzlab/lightscan/telemetry"
	"github.com/thzlab/lightscan/thorlabs"
)

const (
	// ConfigFileName is what it sounds like
	ConfigFileName = "lightscan.yml"

	// EnvPrefix marks environment variables that override the file,
	// e.g. LIGHTSCAN_SCAN_STOP=50
	EnvPrefix = "LIGHTSCAN_"

	modeDemo = "demo"
	modeReal = "real"

	sourceLockin    = "lockin"
	sourceDigitizer = "digitizer"
)

// LockinConfig is the amplifier's connection
type LockinConfig struct {
	Addr          string        `koanf:"addr" yaml:"addr"`
	Baud          int           `koanf:"baud" yaml:"baud"`
	StandardSetup bool          `koanf:"standardsetup" yaml:"standardsetup"`
	FlushSettle   time.Duration `koanf:"flushsettle" yaml:"flushsettle"`
}

// StageConfig is the stage's connection and timeouts
type StageConfig struct {
	Addr        string        `koanf:"addr" yaml:"addr"`
	Baud        int           `koanf:"baud" yaml:"baud"`
	HomeOnStart bool          `koanf:"homeonstart" yaml:"homeonstart"`
	HomeTimeout time.Duration `koanf:"hometimeout" yaml:"hometimeout"`
	MoveTimeout time.Duration `koanf:"movetimeout" yaml:"movetimeout"`

	// Velocity in steps per second, used for the estimate
	Velocity float64 `koanf:"velocity" yaml:"velocity"`
}

// DigitizerConfig is an optional SCPI DAQ used in place of the lock-in output
type DigitizerConfig struct {
	Addr    string `koanf:"addr" yaml:"addr"`
	Serial  bool   `koanf:"serial" yaml:"serial"`
	Channel int    `koanf:"channel" yaml:"channel"`
}

// ScanConfig holds the default sweep.  TimeConstant and Sensitivity are
// table labels such as "300 ms" and "500 mV"
type ScanConfig struct {
	Start         float64       `koanf:"start" yaml:"start"`
	Stop          float64       `koanf:"stop" yaml:"stop"`
	StepSize      float64       `koanf:"stepsize" yaml:"stepsize"`
	Averaging     int           `koanf:"averaging" yaml:"averaging"`
	PostMoveWait  float64       `koanf:"postmovewait" yaml:"postmovewait"`
	TimeConstant  string        `koanf:"timeconstant" yaml:"timeconstant"`
	Sensitivity   string        `koanf:"sensitivity" yaml:"sensitivity"`
	PollInterval  time.Duration `koanf:"pollinterval" yaml:"pollinterval"`
	QuiesceOnStop bool          `koanf:"quiesceonstop" yaml:"quiesceonstop"`
}

// SaveConfig says where finished scans go.  Archive is the path of a SQLite
// database every saved run is also written to; empty disables it
type SaveConfig struct {
	Enabled bool   `koanf:"enabled" yaml:"enabled"`
	Dir     string `koanf:"dir" yaml:"dir"`
	Label   string `koanf:"label" yaml:"label"`
	FITS    bool   `koanf:"fits" yaml:"fits"`
	Archive string `koanf:"archive" yaml:"archive"`
}

// DemoConfig drives the simulated instruments.  Dataset is a CSV file; if
// empty a synthetic pulse of Points samples is used
type DemoConfig struct {
	Dataset  string        `koanf:"dataset" yaml:"dataset"`
	Points   int           `koanf:"points" yaml:"points"`
	Overhead time.Duration `koanf:"overhead" yaml:"overhead"`
}

// Config is the complete configuration of the program
type Config struct {
	Addr   string `koanf:"addr" yaml:"addr"`
	Mode   string `koanf:"mode" yaml:"mode"`
	Source string `koanf:"source" yaml:"source"`

	Lockin    LockinConfig     `koanf:"lockin" yaml:"lockin"`
	Stage     StageConfig      `koanf:"stage" yaml:"stage"`
	Digitizer DigitizerConfig  `koanf:"digitizer" yaml:"digitizer"`
	Scan      ScanConfig       `koanf:"scan" yaml:"scan"`
	Save      SaveConfig       `koanf:"save" yaml:"save"`
	Demo      DemoConfig       `koanf:"demo" yaml:"demo"`
	Telemetry telemetry.Config `koanf:"telemetry" yaml:"telemetry"`
}

// defaultPorts returns the usual serial ports of the lock-in and the stage
func defaultPorts(goos string) (lia, stage string) {
	if goos == "windows" {
		return "COM3", "COM4"
	}
	return "/dev/tty.usbserial", "/dev/tty.usbmodem1421"
}

func defaultConfig() Config {
	lia, stage := defaultPorts(runtime.GOOS)
	return Config{
		Addr:   ":8000",
		Mode:   modeDemo,
		Source: sourceLockin,
		Lockin: LockinConfig{
			Addr:        lia,
			Baud:        srs.DefaultBaud,
			FlushSettle: srs.DefaultFlushSettle,
		},
		Stage: StageConfig{
			Addr:        stage,
			Baud:        thorlabs.DefaultBaud,
			HomeOnStart: true,
			HomeTimeout: thorlabs.DefaultHomeTimeout,
			MoveTimeout: thorlabs.DefaultMoveTimeout,
			Velocity:    scan.DefaultVelocity,
		},
		Digitizer: DigitizerConfig{Channel: 101},
		Scan: ScanConfig{
			Start:        0,
			Stop:         100,
			StepSize:     1,
			Averaging:    1,
			PostMoveWait: 3,
			TimeConstant: "3 s",
			Sensitivity:  "100 mV",
			PollInterval: scan.DefaultPollInterval,
		},
		Save: SaveConfig{Enabled: true, Dir: ".", Label: "scan"},
		Demo: DemoConfig{Points: 101},
		Telemetry: telemetry.Config{
			Interval: 15 * time.Second,
		},
	}
}

// loadConfig layers defaults, the YAML file at path and the environment.
// A missing file is not an error
func loadConfig(path string) (Config, error) {
	k := koanf.New(".")
	var c Config
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return c, err
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return c, fmt.Errorf("error loading config %s: %w", path, err)
		}
	}
	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "_", ".", -1)
	}), nil)
	if err != nil {
		return c, err
	}
	err = k.Unmarshal("", &c)
	return c, err
}

// Validate checks the choices that are not checked elsewhere
func (c Config) Validate() error {
	switch strings.ToLower(c.Mode) {
	case modeDemo, modeReal:
	default:
		return fmt.Errorf("mode must be %q or %q, got %q", modeDemo, modeReal, c.Mode)
	}
	switch strings.ToLower(c.Source) {
	case sourceLockin, sourceDigitizer:
	default:
		return fmt.Errorf("source must be %q or %q, got %q", sourceLockin, sourceDigitizer, c.Source)
	}
	if strings.EqualFold(c.Source, sourceDigitizer) && strings.EqualFold(c.Mode, modeReal) && c.Digitizer.Addr == "" {
		return errors.New("source is digitizer but digitizer.addr is empty")
	}
	_, err := c.Scan.Parameters()
	return err
}

// Parameters converts the default sweep, resolving the table labels
func (s ScanConfig) Parameters() (scan.Parameters, error) {
	tc, err := lockin.ParseTimeConstant(s.TimeConstant)
	if err != nil {
		return scan.Parameters{}, err
	}
	sens, err := lockin.ParseSensitivity(s.Sensitivity)
	if err != nil {
		return scan.Parameters{}, err
	}
	return scan.Parameters{
		Start:        s.Start,
		Stop:         s.Stop,
		StepSize:     s.StepSize,
		Averaging:    s.Averaging,
		PostMoveWait: s.PostMoveWait,
		TimeConstant: tc,
		Sensitivity:  sens,
	}, nil
}

// Policy is the save policy of the controller
func (s SaveConfig) Policy() recorder.Policy {
	return recorder.Policy{Enabled: s.Enabled, Dir: s.Dir, Label: s.Label, FITS: s.FITS}
}
