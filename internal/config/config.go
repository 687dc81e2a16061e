package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Source  SourceConfig  `yaml:"source"`
	Readout ReadoutConfig `yaml:"readout"`
	Sim     SimConfig     `yaml:"sim"`
	IMU     IMUConfig     `yaml:"imu"`
	Display DisplayConfig `yaml:"display"`
	Console ConsoleConfig `yaml:"console"`
	Buttons ButtonsConfig `yaml:"buttons"`
}

type SourceConfig struct {
	// Kind selects the sample source, "sim" or "imu".
	Kind string `yaml:"kind"`
	// Rate is the sample cadence for either source.
	Rate time.Duration `yaml:"rate"`
}

type ReadoutConfig struct {
	StaleAfter time.Duration `yaml:"stale_after"`
	// Smoothing is the display EMA weight for roll/pitch, 0 disables.
	Smoothing float64 `yaml:"smoothing"`

	// Manual pins the displayed angles at startup, for bench checks
	// without sensors. The manual button clears the hold.
	Manual           bool    `yaml:"manual"`
	ManualHeadingDeg float64 `yaml:"manual_heading_deg"`
	ManualRollDeg    float64 `yaml:"manual_roll_deg"`
	ManualPitchDeg   float64 `yaml:"manual_pitch_deg"`
}

type SimConfig struct {
	SpinDegPerSec    float64       `yaml:"spin_deg_per_sec"`
	TiltAmplitudeDeg float64       `yaml:"tilt_amplitude_deg"`
	TiltPeriod       time.Duration `yaml:"tilt_period"`
	// Scenario is a keyframe script path; when set it replaces the wave.
	Scenario string `yaml:"scenario"`
	Loop     bool   `yaml:"loop"`
}

type IMUConfig struct {
	Bus     int    `yaml:"bus"`
	Addr    uint16 `yaml:"addr"`
	MagAddr uint16 `yaml:"mag_addr"`
}

type DisplayConfig struct {
	Enable    bool   `yaml:"enable"`
	Bus       int    `yaml:"bus"`
	Addr      uint16 `yaml:"addr"`
	FrameRate int    `yaml:"frame_rate"`
}

type ConsoleConfig struct {
	Enable bool   `yaml:"enable"`
	Style  string `yaml:"style"`
	Color  bool   `yaml:"color"`
}

type ButtonsConfig struct {
	Enable    bool          `yaml:"enable"`
	PausePin  int           `yaml:"pause_pin"`
	LevelPin  int           `yaml:"level_pin"`
	ManualPin int           `yaml:"manual_pin"`
	Debounce  time.Duration `yaml:"debounce"`
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		var te *yaml.TypeError
		if errors.As(err, &te) {
			return Config{}, fmt.Errorf("config contains unknown fields: %s", strings.Join(stripLinePrefix(te.Errors), "; "))
		}
		return Config{}, err
	}

	if cfg.Source.Kind == "" {
		cfg.Source.Kind = "sim"
	}
	if cfg.Source.Kind != "sim" && cfg.Source.Kind != "imu" {
		return Config{}, fmt.Errorf("source.kind must be \"sim\" or \"imu\"")
	}
	if cfg.Source.Rate < 0 {
		return Config{}, fmt.Errorf("source.rate must be > 0")
	}
	if cfg.Source.Rate == 0 {
		cfg.Source.Rate = 20 * time.Millisecond
	}

	if cfg.Readout.StaleAfter < 0 {
		return Config{}, fmt.Errorf("readout.stale_after must be > 0")
	}
	if cfg.Readout.StaleAfter == 0 {
		cfg.Readout.StaleAfter = 2 * time.Second
	}
	if cfg.Readout.Smoothing < 0 || cfg.Readout.Smoothing >= 1 {
		return Config{}, fmt.Errorf("readout.smoothing must be in [0, 1)")
	}
	if !cfg.Readout.Manual &&
		(cfg.Readout.ManualHeadingDeg != 0 || cfg.Readout.ManualRollDeg != 0 || cfg.Readout.ManualPitchDeg != 0) {
		return Config{}, fmt.Errorf("readout manual angles require readout.manual")
	}

	// Simulator defaults (safe even if the sim source is not selected).
	if cfg.Sim.SpinDegPerSec == 0 {
		cfg.Sim.SpinDegPerSec = 15
	}
	if cfg.Sim.TiltAmplitudeDeg == 0 {
		cfg.Sim.TiltAmplitudeDeg = 12
	}
	if cfg.Sim.TiltAmplitudeDeg < 0 || cfg.Sim.TiltAmplitudeDeg > 90 {
		return Config{}, fmt.Errorf("sim.tilt_amplitude_deg must be in [0, 90]")
	}
	if cfg.Sim.TiltPeriod <= 0 {
		cfg.Sim.TiltPeriod = 8 * time.Second
	}
	if cfg.Sim.Loop && cfg.Sim.Scenario == "" {
		return Config{}, fmt.Errorf("sim.loop requires sim.scenario")
	}

	// IMU defaults match the ICM-20948 on a Pi header bus.
	if cfg.IMU.Bus < 0 {
		return Config{}, fmt.Errorf("imu.bus must be >= 0")
	}
	if cfg.IMU.Bus == 0 {
		cfg.IMU.Bus = 1
	}
	if cfg.IMU.Addr == 0 {
		cfg.IMU.Addr = 0x68
	}
	if cfg.IMU.MagAddr == 0 {
		cfg.IMU.MagAddr = 0x0C
	}
	if cfg.IMU.Addr > 0x7F {
		return Config{}, fmt.Errorf("imu.addr must be a 7-bit i2c address")
	}
	if cfg.IMU.MagAddr > 0x7F {
		return Config{}, fmt.Errorf("imu.mag_addr must be a 7-bit i2c address")
	}

	if cfg.Display.Bus < 0 {
		return Config{}, fmt.Errorf("display.bus must be >= 0")
	}
	if cfg.Display.Bus == 0 {
		cfg.Display.Bus = 1
	}
	if cfg.Display.Addr == 0 {
		cfg.Display.Addr = 0x3C
	}
	if cfg.Display.Addr > 0x7F {
		return Config{}, fmt.Errorf("display.addr must be a 7-bit i2c address")
	}
	if cfg.Display.FrameRate == 0 {
		cfg.Display.FrameRate = 10
	}
	if cfg.Display.FrameRate < 1 || cfg.Display.FrameRate > 60 {
		return Config{}, fmt.Errorf("display.frame_rate must be in [1, 60]")
	}

	if cfg.Console.Style == "" {
		cfg.Console.Style = "auto"
	}
	switch cfg.Console.Style {
	case "auto", "screen", "lines":
	default:
		return Config{}, fmt.Errorf("console.style must be \"auto\", \"screen\", or \"lines\"")
	}

	if cfg.Buttons.PausePin < 0 || cfg.Buttons.LevelPin < 0 || cfg.Buttons.ManualPin < 0 {
		return Config{}, fmt.Errorf("buttons pins must be >= 0")
	}
	if cfg.Buttons.Debounce < 0 {
		return Config{}, fmt.Errorf("buttons.debounce must be >= 0")
	}
	if cfg.Buttons.Debounce == 0 {
		cfg.Buttons.Debounce = 20 * time.Millisecond
	}
	if cfg.Buttons.Enable && cfg.Buttons.PausePin == 0 && cfg.Buttons.LevelPin == 0 && cfg.Buttons.ManualPin == 0 {
		return Config{}, fmt.Errorf("buttons.enable requires at least one pin")
	}

	if !cfg.Console.Enable && !cfg.Display.Enable {
		return Config{}, fmt.Errorf("console.enable or display.enable must be true")
	}

	return cfg, nil
}

// stripLinePrefix drops the "line N: " prefix yaml puts on field errors so
// the message reads the same regardless of layout.
func stripLinePrefix(msgs []string) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if strings.HasPrefix(m, "line ") {
			if i := strings.Index(m, ": "); i > 0 {
				m = m[i+2:]
			}
		}
		out = append(out, m)
	}
	return out
}
