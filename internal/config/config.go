package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// EncoderConfig describes the two encoder inputs.
type EncoderConfig struct {
	ClkPin         int    `yaml:"clk_pin"`          // BCM pin for CLK (A)
	DtPin          int    `yaml:"dt_pin"`           // BCM pin for DT (B)
	PullUp         bool   `yaml:"pull_up"`          // enable internal pull-ups
	Scheduler      string `yaml:"scheduler"`        // "poll" or "edge"
	PollIntervalUs int    `yaml:"poll_interval_us"` // poll scheduler sample period
}

// OutputConfig describes the actuator output.
type OutputConfig struct {
	Pin       int  `yaml:"pin"`        // BCM pin driving the relay
	ActiveLow bool `yaml:"active_low"` // relay boards that switch on LOW
}

// StateConfig locates persisted runtime settings.
type StateConfig struct {
	SettingsPath string `yaml:"settings_path"` // empty = settings are not persisted
}

// ConsoleConfig selects the line console transport.
type ConsoleConfig struct {
	Device string `yaml:"device"` // "", "stdin" or a serial device like /dev/ttyUSB0
	Baud   int    `yaml:"baud"`
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	DebugLevel int  `yaml:"debug_level"` // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	MockGPIO   bool `yaml:"mock_gpio"`   // use mock GPIO (true=dev/test, false=real Raspberry Pi)
	WebPort    int  `yaml:"web_port"`    // 0 = web server disabled unless -web is given
}

// Config aggregates all application configuration.
type Config struct {
	Encoder  EncoderConfig  `yaml:"encoder"`
	Output   OutputConfig   `yaml:"output"`
	Settings Settings       `yaml:"settings"`
	State    StateConfig    `yaml:"state"`
	Console  ConsoleConfig  `yaml:"console"`
	Defaults DefaultsConfig `yaml:"defaults"`
}

// Scheduler names.
const (
	SchedulerPoll = "poll"
	SchedulerEdge = "edge"
)

// Load reads a YAML file and returns the configuration.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes, defaults and validates a YAML document.
func Parse(data []byte) (*Config, error) {
	cfg := Config{Settings: DefaultSettings()}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	if cfg.Encoder.ClkPin <= 0 {
		cfg.Encoder.ClkPin = 21
	}
	if cfg.Encoder.DtPin <= 0 {
		cfg.Encoder.DtPin = 22
	}
	if cfg.Encoder.ClkPin == cfg.Encoder.DtPin {
		return nil, fmt.Errorf("encoder.clk_pin and encoder.dt_pin must differ, both are %d", cfg.Encoder.ClkPin)
	}
	if cfg.Output.Pin <= 0 {
		cfg.Output.Pin = 26
	}
	if cfg.Output.Pin == cfg.Encoder.ClkPin || cfg.Output.Pin == cfg.Encoder.DtPin {
		return nil, fmt.Errorf("output.pin %d collides with an encoder pin", cfg.Output.Pin)
	}

	switch cfg.Encoder.Scheduler {
	case "":
		cfg.Encoder.Scheduler = SchedulerPoll
	case SchedulerPoll, SchedulerEdge:
	default:
		return nil, fmt.Errorf("encoder.scheduler must be %q or %q, got %q", SchedulerPoll, SchedulerEdge, cfg.Encoder.Scheduler)
	}
	if cfg.Encoder.PollIntervalUs <= 0 {
		cfg.Encoder.PollIntervalUs = 500 // 2 kHz is plenty for a hand-turned knob
	}

	if cfg.Console.Baud <= 0 {
		cfg.Console.Baud = 115200
	}
	if cfg.Defaults.DebugLevel < 0 || cfg.Defaults.DebugLevel > 4 {
		return nil, fmt.Errorf("debug_level must be between 0 and 4, got %d", cfg.Defaults.DebugLevel)
	}
	if cfg.Defaults.WebPort < 0 || cfg.Defaults.WebPort > 65535 {
		return nil, fmt.Errorf("web_port must be 0-65535, got %d", cfg.Defaults.WebPort)
	}

	if err := cfg.Settings.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// PollInterval returns the sample period of the poll scheduler.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Encoder.PollIntervalUs) * time.Microsecond
}
