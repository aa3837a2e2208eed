// Package config holds the harness configuration: how to launch the
// session daemon and the timing knobs of the polling loops.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables honored by FromEnvironment.
const (
	// ConfigPathEnvVar points at a YAML configuration file.
	ConfigPathEnvVar = "TRACETEST_CONFIG"

	// SessiondBinEnvVar overrides the daemon binary; the standard rundir
	// and socket arguments are appended automatically.
	SessiondBinEnvVar = "TRACETEST_SESSIOND_BIN"
)

// Command placeholders substituted when the daemon is launched.
const (
	RundirPlaceholder = "{rundir}"
	SocketPlaceholder = "{socket}"
)

// Config is the harness configuration. Durations are expressed in
// milliseconds so that configuration files stay plain integers.
type Config struct {
	// SessiondCommand is the argv used to launch the session daemon.
	// Occurrences of {rundir} and {socket} are substituted with the
	// environment's runtime directory and socket path.
	SessiondCommand []string `yaml:"sessiond_command"`

	// StartupTimeoutMS bounds the wait for the daemon to become ready.
	StartupTimeoutMS int `yaml:"startup_timeout_ms"`

	// TeardownTimeoutMS bounds the graceful-termination wait before the
	// daemon is killed.
	TeardownTimeoutMS int `yaml:"teardown_timeout_ms"`

	// ReadyPollIntervalMS is the cadence of the daemon-ready check.
	ReadyPollIntervalMS int `yaml:"ready_poll_interval_ms"`

	// RotationPollIntervalMS is the cadence used when awaiting rotation
	// completion.
	RotationPollIntervalMS int `yaml:"rotation_poll_interval_ms"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		StartupTimeoutMS:       5000,
		TeardownTimeoutMS:      3000,
		ReadyPollIntervalMS:    100,
		RotationPollIntervalMS: 50,
	}
}

// StartupTimeout returns the daemon-ready deadline.
func (c *Config) StartupTimeout() time.Duration {
	return time.Duration(c.StartupTimeoutMS) * time.Millisecond
}

// TeardownTimeout returns the graceful-termination deadline.
func (c *Config) TeardownTimeout() time.Duration {
	return time.Duration(c.TeardownTimeoutMS) * time.Millisecond
}

// ReadyPollInterval returns the daemon-ready polling cadence.
func (c *Config) ReadyPollInterval() time.Duration {
	return time.Duration(c.ReadyPollIntervalMS) * time.Millisecond
}

// RotationPollInterval returns the rotation-await polling cadence.
func (c *Config) RotationPollInterval() time.Duration {
	return time.Duration(c.RotationPollIntervalMS) * time.Millisecond
}

// Validate checks the configuration for values that would stall or spin
// the harness.
func (c *Config) Validate() error {
	if c.StartupTimeoutMS <= 0 {
		return fmt.Errorf("startup_timeout_ms must be positive")
	}
	if c.TeardownTimeoutMS <= 0 {
		return fmt.Errorf("teardown_timeout_ms must be positive")
	}
	if c.ReadyPollIntervalMS <= 0 {
		return fmt.Errorf("ready_poll_interval_ms must be positive")
	}
	if c.RotationPollIntervalMS <= 0 {
		return fmt.Errorf("rotation_poll_interval_ms must be positive")
	}
	return nil
}

// Load reads a YAML configuration file over the defaults. Unknown fields
// are rejected to catch typos early.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// FromEnvironment builds the effective configuration: the file named by
// TRACETEST_CONFIG (defaults otherwise), with TRACETEST_SESSIOND_BIN
// taking precedence for the daemon command.
func FromEnvironment() (*Config, error) {
	cfg := Default()
	if path := os.Getenv(ConfigPathEnvVar); path != "" {
		loaded, err := Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if bin := os.Getenv(SessiondBinEnvVar); bin != "" {
		cfg.SessiondCommand = []string{
			bin,
			"--rundir", RundirPlaceholder,
			"--socket", SocketPlaceholder,
		}
	}
	return cfg, nil
}

// ExpandCommand substitutes the rundir and socket placeholders in the
// daemon command.
func (c *Config) ExpandCommand(rundir, socketPath string) []string {
	out := make([]string, len(c.SessiondCommand))
	for i, arg := range c.SessiondCommand {
		switch arg {
		case RundirPlaceholder:
			out[i] = rundir
		case SocketPlaceholder:
			out[i] = socketPath
		default:
			out[i] = arg
		}
	}
	return out
}
