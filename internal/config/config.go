// Package config loads agent and controller configuration from YAML files,
// environment variables and command-line flags.
// Precedence: flags > environment variables > config file > defaults.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML files can say "2s" or "500ms".
type Duration struct {
	time.Duration
}

// UnmarshalYAML implements the yaml.Unmarshaler interface for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		parsed, err := time.ParseDuration(value.Value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value.Value, err)
		}
		d.Duration = parsed
		return nil
	default:
		return fmt.Errorf("unsupported duration format: %v", value.Kind)
	}
}

// MarshalYAML implements the yaml.Marshaler interface for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// ProtocolConfig holds the reliable-delivery parameters of one role.
type ProtocolConfig struct {
	RetryTimeout Duration `yaml:"retry_timeout"`
	MaxAttempts  int      `yaml:"max_attempts"`
	MaxPending   int      `yaml:"max_pending"`
	// PollInterval bounds each socket read and paces the resend sweep.
	PollInterval Duration `yaml:"poll_interval"`
}

func (p ProtocolConfig) validate() error {
	if p.RetryTimeout.Duration <= 0 {
		return fmt.Errorf("protocol.retry_timeout must be positive")
	}
	if p.MaxAttempts < 1 {
		return fmt.Errorf("protocol.max_attempts must be at least 1")
	}
	if p.MaxPending < 0 {
		return fmt.Errorf("protocol.max_pending must not be negative")
	}
	if p.PollInterval.Duration <= 0 {
		return fmt.Errorf("protocol.poll_interval must be positive")
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	switch strings.ToLower(l.Level) {
	case "", "debug", "info", "warn", "error":
		return nil
	}
	return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", l.Level)
}

func validateHostPort(field, addr string) error {
	if addr == "" {
		return fmt.Errorf("%s is required", field)
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("%s %q: %w", field, addr, err)
	}
	return nil
}

// Locate searches the standard config paths for name and returns the first
// one found, or "" if none exists.
func Locate(name string) string {
	for _, p := range configSearchPaths(name) {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// loadFile merges a YAML file over cfg. An optional configPath overrides
// discovery: omitted means Locate(name), "" means no file. A missing file
// is not an error.
func loadFile(cfg interface{}, name string, configPath []string) error {
	var path string
	if len(configPath) > 0 {
		path = configPath[0]
	} else {
		path = Locate(name)
	}
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

// WriteConfig serializes a configuration to a YAML file, creating parent
// directories if needed.
func WriteConfig(cfg interface{}, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(path, data, 0640)
}

func setFromEnv(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setIfNotEmpty(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
