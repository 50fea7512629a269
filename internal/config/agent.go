package config

import (
	"fmt"
	"time"
)

// AgentFile is the default agent config file name.
const AgentFile = "agent.yaml"

// Agent holds all agent configuration.
type Agent struct {
	Server   ServerConfig   `yaml:"server"`
	Alert    AlertConfig    `yaml:"alert"`
	Protocol ProtocolConfig `yaml:"protocol"`
	Session  SessionConfig  `yaml:"session"`
	Probe    ProbeConfig    `yaml:"probe"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig locates the controller's datagram endpoint.
type ServerConfig struct {
	Address string `yaml:"address"`
}

// AlertConfig locates the controller's alert channel and limits how fast
// alerts are pushed.
type AlertConfig struct {
	Address string  `yaml:"address"`
	Rate    float64 `yaml:"rate"`
	Burst   int     `yaml:"burst"`
}

// SessionConfig holds session timings.
type SessionConfig struct {
	KeepAliveInterval Duration `yaml:"keepalive_interval"`
	TeardownWait      Duration `yaml:"teardown_wait"`
}

// ProbeConfig holds measurement settings.
type ProbeConfig struct {
	Privileged bool   `yaml:"privileged"`
	IperfPath  string `yaml:"iperf_path"`
	SyncPort   int    `yaml:"sync_port"`
}

// AgentOverrides holds values from command-line flags. Empty strings are
// treated as "not set".
type AgentOverrides struct {
	Server   string
	Alert    string
	LogLevel string
}

// DefaultAgent returns the default agent configuration.
func DefaultAgent() *Agent {
	return &Agent{
		Server: ServerConfig{Address: "127.0.0.1:65433"},
		Alert: AlertConfig{
			Address: "127.0.0.1:65432",
			Rate:    1,
			Burst:   5,
		},
		Protocol: ProtocolConfig{
			RetryTimeout: Duration{2 * time.Second},
			MaxAttempts:  5,
			MaxPending:   32,
			PollInterval: Duration{500 * time.Millisecond},
		},
		Session: SessionConfig{
			KeepAliveInterval: Duration{5 * time.Second},
			TeardownWait:      Duration{3 * time.Second},
		},
		Probe: ProbeConfig{
			IperfPath: "iperf",
			SyncPort:  27182,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// LoadAgent loads the agent configuration through the full precedence
// chain. An optional configPath controls file discovery:
//   - omitted        → auto-discover via Locate(AgentFile)
//   - explicit value → use that path ("" means no file)
func LoadAgent(cli AgentOverrides, configPath ...string) (*Agent, error) {
	cfg := DefaultAgent()

	if err := loadFile(cfg, AgentFile, configPath); err != nil {
		return nil, err
	}

	setFromEnv(&cfg.Server.Address, "NMS_SERVER_ADDRESS")
	setFromEnv(&cfg.Alert.Address, "NMS_ALERT_ADDRESS")
	setFromEnv(&cfg.Logging.Level, "NMS_LOG_LEVEL")

	setIfNotEmpty(&cfg.Server.Address, cli.Server)
	setIfNotEmpty(&cfg.Alert.Address, cli.Alert)
	setIfNotEmpty(&cfg.Logging.Level, cli.LogLevel)

	return cfg, nil
}

// Validate checks that the configuration can run an agent.
func (c *Agent) Validate() error {
	if err := validateHostPort("server.address", c.Server.Address); err != nil {
		return err
	}
	if err := validateHostPort("alert.address", c.Alert.Address); err != nil {
		return err
	}
	if c.Alert.Rate <= 0 || c.Alert.Burst < 1 {
		return fmt.Errorf("alert.rate must be positive and alert.burst at least 1")
	}
	if err := c.Protocol.validate(); err != nil {
		return err
	}
	if c.Session.KeepAliveInterval.Duration <= 0 {
		return fmt.Errorf("session.keepalive_interval must be positive")
	}
	if c.Session.TeardownWait.Duration <= 0 {
		return fmt.Errorf("session.teardown_wait must be positive")
	}
	if c.Probe.SyncPort < 1 || c.Probe.SyncPort > 65535 {
		return fmt.Errorf("probe.sync_port %d out of range", c.Probe.SyncPort)
	}
	return validateLogging(c.Logging)
}
