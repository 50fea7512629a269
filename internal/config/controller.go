package config

import (
	"fmt"
	"time"
)

// ControllerFile is the default controller config file name.
const ControllerFile = "controller.yaml"

// Controller holds all controller configuration.
type Controller struct {
	Listen   ListenConfig   `yaml:"listen"`
	Protocol ProtocolConfig `yaml:"protocol"`
	Registry RegistryConfig `yaml:"registry"`
	Storage  StorageConfig  `yaml:"storage"`
	Tasks    TasksConfig    `yaml:"tasks"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ListenConfig holds the controller's bind addresses.
type ListenConfig struct {
	UDP string `yaml:"udp"`
	TCP string `yaml:"tcp"`
}

// RegistryConfig holds the inactivity policy.
type RegistryConfig struct {
	InactivityLimit Duration `yaml:"inactivity_limit"`
	CheckInterval   Duration `yaml:"check_interval"`
}

// StorageConfig locates persisted state. An empty RedisURL disables the
// report mirror.
type StorageConfig struct {
	Dir      string `yaml:"dir"`
	RedisURL string `yaml:"redis_url"`
}

// TasksConfig locates the task specification file.
type TasksConfig struct {
	File string `yaml:"file"`
}

// ControllerOverrides holds values from command-line flags. Empty strings
// are treated as "not set".
type ControllerOverrides struct {
	TasksFile  string
	StorageDir string
	LogLevel   string
}

// DefaultController returns the default controller configuration.
func DefaultController() *Controller {
	return &Controller{
		Listen: ListenConfig{
			UDP: "127.0.0.1:65433",
			TCP: "127.0.0.1:65432",
		},
		Protocol: ProtocolConfig{
			RetryTimeout: Duration{2 * time.Second},
			MaxAttempts:  3,
			MaxPending:   256,
			PollInterval: Duration{500 * time.Millisecond},
		},
		Registry: RegistryConfig{
			InactivityLimit: Duration{15 * time.Second},
			CheckInterval:   Duration{10 * time.Second},
		},
		Storage: StorageConfig{Dir: "."},
		Tasks:   TasksConfig{File: "configuration_server.json"},
		Logging: LoggingConfig{Level: "info"},
	}
}

// LoadController loads the controller configuration through the full
// precedence chain. configPath works as in LoadAgent.
func LoadController(cli ControllerOverrides, configPath ...string) (*Controller, error) {
	cfg := DefaultController()

	if err := loadFile(cfg, ControllerFile, configPath); err != nil {
		return nil, err
	}

	setFromEnv(&cfg.Tasks.File, "NMS_TASKS_FILE")
	setFromEnv(&cfg.Storage.Dir, "NMS_STORAGE_DIR")
	setFromEnv(&cfg.Storage.RedisURL, "NMS_REDIS_URL")
	setFromEnv(&cfg.Logging.Level, "NMS_LOG_LEVEL")

	setIfNotEmpty(&cfg.Tasks.File, cli.TasksFile)
	setIfNotEmpty(&cfg.Storage.Dir, cli.StorageDir)
	setIfNotEmpty(&cfg.Logging.Level, cli.LogLevel)

	return cfg, nil
}

// Validate checks that the configuration can run a controller.
func (c *Controller) Validate() error {
	if err := validateHostPort("listen.udp", c.Listen.UDP); err != nil {
		return err
	}
	if err := validateHostPort("listen.tcp", c.Listen.TCP); err != nil {
		return err
	}
	if err := c.Protocol.validate(); err != nil {
		return err
	}
	if c.Registry.InactivityLimit.Duration <= 0 || c.Registry.CheckInterval.Duration <= 0 {
		return fmt.Errorf("registry.inactivity_limit and registry.check_interval must be positive")
	}
	if c.Storage.Dir == "" {
		return fmt.Errorf("storage.dir is required")
	}
	if c.Tasks.File == "" {
		return fmt.Errorf("tasks.file is required")
	}
	return validateLogging(c.Logging)
}
