// Package main is the entry point for the monitoring controller. It loads
// the task specification, registers agents, dispatches their tasks and
// files their reports and alerts.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/aDN03/CC/internal/alert"
	"github.com/aDN03/CC/internal/config"
	"github.com/aDN03/CC/internal/logging"
	"github.com/aDN03/CC/internal/registry"
	"github.com/aDN03/CC/internal/reliable"
	"github.com/aDN03/CC/internal/service"
	"github.com/aDN03/CC/internal/session"
	"github.com/aDN03/CC/internal/store"
	"github.com/aDN03/CC/internal/tasks"
	"github.com/aDN03/CC/internal/transport"
)

var (
	// version is set at build time via -ldflags.
	version = "dev"

	configPath      = flag.String("config", "", "Path to configuration file (default: search standard locations)")
	tasksFile       = flag.String("tasks", "", "Task specification file (JSON or YAML)")
	storageDir      = flag.String("storage", "", "Directory for connection, report and alert files")
	logLevel        = flag.String("log-level", "", "Log level: debug, info, warn, error")
	listConnections = flag.Bool("connections", false, "Print the persisted connection table and exit")
	showVersion     = flag.Bool("version", false, "Show version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("nms-controller %s\n", version)
		os.Exit(0)
	}

	var paths []string
	if *configPath != "" {
		paths = append(paths, *configPath)
	}
	cfg, err := config.LoadController(config.ControllerOverrides{
		TasksFile:  *tasksFile,
		StorageDir: *storageDir,
		LogLevel:   *logLevel,
	}, paths...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if *listConnections {
		if err := printConnections(os.Stdout, filepath.Join(cfg.Storage.Dir, store.ConnectionsFile)); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
		return
	}

	logger := logging.New(cfg.Logging)
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	logger.Info("Starting controller",
		zap.String("version", version),
		zap.String("udp", cfg.Listen.UDP),
		zap.String("tcp", cfg.Listen.TCP))

	err = service.Run("NMSController", logger, func(ctx context.Context) error {
		return runController(ctx, cfg, logger)
	})
	if err != nil {
		logger.Error("Controller stopped", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
	logger.Info("Controller stopped")
}

// runController wires storage, registry and transports and serves until ctx
// is cancelled.
func runController(ctx context.Context, cfg *config.Controller, logger *zap.Logger) error {
	catalog, err := tasks.Load(cfg.Tasks.File)
	if err != nil {
		return err
	}
	logger.Info("Loaded task specification",
		zap.String("file", cfg.Tasks.File),
		zap.Int("tasks", catalog.Tasks()),
		zap.Int("devices", catalog.Devices()))

	files, err := store.NewFiles(cfg.Storage.Dir)
	if err != nil {
		return err
	}

	var reports store.ReportSink = files
	if cfg.Storage.RedisURL != "" {
		mirror, err := store.NewRedisMirror(ctx, cfg.Storage.RedisURL)
		if err != nil {
			logger.Warn("Redis mirror disabled", zap.Error(err))
		} else {
			defer mirror.Close()
			reports = store.NewTee(logger, files, mirror)
			logger.Info("Mirroring reports to Redis")
		}
	}

	conns := registry.NewConnections(cfg.Registry.InactivityLimit.Duration, logger, registry.WithPersister(files))
	if saved, err := files.LoadConnections(); err != nil {
		logger.Warn("Ignoring unreadable connection table", zap.Error(err))
	} else if len(saved) > 0 {
		conns.Restore(saved)
	}

	ep, err := transport.Listen(ctx, cfg.Listen.UDP, cfg.Protocol.PollInterval.Duration, logger)
	if err != nil {
		return err
	}
	defer ep.Close()

	alerts := alert.NewServer(cfg.Listen.TCP, files, logger)
	if err := alerts.Listen(ctx); err != nil {
		return err
	}

	ctrl := session.NewController(session.ControllerConfig{
		Policy: reliable.Policy{
			RetryTimeout: cfg.Protocol.RetryTimeout.Duration,
			MaxAttempts:  cfg.Protocol.MaxAttempts,
			MaxPending:   cfg.Protocol.MaxPending,
		},
		SweepInterval: cfg.Protocol.PollInterval.Duration,
		CheckInterval: cfg.Registry.CheckInterval.Duration,
	}, ep, session.ControllerDeps{
		Catalog:     catalog,
		Connections: conns,
		Bindings:    registry.NewBindings(),
		Reports:     reports,
		Alerts:      alerts,
	}, logger)

	return ctrl.Run(ctx)
}
