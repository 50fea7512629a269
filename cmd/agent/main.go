// Package main is the entry point for the monitoring agent.
// It loads configuration, connects to the controller, runs the tasks the
// controller dispatches, and tears the session down on shutdown. It runs as
// either a Windows service or a foreground process.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"

	"go.uber.org/zap"

	"github.com/aDN03/CC/internal/alert"
	"github.com/aDN03/CC/internal/collector"
	"github.com/aDN03/CC/internal/config"
	"github.com/aDN03/CC/internal/logging"
	"github.com/aDN03/CC/internal/probe"
	"github.com/aDN03/CC/internal/reliable"
	"github.com/aDN03/CC/internal/scheduler"
	"github.com/aDN03/CC/internal/service"
	"github.com/aDN03/CC/internal/session"
	"github.com/aDN03/CC/internal/transport"
)

var (
	// version is set at build time via -ldflags.
	version = "dev"

	configPath  = flag.String("config", "", "Path to configuration file (default: search standard locations)")
	serverAddr  = flag.String("server", "", "Controller datagram address, host:port")
	alertAddr   = flag.String("alert", "", "Controller alert channel address, host:port")
	logLevel    = flag.String("log-level", "", "Log level: debug, info, warn, error")
	showVersion = flag.Bool("version", false, "Show version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("nms-agent %s\n", version)
		os.Exit(0)
	}

	var paths []string
	if *configPath != "" {
		paths = append(paths, *configPath)
	}
	cfg, err := config.LoadAgent(config.AgentOverrides{
		Server:   *serverAddr,
		Alert:    *alertAddr,
		LogLevel: *logLevel,
	}, paths...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging)
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	logger.Info("Starting agent",
		zap.String("version", version),
		zap.String("server", cfg.Server.Address))

	err = service.Run("NMSAgent", logger, func(ctx context.Context) error {
		return runAgent(ctx, cfg, logger)
	})
	if err != nil {
		logger.Error("Agent stopped", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
	logger.Info("Agent stopped")
}

// runAgent wires the session and its measurement drivers. It blocks until
// the session ends.
func runAgent(ctx context.Context, cfg *config.Agent, logger *zap.Logger) error {
	server, err := net.ResolveUDPAddr("udp", cfg.Server.Address)
	if err != nil {
		return fmt.Errorf("resolve controller: %w", err)
	}

	ep, err := transport.Listen(ctx, ":0", cfg.Protocol.PollInterval.Duration, logger)
	if err != nil {
		return err
	}
	defer ep.Close()

	controllerHost, _, _ := net.SplitHostPort(cfg.Server.Address)
	drivers := scheduler.Drivers{
		Pinger:         &probe.ICMPPinger{Privileged: cfg.Probe.Privileged},
		Iperf:          probe.NewIperf(cfg.Probe.IperfPath, cfg.Probe.SyncPort, logger),
		Hardware:       collector.NewSystem(),
		Alerts:         alert.NewClient(cfg.Alert.Address, cfg.Alert.Rate, cfg.Alert.Burst),
		ControllerHost: controllerHost,
	}

	agent := session.NewAgent(session.AgentConfig{
		Server: server,
		Policy: reliable.Policy{
			RetryTimeout: cfg.Protocol.RetryTimeout.Duration,
			MaxAttempts:  cfg.Protocol.MaxAttempts,
			MaxPending:   cfg.Protocol.MaxPending,
		},
		SweepInterval:     cfg.Protocol.PollInterval.Duration,
		KeepAliveInterval: cfg.Session.KeepAliveInterval.Duration,
		TeardownWait:      cfg.Session.TeardownWait.Duration,
	}, ep, drivers, logger)

	logger.Info("Agent running",
		zap.Stringer("local", ep.LocalAddr()),
		zap.Duration("keepalive", cfg.Session.KeepAliveInterval.Duration))
	return agent.Run(ctx)
}
