// Package service runs a role's main function either under the Windows
// service control manager or as a foreground process that stops on
// SIGINT/SIGTERM.
package service

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
)

// RunFunc is a role's main loop. It returns once ctx is cancelled and its
// shutdown work is done.
type RunFunc func(ctx context.Context) error

// Run executes fn under the service manager when started by it, and in the
// foreground otherwise.
func Run(name string, logger *zap.Logger, fn RunFunc) error {
	if IsWindowsService() {
		logger.Info("Running as Windows service", zap.String("name", name))
		return runService(name, logger, fn)
	}
	return runForeground(logger, fn)
}

func runForeground(logger *zap.Logger, fn RunFunc) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("Received signal, shutting down",
				zap.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
		}
	}()

	return fn(ctx)
}
