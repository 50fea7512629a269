//go:build windows

package service

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sys/windows/svc"
)

// IsWindowsService checks if the process is running as a Windows service.
func IsWindowsService() bool {
	isService, err := svc.IsWindowsService()
	if err != nil {
		return false
	}
	return isService
}

func runService(name string, logger *zap.Logger, fn RunFunc) error {
	h := &handler{logger: logger, fn: fn}
	if err := svc.Run(name, h); err != nil {
		return err
	}
	return h.err
}

// handler implements svc.Handler.
type handler struct {
	logger *zap.Logger
	fn     RunFunc
	err    error
}

// Execute manages the service lifecycle: start, running, stop/shutdown.
func (h *handler) Execute(args []string, r <-chan svc.ChangeRequest, changes chan<- svc.Status) (ssec bool, errno uint32) {
	changes <- svc.Status{State: svc.StartPending}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- h.fn(ctx) }()

	changes <- svc.Status{
		State:   svc.Running,
		Accepts: svc.AcceptStop | svc.AcceptShutdown,
	}
	h.logger.Info("Windows service started")

	for {
		select {
		case h.err = <-done:
			// The role stopped on its own, e.g. the controller was unreachable.
			if h.err != nil {
				return true, 1
			}
			return false, 0
		case c := <-r:
			switch c.Cmd {
			case svc.Interrogate:
				changes <- c.CurrentStatus
			case svc.Stop, svc.Shutdown:
				h.logger.Info("Windows service stopping")
				changes <- svc.Status{State: svc.StopPending}
				cancel()
				h.err = <-done
				return false, 0
			default:
				h.logger.Warn("Unexpected service control request",
					zap.Uint32("cmd", uint32(c.Cmd)))
			}
		}
	}
}
