//go:build !windows

package service

import (
	"errors"

	"go.uber.org/zap"
)

// IsWindowsService always returns false on non-Windows platforms.
func IsWindowsService() bool {
	return false
}

func runService(string, *zap.Logger, RunFunc) error {
	return errors.New("service mode is only available on Windows")
}
