//go:build !windows

package config

import (
	"os"
	"path/filepath"
)

func configSearchPaths(name string) []string {
	home, _ := os.UserHomeDir()
	return []string{
		name,
		filepath.Join(home, ".nms", name),
		filepath.Join("/etc/nms", name),
	}
}
