//go:build windows

package config

import (
	"os"
	"path/filepath"
)

func configSearchPaths(name string) []string {
	local := os.Getenv("LOCALAPPDATA")
	programData := os.Getenv("ProgramData")
	return []string{
		name,
		filepath.Join(local, "NMS", name),
		filepath.Join(programData, "NMS", name),
	}
}
