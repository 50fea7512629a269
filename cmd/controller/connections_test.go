package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrintConnections(t *testing.T) {
	color.NoColor = true
	path := filepath.Join(t.TempDir(), "connections.txt")
	require.NoError(t, os.WriteFile(path, []byte("10.0.0.2|40000|2024-11-03 09:04:05\n"), 0o644))

	var buf bytes.Buffer
	require.NoError(t, printConnections(&buf, path))
	out := buf.String()
	assert.Contains(t, out, "1 connection(s)")
	assert.Contains(t, out, "10.0.0.2")
	assert.Contains(t, out, "40000")
	assert.Contains(t, out, "2024-11-03 09:04:05")
}

func TestPrintConnections_Empty(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	require.NoError(t, printConnections(&buf, filepath.Join(t.TempDir(), "connections.txt")))
	assert.Contains(t, buf.String(), "No connections recorded.")
}
