// Package collector samples the host counters the hardware alert worker
// compares against its thresholds.
package collector

import "context"

// Sampler reads host utilization. Implementations must honour ctx so a
// stopping worker is not held up by a slow sample.
type Sampler interface {
	// CPUPercent returns overall CPU utilization in percent.
	CPUPercent(ctx context.Context) (float64, error)

	// RAMPercent returns used physical memory in percent.
	RAMPercent(ctx context.Context) (float64, error)

	// InterfacePackets returns sent+received packets for each named
	// interface. Interfaces that do not exist are absent from the map.
	InterfacePackets(ctx context.Context, names []string) (map[string]uint64, error)
}

// System samples the local host through gopsutil.
type System struct{}

// NewSystem creates a sampler for the local host.
func NewSystem() *System {
	return &System{}
}

var _ Sampler = (*System)(nil)
