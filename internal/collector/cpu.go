package collector

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
)

// cpuWindow is how long a CPU sample measures for.
const cpuWindow = time.Second

// CPUPercent blocks for cpuWindow to measure overall utilization.
func (s *System) CPUPercent(ctx context.Context) (float64, error) {
	overall, err := cpu.PercentWithContext(ctx, cpuWindow, false)
	if err != nil {
		return 0, err
	}
	if len(overall) == 0 {
		return 0, nil
	}
	return overall[0], nil
}
