package collector

import (
	"context"

	"github.com/shirou/gopsutil/v3/mem"
)

// RAMPercent returns the share of physical memory in use.
func (s *System) RAMPercent(ctx context.Context) (float64, error) {
	v, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return v.UsedPercent, nil
}
