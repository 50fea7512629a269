package collector

import (
	"context"

	"github.com/shirou/gopsutil/v3/net"
)

// InterfacePackets reads per-NIC counters and sums packets in both
// directions for the requested interfaces.
func (s *System) InterfacePackets(ctx context.Context, names []string) (map[string]uint64, error) {
	counters, err := net.IOCountersWithContext(ctx, true)
	if err != nil {
		return nil, err
	}

	wanted := make(map[string]struct{}, len(names))
	for _, n := range names {
		wanted[n] = struct{}{}
	}

	out := make(map[string]uint64, len(names))
	for _, c := range counters {
		if _, ok := wanted[c.Name]; ok {
			out[c.Name] = c.PacketsSent + c.PacketsRecv
		}
	}
	return out, nil
}
