// Package probe runs the link measurements an agent reports on: ICMP echo
// for latency, jitter and packet loss, and iperf for throughput.
package probe

import (
	"context"
	"errors"
	"fmt"
	"time"

	probing "github.com/prometheus-community/pro-bing"
)

// ErrProbeFailure means a measurement could not be taken. Workers turn it
// into a failure report instead of stopping.
var ErrProbeFailure = errors.New("probe failure")

// PingResult summarizes one burst of echo requests.
type PingResult struct {
	Sent     int
	Received int
	// Loss is the percentage of requests without a reply.
	Loss float64
	RTTs []time.Duration
}

// AvgRTT returns the mean round-trip time, or false without replies.
func (r PingResult) AvgRTT() (time.Duration, bool) {
	if len(r.RTTs) == 0 {
		return 0, false
	}
	var sum time.Duration
	for _, rtt := range r.RTTs {
		sum += rtt
	}
	return sum / time.Duration(len(r.RTTs)), true
}

// Jitter returns the mean absolute difference between consecutive RTTs. It
// needs at least two replies.
func (r PingResult) Jitter() (time.Duration, bool) {
	if len(r.RTTs) < 2 {
		return 0, false
	}
	var sum time.Duration
	for i := 1; i < len(r.RTTs); i++ {
		d := r.RTTs[i] - r.RTTs[i-1]
		if d < 0 {
			d = -d
		}
		sum += d
	}
	return sum / time.Duration(len(r.RTTs)-1), true
}

// Pinger sends count echo requests to dst.
type Pinger interface {
	Ping(ctx context.Context, dst string, count int) (PingResult, error)
}

// ICMPPinger pings with pro-bing. Unprivileged mode uses UDP echo sockets,
// which on Linux needs net.ipv4.ping_group_range to include the user.
type ICMPPinger struct {
	Privileged bool
	Interval   time.Duration
	// Timeout bounds one burst. Zero derives it from count and Interval.
	Timeout time.Duration
}

// Ping implements Pinger.
func (p *ICMPPinger) Ping(ctx context.Context, dst string, count int) (PingResult, error) {
	pinger, err := probing.NewPinger(dst)
	if err != nil {
		return PingResult{}, fmt.Errorf("%w: resolve %s: %v", ErrProbeFailure, dst, err)
	}

	interval := p.Interval
	if interval <= 0 {
		interval = time.Second
	}
	pinger.Count = count
	pinger.Interval = interval
	pinger.Timeout = p.Timeout
	if pinger.Timeout <= 0 {
		pinger.Timeout = time.Duration(count)*interval + 2*time.Second
	}
	pinger.SetPrivileged(p.Privileged)

	if err := pinger.RunWithContext(ctx); err != nil {
		return PingResult{}, fmt.Errorf("%w: ping %s: %v", ErrProbeFailure, dst, err)
	}
	if err := ctx.Err(); err != nil {
		return PingResult{}, err
	}

	stats := pinger.Statistics()
	return PingResult{
		Sent:     stats.PacketsSent,
		Received: stats.PacketsRecv,
		Loss:     stats.PacketLoss,
		RTTs:     stats.Rtts,
	}, nil
}
