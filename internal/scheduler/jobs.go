package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/aDN03/CC/internal/collector"
	"github.com/aDN03/CC/internal/models"
	"github.com/aDN03/CC/internal/probe"
)

// Reporter hands a finished report text to the session for delivery. It
// must not block on the network.
type Reporter func(text string)

// Alerter pushes an alert over the alert channel.
type Alerter interface {
	Push(ctx context.Context, text string) error
}

// Drivers are the measurement backends a task's jobs use.
type Drivers struct {
	Pinger   probe.Pinger
	Iperf    *probe.Iperf
	Hardware collector.Sampler
	Alerts   Alerter
	// ControllerHost is pinged by the hardware job for jitter and loss.
	ControllerHost string
}

// alertEvery is how many hardware iterations pass between summary pushes.
const alertEvery = 10

// pingReport is the shape shared by the ping-based report builders.
type pingReport func(context.Context, probe.Pinger, models.PingConfig) (string, error)

// TaskJobs builds the jobs of one task: one per requested link metric and
// the hardware alert job. Metrics with an invalid configuration are logged
// and skipped.
func TaskJobs(task models.Task, d Drivers, report Reporter, logger *zap.Logger) []Job {
	var jobs []Job

	pings := []struct {
		name  string
		cfg   string
		build pingReport
	}{
		{"latency", task.Latency, probe.LatencyReport},
		{"jitter", task.Jitter, probe.JitterReport},
		{"packet_loss", task.PacketLoss, probe.PacketLossReport},
	}
	for _, p := range pings {
		if p.cfg == "" || d.Pinger == nil {
			continue
		}
		cfg, err := models.ParsePing(p.cfg)
		if err != nil {
			logger.Warn("Skipping metric", zap.String("metric", p.name), zap.Error(err))
			continue
		}
		jobs = append(jobs, pingJob(p.name, cfg, p.build, d.Pinger, report, logger))
	}

	if task.Bandwidth != "" && d.Iperf != nil {
		cfg, err := models.ParseBandwidth(task.Bandwidth)
		if err != nil {
			logger.Warn("Skipping metric", zap.String("metric", "bandwidth"), zap.Error(err))
		} else {
			jobs = append(jobs, bandwidthJob(cfg, d.Iperf, report, logger))
		}
	}

	if d.Hardware != nil && d.Alerts != nil {
		jobs = append(jobs, AlertJob(task, d, logger))
	}
	return jobs
}

func pingJob(name string, cfg models.PingConfig, build pingReport, pinger probe.Pinger, report Reporter, logger *zap.Logger) Job {
	return Job{
		Name:  name,
		Every: seconds(cfg.Frequency),
		Run: func(ctx context.Context) {
			text, err := build(ctx, pinger, cfg)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				logger.Warn("Probe failed",
					zap.String("metric", name),
					zap.String("destination", cfg.Destination),
					zap.Error(err))
			}
			report(text)
		},
	}
}

func bandwidthJob(cfg models.BandwidthConfig, ip *probe.Iperf, report Reporter, logger *zap.Logger) Job {
	return Job{
		Name:  "bandwidth",
		Every: seconds(cfg.Frequency),
		Run: func(ctx context.Context) {
			if cfg.Mode == models.BandwidthServer {
				err := ip.Serve(ctx, cfg)
				switch {
				case errors.Is(err, probe.ErrPeerLost):
					report(probe.PeerLostText())
				case err != nil && ctx.Err() == nil:
					logger.Warn("Bandwidth server failed", zap.Error(err))
				}
				return
			}

			text, err := ip.RunClient(ctx, cfg)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				logger.Warn("Probe failed",
					zap.String("metric", "bandwidth"),
					zap.String("server", cfg.Server),
					zap.Error(err))
			}
			report(text)
		},
	}
}

// AlertJob samples host counters every task.Frequency seconds and pushes an
// alert for every threshold exceeded. Zero thresholds are not checked.
// Every alertEvery iterations the collected summary is pushed as well.
func AlertJob(task models.Task, d Drivers, logger *zap.Logger) Job {
	iteration := 0
	push := func(ctx context.Context, text string) {
		if err := d.Alerts.Push(ctx, text); err != nil && ctx.Err() == nil {
			logger.Warn("Alert push failed", zap.Error(err))
		}
	}

	return Job{
		Name:  "alerts",
		Every: seconds(int(task.Frequency)),
		Run: func(ctx context.Context) {
			iteration++
			var summary strings.Builder

			if task.CPUThreshold != 0 {
				if pct, err := d.Hardware.CPUPercent(ctx); err != nil {
					logger.Warn("CPU sample failed", zap.Error(err))
				} else {
					fmt.Fprintf(&summary, "CPU usage: %.1f%%\n", pct)
					if pct > float64(task.CPUThreshold) {
						push(ctx, fmt.Sprintf("ALERT!!!: CPU usage: %.1f%%", pct))
					}
				}
			}

			if task.RAMThreshold != 0 {
				if pct, err := d.Hardware.RAMPercent(ctx); err != nil {
					logger.Warn("RAM sample failed", zap.Error(err))
				} else {
					fmt.Fprintf(&summary, "RAM usage: %.1f%%\n", pct)
					if pct > float64(task.RAMThreshold) {
						push(ctx, fmt.Sprintf("ALERT!!!: RAM usage: %.1f%%", pct))
					}
				}
			}

			if d.Pinger != nil && d.ControllerHost != "" {
				checkLink(ctx, task, d, &summary, push)
			}

			if task.InterfacePackets != 0 && len(task.Interfaces) > 0 {
				counts, err := d.Hardware.InterfacePackets(ctx, task.Interfaces)
				if err != nil {
					logger.Warn("Interface sample failed", zap.Error(err))
				} else {
					checkInterfaces(ctx, task, counts, &summary, push)
				}
			}

			if ctx.Err() != nil {
				return
			}
			if iteration%alertEvery == 0 && summary.Len() > 0 {
				push(ctx, strings.TrimSuffix(summary.String(), "\n"))
			}
		},
	}
}

func checkLink(ctx context.Context, task models.Task, d Drivers, summary *strings.Builder, push func(context.Context, string)) {
	count := int(task.Frequency)
	if count < 2 {
		count = 2
	}
	if count > 10 {
		count = 10
	}

	res, err := d.Pinger.Ping(ctx, d.ControllerHost, count)
	if err != nil {
		if ctx.Err() == nil {
			push(ctx, fmt.Sprintf("ERROR: Unable to ping %s: %v", d.ControllerHost, err))
		}
		return
	}

	if j, ok := res.Jitter(); ok {
		jitterMs := float64(j.Microseconds()) / 1000
		fmt.Fprintf(summary, "Jitter: %.2fms\n", jitterMs)
		if task.JitterThreshold != 0 && jitterMs > float64(task.JitterThreshold) {
			push(ctx, fmt.Sprintf("ALERT!!!: Jitter is %.2fms", jitterMs))
		}
	}
	fmt.Fprintf(summary, "Packet loss: %.0f%%\n", res.Loss)
	if task.PacketLossThreshold != 0 && res.Loss > float64(task.PacketLossThreshold) {
		push(ctx, fmt.Sprintf("ALERT!!!: Packet loss is %.0f%%", res.Loss))
	}
}

func checkInterfaces(ctx context.Context, task models.Task, counts map[string]uint64, summary *strings.Builder, push func(context.Context, string)) {
	for _, name := range task.Interfaces {
		packets, ok := counts[name]
		if !ok {
			fmt.Fprintf(summary, "Interface '%s' not found.\n", name)
			continue
		}
		fmt.Fprintf(summary, "Packets on %s: %d\n", name, packets)
		if packets > uint64(task.InterfacePackets) {
			push(ctx, fmt.Sprintf("ALERT!!!: Packets in interface '%s': %d", name, packets))
		}
	}
}
