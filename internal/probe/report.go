package probe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aDN03/CC/internal/models"
)

// Report texts as filed by the controller.
const (
	latencyFormat    = "Latência média para %s: %.2f ms"
	packetLossFormat = "Perda de pacotes para %s: %.0f%%"
	jitterFormat     = "Jitter para %s: %.2f ms"
	throughputFormat = "Throughput de %s para %s: %s"

	latencyFailure    = "Falha ao obter latência para %s"
	packetLossFailure = "Falha ao obter perda de pacotes para %s"
	jitterFailure     = "Falha ao calcular jitter para %s (dados insuficientes)."
	throughputFailure = "Falha ao obter throughput para %s"
	peerLostText      = "Conexão perdida com o outro agente"
)

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// LatencyReport measures and renders average latency. On failure the text
// is the failure message and the error wraps ErrProbeFailure.
func LatencyReport(ctx context.Context, p Pinger, cfg models.PingConfig) (string, error) {
	res, err := p.Ping(ctx, cfg.Destination, cfg.PacketCount)
	if err == nil {
		if avg, ok := res.AvgRTT(); ok {
			return fmt.Sprintf(latencyFormat, cfg.Destination, millis(avg)), nil
		}
		err = fmt.Errorf("%w: no replies from %s", ErrProbeFailure, cfg.Destination)
	}
	return fmt.Sprintf(latencyFailure, cfg.Destination), err
}

// JitterReport measures and renders jitter.
func JitterReport(ctx context.Context, p Pinger, cfg models.PingConfig) (string, error) {
	res, err := p.Ping(ctx, cfg.Destination, cfg.PacketCount)
	if err == nil {
		if j, ok := res.Jitter(); ok {
			return fmt.Sprintf(jitterFormat, cfg.Destination, millis(j)), nil
		}
		err = fmt.Errorf("%w: %d replies from %s, need 2", ErrProbeFailure, len(res.RTTs), cfg.Destination)
	}
	return fmt.Sprintf(jitterFailure, cfg.Destination), err
}

// PacketLossReport measures and renders packet loss.
func PacketLossReport(ctx context.Context, p Pinger, cfg models.PingConfig) (string, error) {
	res, err := p.Ping(ctx, cfg.Destination, cfg.PacketCount)
	if err == nil {
		if res.Sent > 0 {
			return fmt.Sprintf(packetLossFormat, cfg.Destination, res.Loss), nil
		}
		err = fmt.Errorf("%w: no requests sent to %s", ErrProbeFailure, cfg.Destination)
	}
	return fmt.Sprintf(packetLossFailure, cfg.Destination), err
}

// ThroughputText renders an iperf result.
func ThroughputText(own, server, value string) string {
	return fmt.Sprintf(throughputFormat, own, server, value)
}

// ThroughputFailureText renders a failed iperf run.
func ThroughputFailureText(server string) string {
	return fmt.Sprintf(throughputFailure, server)
}

// PeerLostText is reported by the server side of a bandwidth test whose
// client stopped sending heartbeats.
func PeerLostText() string {
	return peerLostText
}

// IsFailure reports whether err is a measurement failure rather than a
// cancellation.
func IsFailure(err error) bool {
	return errors.Is(err, ErrProbeFailure)
}
