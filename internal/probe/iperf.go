package probe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"regexp"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/aDN03/CC/internal/models"
)

// Control words of the bandwidth rendezvous.
const (
	syncReady  = "ready"
	syncBeat   = "badum"
	syncDone   = "done"
	syncCancel = "cancel"
)

// ErrPeerLost is returned by the server side when the client stops sending
// heartbeats mid-test.
var ErrPeerLost = errors.New("bandwidth peer lost")

var throughputPattern = regexp.MustCompile(`\d+(?:\.\d+)? [KMG]?bits/sec`)

// Iperf runs throughput tests between two agents. Both sides meet on
// SyncPort: the client asks for "ready", then sends "badum" while iperf
// runs and "done" (or "cancel") when it stops. The server keeps iperf -s up
// for as long as heartbeats arrive.
type Iperf struct {
	Path     string
	SyncPort int
	// HeartRate is the heartbeat period; MissedBeats of silence end a
	// server session.
	HeartRate   time.Duration
	MissedBeats int
	// ReadyTimeout bounds the client's wait for the server.
	ReadyTimeout time.Duration

	Logger *zap.Logger
}

// NewIperf creates a runner with the default timings.
func NewIperf(path string, syncPort int, logger *zap.Logger) *Iperf {
	return &Iperf{
		Path:         path,
		SyncPort:     syncPort,
		HeartRate:    time.Second,
		MissedBeats:  5,
		ReadyTimeout: 30 * time.Second,
		Logger:       logger.Named("iperf"),
	}
}

func (ip *Iperf) transportArgs(cfg models.BandwidthConfig) []string {
	if cfg.Transport == "UDP" {
		return []string{"-u"}
	}
	return nil
}

// RunClient performs one client-side test and returns the report text.
func (ip *Iperf) RunClient(ctx context.Context, cfg models.BandwidthConfig) (string, error) {
	server := net.JoinHostPort(cfg.Server, strconv.Itoa(ip.SyncPort))
	conn, err := net.Dial("udp", server)
	if err != nil {
		return ThroughputFailureText(cfg.Server), fmt.Errorf("%w: dial sync %s: %v", ErrProbeFailure, server, err)
	}
	defer conn.Close()
	own := conn.LocalAddr().(*net.UDPAddr).IP.String()

	if err := ip.awaitReady(ctx, conn); err != nil {
		return ThroughputFailureText(cfg.Server), err
	}

	args := append([]string{"-c", cfg.Server, "-t", strconv.Itoa(cfg.Duration)}, ip.transportArgs(cfg)...)
	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, ip.Path, args...)
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Start(); err != nil {
		conn.Write([]byte(syncCancel))
		return ThroughputFailureText(cfg.Server), fmt.Errorf("%w: start iperf: %v", ErrProbeFailure, err)
	}

	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	ticker := time.NewTicker(ip.HeartRate)
	defer ticker.Stop()
	var runErr error
beat:
	for {
		select {
		case runErr = <-exited:
			break beat
		case <-ticker.C:
			conn.Write([]byte(syncBeat))
		}
	}

	if ctx.Err() != nil {
		conn.Write([]byte(syncCancel))
		return "", ctx.Err()
	}
	conn.Write([]byte(syncDone))

	if runErr != nil {
		return ThroughputFailureText(cfg.Server), fmt.Errorf("%w: iperf: %v", ErrProbeFailure, runErr)
	}
	matches := throughputPattern.FindAll(out.Bytes(), -1)
	if len(matches) == 0 {
		return ThroughputFailureText(cfg.Server), fmt.Errorf("%w: no throughput figure in iperf output", ErrProbeFailure)
	}
	return ThroughputText(own, cfg.Server, string(matches[len(matches)-1])), nil
}

func (ip *Iperf) awaitReady(ctx context.Context, conn net.Conn) error {
	deadline := time.Now().Add(ip.ReadyTimeout)
	buf := make([]byte, 16)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: bandwidth server did not answer", ErrProbeFailure)
		}
		if _, err := conn.Write([]byte(syncReady)); err != nil {
			return fmt.Errorf("%w: sync: %v", ErrProbeFailure, err)
		}
		conn.SetReadDeadline(time.Now().Add(ip.HeartRate))
		n, err := conn.Read(buf)
		if err != nil {
			// A refusal returns at once; pace retries like a timeout would.
			var netErr net.Error
			if !errors.As(err, &netErr) || !netErr.Timeout() {
				select {
				case <-ctx.Done():
				case <-time.After(ip.HeartRate):
				}
			}
			continue
		}
		switch string(buf[:n]) {
		case syncReady:
			return nil
		case syncCancel:
			return fmt.Errorf("%w: bandwidth server cancelled", ErrProbeFailure)
		}
	}
}

// Serve waits for one client, runs iperf -s for the duration of its test
// and returns when the client reports done or cancel. It returns
// ErrPeerLost when the client goes silent.
func (ip *Iperf) Serve(ctx context.Context, cfg models.BandwidthConfig) error {
	pc, err := net.ListenPacket("udp", ":"+strconv.Itoa(ip.SyncPort))
	if err != nil {
		return fmt.Errorf("%w: listen sync port: %v", ErrProbeFailure, err)
	}
	defer pc.Close()

	buf := make([]byte, 16)
	var client net.Addr
	for client == nil {
		if err := ctx.Err(); err != nil {
			return err
		}
		pc.SetReadDeadline(time.Now().Add(ip.HeartRate))
		n, from, err := pc.ReadFrom(buf)
		if err != nil {
			continue
		}
		if string(buf[:n]) == syncReady {
			client = from
		}
	}

	cmd := exec.CommandContext(ctx, ip.Path, append([]string{"-s"}, ip.transportArgs(cfg)...)...)
	if err := cmd.Start(); err != nil {
		pc.WriteTo([]byte(syncCancel), client)
		return fmt.Errorf("%w: start iperf server: %v", ErrProbeFailure, err)
	}
	defer func() {
		cmd.Process.Kill()
		cmd.Wait()
	}()
	pc.WriteTo([]byte(syncReady), client)
	ip.Logger.Debug("Bandwidth test started", zap.Stringer("client", client))

	missed := 0
	for missed < ip.MissedBeats {
		if err := ctx.Err(); err != nil {
			pc.WriteTo([]byte(syncCancel), client)
			return err
		}
		pc.SetReadDeadline(time.Now().Add(ip.HeartRate))
		n, _, err := pc.ReadFrom(buf)
		if err != nil {
			missed++
			continue
		}
		switch string(buf[:n]) {
		case syncDone, syncCancel:
			return nil
		case syncReady:
			// The client missed our first answer.
			pc.WriteTo([]byte(syncReady), client)
		}
		missed = 0
	}
	return ErrPeerLost
}
