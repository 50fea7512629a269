// Package models defines the domain structures shared by the agent and the
// controller: the decoded task assignment, probe parameters, and the records
// the controller files on disk.
package models

import (
	"fmt"
	"strconv"
	"strings"
)

// Task is a monitoring assignment as carried by a task-dispatch frame.
// Thresholds of zero disable the corresponding hardware check. The probe
// configurations travel as text and are parsed by ParsePing/ParseBandwidth;
// an empty string means the metric is not requested.
type Task struct {
	Frequency           uint32
	CPUThreshold        float32
	RAMThreshold        float32
	Interfaces          []string
	InterfacePackets    uint32
	PacketLossThreshold float32
	JitterThreshold     float32

	Latency    string
	Bandwidth  string
	Jitter     string
	PacketLoss string
}

// Validate rejects tasks that cannot be represented on the wire.
func (t Task) Validate() error {
	for _, name := range t.Interfaces {
		if name == "" {
			return fmt.Errorf("empty interface name")
		}
		if strings.ContainsAny(name, ", ") {
			return fmt.Errorf("interface name %q contains a separator", name)
		}
	}
	return nil
}

// ValidateProbes parses every requested probe configuration.
func (t Task) ValidateProbes() error {
	for _, s := range []string{t.Latency, t.Jitter, t.PacketLoss} {
		if s == "" {
			continue
		}
		if _, err := ParsePing(s); err != nil {
			return err
		}
	}
	if t.Bandwidth != "" {
		if _, err := ParseBandwidth(t.Bandwidth); err != nil {
			return err
		}
	}
	return nil
}

// splitTail cuts the last n colon-separated fields off s. The head keeps
// any colons of its own, so it may hold an IPv6 address.
func splitTail(s string, n int) (string, []string, bool) {
	tail := make([]string, n)
	for i := n - 1; i >= 0; i-- {
		idx := strings.LastIndexByte(s, ':')
		if idx < 0 {
			return "", nil, false
		}
		tail[i] = s[idx+1:]
		s = s[:idx]
	}
	return strings.TrimSuffix(strings.TrimPrefix(s, "["), "]"), tail, true
}

// PingConfig parameterizes the ping-based probes (latency, jitter, packet loss).
type PingConfig struct {
	Destination string
	PacketCount int
	Frequency   int // seconds between runs
}

// ParsePing parses "destination:packet_count:frequency". The destination
// may be an IPv6 address, bracketed or not.
func ParsePing(s string) (PingConfig, error) {
	dest, tail, ok := splitTail(s, 2)
	if !ok {
		return PingConfig{}, fmt.Errorf("ping config %q: expected 3 fields", s)
	}
	count, err := strconv.Atoi(tail[0])
	if err != nil || count < 1 {
		return PingConfig{}, fmt.Errorf("ping config %q: invalid packet count", s)
	}
	freq, err := strconv.Atoi(tail[1])
	if err != nil || freq < 1 {
		return PingConfig{}, fmt.Errorf("ping config %q: invalid frequency", s)
	}
	if dest == "" {
		return PingConfig{}, fmt.Errorf("ping config %q: missing destination", s)
	}
	return PingConfig{Destination: dest, PacketCount: count, Frequency: freq}, nil
}

func (c PingConfig) String() string {
	return fmt.Sprintf("%s:%d:%d", c.Destination, c.PacketCount, c.Frequency)
}

// Bandwidth test roles.
const (
	BandwidthClient = "client"
	BandwidthServer = "server"
)

// BandwidthConfig parameterizes an iperf throughput test.
type BandwidthConfig struct {
	Mode      string // "client" or "server"
	Server    string
	Duration  int    // seconds
	Transport string // "TCP" or "UDP"
	Frequency int
}

// ParseBandwidth parses "mode:server_address:duration:transport_type:frequency".
// The server address may be an IPv6 address, bracketed or not.
func ParseBandwidth(s string) (BandwidthConfig, error) {
	mode, rest, found := strings.Cut(s, ":")
	server, tail, ok := splitTail(rest, 3)
	if !found || !ok {
		return BandwidthConfig{}, fmt.Errorf("bandwidth config %q: expected 5 fields", s)
	}
	parts := []string{mode, server, tail[0], tail[1], tail[2]}
	cfg := BandwidthConfig{
		Mode:      strings.ToLower(parts[0]),
		Server:    parts[1],
		Transport: strings.ToUpper(parts[3]),
	}
	if cfg.Mode != BandwidthClient && cfg.Mode != BandwidthServer {
		return BandwidthConfig{}, fmt.Errorf("bandwidth config %q: unknown mode %q", s, parts[0])
	}
	if cfg.Transport != "TCP" && cfg.Transport != "UDP" {
		return BandwidthConfig{}, fmt.Errorf("bandwidth config %q: unknown transport %q", s, parts[3])
	}
	var err error
	if cfg.Duration, err = strconv.Atoi(parts[2]); err != nil || cfg.Duration < 1 {
		return BandwidthConfig{}, fmt.Errorf("bandwidth config %q: invalid duration", s)
	}
	if cfg.Frequency, err = strconv.Atoi(parts[4]); err != nil || cfg.Frequency < 1 {
		return BandwidthConfig{}, fmt.Errorf("bandwidth config %q: invalid frequency", s)
	}
	if cfg.Mode == BandwidthClient && cfg.Server == "" {
		return BandwidthConfig{}, fmt.Errorf("bandwidth config %q: client mode needs a server address", s)
	}
	return cfg, nil
}

func (c BandwidthConfig) String() string {
	return fmt.Sprintf("%s:%s:%d:%s:%d", c.Mode, c.Server, c.Duration, c.Transport, c.Frequency)
}
