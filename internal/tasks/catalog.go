// Package tasks loads the controller's task specification file and answers
// which tasks belong to a given agent.
package tasks

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/aDN03/CC/internal/models"
)

// File is the on-disk task specification. JSON files parse as YAML.
type File struct {
	Tasks []TaskSpec `yaml:"tasks"`
}

// TaskSpec is one monitoring task applied to a set of devices.
type TaskSpec struct {
	TaskID    string       `yaml:"task_id"`
	Frequency uint32       `yaml:"frequency"`
	Devices   []DeviceSpec `yaml:"devices"`
}

// DeviceSpec configures a task for one device, identified by its IP.
type DeviceSpec struct {
	DeviceID      string        `yaml:"device_id"`
	DeviceMetrics DeviceMetrics `yaml:"device_metrics"`
	LinkMetrics   LinkMetrics   `yaml:"link_metrics"`
}

// DeviceMetrics selects host metrics.
type DeviceMetrics struct {
	CPUUsage       bool     `yaml:"cpu_usage"`
	RAMUsage       bool     `yaml:"ram_usage"`
	InterfaceStats []string `yaml:"interface_stats"`
}

// LinkMetrics holds the probe configuration of every link metric.
type LinkMetrics struct {
	Bandwidth  IperfProbe      `yaml:"bandwidth"`
	Jitter     PingProbe       `yaml:"jitter"`
	PacketLoss PingProbe       `yaml:"packet_loss"`
	Latency    PingProbe       `yaml:"latency"`
	Conditions AlertConditions `yaml:"alertflow_conditions"`
}

// PingProbe wraps a ping configuration.
type PingProbe struct {
	Ping PingSpec `yaml:"ping"`
}

// IperfProbe wraps an iperf configuration.
type IperfProbe struct {
	Iperf IperfSpec `yaml:"iperf"`
}

// PingSpec configures an echo probe.
type PingSpec struct {
	Destination string `yaml:"destination"`
	PacketCount int    `yaml:"packet_count"`
	Frequency   int    `yaml:"frequency"`
}

// IperfSpec configures a bandwidth probe.
type IperfSpec struct {
	Mode          string `yaml:"mode"`
	ServerAddress string `yaml:"server_address"`
	Duration      int    `yaml:"duration"`
	TransportType string `yaml:"transport_type"`
	Frequency     int    `yaml:"frequency"`
}

// AlertConditions are the thresholds that raise alerts.
type AlertConditions struct {
	CPUUsage       float32 `yaml:"cpu_usage"`
	RAMUsage       float32 `yaml:"ram_usage"`
	InterfaceStats uint32  `yaml:"interface_stats"`
	PacketLoss     float32 `yaml:"packet_loss"`
	Jitter         float32 `yaml:"jitter"`
}

// Assignment is a task ready to be dispatched to one device.
type Assignment struct {
	TaskID string
	Task   models.Task
}

// Catalog indexes assignments by device. It is immutable after Load.
type Catalog struct {
	byDevice map[string][]Assignment
	tasks    int
}

// Load reads and indexes a task specification file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read task file: %w", err)
	}
	return Parse(data)
}

// Parse indexes a task specification document.
func Parse(data []byte) (*Catalog, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse task file: %w", err)
	}

	c := &Catalog{byDevice: make(map[string][]Assignment), tasks: len(f.Tasks)}
	for _, spec := range f.Tasks {
		if spec.TaskID == "" {
			return nil, fmt.Errorf("parse task file: task without task_id")
		}
		for _, dev := range spec.Devices {
			if dev.DeviceID == "" {
				return nil, fmt.Errorf("task %s: device without device_id", spec.TaskID)
			}
			task := dev.toTask(spec.Frequency)
			if err := task.Validate(); err != nil {
				return nil, fmt.Errorf("task %s, device %s: %w", spec.TaskID, dev.DeviceID, err)
			}
			if err := task.ValidateProbes(); err != nil {
				return nil, fmt.Errorf("task %s, device %s: %w", spec.TaskID, dev.DeviceID, err)
			}
			c.byDevice[dev.DeviceID] = append(c.byDevice[dev.DeviceID], Assignment{TaskID: spec.TaskID, Task: task})
		}
	}
	return c, nil
}

// ForPeer returns the assignments of a device in file order.
func (c *Catalog) ForPeer(ip string) []Assignment {
	return c.byDevice[ip]
}

// Devices returns the number of distinct devices with assignments.
func (c *Catalog) Devices() int {
	return len(c.byDevice)
}

// Tasks returns the number of tasks in the file.
func (c *Catalog) Tasks() int {
	return c.tasks
}

func (d DeviceSpec) toTask(frequency uint32) models.Task {
	cond := d.LinkMetrics.Conditions
	t := models.Task{
		Frequency:           frequency,
		Interfaces:          d.DeviceMetrics.InterfaceStats,
		InterfacePackets:    cond.InterfaceStats,
		PacketLossThreshold: cond.PacketLoss,
		JitterThreshold:     cond.Jitter,
		Latency:             pingString(d.LinkMetrics.Latency.Ping),
		Bandwidth:           iperfString(d.LinkMetrics.Bandwidth.Iperf),
		Jitter:              pingString(d.LinkMetrics.Jitter.Ping),
		PacketLoss:          pingString(d.LinkMetrics.PacketLoss.Ping),
	}
	if d.DeviceMetrics.CPUUsage {
		t.CPUThreshold = cond.CPUUsage
	}
	if d.DeviceMetrics.RAMUsage {
		t.RAMThreshold = cond.RAMUsage
	}
	return t
}

func pingString(p PingSpec) string {
	if p.Destination == "" {
		return ""
	}
	return models.PingConfig{Destination: p.Destination, PacketCount: p.PacketCount, Frequency: p.Frequency}.String()
}

func iperfString(p IperfSpec) string {
	if p.Mode == "" {
		return ""
	}
	return models.BandwidthConfig{
		Mode:      p.Mode,
		Server:    p.ServerAddress,
		Duration:  p.Duration,
		Transport: p.TransportType,
		Frequency: p.Frequency,
	}.String()
}
