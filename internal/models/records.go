package models

import "time"

// Report is a metric report filed under the task that requested it.
type Report struct {
	TaskID   string
	Peer     string
	Text     string
	Received time.Time
}

// Alert is free-form text pushed by an agent over the alert channel.
type Alert struct {
	Peer     string
	Text     string
	Received time.Time
}

// Connection is the persisted liveness record of an agent.
type Connection struct {
	IP         string
	Port       int
	LastActive time.Time
}
