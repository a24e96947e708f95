// Package models defines the status record produced by the watchdog on every tick.
// The record is logged and serialized to JSON for publishing.
package models

import "time"

// PowerState is the external power reading carried in a Status.
type PowerState string

const (
	StatePlugged   PowerState = "plugged"
	StateUnplugged PowerState = "unplugged"
	// StateUnknown marks a tick whose probe failed and was treated as plugged.
	StateUnknown  PowerState = "unknown"
	StateShutdown PowerState = "shutdown"
)

// Status represents the outcome of a single watchdog tick.
type Status struct {
	Time                time.Time  `json:"time"`
	State               PowerState `json:"state"`
	RemainingSeconds    float64    `json:"remaining_seconds"`
	GracePeriodSeconds  float64    `json:"grace_period_seconds"`
	BatteryPercent      *float64   `json:"battery_percent,omitempty"`
	ProbeError          string     `json:"probe_error,omitempty"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	Hostname            string     `json:"hostname,omitempty"`
	UptimeSeconds       uint64     `json:"uptime_seconds,omitempty"`
}
