// Package sysinfo reads host facts attached to watchdog log lines and
// published status: hostname, platform, boot time and uptime.
// Uses gopsutil for cross-platform host information.
package sysinfo

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/host"
)

// Host describes the machine the watchdog runs on.
type Host struct {
	Hostname        string
	Platform        string
	PlatformVersion string
	KernelVersion   string
	KernelArch      string
	BootTime        time.Time
	Uptime          time.Duration
}

// Collect gathers host information.
func Collect(ctx context.Context) (Host, error) {
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return Host{}, fmt.Errorf("reading host info: %w", err)
	}
	return Host{
		Hostname:        info.Hostname,
		Platform:        info.Platform,
		PlatformVersion: info.PlatformVersion,
		KernelVersion:   info.KernelVersion,
		KernelArch:      info.KernelArch,
		BootTime:        time.Unix(int64(info.BootTime), 0).UTC(),
		Uptime:          time.Duration(info.Uptime) * time.Second,
	}, nil
}

// UptimeSeconds returns seconds since boot.
func UptimeSeconds(ctx context.Context) (uint64, error) {
	uptime, err := host.UptimeWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("reading uptime: %w", err)
	}
	return uptime, nil
}
