package sysinfo

import (
	"context"
	"testing"
	"time"
)

func TestCollect(t *testing.T) {
	h, err := Collect(context.Background())
	if err != nil {
		t.Skipf("host info unavailable: %v", err)
	}
	if h.Hostname == "" {
		t.Error("Hostname should not be empty")
	}
	if h.BootTime.After(time.Now()) {
		t.Errorf("BootTime %v is in the future", h.BootTime)
	}
}

func TestUptimeSeconds(t *testing.T) {
	up, err := UptimeSeconds(context.Background())
	if err != nil {
		t.Skipf("uptime unavailable: %v", err)
	}
	if up == 0 {
		t.Error("uptime should be positive")
	}
}
