package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Engineers-of-Innovation/eoi-can/battery-watchdog/internal/models"
	"github.com/Engineers-of-Innovation/eoi-can/battery-watchdog/internal/publisher"
)

// statusReporter receives every tick's status.
type statusReporter interface {
	Report(ctx context.Context, st models.Status) error
}

// systemdNotifier is the subset of sdnotify.Notifier used per tick.
type systemdNotifier interface {
	Watchdog() error
	Status(msg string) error
	Stopping() error
}

// newStatusHandler returns the watchdog status callback. It forwards the
// status to the reporter (if any) and keeps systemd informed. Failures are
// logged and never interrupt the watchdog.
func newStatusHandler(ctx context.Context, reporter statusReporter, notifier systemdNotifier, logger *zap.Logger) func(models.Status) {
	return func(st models.Status) {
		if reporter != nil {
			if err := reporter.Report(ctx, st); err != nil {
				if errors.Is(err, publisher.ErrNotConnected) {
					logger.Debug("Status not published, broker offline")
				} else {
					logger.Warn("Failed to publish status", zap.Error(err))
				}
			}
		}

		if err := notifier.Watchdog(); err != nil {
			logger.Debug("Failed to notify systemd", zap.Error(err))
		}
		if err := notifier.Status(describe(st)); err != nil {
			logger.Debug("Failed to notify systemd", zap.Error(err))
		}
		if st.State == models.StateShutdown {
			if err := notifier.Stopping(); err != nil {
				logger.Debug("Failed to notify systemd", zap.Error(err))
			}
		}
	}
}

// describe renders a one-line summary for systemctl status.
func describe(st models.Status) string {
	var line string
	switch st.State {
	case models.StatePlugged:
		line = "External power connected"
	case models.StateUnplugged:
		line = fmt.Sprintf("On battery, powering off in %s", secondsDuration(st.RemainingSeconds))
	case models.StateUnknown:
		line = "Power status unavailable, assuming external power"
	case models.StateShutdown:
		line = "Grace period exhausted, powering off"
	default:
		line = string(st.State)
	}
	if st.BatteryPercent != nil {
		line += fmt.Sprintf(" (battery %.0f%%)", *st.BatteryPercent)
	}
	return line
}

func secondsDuration(secs float64) time.Duration {
	return time.Duration(secs * float64(time.Second)).Round(time.Second)
}
