// Package watchdog implements the battery shutdown watchdog. Once per tick it
// queries the status service, counts down while external power is absent and
// powers the machine off when the grace period is used up. Any plugged
// reading, including a failed query, restores the full grace period.
//
// A Watchdog is driven by a single goroutine and is not safe for concurrent use.
package watchdog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Engineers-of-Innovation/eoi-can/battery-watchdog/internal/models"
	"github.com/Engineers-of-Innovation/eoi-can/battery-watchdog/internal/probe"
)

// ErrTerminated is returned by Tick once shutdown has been triggered.
var ErrTerminated = errors.New("watchdog terminated")

// Prober answers whether external power is connected.
type Prober interface {
	Query(ctx context.Context) probe.Outcome
}

// BatteryReader reports the battery state of charge in percent.
type BatteryReader interface {
	BatteryLevel(ctx context.Context) (float64, error)
}

// Poweroffer performs the terminal action.
type Poweroffer interface {
	Poweroff(ctx context.Context) error
}

// Config is the immutable countdown configuration.
type Config struct {
	GracePeriod  time.Duration
	TickInterval time.Duration
}

// Watchdog owns the countdown and drives the tick loop.
type Watchdog struct {
	timer    *Timer
	prober   Prober
	battery  BatteryReader
	poweroff Poweroffer
	logger   *zap.Logger

	onStatus func(models.Status)
	sleep    func(ctx context.Context, d time.Duration) error
	now      func() time.Time

	failures   int
	terminated bool
}

// New creates a Watchdog with a full countdown.
func New(cfg Config, prober Prober, poweroff Poweroffer, logger *zap.Logger) (*Watchdog, error) {
	timer, err := NewTimer(cfg.GracePeriod, cfg.TickInterval)
	if err != nil {
		return nil, err
	}
	if prober == nil {
		return nil, fmt.Errorf("watchdog: prober required")
	}
	if poweroff == nil {
		return nil, fmt.Errorf("watchdog: poweroff action required")
	}
	return &Watchdog{
		timer:    timer,
		prober:   prober,
		poweroff: poweroff,
		logger:   logger.Named("watchdog"),
		sleep:    sleepContext,
		now:      time.Now,
	}, nil
}

// WithBattery enables the battery level query. The level only decorates log
// lines and status records.
func (w *Watchdog) WithBattery(r BatteryReader) *Watchdog {
	w.battery = r
	return w
}

// OnStatus sets the callback invoked with every tick's status. On the
// terminal tick it runs before the poweroff action. The callback runs on the
// tick goroutine and must return well within one tick interval.
func (w *Watchdog) OnStatus(fn func(models.Status)) {
	w.onStatus = fn
}

// Remaining returns the time left before shutdown.
func (w *Watchdog) Remaining() time.Duration { return w.timer.Remaining() }

// GracePeriod returns the configured grace period.
func (w *Watchdog) GracePeriod() time.Duration { return w.timer.GracePeriod() }

// Terminated reports whether shutdown has been triggered.
func (w *Watchdog) Terminated() bool { return w.terminated }

// Run ticks until shutdown is triggered or ctx is cancelled. After shutdown it
// returns nil, or the poweroff failure. On cancellation it returns ctx.Err()
// without powering off.
//
// Ticks start one TickInterval apart. Time spent probing and reporting is
// taken out of the following sleep, so the countdown keeps pace with the wall
// clock; a tick that overruns the interval is followed immediately by the next.
func (w *Watchdog) Run(ctx context.Context) error {
	if w.terminated {
		return ErrTerminated
	}

	w.logger.Info("Watchdog started",
		zap.Duration("grace_period", w.timer.GracePeriod()),
		zap.Duration("tick_interval", w.timer.TickInterval()))

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		started := w.now()
		_, err := w.Tick(ctx)
		if w.terminated || err != nil {
			return err
		}

		wait := w.timer.TickInterval() - w.now().Sub(started)
		if wait < 0 {
			wait = 0
		}
		if err := w.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// Tick performs one probe-and-decide step. After the terminal tick every
// call returns ErrTerminated without probing. If ctx is cancelled while the
// status service is being queried, Tick returns ctx.Err() without touching
// the countdown or emitting a status.
func (w *Watchdog) Tick(ctx context.Context) (models.Status, error) {
	if w.terminated {
		return w.status(models.StateShutdown), ErrTerminated
	}

	outcome := w.prober.Query(ctx)

	var battery *float64
	if w.battery != nil {
		if level, err := w.battery.BatteryLevel(ctx); err != nil {
			w.logger.Debug("Battery level unavailable", zap.Error(err))
		} else {
			battery = &level
		}
	}

	// A query cut short by shutdown says nothing about the status service.
	if err := ctx.Err(); err != nil {
		return models.Status{}, err
	}

	var st models.Status
	switch {
	case outcome.Failed():
		w.failures++
		w.timer.Reset()
		st = w.status(models.StateUnknown)
		st.ProbeError = outcome.Err.Error()
		w.logger.Warn("Power status unavailable, assuming external power",
			append(w.fields(battery),
				zap.String("reason", failureReason(outcome.Err)),
				zap.Int("consecutive_failures", w.failures),
				zap.Error(outcome.Err))...)

	case outcome.State == probe.Unplugged:
		w.failures = 0
		w.timer.Decrement()
		if w.timer.Expired() {
			break
		}
		st = w.status(models.StateUnplugged)
		w.logger.Warn("External power disconnected, counting down", w.fields(battery)...)

	default:
		w.failures = 0
		w.timer.Reset()
		st = w.status(models.StatePlugged)
		w.logger.Info("External power connected", w.fields(battery)...)
	}

	if w.timer.Expired() {
		return w.terminate(ctx, battery)
	}

	st.BatteryPercent = battery
	w.emit(st)
	return st, nil
}

// terminate moves to the Terminal state and invokes the poweroff action once.
func (w *Watchdog) terminate(ctx context.Context, battery *float64) (models.Status, error) {
	w.terminated = true

	st := w.status(models.StateShutdown)
	st.BatteryPercent = battery
	w.logger.Error("Grace period exhausted without external power, powering off", w.fields(battery)...)
	w.emit(st)

	// A signal arriving now must not abort the poweroff.
	if err := w.poweroff.Poweroff(context.WithoutCancel(ctx)); err != nil {
		w.logger.Error("Shutdown action failed", zap.Error(err))
		return st, err
	}
	return st, nil
}

func (w *Watchdog) status(state models.PowerState) models.Status {
	return models.Status{
		Time:                w.now().UTC(),
		State:               state,
		RemainingSeconds:    w.timer.Remaining().Seconds(),
		GracePeriodSeconds:  w.timer.GracePeriod().Seconds(),
		ConsecutiveFailures: w.failures,
	}
}

func (w *Watchdog) fields(battery *float64) []zap.Field {
	fields := []zap.Field{
		zap.Duration("remaining", w.timer.Remaining()),
		zap.Float64("remaining_seconds", w.timer.Remaining().Seconds()),
	}
	if battery != nil {
		fields = append(fields, zap.Float64("battery_percent", *battery))
	}
	return fields
}

func (w *Watchdog) emit(st models.Status) {
	if w.onStatus != nil {
		w.onStatus(st)
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, probe.ErrMalformedResponse):
		return "malformed"
	case errors.Is(err, probe.ErrUnavailable):
		return "unavailable"
	default:
		return "unknown"
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
