package watchdog

import (
	"fmt"
	"time"
)

// Timer is the grace-period countdown. Remaining stays within
// [0, GracePeriod]; it only drops by one tick or resets to GracePeriod.
type Timer struct {
	grace     time.Duration
	tick      time.Duration
	remaining time.Duration
}

// NewTimer creates a full timer.
func NewTimer(grace, tick time.Duration) (*Timer, error) {
	if tick <= 0 {
		return nil, fmt.Errorf("tick interval must be positive (got %s)", tick)
	}
	if grace < tick {
		return nil, fmt.Errorf("grace period %s is shorter than tick interval %s", grace, tick)
	}
	return &Timer{grace: grace, tick: tick, remaining: grace}, nil
}

// Remaining returns the time left before shutdown.
func (t *Timer) Remaining() time.Duration { return t.remaining }

// GracePeriod returns the configured grace period.
func (t *Timer) GracePeriod() time.Duration { return t.grace }

// TickInterval returns the countdown step.
func (t *Timer) TickInterval() time.Duration { return t.tick }

// Full reports whether no countdown is in progress.
func (t *Timer) Full() bool { return t.remaining == t.grace }

// Expired reports whether the countdown reached zero.
func (t *Timer) Expired() bool { return t.remaining <= 0 }

// Decrement removes one tick, never going below zero.
func (t *Timer) Decrement() time.Duration {
	t.remaining -= t.tick
	if t.remaining < 0 {
		t.remaining = 0
	}
	return t.remaining
}

// Reset restores the full grace period.
func (t *Timer) Reset() {
	t.remaining = t.grace
}
