// Package sdnotify sends readiness, keep-alive and status messages to systemd
// over the NOTIFY_SOCKET datagram socket. Without NOTIFY_SOCKET every call is
// a no-op.
package sdnotify

import (
	"os"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// Notifier writes sd_notify messages.
type Notifier struct {
	enabled  bool
	interval time.Duration
}

// New returns a Notifier bound to $NOTIFY_SOCKET, or a no-op Notifier when
// disabled or not running under systemd. Keep-alives are only sent when the
// unit sets WatchdogSec.
func New(enabled bool) *Notifier {
	if !enabled || os.Getenv("NOTIFY_SOCKET") == "" {
		return &Notifier{}
	}
	n := &Notifier{enabled: true}
	if interval, err := daemon.SdWatchdogEnabled(false); err == nil {
		n.interval = interval
	}
	return n
}

// Enabled reports whether messages are actually sent.
func (n *Notifier) Enabled() bool { return n.enabled }

// WatchdogInterval returns the systemd watchdog timeout, or zero when the
// unit has no watchdog configured.
func (n *Notifier) WatchdogInterval() time.Duration { return n.interval }

// Ready sends READY=1.
func (n *Notifier) Ready() error { return n.notify(daemon.SdNotifyReady) }

// Watchdog sends WATCHDOG=1, resetting the systemd watchdog timer.
func (n *Notifier) Watchdog() error {
	if n.interval <= 0 {
		return nil
	}
	return n.notify(daemon.SdNotifyWatchdog)
}

// Stopping sends STOPPING=1.
func (n *Notifier) Stopping() error { return n.notify(daemon.SdNotifyStopping) }

// Status sends STATUS=<msg>, shown by systemctl status.
func (n *Notifier) Status(msg string) error { return n.notify("STATUS=" + msg) }

func (n *Notifier) notify(state string) error {
	if !n.enabled {
		return nil
	}
	_, err := daemon.SdNotify(false, state)
	return err
}
