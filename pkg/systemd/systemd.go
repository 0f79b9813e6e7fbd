// Package systemd speaks the sd_notify protocol for Type=notify units.
//
// Outside systemd (no NOTIFY_SOCKET) every call is a no-op.
package systemd

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "relaybot/pkg/logx"
)

// Notifier reports service state to systemd.
type Notifier struct {
	enabled bool
	log     logx.Logger
	notify  func(state string) (bool, error)
}

func NewNotifier(enabled bool, log logx.Logger) *Notifier {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Notifier{
		enabled: enabled,
		log:     log,
		notify: func(state string) (bool, error) {
			return daemon.SdNotify(false, state)
		},
	}
}

func (n *Notifier) send(state string) {
	if n == nil || !n.enabled {
		return
	}
	sent, err := n.notify(state)
	switch {
	case err != nil:
		n.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
	case !sent:
		n.log.Trace("sd_notify skipped (no NOTIFY_SOCKET)", logx.String("state", state))
	}
}

// Ready tells systemd startup is complete.
func (n *Notifier) Ready() { n.send(daemon.SdNotifyReady) }

// Stopping tells systemd shutdown has begun.
func (n *Notifier) Stopping() { n.send(daemon.SdNotifyStopping) }

// Status sets the free-form status line shown by systemctl status.
func (n *Notifier) Status(s string) { n.send("STATUS=" + s) }

// WatchdogInterval returns how often Watchdog pings are due, or 0 when the
// unit has no WatchdogSec.
func (n *Notifier) WatchdogInterval() time.Duration {
	if n == nil || !n.enabled {
		return 0
	}
	d, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		n.log.Warn("watchdog detection failed", logx.Err(err))
		return 0
	}
	return d
}

// RunWatchdog pings at half the interval while alive reports true, until ctx
// is done. A false alive skips the ping so systemd restarts the unit.
func (n *Notifier) RunWatchdog(ctx context.Context, interval time.Duration, alive func() bool) {
	if n == nil || !n.enabled || interval <= 0 {
		return
	}
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if alive == nil || alive() {
				n.send(daemon.SdNotifyWatchdog)
			} else {
				n.log.Warn("watchdog ping withheld: relay not healthy")
			}
		}
	}
}
