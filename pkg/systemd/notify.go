// Package systemd speaks the sd_notify protocol so the bot can run as a
// Type=notify unit with WatchdogSec. Outside systemd every call is a no-op.
package systemd

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "remindme/pkg/logx"
)

// Notifier sends state updates to the service manager.
type Notifier struct {
	log  logx.Logger
	send func(state string) (bool, error)
	// watchdog reports the keepalive interval; 0 means disabled.
	watchdog func() (time.Duration, error)
}

func New(log logx.Logger) *Notifier {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Notifier{
		log:      log,
		send:     func(state string) (bool, error) { return daemon.SdNotify(false, state) },
		watchdog: func() (time.Duration, error) { return daemon.SdWatchdogEnabled(false) },
	}
}

func (n *Notifier) notify(state string) bool {
	ok, err := n.send(state)
	if err != nil {
		n.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return false
	}
	return ok
}

// Ready reports READY=1 with a status line.
func (n *Notifier) Ready(status string) bool {
	return n.notify(daemon.SdNotifyReady + "\nSTATUS=" + status)
}

func (n *Notifier) Stopping() bool {
	return n.notify(daemon.SdNotifyStopping)
}

func (n *Notifier) Status(status string) bool {
	return n.notify("STATUS=" + status)
}

// Watchdog sends WATCHDOG=1 at half the configured interval until ctx is
// done. healthy gates each keepalive; a nil healthy always pings. It
// returns at once when the unit has no watchdog.
func (n *Notifier) Watchdog(ctx context.Context, healthy func() bool) {
	interval, err := n.watchdog()
	if err != nil {
		n.log.Warn("watchdog config invalid", logx.Err(err))
		return
	}
	if interval <= 0 {
		return
	}
	tick := interval / 2
	n.log.Debug("watchdog keepalive started", logx.Duration("interval", tick))
	t := time.NewTicker(tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if healthy != nil && !healthy() {
				n.log.Warn("skipping watchdog keepalive: unhealthy")
				continue
			}
			n.notify(daemon.SdNotifyWatchdog)
		}
	}
}
