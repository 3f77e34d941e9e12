package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"hwbot/internal/poller"
	logx "hwbot/pkg/logx"
)

// sdNotifier talks to systemd over $NOTIFY_SOCKET. Without the socket every
// call is a no-op.
type sdNotifier struct {
	enabled bool
	log     logx.Logger
	notify  func(state string) (bool, error)
}

func newSDNotifier(enabled bool, log logx.Logger) *sdNotifier {
	return &sdNotifier{
		enabled: enabled,
		log:     log,
		notify: func(state string) (bool, error) {
			return daemon.SdNotify(false, state)
		},
	}
}

func (n *sdNotifier) send(state string) {
	if n == nil || !n.enabled {
		return
	}
	sent, err := n.notify(state)
	switch {
	case err != nil:
		n.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
	case sent:
		n.log.Debug("sd_notify", logx.String("state", state))
	}
}

func (n *sdNotifier) Ready()    { n.send(daemon.SdNotifyReady) }
func (n *sdNotifier) Stopping() { n.send(daemon.SdNotifyStopping) }

// watchdog pings systemd at half the configured WatchdogSec as long as the
// engine keeps ticking. A stalled engine stops the pings so systemd restarts
// the unit.
func (n *sdNotifier) watchdog(ctx context.Context, state func() poller.State, maxTickAge time.Duration) {
	if n == nil || !n.enabled {
		return
	}
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		n.log.Warn("watchdog check failed", logx.Err(err))
		return
	}
	if interval <= 0 {
		return
	}
	n.log.Info("systemd watchdog enabled", logx.Duration("interval", interval))
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	started := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			last := state().LastTick
			if last.IsZero() {
				last = started
			}
			if maxTickAge > 0 && now.Sub(last) > maxTickAge {
				n.log.Warn("poller stalled; withholding watchdog ping", logx.Time("last_tick", last))
				continue
			}
			n.send(daemon.SdNotifyWatchdog)
		}
	}
}
