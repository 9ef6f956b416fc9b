// Package systemd wraps sd_notify for service readiness and watchdog
// keepalives. Every call is a no-op outside a systemd unit (no
// NOTIFY_SOCKET in the environment).
package systemd

import "github.com/coreos/go-systemd/v22/daemon"

// NotifyReady signals that startup is complete (Type=notify units).
func NotifyReady() bool {
	sent, _ := daemon.SdNotify(false, daemon.SdNotifyReady)
	return sent
}

// NotifyWatchdog pets the watchdog; call it at least once per
// WatchdogSec interval.
func NotifyWatchdog() bool {
	sent, _ := daemon.SdNotify(false, daemon.SdNotifyWatchdog)
	return sent
}

// NotifyStopping signals that shutdown has begun.
func NotifyStopping() bool {
	sent, _ := daemon.SdNotify(false, daemon.SdNotifyStopping)
	return sent
}
