// Package systemd announces daemon readiness and watchdog liveness to the
// init system. It replaces unit lifecycle control (irrelevant to a
// single-process device manager) with the sd_notify protocol.
package systemd

import (
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// Manager notifies systemd of readiness and periodically pings the
// watchdog, if one is configured via WatchdogSec in the unit file.
type Manager struct {
	stop chan struct{}
}

// NewManager creates a readiness/watchdog notifier. It does not contact
// systemd until NotifyReady or StartWatchdog is called.
func NewManager() *Manager {
	return &Manager{stop: make(chan struct{})}
}

// NotifyReady tells systemd the daemon has finished coldboot and is ready
// to serve. It is a no-op when NOTIFY_SOCKET is unset (not run under
// systemd, or Type= isn't notify).
func (m *Manager) NotifyReady() error {
	_, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	return err
}

// NotifyStopping tells systemd the daemon is shutting down.
func (m *Manager) NotifyStopping() error {
	_, err := daemon.SdNotify(false, daemon.SdNotifyStopping)
	return err
}

// StartWatchdog pings the systemd watchdog at half the interval systemd
// expects (WATCHDOG_USEC), returning immediately if no watchdog is
// configured. Call Close to stop the goroutine.
func (m *Manager) StartWatchdog() error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return err
	}

	ticker := time.NewTicker(interval / 2)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-m.stop:
				return
			case <-ticker.C:
				daemon.SdNotify(false, daemon.SdNotifyWatchdog)
			}
		}
	}()
	return nil
}

// Close stops the watchdog ping goroutine, if one was started.
func (m *Manager) Close() {
	select {
	case <-m.stop:
	default:
		close(m.stop)
	}
}
