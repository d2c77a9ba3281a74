package engine

import (
	"github.com/coreos/go-systemd/v22/daemon"

	"conductor/pkg/logging"
)

// notifyReady tells an enclosing systemd unit (Type=notify) that the
// engine has started materializing a plan and is ready to be supervised.
// When the process is not running under systemd, SdNotify is a no-op that
// reports ok=false with no error.
func notifyReady(planID string) {
	ok, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		logging.Warn("engine", "sd_notify failed for plan %s: %v", planID, err)
		return
	}
	if ok {
		logging.Debug("engine", "sd_notify READY=1 sent for plan %s", planID)
	}
}
