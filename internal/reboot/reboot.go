//go:build linux

// Package reboot provides the production mesh.Rebooter: a real device
// restart via the Linux reboot(2) syscall, issued once an OTA firmware
// image has been staged and verified.
package reboot

import (
	"log/slog"

	"golang.org/x/sys/unix"
)

// Syscall is a mesh.Rebooter that restarts the host via unix.Reboot. It
// logs and returns without restarting if the syscall fails, since the
// caller (Node.finishFirmwareSession) has no recovery path of its own
// once Reboot is invoked.
type Syscall struct {
	Logger *slog.Logger
}

// Reboot implements mesh.Rebooter.
func (s Syscall) Reboot() {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("rebooting to apply staged firmware")
	if err := unix.Reboot(unix.LINUX_REBOOT_CMD_RESTART); err != nil {
		logger.Error("reboot syscall failed", slog.Any("error", err))
	}
}
