//go:build linux

package poweroff

import (
	"context"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/Engineers-of-Innovation/eoi-can/battery-watchdog/internal/config"
)

// Syscall flushes filesystems and asks the kernel to power off directly.
// Requires CAP_SYS_BOOT.
type Syscall struct{}

// NewSyscall creates a Syscall action.
func NewSyscall() *Syscall {
	return &Syscall{}
}

// Name returns the method identifier.
func (s *Syscall) Name() string { return config.MethodSyscall }

// Poweroff syncs and calls reboot(LINUX_REBOOT_CMD_POWER_OFF). On success
// the call does not return.
func (s *Syscall) Poweroff(ctx context.Context) error {
	unix.Sync()
	if err := unix.Reboot(unix.LINUX_REBOOT_CMD_POWER_OFF); err != nil {
		return fmt.Errorf("reboot(POWER_OFF): %w", err)
	}
	return nil
}
