//go:build !linux

package poweroff

import (
	"context"

	"github.com/Engineers-of-Innovation/eoi-can/battery-watchdog/internal/config"
)

// Syscall is unavailable outside Linux; use the command method instead.
type Syscall struct{}

// NewSyscall creates a Syscall action.
func NewSyscall() *Syscall {
	return &Syscall{}
}

// Name returns the method identifier.
func (s *Syscall) Name() string { return config.MethodSyscall }

// Poweroff always fails with ErrUnsupported.
func (s *Syscall) Poweroff(ctx context.Context) error {
	return ErrUnsupported
}
