// Package poweroff implements the terminal action of the watchdog: powering
// the machine off. Each method implements Action; New wraps the selected one
// in Once so the machine is asked to power off at most once per process.
package poweroff

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Engineers-of-Innovation/eoi-can/battery-watchdog/internal/config"
)

// commandTimeout bounds how long a poweroff command may run.
const commandTimeout = 30 * time.Second

var (
	// ErrShutdownFailed wraps any failure of the poweroff action.
	ErrShutdownFailed = errors.New("shutdown action failed")

	// ErrAlreadyInvoked is returned by Once after the first invocation.
	ErrAlreadyInvoked = errors.New("shutdown action already invoked")

	// ErrUnsupported is returned by methods the platform cannot perform.
	ErrUnsupported = errors.New("poweroff method not supported on this platform")
)

// Action powers the machine off.
type Action interface {
	// Poweroff performs the action. A nil return means the request was
	// accepted; the process may keep running briefly afterwards.
	Poweroff(ctx context.Context) error

	// Name returns the method name for logging.
	Name() string
}

// New builds the Action selected by cfg, wrapped in Once.
func New(cfg config.PoweroffConfig, logger *zap.Logger) (*Once, error) {
	logger = logger.Named("poweroff")

	var action Action
	switch cfg.Method {
	case config.MethodSyscall:
		action = NewSyscall()
	case config.MethodCommand:
		cmd, err := NewCommand(cfg.Command)
		if err != nil {
			return nil, err
		}
		action = cmd
	case config.MethodDryRun:
		action = NewDryRun(logger)
	default:
		return nil, fmt.Errorf("unknown poweroff method %q", cfg.Method)
	}
	return NewOnce(action), nil
}

// Command runs an external program such as "systemctl poweroff".
type Command struct {
	argv []string
}

// NewCommand creates a Command action from an argv slice.
func NewCommand(argv []string) (*Command, error) {
	if len(argv) == 0 || argv[0] == "" {
		return nil, fmt.Errorf("poweroff command is empty")
	}
	return &Command{argv: append([]string(nil), argv...)}, nil
}

// Name returns the method identifier.
func (c *Command) Name() string { return config.MethodCommand }

// Poweroff runs the command and waits for it to exit.
func (c *Command) Poweroff(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, c.argv[0], c.argv[1:]...).CombinedOutput()
	if err != nil {
		if msg := strings.TrimSpace(string(out)); msg != "" {
			return fmt.Errorf("running %s: %w: %s", strings.Join(c.argv, " "), err, msg)
		}
		return fmt.Errorf("running %s: %w", strings.Join(c.argv, " "), err)
	}
	return nil
}

// DryRun only logs. Used for bench testing on a desk supply.
type DryRun struct {
	logger *zap.Logger
}

// NewDryRun creates a DryRun action.
func NewDryRun(logger *zap.Logger) *DryRun {
	return &DryRun{logger: logger}
}

// Name returns the method identifier.
func (d *DryRun) Name() string { return config.MethodDryRun }

// Poweroff logs that the system would be powered off.
func (d *DryRun) Poweroff(ctx context.Context) error {
	d.logger.Error("Dry run: system would be powered off now")
	return nil
}

// Once invokes the wrapped Action at most once. Later calls return
// ErrAlreadyInvoked without touching the system.
type Once struct {
	action Action

	mu      sync.Mutex
	invoked bool
}

// NewOnce wraps action.
func NewOnce(action Action) *Once {
	return &Once{action: action}
}

// Name returns the wrapped method name.
func (o *Once) Name() string { return o.action.Name() }

// Invoked reports whether Poweroff has been called.
func (o *Once) Invoked() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.invoked
}

// Poweroff performs the wrapped action on the first call. Failures are
// wrapped in ErrShutdownFailed and are not retried.
func (o *Once) Poweroff(ctx context.Context) error {
	o.mu.Lock()
	if o.invoked {
		o.mu.Unlock()
		return ErrAlreadyInvoked
	}
	o.invoked = true
	o.mu.Unlock()

	if err := o.action.Poweroff(ctx); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrShutdownFailed, o.action.Name(), err)
	}
	return nil
}
