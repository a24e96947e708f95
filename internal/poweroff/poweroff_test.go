package poweroff

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Engineers-of-Innovation/eoi-can/battery-watchdog/internal/config"
)

type countingAction struct {
	calls int
	err   error
}

func (c *countingAction) Name() string { return "counting" }

func (c *countingAction) Poweroff(ctx context.Context) error {
	c.calls++
	return c.err
}

func TestOnce_InvokesAtMostOnce(t *testing.T) {
	action := &countingAction{}
	once := NewOnce(action)

	if once.Invoked() {
		t.Fatal("Invoked() = true before first call")
	}
	if err := once.Poweroff(context.Background()); err != nil {
		t.Fatalf("first Poweroff() = %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := once.Poweroff(context.Background()); !errors.Is(err, ErrAlreadyInvoked) {
			t.Fatalf("repeat Poweroff() = %v, want ErrAlreadyInvoked", err)
		}
	}
	if action.calls != 1 {
		t.Errorf("action called %d times, want 1", action.calls)
	}
	if !once.Invoked() {
		t.Error("Invoked() = false after call")
	}
}

func TestOnce_FailureIsWrappedAndNotRetried(t *testing.T) {
	cause := errors.New("permission denied")
	action := &countingAction{err: cause}
	once := NewOnce(action)

	err := once.Poweroff(context.Background())
	if !errors.Is(err, ErrShutdownFailed) {
		t.Errorf("err = %v, want ErrShutdownFailed", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("err = %v, want cause preserved", err)
	}
	if err := once.Poweroff(context.Background()); !errors.Is(err, ErrAlreadyInvoked) {
		t.Errorf("second call = %v, want ErrAlreadyInvoked", err)
	}
	if action.calls != 1 {
		t.Errorf("action called %d times, want 1", action.calls)
	}
}

func TestCommand(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}

	ok, err := NewCommand([]string{"sh", "-c", "exit 0"})
	if err != nil {
		t.Fatal(err)
	}
	if err := ok.Poweroff(context.Background()); err != nil {
		t.Errorf("successful command returned %v", err)
	}

	failing, err := NewCommand([]string{"sh", "-c", "echo not allowed >&2; exit 3"})
	if err != nil {
		t.Fatal(err)
	}
	err = failing.Poweroff(context.Background())
	if err == nil {
		t.Fatal("expected error from failing command")
	}
	if !strings.Contains(err.Error(), "not allowed") {
		t.Errorf("err = %v, want command output included", err)
	}
}

func TestNewCommand_Empty(t *testing.T) {
	if _, err := NewCommand(nil); err == nil {
		t.Error("expected error for empty argv")
	}
}

func TestNew_SelectsMethod(t *testing.T) {
	tests := []struct {
		cfg     config.PoweroffConfig
		want    string
		wantErr bool
	}{
		{config.PoweroffConfig{Method: config.MethodDryRun}, config.MethodDryRun, false},
		{config.PoweroffConfig{Method: config.MethodSyscall}, config.MethodSyscall, false},
		{config.PoweroffConfig{Method: config.MethodCommand, Command: []string{"true"}}, config.MethodCommand, false},
		{config.PoweroffConfig{Method: config.MethodCommand}, "", true},
		{config.PoweroffConfig{Method: "halt"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.cfg.Method, func(t *testing.T) {
			once, err := New(tt.cfg, zap.NewNop())
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && once.Name() != tt.want {
				t.Errorf("Name() = %q, want %q", once.Name(), tt.want)
			}
		})
	}
}

func TestDryRun_LogsAtErrorLevel(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	once, err := New(config.PoweroffConfig{Method: config.MethodDryRun}, zap.New(core))
	if err != nil {
		t.Fatal(err)
	}
	if err := once.Poweroff(context.Background()); err != nil {
		t.Fatalf("dry run returned %v", err)
	}
	entries := logs.FilterLevelExact(zapcore.ErrorLevel).All()
	if len(entries) != 1 {
		t.Fatalf("got %d error entries, want 1", len(entries))
	}
	if entries[0].LoggerName != "poweroff" {
		t.Errorf("logger name = %q, want poweroff", entries[0].LoggerName)
	}
}
