// Package main is the entry point for the battery shutdown watchdog.
// It loads configuration, wires the status probe, poweroff action and
// optional reporters, and runs the watchdog loop until the machine is powered
// off or the process is signalled.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Engineers-of-Innovation/eoi-can/battery-watchdog/internal/config"
	"github.com/Engineers-of-Innovation/eoi-can/battery-watchdog/internal/poweroff"
	"github.com/Engineers-of-Innovation/eoi-can/battery-watchdog/internal/probe"
	"github.com/Engineers-of-Innovation/eoi-can/battery-watchdog/internal/publisher"
	"github.com/Engineers-of-Innovation/eoi-can/battery-watchdog/internal/sdnotify"
	"github.com/Engineers-of-Innovation/eoi-can/battery-watchdog/internal/sysinfo"
	"github.com/Engineers-of-Innovation/eoi-can/battery-watchdog/internal/watchdog"
)

// version is set at build time via -ldflags.
var version = "dev"

// mqttConnectTimeout bounds the startup wait for the broker.
const mqttConnectTimeout = 5 * time.Second

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	flagSet := pflag.NewFlagSet("battery-watchdog", pflag.ContinueOnError)
	configPath := flagSet.StringP("config", "c", "", "Path to configuration file (default: search standard locations)")
	envFile := flagSet.String("env-file", "", "Path to a .env file (default: .env next to the config file)")
	var cli config.CLIOverrides
	flagSet.IntVar(&cli.GracePeriodSeconds, "grace-period-seconds", 0, "Seconds without external power before powering off")
	flagSet.IntVar(&cli.TickIntervalSeconds, "tick-interval-seconds", 0, "Seconds between status probes")
	flagSet.StringVar(&cli.StatusAddr, "status-addr", "", "Status service address as host:port")
	flagSet.DurationVar(&cli.ProbeTimeout, "probe-timeout", 0, "Timeout for a single status query")
	flagSet.StringVar(&cli.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flagSet.BoolVar(&cli.DryRun, "dry-run", false, "Log instead of powering off")
	showVersion := flagSet.Bool("version", false, "Show version and exit")
	printConfig := flagSet.Bool("print-config", false, "Print the effective configuration and exit")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 2
	}

	if *showVersion {
		fmt.Printf("battery-watchdog %s\n", version)
		return 0
	}

	cfg, err := config.LoadLayered(cli, *configPath, *envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	if *printConfig {
		if err := config.Encode(os.Stdout, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to print config: %v\n", err)
			return 1
		}
		return 0
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		return 1
	}

	logger := initLogger(cfg)
	defer logger.Sync()

	logger.Info("Starting battery watchdog",
		zap.String("version", version),
		zap.String("status_addr", cfg.Status.Addr()),
		zap.Duration("grace_period", cfg.Watchdog.GracePeriod.Duration),
		zap.Duration("tick_interval", cfg.Watchdog.TickInterval.Duration),
		zap.Duration("probe_timeout", cfg.Status.Timeout.Duration),
		zap.String("poweroff_method", cfg.Poweroff.Method))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return runWatchdog(ctx, cfg, logger)
}

// runWatchdog wires all components and blocks until the watchdog stops.
// It returns the process exit code.
func runWatchdog(ctx context.Context, cfg *config.Config, logger *zap.Logger) int {
	var hostname string
	if host, err := sysinfo.Collect(ctx); err != nil {
		logger.Warn("Failed to read host info", zap.Error(err))
	} else {
		hostname = host.Hostname
		logger.Info("Host",
			zap.String("hostname", host.Hostname),
			zap.String("platform", host.Platform+" "+host.PlatformVersion),
			zap.String("kernel", host.KernelVersion+" "+host.KernelArch),
			zap.Time("boot_time", host.BootTime),
			zap.Duration("uptime", host.Uptime))
	}

	action, err := poweroff.New(cfg.Poweroff, logger)
	if err != nil {
		logger.Error("Failed to initialize poweroff action", zap.Error(err))
		return 1
	}

	statusProbe := probe.New(cfg.Status.Addr(), cfg.Status.Timeout.Duration, logger)

	wd, err := watchdog.New(watchdog.Config{
		GracePeriod:  cfg.Watchdog.GracePeriod.Duration,
		TickInterval: cfg.Watchdog.TickInterval.Duration,
	}, statusProbe, action, logger)
	if err != nil {
		logger.Error("Failed to initialize watchdog", zap.Error(err))
		return 1
	}
	if cfg.Status.BatteryLevel {
		wd.WithBattery(statusProbe)
	}

	notifier := sdnotify.New(cfg.Systemd.Notify)
	if interval := notifier.WatchdogInterval(); interval > 0 && interval < 2*cfg.Watchdog.TickInterval.Duration {
		logger.Warn("systemd WatchdogSec is close to the tick interval, keep-alives may arrive late",
			zap.Duration("watchdog_sec", interval),
			zap.Duration("tick_interval", cfg.Watchdog.TickInterval.Duration))
	}

	var reporter statusReporter
	if cfg.MQTT.Enabled {
		pub := publisher.New(cfg.MQTT, hostname, logger)
		if err := pub.Connect(mqttConnectTimeout); err != nil {
			logger.Warn("MQTT broker not reachable yet", zap.String("broker", cfg.MQTT.Broker), zap.Error(err))
		}
		defer pub.Close()
		reporter = pub
	}

	wd.OnStatus(newStatusHandler(ctx, reporter, notifier, logger))

	if err := notifier.Ready(); err != nil {
		logger.Warn("Failed to notify systemd", zap.Error(err))
	}

	err = wd.Run(ctx)
	switch {
	case err == nil:
		logger.Info("Poweroff requested, watchdog finished", zap.String("method", action.Name()))
		return 0
	case errors.Is(err, context.Canceled):
		logger.Info("Received signal, stopping watchdog", zap.Duration("remaining", wd.Remaining()))
		if err := notifier.Stopping(); err != nil {
			logger.Warn("Failed to notify systemd", zap.Error(err))
		}
		return 0
	default:
		logger.Error("Watchdog stopped", zap.Error(err))
		return 1
	}
}

// initLogger creates a zap logger based on the configuration.
// It outputs to the console (human-readable) and optionally a JSON log file.
func initLogger(cfg *config.Config) *zap.Logger {
	var level zapcore.Level
	switch cfg.Logging.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "time"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	consoleCore := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.AddSync(os.Stdout),
		level,
	)

	cores := []zapcore.Core{consoleCore}

	if cfg.Logging.File != "" {
		file, err := os.OpenFile(cfg.Logging.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640)
		if err == nil {
			fileCore := zapcore.NewCore(
				zapcore.NewJSONEncoder(encoderConfig),
				zapcore.AddSync(file),
				level,
			)
			cores = append(cores, fileCore)
		} else {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v\n", cfg.Logging.File, err)
		}
	}

	return zap.New(zapcore.NewTee(cores...))
}
