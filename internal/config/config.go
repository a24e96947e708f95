// Package config handles configuration loading from YAML files, .env files,
// environment variables and command-line flags.
// Configuration precedence: CLI flags > environment variables > .env file > config file > defaults.
package config

import (
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Duration is a wrapper around time.Duration that supports YAML unmarshaling
// from human-readable strings like "500ms", "1s", "1m".
type Duration struct {
	time.Duration
}

// UnmarshalYAML implements the yaml.Unmarshaler interface for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		parsed, err := time.ParseDuration(value.Value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value.Value, err)
		}
		d.Duration = parsed
		return nil
	default:
		return fmt.Errorf("unsupported duration format: %v", value.Kind)
	}
}

// MarshalYAML implements the yaml.Marshaler interface for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Poweroff methods.
const (
	MethodSyscall = "syscall"
	MethodCommand = "command"
	MethodDryRun  = "dry-run"
)

// Config holds all watchdog configuration.
type Config struct {
	Watchdog WatchdogConfig `yaml:"watchdog"`
	Status   StatusConfig   `yaml:"status"`
	Poweroff PoweroffConfig `yaml:"poweroff"`
	Logging  LoggingConfig  `yaml:"logging"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Systemd  SystemdConfig  `yaml:"systemd"`
}

// WatchdogConfig holds the countdown settings.
type WatchdogConfig struct {
	GracePeriod  Duration `yaml:"grace_period"`
	TickInterval Duration `yaml:"tick_interval"`
}

// StatusConfig holds the local status service endpoint.
type StatusConfig struct {
	Host         string   `yaml:"host"`
	Port         int      `yaml:"port"`
	Timeout      Duration `yaml:"timeout"`
	BatteryLevel bool     `yaml:"battery_level"`
}

// Addr returns the host:port of the status service.
func (s StatusConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// PoweroffConfig selects the terminal action.
type PoweroffConfig struct {
	Method  string   `yaml:"method"`
	Command []string `yaml:"command"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// MQTTConfig holds the optional status publisher settings.
type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Topic    string `yaml:"topic"`
}

// SystemdConfig controls sd_notify integration.
type SystemdConfig struct {
	Notify bool `yaml:"notify"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Watchdog: WatchdogConfig{
			GracePeriod:  Duration{60 * time.Second},
			TickInterval: Duration{1 * time.Second},
		},
		Status: StatusConfig{
			Host:         "127.0.0.1",
			Port:         8423,
			Timeout:      Duration{400 * time.Millisecond},
			BatteryLevel: true,
		},
		Poweroff: PoweroffConfig{
			Method:  MethodSyscall,
			Command: []string{"systemctl", "poweroff"},
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		MQTT: MQTTConfig{
			Enabled:  false,
			Broker:   "tcp://localhost:1883",
			ClientID: "battery-watchdog",
			Topic:    "eoi/battery-watchdog/status",
		},
		Systemd: SystemdConfig{
			Notify: true,
		},
	}
}

// CLIOverrides holds values from command-line flags.
// Zero values are treated as "not set" and skipped.
type CLIOverrides struct {
	GracePeriodSeconds  int
	TickIntervalSeconds int
	StatusAddr          string
	ProbeTimeout        time.Duration
	LogLevel            string
	DryRun              bool
}

// Locate searches standard config file paths and returns the first one found.
// Returns empty string if no config file exists.
func Locate() string {
	for _, p := range configSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// LoadLayered loads configuration with the full precedence chain:
// CLI flags > env vars > .env file > YAML file > defaults.
//
// An empty configPath triggers discovery via Locate. An empty envFile loads
// ".env" next to the config file if one exists; an explicit envFile must exist.
// Values already present in the process environment are never replaced by
// the .env file.
func LoadLayered(cli CLIOverrides, configPath, envFile string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath == "" {
		configPath = Locate()
	}
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config file %s: %w", configPath, err)
			}
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("loading env file %s: %w", envFile, err)
		}
	} else if configPath != "" {
		candidate := filepath.Join(filepath.Dir(configPath), ".env")
		if _, err := os.Stat(candidate); err == nil {
			if err := godotenv.Load(candidate); err != nil {
				return nil, fmt.Errorf("loading env file %s: %w", candidate, err)
			}
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := applyCLIOverrides(cfg, cli); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Encode writes the configuration as YAML.
func Encode(w io.Writer, cfg *Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return enc.Close()
}

// applyEnvOverrides applies BW_* environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("BW_GRACE_PERIOD_SECONDS"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("BW_GRACE_PERIOD_SECONDS: %w", err)
		}
		cfg.Watchdog.GracePeriod = Duration{time.Duration(secs) * time.Second}
	}
	if v := os.Getenv("BW_TICK_INTERVAL_SECONDS"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("BW_TICK_INTERVAL_SECONDS: %w", err)
		}
		cfg.Watchdog.TickInterval = Duration{time.Duration(secs) * time.Second}
	}
	if v := os.Getenv("BW_STATUS_HOST"); v != "" {
		cfg.Status.Host = v
	}
	if v := os.Getenv("BW_STATUS_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("BW_STATUS_PORT: %w", err)
		}
		cfg.Status.Port = port
	}
	if v := os.Getenv("BW_PROBE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("BW_PROBE_TIMEOUT: %w", err)
		}
		cfg.Status.Timeout = Duration{d}
	}
	if v := os.Getenv("BW_POWEROFF_METHOD"); v != "" {
		cfg.Poweroff.Method = v
	}
	if v := os.Getenv("BW_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("BW_LOG_FILE"); v != "" {
		cfg.Logging.File = v
	}
	if v := os.Getenv("BW_MQTT_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("BW_MQTT_ENABLED: %w", err)
		}
		cfg.MQTT.Enabled = enabled
	}
	if v := os.Getenv("BW_MQTT_BROKER"); v != "" {
		cfg.MQTT.Broker = v
	}
	if v := os.Getenv("BW_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Username = v
	}
	if v := os.Getenv("BW_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Password = v
	}
	if v := os.Getenv("BW_MQTT_TOPIC"); v != "" {
		cfg.MQTT.Topic = v
	}
	return nil
}

func applyCLIOverrides(cfg *Config, cli CLIOverrides) error {
	if cli.GracePeriodSeconds != 0 {
		cfg.Watchdog.GracePeriod = Duration{time.Duration(cli.GracePeriodSeconds) * time.Second}
	}
	if cli.TickIntervalSeconds != 0 {
		cfg.Watchdog.TickInterval = Duration{time.Duration(cli.TickIntervalSeconds) * time.Second}
	}
	if cli.StatusAddr != "" {
		host, port, err := net.SplitHostPort(cli.StatusAddr)
		if err != nil {
			return fmt.Errorf("invalid status address %q: %w", cli.StatusAddr, err)
		}
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid status port %q: %w", port, err)
		}
		cfg.Status.Host = host
		cfg.Status.Port = p
	}
	if cli.ProbeTimeout != 0 {
		cfg.Status.Timeout = Duration{cli.ProbeTimeout}
	}
	if cli.LogLevel != "" {
		cfg.Logging.Level = cli.LogLevel
	}
	if cli.DryRun {
		cfg.Poweroff.Method = MethodDryRun
	}
	return nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	tick := c.Watchdog.TickInterval.Duration
	if tick <= 0 {
		return fmt.Errorf("tick interval must be positive (got %s)", tick)
	}
	if c.Watchdog.GracePeriod.Duration < tick {
		return fmt.Errorf("grace period %s is shorter than tick interval %s",
			c.Watchdog.GracePeriod.Duration, tick)
	}
	if c.Watchdog.GracePeriod.Duration%tick != 0 {
		return fmt.Errorf("grace period %s is not a whole number of tick intervals %s",
			c.Watchdog.GracePeriod.Duration, tick)
	}

	timeout := c.Status.Timeout.Duration
	if timeout <= 0 {
		return fmt.Errorf("probe timeout must be positive (got %s)", timeout)
	}
	if timeout >= tick {
		return fmt.Errorf("probe timeout %s must be shorter than tick interval %s", timeout, tick)
	}
	// A tick performs two exchanges when the battery level is queried.
	if c.Status.BatteryLevel && 2*timeout >= tick {
		return fmt.Errorf("probe timeout %s is too long to also query battery level within tick interval %s",
			timeout, tick)
	}
	if c.Status.Host == "" {
		return fmt.Errorf("status host is required")
	}
	if c.Status.Port < 1 || c.Status.Port > 65535 {
		return fmt.Errorf("status port out of range: %d", c.Status.Port)
	}

	switch c.Poweroff.Method {
	case MethodSyscall, MethodDryRun:
	case MethodCommand:
		if len(c.Poweroff.Command) == 0 || strings.TrimSpace(c.Poweroff.Command[0]) == "" {
			return fmt.Errorf("poweroff command is required for method %q", MethodCommand)
		}
	default:
		return fmt.Errorf("unknown poweroff method %q (expected %q, %q or %q)",
			c.Poweroff.Method, MethodSyscall, MethodCommand, MethodDryRun)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}

	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			return fmt.Errorf("mqtt broker is required when mqtt is enabled")
		}
		if c.MQTT.Topic == "" {
			return fmt.Errorf("mqtt topic is required when mqtt is enabled")
		}
	}
	return nil
}
