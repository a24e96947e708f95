// Package publisher reports watchdog status records to an MQTT broker.
// Each tick's status is marshaled to JSON and published retained, so a
// subscriber always sees the latest state. Publishing is bounded in time and
// skipped while the broker is unreachable; it never holds up the watchdog.
package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/Engineers-of-Innovation/eoi-can/battery-watchdog/internal/config"
	"github.com/Engineers-of-Innovation/eoi-can/battery-watchdog/internal/models"
	"github.com/Engineers-of-Innovation/eoi-can/battery-watchdog/internal/sysinfo"
)

const (
	// qos is the MQTT quality of service for status messages.
	qos = 1

	// publishTimeout bounds a single publish; it must stay below the tick interval.
	publishTimeout = 300 * time.Millisecond

	// disconnectQuiesce is the time in milliseconds allowed for in-flight work on Close.
	disconnectQuiesce = 250
)

// ErrNotConnected is returned by Report while the broker is unreachable.
var ErrNotConnected = errors.New("mqtt broker not connected")

// Publisher publishes status records to a single topic.
type Publisher struct {
	client   mqtt.Client
	topic    string
	hostname string
	logger   *zap.Logger

	uptime func(ctx context.Context) (uint64, error)
}

// New creates a Publisher for the configured broker. The connection is not
// opened until Connect is called.
func New(cfg config.MQTTConfig, hostname string, logger *zap.Logger) *Publisher {
	logger = logger.Named("mqtt")

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(10 * time.Second)
	opts.SetKeepAlive(20 * time.Second)
	opts.SetPingTimeout(5 * time.Second)
	opts.SetCleanSession(true)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		logger.Info("Connected to MQTT broker", zap.String("broker", cfg.Broker))
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("MQTT connection lost", zap.Error(err))
	})

	return NewWithClient(mqtt.NewClient(opts), cfg.Topic, hostname, logger)
}

// NewWithClient creates a Publisher around an existing client.
func NewWithClient(client mqtt.Client, topic, hostname string, logger *zap.Logger) *Publisher {
	return &Publisher{
		client:   client,
		topic:    topic,
		hostname: hostname,
		logger:   logger,
		uptime:   sysinfo.UptimeSeconds,
	}
}

// Connect starts connecting and waits up to timeout for the first attempt.
// When the broker is not reachable in time the client keeps retrying in the
// background and Connect returns an error for logging only.
func (p *Publisher) Connect(timeout time.Duration) error {
	token := p.client.Connect()
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("mqtt connect still pending after %s, retrying in background", timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	return nil
}

// Report publishes st as retained JSON on the configured topic.
func (p *Publisher) Report(ctx context.Context, st models.Status) error {
	if !p.client.IsConnectionOpen() {
		return ErrNotConnected
	}

	payload, err := p.encode(ctx, st)
	if err != nil {
		return err
	}

	token := p.client.Publish(p.topic, qos, true, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish to %s timed out after %s", p.topic, publishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", p.topic, err)
	}
	p.logger.Debug("Published status", zap.String("topic", p.topic), zap.String("state", string(st.State)))
	return nil
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	p.client.Disconnect(disconnectQuiesce)
}

// encode attaches host facts to st and marshals it.
func (p *Publisher) encode(ctx context.Context, st models.Status) ([]byte, error) {
	st.Hostname = p.hostname
	if p.uptime != nil {
		if up, err := p.uptime(ctx); err == nil {
			st.UptimeSeconds = up
		}
	}

	payload, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("marshal status: %w", err)
	}
	return payload, nil
}
