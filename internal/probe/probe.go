// Package probe queries the local battery status service over its plain-text
// TCP protocol. Every query is an isolated exchange on a fresh connection:
// dial, write one request line, half-close, read the reply, close.
package probe

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	cmdPowerPlugged = "get battery_power_plugged"
	cmdBattery      = "get battery"

	fieldPowerPlugged = "battery_power_plugged"
	fieldBattery      = "battery"

	// unpluggedPattern is the only content that classifies a reply as Unplugged.
	unpluggedPattern = "battery_power_plugged: false"

	// maxResponseSize bounds how much of a reply is read.
	maxResponseSize = 4096
)

var (
	// ErrUnavailable covers connection refused, reset and timeouts.
	ErrUnavailable = errors.New("status service unavailable")

	// ErrMalformedResponse means the reply did not carry the expected field.
	ErrMalformedResponse = errors.New("malformed status response")
)

// PowerState is the external power fact extracted from a reply.
type PowerState int

const (
	Plugged PowerState = iota
	Unplugged
)

func (s PowerState) String() string {
	if s == Unplugged {
		return "unplugged"
	}
	return "plugged"
}

// Outcome is the result of one power query. When Err is set the query failed
// and State holds the fail-open default, Plugged.
type Outcome struct {
	State PowerState
	Err   error
}

// Failed reports whether the query failed.
func (o Outcome) Failed() bool { return o.Err != nil }

// Probe talks to the status service at a fixed address.
type Probe struct {
	addr    string
	timeout time.Duration
	dialer  net.Dialer
	logger  *zap.Logger
}

// New creates a Probe. Each exchange is bounded by timeout, which covers
// dialing, writing and reading.
func New(addr string, timeout time.Duration, logger *zap.Logger) *Probe {
	return &Probe{
		addr:    addr,
		timeout: timeout,
		logger:  logger.Named("probe"),
	}
}

// Addr returns the status service address.
func (p *Probe) Addr() string { return p.addr }

// Query asks whether external power is connected. It never retries.
func (p *Probe) Query(ctx context.Context) Outcome {
	reply, err := p.exchange(ctx, cmdPowerPlugged, fieldPowerPlugged)
	if err != nil {
		return Outcome{State: Plugged, Err: err}
	}
	return Classify(reply)
}

// BatteryLevel asks for the battery state of charge in percent.
func (p *Probe) BatteryLevel(ctx context.Context) (float64, error) {
	reply, err := p.exchange(ctx, cmdBattery, fieldBattery)
	if err != nil {
		return 0, err
	}
	_, value, ok := strings.Cut(reply, ":")
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrMalformedResponse, reply)
	}
	level, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: battery level %q", ErrMalformedResponse, strings.TrimSpace(value))
	}
	return level, nil
}

// Classify maps a reply to an Outcome. Only a reply containing
// "battery_power_plugged: false" is Unplugged. Anything else is Plugged;
// replies without a recognizable boolean also carry ErrMalformedResponse.
func Classify(reply string) Outcome {
	if strings.Contains(reply, unpluggedPattern) {
		return Outcome{State: Unplugged}
	}

	idx := strings.Index(reply, fieldPowerPlugged+":")
	if idx < 0 {
		return Outcome{State: Plugged, Err: fmt.Errorf("%w: %q", ErrMalformedResponse, reply)}
	}
	value := strings.TrimSpace(reply[idx+len(fieldPowerPlugged)+1:])
	if fields := strings.Fields(value); len(fields) == 0 || fields[0] != "true" {
		return Outcome{State: Plugged, Err: fmt.Errorf("%w: %q", ErrMalformedResponse, reply)}
	}
	return Outcome{State: Plugged}
}

// exchange performs one request/response round trip on a fresh connection.
// It returns the first line carrying field, or everything read if no such
// line arrives before the peer closes or the deadline passes.
func (p *Probe) exchange(ctx context.Context, command, field string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	conn, err := p.dialer.DialContext(ctx, "tcp", p.addr)
	if err != nil {
		return "", fmt.Errorf("%w: dial %s: %w", ErrUnavailable, p.addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return "", fmt.Errorf("%w: set deadline: %w", ErrUnavailable, err)
		}
	}

	if _, err := io.WriteString(conn, command+"\n"); err != nil {
		return "", fmt.Errorf("%w: write %q: %w", ErrUnavailable, command, err)
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		if err := tcp.CloseWrite(); err != nil {
			return "", fmt.Errorf("%w: close write: %w", ErrUnavailable, err)
		}
	}

	reader := bufio.NewReader(io.LimitReader(conn, maxResponseSize))
	var received strings.Builder
	for {
		line, err := reader.ReadString('\n')
		received.WriteString(line)
		if strings.Contains(line, field+":") {
			p.logger.Debug("Status reply", zap.String("command", command), zap.String("reply", strings.TrimSpace(line)))
			return strings.TrimSpace(line), nil
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) {
			break
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() && received.Len() > 0 {
			break
		}
		return "", fmt.Errorf("%w: read reply to %q: %w", ErrUnavailable, command, err)
	}

	reply := strings.TrimSpace(received.String())
	p.logger.Debug("Status reply", zap.String("command", command), zap.String("reply", reply))
	return reply, nil
}
