package instrument

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/evidense/internal/monitoring"
	"github.com/banshee-data/evidense/internal/scan"
	"github.com/banshee-data/evidense/internal/serialport"
)

// DefaultTimeout bounds a single command round trip. Scans include the
// device's own levelling and can take several seconds.
const DefaultTimeout = 30 * time.Second

// maxLogLines caps DrainLogLines so a misbehaving device cannot stall a step.
const maxLogLines = 256

// LineExchanger sends one command line and returns one response line.
// *serialport.Conn satisfies it.
type LineExchanger interface {
	Exchange(ctx context.Context, line string) (string, error)
	Close() error
}

// Client implements Instrument over the ":<command>" line protocol.
type Client struct {
	conn    LineExchanger
	timeout time.Duration
}

// NewClient wraps conn. A zero timeout selects DefaultTimeout.
func NewClient(conn LineExchanger, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{conn: conn, timeout: timeout}
}

// Open opens the serial port at path and returns a client for it.
func Open(factory serialport.Factory, path string, opts serialport.PortOptions, timeout time.Duration) (*Client, error) {
	port, err := factory.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrCommunication, path, err)
	}
	monitoring.Debugf("instrument: opened %s (%s)", path, opts)
	return NewClient(serialport.NewConn(port), timeout), nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

var tokenPattern = regexp.MustCompile(`"([^"]*)"|'([^']*)'|(\S+)`)

// splitTokens splits a response on whitespace, keeping quoted strings whole.
func splitTokens(s string) []string {
	var out []string
	for _, m := range tokenPattern.FindAllStringSubmatch(s, -1) {
		switch {
		case strings.HasPrefix(m[0], `"`):
			out = append(out, m[1])
		case strings.HasPrefix(m[0], `'`):
			out = append(out, m[2])
		default:
			out = append(out, m[3])
		}
	}
	return out
}

// Command sends ":<command>" and returns the response tokens, starting with
// the echoed command letter.
func (c *Client) Command(ctx context.Context, command string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	tx := ":" + command
	rx, err := c.conn.Exchange(ctx, tx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %q: no response within %s", ErrCommunication, command, c.timeout)
		}
		return nil, fmt.Errorf("%w: %q: %v", ErrCommunication, command, err)
	}
	if !strings.HasPrefix(rx, ":") {
		return nil, fmt.Errorf("%w: %q: response did not start with ':': %q", ErrCommunication, command, rx)
	}

	tokens := splitTokens(rx[1:])
	if len(tokens) == 0 {
		return nil, fmt.Errorf("%w: %q: empty response", ErrCommunication, command)
	}
	if tokens[0] == "E" {
		if len(tokens) < 2 {
			return nil, fmt.Errorf("%w: %q: error response without code: %q", ErrCommunication, command, rx)
		}
		code, err := strconv.Atoi(tokens[1])
		if err != nil {
			return nil, fmt.Errorf("%w: %q: unknown error: %q", ErrCommunication, command, rx)
		}
		return nil, &DeviceError{Command: command, Code: code}
	}
	if want := strings.Fields(command)[0]; tokens[0] != want {
		return nil, fmt.Errorf("%w: response for %q does not start with the same command: %q", ErrCommunication, command, rx)
	}
	return tokens, nil
}

func (c *Client) value(ctx context.Context, index int) (string, error) {
	tokens, err := c.Command(ctx, fmt.Sprintf("V %d", index))
	if err != nil {
		return "", err
	}
	if len(tokens) < 2 {
		return "", fmt.Errorf("%w: V %d: missing value", ErrCommunication, index)
	}
	return tokens[1], nil
}

func (c *Client) rawScan(ctx context.Context, command string) (scan.RawScan, error) {
	tokens, err := c.Command(ctx, command)
	if err != nil {
		return scan.RawScan{}, err
	}
	if len(tokens) != 9 {
		return scan.RawScan{}, fmt.Errorf("%w: %q: expected 8 values, got %d", ErrCommunication, command, len(tokens)-1)
	}
	var v [8]float64
	for i, tok := range tokens[1:] {
		n, err := strconv.Atoi(tok)
		if err != nil {
			return scan.RawScan{}, fmt.Errorf("%w: %q: value %d: %v", ErrCommunication, command, i, err)
		}
		v[i] = float64(n)
	}
	return scan.FromValues(v), nil
}

// FirmwareVersion reads value index 0.
func (c *Client) FirmwareVersion(ctx context.Context) (string, error) {
	return c.value(ctx, 0)
}

// SerialNumber reads value index 1.
func (c *Client) SerialNumber(ctx context.Context) (string, error) {
	return c.value(ctx, 1)
}

// BaselineScan runs "G". The device levels itself first if needed, so the
// cuvette guide must be empty.
func (c *Client) BaselineScan(ctx context.Context) (scan.RawScan, error) {
	return c.rawScan(ctx, "G")
}

// MeasurementScan runs "M".
func (c *Client) MeasurementScan(ctx context.Context) (scan.RawScan, error) {
	return c.rawScan(ctx, "M")
}

// IsCuvetteHolderEmpty runs "X"; the device answers 1 when empty.
func (c *Client) IsCuvetteHolderEmpty(ctx context.Context) (bool, error) {
	tokens, err := c.Command(ctx, "X")
	if err != nil {
		return false, err
	}
	if len(tokens) < 2 {
		return false, fmt.Errorf("%w: X: missing value", ErrCommunication)
	}
	n, err := strconv.Atoi(tokens[1])
	if err != nil {
		return false, fmt.Errorf("%w: X: %v", ErrCommunication, err)
	}
	return n == 1, nil
}

// DrainLogLines repeats "Q" until the device answers with an error code,
// which marks the end of its log queue.
func (c *Client) DrainLogLines(ctx context.Context) ([]string, error) {
	var lines []string
	for len(lines) < maxLogLines {
		tokens, err := c.Command(ctx, "Q")
		var devErr *DeviceError
		if errors.As(err, &devErr) {
			return lines, nil
		}
		if err != nil {
			return lines, err
		}
		lines = append(lines, strings.Join(tokens[1:], " "))
	}
	monitoring.Logf("instrument: log drain stopped after %d lines", maxLogLines)
	return lines, nil
}
