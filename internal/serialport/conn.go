package serialport

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/evidense/internal/monitoring"
)

var (
	ErrWriteFailed = errors.New("failed to write to serial port")
	ErrClosed      = errors.New("serial connection closed")
)

// pollInterval bounds how long a blocked read delays Close on ports that
// support read timeouts.
const pollInterval = 100 * time.Millisecond

// Conn is a line-oriented view of a Port. A background goroutine scans the
// port for newline-terminated lines; Exchange writes one command line and
// waits for the next line to arrive.
type Conn struct {
	port  Port
	lines chan string
	errc  chan error
	done  chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// NewConn starts reading lines from port. The Conn owns the port and closes it
// on Close.
func NewConn(port Port) *Conn {
	c := &Conn{
		port:  port,
		lines: make(chan string, 64),
		errc:  make(chan error, 1),
		done:  make(chan struct{}),
	}
	if tp, ok := port.(TimeoutPort); ok {
		if err := tp.SetReadTimeout(pollInterval); err != nil {
			monitoring.Logf("serialport: set read timeout: %v", err)
		}
	}
	go c.monitor()
	return c
}

// patientReader retries reads that timed out without data until the Conn is
// closed, so bufio.Scanner never sees an empty read.
type patientReader struct{ c *Conn }

func (r patientReader) Read(p []byte) (int, error) {
	for {
		n, err := r.c.port.Read(p)
		if n > 0 || err != nil {
			return n, err
		}
		select {
		case <-r.c.done:
			return 0, io.EOF
		default:
		}
	}
}

func (c *Conn) monitor() {
	scan := bufio.NewScanner(patientReader{c})
	for scan.Scan() {
		line := strings.TrimRight(scan.Text(), "\r")
		monitoring.Debugf("serialport: <- %q", line)
		select {
		case c.lines <- line:
		case <-c.done:
			return
		}
	}
	err := scan.Err()
	if err == nil {
		err = io.EOF
	}
	select {
	case <-c.done:
	default:
		c.errc <- err
	}
}

// Send writes command to the port, appending a newline if missing.
func (c *Conn) Send(command string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	if !strings.HasSuffix(command, "\n") {
		command += "\n"
	}
	monitoring.Debugf("serialport: -> %q", strings.TrimSuffix(command, "\n"))
	n, err := c.port.Write([]byte(command))
	if err != nil {
		return err
	}
	if n != len(command) {
		return ErrWriteFailed
	}
	return nil
}

// Next waits for the next line from the port.
func (c *Conn) Next(ctx context.Context) (string, error) {
	select {
	case line := <-c.lines:
		return line, nil
	case err := <-c.errc:
		// keep the error visible to later callers
		c.errc <- err
		return "", err
	case <-c.done:
		return "", ErrClosed
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Discard drops lines that arrived before the next command.
func (c *Conn) Discard() int {
	n := 0
	for {
		select {
		case line := <-c.lines:
			monitoring.Debugf("serialport: discarding stale line %q", line)
			n++
		default:
			return n
		}
	}
}

// Exchange discards stale input, sends command and returns the next line.
func (c *Conn) Exchange(ctx context.Context, command string) (string, error) {
	c.Discard()
	if err := c.Send(command); err != nil {
		return "", err
	}
	return c.Next(ctx)
}

// Close stops the reader and closes the port.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.closeErr = c.port.Close()
	})
	return c.closeErr
}
