// Package serialport opens the instrument's serial connection and turns it
// into a line-oriented command channel.
package serialport

import (
	"io"
	"time"

	"go.bug.st/serial"
)

// Port defines the minimal interface needed for a serial port.
// This abstraction enables unit testing without real serial hardware.
type Port interface {
	io.ReadWriter
	io.Closer
}

// TimeoutPort is implemented by ports that support a read timeout. With a
// timeout set, Read returns (0, nil) when no data arrived in time.
type TimeoutPort interface {
	Port
	SetReadTimeout(timeout time.Duration) error
}

// Factory opens serial ports. Tests substitute MockFactory.
type Factory interface {
	Open(path string, opts PortOptions) (Port, error)
	// List returns the names of the serial ports present on the system.
	List() ([]string, error)
}

// SystemFactory opens real ports through go.bug.st/serial.
type SystemFactory struct{}

// Open opens path with the given options.
func (SystemFactory) Open(path string, opts PortOptions) (Port, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	return serial.Open(path, mode)
}

// List returns the serial ports reported by the operating system.
func (SystemFactory) List() ([]string, error) {
	return serial.GetPortsList()
}
