// Package instrument talks to the four-wavelength photometer: the Instrument
// interface consumed by the run controller, a client for the device's serial
// line protocol, and a deterministic simulator.
package instrument

import (
	"context"
	"errors"
	"fmt"

	"github.com/banshee-data/evidense/internal/scan"
)

var (
	// ErrCommunication wraps every failed or timed-out round trip.
	ErrCommunication = errors.New("instrument communication failed")
	// ErrNotFound is returned by Discover when no matching instrument answers.
	ErrNotFound = errors.New("instrument not found")
)

// Instrument is the set of device operations the acquisition pipeline needs.
// Every method may fail with an error wrapping ErrCommunication.
type Instrument interface {
	// BaselineScan acquires a scan through the empty cuvette guide.
	BaselineScan(ctx context.Context) (scan.RawScan, error)
	// MeasurementScan acquires a scan through whatever is in the guide.
	MeasurementScan(ctx context.Context) (scan.RawScan, error)
	IsCuvetteHolderEmpty(ctx context.Context) (bool, error)
	SerialNumber(ctx context.Context) (string, error)
	FirmwareVersion(ctx context.Context) (string, error)
	// DrainLogLines consumes and returns the pending diagnostic messages.
	DrainLogLines(ctx context.Context) ([]string, error)
}

// Device error codes reported as ":E <code>".
const (
	CodeOK                = 0
	CodeUnknownCommand    = 1
	CodeInvalidParameter  = 2
	CodeSrecFlashWrite    = 4
	CodeSrecUnsupported   = 5
	CodeSrecInvalidCRC    = 6
	CodeSrecInvalidString = 7
	CodeLevellingFailed   = 100
)

// DeviceError is an error reported by the instrument firmware.
type DeviceError struct {
	Command string
	Code    int
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("command %q: device error %d (%s)", e.Command, e.Code, CodeText(e.Code))
}

// Unwrap lets errors.Is(err, ErrCommunication) hold for device errors.
func (e *DeviceError) Unwrap() error {
	return ErrCommunication
}

// CodeText describes a device error code.
func CodeText(code int) string {
	switch code {
	case CodeOK:
		return "ok"
	case CodeUnknownCommand:
		return "unknown command"
	case CodeInvalidParameter:
		return "invalid parameter"
	case CodeSrecFlashWrite:
		return "flash write error"
	case CodeSrecUnsupported:
		return "SREC: unsupported type"
	case CodeSrecInvalidCRC:
		return "SREC: invalid crc"
	case CodeSrecInvalidString:
		return "SREC: invalid string"
	case CodeLevellingFailed:
		return "levelling failed"
	default:
		return "unknown error"
	}
}
