// Package config loads the operator configuration for evidense.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/evidense/internal/serialport"
	"github.com/banshee-data/evidense/internal/units"
)

// Defaults applied by the Get* accessors when a field is absent.
const (
	DefaultBlankCount     = 1
	DefaultDataDir        = "."
	DefaultCommandTimeout = 30 * time.Second
	DefaultListen         = ":8080"
)

const maxConfigSize = 1 << 20

// RunConfig is the JSON configuration file. Every field is optional; the
// Get* methods supply defaults, so a partial file is valid. Command line
// flags overwrite individual fields after loading.
type RunConfig struct {
	BlankCount *int    `json:"blank_count,omitempty"`
	DataDir    *string `json:"data_dir,omitempty"`

	// Instrument link. An empty SerialPort means discover by SerialNumber.
	SerialPort     *string `json:"serial_port,omitempty"`
	SerialNumber   *string `json:"serial_number,omitempty"`
	BaudRate       *int    `json:"baud_rate,omitempty"`
	CommandTimeout *string `json:"command_timeout,omitempty"` // duration string like "30s"

	ArchiveDB    *string `json:"archive_db,omitempty"`
	Listen       *string `json:"listen,omitempty"`
	CuvetteCheck *bool   `json:"cuvette_check,omitempty"`

	// Display settings for the command line output.
	Units    *string `json:"units,omitempty"`
	Timezone *string `json:"timezone,omitempty"`
}

// LoadRunConfig reads and validates a configuration file. The file must have
// a .json extension and be at most 1 MiB.
func LoadRunConfig(path string) (*RunConfig, error) {
	clean := filepath.Clean(path)
	if ext := filepath.Ext(clean); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}
	info, err := os.Stat(clean)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxConfigSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigSize)
	}
	data, err := os.ReadFile(clean)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &RunConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the fields that are set.
func (c *RunConfig) Validate() error {
	if c.BlankCount != nil && *c.BlankCount < 1 {
		return fmt.Errorf("blank_count must be at least 1, got %d", *c.BlankCount)
	}
	if c.BaudRate != nil && *c.BaudRate <= 0 {
		return fmt.Errorf("baud_rate must be positive, got %d", *c.BaudRate)
	}
	if c.CommandTimeout != nil && *c.CommandTimeout != "" {
		d, err := time.ParseDuration(*c.CommandTimeout)
		if err != nil {
			return fmt.Errorf("invalid command_timeout '%s': %w", *c.CommandTimeout, err)
		}
		if d <= 0 {
			return fmt.Errorf("command_timeout must be positive, got %s", d)
		}
	}
	if c.DataDir != nil && *c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.Units != nil && !units.IsValid(*c.Units) {
		return fmt.Errorf("invalid units '%s': must be one of %s", *c.Units, units.GetValidUnitsString())
	}
	if c.Timezone != nil && !units.IsTimezoneValid(*c.Timezone) {
		return fmt.Errorf("invalid timezone '%s'", *c.Timezone)
	}
	return nil
}

func (c *RunConfig) GetBlankCount() int {
	if c.BlankCount == nil {
		return DefaultBlankCount
	}
	return *c.BlankCount
}

func (c *RunConfig) GetDataDir() string {
	if c.DataDir == nil {
		return DefaultDataDir
	}
	return *c.DataDir
}

func (c *RunConfig) GetSerialPort() string {
	if c.SerialPort == nil {
		return ""
	}
	return *c.SerialPort
}

func (c *RunConfig) GetSerialNumber() string {
	if c.SerialNumber == nil {
		return ""
	}
	return *c.SerialNumber
}

// GetPortOptions returns the serial settings; only the baud rate is
// configurable, framing is always 8N1.
func (c *RunConfig) GetPortOptions() serialport.PortOptions {
	opts := serialport.PortOptions{BaudRate: serialport.DefaultBaudRate, DataBits: 8, StopBits: 1, Parity: "N"}
	if c.BaudRate != nil && *c.BaudRate > 0 {
		opts.BaudRate = *c.BaudRate
	}
	return opts
}

// GetCommandTimeout returns the per-command response timeout.
func (c *RunConfig) GetCommandTimeout() time.Duration {
	if c.CommandTimeout == nil || *c.CommandTimeout == "" {
		return DefaultCommandTimeout
	}
	d, err := time.ParseDuration(*c.CommandTimeout)
	if err != nil || d <= 0 {
		return DefaultCommandTimeout
	}
	return d
}

// GetArchiveDB returns the sqlite archive path, or "" when archiving is off.
func (c *RunConfig) GetArchiveDB() string {
	if c.ArchiveDB == nil {
		return ""
	}
	return *c.ArchiveDB
}

func (c *RunConfig) GetListen() string {
	if c.Listen == nil || *c.Listen == "" {
		return DefaultListen
	}
	return *c.Listen
}

// GetCuvetteCheck reports whether guided runs confirm an empty holder
// before each baseline.
func (c *RunConfig) GetCuvetteCheck() bool {
	if c.CuvetteCheck == nil {
		return true
	}
	return *c.CuvetteCheck
}

// GetUnits returns the concentration display unit.
func (c *RunConfig) GetUnits() string {
	if c.Units == nil {
		return units.NgPerUl
	}
	return *c.Units
}

func (c *RunConfig) GetTimezone() string {
	if c.Timezone == nil {
		return "UTC"
	}
	return *c.Timezone
}
