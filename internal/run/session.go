package run

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/banshee-data/evidense/internal/absorbance"
	"github.com/banshee-data/evidense/internal/fsutil"
	"github.com/banshee-data/evidense/internal/instrument"
	"github.com/banshee-data/evidense/internal/jsonutil"
	"github.com/banshee-data/evidense/internal/monitoring"
	"github.com/banshee-data/evidense/internal/scan"
	"github.com/banshee-data/evidense/internal/security"
	"github.com/banshee-data/evidense/internal/storage"
)

// ErrNoSession is returned by LoadSession when no run has been initialised.
var ErrNoSession = errors.New("no run in progress")

// Event is one entry of the session history.
type Event struct {
	Time time.Time `json:"time"`
	Text string    `json:"text"`
}

// Session is the controller state that must survive between separate
// invocations of the command line tool. The measurement log itself lives in
// DataFile.
type Session struct {
	RunID           string                        `json:"run_id"`
	SerialNumber    string                        `json:"serial_number,omitempty"`
	FirmwareVersion string                        `json:"firmware_version,omitempty"`
	CreatedAt       time.Time                     `json:"created_at"`
	BlankCount      int                           `json:"blank_count"`
	State           State                         `json:"state"`
	Count           int                           `json:"count"`
	DataFile        string                        `json:"data_file"`
	Baseline        *scan.RawScan                 `json:"baseline,omitempty"`
	Air             *scan.RawScan                 `json:"air,omitempty"`
	Factors         *absorbance.CorrectionFactors `json:"factors,omitempty"`
	Spread          *absorbance.Spread            `json:"spread,omitempty"`
	Log             []Event                       `json:"log"`
}

// Session snapshots the controller.
func (c *Controller) Session() Session {
	s := Session{
		RunID:           c.info.RunID,
		SerialNumber:    c.info.SerialNumber,
		FirmwareVersion: c.info.FirmwareVersion,
		CreatedAt:       c.info.CreatedAt,
		BlankCount:      c.blankCount,
		State:           c.state,
		Count:           c.log.Count(),
		DataFile:        c.outputPath,
		Log:             append([]Event{}, c.events...),
	}
	if c.pendingBaseline != nil {
		b := *c.pendingBaseline
		s.Baseline = &b
	}
	if c.pendingAir != nil {
		a := *c.pendingAir
		s.Air = &a
	}
	if c.factors != nil {
		f := *c.factors
		s.Factors = &f
	}
	if c.spread != nil {
		sp := *c.spread
		s.Spread = &sp
	}
	return s
}

// Save writes the session as JSON, replacing path atomically.
func (s Session) Save(fsys fsutil.FileSystem, path string) error {
	data, err := jsonutil.MarshalPretty(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := fsutil.WriteFileAtomic(fsys, path, data, 0o644); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// LoadSession reads a session written by Save.
func LoadSession(fsys fsutil.FileSystem, path string) (*Session, error) {
	data, err := fsys.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s not found", ErrNoSession, path)
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: session %s: %v", storage.ErrParse, path, err)
	}
	if s.BlankCount < 1 || s.DataFile == "" {
		return nil, fmt.Errorf("%w: session %s is incomplete", storage.ErrParse, path)
	}
	return &s, nil
}

// Resume rebuilds a controller from a saved session and its data file. The
// data file may be missing only if the session has not logged any record.
func Resume(s *Session, inst instrument.Instrument, opts Options) (*Controller, error) {
	if opts.FS == nil {
		opts.FS = fsutil.OSFileSystem{}
	}

	log := opts.Log
	if log == nil {
		loaded, err := storage.Load(opts.FS, s.DataFile)
		switch {
		case err == nil:
			log = loaded
		case errors.Is(err, fs.ErrNotExist) && s.Count == 0:
			log = storage.New()
		default:
			return nil, err
		}
	}
	if log.Count() != s.Count {
		monitoring.Logf("run: %s holds %d record(s), session expected %d", s.DataFile, log.Count(), s.Count)
	}
	opts.Log = log
	if opts.SerialNumber == "" {
		opts.SerialNumber = s.SerialNumber
	}
	if opts.FirmwareVersion == "" {
		opts.FirmwareVersion = s.FirmwareVersion
	}

	c, err := NewWithOptions(s.BlankCount, s.DataFile, inst, opts)
	if err != nil {
		return nil, err
	}
	if s.RunID != "" {
		c.info.RunID = s.RunID
	}
	if !s.CreatedAt.IsZero() {
		c.info.CreatedAt = s.CreatedAt
	}
	c.state = s.State
	c.pendingBaseline = s.Baseline
	c.pendingAir = s.Air
	c.factors = s.Factors
	c.spread = s.Spread
	c.events = append(c.events, s.Log...)
	return c, nil
}

// DataFileName returns the default data file name for a run started at t on
// the instrument with the given serial number.
func DataFileName(serial string, t time.Time) string {
	return fmt.Sprintf("evidense-SN%s-%s.json", security.SanitizeFilename(serial), t.Format("2006_01_02_15_04_05"))
}

// SessionFileName returns the session file kept in the data directory.
func SessionFileName(dir string) string {
	return filepath.Join(dir, ".evidense-run.json")
}

// IsDataFile reports whether name looks like a file produced by DataFileName.
func IsDataFile(name string) bool {
	base := filepath.Base(name)
	return strings.HasPrefix(base, "evidense-SN") && strings.HasSuffix(base, ".json")
}
