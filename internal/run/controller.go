// Package run drives a guided acquisition: baseline, air and sample scans in a
// fixed cycle, one-time calibration from the first blanks, retroactive results
// and persistence after every step.
package run

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/evidense/internal/absorbance"
	"github.com/banshee-data/evidense/internal/fsutil"
	"github.com/banshee-data/evidense/internal/instrument"
	"github.com/banshee-data/evidense/internal/monitoring"
	"github.com/banshee-data/evidense/internal/results"
	"github.com/banshee-data/evidense/internal/scan"
	"github.com/banshee-data/evidense/internal/storage"
	"github.com/banshee-data/evidense/internal/timeutil"
)

// ErrPrecondition reports a violated controller invariant. It indicates a
// bug, not an operator or instrument problem.
var ErrPrecondition = errors.New("run precondition violated")

// ErrNotPersisted reports a step whose scan was acquired and kept in memory
// but whose data or session file could not be written. The next successful
// step writes the whole log again.
var ErrNotPersisted = errors.New("step acquired but not saved")

// Info identifies a run for archiving.
type Info struct {
	RunID           string
	SerialNumber    string
	FirmwareVersion string
	BlankCount      int
	DataFile        string
	CreatedAt       time.Time
}

// Archiver mirrors the log to secondary storage after each persisted step.
type Archiver interface {
	ArchiveRun(ctx context.Context, info Info, records []storage.Record) error
}

// Options carries the optional collaborators of a Controller.
type Options struct {
	// FS is used for the data and session files; nil means the OS filesystem.
	FS fsutil.FileSystem
	// Clock stamps records and session events; nil means the real clock.
	Clock timeutil.Clock
	// Log continues an existing log instead of starting empty.
	Log *storage.Log
	// SessionPath, when set, receives the session state after every step.
	SessionPath string
	// Archive, when set, mirrors every persisted log. Failures are logged.
	Archive Archiver

	SerialNumber    string
	FirmwareVersion string
}

// Controller runs the acquisition state machine. It owns its log
// exclusively and is not safe for concurrent use.
type Controller struct {
	blankCount int
	outputPath string
	inst       instrument.Instrument
	opts       Options
	log        *storage.Log
	clock      timeutil.Clock

	info            Info
	state           State
	pendingBaseline *scan.RawScan
	pendingAir      *scan.RawScan
	factors         *absorbance.CorrectionFactors
	spread          *absorbance.Spread
	events          []Event
}

// New starts a run that calibrates from the first blankCount records and
// saves the log to outputPath after every step.
func New(blankCount int, outputPath string, inst instrument.Instrument) (*Controller, error) {
	return NewWithOptions(blankCount, outputPath, inst, Options{})
}

// NewWithOptions is New with optional collaborators.
func NewWithOptions(blankCount int, outputPath string, inst instrument.Instrument, opts Options) (*Controller, error) {
	if blankCount < 1 {
		return nil, fmt.Errorf("%w: blank count must be at least 1, got %d", ErrPrecondition, blankCount)
	}
	if outputPath == "" {
		return nil, fmt.Errorf("%w: output path is required", ErrPrecondition)
	}
	if inst == nil {
		return nil, fmt.Errorf("%w: instrument is required", ErrPrecondition)
	}
	if opts.FS == nil {
		opts.FS = fsutil.OSFileSystem{}
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}

	log := opts.Log
	if log == nil {
		log = storage.New()
	}
	log.FS = opts.FS
	log.Clock = opts.Clock

	c := &Controller{
		blankCount: blankCount,
		outputPath: outputPath,
		inst:       inst,
		opts:       opts,
		log:        log,
		clock:      opts.Clock,
		state:      AwaitingBaseline,
		info: Info{
			RunID:           uuid.NewString(),
			SerialNumber:    opts.SerialNumber,
			FirmwareVersion: opts.FirmwareVersion,
			BlankCount:      blankCount,
			DataFile:        outputPath,
			CreatedAt:       opts.Clock.Now().UTC(),
		},
	}
	return c, nil
}

// State returns the step performed by the next call to Step.
func (c *Controller) State() State { return c.state }

// BlankCount returns the number of blank records used for calibration.
func (c *Controller) BlankCount() int { return c.blankCount }

// OutputPath returns the data file path.
func (c *Controller) OutputPath() string { return c.outputPath }

// Info returns the run identity.
func (c *Controller) Info() Info { return c.info }

// Log returns the controller's log. Callers must not modify it.
func (c *Controller) Log() *storage.Log { return c.log }

// Factors returns the calibration factors once they have been computed.
func (c *Controller) Factors() (absorbance.CorrectionFactors, bool) {
	if c.factors == nil {
		return absorbance.CorrectionFactors{}, false
	}
	return *c.factors, true
}

// Spread returns the blank replicate statistics once calibration ran.
func (c *Controller) Spread() (absorbance.Spread, bool) {
	if c.spread == nil {
		return absorbance.Spread{}, false
	}
	return *c.spread, true
}

// NextComment is the default comment for the record the current cycle will
// produce.
func (c *Controller) NextComment() string {
	return DefaultComment(c.log.Count(), c.blankCount)
}

// Step performs exactly one acquisition for the current state. On an
// instrument failure the state, pending scans and log are left unchanged.
// After a successful acquisition results are recalculated and the log is
// saved; comment is only used by the sample step.
//
// A save failure is reported wrapped in ErrNotPersisted. The step has then
// already taken effect: the state has advanced and any record is in the log.
func (c *Controller) Step(ctx context.Context, comment string) error {
	switch c.state {
	case AwaitingBaseline:
		s, err := c.inst.BaselineScan(ctx)
		if err != nil {
			return fmt.Errorf("baseline scan: %w", err)
		}
		c.pendingBaseline = &s
		c.pendingAir = nil
		c.event("baseline acquired")

	case AwaitingAir:
		s, err := c.inst.MeasurementScan(ctx)
		if err != nil {
			return fmt.Errorf("air scan: %w", err)
		}
		c.pendingAir = &s
		c.event("air acquired")

	case AwaitingSample:
		if c.pendingBaseline == nil || c.pendingAir == nil {
			return fmt.Errorf("%w: sample step without pending baseline and air scans", ErrPrecondition)
		}
		s, err := c.inst.MeasurementScan(ctx)
		if err != nil {
			return fmt.Errorf("sample scan: %w", err)
		}
		lines, err := c.inst.DrainLogLines(ctx)
		if err != nil {
			return fmt.Errorf("instrument log: %w", err)
		}
		idx := c.log.AppendRecord(storage.Record{
			Triplet: scan.Triplet{
				Baseline: *c.pendingBaseline,
				Air:      *c.pendingAir,
				Sample:   s,
				Comment:  comment,
			},
			Logging: lines,
		})
		c.pendingBaseline, c.pendingAir = nil, nil
		c.event(fmt.Sprintf("record %d appended: %q", idx, comment))

	default:
		return fmt.Errorf("%w: unknown state %v", ErrPrecondition, c.state)
	}

	c.state = c.state.Next()
	monitoring.Debugf("run: %s now %s", c.info.RunID, c.state)

	c.Recalculate()
	return c.persist(ctx)
}

// Recalculate computes the calibration factors once enough blanks are
// logged and attaches results to every record still lacking them. Factors
// are computed exactly once per run. It returns the number of records that
// received results.
func (c *Controller) Recalculate() int {
	if c.factors == nil && c.log.Count() >= c.blankCount {
		blanks := make([]scan.Triplet, c.blankCount)
		for i := range blanks {
			r, err := c.log.Get(i)
			if err != nil {
				monitoring.Logf("run: read blank %d: %v", i, err)
				return 0
			}
			blanks[i] = r.Triplet
		}
		f, _ := absorbance.MeanFactors(blanks)
		spread := absorbance.ReplicateSpread(blanks)
		c.factors, c.spread = &f, &spread
		monitoring.Logf("run: calibrated from %d blank(s): air/blank %v, 340/nnn %v, cv %v",
			c.blankCount, f.AirToBlank, f.F340ToNNN, spread.CV)
		c.event(fmt.Sprintf("calibrated from %d blank(s)", c.blankCount))
	}
	if c.factors == nil {
		return 0
	}

	filled := 0
	for i := 0; i < c.log.Count(); i++ {
		r, err := c.log.Get(i)
		if err != nil || r.HasResults() {
			continue
		}
		if err := c.log.SetResults(i, results.Compute(r.Triplet, *c.factors)); err == nil {
			filled++
		}
	}
	if filled > 0 {
		monitoring.Debugf("run: attached results to %d record(s)", filled)
	}
	return filled
}

// IsCuvetteEmpty asks the instrument whether the cuvette holder is empty.
func (c *Controller) IsCuvetteEmpty(ctx context.Context) (bool, error) {
	empty, err := c.inst.IsCuvetteHolderEmpty(ctx)
	if err != nil {
		return false, fmt.Errorf("cuvette check: %w", err)
	}
	return empty, nil
}

// persist saves the log, then the session, then mirrors to the archive.
// A failed save leaves the previous files intact; the next step retries.
func (c *Controller) persist(ctx context.Context) error {
	if err := c.log.Save(c.outputPath); err != nil {
		return fmt.Errorf("%w: %w", ErrNotPersisted, err)
	}
	if c.opts.SessionPath != "" {
		s := c.Session()
		if err := s.Save(c.opts.FS, c.opts.SessionPath); err != nil {
			return fmt.Errorf("%w: %w", ErrNotPersisted, err)
		}
	}
	if c.opts.Archive != nil {
		if err := c.opts.Archive.ArchiveRun(ctx, c.info, c.log.Records()); err != nil {
			monitoring.Logf("run: archive %s: %v", c.info.RunID, err)
		}
	}
	return nil
}

func (c *Controller) event(text string) {
	c.events = append(c.events, Event{Time: c.clock.Now().UTC(), Text: text})
}

// DefaultComment labels record index: "Blank #n" for the first blankCount
// records and "Sample #n" afterwards, each numbered from 1.
func DefaultComment(index, blankCount int) string {
	if index < blankCount {
		return fmt.Sprintf("Blank #%d", index+1)
	}
	return fmt.Sprintf("Sample #%d", index-blankCount+1)
}
