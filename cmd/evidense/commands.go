package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/banshee-data/evidense/internal/db"
	"github.com/banshee-data/evidense/internal/export"
	"github.com/banshee-data/evidense/internal/instrument"
	"github.com/banshee-data/evidense/internal/monitoring"
	"github.com/banshee-data/evidense/internal/report"
	"github.com/banshee-data/evidense/internal/run"
	"github.com/banshee-data/evidense/internal/security"
	"github.com/banshee-data/evidense/internal/storage"
	"github.com/banshee-data/evidense/internal/units"
	"github.com/banshee-data/evidense/internal/version"
)

// connect returns the configured instrument and a function releasing it.
func (a *app) connect(ctx context.Context) (instrument.Instrument, func(), error) {
	if a.sim != nil {
		return a.sim, func() {}, nil
	}
	opts := a.cfg.GetPortOptions()
	timeout := a.cfg.GetCommandTimeout()
	if path := a.cfg.GetSerialPort(); path != "" {
		c, err := instrument.Open(a.factory, path, opts, timeout)
		if err != nil {
			return nil, nil, err
		}
		return c, func() { c.Close() }, nil
	}
	c, path, err := instrument.Discover(ctx, a.factory, a.cfg.GetSerialNumber(), opts, timeout)
	if err != nil {
		return nil, nil, err
	}
	monitoring.Debugf("using instrument on %s", path)
	return c, func() { c.Close() }, nil
}

func identify(ctx context.Context, inst instrument.Instrument) (serial, firmware string, err error) {
	if serial, err = inst.SerialNumber(ctx); err != nil {
		return "", "", err
	}
	if firmware, err = inst.FirmwareVersion(ctx); err != nil {
		return "", "", err
	}
	return serial, firmware, nil
}

// openArchive opens the archive database when one is configured.
func (a *app) openArchive() (*db.DB, error) {
	path := a.cfg.GetArchiveDB()
	if path == "" {
		return nil, nil
	}
	return db.Open(path)
}

func (a *app) sessionPath() string {
	return run.SessionFileName(a.cfg.GetDataDir())
}

// newRun starts a controller for blankCount blanks. An empty file selects
// the default data file name in the data directory.
func (a *app) newRun(ctx context.Context, inst instrument.Instrument, blankCount int, file string, archive run.Archiver) (*run.Controller, error) {
	sn, fw, err := identify(ctx, inst)
	if err != nil {
		return nil, err
	}
	dataDir := a.cfg.GetDataDir()
	if err := a.fs.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	if file == "" {
		file = filepath.Join(dataDir, run.DataFileName(sn, a.clock.Now()))
	}
	if err := security.ValidateOutputPath(file, dataDir); err != nil {
		return nil, err
	}
	if a.fs.Exists(a.sessionPath()) {
		monitoring.Logf("replacing the run in progress in %s", dataDir)
	}
	return run.NewWithOptions(blankCount, file, inst, run.Options{
		FS:              a.fs,
		Clock:           a.clock,
		SessionPath:     a.sessionPath(),
		Archive:         archive,
		SerialNumber:    sn,
		FirmwareVersion: fw,
	})
}

func parseBlankCount(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%w: blank count must be a positive integer, got %q", errUnknownArg, s)
	}
	return n, nil
}

func (a *app) runInit(ctx context.Context, args []string) error {
	flags := newFlagSet("run init", a.stderr)
	file := flags.String("file", "", "Data file (default: evidense-SN<serial>-<time>.json in the data directory)")
	pos, err := parseArgs(flags, args)
	if err != nil {
		return err
	}
	if len(pos) != 1 {
		return fmt.Errorf("%w: run init takes the number of blanks", errUnknownArg)
	}
	n, err := parseBlankCount(pos[0])
	if err != nil {
		return err
	}

	inst, release, err := a.connect(ctx)
	if err != nil {
		return err
	}
	defer release()

	c, err := a.newRun(ctx, inst, n, *file, nil)
	if err != nil {
		return err
	}
	if err := c.Session().Save(a.fs, a.sessionPath()); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "Run %s started with %d blank(s), saving to %s\n", c.Info().RunID, n, c.OutputPath())
	fmt.Fprintln(a.stdout, c.State().Prompt())
	return nil
}

// resume rebuilds the run in progress from the session file.
func (a *app) resume(ctx context.Context) (*run.Controller, func(), error) {
	s, err := run.LoadSession(a.fs, a.sessionPath())
	if err != nil {
		return nil, nil, err
	}
	inst, release, err := a.connect(ctx)
	if err != nil {
		return nil, nil, err
	}
	opts := run.Options{FS: a.fs, Clock: a.clock, SessionPath: a.sessionPath()}
	arch, err := a.openArchive()
	if err != nil {
		release()
		return nil, nil, err
	}
	if arch != nil {
		opts.Archive = arch
		release = closeBoth(release, arch)
	}
	c, err := run.Resume(s, inst, opts)
	if err != nil {
		release()
		return nil, nil, err
	}
	return c, release, nil
}

func closeBoth(release func(), c io.Closer) func() {
	return func() {
		release()
		if err := c.Close(); err != nil {
			monitoring.Logf("close archive: %v", err)
		}
	}
}

func (a *app) runMeasure(ctx context.Context, args []string) error {
	pos, err := parseArgs(newFlagSet("run measure", a.stderr), args)
	if err != nil {
		return err
	}
	c, release, err := a.resume(ctx)
	if err != nil {
		return err
	}
	defer release()

	comment := strings.Join(pos, " ")
	if comment == "" {
		comment = c.NextComment()
	}
	return a.step(ctx, c, comment)
}

// step performs one acquisition and reports it.
func (a *app) step(ctx context.Context, c *run.Controller, comment string) error {
	state := c.State()
	if err := c.Step(ctx, comment); err != nil {
		return err
	}
	switch state {
	case run.AwaitingBaseline:
		fmt.Fprintln(a.stdout, "Baseline recorded.")
	case run.AwaitingAir:
		fmt.Fprintln(a.stdout, "Air recorded.")
	case run.AwaitingSample:
		idx := c.Log().Count() - 1
		rec, err := c.Log().Get(idx)
		if err != nil {
			return err
		}
		a.printRecord(idx, rec)
	}
	fmt.Fprintln(a.stdout, c.State().Prompt())
	return nil
}

func (a *app) printRecord(idx int, rec storage.Record) {
	if !rec.HasResults() {
		fmt.Fprintf(a.stdout, "#%d %s: awaiting calibration\n", idx, rec.Triplet.Comment)
		return
	}
	r, u := rec.Results, a.cfg.GetUnits()
	fmt.Fprintf(a.stdout, "#%d %s: dsDNA %.2f %s, ssDNA %.2f %s, ssRNA %.2f %s, 260/230 %.2f, 260/280 %.2f\n",
		idx, rec.Triplet.Comment,
		units.ConvertConcentration(r.DsDNA, u), u,
		units.ConvertConcentration(r.SsDNA, u), u,
		units.ConvertConcentration(r.SsRNA, u), u,
		r.Purity260230, r.Purity260280)
}

func (a *app) runCheckEmpty(ctx context.Context, args []string) error {
	pos, err := parseArgs(newFlagSet("run checkempty", a.stderr), args)
	if err != nil {
		return err
	}
	if len(pos) > 0 {
		return fmt.Errorf("%w: %s", errUnknownArg, pos[0])
	}
	inst, release, err := a.connect(ctx)
	if err != nil {
		return err
	}
	defer release()

	empty, err := inst.IsCuvetteHolderEmpty(ctx)
	if err != nil {
		return err
	}
	if empty {
		fmt.Fprintln(a.stdout, "Cuvette holder is empty.")
	} else {
		fmt.Fprintln(a.stdout, "Cuvette holder is not empty.")
	}
	return nil
}

// exportFlags registers the CSV options on flags; the returned function
// parses them once flags has been parsed.
func exportFlags(flags *flag.FlagSet) func() (export.Options, error) {
	mode := flags.String("mode", string(export.ModeResults), "Columns to export: results or raw")
	delim := flags.String("delimiter", "comma", "Field delimiter: comma, semicolon or tab")
	return func() (export.Options, error) {
		m, err := export.ParseMode(*mode)
		if err != nil {
			return export.Options{}, err
		}
		d, err := export.ParseDelimiter(*delim)
		if err != nil {
			return export.Options{}, err
		}
		return export.Options{Mode: m, Delimiter: d}, nil
	}
}

func (a *app) runExport(args []string) error {
	flags := newFlagSet("run export", a.stderr)
	options := exportFlags(flags)
	pos, err := parseArgs(flags, args)
	if err != nil {
		return err
	}
	if len(pos) > 0 {
		return fmt.Errorf("%w: %s", errUnknownArg, pos[0])
	}
	opts, err := options()
	if err != nil {
		return err
	}
	s, err := run.LoadSession(a.fs, a.sessionPath())
	if err != nil {
		return err
	}
	out := strings.TrimSuffix(s.DataFile, filepath.Ext(s.DataFile)) + ".csv"
	return a.exportTo(s.DataFile, out, opts, filepath.Dir(s.DataFile))
}

func (a *app) export(args []string) error {
	flags := newFlagSet("export", a.stderr)
	options := exportFlags(flags)
	pos, err := parseArgs(flags, args)
	if err != nil {
		return err
	}
	if len(pos) != 2 {
		return fmt.Errorf("%w: export takes an input and an output file", errUnknownArg)
	}
	opts, err := options()
	if err != nil {
		return err
	}
	return a.exportTo(pos[0], pos[1], opts, a.cfg.GetDataDir())
}

func (a *app) exportTo(in, out string, opts export.Options, allowedDir string) error {
	log, err := storage.Load(a.fs, in)
	if err != nil {
		return err
	}
	if err := export.WriteFile(a.fs, out, log, opts, allowedDir); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "Exported %d record(s) to %s\n", log.Count(), out)
	return nil
}

func (a *app) plot(args []string) error {
	flags := newFlagSet("plot", a.stderr)
	blanks := flags.Int("blanks", a.cfg.GetBlankCount(), "Blanks to calibrate from; 0 plots uncorrected absorbance")
	pos, err := parseArgs(flags, args)
	if err != nil {
		return err
	}
	if len(pos) != 2 {
		return fmt.Errorf("%w: plot takes an input and an output file", errUnknownArg)
	}
	if _, err := report.FormatFor(pos[1]); err != nil {
		return fmt.Errorf("%w: %v", errUnknownArg, err)
	}
	log, err := storage.Load(a.fs, pos[0])
	if err != nil {
		return err
	}
	if err := security.ValidateOutputPath(pos[1], a.cfg.GetDataDir()); err != nil {
		return err
	}
	if err := report.PlotSpectra(a.fs, pos[1], log, *blanks); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "Plotted %d record(s) to %s\n", log.Count(), pos[1])
	return nil
}

func (a *app) guided(ctx context.Context, args []string) error {
	flags := newFlagSet("guided", a.stderr)
	file := flags.String("file", "", "Data file (default: evidense-SN<serial>-<time>.json in the data directory)")
	pos, err := parseArgs(flags, args)
	if err != nil {
		return err
	}
	if len(pos) != 1 {
		return fmt.Errorf("%w: guided takes the number of blanks", errUnknownArg)
	}
	n, err := parseBlankCount(pos[0])
	if err != nil {
		return err
	}

	inst, release, err := a.connect(ctx)
	if err != nil {
		return err
	}
	defer release()

	var archive run.Archiver
	arch, err := a.openArchive()
	if err != nil {
		return err
	}
	if arch != nil {
		defer arch.Close()
		archive = arch
	}
	c, err := a.newRun(ctx, inst, n, *file, archive)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "Run %s with %d blank(s), saving to %s\n", c.Info().RunID, n, c.OutputPath())

	in := bufio.NewScanner(a.stdin)
	for ctx.Err() == nil {
		state := c.State()
		if state == run.AwaitingSample {
			fmt.Fprintf(a.stdout, "%s\nComment [%s], q to finish: ", state.Prompt(), c.NextComment())
		} else {
			fmt.Fprintf(a.stdout, "%s\nPress Enter, q to finish: ", state.Prompt())
		}
		if !in.Scan() {
			break
		}
		line := strings.TrimSpace(in.Text())
		if line == "q" {
			break
		}

		if state == run.AwaitingBaseline && a.cfg.GetCuvetteCheck() {
			empty, err := c.IsCuvetteEmpty(ctx)
			if err != nil {
				return err
			}
			if !empty {
				fmt.Fprintln(a.stdout, "The cuvette holder is not empty.")
				continue
			}
		}

		comment := line
		if comment == "" {
			comment = c.NextComment()
		}
		if err := a.step(ctx, c, comment); err != nil {
			if errors.Is(err, instrument.ErrCommunication) {
				fmt.Fprintf(a.stdout, "Step failed: %v\n", err)
				continue
			}
			if errors.Is(err, run.ErrNotPersisted) {
				fmt.Fprintf(a.stdout, "Step recorded but not saved, the next step retries: %v\n", err)
				continue
			}
			return err
		}
	}
	if err := in.Err(); err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	fmt.Fprintln(a.stdout)
	a.printSummary(c.Log())
	return ctx.Err()
}

// printSummary prints one row per record, concentrations in the configured
// units and times in the configured timezone.
func (a *app) printSummary(log *storage.Log) {
	u, tz := a.cfg.GetUnits(), a.cfg.GetTimezone()
	tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "#\ttime\tcomment\tdsDNA [%s]\tssDNA [%s]\tssRNA [%s]\t260/230\t260/280\n", u, u, u)
	for i, rec := range log.Records() {
		when := "-"
		if t, err := units.ConvertTime(rec.DateTime, tz); err == nil && !rec.DateTime.IsZero() {
			when = t.Format("2006-01-02 15:04:05")
		}
		if !rec.HasResults() {
			fmt.Fprintf(tw, "%d\t%s\t%s\t-\t-\t-\t-\t-\n", i, when, rec.Triplet.Comment)
			continue
		}
		r := rec.Results
		fmt.Fprintf(tw, "%d\t%s\t%s\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\n",
			i, when, rec.Triplet.Comment,
			units.ConvertConcentration(r.DsDNA, u),
			units.ConvertConcentration(r.SsDNA, u),
			units.ConvertConcentration(r.SsRNA, u),
			r.Purity260230, r.Purity260280)
	}
	tw.Flush()
}

func (a *app) info(args []string) error {
	if len(args) > 0 {
		return fmt.Errorf("%w: %s", errUnknownArg, args[0])
	}
	fmt.Fprintln(a.stdout, version.String())
	fmt.Fprintf(a.stdout, "data directory: %s\n", a.cfg.GetDataDir())
	switch {
	case a.dev:
		fmt.Fprintf(a.stdout, "instrument: simulator SN %s\n", a.sim.Serial)
	case a.cfg.GetSerialPort() != "":
		fmt.Fprintf(a.stdout, "instrument: %s (%s)\n", a.cfg.GetSerialPort(), a.cfg.GetPortOptions())
	case a.cfg.GetSerialNumber() != "":
		fmt.Fprintf(a.stdout, "instrument: discover SN %s\n", a.cfg.GetSerialNumber())
	default:
		fmt.Fprintln(a.stdout, "instrument: discover any")
	}
	if path := a.cfg.GetArchiveDB(); path != "" {
		fmt.Fprintf(a.stdout, "archive: %s\n", path)
	}

	s, err := run.LoadSession(a.fs, a.sessionPath())
	if errors.Is(err, run.ErrNoSession) {
		fmt.Fprintln(a.stdout, "no run in progress")
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "run %s: %d record(s), %d blank(s), %s\n", s.RunID, s.Count, s.BlankCount, s.State)
	fmt.Fprintf(a.stdout, "data file: %s\n", s.DataFile)
	if s.Factors != nil {
		fmt.Fprintln(a.stdout, "calibrated: yes")
	} else {
		fmt.Fprintln(a.stdout, "calibrated: no")
	}
	if len(s.Log) > 0 {
		last := s.Log[len(s.Log)-1]
		when, _ := units.ConvertTime(last.Time, a.cfg.GetTimezone())
		fmt.Fprintf(a.stdout, "last event: %s %s\n", when.Format("2006-01-02 15:04:05 MST"), last.Text)
	}
	return nil
}

func (a *app) version(args []string) error {
	if len(args) > 0 {
		return fmt.Errorf("%w: %s", errUnknownArg, args[0])
	}
	fmt.Fprintln(a.stdout, version.String())
	return nil
}
