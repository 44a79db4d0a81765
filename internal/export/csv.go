// Package export writes measurement logs as CSV for spreadsheets.
package export

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/banshee-data/evidense/internal/fsutil"
	"github.com/banshee-data/evidense/internal/scan"
	"github.com/banshee-data/evidense/internal/security"
	"github.com/banshee-data/evidense/internal/storage"
	"github.com/banshee-data/evidense/internal/wavelength"
)

// ErrOption is returned for an unknown mode or delimiter name.
var ErrOption = errors.New("invalid export option")

// Mode selects the exported columns.
type Mode string

const (
	// ModeResults exports the comment and the five result values.
	ModeResults Mode = "results"
	// ModeRaw exports the comment and every raw channel reading.
	ModeRaw Mode = "raw"
)

// ParseMode accepts "results" (or "") and "raw".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(ModeResults), "measurement":
		return ModeResults, nil
	case string(ModeRaw):
		return ModeRaw, nil
	}
	return "", fmt.Errorf("%w: mode %q", ErrOption, s)
}

// ParseDelimiter maps "comma", "semicolon" and "tab" (or the literal
// characters) to a field separator. The empty string means comma.
func ParseDelimiter(s string) (rune, error) {
	switch strings.ToLower(s) {
	case "", "comma", ",":
		return ',', nil
	case "semicolon", ";":
		return ';', nil
	case "tab", "\t", `\t`:
		return '\t', nil
	}
	return 0, fmt.Errorf("%w: delimiter %q", ErrOption, s)
}

// Options controls Write.
type Options struct {
	Mode      Mode
	Delimiter rune // zero means comma
}

var scanKeys = []string{"baseline", "air", "sample"}

// Header returns the column names for mode.
func Header(mode Mode) []string {
	if mode == ModeRaw {
		h := []string{"comment"}
		for _, key := range scanKeys {
			for _, c := range wavelength.Channels {
				h = append(h,
					fmt.Sprintf("%s %d sample", key, c.Nanometres()),
					fmt.Sprintf("%s %d reference", key, c.Nanometres()))
			}
		}
		return h
	}
	return []string{"comment", "dsDNA", "ssDNA", "ssRNA", "purity260/230", "purity260/280"}
}

// Row converts one record. In results mode a record without results is
// written as zeros.
func Row(mode Mode, r storage.Record) []string {
	row := []string{r.Triplet.Comment}
	if mode == ModeRaw {
		for _, s := range []scan.RawScan{r.Triplet.Baseline, r.Triplet.Air, r.Triplet.Sample} {
			for _, c := range wavelength.Channels {
				rd := s.Reading(c)
				row = append(row, formatRaw(rd.Sample), formatRaw(rd.Reference))
			}
		}
		return row
	}

	var vals [5]float64
	if r.Results != nil {
		vals = [5]float64{r.Results.DsDNA, r.Results.SsDNA, r.Results.SsRNA, r.Results.Purity260230, r.Results.Purity260280}
	}
	for _, v := range vals {
		row = append(row, strconv.FormatFloat(v, 'f', 6, 64))
	}
	return row
}

func formatRaw(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Write encodes every record of log to w.
func Write(w io.Writer, log *storage.Log, opts Options) error {
	mode := opts.Mode
	if mode == "" {
		mode = ModeResults
	}
	if mode != ModeResults && mode != ModeRaw {
		return fmt.Errorf("%w: mode %q", ErrOption, mode)
	}

	cw := csv.NewWriter(w)
	if opts.Delimiter != 0 {
		cw.Comma = opts.Delimiter
	}
	if err := cw.Write(Header(mode)); err != nil {
		return err
	}
	for _, r := range log.Records() {
		if err := cw.Write(Row(mode, r)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteFile exports log to path. The path must lie in the temp directory,
// the working directory or one of allowedDirs, and is replaced atomically.
func WriteFile(fsys fsutil.FileSystem, path string, log *storage.Log, opts Options, allowedDirs ...string) error {
	if err := security.ValidateOutputPath(path, allowedDirs...); err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := Write(&buf, log, opts); err != nil {
		return fmt.Errorf("encode csv: %w", err)
	}
	if fsys == nil {
		fsys = fsutil.OSFileSystem{}
	}
	if err := fsutil.WriteFileAtomic(fsys, path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
