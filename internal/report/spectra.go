// Package report renders measurement logs as static plots and HTML charts.
package report

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/evidense/internal/absorbance"
	"github.com/banshee-data/evidense/internal/fsutil"
	"github.com/banshee-data/evidense/internal/results"
	"github.com/banshee-data/evidense/internal/scan"
	"github.com/banshee-data/evidense/internal/storage"
	"github.com/banshee-data/evidense/internal/wavelength"
)

// ErrNoData is returned when there is nothing to draw.
var ErrNoData = errors.New("no plottable records")

// Spectrum is the absorbance of one record across the four wavelengths.
type Spectrum struct {
	Label string
	// Corrected is true when Absorbance went through the V7 correction.
	Corrected  bool
	Absorbance wavelength.Vector
}

// Spectra returns one spectrum per record. When the log holds at least
// blankCount records (and blankCount > 0) the spectra are V7 corrected with
// factors averaged from those blanks; otherwise the plain air-to-sample
// absorbance is used.
func Spectra(log *storage.Log, blankCount int) []Spectrum {
	records := log.Records()

	var factors *absorbance.CorrectionFactors
	if blankCount > 0 && len(records) >= blankCount {
		blanks := make([]scan.Triplet, blankCount)
		for i := range blanks {
			blanks[i] = records[i].Triplet
		}
		if f, ok := absorbance.MeanFactors(blanks); ok {
			factors = &f
		}
	}

	out := make([]Spectrum, 0, len(records))
	for i, r := range records {
		label := r.Triplet.Comment
		if label == "" {
			label = fmt.Sprintf("#%d", i+1)
		}
		s := Spectrum{Label: label}
		if factors != nil {
			s.Absorbance = results.ApplyV7(r.Triplet, *factors)
			s.Corrected = true
		} else {
			s.Absorbance = absorbance.Compute(r.Triplet.Air, r.Triplet.Sample)
		}
		out = append(out, s)
	}
	return out
}

// SpectraPlot builds the absorbance-vs-wavelength plot. Non-finite values
// are left out of their line.
func SpectraPlot(spectra []Spectrum) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = "Absorbance spectra"
	p.X.Label.Text = "Wavelength (nm)"
	p.Y.Label.Text = "Absorbance (OD)"
	p.X.Min, p.X.Max = 220, 350
	p.Add(plotter.NewGrid())

	drawn := 0
	for i, s := range spectra {
		if s.Corrected {
			p.Y.Label.Text = "Corrected absorbance (OD)"
		}
		pts := make(plotter.XYs, 0, len(wavelength.Channels))
		for _, c := range wavelength.Channels {
			v := s.Absorbance.At(c)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			pts = append(pts, plotter.XY{X: float64(c.Nanometres()), Y: v})
		}
		if len(pts) == 0 {
			continue
		}
		line, points, err := plotter.NewLinePoints(pts)
		if err != nil {
			return nil, fmt.Errorf("spectrum %q: %w", s.Label, err)
		}
		line.Color = plotutil.Color(i)
		line.Width = vg.Points(1.5)
		points.Color = plotutil.Color(i)
		points.Shape = plotutil.Shape(i)
		p.Add(line, points)
		p.Legend.Add(s.Label, line, points)
		drawn++
	}
	if drawn == 0 {
		return nil, ErrNoData
	}
	p.Legend.Top = true
	p.Legend.XOffs = -10
	return p, nil
}

// FormatFor picks the image format from a file extension: png, svg or pdf.
func FormatFor(path string) (string, error) {
	switch ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), ".")); ext {
	case "png", "svg", "pdf":
		return ext, nil
	default:
		return "", fmt.Errorf("unsupported plot format %q", ext)
	}
}

// WriteSpectra renders the spectra of log to w in format.
func WriteSpectra(w io.Writer, log *storage.Log, blankCount int, format string) error {
	p, err := SpectraPlot(Spectra(log, blankCount))
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(8*vg.Inch, 5*vg.Inch, format)
	if err != nil {
		return fmt.Errorf("render plot: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}

// PlotSpectra saves the spectra plot to path, choosing the format by
// extension.
func PlotSpectra(fsys fsutil.FileSystem, path string, log *storage.Log, blankCount int) error {
	format, err := FormatFor(path)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := WriteSpectra(&buf, log, blankCount, format); err != nil {
		return err
	}
	if fsys == nil {
		fsys = fsutil.OSFileSystem{}
	}
	return fsutil.WriteFileAtomic(fsys, path, buf.Bytes(), 0o644)
}
