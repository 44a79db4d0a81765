package report

import (
	"bytes"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/evidense/internal/absorbance"
	"github.com/banshee-data/evidense/internal/fsutil"
	"github.com/banshee-data/evidense/internal/results"
	"github.com/banshee-data/evidense/internal/scan"
	"github.com/banshee-data/evidense/internal/storage"
	"github.com/banshee-data/evidense/internal/testutil"
	"github.com/banshee-data/evidense/internal/timeutil"
	"github.com/banshee-data/evidense/internal/wavelength"
)

// triplet builds a scan set whose sample absorbs a (per channel, in OD)
// relative to air.
func triplet(a wavelength.Vector) scan.Triplet {
	lamp := wavelength.New(40000, 50000, 48000, 39000)
	ref := wavelength.New(30000, 31000, 32000, 33000)
	mk := func(s wavelength.Vector) scan.RawScan {
		var v [8]float64
		for i, c := range wavelength.Channels {
			v[2*i] = s.At(c)
			v[2*i+1] = ref.At(c)
		}
		return scan.FromValues(v)
	}
	var smp [4]float64
	for i, c := range wavelength.Channels {
		smp[i] = lamp.At(c) / math.Pow(10, a.At(c))
	}
	return scan.Triplet{Baseline: mk(lamp), Air: mk(lamp), Sample: mk(wavelength.FromArray(smp))}
}

func testLog(t *testing.T) *storage.Log {
	t.Helper()
	l := storage.New()
	l.Clock = timeutil.NewMockClock(time.Date(2024, 2, 1, 8, 0, 0, 0, time.UTC))
	l.Append(triplet(wavelength.New(0.02, 0.01, 0.01, 0.005)), "Blank #1")
	l.Append(triplet(wavelength.New(0.35, 0.7, 0.37, 0.005)), "Sample #1")
	f, ok := absorbance.MeanFactors([]scan.Triplet{l.Records()[0].Triplet})
	require.True(t, ok)
	for i, r := range l.Records() {
		require.NoError(t, l.SetResults(i, results.Compute(r.Triplet, f)))
	}
	return l
}

func TestSpectra(t *testing.T) {
	l := testLog(t)

	raw := Spectra(l, 0)
	require.Len(t, raw, 2)
	assert.False(t, raw[1].Corrected)
	testutil.AssertVectorInDelta(t, wavelength.New(0.35, 0.7, 0.37, 0.005), raw[1].Absorbance, 1e-6)

	corrected := Spectra(l, 1)
	require.Len(t, corrected, 2)
	assert.True(t, corrected[0].Corrected)
	testutil.AssertVectorInDelta(t, wavelength.Vector{}, corrected[0].Absorbance, 1e-9)
	assert.Equal(t, "Sample #1", corrected[1].Label)

	assert.False(t, Spectra(l, 5)[0].Corrected, "too few blanks for correction")
}

func TestWriteSpectra(t *testing.T) {
	l := testLog(t)

	var png bytes.Buffer
	require.NoError(t, WriteSpectra(&png, l, 1, "png"))
	assert.True(t, bytes.HasPrefix(png.Bytes(), []byte("\x89PNG")))

	var svg bytes.Buffer
	require.NoError(t, WriteSpectra(&svg, l, 0, "svg"))
	assert.Contains(t, svg.String(), "<svg")

	assert.ErrorIs(t, WriteSpectra(&svg, storage.New(), 0, "png"), ErrNoData)
}

func TestPlotSpectra(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	require.NoError(t, PlotSpectra(mfs, "/plots/run.svg", testLog(t), 1))
	data, err := mfs.ReadFile("/plots/run.svg")
	require.NoError(t, err)
	assert.Contains(t, string(data), "<svg")

	assert.Error(t, PlotSpectra(mfs, "/plots/run.bmp", testLog(t), 1))

	for path, want := range map[string]string{"a.PNG": "png", "b.svg": "svg", "c.pdf": "pdf"} {
		got, err := FormatFor(path)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestRenderDashboard(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RenderDashboard(&buf, testLog(t), ChartOptions{Title: "Run 7"}))
	html := buf.String()
	assert.Contains(t, html, "Run 7")
	assert.Contains(t, html, "dsDNA")
	assert.True(t, strings.Contains(html, "ssRNA"))

	l := storage.New()
	l.Append(triplet(wavelength.Vector{}), "")
	_, err := ConcentrationChart(l, ChartOptions{})
	assert.ErrorIs(t, err, ErrNoData)
	assert.ErrorIs(t, RenderDashboard(&buf, l, ChartOptions{}), ErrNoData)
}
