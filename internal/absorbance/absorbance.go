// Package absorbance derives optical density from raw scans and computes the
// per-run calibration factors from blank measurements.
package absorbance

import (
	"github.com/banshee-data/evidense/internal/scan"
	"github.com/banshee-data/evidense/internal/wavelength"
)

// Compute returns the optical density of measurement against baseline with no
// correction applied.
func Compute(baseline, measurement scan.RawScan) wavelength.Vector {
	return ComputeCorrected(baseline, measurement, wavelength.Unity)
}

// ComputeCorrected returns, per wavelength,
//
//	log10( baseline.sample/baseline.reference * measurement.reference/measurement.sample * correction )
//
// Zero voltages propagate as Inf or NaN.
func ComputeCorrected(baseline, measurement scan.RawScan, correction wavelength.Vector) wavelength.Vector {
	b := baseline.SampleVector().Div(baseline.ReferenceVector())
	m := measurement.ReferenceVector().Div(measurement.SampleVector())
	return b.Mul(m).Mul(correction).Log10()
}

// CorrectionFactors is the per-run calibration derived from blank triplets.
type CorrectionFactors struct {
	// AirToBlank corrects for the optical path difference between an
	// air-filled and a buffer-filled cuvette.
	AirToBlank wavelength.Vector `json:"air_to_blank"`
	// F340ToNNN scales the 340 nm scatter reference onto each channel.
	F340ToNNN wavelength.Vector `json:"f340_to_nnn"`
}

// Add returns the element-wise sum of both factor vectors.
func (f CorrectionFactors) Add(o CorrectionFactors) CorrectionFactors {
	return CorrectionFactors{
		AirToBlank: f.AirToBlank.Add(o.AirToBlank),
		F340ToNNN:  f.F340ToNNN.Add(o.F340ToNNN),
	}
}

// Div divides both factor vectors element-wise by those of o.
func (f CorrectionFactors) Div(o CorrectionFactors) CorrectionFactors {
	return CorrectionFactors{
		AirToBlank: f.AirToBlank.Div(o.AirToBlank),
		F340ToNNN:  f.F340ToNNN.Div(o.F340ToNNN),
	}
}

// DivScalar divides both factor vectors by s.
func (f CorrectionFactors) DivScalar(s float64) CorrectionFactors {
	return CorrectionFactors{
		AirToBlank: f.AirToBlank.DivScalar(s),
		F340ToNNN:  f.F340ToNNN.DivScalar(s),
	}
}

// CalibrationFactors derives correction factors from a triplet whose sample is
// nucleic-acid-free buffer. The baseline scan is not used.
func CalibrationFactors(t scan.Triplet) CorrectionFactors {
	airToBlank := t.Sample.SampleVector().Div(t.Sample.ReferenceVector()).
		Mul(t.Air.ReferenceVector().Div(t.Air.SampleVector()))

	aNNN := Compute(t.Air, t.Sample)
	return CorrectionFactors{
		AirToBlank: airToBlank,
		F340ToNNN:  wavelength.Broadcast(aNNN.V340).Div(aNNN),
	}
}

// MeanFactors averages the calibration factors of each blank triplet: the
// factors are summed and the sum divided by the replicate count. It returns
// false when triplets is empty.
func MeanFactors(triplets []scan.Triplet) (CorrectionFactors, bool) {
	if len(triplets) == 0 {
		return CorrectionFactors{}, false
	}
	sum := CalibrationFactors(triplets[0])
	for _, t := range triplets[1:] {
		sum = sum.Add(CalibrationFactors(t))
	}
	return sum.DivScalar(float64(len(triplets))), true
}
