// Package results turns a calibrated triplet into nucleic-acid concentrations
// and purity ratios.
package results

import (
	"encoding/json"
	"math"

	"github.com/banshee-data/evidense/internal/absorbance"
	"github.com/banshee-data/evidense/internal/jsonutil"
	"github.com/banshee-data/evidense/internal/scan"
	"github.com/banshee-data/evidense/internal/wavelength"
)

// Conversion factors from corrected A260 to concentration, in ng/µl per
// absorbance unit for the 10 mm equivalent path.
const (
	DsDNAFactor = 50 * 10
	SsDNAFactor = 33 * 10
	SsRNAFactor = 40 * 10
)

// ResultSet holds the derived values for one measurement. Purity ratios are
// NaN when the denominator channel is exactly zero.
type ResultSet struct {
	DsDNA        float64
	SsDNA        float64
	SsRNA        float64
	Purity260230 float64
	Purity260280 float64
}

type resultSetJSON struct {
	DsDNA        jsonutil.Float `json:"dsDNA"`
	SsDNA        jsonutil.Float `json:"ssDNA"`
	SsRNA        jsonutil.Float `json:"ssRNA"`
	Purity260230 jsonutil.Float `json:"purity260/230"`
	Purity260280 jsonutil.Float `json:"purity260/280"`
}

func (r ResultSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(resultSetJSON{
		DsDNA:        jsonutil.Float(r.DsDNA),
		SsDNA:        jsonutil.Float(r.SsDNA),
		SsRNA:        jsonutil.Float(r.SsRNA),
		Purity260230: jsonutil.Float(r.Purity260230),
		Purity260280: jsonutil.Float(r.Purity260280),
	})
}

func (r *ResultSet) UnmarshalJSON(data []byte) error {
	var raw resultSetJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = ResultSet{
		DsDNA:        float64(raw.DsDNA),
		SsDNA:        float64(raw.SsDNA),
		SsRNA:        float64(raw.SsRNA),
		Purity260230: float64(raw.Purity260230),
		Purity260280: float64(raw.Purity260280),
	}
	return nil
}

// ApplyV7 returns the corrected absorbance of a triplet: the air-to-blank
// corrected absorbance of the sample minus the 340 nm scatter contribution
// scaled onto each channel.
func ApplyV7(t scan.Triplet, f absorbance.CorrectionFactors) wavelength.Vector {
	aNNN := absorbance.ComputeCorrected(t.Air, t.Sample, f.AirToBlank)
	return aNNN.Sub(wavelength.Broadcast(aNNN.V340).Mul(f.F340ToNNN))
}

// Compute derives concentrations and purity ratios from one corrected
// absorbance vector.
func Compute(t scan.Triplet, f absorbance.CorrectionFactors) ResultSet {
	return FromCorrected(ApplyV7(t, f))
}

// FromCorrected derives a ResultSet from an already corrected absorbance.
func FromCorrected(a wavelength.Vector) ResultSet {
	return ResultSet{
		DsDNA:        a.V260 * DsDNAFactor,
		SsDNA:        a.V260 * SsDNAFactor,
		SsRNA:        a.V260 * SsRNAFactor,
		Purity260230: ratio(a.V260, a.V230),
		Purity260280: ratio(a.V260, a.V280),
	}
}

func ratio(num, den float64) float64 {
	if den == 0 {
		return math.NaN()
	}
	return num / den
}
