package absorbance

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/evidense/internal/scan"
	"github.com/banshee-data/evidense/internal/wavelength"
)

// Spread summarises how consistent the blank replicates were. It is computed
// over the uncorrected air-vs-sample absorbance of each blank.
type Spread struct {
	Replicates int               `json:"replicates"`
	Mean       wavelength.Vector `json:"mean"`
	StdDev     wavelength.Vector `json:"std_dev"`
	// CV is StdDev/|Mean| per channel; NaN where the mean is zero.
	CV wavelength.Vector `json:"cv"`
}

// ReplicateSpread computes the per-channel mean and sample standard deviation
// of the blank absorbances. A single replicate has zero deviation.
func ReplicateSpread(triplets []scan.Triplet) Spread {
	s := Spread{Replicates: len(triplets)}
	if len(triplets) == 0 {
		nan := wavelength.Broadcast(math.NaN())
		s.Mean, s.StdDev, s.CV = nan, nan, nan
		return s
	}

	samples := make([][]float64, len(wavelength.Channels))
	for _, t := range triplets {
		a := Compute(t.Air, t.Sample).Array()
		for i := range a {
			samples[i] = append(samples[i], a[i])
		}
	}

	var mean, sd, cv [4]float64
	for i, xs := range samples {
		if len(xs) == 1 {
			mean[i] = xs[0]
		} else {
			mean[i], sd[i] = stat.MeanStdDev(xs, nil)
		}
		if mean[i] == 0 {
			cv[i] = math.NaN()
		} else {
			cv[i] = sd[i] / math.Abs(mean[i])
		}
	}
	s.Mean = wavelength.FromArray(mean)
	s.StdDev = wavelength.FromArray(sd)
	s.CV = wavelength.FromArray(cv)
	return s
}
