// Package scan models the raw detector readings produced by one instrument
// acquisition and the baseline/air/sample triplet that makes up a measurement.
package scan

import (
	"fmt"

	"github.com/banshee-data/evidense/internal/wavelength"
)

// ChannelReading is the raw sample and reference detector voltage for one
// wavelength.
type ChannelReading struct {
	Sample    float64 `json:"sample"`
	Reference float64 `json:"reference"`
}

// Ratio returns Sample/Reference.
func (c ChannelReading) Ratio() float64 {
	return c.Sample / c.Reference
}

// RawScan is one acquisition: a reading for each of the four wavelengths.
type RawScan struct {
	Ch230 ChannelReading `json:"230"`
	Ch260 ChannelReading `json:"260"`
	Ch280 ChannelReading `json:"280"`
	Ch340 ChannelReading `json:"340"`
}

// FromValues builds a scan from eight values ordered as the instrument sends
// them: sample then reference for 230, 260, 280 and 340 nm.
func FromValues(v [8]float64) RawScan {
	return RawScan{
		Ch230: ChannelReading{Sample: v[0], Reference: v[1]},
		Ch260: ChannelReading{Sample: v[2], Reference: v[3]},
		Ch280: ChannelReading{Sample: v[4], Reference: v[5]},
		Ch340: ChannelReading{Sample: v[6], Reference: v[7]},
	}
}

// Values is the inverse of FromValues.
func (s RawScan) Values() [8]float64 {
	return [8]float64{
		s.Ch230.Sample, s.Ch230.Reference,
		s.Ch260.Sample, s.Ch260.Reference,
		s.Ch280.Sample, s.Ch280.Reference,
		s.Ch340.Sample, s.Ch340.Reference,
	}
}

// Reading returns the reading for channel c.
func (s RawScan) Reading(c wavelength.Channel) ChannelReading {
	switch c {
	case wavelength.Channel230:
		return s.Ch230
	case wavelength.Channel260:
		return s.Ch260
	case wavelength.Channel280:
		return s.Ch280
	case wavelength.Channel340:
		return s.Ch340
	default:
		panic(fmt.Sprintf("scan: unknown channel %d", int(c)))
	}
}

// SampleVector projects the four sample voltages into a vector.
func (s RawScan) SampleVector() wavelength.Vector {
	return wavelength.New(s.Ch230.Sample, s.Ch260.Sample, s.Ch280.Sample, s.Ch340.Sample)
}

// ReferenceVector projects the four reference voltages into a vector.
func (s RawScan) ReferenceVector() wavelength.Vector {
	return wavelength.New(s.Ch230.Reference, s.Ch260.Reference, s.Ch280.Reference, s.Ch340.Reference)
}

// Triplet is one measurement cycle. Absorbance is only defined once all three
// scans are present, so a Triplet is always complete; pending scans live in
// the run controller until the sample arrives.
type Triplet struct {
	Baseline RawScan
	Air      RawScan
	Sample   RawScan
	Comment  string
}
