package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/banshee-data/evidense/internal/jsonutil"
	"github.com/banshee-data/evidense/internal/results"
	"github.com/banshee-data/evidense/internal/scan"
)

type document struct {
	Measurements []recordOut `json:"measurements"`
}

type recordOut struct {
	ID       string             `json:"id,omitempty"`
	DateTime string             `json:"date_time,omitempty"`
	Baseline scan.RawScan       `json:"baseline"`
	Air      scan.RawScan       `json:"air"`
	Sample   scan.RawScan       `json:"sample"`
	Results  *results.ResultSet `json:"results,omitempty"`
	Comment  string             `json:"comment,omitempty"`
	Logging  []string           `json:"logging,omitempty"`
}

// The input shapes use pointers so that missing keys can be told apart from
// zero values.
type documentIn struct {
	Measurements *[]recordIn `json:"measurements"`
}

type recordIn struct {
	ID       string     `json:"id"`
	DateTime string     `json:"date_time"`
	Baseline *scanIn    `json:"baseline"`
	Air      *scanIn    `json:"air"`
	Sample   *scanIn    `json:"sample"`
	Results  *resultsIn `json:"results"`
	Comment  string     `json:"comment"`
	Logging  []string   `json:"logging"`
}

type resultsIn struct {
	DsDNA        *jsonutil.Float `json:"dsDNA"`
	SsDNA        *jsonutil.Float `json:"ssDNA"`
	SsRNA        *jsonutil.Float `json:"ssRNA"`
	Purity260230 *jsonutil.Float `json:"purity260/230"`
	Purity260280 *jsonutil.Float `json:"purity260/280"`
}

// resultSet requires every key to be present and non-null. A nil receiver
// means the record has no results yet.
func (r *resultsIn) resultSet() (*results.ResultSet, error) {
	if r == nil {
		return nil, nil
	}
	fields := []struct {
		name string
		v    *jsonutil.Float
	}{
		{"dsDNA", r.DsDNA},
		{"ssDNA", r.SsDNA},
		{"ssRNA", r.SsRNA},
		{"purity260/230", r.Purity260230},
		{"purity260/280", r.Purity260280},
	}
	for _, f := range fields {
		if f.v == nil {
			return nil, fmt.Errorf("missing results.%s", f.name)
		}
	}
	return &results.ResultSet{
		DsDNA:        float64(*r.DsDNA),
		SsDNA:        float64(*r.SsDNA),
		SsRNA:        float64(*r.SsRNA),
		Purity260230: float64(*r.Purity260230),
		Purity260280: float64(*r.Purity260280),
	}, nil
}

type scanIn struct {
	Ch230 *readingIn `json:"230"`
	Ch260 *readingIn `json:"260"`
	Ch280 *readingIn `json:"280"`
	Ch340 *readingIn `json:"340"`
}

type readingIn struct {
	Sample    *float64 `json:"sample"`
	Reference *float64 `json:"reference"`
}

func (r *readingIn) reading(field string) (scan.ChannelReading, error) {
	if r == nil {
		return scan.ChannelReading{}, fmt.Errorf("missing %s", field)
	}
	if r.Sample == nil {
		return scan.ChannelReading{}, fmt.Errorf("missing %s.sample", field)
	}
	if r.Reference == nil {
		return scan.ChannelReading{}, fmt.Errorf("missing %s.reference", field)
	}
	return scan.ChannelReading{Sample: *r.Sample, Reference: *r.Reference}, nil
}

func (s *scanIn) rawScan(field string) (scan.RawScan, error) {
	if s == nil {
		return scan.RawScan{}, fmt.Errorf("missing %s", field)
	}
	var out scan.RawScan
	var err error
	if out.Ch230, err = s.Ch230.reading(field + ".230"); err != nil {
		return out, err
	}
	if out.Ch260, err = s.Ch260.reading(field + ".260"); err != nil {
		return out, err
	}
	if out.Ch280, err = s.Ch280.reading(field + ".280"); err != nil {
		return out, err
	}
	if out.Ch340, err = s.Ch340.reading(field + ".340"); err != nil {
		return out, err
	}
	return out, nil
}

func (r Record) out() recordOut {
	out := recordOut{
		ID:       r.ID,
		Baseline: r.Triplet.Baseline,
		Air:      r.Triplet.Air,
		Sample:   r.Triplet.Sample,
		Results:  r.Results,
		Comment:  r.Triplet.Comment,
		Logging:  r.Logging,
	}
	if !r.DateTime.IsZero() {
		out.DateTime = r.DateTime.Format(time.RFC3339)
	}
	return out
}

// MarshalJSON encodes r in the same shape as an entry of the data file.
func (r Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.out())
}

// Encode returns the log as pretty-printed JSON.
func (l *Log) Encode() ([]byte, error) {
	doc := document{Measurements: make([]recordOut, len(l.records))}
	for i, r := range l.records {
		doc.Measurements[i] = r.out()
	}
	data, err := jsonutil.MarshalPretty(doc)
	if err != nil {
		return nil, fmt.Errorf("encode measurement log: %w", err)
	}
	return data, nil
}

// Decode parses a JSON document produced by Encode.
func Decode(data []byte) (*Log, error) {
	var doc documentIn
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if doc.Measurements == nil {
		return nil, fmt.Errorf("%w: missing \"measurements\" array", ErrParse)
	}

	l := New()
	for i, in := range *doc.Measurements {
		r, err := in.record()
		if err != nil {
			return nil, fmt.Errorf("%w: measurement %d: %v", ErrParse, i, err)
		}
		l.records = append(l.records, r)
	}
	return l, nil
}

func (in recordIn) record() (Record, error) {
	var r Record
	var err error
	if r.Triplet.Baseline, err = in.Baseline.rawScan("baseline"); err != nil {
		return r, err
	}
	if r.Triplet.Air, err = in.Air.rawScan("air"); err != nil {
		return r, err
	}
	if r.Triplet.Sample, err = in.Sample.rawScan("sample"); err != nil {
		return r, err
	}
	if in.DateTime != "" {
		if r.DateTime, err = time.Parse(time.RFC3339, in.DateTime); err != nil {
			return r, fmt.Errorf("date_time: %v", err)
		}
	}
	if r.Results, err = in.Results.resultSet(); err != nil {
		return r, err
	}
	r.ID = in.ID
	r.Triplet.Comment = in.Comment
	r.Logging = in.Logging
	return r, nil
}
