package scan

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/evidense/internal/wavelength"
)

func TestFromValuesOrder(t *testing.T) {
	s := FromValues([8]float64{1, 2, 3, 4, 5, 6, 7, 8})

	assert.Equal(t, ChannelReading{Sample: 1, Reference: 2}, s.Ch230)
	assert.Equal(t, ChannelReading{Sample: 7, Reference: 8}, s.Ch340)
	assert.Equal(t, wavelength.New(1, 3, 5, 7), s.SampleVector())
	assert.Equal(t, wavelength.New(2, 4, 6, 8), s.ReferenceVector())
	assert.Equal(t, [8]float64{1, 2, 3, 4, 5, 6, 7, 8}, s.Values())
}

func TestReading(t *testing.T) {
	s := FromValues([8]float64{1, 2, 3, 4, 5, 6, 7, 8})
	for i, c := range wavelength.Channels {
		r := s.Reading(c)
		assert.Equal(t, float64(2*i+1), r.Sample)
		assert.Equal(t, float64(2*i+2), r.Reference)
	}
	assert.Panics(t, func() { s.Reading(wavelength.Channel(7)) })
	assert.Equal(t, 0.5, ChannelReading{Sample: 1, Reference: 2}.Ratio())
}

func TestRawScanJSONKeys(t *testing.T) {
	s := FromValues([8]float64{1.5, 2, 3, 4, 5, 6, 7, 8.25})
	data, err := json.Marshal(s)
	require.NoError(t, err)

	var generic map[string]map[string]float64
	require.NoError(t, json.Unmarshal(data, &generic))
	want := map[string]map[string]float64{
		"230": {"sample": 1.5, "reference": 2},
		"260": {"sample": 3, "reference": 4},
		"280": {"sample": 5, "reference": 6},
		"340": {"sample": 7, "reference": 8.25},
	}
	if diff := cmp.Diff(want, generic); diff != "" {
		t.Errorf("scan JSON mismatch (-want +got):\n%s", diff)
	}
}
