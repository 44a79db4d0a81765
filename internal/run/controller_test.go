package run

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/evidense/internal/absorbance"
	"github.com/banshee-data/evidense/internal/fsutil"
	"github.com/banshee-data/evidense/internal/instrument"
	"github.com/banshee-data/evidense/internal/scan"
	"github.com/banshee-data/evidense/internal/storage"
	"github.com/banshee-data/evidense/internal/timeutil"
	"github.com/banshee-data/evidense/internal/wavelength"
)

const dataPath = "/data/run.json"

var t0 = time.Date(2024, 6, 3, 14, 0, 0, 0, time.UTC)

type harness struct {
	ctl *Controller
	sim *instrument.Simulator
	fs  *fsutil.MemoryFileSystem
}

func newHarness(t *testing.T, blankCount int, opts Options) *harness {
	t.Helper()
	sim := instrument.NewSimulator("SN42")
	mfs := fsutil.NewMemoryFileSystem()
	opts.FS = mfs
	opts.Clock = timeutil.NewMockClock(t0)
	ctl, err := NewWithOptions(blankCount, dataPath, sim, opts)
	require.NoError(t, err)
	return &harness{ctl: ctl, sim: sim, fs: mfs}
}

func (h *harness) steps(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, h.ctl.Step(context.Background(), h.ctl.NextComment()))
	}
}

// persisted decodes the data file into generic maps.
func (h *harness) persisted(t *testing.T) []map[string]json.RawMessage {
	t.Helper()
	data, err := h.fs.ReadFile(dataPath)
	require.NoError(t, err)
	var doc struct {
		Measurements []map[string]json.RawMessage `json:"measurements"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	return doc.Measurements
}

func TestNewValidates(t *testing.T) {
	sim := instrument.NewSimulator("x")

	_, err := New(0, "out.json", sim)
	assert.ErrorIs(t, err, ErrPrecondition)
	_, err = New(1, "", sim)
	assert.ErrorIs(t, err, ErrPrecondition)
	_, err = New(1, "out.json", nil)
	assert.ErrorIs(t, err, ErrPrecondition)

	c, err := New(3, "out.json", sim)
	require.NoError(t, err)
	assert.Equal(t, AwaitingBaseline, c.State())
	assert.Equal(t, 3, c.BlankCount())
	assert.Equal(t, "out.json", c.OutputPath())
	assert.NotEmpty(t, c.Info().RunID)
}

func TestStepCycle(t *testing.T) {
	h := newHarness(t, 2, Options{})
	ctx := context.Background()

	require.NoError(t, h.ctl.Step(ctx, ""))
	assert.Equal(t, AwaitingAir, h.ctl.State())
	assert.Equal(t, 0, h.ctl.Log().Count())
	assert.Len(t, h.persisted(t), 0, "log persisted after baseline step")

	require.NoError(t, h.ctl.Step(ctx, ""))
	assert.Equal(t, AwaitingSample, h.ctl.State())
	assert.Equal(t, 0, h.ctl.Log().Count())

	require.NoError(t, h.ctl.Step(ctx, "first"))
	assert.Equal(t, AwaitingBaseline, h.ctl.State())
	require.Equal(t, 1, h.ctl.Log().Count())

	r, err := h.ctl.Log().Get(0)
	require.NoError(t, err)
	assert.Equal(t, "first", r.Triplet.Comment)
	assert.Equal(t, t0, r.DateTime)
	assert.Equal(t, 1, h.sim.Calls("baseline"))
	assert.Equal(t, 2, h.sim.Calls("measure"))
}

func TestBlankCountOneAttachesResultsInSameStep(t *testing.T) {
	h := newHarness(t, 1, Options{})
	h.steps(t, 3)

	recs := h.persisted(t)
	require.Len(t, recs, 1)
	assert.Contains(t, recs[0], "results")
	assert.JSONEq(t, `"Blank #1"`, string(recs[0]["comment"]))

	_, ok := h.ctl.Factors()
	assert.True(t, ok)
	spread, ok := h.ctl.Spread()
	require.True(t, ok)
	assert.Equal(t, 1, spread.Replicates)
}

func TestBlankCountTwoBackfill(t *testing.T) {
	h := newHarness(t, 2, Options{})
	h.sim.Samples = []wavelength.Vector{{}, {}, wavelength.New(0.4, 0.8, 0.42, 0)}

	h.steps(t, 3)
	recs := h.persisted(t)
	require.Len(t, recs, 1)
	assert.NotContains(t, recs[0], "results", "first blank waits for the second")
	_, ok := h.ctl.Factors()
	assert.False(t, ok)

	h.steps(t, 3)
	recs = h.persisted(t)
	require.Len(t, recs, 2)
	assert.Contains(t, recs[0], "results")
	assert.Contains(t, recs[1], "results")

	h.steps(t, 3)
	recs = h.persisted(t)
	require.Len(t, recs, 3)
	assert.Contains(t, recs[2], "results", "post-calibration record gets results on append")

	r, _ := h.ctl.Log().Get(2)
	assert.Equal(t, "Sample #1", r.Triplet.Comment)
	assert.InDelta(t, 0.8*500, r.Results.DsDNA, 1)
	assert.InDelta(t, 0.8*330, r.Results.SsDNA, 1)
	assert.InDelta(t, 0.8*400, r.Results.SsRNA, 1)
}

func TestFactorsAreNeverRecomputed(t *testing.T) {
	h := newHarness(t, 1, Options{})
	h.steps(t, 3)
	first, ok := h.ctl.Factors()
	require.True(t, ok)

	// A different blank afterwards must not move the factors.
	h.sim.Buffer = wavelength.Broadcast(0.3)
	h.steps(t, 6)

	again, _ := h.ctl.Factors()
	assert.Equal(t, first, again)

	r0, _ := h.ctl.Log().Get(0)
	want, _ := absorbance.MeanFactors([]scan.Triplet{r0.Triplet})
	assert.Equal(t, want, again)
	assert.Equal(t, 0, h.ctl.Recalculate(), "nothing left to backfill")
}

func TestRecalculateBackfillsLoadedLog(t *testing.T) {
	h := newHarness(t, 2, Options{})
	h.steps(t, 3)
	assert.Equal(t, 0, h.ctl.Recalculate())

	h.steps(t, 3)
	for _, r := range h.ctl.Log().Records() {
		assert.True(t, r.HasResults())
	}

	// Records logged without results elsewhere get them on the next pass.
	h.ctl.Log().Append(h.ctl.Log().Records()[1].Triplet, "copy")
	assert.Equal(t, 1, h.ctl.Recalculate())
}

func TestCommunicationErrorLeavesStateUnchanged(t *testing.T) {
	h := newHarness(t, 1, Options{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		before := h.ctl.State()
		count := h.ctl.Log().Count()
		var prev []byte
		if h.fs.Exists(dataPath) {
			prev, _ = h.fs.ReadFile(dataPath)
		}

		h.sim.FailNext(errors.New("timeout"))
		err := h.ctl.Step(ctx, "x")
		require.Error(t, err)
		assert.ErrorIs(t, err, instrument.ErrCommunication)
		assert.Equal(t, before, h.ctl.State())
		assert.Equal(t, count, h.ctl.Log().Count())
		if prev != nil {
			now, _ := h.fs.ReadFile(dataPath)
			assert.Equal(t, prev, now)
		} else {
			assert.False(t, h.fs.Exists(dataPath))
		}

		require.NoError(t, h.ctl.Step(ctx, "x"))
	}
	assert.Equal(t, 1, h.ctl.Log().Count())
}

func TestSampleStepRequiresPendingScans(t *testing.T) {
	h := newHarness(t, 1, Options{})
	s := h.ctl.Session()
	s.State = AwaitingSample
	s.Baseline = nil

	c, err := Resume(&s, h.sim, Options{FS: h.fs})
	require.NoError(t, err)
	err = c.Step(context.Background(), "")
	assert.ErrorIs(t, err, ErrPrecondition)
	assert.Equal(t, 0, h.sim.Calls("measure"), "instrument not touched")
	assert.Equal(t, AwaitingSample, c.State())
}

func TestSampleStepAttachesInstrumentLog(t *testing.T) {
	h := newHarness(t, 1, Options{})
	h.sim.QueueLog("LED 260 current trimmed")
	h.steps(t, 3)

	r, _ := h.ctl.Log().Get(0)
	assert.Equal(t, []string{"LED 260 current trimmed"}, r.Logging)
	assert.Contains(t, h.persisted(t)[0], "logging")
}

func TestSaveFailureKeepsPreviousFile(t *testing.T) {
	h := newHarness(t, 1, Options{})
	h.steps(t, 3)
	prev, _ := h.fs.ReadFile(dataPath)

	h.fs.Fail("rename", dataPath, errors.New("read-only filesystem"))
	err := h.ctl.Step(context.Background(), "")
	require.Error(t, err)
	now, _ := h.fs.ReadFile(dataPath)
	assert.Equal(t, prev, now)

	loaded, err := storage.Load(h.fs, dataPath)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.Count())
}

func TestSaveFailureIsDistinguishable(t *testing.T) {
	h := newHarness(t, 1, Options{})
	h.steps(t, 2)
	require.Equal(t, AwaitingSample, h.ctl.State())

	h.fs.Fail("rename", dataPath, errors.New("disk full"))
	err := h.ctl.Step(context.Background(), "kept")
	require.ErrorIs(t, err, ErrNotPersisted)
	assert.NotErrorIs(t, err, instrument.ErrCommunication)
	assert.Equal(t, AwaitingBaseline, h.ctl.State(), "the acquisition took effect")
	assert.Equal(t, 1, h.ctl.Log().Count())

	h.fs.Fail("rename", dataPath, nil)
	require.NoError(t, h.ctl.Step(context.Background(), ""))
	loaded, err := storage.Load(h.fs, dataPath)
	require.NoError(t, err)
	require.Equal(t, 1, loaded.Count())
	r, _ := loaded.Get(0)
	assert.Equal(t, "kept", r.Triplet.Comment)
}

type recordingArchive struct {
	calls int
	last  []storage.Record
	info  Info
	err   error
}

func (a *recordingArchive) ArchiveRun(_ context.Context, info Info, records []storage.Record) error {
	a.calls++
	a.info = info
	a.last = records
	return a.err
}

func TestArchiveMirrorsEveryStep(t *testing.T) {
	arch := &recordingArchive{}
	h := newHarness(t, 1, Options{Archive: arch, SerialNumber: "SN42", FirmwareVersion: "sim-1.0"})
	h.steps(t, 3)

	assert.Equal(t, 3, arch.calls)
	require.Len(t, arch.last, 1)
	assert.True(t, arch.last[0].HasResults())
	assert.Equal(t, "SN42", arch.info.SerialNumber)
	assert.Equal(t, 1, arch.info.BlankCount)

	arch.err = errors.New("database locked")
	assert.NoError(t, h.ctl.Step(context.Background(), ""), "archive failures do not fail a step")
}

func TestIsCuvetteEmpty(t *testing.T) {
	h := newHarness(t, 1, Options{})
	ctx := context.Background()

	empty, err := h.ctl.IsCuvetteEmpty(ctx)
	require.NoError(t, err)
	assert.True(t, empty)

	h.sim.SetCuvetteEmpty(false)
	empty, err = h.ctl.IsCuvetteEmpty(ctx)
	require.NoError(t, err)
	assert.False(t, empty)

	h.sim.FailNext(errors.New("gone"))
	_, err = h.ctl.IsCuvetteEmpty(ctx)
	assert.ErrorIs(t, err, instrument.ErrCommunication)
}

func TestDefaultComment(t *testing.T) {
	tests := []struct {
		index, blanks int
		want          string
	}{
		{0, 1, "Blank #1"},
		{1, 1, "Sample #1"},
		{1, 3, "Blank #2"},
		{3, 3, "Sample #1"},
		{7, 3, "Sample #5"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DefaultComment(tt.index, tt.blanks))
	}
}

func TestStateText(t *testing.T) {
	for _, s := range []State{AwaitingBaseline, AwaitingAir, AwaitingSample} {
		text, err := s.MarshalText()
		require.NoError(t, err)
		var back State
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, s, back)
		assert.NotEmpty(t, s.Prompt())
	}
	assert.Equal(t, AwaitingBaseline, AwaitingSample.Next())
	assert.Equal(t, "State(9)", State(9).String())
	_, err := State(9).MarshalText()
	assert.Error(t, err)
	var s State
	assert.Error(t, s.UnmarshalText([]byte("done")))
}
