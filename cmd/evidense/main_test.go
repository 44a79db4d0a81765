package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/evidense/internal/api"
	"github.com/banshee-data/evidense/internal/config"
	"github.com/banshee-data/evidense/internal/db"
	"github.com/banshee-data/evidense/internal/export"
	"github.com/banshee-data/evidense/internal/fsutil"
	"github.com/banshee-data/evidense/internal/instrument"
	"github.com/banshee-data/evidense/internal/results"
	"github.com/banshee-data/evidense/internal/run"
	"github.com/banshee-data/evidense/internal/scan"
	"github.com/banshee-data/evidense/internal/storage"
	"github.com/banshee-data/evidense/internal/testutil"
	"github.com/banshee-data/evidense/internal/timeutil"
)

type result struct {
	code           int
	stdout, stderr string
}

func cli(t *testing.T, stdin string, args ...string) result {
	t.Helper()
	var out, errOut bytes.Buffer
	code := runMain(context.Background(), args, strings.NewReader(stdin), &out, &errOut)
	return result{code: code, stdout: out.String(), stderr: errOut.String()}
}

// workspace returns a data directory and a config file pointing at it.
func workspace(t *testing.T) (dir, cfg string) {
	t.Helper()
	dir = t.TempDir()
	cfg = testutil.WriteFile(t, dir, "evidense.json", fmt.Sprintf(`{"data_dir": %q, "serial_number": "SN77"}`, dir))
	return dir, cfg
}

func TestRunCommandsAcrossInvocations(t *testing.T) {
	dir, cfg := workspace(t)

	r := cli(t, "", "--config", cfg, "--dev", "run", "init", "1")
	require.Equal(t, exitOK, r.code, r.stderr)
	assert.Contains(t, r.stdout, "started with 1 blank(s)")
	assert.Contains(t, r.stdout, run.AwaitingBaseline.Prompt())

	for i := 0; i < 3; i++ {
		r = cli(t, "", "--config", cfg, "--dev", "run", "measure")
		require.Equal(t, exitOK, r.code, r.stderr)
	}
	assert.Contains(t, r.stdout, "#0 Blank #1: dsDNA")

	s, err := run.LoadSession(fsutil.OSFileSystem{}, run.SessionFileName(dir))
	require.NoError(t, err)
	assert.Equal(t, 1, s.Count)
	assert.Equal(t, run.AwaitingBaseline, s.State)
	assert.Equal(t, "SN77", s.SerialNumber)
	assert.True(t, strings.HasPrefix(filepath.Base(s.DataFile), "evidense-SNSN77-"))

	log, err := storage.Load(nil, s.DataFile)
	require.NoError(t, err)
	require.Equal(t, 1, log.Count())
	rec, _ := log.Get(0)
	assert.True(t, rec.HasResults())

	r = cli(t, "", "--config", cfg, "--dev", "run", "export", "--mode", "raw")
	require.Equal(t, exitOK, r.code, r.stderr)
	csvPath := strings.TrimSuffix(s.DataFile, ".json") + ".csv"
	data, err := os.ReadFile(csvPath)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "comment,baseline 230 sample"))

	r = cli(t, "", "--config", cfg, "--dev", "info")
	require.Equal(t, exitOK, r.code, r.stderr)
	assert.Contains(t, r.stdout, "1 record(s)")
	assert.Contains(t, r.stdout, "calibrated: yes")
	assert.Contains(t, r.stdout, "simulator SN SN77")
}

func TestRunMeasureComment(t *testing.T) {
	dir, cfg := workspace(t)
	file := filepath.Join(dir, "named.json")

	require.Equal(t, exitOK, cli(t, "", "--config", cfg, "--dev", "run", "init", "2", "--file", file).code)
	for _, args := range [][]string{{}, {}, {"first", "blank"}} {
		r := cli(t, "", append([]string{"--config", cfg, "--dev", "run", "measure"}, args...)...)
		require.Equal(t, exitOK, r.code, r.stderr)
	}

	log, err := storage.Load(nil, file)
	require.NoError(t, err)
	rec, _ := log.Get(0)
	assert.Equal(t, "first blank", rec.Triplet.Comment)
	assert.False(t, rec.HasResults(), "second blank still missing")
}

func TestCheckEmpty(t *testing.T) {
	r := cli(t, "", "--dev", "run", "checkempty")
	require.Equal(t, exitOK, r.code, r.stderr)
	assert.Equal(t, "Cuvette holder is empty.\n", r.stdout)
}

func TestGuided(t *testing.T) {
	dir, cfg := workspace(t)
	file := filepath.Join(dir, "guided.json")

	input := strings.Repeat("\n", 3) + "\n\nlysate A\nq\n"
	r := cli(t, input, "--config", cfg, "--dev", "guided", "1", "--file", file)
	require.Equal(t, exitOK, r.code, r.stderr)
	assert.Contains(t, r.stdout, "Comment [Blank #1]")
	assert.Contains(t, r.stdout, "lysate A")

	log, err := storage.Load(nil, file)
	require.NoError(t, err)
	require.Equal(t, 2, log.Count())
	rec, _ := log.Get(1)
	assert.Equal(t, "lysate A", rec.Triplet.Comment)
	assert.True(t, rec.HasResults())

	s, err := run.LoadSession(fsutil.OSFileSystem{}, run.SessionFileName(dir))
	require.NoError(t, err)
	assert.Equal(t, 2, s.Count)

	// export and plot the guided run
	out := filepath.Join(dir, "guided.csv")
	r = cli(t, "", "--config", cfg, "export", "--delimiter", "semicolon", file, out)
	require.Equal(t, exitOK, r.code, r.stderr)
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "comment;dsDNA;ssDNA"))

	svg := filepath.Join(dir, "guided.svg")
	r = cli(t, "", "--config", cfg, "plot", file, svg)
	require.Equal(t, exitOK, r.code, r.stderr)
	data, err = os.ReadFile(svg)
	require.NoError(t, err)
	assert.Contains(t, string(data), "<svg")
}

func TestGuidedWaitsForEmptyHolder(t *testing.T) {
	dir, cfg := workspace(t)
	file := filepath.Join(dir, "g.json")

	var out, errOut bytes.Buffer
	a := &app{
		stdin:  strings.NewReader("\nq\n"),
		stdout: &out,
		stderr: &errOut,
		fs:     fsutil.OSFileSystem{},
		sim:    instrument.NewSimulator("SN1"),
	}
	var err error
	a.cfg, err = config.LoadRunConfig(cfg)
	require.NoError(t, err)
	a.clock = timeutil.RealClock{}
	a.sim.SetCuvetteEmpty(false)

	require.NoError(t, a.guided(context.Background(), []string{"1", "--file", file}))
	assert.Contains(t, out.String(), "not empty")
	assert.Equal(t, 0, a.sim.Calls("baseline"))
}

func TestExitCodes(t *testing.T) {
	dir, cfg := workspace(t)
	in := testutil.WriteFile(t, dir, "in.json", `{"measurements":[]}`)
	bad := testutil.WriteFile(t, dir, "bad.json", `{"measurements":`)

	tests := []struct {
		name string
		args []string
		want int
	}{
		{"no command", nil, exitUnknownArg},
		{"unknown command", []string{"bogus"}, exitUnknownArg},
		{"unknown run subcommand", []string{"run", "bogus"}, exitUnknownArg},
		{"unknown global option", []string{"--nope", "version"}, exitUnknownOption},
		{"unknown command option", []string{"export", "--nope", in, "out.csv"}, exitUnknownOption},
		{"bad export mode", []string{"--config", cfg, "export", "--mode", "xml", in, filepath.Join(dir, "o.csv")}, exitUnknownOption},
		{"bad blank count", []string{"--config", cfg, "--dev", "run", "init", "0"}, exitUnknownArg},
		{"missing input", []string{"--config", cfg, "export", filepath.Join(dir, "none.json"), filepath.Join(dir, "o.csv")}, exitFile},
		{"malformed input", []string{"--config", cfg, "export", bad, filepath.Join(dir, "o.csv")}, exitFile},
		{"output outside allowed dirs", []string{"--config", cfg, "export", in, "/proc/evidense.csv"}, exitFile},
		{"unsupported plot format", []string{"--config", cfg, "plot", in, filepath.Join(dir, "o.gif")}, exitUnknownArg},
		{"no session", []string{"--config", cfg, "--dev", "run", "measure"}, exitFile},
		{"missing config", []string{"--config", filepath.Join(dir, "none.json"), "version"}, exitFile},
		{"version", []string{"version"}, exitOK},
		{"help", []string{"help"}, exitOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := cli(t, "", tt.args...)
			assert.Equal(t, tt.want, r.code, "stderr: %s", r.stderr)
		})
	}
}

func TestExitCodeMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, exitOK},
		{fmt.Errorf("baseline scan: %w", instrument.ErrCommunication), exitCommunication},
		{fmt.Errorf("x: %w", context.DeadlineExceeded), exitCommunication},
		{fmt.Errorf("%w: SN1", instrument.ErrNotFound), exitNotFound},
		{fmt.Errorf("%w: mode", export.ErrOption), exitUnknownOption},
		{fmt.Errorf("load: %w", storage.ErrParse), exitFile},
		{run.ErrNoSession, exitFile},
		{errors.New("disk on fire"), exitFailure},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, exitCode(tt.err), "%v", tt.err)
	}
}

func TestParseArgsInterspersed(t *testing.T) {
	flags := newFlagSet("t", &bytes.Buffer{})
	file := flags.String("file", "", "")
	pos, err := parseArgs(flags, []string{"3", "--file", "x.json", "extra"})
	require.NoError(t, err)
	assert.Equal(t, []string{"3", "extra"}, pos)
	assert.Equal(t, "x.json", *file)
}

func TestServeHandler(t *testing.T) {
	dir := t.TempDir()
	log := storage.New()

	h, err := serveHandler(api.StaticLog{L: log}, api.Options{DataFile: "run.json"}, nil)
	require.NoError(t, err)
	rec := testutil.Serve(h, http.MethodGet, "/api/info")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)

	archive, err := db.Open(filepath.Join(dir, "archive.db"))
	require.NoError(t, err)
	defer archive.Close()
	h, err = serveHandler(api.StaticLog{L: log}, api.Options{}, archive)
	require.NoError(t, err)
	rec = testutil.Serve(h, http.MethodGet, "/api/measurements")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
}

func TestPrintSummaryUnits(t *testing.T) {
	u, tz := "ug/ul", "Asia/Tokyo"
	var out bytes.Buffer
	a := &app{stdout: &out, cfg: &config.RunConfig{Units: &u, Timezone: &tz}}

	log := storage.New()
	log.Clock = timeutil.NewMockClock(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	log.AppendWithResults(scan.Triplet{}, results.ResultSet{DsDNA: 1500, SsDNA: 990, SsRNA: 1200, Purity260230: 2, Purity260280: 1.9}, "lysate")
	log.Append(scan.Triplet{}, "pending")

	a.printSummary(log)
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "dsDNA [ug/ul]")
	assert.Contains(t, lines[1], "2024-03-01 18:00:00")
	assert.Contains(t, lines[1], "1.50")
	assert.Contains(t, lines[2], "pending")

	out.Reset()
	rec, _ := log.Get(0)
	a.printRecord(0, rec)
	assert.Contains(t, out.String(), "dsDNA 1.50 ug/ul")
}
