package export

import (
	"bytes"
	"encoding/csv"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/evidense/internal/fsutil"
	"github.com/banshee-data/evidense/internal/results"
	"github.com/banshee-data/evidense/internal/scan"
	"github.com/banshee-data/evidense/internal/security"
	"github.com/banshee-data/evidense/internal/storage"
	"github.com/banshee-data/evidense/internal/timeutil"
)

func testLog() *storage.Log {
	l := storage.New()
	l.Clock = timeutil.NewMockClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	tr := scan.Triplet{
		Baseline: scan.FromValues([8]float64{1, 2, 3, 4, 5, 6, 7, 8}),
		Air:      scan.FromValues([8]float64{11, 12, 13, 14, 15, 16, 17, 18}),
		Sample:   scan.FromValues([8]float64{21, 22, 23, 24, 25, 26, 27, 28.5}),
	}
	l.Append(tr, "Blank #1")
	l.AppendWithResults(tr, results.ResultSet{
		DsDNA: 50.5, SsDNA: 33.33, SsRNA: 40, Purity260230: math.NaN(), Purity260280: 1.8,
	}, "sample, diluted")
	return l
}

func readAll(t *testing.T, data []byte, comma rune) [][]string {
	t.Helper()
	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = comma
	rows, err := r.ReadAll()
	require.NoError(t, err)
	return rows
}

func TestWriteResults(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, testLog(), Options{}))

	want := [][]string{
		{"comment", "dsDNA", "ssDNA", "ssRNA", "purity260/230", "purity260/280"},
		{"Blank #1", "0.000000", "0.000000", "0.000000", "0.000000", "0.000000"},
		{"sample, diluted", "50.500000", "33.330000", "40.000000", "NaN", "1.800000"},
	}
	if diff := cmp.Diff(want, readAll(t, buf.Bytes(), ',')); diff != "" {
		t.Errorf("results export mismatch (-want +got):\n%s", diff)
	}
	assert.Contains(t, buf.String(), `"sample, diluted"`, "comma in comment is quoted")
}

func TestWriteRaw(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, testLog(), Options{Mode: ModeRaw, Delimiter: ';'}))

	rows := readAll(t, buf.Bytes(), ';')
	require.Len(t, rows, 3)
	header := rows[0]
	assert.Len(t, header, 1+3*8)
	assert.Equal(t, []string{"comment", "baseline 230 sample", "baseline 230 reference"}, header[:3])
	assert.Equal(t, "sample 340 reference", header[len(header)-1])

	assert.Equal(t, []string{"Blank #1", "1", "2", "3", "4", "5", "6", "7", "8", "11"}, rows[1][:10])
	assert.Equal(t, "28.5", rows[1][len(rows[1])-1])
}

func TestParseOptions(t *testing.T) {
	for in, want := range map[string]rune{"": ',', "comma": ',', "Semicolon": ';', ";": ';', "tab": '\t'} {
		got, err := ParseDelimiter(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseDelimiter("pipe")
	assert.ErrorIs(t, err, ErrOption)

	m, err := ParseMode("RAW")
	require.NoError(t, err)
	assert.Equal(t, ModeRaw, m)
	m, err = ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeResults, m)
	_, err = ParseMode("v9")
	assert.ErrorIs(t, err, ErrOption)

	assert.ErrorIs(t, Write(&bytes.Buffer{}, testLog(), Options{Mode: "xml"}), ErrOption)
}

func TestWriteFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.csv")
	require.NoError(t, WriteFile(nil, path, testLog(), Options{Delimiter: '\t'}, dir))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "comment\tdsDNA\t"))

	err = WriteFile(fsutil.NewMemoryFileSystem(), "/etc/evidense/out.csv", testLog(), Options{})
	assert.ErrorIs(t, err, security.ErrOutsideAllowedDirs)
}
