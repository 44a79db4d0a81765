// Package storage holds the ordered, append-only measurement log and its JSON
// file format.
package storage

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/evidense/internal/fsutil"
	"github.com/banshee-data/evidense/internal/results"
	"github.com/banshee-data/evidense/internal/scan"
	"github.com/banshee-data/evidense/internal/timeutil"
)

var (
	// ErrParse is returned when a persisted log is malformed or incomplete.
	ErrParse = errors.New("malformed measurement log")
	// ErrOutOfRange is returned for an index outside the log.
	ErrOutOfRange = errors.New("record index out of range")
)

// Record is one logged measurement: its triplet, the results once calibration
// exists, and any instrument log lines drained while it was acquired.
type Record struct {
	ID       string
	DateTime time.Time
	Triplet  scan.Triplet
	Results  *results.ResultSet
	Logging  []string
}

// HasResults reports whether results have been attached.
func (r Record) HasResults() bool {
	return r.Results != nil
}

func (r Record) clone() Record {
	if r.Results != nil {
		rs := *r.Results
		r.Results = &rs
	}
	if r.Logging != nil {
		r.Logging = append([]string(nil), r.Logging...)
	}
	return r
}

// Log is the ordered measurement log. Index is insertion order, starting at 0.
// A Log is owned by a single run and is not safe for concurrent mutation.
type Log struct {
	// FS is used by Save; nil means the OS filesystem.
	FS fsutil.FileSystem
	// Clock stamps appended records; nil means the real clock.
	Clock timeutil.Clock

	records []Record
}

// New returns an empty log backed by the OS filesystem and real clock.
func New() *Log {
	return &Log{FS: fsutil.OSFileSystem{}, Clock: timeutil.RealClock{}}
}

func (l *Log) fs() fsutil.FileSystem {
	if l.FS == nil {
		return fsutil.OSFileSystem{}
	}
	return l.FS
}

func (l *Log) now() time.Time {
	if l.Clock == nil {
		return time.Now().UTC().Truncate(time.Second)
	}
	return l.Clock.Now().UTC().Truncate(time.Second)
}

// Append adds a record without results and returns its index.
func (l *Log) Append(t scan.Triplet, comment string) int {
	t.Comment = comment
	return l.AppendRecord(Record{Triplet: t})
}

// AppendWithResults adds a record that already has results and returns its
// index.
func (l *Log) AppendWithResults(t scan.Triplet, rs results.ResultSet, comment string) int {
	t.Comment = comment
	return l.AppendRecord(Record{Triplet: t, Results: &rs})
}

// AppendRecord adds r, assigning an ID and timestamp when they are unset, and
// returns its index.
func (l *Log) AppendRecord(r Record) int {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.DateTime.IsZero() {
		r.DateTime = l.now()
	}
	l.records = append(l.records, r.clone())
	return len(l.records) - 1
}

// Get returns a copy of the record at index.
func (l *Log) Get(index int) (Record, error) {
	if index < 0 || index >= len(l.records) {
		return Record{}, fmt.Errorf("%w: %d (count %d)", ErrOutOfRange, index, len(l.records))
	}
	return l.records[index].clone(), nil
}

// Count returns the number of records.
func (l *Log) Count() int {
	return len(l.records)
}

// Records returns a copy of all records in order.
func (l *Log) Records() []Record {
	out := make([]Record, len(l.records))
	for i, r := range l.records {
		out[i] = r.clone()
	}
	return out
}

// SetResults attaches results to the record at index, replacing any present.
func (l *Log) SetResults(index int, rs results.ResultSet) error {
	if index < 0 || index >= len(l.records) {
		return fmt.Errorf("%w: %d (count %d)", ErrOutOfRange, index, len(l.records))
	}
	l.records[index].Results = &rs
	return nil
}

// Save writes the whole log as pretty-printed JSON to path. The file is
// replaced atomically.
func (l *Log) Save(path string) error {
	data, err := l.Encode()
	if err != nil {
		return err
	}
	if err := fsutil.WriteFileAtomic(l.fs(), path, data, 0o644); err != nil {
		return fmt.Errorf("save measurement log: %w", err)
	}
	return nil
}

// Load reads a log previously written by Save. Malformed or incomplete
// documents fail with ErrParse.
func Load(fsys fsutil.FileSystem, path string) (*Log, error) {
	if fsys == nil {
		fsys = fsutil.OSFileSystem{}
	}
	data, err := fsys.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load measurement log: %w", err)
	}
	l, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	l.FS = fsys
	return l, nil
}
