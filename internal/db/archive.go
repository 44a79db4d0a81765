package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/banshee-data/evidense/internal/results"
	"github.com/banshee-data/evidense/internal/run"
	"github.com/banshee-data/evidense/internal/scan"
	"github.com/banshee-data/evidense/internal/storage"
)

// ArchiveRun upserts the run and all of its records in one transaction.
// Records are keyed by ID, so results attached by a later backfill update
// the existing rows. Records without an ID (logs written by other tools) are
// keyed by run and index.
func (db *DB) ArchiveRun(ctx context.Context, info run.Info, records []storage.Record) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("archive %s: %w", info.RunID, err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO runs (run_id, serial_number, firmware_version, blank_count, data_file, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			serial_number = excluded.serial_number,
			firmware_version = excluded.firmware_version,
			blank_count = excluded.blank_count,
			data_file = excluded.data_file,
			updated_at = excluded.updated_at`,
		info.RunID, info.SerialNumber, info.FirmwareVersion, info.BlankCount, info.DataFile,
		info.CreatedAt.UTC(), now,
	); err != nil {
		return fmt.Errorf("archive run %s: %w", info.RunID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO measurements (
			record_id, run_id, idx, comment, date_time, baseline_json, air_json, sample_json,
			ds_dna, ss_dna, ss_rna, purity_260_230, purity_260_280, logging
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(record_id) DO UPDATE SET
			idx = excluded.idx,
			comment = excluded.comment,
			ds_dna = excluded.ds_dna,
			ss_dna = excluded.ss_dna,
			ss_rna = excluded.ss_rna,
			purity_260_230 = excluded.purity_260_230,
			purity_260_280 = excluded.purity_260_280,
			logging = excluded.logging`)
	if err != nil {
		return fmt.Errorf("prepare measurement upsert: %w", err)
	}
	defer stmt.Close()

	for i, r := range records {
		id := r.ID
		if id == "" {
			id = fmt.Sprintf("%s/%d", info.RunID, i)
		}
		b, a, s, err := scanJSON(r.Triplet)
		if err != nil {
			return fmt.Errorf("encode record %d: %w", i, err)
		}
		var dateTime interface{}
		if !r.DateTime.IsZero() {
			dateTime = r.DateTime.UTC()
		}
		res := resultColumns(r.Results)
		if _, err := stmt.ExecContext(ctx,
			id, info.RunID, i, r.Triplet.Comment, dateTime, b, a, s,
			res[0], res[1], res[2], res[3], res[4], strings.Join(r.Logging, "\n"),
		); err != nil {
			return fmt.Errorf("archive record %d: %w", i, err)
		}
	}
	return tx.Commit()
}

func scanJSON(t scan.Triplet) (baseline, air, sample string, err error) {
	out := make([]string, 3)
	for i, s := range []scan.RawScan{t.Baseline, t.Air, t.Sample} {
		data, err := json.Marshal(s)
		if err != nil {
			return "", "", "", err
		}
		out[i] = string(data)
	}
	return out[0], out[1], out[2], nil
}

// resultColumns maps a result set onto nullable columns; NaN and infinite
// values are stored as NULL.
func resultColumns(rs *results.ResultSet) [5]interface{} {
	var cols [5]interface{}
	if rs == nil {
		return cols
	}
	for i, v := range []float64{rs.DsDNA, rs.SsDNA, rs.SsRNA, rs.Purity260230, rs.Purity260280} {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			cols[i] = v
		}
	}
	return cols
}

// RunRow is one archived run.
type RunRow struct {
	RunID           string    `json:"run_id"`
	SerialNumber    string    `json:"serial_number"`
	FirmwareVersion string    `json:"firmware_version"`
	BlankCount      int       `json:"blank_count"`
	DataFile        string    `json:"data_file"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	Records         int       `json:"records"`
}

// Runs lists archived runs, newest first.
func (db *DB) Runs(ctx context.Context) ([]RunRow, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT r.run_id, r.serial_number, r.firmware_version, r.blank_count, r.data_file,
		       r.created_at, r.updated_at, COUNT(m.record_id)
		FROM runs r LEFT JOIN measurements m ON m.run_id = r.run_id
		GROUP BY r.run_id
		ORDER BY r.created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRow
	for rows.Next() {
		var r RunRow
		if err := rows.Scan(&r.RunID, &r.SerialNumber, &r.FirmwareVersion, &r.BlankCount, &r.DataFile,
			&r.CreatedAt, &r.UpdatedAt, &r.Records); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// MeasurementRow is one archived record. Result columns are nil when the
// record had no results or the value was not finite.
type MeasurementRow struct {
	RecordID     string   `json:"record_id"`
	Index        int      `json:"index"`
	Comment      string   `json:"comment"`
	DsDNA        *float64 `json:"dsDNA"`
	SsDNA        *float64 `json:"ssDNA"`
	SsRNA        *float64 `json:"ssRNA"`
	Purity260230 *float64 `json:"purity260/230"`
	Purity260280 *float64 `json:"purity260/280"`
}

// Measurements lists the records of a run in log order.
func (db *DB) Measurements(ctx context.Context, runID string) ([]MeasurementRow, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT record_id, idx, comment, ds_dna, ss_dna, ss_rna, purity_260_230, purity_260_280
		FROM measurements WHERE run_id = ? ORDER BY idx`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MeasurementRow
	for rows.Next() {
		var (
			m    MeasurementRow
			vals [5]sql.NullFloat64
		)
		if err := rows.Scan(&m.RecordID, &m.Index, &m.Comment,
			&vals[0], &vals[1], &vals[2], &vals[3], &vals[4]); err != nil {
			return nil, err
		}
		dst := []**float64{&m.DsDNA, &m.SsDNA, &m.SsRNA, &m.Purity260230, &m.Purity260280}
		for i, v := range vals {
			if v.Valid {
				f := v.Float64
				*dst[i] = &f
			}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
