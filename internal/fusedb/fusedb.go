// Package fusedb is the optional flight recorder: fused objects and sweep
// statistics land in a SQLite file so a run can be replayed after the fact.
package fusedb

import (
	"database/sql"
	_ "embed"
	"fmt"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/fieldrover/fusion/internal/fusion"
	"github.com/fieldrover/fusion/internal/monitoring"
)

//go:embed schema.sql
var schemaSQL string

// FuseDB wraps the recorder database. It implements fusion.Recorder once a
// run has been started.
type FuseDB struct {
	*sql.DB
	runID string
}

// NewFuseDB opens (or creates) the database and applies the schema.
func NewFuseDB(path string) (*FuseDB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open recorder db: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply recorder schema: %w", err)
	}
	monitoring.Logf("initialized recorder database schema")
	return &FuseDB{DB: db}, nil
}

// StartRun registers a new recording run and returns its ID. All subsequent
// Record* calls attach to this run.
func (f *FuseDB) StartRun(nowMS int64, device, notes string) (string, error) {
	runID := uuid.NewString()
	_, err := f.Exec(
		`INSERT INTO fusion_runs (run_id, started_unix_ms, device, notes) VALUES (?, ?, ?, ?)`,
		runID, nowMS, device, notes,
	)
	if err != nil {
		return "", fmt.Errorf("start run: %w", err)
	}
	f.runID = runID
	return runID, nil
}

// RecordObjects stores one published registry snapshot.
func (f *FuseDB) RecordObjects(nowMS int64, objs []fusion.TrackedObject) error {
	tx, err := f.Begin()
	if err != nil {
		return fmt.Errorf("record objects: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO fused_objects (run_id, ts_unix_ms, label, confidence, angle_deg, distance_mm, area)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("record objects: %w", err)
	}
	defer stmt.Close()

	for _, o := range objs {
		if _, err := stmt.Exec(f.runID, nowMS, o.Label, o.Confidence, o.AngleDeg, o.DistanceMM, o.Area); err != nil {
			return fmt.Errorf("record object %q: %w", o.Label, err)
		}
	}
	return tx.Commit()
}

// RecordSweep stores one sweep statistics row.
func (f *FuseDB) RecordSweep(nowMS int64, s fusion.SweepStats) error {
	_, err := f.Exec(
		`INSERT INTO sweep_stats (run_id, ts_unix_ms, sample_count, bucket_count,
		   min_distance_mm, mean_distance_mm, median_distance_mm, max_distance_mm)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		f.runID, nowMS, s.Samples, s.Buckets, s.MinMM, s.MeanMM, s.MedianMM, s.MaxMM,
	)
	if err != nil {
		return fmt.Errorf("record sweep stats: %w", err)
	}
	return nil
}
