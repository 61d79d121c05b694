// SPDX-License-Identifier: MIT

// Package store persists enrichment run history in SQLite and batch
// checkpoints in Badger.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure Go driver

	"github.com/Becca-90/SLSA-beach-analysis/internal/observations"
)

// Run is one enrichment run in the archive.
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Incidents  int
	Enriched   int
	Failed     int
	Status     string
	Error      string
}

// Run status values.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	started_at  INTEGER NOT NULL,
	finished_at INTEGER,
	incidents   INTEGER NOT NULL DEFAULT 0,
	enriched    INTEGER NOT NULL DEFAULT 0,
	failed      INTEGER NOT NULL DEFAULT 0,
	status      TEXT NOT NULL,
	error       TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS observations (
	run_id       TEXT NOT NULL REFERENCES runs(id),
	incident_row INTEGER NOT NULL,
	lat          REAL NOT NULL,
	lon          REAL NOT NULL,
	incident_utc TEXT NOT NULL,
	wave_source  TEXT NOT NULL DEFAULT '',
	complete     INTEGER NOT NULL DEFAULT 0,
	weather_err  TEXT NOT NULL DEFAULT '',
	climate_err  TEXT NOT NULL DEFAULT '',
	wave_err     TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (run_id, incident_row)
);

CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC);
`

// DB wraps the SQLite run archive.
type DB struct {
	db *sql.DB
}

// Open opens (and if needed creates) the archive at dbPath. WAL mode and
// busy_timeout go in the DSN so they apply to every pooled connection.
func Open(dbPath string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)",
		dbPath, (5 * time.Second).Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open failed: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping failed: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &DB{db: db}, nil
}

func (d *DB) Close() error { return d.db.Close() }

// Ping reports whether the archive is reachable, for readiness checks.
func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// InsertRun records the start of a run.
func (d *DB) InsertRun(ctx context.Context, id string, startedAt time.Time, incidentCount int) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO runs (id, started_at, incidents, status) VALUES (?, ?, ?, ?)`,
		id, startedAt.Unix(), incidentCount, RunRunning)
	if err != nil {
		return fmt.Errorf("sqlite: insert run %s: %w", id, err)
	}
	return nil
}

// CompleteRun finalises a run with its outcome.
func (d *DB) CompleteRun(ctx context.Context, id string, finishedAt time.Time, enriched, failed int, runErr error) error {
	status := RunCompleted
	errText := ""
	if runErr != nil {
		status = RunFailed
		errText = runErr.Error()
	}
	_, err := d.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, enriched = ?, failed = ?, status = ?, error = ? WHERE id = ?`,
		finishedAt.Unix(), enriched, failed, status, errText, id)
	if err != nil {
		return fmt.Errorf("sqlite: complete run %s: %w", id, err)
	}
	return nil
}

// InsertObservations archives the outcome of each record within a
// single transaction.
func (d *DB) InsertObservations(ctx context.Context, runID string, records []observations.Record) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO observations
		(run_id, incident_row, lat, lon, incident_utc, wave_source, complete, weather_err, climate_err, wave_err)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("sqlite: prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		inc := rec.Incident
		waveSource := ""
		if rec.Wave != nil {
			waveSource = rec.Wave.Source
		}
		complete := 0
		if rec.Complete() {
			complete = 1
		}
		if _, err := stmt.ExecContext(ctx,
			runID, inc.Row, inc.Location.Lat, inc.Location.Lon,
			inc.Time.UTC().Format(time.RFC3339), waveSource, complete,
			rec.WeatherErr, rec.ClimateErr, rec.WaveErr,
		); err != nil {
			return fmt.Errorf("sqlite: insert observation row %d: %w", inc.Row, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit observations: %w", err)
	}
	return nil
}

// LastIncompleteRun returns the most recent run still marked running,
// if any. A run left in that state means the previous process died
// mid-run; the daemon resumes it at startup.
func (d *DB) LastIncompleteRun(ctx context.Context) (string, bool, error) {
	var id string
	err := d.db.QueryRowContext(ctx,
		`SELECT id FROM runs WHERE status = ? ORDER BY started_at DESC LIMIT 1`,
		RunRunning).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("sqlite: query incomplete run: %w", err)
	}
	return id, true, nil
}

// RecentRuns returns up to limit runs, newest first.
func (d *DB) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, started_at, COALESCE(finished_at, 0), incidents, enriched, failed, status, error
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			r                 Run
			started, finished int64
		)
		if err := rows.Scan(&r.ID, &started, &finished, &r.Incidents, &r.Enriched, &r.Failed, &r.Status, &r.Error); err != nil {
			return nil, fmt.Errorf("sqlite: scan run: %w", err)
		}
		r.StartedAt = time.Unix(started, 0).UTC()
		if finished > 0 {
			r.FinishedAt = time.Unix(finished, 0).UTC()
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
