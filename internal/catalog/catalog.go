// Package catalog keeps a SQLite record of every acquisition.
package catalog

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned by Get for unknown scan IDs.
var ErrNotFound = errors.New("scan not found")

// Run is one acquisition as recorded in the catalog.
type Run struct {
	ID                 string    `json:"id"`
	StartedAt          time.Time `json:"started_at"`
	FinishedAt         time.Time `json:"finished_at,omitempty"`
	State              string    `json:"state"`
	PositionsRequested int       `json:"positions_requested"`
	PositionsCompleted int       `json:"positions_completed"`
	RawStepsPerImage   int       `json:"raw_steps_per_image"`
	ImagesPerStep      int       `json:"images_per_step"`
	IntegrationUs      float64   `json:"integration_us"`
	PixelFormat        string    `json:"pixel_format"`
	File               string    `json:"file,omitempty"`
	DarkFile           string    `json:"dark_file,omitempty"`
	Error              string    `json:"error,omitempty"`
}

type DB struct {
	*sql.DB
}

// Open opens or creates the catalog at path, creating its directory.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create catalog directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS scans (
			id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL,
			finished_at TEXT,
			state TEXT NOT NULL,
			positions_requested INTEGER,
			positions_completed INTEGER,
			raw_steps_per_image INTEGER,
			images_per_step INTEGER,
			integration_us DOUBLE,
			pixel_format TEXT,
			file TEXT,
			dark_file TEXT,
			error TEXT
		);
		CREATE INDEX IF NOT EXISTS scans_started_at ON scans(started_at);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create catalog schema: %w", err)
	}

	return &DB{db}, nil
}

func formatTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func parseTime(s sql.NullString) time.Time {
	if !s.Valid {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339Nano, s.String)
	return t
}

// Record inserts r or replaces the row with the same ID.
func (db *DB) Record(r Run) error {
	if r.ID == "" {
		return errors.New("record scan: empty id")
	}
	_, err := db.Exec(`
		INSERT OR REPLACE INTO scans (
			id, started_at, finished_at, state, positions_requested, positions_completed,
			raw_steps_per_image, images_per_step, integration_us, pixel_format, file, dark_file, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, formatTime(r.StartedAt), formatTime(r.FinishedAt), r.State, r.PositionsRequested, r.PositionsCompleted,
		r.RawStepsPerImage, r.ImagesPerStep, r.IntegrationUs, r.PixelFormat, r.File, r.DarkFile, r.Error,
	)
	if err != nil {
		return fmt.Errorf("record scan %s: %w", r.ID, err)
	}
	return nil
}

const selectRun = `
	SELECT id, started_at, finished_at, state, positions_requested, positions_completed,
		raw_steps_per_image, images_per_step, integration_us, pixel_format, file, dark_file, error
	FROM scans`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (Run, error) {
	var r Run
	var started, finished, pixfmt, file, dark, errText sql.NullString
	err := s.Scan(&r.ID, &started, &finished, &r.State, &r.PositionsRequested, &r.PositionsCompleted,
		&r.RawStepsPerImage, &r.ImagesPerStep, &r.IntegrationUs, &pixfmt, &file, &dark, &errText)
	if err != nil {
		return Run{}, err
	}
	r.StartedAt = parseTime(started)
	r.FinishedAt = parseTime(finished)
	r.PixelFormat, r.File, r.DarkFile, r.Error = pixfmt.String, file.String, dark.String, errText.String
	return r, nil
}

// Get returns the run with the given ID.
func (db *DB) Get(id string) (Run, error) {
	r, err := scanRun(db.QueryRow(selectRun+" WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return r, err
}

// List returns up to limit runs, newest first. limit <= 0 means 100.
func (db *DB) List(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(selectRun+" ORDER BY started_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return runs, nil
}
