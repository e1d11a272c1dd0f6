// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: 2025-Present The cimatrix Authors

// Package history persists run reports in a SQLite database
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver

	"github.com/bioviz/cimatrix"
)

// DefaultFileName is the database file name inside the cimatrix config directory
const DefaultFileName = "history.db"

// ErrNotFound is returned when no run matches an id
var ErrNotFound = errors.New("run not found")

// Run is a recorded pipeline run
type Run struct {
	ID       string
	Pipeline string
	Status   cimatrix.Status
	Started  time.Time
	Finished time.Time
	Jobs     []Job
}

// Job is a recorded job of a run
type Job struct {
	Name         string
	OS           string
	Image        string
	Status       cimatrix.Status
	AllowFailure bool
	Started      time.Time
	Finished     time.Time
	Error        string
	Steps        []Step
}

// Step is a recorded step of a job
type Step struct {
	Phase    string
	Index    int
	Name     string
	Status   cimatrix.Status
	ExitCode int
	Duration time.Duration
	Output   string
	Error    string
}

// Store records run reports in SQLite
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ cimatrix.Recorder = (*Store)(nil)

// Open opens (creating if needed) the database at path and migrates it
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db}
	if err := s.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Migrate creates the tables if they do not exist
func (s *Store) Migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		pipeline TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		finished_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS jobs (
		run_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		name TEXT NOT NULL,
		os TEXT NOT NULL,
		image TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		allow_failure INTEGER NOT NULL DEFAULT 0,
		started_at DATETIME NOT NULL,
		finished_at DATETIME NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (run_id, position),
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS steps (
		run_id TEXT NOT NULL,
		job_position INTEGER NOT NULL,
		position INTEGER NOT NULL,
		phase TEXT NOT NULL,
		step_index INTEGER NOT NULL,
		name TEXT NOT NULL,
		status TEXT NOT NULL,
		exit_code INTEGER NOT NULL DEFAULT 0,
		duration_ns INTEGER NOT NULL DEFAULT 0,
		output TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (run_id, job_position, position),
		FOREIGN KEY (run_id, job_position) REFERENCES jobs(run_id, position) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores a run report
func (s *Store) Record(ctx context.Context, r *cimatrix.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO runs (id, pipeline, status, started_at, finished_at) VALUES (?, ?, ?, ?, ?)",
		r.ID, r.Pipeline, string(r.Status()), r.Started.UTC(), r.Finished.UTC(),
	); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for jobPos, j := range r.Jobs {
		var jobErr string
		if j.Err != nil {
			jobErr = j.Err.Error()
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO jobs (run_id, position, name, os, image, status, allow_failure, started_at, finished_at, error)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, jobPos, j.Name, j.OS.String(), j.Image, string(j.Status), j.AllowFailure,
			j.Started.UTC(), j.Finished.UTC(), jobErr,
		); err != nil {
			return fmt.Errorf("insert job %s: %w", j.Name, err)
		}

		pos := 0
		for _, pr := range j.Phases {
			for _, st := range pr.Steps {
				if _, err := tx.ExecContext(ctx, `
					INSERT INTO steps (run_id, job_position, position, phase, step_index, name, status, exit_code, duration_ns, output, error)
					VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
					r.ID, jobPos, pos, pr.Phase.String(), st.Index, st.Name, string(st.Status),
					st.ExitCode, int64(st.Duration), st.Output, st.Error,
				); err != nil {
					return fmt.Errorf("insert step %s/%s[%d]: %w", j.Name, pr.Phase, st.Index, err)
				}
				pos++
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// List returns the most recent runs with their jobs, newest first
func (s *Store) List(ctx context.Context, limit int) ([]Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, pipeline, status, started_at, finished_at FROM runs ORDER BY started_at DESC, id LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		var status string
		if err := rows.Scan(&run.ID, &run.Pipeline, &status, &run.Started, &run.Finished); err != nil {
			return nil, err
		}
		run.Status = cimatrix.Status(status)
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	for i := range runs {
		jobs, err := s.jobs(ctx, runs[i].ID)
		if err != nil {
			return nil, err
		}
		runs[i].Jobs = jobs
	}

	return runs, nil
}

// Get returns a single run with its jobs and steps
//
// id may be a unique prefix of a run id
func (s *Store) Get(ctx context.Context, id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, pipeline, status, started_at, finished_at FROM runs WHERE id = ? OR id LIKE ? || '%' LIMIT 2", id, id)
	if err != nil {
		return nil, fmt.Errorf("query run: %w", err)
	}
	defer rows.Close()

	var found []Run
	for rows.Next() {
		var run Run
		var status string
		if err := rows.Scan(&run.ID, &run.Pipeline, &status, &run.Started, &run.Finished); err != nil {
			return nil, err
		}
		run.Status = cimatrix.Status(status)
		found = append(found, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	switch len(found) {
	case 0:
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	case 1:
	default:
		return nil, fmt.Errorf("%s: ambiguous run id", id)
	}

	run := found[0]
	run.Jobs, err = s.jobs(ctx, run.ID)
	if err != nil {
		return nil, err
	}

	for i := range run.Jobs {
		run.Jobs[i].Steps, err = s.steps(ctx, run.ID, i)
		if err != nil {
			return nil, err
		}
	}

	return &run, nil
}

func (s *Store) jobs(ctx context.Context, runID string) ([]Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, os, image, status, allow_failure, started_at, finished_at, error
		FROM jobs WHERE run_id = ? ORDER BY position`, runID)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var j Job
		var status string
		if err := rows.Scan(&j.Name, &j.OS, &j.Image, &status, &j.AllowFailure, &j.Started, &j.Finished, &j.Error); err != nil {
			return nil, err
		}
		j.Status = cimatrix.Status(status)
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (s *Store) steps(ctx context.Context, runID string, jobPos int) ([]Step, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT phase, step_index, name, status, exit_code, duration_ns, output, error
		FROM steps WHERE run_id = ? AND job_position = ? ORDER BY position`, runID, jobPos)
	if err != nil {
		return nil, fmt.Errorf("query steps: %w", err)
	}
	defer rows.Close()

	var steps []Step
	for rows.Next() {
		var st Step
		var status string
		var duration int64
		if err := rows.Scan(&st.Phase, &st.Index, &st.Name, &status, &st.ExitCode, &duration, &st.Output, &st.Error); err != nil {
			return nil, err
		}
		st.Status = cimatrix.Status(status)
		st.Duration = time.Duration(duration)
		steps = append(steps, st)
	}
	return steps, rows.Err()
}
