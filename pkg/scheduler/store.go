// Copyright © 2026 Dot Agents Contributors - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package scheduler

import (
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// Store persists job firings and outcomes across daemon restarts in a
// small SQLite database under the agents directory.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Run is one recorded firing.
type Run struct {
	JobID    string    `json:"jobId"`
	Workflow string    `json:"workflow"`
	FiredAt  time.Time `json:"firedAt"`
	Status   string    `json:"status,omitempty"`
}

const schema = `
CREATE TABLE IF NOT EXISTS job_runs (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id    TEXT NOT NULL,
	workflow  TEXT NOT NULL,
	fired_at  TIMESTAMP NOT NULL,
	status    TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_job_runs_job ON job_runs(job_id, fired_at DESC);

CREATE TABLE IF NOT EXISTS job_status (
	job_id      TEXT PRIMARY KEY,
	last_run    TIMESTAMP,
	last_status TEXT NOT NULL DEFAULT ''
);
`

// OpenStore opens (creating if needed) the run-stats database at path.
func OpenStore(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open scheduler database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize scheduler database: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordFire logs a firing and stamps the job's last run.
func (s *Store) RecordFire(jobID, workflowName string, firedAt time.Time) error {
	if _, err := s.db.Exec(
		`INSERT INTO job_runs (job_id, workflow, fired_at) VALUES (?, ?, ?)`,
		jobID, workflowName, firedAt.UTC(),
	); err != nil {
		return fmt.Errorf("failed to record job firing: %w", err)
	}
	if _, err := s.db.Exec(
		`INSERT INTO job_status (job_id, last_run, last_status) VALUES (?, ?, '')
		 ON CONFLICT(job_id) DO UPDATE SET last_run = excluded.last_run`,
		jobID, firedAt.UTC(),
	); err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}
	return nil
}

// RecordOutcome stamps the most recent firing of a job with its result.
func (s *Store) RecordOutcome(jobID string, success bool) error {
	status := StatusFailure
	if success {
		status = StatusSuccess
	}
	if _, err := s.db.Exec(
		`UPDATE job_runs SET status = ?
		 WHERE id = (SELECT id FROM job_runs WHERE job_id = ? ORDER BY fired_at DESC, id DESC LIMIT 1)`,
		status, jobID,
	); err != nil {
		return fmt.Errorf("failed to record job outcome: %w", err)
	}
	if _, err := s.db.Exec(
		`INSERT INTO job_status (job_id, last_status) VALUES (?, ?)
		 ON CONFLICT(job_id) DO UPDATE SET last_status = excluded.last_status`,
		jobID, status,
	); err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}
	return nil
}

// LastStatus returns the persisted last run time and status for a job.
// Unknown jobs return zero values without error.
func (s *Store) LastStatus(jobID string) (lastRun *time.Time, status string, err error) {
	var run sql.NullTime
	var st string
	row := s.db.QueryRow(`SELECT last_run, last_status FROM job_status WHERE job_id = ?`, jobID)
	if err := row.Scan(&run, &st); err != nil {
		if err == sql.ErrNoRows {
			return nil, "", nil
		}
		return nil, "", fmt.Errorf("failed to read job status: %w", err)
	}
	if run.Valid {
		t := run.Time
		lastRun = &t
	}
	return lastRun, st, nil
}

// Stats summarizes a job's recorded runs.
type Stats struct {
	TotalRuns   int `json:"totalRuns"`
	SuccessRuns int `json:"successRuns"`
	FailedRuns  int `json:"failedRuns"`
}

// JobStats aggregates run counts for one job.
func (s *Store) JobStats(jobID string) (Stats, error) {
	var st Stats
	row := s.db.QueryRow(
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0)
		 FROM job_runs WHERE job_id = ?`,
		StatusSuccess, StatusFailure, jobID,
	)
	if err := row.Scan(&st.TotalRuns, &st.SuccessRuns, &st.FailedRuns); err != nil {
		return Stats{}, fmt.Errorf("failed to read job stats: %w", err)
	}
	return st, nil
}

// History returns the most recent firings for a job, newest first.
func (s *Store) History(jobID string, limit int) ([]Run, error) {
	rows, err := s.db.Query(
		`SELECT job_id, workflow, fired_at, status FROM job_runs
		 WHERE job_id = ? ORDER BY fired_at DESC, id DESC LIMIT ?`,
		jobID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to read job history: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.JobID, &r.Workflow, &r.FiredAt, &r.Status); err != nil {
			return nil, fmt.Errorf("failed to scan job run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
