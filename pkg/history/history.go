package history

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/runningman84/btrfs-backup/pkg/models"
)

// timeFormat has a fixed width so stored timestamps sort lexically
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// DB wraps the SQLite database connection
type DB struct {
	conn *sql.DB
}

// Open opens or creates a SQLite database and initializes the schema
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// If database is locked, retry for up to 5 seconds before failing
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &DB{conn: conn}, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// RecordRun stores the outcome of a job run and sets its ID
func (db *DB) RecordRun(run *models.JobRun) error {
	violations, err := json.Marshal(run.Violations)
	if err != nil {
		return fmt.Errorf("failed to encode violations: %w", err)
	}
	durations, err := json.Marshal(run.Durations)
	if err != nil {
		return fmt.Errorf("failed to encode durations: %w", err)
	}

	result, err := db.conn.Exec(`
		INSERT INTO job_runs (job_id, stage, status, snapshot, healthy, violations, durations, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.JobID, run.Stage, run.Status, run.Snapshot, run.Healthy, string(violations), string(durations), run.Error,
		run.StartedAt.UTC().Format(timeFormat), run.CompletedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("failed to record job run: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	run.ID = id
	return nil
}

// ListRuns lists job runs newest first, optionally filtered by job ID (empty = all).
// A limit of 0 returns every run.
func (db *DB) ListRuns(jobID string, limit int) ([]*models.JobRun, error) {
	query := `SELECT id, job_id, stage, status, snapshot, healthy, violations, durations, error, started_at, completed_at
		FROM job_runs`
	var args []interface{}

	if jobID != "" {
		query += ` WHERE job_id = ?`
		args = append(args, jobID)
	}
	query += ` ORDER BY started_at DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list job runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.JobRun
	for rows.Next() {
		var run models.JobRun
		var snapshot, violations, durations, errText sql.NullString
		var startedAt, completedAt string

		if err := rows.Scan(
			&run.ID, &run.JobID, &run.Stage, &run.Status, &snapshot, &run.Healthy,
			&violations, &durations, &errText, &startedAt, &completedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan job run: %w", err)
		}

		run.Snapshot = snapshot.String
		run.Error = errText.String
		if violations.Valid && violations.String != "" {
			if err := json.Unmarshal([]byte(violations.String), &run.Violations); err != nil {
				return nil, fmt.Errorf("failed to decode violations of run %d: %w", run.ID, err)
			}
		}
		if durations.Valid && durations.String != "" {
			if err := json.Unmarshal([]byte(durations.String), &run.Durations); err != nil {
				return nil, fmt.Errorf("failed to decode durations of run %d: %w", run.ID, err)
			}
		}
		if run.StartedAt, err = time.Parse(timeFormat, startedAt); err != nil {
			return nil, fmt.Errorf("failed to decode started_at of run %d: %w", run.ID, err)
		}
		if run.CompletedAt, err = time.Parse(timeFormat, completedAt); err != nil {
			return nil, fmt.Errorf("failed to decode completed_at of run %d: %w", run.ID, err)
		}

		runs = append(runs, &run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate job runs: %w", err)
	}

	return runs, nil
}
