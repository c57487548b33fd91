package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/facetrace/facetrace/internal/models"
)

// ErrAlreadyLeased is returned when a lease CAS loses to another leaseholder.
var ErrAlreadyLeased = errors.New("job already leased")

// EnsureJob upserts a scan job keyed by (kind, target), leaving lease state
// and run history untouched if the row already exists.
func (s *Store) EnsureJob(kind models.JobKind, target string, intervalHours float64) error {
	_, err := s.db.Exec(`
		INSERT INTO scan_jobs (kind, target, interval_hours, last_run_at)
		VALUES (?, ?, ?, 0)
		ON CONFLICT(kind, target) DO UPDATE SET interval_hours = excluded.interval_hours`,
		string(kind), target, intervalHours)
	return err
}

// DueJobs returns jobs of a kind whose interval has elapsed since their last
// run and that are leasable (idle, failed, or interrupted), oldest first.
func (s *Store) DueJobs(kind models.JobKind, now time.Time, limit int) ([]models.ScanJob, error) {
	rows, err := s.db.Query(`
		SELECT id, kind, target, interval_hours, last_run_at, lease_state,
		       lease_owner, heartbeat_at, run_id, last_result, last_error
		FROM scan_jobs
		WHERE kind = ?
		  AND lease_state IN ('idle', 'failed', 'interrupted')
		  AND last_run_at + CAST(interval_hours * 3600 AS INTEGER) <= ?
		ORDER BY last_run_at ASC
		LIMIT ?`,
		string(kind), now.Unix(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []models.ScanJob
	for rows.Next() {
		job, err := scanJobRow(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Lease atomically flips a leasable job to running, stamping the owner and
// heartbeat, and returns a fresh run id. Returns ErrAlreadyLeased when the
// job is no longer leasable.
func (s *Store) Lease(jobID int64, owner string, now time.Time) (string, error) {
	runID := uuid.New().String()
	res, err := s.db.Exec(`
		UPDATE scan_jobs
		SET lease_state = 'running', lease_owner = ?, heartbeat_at = ?, run_id = ?
		WHERE id = ? AND lease_state IN ('idle', 'failed', 'interrupted')`,
		owner, now.Unix(), runID, jobID)
	if err != nil {
		return "", err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", ErrAlreadyLeased
	}
	return runID, nil
}

// Heartbeat refreshes the lease heartbeat for an in-flight run.
func (s *Store) Heartbeat(runID string, now time.Time) error {
	_, err := s.db.Exec(`
		UPDATE scan_jobs SET heartbeat_at = ?
		WHERE run_id = ? AND lease_state = 'running'`,
		now.Unix(), runID)
	return err
}

// Complete finishes a run: the job returns to idle, its last-run timestamp is
// stamped and the structured result summary is persisted.
func (s *Store) Complete(runID, resultSummary string, now time.Time) error {
	res, err := s.db.Exec(`
		UPDATE scan_jobs
		SET lease_state = 'idle', lease_owner = '', last_run_at = ?,
		    last_result = ?, last_error = '', finished_at = ?
		WHERE run_id = ? AND lease_state = 'running'`,
		now.Unix(), resultSummary, now.Unix(), runID)
	if err != nil {
		return err
	}
	return requireRun(res, runID)
}

// Fail marks a run as failed with a reason. The job remains leasable on the
// next tick.
func (s *Store) Fail(runID, reason string, now time.Time) error {
	res, err := s.db.Exec(`
		UPDATE scan_jobs
		SET lease_state = 'failed', lease_owner = '', last_run_at = ?,
		    last_error = ?, finished_at = ?
		WHERE run_id = ? AND lease_state = 'running'`,
		now.Unix(), reason, now.Unix(), runID)
	if err != nil {
		return err
	}
	return requireRun(res, runID)
}

// RecoverStale transitions running jobs whose heartbeat is older than maxAge
// to interrupted so another instance can pick them up. Returns the count.
func (s *Store) RecoverStale(maxAge time.Duration, now time.Time) (int, error) {
	cutoff := now.Add(-maxAge).Unix()
	res, err := s.db.Exec(`
		UPDATE scan_jobs
		SET lease_state = 'interrupted', lease_owner = ''
		WHERE lease_state = 'running' AND heartbeat_at < ?`,
		cutoff)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// InterruptRunning marks all running jobs owned by this process as
// interrupted. Called on graceful shutdown.
func (s *Store) InterruptRunning(owner string) (int, error) {
	res, err := s.db.Exec(`
		UPDATE scan_jobs
		SET lease_state = 'interrupted', lease_owner = ''
		WHERE lease_state = 'running' AND lease_owner = ?`,
		owner)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// GetJob fetches a scan job by id.
func (s *Store) GetJob(jobID int64) (models.ScanJob, error) {
	row := s.db.QueryRow(`
		SELECT id, kind, target, interval_hours, last_run_at, lease_state,
		       lease_owner, heartbeat_at, run_id, last_result, last_error
		FROM scan_jobs WHERE id = ?`, jobID)
	return scanJobRow(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJobRow(row rowScanner) (models.ScanJob, error) {
	var job models.ScanJob
	var kind, state string
	var lastRun, heartbeat int64
	err := row.Scan(&job.ID, &kind, &job.Target, &job.IntervalHours, &lastRun,
		&state, &job.LeaseOwner, &heartbeat, &job.RunID, &job.LastResult, &job.LastError)
	if err != nil {
		return models.ScanJob{}, err
	}
	job.Kind = models.JobKind(kind)
	job.LeaseState = models.LeaseState(state)
	job.LastRunAt = time.Unix(lastRun, 0)
	job.HeartbeatAt = time.Unix(heartbeat, 0)
	return job, nil
}

func requireRun(res sql.Result, runID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("no running job for run %s", runID)
	}
	return nil
}
