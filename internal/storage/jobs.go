package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultMaxAttempts bounds retries of a failing job.
const DefaultMaxAttempts = 3

// retryBackoff is the delay before attempt n+1 of a failed job.
func retryBackoff(attempts int) time.Duration {
	return time.Duration(1<<min(attempts, 10)) * time.Second
}

func (s *Store) EnqueueJob(job Job) error {
	now := time.Now().UTC()
	runAfter := job.RunAfter
	if runAfter.IsZero() {
		runAfter = now
	}
	maxAttempts := job.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = DefaultMaxAttempts
	}
	_, err := s.db.Exec(`
		INSERT INTO jobs (id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, ?, ?, ?, ?)`,
		job.ID, job.Type, job.PayloadJSON, JobPending, maxAttempts,
		runAfter.UTC().Format(time.RFC3339), now.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("enqueueing job %s: %w", job.ID, err)
	}
	return nil
}

const jobColumns = `id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at, last_error, build_id`

func scanJob(scan func(dest ...any) error) (Job, error) {
	var j Job
	var runAfter, createdAt, updatedAt string
	if err := scan(&j.ID, &j.Type, &j.PayloadJSON, &j.Status, &j.Attempts, &j.MaxAttempts,
		&runAfter, &createdAt, &updatedAt, &j.LastError, &j.BuildID); err != nil {
		return Job{}, err
	}
	for _, f := range []struct {
		dst *time.Time
		src string
		col string
	}{{&j.RunAfter, runAfter, "run_after"}, {&j.CreatedAt, createdAt, "created_at"}, {&j.UpdatedAt, updatedAt, "updated_at"}} {
		t, err := time.Parse(time.RFC3339, f.src)
		if err != nil {
			return Job{}, fmt.Errorf("parsing %s for job %s: %w", f.col, j.ID, err)
		}
		*f.dst = t
	}
	return j, nil
}

// ClaimNextJob marks the oldest runnable job of one of the given types as
// running and returns it. It returns nil when nothing is runnable.
func (s *Store) ClaimNextJob(types []string) (*Job, error) {
	if len(types) == 0 {
		return nil, nil
	}
	now := time.Now().UTC().Format(time.RFC3339)

	args := make([]any, 0, len(types)+2)
	args = append(args, JobPending, now)
	for _, t := range types {
		args = append(args, t)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}
	defer tx.Rollback()

	j, err := scanJob(tx.QueryRow(`SELECT `+jobColumns+` FROM jobs
		WHERE status = ? AND run_after <= ? AND type IN (?`+strings.Repeat(",?", len(types)-1)+`)
		ORDER BY run_after ASC, created_at ASC
		LIMIT 1`, args...).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("selecting next job: %w", err)
	}

	res, err := tx.Exec(`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		JobRunning, now, j.ID, JobPending)
	if err != nil {
		return nil, fmt.Errorf("updating job status: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil || n != 1 {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	j.Status = JobRunning
	return &j, nil
}

// CompleteJob marks a job done and links the build it produced.
func (s *Store) CompleteJob(id, buildID string) error {
	res, err := s.db.Exec(`UPDATE jobs SET status = ?, build_id = ?, updated_at = ? WHERE id = ?`,
		JobCompleted, buildID, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return err
	}
	return expectOne(res)
}

// FailJob records a failed attempt. The job is retried with exponential
// backoff until it reaches its attempt limit, then marked failed.
func (s *Store) FailJob(id string, errMsg string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning fail transaction: %w", err)
	}
	defer tx.Rollback()

	var attempts, maxAttempts int
	err = tx.QueryRow(`SELECT attempts, max_attempts FROM jobs WHERE id = ?`, id).Scan(&attempts, &maxAttempts)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	attempts++
	status, runAfter := JobPending, now.Add(retryBackoff(attempts))
	if attempts >= maxAttempts {
		status, runAfter = JobFailed, now
	}
	if _, err := tx.Exec(`UPDATE jobs SET status = ?, attempts = ?, last_error = ?, run_after = ?, updated_at = ? WHERE id = ?`,
		status, attempts, errMsg, runAfter.Format(time.RFC3339), now.Format(time.RFC3339), id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) GetJob(id string) (Job, error) {
	j, err := scanJob(s.db.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, ErrNotFound
	}
	return j, err
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
