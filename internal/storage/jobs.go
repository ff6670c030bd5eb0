package storage

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"
)

// EnqueueJob persists a pending job. RunAfter defaults to now and
// MaxAttempts to 3.
func (s *Store) EnqueueJob(ctx context.Context, job Job) error {
	now := formatTime(time.Now())
	runAfter := now
	if !job.RunAfter.IsZero() {
		runAfter = formatTime(job.RunAfter)
	}
	maxAttempts := job.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 3
	}
	payload := job.PayloadJSON
	if payload == "" {
		payload = "{}"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at)
		VALUES (?, ?, ?, 'pending', 0, ?, ?, ?, ?)`,
		job.ID, job.Type, payload, maxAttempts, runAfter, now, now,
	)
	return err
}

// CountPendingJobs returns the number of pending or running jobs of the
// given types. It backs the interaction logger's queue bound.
func (s *Store) CountPendingJobs(ctx context.Context, types []string) (int, error) {
	if len(types) == 0 {
		return 0, nil
	}
	args := make([]any, len(types))
	for i, t := range types {
		args[i] = t
	}
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM jobs WHERE status IN ('pending', 'running') AND type IN (`+placeholders(len(types))+`)`,
		args...,
	).Scan(&n)
	return n, err
}

// ClaimNextJob atomically moves the oldest runnable job of the given types to
// "running". It returns nil, nil when nothing is runnable.
func (s *Store) ClaimNextJob(ctx context.Context, types []string) (*Job, error) {
	if len(types) == 0 {
		return nil, nil
	}

	now := formatTime(time.Now())
	query := `SELECT id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at, last_error
		FROM jobs
		WHERE status = 'pending' AND run_after <= ? AND type IN (` + placeholders(len(types)) + `)
		ORDER BY run_after ASC, created_at ASC
		LIMIT 1`

	args := make([]any, 0, len(types)+1)
	args = append(args, now)
	for _, t := range types {
		args = append(args, t)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}
	defer tx.Rollback()

	var j Job
	var runAfter, createdAt, updatedAt string
	var lastError sql.NullString
	err = tx.QueryRowContext(ctx, query, args...).Scan(
		&j.ID, &j.Type, &j.PayloadJSON, &j.Status, &j.Attempts, &j.MaxAttempts,
		&runAfter, &createdAt, &updatedAt, &lastError,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("selecting next job: %w", err)
	}

	res, err := tx.ExecContext(ctx, `UPDATE jobs SET status = 'running', updated_at = ? WHERE id = ? AND status = 'pending'`, now, j.ID)
	if err != nil {
		return nil, fmt.Errorf("updating job status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("checking updated job rows: %w", err)
	}
	if n != 1 {
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	j.Status = "running"
	j.LastError = lastError.String
	if j.RunAfter, err = parseTime("run_after", runAfter); err != nil {
		return nil, err
	}
	if j.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return nil, err
	}
	if j.UpdatedAt, err = parseTime("updated_at", now); err != nil {
		return nil, err
	}
	return &j, nil
}

// CompleteJob marks a job as done.
func (s *Store) CompleteJob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE jobs SET status = 'completed', updated_at = ? WHERE id = ?`, formatTime(time.Now()), id)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

// FailJob records a failed attempt. The job is rescheduled with 2^attempts
// seconds of backoff until max_attempts is reached, then marked failed.
func (s *Store) FailJob(ctx context.Context, id string, errMsg string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning fail transaction: %w", err)
	}
	defer tx.Rollback()

	var attempts, maxAttempts int
	err = tx.QueryRowContext(ctx, `SELECT attempts, max_attempts FROM jobs WHERE id = ?`, id).Scan(&attempts, &maxAttempts)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	attempts++

	if attempts >= maxAttempts {
		_, err = tx.ExecContext(ctx, `UPDATE jobs SET status = 'failed', attempts = ?, last_error = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, formatTime(now), id)
	} else {
		backoff := time.Duration(math.Pow(2, float64(attempts))) * time.Second
		_, err = tx.ExecContext(ctx, `UPDATE jobs SET status = 'pending', attempts = ?, last_error = ?, run_after = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, formatTime(now.Add(backoff)), formatTime(now), id)
	}
	if err != nil {
		return err
	}

	return tx.Commit()
}

// GetJob returns a job by ID.
func (s *Store) GetJob(ctx context.Context, id string) (Job, error) {
	var j Job
	var runAfter, createdAt, updatedAt string
	var lastError sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at, last_error
		FROM jobs WHERE id = ?`, id,
	).Scan(&j.ID, &j.Type, &j.PayloadJSON, &j.Status, &j.Attempts, &j.MaxAttempts, &runAfter, &createdAt, &updatedAt, &lastError)
	if err == sql.ErrNoRows {
		return Job{}, ErrNotFound
	}
	if err != nil {
		return Job{}, err
	}
	j.LastError = lastError.String
	if j.RunAfter, err = parseTime("run_after", runAfter); err != nil {
		return Job{}, err
	}
	if j.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return Job{}, err
	}
	if j.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
		return Job{}, err
	}
	return j, nil
}
