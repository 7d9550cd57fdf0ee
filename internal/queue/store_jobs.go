package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const jobColumns = `id, file_entry_id, batch_id, priority, state, attempt, max_attempts, cancel_requested,
    scheduled_at, started_at, finished_at, last_heartbeat, last_error, created_at, updated_at`

// claimAttempts bounds how many candidates one Claim call races for before
// reporting an empty queue.
const claimAttempts = 3

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		job             Job
		batchID         sql.NullInt64
		cancelRequested int
		scheduledAt     string
		startedAt       sql.NullString
		finishedAt      sql.NullString
		lastHeartbeat   sql.NullString
		lastError       sql.NullString
		createdAt       string
		updatedAt       string
	)

	if err := scanner.Scan(
		&job.ID,
		&job.FileEntryID,
		&batchID,
		&job.Priority,
		&job.State,
		&job.Attempt,
		&job.MaxAttempts,
		&cancelRequested,
		&scheduledAt,
		&startedAt,
		&finishedAt,
		&lastHeartbeat,
		&lastError,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	if batchID.Valid {
		id := batchID.Int64
		job.BatchID = &id
	}
	job.CancelRequested = cancelRequested != 0
	if ts := parseTimeString(scheduledAt); ts != nil {
		job.ScheduledAt = *ts
	}
	job.StartedAt = parseTimeString(startedAt.String)
	job.FinishedAt = parseTimeString(finishedAt.String)
	job.LastHeartbeat = parseTimeString(lastHeartbeat.String)
	job.LastError = lastError.String
	if ts := parseTimeString(createdAt); ts != nil {
		job.CreatedAt = *ts
	}
	if ts := parseTimeString(updatedAt); ts != nil {
		job.UpdatedAt = *ts
	}
	return &job, nil
}

// Enqueue creates a queued job for an entry. When the entry already has a
// queued or running job that job is returned unchanged, so callers may
// enqueue blindly.
func (s *Store) Enqueue(ctx context.Context, entryID int64, priority Priority) (*Job, error) {
	return s.enqueue(ctx, entryID, priority, nil)
}

// EnqueueForBatch creates a queued job bound to a batch.
func (s *Store) EnqueueForBatch(ctx context.Context, entryID int64, priority Priority, batchID int64) (*Job, error) {
	return s.enqueue(ctx, entryID, priority, &batchID)
}

func (s *Store) enqueue(ctx context.Context, entryID int64, priority Priority, batchID *int64) (*Job, error) {
	if priority == "" {
		priority = PriorityNormal
	}
	if existing, err := s.ActiveJobForEntry(ctx, entryID); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	now := formatTime(time.Now())
	var batch any
	if batchID != nil {
		batch = *batchID
	}
	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO queue_jobs (file_entry_id, batch_id, priority, state, attempt, max_attempts, scheduled_at, created_at, updated_at)
         VALUES (?, ?, ?, ?, 0, ?, ?, ?, ?)`,
		entryID,
		batch,
		priority,
		JobQueued,
		s.jobMaxAttempts,
		now,
		now,
		now,
	)
	if err != nil {
		// A concurrent enqueue for the same entry won the partial unique
		// index; return its job.
		if isUniqueViolation(err) {
			return s.ActiveJobForEntry(ctx, entryID)
		}
		return nil, fmt.Errorf("insert job: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.JobByID(ctx, id)
}

// JobByID fetches a job by identifier.
func (s *Store) JobByID(ctx context.Context, id int64) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM queue_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ActiveJobForEntry returns the entry's queued or running job, if any.
func (s *Store) ActiveJobForEntry(ctx context.Context, entryID int64) (*Job, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+jobColumns+` FROM queue_jobs WHERE file_entry_id = ? AND state IN (?, ?) LIMIT 1`,
		entryID,
		JobQueued,
		JobRunning,
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active job: %w", err)
	}
	return job, nil
}

// Claim atomically moves the best eligible queued job to RUNNING and returns
// it. Eligible means scheduled_at has passed; best means highest priority,
// then earliest scheduled_at, then lowest id. Returns nil when no job is
// ready. Two concurrent claimers never receive the same job.
func (s *Store) Claim(ctx context.Context) (*Job, error) {
	ctx = ensureContext(ctx)
	now := time.Now().UTC()
	timestamp := formatTime(now)

	for attempt := 0; attempt < claimAttempts; attempt++ {
		row := s.db.QueryRowContext(
			ctx,
			`SELECT `+jobColumns+` FROM queue_jobs
             WHERE state = ? AND scheduled_at <= ?
             ORDER BY CASE priority WHEN 'high' THEN 0 WHEN 'normal' THEN 1 ELSE 2 END, scheduled_at, id
             LIMIT 1`,
			JobQueued,
			timestamp,
		)
		job, err := scanJob(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("select next job: %w", err)
		}

		res, err := s.execWithRetry(
			ctx,
			`UPDATE queue_jobs SET state = ?, started_at = ?, last_heartbeat = ?, updated_at = ?
             WHERE id = ? AND state = ?`,
			JobRunning,
			timestamp,
			timestamp,
			timestamp,
			job.ID,
			JobQueued,
		)
		if err != nil {
			return nil, fmt.Errorf("claim job: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("rows affected: %w", err)
		}
		if affected == 1 {
			job.State = JobRunning
			job.StartedAt = &now
			job.LastHeartbeat = &now
			job.UpdatedAt = now
			return job, nil
		}
		// Lost the race to another claimer; pick the next candidate.
	}
	return nil, nil
}

// Heartbeat refreshes the liveness timestamp of a running job and reports
// whether cancellation has been requested for it.
func (s *Store) Heartbeat(ctx context.Context, jobID int64) (bool, error) {
	now := formatTime(time.Now())
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE queue_jobs SET last_heartbeat = ?, updated_at = ? WHERE id = ? AND state = ?`,
		now,
		now,
		jobID,
		JobRunning,
	); err != nil {
		return false, fmt.Errorf("heartbeat: %w", err)
	}

	var flag int
	err := s.db.QueryRowContext(ctx, `SELECT cancel_requested FROM queue_jobs WHERE id = ?`, jobID).Scan(&flag)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("%w: job %d", ErrNotFound, jobID)
	}
	if err != nil {
		return false, fmt.Errorf("read cancel flag: %w", err)
	}
	return flag != 0, nil
}

// Requeue returns a running job to the queue after a retryable failure,
// delaying its next run. The attempt counter advances; when the budget is
// exhausted the job is failed instead and ErrAttemptsExhausted is returned.
func (s *Store) Requeue(ctx context.Context, job *Job, delay time.Duration, cause string) error {
	if job == nil {
		return errors.New("job is nil")
	}
	next := job.Attempt + 1
	if next >= job.MaxAttempts {
		if err := s.FailJob(ctx, job, cause); err != nil {
			return err
		}
		return fmt.Errorf("%w: job %d used %d of %d attempts", ErrAttemptsExhausted, job.ID, next, job.MaxAttempts)
	}

	now := time.Now().UTC()
	scheduled := now.Add(delay)
	res, err := s.execWithRetry(
		ctx,
		`UPDATE queue_jobs
         SET state = ?, attempt = ?, scheduled_at = ?, started_at = NULL, last_heartbeat = NULL, last_error = ?, updated_at = ?
         WHERE id = ? AND state = ?`,
		JobQueued,
		next,
		formatTime(scheduled),
		nullableString(cause),
		formatTime(now),
		job.ID,
		JobRunning,
	)
	if err != nil {
		return fmt.Errorf("requeue job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("job %d is not running", job.ID)
	}

	job.State = JobQueued
	job.Attempt = next
	job.ScheduledAt = scheduled
	job.StartedAt = nil
	job.LastHeartbeat = nil
	job.LastError = cause
	job.UpdatedAt = now
	return nil
}

// CompleteJob marks a running job DONE.
func (s *Store) CompleteJob(ctx context.Context, job *Job) error {
	return s.finishJob(ctx, job, JobDone, "")
}

// FailJob marks a running job FAILED with its final error.
func (s *Store) FailJob(ctx context.Context, job *Job, cause string) error {
	return s.finishJob(ctx, job, JobFailed, cause)
}

// MarkJobCancelled marks a running job CANCELLED once the worker has stopped
// executing it.
func (s *Store) MarkJobCancelled(ctx context.Context, job *Job, cause string) error {
	return s.finishJob(ctx, job, JobCancelled, cause)
}

func (s *Store) finishJob(ctx context.Context, job *Job, state JobState, cause string) error {
	if job == nil {
		return errors.New("job is nil")
	}
	now := time.Now().UTC()
	res, err := s.execWithRetry(
		ctx,
		`UPDATE queue_jobs SET state = ?, finished_at = ?, last_error = ?, updated_at = ?
         WHERE id = ? AND state = ?`,
		state,
		formatTime(now),
		nullableString(cause),
		formatTime(now),
		job.ID,
		JobRunning,
	)
	if err != nil {
		return fmt.Errorf("finish job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("job %d is not running", job.ID)
	}
	job.State = state
	job.FinishedAt = &now
	job.LastError = cause
	job.UpdatedAt = now
	return nil
}

// RequestCancel cancels a queued job immediately. For a running job it sets a
// flag the worker observes at the next stage boundary or heartbeat; the
// worker then stops and marks the job cancelled. Returns the job's state
// after the request.
func (s *Store) RequestCancel(ctx context.Context, jobID int64) (*Job, error) {
	now := formatTime(time.Now())

	res, err := s.execWithRetry(
		ctx,
		`UPDATE queue_jobs SET state = ?, cancel_requested = 1, finished_at = ?, updated_at = ?
         WHERE id = ? AND state = ?`,
		JobCancelled,
		now,
		now,
		jobID,
		JobQueued,
	)
	if err != nil {
		return nil, fmt.Errorf("cancel queued job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		if err := s.execWithoutResultRetry(
			ctx,
			`UPDATE queue_jobs SET cancel_requested = 1, updated_at = ? WHERE id = ? AND state = ?`,
			now,
			jobID,
			JobRunning,
		); err != nil {
			return nil, fmt.Errorf("request cancel: %w", err)
		}
	}

	job, err := s.JobByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("%w: job %d", ErrNotFound, jobID)
	}
	return job, nil
}

// ReclaimStale returns RUNNING jobs whose worker stopped heartbeating to the
// queue so another worker can pick them up. The attempt counter is not
// consumed; a reclaimed job was interrupted, not failed. Jobs that never
// heartbeat are judged by their start time.
func (s *Store) ReclaimStale(ctx context.Context, grace time.Duration) (int64, error) {
	if grace <= 0 {
		grace = 5 * time.Minute
	}
	now := time.Now().UTC()
	cutoff := formatTime(now.Add(-grace))
	res, err := s.execWithRetry(
		ctx,
		`UPDATE queue_jobs
         SET state = ?, started_at = NULL, last_heartbeat = NULL, scheduled_at = ?, updated_at = ?
         WHERE state = ? AND COALESCE(last_heartbeat, started_at) < ?`,
		JobQueued,
		formatTime(now),
		formatTime(now),
		JobRunning,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale jobs: %w", err)
	}
	return res.RowsAffected()
}

// JobsByState returns jobs matching the given states (or all jobs when none
// are provided), ordered by creation.
func (s *Store) JobsByState(ctx context.Context, states ...JobState) ([]*Job, error) {
	var (
		rows *sql.Rows
		err  error
	)

	baseQuery := `SELECT ` + jobColumns + ` FROM queue_jobs`
	orderClause := ` ORDER BY created_at, id`

	if len(states) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(states))
		args := make([]any, len(states))
		for i, state := range states {
			args[i] = state
		}
		rows, err = s.db.QueryContext(ctx, baseQuery+` WHERE state IN (`+placeholders+`)`+orderClause, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// JobsForBatch returns every job belonging to a batch.
func (s *Store) JobsForBatch(ctx context.Context, batchID int64) ([]*Job, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+jobColumns+` FROM queue_jobs WHERE batch_id = ? ORDER BY created_at, id`,
		batchID,
	)
	if err != nil {
		return nil, fmt.Errorf("list batch jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// JobStats returns job counts grouped by state.
func (s *Store) JobStats(ctx context.Context) (map[JobState]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(1) FROM queue_jobs GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("query job stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[JobState]int)
	for rows.Next() {
		var (
			state JobState
			count int
		)
		if err := rows.Scan(&state, &count); err != nil {
			return nil, fmt.Errorf("scan job stats: %w", err)
		}
		stats[state] = count
	}
	return stats, rows.Err()
}
