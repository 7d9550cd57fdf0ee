package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const batchColumns = `id, name, state, concurrency_limit, total, succeeded, failed, cancelled, created_at, finished_at`

func scanBatch(scanner interface{ Scan(dest ...any) error }) (*Batch, error) {
	var (
		batch      Batch
		name       sql.NullString
		createdAt  string
		finishedAt sql.NullString
	)
	if err := scanner.Scan(
		&batch.ID,
		&name,
		&batch.State,
		&batch.ConcurrencyLimit,
		&batch.Total,
		&batch.Succeeded,
		&batch.Failed,
		&batch.Cancelled,
		&createdAt,
		&finishedAt,
	); err != nil {
		return nil, err
	}
	batch.Name = name.String
	if ts := parseTimeString(createdAt); ts != nil {
		batch.CreatedAt = *ts
	}
	batch.FinishedAt = parseTimeString(finishedAt.String)
	return &batch, nil
}

// CreateBatch registers a batch of the given size before its jobs are
// enqueued.
func (s *Store) CreateBatch(ctx context.Context, name string, concurrencyLimit, total int) (*Batch, error) {
	if concurrencyLimit <= 0 {
		concurrencyLimit = 1
	}
	now := formatTime(time.Now())
	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO batch_jobs (name, state, concurrency_limit, total, created_at) VALUES (?, ?, ?, ?, ?)`,
		nullableString(name),
		BatchPending,
		concurrencyLimit,
		total,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert batch: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.BatchByID(ctx, id)
}

// BatchByID fetches a batch by identifier.
func (s *Store) BatchByID(ctx context.Context, id int64) (*Batch, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+batchColumns+` FROM batch_jobs WHERE id = ?`, id)
	batch, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get batch: %w", err)
	}
	return batch, nil
}

// ListBatches returns all batches newest first.
func (s *Store) ListBatches(ctx context.Context) ([]*Batch, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+batchColumns+` FROM batch_jobs ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()

	var batches []*Batch
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, batch)
	}
	return batches, rows.Err()
}

// MarkBatchRunning moves a pending batch to RUNNING.
func (s *Store) MarkBatchRunning(ctx context.Context, id int64) error {
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE batch_jobs SET state = ? WHERE id = ? AND state = ?`,
		BatchRunning,
		id,
		BatchPending,
	); err != nil {
		return fmt.Errorf("mark batch running: %w", err)
	}
	return nil
}

// BatchOutcome identifies which counter a settled job increments.
type BatchOutcome string

const (
	BatchOutcomeSucceeded BatchOutcome = "succeeded"
	BatchOutcomeFailed    BatchOutcome = "failed"
	BatchOutcomeCancelled BatchOutcome = "cancelled"
)

// RecordBatchOutcome increments a batch counter for one settled job and
// returns the refreshed batch.
func (s *Store) RecordBatchOutcome(ctx context.Context, id int64, outcome BatchOutcome) (*Batch, error) {
	var column string
	switch outcome {
	case BatchOutcomeSucceeded:
		column = "succeeded"
	case BatchOutcomeFailed:
		column = "failed"
	case BatchOutcomeCancelled:
		column = "cancelled"
	default:
		return nil, fmt.Errorf("unknown batch outcome %q", outcome)
	}
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE batch_jobs SET `+column+` = `+column+` + 1 WHERE id = ?`,
		id,
	); err != nil {
		return nil, fmt.Errorf("record batch outcome: %w", err)
	}
	return s.BatchByID(ctx, id)
}

// FinishBatch moves a batch to its terminal state once every job settled.
func (s *Store) FinishBatch(ctx context.Context, id int64, state BatchState) error {
	if state != BatchCompleted && state != BatchCancelled {
		return fmt.Errorf("state %q is not terminal", state)
	}
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE batch_jobs SET state = ?, finished_at = ? WHERE id = ? AND state IN (?, ?)`,
		state,
		formatTime(time.Now()),
		id,
		BatchPending,
		BatchRunning,
	); err != nil {
		return fmt.Errorf("finish batch: %w", err)
	}
	return nil
}
