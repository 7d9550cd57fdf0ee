package workflow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"spool/internal/logging"
	"spool/internal/queue"
	"spool/internal/services"
)

func (m *Manager) handleStageFailure(ctx context.Context, logger *slog.Logger, job *queue.Job, entry *queue.FileEntry, st queue.Stage, stageErr error) error {
	details := services.DetailsOf(stageErr)

	if details.Kind == services.KindCancelled {
		return m.cancelJob(ctx, logger, job, entry, details.Message)
	}

	attrs := []logging.Attr{
		logging.String(logging.FieldStage, string(st)),
		logging.String(logging.FieldErrorKind, string(details.Kind)),
		logging.String(logging.FieldEventType, "stage_failure"),
		logging.Error(stageErr),
	}
	if details.Hint != "" {
		attrs = append(attrs, logging.String(logging.FieldErrorHint, details.Hint))
	}

	if services.IsRequeueable(stageErr) {
		delay := m.requeueDelay(job.Attempt, stageErr)
		logger.Warn("stage failed, requeueing with backoff",
			logging.Args(append(attrs,
				logging.Int("attempt", job.Attempt+1),
				logging.Int("max_attempts", job.MaxAttempts),
				logging.Duration("retry_in", delay),
			)...)...,
		)
		err := m.store.Requeue(ctx, job, delay, details.Message)
		if err == nil {
			return nil
		}
		if !errors.Is(err, queue.ErrAttemptsExhausted) {
			logger.Error("failed to requeue job", logging.Error(err))
			m.setLastError(err)
			return err
		}
		// Requeue already failed the job; fall through to fail the entry.
		details.Message = err.Error() + ": " + details.Message
	}

	logger.Error("stage failed", logging.Args(attrs...)...)
	m.setLastError(stageErr)

	if err := m.store.MarkFailed(ctx, entry.ID, string(details.Kind), details.Message); err != nil {
		logger.Error("failed to persist entry failure", logging.Error(err))
	}
	if job.State == queue.JobRunning {
		if err := m.store.FailJob(ctx, job, details.Message); err != nil {
			logger.Error("failed to fail job", logging.Error(err))
		}
	}
	m.notifyEntryFailed(ctx, logger, entry, details)
	m.settleBatchJob(ctx, logger, job, queue.BatchOutcomeFailed)
	return nil
}

// requeueDelay doubles the base retry interval per attempt, capped at
// maxRequeueDelay. A server-mandated Retry-After wins when it is longer.
func (m *Manager) requeueDelay(attempt int, err error) time.Duration {
	base := m.retryBase
	if base <= 0 {
		base = time.Second
	}
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= maxRequeueDelay {
			delay = maxRequeueDelay
			break
		}
	}
	if after, ok := services.RetryAfter(err); ok && after > delay {
		delay = after
		if delay > maxRequeueDelay {
			delay = maxRequeueDelay
		}
	}
	return delay
}
