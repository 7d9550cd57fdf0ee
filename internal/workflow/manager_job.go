package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"spool/internal/logging"
	"spool/internal/pipeline"
	"spool/internal/queue"
	"spool/internal/services"
)

func (m *Manager) processJob(ctx context.Context, workerLogger *slog.Logger, job *queue.Job) error {
	jobCtx := services.WithJobID(ctx, job.ID)
	jobCtx = services.WithEntryID(jobCtx, job.FileEntryID)
	jobCtx = services.WithRequestID(jobCtx, uuid.NewString())
	logger := logging.WithContext(jobCtx, workerLogger)

	entry, err := m.store.GetByID(jobCtx, job.FileEntryID)
	if err != nil {
		wrapped := fmt.Errorf("load entry for job %d: %w", job.ID, err)
		logger.Error("failed to load entry", logging.Error(wrapped))
		m.setLastError(wrapped)
		if failErr := m.store.FailJob(jobCtx, job, wrapped.Error()); failErr != nil {
			logger.Error("failed to fail orphaned job", logging.Error(failErr))
		}
		m.settleBatchJob(jobCtx, logger, job, queue.BatchOutcomeFailed)
		return wrapped
	}

	if job.CancelRequested {
		return m.cancelJob(jobCtx, logger, job, entry, "cancelled before start")
	}
	if entry.Status.IsTerminal() {
		logger.Warn("claimed job references terminal entry",
			logging.String("status", string(entry.Status)),
		)
		if err := m.store.MarkJobCancelled(jobCtx, job, "entry already terminal"); err != nil {
			logger.Error("failed to settle stale job", logging.Error(err))
		}
		m.settleBatchJob(jobCtx, logger, job, queue.BatchOutcomeCancelled)
		return nil
	}

	// The heartbeat goroutine covers the whole claim and doubles as the
	// cancellation probe: Heartbeat reports the cancel_requested flag, and
	// the stage loop observes it at stage boundaries.
	var cancelled atomic.Bool
	hbCtx, hbCancel := context.WithCancel(jobCtx)
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go m.heartbeat.StartLoop(hbCtx, &hbWG, job.ID, &cancelled)
	defer func() {
		hbCancel()
		hbWG.Wait()
	}()

	for {
		st, ok := entry.NextStage()
		if !ok {
			break
		}
		if cancelled.Load() {
			return m.cancelJob(jobCtx, logger, job, entry, fmt.Sprintf("cancelled before %s", st))
		}

		err := m.runStage(jobCtx, logger, entry, st)
		switch {
		case err == nil:
			if st == queue.StageUpload {
				m.notifyUploadCompleted(jobCtx, logger, entry)
			}
		case errors.Is(err, pipeline.ErrAwaitingApproval):
			logger.Info("entry parked for manual approval",
				logging.String(logging.FieldEventType, "approval_parked"),
			)
			m.notifyApprovalNeeded(jobCtx, logger, entry)
			if completeErr := m.store.CompleteJob(jobCtx, job); completeErr != nil {
				logger.Error("failed to complete parked job", logging.Error(completeErr))
				m.setLastError(completeErr)
				return completeErr
			}
			m.settleBatchJob(jobCtx, logger, job, queue.BatchOutcomeSucceeded)
			return nil
		case errors.Is(err, context.Canceled) && jobCtx.Err() != nil:
			// Shutdown mid-stage. The job stays RUNNING and is reclaimed
			// once its heartbeat goes stale.
			logger.Debug("stage interrupted by shutdown", logging.String(logging.FieldStage, string(st)))
			return err
		default:
			return m.handleStageFailure(jobCtx, logger, job, entry, st, err)
		}
	}

	if err := m.store.CompleteJob(jobCtx, job); err != nil {
		logger.Error("failed to complete job", logging.Error(err))
		m.setLastError(err)
		return err
	}
	m.settleBatchJob(jobCtx, logger, job, queue.BatchOutcomeSucceeded)
	return nil
}

func (m *Manager) runStage(ctx context.Context, logger *slog.Logger, entry *queue.FileEntry, st queue.Stage) error {
	handler, ok := m.stages.HandlerFor(st)
	if !ok {
		return services.Wrap(services.ErrInternalInvariant, "workflow", string(st), "no handler registered for stage", nil)
	}

	stageCtx := services.WithStage(ctx, string(st))
	stageLogger := logging.WithContext(stageCtx, logger)
	start := time.Now()
	stageLogger.Info("stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.String("source_file", entry.Path),
	)

	if err := handler.Prepare(stageCtx, entry); err != nil {
		return err
	}

	artifacts := queue.Artifacts{}
	if err := handler.Execute(stageCtx, entry, &artifacts); err != nil {
		return err
	}

	if err := m.store.UpdateWithCheckpoint(stageCtx, entry, st, &artifacts); err != nil {
		return fmt.Errorf("persist %s checkpoint: %w", st, err)
	}

	stageLogger.Info("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.String("status", string(entry.Status)),
		logging.Duration("stage_duration", time.Since(start)),
	)
	return nil
}

func (m *Manager) cancelJob(ctx context.Context, logger *slog.Logger, job *queue.Job, entry *queue.FileEntry, cause string) error {
	logger.Info("job cancelled",
		logging.String(logging.FieldEventType, "job_cancelled"),
		logging.String("cause", cause),
	)
	if !entry.Status.IsTerminal() {
		if err := m.store.MarkCancelled(ctx, entry.ID, cause); err != nil {
			logger.Error("failed to mark entry cancelled", logging.Error(err))
		}
	}
	if err := m.store.MarkJobCancelled(ctx, job, cause); err != nil {
		logger.Error("failed to mark job cancelled", logging.Error(err))
		m.setLastError(err)
		return err
	}
	m.settleBatchJob(ctx, logger, job, queue.BatchOutcomeCancelled)
	return nil
}
