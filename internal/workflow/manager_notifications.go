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

// Notification delivery is best effort: a webhook outage must never fail a
// job, so every helper logs and moves on.

func (m *Manager) notifyUploadCompleted(ctx context.Context, logger *slog.Logger, entry *queue.FileEntry) {
	if m.notifier == nil {
		return
	}
	var trackers []string
	results, err := m.store.TrackerResults(ctx, entry.ID)
	if err != nil {
		logger.Warn("tracker results unavailable for notification", logging.Error(err))
	} else {
		for _, result := range results {
			if result.Status == queue.TrackerResultSuccess {
				trackers = append(trackers, result.Tracker)
			}
		}
	}
	if err := m.notifier.NotifyUploadCompleted(ctx, entry.ReleaseName, trackers); err != nil {
		m.logNotifyFailure(logger, "upload completion", err)
	}
}

func (m *Manager) notifyEntryFailed(ctx context.Context, logger *slog.Logger, entry *queue.FileEntry, details services.Details) {
	if m.notifier == nil {
		return
	}
	name := entry.ReleaseName
	if name == "" {
		name = entry.Path
	}
	if err := m.notifier.NotifyEntryFailed(ctx, name, string(details.Kind), details.Message); err != nil {
		m.logNotifyFailure(logger, "entry failure", err)
	}
}

func (m *Manager) notifyApprovalNeeded(ctx context.Context, logger *slog.Logger, entry *queue.FileEntry) {
	if m.notifier == nil {
		return
	}
	name := entry.ReleaseName
	if name == "" {
		name = entry.Path
	}
	if err := m.notifier.NotifyApprovalNeeded(ctx, name); err != nil {
		m.logNotifyFailure(logger, "approval", err)
	}
}

func (m *Manager) logNotifyFailure(logger *slog.Logger, what string, err error) {
	if errors.Is(err, context.Canceled) {
		logger.Debug("shutting down, notification skipped", logging.String("notification", what))
		return
	}
	logger.Warn("notification delivery failed",
		logging.String("notification", what),
		logging.Error(err),
	)
}

// settleBatchJob records one settled job against its batch, finishing the
// batch when the last member lands.
func (m *Manager) settleBatchJob(ctx context.Context, logger *slog.Logger, job *queue.Job, outcome queue.BatchOutcome) {
	if job.BatchID == nil {
		return
	}
	batch, err := m.store.RecordBatchOutcome(ctx, *job.BatchID, outcome)
	if err != nil {
		logger.Error("failed to record batch outcome",
			logging.Int64(logging.FieldBatchID, *job.BatchID),
			logging.Error(err),
		)
		return
	}
	if !batch.Settled() {
		return
	}

	state := queue.BatchCompleted
	if batch.Succeeded == 0 && batch.Failed == 0 && batch.Cancelled > 0 {
		state = queue.BatchCancelled
	}
	if err := m.store.FinishBatch(ctx, batch.ID, state); err != nil {
		logger.Error("failed to finish batch",
			logging.Int64(logging.FieldBatchID, batch.ID),
			logging.Error(err),
		)
		return
	}
	logger.Info("batch settled",
		logging.Int64(logging.FieldBatchID, batch.ID),
		logging.String("state", string(state)),
		logging.Int("succeeded", batch.Succeeded),
		logging.Int("failed", batch.Failed),
		logging.Int("cancelled", batch.Cancelled),
	)
	if m.notifier != nil {
		if err := m.notifier.NotifyBatchCompleted(ctx, batch.Name, batch.Succeeded, batch.Failed, time.Since(batch.CreatedAt)); err != nil {
			m.logNotifyFailure(logger, "batch completion", err)
		}
	}
}
