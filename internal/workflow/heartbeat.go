package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"spool/internal/logging"
	"spool/internal/queue"
)

// HeartbeatMonitor keeps claimed jobs alive and recovers jobs whose worker
// died mid-claim.
type HeartbeatMonitor struct {
	store    *queue.Store
	logger   *slog.Logger
	interval time.Duration
	grace    time.Duration
}

// NewHeartbeatMonitor creates a monitor with the given beat interval and
// stale grace period.
func NewHeartbeatMonitor(store *queue.Store, logger *slog.Logger, interval, grace time.Duration) *HeartbeatMonitor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &HeartbeatMonitor{
		store:    store,
		logger:   logger,
		interval: interval,
		grace:    grace,
	}
}

// Reclaim requeues RUNNING jobs whose heartbeat has gone stale.
func (h *HeartbeatMonitor) Reclaim(ctx context.Context, logger *slog.Logger) error {
	if h.grace <= 0 {
		return nil
	}
	reclaimed, err := h.store.ReclaimStale(ctx, h.grace)
	if err != nil {
		return err
	}
	if reclaimed > 0 {
		logger.Info("reclaimed stale jobs",
			logging.Int64("count", reclaimed),
			logging.String(logging.FieldEventType, "jobs_reclaimed"),
		)
	}
	return nil
}

// StartLoop beats on behalf of a claimed job until the context is cancelled.
// When the store reports a pending cancellation request the flag is raised
// for the worker to observe at the next stage boundary.
func (h *HeartbeatMonitor) StartLoop(ctx context.Context, wg *sync.WaitGroup, jobID int64, cancelled *atomic.Bool) {
	defer wg.Done()
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	logger := logging.WithContext(ctx, logging.NewComponentLogger(h.logger, "heartbeat"))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cancelRequested, err := h.store.Heartbeat(ctx, jobID)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				logger.Warn("heartbeat update failed", logging.Error(err))
				continue
			}
			if cancelRequested {
				cancelled.Store(true)
			}
		}
	}
}
