package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"spool/internal/logging"
	"spool/internal/queue"
	"spool/internal/services"
)

const defaultSettlePoll = 500 * time.Millisecond

// Controller submits and supervises batches on top of the shared job queue.
type Controller struct {
	store      *queue.Store
	logger     *slog.Logger
	settlePoll time.Duration

	mu      sync.Mutex
	feeders map[int64]context.CancelFunc
	drained map[int64]chan struct{}
}

// NewController builds a batch controller.
func NewController(store *queue.Store, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Controller{
		store:      store,
		logger:     logging.NewComponentLogger(logger, "batch"),
		settlePoll: defaultSettlePoll,
		feeders:    make(map[int64]context.CancelFunc),
		drained:    make(map[int64]chan struct{}),
	}
}

// CreateBatch registers the paths as queue entries and starts feeding their
// jobs under the concurrency limit. Entries past the limit wait for an
// earlier member to settle before being enqueued. The feeder runs until the
// batch drains, the batch is cancelled, or ctx ends.
func (c *Controller) CreateBatch(ctx context.Context, name string, paths []string, priority queue.Priority, limit int) (*queue.Batch, error) {
	if len(paths) == 0 {
		return nil, services.Wrap(services.ErrValidation, "batch", "create", "no paths given", nil)
	}
	if limit <= 0 {
		limit = 1
	}

	entries := make([]*queue.FileEntry, 0, len(paths))
	for _, path := range paths {
		entry, err := c.store.AddFile(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("register %s: %w", path, err)
		}
		entries = append(entries, entry)
	}

	batch, err := c.store.CreateBatch(ctx, name, limit, len(entries))
	if err != nil {
		return nil, err
	}

	feedCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.feeders[batch.ID] = cancel
	c.drained[batch.ID] = make(chan struct{})
	c.mu.Unlock()

	go c.feed(feedCtx, batch, entries, priority, limit)

	c.logger.Info("batch created",
		logging.Int64(logging.FieldBatchID, batch.ID),
		logging.String("name", name),
		logging.Int("total", len(entries)),
		logging.Int("concurrency_limit", limit),
	)
	return batch, nil
}

func (c *Controller) feed(ctx context.Context, batch *queue.Batch, entries []*queue.FileEntry, priority queue.Priority, limit int) {
	defer func() {
		c.mu.Lock()
		delete(c.feeders, batch.ID)
		if done, ok := c.drained[batch.ID]; ok {
			close(done)
			delete(c.drained, batch.ID)
		}
		c.mu.Unlock()
	}()

	logger := c.logger.With(logging.Int64(logging.FieldBatchID, batch.ID))
	sem := semaphore.NewWeighted(int64(limit))
	var wg sync.WaitGroup
	marked := false

	for i, entry := range entries {
		if err := sem.Acquire(ctx, 1); err != nil {
			c.abandonRemaining(logger, batch.ID, entries[i:])
			break
		}
		// A cancel issued from another process only flips the batch row,
		// so re-read it before committing the next member.
		if current, err := c.store.BatchByID(ctx, batch.ID); err == nil && current != nil && current.State == queue.BatchCancelled {
			sem.Release(1)
			c.abandonRemaining(logger, batch.ID, entries[i:])
			break
		}
		job, err := c.store.EnqueueForBatch(ctx, entry.ID, priority, batch.ID)
		if err != nil {
			sem.Release(1)
			if ctx.Err() != nil {
				c.abandonRemaining(logger, batch.ID, entries[i:])
				break
			}
			logger.Error("failed to enqueue batch member",
				logging.Int64(logging.FieldEntryID, entry.ID),
				logging.Error(err),
			)
			c.recordSkipped(logger, batch.ID, entry, err.Error())
			continue
		}
		if !marked {
			if err := c.store.MarkBatchRunning(ctx, batch.ID); err != nil {
				logger.Warn("failed to mark batch running", logging.Error(err))
			}
			marked = true
		}
		wg.Add(1)
		go func(jobID int64) {
			defer wg.Done()
			defer sem.Release(1)
			c.waitForSettle(ctx, jobID)
		}(job.ID)
	}

	wg.Wait()
}

// waitForSettle polls until the job reaches a terminal state. Outcome
// accounting happens in the workflow; the feeder only needs the slot back.
func (c *Controller) waitForSettle(ctx context.Context, jobID int64) {
	ticker := time.NewTicker(c.settlePoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			job, err := c.store.JobByID(ctx, jobID)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				continue
			}
			if job == nil || job.State.IsTerminal() {
				return
			}
		}
	}
}

// abandonRemaining settles members that were never enqueued so the batch
// counters still add up to the registered total.
func (c *Controller) abandonRemaining(logger *slog.Logger, batchID int64, entries []*queue.FileEntry) {
	ctx := context.Background()
	for _, entry := range entries {
		if err := c.store.MarkCancelled(ctx, entry.ID, "batch cancelled before dispatch"); err != nil {
			logger.Warn("failed to cancel pending batch entry",
				logging.Int64(logging.FieldEntryID, entry.ID),
				logging.Error(err),
			)
		}
		c.settleOutcome(ctx, logger, batchID, queue.BatchOutcomeCancelled)
	}
}

func (c *Controller) recordSkipped(logger *slog.Logger, batchID int64, entry *queue.FileEntry, cause string) {
	ctx := context.Background()
	if err := c.store.MarkFailed(ctx, entry.ID, string(services.KindInternal), cause); err != nil {
		logger.Warn("failed to fail unenqueueable batch entry",
			logging.Int64(logging.FieldEntryID, entry.ID),
			logging.Error(err),
		)
	}
	c.settleOutcome(ctx, logger, batchID, queue.BatchOutcomeFailed)
}

// settleOutcome mirrors the workflow's settlement for members that never
// reached a worker.
func (c *Controller) settleOutcome(ctx context.Context, logger *slog.Logger, batchID int64, outcome queue.BatchOutcome) {
	batch, err := c.store.RecordBatchOutcome(ctx, batchID, outcome)
	if err != nil {
		logger.Error("failed to record batch outcome", logging.Error(err))
		return
	}
	if !batch.Settled() {
		return
	}
	state := queue.BatchCompleted
	if batch.Succeeded == 0 && batch.Failed == 0 && batch.Cancelled > 0 {
		state = queue.BatchCancelled
	}
	if err := c.store.FinishBatch(ctx, batch.ID, state); err != nil {
		logger.Error("failed to finish batch", logging.Error(err))
	}
}

// Wait blocks until the batch's feeder has drained: every member settled,
// skipped, or abandoned. It returns immediately for batches this controller
// is not feeding.
func (c *Controller) Wait(ctx context.Context, batchID int64) error {
	c.mu.Lock()
	done, ok := c.drained[batchID]
	c.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Progress describes how far a batch has advanced.
type Progress struct {
	Batch   *queue.Batch
	Pending int
	Running int
	Settled int
}

// Progress reports the batch counters alongside live job states. The counts
// are eventually consistent with the workers.
func (c *Controller) Progress(ctx context.Context, batchID int64) (*Progress, error) {
	batch, err := c.store.BatchByID(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if batch == nil {
		return nil, fmt.Errorf("batch %d: %w", batchID, queue.ErrNotFound)
	}
	jobs, err := c.store.JobsForBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	progress := &Progress{Batch: batch}
	for _, job := range jobs {
		if job.State == queue.JobRunning {
			progress.Running++
		}
	}
	// The batch counters cover settled members with no job row too.
	progress.Settled = batch.Succeeded + batch.Failed + batch.Cancelled
	progress.Pending = batch.Total - progress.Settled - progress.Running
	if progress.Pending < 0 {
		progress.Pending = 0
	}
	return progress, nil
}

// CancelBatch stops the feeder and cascades cancellation to every live
// member. Queued jobs cancel immediately; running jobs stop at their next
// stage boundary.
func (c *Controller) CancelBatch(ctx context.Context, batchID int64) error {
	if batch, err := c.store.BatchByID(ctx, batchID); err != nil {
		return err
	} else if batch == nil {
		return fmt.Errorf("batch %d: %w", batchID, queue.ErrNotFound)
	}

	c.mu.Lock()
	cancel, ok := c.feeders[batchID]
	c.mu.Unlock()
	if ok {
		cancel()
	}

	// Flip the batch row first so a feeder in another process stops
	// committing new members.
	if err := c.store.FinishBatch(ctx, batchID, queue.BatchCancelled); err != nil {
		return err
	}

	jobs, err := c.store.JobsForBatch(ctx, batchID)
	if err != nil {
		return err
	}
	logger := c.logger.With(logging.Int64(logging.FieldBatchID, batchID))
	for _, job := range jobs {
		if job.State.IsTerminal() {
			continue
		}
		wasQueued := job.State == queue.JobQueued
		updated, err := c.store.RequestCancel(ctx, job.ID)
		if err != nil {
			logger.Warn("failed to request job cancellation",
				logging.Int64(logging.FieldJobID, job.ID),
				logging.Error(err),
			)
			continue
		}
		// A queued job cancels in place with no worker to settle it.
		if wasQueued && updated.State == queue.JobCancelled {
			if err := c.store.MarkCancelled(ctx, job.FileEntryID, "batch cancelled"); err != nil {
				logger.Warn("failed to cancel batch entry",
					logging.Int64(logging.FieldEntryID, job.FileEntryID),
					logging.Error(err),
				)
			}
			c.settleOutcome(ctx, logger, batchID, queue.BatchOutcomeCancelled)
		}
	}
	logger.Info("batch cancellation requested")
	return nil
}
