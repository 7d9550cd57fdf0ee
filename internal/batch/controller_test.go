package batch

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"spool/internal/logging"
	"spool/internal/queue"
	"spool/internal/testsupport"
)

func newTestController(t *testing.T) (*Controller, *queue.Store) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	controller := NewController(store, logging.NewNop())
	controller.settlePoll = 10 * time.Millisecond
	return controller, store
}

func batchPaths(t *testing.T, count int) []string {
	t.Helper()
	dir := t.TempDir()
	paths := make([]string, 0, count)
	for i := 0; i < count; i++ {
		path := filepath.Join(dir, string(rune('a'+i))+".mkv")
		testsupport.WriteFile(t, path, 4096)
		paths = append(paths, path)
	}
	return paths
}

func waitFor(t *testing.T, timeout time.Duration, condition func() (bool, error)) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		done, err := condition()
		if err != nil {
			t.Fatalf("condition check failed: %v", err)
		}
		if done {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// settleOneJob plays the worker's part: claim, complete, record the outcome.
func settleOneJob(t *testing.T, store *queue.Store, outcome queue.BatchOutcome) *queue.Job {
	t.Helper()
	ctx := context.Background()
	var job *queue.Job
	waitFor(t, 5*time.Second, func() (bool, error) {
		claimed, err := store.Claim(ctx)
		if err != nil {
			return false, err
		}
		job = claimed
		return job != nil, nil
	})
	if err := store.CompleteJob(ctx, job); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}
	if job.BatchID == nil {
		t.Fatal("expected batch job")
	}
	if _, err := store.RecordBatchOutcome(ctx, *job.BatchID, outcome); err != nil {
		t.Fatalf("RecordBatchOutcome: %v", err)
	}
	return job
}

func TestCreateBatchRespectsConcurrencyLimit(t *testing.T) {
	controller, store := newTestController(t)
	ctx := context.Background()

	batch, err := controller.CreateBatch(ctx, "limited", batchPaths(t, 3), queue.PriorityNormal, 1)
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	if batch.Total != 3 || batch.ConcurrencyLimit != 1 {
		t.Fatalf("unexpected batch %+v", batch)
	}

	waitFor(t, 5*time.Second, func() (bool, error) {
		jobs, err := store.JobsForBatch(ctx, batch.ID)
		return len(jobs) == 1, err
	})
	// Give the feeder a chance to overrun the limit; it must not.
	time.Sleep(50 * time.Millisecond)
	jobs, err := store.JobsForBatch(ctx, batch.ID)
	if err != nil {
		t.Fatalf("JobsForBatch: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected 1 dispatched job under limit 1, got %d", len(jobs))
	}

	settleOneJob(t, store, queue.BatchOutcomeSucceeded)
	waitFor(t, 5*time.Second, func() (bool, error) {
		jobs, err := store.JobsForBatch(ctx, batch.ID)
		return len(jobs) == 2, err
	})

	settleOneJob(t, store, queue.BatchOutcomeSucceeded)
	settleOneJob(t, store, queue.BatchOutcomeSucceeded)

	progress, err := controller.Progress(ctx, batch.ID)
	if err != nil {
		t.Fatalf("Progress: %v", err)
	}
	if progress.Settled != 3 || progress.Running != 0 {
		t.Fatalf("unexpected progress %+v", progress)
	}
}

func TestCancelBatchCancelsQueuedJobs(t *testing.T) {
	controller, store := newTestController(t)
	ctx := context.Background()

	batch, err := controller.CreateBatch(ctx, "doomed", batchPaths(t, 2), queue.PriorityNormal, 2)
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	waitFor(t, 5*time.Second, func() (bool, error) {
		jobs, err := store.JobsForBatch(ctx, batch.ID)
		return len(jobs) == 2, err
	})

	if err := controller.CancelBatch(ctx, batch.ID); err != nil {
		t.Fatalf("CancelBatch: %v", err)
	}

	waitFor(t, 5*time.Second, func() (bool, error) {
		refreshed, err := store.BatchByID(ctx, batch.ID)
		if err != nil {
			return false, err
		}
		return refreshed.State == queue.BatchCancelled, nil
	})

	jobs, err := store.JobsForBatch(ctx, batch.ID)
	if err != nil {
		t.Fatalf("JobsForBatch: %v", err)
	}
	for _, job := range jobs {
		if job.State != queue.JobCancelled {
			t.Fatalf("expected cancelled job, got %s", job.State)
		}
		entry, err := store.GetByID(ctx, job.FileEntryID)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if entry.Status != queue.StatusCancelled {
			t.Fatalf("expected cancelled entry, got %s", entry.Status)
		}
	}
}

func TestCreateBatchRejectsEmptyPathList(t *testing.T) {
	controller, _ := newTestController(t)
	if _, err := controller.CreateBatch(context.Background(), "empty", nil, queue.PriorityNormal, 2); err == nil {
		t.Fatal("expected error for empty batch")
	}
}

func TestProgressCountsRunningJobs(t *testing.T) {
	controller, store := newTestController(t)
	ctx := context.Background()

	batch, err := controller.CreateBatch(ctx, "mixed", batchPaths(t, 2), queue.PriorityNormal, 2)
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	waitFor(t, 5*time.Second, func() (bool, error) {
		jobs, err := store.JobsForBatch(ctx, batch.ID)
		return len(jobs) == 2, err
	})

	var claimed *queue.Job
	waitFor(t, 5*time.Second, func() (bool, error) {
		job, err := store.Claim(ctx)
		if err != nil {
			return false, err
		}
		claimed = job
		return claimed != nil, nil
	})

	progress, err := controller.Progress(ctx, batch.ID)
	if err != nil {
		t.Fatalf("Progress: %v", err)
	}
	if progress.Running != 1 || progress.Pending != 1 || progress.Settled != 0 {
		t.Fatalf("unexpected progress %+v", progress)
	}
	if err := store.CompleteJob(ctx, claimed); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}
}

func TestUnknownBatchReportsNotFound(t *testing.T) {
	controller, _ := newTestController(t)
	ctx := context.Background()

	if _, err := controller.Progress(ctx, 999); !errors.Is(err, queue.ErrNotFound) {
		t.Fatalf("Progress error = %v, want ErrNotFound", err)
	}
	if err := controller.CancelBatch(ctx, 999); !errors.Is(err, queue.ErrNotFound) {
		t.Fatalf("CancelBatch error = %v, want ErrNotFound", err)
	}
}
