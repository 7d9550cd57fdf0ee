package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/gofrs/flock"

	"spool/internal/config"
	"spool/internal/deps"
	"spool/internal/logging"
	"spool/internal/preflight"
	"spool/internal/queue"
	"spool/internal/stage"
	"spool/internal/workflow"
)

// StageHealthChecker reports stage readiness for the health endpoint.
type StageHealthChecker interface {
	Health(ctx context.Context) []stage.Health
}

// Daemon owns the background services and enforces single-instance execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *queue.Store
	workflow *workflow.Manager
	stages   StageHealthChecker

	lockPath string
	lock     *flock.Flock
	api      *apiServer

	running atomic.Bool
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	Workflow     workflow.StatusSummary
	QueueDBPath  string
	LockFilePath string
	Dependencies []deps.Status
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *queue.Store, logger *slog.Logger, wf *workflow.Manager, stages StageHealthChecker) (*Daemon, error) {
	if cfg == nil || store == nil || wf == nil {
		return nil, errors.New("daemon requires config, store, and workflow manager")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	lockPath := filepath.Join(cfg.LogDir, "spoold.lock")
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    store,
		workflow: wf,
		stages:   stages,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}

	api, err := newAPIServer(cfg, d, logger)
	if err != nil {
		return nil, err
	}
	d.api = api
	return d, nil
}

// Start acquires the instance lock, runs preflight, and launches the
// workflow and the status API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another spool daemon instance is already running")
	}

	if failures := d.failedPreflight(ctx); len(failures) > 0 {
		_ = d.lock.Unlock()
		return fmt.Errorf("preflight failed: %s", strings.Join(failures, "; "))
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if err := d.workflow.Start(runCtx); err != nil {
		_ = d.lock.Unlock()
		cancel()
		d.cancel = nil
		return fmt.Errorf("start workflow: %w", err)
	}
	if d.api != nil {
		if err := d.api.start(runCtx); err != nil {
			d.workflow.Stop()
			_ = d.lock.Unlock()
			cancel()
			d.cancel = nil
			return err
		}
	}

	d.running.Store(true)
	d.logger.Info("spool daemon started", logging.String("lock", d.lockPath))
	return nil
}

func (d *Daemon) failedPreflight(ctx context.Context) []string {
	var failures []string
	for _, result := range preflight.RunAll(ctx, d.cfg) {
		if result.Passed {
			continue
		}
		failures = append(failures, fmt.Sprintf("%s: %s", result.Name, result.Detail))
		d.logger.Error("preflight check failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
		)
	}
	for _, status := range preflight.CheckSystemDeps(d.cfg) {
		if status.Available || status.Optional {
			continue
		}
		failures = append(failures, fmt.Sprintf("%s: %s", status.Name, status.Detail))
		d.logger.Error("required binary missing",
			logging.String("binary", status.Name),
			logging.String("detail", status.Detail),
		)
	}
	return failures
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.workflow.Stop()
	d.api.stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("spool daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Addr returns the listen address of the status API, or empty when the API
// is disabled or not started.
func (d *Daemon) Addr() string {
	if d.api == nil {
		return ""
	}
	return d.api.addr()
}

// AddFile registers a media file and enqueues a job for it.
func (d *Daemon) AddFile(ctx context.Context, sourcePath string, priority queue.Priority) (*queue.FileEntry, error) {
	trimmed := strings.TrimSpace(sourcePath)
	if trimmed == "" {
		return nil, errors.New("source path is required")
	}
	absPath, err := filepath.Abs(trimmed)
	if err != nil {
		return nil, fmt.Errorf("resolve source path: %w", err)
	}
	if _, err := os.Stat(absPath); err != nil {
		return nil, fmt.Errorf("stat source file: %w", err)
	}

	entry, err := d.store.AddFile(ctx, absPath)
	if err != nil {
		return nil, fmt.Errorf("register file: %w", err)
	}
	if _, err := d.store.Enqueue(ctx, entry.ID, priority); err != nil {
		return nil, fmt.Errorf("enqueue file: %w", err)
	}
	d.logger.Info("file queued",
		logging.Int64(logging.FieldEntryID, entry.ID),
		logging.String("source", absPath),
	)
	return entry, nil
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	return Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		Workflow:     d.workflow.Status(ctx),
		QueueDBPath:  d.cfg.DatabasePath(),
		LockFilePath: d.lockPath,
		Dependencies: preflight.CheckSystemDeps(d.cfg),
	}
}
