package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"spool/internal/config"
	"spool/internal/logging"
	"spool/internal/notifications"
	"spool/internal/queue"
	"spool/internal/stage"
)

// maxRequeueDelay caps the exponential backoff between job attempts.
const maxRequeueDelay = 5 * time.Minute

// StageProvider resolves the handler for a pipeline stage.
type StageProvider interface {
	HandlerFor(queue.Stage) (stage.Handler, bool)
}

// Manager coordinates queue processing across a pool of workers.
type Manager struct {
	cfg      *config.Config
	store    *queue.Store
	stages   StageProvider
	logger   *slog.Logger
	notifier notifications.Service

	pollInterval time.Duration
	retryBase    time.Duration
	heartbeat    *HeartbeatMonitor

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	lastErr error
	started time.Time
}

// NewManager constructs a workflow manager with the default notifier.
func NewManager(cfg *config.Config, store *queue.Store, stages StageProvider, logger *slog.Logger) *Manager {
	return NewManagerWithNotifier(cfg, store, stages, logger, notifications.NewService(cfg))
}

// NewManagerWithNotifier constructs a workflow manager with a custom notifier.
func NewManagerWithNotifier(cfg *config.Config, store *queue.Store, stages StageProvider, logger *slog.Logger, notifier notifications.Service) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{
		cfg:          cfg,
		store:        store,
		stages:       stages,
		logger:       logger,
		notifier:     notifier,
		pollInterval: time.Duration(cfg.Workflow.QueuePollInterval) * time.Second,
		retryBase:    time.Duration(cfg.Workflow.ErrorRetryInterval) * time.Second,
		heartbeat: NewHeartbeatMonitor(
			store,
			logger,
			time.Duration(cfg.Workflow.HeartbeatInterval)*time.Second,
			time.Duration(cfg.Workflow.StaleJobGrace)*time.Second,
		),
	}
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}
