package workflow

import (
	"context"
	"time"

	"spool/internal/logging"
	"spool/internal/queue"
)

// StatusSummary is the lightweight diagnostics snapshot served by the daemon
// status API.
type StatusSummary struct {
	Running   bool
	StartedAt time.Time
	LastError string
	Entries   map[queue.Status]int
	Jobs      map[queue.JobState]int
}

// Status returns the current workflow state and queue counters.
func (m *Manager) Status(ctx context.Context) StatusSummary {
	m.mu.RLock()
	running := m.running
	started := m.started
	lastErr := m.lastErr
	m.mu.RUnlock()

	summary := StatusSummary{Running: running, StartedAt: started}
	if lastErr != nil {
		summary.LastError = lastErr.Error()
	}

	entries, err := m.store.Stats(ctx)
	if err != nil {
		m.logger.Warn("failed to read entry stats", logging.Error(err))
	} else {
		summary.Entries = entries
	}
	jobs, err := m.store.JobStats(ctx)
	if err != nil {
		m.logger.Warn("failed to read job stats", logging.Error(err))
	} else {
		summary.Jobs = jobs
	}
	return summary
}
