package api

import (
	"context"
	"time"

	"spool/internal/queue"
)

// QueueService renders store state into wire views.
type QueueService struct {
	store *queue.Store
}

// NewQueueService wraps a queue store.
func NewQueueService(store *queue.Store) *QueueService {
	return &QueueService{store: store}
}

// Stats returns entry counts keyed by status string.
func (s *QueueService) Stats(ctx context.Context) (map[string]int, error) {
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(stats))
	for status, count := range stats {
		out[string(status)] = count
	}
	return out, nil
}

// List returns entry views, optionally filtered by status.
func (s *QueueService) List(ctx context.Context, statuses ...queue.Status) ([]QueueEntry, error) {
	entries, err := s.store.List(ctx, statuses...)
	if err != nil {
		return nil, err
	}
	views := make([]QueueEntry, 0, len(entries))
	for _, entry := range entries {
		views = append(views, FromEntry(entry))
	}
	return views, nil
}

// Describe returns one entry with its tracker results, or nil when the id is
// unknown.
func (s *QueueService) Describe(ctx context.Context, id int64) (*QueueEntry, error) {
	entry, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, nil
	}
	view := FromEntry(entry)
	results, err := s.store.TrackerResults(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, result := range results {
		view.TrackerResults = append(view.TrackerResults, TrackerResult{
			Tracker:    result.Tracker,
			Status:     string(result.Status),
			Detail:     result.Detail,
			RemoteID:   result.RemoteID,
			TorrentURL: result.TorrentURL,
			RecordedAt: result.RecordedAt,
		})
	}
	return &view, nil
}

// FromEntry converts a store entry into its wire view.
func FromEntry(entry *queue.FileEntry) QueueEntry {
	view := QueueEntry{
		ID:           entry.ID,
		Path:         entry.Path,
		Status:       string(entry.Status),
		ReleaseName:  entry.ReleaseName,
		OutputPath:   entry.OutputPath,
		NFOPath:      entry.NFOPath,
		ErrorKind:    entry.ErrorKind,
		ErrorMessage: entry.ErrorMessage,
		CreatedAt:    entry.CreatedAt,
		UpdatedAt:    entry.UpdatedAt,
	}
	checkpoints := make(map[string]time.Time)
	for _, st := range queue.Stages() {
		if ts := entry.CheckpointAt(st); ts != nil {
			checkpoints[string(st)] = *ts
		}
	}
	if len(checkpoints) > 0 {
		view.Checkpoints = checkpoints
	}
	return view
}
