package testsupport

import (
	"context"
	"path/filepath"
	"testing"

	"spool/internal/config"
	"spool/internal/queue"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// AddFile registers a media file entry for tests using the provided store.
func AddFile(t testing.TB, store *queue.Store, path string) *queue.FileEntry {
	t.Helper()

	entry, err := store.AddFile(context.Background(), path)
	if err != nil {
		t.Fatalf("store.AddFile: %v", err)
	}
	return entry
}

// SeedMediaFile writes a small video file under the config input directory
// and registers it with the store.
func SeedMediaFile(t testing.TB, cfg *config.Config, store *queue.Store, name string, size int64) *queue.FileEntry {
	t.Helper()

	path := filepath.Join(cfg.InputMediaPath, name)
	WriteFile(t, path, size)
	return AddFile(t, store, path)
}

// MustEnqueue creates a queued job for an entry using the provided store.
func MustEnqueue(t testing.TB, store *queue.Store, entryID int64, priority queue.Priority) *queue.Job {
	t.Helper()

	job, err := store.Enqueue(context.Background(), entryID, priority)
	if err != nil {
		t.Fatalf("store.Enqueue: %v", err)
	}
	return job
}
