package queue_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"spool/internal/queue"
	"spool/internal/testsupport"
)

func stageArtifacts(stage queue.Stage) *queue.Artifacts {
	switch stage {
	case queue.StageAnalyze:
		return &queue.Artifacts{MetadataJSON: `{"tmdb_id":603,"title":"The Matrix"}`}
	case queue.StagePrepare:
		return &queue.Artifacts{
			OutputPath:     "/tmp/spool-out/The.Matrix.1999",
			ScreenshotURLs: []string{"https://img.example/a.png", "https://img.example/b.png"},
		}
	case queue.StageRename:
		return &queue.Artifacts{ReleaseName: "The.Matrix.1999.1080p.BluRay.DTS.x264-SPL"}
	case queue.StageGenerate:
		return &queue.Artifacts{
			NFOPath:      "/tmp/spool-out/The.Matrix.1999/movie.nfo",
			TorrentPaths: map[string]string{"ptx": "/tmp/spool-out/torrents/matrix_PTX.torrent"},
		}
	default:
		return nil
	}
}

func completeStage(t *testing.T, store *queue.Store, entry *queue.FileEntry, stage queue.Stage) {
	t.Helper()
	if err := store.UpdateWithCheckpoint(context.Background(), entry, stage, stageArtifacts(stage)); err != nil {
		t.Fatalf("UpdateWithCheckpoint(%s): %v", stage, err)
	}
}

func TestAddFileIsIdempotent(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	path := filepath.Join(cfg.InputMediaPath, "movie.mkv")
	entry, err := store.AddFile(ctx, path)
	if err != nil {
		t.Fatalf("AddFile failed: %v", err)
	}
	if entry.ID == 0 {
		t.Fatal("expected entry ID to be assigned")
	}
	if entry.Status != queue.StatusPending {
		t.Fatalf("expected pending status, got %s", entry.Status)
	}

	again, err := store.AddFile(ctx, path)
	if err != nil {
		t.Fatalf("second AddFile failed: %v", err)
	}
	if again.ID != entry.ID {
		t.Fatalf("expected same entry on duplicate add, got %d and %d", entry.ID, again.ID)
	}

	fetched, err := store.GetByPath(ctx, path)
	if err != nil {
		t.Fatalf("GetByPath failed: %v", err)
	}
	if fetched == nil || fetched.ID != entry.ID {
		t.Fatalf("unexpected fetched entry: %#v", fetched)
	}
}

func TestUpdateWithCheckpointWalksTheChain(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	entry, err := store.AddFile(ctx, filepath.Join(cfg.InputMediaPath, "movie.mkv"))
	if err != nil {
		t.Fatalf("AddFile failed: %v", err)
	}

	for _, stage := range queue.Stages() {
		next, ok := entry.NextStage()
		if !ok || next != stage {
			t.Fatalf("expected next stage %s, got %s (ok=%v)", stage, next, ok)
		}
		completeStage(t, store, entry, stage)
		if entry.Status != stage.DoneStatus() {
			t.Fatalf("%s: expected status %s, got %s", stage, stage.DoneStatus(), entry.Status)
		}
	}
	if _, ok := entry.NextStage(); ok {
		t.Fatal("expected no next stage after upload")
	}

	stored, err := store.GetByID(ctx, entry.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if stored.Status != queue.StatusUploaded {
		t.Fatalf("expected uploaded status, got %s", stored.Status)
	}
	for _, stage := range queue.Stages() {
		if stored.CheckpointAt(stage) == nil {
			t.Fatalf("expected %s checkpoint to be set", stage)
		}
	}
	if stored.ReleaseName != "The.Matrix.1999.1080p.BluRay.DTS.x264-SPL" {
		t.Fatalf("unexpected release name %q", stored.ReleaseName)
	}
	paths, err := stored.TorrentPaths()
	if err != nil {
		t.Fatalf("TorrentPaths failed: %v", err)
	}
	if paths["ptx"] == "" {
		t.Fatalf("expected torrent path for ptx, got %v", paths)
	}
	urls, err := stored.ScreenshotURLs()
	if err != nil {
		t.Fatalf("ScreenshotURLs failed: %v", err)
	}
	if len(urls) != 2 {
		t.Fatalf("expected 2 screenshot urls, got %v", urls)
	}
}

func TestCheckpointIsSetExactlyOnce(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	entry, err := store.AddFile(ctx, filepath.Join(cfg.InputMediaPath, "movie.mkv"))
	if err != nil {
		t.Fatalf("AddFile failed: %v", err)
	}
	completeStage(t, store, entry, queue.StageScan)

	err = store.UpdateWithCheckpoint(ctx, entry, queue.StageScan, nil)
	if !errors.Is(err, queue.ErrCheckpointSet) {
		t.Fatalf("expected ErrCheckpointSet, got %v", err)
	}

	stored, err := store.GetByID(ctx, entry.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if stored.Status != queue.StatusScanned {
		t.Fatalf("expected status unchanged at scanned, got %s", stored.Status)
	}
}

func TestUpdateWithCheckpointRejectsOutOfOrderStage(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	entry, err := store.AddFile(ctx, filepath.Join(cfg.InputMediaPath, "movie.mkv"))
	if err != nil {
		t.Fatalf("AddFile failed: %v", err)
	}

	err = store.UpdateWithCheckpoint(ctx, entry, queue.StageAnalyze, nil)
	if !errors.Is(err, queue.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestMarkFailedRecordsKindAndGuardsTerminal(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	entry, err := store.AddFile(ctx, filepath.Join(cfg.InputMediaPath, "movie.mkv"))
	if err != nil {
		t.Fatalf("AddFile failed: %v", err)
	}

	if err := store.MarkFailed(ctx, entry.ID, "validation", "missing mandatory field"); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}
	stored, err := store.GetByID(ctx, entry.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if stored.Status != queue.StatusFailed {
		t.Fatalf("expected failed status, got %s", stored.Status)
	}
	if stored.ErrorKind != "validation" || stored.ErrorMessage != "missing mandatory field" {
		t.Fatalf("unexpected error fields: kind=%q message=%q", stored.ErrorKind, stored.ErrorMessage)
	}

	err = store.MarkFailed(ctx, entry.ID, "network_transient", "again")
	if !errors.Is(err, queue.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition on terminal entry, got %v", err)
	}

	err = store.MarkFailed(ctx, 99999, "validation", "nope")
	if !errors.Is(err, queue.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestResetFromStageClearsLaterCheckpoints(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	entry, err := store.AddFile(ctx, filepath.Join(cfg.InputMediaPath, "movie.mkv"))
	if err != nil {
		t.Fatalf("AddFile failed: %v", err)
	}
	for _, stage := range queue.Stages() {
		completeStage(t, store, entry, stage)
	}

	reset, err := store.ResetFromStage(ctx, entry.ID, queue.StageGenerate)
	if err != nil {
		t.Fatalf("ResetFromStage failed: %v", err)
	}
	if reset.Status != queue.StatusRenamed {
		t.Fatalf("expected status renamed after reset, got %s", reset.Status)
	}
	if reset.MetadataGeneratedAt != nil || reset.UploadedAt != nil {
		t.Fatal("expected generate and upload checkpoints cleared")
	}
	if reset.RenamedAt == nil || reset.PreparedAt == nil {
		t.Fatal("expected earlier checkpoints preserved")
	}

	next, ok := reset.NextStage()
	if !ok || next != queue.StageGenerate {
		t.Fatalf("expected next stage generate, got %s (ok=%v)", next, ok)
	}

	// The stage can run again and re-record its checkpoint.
	completeStage(t, store, reset, queue.StageGenerate)
	if reset.Status != queue.StatusMetadataGenerated {
		t.Fatalf("expected metadata_generated after re-run, got %s", reset.Status)
	}
}

func TestListSupportsStatusFilter(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	a, err := store.AddFile(ctx, filepath.Join(cfg.InputMediaPath, "a.mkv"))
	if err != nil {
		t.Fatalf("AddFile failed: %v", err)
	}
	b, err := store.AddFile(ctx, filepath.Join(cfg.InputMediaPath, "b.mkv"))
	if err != nil {
		t.Fatalf("AddFile failed: %v", err)
	}
	completeStage(t, store, b, queue.StageScan)
	c, err := store.AddFile(ctx, filepath.Join(cfg.InputMediaPath, "c.mkv"))
	if err != nil {
		t.Fatalf("AddFile failed: %v", err)
	}
	if err := store.MarkFailed(ctx, c.ID, "tracker_permanent", "boom"); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}

	entries, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].ID != a.ID || entries[1].ID != b.ID || entries[2].ID != c.ID {
		t.Fatalf("expected order A,B,C, got IDs %d,%d,%d", entries[0].ID, entries[1].ID, entries[2].ID)
	}

	filtered, err := store.List(ctx, queue.StatusScanned, queue.StatusFailed)
	if err != nil {
		t.Fatalf("Filtered list failed: %v", err)
	}
	if len(filtered) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(filtered))
	}
	if filtered[0].ID != b.ID || filtered[1].ID != c.ID {
		t.Fatalf("unexpected filtered order: got %d,%d", filtered[0].ID, filtered[1].ID)
	}
}

func TestRecordTrackerResultUpserts(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	entry, err := store.AddFile(ctx, filepath.Join(cfg.InputMediaPath, "movie.mkv"))
	if err != nil {
		t.Fatalf("AddFile failed: %v", err)
	}

	first := &queue.TrackerResult{
		FileEntryID: entry.ID,
		Tracker:     "ptx",
		Status:      queue.TrackerResultFailed,
		Detail:      "HTTP 503",
	}
	if err := store.RecordTrackerResult(ctx, first); err != nil {
		t.Fatalf("RecordTrackerResult failed: %v", err)
	}

	second := &queue.TrackerResult{
		FileEntryID: entry.ID,
		Tracker:     "ptx",
		Status:      queue.TrackerResultSuccess,
		RemoteID:    "12345",
		TorrentURL:  "https://ptx.example/torrent/12345",
	}
	if err := store.RecordTrackerResult(ctx, second); err != nil {
		t.Fatalf("RecordTrackerResult upsert failed: %v", err)
	}

	other := &queue.TrackerResult{
		FileEntryID: entry.ID,
		Tracker:     "alpha",
		Status:      queue.TrackerResultSkippedDuplicate,
		Detail:      "existing release matched by tmdb id",
	}
	if err := store.RecordTrackerResult(ctx, other); err != nil {
		t.Fatalf("RecordTrackerResult other tracker failed: %v", err)
	}

	results, err := store.TrackerResults(ctx, entry.ID)
	if err != nil {
		t.Fatalf("TrackerResults failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Tracker != "alpha" || results[0].Status != queue.TrackerResultSkippedDuplicate {
		t.Fatalf("unexpected first result: %#v", results[0])
	}
	if results[1].Tracker != "ptx" || results[1].Status != queue.TrackerResultSuccess {
		t.Fatalf("expected ptx row overwritten with success, got %#v", results[1])
	}
	if results[1].TorrentURL != "https://ptx.example/torrent/12345" {
		t.Fatalf("unexpected torrent url %q", results[1].TorrentURL)
	}
}

func TestStatsAndHealth(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := store.AddFile(ctx, filepath.Join(cfg.InputMediaPath, fmt.Sprintf("pending-%d.mkv", i))); err != nil {
			t.Fatalf("AddFile failed: %v", err)
		}
	}
	scanned, err := store.AddFile(ctx, filepath.Join(cfg.InputMediaPath, "scanned.mkv"))
	if err != nil {
		t.Fatalf("AddFile failed: %v", err)
	}
	completeStage(t, store, scanned, queue.StageScan)
	failed, err := store.AddFile(ctx, filepath.Join(cfg.InputMediaPath, "failed.mkv"))
	if err != nil {
		t.Fatalf("AddFile failed: %v", err)
	}
	if err := store.MarkFailed(ctx, failed.ID, "validation", "boom"); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats[queue.StatusPending] != 3 || stats[queue.StatusScanned] != 1 || stats[queue.StatusFailed] != 1 {
		t.Fatalf("unexpected stats: %v", stats)
	}

	health, err := store.Health(ctx)
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if health.Total != 5 || health.Pending != 3 || health.InFlight != 1 || health.Failed != 1 {
		t.Fatalf("unexpected health summary: %+v", health)
	}
}

func TestClearFailedRemovesOnlyFailedEntries(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	keep, err := store.AddFile(ctx, filepath.Join(cfg.InputMediaPath, "keep.mkv"))
	if err != nil {
		t.Fatalf("AddFile failed: %v", err)
	}
	gone, err := store.AddFile(ctx, filepath.Join(cfg.InputMediaPath, "gone.mkv"))
	if err != nil {
		t.Fatalf("AddFile failed: %v", err)
	}
	if err := store.MarkFailed(ctx, gone.ID, "tracker_permanent", "rejected"); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}

	removed, err := store.ClearFailed(ctx)
	if err != nil {
		t.Fatalf("ClearFailed failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 entry removed, got %d", removed)
	}

	remaining, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(remaining) != 1 || remaining[0].ID != keep.ID {
		t.Fatalf("expected only the pending entry to remain, got %#v", remaining)
	}
}

func TestTMDBCacheHonorsTTL(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	payload := []byte(`{"id":603,"title":"The Matrix"}`)
	if err := store.CacheTMDB(ctx, 603, payload); err != nil {
		t.Fatalf("CacheTMDB failed: %v", err)
	}

	got, ok, err := store.CachedTMDB(ctx, 603, time.Hour)
	if err != nil {
		t.Fatalf("CachedTMDB failed: %v", err)
	}
	if !ok || string(got) != string(payload) {
		t.Fatalf("expected cache hit with payload, got ok=%v payload=%s", ok, got)
	}

	time.Sleep(5 * time.Millisecond)
	if _, ok, err := store.CachedTMDB(ctx, 603, time.Millisecond); err != nil {
		t.Fatalf("CachedTMDB failed: %v", err)
	} else if ok {
		t.Fatal("expected expired cache row to miss")
	}

	if _, ok, err := store.CachedTMDB(ctx, 42, time.Hour); err != nil {
		t.Fatalf("CachedTMDB failed: %v", err)
	} else if ok {
		t.Fatal("expected miss for unknown id")
	}

	pruned, err := store.PruneTMDBCache(ctx, time.Millisecond)
	if err != nil {
		t.Fatalf("PruneTMDBCache failed: %v", err)
	}
	if pruned != 1 {
		t.Fatalf("expected 1 row pruned, got %d", pruned)
	}
}
