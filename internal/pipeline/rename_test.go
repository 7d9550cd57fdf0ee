package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"spool/internal/logging"
	"spool/internal/queue"
	"spool/internal/testsupport"
)

const matrixMetadata = `{
	"tmdb_id": 603,
	"title": "The Matrix",
	"year": 1999,
	"resolution": "1080p",
	"source": "BluRay",
	"video_codec": "h264",
	"audio_codec": "dts",
	"audio_channels": "5.1",
	"language_token": "MULTi",
	"release_group": "NOGRP"
}`

func TestRenamerBuildsNameAndMovesFile(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	entry := testsupport.SeedMediaFile(t, cfg, store, "the.matrix.1999.mkv", 2048)
	entry.MetadataJSON = matrixMetadata

	renamer := NewRenamer(cfg, logging.NewNop())
	if err := renamer.Prepare(context.Background(), entry); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	artifacts := &queue.Artifacts{}
	if err := renamer.Execute(context.Background(), entry, artifacts); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	want := "The.Matrix.1999.MULTi.1080p.BluRay.DTS.5.1.x264-NOGRP"
	if artifacts.ReleaseName != want {
		t.Fatalf("release name = %q, want %q", artifacts.ReleaseName, want)
	}
	wantPath := filepath.Join(cfg.OutputDir, want+".mkv")
	if artifacts.OutputPath != wantPath {
		t.Fatalf("output path = %q, want %q", artifacts.OutputPath, wantPath)
	}
	if _, err := os.Stat(wantPath); err != nil {
		t.Fatalf("moved file missing: %v", err)
	}
	if _, err := os.Stat(entry.Path); !os.IsNotExist(err) {
		t.Fatalf("source still present: %v", err)
	}
}

func TestRenamerRemuxComposesSource(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	renamer := NewRenamer(cfg, logging.NewNop())
	name, err := renamer.releaseName(mustRelease(t, `{
		"title": "Heat",
		"year": 1995,
		"resolution": "2160p",
		"source": "BluRay REMUX",
		"video_codec": "hevc",
		"hdr": "DV.HDR10",
		"language_token": "MULTi",
		"release_group": "NOGRP"
	}`))
	if err != nil {
		t.Fatalf("releaseName: %v", err)
	}
	want := "Heat.1995.MULTi.2160p.BluRay.REMUX.DV.HDR10.x265-NOGRP"
	if name != want {
		t.Fatalf("name = %q, want %q", name, want)
	}
}

func TestRenamerGroupFallback(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Naming.ReleaseGroup = "SPL"
	renamer := NewRenamer(cfg, logging.NewNop())
	name, err := renamer.releaseName(mustRelease(t, `{"title":"Amélie","year":2001,"language_token":"FRENCH"}`))
	if err != nil {
		t.Fatalf("releaseName: %v", err)
	}
	want := "Amelie.2001.FRENCH-SPL"
	if name != want {
		t.Fatalf("name = %q, want %q", name, want)
	}
}

func TestRenamerHealsInterruptedMove(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	entry := testsupport.SeedMediaFile(t, cfg, store, "the.matrix.1999.mkv", 512)
	entry.MetadataJSON = matrixMetadata

	renamer := NewRenamer(cfg, logging.NewNop())
	first := &queue.Artifacts{}
	if err := renamer.Execute(context.Background(), entry, first); err != nil {
		t.Fatalf("first Execute: %v", err)
	}

	// Simulate a crash after the move but before the checkpoint committed:
	// the source is gone and the stage is re-run.
	second := &queue.Artifacts{}
	if err := renamer.Execute(context.Background(), entry, second); err != nil {
		t.Fatalf("second Execute: %v", err)
	}
	if second.ReleaseName != first.ReleaseName || second.OutputPath != first.OutputPath {
		t.Fatalf("heal mismatch: %+v vs %+v", second, first)
	}
}
