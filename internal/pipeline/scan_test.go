package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"spool/internal/logging"
	"spool/internal/metadata"
	"spool/internal/queue"
	"spool/internal/services"
	"spool/internal/testsupport"
)

func TestScannerExecuteParsesReleaseTokens(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	entry := testsupport.SeedMediaFile(t, cfg, store, "The.Matrix.1999.1080p.BluRay.x264-NOGRP.mkv", 4096)

	scanner := NewScanner(cfg, logging.NewNop())
	if err := scanner.Prepare(context.Background(), entry); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	artifacts := &queue.Artifacts{}
	if err := scanner.Execute(context.Background(), entry, artifacts); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	release, err := metadata.ParseRelease([]byte(artifacts.MetadataJSON))
	if err != nil {
		t.Fatalf("decode skeleton: %v", err)
	}
	if release.Title != "The Matrix" {
		t.Fatalf("title = %q", release.Title)
	}
	if release.Year != 1999 {
		t.Fatalf("year = %d", release.Year)
	}
	if release.Resolution != "1080p" {
		t.Fatalf("resolution = %q", release.Resolution)
	}
	if release.ReleaseGroup != "NOGRP" {
		t.Fatalf("group = %q", release.ReleaseGroup)
	}
	if release.SizeBytes != 4096 {
		t.Fatalf("size = %d", release.SizeBytes)
	}
}

func TestScannerPrepareRejectsEmptyFile(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	path := filepath.Join(cfg.InputMediaPath, "empty.mkv")
	if err := os.MkdirAll(cfg.InputMediaPath, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	entry := testsupport.AddFile(t, store, path)

	scanner := NewScanner(cfg, logging.NewNop())
	err := scanner.Prepare(context.Background(), entry)
	if services.KindOf(err) != services.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestScannerPrepareRejectsUnsupportedExtension(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	entry := testsupport.SeedMediaFile(t, cfg, store, "notes.txt", 64)

	scanner := NewScanner(cfg, logging.NewNop())
	err := scanner.Prepare(context.Background(), entry)
	if services.KindOf(err) != services.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestScannerPrepareRejectsTraversal(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	outside := filepath.Join(t.TempDir(), "escape.mkv")
	if err := os.WriteFile(outside, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	scanner := NewScanner(cfg, logging.NewNop())
	err := scanner.Prepare(context.Background(), &queue.FileEntry{Path: outside})
	if services.KindOf(err) != services.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}

	sneaky := filepath.Join(cfg.InputMediaPath, "..", "escape.mkv")
	err = scanner.Prepare(context.Background(), &queue.FileEntry{Path: sneaky})
	if services.KindOf(err) != services.KindValidation {
		t.Fatalf("expected validation error for relative escape, got %v", err)
	}
}
