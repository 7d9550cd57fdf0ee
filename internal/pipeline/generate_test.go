package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"spool/internal/logging"
	"spool/internal/nfo"
	"spool/internal/queue"
	"spool/internal/testsupport"
	"spool/internal/torrents"
)

func generateFixture(t *testing.T) (*Generator, *queue.FileEntry) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	entry := testsupport.SeedMediaFile(t, cfg, store, "payload.mkv", 64*1024)

	releaseName := "The.Matrix.1999.1080p.BluRay.x264-NOGRP"
	outputPath := filepath.Join(cfg.OutputDir, releaseName+".mkv")
	testsupport.WriteFile(t, outputPath, 64*1024)

	entry.ReleaseName = releaseName
	entry.OutputPath = outputPath
	entry.MetadataJSON = matrixMetadata

	targets := []Target{
		{Client: &stubTracker{schema: mustSchema(t, "alpha", "ALPHA")}},
		{Client: &stubTracker{schema: mustSchema(t, "beta", "BETA")}},
	}
	generator := NewGenerator(cfg, &stubAnalyzer{info: sampleInfo()}, targets, nfo.NewTemplateRenderer(), logging.NewNop())
	return generator, entry
}

func TestGeneratorBuildsPerTrackerTorrents(t *testing.T) {
	generator, entry := generateFixture(t)
	if err := generator.Prepare(context.Background(), entry); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	artifacts := &queue.Artifacts{}
	if err := generator.Execute(context.Background(), entry, artifacts); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if len(artifacts.TorrentPaths) != 2 {
		t.Fatalf("torrent paths = %v", artifacts.TorrentPaths)
	}
	hashes := map[string]bool{}
	for slug, path := range artifacts.TorrentPaths {
		hash, _, err := torrents.ReadInfo(path)
		if err != nil {
			t.Fatalf("read %s torrent: %v", slug, err)
		}
		hashes[hash] = true
	}
	if len(hashes) != 2 {
		t.Fatal("source flags must yield distinct infohashes")
	}

	if artifacts.NFOPath == "" {
		t.Fatal("NFO path missing")
	}
	body, err := os.ReadFile(artifacts.NFOPath)
	if err != nil {
		t.Fatalf("read NFO: %v", err)
	}
	if len(body) == 0 {
		t.Fatal("NFO is empty")
	}
}

func TestGeneratorRerunKeepsTorrentBytes(t *testing.T) {
	generator, entry := generateFixture(t)
	first := &queue.Artifacts{}
	if err := generator.Execute(context.Background(), entry, first); err != nil {
		t.Fatalf("first Execute: %v", err)
	}
	path := first.TorrentPaths["alpha"]
	before, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	second := &queue.Artifacts{}
	if err := generator.Execute(context.Background(), entry, second); err != nil {
		t.Fatalf("second Execute: %v", err)
	}
	after, err := os.ReadFile(second.TorrentPaths["alpha"])
	if err != nil {
		t.Fatal(err)
	}
	if string(before) != string(after) {
		t.Fatal("rerun rewrote torrent bytes")
	}
}

func TestGeneratorPrepareRequiresRename(t *testing.T) {
	generator, entry := generateFixture(t)
	entry.ReleaseName = ""
	if err := generator.Prepare(context.Background(), entry); err == nil {
		t.Fatal("expected error without release name")
	}
}
