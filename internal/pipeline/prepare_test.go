package pipeline

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"spool/internal/logging"
	"spool/internal/queue"
	"spool/internal/services"
	"spool/internal/testsupport"
)

type stubImageHost struct {
	configured bool
	uploads    []string
	err        error
}

func (s *stubImageHost) Configured() bool { return s.configured }

func (s *stubImageHost) Upload(ctx context.Context, data []byte, filename string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.uploads = append(s.uploads, filename)
	return fmt.Sprintf("https://img.example/%s", filename), nil
}

func TestPreparerDisabledIsNoop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Screenshots.Enabled = false
	preparer := NewPreparer(cfg, &stubImageHost{}, logging.NewNop())

	artifacts := &queue.Artifacts{}
	if err := preparer.Execute(context.Background(), &queue.FileEntry{}, artifacts); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(artifacts.ScreenshotURLs) != 0 {
		t.Fatalf("expected no screenshots, got %v", artifacts.ScreenshotURLs)
	}
}

func TestPreparerCapturesAndUploads(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Screenshots.Enabled = true
	cfg.Screenshots.Count = 3
	store := testsupport.MustOpenStore(t, cfg)
	entry := testsupport.SeedMediaFile(t, cfg, store, "movie.mkv", 1024)
	entry.MetadataJSON = `{"title":"Movie","duration_seconds":5400}`

	host := &stubImageHost{configured: true}
	preparer := NewPreparer(cfg, host, logging.NewNop())
	var offsets []time.Duration
	preparer.grab = func(ctx context.Context, src string, offset time.Duration, dst string) error {
		offsets = append(offsets, offset)
		return os.WriteFile(dst, []byte("png"), 0o644)
	}

	artifacts := &queue.Artifacts{}
	if err := preparer.Execute(context.Background(), entry, artifacts); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(artifacts.ScreenshotURLs) != 3 {
		t.Fatalf("urls = %v", artifacts.ScreenshotURLs)
	}
	if len(offsets) != 3 {
		t.Fatalf("offsets = %v", offsets)
	}
	for i := 1; i < len(offsets); i++ {
		if offsets[i] <= offsets[i-1] {
			t.Fatalf("offsets not increasing: %v", offsets)
		}
	}
	total := 5400 * time.Second
	if offsets[0] <= 0 || offsets[len(offsets)-1] >= total {
		t.Fatalf("offsets outside runtime: %v", offsets)
	}
}

func TestPreparerEnabledWithoutHostFails(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Screenshots.Enabled = true
	cfg.Screenshots.Count = 2
	preparer := NewPreparer(cfg, &stubImageHost{configured: false}, logging.NewNop())

	entry := &queue.FileEntry{MetadataJSON: `{"title":"Movie","duration_seconds":600}`}
	err := preparer.Execute(context.Background(), entry, &queue.Artifacts{})
	if services.KindOf(err) != services.KindConfiguration {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestPreparerUnknownDurationFails(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Screenshots.Enabled = true
	cfg.Screenshots.Count = 2
	preparer := NewPreparer(cfg, &stubImageHost{configured: true}, logging.NewNop())

	entry := &queue.FileEntry{MetadataJSON: `{"title":"Movie"}`}
	err := preparer.Execute(context.Background(), entry, &queue.Artifacts{})
	if services.KindOf(err) != services.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}
