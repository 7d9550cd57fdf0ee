package preflight

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"spool/internal/testsupport"
)

func TestCheckDirectoryAccessOK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccessNotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccessNotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckDiskSpace(t *testing.T) {
	dir := t.TempDir()
	if result := CheckDiskSpace("space", dir, 1); !result.Passed {
		t.Fatalf("expected pass for tiny requirement, got: %s", result.Detail)
	}
	if result := CheckDiskSpace("space", dir, 1<<62); result.Passed {
		t.Fatal("expected failure for absurd requirement")
	}
}

func TestCheckQBittorrentReachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	result := CheckQBittorrent(context.Background(), srv.URL)
	if !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}
}

func TestCheckQBittorrentMissingURL(t *testing.T) {
	result := CheckQBittorrent(context.Background(), "")
	if result.Passed {
		t.Fatal("expected failure for empty url")
	}
}

func TestRunAllFlagsMissingImageHost(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	if err := os.MkdirAll(cfg.InputMediaPath, 0o755); err != nil {
		t.Fatalf("mkdir input: %v", err)
	}
	cfg.Screenshots.Enabled = true
	cfg.ImageHost.URL = ""

	results := RunAll(context.Background(), cfg)
	var found bool
	for _, result := range results {
		if result.Name == "Image host" {
			found = true
			if result.Passed {
				t.Fatal("expected image host check to fail without url")
			}
		}
	}
	if !found {
		t.Fatal("expected image host check to run with screenshots enabled")
	}
}
