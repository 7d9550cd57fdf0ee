package preflight

import (
	"context"
	"strings"

	"spool/internal/config"
)

// minFreeBytes is the free-space floor for the output directory. Renamed
// files and .torrent payloads land there, so a near-full disk fails early.
const minFreeBytes = 1 << 30

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Input media directory", cfg.InputMediaPath),
		CheckDirectoryAccess("Output directory", cfg.OutputDir),
		CheckDirectoryAccess("Torrent directory", cfg.TorrentDir()),
		CheckDirectoryAccess("Log directory", cfg.LogDir),
		CheckDiskSpace("Output free space", cfg.OutputDir, minFreeBytes),
	}

	if cfg.QBittorrent.Enabled {
		results = append(results, CheckQBittorrent(ctx, cfg.QBittorrent.URL))
	}
	if cfg.Screenshots.Enabled {
		results = append(results, checkImageHost(cfg))
	}
	return results
}

func checkImageHost(cfg *config.Config) Result {
	const name = "Image host"
	if strings.TrimSpace(cfg.ImageHost.URL) == "" {
		return Result{Name: name, Detail: "screenshots enabled but imagehost.url is empty"}
	}
	if strings.TrimSpace(cfg.ImageHost.APIKey) == "" {
		return Result{Name: name, Detail: "screenshots enabled but imagehost.api_key is empty"}
	}
	return Result{Name: name, Passed: true, Detail: "configured"}
}
