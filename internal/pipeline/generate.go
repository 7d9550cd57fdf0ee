package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"spool/internal/config"
	"spool/internal/logging"
	"spool/internal/metadata"
	"spool/internal/nfo"
	"spool/internal/queue"
	"spool/internal/services"
	"spool/internal/services/tmdb"
	"spool/internal/stage"
	"spool/internal/torrents"
)

// Generator builds one private .torrent per enabled tracker and renders the
// release NFO. Torrent bytes are never rewritten once on disk: a re-run
// reuses the stored infohash so announce state stays stable.
type Generator struct {
	cfg      *config.Config
	analyzer mediaAnalyzer
	targets  []Target
	renderer nfo.Renderer
	logger   *slog.Logger
}

// NewGenerator constructs the generate stage handler.
func NewGenerator(cfg *config.Config, analyzer mediaAnalyzer, targets []Target, renderer nfo.Renderer, logger *slog.Logger) *Generator {
	return &Generator{
		cfg:      cfg,
		analyzer: analyzer,
		targets:  targets,
		renderer: renderer,
		logger:   logging.NewComponentLogger(logger, "generate"),
	}
}

// Prepare requires the renamed payload and at least one tracker target.
func (g *Generator) Prepare(ctx context.Context, entry *queue.FileEntry) error {
	if entry.ReleaseName == "" || entry.OutputPath == "" {
		return services.Wrap(services.ErrValidation, "generate", "inputs",
			"release name and output path required; rerun the rename stage", nil)
	}
	if len(g.targets) == 0 {
		return services.Wrap(services.ErrConfiguration, "generate", "trackers", "no enabled trackers", nil)
	}
	if _, err := os.Stat(entry.OutputPath); err != nil {
		return services.Wrap(services.ErrValidation, "generate", "stat", entry.OutputPath, err)
	}
	return nil
}

// Execute builds the per-tracker torrents and writes the NFO.
func (g *Generator) Execute(ctx context.Context, entry *queue.FileEntry, artifacts *queue.Artifacts) error {
	logger := logging.WithContext(ctx, g.logger)
	release, err := stage.ParseMetadata(entry)
	if err != nil {
		return err
	}

	paths := make(map[string]string, len(g.targets))
	for _, target := range g.targets {
		if err := ctx.Err(); err != nil {
			return services.Wrap(services.ErrCancelled, "generate", "build", "", err)
		}
		client := target.Client
		announce := client.AnnounceURL()
		if announce == "" || strings.Contains(announce, "{") {
			return services.Wrap(services.ErrConfiguration, "generate", "announce",
				fmt.Sprintf("tracker %s has an unresolved announce URL", client.Slug()), nil)
		}
		schema := client.Schema()
		result, err := torrents.Build(ctx, torrents.Spec{
			PayloadPath: entry.OutputPath,
			OutputDir:   g.cfg.TorrentDir(),
			ReleaseName: entry.ReleaseName,
			TrackerName: client.Name(),
			Announce:    announce,
			Source:      sourceFlag(schema.SourceFlag, client.Slug()),
			Strategy:    schema.PieceStrategy(),
			Comment:     release.Label(),
		})
		if err != nil {
			return err
		}
		paths[client.Slug()] = result.Path
		logger.Info("torrent ready",
			logging.String(logging.FieldTracker, client.Slug()),
			logging.String("infohash", result.InfoHash),
			logging.Int64("piece_length", result.PieceLength),
			logging.Bool("reused", result.Reused),
		)
	}

	nfoPath, err := g.writeNFO(ctx, entry, release)
	if err != nil {
		return err
	}

	artifacts.TorrentPaths = paths
	artifacts.NFOPath = nfoPath
	return nil
}

// HealthCheck verifies the torrent directory is present or creatable.
func (g *Generator) HealthCheck(ctx context.Context) stage.Health {
	if err := os.MkdirAll(g.cfg.TorrentDir(), 0o755); err != nil {
		return stage.Unhealthy("generate", fmt.Sprintf("torrent dir: %v", err))
	}
	return stage.Healthy("generate")
}

// writeNFO probes the renamed payload and renders the NFO beside it.
func (g *Generator) writeNFO(ctx context.Context, entry *queue.FileEntry, release *metadata.Release) (string, error) {
	info, err := g.analyzer.Analyze(ctx, entry.OutputPath)
	if err != nil {
		return "", err
	}
	screenshots, err := entry.ScreenshotURLs()
	if err != nil {
		return "", services.Wrap(services.ErrInternalInvariant, "generate", "screenshots", "", err)
	}
	body, err := g.renderer.RenderNFO(nfo.Meta{
		ReleaseName:    entry.ReleaseName,
		MediaType:      release.Kind(),
		Media:          info,
		Movie:          movieFromRelease(release),
		ScreenshotURLs: screenshots,
	})
	if err != nil {
		return "", services.Wrap(services.ErrInternalInvariant, "generate", "render nfo", "", err)
	}
	path := filepath.Join(filepath.Dir(entry.OutputPath), entry.ReleaseName+".nfo")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		return "", services.Wrap(services.ErrInternalInvariant, "generate", "write nfo", path, err)
	}
	return path, nil
}

// movieFromRelease rebuilds the TMDB view the NFO templates render from the
// persisted metadata blob.
func movieFromRelease(release *metadata.Release) *tmdb.Movie {
	movie := &tmdb.Movie{
		ID:            release.TMDBID,
		IMDBID:        release.IMDBID,
		Title:         release.Title,
		OriginalTitle: release.OriginalTitle,
		Overview:      release.Overview,
		Runtime:       release.Runtime,
		VoteAverage:   release.VoteAverage,
	}
	if release.Year > 0 {
		movie.ReleaseDate = fmt.Sprintf("%04d-01-01", release.Year)
	}
	for _, genre := range release.Genres {
		movie.Genres = append(movie.Genres, tmdb.Genre{ID: genre.ID, Name: genre.Name})
	}
	return movie
}

// sourceFlag guarantees a non-empty metainfo source so every tracker gets a
// distinct infohash for the same payload.
func sourceFlag(flag, slug string) string {
	if strings.TrimSpace(flag) != "" {
		return flag
	}
	return strings.ToUpper(slug)
}
