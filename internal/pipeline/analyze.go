package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"spool/internal/config"
	"spool/internal/logging"
	"spool/internal/media"
	"spool/internal/metadata"
	"spool/internal/queue"
	"spool/internal/services"
	"spool/internal/services/tmdb"
	"spool/internal/stage"
)

// mediaAnalyzer is the ffprobe surface the analyze stage needs.
type mediaAnalyzer interface {
	Analyze(ctx context.Context, path string) (*media.Info, error)
}

// movieFinder is the TMDB surface the analyze stage needs.
type movieFinder interface {
	MovieByID(ctx context.Context, tmdbID int64) (*tmdb.Movie, error)
	SearchMovie(ctx context.Context, title string, year int) ([]tmdb.Movie, error)
}

// AnalyzeHandler inspects the container with ffprobe and resolves the TMDB
// identity, merging both into the entry's metadata blob.
type AnalyzeHandler struct {
	cfg      *config.Config
	analyzer mediaAnalyzer
	finder   movieFinder
	logger   *slog.Logger
}

// NewAnalyzeHandler constructs the analyze stage handler.
func NewAnalyzeHandler(cfg *config.Config, analyzer mediaAnalyzer, finder movieFinder, logger *slog.Logger) *AnalyzeHandler {
	return &AnalyzeHandler{
		cfg:      cfg,
		analyzer: analyzer,
		finder:   finder,
		logger:   logging.NewComponentLogger(logger, "analyze"),
	}
}

// Prepare checks the source file survived since the scan.
func (h *AnalyzeHandler) Prepare(ctx context.Context, entry *queue.FileEntry) error {
	if _, err := os.Stat(entry.Path); err != nil {
		return services.Wrap(services.ErrValidation, "analyze", "stat", fmt.Sprintf("source file %s", entry.Path), err)
	}
	return nil
}

// Execute probes the container and matches the release against TMDB,
// cache-first. No match is terminal: the entry needs a human before a
// retry can succeed.
func (h *AnalyzeHandler) Execute(ctx context.Context, entry *queue.FileEntry, artifacts *queue.Artifacts) error {
	logger := logging.WithContext(ctx, h.logger)

	release, err := metadata.ParseRelease([]byte(entry.MetadataJSON))
	if err != nil {
		base := filepath.Base(entry.Path)
		release = &metadata.Release{Title: strings.TrimSuffix(base, filepath.Ext(base))}
	}

	info, err := h.analyzer.Analyze(ctx, entry.Path)
	if err != nil {
		return err
	}

	movie, err := h.matchMovie(ctx, release)
	if err != nil {
		return err
	}

	release.TMDBID = movie.ID
	release.IMDBID = movie.IMDBID
	release.Title = movie.Title
	release.OriginalTitle = movie.OriginalTitle
	if year := movie.Year(); year > 0 {
		release.Year = year
	}
	release.Overview = movie.Overview
	release.Runtime = movie.Runtime
	release.VoteAverage = movie.VoteAverage
	release.Genres = release.Genres[:0]
	for _, genre := range movie.Genres {
		release.Genres = append(release.Genres, metadata.Genre{ID: genre.ID, Name: genre.Name})
	}

	release.Container = info.Container
	release.SizeBytes = info.SizeBytes
	release.DurationSec = int64(info.Duration.Seconds())
	if info.ResolutionClass != "" {
		release.Resolution = info.ResolutionClass
	}
	if info.VideoCodec != "" {
		release.VideoCodec = info.VideoCodec
	}
	if track := info.PrimaryAudio(); track != nil {
		release.AudioCodec = audioToken(track)
		release.AudioChannels = track.Layout
	}
	release.Languages = info.Languages
	release.LanguageToken = languageToken(info.Languages)
	release.HDR = info.HDR.Label()

	encoded, err := release.Encode()
	if err != nil {
		return err
	}
	artifacts.MetadataJSON = encoded
	logger.Info("analyzed release",
		logging.Int64("tmdb_id", release.TMDBID),
		logging.String("title", release.Label()),
		logging.String("resolution", release.Resolution),
		logging.String("language", release.LanguageToken),
	)
	return nil
}

// HealthCheck verifies ffprobe is reachable.
func (h *AnalyzeHandler) HealthCheck(ctx context.Context) stage.Health {
	if _, err := exec.LookPath(h.cfg.FFprobeBinary()); err != nil {
		return stage.Unhealthy("analyze", fmt.Sprintf("ffprobe: %v", err))
	}
	return stage.Healthy("analyze")
}

// matchMovie resolves the TMDB record: an explicit id wins, otherwise the
// top title/year search hit is refetched for the full record.
func (h *AnalyzeHandler) matchMovie(ctx context.Context, release *metadata.Release) (*tmdb.Movie, error) {
	if release.TMDBID > 0 {
		return h.finder.MovieByID(ctx, release.TMDBID)
	}
	results, err := h.finder.SearchMovie(ctx, release.Title, release.Year)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, services.Wrap(services.ErrValidation, "analyze", "identify",
			fmt.Sprintf("no TMDB match for %q (%d)", release.Title, release.Year), nil)
	}
	return h.finder.MovieByID(ctx, results[0].ID)
}

// audioToken derives the release-name audio token from the primary track.
func audioToken(track *media.AudioTrack) string {
	codec := track.Codec
	if track.Profile != "" {
		codec = track.Profile
	}
	if track.Atmos {
		codec += " atmos"
	}
	return codec
}

// languageToken condenses the audio languages into the token release names
// carry: MULTi when French rides alongside another language, FRENCH or
// ENGLISH alone, nothing otherwise.
func languageToken(languages []string) string {
	var french, english, other bool
	for _, lang := range languages {
		lang = strings.ToLower(strings.TrimSpace(lang))
		switch {
		case lang == "" || lang == "und":
		case strings.HasPrefix(lang, "fr"):
			french = true
		case strings.HasPrefix(lang, "en"):
			english = true
		default:
			other = true
		}
	}
	switch {
	case french && (english || other):
		return "MULTi"
	case french:
		return "FRENCH"
	case english && !other:
		return "ENGLISH"
	}
	return ""
}
