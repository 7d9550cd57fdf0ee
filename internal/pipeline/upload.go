package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"spool/internal/config"
	"spool/internal/logging"
	"spool/internal/metadata"
	"spool/internal/nfo"
	"spool/internal/queue"
	"spool/internal/services"
	"spool/internal/stage"
	"spool/internal/torrents"
	"spool/internal/trackers"
)

// torrentInjector is the qBittorrent surface the upload stage needs.
type torrentInjector interface {
	Configured() bool
	AddTorrent(ctx context.Context, torrent []byte, infohash, localDir, trackerSlug string) error
}

// Uploader pushes the release to every enabled tracker. Each tracker's
// outcome is recorded durably as it happens, so a requeued run retries only
// the trackers that have no success or duplicate-skip on record.
type Uploader struct {
	cfg      *config.Config
	store    *queue.Store
	qbt      torrentInjector
	targets  []Target
	renderer nfo.Renderer
	analyzer mediaAnalyzer
	logger   *slog.Logger
}

// NewUploader constructs the upload stage handler.
func NewUploader(cfg *config.Config, store *queue.Store, qbt torrentInjector, targets []Target, renderer nfo.Renderer, analyzer mediaAnalyzer, logger *slog.Logger) *Uploader {
	return &Uploader{
		cfg:      cfg,
		store:    store,
		qbt:      qbt,
		targets:  targets,
		renderer: renderer,
		analyzer: analyzer,
		logger:   logging.NewComponentLogger(logger, "upload"),
	}
}

// Prepare requires the generated torrents.
func (u *Uploader) Prepare(ctx context.Context, entry *queue.FileEntry) error {
	if len(u.targets) == 0 {
		return services.Wrap(services.ErrConfiguration, "upload", "trackers", "no enabled trackers", nil)
	}
	paths, err := entry.TorrentPaths()
	if err != nil {
		return services.Wrap(services.ErrValidation, "upload", "torrents",
			"torrent paths unreadable; rerun the generate stage", err)
	}
	if len(paths) == 0 {
		return services.Wrap(services.ErrValidation, "upload", "torrents",
			"no torrents on record; rerun the generate stage", nil)
	}
	return nil
}

// Execute uploads to each tracker in turn. Transient failures surface as a
// retryable error so the worker requeues the stage; permanent rejections
// are recorded and fail the entry once every tracker has been attempted.
func (u *Uploader) Execute(ctx context.Context, entry *queue.FileEntry, artifacts *queue.Artifacts) error {
	logger := logging.WithContext(ctx, u.logger)
	release, err := stage.ParseMetadata(entry)
	if err != nil {
		return err
	}
	torrentPaths, err := entry.TorrentPaths()
	if err != nil {
		return services.Wrap(services.ErrValidation, "upload", "torrents", "", err)
	}
	settled, err := u.settledTrackers(ctx, entry.ID)
	if err != nil {
		return err
	}
	uploadCtx, err := u.buildContext(ctx, entry, release)
	if err != nil {
		return err
	}

	var (
		retryable []error
		permanent int
		injected  bool
	)
	for _, target := range u.targets {
		client := target.Client
		slug := client.Slug()
		tlog := logger.With(logging.String(logging.FieldTracker, slug))
		if settled[slug] {
			tlog.Debug("tracker already settled, skipping")
			continue
		}
		if err := ctx.Err(); err != nil {
			return services.Wrap(services.ErrCancelled, "upload", "tracker loop", "", err)
		}
		torrentPath, ok := torrentPaths[slug]
		if !ok {
			return services.Wrap(services.ErrValidation, "upload", slug,
				"no torrent on record; rerun the generate stage", nil)
		}

		if err := client.Authenticate(ctx); err != nil {
			if services.IsRetryable(err) {
				retryable = append(retryable, err)
				continue
			}
			permanent++
			u.record(ctx, tlog, entry.ID, slug, queue.TrackerResultFailed, err.Error(), "", "")
			continue
		}

		if target.SkipDuplicates {
			decision, dupErr := client.DuplicateCheck(ctx, trackers.DuplicateQuery{
				TMDBID:      release.TMDBID,
				IMDBID:      release.IMDBID,
				ReleaseName: entry.ReleaseName,
				SizeBytes:   release.SizeBytes,
				Quality:     release.Resolution,
			})
			if dupErr != nil {
				tlog.Warn("duplicate check failed, uploading anyway", logging.Error(dupErr))
			} else if decision.Duplicate {
				u.record(ctx, tlog, entry.ID, slug, queue.TrackerResultSkippedDuplicate, decision.Reason, "", "")
				continue
			}
		}

		perTracker := cloneContext(uploadCtx)
		perTracker["torrent_path"] = torrentPath
		if id, ok := client.ResolveCategory(ctx, release.CategoryKeys()); ok {
			perTracker["category_id"] = id
		}
		if id, ok := client.Schema().SubcategoryID(release.CategoryKeys()); ok {
			perTracker["subcategory_id"] = id
		}
		perTracker["options"] = client.BuildOptions(ctx, trackers.OptionInput{
			Languages:   release.Languages,
			Resolution:  release.Resolution,
			Source:      release.Source,
			ReleaseName: entry.ReleaseName,
			GenreIDs:    release.GenreIDs(),
			GenreNames:  release.GenreNames(),
		})

		result, upErr := client.Upload(ctx, perTracker)
		if upErr != nil {
			if services.IsRetryable(upErr) {
				retryable = append(retryable, upErr)
				continue
			}
			permanent++
			u.record(ctx, tlog, entry.ID, slug, queue.TrackerResultFailed, upErr.Error(), "", "")
			continue
		}

		u.record(ctx, tlog, entry.ID, slug, queue.TrackerResultSuccess, "", result.TorrentID, result.TorrentURL)
		tlog.Info("upload succeeded", logging.String("torrent_id", result.TorrentID))
		if !injected {
			u.inject(ctx, tlog, entry, torrentPath, slug)
			injected = true
		}
	}

	if len(retryable) > 0 {
		return errors.Join(retryable...)
	}
	if permanent > 0 {
		return services.Wrap(services.ErrTrackerPermanent, "upload", "finalize",
			fmt.Sprintf("%d tracker(s) rejected the release", permanent), nil)
	}
	return nil
}

// HealthCheck verifies qBittorrent when injection is enabled.
func (u *Uploader) HealthCheck(ctx context.Context) stage.Health {
	if len(u.targets) == 0 {
		return stage.Unhealthy("upload", "no enabled trackers")
	}
	return stage.Healthy("upload")
}

// settledTrackers lists trackers that already carry a success or a
// duplicate skip for this entry.
func (u *Uploader) settledTrackers(ctx context.Context, entryID int64) (map[string]bool, error) {
	results, err := u.store.TrackerResults(ctx, entryID)
	if err != nil {
		return nil, err
	}
	settled := make(map[string]bool, len(results))
	for _, result := range results {
		if result.Status == queue.TrackerResultSuccess || result.Status == queue.TrackerResultSkippedDuplicate {
			settled[result.Tracker] = true
		}
	}
	return settled, nil
}

// buildContext assembles the tracker-independent part of the upload form
// context: release identity, NFO body, and the rendered description.
func (u *Uploader) buildContext(ctx context.Context, entry *queue.FileEntry, release *metadata.Release) (map[string]any, error) {
	uploadCtx := map[string]any{
		"release_name": entry.ReleaseName,
		"tmdb_id":      strconv.FormatInt(release.TMDBID, 10),
		"imdb_id":      release.IMDBID,
	}
	if entry.NFOPath != "" {
		body, err := os.ReadFile(entry.NFOPath)
		if err != nil {
			return nil, services.Wrap(services.ErrValidation, "upload", "nfo",
				"NFO unreadable; rerun the generate stage", err)
		}
		uploadCtx["nfo"] = string(body)
	}
	screenshots, err := entry.ScreenshotURLs()
	if err == nil && len(screenshots) > 0 {
		uploadCtx["screenshots"] = screenshots
	}
	if info, statErr := os.Stat(entry.OutputPath); statErr == nil {
		release.SizeBytes = info.Size()
		uploadCtx["size_bytes"] = info.Size()
	}
	if u.renderer != nil && u.analyzer != nil {
		if info, probeErr := u.analyzer.Analyze(ctx, entry.OutputPath); probeErr == nil {
			description, renderErr := u.renderer.RenderDescription(nfo.Meta{
				ReleaseName:    entry.ReleaseName,
				MediaType:      release.Kind(),
				Media:          info,
				Movie:          movieFromRelease(release),
				ScreenshotURLs: screenshots,
			})
			if renderErr == nil {
				uploadCtx["description"] = description
			}
		}
	}
	return uploadCtx, nil
}

// record persists one tracker outcome. Failing to record is itself fatal
// for the stage: the result table is the resume ledger.
func (u *Uploader) record(ctx context.Context, logger *slog.Logger, entryID int64, slug string, status queue.TrackerResultStatus, detail, remoteID, torrentURL string) {
	err := u.store.RecordTrackerResult(ctx, &queue.TrackerResult{
		FileEntryID: entryID,
		Tracker:     slug,
		Status:      status,
		Detail:      detail,
		RemoteID:    remoteID,
		TorrentURL:  torrentURL,
	})
	if err != nil {
		logger.Error("recording tracker result failed", logging.Error(err))
	}
}

// inject seeds the uploaded torrent in qBittorrent. Failure here never
// fails the upload.
func (u *Uploader) inject(ctx context.Context, logger *slog.Logger, entry *queue.FileEntry, torrentPath, slug string) {
	if u.qbt == nil || !u.qbt.Configured() {
		return
	}
	data, err := os.ReadFile(torrentPath)
	if err != nil {
		logger.Warn("qbittorrent injection skipped", logging.Error(err))
		return
	}
	infohash, _, err := torrents.ReadInfo(torrentPath)
	if err != nil {
		logger.Warn("qbittorrent injection skipped", logging.Error(err))
		return
	}
	if err := u.qbt.AddTorrent(ctx, data, infohash, filepath.Dir(entry.OutputPath), slug); err != nil {
		logger.Warn("qbittorrent injection failed", logging.Error(err))
		return
	}
	logger.Info("seeded in qbittorrent", logging.String("infohash", infohash))
}

// cloneContext shallow-copies the shared upload context so per-tracker keys
// never leak across targets.
func cloneContext(src map[string]any) map[string]any {
	dst := make(map[string]any, len(src)+4)
	for key, value := range src {
		dst[key] = value
	}
	return dst
}
