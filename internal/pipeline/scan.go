package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/moistari/rls"

	"spool/internal/config"
	"spool/internal/logging"
	"spool/internal/metadata"
	"spool/internal/queue"
	"spool/internal/services"
	"spool/internal/stage"
)

// allowedExtensions lists the container formats the pipeline accepts.
var allowedExtensions = map[string]bool{
	".mkv":  true,
	".mp4":  true,
	".avi":  true,
	".ts":   true,
	".m2ts": true,
	".mov":  true,
}

// Scanner validates the source file and seeds the metadata skeleton from
// the release tokens embedded in its name.
type Scanner struct {
	cfg    *config.Config
	logger *slog.Logger
}

// NewScanner constructs the scan stage handler.
func NewScanner(cfg *config.Config, logger *slog.Logger) *Scanner {
	return &Scanner{cfg: cfg, logger: logging.NewComponentLogger(logger, "scan")}
}

// Prepare rejects entries whose path escapes the input root or whose file
// is missing, empty, unreadable, or of an unsupported container type.
func (s *Scanner) Prepare(ctx context.Context, entry *queue.FileEntry) error {
	path, err := s.containedPath(entry.Path)
	if err != nil {
		return err
	}
	info, err := os.Stat(path)
	if err != nil {
		return services.Wrap(services.ErrValidation, "scan", "stat", fmt.Sprintf("source file %s", entry.Path), err)
	}
	if info.IsDir() {
		return services.Wrap(services.ErrValidation, "scan", "stat", fmt.Sprintf("%s is a directory", entry.Path), nil)
	}
	if info.Size() == 0 {
		return services.Wrap(services.ErrValidation, "scan", "stat", fmt.Sprintf("%s is empty", entry.Path), nil)
	}
	ext := strings.ToLower(filepath.Ext(path))
	if !allowedExtensions[ext] {
		return services.Wrap(services.ErrValidation, "scan", "extension",
			fmt.Sprintf("unsupported container %q for %s", ext, filepath.Base(path)), nil)
	}
	f, err := os.Open(path)
	if err != nil {
		return services.Wrap(services.ErrValidation, "scan", "open", fmt.Sprintf("source file %s", entry.Path), err)
	}
	return f.Close()
}

// Execute parses the filename tokens into the metadata skeleton the analyze
// stage refines.
func (s *Scanner) Execute(ctx context.Context, entry *queue.FileEntry, artifacts *queue.Artifacts) error {
	logger := logging.WithContext(ctx, s.logger)
	base := filepath.Base(entry.Path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	parsed := rls.ParseString(stem)

	release := &metadata.Release{
		Title:        strings.TrimSpace(parsed.Title),
		Year:         parsed.Year,
		Resolution:   strings.ToLower(strings.TrimSpace(parsed.Resolution)),
		Source:       strings.TrimSpace(parsed.Source),
		ReleaseGroup: strings.TrimSpace(parsed.Group),
	}
	if release.Title == "" {
		release.Title = strings.ReplaceAll(stem, ".", " ")
	}
	if len(parsed.Codec) > 0 {
		release.VideoCodec = parsed.Codec[0]
	}
	if len(parsed.Audio) > 0 {
		release.AudioCodec = parsed.Audio[0]
	}
	if info, err := os.Stat(entry.Path); err == nil {
		release.SizeBytes = info.Size()
	}

	encoded, err := release.Encode()
	if err != nil {
		return err
	}
	artifacts.MetadataJSON = encoded
	logger.Info("scanned source file",
		logging.String("title", release.Title),
		logging.Int("year", release.Year),
		logging.String("resolution", release.Resolution),
		logging.String("source", release.Source),
		logging.String("group", release.ReleaseGroup),
	)
	return nil
}

// HealthCheck verifies the input root is present.
func (s *Scanner) HealthCheck(ctx context.Context) stage.Health {
	info, err := os.Stat(s.cfg.InputMediaPath)
	if err != nil {
		return stage.Unhealthy("scan", fmt.Sprintf("input path: %v", err))
	}
	if !info.IsDir() {
		return stage.Unhealthy("scan", fmt.Sprintf("input path %s is not a directory", s.cfg.InputMediaPath))
	}
	return stage.Healthy("scan")
}

// containedPath resolves the entry path and rejects anything outside the
// configured input root.
func (s *Scanner) containedPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", services.Wrap(services.ErrValidation, "scan", "resolve", path, err)
	}
	root, err := filepath.Abs(s.cfg.InputMediaPath)
	if err != nil {
		return "", services.Wrap(services.ErrConfiguration, "scan", "resolve", s.cfg.InputMediaPath, err)
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", services.Wrap(services.ErrValidation, "scan", "containment",
			fmt.Sprintf("%s is outside the input media path", path), err)
	}
	return abs, nil
}
