package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"spool/internal/config"
	"spool/internal/fileutil"
	"spool/internal/logging"
	"spool/internal/metadata"
	"spool/internal/naming"
	"spool/internal/queue"
	"spool/internal/services"
	"spool/internal/stage"
)

var remuxTokenPattern = regexp.MustCompile(`(?i)[.\s-]*remux[.\s-]*`)

// Renamer computes the canonical release name and moves the file into the
// output directory under it.
type Renamer struct {
	cfg    *config.Config
	logger *slog.Logger
}

// NewRenamer constructs the rename stage handler.
func NewRenamer(cfg *config.Config, logger *slog.Logger) *Renamer {
	return &Renamer{cfg: cfg, logger: logging.NewComponentLogger(logger, "rename")}
}

// Prepare requires analyzed metadata and a writable output directory.
func (r *Renamer) Prepare(ctx context.Context, entry *queue.FileEntry) error {
	if _, err := stage.ParseMetadata(entry); err != nil {
		return err
	}
	if err := os.MkdirAll(r.cfg.OutputDir, 0o755); err != nil {
		return services.Wrap(services.ErrConfiguration, "rename", "output dir", r.cfg.OutputDir, err)
	}
	return nil
}

// Execute builds the release name and moves the payload. When a previous
// run moved the file but crashed before the checkpoint committed, the move
// is detected and healed instead of repeated.
func (r *Renamer) Execute(ctx context.Context, entry *queue.FileEntry, artifacts *queue.Artifacts) error {
	logger := logging.WithContext(ctx, r.logger)
	release, err := stage.ParseMetadata(entry)
	if err != nil {
		return err
	}

	releaseName, err := r.releaseName(release)
	if err != nil {
		return err
	}

	ext := strings.ToLower(filepath.Ext(entry.Path))
	dest := filepath.Join(r.cfg.OutputDir, releaseName+ext)

	if _, statErr := os.Stat(entry.Path); os.IsNotExist(statErr) {
		if _, destErr := os.Stat(dest); destErr == nil {
			artifacts.ReleaseName = releaseName
			artifacts.OutputPath = dest
			logger.Info("rename already applied", logging.String("release_name", releaseName))
			return nil
		}
		return services.Wrap(services.ErrValidation, "rename", "move",
			fmt.Sprintf("source %s missing and %s absent", entry.Path, dest), nil)
	}

	if err := fileutil.MoveFile(entry.Path, dest); err != nil {
		return services.Wrap(services.ErrInternalInvariant, "rename", "move",
			fmt.Sprintf("%s -> %s", entry.Path, dest), err)
	}

	artifacts.ReleaseName = releaseName
	artifacts.OutputPath = dest
	logger.Info("renamed release",
		logging.String("release_name", releaseName),
		logging.String("output_path", dest),
	)
	return nil
}

// HealthCheck verifies the output directory exists.
func (r *Renamer) HealthCheck(ctx context.Context) stage.Health {
	info, err := os.Stat(r.cfg.OutputDir)
	if err != nil {
		return stage.Unhealthy("rename", fmt.Sprintf("output dir: %v", err))
	}
	if !info.IsDir() {
		return stage.Unhealthy("rename", fmt.Sprintf("output dir %s is not a directory", r.cfg.OutputDir))
	}
	return stage.Healthy("rename")
}

// releaseName maps the identified metadata onto naming parts.
func (r *Renamer) releaseName(release *metadata.Release) (string, error) {
	source := release.Source
	remux := remuxTokenPattern.MatchString(source)
	if remux {
		source = strings.Trim(remuxTokenPattern.ReplaceAllString(source, " "), " .-")
	}

	group := release.ReleaseGroup
	if group == "" {
		group = r.cfg.Naming.ReleaseGroup
	}

	name, err := naming.Build(naming.Parts{
		Title:         release.Title,
		Year:          release.Year,
		Documentary:   release.Kind() == "documentary",
		Language:      release.LanguageToken,
		Resolution:    release.Resolution,
		Source:        source,
		Remux:         remux,
		HDR:           release.HDR,
		Audio:         release.AudioCodec,
		AudioChannels: release.AudioChannels,
		Video:         release.VideoCodec,
		Group:         group,
	})
	if err != nil {
		return "", services.Wrap(services.ErrValidation, "rename", "build name", "", err)
	}
	return name, nil
}
