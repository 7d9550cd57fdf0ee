package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"spool/internal/config"
	"spool/internal/logging"
	"spool/internal/queue"
	"spool/internal/services"
	"spool/internal/stage"
)

// imageUploader is the image-host surface the prepare stage needs.
type imageUploader interface {
	Configured() bool
	Upload(ctx context.Context, data []byte, filename string) (string, error)
}

// grabFunc captures one frame of src at offset into dst.
type grabFunc func(ctx context.Context, src string, offset time.Duration, dst string) error

// Preparer captures screenshots at spread timestamps and uploads them to
// the configured image host. The whole stage is a no-op when screenshots
// are disabled.
type Preparer struct {
	cfg    *config.Config
	host   imageUploader
	grab   grabFunc
	logger *slog.Logger
}

// NewPreparer constructs the prepare stage handler.
func NewPreparer(cfg *config.Config, host imageUploader, logger *slog.Logger) *Preparer {
	p := &Preparer{cfg: cfg, host: host, logger: logging.NewComponentLogger(logger, "prepare")}
	p.grab = p.ffmpegGrab
	return p
}

// Prepare requires analyzed metadata when screenshots are enabled.
func (p *Preparer) Prepare(ctx context.Context, entry *queue.FileEntry) error {
	if !p.enabled() {
		return nil
	}
	_, err := stage.ParseMetadata(entry)
	return err
}

// Execute captures and uploads the configured number of screenshots.
func (p *Preparer) Execute(ctx context.Context, entry *queue.FileEntry, artifacts *queue.Artifacts) error {
	logger := logging.WithContext(ctx, p.logger)
	if !p.enabled() {
		logger.Debug("screenshots disabled, skipping")
		return nil
	}
	if !p.host.Configured() {
		return services.Wrap(services.ErrConfiguration, "prepare", "imagehost",
			"screenshots enabled but no image host configured", nil)
	}

	release, err := stage.ParseMetadata(entry)
	if err != nil {
		return err
	}
	duration := time.Duration(release.DurationSec) * time.Second
	if duration <= 0 {
		return services.Wrap(services.ErrValidation, "prepare", "duration",
			"media duration unknown, cannot place screenshots", nil)
	}

	workDir, err := os.MkdirTemp("", "spool-screens-")
	if err != nil {
		return services.Wrap(services.ErrInternalInvariant, "prepare", "tempdir", "", err)
	}
	defer os.RemoveAll(workDir)

	stem := strings.TrimSuffix(filepath.Base(entry.Path), filepath.Ext(entry.Path))
	offsets := screenshotOffsets(duration, p.cfg.Screenshots.Count)
	urls := make([]string, 0, len(offsets))
	for i, offset := range offsets {
		if err := ctx.Err(); err != nil {
			return services.Wrap(services.ErrCancelled, "prepare", "capture", "", err)
		}
		frame := filepath.Join(workDir, fmt.Sprintf("frame_%02d.png", i+1))
		if err := p.grab(ctx, entry.Path, offset, frame); err != nil {
			return err
		}
		data, err := os.ReadFile(frame)
		if err != nil {
			return services.Wrap(services.ErrInternalInvariant, "prepare", "capture", frame, err)
		}
		url, err := p.host.Upload(ctx, data, fmt.Sprintf("%s_%02d.png", stem, i+1))
		if err != nil {
			return err
		}
		urls = append(urls, url)
		logger.Debug("screenshot uploaded",
			logging.Duration("offset", offset),
			logging.String("url", url),
		)
	}

	artifacts.ScreenshotURLs = urls
	logger.Info("screenshots prepared", logging.Int("count", len(urls)))
	return nil
}

// HealthCheck verifies ffmpeg is reachable when the stage has work to do.
func (p *Preparer) HealthCheck(ctx context.Context) stage.Health {
	if !p.enabled() {
		return stage.Healthy("prepare")
	}
	if _, err := exec.LookPath(p.cfg.FFmpegBinary()); err != nil {
		return stage.Unhealthy("prepare", fmt.Sprintf("ffmpeg: %v", err))
	}
	if !p.host.Configured() {
		return stage.Unhealthy("prepare", "image host not configured")
	}
	return stage.Healthy("prepare")
}

func (p *Preparer) enabled() bool {
	return p.cfg.Screenshots.Enabled && p.cfg.Screenshots.Count > 0
}

// ffmpegGrab shells out to ffmpeg for one frame.
func (p *Preparer) ffmpegGrab(ctx context.Context, src string, offset time.Duration, dst string) error {
	cmd := exec.CommandContext(ctx, p.cfg.FFmpegBinary(),
		"-hide_banner", "-loglevel", "error",
		"-ss", fmt.Sprintf("%.3f", offset.Seconds()),
		"-i", src,
		"-frames:v", "1",
		"-q:v", "2",
		"-y", dst,
	)
	if err := cmd.Run(); err != nil {
		var execErr *exec.Error
		if errors.As(err, &execErr) && errors.Is(execErr.Err, exec.ErrNotFound) {
			return services.Wrap(services.ErrConfiguration, "prepare", "capture", "ffmpeg binary not found", err)
		}
		return services.Wrap(services.ErrValidation, "prepare", "capture",
			fmt.Sprintf("ffmpeg failed at %s", offset), err)
	}
	return nil
}

// screenshotOffsets spreads count timestamps across the runtime, away from
// the credits at both ends.
func screenshotOffsets(duration time.Duration, count int) []time.Duration {
	offsets := make([]time.Duration, 0, count)
	for i := 0; i < count; i++ {
		fraction := float64(i+1) / float64(count+1)
		offsets = append(offsets, time.Duration(float64(duration)*fraction))
	}
	return offsets
}
