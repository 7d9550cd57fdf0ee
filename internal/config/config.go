package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// RateLimit overrides one token bucket: steady rate in requests per second
// and burst capacity.
type RateLimit struct {
	Rate  float64 `toml:"rate"`
	Burst int     `toml:"burst"`
}

// Tracker wires one tracker schema into the pipeline: where the declarative
// schema lives plus the runtime credentials the schema placeholders consume.
type Tracker struct {
	SchemaPath      string `toml:"schema_path"`
	APIKey          string `toml:"api_key"`
	Passkey         string `toml:"passkey"`
	Username        string `toml:"username"`
	Password        string `toml:"password"`
	Cookie          string `toml:"cookie"`
	Enabled         *bool  `toml:"enabled"`
	SkipOnDuplicate *bool  `toml:"skip_on_duplicate"`
}

// IsEnabled reports whether the tracker participates in Generate and Upload.
// Trackers are enabled unless switched off explicitly.
func (t Tracker) IsEnabled() bool { return t.Enabled == nil || *t.Enabled }

// SkipDuplicates reports the duplicate policy: record SKIPPED_DUPLICATE and
// move on (default) versus attempting the upload anyway.
func (t Tracker) SkipDuplicates() bool { return t.SkipOnDuplicate == nil || *t.SkipOnDuplicate }

// TMDB tunes the metadata lookups beyond the top-level api key.
type TMDB struct {
	BaseURL  string `toml:"base_url"`
	Language string `toml:"language"`
}

// QBittorrent configures post-upload seeding injection.
type QBittorrent struct {
	Enabled      bool   `toml:"enabled"`
	URL          string `toml:"url"`
	Username     string `toml:"username"`
	Password     string `toml:"password"`
	Category     string `toml:"category"`
	ContentPath  string `toml:"content_path"`
	SkipChecking *bool  `toml:"skip_checking"`
}

// SkipCheck reports whether injected torrents skip hash re-checking. The
// output files were just written by the pipeline, so this defaults on.
func (q QBittorrent) SkipCheck() bool { return q.SkipChecking == nil || *q.SkipChecking }

// ImageHost configures screenshot uploads.
type ImageHost struct {
	URL    string `toml:"url"`
	APIKey string `toml:"api_key"`
}

// Prowlarr configures the optional indexer cross-checks.
type Prowlarr struct {
	URL    string `toml:"url"`
	APIKey string `toml:"api_key"`
}

// Screenshots configures the Prepare stage captures.
type Screenshots struct {
	Enabled bool `toml:"enabled"`
	Count   int  `toml:"count"`
}

// Approval selects how entries pass the Approve stage: "auto" approves
// immediately, "hold" parks entries until an operator approves them.
type Approval struct {
	Mode string `toml:"mode"`
}

// Notifications configures the outbound event webhook.
type Notifications struct {
	WebhookURL     string `toml:"webhook_url"`
	RequestTimeout int    `toml:"request_timeout"`
	Uploads        bool   `toml:"uploads"`
	Failures       bool   `toml:"failures"`
	Duplicates     bool   `toml:"duplicates"`
	Batches        bool   `toml:"batches"`
}

// Workflow contains daemon timing and retry budgets. Intervals are seconds.
type Workflow struct {
	QueuePollInterval  int `toml:"queue_poll_interval"`
	ErrorRetryInterval int `toml:"error_retry_interval"`
	HeartbeatInterval  int `toml:"heartbeat_interval"`
	HeartbeatTimeout   int `toml:"heartbeat_timeout"`
	JobMaxAttempts     int `toml:"job_max_attempts"`
	StaleJobGrace      int `toml:"stale_job_grace"`
}

// Logging contains log output configuration.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Naming tunes release-name construction.
type Naming struct {
	ReleaseGroup string `toml:"release_group"`
}

// Config encapsulates all configuration values for Spool.
//
// The top-level keys are the core contract: database location, media roots,
// worker parallelism, external service endpoints, rate-limit overrides, and
// the tracker list. Sections cover one collaborator each.
type Config struct {
	DatabaseURL       string `toml:"database_url"`
	InputMediaPath    string `toml:"input_media_path"`
	OutputDir         string `toml:"output_dir"`
	LogDir            string `toml:"log_dir"`
	APIBind           string `toml:"api_bind"`
	APIToken          string `toml:"api_token"`
	WorkerConcurrency int    `toml:"worker_concurrency"`
	FlareSolverrURL   string `toml:"flaresolverr_url"`
	TMDBAPIKey        string `toml:"tmdb_api_key"`
	TMDBCacheTTLDays  int    `toml:"tmdb_cache_ttl_days"`

	RateLimits map[string]RateLimit `toml:"rate_limits"`
	Trackers   []Tracker            `toml:"trackers"`

	TMDB          TMDB          `toml:"tmdb"`
	QBittorrent   QBittorrent   `toml:"qbittorrent"`
	ImageHost     ImageHost     `toml:"imagehost"`
	Prowlarr      Prowlarr      `toml:"prowlarr"`
	Screenshots   Screenshots   `toml:"screenshots"`
	Approval      Approval      `toml:"approval"`
	Notifications Notifications `toml:"notifications"`
	Workflow      Workflow      `toml:"workflow"`
	Logging       Logging       `toml:"logging"`
	Naming        Naming        `toml:"naming"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/spool/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("spool.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
// The input directory is created on a best-effort basis so the daemon can
// start while external storage is temporarily unavailable.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.OutputDir, c.LogDir, filepath.Dir(c.DatabasePath()), c.TorrentDir()}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if strings.TrimSpace(c.InputMediaPath) != "" {
		_ = os.MkdirAll(c.InputMediaPath, 0o755)
	}
	return nil
}

// DatabasePath returns the SQLite file path behind database_url. A
// "sqlite://" or "sqlite:" scheme prefix is accepted and stripped.
func (c *Config) DatabasePath() string {
	path := strings.TrimSpace(c.DatabaseURL)
	path = strings.TrimPrefix(path, "sqlite://")
	path = strings.TrimPrefix(path, "sqlite:")
	return path
}

// TorrentDir returns the directory that Generate writes .torrent files to.
func (c *Config) TorrentDir() string {
	return filepath.Join(c.OutputDir, "torrents")
}

// TMDBCacheTTL returns the metadata cache lifetime.
func (c *Config) TMDBCacheTTL() time.Duration {
	return time.Duration(c.TMDBCacheTTLDays) * 24 * time.Hour
}

// FFprobeBinary returns the ffprobe executable name used for media analysis.
func (c *Config) FFprobeBinary() string {
	return "ffprobe"
}

// FFmpegBinary returns the ffmpeg executable name used for screenshots.
func (c *Config) FFmpegBinary() string {
	return "ffmpeg"
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	sample := sampleConfig

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sample), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
