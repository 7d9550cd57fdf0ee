package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeServices(); err != nil {
		return err
	}
	if err := c.normalizeTrackers(); err != nil {
		return err
	}
	c.normalizeWorkflow()
	c.normalizeLogging()
	c.normalizeApproval()
	c.normalizeNaming()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.DatabaseURL, err = expandDatabaseURL(c.DatabaseURL); err != nil {
		return fmt.Errorf("database_url: %w", err)
	}
	if c.InputMediaPath, err = expandPath(c.InputMediaPath); err != nil {
		return fmt.Errorf("input_media_path: %w", err)
	}
	if c.OutputDir, err = expandPath(c.OutputDir); err != nil {
		return fmt.Errorf("output_dir: %w", err)
	}
	if strings.TrimSpace(c.LogDir) == "" {
		c.LogDir = defaultLogDir
	}
	if c.LogDir, err = expandPath(c.LogDir); err != nil {
		return fmt.Errorf("log_dir: %w", err)
	}
	c.APIBind = strings.TrimSpace(c.APIBind)
	if c.APIBind == "" {
		c.APIBind = defaultAPIBind
	}
	c.APIToken = strings.TrimSpace(c.APIToken)
	return nil
}

// expandDatabaseURL expands the path component while preserving an optional
// sqlite scheme prefix.
func expandDatabaseURL(value string) (string, error) {
	value = strings.TrimSpace(value)
	prefix := ""
	rest := value
	for _, p := range []string{"sqlite://", "sqlite:"} {
		if strings.HasPrefix(value, p) {
			prefix = p
			rest = strings.TrimPrefix(value, p)
			break
		}
	}
	expanded, err := expandPath(rest)
	if err != nil {
		return "", err
	}
	return prefix + expanded, nil
}

func (c *Config) normalizeServices() error {
	if c.TMDBAPIKey == "" {
		if value, ok := os.LookupEnv("TMDB_API_KEY"); ok {
			c.TMDBAPIKey = strings.TrimSpace(value)
		}
	}
	if c.TMDBCacheTTLDays <= 0 {
		c.TMDBCacheTTLDays = defaultTMDBCacheTTLDays
	}
	if c.WorkerConcurrency <= 0 {
		c.WorkerConcurrency = defaultWorkerConcurrency
	}
	c.TMDB.BaseURL = trimURL(c.TMDB.BaseURL, defaultTMDBBaseURL)
	c.TMDB.Language = strings.TrimSpace(c.TMDB.Language)
	if c.TMDB.Language == "" {
		c.TMDB.Language = defaultTMDBLanguage
	}
	c.FlareSolverrURL = trimURL(c.FlareSolverrURL, "")

	c.QBittorrent.URL = trimURL(c.QBittorrent.URL, "")
	if c.QBittorrent.Password == "" {
		if value, ok := os.LookupEnv("QBITTORRENT_PASSWORD"); ok {
			c.QBittorrent.Password = strings.TrimSpace(value)
		}
	}
	if strings.TrimSpace(c.QBittorrent.Category) == "" {
		c.QBittorrent.Category = defaultQBCategory
	}

	c.ImageHost.URL = trimURL(c.ImageHost.URL, "")
	if c.ImageHost.APIKey == "" {
		if value, ok := os.LookupEnv("IMAGEHOST_API_KEY"); ok {
			c.ImageHost.APIKey = strings.TrimSpace(value)
		}
	}

	c.Prowlarr.URL = trimURL(c.Prowlarr.URL, "")
	if c.Prowlarr.APIKey == "" {
		if value, ok := os.LookupEnv("PROWLARR_API_KEY"); ok {
			c.Prowlarr.APIKey = strings.TrimSpace(value)
		}
	}

	if c.Screenshots.Count <= 0 {
		c.Screenshots.Count = defaultScreenshotCount
	}

	c.Notifications.WebhookURL = strings.TrimSpace(c.Notifications.WebhookURL)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyTimeout
	}
	return nil
}

func (c *Config) normalizeTrackers() error {
	for i := range c.Trackers {
		t := &c.Trackers[i]
		t.SchemaPath = strings.TrimSpace(t.SchemaPath)
		if t.SchemaPath != "" {
			expanded, err := expandPath(t.SchemaPath)
			if err != nil {
				return fmt.Errorf("trackers[%d].schema_path: %w", i, err)
			}
			t.SchemaPath = expanded
		}
		t.APIKey = strings.TrimSpace(t.APIKey)
		t.Passkey = strings.TrimSpace(t.Passkey)
		t.Username = strings.TrimSpace(t.Username)
		t.Cookie = strings.TrimSpace(t.Cookie)
	}
	return nil
}

func (c *Config) normalizeWorkflow() {
	if c.Workflow.QueuePollInterval <= 0 {
		c.Workflow.QueuePollInterval = defaultQueuePollInterval
	}
	if c.Workflow.ErrorRetryInterval <= 0 {
		c.Workflow.ErrorRetryInterval = defaultErrorRetryInterval
	}
	if c.Workflow.HeartbeatInterval <= 0 {
		c.Workflow.HeartbeatInterval = defaultHeartbeatInterval
	}
	if c.Workflow.HeartbeatTimeout <= 0 {
		c.Workflow.HeartbeatTimeout = defaultHeartbeatTimeout
	}
	if c.Workflow.JobMaxAttempts <= 0 {
		c.Workflow.JobMaxAttempts = defaultJobMaxAttempts
	}
	if c.Workflow.StaleJobGrace <= 0 {
		c.Workflow.StaleJobGrace = defaultStaleJobGrace
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "auto":
		c.Logging.Format = "auto"
	case "console", "json":
	default:
		c.Logging.Format = "auto"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func (c *Config) normalizeApproval() {
	c.Approval.Mode = strings.ToLower(strings.TrimSpace(c.Approval.Mode))
	if c.Approval.Mode == "" {
		c.Approval.Mode = defaultApprovalMode
	}
}

func (c *Config) normalizeNaming() {
	c.Naming.ReleaseGroup = strings.TrimSpace(c.Naming.ReleaseGroup)
	if c.Naming.ReleaseGroup == "" {
		c.Naming.ReleaseGroup = defaultReleaseGroup
	}
}

func trimURL(value, fallback string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback
	}
	return strings.TrimRight(value, "/")
}
