package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateTMDB(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateRateLimits(); err != nil {
		return err
	}
	if err := c.validateTrackers(); err != nil {
		return err
	}
	if err := c.validateServices(); err != nil {
		return err
	}
	if err := c.validateApproval(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.DatabasePath()) == "" {
		return errors.New("database_url must be set")
	}
	if strings.TrimSpace(c.InputMediaPath) == "" {
		return errors.New("input_media_path must be set")
	}
	if strings.TrimSpace(c.OutputDir) == "" {
		return errors.New("output_dir must be set")
	}
	if c.InputMediaPath == c.OutputDir {
		return errors.New("input_media_path and output_dir must differ")
	}
	return nil
}

func (c *Config) validateTMDB() error {
	if c.TMDBAPIKey == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/spool/config.toml"
		}
		return fmt.Errorf("tmdb_api_key is required. Set TMDB_API_KEY env var or edit %s (create with 'spool config init')", defaultPath)
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if err := ensurePositiveMap(map[string]int{
		"worker_concurrency":            c.WorkerConcurrency,
		"tmdb_cache_ttl_days":           c.TMDBCacheTTLDays,
		"workflow.queue_poll_interval":  c.Workflow.QueuePollInterval,
		"workflow.error_retry_interval": c.Workflow.ErrorRetryInterval,
		"workflow.job_max_attempts":     c.Workflow.JobMaxAttempts,
		"workflow.stale_job_grace":      c.Workflow.StaleJobGrace,
		"notifications.request_timeout": c.Notifications.RequestTimeout,
	}); err != nil {
		return err
	}
	if c.Workflow.HeartbeatInterval <= 0 {
		return errors.New("workflow.heartbeat_interval must be positive")
	}
	if c.Workflow.HeartbeatTimeout <= 0 {
		return errors.New("workflow.heartbeat_timeout must be positive")
	}
	if c.Workflow.HeartbeatTimeout <= c.Workflow.HeartbeatInterval {
		return errors.New("workflow.heartbeat_timeout must be greater than workflow.heartbeat_interval")
	}
	return nil
}

func (c *Config) validateRateLimits() error {
	for key, limit := range c.RateLimits {
		if limit.Rate <= 0 {
			return fmt.Errorf("rate_limits.%s.rate must be positive", key)
		}
		if limit.Burst <= 0 {
			return fmt.Errorf("rate_limits.%s.burst must be positive", key)
		}
	}
	return nil
}

func (c *Config) validateTrackers() error {
	for i, t := range c.Trackers {
		if t.SchemaPath == "" {
			return fmt.Errorf("trackers[%d].schema_path must be set", i)
		}
	}
	return nil
}

func (c *Config) validateServices() error {
	if c.QBittorrent.Enabled && strings.TrimSpace(c.QBittorrent.URL) == "" {
		return errors.New("qbittorrent.url must be set when qbittorrent.enabled is true")
	}
	if c.Screenshots.Enabled && strings.TrimSpace(c.ImageHost.URL) == "" {
		return errors.New("imagehost.url must be set when screenshots.enabled is true")
	}
	if strings.TrimSpace(c.Prowlarr.URL) != "" && strings.TrimSpace(c.Prowlarr.APIKey) == "" {
		return errors.New("prowlarr.api_key must be set when prowlarr.url is set")
	}
	return nil
}

func (c *Config) validateApproval() error {
	switch c.Approval.Mode {
	case ApprovalAuto, ApprovalHold:
		return nil
	default:
		return fmt.Errorf("approval.mode must be %q or %q", ApprovalAuto, ApprovalHold)
	}
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
