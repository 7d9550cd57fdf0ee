package main

import (
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"spool/internal/api"
	"spool/internal/config"
	"spool/internal/queue"
	"spool/internal/queueaccess"
)

type commandContext struct {
	apiFlag    *string
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(apiFlag, configFlag *string) *commandContext {
	return &commandContext{
		apiFlag:    apiFlag,
		configFlag: configFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) configValue() *config.Config {
	cfg, _ := c.ensureConfig()
	return cfg
}

// apiClient returns a client for the daemon status API, honoring the --api
// override before the configured bind address.
func (c *commandContext) apiClient() *api.Client {
	bind := ""
	if c.apiFlag != nil {
		bind = strings.TrimSpace(*c.apiFlag)
	}
	cfg := c.configValue()
	token := ""
	if cfg != nil {
		if bind == "" {
			bind = strings.TrimSpace(cfg.APIBind)
		}
		token = cfg.APIToken
	}
	if bind == "" {
		return nil
	}
	return api.NewClient(bind, token)
}

func (c *commandContext) openStore() (*queue.Store, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return queue.Open(cfg)
}

// withSession runs fn against API-backed queue access when the daemon is
// reachable and direct store access otherwise.
func (c *commandContext) withSession(cmd *cobra.Command, fn func(queueaccess.Session) error) error {
	session, err := queueaccess.OpenWithFallback(cmd.Context(), c.apiClient(), c.openStore)
	if err != nil {
		return err
	}
	defer session.Close()
	return fn(session)
}

// withStore runs fn against a direct store session. Mutating commands use
// this because the status API is read-only.
func (c *commandContext) withStore(fn func(*queue.Store) error) error {
	session, err := queueaccess.OpenStore(c.openStore)
	if err != nil {
		return err
	}
	defer session.Close()
	return fn(session.Store)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
