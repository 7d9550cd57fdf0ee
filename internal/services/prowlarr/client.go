package prowlarr

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"golift.io/starr"
	"golift.io/starr/prowlarr"

	"spool/internal/logging"
	"spool/internal/services"
)

// Fetcher is the slice of golift.io/starr/prowlarr the client consumes.
// *prowlarr.Prowlarr satisfies it; tests substitute a fake.
type Fetcher interface {
	GetSystemStatusContext(ctx context.Context) (*prowlarr.SystemStatus, error)
	GetIndexersContext(ctx context.Context) ([]*prowlarr.IndexerOutput, error)
}

// Indexer is the local view of a Prowlarr indexer.
type Indexer struct {
	ID         int64
	Name       string
	Definition string
	Enabled    bool
	URLs       []string
}

// Hints describe the tracker a schema declares so it can be matched against
// the Prowlarr catalogue: any of a definition slug, a display name, or the
// tracker's upload host.
type Hints struct {
	Definition string
	Name       string
	Host       string
}

func (h Hints) empty() bool {
	return strings.TrimSpace(h.Definition) == "" &&
		strings.TrimSpace(h.Name) == "" &&
		strings.TrimSpace(h.Host) == ""
}

// Client wraps a Prowlarr instance for tracker cross-checks.
type Client struct {
	fetcher Fetcher
	logger  *slog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithFetcher replaces the underlying starr client.
func WithFetcher(fetcher Fetcher) Option {
	return func(c *Client) {
		if fetcher != nil {
			c.fetcher = fetcher
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New builds a Client for the Prowlarr instance at baseURL.
func New(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{logger: logging.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	if c.fetcher == nil && strings.TrimSpace(baseURL) != "" {
		c.fetcher = prowlarr.New(&starr.Config{URL: baseURL, APIKey: apiKey})
	}
	return c
}

// Configured reports whether a Prowlarr instance is wired.
func (c *Client) Configured() bool { return c.fetcher != nil }

// Ping verifies the instance answers and the api key is accepted.
func (c *Client) Ping(ctx context.Context) error {
	if !c.Configured() {
		return services.Wrap(services.ErrConfiguration, "prowlarr", "ping", "instance not configured", nil)
	}
	status, err := c.fetcher.GetSystemStatusContext(ctx)
	if err != nil {
		return services.Wrap(services.ErrExternalUnavailable, "prowlarr", "ping", "", err)
	}
	c.logger.Debug("prowlarr reachable", slog.String("version", status.Version))
	return nil
}

// Indexers lists the configured indexers.
func (c *Client) Indexers(ctx context.Context) ([]Indexer, error) {
	if !c.Configured() {
		return nil, services.Wrap(services.ErrConfiguration, "prowlarr", "indexers", "instance not configured", nil)
	}
	raw, err := c.fetcher.GetIndexersContext(ctx)
	if err != nil {
		return nil, services.Wrap(services.ErrExternalUnavailable, "prowlarr", "indexers", "", err)
	}
	out := make([]Indexer, 0, len(raw))
	for _, indexer := range raw {
		if indexer == nil {
			continue
		}
		out = append(out, Indexer{
			ID:         indexer.ID,
			Name:       indexer.Name,
			Definition: indexer.DefinitionName,
			Enabled:    indexer.Enable,
			URLs:       indexer.IndexerUrls,
		})
	}
	return out, nil
}

// MatchIndexer finds the Prowlarr indexer corresponding to the hints a
// tracker schema declares. Definition slugs match exactly, names match
// case-insensitively, and hosts match any indexer URL.
func (c *Client) MatchIndexer(ctx context.Context, hints Hints) (*Indexer, error) {
	if hints.empty() {
		return nil, services.Wrap(services.ErrValidation, "prowlarr", "match", "no hints provided", nil)
	}
	indexers, err := c.Indexers(ctx)
	if err != nil {
		return nil, err
	}

	definition := strings.ToLower(strings.TrimSpace(hints.Definition))
	name := strings.ToLower(strings.TrimSpace(hints.Name))
	host := strings.ToLower(strings.TrimSpace(hints.Host))

	for i := range indexers {
		indexer := &indexers[i]
		if definition != "" && strings.ToLower(indexer.Definition) == definition {
			return indexer, nil
		}
		if name != "" && strings.ToLower(indexer.Name) == name {
			return indexer, nil
		}
		if host != "" && indexerServesHost(indexer, host) {
			return indexer, nil
		}
	}
	return nil, services.Wrap(services.ErrNotFound, "prowlarr", "match",
		fmt.Sprintf("no indexer matches %s", describeHints(hints)), nil)
}

// TestIndexer verifies the matched indexer exists and is enabled. Used by
// the tracker test command to confirm the schema points at a live indexer.
func (c *Client) TestIndexer(ctx context.Context, hints Hints) (*Indexer, error) {
	if err := c.Ping(ctx); err != nil {
		return nil, err
	}
	indexer, err := c.MatchIndexer(ctx, hints)
	if err != nil {
		return nil, err
	}
	if !indexer.Enabled {
		return indexer, services.Wrap(services.ErrValidation, "prowlarr", "test",
			fmt.Sprintf("indexer %q is disabled", indexer.Name), nil)
	}
	return indexer, nil
}

func indexerServesHost(indexer *Indexer, host string) bool {
	for _, raw := range indexer.URLs {
		parsed, err := url.Parse(raw)
		if err != nil {
			continue
		}
		if strings.EqualFold(parsed.Host, host) || strings.EqualFold(strings.TrimPrefix(parsed.Host, "www."), host) {
			return true
		}
	}
	return false
}

func describeHints(hints Hints) string {
	parts := make([]string, 0, 3)
	if hints.Definition != "" {
		parts = append(parts, "definition="+hints.Definition)
	}
	if hints.Name != "" {
		parts = append(parts, "name="+hints.Name)
	}
	if hints.Host != "" {
		parts = append(parts, "host="+hints.Host)
	}
	return strings.Join(parts, " ")
}
