package qbittorrent

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"strings"
	"sync"

	qbt "github.com/autobrr/go-qbittorrent"

	"spool/internal/logging"
	"spool/internal/services"
)

// Engine is the slice of go-qbittorrent the injector needs. *qbt.Client
// satisfies it; tests substitute a fake.
type Engine interface {
	LoginCtx(ctx context.Context) error
	AddTorrentFromMemoryCtx(ctx context.Context, buf []byte, options map[string]string) error
	GetTorrentsCtx(ctx context.Context, o qbt.TorrentFilterOptions) ([]qbt.Torrent, error)
	AddTagsCtx(ctx context.Context, hashes []string, tags string) error
	GetWebAPIVersionCtx(ctx context.Context) (string, error)
}

// Options wires the client to one qBittorrent instance.
type Options struct {
	URL      string
	Username string
	Password string

	// Category applied to every injected torrent.
	Category string
	// LocalRoot is the media root as the daemon sees it; RemoteRoot is the
	// same directory as qBittorrent sees it. Save paths under LocalRoot are
	// rewritten onto RemoteRoot before injection. Empty roots disable the
	// rewrite.
	LocalRoot  string
	RemoteRoot string
	// SkipChecking skips the hash re-check on injection. The pipeline just
	// wrote the payload files, so this defaults on at the config layer.
	SkipChecking bool
}

// Client injects finished uploads into qBittorrent for seeding.
type Client struct {
	engine Engine
	opts   Options
	logger *slog.Logger

	mu       sync.Mutex
	loggedIn bool
}

// Option customizes a Client.
type Option func(*Client)

// WithEngine replaces the underlying go-qbittorrent client.
func WithEngine(engine Engine) Option {
	return func(c *Client) {
		if engine != nil {
			c.engine = engine
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

// New builds a Client for the instance described by opts.
func New(opts Options, clientOpts ...Option) *Client {
	c := &Client{
		opts:   opts,
		logger: logging.NewNop(),
	}
	for _, opt := range clientOpts {
		opt(c)
	}
	if c.engine == nil {
		c.engine = qbt.NewClient(qbt.Config{
			Host:     opts.URL,
			Username: opts.Username,
			Password: opts.Password,
		})
	}
	return c
}

// Configured reports whether an instance URL was supplied.
func (c *Client) Configured() bool { return strings.TrimSpace(c.opts.URL) != "" }

// Login authenticates once and remembers the session. Safe to call before
// every operation.
func (c *Client) Login(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loggedIn {
		return nil
	}
	if err := c.engine.LoginCtx(ctx); err != nil {
		return services.Wrap(services.ErrAuthRejected, "qbittorrent", "login", "", err)
	}
	c.loggedIn = true
	return nil
}

// MapSavePath rewrites a daemon-local directory onto the volume qBittorrent
// mounts. Paths outside LocalRoot pass through unchanged.
func (c *Client) MapSavePath(localDir string) string {
	local := strings.TrimSpace(c.opts.LocalRoot)
	remote := strings.TrimSpace(c.opts.RemoteRoot)
	if local == "" || remote == "" {
		return localDir
	}
	rel, err := filepath.Rel(local, localDir)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return localDir
	}
	if rel == "." {
		return remote
	}
	return path.Join(remote, filepath.ToSlash(rel))
}

// Tag derives the injection tag for a tracker slug.
func Tag(trackerSlug string) string {
	return strings.ToUpper(strings.TrimSpace(trackerSlug))
}

// AddTorrent injects torrent bytes seeding the payload at localDir. When the
// torrent is already in the session the injection degrades to tagging the
// existing torrent by infohash.
func (c *Client) AddTorrent(ctx context.Context, torrent []byte, infohash, localDir, trackerSlug string) error {
	if err := c.Login(ctx); err != nil {
		return err
	}

	options := map[string]string{
		"savepath": c.MapSavePath(localDir),
		"autoTMM":  "false",
	}
	if c.opts.Category != "" {
		options["category"] = c.opts.Category
	}
	if c.opts.SkipChecking {
		options["skip_checking"] = "true"
	}
	if tag := Tag(trackerSlug); tag != "" {
		options["tags"] = tag
	}

	err := c.engine.AddTorrentFromMemoryCtx(ctx, torrent, options)
	if err == nil {
		c.logger.Info("torrent injected for seeding",
			slog.String("tracker", trackerSlug),
			slog.String("save_path", options["savepath"]),
		)
		return nil
	}
	if isAlreadyInSession(err) {
		c.logger.Debug("torrent already in session, tagging instead",
			slog.String("infohash", infohash),
			slog.String("tracker", trackerSlug),
		)
		return c.EnsureTagged(ctx, infohash, trackerSlug)
	}
	return services.Wrap(services.ErrExternalUnavailable, "qbittorrent", "add", "", err)
}

func isAlreadyInSession(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already in") || strings.Contains(msg, "already exists")
}

// EnsureTagged adds the tracker tag to an existing torrent.
func (c *Client) EnsureTagged(ctx context.Context, infohash, trackerSlug string) error {
	if err := c.Login(ctx); err != nil {
		return err
	}
	tag := Tag(trackerSlug)
	if infohash == "" || tag == "" {
		return services.Wrap(services.ErrValidation, "qbittorrent", "tag", "infohash and tracker required", nil)
	}
	if err := c.engine.AddTagsCtx(ctx, []string{strings.ToLower(infohash)}, tag); err != nil {
		return services.Wrap(services.ErrExternalUnavailable, "qbittorrent", "tag", fmt.Sprintf("tag %s", tag), err)
	}
	return nil
}

// TorrentsByCategory lists the session torrents in the injection category.
func (c *Client) TorrentsByCategory(ctx context.Context, category string) ([]qbt.Torrent, error) {
	if err := c.Login(ctx); err != nil {
		return nil, err
	}
	if category == "" {
		category = c.opts.Category
	}
	torrents, err := c.engine.GetTorrentsCtx(ctx, qbt.TorrentFilterOptions{Category: category})
	if err != nil {
		return nil, services.Wrap(services.ErrExternalUnavailable, "qbittorrent", "list", "", err)
	}
	return torrents, nil
}

// Healthy checks connectivity by logging in and reading the WebAPI version.
func (c *Client) Healthy(ctx context.Context) error {
	if err := c.Login(ctx); err != nil {
		return err
	}
	if _, err := c.engine.GetWebAPIVersionCtx(ctx); err != nil {
		return services.Wrap(services.ErrExternalUnavailable, "qbittorrent", "health", "webapi version", err)
	}
	return nil
}
