// Package registry assembles the external-service clients once at daemon
// boot and hands them to the pipeline as one explicit bundle. Nothing in
// here is a global; every consumer receives the registry it should use.
package registry

import (
	"log/slog"
	"sync"

	"spool/internal/breaker"
	"spool/internal/config"
	"spool/internal/logging"
	"spool/internal/media"
	"spool/internal/ratelimit"
	"spool/internal/services/flaresolverr"
	"spool/internal/services/imagehost"
	"spool/internal/services/prowlarr"
	"spool/internal/services/qbittorrent"
	"spool/internal/services/tmdb"
)

// Registry carries the shared limiter, the per-dependency circuit breakers,
// and one client per external service. Clients for unconfigured services
// are present but report Configured() == false.
type Registry struct {
	Limiter      *ratelimit.Registry
	TMDB         *tmdb.Client
	Media        *media.Analyzer
	FlareSolverr *flaresolverr.Client
	QBittorrent  *qbittorrent.Client
	ImageHost    *imagehost.Client
	Prowlarr     *prowlarr.Client

	mu       sync.Mutex
	breakers map[string]*breaker.Breaker
}

// New wires the registry from config. The cache receives TMDB payloads; the
// queue store satisfies it.
func New(cfg *config.Config, cache tmdb.Cache, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = logging.NewNop()
	}

	limits := make(map[string]ratelimit.Limit, len(cfg.RateLimits))
	for key, limit := range cfg.RateLimits {
		limits[key] = ratelimit.Limit{Rate: limit.Rate, Burst: limit.Burst}
	}
	limiter, err := ratelimit.NewRegistry(limits)
	if err != nil {
		return nil, err
	}

	reg := &Registry{
		Limiter:  limiter,
		breakers: make(map[string]*breaker.Breaker),
	}

	reg.TMDB = tmdb.New(cfg.TMDB.BaseURL, cfg.TMDBAPIKey,
		tmdb.WithLanguage(cfg.TMDB.Language),
		tmdb.WithCache(cache, cfg.TMDBCacheTTL()),
		tmdb.WithLimiter(limiter),
		tmdb.WithLogger(logging.NewComponentLogger(logger, "tmdb")),
	)

	reg.Media = media.NewAnalyzer(cfg.FFprobeBinary())

	reg.FlareSolverr = flaresolverr.New(cfg.FlareSolverrURL,
		flaresolverr.WithBreaker(reg.Breaker("flaresolverr")),
		flaresolverr.WithLogger(logging.NewComponentLogger(logger, "flaresolverr")),
	)

	qbURL := ""
	if cfg.QBittorrent.Enabled {
		qbURL = cfg.QBittorrent.URL
	}
	reg.QBittorrent = qbittorrent.New(qbittorrent.Options{
		URL:          qbURL,
		Username:     cfg.QBittorrent.Username,
		Password:     cfg.QBittorrent.Password,
		Category:     cfg.QBittorrent.Category,
		LocalRoot:    cfg.OutputDir,
		RemoteRoot:   cfg.QBittorrent.ContentPath,
		SkipChecking: cfg.QBittorrent.SkipCheck(),
	}, qbittorrent.WithLogger(logging.NewComponentLogger(logger, "qbittorrent")))

	reg.ImageHost = imagehost.New(cfg.ImageHost.URL, cfg.ImageHost.APIKey,
		imagehost.WithLimiter(limiter),
		imagehost.WithLogger(logging.NewComponentLogger(logger, "imagehost")),
	)

	reg.Prowlarr = prowlarr.New(cfg.Prowlarr.URL, cfg.Prowlarr.APIKey,
		prowlarr.WithLogger(logging.NewComponentLogger(logger, "prowlarr")),
	)

	return reg, nil
}

// Breaker returns the circuit breaker for the named dependency, creating it
// closed on first use. Tracker adapters key theirs by slug.
func (r *Registry) Breaker(name string) *breaker.Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[name]
	if !ok {
		b = breaker.New(name)
		r.breakers[name] = b
	}
	return b
}
