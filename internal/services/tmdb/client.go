package tmdb

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"spool/internal/logging"
	"spool/internal/ratelimit"
	"spool/internal/services"
)

const defaultBaseURL = "https://api.themoviedb.org/3"

// Movie is the subset of a TMDB movie record the pipeline consumes. Search
// results carry genre_ids, full records carry genres; both land here.
type Movie struct {
	ID               int64   `json:"id"`
	IMDBID           string  `json:"imdb_id"`
	Title            string  `json:"title"`
	OriginalTitle    string  `json:"original_title"`
	OriginalLanguage string  `json:"original_language"`
	Overview         string  `json:"overview"`
	ReleaseDate      string  `json:"release_date"`
	Runtime          int     `json:"runtime"`
	VoteAverage      float64 `json:"vote_average"`
	Popularity       float64 `json:"popularity"`
	PosterPath       string  `json:"poster_path"`
	Genres           []Genre `json:"genres"`
	GenreIDs         []int64 `json:"genre_ids"`
}

// Genre is one TMDB genre assignment.
type Genre struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Year extracts the release year, or zero when the date is absent.
func (m *Movie) Year() int {
	if len(m.ReleaseDate) < 4 {
		return 0
	}
	year, err := strconv.Atoi(m.ReleaseDate[:4])
	if err != nil {
		return 0
	}
	return year
}

// GenreNames returns the genre names in TMDB order.
func (m *Movie) GenreNames() []string {
	if len(m.Genres) == 0 {
		return nil
	}
	names := make([]string, 0, len(m.Genres))
	for _, g := range m.Genres {
		names = append(names, g.Name)
	}
	return names
}

// Cache persists raw movie payloads between runs so repeated lookups of the
// same film skip the network.
type Cache interface {
	CachedTMDB(ctx context.Context, tmdbID int64, ttl time.Duration) ([]byte, bool, error)
	CacheTMDB(ctx context.Context, tmdbID int64, payload []byte) error
}

// Limiter paces outbound requests.
type Limiter interface {
	Wait(ctx context.Context, key string) error
}

// HTTPDoer abstracts http.Client.Do for testing.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// Client talks to the TMDB v3 API.
type Client struct {
	baseURL   string
	apiKey    string
	language  string
	client    HTTPDoer
	limiter   Limiter
	cache     Cache
	cacheTTL  time.Duration
	logger    *slog.Logger
	retryOpts []services.RetryOption
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP backend.
func WithHTTPClient(doer HTTPDoer) Option {
	return func(c *Client) {
		if doer != nil {
			c.client = doer
		}
	}
}

// WithLanguage sets the language parameter sent on every request.
func WithLanguage(lang string) Option {
	return func(c *Client) {
		if strings.TrimSpace(lang) != "" {
			c.language = lang
		}
	}
}

// WithCache enables the persistent payload cache with the given lifetime.
func WithCache(cache Cache, ttl time.Duration) Option {
	return func(c *Client) {
		c.cache = cache
		c.cacheTTL = ttl
	}
}

// WithLimiter paces requests through the given limiter.
func WithLimiter(limiter Limiter) Option {
	return func(c *Client) { c.limiter = limiter }
}

// WithLogger attaches a logger for cache and retry diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRetryOptions overrides the retry policy on network calls.
func WithRetryOptions(opts ...services.RetryOption) Option {
	return func(c *Client) { c.retryOpts = opts }
}

// New builds a TMDB client. An empty baseURL selects the public API.
func New(baseURL, apiKey string, opts ...Option) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultBaseURL
	}
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   strings.TrimSpace(apiKey),
		language: "en-US",
		client:   &http.Client{Timeout: 30 * time.Second},
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// MovieByID fetches one movie record, consulting the cache first. Cache
// writes are best effort; a failed write never fails the lookup.
func (c *Client) MovieByID(ctx context.Context, tmdbID int64) (*Movie, error) {
	if tmdbID <= 0 {
		return nil, services.Wrap(services.ErrValidation, "tmdb", "movie", fmt.Sprintf("invalid id %d", tmdbID), nil)
	}
	if c.cache != nil {
		payload, ok, err := c.cache.CachedTMDB(ctx, tmdbID, c.cacheTTL)
		if err != nil {
			c.logger.Warn("tmdb cache read failed", slog.Int64("tmdb_id", tmdbID), slog.String("error", err.Error()))
		} else if ok {
			var movie Movie
			if err := json.Unmarshal(payload, &movie); err == nil {
				c.logger.Debug("tmdb cache hit", slog.Int64("tmdb_id", tmdbID))
				return &movie, nil
			}
			c.logger.Warn("tmdb cache payload corrupt", slog.Int64("tmdb_id", tmdbID))
		}
	}

	path := fmt.Sprintf("/movie/%d", tmdbID)
	payload, err := c.get(ctx, "movie", path, nil)
	if err != nil {
		return nil, err
	}
	var movie Movie
	if err := json.Unmarshal(payload, &movie); err != nil {
		return nil, services.Wrap(services.ErrExternalUnavailable, "tmdb", "movie", "decode response", err)
	}
	if c.cache != nil {
		if err := c.cache.CacheTMDB(ctx, tmdbID, payload); err != nil {
			c.logger.Warn("tmdb cache write failed", slog.Int64("tmdb_id", tmdbID), slog.String("error", err.Error()))
		}
	}
	return &movie, nil
}

// SearchMovie queries by title, optionally pinned to a year. Results come
// back in TMDB relevance order; an empty slice means no match.
func (c *Client) SearchMovie(ctx context.Context, title string, year int) ([]Movie, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, services.Wrap(services.ErrValidation, "tmdb", "search", "empty title", nil)
	}
	query := url.Values{}
	query.Set("query", title)
	query.Set("include_adult", "false")
	if year > 0 {
		query.Set("year", strconv.Itoa(year))
	}

	payload, err := c.get(ctx, "search", "/search/movie", query)
	if err != nil {
		return nil, err
	}
	var result struct {
		Results []Movie `json:"results"`
	}
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, services.Wrap(services.ErrExternalUnavailable, "tmdb", "search", "decode response", err)
	}
	return result.Results, nil
}

// get performs one rate-limited, retried GET and returns the response body.
func (c *Client) get(ctx context.Context, operation, path string, query url.Values) ([]byte, error) {
	if c.apiKey == "" {
		return nil, services.Wrap(services.ErrConfiguration, "tmdb", operation, "api key not configured", nil)
	}
	if query == nil {
		query = url.Values{}
	}
	query.Set("language", c.language)

	// v4 read access tokens are JWTs and travel in the Authorization
	// header; classic v3 keys go in the query string.
	bearer := strings.HasPrefix(c.apiKey, "eyJ")
	if !bearer {
		query.Set("api_key", c.apiKey)
	}
	target := c.baseURL + path + "?" + query.Encode()

	var payload []byte
	fetch := func() error {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx, ratelimit.KeyTMDB); err != nil {
				return err
			}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return services.Wrap(services.ErrInternalInvariant, "tmdb", operation, "build request", err)
		}
		req.Header.Set("Accept", "application/json")
		if bearer {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return services.Wrap(services.ErrNetworkTransient, "tmdb", operation, "request failed", err)
		}
		defer resp.Body.Close()

		if statusErr := services.ErrorFromStatus("tmdb", operation, resp.StatusCode, services.ParseRetryAfter(resp.Header.Get("Retry-After"))); statusErr != nil {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			return statusErr
		}
		payload, err = io.ReadAll(resp.Body)
		if err != nil {
			return services.Wrap(services.ErrNetworkTransient, "tmdb", operation, "read response", err)
		}
		return nil
	}

	opts := append([]services.RetryOption{services.WithRetryLogger(c.logger)}, c.retryOpts...)
	if err := services.Retry(ctx, "tmdb."+operation, fetch, opts...); err != nil {
		return nil, err
	}
	return payload, nil
}
