package flaresolverr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"spool/internal/breaker"
	"spool/internal/logging"
	"spool/internal/services"
)

const (
	defaultMaxTimeout = 60 * time.Second
	defaultSessionTTL = 10 * time.Minute
)

// Cookie is one cookie from a solved challenge.
type Cookie struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Domain string `json:"domain"`
	Path   string `json:"path"`
}

// Session is the clearance material for one protected host: the cookies the
// challenge produced and the user agent they are bound to. Requests must send
// both or the clearance is rejected.
type Session struct {
	Cookies   []Cookie
	UserAgent string
	FetchedAt time.Time
}

// CookieHeader renders the cookies as a Cookie request header value.
func (s *Session) CookieHeader() string {
	parts := make([]string, 0, len(s.Cookies))
	for _, c := range s.Cookies {
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}

// HTTPDoer abstracts http.Client.Do for testing.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// Client drives a FlareSolverr instance. Solved sessions are cached per
// target host so one clearance covers every request to that tracker until
// it ages out.
type Client struct {
	endpoint   string
	client     HTTPDoer
	circuit    *breaker.Breaker
	maxTimeout time.Duration
	sessionTTL time.Duration
	logger     *slog.Logger
	now        func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
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

// WithBreaker guards solve calls with the given circuit breaker.
func WithBreaker(b *breaker.Breaker) Option {
	return func(c *Client) {
		if b != nil {
			c.circuit = b
		}
	}
}

// WithSessionTTL sets how long solved sessions are reused.
func WithSessionTTL(ttl time.Duration) Option {
	return func(c *Client) {
		if ttl > 0 {
			c.sessionTTL = ttl
		}
	}
}

// WithMaxTimeout bounds how long FlareSolverr may spend on one challenge.
func WithMaxTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.maxTimeout = d
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

// WithClock replaces the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// New builds a client for the FlareSolverr endpoint, e.g.
// "http://localhost:8191".
func New(endpoint string, opts ...Option) *Client {
	c := &Client{
		endpoint:   strings.TrimRight(strings.TrimSpace(endpoint), "/"),
		client:     &http.Client{Timeout: 2 * defaultMaxTimeout},
		circuit:    breaker.New("flaresolverr"),
		maxTimeout: defaultMaxTimeout,
		sessionTTL: defaultSessionTTL,
		logger:     logging.NewNop(),
		now:        time.Now,
		sessions:   make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured reports whether an endpoint was supplied.
func (c *Client) Configured() bool { return c.endpoint != "" }

type solveRequest struct {
	Cmd        string `json:"cmd"`
	URL        string `json:"url"`
	MaxTimeout int64  `json:"maxTimeout"`
}

type solveResponse struct {
	Status   string `json:"status"`
	Message  string `json:"message"`
	Solution struct {
		URL       string   `json:"url"`
		Status    int      `json:"status"`
		Cookies   []Cookie `json:"cookies"`
		UserAgent string   `json:"userAgent"`
	} `json:"solution"`
}

// Session returns clearance material for the target URL's host, solving a
// fresh challenge only when no cached session is young enough.
func (c *Client) Session(ctx context.Context, targetURL string) (*Session, error) {
	if !c.Configured() {
		return nil, services.Wrap(services.ErrConfiguration, "flaresolverr", "session", "endpoint not configured", nil)
	}
	parsed, err := url.Parse(targetURL)
	if err != nil || parsed.Host == "" {
		return nil, services.Wrap(services.ErrValidation, "flaresolverr", "session", fmt.Sprintf("invalid target url %q", targetURL), err)
	}
	host := parsed.Host

	if session := c.cached(host); session != nil {
		return session, nil
	}

	var session *Session
	err = c.circuit.Do(ctx, func() error {
		solved, solveErr := c.solve(ctx, targetURL)
		if solveErr != nil {
			return solveErr
		}
		session = solved
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.sessions[host] = session
	c.mu.Unlock()
	c.logger.Debug("cloudflare challenge solved",
		slog.String("host", host),
		slog.Int("cookies", len(session.Cookies)),
	)
	return session, nil
}

// Invalidate drops the cached session for the target URL's host, forcing the
// next Session call to solve again. Used when a tracker rejects clearance
// cookies that have gone stale server-side.
func (c *Client) Invalidate(targetURL string) {
	parsed, err := url.Parse(targetURL)
	if err != nil || parsed.Host == "" {
		return
	}
	c.mu.Lock()
	delete(c.sessions, parsed.Host)
	c.mu.Unlock()
}

func (c *Client) cached(host string) *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	session, ok := c.sessions[host]
	if !ok {
		return nil
	}
	if c.now().Sub(session.FetchedAt) > c.sessionTTL {
		delete(c.sessions, host)
		return nil
	}
	return session
}

func (c *Client) solve(ctx context.Context, targetURL string) (*Session, error) {
	body, err := json.Marshal(solveRequest{
		Cmd:        "request.get",
		URL:        targetURL,
		MaxTimeout: c.maxTimeout.Milliseconds(),
	})
	if err != nil {
		return nil, services.Wrap(services.ErrInternalInvariant, "flaresolverr", "solve", "marshal request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/v1", bytes.NewReader(body))
	if err != nil {
		return nil, services.Wrap(services.ErrInternalInvariant, "flaresolverr", "solve", "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, services.Wrap(services.ErrExternalUnavailable, "flaresolverr", "solve", "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, services.Wrap(services.ErrExternalUnavailable, "flaresolverr", "solve", fmt.Sprintf("HTTP %d", resp.StatusCode), nil)
	}

	var solved solveResponse
	if err := json.NewDecoder(resp.Body).Decode(&solved); err != nil {
		return nil, services.Wrap(services.ErrExternalUnavailable, "flaresolverr", "solve", "decode response", err)
	}
	if solved.Status != "ok" {
		return nil, services.Wrap(services.ErrExternalUnavailable, "flaresolverr", "solve",
			fmt.Sprintf("challenge not solved: %s", strings.TrimSpace(solved.Message)), nil)
	}

	return &Session{
		Cookies:   solved.Solution.Cookies,
		UserAgent: solved.Solution.UserAgent,
		FetchedAt: c.now(),
	}, nil
}

// Healthy checks that the FlareSolverr endpoint answers its index route.
func (c *Client) Healthy(ctx context.Context) error {
	if !c.Configured() {
		return services.Wrap(services.ErrConfiguration, "flaresolverr", "health", "endpoint not configured", nil)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/", nil)
	if err != nil {
		return services.Wrap(services.ErrInternalInvariant, "flaresolverr", "health", "build request", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return services.Wrap(services.ErrExternalUnavailable, "flaresolverr", "health", "request failed", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= 400 {
		return services.Wrap(services.ErrExternalUnavailable, "flaresolverr", "health", fmt.Sprintf("HTTP %d", resp.StatusCode), nil)
	}
	return nil
}
