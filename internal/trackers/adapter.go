package trackers

import (
	"context"
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
	"spool/internal/ratelimit"
	"spool/internal/services"
	"spool/internal/services/flaresolverr"
)

const (
	defaultRequestTimeout = 30 * time.Second
	defaultUploadTimeout  = 10 * time.Minute
	maxResponseBytes      = 4 << 20
)

// Adapter executes authenticate/search/upload against one tracker, driven
// entirely by its schema. One adapter exists per enabled tracker and is safe
// for concurrent use.
type Adapter struct {
	schema  *Schema
	creds   Credentials
	client  HTTPDoer
	limiter Limiter
	circuit *breaker.Breaker
	solver  Solver
	logger  *slog.Logger
	now     func() time.Time

	uploadTimeout time.Duration

	mu            sync.Mutex
	authenticated bool
	clearance     *flaresolverr.Session

	dynamic *dynamicCache
}

// AdapterOption configures optional adapter behavior.
type AdapterOption func(*Adapter)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(doer HTTPDoer) AdapterOption {
	return func(a *Adapter) {
		if doer != nil {
			a.client = doer
		}
	}
}

// WithLimiter paces search and upload calls through the shared registry.
func WithLimiter(limiter Limiter) AdapterOption {
	return func(a *Adapter) { a.limiter = limiter }
}

// WithBreaker guards Cloudflare-protected calls with a circuit breaker.
func WithBreaker(b *breaker.Breaker) AdapterOption {
	return func(a *Adapter) { a.circuit = b }
}

// WithSolver supplies the Cloudflare clearance client.
func WithSolver(solver Solver) AdapterOption {
	return func(a *Adapter) { a.solver = solver }
}

// WithLogger attaches a structured logger.
func WithLogger(logger *slog.Logger) AdapterOption {
	return func(a *Adapter) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithUploadTimeout overrides the upload request timeout.
func WithUploadTimeout(d time.Duration) AdapterOption {
	return func(a *Adapter) {
		if d > 0 {
			a.uploadTimeout = d
		}
	}
}

// WithClock injects a time source for tests.
func WithClock(now func() time.Time) AdapterOption {
	return func(a *Adapter) {
		if now != nil {
			a.now = now
		}
	}
}

// NewAdapter binds a validated schema to credentials.
func NewAdapter(schema *Schema, creds Credentials, opts ...AdapterOption) *Adapter {
	a := &Adapter{
		schema:        schema,
		creds:         creds,
		client:        &http.Client{Timeout: defaultRequestTimeout},
		logger:        logging.NewNop(),
		now:           time.Now,
		uploadTimeout: defaultUploadTimeout,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With(logging.String(logging.FieldTracker, schema.Tracker.Slug))
	a.dynamic = newDynamicCache(a)
	return a
}

// Schema exposes the bound schema for callers that need piece strategy,
// categories, or the sanitize pipeline.
func (a *Adapter) Schema() *Schema { return a.schema }

// Slug is the tracker's identity in results, limiter keys, and logs.
func (a *Adapter) Slug() string { return a.schema.Tracker.Slug }

// Name is the tracker's display name.
func (a *Adapter) Name() string { return a.schema.Tracker.Name }

// AnnounceURL renders the tracker's announce endpoint for torrent metainfo.
func (a *Adapter) AnnounceURL() string {
	return interpolate(a.schema.AnnounceURLTemplate, map[string]string{
		"base_url": a.schema.Tracker.BaseURL,
		"passkey":  a.creds.Passkey,
		"api_key":  a.creds.APIKey,
	})
}

// Authenticate prepares the session: Cloudflare clearance when the schema
// declares it, then a credential probe against the authenticate endpoint if
// one is configured. Safe to call repeatedly; an established session is kept.
func (a *Adapter) Authenticate(ctx context.Context) error {
	a.mu.Lock()
	if a.authenticated {
		a.mu.Unlock()
		return nil
	}
	a.mu.Unlock()

	if a.schema.Cloudflare.Enabled {
		if a.solver == nil {
			return services.Wrap(services.ErrConfiguration, a.Slug(), "authenticate",
				"schema requires cloudflare clearance but no solver is configured", nil)
		}
		session, err := a.solver.Session(ctx, a.schema.Tracker.BaseURL)
		if err != nil {
			return err
		}
		a.mu.Lock()
		a.clearance = session
		a.mu.Unlock()
	}

	switch a.schema.Auth.Type {
	case AuthBearer, AuthAPIKey:
		if a.creds.key() == "" {
			return services.Wrap(services.ErrAuthRejected, a.Slug(), "authenticate", "api key required", nil)
		}
	case AuthPasskey:
		if len(strings.TrimSpace(a.creds.Passkey)) < minPasskeyLength {
			return services.Wrap(services.ErrAuthRejected, a.Slug(), "authenticate",
				fmt.Sprintf("passkey shorter than %d characters", minPasskeyLength), nil)
		}
	case AuthCookie:
		if strings.TrimSpace(a.creds.Cookie) == "" && !a.schema.Cloudflare.Enabled {
			return services.Wrap(services.ErrAuthRejected, a.Slug(), "authenticate", "session cookie required", nil)
		}
	}

	if endpoint, ok := a.schema.Endpoints["authenticate"]; ok {
		if err := a.verifyCredentials(ctx, endpoint); err != nil {
			return err
		}
	}

	a.mu.Lock()
	a.authenticated = true
	a.mu.Unlock()
	a.logger.Debug("tracker session established")
	return nil
}

func (a *Adapter) verifyCredentials(ctx context.Context, endpoint Endpoint) error {
	var verifyErr error
	err := services.Retry(ctx, "tracker authenticate", func() error {
		reply, err := a.do(ctx, endpoint, nil, nil, defaultRequestTimeout)
		if err != nil {
			return err
		}
		verifyErr = services.ErrorFromStatus(a.Slug(), "authenticate", reply.StatusCode, reply.retryAfter())
		if verifyErr != nil && services.IsRetryable(verifyErr) {
			return verifyErr
		}
		return nil
	}, services.WithRetryLogger(a.logger))
	if err != nil {
		return err
	}
	return verifyErr
}

// InvalidateSession drops the cached clearance and authentication state so
// the next call re-establishes both.
func (a *Adapter) InvalidateSession() {
	a.mu.Lock()
	a.authenticated = false
	a.clearance = nil
	a.mu.Unlock()
	if a.solver != nil && a.schema.Cloudflare.Enabled {
		a.solver.Invalidate(a.schema.Tracker.BaseURL)
	}
}

// buildURL joins an endpoint template onto the tracker base URL and
// substitutes placeholders. Absolute URLs pass through.
func (a *Adapter) buildURL(endpoint Endpoint) string {
	raw := interpolate(endpoint.URL, map[string]string{
		"base_url": a.schema.Tracker.BaseURL,
		"passkey":  a.creds.Passkey,
		"api_key":  a.creds.APIKey,
	})
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return raw
	}
	if !strings.HasPrefix(raw, "/") {
		raw = "/" + raw
	}
	return a.schema.Tracker.BaseURL + raw
}

// applyAuth decorates a request with the schema's credential transport.
func (a *Adapter) applyAuth(req *http.Request) {
	switch a.schema.Auth.Type {
	case AuthBearer:
		header := a.schema.Auth.Header
		if header == "" {
			header = "Authorization"
		}
		prefix := a.schema.Auth.Prefix
		if prefix == "" {
			prefix = "Bearer "
		}
		req.Header.Set(header, prefix+a.creds.key())
	case AuthAPIKey:
		header := a.schema.Auth.Header
		if header == "" {
			header = "X-API-Key"
		}
		req.Header.Set(header, a.creds.key())
	case AuthPasskey:
		param := a.schema.Auth.PasskeyParam
		if param == "" {
			param = "passkey"
		}
		query := req.URL.Query()
		query.Set(param, a.creds.Passkey)
		req.URL.RawQuery = query.Encode()
	case AuthCookie:
		if cookie := strings.TrimSpace(a.creds.Cookie); cookie != "" {
			req.Header.Set("Cookie", cookie)
		}
	}

	a.mu.Lock()
	clearance := a.clearance
	a.mu.Unlock()
	if clearance != nil {
		if existing := req.Header.Get("Cookie"); existing != "" {
			req.Header.Set("Cookie", existing+"; "+clearance.CookieHeader())
		} else {
			req.Header.Set("Cookie", clearance.CookieHeader())
		}
		req.Header.Set("User-Agent", clearance.UserAgent)
	}
}

// httpReply is a fully buffered response. The body is read before do
// returns because the per-request timeout context is cancelled on return,
// and a cancelled context aborts in-flight body reads.
type httpReply struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// retryAfter reads the reply's Retry-After header.
func (r *httpReply) retryAfter() time.Duration {
	return services.ParseRetryAfter(r.Header.Get("Retry-After"))
}

// do issues one request against an endpoint, guarded by the breaker when the
// tracker sits behind Cloudflare. Transport failures come back classified.
func (a *Adapter) do(ctx context.Context, endpoint Endpoint, query url.Values, body *requestBody, timeout time.Duration) (*httpReply, error) {
	method := strings.ToUpper(strings.TrimSpace(endpoint.Method))
	if method == "" {
		method = http.MethodGet
		if body != nil {
			method = http.MethodPost
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	target := a.buildURL(endpoint)
	var reader io.Reader
	if body != nil {
		reader = body.reader
	}
	req, err := http.NewRequestWithContext(reqCtx, method, target, reader)
	if err != nil {
		return nil, services.Wrap(services.ErrInternalInvariant, a.Slug(), "request", target, err)
	}
	if len(query) > 0 {
		merged := req.URL.Query()
		for key, values := range query {
			for _, value := range values {
				merged.Add(key, value)
			}
		}
		req.URL.RawQuery = merged.Encode()
	}
	if body != nil && body.contentType != "" {
		req.Header.Set("Content-Type", body.contentType)
	}
	req.Header.Set("Accept", "application/json, application/xml;q=0.9, */*;q=0.8")
	a.applyAuth(req)

	var reply *httpReply
	call := func() error {
		resp, callErr := a.client.Do(req)
		if callErr != nil {
			return services.Wrap(services.ErrNetworkTransient, a.Slug(), "request", req.URL.Host, callErr)
		}
		defer resp.Body.Close()
		raw, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if readErr != nil {
			return services.Wrap(services.ErrNetworkTransient, a.Slug(), "request", "read response", readErr)
		}
		reply = &httpReply{StatusCode: resp.StatusCode, Header: resp.Header, Body: raw}
		return nil
	}
	if a.schema.Cloudflare.Enabled && a.circuit != nil {
		err = a.circuit.Do(ctx, call)
	} else {
		err = call()
	}
	if err != nil {
		return nil, err
	}
	return reply, nil
}

// requestBody pairs a request payload with its content type.
type requestBody struct {
	reader      io.Reader
	contentType string
}

// searchKey returns the tracker-scoped limiter key for search calls.
func (a *Adapter) searchKey() string {
	return ratelimit.ForTracker(ratelimit.KeyTrackerSearch, a.Slug())
}

// uploadKey returns the tracker-scoped limiter key for upload calls.
func (a *Adapter) uploadKey() string {
	return ratelimit.ForTracker(ratelimit.KeyTrackerUpload, a.Slug())
}

func (a *Adapter) waitLimiter(ctx context.Context, key string) error {
	if a.limiter == nil {
		return nil
	}
	return a.limiter.Wait(ctx, key)
}
