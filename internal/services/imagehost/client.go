package imagehost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"spool/internal/logging"
	"spool/internal/ratelimit"
	"spool/internal/services"
)

// Limiter paces outbound requests.
type Limiter interface {
	Wait(ctx context.Context, key string) error
}

// HTTPDoer abstracts http.Client.Do for testing.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// Client uploads screenshots to a chevereto-style image host and returns the
// public URL for each image.
type Client struct {
	endpoint  string
	apiKey    string
	client    HTTPDoer
	limiter   Limiter
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

// WithLimiter paces uploads through the given limiter.
func WithLimiter(limiter Limiter) Option {
	return func(c *Client) { c.limiter = limiter }
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRetryOptions overrides the retry policy on uploads.
func WithRetryOptions(opts ...services.RetryOption) Option {
	return func(c *Client) { c.retryOpts = opts }
}

// New builds a Client posting to the endpoint with the given API key.
func New(endpoint, apiKey string, opts ...Option) *Client {
	c := &Client{
		endpoint: strings.TrimSpace(endpoint),
		apiKey:   strings.TrimSpace(apiKey),
		client:   &http.Client{Timeout: 2 * time.Minute},
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured reports whether an endpoint was supplied.
func (c *Client) Configured() bool { return c.endpoint != "" }

// Upload posts one image and returns its public URL.
func (c *Client) Upload(ctx context.Context, data []byte, filename string) (string, error) {
	if !c.Configured() {
		return "", services.Wrap(services.ErrConfiguration, "imagehost", "upload", "endpoint not configured", nil)
	}
	if len(data) == 0 {
		return "", services.Wrap(services.ErrValidation, "imagehost", "upload", "empty image", nil)
	}
	if strings.TrimSpace(filename) == "" {
		filename = "screenshot.png"
	}

	body, contentType, err := c.buildForm(data, filename)
	if err != nil {
		return "", services.Wrap(services.ErrInternalInvariant, "imagehost", "upload", "build form", err)
	}

	var imageURL string
	post := func() error {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx, ratelimit.KeyImageUpload); err != nil {
				return err
			}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return services.Wrap(services.ErrInternalInvariant, "imagehost", "upload", "build request", err)
		}
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("Accept", "application/json")
		if c.apiKey != "" {
			req.Header.Set("X-API-Key", c.apiKey)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return services.Wrap(services.ErrNetworkTransient, "imagehost", "upload", "request failed", err)
		}
		defer resp.Body.Close()

		if statusErr := services.ErrorFromStatus("imagehost", "upload", resp.StatusCode, services.ParseRetryAfter(resp.Header.Get("Retry-After"))); statusErr != nil {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			return statusErr
		}
		payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return services.Wrap(services.ErrNetworkTransient, "imagehost", "upload", "read response", err)
		}
		url, err := extractURL(payload)
		if err != nil {
			return err
		}
		imageURL = url
		return nil
	}

	opts := append([]services.RetryOption{services.WithRetryLogger(c.logger)}, c.retryOpts...)
	if err := services.Retry(ctx, "imagehost.upload", post, opts...); err != nil {
		return "", err
	}
	c.logger.Debug("screenshot uploaded", slog.String("url", imageURL))
	return imageURL, nil
}

// buildForm renders the multipart body once; retries replay the same bytes.
func (c *Client) buildForm(data []byte, filename string) ([]byte, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("source", filename)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", err
	}
	if c.apiKey != "" {
		if err := writer.WriteField("key", c.apiKey); err != nil {
			return nil, "", err
		}
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), writer.FormDataContentType(), nil
}

// extractURL pulls the public image URL out of the response. Hosts differ in
// envelope shape, so the well-known locations are probed in order.
func extractURL(payload []byte) (string, error) {
	var decoded map[string]any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return "", services.Wrap(services.ErrExternalUnavailable, "imagehost", "upload", "decode response", err)
	}
	for _, path := range []string{"image.url", "data.url", "url"} {
		if url, ok := lookupPath(decoded, path); ok {
			return url, nil
		}
	}
	return "", services.Wrap(services.ErrExternalUnavailable, "imagehost", "upload",
		fmt.Sprintf("no image url in response (keys: %s)", strings.Join(topKeys(decoded), ", ")), nil)
}

func lookupPath(decoded map[string]any, path string) (string, bool) {
	current := any(decoded)
	for _, key := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return "", false
		}
		current, ok = m[key]
		if !ok {
			return "", false
		}
	}
	url, ok := current.(string)
	if !ok || strings.TrimSpace(url) == "" {
		return "", false
	}
	return url, true
}

func topKeys(decoded map[string]any) []string {
	keys := make([]string, 0, len(decoded))
	for key := range decoded {
		keys = append(keys, key)
	}
	return keys
}
