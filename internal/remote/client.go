// Package remote talks to the conversational-AI platform that owns the
// transcripts. It tolerates several generations of the platform's API: list
// endpoints are probed in priority order and record fields are read through
// accessor tables.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/conversation-service/internal/config"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"
)

const (
	DefaultPageSize = 100
	DefaultMaxPages = 200
)

// Client is a paced, retrying client for the platform API.
type Client struct {
	baseURL  string
	apiKey   string
	pageSize int
	maxPages int
	http     *retryablehttp.Client
	limiter  *rate.Limiter
}

// Option configures a Client.
type Option func(*Client)

// WithAPIKey sets the key sent in the xi-api-key header.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithPageSize sets the page size requested from list endpoints.
func WithPageSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// WithMaxPages bounds how many pages a single list strategy may read.
func WithMaxPages(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxPages = n
		}
	}
}

// WithRetries sets how many times a failed request is retried.
func WithRetries(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.http.RetryMax = n
		}
	}
}

// WithRetryWait sets the backoff bounds between retries.
func WithRetryWait(lo, hi time.Duration) Option {
	return func(c *Client) {
		c.http.RetryWaitMin = lo
		c.http.RetryWaitMax = hi
	}
}

// WithTimeout sets the per-attempt HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.HTTPClient.Timeout = d
		}
	}
}

// WithRateLimit paces outbound requests to rps requests per second. Zero
// disables pacing.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

// New creates a Client for the platform at baseURL.
func New(baseURL string, opts ...Option) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.Logger = retryLogger{}
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.HTTPClient.Timeout = 30 * time.Second

	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		pageSize: DefaultPageSize,
		maxPages: DefaultMaxPages,
		http:     rc,
	}
	for _, opt := range opts {
		opt(c)
	}
	rc.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, _ int) {
		if c.limiter != nil {
			_ = c.limiter.Wait(req.Context())
		}
	}
	return c
}

// FromConfig builds a Client from the platform settings.
func FromConfig(cfg *config.Config) *Client {
	return New(cfg.PlatformBaseURL,
		WithAPIKey(cfg.PlatformAPIKey),
		WithPageSize(cfg.PlatformPageSize),
		WithMaxPages(cfg.PlatformMaxPages),
		WithRetries(cfg.PlatformRetries),
		WithTimeout(cfg.PlatformTimeout),
		WithRateLimit(cfg.PlatformRateLimit),
	)
}

var errNotFound = errors.New("not found")

// get fetches path with query and returns the body of a 2xx response.
// A 404 yields errNotFound.
func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("xi-api-key", c.apiKey)
	}

	attempts := c.http.RetryMax + 1
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TransientIOError{Op: "GET", URL: u, Attempts: attempts, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransientIOError{Op: "GET", URL: u, Attempts: attempts, Err: err}
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, errNotFound
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, &TransientIOError{Op: "GET", URL: u, Attempts: attempts, Status: resp.StatusCode}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, &StatusError{URL: u, Status: resp.StatusCode, Body: truncateBody(body)}
	}
	return body, nil
}

// retryLogger routes retryablehttp's leveled logging to charmbracelet/log.
type retryLogger struct{}

func (retryLogger) Error(msg string, kv ...interface{}) { log.Error("Remote: "+msg, kv...) }
func (retryLogger) Info(msg string, kv ...interface{})  { log.Debug("Remote: "+msg, kv...) }
func (retryLogger) Debug(msg string, kv ...interface{}) { log.Debug("Remote: "+msg, kv...) }
func (retryLogger) Warn(msg string, kv ...interface{})  { log.Warn("Remote: "+msg, kv...) }

var _ retryablehttp.LeveledLogger = retryLogger{}
