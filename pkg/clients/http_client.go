// Package clients provides the HTTP fetch client used to extract JSON from
// the source REST API.
package clients

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	gojson "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/ajitpratap0/bqloader/pkg/etlerrors"
	"github.com/ajitpratap0/bqloader/pkg/metrics"
)

// HTTPConfig configures the fetch client
type HTTPConfig struct {
	// BaseURL is prefixed verbatim to every endpoint
	BaseURL string `json:"base_url"`

	// Timeout bounds a single attempt (default: 10s)
	Timeout time.Duration `json:"timeout"`

	// MaxRetries is the total number of attempts (default: 3)
	MaxRetries int `json:"max_retries"`

	// BackoffFactor; the wait after attempt n is BackoffFactor^n seconds (default: 1.5)
	BackoffFactor float64 `json:"backoff_factor"`

	// Headers sent with every request
	Headers map[string]string `json:"headers"`

	// Transport allows injecting a custom round tripper (tests, proxies)
	Transport http.RoundTripper `json:"-"`
}

// DefaultHTTPConfig returns the default fetch configuration
func DefaultHTTPConfig() *HTTPConfig {
	return &HTTPConfig{
		Timeout:       10 * time.Second,
		MaxRetries:    3,
		BackoffFactor: 1.5,
		Headers:       map[string]string{"Content-Type": "application/json"},
	}
}

// Request is one fetch call. It is not modified by the client.
type Request struct {
	Endpoint string
	Params   url.Values
	Headers  map[string]string
}

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// HTTPClient issues GET requests with attempt-counted retries and
// exponential backoff without jitter.
type HTTPClient struct {
	config     *HTTPConfig
	logger     *zap.Logger
	httpClient *http.Client
	sleep      Sleeper
}

// Option customises an HTTPClient.
type Option func(*HTTPClient)

// WithSleeper replaces the backoff wait, mainly for tests.
func WithSleeper(s Sleeper) Option {
	return func(c *HTTPClient) { c.sleep = s }
}

// NewHTTPClient creates a new fetch client. Zero values in config are
// replaced with defaults.
func NewHTTPClient(config *HTTPConfig, logger *zap.Logger, opts ...Option) *HTTPClient {
	defaults := DefaultHTTPConfig()
	if config == nil {
		config = defaults
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = defaults.MaxRetries
	}
	if config.BackoffFactor <= 0 {
		config.BackoffFactor = defaults.BackoffFactor
	}
	if len(config.Headers) == 0 {
		config.Headers = defaults.Headers
	}

	client := &HTTPClient{
		config: config,
		logger: logger.With(zap.String("component", "http_client")),
		httpClient: &http.Client{
			Timeout:   config.Timeout,
			Transport: config.Transport,
		},
		sleep: sleepContext,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Config returns the effective configuration.
func (c *HTTPClient) Config() HTTPConfig {
	return *c.config
}

// Get fetches BaseURL+endpoint and decodes the JSON body.
func (c *HTTPClient) Get(ctx context.Context, endpoint string, params url.Values) (any, error) {
	return c.Do(ctx, &Request{Endpoint: endpoint, Params: params})
}

// Do executes req, retrying every failure until MaxRetries attempts have been
// made. A request that cannot be built is a terminal failure.
func (c *HTTPClient) Do(ctx context.Context, req *Request) (any, error) {
	target, err := c.buildURL(req)
	if err != nil {
		return nil, etlerrors.Extract(err, "malformed request URL").
			WithDetail("url", c.config.BaseURL+req.Endpoint)
	}

	var lastErr error
	for attempt := 1; attempt <= c.config.MaxRetries; attempt++ {
		c.logger.Info("api_request_start",
			zap.String("url", target),
			zap.Int("attempt", attempt))

		body, status, err := c.doOnce(ctx, target, req.Headers)
		if err == nil {
			metrics.FetchAttempts.WithLabelValues(metrics.OutcomeSuccess).Inc()
			c.logger.Info("api_request_success",
				zap.Int("status_code", status),
				zap.Int("attempt", attempt))
			return body, nil
		}

		lastErr = err
		metrics.FetchAttempts.WithLabelValues(metrics.OutcomeError).Inc()
		c.logger.Error("api_request_error",
			zap.Int("attempt", attempt),
			zap.Error(err))

		if attempt == c.config.MaxRetries {
			break
		}

		wait := c.Backoff(attempt)
		c.logger.Info("api_retry_wait",
			zap.Float64("sleep_seconds", wait.Seconds()),
			zap.Int("attempt", attempt))
		if err := c.sleep(ctx, wait); err != nil {
			return nil, etlerrors.Extract(err, "retry cancelled").
				WithDetail("url", target).
				WithDetail("attempts", attempt)
		}
	}

	return nil, etlerrors.Extract(lastErr,
		fmt.Sprintf("failed to consume API after %d attempts", c.config.MaxRetries)).
		WithDetail("url", target).
		WithDetail("attempts", c.config.MaxRetries)
}

// Backoff returns the wait after the given 1-based attempt.
func (c *HTTPClient) Backoff(attempt int) time.Duration {
	seconds := math.Pow(c.config.BackoffFactor, float64(attempt))
	return time.Duration(seconds * float64(time.Second))
}

// buildURL concatenates BaseURL and the endpoint and merges params into the
// query string.
func (c *HTTPClient) buildURL(req *Request) (string, error) {
	raw := c.config.BaseURL + req.Endpoint
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("missing host in %q", raw)
	}

	if len(req.Params) > 0 {
		query := u.Query()
		for k, values := range req.Params {
			for _, v := range values {
				query.Add(k, v)
			}
		}
		u.RawQuery = query.Encode()
	}
	return u.String(), nil
}

// doOnce executes a single attempt and decodes the JSON body.
func (c *HTTPClient) doOnce(ctx context.Context, target string, headers map[string]string) (any, int, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	for k, v := range c.config.Headers {
		httpReq.Header.Set(k, v)
	}
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}
	if httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", "bqloader/1.0")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, 0, fmt.Errorf("http request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, resp.StatusCode, &HTTPError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(snippet)),
		}
	}

	var payload any
	decoder := gojson.NewDecoder(resp.Body)
	decoder.UseNumber()
	if err := decoder.Decode(&payload); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("decode body: %w", err)
	}
	return payload, resp.StatusCode, nil
}

// HTTPError represents a non-2xx response.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// sleepContext waits with context cancellation
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
