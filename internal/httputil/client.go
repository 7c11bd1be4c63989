// Package httputil provides HTTP client utilities for calls to the state
// backend and GAS, plus JSON response helpers for handlers.
package httputil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/R3E-Network/grants_ui/internal/logging"
	"github.com/R3E-Network/grants_ui/internal/resilience"
)

// maxResponseBody bounds how much of an upstream body is buffered.
const maxResponseBody = 8 << 20

const defaultMaxRetries = 2

// NoRetries disables retries. A zero MaxRetries selects the default instead.
const NoRetries = -1

// =============================================================================
// Service Client
// =============================================================================

// ServiceClient issues JSON requests against a base URL through the
// resilient transport (per-attempt timeout, bounded retries, circuit breaker).
type ServiceClient struct {
	resilient  *resilience.ResilientClient
	baseURL    string
	maxRetries int
	timeout    time.Duration
}

// ServiceClientConfig configures the service client.
type ServiceClientConfig struct {
	BaseURL string
	Timeout time.Duration
	// MaxRetries is the number of retries after the first attempt. Zero
	// selects the default; any negative value (see NoRetries) disables them.
	MaxRetries int
	// BaseClient overrides the underlying client, mainly for tests.
	BaseClient     *http.Client
	CircuitBreaker resilience.CircuitBreakerConfig
	// Name and Logger, when set, report circuit breaker transitions.
	Name   string
	Logger *logging.Logger
}

// Response is a fully buffered upstream response.
type Response struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
}

// NewServiceClient creates a new service client.
func NewServiceClient(cfg ServiceClientConfig) *ServiceClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	maxRetries := cfg.MaxRetries
	switch {
	case maxRetries == 0:
		maxRetries = defaultMaxRetries
	case maxRetries < 0:
		maxRetries = 0
	}

	retry := resilience.DefaultRetryConfig()
	retry.MaxRetries = maxRetries

	breaker := cfg.CircuitBreaker
	if breaker.OnStateChange == nil && cfg.Logger != nil {
		logger, name := cfg.Logger, cfg.Name
		breaker.OnStateChange = func(from, to resilience.CircuitState) {
			entry := logger.WithFields(map[string]interface{}{
				"upstream": name,
				"from":     from.String(),
				"to":       to.String(),
			})
			if to == resilience.CircuitOpen {
				entry.Warn("circuit breaker opened")
				return
			}
			entry.Info("circuit breaker state changed")
		}
	}

	return &ServiceClient{
		resilient: resilience.NewResilientClient(resilience.Config{
			AttemptTimeout:       timeout,
			BaseClient:           cfg.BaseClient,
			RetryConfig:          retry,
			CircuitBreakerConfig: breaker,
		}),
		baseURL:    cfg.BaseURL,
		maxRetries: maxRetries,
		timeout:    timeout,
	}
}

// BaseURL returns the configured base URL.
func (c *ServiceClient) BaseURL() string {
	return c.baseURL
}

// Circuit exposes the circuit breaker state for health reporting.
func (c *ServiceClient) Circuit() resilience.CircuitState {
	return c.resilient.CircuitState()
}

// Do executes a request and buffers the response body. A nil error means a
// response was received; callers inspect StatusCode.
func (c *ServiceClient) Do(ctx context.Context, method, path string, header http.Header, body interface{}) (*Response, error) {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		payload = b
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Body = readCloser(payload)
		req.ContentLength = int64(len(payload))
		req.GetBody = func() (io.ReadCloser, error) { return readCloser(payload), nil }
	}
	for k, vals := range header {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}
	if payload != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.resilient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := ReadAllStrict(resp.Body, maxResponseBody)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	return &Response{StatusCode: resp.StatusCode, Body: data, Headers: resp.Header}, nil
}

// Get performs a GET request.
func (c *ServiceClient) Get(ctx context.Context, path string, header http.Header) (*Response, error) {
	return c.Do(ctx, http.MethodGet, path, header, nil)
}

// Post performs a POST request with JSON body.
func (c *ServiceClient) Post(ctx context.Context, path string, header http.Header, body interface{}) (*Response, error) {
	return c.Do(ctx, http.MethodPost, path, header, body)
}

// Decode unmarshals a 2xx body into target, or returns an error describing
// the upstream status.
func (r *Response) Decode(target interface{}) error {
	if r.StatusCode >= 400 {
		msg, truncated := truncate(bytes.TrimSpace(r.Body), 1<<10)
		if truncated {
			msg += "...(truncated)"
		}
		return fmt.Errorf("request failed with status %d: %s", r.StatusCode, msg)
	}
	if target == nil || len(r.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, target); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

func truncate(b []byte, n int) (string, bool) {
	if len(b) <= n {
		return string(b), false
	}
	return string(b[:n]), true
}
