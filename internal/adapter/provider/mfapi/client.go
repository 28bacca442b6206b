// Package mfapi is the client for the MFAPI-style NAV history provider.
package mfapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/simaogato/navmetrics-backend/internal/domain"
	"github.com/simaogato/navmetrics-backend/internal/retry"
)

// DefaultBaseURL is the public MFAPI endpoint
const DefaultBaseURL = "https://api.mfapi.in/mf"

var (
	// ErrNotFound means the provider confirmed the scheme code does not exist
	ErrNotFound = errors.New("scheme not found")
	// ErrMalformedResponse means the payload is not a usable scheme response
	ErrMalformedResponse = errors.New("malformed provider response")
)

// StatusError is an HTTP error status other than 404
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider returned status %d: %s", e.StatusCode, e.Body)
}

// IsRetryable reports whether a fetch error is transient
// Timeouts, network errors, 5xx and 429 are retried; not-found, other 4xx and malformed payloads are not
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrMalformedResponse) || errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= 500 || se.StatusCode == http.StatusTooManyRequests
	}
	return true
}

// Config holds the client settings
type Config struct {
	BaseURL           string
	Timeout           time.Duration // per-request timeout (default 30s)
	MaxAttempts       int           // default 3
	BackoffBase       time.Duration // default 1s
	BackoffMultiplier float64       // default 2

	// BreakerThreshold opens the circuit after this many consecutive failed fetches; 0 disables it
	BreakerThreshold uint32
	BreakerCooldown  time.Duration // default 60s
}

// Option customizes a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetryPolicy replaces the retry policy; the retryable predicate is always IsRetryable
func WithRetryPolicy(p retry.Policy) Option {
	return func(c *Client) { c.policy = p }
}

// Client fetches full NAV histories; it is safe for sequential reuse and keeps connections alive across calls
type Client struct {
	baseURL    string
	httpClient *http.Client
	policy     retry.Policy
	breaker    *gobreaker.CircuitBreaker
	logger     *slog.Logger
}

// NewClient creates a new provider client
func NewClient(cfg Config, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}

	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		policy: retry.Policy{
			MaxAttempts: cfg.MaxAttempts,
			Backoff:     retry.Exponential(cfg.BackoffBase, cfg.BackoffMultiplier),
		},
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.policy.Retryable = IsRetryable

	if cfg.BreakerThreshold > 0 {
		cooldown := cfg.BreakerCooldown
		if cooldown <= 0 {
			cooldown = time.Minute
		}
		threshold := cfg.BreakerThreshold
		c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "mfapi",
			Timeout: cooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			// A confirmed not-found or a bad payload still means the provider is reachable
			IsSuccessful: func(err error) bool {
				return err == nil || !IsRetryable(err)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("provider circuit state changed", "breaker", name, "from", from.String(), "to", to.String())
			},
		})
	}
	return c
}

// FetchScheme returns the full NAV history of a scheme
// Transient failures are retried with exponential backoff; terminal ones return immediately
func (c *Client) FetchScheme(ctx context.Context, code string) (*SchemeResponse, error) {
	if c.breaker == nil {
		return c.fetchWithRetry(ctx, code)
	}
	res, err := c.breaker.Execute(func() (interface{}, error) {
		return c.fetchWithRetry(ctx, code)
	})
	if err != nil {
		return nil, err
	}
	return res.(*SchemeResponse), nil
}

// FetchHistory implements domain.SchemeFetcher
func (c *Client) FetchHistory(ctx context.Context, code string) (*domain.ProviderScheme, error) {
	resp, err := c.FetchScheme(ctx, code)
	if err != nil {
		return nil, err
	}
	return resp.toDomain(code), nil
}

func (c *Client) fetchWithRetry(ctx context.Context, code string) (*SchemeResponse, error) {
	policy := c.policy
	maxAttempts := policy.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	policy.OnRetry = func(attempt int, wait time.Duration, err error) {
		c.logger.WarnContext(ctx, "provider fetch failed, retrying",
			"code", code, "attempt", attempt, "wait", wait, "error", err)
	}

	var resp *SchemeResponse
	err := policy.Do(ctx, func(ctx context.Context, attempt int) error {
		c.logger.InfoContext(ctx, "fetching scheme", "code", code, "attempt", attempt, "max_attempts", maxAttempts)
		var err error
		resp, err = c.fetchOnce(ctx, code)
		return err
	})
	if err != nil {
		c.logger.ErrorContext(ctx, "provider fetch failed", "code", code, "error", err)
		return nil, err
	}

	c.logger.InfoContext(ctx, "fetched scheme", "code", code, "records", len(resp.Data))
	return resp, nil
}

func (c *Client) fetchOnce(ctx context.Context, code string) (*SchemeResponse, error) {
	endpoint := c.baseURL + "/" + url.PathEscape(code)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, code)
	}
	if resp.StatusCode >= 400 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(body), 200)}
	}

	var out SchemeResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if out.Meta == nil || len(out.Data) == 0 {
		return nil, fmt.Errorf("%w: missing meta or empty data for %s", ErrMalformedResponse, code)
	}
	return &out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
