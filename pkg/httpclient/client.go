// Package httpclient provides a retrying HTTP client used for LLM provider
// calls. Retry behavior is classified per status code: rate limits honor
// Retry-After style headers, server errors and timeouts back off
// exponentially with jitter, and client errors fail fast. The per-attempt
// timeout doubles on every retry so slow upstream responses get a second
// chance before the call is abandoned.
package httpclient

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"time"
)

type RetryStrategy int

const (
	// NoRetry fails the call immediately.
	NoRetry RetryStrategy = iota
	// BackoffRetry waits base*2^attempt plus jitter between attempts.
	BackoffRetry
	// HeaderRetry prefers the provider's Retry-After hint, falling back to
	// exponential backoff when no hint is present.
	HeaderRetry
)

// StatusTransportError is the pseudo status code passed to a
// RetryStrategyFunc when the request failed before producing a response
// (connection refused, timeout, and so on).
const StatusTransportError = 0

type RateLimitInfo struct {
	RetryAfter        time.Duration
	ResetTime         int64
	RequestsRemaining int
	TokensRemaining   int
}

type RateLimitHeaderParser func(http.Header) RateLimitInfo

type RetryStrategyFunc func(statusCode int) RetryStrategy

type Client struct {
	client         *http.Client
	maxRetries     int
	baseDelay      time.Duration
	jitterFraction float64
	attemptTimeout time.Duration
	headerParser   RateLimitHeaderParser
	strategyFunc   RetryStrategyFunc
	logger         *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.client = client
	}
}

func WithMaxRetries(max int) Option {
	return func(c *Client) {
		c.maxRetries = max
	}
}

func WithBaseDelay(delay time.Duration) Option {
	return func(c *Client) {
		c.baseDelay = delay
	}
}

// WithAttemptTimeout bounds each attempt at timeout*2^attempt. The inner
// http.Client's own Timeout is overridden while an attempt timeout is set.
func WithAttemptTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.attemptTimeout = timeout
	}
}

func WithHeaderParser(parser RateLimitHeaderParser) Option {
	return func(c *Client) {
		c.headerParser = parser
	}
}

func WithRetryStrategy(strategyFunc RetryStrategyFunc) Option {
	return func(c *Client) {
		c.strategyFunc = strategyFunc
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func New(opts ...Option) *Client {
	client := &Client{
		client:         &http.Client{Timeout: 60 * time.Second},
		maxRetries:     5,
		baseDelay:      2 * time.Second,
		jitterFraction: 0.1,
		strategyFunc:   DefaultRetryStrategy,
		logger:         slog.Default(),
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// DefaultRetryStrategy maps rate limits to header-aware retries, transient
// server failures and transport errors to plain backoff, and everything
// else (including all 4xx client errors) to an immediate failure.
func DefaultRetryStrategy(statusCode int) RetryStrategy {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusServiceUnavailable:
		return HeaderRetry
	case StatusTransportError,
		http.StatusRequestTimeout,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusGatewayTimeout:
		return BackoffRetry
	default:
		return NoRetry
	}
}

// Do sends req, retrying per the configured strategy. The request context
// governs the whole call: cancellation is honored both during attempts and
// while waiting between them. On success the response body is still open
// and must be closed by the caller.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if attempt > 0 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("failed to recreate request body for retry: %w", err)
			}
			req.Body = body
		}

		resp, strategy, retryInfo, err := c.attemptRequest(req, attempt)

		if err == nil || strategy == NoRetry {
			return resp, err
		}

		delay := c.retryDelay(strategy, attempt, retryInfo)

		if attempt >= c.maxRetries {
			statusCode := StatusTransportError
			if resp != nil {
				statusCode = resp.StatusCode
			}
			return resp, &RetryableError{
				StatusCode: statusCode,
				Message:    fmt.Sprintf("max HTTP retries (%d) exceeded", c.maxRetries),
				RetryAfter: delay,
				Err:        err,
			}
		}

		c.logRetry(ctx, delay, attempt, resp, err)
		if waitErr := sleepContext(ctx, delay); waitErr != nil {
			return nil, waitErr
		}
	}

	return nil, &RetryableError{
		StatusCode: StatusTransportError,
		Message:    fmt.Sprintf("max retries exceeded after %d attempts", c.maxRetries),
		RetryAfter: c.baseDelay * 2,
		Err:        fmt.Errorf("max retries exceeded"),
	}
}

func (c *Client) attemptRequest(req *http.Request, attempt int) (*http.Response, RetryStrategy, RateLimitInfo, error) {
	resp, err := c.clientFor(attempt).Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			// The caller gave up; the strategy no longer matters.
			return nil, NoRetry, RateLimitInfo{}, ctxErr
		}
		return nil, c.strategyFunc(StatusTransportError), RateLimitInfo{}, err
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, NoRetry, RateLimitInfo{}, nil
	}

	var retryInfo RateLimitInfo
	if c.headerParser != nil {
		retryInfo = c.headerParser(resp.Header)
	}

	strategy := c.strategyFunc(resp.StatusCode)
	if strategy != NoRetry {
		// The body will never be read; this connection can be reused.
		resp.Body.Close()
	}

	return resp, strategy, retryInfo, fmt.Errorf("HTTP %d", resp.StatusCode)
}

// clientFor returns the http.Client for the given attempt. With an attempt
// timeout configured, each retry gets double the previous attempt's budget;
// http.Client.Timeout is used rather than a context deadline so the limit
// also covers reading the response body after Do returns.
func (c *Client) clientFor(attempt int) *http.Client {
	if c.attemptTimeout <= 0 {
		return c.client
	}
	if attempt > 16 {
		attempt = 16
	}
	hc := *c.client
	hc.Timeout = c.attemptTimeout << uint(attempt)
	return &hc
}

func (c *Client) retryDelay(strategy RetryStrategy, attempt int, retryInfo RateLimitInfo) time.Duration {
	switch strategy {
	case HeaderRetry:
		if retryInfo.RetryAfter > 0 {
			return retryInfo.RetryAfter
		}
		if retryInfo.ResetTime > 0 {
			if delay := time.Until(time.Unix(retryInfo.ResetTime, 0)); delay > 0 {
				return delay
			}
		}
		return c.backoffDelay(attempt)

	case BackoffRetry:
		return c.backoffDelay(attempt)

	default:
		return 0
	}
}

func (c *Client) backoffDelay(attempt int) time.Duration {
	exponential := time.Duration(math.Pow(2, float64(attempt))) * c.baseDelay
	jitter := time.Duration(float64(exponential) * c.jitterFraction * rand.Float64())
	return exponential + jitter
}

func (c *Client) logRetry(ctx context.Context, delay time.Duration, attempt int, resp *http.Response, err error) {
	statusCode := StatusTransportError
	if resp != nil {
		statusCode = resp.StatusCode
	}
	c.logger.WarnContext(ctx, "retrying request",
		"status", statusCode,
		"attempt", attempt+1,
		"max_attempts", c.maxRetries+1,
		"delay", delay,
		"error", err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
