package canvasapi

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"
)

const (
	maxRetries            = 3
	initialBackoffSeconds = 2
	backoffBase           = 2.0
)

// RetryPolicy implements the gateway's 429-only retry discipline:
// non-429 4xx responses are never retried.
type RetryPolicy struct {
	MaxRetries int
	Logger     *slog.Logger
}

// DefaultRetryPolicy returns the gateway's standard retry policy.
func DefaultRetryPolicy(logger *slog.Logger) *RetryPolicy {
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryPolicy{MaxRetries: maxRetries, Logger: logger}
}

// ShouldRetry reports whether resp warrants another attempt. Only
// HTTP 429 is retried; all other statuses (including 5xx) bubble up
// on the first failure, per the gateway's retry contract.
func (p *RetryPolicy) ShouldRetry(resp *http.Response) bool {
	return resp != nil && resp.StatusCode == http.StatusTooManyRequests
}

// Backoff computes the wait before the next attempt: the
// Retry-After header value in seconds if present, otherwise
// exponential backoff starting at 2s with base 2 (2s, 4s, 8s...).
func (p *RetryPolicy) Backoff(resp *http.Response, attempt int) time.Duration {
	if resp != nil {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, err := strconv.Atoi(ra); err == nil && secs >= 0 {
				return time.Duration(secs) * time.Second
			}
		}
	}
	seconds := initialBackoffSeconds * math.Pow(backoffBase, float64(attempt))
	return time.Duration(seconds) * time.Second
}

// ExecuteWithRetry runs fn, retrying on 429 up to MaxRetries times.
func (p *RetryPolicy) ExecuteWithRetry(ctx context.Context, fn func() (*http.Response, error)) (*http.Response, error) {
	var resp *http.Response
	var err error

	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		resp, err = fn()
		if err != nil || !p.ShouldRetry(resp) {
			return resp, err
		}
		if attempt == p.MaxRetries {
			break
		}

		wait := p.Backoff(resp, attempt)
		p.Logger.Warn("429 from Canvas, retrying", "attempt", attempt+1, "wait", wait)

		select {
		case <-ctx.Done():
			return resp, ctx.Err()
		case <-time.After(wait):
		}
	}

	return resp, err
}
