// Package enrich collects the off-platform signals of a product: Shopee
// demand, Google search trend and CJ sourcing cost.
package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/maltedev/tiktok-product-scout/internal/ratelimit"
)

var (
	// ErrNoResults means the source answered but knows nothing about the keyword.
	ErrNoResults = errors.New("no results")
	// ErrRateLimited is returned when the source keeps answering 429.
	ErrRateLimited = errors.New("rate limited")
)

// Options are shared by every enrichment client.
type Options struct {
	Timeout        time.Duration
	MaxRetries     int
	RequestsPerMin int
	RetryBase      time.Duration
	RetryMax       time.Duration
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = 15 * time.Second
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.RequestsPerMin <= 0 {
		o.RequestsPerMin = 30
	}
	if o.RetryBase <= 0 {
		o.RetryBase = time.Second
	}
	if o.RetryMax <= 0 {
		o.RetryMax = 30 * time.Second
	}
	return o
}

// StatusError is a non-retryable HTTP failure.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.StatusCode, e.URL)
}

type jsonClient struct {
	http    *http.Client
	limiter ratelimit.RateLimiter
	opts    Options
	logger  *slog.Logger
}

func newJSONClient(opts Options, logger *slog.Logger) *jsonClient {
	opts = opts.withDefaults()
	return &jsonClient{
		http:    &http.Client{Timeout: opts.Timeout},
		limiter: ratelimit.NewTokenBucket(opts.RequestsPerMin, time.Minute/time.Duration(opts.RequestsPerMin)),
		opts:    opts,
		logger:  logger,
	}
}

// getJSON fetches url and decodes the body into out. 429 and 5xx answers
// are retried with exponential backoff.
func (c *jsonClient) getJSON(ctx context.Context, url string, headers map[string]string, out any) error {
	var lastErr error

	for attempt := 0; attempt <= c.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := ratelimit.Backoff(attempt-1, c.opts.RetryBase, c.opts.RetryMax)
			c.logger.Debug("retrying request", "attempt", attempt, "delay", delay, "error", lastErr)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		retry, err := c.do(ctx, url, headers, out)
		if err == nil {
			return nil
		}
		if !retry {
			return err
		}
		lastErr = err
	}

	return lastErr
}

func (c *jsonClient) do(ctx context.Context, url string, headers map[string]string, out any) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return true, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return true, ErrRateLimited
	case resp.StatusCode == http.StatusNotFound:
		return false, ErrNoResults
	case resp.StatusCode >= 500:
		return true, &StatusError{StatusCode: resp.StatusCode, URL: req.URL.Redacted()}
	case resp.StatusCode >= 300:
		return false, &StatusError{StatusCode: resp.StatusCode, URL: req.URL.Redacted()}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return true, fmt.Errorf("failed to read response: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return false, fmt.Errorf("failed to decode response: %w", err)
	}
	return false, nil
}
