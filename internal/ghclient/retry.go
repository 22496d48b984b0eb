package ghclient

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"

	"github.com/Fuzyal234/Fuz-AgenticAI/internal/logging"
)

// RetryConfig configures retry behavior for GitHub API calls.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt.
	// Default: 3
	MaxRetries int

	// Default: 1 second
	InitialBackoff time.Duration

	// Default: 30 seconds
	MaxBackoff time.Duration

	// Default: 2
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// ApplyDefaults sets default values for unset fields.
func (c *RetryConfig) ApplyDefaults() {
	d := DefaultRetryConfig()
	if c.MaxRetries == 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.InitialBackoff == 0 {
		c.InitialBackoff = d.InitialBackoff
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = d.MaxBackoff
	}
	if c.BackoffMultiplier == 0 {
		c.BackoffMultiplier = d.BackoffMultiplier
	}
}

// Retry runs op until it succeeds, fails with a non-retryable error or
// the retries are used up. Rate limited responses wait for the reset time,
// capped at MaxBackoff.
func Retry(ctx context.Context, cfg RetryConfig, logger *logging.Logger, op func(context.Context) (*github.Response, error)) (*github.Response, error) {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = logging.NewNop()
	}

	var (
		lastErr  error
		lastResp *github.Response
		backoff  = cfg.InitialBackoff
		start    = time.Now()
	)
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		resp, err := op(ctx)
		if err == nil {
			if attempt > 0 {
				logger.Info(ctx, "GitHub API operation recovered after retries",
					zap.Int("attempts", attempt+1), zap.Duration("total_time", time.Since(start)))
			}
			return resp, nil
		}
		lastErr, lastResp = err, resp

		if !IsRetryable(err, resp) {
			logger.Debug(ctx, "GitHub API error is not retryable", zap.Error(err), zap.Int("status_code", StatusCode(resp)))
			return resp, err
		}
		if attempt == cfg.MaxRetries {
			break
		}

		wait := backoff
		if isRateLimitError(resp) {
			wait = rateLimitBackoff(resp, cfg.MaxBackoff)
		}
		logger.Info(ctx, "retrying GitHub API operation",
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", cfg.MaxRetries+1),
			zap.Int("status_code", StatusCode(resp)),
			zap.Duration("backoff", wait),
			zap.Error(err))

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, fmt.Errorf("operation canceled: %w", ctx.Err())
		case <-t.C:
		}
		backoff = min(time.Duration(float64(backoff)*cfg.BackoffMultiplier), cfg.MaxBackoff)
	}

	logger.Warn(ctx, "GitHub API operation failed after all retries",
		zap.Int("total_attempts", cfg.MaxRetries+1),
		zap.Duration("total_time", time.Since(start)),
		zap.Int("status_code", StatusCode(lastResp)),
		zap.Error(lastErr))
	return lastResp, fmt.Errorf("GitHub API operation failed after %d retries: %w", cfg.MaxRetries, lastErr)
}

// IsRetryable reports whether a GitHub API error is worth retrying. 403 is
// retried only when it carries rate limit headers (secondary rate limit).
func IsRetryable(err error, resp *github.Response) bool {
	if err == nil {
		return false
	}
	if resp == nil || resp.Response == nil {
		// Network errors and timeouts.
		return true
	}
	switch code := resp.StatusCode; code {
	case http.StatusTooManyRequests:
		return true
	case http.StatusForbidden:
		return resp.Rate.Limit > 0
	default:
		return code >= 500 && code < 600
	}
}

func isRateLimitError(resp *github.Response) bool {
	if resp == nil || resp.Response == nil {
		return false
	}
	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return true
	case http.StatusForbidden:
		return resp.Rate.Limit > 0
	}
	return false
}

// rateLimitBackoff waits until one second past the reset time.
func rateLimitBackoff(resp *github.Response, maxBackoff time.Duration) time.Duration {
	if resp == nil || (resp.Rate.Limit == 0 && resp.Rate.Remaining == 0) {
		return min(time.Minute, maxBackoff)
	}
	backoff := time.Until(resp.Rate.Reset.Time) + time.Second
	if backoff < time.Second {
		backoff = time.Second
	}
	return min(backoff, maxBackoff)
}

// StatusCode returns the HTTP status of resp, or 0.
func StatusCode(resp *github.Response) int {
	if resp != nil && resp.Response != nil {
		return resp.StatusCode
	}
	return 0
}
