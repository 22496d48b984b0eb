package ghclient

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/google/go-github/v57/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
}

func response(code int) *github.Response {
	return &github.Response{Response: &http.Response{StatusCode: code}}
}

func TestRetryConfig_ApplyDefaults(t *testing.T) {
	t.Run("applies all defaults when empty", func(t *testing.T) {
		cfg := RetryConfig{}
		cfg.ApplyDefaults()
		assert.Equal(t, DefaultRetryConfig(), cfg)
	})

	t.Run("preserves non-zero values", func(t *testing.T) {
		cfg := RetryConfig{MaxRetries: 5, InitialBackoff: 2 * time.Second, MaxBackoff: time.Minute, BackoffMultiplier: 3}
		want := cfg
		cfg.ApplyDefaults()
		assert.Equal(t, want, cfg)
	})
}

func TestRetry(t *testing.T) {
	errTransient := errors.New("transient")
	tests := []struct {
		name      string
		failures  int
		failWith  *github.Response
		wantCalls int
		wantErr   bool
	}{
		{"first attempt", 0, nil, 1, false},
		{"recovers from 502", 2, response(http.StatusBadGateway), 3, false},
		{"recovers from network error", 1, nil, 2, false},
		{"404 not retried", 10, response(http.StatusNotFound), 1, true},
		{"422 not retried", 10, response(http.StatusUnprocessableEntity), 1, true},
		{"exhausts retries", 10, response(http.StatusServiceUnavailable), 4, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			resp, err := Retry(context.Background(), fastRetry(), nil, func(context.Context) (*github.Response, error) {
				calls++
				if calls <= tt.failures {
					return tt.failWith, errTransient
				}
				return response(http.StatusOK), nil
			})

			assert.Equal(t, tt.wantCalls, calls)
			if tt.wantErr {
				assert.ErrorIs(t, err, errTransient)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, http.StatusOK, resp.StatusCode)
		})
	}
}

func TestRetry_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := fastRetry()
	cfg.InitialBackoff = time.Hour
	cfg.MaxBackoff = time.Hour

	calls := 0
	_, err := Retry(ctx, cfg, nil, func(context.Context) (*github.Response, error) {
		calls++
		cancel()
		return response(http.StatusInternalServerError), errors.New("boom")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestIsRetryable(t *testing.T) {
	rateLimited403 := response(http.StatusForbidden)
	rateLimited403.Rate = github.Rate{Limit: 5000}

	tests := []struct {
		name string
		err  error
		resp *github.Response
		want bool
	}{
		{"nil error", nil, response(500), false},
		{"no response", errors.New("dial"), nil, true},
		{"429", errors.New("x"), response(http.StatusTooManyRequests), true},
		{"500", errors.New("x"), response(http.StatusInternalServerError), true},
		{"504", errors.New("x"), response(http.StatusGatewayTimeout), true},
		{"400", errors.New("x"), response(http.StatusBadRequest), false},
		{"401", errors.New("x"), response(http.StatusUnauthorized), false},
		{"403 plain", errors.New("x"), response(http.StatusForbidden), false},
		{"403 rate limited", errors.New("x"), rateLimited403, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err, tt.resp))
		})
	}
}

func TestRateLimitBackoff(t *testing.T) {
	t.Run("no rate info", func(t *testing.T) {
		assert.Equal(t, 10*time.Second, rateLimitBackoff(response(429), 10*time.Second))
	})
	t.Run("capped at max", func(t *testing.T) {
		resp := response(429)
		resp.Rate = github.Rate{Limit: 60, Reset: github.Timestamp{Time: time.Now().Add(time.Hour)}}
		assert.Equal(t, time.Minute, rateLimitBackoff(resp, time.Minute))
	})
	t.Run("reset in the past", func(t *testing.T) {
		resp := response(429)
		resp.Rate = github.Rate{Limit: 60, Reset: github.Timestamp{Time: time.Now().Add(-time.Hour)}}
		assert.Equal(t, time.Second, rateLimitBackoff(resp, time.Minute))
	})
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, 0, StatusCode(nil))
	assert.Equal(t, 0, StatusCode(&github.Response{}))
	assert.Equal(t, 201, StatusCode(response(201)))
}
