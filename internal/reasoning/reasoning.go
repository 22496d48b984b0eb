// Package reasoning wraps the language model that plans, writes and
// reviews code. Calls are rate limited client-side and never retried
// here; retry policy belongs to the orchestrator.
package reasoning

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Fuzyal234/Fuz-AgenticAI/internal/config"
	"github.com/Fuzyal234/Fuz-AgenticAI/internal/logging"
)

const instrumentationName = "github.com/Fuzyal234/Fuz-AgenticAI/internal/reasoning"

var (
	// ErrUnavailable wraps transport and provider failures.
	ErrUnavailable = errors.New("reasoning capability unavailable")

	// ErrEmptyResponse is returned when the model answers with no text.
	ErrEmptyResponse = errors.New("empty response from model")

	// ErrInvalidConfig is returned by New for unusable settings.
	ErrInvalidConfig = errors.New("invalid reasoning configuration")
)

// Capability turns a prompt into text. stage labels the call for
// logging and metrics.
type Capability interface {
	Invoke(ctx context.Context, stage, prompt string) (string, error)
}

// Func adapts a function to Capability.
type Func func(ctx context.Context, stage, prompt string) (string, error)

func (f Func) Invoke(ctx context.Context, stage, prompt string) (string, error) {
	return f(ctx, stage, prompt)
}

// Client is a Capability backed by an OpenAI-compatible chat endpoint.
type Client struct {
	llm         llms.Model
	model       string
	temperature float64
	limiter     *rate.Limiter
	logger      *logging.Logger

	calls    metric.Int64Counter
	duration metric.Float64Histogram
}

// New builds a Client. An API key is required unless BaseURL points at a
// local server such as Ollama.
func New(cfg config.LLMConfig, logger *logging.Logger) (*Client, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	if !cfg.APIKey.IsSet() && cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: llm.api_key or llm.base_url required", ErrInvalidConfig)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: llm.model required", ErrInvalidConfig)
	}

	token := cfg.APIKey.Value()
	if token == "" {
		token = "unused"
	}
	opts := []openai.Option{openai.WithToken(token), openai.WithModel(cfg.Model)}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(strings.TrimRight(cfg.BaseURL, "/")))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return newClient(llm, cfg.Model, rate.NewLimiter(limit, burst), logger), nil
}

func newClient(llm llms.Model, model string, limiter *rate.Limiter, logger *logging.Logger) *Client {
	meter := otel.Meter(instrumentationName)
	c := &Client{
		llm:         llm,
		model:       model,
		temperature: 0.3,
		limiter:     limiter,
		logger:      logger.Named("reasoning"),
	}
	c.calls, _ = meter.Int64Counter("fuzagent.reasoning.calls_total",
		metric.WithDescription("Model invocations by stage and outcome"))
	c.duration, _ = meter.Float64Histogram("fuzagent.reasoning.duration_seconds",
		metric.WithDescription("Model invocation latency by stage"),
		metric.WithUnit("s"))
	return c
}

// Invoke sends prompt as a single user message.
func (c *Client) Invoke(ctx context.Context, stage, prompt string) (string, error) {
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, "reasoning.Invoke")
	defer span.End()
	span.SetAttributes(attribute.String("stage", stage), attribute.String("model", c.model))

	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}

	start := time.Now()
	out, err := llms.GenerateFromSinglePrompt(ctx, c.llm, prompt, llms.WithTemperature(c.temperature))
	elapsed := time.Since(start)
	if err == nil && strings.TrimSpace(out) == "" {
		err = ErrEmptyResponse
	}

	outcome := "ok"
	if err != nil {
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	attrs := metric.WithAttributes(attribute.String("stage", stage), attribute.String("outcome", outcome))
	if c.calls != nil {
		c.calls.Add(ctx, 1, attrs)
	}
	if c.duration != nil {
		c.duration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attribute.String("stage", stage)))
	}

	if err != nil {
		c.logger.Warn(ctx, "model invocation failed",
			zap.String("stage", stage), zap.Duration("elapsed", elapsed), zap.Error(err))
		if errors.Is(err, ErrEmptyResponse) || ctx.Err() != nil {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	c.logger.Debug(ctx, "model invocation",
		zap.String("stage", stage),
		zap.Duration("elapsed", elapsed),
		zap.Int("prompt_chars", len(prompt)),
		zap.Int("response_chars", len(out)))
	return out, nil
}
