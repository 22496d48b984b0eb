package memory

import (
	"time"

	"github.com/Fuzyal234/Fuz-AgenticAI/internal/config"
	"github.com/Fuzyal234/Fuz-AgenticAI/internal/logging"
	"github.com/Fuzyal234/Fuz-AgenticAI/internal/reranker"
	"github.com/Fuzyal234/Fuz-AgenticAI/internal/secrets"
)

// VisibilityPolicy bounds WaitVisible polling.
type VisibilityPolicy struct {
	Interval time.Duration
	Timeout  time.Duration
}

// RetryPolicy governs retries of transient backend failures. Backoff
// doubles after each attempt.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
}

// Options configures a Store.
type Options struct {
	// Namespace is used when a call passes "".
	Namespace          string
	MaxContentLength   int
	MaxAttributeLength int
	// Dimension and EmbeddingModel describe the index for Provision and
	// for remediation messages.
	Dimension      int
	EmbeddingModel string
	Visibility     VisibilityPolicy
	Retry          RetryPolicy
}

// DefaultOptions mirrors config.Default.
func DefaultOptions() Options {
	d := config.Default()
	return OptionsFromConfig(d.Memory, d.Embeddings)
}

// OptionsFromConfig builds Options from the memory and embeddings sections.
func OptionsFromConfig(m config.MemoryConfig, e config.EmbeddingsConfig) Options {
	return Options{
		Namespace:          m.Namespace,
		MaxContentLength:   m.MaxContentLength,
		MaxAttributeLength: m.MaxAttributeLength,
		Dimension:          e.Dimension,
		EmbeddingModel:     e.Model,
		Visibility: VisibilityPolicy{
			Interval: m.VisibilityInterval.Duration(),
			Timeout:  m.VisibilityTimeout.Duration(),
		},
		Retry: RetryPolicy{
			Attempts: m.RetryAttempts,
			Backoff:  m.RetryBackoff.Duration(),
		},
	}
}

func (o Options) withDefaults() Options {
	if o.Namespace == "" {
		o.Namespace = "agentic-memory"
	}
	if o.MaxContentLength <= 0 {
		o.MaxContentLength = 1000
	}
	if o.MaxAttributeLength <= 0 {
		o.MaxAttributeLength = 500
	}
	if o.Visibility.Interval <= 0 {
		o.Visibility.Interval = 500 * time.Millisecond
	}
	if o.Visibility.Timeout < o.Visibility.Interval {
		o.Visibility.Timeout = o.Visibility.Interval
	}
	if o.Retry.Attempts <= 0 {
		o.Retry.Attempts = 1
	}
	return o
}

// Option customizes a Store.
type Option func(*Store)

// WithReranker replaces the default overlap reranker.
func WithReranker(r reranker.Reranker) Option {
	return func(s *Store) { s.reranker = r }
}

// WithScrubber sets the scrubber applied to content and string attributes
// before storage. The default stores input unchanged.
func WithScrubber(sc secrets.Scrubber) Option {
	return func(s *Store) { s.scrubber = sc }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Store) { s.logger = l }
}
