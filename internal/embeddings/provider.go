package embeddings

import (
	"errors"
	"fmt"

	"github.com/Fuzyal234/Fuz-AgenticAI/internal/config"
	"github.com/Fuzyal234/Fuz-AgenticAI/internal/vectorstore"
)

var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingFailed indicates embedding generation failure.
	ErrEmbeddingFailed = errors.New("embedding generation failed")
)

// Provider is an Embedder with a known output dimension.
type Provider interface {
	vectorstore.Embedder
	Dimension() int
	Close() error
}

// NewProvider creates the provider selected by cfg, instrumented with metrics.
func NewProvider(cfg config.EmbeddingsConfig) (Provider, error) {
	var (
		p   Provider
		err error
	)
	switch cfg.Provider {
	case "fastembed", "":
		p, err = NewFastEmbedProvider(FastEmbedConfig{Model: cfg.Model, CacheDir: cfg.CacheDir})
	case "tei":
		p, err = NewTEIProvider(TEIConfig{
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			APIKey:    cfg.APIKey.Value(),
			Dimension: cfg.Dimension,
		})
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return Instrument(p, cfg.Model), nil
}
