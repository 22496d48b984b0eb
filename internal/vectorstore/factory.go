package vectorstore

import (
	"context"
	"fmt"

	"github.com/Fuzyal234/Fuz-AgenticAI/internal/config"
	"github.com/Fuzyal234/Fuz-AgenticAI/internal/logging"
)

// New opens the backend selected by cfg.Provider.
func New(ctx context.Context, cfg config.VectorStoreConfig, embedder Embedder, logger *logging.Logger) (Store, error) {
	switch cfg.Provider {
	case "chromem", "":
		return NewChromemStore(ChromemConfig{Path: cfg.Chromem.Path, Compress: cfg.Chromem.Compress}, embedder, logger)
	case "qdrant":
		return NewQdrantStore(ctx, QdrantConfig{
			Host:         cfg.Qdrant.Host,
			Port:         cfg.Qdrant.Port,
			UseTLS:       cfg.Qdrant.UseTLS,
			APIKey:       cfg.Qdrant.APIKey.Value(),
			MaxRetries:   cfg.Qdrant.MaxRetries,
			RetryBackoff: cfg.Qdrant.RetryBackoff.Duration(),
		}, embedder, logger)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
}
