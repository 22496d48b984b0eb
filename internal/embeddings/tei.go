package embeddings

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// TEIConfig configures an OpenAI-compatible embedding endpoint.
type TEIConfig struct {
	BaseURL   string
	Model     string
	APIKey    string
	Dimension int
	BatchSize int
}

// TEIProvider embeds through the /embeddings route of an
// OpenAI-compatible server.
type TEIProvider struct {
	embedder  *embeddings.EmbedderImpl
	dimension int
}

// NewTEIProvider creates a TEIProvider. TEI ignores credentials, but the
// OpenAI client insists on a token, so a placeholder is sent when
// APIKey is empty.
func NewTEIProvider(cfg TEIConfig) (*TEIProvider, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be > 0", ErrInvalidConfig)
	}
	token := cfg.APIKey
	if token == "" {
		token = "unused"
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 32
	}

	client, err := openai.New(
		openai.WithBaseURL(strings.TrimRight(cfg.BaseURL, "/")),
		openai.WithEmbeddingModel(cfg.Model),
		openai.WithToken(token),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: creating client: %v", ErrInvalidConfig, err)
	}
	emb, err := embeddings.NewEmbedder(client, embeddings.WithBatchSize(batch))
	if err != nil {
		return nil, fmt.Errorf("%w: creating embedder: %v", ErrInvalidConfig, err)
	}
	return &TEIProvider{embedder: emb, dimension: cfg.Dimension}, nil
}

func (p *TEIProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	vecs, err := p.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("%w: expected %d embeddings, got %d", ErrEmbeddingFailed, len(texts), len(vecs))
	}
	return vecs, nil
}

func (p *TEIProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	vec, err := p.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	return vec, nil
}

func (p *TEIProvider) Dimension() int { return p.dimension }

// Close is a no-op; the client holds no resources beyond its HTTP transport.
func (p *TEIProvider) Close() error { return nil }
