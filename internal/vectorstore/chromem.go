package vectorstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Fuzyal234/Fuz-AgenticAI/internal/logging"
	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var chromemTracer = otel.Tracer("fuzagent.vectorstore.chromem")

// ChromemConfig configures the embedded database.
type ChromemConfig struct {
	// Path is the persistence directory. Empty keeps everything in memory.
	Path     string
	Compress bool
}

// ChromemStore implements Store on chromem-go.
type ChromemStore struct {
	db       *chromem.DB
	embedder Embedder
	logger   *logging.Logger
}

// NewChromemStore opens (or creates) the database at cfg.Path.
func NewChromemStore(cfg ChromemConfig, embedder Embedder, logger *logging.Logger) (*ChromemStore, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	var db *chromem.DB
	if cfg.Path == "" {
		db = chromem.NewDB()
	} else {
		path, err := expandPath(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("expanding path: %w", err)
		}
		if err := os.MkdirAll(path, 0o700); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", path, err)
		}
		db, err = chromem.NewPersistentDB(path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("%w: opening chromem db: %v", ErrConnectionFailed, err)
		}
		logger.Debug(context.Background(), "chromem store opened", zap.String("path", path), zap.Bool("compress", cfg.Compress))
	}
	return &ChromemStore{db: db, embedder: embedder, logger: logger}, nil
}

func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

func (s *ChromemStore) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return s.embedder.EmbedQuery(ctx, text)
	}
}

func (s *ChromemStore) collection(name string) (*chromem.Collection, error) {
	if err := ValidateCollectionName(name); err != nil {
		return nil, err
	}
	c := s.db.GetCollection(name, s.embeddingFunc())
	if c == nil {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	return c, nil
}

func (s *ChromemStore) AddDocuments(ctx context.Context, collection string, docs []Document) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.AddDocuments")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collection), attribute.Int("document_count", len(docs)))

	if len(docs) == 0 {
		return ErrEmptyDocuments
	}
	c, err := s.collection(collection)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Content
	}
	vecs, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}

	cdocs := make([]chromem.Document, len(docs))
	for i, d := range docs {
		cdocs[i] = chromem.Document{
			ID:        d.ID,
			Content:   d.Content,
			Metadata:  d.Metadata,
			Embedding: vecs[i],
		}
	}
	if err := c.AddDocuments(ctx, cdocs, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("adding documents to %s: %w", collection, err)
	}
	span.SetStatus(codes.Ok, "success")
	return nil
}

func (s *ChromemStore) Search(ctx context.Context, collection, query string, k int, filter map[string]string) ([]SearchResult, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Search")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collection), attribute.Int("k", k))

	k, err := validateQuery(collection, query, k)
	if err != nil {
		return nil, err
	}
	c, err := s.collection(collection)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	// chromem requires nResults <= document count.
	count := c.Count()
	if count == 0 {
		return []SearchResult{}, nil
	}
	k = min(k, count)

	var where map[string]string
	if len(filter) > 0 {
		where = filter
	}
	results, err := c.Query(ctx, query, k, where, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying collection %s: %w", collection, err)
	}

	out := make([]SearchResult, len(results))
	for i, r := range results {
		out[i] = SearchResult{ID: r.ID, Content: r.Content, Score: r.Similarity, Metadata: r.Metadata}
	}
	span.SetAttributes(attribute.Int("results_count", len(out)))
	s.logger.Trace(ctx, "searched chromem collection",
		zap.String("collection", collection), zap.Int("k", k), zap.Int("results", len(out)))
	return out, nil
}

func (s *ChromemStore) GetDocuments(ctx context.Context, collection string, ids []string) ([]Document, error) {
	c, err := s.collection(collection)
	if err != nil {
		return nil, err
	}
	out := make([]Document, 0, len(ids))
	for _, id := range ids {
		d, err := c.GetByID(ctx, id)
		if err != nil {
			// chromem reports unknown IDs as an error.
			continue
		}
		out = append(out, Document{ID: d.ID, Content: d.Content, Metadata: d.Metadata})
	}
	return out, nil
}

func (s *ChromemStore) CreateCollection(_ context.Context, collection string, _ int) error {
	if err := ValidateCollectionName(collection); err != nil {
		return err
	}
	if s.db.GetCollection(collection, nil) != nil {
		return fmt.Errorf("%w: %s", ErrCollectionExists, collection)
	}
	// chromem infers dimension from the first document.
	metadata := map[string]string{"distance": "cosine"}
	if _, err := s.db.CreateCollection(collection, metadata, s.embeddingFunc()); err != nil {
		return fmt.Errorf("creating collection %s: %w", collection, err)
	}
	return nil
}

func (s *ChromemStore) CollectionExists(_ context.Context, collection string) (bool, error) {
	if err := ValidateCollectionName(collection); err != nil {
		return false, err
	}
	return s.db.GetCollection(collection, nil) != nil, nil
}

// Close is a no-op: the persistent DB writes through on every add.
func (s *ChromemStore) Close() error {
	return nil
}
