package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

var (
	// ErrCollectionNotFound is returned when a collection does not exist.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrCollectionExists is returned when creating an existing collection.
	ErrCollectionExists = errors.New("collection already exists")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmptyDocuments indicates empty or nil documents.
	ErrEmptyDocuments = errors.New("empty or nil documents")

	// ErrConnectionFailed indicates the backend could not be reached.
	ErrConnectionFailed = errors.New("vector store connection failed")

	// ErrEmbeddingFailed indicates embedding generation failure.
	ErrEmbeddingFailed = errors.New("failed to generate embeddings")

	// ErrInvalidCollectionName indicates collection name validation failure.
	ErrInvalidCollectionName = errors.New("invalid collection name")
)

// Embedder generates vector embeddings from text.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Document is a unit of storage. Metadata values are strings on every
// backend; callers own any typing above that.
type Document struct {
	ID       string
	Content  string
	Metadata map[string]string
}

// SearchResult is a scored Document. Score is cosine similarity.
type SearchResult struct {
	ID       string
	Content  string
	Score    float32
	Metadata map[string]string
}

// Store is a collection-scoped vector index.
type Store interface {
	// AddDocuments embeds and upserts docs by ID.
	AddDocuments(ctx context.Context, collection string, docs []Document) error

	// Search returns up to k results ordered by descending score. Every
	// filter entry must equal the document's metadata value.
	Search(ctx context.Context, collection, query string, k int, filter map[string]string) ([]SearchResult, error)

	// GetDocuments fetches documents by ID. Unknown IDs are omitted.
	GetDocuments(ctx context.Context, collection string, ids []string) ([]Document, error)

	CreateCollection(ctx context.Context, collection string, vectorSize int) error
	CollectionExists(ctx context.Context, collection string) (bool, error)
	Close() error
}

var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// ValidateCollectionName checks name against ^[a-z0-9_]{1,64}$.
func ValidateCollectionName(name string) error {
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: must match ^[a-z0-9_]{1,64}$, got %q", ErrInvalidCollectionName, name)
	}
	return nil
}

const (
	maxK           = 10000
	maxQueryLength = 10000
)

func validateQuery(collection, query string, k int) (int, error) {
	if err := ValidateCollectionName(collection); err != nil {
		return 0, err
	}
	if k <= 0 {
		return 0, fmt.Errorf("k must be positive, got %d", k)
	}
	if query == "" {
		return 0, fmt.Errorf("query cannot be empty")
	}
	if len(query) > maxQueryLength {
		return 0, fmt.Errorf("query exceeds maximum length of %d characters", maxQueryLength)
	}
	return min(k, maxK), nil
}
