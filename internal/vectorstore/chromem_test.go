package vectorstore

import (
	"context"
	"errors"
	"testing"

	"github.com/Fuzyal234/Fuz-AgenticAI/internal/vectorstore/vectorstoretest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestChromemStore(t *testing.T) *ChromemStore {
	t.Helper()
	s, err := NewChromemStore(ChromemConfig{}, vectorstoretest.NewHashEmbedder(64), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestChromemStore_NoImplicitCollections(t *testing.T) {
	s := newTestChromemStore(t)
	ctx := context.Background()

	err := s.AddDocuments(ctx, "missing", []Document{{ID: "a", Content: "x"}})
	assert.ErrorIs(t, err, ErrCollectionNotFound)

	_, err = s.Search(ctx, "missing", "x", 3, nil)
	assert.ErrorIs(t, err, ErrCollectionNotFound)

	exists, err := s.CollectionExists(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestChromemStore_AddSearchGet(t *testing.T) {
	s := newTestChromemStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateCollection(ctx, "agentic_memory", 64))
	assert.ErrorIs(t, s.CreateCollection(ctx, "agentic_memory", 64), ErrCollectionExists)

	docs := []Document{
		{ID: "1", Content: "parse config file yaml", Metadata: map[string]string{"kind": "code"}},
		{ID: "2", Content: "retry network timeout", Metadata: map[string]string{"kind": "error_pattern"}},
		{ID: "3", Content: "yaml parser handles anchors", Metadata: map[string]string{"kind": "decision"}},
	}
	require.NoError(t, s.AddDocuments(ctx, "agentic_memory", docs))

	t.Run("ranked by similarity", func(t *testing.T) {
		res, err := s.Search(ctx, "agentic_memory", "yaml config", 10, nil)
		require.NoError(t, err)
		require.Len(t, res, 3)
		assert.Equal(t, "1", res[0].ID)
		assert.GreaterOrEqual(t, res[0].Score, res[1].Score)
	})

	t.Run("filter", func(t *testing.T) {
		res, err := s.Search(ctx, "agentic_memory", "yaml", 5, map[string]string{"kind": "decision"})
		require.NoError(t, err)
		require.Len(t, res, 1)
		assert.Equal(t, "3", res[0].ID)
		assert.Equal(t, "decision", res[0].Metadata["kind"])
	})

	t.Run("get by id skips unknown", func(t *testing.T) {
		got, err := s.GetDocuments(ctx, "agentic_memory", []string{"2", "nope"})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "retry network timeout", got[0].Content)
	})

	t.Run("upsert by id", func(t *testing.T) {
		require.NoError(t, s.AddDocuments(ctx, "agentic_memory", docs[:1]))
		res, err := s.Search(ctx, "agentic_memory", "yaml", 10, nil)
		require.NoError(t, err)
		assert.Len(t, res, 3)
	})
}

func TestChromemStore_Persistent(t *testing.T) {
	dir := t.TempDir()
	emb := vectorstoretest.NewHashEmbedder(32)
	ctx := context.Background()

	s, err := NewChromemStore(ChromemConfig{Path: dir}, emb, nil)
	require.NoError(t, err)
	require.NoError(t, s.CreateCollection(ctx, "ns", 32))
	require.NoError(t, s.AddDocuments(ctx, "ns", []Document{{ID: "a", Content: "hello world"}}))

	reopened, err := NewChromemStore(ChromemConfig{Path: dir}, emb, nil)
	require.NoError(t, err)
	exists, err := reopened.CollectionExists(ctx, "ns")
	require.NoError(t, err)
	assert.True(t, exists)
	got, err := reopened.GetDocuments(ctx, "ns", []string{"a"})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestChromemStore_EmbeddingFailure(t *testing.T) {
	emb := vectorstoretest.NewHashEmbedder(16)
	s, err := NewChromemStore(ChromemConfig{}, emb, nil)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.CreateCollection(ctx, "ns", 16))

	emb.Err = errors.New("model offline")
	err = s.AddDocuments(ctx, "ns", []Document{{ID: "a", Content: "x"}})
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
}

func TestValidation(t *testing.T) {
	s := newTestChromemStore(t)
	ctx := context.Background()

	tests := []struct {
		name       string
		collection string
		query      string
		k          int
	}{
		{name: "bad collection", collection: "Bad-Name", query: "q", k: 1},
		{name: "empty query", collection: "ns", query: "", k: 1},
		{name: "zero k", collection: "ns", query: "q", k: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Search(ctx, tt.collection, tt.query, tt.k, nil)
			assert.Error(t, err)
		})
	}
	assert.ErrorIs(t, s.AddDocuments(ctx, "ns", nil), ErrEmptyDocuments)
	_, err := NewChromemStore(ChromemConfig{}, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
