package vectorstore

import (
	"context"
	"testing"

	"github.com/Fuzyal234/Fuz-AgenticAI/internal/config"
	"github.com/Fuzyal234/Fuz-AgenticAI/internal/vectorstore/vectorstoretest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	cfg := config.Default().VectorStore
	cfg.Chromem.Path = t.TempDir()

	s, err := New(context.Background(), cfg, vectorstoretest.NewHashEmbedder(8), nil)
	require.NoError(t, err)
	assert.IsType(t, &ChromemStore{}, s)

	cfg.Provider = "pinecone"
	_, err = New(context.Background(), cfg, vectorstoretest.NewHashEmbedder(8), nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
