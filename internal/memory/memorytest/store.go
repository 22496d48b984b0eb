// Package memorytest builds memory stores for tests.
package memorytest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Fuzyal234/Fuz-AgenticAI/internal/memory"
	"github.com/Fuzyal234/Fuz-AgenticAI/internal/vectorstore"
	"github.com/Fuzyal234/Fuz-AgenticAI/internal/vectorstore/vectorstoretest"
)

// Dimension of the test embedder.
const Dimension = 64

// Options returns store options with short visibility and retry delays.
func Options() memory.Options {
	opts := memory.DefaultOptions()
	opts.Dimension = Dimension
	opts.EmbeddingModel = "hash-embedder"
	opts.Visibility = memory.VisibilityPolicy{Interval: 5 * time.Millisecond, Timeout: 200 * time.Millisecond}
	opts.Retry = memory.RetryPolicy{Attempts: 3, Backoff: time.Millisecond}
	return opts
}

// NewStore returns a Store over an in-memory chromem database with the
// default namespace provisioned.
func NewStore(tb testing.TB, options ...memory.Option) *memory.Store {
	tb.Helper()
	backend, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{}, vectorstoretest.NewHashEmbedder(Dimension), nil)
	require.NoError(tb, err)

	s := memory.New(backend, Options(), options...)
	_, err = s.Provision(context.Background(), "")
	require.NoError(tb, err)
	require.NoError(tb, s.Init(context.Background()))
	tb.Cleanup(func() { _ = s.Close() })
	return s
}
