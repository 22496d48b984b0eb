package config

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"zero iterations", func(c *Config) { c.Pipeline.MaxIterations = 0 }, "max_iterations"},
		{"empty namespace", func(c *Config) { c.Memory.Namespace = " " }, "memory.namespace"},
		{"unknown store", func(c *Config) { c.VectorStore.Provider = "pinecone" }, "vectorstore.provider"},
		{"unknown embedder", func(c *Config) { c.Embeddings.Provider = "word2vec" }, "embeddings.provider"},
		{"bad repo", func(c *Config) { c.GitHub.Repo = "not-a-repo" }, "github.repo"},
		{"bad ci mode", func(c *Config) { c.CI.Mode = "push" }, "ci.mode"},
		{"negative webhook settle", func(c *Config) { c.CI.WebhookSettle = Duration(-time.Second) }, "ci.webhook_settle"},
		{"visibility timeout below interval", func(c *Config) { c.Memory.VisibilityTimeout = 1 }, "visibility_timeout"},
		{"reranker without timeout", func(c *Config) {
			c.Memory.Reranker.BaseURL = "http://localhost:8081"
			c.Memory.Reranker.Timeout = 0
		}, "memory.reranker.timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSecret_NeverLeaks(t *testing.T) {
	s := Secret("ghp_supersecret")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.NotContains(t, fmt.Sprintf("%#v", s), "ghp_")
	assert.Equal(t, "ghp_supersecret", s.Value())
	assert.True(t, s.IsSet())

	b, err := json.Marshal(struct{ Token Secret }{s})
	require.NoError(t, err)
	assert.NotContains(t, string(b), "ghp_")

	assert.False(t, Secret("").IsSet())
	assert.Equal(t, "", Secret("").String())
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, "1m30s", d.Duration().String())

	assert.Error(t, d.UnmarshalText([]byte("-5s")))
	assert.Error(t, d.UnmarshalText([]byte("soon")))
}
