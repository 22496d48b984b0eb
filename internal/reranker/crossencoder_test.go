package reranker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/Fuzyal234/Fuz-AgenticAI/internal/config"
	"github.com/Fuzyal234/Fuz-AgenticAI/internal/logging"
)

// teiServer fakes TEI's /rerank endpoint. scores maps a text to its
// relevance; results are returned sorted by score, as TEI does.
func teiServer(t *testing.T, status int, scores map[string]float32) (*httptest.Server, func() []rerankRequest) {
	t.Helper()
	var (
		mu  sync.Mutex
		got []rerankRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rerank", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req rerankRequest
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mu.Lock()
		got = append(got, req)
		mu.Unlock()

		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":"model overloaded"}`))
			return
		}
		results := make([]rerankResult, len(req.Texts))
		for i, text := range req.Texts {
			results[i] = rerankResult{Index: i, Score: scores[text]}
		}
		for i := 1; i < len(results); i++ {
			for j := i; j > 0 && results[j].Score > results[j-1].Score; j-- {
				results[j], results[j-1] = results[j-1], results[j]
			}
		}
		_ = json.NewEncoder(w).Encode(results)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []rerankRequest {
		mu.Lock()
		defer mu.Unlock()
		return slices.Clone(got)
	}
}

func TestCrossEncoderReranker_Rerank(t *testing.T) {
	candidates := []Candidate{
		{ID: "a", Content: "invalid request parameter", Score: 0.9},
		{ID: "b", Content: "token refresh and authentication handling", Score: 0.85},
		{ID: "c", Content: "retry authentication with backoff", Score: 0.8},
	}
	scores := map[string]float32{
		"invalid request parameter":                 0.02,
		"token refresh and authentication handling": 0.41,
		"retry authentication with backoff":         0.97,
	}

	tests := []struct {
		name       string
		topK       int
		wantIDs    []string
		wantScores []float32
	}{
		{"orders by relevance", 10, []string{"c", "b", "a"}, []float32{0.97, 0.41, 0.02}},
		{"topK truncates", 1, []string{"c"}, []float32{0.97}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, reqs := teiServer(t, http.StatusOK, scores)
			r, err := NewCrossEncoderReranker(CrossEncoderConfig{BaseURL: srv.URL + "/"}, nil)
			require.NoError(t, err)

			got, err := r.Rerank(context.Background(), "authentication retry", candidates, tt.topK)
			require.NoError(t, err)
			assert.Equal(t, tt.wantIDs, ids(got))
			for i, s := range got {
				assert.InDelta(t, tt.wantScores[i], s.Combined, 1e-6)
			}
			assert.Equal(t, 2, got[0].OriginalRank)

			require.Len(t, reqs(), 1)
			req := reqs()[0]
			assert.Equal(t, "authentication retry", req.Query)
			assert.Equal(t, []string{"invalid request parameter", "token refresh and authentication handling", "retry authentication with backoff"}, req.Texts)
			assert.True(t, req.Truncate)
			assert.False(t, req.RawScores)
		})
	}
}

func TestCrossEncoderReranker_TiesKeepFirstPassOrder(t *testing.T) {
	srv, _ := teiServer(t, http.StatusOK, map[string]float32{"alpha": 0.5, "beta": 0.5})
	r, err := NewCrossEncoderReranker(CrossEncoderConfig{BaseURL: srv.URL}, nil)
	require.NoError(t, err)

	got, err := r.Rerank(context.Background(), "zzz", []Candidate{
		{ID: "first", Content: "alpha"},
		{ID: "second", Content: "beta"},
	}, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, ids(got))
}

func TestCrossEncoderReranker_SendsAPIKey(t *testing.T) {
	auth := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth <- r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`[{"index":0,"score":0.3}]`))
	}))
	defer srv.Close()

	r, err := NewCrossEncoderReranker(CrossEncoderConfig{BaseURL: srv.URL, APIKey: "hf_test"}, nil)
	require.NoError(t, err)
	_, err = r.Rerank(context.Background(), "q", []Candidate{{ID: "a", Content: "x"}}, 1)
	require.NoError(t, err)
	assert.Equal(t, "Bearer hf_test", <-auth)
}

func TestCrossEncoderReranker_FallsBack(t *testing.T) {
	candidates := []Candidate{
		{ID: "a", Content: "invalid request parameter", Score: 0.9},
		{ID: "b", Content: "retry authentication with backoff", Score: 0.8},
	}

	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}},
		{"malformed body", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"not":"a list"}`))
		}},
		{"missing scores", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`[{"index":0,"score":0.9}]`))
		}},
		{"index out of range", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`[{"index":0,"score":0.9},{"index":5,"score":0.1}]`))
		}},
		{"duplicate index", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`[{"index":0,"score":0.9},{"index":0,"score":0.1}]`))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()
			logger := logging.NewTestLogger()
			r, err := NewCrossEncoderReranker(CrossEncoderConfig{BaseURL: srv.URL}, logger.Logger)
			require.NoError(t, err)

			got, err := r.Rerank(context.Background(), "authentication retry", candidates, 2)
			require.NoError(t, err)
			want, err := NewOverlapReranker().Rerank(context.Background(), "authentication retry", candidates, 2)
			require.NoError(t, err)
			assert.Equal(t, want, got)
			logger.AssertLogged(t, zapcore.WarnLevel, "cross-encoder rerank failed")
		})
	}
}

func TestCrossEncoderReranker_NoFallbackReturnsError(t *testing.T) {
	srv, _ := teiServer(t, http.StatusInternalServerError, nil)
	r, err := NewCrossEncoderReranker(CrossEncoderConfig{BaseURL: srv.URL}, nil)
	require.NoError(t, err)
	r.Fallback = nil

	_, err = r.Rerank(context.Background(), "q", []Candidate{{ID: "a", Content: "x"}}, 1)
	require.ErrorIs(t, err, ErrRerankFailed)
	assert.Contains(t, err.Error(), "status 500")
	assert.Contains(t, err.Error(), "model overloaded")
}

func TestCrossEncoderReranker_Canceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()
	r, err := NewCrossEncoderReranker(CrossEncoderConfig{BaseURL: srv.URL}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = r.Rerank(ctx, "q", []Candidate{{ID: "a", Content: "x"}}, 1)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCrossEncoderReranker_EmptyCandidatesSkipsRequest(t *testing.T) {
	srv, reqs := teiServer(t, http.StatusOK, nil)
	r, err := NewCrossEncoderReranker(CrossEncoderConfig{BaseURL: srv.URL}, nil)
	require.NoError(t, err)

	got, err := r.Rerank(context.Background(), "q", nil, 5)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Empty(t, reqs())
}

func TestNew(t *testing.T) {
	t.Run("no endpoint uses overlap", func(t *testing.T) {
		r, err := New(config.RerankerConfig{Model: DefaultCrossEncoderModel}, nil)
		require.NoError(t, err)
		assert.IsType(t, &OverlapReranker{}, r)
	})
	t.Run("endpoint uses cross-encoder", func(t *testing.T) {
		r, err := New(config.RerankerConfig{
			BaseURL: "http://localhost:8081",
			Model:   "BAAI/bge-reranker-base",
			Timeout: config.Duration(time.Second),
		}, nil)
		require.NoError(t, err)
		ce, ok := r.(*CrossEncoderReranker)
		require.True(t, ok)
		assert.Equal(t, "BAAI/bge-reranker-base", ce.cfg.Model)
		assert.Equal(t, time.Second, ce.client.Timeout)
		assert.IsType(t, &OverlapReranker{}, ce.Fallback)
	})
	t.Run("missing base url", func(t *testing.T) {
		_, err := NewCrossEncoderReranker(CrossEncoderConfig{}, nil)
		require.Error(t, err)
	})
}
