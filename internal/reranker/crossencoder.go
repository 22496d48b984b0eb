package reranker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Fuzyal234/Fuz-AgenticAI/internal/config"
	"github.com/Fuzyal234/Fuz-AgenticAI/internal/logging"
)

// DefaultCrossEncoderModel is the cross-encoder served when none is named.
const DefaultCrossEncoderModel = "BAAI/bge-reranker-v2-m3"

// ErrRerankFailed indicates the rerank endpoint could not score a query.
var ErrRerankFailed = errors.New("rerank request failed")

// New returns a CrossEncoderReranker for cfg, or an OverlapReranker when
// no endpoint is configured.
func New(cfg config.RerankerConfig, logger *logging.Logger) (Reranker, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return NewOverlapReranker(), nil
	}
	r, err := NewCrossEncoderReranker(CrossEncoderConfig{
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
		APIKey:  cfg.APIKey.Value(),
		Timeout: cfg.Timeout.Duration(),
	}, logger)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// CrossEncoderConfig configures a Text Embeddings Inference server running
// a reranker model such as BAAI/bge-reranker-base.
type CrossEncoderConfig struct {
	// BaseURL of the TEI server, e.g. http://localhost:8081.
	BaseURL string
	// Model is reported in logs. TEI serves the model it was started with.
	Model   string
	APIKey  string
	Timeout time.Duration
}

// CrossEncoderReranker scores each query/candidate pair with a
// cross-encoder behind TEI's /rerank endpoint. When the endpoint fails the
// candidates are reranked by Fallback instead.
type CrossEncoderReranker struct {
	cfg      CrossEncoderConfig
	client   *http.Client
	logger   *logging.Logger
	Fallback Reranker
}

// NewCrossEncoderReranker returns a reranker calling cfg.BaseURL.
func NewCrossEncoderReranker(cfg CrossEncoderConfig, logger *logging.Logger) (*CrossEncoderReranker, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("reranker base URL required")
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultCrossEncoderModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &CrossEncoderReranker{
		cfg:      cfg,
		client:   &http.Client{Timeout: cfg.Timeout},
		logger:   logger.Named("reranker"),
		Fallback: NewOverlapReranker(),
	}, nil
}

type rerankRequest struct {
	Query     string   `json:"query"`
	Texts     []string `json:"texts"`
	RawScores bool     `json:"raw_scores"`
	Truncate  bool     `json:"truncate"`
}

type rerankResult struct {
	Index int     `json:"index"`
	Score float32 `json:"score"`
}

// Rerank orders candidates by cross-encoder relevance. Combined holds the
// relevance in [0,1]; equal scores keep their first-pass order.
func (r *CrossEncoderReranker) Rerank(ctx context.Context, query string, candidates []Candidate, topK int) ([]Scored, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return []Scored{}, nil
	}
	if topK <= 0 || topK > len(candidates) {
		topK = len(candidates)
	}

	scores, err := r.score(ctx, query, candidates)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if r.Fallback == nil {
			return nil, err
		}
		r.logger.Warn(ctx, "cross-encoder rerank failed, using fallback",
			zap.String("model", r.cfg.Model),
			zap.Error(err))
		return r.Fallback.Rerank(ctx, query, candidates, topK)
	}

	terms := Tokenize(query)
	out := make([]Scored, len(candidates))
	for i, c := range candidates {
		s := Scored{Candidate: c, OriginalRank: i, Combined: scores[i]}
		if len(terms) > 0 {
			s.Overlap = overlap(terms, Tokenize(c.Content))
		}
		out[i] = s
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Combined > out[j].Combined
	})
	return out[:topK], nil
}

// score returns one relevance per candidate, indexed like candidates.
func (r *CrossEncoderReranker) score(ctx context.Context, query string, candidates []Candidate) ([]float32, error) {
	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = c.Content
	}
	body, err := json.Marshal(rerankRequest{Query: query, Texts: texts, Truncate: true})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.BaseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.cfg.APIKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRerankFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: status %d: %s", ErrRerankFailed, resp.StatusCode, string(respBody))
	}

	var results []rerankResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if len(results) != len(candidates) {
		return nil, fmt.Errorf("%w: got %d scores for %d texts", ErrRerankFailed, len(results), len(candidates))
	}

	scores := make([]float32, len(candidates))
	seen := make([]bool, len(candidates))
	for _, res := range results {
		if res.Index < 0 || res.Index >= len(candidates) || seen[res.Index] {
			return nil, fmt.Errorf("%w: bad result index %d", ErrRerankFailed, res.Index)
		}
		seen[res.Index] = true
		scores[res.Index] = res.Score
	}
	return scores, nil
}
