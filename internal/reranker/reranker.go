// Package reranker reorders first-pass vector search candidates.
package reranker

import (
	"context"
	"sort"
	"strings"
	"unicode"
)

// Candidate is a first-pass search hit.
type Candidate struct {
	ID       string
	Content  string
	Score    float32 // first-pass similarity, expected in [0,1]
	Metadata map[string]string
}

// Scored is a Candidate after reranking.
type Scored struct {
	Candidate
	Overlap      float32 // share of query terms present in Content
	Combined     float32
	OriginalRank int
}

// Reranker reorders candidates for a query and keeps the best topK.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []Candidate, topK int) ([]Scored, error)
}

// OverlapReranker blends first-pass similarity with lexical term overlap.
// Equal combined scores keep their first-pass order.
type OverlapReranker struct {
	// SimilarityWeight is the share given to first-pass similarity; the
	// remainder goes to term overlap.
	SimilarityWeight float32
}

// NewOverlapReranker returns a reranker weighting both signals equally.
func NewOverlapReranker() *OverlapReranker {
	return &OverlapReranker{SimilarityWeight: 0.5}
}

func (r *OverlapReranker) Rerank(ctx context.Context, query string, candidates []Candidate, topK int) ([]Scored, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if topK <= 0 || topK > len(candidates) {
		topK = len(candidates)
	}

	terms := Tokenize(query)
	w := r.SimilarityWeight
	out := make([]Scored, len(candidates))
	for i, c := range candidates {
		s := Scored{Candidate: c, OriginalRank: i, Combined: c.Score}
		if len(terms) > 0 {
			s.Overlap = overlap(terms, Tokenize(c.Content))
			s.Combined = w*c.Score + (1-w)*s.Overlap
		}
		out[i] = s
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Combined > out[j].Combined
	})
	return out[:topK], nil
}

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "from": true, "this": true,
	"that": true, "are": true, "was": true, "has": true, "have": true, "not": true,
	"but": true, "can": true, "should": true, "will": true, "into": true, "its": true,
}

// Tokenize lowercases text and keeps alphanumeric terms longer than two
// characters that are not stopwords. Underscores join terms so
// identifiers such as file_path stay whole.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) > 2 && !stopwords[f] {
			out = append(out, f)
		}
	}
	return out
}

// overlap is the fraction of distinct query terms found in doc.
func overlap(query, doc []string) float32 {
	docSet := make(map[string]struct{}, len(doc))
	for _, t := range doc {
		docSet[t] = struct{}{}
	}
	distinct := make(map[string]struct{}, len(query))
	hits := 0
	for _, t := range query {
		if _, seen := distinct[t]; seen {
			continue
		}
		distinct[t] = struct{}{}
		if _, ok := docSet[t]; ok {
			hits++
		}
	}
	return float32(hits) / float32(len(distinct))
}
