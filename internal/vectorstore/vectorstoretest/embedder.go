// Package vectorstoretest provides a deterministic embedder for tests.
package vectorstoretest

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// HashEmbedder is a bag-of-words embedder: each token is hashed into one
// of Dim buckets. Texts sharing words score higher than texts that do not.
type HashEmbedder struct {
	Dim int
	// Err, when set, is returned by every call.
	Err error
}

// NewHashEmbedder returns a HashEmbedder with dim buckets.
func NewHashEmbedder(dim int) *HashEmbedder {
	return &HashEmbedder{Dim: dim}
}

func (e *HashEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	if e.Err != nil {
		return nil, e.Err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.embed(t)
	}
	return out, nil
}

func (e *HashEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	if e.Err != nil {
		return nil, e.Err
	}
	return e.embed(text), nil
}

func (e *HashEmbedder) Dimension() int { return e.Dim }

func (e *HashEmbedder) Close() error { return nil }

func (e *HashEmbedder) embed(text string) []float32 {
	vec := make([]float32, e.Dim)
	// Bias bucket keeps every vector non-zero.
	vec[0] = 0.1
	for _, tok := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		vec[1+int(h.Sum32())%(e.Dim-1)]++
	}
	var sum float64
	for _, v := range vec {
		sum += float64(v * v)
	}
	norm := float32(1 / math.Sqrt(sum))
	for i := range vec {
		vec[i] *= norm
	}
	return vec
}
