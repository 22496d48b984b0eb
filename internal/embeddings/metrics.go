package embeddings

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/Fuzyal234/Fuz-AgenticAI/internal/embeddings"

type metrics struct {
	duration  metric.Float64Histogram
	batchSize metric.Int64Histogram
	errors    metric.Int64Counter
}

func newMetrics() *metrics {
	meter := otel.Meter(instrumentationName)
	m := &metrics{}
	// Instrument creation only fails on invalid names; a nil instrument is skipped.
	m.duration, _ = meter.Float64Histogram(
		"fuzagent.embedding.duration_seconds",
		metric.WithDescription("Embedding generation latency by model and operation"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	m.batchSize, _ = meter.Int64Histogram(
		"fuzagent.embedding.batch_size",
		metric.WithDescription("Texts per embedding request"),
		metric.WithUnit("{text}"),
	)
	m.errors, _ = meter.Int64Counter(
		"fuzagent.embedding.errors_total",
		metric.WithDescription("Embedding generation failures"),
		metric.WithUnit("{error}"),
	)
	return m
}

func (m *metrics) record(ctx context.Context, model, op string, d time.Duration, batch int, err error) {
	attrs := metric.WithAttributes(attribute.String("model", model), attribute.String("operation", op))
	if m.duration != nil {
		m.duration.Record(ctx, d.Seconds(), attrs)
	}
	if m.batchSize != nil && batch > 0 {
		m.batchSize.Record(ctx, int64(batch), attrs)
	}
	if m.errors != nil && err != nil {
		m.errors.Add(ctx, 1, attrs)
	}
}

// instrumented wraps a Provider with metrics.
type instrumented struct {
	Provider
	model   string
	metrics *metrics
}

// Instrument records latency, batch size and errors for every call to p.
func Instrument(p Provider, model string) Provider {
	return &instrumented{Provider: p, model: model, metrics: newMetrics()}
}

func (i *instrumented) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	vecs, err := i.Provider.EmbedDocuments(ctx, texts)
	i.metrics.record(ctx, i.model, "embed_documents", time.Since(start), len(texts), err)
	return vecs, err
}

func (i *instrumented) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	vec, err := i.Provider.EmbedQuery(ctx, text)
	i.metrics.record(ctx, i.model, "embed_query", time.Since(start), 1, err)
	return vec, err
}
