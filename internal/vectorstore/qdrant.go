package vectorstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Fuzyal234/Fuz-AgenticAI/internal/logging"
	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var qdrantTracer = otel.Tracer("fuzagent.vectorstore.qdrant")

const (
	payloadContent = "content"
	payloadID      = "id"
)

// QdrantConfig configures the gRPC client.
type QdrantConfig struct {
	Host   string
	Port   int // gRPC port, 6334 by default
	UseTLS bool
	APIKey string

	MaxRetries   int
	RetryBackoff time.Duration // doubles per retry

	MaxMessageSize          int
	CircuitBreakerThreshold int
	CircuitBreakerCooldown  time.Duration
}

// ApplyDefaults fills unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = time.Second
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
	if c.CircuitBreakerThreshold == 0 {
		c.CircuitBreakerThreshold = 5
	}
	if c.CircuitBreakerCooldown == 0 {
		c.CircuitBreakerCooldown = 30 * time.Second
	}
}

// Validate checks the configuration.
func (c QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host is required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: port out of range: %d", ErrInvalidConfig, c.Port)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("%w: max retries must be >= 0", ErrInvalidConfig)
	}
	return nil
}

// IsTransientError reports whether a gRPC error is worth retrying.
func IsTransientError(err error) bool {
	st, ok := status.FromError(err)
	if err == nil || !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

func isNotFound(err error) bool {
	st, ok := status.FromError(err)
	return ok && st.Code() == grpccodes.NotFound
}

// QdrantStore implements Store on Qdrant's native gRPC API. Point IDs
// must be UUIDs; the original ID is kept in the payload as well.
type QdrantStore struct {
	client   *qdrant.Client
	embedder Embedder
	config   QdrantConfig
	logger   *logging.Logger

	breaker struct {
		mu       sync.Mutex
		failures int
		lastFail time.Time
	}
}

// NewQdrantStore connects and health-checks the server.
func NewQdrantStore(ctx context.Context, cfg QdrantConfig, embedder Embedder, logger *logging.Logger) (*QdrantStore, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if !cfg.UseTLS {
		logger.Warn(ctx, "qdrant gRPC connection is plaintext", zap.String("host", cfg.Host))
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		UseTLS: cfg.UseTLS,
		APIKey: cfg.APIKey,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(cfg.MaxMessageSize),
				grpc.MaxCallSendMsgSize(cfg.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := client.HealthCheck(hctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: health check: %v", ErrConnectionFailed, err)
	}
	return &QdrantStore{client: client, embedder: embedder, config: cfg, logger: logger}, nil
}

// retryOperation retries transient failures with exponential backoff and
// trips a breaker after repeated failures.
func (s *QdrantStore) retryOperation(ctx context.Context, name string, op func() error) error {
	backoff := s.config.RetryBackoff
	for attempt := 0; ; attempt++ {
		if s.circuitOpen() {
			return fmt.Errorf("%s: %w: circuit breaker open", name, ErrConnectionFailed)
		}
		err := op()
		if err == nil {
			s.resetBreaker()
			return nil
		}
		if !IsTransientError(err) {
			return err
		}
		s.recordFailure()
		if attempt >= s.config.MaxRetries {
			return fmt.Errorf("%s failed after %d retries: %w: %v", name, s.config.MaxRetries, ErrConnectionFailed, err)
		}
		s.logger.Debug(ctx, "retrying qdrant operation", zap.String("operation", name), zap.Int("attempt", attempt+1), zap.Error(err))
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s canceled: %w", name, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}
}

func (s *QdrantStore) recordFailure() {
	s.breaker.mu.Lock()
	defer s.breaker.mu.Unlock()
	s.breaker.failures++
	s.breaker.lastFail = time.Now()
}

func (s *QdrantStore) resetBreaker() {
	s.breaker.mu.Lock()
	defer s.breaker.mu.Unlock()
	s.breaker.failures = 0
}

func (s *QdrantStore) circuitOpen() bool {
	s.breaker.mu.Lock()
	defer s.breaker.mu.Unlock()
	if s.breaker.failures < s.config.CircuitBreakerThreshold {
		return false
	}
	if time.Since(s.breaker.lastFail) > s.config.CircuitBreakerCooldown {
		s.breaker.failures = 0
		return false
	}
	return true
}

func (s *QdrantStore) AddDocuments(ctx context.Context, collection string, docs []Document) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.AddDocuments")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collection), attribute.Int("document_count", len(docs)))

	if len(docs) == 0 {
		return ErrEmptyDocuments
	}
	if err := ValidateCollectionName(collection); err != nil {
		return err
	}

	texts := make([]string, len(docs))
	for i, d := range docs {
		if _, err := uuid.Parse(d.ID); err != nil {
			return fmt.Errorf("document id %q is not a UUID: %w", d.ID, err)
		}
		texts[i] = d.Content
	}
	vecs, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}

	points := make([]*qdrant.PointStruct, len(docs))
	for i, d := range docs {
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(d.ID),
			Vectors: qdrant.NewVectors(vecs[i]...),
			Payload: toPayload(d),
		}
	}

	err = s.retryOperation(ctx, "upsert", func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: collection,
			Points:         points,
			Wait:           qdrant.PtrOf(true),
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return s.wrap(collection, "upserting points", err)
	}
	span.SetStatus(codes.Ok, "success")
	return nil
}

func (s *QdrantStore) Search(ctx context.Context, collection, query string, k int, filter map[string]string) ([]SearchResult, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Search")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collection), attribute.Int("k", k))

	k, err := validateQuery(collection, query, k)
	if err != nil {
		return nil, err
	}
	vec, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}

	var points []*qdrant.ScoredPoint
	err = s.retryOperation(ctx, "query", func() error {
		res, err := s.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: collection,
			Query:          qdrant.NewQuery(vec...),
			Limit:          qdrant.PtrOf(uint64(k)),
			WithPayload:    qdrant.NewWithPayload(true),
			Filter:         buildFilter(filter),
		})
		points = res
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, s.wrap(collection, "querying", err)
	}

	out := make([]SearchResult, len(points))
	for i, p := range points {
		doc := fromPayload(p.GetPayload())
		out[i] = SearchResult{ID: doc.ID, Content: doc.Content, Score: p.GetScore(), Metadata: doc.Metadata}
	}
	span.SetAttributes(attribute.Int("results_count", len(out)))
	return out, nil
}

func (s *QdrantStore) GetDocuments(ctx context.Context, collection string, ids []string) ([]Document, error) {
	if err := ValidateCollectionName(collection); err != nil {
		return nil, err
	}
	pids := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		if _, err := uuid.Parse(id); err == nil {
			pids = append(pids, qdrant.NewIDUUID(id))
		}
	}
	if len(pids) == 0 {
		return []Document{}, nil
	}

	var points []*qdrant.RetrievedPoint
	err := s.retryOperation(ctx, "get", func() error {
		res, err := s.client.Get(ctx, &qdrant.GetPoints{
			CollectionName: collection,
			Ids:            pids,
			WithPayload:    qdrant.NewWithPayload(true),
		})
		points = res
		return err
	})
	if err != nil {
		return nil, s.wrap(collection, "getting points", err)
	}
	out := make([]Document, 0, len(points))
	for _, p := range points {
		out = append(out, fromPayload(p.GetPayload()))
	}
	return out, nil
}

func (s *QdrantStore) CreateCollection(ctx context.Context, collection string, vectorSize int) error {
	if err := ValidateCollectionName(collection); err != nil {
		return err
	}
	if vectorSize <= 0 {
		return fmt.Errorf("%w: vector size must be positive", ErrInvalidConfig)
	}
	exists, err := s.CollectionExists(ctx, collection)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrCollectionExists, collection)
	}
	err = s.retryOperation(ctx, "create_collection", func() error {
		return s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(vectorSize),
				Distance: qdrant.Distance_Cosine,
			}),
		})
	})
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", collection, err)
	}
	return nil
}

func (s *QdrantStore) CollectionExists(ctx context.Context, collection string) (bool, error) {
	if err := ValidateCollectionName(collection); err != nil {
		return false, err
	}
	var exists bool
	err := s.retryOperation(ctx, "collection_exists", func() error {
		_, err := s.client.GetCollectionInfo(ctx, collection)
		if isNotFound(err) {
			exists = false
			return nil
		}
		exists = err == nil
		return err
	})
	if err != nil {
		return false, fmt.Errorf("checking collection %s: %w", collection, err)
	}
	return exists, nil
}

func (s *QdrantStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func (s *QdrantStore) wrap(collection, op string, err error) error {
	if isNotFound(err) {
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
	}
	return fmt.Errorf("%s %s: %w", op, collection, err)
}

func toPayload(d Document) map[string]*qdrant.Value {
	payload := make(map[string]*qdrant.Value, len(d.Metadata)+2)
	for k, v := range d.Metadata {
		payload[k] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: v}}
	}
	payload[payloadContent] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: d.Content}}
	payload[payloadID] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: d.ID}}
	return payload
}

func fromPayload(payload map[string]*qdrant.Value) Document {
	doc := Document{Metadata: make(map[string]string, len(payload))}
	for k, v := range payload {
		sv, ok := v.GetKind().(*qdrant.Value_StringValue)
		if !ok {
			continue
		}
		switch k {
		case payloadContent:
			doc.Content = sv.StringValue
		case payloadID:
			doc.ID = sv.StringValue
		default:
			doc.Metadata[k] = sv.StringValue
		}
	}
	return doc
}

func buildFilter(filter map[string]string) *qdrant.Filter {
	if len(filter) == 0 {
		return nil
	}
	conds := make([]*qdrant.Condition, 0, len(filter))
	for k, v := range filter {
		conds = append(conds, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key:   k,
					Match: &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: v}},
				},
			},
		})
	}
	return &qdrant.Filter{Must: conds}
}
