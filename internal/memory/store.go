package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/Fuzyal234/Fuz-AgenticAI/internal/logging"
	"github.com/Fuzyal234/Fuz-AgenticAI/internal/reranker"
	"github.com/Fuzyal234/Fuz-AgenticAI/internal/secrets"
	"github.com/Fuzyal234/Fuz-AgenticAI/internal/vectorstore"
)

var tracer = otel.Tracer("github.com/Fuzyal234/Fuz-AgenticAI/internal/memory")

var (
	// ErrNotVisible is returned by WaitVisible when the timeout elapses.
	ErrNotVisible = errors.New("record not visible")

	// ErrRecordNotFound is returned by Get for an unknown ID.
	ErrRecordNotFound = errors.New("record not found")
)

// Store is the namespaced semantic memory. It is safe for concurrent use.
type Store struct {
	backend  vectorstore.Store
	reranker reranker.Reranker
	scrubber secrets.Scrubber
	logger   *logging.Logger
	opts     Options
}

// New returns a Store over backend. Call Init before use to confirm the
// default namespace is provisioned.
func New(backend vectorstore.Store, opts Options, options ...Option) *Store {
	s := &Store{
		backend:  backend,
		reranker: reranker.NewOverlapReranker(),
		scrubber: secrets.Noop(),
		logger:   logging.NewNop(),
		opts:     opts.withDefaults(),
	}
	for _, o := range options {
		o(s)
	}
	s.logger = s.logger.Named("memory")
	return s
}

// Namespace returns the default namespace.
func (s *Store) Namespace() string { return s.opts.Namespace }

// CollectionName maps a namespace onto a vector store collection name.
func CollectionName(namespace string) (string, error) {
	name := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(namespace)), "-", "_")
	if err := vectorstore.ValidateCollectionName(name); err != nil {
		return "", &ValidationError{Field: "namespace", Reason: err.Error()}
	}
	return name, nil
}

func (s *Store) resolve(namespace string) (string, string, error) {
	if namespace == "" {
		namespace = s.opts.Namespace
	}
	coll, err := CollectionName(namespace)
	return namespace, coll, err
}

func (s *Store) notFound(namespace, collection string) *NotFoundError {
	return &NotFoundError{
		Namespace:   namespace,
		Collection:  collection,
		Remediation: remediation(namespace, s.opts.Dimension, s.opts.EmbeddingModel),
	}
}

// Init verifies the default namespace exists.
func (s *Store) Init(ctx context.Context) error {
	ns, coll, err := s.resolve("")
	if err != nil {
		return err
	}
	var exists bool
	err = s.retry(ctx, "init", func(ctx context.Context) error {
		var err error
		exists, err = s.backend.CollectionExists(ctx, coll)
		return err
	})
	if err != nil {
		return err
	}
	if !exists {
		return s.notFound(ns, coll)
	}
	s.logger.Debug(ctx, "memory store ready", zap.String("namespace", ns), zap.String("collection", coll))
	return nil
}

// Provision creates the collection backing namespace. It reports false
// when the collection already existed.
func (s *Store) Provision(ctx context.Context, namespace string) (bool, error) {
	ns, coll, err := s.resolve(namespace)
	if err != nil {
		return false, err
	}
	err = s.retry(ctx, "provision", func(ctx context.Context) error {
		return s.backend.CreateCollection(ctx, coll, s.opts.Dimension)
	})
	if errors.Is(err, vectorstore.ErrCollectionExists) {
		s.logger.Info(ctx, "namespace already provisioned", zap.String("namespace", ns))
		return false, nil
	}
	if err != nil {
		return false, err
	}
	s.logger.Info(ctx, "provisioned namespace",
		zap.String("namespace", ns),
		zap.String("collection", coll),
		zap.Int("dimension", s.opts.Dimension))
	return true, nil
}

// Close releases the backend.
func (s *Store) Close() error {
	_ = s.logger.Sync()
	return s.backend.Close()
}

// Put validates and upserts one record and returns its ID. Storing the
// same kind, content and attributes again returns the same ID.
func (s *Store) Put(ctx context.Context, kind Kind, content string, attrs Attributes, namespace string) (string, error) {
	ctx, span := tracer.Start(ctx, "memory.Put")
	defer span.End()
	span.SetAttributes(attribute.String("kind", string(kind)))

	rec, err := s.prepare(kind, content, attrs)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	if err := s.write(ctx, namespace, []Record{rec}); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	return rec.ID, nil
}

// prepare validates, scrubs and truncates input into a Record with its ID.
func (s *Store) prepare(kind Kind, content string, attrs Attributes) (Record, error) {
	norm, err := validate(kind, attrs)
	if err != nil {
		return Record{}, err
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return Record{}, &ValidationError{Kind: kind, Reason: "content is empty"}
	}
	content = truncate(s.scrubber.Scrub(content).Scrubbed, s.opts.MaxContentLength)
	for k, v := range norm {
		if str, ok := v.(string); ok {
			norm[k] = truncate(s.scrubber.Scrub(str).Scrubbed, s.opts.MaxAttributeLength)
		}
	}
	return Record{
		ID:         RecordID(kind, content, norm),
		Kind:       kind,
		Content:    content,
		Attributes: norm,
	}, nil
}

// write upserts records in a single backend batch.
func (s *Store) write(ctx context.Context, namespace string, recs []Record) error {
	ns, coll, err := s.resolve(namespace)
	if err != nil {
		return err
	}
	docs := make([]vectorstore.Document, len(recs))
	for i, r := range recs {
		md := make(map[string]string, len(r.Attributes)+1)
		for k, v := range r.Attributes {
			md[k] = encodeValue(v)
		}
		md[reservedAttribute] = string(r.Kind)
		docs[i] = vectorstore.Document{ID: r.ID, Content: r.Content, Metadata: md}
	}

	err = s.retry(ctx, "put", func(ctx context.Context) error {
		return s.backend.AddDocuments(ctx, coll, docs)
	})
	if errors.Is(err, vectorstore.ErrCollectionNotFound) {
		// An unprovisioned index is unavailable for writes.
		return &CapacityError{Op: "put", Attempts: 1, Err: s.notFound(ns, coll)}
	}
	if err != nil {
		return err
	}
	s.logger.Debug(ctx, "stored records", zap.String("namespace", ns), zap.Int("count", len(recs)))
	return nil
}

// Filter restricts Search by equality. A zero Kind matches every kind.
type Filter struct {
	Kind       Kind
	Attributes Attributes
}

func (f Filter) metadata() (map[string]string, error) {
	md := make(map[string]string, len(f.Attributes)+1)
	for k, v := range f.Attributes {
		if k == reservedAttribute {
			return nil, &ValidationError{Field: k, Reason: "use Filter.Kind"}
		}
		enc, err := encodeFilterValue(v)
		if err != nil {
			return nil, &ValidationError{Field: k, Reason: err.Error()}
		}
		md[k] = enc
	}
	if f.Kind != "" {
		if !f.Kind.Valid() {
			return nil, &ValidationError{Reason: fmt.Sprintf("unknown kind %q", f.Kind)}
		}
		md[reservedAttribute] = string(f.Kind)
	}
	return md, nil
}

func encodeFilterValue(v any) (string, error) {
	for _, t := range []fieldType{typeString, typeBool, typeInt, typeFloat} {
		if nv, err := normalize(t, v); err == nil {
			return encodeValue(nv), nil
		}
	}
	return "", fmt.Errorf("must be a scalar, got %T", v)
}

// Search returns up to topK records relevant to query, best first. It
// fetches 2*topK candidates and reranks them.
func (s *Store) Search(ctx context.Context, query string, topK int, namespace string, filter Filter) ([]Result, error) {
	ctx, span := tracer.Start(ctx, "memory.Search")
	defer span.End()
	span.SetAttributes(attribute.Int("top_k", topK))

	if strings.TrimSpace(query) == "" {
		return nil, &ValidationError{Reason: "query is empty"}
	}
	if topK <= 0 {
		return nil, &ValidationError{Reason: fmt.Sprintf("top_k must be > 0, got %d", topK)}
	}
	where, err := filter.metadata()
	if err != nil {
		return nil, err
	}
	ns, coll, err := s.resolve(namespace)
	if err != nil {
		return nil, err
	}

	var hits []vectorstore.SearchResult
	err = s.retry(ctx, "search", func(ctx context.Context) error {
		var err error
		hits, err = s.backend.Search(ctx, coll, query, topK*2, where)
		return err
	})
	if errors.Is(err, vectorstore.ErrCollectionNotFound) {
		nf := s.notFound(ns, coll)
		span.SetStatus(codes.Error, nf.Error())
		return nil, nf
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	candidates := make([]reranker.Candidate, len(hits))
	for i, h := range hits {
		candidates[i] = reranker.Candidate{ID: h.ID, Content: h.Content, Score: h.Score, Metadata: h.Metadata}
	}
	ranked, err := s.reranker.Rerank(ctx, query, candidates, topK)
	if err != nil {
		return nil, fmt.Errorf("reranking: %w", err)
	}

	out := make([]Result, len(ranked))
	for i, r := range ranked {
		out[i] = Result{Record: decode(ns, r.ID, r.Content, r.Metadata), Score: r.Combined}
	}
	span.SetAttributes(attribute.Int("results", len(out)))
	s.logger.Trace(ctx, "memory search",
		zap.String("namespace", ns),
		zap.Int("candidates", len(hits)),
		zap.Int("results", len(out)))
	return out, nil
}

// Get fetches a record by ID.
func (s *Store) Get(ctx context.Context, id, namespace string) (Record, error) {
	ns, coll, err := s.resolve(namespace)
	if err != nil {
		return Record{}, err
	}
	var docs []vectorstore.Document
	err = s.retry(ctx, "get", func(ctx context.Context) error {
		var err error
		docs, err = s.backend.GetDocuments(ctx, coll, []string{id})
		return err
	})
	if errors.Is(err, vectorstore.ErrCollectionNotFound) {
		return Record{}, s.notFound(ns, coll)
	}
	if err != nil {
		return Record{}, err
	}
	if len(docs) == 0 {
		return Record{}, fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}
	return decode(ns, docs[0].ID, docs[0].Content, docs[0].Metadata), nil
}

// decode rebuilds a Record from backend metadata, restoring schema types.
func decode(namespace, id, content string, md map[string]string) Record {
	kind := Kind(md[reservedAttribute])
	attrs := make(Attributes, len(md))
	for k, v := range md {
		if k == reservedAttribute {
			continue
		}
		if f, ok := lookupField(kind, k); ok {
			attrs[k] = decodeValue(f.typ, v)
		} else {
			attrs[k] = v
		}
	}
	return Record{ID: id, Namespace: namespace, Kind: kind, Content: content, Attributes: attrs}
}

// WaitVisible polls until id is readable in namespace, the visibility
// timeout elapses (ErrNotVisible) or ctx ends.
func (s *Store) WaitVisible(ctx context.Context, id, namespace string) error {
	ns, coll, err := s.resolve(namespace)
	if err != nil {
		return err
	}
	p := s.opts.Visibility
	deadline := time.NewTimer(p.Timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	for {
		docs, err := s.backend.GetDocuments(ctx, coll, []string{id})
		switch {
		case errors.Is(err, vectorstore.ErrCollectionNotFound):
			return s.notFound(ns, coll)
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Debug(ctx, "visibility check failed", zap.String("id", id), zap.Error(err))
		case len(docs) > 0:
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("%w: %s in %s after %s", ErrNotVisible, id, ns, p.Timeout)
		case <-ticker.C:
		}
	}
}

// retry runs fn until it succeeds, fails permanently or the attempt budget
// is spent, in which case the last error is wrapped in a CapacityError.
func (s *Store) retry(ctx context.Context, op string, fn func(context.Context) error) error {
	backoff := s.opts.Retry.Backoff
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil || !retryable(err) {
			return err
		}
		if attempt >= s.opts.Retry.Attempts {
			s.logger.Error(ctx, "memory backend unavailable",
				zap.String("op", op), zap.Int("attempts", attempt), zap.Error(err))
			return &CapacityError{Op: op, Attempts: attempt, Err: err}
		}
		s.logger.Warn(ctx, "memory backend call failed, retrying",
			zap.String("op", op), zap.Int("attempt", attempt), zap.Duration("backoff", backoff), zap.Error(err))

		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		backoff *= 2
	}
}

func retryable(err error) bool {
	var ve *ValidationError
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, vectorstore.ErrCollectionNotFound),
		errors.Is(err, vectorstore.ErrCollectionExists),
		errors.Is(err, vectorstore.ErrInvalidConfig),
		errors.Is(err, vectorstore.ErrInvalidCollectionName),
		errors.Is(err, vectorstore.ErrEmptyDocuments):
		return false
	case errors.As(err, &ve):
		return false
	}
	return true
}
