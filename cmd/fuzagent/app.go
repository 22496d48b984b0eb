package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Fuzyal234/Fuz-AgenticAI/internal/config"
	"github.com/Fuzyal234/Fuz-AgenticAI/internal/embeddings"
	"github.com/Fuzyal234/Fuz-AgenticAI/internal/logging"
	"github.com/Fuzyal234/Fuz-AgenticAI/internal/memory"
	"github.com/Fuzyal234/Fuz-AgenticAI/internal/reranker"
	"github.com/Fuzyal234/Fuz-AgenticAI/internal/secrets"
	"github.com/Fuzyal234/Fuz-AgenticAI/internal/telemetry"
	"github.com/Fuzyal234/Fuz-AgenticAI/internal/vectorstore"
)

const shutdownTimeout = 10 * time.Second

// app holds the components every command shares. Fields are populated
// lazily; close releases whatever was opened.
type app struct {
	cfg      *config.Config
	logger   *logging.Logger
	tel      *telemetry.Telemetry
	scrubber secrets.Scrubber
	embedder embeddings.Provider
	store    *memory.Store
}

// newApp loads configuration and starts logging and telemetry.
func newApp(ctx context.Context, path string) (*app, error) {
	cfg, err := config.LoadWithFile(path)
	if err != nil {
		return nil, err
	}
	return newAppWithConfig(ctx, cfg)
}

func newAppWithConfig(ctx context.Context, cfg *config.Config) (*app, error) {
	tel, err := telemetry.New(ctx, telemetry.FromObservability(cfg.Observability, version))
	if err != nil {
		return nil, fmt.Errorf("initializing telemetry: %w", err)
	}
	logCfg, err := logging.FromObservability(cfg.Observability)
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, err
	}
	logger, err := logging.NewLogger(logCfg, tel.LoggerProvider())
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	scrubber, err := secrets.New(secrets.Config{
		Enabled:       cfg.Secrets.Enabled,
		AllowlistPath: cfg.Secrets.AllowlistPath,
	})
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, fmt.Errorf("initializing secret scrubber: %w", err)
	}
	if h := tel.Health(); h.Degraded {
		logger.Warn(ctx, "telemetry degraded, continuing without exporters", zap.String("error", h.LastError))
	} else if tel.IsEnabled() {
		logger.Debug(ctx, "telemetry enabled", zap.String("endpoint", cfg.Observability.OTLPEndpoint))
	}
	return &app{cfg: cfg, logger: logger, tel: tel, scrubber: scrubber}, nil
}

// openMemory connects the memory store without checking that any
// namespace exists.
func (a *app) openMemory(ctx context.Context) (*memory.Store, error) {
	if a.store != nil {
		return a.store, nil
	}
	embedder, err := embeddings.NewProvider(a.cfg.Embeddings)
	if err != nil {
		return nil, fmt.Errorf("initializing embeddings: %w", err)
	}
	backend, err := vectorstore.New(ctx, a.cfg.VectorStore, embedder, a.logger.Named("vectorstore"))
	if err != nil {
		_ = embedder.Close()
		return nil, fmt.Errorf("opening vector store: %w", err)
	}

	rr, err := reranker.New(a.cfg.Memory.Reranker, a.logger)
	if err != nil {
		_ = backend.Close()
		_ = embedder.Close()
		return nil, fmt.Errorf("initializing reranker: %w", err)
	}

	opts := memory.OptionsFromConfig(a.cfg.Memory, a.cfg.Embeddings)
	if opts.Dimension == 0 {
		opts.Dimension = embedder.Dimension()
	}
	a.embedder = embedder
	a.store = memory.New(backend, opts,
		memory.WithScrubber(a.scrubber),
		memory.WithLogger(a.logger.Named("memory")),
		memory.WithReranker(rr))
	return a.store, nil
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.embedder != nil {
		errs = append(errs, a.embedder.Close())
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn(ctx, "closing memory store", zap.Error(err))
	}
	if err := a.tel.Shutdown(ctx); err != nil {
		a.logger.Warn(ctx, "telemetry shutdown", zap.Error(err))
	}
	_ = a.logger.Sync()
}
