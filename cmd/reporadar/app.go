package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/reporadar/internal/config"
	"github.com/fyrsmithlabs/reporadar/internal/embeddings"
	"github.com/fyrsmithlabs/reporadar/internal/github"
	"github.com/fyrsmithlabs/reporadar/internal/indexer"
	"github.com/fyrsmithlabs/reporadar/internal/logging"
	"github.com/fyrsmithlabs/reporadar/internal/telemetry"
	"github.com/fyrsmithlabs/reporadar/internal/vectorstore"
)

// app holds the components a command needs. Fields stay nil when the
// command did not ask for them.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry
	registry  *prometheus.Registry

	github   *github.Client
	embedder embeddings.Embedder
	store    *vectorstore.Store
	pipeline *indexer.Pipeline
}

// appParts selects which components newApp builds.
type appParts struct {
	store    bool
	pipeline bool
}

// newApp loads configuration and builds the requested components. The
// pipeline implies the store.
func newApp(ctx context.Context, parts appParts) (_ *app, err error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logCfg := logging.NewDefaultConfig()
	if err := logCfg.Apply(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		return nil, fmt.Errorf("configuring logger: %w", err)
	}
	logger, err := logging.NewLogger(logCfg, nil)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	tel, err := telemetry.New(ctx, telemetry.FromAppConfig(cfg.Telemetry, version))
	if err != nil {
		return nil, fmt.Errorf("initializing telemetry: %w", err)
	}
	if degraded, terr := tel.Degraded(); degraded {
		logger.Warn(ctx, "telemetry degraded, continuing without export", zap.Error(terr))
	}

	a := &app{
		cfg:       cfg,
		logger:    logger,
		telemetry: tel,
		registry:  prometheus.NewRegistry(),
	}
	defer func() {
		if err != nil {
			a.close(ctx)
		}
	}()

	a.github, err = github.New(github.Config{
		Token:          cfg.GitHub.Token.Value(),
		RequestTimeout: cfg.GitHub.RequestTimeout.Duration(),
	}, github.WithLogger(logger.Named("github")))
	if err != nil {
		return nil, fmt.Errorf("creating github client: %w", err)
	}
	if !cfg.GitHub.Token.IsSet() {
		logger.Warn(ctx, "no github token configured, requests are unauthenticated")
	}

	if parts.store || parts.pipeline {
		if err := a.openStore(ctx); err != nil {
			return nil, err
		}
	}
	if parts.pipeline {
		if err := a.buildPipeline(); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (a *app) openStore(ctx context.Context) error {
	backend, err := vectorstore.NewBackend(a.cfg.VectorStore, a.logger.Named("vectorstore"))
	if err != nil {
		return fmt.Errorf("creating vector backend: %w", err)
	}
	a.store = vectorstore.NewStore(backend, a.cfg.VectorStore.VectorSize,
		vectorstore.WithLogger(a.logger.Named("vectorstore")),
		vectorstore.WithMetrics(vectorstore.NewMetrics(a.registry)),
	)
	if err := a.store.EnsureCollection(ctx); err != nil {
		return fmt.Errorf("ensuring collection %q: %w", a.cfg.VectorStore.Collection, err)
	}
	return nil
}

func (a *app) buildPipeline() error {
	ec := a.cfg.Embeddings
	embedder, err := embeddings.NewProvider(embeddings.ProviderConfig{
		Provider:  ec.Provider,
		Model:     ec.Model,
		BaseURL:   ec.BaseURL,
		CacheDir:  ec.CacheDir,
		CacheSize: ec.CacheSize,
	}, embeddings.NewMetrics(a.logger.Underlying()))
	if err != nil {
		return fmt.Errorf("creating embedder: %w", err)
	}
	if dim := embedder.Dimension(); dim != a.cfg.VectorStore.VectorSize {
		_ = embedder.Close()
		return fmt.Errorf("%w: model %s produces %d dimensions, vectorstore.vector_size is %d",
			vectorstore.ErrDimensionMismatch, ec.Model, dim, a.cfg.VectorStore.VectorSize)
	}
	a.embedder = embeddings.NewPool(embedder, ec.Workers)

	a.pipeline = indexer.New(a.github, a.embedder, a.store, a.logger.Named("indexer"),
		indexer.WithStaleDays(a.cfg.Indexer.StaleDays),
		indexer.WithLenientManifests(a.cfg.Indexer.LenientManifests),
	)
	return nil
}

// close releases everything newApp opened. Errors are logged, not returned.
func (a *app) close(ctx context.Context) {
	var errs []error
	if a.embedder != nil {
		errs = append(errs, a.embedder.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.telemetry != nil {
		errs = append(errs, a.telemetry.Shutdown(context.WithoutCancel(ctx)))
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn(ctx, "shutdown completed with errors", zap.Error(err))
	}
	_ = a.logger.Sync()
}
