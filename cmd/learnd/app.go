package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel/log/global"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/learnd/internal/config"
	"github.com/fyrsmithlabs/learnd/internal/effectiveness"
	"github.com/fyrsmithlabs/learnd/internal/embeddings"
	"github.com/fyrsmithlabs/learnd/internal/evaluation"
	"github.com/fyrsmithlabs/learnd/internal/indexer"
	"github.com/fyrsmithlabs/learnd/internal/knowledge"
	"github.com/fyrsmithlabs/learnd/internal/logging"
	"github.com/fyrsmithlabs/learnd/internal/retrieval"
	"github.com/fyrsmithlabs/learnd/internal/services"
	"github.com/fyrsmithlabs/learnd/internal/sqlitestore"
	"github.com/fyrsmithlabs/learnd/internal/telemetry"
)

// backend is a knowledge store that also keeps the usage log.
type backend interface {
	knowledge.Store
	knowledge.UsageLog
}

// app holds the wired components shared by every command.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	tel    *telemetry.Telemetry

	store    backend
	embedder embeddings.Provider
	recorder *effectiveness.Recorder
	indexer  *indexer.Indexer
	svc      *services.LearnService

	closers []func() error
}

// newApp initializes logging, telemetry, storage, the embedding provider and
// the services, in that order.
func newApp(ctx context.Context, cfg *config.Config, logOpts ...logging.Option) (_ *app, err error) {
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	logCfg, err := logging.FromConfig(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("invalid logging config: %w", err)
	}
	a.logger, err = logging.New(logCfg, global.GetLoggerProvider(), logOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	a.tel, err = telemetry.New(ctx, telemetry.FromConfig(cfg.Telemetry, version), telemetry.WithLogger(a.logger))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	if err := a.openStore(ctx); err != nil {
		return nil, err
	}
	if err := a.openEmbedder(); err != nil {
		return nil, err
	}
	if err := a.initServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	a.logger.Debug("learnd initialized",
		zap.String("storage", cfg.Storage.Driver),
		zap.String("embeddings", cfg.Embeddings.Provider),
		zap.Bool("telemetry", a.tel.IsEnabled()))
	return a, nil
}

func (a *app) openStore(ctx context.Context) error {
	switch a.cfg.Storage.Driver {
	case "memory":
		a.store = knowledge.NewMemoryStore()
		a.logger.Warn("using in-memory knowledge store, data is lost on exit")
		return nil
	case "sqlite":
		path, err := config.ExpandHome(a.cfg.Storage.Path)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return fmt.Errorf("failed to create storage directory: %w", err)
		}
		store, err := sqlitestore.Open(ctx, path, a.logger)
		if err != nil {
			return fmt.Errorf("failed to open knowledge store at %s: %w", path, err)
		}
		a.store = store
		a.closers = append(a.closers, store.Close)
		a.logger.Info("knowledge store opened", zap.String("path", path))
		return nil
	default:
		return fmt.Errorf("unknown storage driver %q", a.cfg.Storage.Driver)
	}
}

func (a *app) openEmbedder() error {
	ec := a.cfg.Embeddings
	if ec.Provider == "none" {
		a.logger.Info("embeddings disabled, retrieval uses metadata ranking only")
		return nil
	}

	cacheDir := ec.CacheDir
	if cacheDir != "" {
		var err error
		if cacheDir, err = config.ExpandHome(cacheDir); err != nil {
			return err
		}
	}

	provider, err := embeddings.NewProvider(embeddings.ProviderConfig{
		Provider:  ec.Provider,
		Model:     ec.Model,
		BaseURL:   ec.BaseURL,
		APIKey:    ec.APIKey.Value(),
		CacheDir:  cacheDir,
		Timeout:   ec.Timeout.Duration(),
		MaxLength: ec.MaxLength,
		BatchSize: ec.BatchSize,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("failed to create embedding provider: %w", err)
	}
	a.embedder = provider
	a.closers = append(a.closers, provider.Close)

	a.logger.Info("embedding provider initialized",
		zap.String("provider", ec.Provider),
		zap.String("model", ec.Model),
		logging.Secret("api_key", ec.APIKey))
	return nil
}

func (a *app) initServices() error {
	// Interface fields stay nil when embeddings are disabled.
	var (
		queryEmbedder retrieval.Embedder
		batchEmbedder indexer.BatchEmbedder
	)
	if a.embedder != nil {
		queryEmbedder = a.embedder
		batchEmbedder = a.embedder
	}

	retriever, err := retrieval.New(a.store, queryEmbedder, retrieval.Config{
		Weights:      a.cfg.Retrieval.Weights,
		QueryTimeout: a.cfg.Retrieval.QueryTimeout.Duration(),
	}, a.logger.Named("retrieval"))
	if err != nil {
		return err
	}

	tracker, err := effectiveness.NewTracker(a.store, a.store, a.logger.Named("effectiveness"))
	if err != nil {
		return err
	}
	a.recorder, err = effectiveness.NewRecorder(tracker, effectiveness.RecorderConfig{
		Workers:    a.cfg.Tracker.Workers,
		QueueSize:  a.cfg.Tracker.QueueSize,
		JobTimeout: a.cfg.Tracker.JobTimeout.Duration(),
	}, a.logger.Named("recorder"))
	if err != nil {
		return err
	}

	reporter, err := evaluation.NewReporter(a.store, a.store, a.logger.Named("evaluation"))
	if err != nil {
		return err
	}

	a.indexer, err = indexer.New(a.store, batchEmbedder, indexer.Config{
		BatchSize: a.cfg.Indexer.BatchSize,
		RateLimit: a.cfg.Indexer.RateLimit,
		Burst:     a.cfg.Indexer.Burst,
	}, a.logger.Named("indexer"))
	if err != nil {
		return err
	}

	a.svc, err = services.NewLearnService(services.Options{
		Retriever: retriever,
		Tracker:   tracker,
		Reporter:  reporter,
		Indexer:   a.indexer,
		Outcomes:  a.recorder,
		Logger:    a.logger.Named("service"),
	})
	return err
}

// Close drains the outcome queue, then releases the provider, store and
// telemetry. It is safe on a partially initialized app.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.recorder != nil {
		if err := a.recorder.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("outcome recorder: %w", err))
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := a.tel.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if a.logger != nil {
		_ = logging.Sync(a.logger)
	}
	return errors.Join(errs...)
}
