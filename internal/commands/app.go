// Package commands implements the CLI subcommands for the lexmigrate binary.
package commands

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/David-Botos/lexicon-migrate/pkg/analyzer"
	"github.com/David-Botos/lexicon-migrate/pkg/cache"
	"github.com/David-Botos/lexicon-migrate/pkg/catalog"
	"github.com/David-Botos/lexicon-migrate/pkg/config"
	"github.com/David-Botos/lexicon-migrate/pkg/connector"
	"github.com/David-Botos/lexicon-migrate/pkg/executor"
	"github.com/David-Botos/lexicon-migrate/pkg/lexicon"
	"github.com/David-Botos/lexicon-migrate/pkg/logging"
	"github.com/David-Botos/lexicon-migrate/pkg/recommend"
	"github.com/David-Botos/lexicon-migrate/pkg/store"
	"github.com/David-Botos/lexicon-migrate/pkg/store/memory"
	"github.com/David-Botos/lexicon-migrate/pkg/store/postgres"
)

// globalOptions are the persistent flags shared by every command
type globalOptions struct {
	demo    bool
	envFile string
	metrics bool
}

// app is everything a command needs, built once per invocation
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	catalog  *catalog.Catalog
	runner   *executor.Engine
	metrics  *executor.Metrics
	service  *recommend.Service
	closers  []func() error
	registry *prometheus.Registry
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("Failed to release resource", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

// buildApp wires config, stores and engines. Demo mode runs on a seeded
// in-memory lexicon and needs no external services.
func buildApp(ctx context.Context, opts *globalOptions) (*app, error) {
	var cfg *config.Config
	if opts.demo {
		cfg = config.Demo()
	} else {
		var err error
		if cfg, err = config.Load(envFiles(opts)...); err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}

	if a.catalog, err = catalog.Load(cfg.CatalogPath); err != nil {
		return nil, fmt.Errorf("loading rule catalog: %w", err)
	}

	var (
		st            store.Store
		journal       executor.Journal
		analysisCache cache.AnalysisCache
	)
	if opts.demo {
		mem := memory.New()
		seedDemo(mem, a.catalog)
		st, journal, analysisCache = mem, executor.NewMemoryJournal(), cache.NewMemory()
	} else {
		factory := connector.NewConnectorFactory(cfg, logger)
		pg, redisConn, err := factory.CreateAllConnectors(ctx)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pg.Close)
		if err := pg.Validate(ctx, lexicon.Tables()); err != nil {
			a.Close()
			return nil, err
		}

		st = postgres.New(pg.DB(), lexicon.Tables(), logger).
			WithRetry(cfg.Postgres.RetryAttempts, cfg.Postgres.RetryDelay)
		if journal, err = postgres.NewJournal(ctx, pg.DB(), logger); err != nil {
			a.Close()
			return nil, err
		}

		analysisCache = cache.NewMemory()
		if redisConn != nil {
			a.closers = append(a.closers, redisConn.Close)
			analysisCache = cache.NewRedis(redisConn.Client(), cfg.Redis.KeyPrefix)
		}
	}

	if a.metrics, err = executor.NewMetrics(executor.MetricsConfig{Registry: a.registry}, logger); err != nil {
		a.Close()
		return nil, err
	}

	vocab := lexicon.DefaultVocabulary()
	a.runner = executor.NewEngine(a.catalog, st, logger,
		executor.WithJournal(journal),
		executor.WithMetrics(a.metrics),
		executor.WithSampleSize(cfg.PreviewSampleSize),
		executor.WithVocabulary(vocab),
	)
	recommender := recommend.New(a.catalog, a.runner,
		analyzer.New(st, vocab, analysisCache, logger),
		logger,
		recommend.WithConcurrency(cfg.PreviewConcurrency),
	)
	a.service = recommend.NewService(a.catalog, a.runner, recommender, logger)
	return a, nil
}

func envFiles(opts *globalOptions) []string {
	if opts.envFile == "" {
		return nil
	}
	return []string{opts.envFile}
}
