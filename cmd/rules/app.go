package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"mercator-hq/rules/pkg/audit"
	"mercator-hq/rules/pkg/config"
	"mercator-hq/rules/pkg/dsl/cache"
	"mercator-hq/rules/pkg/dsl/parser"
	"mercator-hq/rules/pkg/feed"
	"mercator-hq/rules/pkg/feed/redisstream"
	"mercator-hq/rules/pkg/feed/spool"
	"mercator-hq/rules/pkg/pipeline"
	"mercator-hq/rules/pkg/reconcile"
	"mercator-hq/rules/pkg/registry"
	"mercator-hq/rules/pkg/rules"
	"mercator-hq/rules/pkg/security/auth"
	sectls "mercator-hq/rules/pkg/security/tls"
	"mercator-hq/rules/pkg/server"
	"mercator-hq/rules/pkg/service"
	"mercator-hq/rules/pkg/store"
	"mercator-hq/rules/pkg/store/redis"
	"mercator-hq/rules/pkg/store/sqlite"
	"mercator-hq/rules/pkg/telemetry/health"
	"mercator-hq/rules/pkg/telemetry/metrics"
	"mercator-hq/rules/pkg/telemetry/tracing"
)

// engine is the evaluation core shared by the server and the offline
// commands.
type engine struct {
	cache    *cache.Cache
	registry *registry.Registry
	pipeline *pipeline.Pipeline
}

// newEngine builds the expression cache, registry and pipeline from cfg.
// collector and tracer may be nil.
func newEngine(cfg *config.Config, collector *metrics.Collector, tracer *tracing.Tracer, logger *slog.Logger) (*engine, error) {
	c := cache.New(cfg.Engine.CacheSize).
		WithParser(parser.NewParser().WithMaxDepth(cfg.Engine.MaxDepth))

	validator := &rules.Validator{MaxExpressionLength: cfg.Engine.MaxExpressionLength}
	if cfg.Engine.PrevalidateExpressions {
		validator.Compiler = c
	}

	regCfg := registry.Config{
		Validator:       validator,
		DefaultPageSize: cfg.Engine.DefaultPageSize,
		MaxPageSize:     cfg.Engine.MaxPageSize,
		Logger:          logger,
	}
	if collector != nil {
		c.WithObserver(collector)
		regCfg.OnPublish = func(s *registry.Snapshot) {
			collector.RecordSnapshot(s)
			collector.UpdateCacheSize(c.Len())
		}
	}
	reg := registry.New(regCfg)

	p, err := pipeline.New(reg, c, &pipeline.Config{
		RoutingMode: pipeline.RoutingMode(cfg.Engine.RoutingMode),
		FraudMode:   pipeline.FraudMode(cfg.Engine.FraudMode),
	}, logger)
	if err != nil {
		return nil, err
	}
	if collector != nil {
		p.WithMetrics(collector)
	}
	if tracer != nil {
		p.WithTracer(tracer.Tracer())
	}
	return &engine{cache: c, registry: reg, pipeline: p}, nil
}

// openStore opens the configured persistence backend.
func openStore(ctx context.Context, cfg *config.StoreConfig) (store.Backend, error) {
	switch cfg.Backend {
	case store.BackendMemory, "":
		return store.NewMemoryBackend(), nil
	case store.BackendSQLite:
		return sqlite.Open(ctx, &cfg.SQLite)
	case store.BackendRedis:
		return redis.New(&cfg.Redis), nil
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", cfg.Backend)
	}
}

// feedClient returns a Redis client for the feed, or nil when the feed does
// not use Redis.
func feedClient(cfg *config.FeedConfig) *goredis.Client {
	if cfg.Backend != "redis" {
		return nil
	}
	return redisstream.NewClient(&cfg.Redis)
}

// app is the fully wired server process.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	tracer    *tracing.Tracer
	collector *metrics.Collector
	engine    *engine
	store     store.Backend
	service   *service.Service
	redis     *goredis.Client
	source    feed.Source
	consumer  *feed.Consumer
	scheduler *reconcile.Scheduler
	health    *health.Checker
	certs     *sectls.Reloader
	audit     audit.Storage
	recorder  *audit.Recorder
	pruner    *audit.Scheduler
	server    *server.Server
}

// newApp assembles every component described by cfg without starting
// anything.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.close(context.Background())
		}
	}()

	a.tracer, err = tracing.New(&cfg.Telemetry.Tracing, Version)
	if err != nil {
		return nil, fmt.Errorf("create tracer: %w", err)
	}
	if cfg.Telemetry.Metrics.Enabled {
		a.collector = metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
	}

	a.engine, err = newEngine(cfg, a.collector, a.tracer, logger)
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}

	a.store, err = openStore(ctx, &cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Backend, err)
	}

	if err := a.buildAudit(ctx); err != nil {
		return nil, err
	}

	a.redis = feedClient(&cfg.Feed)
	svcCfg := service.Config{
		Registry:     a.engine.registry,
		Pipeline:     a.engine.pipeline,
		Store:        a.store,
		StoreTimeout: cfg.Store.Timeout,
		Logger:       logger,
	}
	if a.recorder != nil {
		svcCfg.Auditor = a.recorder
	}
	if a.redis != nil && cfg.Feed.Publish {
		svcCfg.Publisher = redisstream.NewPublisher(a.redis, cfg.Feed.Redis.Stream)
	}
	a.service, err = service.New(svcCfg)
	if err != nil {
		return nil, err
	}

	if err := a.buildFeed(); err != nil {
		return nil, err
	}

	if cfg.Reconcile.Enabled {
		var m reconcile.Metrics
		if a.collector != nil {
			m = a.collector
		}
		a.scheduler = reconcile.NewScheduler(a.service, &cfg.Reconcile, m, logger)
	}

	a.health = health.New(cfg.Store.Timeout)
	a.health.RegisterCheck("store", a.service.Ping)
	if a.consumer != nil {
		a.health.RegisterCheck("feed", func(context.Context) error {
			if !a.consumer.Running() {
				return errors.New("feed consumer is not running")
			}
			return nil
		})
	}
	a.health.SetDetails(func() any {
		details := map[string]any{"engine": a.service.Health()}
		if a.consumer != nil {
			details["feed"] = a.consumer.Stats()
		}
		if a.scheduler != nil {
			details["reconcile"] = a.scheduler.Status()
		}
		if a.recorder != nil {
			details["audit"] = a.recorder.Stats()
		}
		return details
	})

	deps := server.Deps{
		Service:     a.service,
		Health:      a.health,
		Metrics:     a.collector,
		MetricsPath: cfg.Telemetry.Metrics.Path,
		Tracer:      a.tracer,
		Version:     health.NewVersionInfo(Version, GitCommit, BuildDate),
		Audit:       a.audit,
	}
	if cfg.Server.Auth.Enabled {
		keys, err := auth.LoadKeys(cfg.Server.Auth.Keys)
		if err != nil {
			return nil, err
		}
		deps.Auth = auth.NewMiddleware(auth.NewValidator(keys), cfg.Server.Auth.Header, logger)
	}
	if cfg.Server.TLS.Enabled {
		a.certs = sectls.NewReloader(&cfg.Server.TLS, logger)
		if err := a.certs.Load(); err != nil {
			return nil, fmt.Errorf("load TLS certificate: %w", err)
		}
		deps.TLS = sectls.ServerConfig(&cfg.Server.TLS, a.certs)
	}

	a.server, err = server.New(&cfg.Server, deps, logger)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (a *app) buildFeed() error {
	switch a.cfg.Feed.Backend {
	case "none", "":
		return nil
	case "redis":
		a.source = redisstream.NewSource(a.redis, &a.cfg.Feed.Redis, a.logger)
	case "spool":
		a.source = spool.New(&a.cfg.Feed.Spool, a.logger)
	default:
		return fmt.Errorf("unsupported feed backend: %s", a.cfg.Feed.Backend)
	}

	consumerCfg := feed.ConsumerConfig{
		Registry:     a.engine.registry,
		StoreTimeout: a.cfg.Store.Timeout,
		Tracer:       a.tracer.Tracer(),
		Logger:       a.logger,
	}
	if a.cfg.Feed.MirrorToStore {
		consumerCfg.Store = a.store
	}
	if a.collector != nil {
		consumerCfg.Metrics = a.collector
	}
	var err error
	a.consumer, err = feed.NewConsumer(consumerCfg)
	return err
}

// buildAudit opens the decision audit trail when enabled.
func (a *app) buildAudit(ctx context.Context) error {
	cfg := &a.cfg.Audit
	if !cfg.Enabled {
		return nil
	}
	switch cfg.Backend {
	case audit.BackendMemory, "":
		a.audit = audit.NewMemoryStorage()
	case audit.BackendSQLite:
		s, err := audit.OpenSQLite(ctx, &cfg.SQLite, a.logger)
		if err != nil {
			return fmt.Errorf("open audit storage: %w", err)
		}
		a.audit = s
	default:
		return fmt.Errorf("unsupported audit backend: %s", cfg.Backend)
	}

	var m audit.Metrics
	if a.collector != nil {
		m = a.collector
	}
	a.recorder = audit.NewRecorder(a.audit, audit.RecorderConfig{Buffer: cfg.Buffer}, m, a.logger)
	if cfg.Retention > 0 || cfg.MaxRecords > 0 {
		pruner := audit.NewPruner(a.audit, cfg.Retention, cfg.MaxRecords, m, a.logger)
		a.pruner = audit.NewScheduler(pruner, cfg.PruneSchedule, a.logger)
	}
	return nil
}

// bootstrap seeds an empty store from the configured rule file or the
// samples, then loads the store into the registry.
func (a *app) bootstrap(ctx context.Context) error {
	var seed []*rules.Rule
	switch {
	case a.cfg.Bootstrap.RulesFile != "":
		rs, err := rules.LoadFile(a.cfg.Bootstrap.RulesFile)
		if err != nil {
			return fmt.Errorf("load bootstrap rules: %w", err)
		}
		seed = rs
	case a.cfg.Bootstrap.SeedSamples:
		seed = rules.Samples(time.Now())
	}

	seeded, err := a.service.Bootstrap(ctx, seed)
	if err != nil {
		return err
	}
	snap := a.engine.registry.Snapshot()
	a.logger.Info("rule registry loaded",
		"rules", snap.Len(),
		"version", snap.Version,
		"digest", snap.Digest,
		"seeded", seeded,
	)
	return nil
}

// run starts the background components and serves until ctx is done.
func (a *app) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errChan := make(chan error, 2)

	if a.consumer != nil {
		go func() {
			if err := a.consumer.Run(ctx, a.source); err != nil {
				errChan <- fmt.Errorf("feed consumer: %w", err)
			}
		}()
	}
	if a.scheduler != nil {
		if err := a.scheduler.Start(ctx); err != nil {
			return err
		}
	}
	if a.pruner != nil {
		if err := a.pruner.Start(ctx); err != nil {
			return err
		}
	}
	if a.certs != nil {
		a.certs.Start(ctx)
	}
	go func() {
		errChan <- a.server.Start(ctx)
	}()

	select {
	case err := <-errChan:
		cancel()
		return err
	case <-ctx.Done():
		return <-errChan
	}
}

// close releases every resource in reverse order of creation.
func (a *app) close(ctx context.Context) {
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	if a.pruner != nil {
		a.pruner.Stop()
	}
	if a.recorder != nil {
		if err := a.recorder.Close(); err != nil {
			a.logger.Warn("failed to flush audit records", "error", err)
		}
	}
	if a.audit != nil {
		if err := a.audit.Close(); err != nil {
			a.logger.Warn("failed to close audit storage", "error", err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("failed to close feed client", "error", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("failed to close store", "error", err)
		}
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Warn("failed to flush traces", "error", err)
		}
	}
}
