// Package main is the entrypoint for the PlanWise report worker.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/kiranshivaraju/planwise/internal/ai"
	"github.com/kiranshivaraju/planwise/internal/api"
	"github.com/kiranshivaraju/planwise/internal/api/handler"
	"github.com/kiranshivaraju/planwise/internal/cache"
	"github.com/kiranshivaraju/planwise/internal/config"
	"github.com/kiranshivaraju/planwise/internal/events"
	"github.com/kiranshivaraju/planwise/internal/metrics"
	"github.com/kiranshivaraju/planwise/internal/pipeline"
	"github.com/kiranshivaraju/planwise/internal/store"
	"github.com/kiranshivaraju/planwise/internal/worker"
	"github.com/kiranshivaraju/planwise/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("worker failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// Load config, failing fast on invalid values
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg.Log, os.Stdout)
	slog.SetDefault(logger)
	slog.Info("config loaded",
		"env", cfg.Env,
		"worker_id", cfg.Worker.ID,
		"store_driver", cfg.Store.Driver,
		"ai_providers", cfg.AI.Providers,
		"concurrency", cfg.Worker.Concurrency,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	// Ops server
	addr := fmt.Sprintf(":%d", cfg.Worker.OpsPort)
	srv := &http.Server{
		Addr:         addr,
		Handler:      a.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("ops server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ops server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return a.pool.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received, finishing in-flight jobs...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("ops server shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("worker stopped gracefully")
	return nil
}

// app is the wired worker process minus the signal handling and listener.
type app struct {
	store   store.Store
	cache   cache.Cache
	events  events.Publisher
	pool    *worker.Pool
	handler http.Handler
	closers []func()
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	// Store
	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.store = st
	a.closers = append(a.closers, closeStore)

	// Status mirror
	c, err := openCache(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	a.cache = c
	a.closers = append(a.closers, func() { _ = c.Close() })

	// Job events
	pub, err := openEvents(cfg.Events, logger)
	if err != nil {
		return nil, err
	}
	a.events = pub
	a.closers = append(a.closers, func() { _ = pub.Close() })

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	// AI providers
	providers, err := ai.NewProviders(cfg.AI)
	if err != nil {
		return nil, fmt.Errorf("create AI providers: %w", err)
	}
	names := make([]string, len(providers))
	for i, p := range providers {
		names[i] = p.Name()
	}
	slog.Info("AI providers initialized", "providers", names)

	gateway := ai.NewGateway(ai.GatewayConfig{
		RequestTimeout: cfg.AI.RequestTimeout,
		ConnectTimeout: cfg.AI.ConnectTimeout,
	})
	orch := ai.NewOrchestrator(providers, gateway, ai.OrchestratorConfig{
		Policy:   retryPolicy(cfg.AI),
		Logger:   logger,
		Observer: m,
	})

	// Pipeline and worker pool
	pipe := pipeline.New(orch, st, worker.NewProgressFanout(st, c, pub, logger), pipeline.Config{
		Pacing:   stepPacing(cfg.Worker.StepPacing),
		Logger:   logger,
		Observer: m,
	})
	runners := worker.NewRegistry()
	runners.Register(models.JobKindAnalyzeBusinessIdea, pipe)

	a.pool = worker.NewPool(cfg.Worker.Concurrency, worker.Config{
		ID:           cfg.Worker.ID,
		Queue:        st,
		Reports:      st,
		Registry:     runners,
		Cache:        c,
		Events:       pub,
		Metrics:      m,
		PollInterval: cfg.Worker.PollInterval,
		Logger:       logger,
	})

	a.handler = api.NewRouter(api.Dependencies{
		Logger: logger,
		HealthHandler: &handler.Health{
			Checks:  map[string]handler.Pinger{"store": st, "cache": c},
			Workers: a.pool.Status,
		},
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
	})
	return a, nil
}

// close releases resources in reverse order of acquisition.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	switch cfg.Store.Driver {
	case "sqlite":
		s, err := store.OpenSQLite(cfg.Store.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		slog.Info("sqlite store opened", "path", cfg.Store.SQLitePath)
		return s, func() { _ = s.Close() }, nil
	default:
		pool, err := store.Connect(ctx, cfg.Database)
		if err != nil {
			return nil, nil, fmt.Errorf("connect database: %w", err)
		}
		slog.Info("database connected")

		if err := store.RunMigrations(cfg.Database.URL, cfg.Store.MigrationsDir); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("run migrations: %w", err)
		}
		slog.Info("database migrations applied")
		return store.NewPostgresStore(pool), pool.Close, nil
	}
}

func openCache(ctx context.Context, cfg config.RedisConfig) (cache.Cache, error) {
	if cfg.URL == "" {
		slog.Info("redis not configured, status mirror disabled")
		return cache.Noop{}, nil
	}
	c, err := cache.NewRedisCache(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("create redis cache: %w", err)
	}
	if err := c.Ping(ctx); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")
	return c, nil
}

func openEvents(cfg config.EventsConfig, logger *slog.Logger) (events.Publisher, error) {
	if cfg.AMQPURL == "" {
		slog.Info("amqp not configured, job events disabled")
		return events.Noop{}, nil
	}
	p, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.Exchange, logger)
	if err != nil {
		return nil, fmt.Errorf("create amqp publisher: %w", err)
	}
	slog.Info("amqp connected", "exchange", cfg.Exchange)
	return p, nil
}

func retryPolicy(cfg config.AIConfig) ai.RetryPolicy {
	p := ai.DefaultRetryPolicy()
	p.MaxRetries = cfg.MaxRetries
	p.BaseDelay = cfg.BaseDelay
	p.MaxDelay = cfg.MaxDelay
	return p
}

// stepPacing maps WORKER_STEP_PACING=0 to "no pacing".
func stepPacing(d time.Duration) time.Duration {
	if d == 0 {
		return -1
	}
	return d
}

func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}
