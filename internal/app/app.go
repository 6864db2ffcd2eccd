// Package app initializes and holds the long-lived services of the
// enrichment service, acting as its dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/SyN415/local-marketplace-lister-sub003/internal/api"
	"github.com/SyN415/local-marketplace-lister-sub003/internal/config"
	"github.com/SyN415/local-marketplace-lister-sub003/internal/enrich"
	"github.com/SyN415/local-marketplace-lister-sub003/internal/events"
	"github.com/SyN415/local-marketplace-lister-sub003/internal/events/sinks"
	"github.com/SyN415/local-marketplace-lister-sub003/internal/fetcher/unlocker"
	"github.com/SyN415/local-marketplace-lister-sub003/internal/flags"
	"github.com/SyN415/local-marketplace-lister-sub003/internal/storage"
	"github.com/SyN415/local-marketplace-lister-sub003/internal/storage/memory"
	"github.com/SyN415/local-marketplace-lister-sub003/internal/storage/postgres"
	"github.com/SyN415/local-marketplace-lister-sub003/internal/storage/redis"
)

// App owns every long-lived component and their shutdown order.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	kv        storage.KV
	hub       *events.Hub
	scheduler *enrich.Scheduler
	server    *http.Server
}

// New builds the full service from configuration, failing fast when any
// critical dependency cannot be initialized.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	kv, err := newKV(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, err
	}

	cache := enrich.NewResultCache(kv, enrich.ResultCacheConfig{
		TTL:       cfg.Enrichment.CacheTTL(),
		Retention: cfg.Enrichment.CacheRetention(),
	}, nil)

	flagStore := flags.New(kv, flags.Config{
		Key:     cfg.Flags.Key,
		Refresh: time.Duration(cfg.Flags.RefreshSeconds) * time.Second,
		Defaults: enrich.Flags{
			Enabled:     cfg.Enrichment.Enabled,
			SampleRate:  cfg.Enrichment.SampleRate,
			MinROIScore: minROIScore(cfg.Enrichment),
		},
	}, logger)

	breaker := enrich.NewBreaker(enrich.BreakerConfig{
		Threshold: cfg.Enrichment.BreakerThreshold,
		Reset:     cfg.Enrichment.BreakerReset(),
	}, logger)

	client := unlocker.New(unlocker.Config{
		Endpoint:      cfg.Upstream.Endpoint,
		Zone:          cfg.Upstream.Zone,
		Token:         cfg.Upstream.Token,
		Timeout:       time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
		LookupTimeout: time.Duration(cfg.Upstream.LookupTimeoutSeconds) * time.Second,
		MaxRetries:    cfg.Upstream.MaxRetries,
		BackoffBase:   time.Duration(cfg.Upstream.BackoffBaseMs) * time.Millisecond,
		BackoffFactor: cfg.Upstream.BackoffFactor,
		RPS:           cfg.Upstream.RPS,
	}, logger)

	hub, err := newHub(ctx, cfg, logger)
	if err != nil {
		kv.Close()
		return nil, err
	}

	parser := enrich.RegexPriceParser{}
	scheduler := enrich.NewScheduler(
		enrich.SchedulerConfig{
			Platform:      cfg.Enrichment.CompetitorPlatform,
			Country:       cfg.Enrichment.CompetitorCountry,
			MaxConcurrent: cfg.Enrichment.MaxConcurrent,
			BatchDelay:    cfg.Enrichment.BatchDelay(),
		},
		enrich.NewGate(flagStore),
		cache,
		enrich.NewWindow(cfg.Enrichment.DedupWindow(), cfg.Enrichment.DedupMaxEntries, nil),
		breaker,
		client,
		parser,
		hub,
		logger,
	)

	checker := enrich.NewPriceChecker(
		cfg.Enrichment.CompetitorPlatform,
		cfg.Enrichment.CompetitorCountry,
		cache, client, parser, breaker, logger,
	)

	apiServer := api.NewServer(scheduler, checker, cache, flagStore, readinessProbe(kv), logger)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &App{
		cfg:       cfg,
		logger:    logger,
		kv:        kv,
		hub:       hub,
		scheduler: scheduler,
		server:    server,
	}, nil
}

func newKV(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (storage.KV, error) {
	switch cfg.Provider {
	case "memory":
		logger.Info("using in-memory storage provider")
		return memory.New(), nil
	case "redis":
		logger.Info("using redis storage provider", zap.String("address", cfg.Redis.Address))
		kv, err := redis.New(redis.Config{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err != nil {
			return nil, fmt.Errorf("initialize redis storage: %w", err)
		}
		return kv, nil
	case "postgres":
		logger.Info("using postgres storage provider", zap.String("table", cfg.Postgres.Table))
		kv, err := postgres.New(ctx, postgres.Config{
			DSN:      cfg.Postgres.DSN,
			Table:    cfg.Postgres.Table,
			MaxConns: int32(cfg.Postgres.MaxOpenConns),
		})
		if err != nil {
			return nil, fmt.Errorf("initialize postgres storage: %w", err)
		}
		return kv, nil
	default:
		return nil, fmt.Errorf("unknown storage provider %q", cfg.Provider)
	}
}

func newHub(ctx context.Context, cfg config.Config, logger *zap.Logger) (*events.Hub, error) {
	sinkList := []events.Sink{
		sinks.NewLogSink(logger),
		sinks.NewMetricsSink(),
	}
	if cfg.Events.PubSub.Enabled {
		ps, err := sinks.NewPubSubSink(ctx, cfg.Events.PubSub.ProjectID, cfg.Events.PubSub.TopicName, logger)
		if err != nil {
			return nil, fmt.Errorf("initialize pubsub sink: %w", err)
		}
		sinkList = append(sinkList, ps)
	}
	return events.NewHub(events.HubConfig{
		BufferSize:    cfg.Enrichment.EventBufferSize,
		FlushInterval: time.Duration(cfg.Enrichment.EventFlushIntervalMs) * time.Millisecond,
		Logger:        logger,
	}, sinkList...), nil
}

func minROIScore(cfg config.EnrichmentConfig) *float64 {
	if !cfg.MinROIScoreSet {
		return nil
	}
	v := cfg.MinROIScore
	return &v
}

// readinessProbe reports substrate health when the provider supports it.
func readinessProbe(kv storage.KV) func(ctx context.Context) error {
	type healther interface {
		Health(ctx context.Context) error
	}
	h, ok := kv.(healther)
	if !ok {
		return nil
	}
	return h.Health
}

// Scheduler exposes the scheduler, primarily for command-level tooling.
func (a *App) Scheduler() *enrich.Scheduler {
	return a.scheduler
}

// Run serves HTTP until the context is canceled, then shuts everything down
// in dependency order.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", zap.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var firstErr error
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		firstErr = fmt.Errorf("http shutdown: %w", err)
	}
	if err := a.scheduler.Close(shutdownCtx); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("scheduler shutdown: %w", err)
	}
	if err := a.hub.Close(shutdownCtx); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("event hub shutdown: %w", err)
	}
	if err := a.kv.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("storage shutdown: %w", err)
	}
	return firstErr
}
