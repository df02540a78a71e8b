// Package app wires the shared infrastructure of the API and worker
// processes: logger, tracer, Postgres, Redis, the asynq client and the
// authoritative cart service built on top of them.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-storefront/internal/catalog"
	"github.com/noah-isme/toko-storefront/internal/config"
	"github.com/noah-isme/toko-storefront/internal/events"
	"github.com/noah-isme/toko-storefront/internal/hydrate"
	"github.com/noah-isme/toko-storefront/internal/lock"
	"github.com/noah-isme/toko-storefront/internal/obs"
	"github.com/noah-isme/toko-storefront/internal/resilience"
	"github.com/noah-isme/toko-storefront/internal/tasks"
	"github.com/noah-isme/toko-storefront/internal/voucher"
)

// Dependencies enumerates core services shared across processes.
type Dependencies struct {
	Config    *config.Config
	Logger    zerolog.Logger
	DB        *pgxpool.Pool
	Redis     *redis.Client
	TaskRedis asynq.RedisConnOpt
	Tasks     *asynq.Client

	shutdownTracer func(context.Context) error
}

// New builds the shared dependencies for service. Connections are lazy;
// call Ping before serving traffic.
func New(ctx context.Context, cfg *config.Config, service string) (*Dependencies, error) {
	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().
		Str("service", service).
		Str("env", cfg.AppEnv).
		Logger()
	obs.MustRegisterDomainMetrics(cfg.MetricsNamespace, nil)
	if err := resilience.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
		return nil, fmt.Errorf("register breaker metrics: %w", err)
	}

	shutdown, err := obs.InitTracer(ctx, obs.TracingConfig{
		ServiceName:   service,
		Endpoint:      cfg.OTelEndpoint,
		Exporter:      cfg.OTelExporter,
		SamplingRatio: cfg.OTelSampling,
		Environment:   cfg.AppEnv,
	})
	if err != nil {
		logger.Error().Err(err).Msg("initialise tracing, continuing without export")
		shutdown = func(context.Context) error { return nil }
	}
	d := &Dependencies{Config: cfg, Logger: logger, shutdownTracer: shutdown}

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{Component: "catalog"}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = service
	if d.DB, err = pgxpool.NewWithConfig(ctx, poolConfig); err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		d.DB.Close()
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	d.Redis = redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(d.Redis); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if err := redisotel.InstrumentMetrics(d.Redis); err != nil {
		logger.Error().Err(err).Msg("instrument redis metrics")
	}

	if d.TaskRedis, err = asynq.ParseRedisURI(cfg.RedisURL); err != nil {
		d.Close(ctx)
		return nil, fmt.Errorf("parse task redis url: %w", err)
	}
	d.Tasks = asynq.NewClient(d.TaskRedis)
	return d, nil
}

// Ping verifies Postgres and Redis are reachable.
func (d *Dependencies) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := d.DB.Ping(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	if err := d.Redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

// Events returns the cart event bus persisting to a capped Redis stream.
func (d *Dependencies) Events() *events.Bus {
	return &events.Bus{
		Store:     events.RedisStreamStore{R: d.Redis, MaxLen: 10000},
		Notifiers: []events.Notifier{events.LogNotifier{}},
	}
}

// CartService assembles the authoritative cart backend.
func (d *Dependencies) CartService() *hydrate.Service {
	cfg := d.Config
	vouchers := voucher.NewRepository(d.DB)
	variants := catalog.NewCached(
		catalog.NewPGSource(d.DB),
		catalog.NewCache(d.Redis, cfg.CatalogCacheTTL, cfg.CatalogCacheTTL/10),
	)
	return &hydrate.Service{
		Store:    hydrate.RedisStore{R: d.Redis, TTL: cfg.CartTTL},
		Catalog:  variants,
		Vouchers: vouchers,
		Redeemer: vouchers,
		Locker:   lock.Locker{R: d.Redis, MaxWait: cfg.LockWait},
		LockTTL:  cfg.LockTTL,
		Scheduler: &tasks.Scheduler{
			Client:   d.Tasks,
			After:    cfg.AbandonAfter,
			MaxRetry: 5,
		},
		Events:   d.Events(),
		TaxBps:   cfg.TaxBps,
		Currency: cfg.Currency,
	}
}

// Close releases every connection and flushes pending spans.
func (d *Dependencies) Close(ctx context.Context) {
	var errs []error
	if d.Tasks != nil {
		errs = append(errs, d.Tasks.Close())
	}
	if d.Redis != nil {
		errs = append(errs, d.Redis.Close())
	}
	if d.DB != nil {
		d.DB.Close()
	}
	if d.shutdownTracer != nil {
		errs = append(errs, d.shutdownTracer(ctx))
	}
	if err := errors.Join(errs...); err != nil {
		d.Logger.Error().Err(err).Msg("close dependencies")
	}
}
