package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	s3blob "github.com/alanyoungcy/xarb/internal/blob/s3"
	"github.com/alanyoungcy/xarb/internal/cache/redis"
	"github.com/alanyoungcy/xarb/internal/config"
	"github.com/alanyoungcy/xarb/internal/metrics"
	"github.com/alanyoungcy/xarb/internal/notify"
	"github.com/alanyoungcy/xarb/internal/server/handler"
	"github.com/alanyoungcy/xarb/internal/store/postgres"
)

// Dependencies bundles the infrastructure adapters the engine runs with.
// Every optional backend is nil when its config section is disabled.
type Dependencies struct {
	Registry *prometheus.Registry
	Metrics  *metrics.Engine

	// Redis
	Redis      *redis.Client
	Locks      *redis.LockManager
	Limiter    *redis.RateLimiter
	Bus        *redis.SignalBus
	BookMirror *redis.OrderbookCache

	// Postgres
	Postgres *postgres.Client
	Trades   *postgres.TradeStore
	Audit    *postgres.AuditStore

	// S3
	S3       *s3blob.Client
	Archiver *s3blob.CrashArchiver

	Notifier *notify.Notifier
}

// HealthChecks lists the reachable backends for the health endpoint.
func (d *Dependencies) HealthChecks() map[string]handler.Pinger {
	checks := map[string]handler.Pinger{}
	if d.Redis != nil {
		checks["redis"] = d.Redis
	}
	if d.Postgres != nil {
		checks["postgres"] = d.Postgres
	}
	if d.S3 != nil {
		checks["s3"] = pingFunc(d.S3.Health)
	}
	return checks
}

// mirrorTTL expires mirrored books once the engine stops refreshing them.
const mirrorTTL = time.Minute

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Wire connects every enabled backend and returns the dependencies with a
// cleanup function that releases them in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{Registry: prometheus.NewRegistry()}
	deps.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	deps.Metrics = metrics.New(deps.Registry)

	// --- Redis ---
	if cfg.Redis.Enabled {
		rc, err := redis.New(ctx, cfg.Redis)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = rc.Close() })

		deps.Redis = rc
		deps.Locks = redis.NewLockManager(rc)
		deps.Limiter = redis.NewRateLimiter(rc)
		deps.Bus = redis.NewSignalBus(rc, logger)
		if cfg.Redis.MirrorDepth {
			deps.BookMirror = redis.NewOrderbookCache(rc, mirrorTTL)
		}
		logger.InfoContext(ctx, "wire: redis connected", slog.String("addr", cfg.Redis.Addr))
	}

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
		pg, err := postgres.New(ctx, cfg.Postgres)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pg.Close)

		if cfg.Postgres.RunMigrations {
			if err := pg.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}
		deps.Postgres = pg
		deps.Trades = postgres.NewTradeStore(pg)
		deps.Audit = postgres.NewAuditStore(pg)
		logger.InfoContext(ctx, "wire: postgres connected", slog.String("database", cfg.Postgres.Database))
	}

	// --- S3 crash archive ---
	if cfg.S3.Enabled {
		s3c, err := s3blob.New(ctx, cfg.S3)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.S3 = s3c
		deps.Archiver = s3blob.NewCrashArchiver(s3blob.NewWriter(s3c), cfg.Files.ArchivePrefix)
		logger.InfoContext(ctx, "wire: s3 archive enabled", slog.String("bucket", cfg.S3.Bucket))
	}

	// --- Notifications ---
	deps.Notifier = notify.FromConfig(cfg.Notify, logger)
	if deps.Notifier != nil {
		logger.InfoContext(ctx, "wire: notifications enabled", slog.Any("senders", deps.Notifier.Senders()))
	}

	return deps, cleanup, nil
}
