package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/accessctl/internal/app"
	"github.com/odyssey-erp/accessctl/internal/observability"
	"github.com/odyssey-erp/accessctl/internal/platform/cache"
	"github.com/odyssey-erp/accessctl/internal/platform/db"
	"github.com/odyssey-erp/accessctl/internal/rbac"
	"github.com/odyssey-erp/accessctl/internal/rbac/pgstore"
)

// deps holds the process-wide collaborators shared by the commands.
type deps struct {
	cfg     *app.Config
	logger  *slog.Logger
	pool    *pgxpool.Pool
	redis   *redis.Client
	store   *pgstore.Store
	metrics *observability.Metrics
	rbacM   *rbac.Metrics
}

func openDeps(ctx context.Context, cfg *app.Config, logger *slog.Logger) (*deps, error) {
	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		return nil, err
	}
	metrics := observability.NewMetrics()
	return &deps{
		cfg:     cfg,
		logger:  logger,
		pool:    pool,
		store:   pgstore.New(pool),
		metrics: metrics,
		rbacM:   rbac.NewMetrics(metrics.Registerer()),
	}, nil
}

// connectRedis dials Redis once. required controls whether a failure is fatal.
func (d *deps) connectRedis(ctx context.Context, required bool) error {
	if d.redis != nil {
		return nil
	}
	client, err := cache.New(ctx, d.cfg.RedisAddr)
	if err != nil {
		if required {
			return err
		}
		d.logger.Warn("redis unavailable, continuing without it", slog.Any("error", err))
		return nil
	}
	d.redis = client
	return nil
}

func (d *deps) close() {
	if d.redis != nil {
		if err := d.redis.Close(); err != nil {
			d.logger.Warn("redis close", slog.Any("error", err))
		}
	}
	d.pool.Close()
}

func (d *deps) resolver() *rbac.Resolver {
	return rbac.NewResolver(d.store, d.logger, d.rbacM)
}

// authorizer wraps the resolver with the configured decision cache.
func (d *deps) authorizer(ctx context.Context, resolver *rbac.Resolver) (rbac.Authorizer, error) {
	if !d.cfg.CacheEnabled() {
		return resolver, nil
	}
	var backend rbac.DecisionCache
	switch d.cfg.AuthzCacheBackend {
	case app.CacheBackendMemory:
		backend = cache.NewMemoryDecisionCache(d.cfg.AuthzCacheTTL, 2*d.cfg.AuthzCacheTTL)
	case app.CacheBackendRedis:
		if err := d.connectRedis(ctx, true); err != nil {
			return nil, fmt.Errorf("authz cache: %w", err)
		}
		backend = cache.NewRedisDecisionCache(d.redis)
	default:
		return resolver, nil
	}
	d.logger.Info("authorization cache enabled",
		slog.String("backend", d.cfg.AuthzCacheBackend),
		slog.Duration("ttl", d.cfg.AuthzCacheTTL),
	)
	return rbac.NewCachedAuthorizer(resolver, backend, d.cfg.AuthzCacheTTL, d.logger), nil
}

// repairer builds a Repairer guarded by the Redis lock when Redis is reachable.
func (d *deps) repairer(ctx context.Context) *rbac.Repairer {
	cfg := rbac.RepairConfig{LockTTL: d.cfg.RepairLockTTL, Now: func() time.Time { return time.Now().UTC() }}
	if err := d.connectRedis(ctx, false); err == nil && d.redis != nil {
		cfg.Locker = cache.NewLocker(d.redis)
	}
	return rbac.NewRepairer(d.store, d.logger, d.rbacM, cfg)
}

func (d *deps) bootstrapper() *rbac.Bootstrapper {
	return rbac.NewBootstrapper(d.store, d.logger, rbac.BootstrapConfig{})
}
