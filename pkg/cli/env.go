package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/scopeguard/pkg/config"
	"github.com/platinummonkey/scopeguard/pkg/observability"
	"github.com/platinummonkey/scopeguard/pkg/permcache"
	"github.com/platinummonkey/scopeguard/pkg/rbac"
	"github.com/platinummonkey/scopeguard/pkg/storage"
)

// Migrator applies and reverts schema migrations
type Migrator interface {
	Migrate(ctx context.Context) error
	Rollback(ctx context.Context, version int) error
}

// TemplateSeeder creates and backfills template roles
type TemplateSeeder interface {
	Bootstrap(ctx context.Context) (rbac.BootstrapReport, error)
	SeedTenant(ctx context.Context, tenantID int64) (bool, error)
	BackfillTenant(ctx context.Context, tenantID int64) (int, error)
}

// Env is everything the admin commands operate on
type Env struct {
	Migrator Migrator
	Seeder   TemplateSeeder
	// Resolver reads straight from the store, bypassing any cache
	Resolver rbac.PermissionResolver
	// Cache is the shared permission cache, nil when the service runs an
	// in-process cache that the CLI cannot reach
	Cache permcache.Cache

	closers []func() error
}

// Close releases the environment's connections
func (e *Env) Close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Opener builds an Env on demand
type Opener func(ctx context.Context) (*Env, error)

// ConfigOpener returns an Opener wired from service configuration
func ConfigOpener(cfg *config.Config, logger *observability.Logger) Opener {
	return func(ctx context.Context) (*Env, error) {
		return OpenEnv(ctx, cfg, logger)
	}
}

// OpenEnv connects to postgres, and to redis when the cache backend is
// redis, and builds the admin environment.
func OpenEnv(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*Env, error) {
	db, err := storage.OpenPostgres(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}

	env := &Env{closers: []func() error{db.Close}}

	store := rbac.NewStore(db)
	env.Migrator = &dbMigrator{db: db, logger: logger}
	env.Seeder = rbac.NewSeeder(store, rbac.SeederConfig{
		Concurrency: cfg.RBAC.SeedConcurrency,
		PageSize:    cfg.RBAC.SeedPageSize,
	}, logger, nil)
	env.Resolver = rbac.NewResolver(store)

	if cfg.Cache.Backend == "redis" {
		var client *redis.Client
		client, err = storage.NewRedisClient(ctx, cfg.Storage)
		if err != nil {
			_ = env.Close()
			return nil, fmt.Errorf("failed to connect to cache: %w", err)
		}
		env.Cache = permcache.NewRedisCache(client, permcache.Config{
			TTL:        cfg.Cache.TTL,
			MaxEntries: cfg.Cache.MaxEntries,
		})
		env.closers = append(env.closers, env.Cache.Close)
	}

	return env, nil
}

type dbMigrator struct {
	db     *sql.DB
	logger *observability.Logger
}

func (m *dbMigrator) Migrate(ctx context.Context) error {
	return rbac.RunMigrations(ctx, m.db, m.logger)
}

func (m *dbMigrator) Rollback(ctx context.Context, version int) error {
	return rbac.RollbackMigration(ctx, m.db, version)
}

// withEnv opens the environment, runs fn and closes it
func withEnv(open Opener, fn func(ctx context.Context, env *Env) error) error {
	ctx := context.Background()
	env, err := open(ctx)
	if err != nil {
		return fmt.Errorf("failed to open environment: %w", err)
	}
	defer env.Close()
	return fn(ctx, env)
}
