// Package nametier opens the configured shared institution name tier.
package nametier

import (
	"context"
	"errors"
	"fmt"

	"finlink/internal/domain/institution"
	"finlink/internal/infrastructure/postgres"
	"finlink/internal/infrastructure/redis"
	"finlink/internal/shared/config"
)

// Tier is the shared tier behind the in-process cache. With the memory
// backend Cache is nil and every method is a no-op.
type Tier struct {
	Backend string
	Cache   institution.Cache

	db    *postgres.DB
	redis *redis.InstitutionCache
	repo  *postgres.InstitutionRepository
}

// Open connects to the backend named by cfg.Cache.Backend. The Postgres
// backend also makes sure the institutions table exists.
func Open(ctx context.Context, cfg *config.Config) (*Tier, error) {
	t := &Tier{Backend: cfg.Cache.Backend}

	switch cfg.Cache.Backend {
	case config.CacheMemory:
		return t, nil

	case config.CacheRedis:
		rc, err := redis.NewInstitutionCache(ctx, redis.Config{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
			Prefix:   cfg.Cache.RedisPrefix,
		})
		if err != nil {
			return nil, err
		}
		t.redis = rc
		t.Cache = rc
		return t, nil

	case config.CachePostgres:
		db, err := postgres.New(ctx, cfg.Database.ConnectionString(), postgres.PoolConfig{
			MaxOpenConns: cfg.Database.MaxOpenConns,
		})
		if err != nil {
			return nil, err
		}
		if err := db.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, err
		}
		t.db = db
		t.repo = postgres.NewInstitutionRepository(db)
		t.Cache = t.repo
		return t, nil

	default:
		return nil, fmt.Errorf("unknown institution cache backend %q", cfg.Cache.Backend)
	}
}

// DB returns the Postgres handle, or nil for other backends.
func (t *Tier) DB() *postgres.DB {
	return t.db
}

// All returns every name stored in the shared tier.
func (t *Tier) All(ctx context.Context) (map[string]string, error) {
	switch {
	case t.redis != nil:
		return t.redis.All(ctx)
	case t.repo != nil:
		list, err := t.repo.List(ctx)
		if err != nil {
			return nil, err
		}
		names := make(map[string]string, len(list))
		for _, inst := range list {
			names[inst.ID] = inst.Name
		}
		return names, nil
	default:
		return map[string]string{}, nil
	}
}

// Warm copies every shared name into local and returns how many were copied.
func (t *Tier) Warm(ctx context.Context, local institution.Cache) (int, error) {
	names, err := t.All(ctx)
	if err != nil {
		return 0, err
	}
	for id, name := range names {
		if err := local.Put(ctx, id, name); err != nil {
			return 0, err
		}
	}
	return len(names), nil
}

func (t *Tier) Ping(ctx context.Context) error {
	switch {
	case t.redis != nil:
		return t.redis.Ping(ctx)
	case t.db != nil:
		return t.db.PingContext(ctx)
	default:
		return nil
	}
}

func (t *Tier) Close() error {
	var errs []error
	if t.redis != nil {
		errs = append(errs, t.redis.Close())
	}
	if t.db != nil {
		errs = append(errs, t.db.Close())
	}
	return errors.Join(errs...)
}
