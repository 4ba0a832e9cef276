package snippet

import (
	"context"
	"fmt"

	"github.com/CZERTAINLY/jqplay/internal/model"

	"github.com/redis/go-redis/v9"
)

// Open returns the Backend selected by cfg, wrapped in a redis cache when one
// is configured.
func Open(ctx context.Context, cfg model.Store) (Backend, error) {
	var (
		backend Backend
		err     error
	)
	switch cfg.Backend {
	case model.BackendSQLite, "":
		backend, err = OpenSQLite(ctx, cfg.SQLite.Path)
	case model.BackendPostgres:
		if cfg.Postgres == nil {
			return nil, fmt.Errorf("store.postgres is required for backend %q", cfg.Backend)
		}
		backend, err = OpenPostgres(ctx, cfg.Postgres.DSN)
	case model.BackendS3:
		if cfg.S3 == nil {
			return nil, fmt.Errorf("store.s3 is required for backend %q", cfg.Backend)
		}
		backend, err = OpenS3(ctx, *cfg.S3)
	default:
		return nil, fmt.Errorf("unsupported store backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	if cfg.Cache == nil {
		return backend, nil
	}

	ttl, err := cfg.Cache.Redis.Expiration()
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Cache.Redis.Addr,
		Password: cfg.Cache.Redis.Password,
		DB:       cfg.Cache.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		_ = backend.Close()
		return nil, fmt.Errorf("%w: connecting to redis: %w", model.ErrStorage, err)
	}
	return NewCached(backend, client, ttl), nil
}
