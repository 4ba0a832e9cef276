package snippet

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/CZERTAINLY/jqplay/internal/model"

	"github.com/redis/go-redis/v9"
)

const cacheKeyPrefix = "snippet:"

// Cached is a read-through redis cache in front of another Backend. Redis
// failures are logged and never fail a request.
type Cached struct {
	Backend
	client *redis.Client
	ttl    time.Duration
}

func NewCached(backend Backend, client *redis.Client, ttl time.Duration) *Cached {
	return &Cached{Backend: backend, client: client, ttl: ttl}
}

func (c *Cached) Upsert(ctx context.Context, rec model.SnippetRecord) error {
	if err := c.Backend.Upsert(ctx, rec); err != nil {
		return err
	}
	if err := c.client.Del(ctx, cacheKeyPrefix+rec.Slug).Err(); err != nil {
		slog.WarnContext(ctx, "invalidating cached snippet failed", "slug", rec.Slug, "error", err)
	}
	return nil
}

func (c *Cached) Lookup(ctx context.Context, slug string) (model.SnippetRecord, error) {
	key := cacheKeyPrefix + slug
	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var rec model.SnippetRecord
		if err := json.Unmarshal(raw, &rec); err == nil {
			return rec, nil
		}
		slog.WarnContext(ctx, "ignoring malformed cached snippet", "slug", slug, "error", err)
	case !errors.Is(err, redis.Nil):
		slog.WarnContext(ctx, "reading cached snippet failed", "slug", slug, "error", err)
	}

	rec, err := c.Backend.Lookup(ctx, slug)
	if err != nil {
		return model.SnippetRecord{}, err
	}
	if raw, err := json.Marshal(rec); err == nil {
		if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
			slog.WarnContext(ctx, "caching snippet failed", "slug", slug, "error", err)
		}
	}
	return rec, nil
}

func (c *Cached) Close() error {
	return errors.Join(c.Backend.Close(), c.client.Close())
}
