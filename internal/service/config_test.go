package service_test

import (
	"testing"

	"github.com/CZERTAINLY/jqplay/internal/model"
	"github.com/CZERTAINLY/jqplay/internal/service"

	"github.com/stretchr/testify/require"
)

func TestOverrides(t *testing.T) {
	t.Setenv("JQPLAY_SERVER_LISTEN", "127.0.0.1:9999")
	t.Setenv("JQPLAY_POOL_MAX_WORKERS", "8")

	v := service.NewViper()
	v.Set("pool.isolation", model.IsolationInProcess)
	v.Set("store.cache.redis.addr", "localhost:6379")
	v.Set("store.postgres.dsn", "postgres://jqplay@localhost/jqplay")

	def := model.DefaultConfig()
	cfg := service.Overrides(v, def)

	require.Equal(t, "127.0.0.1:9999", cfg.Server.Listen)
	require.Equal(t, 8, cfg.Pool.MaxWorkers)
	require.Equal(t, def.Pool.MinWorkers, cfg.Pool.MinWorkers)
	require.Equal(t, model.IsolationInProcess, cfg.Pool.Isolation)
	require.NotNil(t, cfg.Store.Cache)
	require.Equal(t, "localhost:6379", cfg.Store.Cache.Redis.Addr)
	require.Equal(t, "PT1H", cfg.Store.Cache.Redis.TTL)
	require.NotNil(t, cfg.Store.Postgres)
	require.Equal(t, "postgres://jqplay@localhost/jqplay", cfg.Store.Postgres.DSN)
	require.Equal(t, def.Store.Backend, cfg.Store.Backend)
}

func TestOverrides_Unset(t *testing.T) {
	def := model.DefaultConfig()
	require.Equal(t, def, service.Overrides(service.NewViper(), def))
}
