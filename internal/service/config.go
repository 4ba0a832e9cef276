package service

import (
	"strings"

	"github.com/CZERTAINLY/jqplay/internal/model"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes the environment overrides, JQPLAY_SERVER_LISTEN
// overrides server.listen.
const EnvPrefix = "JQPLAY"

// NewViper returns a viper reading JQPLAY_* environment variables. Callers
// bind their flags to the keys Overrides knows.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Overrides applies the keys set in v on top of cfg.
func Overrides(v *viper.Viper, cfg model.Config) model.Config {
	if v.IsSet("service.verbose") {
		cfg.Service.Verbose = v.GetBool("service.verbose")
	}
	if v.IsSet("service.log") {
		cfg.Service.Log = v.GetString("service.log")
	}
	if v.IsSet("server.listen") {
		cfg.Server.Listen = v.GetString("server.listen")
	}
	if v.IsSet("server.request_timeout") {
		cfg.Server.RequestTimeout = v.GetString("server.request_timeout")
	}
	if v.IsSet("pool.isolation") {
		cfg.Pool.Isolation = v.GetString("pool.isolation")
	}
	if v.IsSet("pool.min_workers") {
		cfg.Pool.MinWorkers = v.GetInt("pool.min_workers")
	}
	if v.IsSet("pool.max_workers") {
		cfg.Pool.MaxWorkers = v.GetInt("pool.max_workers")
	}
	if v.IsSet("store.backend") {
		cfg.Store.Backend = v.GetString("store.backend")
	}
	if v.IsSet("store.sqlite.path") {
		cfg.Store.SQLite.Path = v.GetString("store.sqlite.path")
	}
	if v.IsSet("store.postgres.dsn") {
		cfg.Store.Postgres = &model.Postgres{DSN: v.GetString("store.postgres.dsn")}
	}
	if v.IsSet("store.cache.redis.addr") {
		if cfg.Store.Cache == nil {
			cfg.Store.Cache = &model.Cache{Redis: model.Redis{TTL: "PT1H"}}
		}
		cfg.Store.Cache.Redis.Addr = v.GetString("store.cache.redis.addr")
	}
	return cfg
}
