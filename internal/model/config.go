package model

import (
	"errors"
	"fmt"
	"io"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/encoding/yaml"

	_ "embed"
)

const (
	IsolationProcess   = "process"
	IsolationInProcess = "inprocess"

	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendS3       = "s3"

	LogStderr  = "stderr"
	LogStdout  = "stdout"
	LogDiscard = "discard"

	defaultMaintenance = 10 * time.Second
)

//go:embed config.cue
var cueSource []byte

var (
	cueCtx *cue.Context
	schema cue.Value
)

func init() {
	if len(cueSource) == 0 {
		panic("variable cueSource is empty")
	}
	cueCtx = cuecontext.New()
	compiled := cueCtx.CompileBytes(cueSource)
	if compiled.Err() != nil {
		panic(compiled.Err())
	}

	schema = compiled.LookupPath(cue.ParsePath("#Config"))
	if schema.Err() != nil {
		panic(schema.Err())
	}
}

type Config struct {
	Version int     `json:"version" yaml:"version"`
	Service Service `json:"service" yaml:"service"`
	Server  Server  `json:"server" yaml:"server"`
	Pool    Pool    `json:"pool" yaml:"pool"`
	Store   Store   `json:"store" yaml:"store"`
}

type Service struct {
	Verbose bool   `json:"verbose" yaml:"verbose"`
	Log     string `json:"log" yaml:"log"` // "stderr"|"stdout"|"discard"|path
}

type Server struct {
	Listen         string `json:"listen" yaml:"listen"`
	RequestTimeout string `json:"request_timeout" yaml:"request_timeout"` // ISO8601 duration
	BodyLimit      int    `json:"body_limit" yaml:"body_limit"`
}

func (s Server) Timeout() (time.Duration, error) {
	return parseField("server.request_timeout", s.RequestTimeout)
}

type Pool struct {
	Isolation   string   `json:"isolation" yaml:"isolation"` // "process" | "inprocess"
	MinWorkers  int      `json:"min_workers" yaml:"min_workers"`
	MaxWorkers  int      `json:"max_workers" yaml:"max_workers"`
	IdleTimeout string   `json:"idle_timeout" yaml:"idle_timeout"`
	Maintenance Schedule `json:"maintenance" yaml:"maintenance"`
	Worker      Worker   `json:"worker" yaml:"worker"`
}

func (p Pool) Idle() (time.Duration, error) {
	return parseField("pool.idle_timeout", p.IdleTimeout)
}

// Schedule is either an ISO8601 interval or a cron expression, cron wins.
type Schedule struct {
	Duration string `json:"duration,omitempty" yaml:"duration,omitempty"`
	Cron     string `json:"cron,omitempty" yaml:"cron,omitempty"`
}

// Interval returns the maintenance interval for a duration based schedule.
func (s Schedule) Interval() (time.Duration, error) {
	if s.Duration == "" {
		return defaultMaintenance, nil
	}
	return parseField("pool.maintenance.duration", s.Duration)
}

type Worker struct {
	Path        string `json:"path,omitempty" yaml:"path,omitempty"` // defaults to the running executable
	MemoryLimit int64  `json:"memory_limit" yaml:"memory_limit"`
}

type Store struct {
	Backend  string    `json:"backend" yaml:"backend"`
	SQLite   SQLite    `json:"sqlite" yaml:"sqlite"`
	Postgres *Postgres `json:"postgres,omitempty" yaml:"postgres,omitempty"`
	S3       *S3       `json:"s3,omitempty" yaml:"s3,omitempty"`
	Cache    *Cache    `json:"cache,omitempty" yaml:"cache,omitempty"`
}

type SQLite struct {
	Path string `json:"path" yaml:"path"`
}

type Postgres struct {
	DSN string `json:"dsn" yaml:"dsn"`
}

type S3 struct {
	Bucket   string `json:"bucket" yaml:"bucket"`
	Region   string `json:"region" yaml:"region"`
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"` // minio and friends
	Prefix   string `json:"prefix" yaml:"prefix"`
}

type Cache struct {
	Redis Redis `json:"redis" yaml:"redis"`
}

type Redis struct {
	Addr     string `json:"addr" yaml:"addr"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
	TTL      string `json:"ttl" yaml:"ttl"`
}

func (r Redis) Expiration() (time.Duration, error) {
	return parseField("store.cache.redis.ttl", r.TTL)
}

// LoadConfig validates YAML from r against CUE schema and decodes to Config.
func LoadConfig(r io.Reader) (Config, error) {
	yamlFile, err := yaml.Extract("config.yaml", r)
	if err != nil {
		return Config{}, err
	}
	return decode(cueCtx.BuildFile(yamlFile))
}

// DefaultConfig returns the configuration with all schema defaults applied.
func DefaultConfig() Config {
	cfg, err := decode(cueCtx.CompileString("{}"))
	if err != nil {
		panic(fmt.Sprintf("default configuration is invalid: %v", err))
	}
	return cfg
}

func decode(value cue.Value) (Config, error) {
	unified := schema.Unify(value)
	if err := unified.Validate(
		cue.All(),          // all constraints
		cue.Concrete(true), // no incomplete values
	); err != nil {
		return Config{}, err
	}

	var out Config
	if err := unified.Decode(&out); err != nil {
		return Config{}, err
	}
	if out.Pool.MaxWorkers < out.Pool.MinWorkers {
		return Config{}, errors.New("pool.max_workers must not be lower than pool.min_workers")
	}
	return out, nil
}

func parseField(name, value string) (time.Duration, error) {
	d, err := ParseISODuration(value)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", name, err)
	}
	return d, nil
}
