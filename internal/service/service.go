package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/CZERTAINLY/jqplay/internal/model"
	"github.com/CZERTAINLY/jqplay/internal/pool"
	"github.com/CZERTAINLY/jqplay/internal/server"
	"github.com/CZERTAINLY/jqplay/internal/snippet"

	gocron "github.com/go-co-op/gocron/v2"
	"github.com/gofiber/fiber/v2"
	"golang.org/x/sync/errgroup"
)

const (
	// WorkerCommand is the hidden subcommand a process worker runs.
	WorkerCommand = "_worker"
	// MemoryLimitFlag passes pool.worker.memory_limit to the worker.
	MemoryLimitFlag = "memory-limit"

	shutdownTimeout = 28 * time.Second
)

type Service struct {
	cfg         model.Config
	pool        *pool.Pool
	store       *snippet.Store
	app         *fiber.App
	maintenance gocron.JobDefinition
}

// New builds all components of a service. The returned service owns worker
// processes and store connections even if Run is never called, so Close must
// always be called.
func New(ctx context.Context, cfg model.Config) (*Service, error) {
	if cfg.Version != 0 {
		return nil, fmt.Errorf("config version %d is not supported, expected 0", cfg.Version)
	}
	timeout, err := cfg.Server.Timeout()
	if err != nil {
		return nil, err
	}
	maintenance, err := jobDefinition(ctx, cfg.Pool.Maintenance)
	if err != nil {
		return nil, fmt.Errorf("initializing pool maintenance: %w", err)
	}

	p, err := NewPool(cfg.Pool, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("initializing pool: %w", err)
	}

	backend, err := snippet.Open(ctx, cfg.Store)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	store := snippet.NewStore(backend)

	return &Service{
		cfg:   cfg,
		pool:  p,
		store: store,
		app: server.New(server.Config{
			BodyLimit:      cfg.Server.BodyLimit,
			RequestTimeout: timeout,
		}, p, store),
		maintenance: maintenance,
	}, nil
}

// NewPool returns a pool with workers of the configured isolation. Process
// workers write their logs to stderr.
func NewPool(cfg model.Pool, stderr io.Writer) (*pool.Pool, error) {
	idle, err := cfg.Idle()
	if err != nil {
		return nil, err
	}

	var spawner pool.Spawner
	switch cfg.Isolation {
	case model.IsolationProcess, "":
		path := cfg.Worker.Path
		if path == "" {
			path, err = os.Executable()
			if err != nil {
				return nil, fmt.Errorf("locating worker executable: %w", err)
			}
		}
		spawner = pool.ProcessSpawner{
			Path:   path,
			Args:   []string{WorkerCommand, "--" + MemoryLimitFlag, strconv.FormatInt(cfg.Worker.MemoryLimit, 10)},
			Stderr: stderr,
		}
	case model.IsolationInProcess:
		spawner = pool.InProcessSpawner{}
	default:
		return nil, fmt.Errorf("unsupported pool isolation %q", cfg.Isolation)
	}

	return pool.New(spawner, pool.Config{
		MinWorkers:  cfg.MinWorkers,
		MaxWorkers:  cfg.MaxWorkers,
		IdleTimeout: idle,
	}), nil
}

// App returns the HTTP application, mostly for the tests.
func (s *Service) App() *fiber.App {
	return s.app
}

func (s *Service) Pool() *pool.Pool {
	return s.pool
}

// Run listens on server.listen and serves until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Server.Listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves HTTP on ln until ctx is done. The listener is closed on
// return.
func (s *Service) Serve(ctx context.Context, ln net.Listener) error {
	scheduler, err := newScheduler(s.maintenance, func() { s.maintain(ctx) })
	if err != nil {
		_ = ln.Close()
		return err
	}

	slog.InfoContext(ctx, "jqplay listening", "addr", ln.Addr().String())
	s.maintain(ctx)

	scheduler.Start()
	defer func() {
		if err := scheduler.Shutdown(); err != nil {
			slog.ErrorContext(ctx, "shutting down gocron has failed", "error", err)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.app.Listener(ln)
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.DebugContext(ctx, "shutting down http server")
		return s.app.ShutdownWithTimeout(shutdownTimeout)
	})
	return g.Wait()
}

func (s *Service) maintain(ctx context.Context) {
	err := s.pool.Maintain(ctx)
	switch {
	case err == nil, errors.Is(err, pool.ErrClosed):
	default:
		slog.WarnContext(ctx, "pool maintenance failed", "error", err)
	}
	slog.DebugContext(ctx, "pool maintenance", "stats", s.pool.Stats().String())
}

// Close stops all workers and closes the store.
func (s *Service) Close() error {
	s.pool.Close()
	return s.store.Close()
}
