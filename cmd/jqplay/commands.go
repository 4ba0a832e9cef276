package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"

	"github.com/CZERTAINLY/jqplay/internal/jq"
	"github.com/CZERTAINLY/jqplay/internal/log"
	"github.com/CZERTAINLY/jqplay/internal/model"
	"github.com/CZERTAINLY/jqplay/internal/pool"
	"github.com/CZERTAINLY/jqplay/internal/service"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "serve runs the HTTP API with a pool of jq workers",
	Args:  cobra.NoArgs,
	RunE:  doServe,
}

var evalCmd = &cobra.Command{
	Use:   "eval QUERY FILE...",
	Short: "eval evaluates a query against files through a worker pool",
	Args:  cobra.MinimumNArgs(2),
	RunE:  doEval,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "config prints the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		if err := enc.Encode(config); err != nil {
			return fmt.Errorf("encoding configuration: %w", err)
		}
		return enc.Close()
	},
}

var workerCmd = &cobra.Command{
	Use:    service.WorkerCommand,
	Short:  "internal command",
	Args:   cobra.NoArgs,
	RunE:   doWorker,
	Hidden: true,
	// workers get everything over stdin, no config file is read
	PersistentPreRunE: func(*cobra.Command, []string) error {
		slog.SetDefault(log.New(os.Stderr, false))
		return nil
	},
}

var (
	flagEvalOptions string
	flagEvalTimeout string
	flagMemoryLimit int64
)

func initServe() {
	flags := serveCmd.Flags()
	flags.String("listen", "", "address to listen on, overrides server.listen")
	flags.String("isolation", "", "worker isolation: process or inprocess")
	flags.Int("min-workers", 0, "overrides pool.min_workers")
	flags.Int("max-workers", 0, "overrides pool.max_workers")
	flags.String("store", "", "snippet store backend: sqlite, postgres or s3")
	flags.String("sqlite", "", "path of the sqlite database")
	flags.String("postgres-dsn", "", "postgres connection string")
	flags.String("redis", "", "redis address of the snippet cache")

	for key, name := range map[string]string{
		"server.listen":          "listen",
		"pool.isolation":         "isolation",
		"pool.min_workers":       "min-workers",
		"pool.max_workers":       "max-workers",
		"store.backend":          "store",
		"store.sqlite.path":      "sqlite",
		"store.postgres.dsn":     "postgres-dsn",
		"store.cache.redis.addr": "redis",
	} {
		cobra.CheckErr(overrides.BindPFlag(key, flags.Lookup(name)))
	}
}

func initEval() {
	evalCmd.Flags().StringVarP(&flagEvalOptions, "options", "o", "", "comma separated jq options, e.g. -c,-r")
	evalCmd.Flags().StringVar(&flagEvalTimeout, "timeout", "", "ISO8601 timeout per file, default is server.request_timeout")
}

func initWorker() {
	workerCmd.Flags().Int64Var(&flagMemoryLimit, service.MemoryLimitFlag, 0, "soft memory limit in bytes, 0 means none")
}

func doServe(cmd *cobra.Command, _ []string) error {
	ctx := log.ContextAttrs(cmd.Context(), slog.Group("jqplay",
		slog.String("cmd", "serve"),
		slog.Int("pid", os.Getpid()),
	))

	svc, err := service.New(ctx, config)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			slog.ErrorContext(ctx, "closing service failed", "error", err)
		}
	}()
	return svc.Run(ctx)
}

func doEval(cmd *cobra.Command, args []string) error {
	ctx := log.ContextAttrs(cmd.Context(), slog.Group("jqplay",
		slog.String("cmd", "eval"),
		slog.Int("pid", os.Getpid()),
	))

	options, err := model.SplitFlags(flagEvalOptions)
	if err != nil {
		return err
	}
	timeout, err := config.Server.Timeout()
	if flagEvalTimeout != "" {
		timeout, err = model.ParseISODuration(flagEvalTimeout)
	}
	if err != nil {
		return fmt.Errorf("parsing timeout: %w", err)
	}

	p, err := service.NewPool(config.Pool, os.Stderr)
	if err != nil {
		return err
	}
	defer p.Close()

	return service.Eval(ctx, p, service.EvalOptions{
		Query:       args[0],
		Options:     options,
		Timeout:     timeout,
		Parallelism: config.Pool.MaxWorkers,
	}, args[1:], cmd.OutOrStdout())
}

func doWorker(cmd *cobra.Command, _ []string) error {
	ctx := log.ContextAttrs(cmd.Context(), slog.Group("jqplay",
		slog.String("cmd", service.WorkerCommand),
		slog.Int("pid", os.Getpid()),
	))
	if flagMemoryLimit > 0 {
		debug.SetMemoryLimit(flagMemoryLimit)
	}
	return pool.Serve(ctx, os.Stdin, os.Stdout, jq.New())
}
