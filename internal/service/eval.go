package service

import (
	"context"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"time"

	"github.com/CZERTAINLY/jqplay/internal/model"
	"github.com/CZERTAINLY/jqplay/internal/parallel"
	"github.com/CZERTAINLY/jqplay/internal/server"
)

type EvalOptions struct {
	Query   string
	Options []model.Flag
	Timeout time.Duration
	// Parallelism is the number of files in flight, usually pool.max_workers.
	Parallelism int
}

type evalResult struct {
	path    string
	outcome model.Outcome
}

// Eval runs the query against every file through exec and writes one
// "path: result" line per file in completion order. Files that could not be
// read or evaluated are reported the same way and make Eval return an error
// after all files were processed.
func Eval(ctx context.Context, exec server.Executor, opts EvalOptions, paths []string, out io.Writer) error {
	if opts.Timeout <= 0 {
		opts.Timeout = model.DefaultTimeout
	}
	evalFile := func(ctx context.Context, path string) (evalResult, error) {
		b, err := os.ReadFile(path)
		if err != nil {
			return evalResult{}, fmt.Errorf("%s: %w", path, err)
		}
		req, err := model.NewExecutionRequest(string(b), opts.Query, opts.Options, opts.Timeout)
		if err != nil {
			return evalResult{}, fmt.Errorf("%s: %w", path, err)
		}
		slog.DebugContext(ctx, "evaluating", "path", path, "request_id", req.ID)
		return evalResult{path: path, outcome: exec.Submit(ctx, req)}, nil
	}

	var failed int
	m := parallel.NewMap(opts.Parallelism, evalFile)
	for r, err := range m.Iter(ctx, files(paths)) {
		if err != nil {
			failed++
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		if err := r.outcome.Err(); err != nil {
			failed++
			fmt.Fprintf(out, "%s: error: %v\n", r.path, err)
			continue
		}
		fmt.Fprintf(out, "%s: %s\n", r.path, r.outcome.Text)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(paths))
	}
	return nil
}

func files(paths []string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for _, p := range paths {
			if !yield(p, nil) {
				return
			}
		}
	}
}
