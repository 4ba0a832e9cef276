package service

// Package service wires a configured jqplay instance together and runs it.
//
// Overview
// New builds three components from model.Config: an execution pool, a snippet
// store and the HTTP application. Run serves HTTP and drives the pool
// maintenance from a gocron scheduler until the context ends. Eval is the
// batch counterpart used by the CLI: it pushes many files through the same
// kind of pool and prints one line per file.
//
// Workers are either child processes of the running executable (the hidden
// `_worker` command, isolation "process") or goroutines (isolation
// "inprocess"). Process workers are what a public deployment wants: a
// runaway query is stopped by killing its process group.
//
// Data flow:
//
//   fiber app             pool.Pool              Worker
//       |                    |                      |
//   POST /api/jq ---------->| Submit() ----------->| Evaluate()
//       |                    | timer per request    | gojq
//       |<----- Outcome -----|<------ Output -------|
//       |                    |
//   /api/snippets ---> snippet.Store ---> Backend (sqlite|postgres|s3) [-> redis]
//
//   gocron ---> pool.Maintain(): reap idle workers, backfill min_workers
//
// Shutdown (Run returning): HTTP server stops accepting, the scheduler is
// shut down, then Close kills all workers and closes the store.
//
// Overrides applies flags and JQPLAY_* environment variables on top of the
// loaded configuration.
