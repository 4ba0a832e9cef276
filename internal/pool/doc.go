// Package pool implements the bounded execution pool evaluating jq queries in
// isolated workers.
//
// Overview
// A Pool owns at most MaxWorkers workers created by a Spawner. Submit takes
// an idle worker, spawns a new one while under the limit, or waits in a FIFO
// queue. Each dispatched request gets its own wall clock timer; when it fires
// the worker is killed and thrown away, and the caller gets TimedOut
// immediately without waiting for the kill to finish.
//
// Worker flavours:
//   - ProcessSpawner re-executes the jqplay binary with the hidden _worker
//     command. Requests and replies are JSON values on the child's stdin and
//     stdout, one request at a time. Kill sends SIGKILL to the child's
//     process group.
//   - InProcessSpawner evaluates in a goroutine. Kill cancels the evaluation
//     context, so a query only stops at the evaluator's next context check.
//
// Data flow:
//
//   Submit                 Pool                    Worker
//     |  acquire ---------->| idle | spawn | queue   |
//     |<-- worker ----------|                        |
//     |  Evaluate ---------------------------------->| (goroutine)
//     |  timer / ctx / reply                         |
//     |  release or discard ->| park, hand to waiter |
//     |                       | or Kill + reap ----->|
//
// Invariants:
//   - live workers (idle, busy or being spawned) never exceed MaxWorkers
//   - a worker serves at most one request at a time
//   - waiters are served in arrival order
//   - a timed out or faulted worker never returns to the idle set
//   - every Submit returns exactly one Outcome, nothing is retried
//
// Maintain shrinks the idle set down to MinWorkers after IdleTimeout and
// backfills up to MinWorkers; the service layer runs it periodically.
package pool
