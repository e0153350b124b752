// Package arbor provides an embeddable action-tree execution engine for Go.
//
// Callers assemble a tree of declarative steps (run this, then that; run
// these in parallel; retry on failure; time out; try, recover and ensure;
// iterate over a stream; branch on a condition) and hand it to an engine
// that walks it, performs the side effects, and records a per-node outcome
// history usable for reporting.
//
// # Core Concepts
//
// The arbor programming model is intentionally small:
//
//  1. Action
//  2. Scope
//  3. Engine
//  4. Reporter
//  5. LocalRunner
//
// # Action
//
// An Action is an immutable node of the tree. Leaves wrap a callback:
//
//	type LeafFunc func(ctx context.Context, sc *Scope) error
//
// and the other kinds combine actions:
//
//   - Sequence / Parallel: run children in order or concurrently
//   - ForEach: run a body once per element of a lazily produced sequence
//   - Attempt: recover from matching errors and always run an ensure clause
//   - Retry: re-run a body while it fails with matching errors
//   - TimeOut: bound a body by a duration
//   - When: choose a branch on a condition
//   - Named: give any subtree its own description in reports
//
// Trees are built with fluent, immutable builders:
//
//	tree := arbor.Sequence(
//	    arbor.Leaf("compile", compile),
//	    arbor.Attempt(arbor.Leaf("deploy", deploy)).
//	        Recover(arbor.Leaf("rollback", rollback)).
//	        Ensure(arbor.Leaf("notify", notify)),
//	)
//
// Misuse (a nil callback, an Attempt with neither recovery nor ensure, a
// negative retry count) is reported by Build as a programming error. Such
// errors are never recovered nor retried by the tree itself.
//
// # Scope
//
// A Scope holds the variables leaves read and write. ForEach binds its loop
// variable, and Attempt binds the caught error, in child scopes; every
// parallel branch gets a child scope of its own so siblings never see each
// other's writes.
//
// # Engine
//
// The Engine interprets trees. Parallel work runs on a worker pool that is
// either unbounded or bounded; a saturated bounded pool runs work on the
// submitting goroutine, so nested parallel nodes cannot deadlock.
// Cancellation of the context passed to Perform or Run is observed between
// steps, between elements, and while waiting for retries and time-outs.
//
// Leaves can log through Logger(ctx), which carries the run id.
//
// # Reporter
//
// A Reporter (package pkg/report) mirrors the tree, assigns every node a
// stable path such as "0/1/0", and counts how often each node ran and how
// it ended. The trace renders as:
//
//	✔ deploy (1x)
//	  ✘ smoke test (2x)
//
// # LocalRunner
//
// LocalRunner bundles a pool, an engine, observers, an optional run history
// (memory, SQLite or Redis), Prometheus metrics and OpenTelemetry tracing,
// all selected by a Config that can be loaded from YAML. Every Run returns
// the run record together with its report.
//
// For examples, see the /examples directory.
package arbor
