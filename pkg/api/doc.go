// Package api contains the core building blocks of the arbor action-tree
// engine: the Action model, the Scope variables are kept in, error matching,
// and the observer hooks engines report through.
//
// Most users interact with the higher-level arbor package, whose fluent
// builders produce the Actions defined here. The api package is intended for
// custom integrations or contributors extending the engine itself.
//
// # Actions
//
// An Action is an immutable node of an execution tree. It is a tagged union:
// Kind selects the variant, and the accessors relevant to that variant
// describe it.
//
//   - Leaf: a callback performing a side effect
//   - Named: a display label around one child
//   - Composite: children run in order or in parallel
//   - ForEach: a body run once per element of a lazy sequence
//   - Attempt: a body with a recovery action and an ensure action
//   - Retry: a body re-run while it fails with matching errors
//   - TimeOut: a body bounded by a duration
//   - When: a condition choosing between two branches
//
// Actions carry no execution logic. Constructors (NewLeaf, NewRetry, ...)
// validate their arguments and return an *ArgumentError on misuse. Every
// Action receives a process-unique, increasing ID at construction; reports
// use it to tell apart actions that look the same.
//
// # Scopes
//
// A Scope is one level of the variable chain threaded through execution.
// Reads walk towards the root; writes always land in the receiving scope.
// ForEach gives every element its own child scope, parallel branches get one
// each, and an Attempt's recovery branch gets one binding ErrorVar.
//
// # Errors
//
// Programming errors (an undefined variable, an invalid constructor argument,
// an unidentifiable report node) are never recovered nor retried, whatever
// the ErrorMatcher says. TimeOut nodes produce *TimeoutError, which matches
// ErrTimeout. AssertionError marks a failed check, which reports show
// differently from other errors.
//
// # Observability
//
// The Observer interface receives run and node lifecycle events.
// LoggingObserver logs them with log/slog, BasicMetrics counts them, and
// NewCompositeObserver fans them out to several observers.
package api
