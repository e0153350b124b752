// Package worker provides the pool that runs the parallel parts of an action
// tree.
//
// A Pool executes independent units of work on goroutines and waits for all
// of them. It backs parallel Composite nodes, parallel ForEach nodes and the
// delegated body of TimeOut nodes.
//
// # Sizing
//
// NewPool(n) admits at most n units concurrently; NewPool(0) is unbounded.
// A bounded pool never makes the submitter wait: when every slot is taken,
// the unit runs on the submitting goroutine instead. Parallel nodes nested
// inside parallel nodes therefore always make progress, at the cost of
// less parallelism while the pool is saturated.
//
// # Failures
//
// FanOut and FanOutSeq return the first failure observed. With WaitAll
// (the default) every unit is allowed to finish first, because side effects
// of siblings that already started cannot be undone. CancelOnFailure
// cancels the context of running units and stops starting new ones, but
// still waits for the running ones to return.
//
// A panicking unit is reported as an *api.PanicError.
//
// # Shutdown
//
// Shutdown rejects further work with ErrPoolClosed and waits for every
// in-flight unit, including TimeOut bodies whose callers already gave up on
// them.
package worker
