package worker

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/petrijr/arbor/pkg/api"
)

// ErrPoolClosed is returned for work submitted after Shutdown.
var ErrPoolClosed = errors.New("worker pool is shut down")

// FailurePolicy decides what a fan-out does with its siblings once one unit
// has failed.
type FailurePolicy int

const (
	// WaitAll lets every unit run to completion and then reports the first
	// failure observed. Side effects of started siblings cannot be undone,
	// so they are allowed to finish.
	WaitAll FailurePolicy = iota

	// CancelOnFailure cancels the context handed to running units and stops
	// starting new ones as soon as one unit fails. It still waits for the
	// running units to return.
	CancelOnFailure
)

func (p FailurePolicy) String() string {
	switch p {
	case WaitAll:
		return "wait-all"
	case CancelOnFailure:
		return "cancel-on-failure"
	default:
		return fmt.Sprintf("FailurePolicy(%d)", int(p))
	}
}

// ParseFailurePolicy is the inverse of FailurePolicy.String. The empty string
// selects WaitAll.
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch s {
	case "", "wait-all":
		return WaitAll, nil
	case "cancel-on-failure":
		return CancelOnFailure, nil
	default:
		return WaitAll, fmt.Errorf("unknown failure policy %q", s)
	}
}

// Unit is one independent piece of work.
type Unit func(ctx context.Context) error

// Pool runs units of work on goroutines, admitting at most Size of them at
// once. A unit submitted while the pool is saturated runs on the submitting
// goroutine instead of waiting, so parallel nodes nested inside parallel
// nodes cannot starve each other.
type Pool struct {
	size   int
	sem    *semaphore.Weighted // nil when unbounded
	logger *slog.Logger

	mu       sync.RWMutex
	closed   bool
	inflight sync.WaitGroup
}

// Option configures a Pool.
type Option func(*Pool)

// WithLogger sets the logger used for pool diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPool creates a pool admitting size concurrent units. size <= 0 means
// unbounded: every unit gets its own goroutine.
func NewPool(size int, opts ...Option) *Pool {
	p := &Pool{size: size, logger: slog.Default()}
	if size > 0 {
		p.sem = semaphore.NewWeighted(int64(size))
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Size returns the concurrency bound, or 0 for an unbounded pool.
func (p *Pool) Size() int {
	if p.size < 0 {
		return 0
	}
	return p.size
}

func (p *Pool) isClosed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}

// admit reserves a slot for a new goroutine. It never blocks.
func (p *Pool) admit() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	if p.sem != nil && !p.sem.TryAcquire(1) {
		return false
	}
	p.inflight.Add(1)
	return true
}

func (p *Pool) done() {
	if p.sem != nil {
		p.sem.Release(1)
	}
	p.inflight.Done()
}

// FanOut runs every unit, waits for all of them and returns the first
// failure observed.
func (p *Pool) FanOut(ctx context.Context, policy FailurePolicy, units []Unit) error {
	return p.FanOutSeq(ctx, policy, slices.Values(units))
}

// FanOutSeq is FanOut over a lazily produced sequence of units. Units are
// pulled one at a time; with CancelOnFailure no further unit is pulled once
// a failure was observed. A panic in units is reported as *api.PanicError.
func (p *Pool) FanOutSeq(ctx context.Context, policy FailurePolicy, units iter.Seq[Unit]) error {
	if p.isClosed() {
		return ErrPoolClosed
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu    sync.Mutex
		first error
		g     errgroup.Group
	)
	record := func(err error) {
		if err == nil {
			return
		}
		mu.Lock()
		if first == nil {
			first = err
		}
		mu.Unlock()
		if policy == CancelOnFailure {
			cancel()
		}
	}

	// A panic while producing units still waits for the units already
	// started.
	func() {
		defer func() {
			if r := recover(); r != nil {
				record(&api.PanicError{Value: r, Stack: debug.Stack()})
			}
		}()
		for u := range units {
			if policy == CancelOnFailure && runCtx.Err() != nil {
				break
			}
			if p.admit() {
				g.Go(func() error {
					defer p.done()
					err := run(runCtx, u)
					record(err)
					return err
				})
				continue
			}
			if p.isClosed() {
				record(ErrPoolClosed)
				continue
			}
			p.logger.DebugContext(ctx, "worker pool saturated, running unit inline", slog.Int("size", p.size))
			record(run(runCtx, u))
		}
	}()

	_ = g.Wait()
	return first
}

// Spawn runs u on its own goroutine, outside the concurrency bound, and
// returns a channel that receives its result. It is meant for work the
// caller may abandon (a timed-out body) while Shutdown still waits for it.
func (p *Pool) Spawn(ctx context.Context, u Unit) (<-chan error, error) {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return nil, ErrPoolClosed
	}
	p.inflight.Add(1)
	p.mu.RUnlock()

	done := make(chan error, 1)
	go func() {
		defer p.inflight.Done()
		done <- run(ctx, u)
	}()
	return done, nil
}

// Shutdown rejects new work and waits for in-flight units, or for ctx.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		p.inflight.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run executes u, turning a panic into an *api.PanicError so that one bad
// unit cannot take the process down from a pool goroutine.
func run(ctx context.Context, u Unit) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &api.PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return u(ctx)
}
