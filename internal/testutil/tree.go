// Package testutil holds helpers shared by the engine, report and facade
// tests: recording leaves, flaky leaves and blocking leaves.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/petrijr/arbor/pkg/api"
)

// ErrBoom is a generic runtime failure for tests.
var ErrBoom = errors.New("boom")

// Must unwraps a constructor result, panicking on error.
func Must(a *api.Action, err error) *api.Action {
	if err != nil {
		panic(err)
	}
	return a
}

// Recorder collects entries from leaves that may run concurrently.
type Recorder struct {
	mu      sync.Mutex
	entries []string
}

// Add appends an entry.
func (r *Recorder) Add(entry string) {
	r.mu.Lock()
	r.entries = append(r.entries, entry)
	r.mu.Unlock()
}

// Entries returns a copy of the recorded entries in arrival order.
func (r *Recorder) Entries() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.entries)
}

// Sorted returns the recorded entries sorted, for parallel trees.
func (r *Recorder) Sorted() []string {
	out := r.Entries()
	slices.Sort(out)
	return out
}

// Leaf returns a leaf labelled entry that records entry.
func (r *Recorder) Leaf(entry string) *api.Action {
	return Must(api.NewLeaf(entry, func(ctx context.Context, sc *api.Scope) error {
		r.Add(entry)
		return nil
	}))
}

// Fail returns a leaf labelled entry that records entry and then fails with err.
func (r *Recorder) Fail(entry string, err error) *api.Action {
	return Must(api.NewLeaf(entry, func(ctx context.Context, sc *api.Scope) error {
		r.Add(entry)
		return err
	}))
}

// Var returns a leaf that records "<name>=<value>" for the variable name.
func (r *Recorder) Var(name string) *api.Action {
	return Must(api.NewLeaf("record "+name, func(ctx context.Context, sc *api.Scope) error {
		v, err := sc.Get(name)
		if err != nil {
			return err
		}
		r.Add(fmt.Sprintf("%s=%v", name, v))
		return nil
	}))
}

// Flaky returns a leaf that fails with err for the first failures calls and
// succeeds afterwards, plus the number of calls made so far.
func Flaky(failures int, err error) (*api.Action, *atomic.Int32) {
	calls := new(atomic.Int32)
	a := Must(api.NewLeaf("flaky", func(ctx context.Context, sc *api.Scope) error {
		if int(calls.Add(1)) <= failures {
			return err
		}
		return nil
	}))
	return a, calls
}

// Blocking returns a leaf that waits for ctx to be done and returns ctx.Err().
func Blocking() *api.Action {
	return Must(api.NewLeaf("blocking", func(ctx context.Context, sc *api.Scope) error {
		<-ctx.Done()
		return ctx.Err()
	}))
}

// Stubborn returns a leaf that ignores cancellation and only returns once
// release is closed.
func Stubborn(release <-chan struct{}) *api.Action {
	return Must(api.NewLeaf("stubborn", func(ctx context.Context, sc *api.Scope) error {
		<-release
		return nil
	}))
}
