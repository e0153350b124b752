package report

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/petrijr/arbor/pkg/api"
)

// Outcome is how one run of a node ended.
type Outcome int

const (
	NeverRun Outcome = iota
	Passed
	// Failed means an assertion did not hold.
	Failed
	// Errored means any other error.
	Errored
)

func (o Outcome) String() string {
	switch o {
	case Passed:
		return "passed"
	case Failed:
		return "failed"
	case Errored:
		return "errored"
	default:
		return "never run"
	}
}

// Classify maps the error a node returned to its Outcome.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return Passed
	case api.IsAssertion(err):
		return Failed
	default:
		return Errored
	}
}

// Result is the ledger entry of one path.
type Result struct {
	Path        string
	Description string

	Runs    int
	Passed  int
	Failed  int
	Errored int

	Last    Outcome
	LastErr error
	Total   time.Duration

	// Unresolved holds the errors of running children that could not be
	// mapped to a Node. For the root, it holds the errors of actions that
	// did not match the tree at all.
	Unresolved []error
}

// Summary aggregates the results of every node.
type Summary struct {
	Nodes   int
	Visited int
	Runs    int
	Passed  int
	Failed  int
	Errored int
}

// OK reports whether no node run failed or errored.
func (s Summary) OK() bool { return s.Failed == 0 && s.Errored == 0 }

// Option configures a Reporter.
type Option func(*Reporter)

// WithIdentity selects how running actions are mapped to Nodes.
func WithIdentity(p IdentityPolicy) Option {
	return func(r *Reporter) { r.identity = p }
}

// Reporter records per-path outcomes for one action tree.
type Reporter struct {
	root     *Node
	identity IdentityPolicy

	mu      sync.Mutex
	results map[string]*Result
}

// New builds the mirror tree of root and returns an empty Reporter for it.
func New(root *api.Action, opts ...Option) *Reporter {
	r := &Reporter{
		root:    BuildTree(root),
		results: make(map[string]*Result),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Root returns the mirror tree.
func (r *Reporter) Root() *Node { return r.root }

type nodeKey struct{ r *Reporter }

// Interceptor returns the engine hook that feeds the Reporter. The Node a
// call resolves to travels in the context, so concurrent branches keep
// independent paths.
//
// A call that cannot be mapped to exactly one Node fails with an
// *AmbiguousNodeError or *MissingNodeError instead of running.
func (r *Reporter) Interceptor() api.Interceptor {
	return func(next api.PerformFunc) api.PerformFunc {
		return func(ctx context.Context, a *api.Action, sc *api.Scope) error {
			parent, _ := ctx.Value(nodeKey{r}).(*Node)
			node, err := r.identity.resolve(r.root, parent, a)
			if err != nil {
				if parent == nil {
					parent = r.root
				}
				r.unresolved(parent, err)
				return err
			}

			start := time.Now()
			err = next(context.WithValue(ctx, nodeKey{r}, node), a, sc)
			r.record(node, err, time.Since(start))
			return err
		}
	}
}

// entry returns the ledger entry of n, creating it. r.mu must be held.
func (r *Reporter) entry(n *Node) *Result {
	res, ok := r.results[n.Path]
	if !ok {
		res = &Result{Path: n.Path, Description: n.Description}
		r.results[n.Path] = res
	}
	return res
}

func (r *Reporter) unresolved(parent *Node, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := r.entry(parent)
	res.Unresolved = append(res.Unresolved, err)
}

func (r *Reporter) record(n *Node, err error, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res := r.entry(n)
	res.Runs++
	res.Total += d
	res.LastErr = err
	res.Last = Classify(err)
	switch res.Last {
	case Passed:
		res.Passed++
	case Failed:
		res.Failed++
	case Errored:
		res.Errored++
	}
}

// Result returns the ledger entry for path. Nodes that never ran return a
// zero Result carrying their path and description.
func (r *Reporter) Result(path string) Result {
	r.mu.Lock()
	res, ok := r.results[path]
	var out Result
	if ok {
		out = *res
		out.Unresolved = slices.Clone(res.Unresolved)
	}
	r.mu.Unlock()

	if !ok {
		if n := r.root.Find(path); n != nil {
			out.Path = n.Path
			out.Description = n.Description
		}
	}
	return out
}

// Results returns a snapshot of every visited path.
func (r *Reporter) Results() map[string]Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]Result, len(r.results))
	for k, v := range r.results {
		res := *v
		res.Unresolved = slices.Clone(v.Unresolved)
		out[k] = res
	}
	return out
}

// Summary aggregates the ledger.
func (r *Reporter) Summary() Summary {
	var s Summary
	r.root.Walk(func(*Node) { s.Nodes++ })

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, res := range r.results {
		if res.Runs == 0 {
			continue
		}
		s.Visited++
		s.Runs += res.Runs
		s.Passed += res.Passed
		s.Failed += res.Failed
		s.Errored += res.Errored
	}
	return s
}

// Reset clears the ledger so the Reporter can be reused for another run of
// the same tree.
func (r *Reporter) Reset() {
	r.mu.Lock()
	clear(r.results)
	r.mu.Unlock()
}
