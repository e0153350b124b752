package api

import (
	"context"
	"fmt"
	"iter"
	"math"
	"reflect"
	"runtime"
	"strings"
	"sync/atomic"
	"time"
)

// Kind identifies the variant of an Action.
type Kind int

const (
	KindLeaf Kind = iota + 1
	KindNamed
	KindComposite
	KindForEach
	KindAttempt
	KindRetry
	KindTimeOut
	KindWhen
)

func (k Kind) String() string {
	switch k {
	case KindLeaf:
		return "leaf"
	case KindNamed:
		return "named"
	case KindComposite:
		return "composite"
	case KindForEach:
		return "forEach"
	case KindAttempt:
		return "attempt"
	case KindRetry:
		return "retry"
	case KindTimeOut:
		return "timeOut"
	case KindWhen:
		return "when"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// RetryForever is the retry budget meaning "retry matching errors without
// limit".
const RetryForever = -1

// LeafFunc is the side effect performed by a Leaf. It should observe ctx
// cancellation so that TimeOut can interrupt it.
type LeafFunc func(ctx context.Context, sc *Scope) error

// CondFunc decides which branch a When node takes.
type CondFunc func(ctx context.Context, sc *Scope) (bool, error)

// SequenceFunc produces the elements a ForEach iterates over. The returned
// sequence is consumed lazily and may be infinite; any resources it holds
// must be released when iteration stops, which range-over-func guarantees on
// every exit path.
//
// A pair with a non-nil error ends the loop with that error. The sequence
// should not yield again after it.
type SequenceFunc func(ctx context.Context, sc *Scope) (iter.Seq2[any, error], error)

// Step is anything that can produce an Action: a built *Action or one of the
// fluent builders of the arbor package.
type Step interface {
	Build() (*Action, error)
}

var lastID atomic.Uint64

func nextID() uint64 { return lastID.Add(1) }

// Action is an immutable node of an execution tree. It carries no execution
// logic; the engine dispatches on Kind.
type Action struct {
	id    uint64
	kind  Kind
	label string

	fn LeafFunc

	children []*Action
	parallel bool

	varName string
	seq     SequenceFunc
	body    *Action

	matcher  ErrorMatcher
	recovery *Action
	ensure   *Action

	retry RetryPolicy

	timeout time.Duration

	cond      CondFunc
	then      *Action
	otherwise *Action
}

// Build returns a itself so an *Action can be used wherever a Step is
// expected.
func (a *Action) Build() (*Action, error) { return a, nil }

// ID returns the process-unique identifier stamped at construction.
// Identifiers increase monotonically in construction order.
func (a *Action) ID() uint64 { return a.id }

// Kind returns the variant of a.
func (a *Action) Kind() Kind { return a.kind }

// Label returns the explicit label (Leaf, Named, When), possibly empty.
func (a *Action) Label() string { return a.label }

// Leaf returns the callback of a Leaf node.
func (a *Action) Leaf() LeafFunc { return a.fn }

// Parallel reports whether a Composite or ForEach runs its work in parallel.
func (a *Action) Parallel() bool { return a.parallel }

// Var returns the loop variable name of a ForEach.
func (a *Action) Var() string { return a.varName }

// Sequence returns the element factory of a ForEach.
func (a *Action) Sequence() SequenceFunc { return a.seq }

// Body returns the child of Named, ForEach, Attempt, Retry and TimeOut nodes.
func (a *Action) Body() *Action { return a.body }

// Matcher returns the errors an Attempt recovers from or a Retry retries on.
func (a *Action) Matcher() ErrorMatcher { return a.matcher }

// Recovery returns the Attempt recovery action, or nil.
func (a *Action) Recovery() *Action { return a.recovery }

// Ensure returns the Attempt ensure action, or nil.
func (a *Action) Ensure() *Action { return a.ensure }

// RetryPolicy returns the policy of a Retry node.
func (a *Action) RetryPolicy() RetryPolicy { return a.retry }

// Timeout returns the bound of a TimeOut node.
func (a *Action) Timeout() time.Duration { return a.timeout }

// Condition returns the predicate of a When node.
func (a *Action) Condition() CondFunc { return a.cond }

// Then returns the branch a When node takes when its condition holds.
func (a *Action) Then() *Action { return a.then }

// Otherwise returns the alternative branch of a When node, or nil.
func (a *Action) Otherwise() *Action { return a.otherwise }

// Children returns the child actions in report order. The returned slice
// is a copy.
func (a *Action) Children() []*Action {
	switch a.kind {
	case KindComposite:
		return append([]*Action(nil), a.children...)
	case KindNamed, KindForEach, KindRetry, KindTimeOut:
		return []*Action{a.body}
	case KindAttempt:
		out := []*Action{a.body}
		if a.recovery != nil {
			out = append(out, a.recovery)
		}
		if a.ensure != nil {
			out = append(out, a.ensure)
		}
		return out
	case KindWhen:
		out := []*Action{a.then}
		if a.otherwise != nil {
			out = append(out, a.otherwise)
		}
		return out
	default:
		return nil
	}
}

// Description is the human-readable text shown in reports.
func (a *Action) Description() string {
	switch a.kind {
	case KindLeaf, KindNamed:
		return a.label
	case KindComposite:
		if a.parallel {
			return "parallel"
		}
		return "sequence"
	case KindForEach:
		if a.parallel {
			return "for each " + a.varName + " in parallel"
		}
		return "for each " + a.varName
	case KindAttempt:
		if a.recovery != nil {
			return "attempt, recovering from " + a.matcher.String()
		}
		return "attempt"
	case KindRetry:
		return a.retry.describe()
	case KindTimeOut:
		return "time out after " + a.timeout.String()
	case KindWhen:
		return "when " + a.label
	default:
		return a.kind.String()
	}
}

func (a *Action) String() string {
	return fmt.Sprintf("%s#%d(%s)", a.kind, a.id, a.Description())
}

// Walk visits a and its descendants depth-first, pre-order. Returning false
// from fn skips the children of the visited node.
func (a *Action) Walk(fn func(*Action) bool) {
	if !fn(a) {
		return
	}
	for _, c := range a.Children() {
		c.Walk(fn)
	}
}

// NewLeaf builds a Leaf. An empty label is replaced by the callback's
// function name.
func NewLeaf(label string, fn LeafFunc) (*Action, error) {
	if fn == nil {
		return nil, argErr(KindLeaf, "callback", "must not be nil")
	}
	if label == "" {
		label = funcName(fn)
	}
	return &Action{id: nextID(), kind: KindLeaf, label: label, fn: fn}, nil
}

// NewNamed attaches a display label to child. Execution is identical to
// performing child directly.
func NewNamed(label string, child *Action) (*Action, error) {
	if strings.TrimSpace(label) == "" {
		return nil, argErr(KindNamed, "label", "must not be empty")
	}
	if child == nil {
		return nil, argErr(KindNamed, "child", "must not be nil")
	}
	return &Action{id: nextID(), kind: KindNamed, label: label, body: child}, nil
}

// NewComposite groups children, run in order or in parallel.
func NewComposite(parallel bool, children ...*Action) (*Action, error) {
	for i, c := range children {
		if c == nil {
			return nil, argErr(KindComposite, fmt.Sprintf("child %d", i), "must not be nil")
		}
	}
	return &Action{
		id:       nextID(),
		kind:     KindComposite,
		children: append([]*Action(nil), children...),
		parallel: parallel,
	}, nil
}

// NewForEach performs body once per element of the sequence produced by seq,
// binding each element to varName in a fresh child scope.
func NewForEach(varName string, seq SequenceFunc, body *Action, parallel bool) (*Action, error) {
	if strings.TrimSpace(varName) == "" {
		return nil, argErr(KindForEach, "variable name", "must not be empty")
	}
	if seq == nil {
		return nil, argErr(KindForEach, "sequence", "must not be nil")
	}
	if body == nil {
		return nil, argErr(KindForEach, "body", "must not be nil")
	}
	return &Action{
		id:       nextID(),
		kind:     KindForEach,
		varName:  varName,
		seq:      seq,
		body:     body,
		parallel: parallel,
	}, nil
}

// AttemptSpec configures an Attempt node.
type AttemptSpec struct {
	Body *Action

	// Recover selects the errors handed to Recovery. Zero means MatchAny.
	Recover  ErrorMatcher
	Recovery *Action

	// Ensure always runs after Body (and Recovery, if it ran).
	Ensure *Action
}

// NewAttempt builds a try/recover/ensure node.
func NewAttempt(spec AttemptSpec) (*Action, error) {
	if spec.Body == nil {
		return nil, argErr(KindAttempt, "body", "must not be nil")
	}
	if spec.Recovery == nil && spec.Ensure == nil {
		return nil, argErr(KindAttempt, "recovery/ensure", "at least one must be set")
	}
	m := spec.Recover
	if m.IsZero() {
		m = MatchAny()
	}
	return &Action{
		id:       nextID(),
		kind:     KindAttempt,
		body:     spec.Body,
		matcher:  m,
		recovery: spec.Recovery,
		ensure:   spec.Ensure,
	}, nil
}

// MaxDelay is the longest wait Delay returns.
const MaxDelay = time.Duration(math.MaxInt64)

// RetryPolicy controls a Retry node.
//
// Times is the number of retries after the first run: 0 runs the body once,
// RetryForever retries without limit. Interval is waited between attempts.
// When Multiplier > 1 the wait grows geometrically, capped by MaxInterval
// when that is positive.
type RetryPolicy struct {
	Times       int
	On          ErrorMatcher
	Interval    time.Duration
	Multiplier  float64
	MaxInterval time.Duration
}

// Delay returns the wait before retry number n (1-based). A geometric wait
// that would overflow time.Duration saturates at MaxDelay.
func (p RetryPolicy) Delay(n int) time.Duration {
	d := p.Interval
	if p.Multiplier > 1 && n > 1 && d > 0 {
		f := float64(d) * math.Pow(p.Multiplier, float64(n-1))
		if f >= float64(MaxDelay) {
			d = MaxDelay
		} else {
			d = time.Duration(f)
		}
	}
	if p.MaxInterval > 0 && d > p.MaxInterval {
		d = p.MaxInterval
	}
	return d
}

// Exhausted reports whether retries already performed use up the budget.
func (p RetryPolicy) Exhausted(retries int) bool {
	return p.Times != RetryForever && retries >= p.Times
}

func (p RetryPolicy) describe() string {
	var b strings.Builder
	if p.Times == RetryForever {
		b.WriteString("retry forever")
	} else {
		fmt.Fprintf(&b, "retry up to %d times", p.Times)
	}
	b.WriteString(" on " + p.On.String())
	if p.Interval > 0 {
		b.WriteString(" every " + p.Interval.String())
	}
	return b.String()
}

// NewRetry re-runs body while it fails with matching errors.
func NewRetry(body *Action, p RetryPolicy) (*Action, error) {
	if body == nil {
		return nil, argErr(KindRetry, "body", "must not be nil")
	}
	if p.Times < 0 && p.Times != RetryForever {
		return nil, argErr(KindRetry, "count", "must be non-negative or RetryForever")
	}
	if p.Interval < 0 {
		return nil, argErr(KindRetry, "interval", "must not be negative")
	}
	if p.MaxInterval < 0 {
		return nil, argErr(KindRetry, "max interval", "must not be negative")
	}
	if p.On.IsZero() {
		p.On = MatchAny()
	}
	return &Action{id: nextID(), kind: KindRetry, body: body, retry: p}, nil
}

// NewTimeOut bounds body by d.
func NewTimeOut(d time.Duration, body *Action) (*Action, error) {
	if d <= 0 {
		return nil, argErr(KindTimeOut, "duration", "must be positive")
	}
	if body == nil {
		return nil, argErr(KindTimeOut, "body", "must not be nil")
	}
	return &Action{id: nextID(), kind: KindTimeOut, body: body, timeout: d}, nil
}

// NewWhen performs then when cond holds and otherwise (which may be nil)
// when it does not. desc labels the condition in reports.
func NewWhen(desc string, cond CondFunc, then, otherwise *Action) (*Action, error) {
	if cond == nil {
		return nil, argErr(KindWhen, "condition", "must not be nil")
	}
	if then == nil {
		return nil, argErr(KindWhen, "then", "must not be nil")
	}
	if desc == "" {
		desc = funcName(cond)
	}
	return &Action{id: nextID(), kind: KindWhen, label: desc, cond: cond, then: then, otherwise: otherwise}, nil
}

func funcName(fn any) string {
	rf := runtime.FuncForPC(reflect.ValueOf(fn).Pointer())
	if rf == nil {
		return "func"
	}
	name := rf.Name()
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return name
}
