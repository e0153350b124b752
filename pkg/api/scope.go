package api

import (
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/mitchellh/mapstructure"
)

// ErrorVar is the reserved variable bound to the error an Attempt is
// recovering from. Only the recovery branch's scope binds it.
const ErrorVar = "$error"

// Scope is the hierarchical variable store threaded through execution.
//
// Lookups walk from the receiver to the root and return the nearest
// binding. Writes always land in the receiver, so a child can shadow an
// ancestor's variable but never modify it.
type Scope struct {
	parent *Scope

	mu   sync.RWMutex
	vars map[string]any
}

// NewScope returns an empty root scope.
func NewScope() *Scope {
	return &Scope{vars: make(map[string]any)}
}

// NewScopeWith returns a root scope pre-populated with vars.
func NewScopeWith(vars map[string]any) *Scope {
	sc := NewScope()
	for k, v := range vars {
		sc.vars[k] = v
	}
	return sc
}

// Child returns a new scope whose parent is sc.
func (sc *Scope) Child() *Scope {
	return &Scope{parent: sc, vars: make(map[string]any)}
}

// Parent returns the enclosing scope, or nil for a root scope.
func (sc *Scope) Parent() *Scope { return sc.parent }

// Set binds name to value in sc itself.
func (sc *Scope) Set(name string, value any) {
	sc.mu.Lock()
	sc.vars[name] = value
	sc.mu.Unlock()
}

// Lookup returns the nearest binding of name.
func (sc *Scope) Lookup(name string) (any, bool) {
	for s := sc; s != nil; s = s.parent {
		s.mu.RLock()
		v, ok := s.vars[name]
		s.mu.RUnlock()
		if ok {
			return v, true
		}
	}
	return nil, false
}

// Get returns the nearest binding of name or an *UndefinedVariableError.
func (sc *Scope) Get(name string) (any, error) {
	v, ok := sc.Lookup(name)
	if !ok {
		return nil, &UndefinedVariableError{Name: name}
	}
	return v, nil
}

// IsDefined reports whether any scope in the chain binds name.
func (sc *Scope) IsDefined(name string) bool {
	_, ok := sc.Lookup(name)
	return ok
}

// Names returns the names visible from sc, sorted.
func (sc *Scope) Names() []string {
	seen := make(map[string]struct{})
	for s := sc; s != nil; s = s.parent {
		s.mu.RLock()
		for k := range s.vars {
			seen[k] = struct{}{}
		}
		s.mu.RUnlock()
	}
	names := make([]string, 0, len(seen))
	for k := range seen {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Decode copies the variable name into out, which must be a pointer.
// Map values are decoded into structs using `mapstructure` tags.
func (sc *Scope) Decode(name string, out any) error {
	v, err := sc.Get(name)
	if err != nil {
		return err
	}
	if err := mapstructure.Decode(v, out); err != nil {
		return fmt.Errorf("decode variable %q: %w", name, err)
	}
	return nil
}

// Var returns the variable name converted to T.
func Var[T any](sc *Scope, name string) (T, error) {
	var zero T
	v, err := sc.Get(name)
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, &VariableTypeError{Name: name, Want: reflect.TypeOf((*T)(nil)).Elem().String(), Got: v}
	}
	return t, nil
}

// CaughtError returns the error bound by the nearest enclosing recovery
// branch, if any.
func CaughtError(sc *Scope) (error, bool) {
	v, ok := sc.Lookup(ErrorVar)
	if !ok {
		return nil, false
	}
	err, ok := v.(error)
	return err, ok
}
