package api

import (
	"errors"
	"fmt"
	"reflect"
)

// ErrorMatcher selects the errors an Attempt recovers from or a Retry
// retries on. It plays the role of a "target exception class": the most
// general error the node is willing to handle.
//
// Programming errors never match, whatever the matcher says.
type ErrorMatcher struct {
	desc  string
	match func(error) bool
}

// Matches reports whether err is handled by m.
func (m ErrorMatcher) Matches(err error) bool {
	if err == nil || m.match == nil || IsProgrammingError(err) {
		return false
	}
	return m.match(err)
}

// String describes the matcher for reports.
func (m ErrorMatcher) String() string {
	if m.desc == "" {
		return "any error"
	}
	return m.desc
}

// IsZero reports whether m was never initialised.
func (m ErrorMatcher) IsZero() bool { return m.match == nil }

// MatchAny matches every runtime error.
func MatchAny() ErrorMatcher {
	return ErrorMatcher{desc: "any error", match: func(error) bool { return true }}
}

// MatchIs matches errors for which errors.Is(err, target) holds.
func MatchIs(target error) ErrorMatcher {
	return ErrorMatcher{
		desc:  fmt.Sprintf("%v", target),
		match: func(err error) bool { return errors.Is(err, target) },
	}
}

// MatchAs matches errors for which errors.As finds an E in the chain.
//
//	api.MatchAs[*api.ExitError]()
func MatchAs[E error]() ErrorMatcher {
	var zero E
	name := reflect.TypeOf(&zero).Elem().String()
	return ErrorMatcher{
		desc: name,
		match: func(err error) bool {
			var target E
			return errors.As(err, &target)
		},
	}
}

// MatchTimeout matches errors produced by TimeOut nodes.
func MatchTimeout() ErrorMatcher {
	m := MatchIs(ErrTimeout)
	m.desc = "timeout"
	return m
}

// MatchFunc wraps an arbitrary predicate.
func MatchFunc(desc string, fn func(error) bool) ErrorMatcher {
	return ErrorMatcher{desc: desc, match: fn}
}
