package api

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrTimeout is matched (via errors.Is) by every error produced when a
// TimeOut node's duration elapses before its body finishes.
var ErrTimeout = errors.New("action timed out")

// programmingError marks errors that indicate a malformed tree or misuse of
// the builder API. They are never recovered by Attempt nor retried by Retry.
// Errors defined outside this package opt in by implementing
// ProgrammingError().
type programmingError interface {
	error
	ProgrammingError()
}

// IsProgrammingError reports whether err (or anything it wraps) is a
// programming error such as an undefined variable or an invalid argument.
func IsProgrammingError(err error) bool {
	var pe programmingError
	return errors.As(err, &pe)
}

// ArgumentError is returned by action constructors when a required field is
// missing or out of range.
type ArgumentError struct {
	Kind    Kind
	Field   string
	Message string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("invalid %s action: %s %s", e.Kind, e.Field, e.Message)
}

func (e *ArgumentError) ProgrammingError() {}

func argErr(kind Kind, field, msg string) error {
	return &ArgumentError{Kind: kind, Field: field, Message: msg}
}

// UndefinedVariableError is returned by Scope.Get when no scope in the chain
// binds the requested name.
type UndefinedVariableError struct {
	Name string
}

func (e *UndefinedVariableError) Error() string {
	return fmt.Sprintf("variable %q is not defined", e.Name)
}

func (e *UndefinedVariableError) ProgrammingError() {}

// VariableTypeError is returned by Var when a variable holds a value of an
// unexpected type.
type VariableTypeError struct {
	Name string
	Want string
	Got  any
}

func (e *VariableTypeError) Error() string {
	return fmt.Sprintf("variable %q: expected %s, got %T", e.Name, e.Want, e.Got)
}

func (e *VariableTypeError) ProgrammingError() {}

// TimeoutError is produced by a TimeOut node whose body did not finish within
// the configured duration.
type TimeoutError struct {
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("action timed out after %s", e.After)
}

// Is makes TimeoutError match ErrTimeout and context.DeadlineExceeded.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout || target == context.DeadlineExceeded
}

// AssertionError is a failed check inside a Leaf. Reports distinguish it
// from other errors ("failed" rather than "errored").
type AssertionError struct {
	Message string
}

func (e *AssertionError) Error() string {
	return "assertion failed: " + e.Message
}

// Fail returns an AssertionError with a formatted message.
func Fail(format string, args ...any) error {
	return &AssertionError{Message: fmt.Sprintf(format, args...)}
}

// Assert returns nil when cond holds and an AssertionError otherwise.
func Assert(cond bool, format string, args ...any) error {
	if cond {
		return nil
	}
	return Fail(format, args...)
}

// IsAssertion reports whether err is (or wraps) an assertion failure. Errors
// that expose an `Assertion() bool` method returning true also qualify.
func IsAssertion(err error) bool {
	var ae *AssertionError
	if errors.As(err, &ae) {
		return true
	}
	var marker interface{ Assertion() bool }
	if errors.As(err, &marker) {
		return marker.Assertion()
	}
	return false
}

// PanicError carries a panic raised by a user callback or sequence.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("leaf panicked: %v", e.Value)
}

// Unwrap exposes the panic value when it was itself an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// SuppressedError is returned by Attempt when the ensure clause fails while
// another error is already propagating. The original error wins: Unwrap only
// exposes Err, so errors.Is/As and matchers see the original failure.
type SuppressedError struct {
	Err        error
	Suppressed error
}

func (e *SuppressedError) Error() string {
	return fmt.Sprintf("%v (ensure also failed: %v)", e.Err, e.Suppressed)
}

func (e *SuppressedError) Unwrap() error { return e.Err }

// ExitError is the error a CommandRunner returns when the command ran but
// exited with a non-zero status.
type ExitError struct {
	Command string
	Code    int
	Stderr  []string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("command %q exited with status %d", e.Command, e.Code)
	if len(e.Stderr) > 0 {
		msg += ": " + strings.Join(e.Stderr, "; ")
	}
	return msg
}

// LaunchError is returned by a CommandRunner that could not start a command.
type LaunchError struct {
	Command string
	Err     error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launching %q: %v", e.Command, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }
