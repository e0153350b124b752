package api

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"iter"
	"reflect"
	"slices"
)

// MaxLineSize is the longest line Lines accepts. A longer line ends the
// loop with an error wrapping bufio.ErrTooLong.
const MaxLineSize = 1 << 20

// values adapts an error-free sequence.
func values(seq iter.Seq[any]) iter.Seq2[any, error] {
	return func(yield func(any, error) bool) {
		for v := range seq {
			if !yield(v, nil) {
				return
			}
		}
	}
}

// Values iterates over the given elements in order.
func Values(vs ...any) SequenceFunc {
	vs = slices.Clone(vs)
	return func(ctx context.Context, sc *Scope) (iter.Seq2[any, error], error) {
		return values(slices.Values(vs)), nil
	}
}

// Slice iterates over xs in order.
func Slice[T any](xs []T) SequenceFunc {
	xs = slices.Clone(xs)
	return func(ctx context.Context, sc *Scope) (iter.Seq2[any, error], error) {
		return func(yield func(any, error) bool) {
			for _, x := range xs {
				if !yield(x, nil) {
					return
				}
			}
		}, nil
	}
}

// Range iterates over the integers in [from, to).
func Range(from, to int) SequenceFunc {
	return func(ctx context.Context, sc *Scope) (iter.Seq2[any, error], error) {
		return func(yield func(any, error) bool) {
			for i := from; i < to; i++ {
				if !yield(i, nil) {
					return
				}
			}
		}, nil
	}
}

// Count yields from, from+1, ... without end.
func Count(from int) SequenceFunc {
	return func(ctx context.Context, sc *Scope) (iter.Seq2[any, error], error) {
		return func(yield func(any, error) bool) {
			for i := from; ; i++ {
				if !yield(i, nil) {
					return
				}
			}
		}, nil
	}
}

// FromSeq adapts an existing sequence. The sequence is shared by every
// evaluation, so it should be re-iterable.
func FromSeq(seq iter.Seq[any]) SequenceFunc {
	return func(ctx context.Context, sc *Scope) (iter.Seq2[any, error], error) {
		return values(seq), nil
	}
}

// FromSeq2 adapts a sequence that can fail part way through.
func FromSeq2(seq iter.Seq2[any, error]) SequenceFunc {
	return func(ctx context.Context, sc *Scope) (iter.Seq2[any, error], error) {
		return seq, nil
	}
}

// FromVar iterates over the variable name, which must hold a slice, an array,
// an iter.Seq[any] or an iter.Seq2[any, error].
func FromVar(name string) SequenceFunc {
	return func(ctx context.Context, sc *Scope) (iter.Seq2[any, error], error) {
		v, err := sc.Get(name)
		if err != nil {
			return nil, err
		}
		switch seq := v.(type) {
		case iter.Seq2[any, error]:
			return seq, nil
		case iter.Seq[any]:
			return values(seq), nil
		}
		rv := reflect.ValueOf(v)
		switch rv.Kind() {
		case reflect.Slice, reflect.Array:
		default:
			return nil, &VariableTypeError{Name: name, Want: "slice or sequence", Got: v}
		}
		return func(yield func(any, error) bool) {
			for i := 0; i < rv.Len(); i++ {
				if !yield(rv.Index(i).Interface(), nil) {
					return
				}
			}
		}, nil
	}
}

// Lines opens a reader for each evaluation and yields it line by line. The
// reader is closed when iteration stops, whether the input is exhausted,
// the loop body failed, or the caller stopped early. A read error, or a line
// longer than MaxLineSize, is yielded as the final pair.
func Lines(open func(ctx context.Context, sc *Scope) (io.ReadCloser, error)) SequenceFunc {
	return func(ctx context.Context, sc *Scope) (iter.Seq2[any, error], error) {
		rc, err := open(ctx, sc)
		if err != nil {
			return nil, fmt.Errorf("open line source: %w", err)
		}
		return func(yield func(any, error) bool) {
			defer rc.Close()
			s := bufio.NewScanner(rc)
			s.Buffer(make([]byte, 0, bufio.MaxScanTokenSize), MaxLineSize)
			for s.Scan() {
				if !yield(s.Text(), nil) {
					return
				}
			}
			if err := s.Err(); err != nil {
				yield(nil, fmt.Errorf("read line source: %w", err))
			}
		}, nil
	}
}
