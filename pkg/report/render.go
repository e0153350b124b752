package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/muesli/termenv"
)

// LineWriter is the sink Render writes to, one line per call.
type LineWriter interface {
	WriteLine(line string) error
}

// LineWriterFunc adapts a function to LineWriter.
type LineWriterFunc func(line string) error

func (f LineWriterFunc) WriteLine(line string) error { return f(line) }

// Lines returns a LineWriter appending "\n"-terminated lines to w.
func Lines(w io.Writer) LineWriter {
	return LineWriterFunc(func(line string) error {
		_, err := io.WriteString(w, line+"\n")
		return err
	})
}

// Symbols used by Render.
const (
	SymbolPassed   = "✔"
	SymbolFailed   = "✘"
	SymbolErrored  = "!"
	SymbolNeverRun = "·"
)

// Symbol returns the report symbol of o.
func (o Outcome) Symbol() string {
	switch o {
	case Passed:
		return SymbolPassed
	case Failed:
		return SymbolFailed
	case Errored:
		return SymbolErrored
	default:
		return SymbolNeverRun
	}
}

// RenderOption configures Render.
type RenderOption func(*renderer)

// WithColor colours the symbols using profile. termenv.Ascii, the default,
// leaves them plain; termenv.ColorProfile() detects what stdout supports.
func WithColor(profile termenv.Profile) RenderOption {
	return func(r *renderer) { r.profile = profile }
}

// WithIndent sets the indentation per level. The default is two spaces.
func WithIndent(indent string) RenderOption {
	return func(r *renderer) { r.indent = indent }
}

// WithErrors appends the last error of failed nodes to their line.
func WithErrors() RenderOption {
	return func(r *renderer) { r.errors = true }
}

type renderer struct {
	profile termenv.Profile
	indent  string
	errors  bool
}

func (r *renderer) symbol(o Outcome) string {
	if r.profile == termenv.Ascii {
		return o.Symbol()
	}
	s := termenv.String(o.Symbol())
	switch o {
	case Passed:
		s = s.Foreground(r.profile.Color("2"))
	case Failed:
		s = s.Foreground(r.profile.Color("1")).Bold()
	case Errored:
		s = s.Foreground(r.profile.Color("3")).Bold()
	default:
		s = s.Faint()
	}
	return s.String()
}

// Render writes the mirror tree as an indented trace, one line per Node:
//
//	<indent><symbol> <description> (<runs>x)
//
// The symbol reflects the most recent run of the node. A child that could
// not be mapped to a Node is listed under its parent as
//
//	<indent>! <error>
func (r *Reporter) Render(w LineWriter, opts ...RenderOption) error {
	rr := &renderer{profile: termenv.Ascii, indent: "  "}
	for _, opt := range opts {
		opt(rr)
	}

	var err error
	r.root.Walk(func(n *Node) {
		if err != nil {
			return
		}
		res := r.Result(n.Path)
		line := fmt.Sprintf("%s%s %s (%dx)", strings.Repeat(rr.indent, n.Depth), rr.symbol(res.Last), n.Description, res.Runs)
		if rr.errors && res.LastErr != nil && res.Last != Passed {
			line += ": " + res.LastErr.Error()
		}
		if err = w.WriteLine(line); err != nil {
			return
		}
		pad := strings.Repeat(rr.indent, n.Depth+1)
		for _, uerr := range res.Unresolved {
			if err = w.WriteLine(pad + rr.symbol(Errored) + " " + uerr.Error()); err != nil {
				return
			}
		}
	})
	return err
}

// String renders the trace without colour.
func (r *Reporter) String() string {
	var b strings.Builder
	_ = r.Render(Lines(&b))
	return b.String()
}
