package arbor

import (
	"context"
	"fmt"
	"iter"
	"maps"
	"time"

	"github.com/petrijr/arbor/pkg/api"
)

// Sleep returns a leaf that waits for d or until ctx is done.
func Sleep(d time.Duration) LeafBuilder {
	return Leaf(fmt.Sprintf("sleep %s", d), func(ctx context.Context, _ *Scope) error {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			return nil
		}
	})
}

// Set returns a leaf binding name to value in the scope it runs in.
func Set(name string, value any) LeafBuilder {
	return Leaf(fmt.Sprintf("set %s", name), func(_ context.Context, sc *Scope) error {
		sc.Set(name, value)
		return nil
	})
}

// Check returns a leaf failing with an assertion error when cond does not
// hold. Reports show such failures apart from other errors.
func Check(label string, cond func(ctx context.Context, sc *Scope) (bool, error)) LeafBuilder {
	return Leaf(label, func(ctx context.Context, sc *Scope) error {
		ok, err := cond(ctx, sc)
		if err != nil {
			return err
		}
		return api.Assert(ok, "%s", label)
	})
}

// LineFunc receives one output line of a command.
type LineFunc func(ctx context.Context, sc *Scope, line string) error

// CommandBuilder builds a leaf invoking a CommandRunner.
type CommandBuilder struct {
	runner CommandRunner
	cmd    Command
	label  string
	onLine LineFunc
	into   string
}

// Exec returns a leaf running line through runner. Output lines are
// drained unless OnLine or Into consumes them; a non-zero exit fails the
// leaf with the runner's error.
func Exec(runner CommandRunner, line string) CommandBuilder {
	return CommandBuilder{runner: runner, cmd: Command{Line: line}}
}

// Label returns a copy of b with a report label other than the command line.
func (b CommandBuilder) Label(label string) CommandBuilder {
	b.label = label
	return b
}

// Dir returns a copy of b running in dir.
func (b CommandBuilder) Dir(dir string) CommandBuilder {
	b.cmd.Dir = dir
	return b
}

// Env returns a copy of b with key=value added to the environment.
func (b CommandBuilder) Env(key, value string) CommandBuilder {
	env := maps.Clone(b.cmd.Env)
	if env == nil {
		env = make(map[string]string)
	}
	env[key] = value
	b.cmd.Env = env
	return b
}

// Stdin returns a copy of b feeding lines to the command's input.
func (b CommandBuilder) Stdin(lines iter.Seq[string]) CommandBuilder {
	b.cmd.Stdin = lines
	return b
}

// OnLine returns a copy of b handing every output line to fn. An error from
// fn stops reading and fails the leaf.
func (b CommandBuilder) OnLine(fn LineFunc) CommandBuilder {
	b.onLine = fn
	return b
}

// Into returns a copy of b collecting the output lines into variable name
// as a []string.
func (b CommandBuilder) Into(name string) CommandBuilder {
	b.into = name
	return b
}

func (b CommandBuilder) Build() (*Action, error) {
	if b.runner == nil {
		return nil, &api.ArgumentError{Kind: api.KindLeaf, Field: "runner", Message: "must not be nil"}
	}
	label := b.label
	if label == "" {
		label = b.cmd.Line
	}
	return api.NewLeaf(label, b.run)
}

func (b CommandBuilder) run(ctx context.Context, sc *Scope) error {
	var collected []string
	for line, err := range b.runner.Run(ctx, b.cmd) {
		if err != nil {
			return err
		}
		if b.into != "" {
			collected = append(collected, line)
		}
		if b.onLine != nil {
			if err := b.onLine(ctx, sc, line); err != nil {
				return err
			}
		}
	}
	if b.into != "" {
		sc.Set(b.into, collected)
	}
	return nil
}
