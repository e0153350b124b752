package api

import (
	"context"
	"iter"
)

// Command is a command line handed to a CommandRunner.
type Command struct {
	Line  string
	Dir   string
	Env   map[string]string
	Stdin iter.Seq[string]
}

// CommandRunner executes external commands. It is the boundary to the
// process-spawning layer, which lives outside this module.
//
// The returned sequence yields output lines lazily. A launch failure or a
// non-zero exit is yielded as a final non-nil error (*LaunchError,
// *ExitError); no lines follow an error.
type CommandRunner interface {
	Run(ctx context.Context, cmd Command) iter.Seq2[string, error]
}

// CommandRunnerFunc adapts a function to CommandRunner.
type CommandRunnerFunc func(ctx context.Context, cmd Command) iter.Seq2[string, error]

func (f CommandRunnerFunc) Run(ctx context.Context, cmd Command) iter.Seq2[string, error] {
	return f(ctx, cmd)
}
