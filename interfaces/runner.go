package interfaces

import "context"

// Invocation is a fully resolved command for the runner binary.
type Invocation struct {
	// Path is the executable to start (looked up in PATH when not absolute).
	Path string

	// Args are the arguments passed to Path as an argv vector, never through a shell.
	Args []string

	// Dir is the working directory of the process.
	Dir string

	// Env is appended to the current process environment.
	Env []string
}

// ProcessRunner runs an invocation to completion.
// A non-nil error is returned when the process could not be started or exited non-zero.
type ProcessRunner interface {
	Run(ctx context.Context, inv *Invocation) error
}

// ProcessRunnerFunc adapts a function to ProcessRunner.
type ProcessRunnerFunc func(ctx context.Context, inv *Invocation) error

// Run calls f(ctx, inv).
func (f ProcessRunnerFunc) Run(ctx context.Context, inv *Invocation) error {
	return f(ctx, inv)
}
