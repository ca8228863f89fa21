// Package runner launches bounded child processes.
//
// BOUNDED EXECUTION:
// Every Run has a hard wall-clock timeout. When it expires the child AND every
// process it spawned are killed, and the Result is marked TimedOut with
// whatever output was captured up to that point. A process left running
// after Run returns is a leak, so the local runner always kills the child's
// whole process group on the way out, on the normal path too.
//
// Stdout and stderr are merged into one capture buffer, in the order the
// child wrote them.
package runner

import (
	"context"
	"time"
)

// DefaultTimeout applies when a Command carries no Timeout.
const DefaultTimeout = 10 * time.Second

// Command describes one child process.
type Command struct {
	// Path is an executable name (looked up on PATH) or an absolute path.
	Path string
	Args []string
	// Dir is the working directory; empty means the runner's own.
	Dir string
	// Stdin is fed to the child and then closed. Children never inherit
	// the server's stdin.
	Stdin   string
	Timeout time.Duration
}

// Result is what a child left behind.
type Result struct {
	Output    string
	ExitCode  int
	TimedOut  bool
	Truncated bool
	Duration  time.Duration
}

// Runner is the process-spawning boundary. The local implementation uses
// os/exec; the docker implementation runs the same command in a container.
// Tests substitute fakes that count invocations.
//
// A missing executable is reported as an error wrapping
// apperror.ErrToolchainMissing, never as a Result.
type Runner interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// Func adapts a plain function to the Runner interface.
type Func func(ctx context.Context, cmd Command) (*Result, error)

// Run calls f.
func (f Func) Run(ctx context.Context, cmd Command) (*Result, error) {
	return f(ctx, cmd)
}
