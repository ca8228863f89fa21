package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/sakif/code-runner/internal/apperror"
	"github.com/sakif/code-runner/internal/metrics"
)

// waitDelay bounds how long Wait keeps reading pipes after the child exits
// or is killed. A daemonised grandchild holding stdout open would otherwise
// block Wait forever.
const waitDelay = time.Second

// LocalRunner runs commands as child processes of the server.
type LocalRunner struct {
	logger    *slog.Logger
	maxOutput int
	live      *xsync.MapOf[int, *os.Process]
}

// NewLocal creates a LocalRunner capturing at most maxOutput bytes per
// process (0 means unlimited).
func NewLocal(logger *slog.Logger, maxOutput int) *LocalRunner {
	return &LocalRunner{
		logger:    logger,
		maxOutput: maxOutput,
		live:      xsync.NewMapOf[int, *os.Process](),
	}
}

var _ Runner = (*LocalRunner)(nil)

// Run starts c, waits for it under its timeout, and kills its process group
// before returning. A timeout is a normal Result (TimedOut=true), not an error.
func (r *LocalRunner) Run(ctx context.Context, c Command) (*Result, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	path, err := exec.LookPath(c.Path)
	if err != nil {
		return nil, fmt.Errorf("runner: resolving %s: %w", c.Path, apperror.ToolchainMissing(c.Path))
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out := NewCapture(r.maxOutput)
	cmd := exec.CommandContext(runCtx, path, c.Args...)
	cmd.Dir = c.Dir
	cmd.Stdin = strings.NewReader(c.Stdin)
	// Same writer for both streams: exec guarantees at most one goroutine
	// writes at a time, which keeps the interleaving faithful.
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.WaitDelay = waitDelay
	setProcessGroup(cmd)
	cmd.Cancel = func() error {
		return killGroup(cmd.Process)
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("runner: starting %s: %w", c.Path, apperror.ToolchainMissing(c.Path))
		}
		return nil, fmt.Errorf("runner: starting %s: %w", c.Path, err)
	}

	pid := cmd.Process.Pid
	r.live.Store(pid, cmd.Process)
	metrics.LiveProcesses.Inc()

	waitErr := cmd.Wait()

	// The child is gone, but anything it forked may not be.
	if err := killGroup(cmd.Process); err != nil {
		r.logger.Warn("failed to kill process group",
			slog.Int("pid", pid),
			slog.String("error", err.Error()),
		)
	}
	r.live.Delete(pid)
	metrics.LiveProcesses.Dec()

	res := &Result{
		Output:    out.String(),
		Truncated: out.Truncated(),
		Duration:  time.Since(start),
	}

	if waitErr != nil && runCtx.Err() != nil {
		if ctx.Err() == nil || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			res.TimedOut = true
			res.ExitCode = -1
			r.logger.Info("process timed out",
				slog.String("command", c.Path),
				slog.Duration("timeout", timeout),
			)
			return res, nil
		}
		// The caller went away (client disconnect, server shutdown).
		return res, fmt.Errorf("runner: %s cancelled: %w", c.Path, ctx.Err())
	}

	var exitErr *exec.ExitError
	switch {
	case waitErr == nil:
		res.ExitCode = 0
	case errors.As(waitErr, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	case errors.Is(waitErr, exec.ErrWaitDelay):
		// Exited, but a descendant held the pipes; they are closed now.
		res.ExitCode = cmd.ProcessState.ExitCode()
	default:
		return res, fmt.Errorf("runner: waiting for %s: %w", c.Path, waitErr)
	}

	return res, nil
}

// Shutdown kills every process group still running. The server calls it
// after the HTTP listener has drained.
func (r *LocalRunner) Shutdown() {
	r.live.Range(func(pid int, p *os.Process) bool {
		if err := killGroup(p); err != nil {
			r.logger.Warn("failed to kill process group on shutdown",
				slog.Int("pid", pid),
				slog.String("error", err.Error()),
			)
		}
		return true
	})
}

// Live returns the number of child processes currently running.
func (r *LocalRunner) Live() int {
	return r.live.Size()
}
