// Package docker runs commands inside pre-warmed containers instead of as
// direct children of the server.
//
// HOW PATHS LINE UP:
// The workspace root is bind-mounted into every container at the same
// absolute path. A pipeline can therefore build its commands exactly as it
// would for the local runner ("g++ /ws/run-x/main.cpp -o /ws/run-x/main")
// and the docker runner execs them unchanged.
//
// HOW TIMEOUTS KILL EVERYTHING:
// Each Run consumes one container from the pool and force-removes it on the
// way out. Removing a container kills every process in it, so a forked
// grandchild cannot outlive the request.
package docker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/sakif/code-runner/internal/apperror"
	"github.com/sakif/code-runner/internal/runner"
)

// Runner implements runner.Runner using Docker.
type Runner struct {
	cli    *client.Client
	config Config
	logger *slog.Logger
	pool   *Pool
}

var _ runner.Runner = (*Runner)(nil)

// New creates a docker Runner, makes sure the image is present, and starts the pool.
func New(cfg Config, logger *slog.Logger) (*Runner, error) {
	if cfg.WorkspaceRoot == "" {
		return nil, fmt.Errorf("docker: workspace root is required")
	}

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker: creating client: %w", err)
	}

	if !cfg.SkipPull {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		logger.Info("ensuring docker image is available", slog.String("image", cfg.Image))
		reader, err := cli.ImagePull(ctx, cfg.Image, image.PullOptions{})
		if err != nil {
			cli.Close()
			return nil, fmt.Errorf("docker: pulling image: %w", err)
		}
		// Read everything to block until the pull is complete
		_, _ = io.Copy(io.Discard, reader)
		reader.Close()
		logger.Info("docker image is ready")
	}

	r := &Runner{
		cli:    cli,
		config: cfg,
		logger: logger,
	}
	r.pool = NewPool(cli, cfg, logger)
	r.pool.Start()

	return r, nil
}

// Close shuts down the pool and the docker client.
func (r *Runner) Close() error {
	r.pool.Stop()
	return r.cli.Close()
}

// Run execs c in a fresh container and removes the container afterwards.
func (r *Runner) Run(ctx context.Context, c runner.Command) (*runner.Result, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = runner.DefaultTimeout
	}

	start := time.Now()

	containerID, err := r.pool.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("docker: getting container from pool: %w", err)
	}

	// Always clean up the container we acquired; this is the kill switch.
	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := r.cli.ContainerRemove(cleanupCtx, containerID, container.RemoveOptions{Force: true}); err != nil {
			r.logger.Error("failed to remove container", slog.String("id", containerID), slog.String("error", err.Error()))
		}
	}()

	executeCtx, executeCancel := context.WithTimeout(ctx, timeout)
	defer executeCancel()

	execResp, err := r.cli.ContainerExecCreate(executeCtx, containerID, container.ExecOptions{
		User:         r.config.User,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
		WorkingDir:   c.Dir,
		Cmd:          append([]string{c.Path}, c.Args...),
	})
	if err != nil {
		return nil, fmt.Errorf("docker: creating exec: %w", err)
	}

	attachResp, err := r.cli.ContainerExecAttach(executeCtx, execResp.ID, container.ExecStartOptions{})
	if err != nil {
		return nil, fmt.Errorf("docker: attaching to exec: %w", err)
	}
	defer attachResp.Close()

	go func() {
		_, _ = io.Copy(attachResp.Conn, strings.NewReader(c.Stdin))
		_ = attachResp.CloseWrite()
	}()

	out := runner.NewCapture(r.config.MaxOutput)
	done := make(chan struct{})
	go func() {
		// Both streams go to the same capture; stdcopy demultiplexes frames in order.
		_, _ = stdcopy.StdCopy(out, out, attachResp.Reader)
		close(done)
	}()

	res := &runner.Result{}

	select {
	case <-done:
		inspectResp, err := r.cli.ContainerExecInspect(ctx, execResp.ID)
		if err != nil {
			return nil, fmt.Errorf("docker: inspecting exec: %w", err)
		}
		res.ExitCode = inspectResp.ExitCode
	case <-executeCtx.Done():
		if ctx.Err() != nil && ctx.Err() != context.DeadlineExceeded {
			return nil, fmt.Errorf("docker: %s cancelled: %w", c.Path, ctx.Err())
		}
		res.TimedOut = true
		res.ExitCode = -1
	}

	res.Output = out.String()
	res.Truncated = out.Truncated()
	res.Duration = time.Since(start)

	// The OCI runtime reports a missing binary as exit 126/127 with this text.
	if (res.ExitCode == 126 || res.ExitCode == 127) && strings.Contains(res.Output, "executable file not found") {
		return nil, fmt.Errorf("docker: exec %s: %w", c.Path, apperror.ToolchainMissing(c.Path))
	}

	return res, nil
}
