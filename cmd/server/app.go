package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"

	"github.com/sakif/code-runner/internal/config"
	"github.com/sakif/code-runner/internal/engine"
	"github.com/sakif/code-runner/internal/runner"
	"github.com/sakif/code-runner/internal/runner/docker"
	"github.com/sakif/code-runner/internal/server"
	"github.com/sakif/code-runner/internal/workspace"
)

// app is the assembled service: engine plus what must be released on exit.
type app struct {
	cfg    config.Config
	logger *slog.Logger
	engine *engine.Engine
	close  func()
}

// newLogger builds the process logger from LOG_FORMAT and LOG_LEVEL.
// "pretty" is colored tint output for terminals.
func newLogger(w io.Writer, format, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q", level)
	}

	switch strings.ToLower(format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})), nil
	case "pretty":
		return slog.New(tint.NewHandler(w, &tint.Options{Level: lvl, TimeFormat: time.Kitchen})), nil
	default:
		return nil, fmt.Errorf("invalid LOG_FORMAT %q (text, json, pretty)", format)
	}
}

// setup loads configuration and assembles the engine on the configured
// executor.
func setup() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(os.Stderr, cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	var wsOpts []workspace.Option
	if cfg.Executor == config.ExecutorDocker {
		wsOpts = append(wsOpts, workspace.WithDirMode(0o777))
	}
	wm, err := workspace.NewManager(cfg.WorkspaceDir, logger, wsOpts...)
	if err != nil {
		return nil, err
	}

	opts := engine.Options{
		Templates:      cfg.Templates,
		RunTimeout:     cfg.RunTimeout,
		CompileTimeout: cfg.CompileTimeout,
		ScriptTimeout:  cfg.ScriptTimeout,
		MaxOutput:      cfg.MaxOutputBytes,
	}

	var (
		r       runner.Runner
		closeFn func()
	)
	switch cfg.Executor {
	case config.ExecutorDocker:
		dc := docker.DefaultConfig()
		dc.Image = cfg.DockerImage
		dc.PoolSize = cfg.DockerPoolSize
		dc.MemoryLimit = cfg.DockerMemoryMB * 1024 * 1024
		dc.CPULimit = cfg.DockerCPUs
		dc.WorkspaceRoot = wm.Root()
		dc.MaxOutput = cfg.MaxOutputBytes

		dr, err := docker.New(dc, logger)
		if err != nil {
			return nil, fmt.Errorf("starting docker executor: %w", err)
		}
		r = dr
		closeFn = func() {
			if err := dr.Close(); err != nil {
				logger.Warn("closing docker executor", slog.String("error", err.Error()))
			}
		}
		// Tools live in the image, not on the host PATH.
		opts.LookPath = func(file string) (string, error) { return file, nil }
		logger.Info("using docker executor", slog.String("image", dc.Image))
	default:
		local := runner.NewLocal(logger, cfg.MaxOutputBytes)
		r = local
		closeFn = local.Shutdown
		logger.Info("using local executor", slog.String("workspaces", wm.Root()))
	}

	eng, err := engine.Assemble(opts, r, wm, logger)
	if err != nil {
		closeFn()
		return nil, err
	}

	for lang, ok := range eng.Toolchains() {
		if !ok {
			logger.Warn("toolchain unavailable", slog.String("language", lang))
		}
	}

	return &app{cfg: cfg, logger: logger, engine: eng, close: closeFn}, nil
}

func serve(ctx context.Context) error {
	a, err := setup()
	if err != nil {
		return err
	}

	srv, err := server.New(server.Config{
		Port:               a.cfg.Port,
		RateLimitRPS:       a.cfg.RateLimitRPS,
		RateLimitBurst:     a.cfg.RateLimitBurst,
		ServiceTokenSecret: a.cfg.ServiceTokenSecret,
	}, a.engine, a.logger)
	if err != nil {
		a.close()
		return err
	}
	// Kill whatever is still running once requests have drained.
	srv.OnShutdown(a.close)

	return srv.Start(ctx)
}
