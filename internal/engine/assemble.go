package engine

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/sakif/code-runner/internal/analyzer"
	"github.com/sakif/code-runner/internal/debugger"
	"github.com/sakif/code-runner/internal/language"
	"github.com/sakif/code-runner/internal/pipeline"
	"github.com/sakif/code-runner/internal/runner"
	"github.com/sakif/code-runner/internal/testrunner"
	"github.com/sakif/code-runner/internal/workspace"
)

// Options are the tunables Assemble needs.
type Options struct {
	// Templates override the per-language commands; nil means defaults.
	Templates      map[language.ID]pipeline.Templates
	RunTimeout     time.Duration
	CompileTimeout time.Duration
	ScriptTimeout  time.Duration
	MaxOutput      int
	Parallelism    int
	LookPath       func(file string) (string, error)
}

// Assemble builds every component on top of one runner and workspace
// manager and returns the Engine that fronts them.
func Assemble(opts Options, r runner.Runner, wm *workspace.Manager, logger *slog.Logger) (*Engine, error) {
	pipelines, err := pipeline.NewSet(opts.Templates)
	if err != nil {
		return nil, fmt.Errorf("engine: building pipelines: %w", err)
	}

	py, _ := pipelines.Get(language.Python)
	interp, ok := py.(interface{ Interpreter() ([]string, error) })
	if !ok {
		return nil, fmt.Errorf("engine: python pipeline has no interpreter")
	}
	argv, err := interp.Interpreter()
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	harness, err := debugger.NewHarness(r, wm, debugger.HarnessConfig{
		Interpreter: argv,
		Timeout:     opts.RunTimeout,
		MaxOutput:   opts.MaxOutput,
	}, logger)
	if err != nil {
		return nil, err
	}

	js, _ := pipelines.Get(language.JavaScript)

	return New(Config{
		Analyzer:   analyzer.New(harness, logger),
		Pipelines:  pipelines,
		Runner:     r,
		Workspaces: wm,
		Debugger: debugger.New(debugger.Config{
			Harness:       harness,
			Runner:        r,
			Workspaces:    wm,
			JavaScript:    js,
			ScriptTimeout: opts.ScriptTimeout,
		}, logger),
		Tests: testrunner.New(testrunner.Config{
			Python:         harness,
			Pipelines:      pipelines,
			Runner:         r,
			Workspaces:     wm,
			ScriptTimeout:  opts.ScriptTimeout,
			RunTimeout:     opts.RunTimeout,
			CompileTimeout: opts.CompileTimeout,
			Parallelism:    opts.Parallelism,
		}, logger),
		RunTimeout:     opts.RunTimeout,
		CompileTimeout: opts.CompileTimeout,
		LookPath:       opts.LookPath,
	}, logger), nil
}
