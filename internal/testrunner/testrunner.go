// Package testrunner executes a program once per test case and compares its
// output to the expected text.
//
// Every case is isolated: its own workspace, its own process, its own
// verdict. A case that crashes, times out or fails to compile is reported as
// a failed result and never stops the others. Cases run concurrently up to a
// fixed limit and results keep the order of the input.
package testrunner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"golang.org/x/sync/errgroup"

	"github.com/sakif/code-runner/internal/apperror"
	"github.com/sakif/code-runner/internal/debugger"
	"github.com/sakif/code-runner/internal/language"
	"github.com/sakif/code-runner/internal/pipeline"
	"github.com/sakif/code-runner/internal/runner"
	"github.com/sakif/code-runner/internal/workspace"
)

// DefaultParallelism bounds concurrently running cases of one request.
const DefaultParallelism = 4

// Case is one test case. Input is fed to the program's stdin.
type Case struct {
	Name     string `json:"name" toml:"name"`
	Input    string `json:"input" toml:"input"`
	Expected string `json:"expected" toml:"expected"`
}

// Result is the verdict for one case. Actual and Expected are the raw
// strings; they are compared with trailing whitespace trimmed.
type Result struct {
	Name     string  `json:"name"`
	Passed   bool    `json:"passed"`
	Actual   string  `json:"actual"`
	Expected string  `json:"expected"`
	Error    *string `json:"error"`
}

// Capturer executes Python in-harness. *debugger.Harness implements it.
type Capturer interface {
	Capture(ctx context.Context, code, stdin string) (*debugger.Capture, error)
}

// Config wires a Runner.
type Config struct {
	Python     Capturer
	Pipelines  *pipeline.Set
	Runner     runner.Runner
	Workspaces *workspace.Manager

	// ScriptTimeout bounds a JavaScript case; RunTimeout and CompileTimeout
	// bound the compiled languages.
	ScriptTimeout  time.Duration
	RunTimeout     time.Duration
	CompileTimeout time.Duration
	Parallelism    int
}

// Runner runs test suites.
type Runner struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a test Runner.
func New(cfg Config, logger *slog.Logger) *Runner {
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = DefaultParallelism
	}
	if cfg.ScriptTimeout <= 0 {
		cfg.ScriptTimeout = 5 * time.Second
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = pipeline.DefaultRunTimeout
	}
	if cfg.CompileTimeout <= 0 {
		cfg.CompileTimeout = pipeline.DefaultCompileTimeout
	}
	return &Runner{cfg: cfg, logger: logger}
}

// Run executes code against every case and returns one Result per case,
// in input order.
func (r *Runner) Run(ctx context.Context, lang language.ID, code string, cases []Case) []Result {
	results := make([]Result, len(cases))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Parallelism)
	for i, tc := range cases {
		g.Go(func() error {
			results[i] = r.runCase(gctx, lang, code, i, tc)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// outcome is what one execution produced before comparison.
type outcome struct {
	output string
	err    string
}

func (r *Runner) runCase(ctx context.Context, lang language.ID, code string, i int, tc Case) Result {
	name := tc.Name
	if name == "" {
		name = fmt.Sprintf("Test %d", i+1)
	}

	var out outcome
	if lang == language.Python {
		out = r.python(ctx, code, tc.Input)
	} else {
		out = r.external(ctx, lang, code, tc.Input)
	}

	res := Result{
		Name:     name,
		Actual:   out.output,
		Expected: tc.Expected,
	}
	if out.err != "" {
		e := out.err
		res.Error = &e
		r.logger.Debug("test case errored",
			slog.String("language", lang.String()),
			slog.String("case", name),
			slog.String("error", e),
		)
		return res
	}
	res.Passed = trimTrailing(res.Actual) == trimTrailing(res.Expected)
	return res
}

func (r *Runner) python(ctx context.Context, code, stdin string) outcome {
	c, err := r.cfg.Python.Capture(ctx, code, stdin)
	if err != nil {
		return outcome{err: errorMessage(err)}
	}
	if c.TimedOut {
		return outcome{output: c.Output, err: "Execution timed out."}
	}
	return outcome{output: c.Output, err: c.Error}
}

func (r *Runner) external(ctx context.Context, lang language.ID, code, stdin string) outcome {
	p, ok := r.cfg.Pipelines.Get(lang)
	if !ok {
		return outcome{err: "Unsupported language."}
	}

	ws, err := r.cfg.Workspaces.AcquireAs(p.SourceName(code), code)
	if err != nil {
		return outcome{err: err.Error()}
	}
	defer ws.Release()

	opts := pipeline.Options{
		Stdin:          stdin,
		RunTimeout:     r.cfg.RunTimeout,
		CompileTimeout: r.cfg.CompileTimeout,
	}
	if lang == language.JavaScript {
		opts.RunTimeout = r.cfg.ScriptTimeout
	}

	res, err := p.Execute(ctx, r.cfg.Runner, ws, opts)
	switch {
	case errors.Is(err, apperror.ErrToolchainMissing) && lang == language.JavaScript:
		return outcome{err: "Node.js not installed"}
	case err != nil:
		return outcome{err: errorMessage(err)}
	case res.TimedOut:
		limit := opts.RunTimeout
		if res.Phase == "compile" {
			limit = opts.CompileTimeout
		}
		return outcome{output: res.Output, err: fmt.Sprintf("Execution timed out (%s limit).", limit)}
	case res.CompileFailed:
		return outcome{output: res.Output, err: "Compilation failed"}
	case res.ExitCode != 0:
		return outcome{output: res.Output, err: fmt.Sprintf("exited with status %d", res.ExitCode)}
	}
	return outcome{output: res.Output}
}

func trimTrailing(s string) string {
	return strings.TrimRightFunc(s, unicode.IsSpace)
}

func errorMessage(err error) string {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}
