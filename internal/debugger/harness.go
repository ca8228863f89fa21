package debugger

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/sakif/code-runner/internal/analyzer"
	"github.com/sakif/code-runner/internal/language"
	"github.com/sakif/code-runner/internal/metrics"
	"github.com/sakif/code-runner/internal/runner"
	"github.com/sakif/code-runner/internal/workspace"
)

//go:embed harness.py
var harnessScript []byte

const (
	harnessFile = "harness.py"
	resultFile  = "result.json"
)

// Harness runs Python code through the embedded harness script. Every call
// gets its own workspace and a fresh interpreter process, so no binding
// environment or output sink is ever shared between requests.
type Harness struct {
	runner      runner.Runner
	workspaces  *workspace.Manager
	interpreter []string
	timeout     time.Duration
	maxOutput   int
	logger      *slog.Logger
}

// HarnessConfig configures a Harness.
type HarnessConfig struct {
	// Interpreter is the python argv without a script, e.g. ["python3"].
	Interpreter []string
	Timeout     time.Duration
	// MaxOutput caps captured program output in characters.
	MaxOutput int
}

// NewHarness creates a Harness.
func NewHarness(r runner.Runner, wm *workspace.Manager, cfg HarnessConfig, logger *slog.Logger) (*Harness, error) {
	if len(cfg.Interpreter) == 0 {
		return nil, fmt.Errorf("debugger: harness needs an interpreter")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = runner.DefaultTimeout
	}
	if cfg.MaxOutput <= 0 {
		cfg.MaxOutput = 1 << 20
	}
	return &Harness{
		runner:      r,
		workspaces:  wm,
		interpreter: cfg.Interpreter,
		timeout:     cfg.Timeout,
		maxOutput:   cfg.MaxOutput,
		logger:      logger,
	}, nil
}

// Timeout is the wall-clock bound of one harness run.
func (h *Harness) Timeout() time.Duration { return h.timeout }

// errNoResult means the interpreter exited without writing a result file:
// the program killed its own process (os._exit, a signal) before the harness
// could report.
var errNoResult = errors.New("harness wrote no result")

// invoke runs one harness mode and decodes the result file into out. When
// the run timed out, out is left untouched and the runner result says so.
func (h *Harness) invoke(ctx context.Context, mode, code, stdin string, out any) (*runner.Result, error) {
	ws, err := h.workspaces.Acquire(language.Python.Extension(), code)
	if err != nil {
		return nil, err
	}
	defer ws.Release()

	script, err := ws.WriteFile(harnessFile, harnessScript)
	if err != nil {
		return nil, err
	}
	resultPath := ws.Path(resultFile)

	args := append([]string{}, h.interpreter[1:]...)
	args = append(args, script, mode, ws.SourcePath, resultPath, strconv.Itoa(h.maxOutput))

	res, err := h.runner.Run(ctx, runner.Command{
		Path:    h.interpreter[0],
		Args:    args,
		Dir:     ws.Dir,
		Stdin:   stdin,
		Timeout: h.timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("debugger: running harness %s: %w", mode, err)
	}

	metrics.ExecutionDuration.WithLabelValues(language.Python.String(), "harness").Observe(float64(res.Duration.Milliseconds()))
	if res.TimedOut {
		metrics.TimeoutsTotal.WithLabelValues(language.Python.String(), "harness").Inc()
		return res, nil
	}

	data, err := os.ReadFile(resultPath)
	if errors.Is(err, fs.ErrNotExist) {
		h.logger.Debug("harness produced no result",
			slog.String("mode", mode),
			slog.Int("exit_code", res.ExitCode),
		)
		return res, errNoResult
	}
	if err != nil {
		return res, fmt.Errorf("debugger: reading harness result: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return res, fmt.Errorf("debugger: decoding harness result: %w", err)
	}
	return res, nil
}

type checkResult struct {
	SyntaxError *analyzer.SyntaxError `json:"syntax_error"`
	Error       *string               `json:"error"`
}

// CheckSyntax compiles code without executing it.
func (h *Harness) CheckSyntax(ctx context.Context, code string) (*analyzer.SyntaxError, error) {
	var out checkResult
	res, err := h.invoke(ctx, "check", code, "", &out)
	if err != nil {
		return nil, err
	}
	if res.TimedOut {
		return nil, fmt.Errorf("syntax check timed out after %s", h.timeout)
	}
	if out.Error != nil {
		return nil, errors.New(*out.Error)
	}
	return out.SyntaxError, nil
}

var _ analyzer.SyntaxChecker = (*Harness)(nil)

// Capture is the outcome of one plain execution.
type Capture struct {
	Output   string
	TimedOut bool
	// Error is the exception text the program raised, "" if none.
	Error string
}

type captureResult struct {
	Output    string  `json:"output"`
	Truncated bool    `json:"truncated"`
	Error     *string `json:"error"`
}

// Capture executes code once in a fresh namespace with stdin attached and
// returns what it printed.
func (h *Harness) Capture(ctx context.Context, code, stdin string) (*Capture, error) {
	var out captureResult
	res, err := h.invoke(ctx, "capture", code, stdin, &out)
	switch {
	case errors.Is(err, errNoResult):
		return &Capture{
			Output: res.Output,
			Error:  fmt.Sprintf("process exited with status %d", res.ExitCode),
		}, nil
	case err != nil:
		return nil, err
	case res.TimedOut:
		return &Capture{TimedOut: true, Output: res.Output}, nil
	}

	c := &Capture{Output: withMarker(out.Output, out.Truncated)}
	if out.Error != nil {
		c.Error = *out.Error
	}
	return c, nil
}

type binding struct {
	Name  string `json:"name"`
	Value string `json:"value"`
	Type  string `json:"type"`
}

type frame struct {
	Name string `json:"name"`
	Line int    `json:"line"`
}

type traceResult struct {
	Names       []string              `json:"names"`
	Frames      []frame               `json:"frames"`
	Bindings    []binding             `json:"bindings"`
	Output      string                `json:"output"`
	Truncated   bool                  `json:"truncated"`
	Errors      []string              `json:"errors"`
	SyntaxError *analyzer.SyntaxError `json:"syntax_error"`
}

func (h *Harness) trace(ctx context.Context, code string) (*traceResult, *runner.Result, error) {
	var out traceResult
	res, err := h.invoke(ctx, "trace", code, "", &out)
	if err != nil {
		return nil, res, err
	}
	return &out, res, nil
}

func withMarker(output string, truncated bool) string {
	if truncated {
		return output + runner.TruncationMarker
	}
	return output
}
