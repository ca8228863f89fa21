// Package engine is the execution orchestrator: the one entry point for the
// four modes.
//
// MODES:
//
//	analyze  → analyzer                       (never spawns a process)
//	run      → workspace → pipeline → runner
//	debug    → debugger                       (python harness / node)
//	test     → testrunner                     (one execution per case)
//
// INPUT ERRORS SHORT-CIRCUIT:
// An empty (whitespace-only) source or an unknown language tag is answered
// with a fixed message before any workspace is acquired or process spawned.
// Empty is checked first.
//
// NOTHING ESCAPES AS AN ERROR:
// Every failure below the engine (missing toolchain, compile error, crash,
// timeout) is turned into a structured response. Callers always get a value,
// which is why none of the mode methods return an error. The engine never
// retries; each mode is a single bounded attempt.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/sakif/code-runner/internal/analyzer"
	"github.com/sakif/code-runner/internal/apperror"
	"github.com/sakif/code-runner/internal/debugger"
	"github.com/sakif/code-runner/internal/language"
	"github.com/sakif/code-runner/internal/metrics"
	"github.com/sakif/code-runner/internal/pipeline"
	"github.com/sakif/code-runner/internal/runner"
	"github.com/sakif/code-runner/internal/testrunner"
	"github.com/sakif/code-runner/internal/workspace"
)

// Fixed response texts.
const (
	MsgNoCode       = "No code provided."
	MsgNoCodeToRun  = "No code to run."
	MsgUnsupported  = "Unsupported language."
	unknownLanguage = "unknown"
)

// Mode names, used as metric labels.
const (
	ModeAnalyze = "analyze"
	ModeRun     = "run"
	ModeDebug   = "debug"
	ModeTest    = "test"
)

// Request is the input of every mode. Breakpoints only matter to debug,
// TestCases only to test. Stdin is fed to the program in run mode.
type Request struct {
	Language    string            `json:"language"`
	Code        string            `json:"code"`
	Stdin       string            `json:"stdin,omitempty"`
	Breakpoints []int             `json:"breakpoints,omitempty"`
	TestCases   []testrunner.Case `json:"testCases,omitempty"`
}

// AnalyzeResponse lists findings in discovery order. Never empty.
type AnalyzeResponse struct {
	Issues []string `json:"issues"`
}

// RunResponse carries the combined program output. At most one of TimedOut
// and CompileFailed is set.
type RunResponse struct {
	Output        string `json:"output"`
	TimedOut      bool   `json:"timedOut"`
	CompileFailed bool   `json:"compileFailed"`
}

// DebugResponse is either a debugger state or, for input errors, only Error.
type DebugResponse struct {
	*debugger.State
	Error string `json:"error,omitempty"`
}

// TestResponse is either per-case results or, for input errors, only Error.
type TestResponse struct {
	Results []testrunner.Result
	Error   string
}

// MarshalJSON emits exactly one of {"results": [...]} and {"error": "..."}.
func (r TestResponse) MarshalJSON() ([]byte, error) {
	if r.Error != "" {
		return json.Marshal(map[string]string{"error": r.Error})
	}
	results := r.Results
	if results == nil {
		results = []testrunner.Result{}
	}
	return json.Marshal(map[string][]testrunner.Result{"results": results})
}

// Config wires an Engine. Every component is built by the composition root.
type Config struct {
	Analyzer   *analyzer.Analyzer
	Pipelines  *pipeline.Set
	Runner     runner.Runner
	Workspaces *workspace.Manager
	Debugger   *debugger.Debugger
	Tests      *testrunner.Runner

	RunTimeout     time.Duration
	CompileTimeout time.Duration

	// LookPath resolves a toolchain for Toolchains. Defaults to exec.LookPath;
	// the docker executor replaces it because tools live in the image.
	LookPath func(file string) (string, error)
}

// Engine is the execution orchestrator.
type Engine struct {
	cfg    Config
	logger *slog.Logger
}

// New creates an Engine.
func New(cfg Config, logger *slog.Logger) *Engine {
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = pipeline.DefaultRunTimeout
	}
	if cfg.CompileTimeout <= 0 {
		cfg.CompileTimeout = pipeline.DefaultCompileTimeout
	}
	if cfg.LookPath == nil {
		cfg.LookPath = exec.LookPath
	}
	return &Engine{cfg: cfg, logger: logger}
}

// validate applies the input-error checks shared by every mode.
func (e *Engine) validate(req Request) (language.ID, error) {
	if strings.TrimSpace(req.Code) == "" {
		return 0, apperror.EmptySource()
	}
	return language.Parse(req.Language)
}

func (e *Engine) record(lang language.ID, mode, outcome string) {
	label := unknownLanguage
	if lang.Valid() {
		label = lang.String()
	}
	metrics.ExecutionsTotal.WithLabelValues(label, mode, outcome).Inc()
}

func (e *Engine) reject(mode string, err error) {
	e.logger.Debug("request rejected", slog.String("mode", mode), slog.String("reason", err.Error()))
	e.record(0, mode, "rejected")
}

// Analyze runs the static rules of the request's language.
func (e *Engine) Analyze(ctx context.Context, req Request) AnalyzeResponse {
	lang, err := e.validate(req)
	if err != nil {
		e.reject(ModeAnalyze, err)
		return AnalyzeResponse{Issues: []string{inputMessage(err, MsgNoCode)}}
	}

	issues := e.cfg.Analyzer.Analyze(ctx, lang, req.Code)
	e.record(lang, ModeAnalyze, "ok")
	return AnalyzeResponse{Issues: analyzer.Messages(issues)}
}

// Run compiles (if needed) and runs the program once.
func (e *Engine) Run(ctx context.Context, req Request) RunResponse {
	lang, err := e.validate(req)
	if err != nil {
		e.reject(ModeRun, err)
		return RunResponse{Output: inputMessage(err, MsgNoCodeToRun)}
	}

	p, ok := e.cfg.Pipelines.Get(lang)
	if !ok {
		e.record(lang, ModeRun, "rejected")
		return RunResponse{Output: MsgUnsupported}
	}

	ws, err := e.cfg.Workspaces.AcquireAs(p.SourceName(req.Code), req.Code)
	if err != nil {
		e.logger.Error("failed to acquire workspace", slog.String("error", err.Error()))
		e.record(lang, ModeRun, "error")
		return RunResponse{Output: "Error: " + err.Error()}
	}
	defer ws.Release()

	res, err := p.Execute(ctx, e.cfg.Runner, ws, pipeline.Options{
		Stdin:          req.Stdin,
		RunTimeout:     e.cfg.RunTimeout,
		CompileTimeout: e.cfg.CompileTimeout,
	})
	if err != nil {
		if !errors.Is(err, apperror.ErrToolchainMissing) {
			e.logger.Error("execution failed",
				slog.String("language", lang.String()),
				slog.String("error", err.Error()),
			)
		}
		e.record(lang, ModeRun, "error")
		return RunResponse{Output: "Error: " + errorMessage(err)}
	}

	switch {
	case res.TimedOut:
		limit := e.cfg.RunTimeout
		if res.Phase == "compile" {
			limit = e.cfg.CompileTimeout
		}
		e.record(lang, ModeRun, "timeout")
		return RunResponse{Output: TimeoutOutput(res.Output, limit), TimedOut: true}
	case res.CompileFailed:
		e.record(lang, ModeRun, "compile_error")
		return RunResponse{Output: res.Output, CompileFailed: true}
	}

	e.logger.Debug("execution finished",
		slog.String("language", lang.String()),
		slog.Int("exit_code", res.ExitCode),
		slog.Duration("duration", res.Duration),
	)
	e.record(lang, ModeRun, "ok")
	return RunResponse{Output: res.Output}
}

// TimeoutOutput appends the timeout notice to whatever was captured.
func TimeoutOutput(partial string, limit time.Duration) string {
	msg := fmt.Sprintf("Execution timed out (%s limit).", limit)
	if partial == "" {
		return msg
	}
	if !strings.HasSuffix(partial, "\n") {
		partial += "\n"
	}
	return partial + msg
}

// Debug extracts variables, call stack and output.
func (e *Engine) Debug(ctx context.Context, req Request) DebugResponse {
	lang, err := e.validate(req)
	if err != nil {
		e.reject(ModeDebug, err)
		return DebugResponse{Error: inputMessage(err, MsgNoCode)}
	}

	st := e.cfg.Debugger.Debug(ctx, lang, req.Code, req.Breakpoints)
	outcome := "ok"
	if len(st.Errors) > 0 {
		outcome = "runtime_error"
	}
	e.record(lang, ModeDebug, outcome)
	return DebugResponse{State: st}
}

// Test runs the program once per test case.
func (e *Engine) Test(ctx context.Context, req Request) TestResponse {
	lang, err := e.validate(req)
	if err != nil {
		e.reject(ModeTest, err)
		return TestResponse{Error: inputMessage(err, MsgNoCode)}
	}

	results := e.cfg.Tests.Run(ctx, lang, req.Code, req.TestCases)
	passed := 0
	for _, r := range results {
		if r.Passed {
			passed++
		}
	}
	e.logger.Info("test run finished",
		slog.String("language", lang.String()),
		slog.Int("cases", len(results)),
		slog.Int("passed", passed),
	)
	outcome := "ok"
	if passed < len(results) {
		outcome = "failed"
	}
	e.record(lang, ModeTest, outcome)
	return TestResponse{Results: results}
}

// LanguageInfo describes one supported language.
type LanguageInfo struct {
	ID        string   `json:"id"`
	Extension string   `json:"extension"`
	Compiled  bool     `json:"compiled"`
	Tools     []string `json:"tools"`
}

// Languages lists the supported languages in their fixed order.
func (e *Engine) Languages() []LanguageInfo {
	out := make([]LanguageInfo, 0, len(language.All))
	for _, id := range language.All {
		info := LanguageInfo{ID: id.String(), Extension: id.Extension(), Compiled: id.Compiled()}
		if p, ok := e.cfg.Pipelines.Get(id); ok {
			info.Tools = p.Tools()
		}
		out = append(out, info)
	}
	return out
}

// Toolchains reports, per language, whether every tool it needs resolves.
// A missing toolchain is a reported condition, never a startup failure.
func (e *Engine) Toolchains() map[string]bool {
	out := make(map[string]bool, len(language.All))
	for _, info := range e.Languages() {
		ok := true
		for _, tool := range info.Tools {
			if _, err := e.cfg.LookPath(tool); err != nil {
				ok = false
				break
			}
		}
		out[info.ID] = ok
	}
	return out
}

// inputMessage maps an input error to its fixed response text.
func inputMessage(err error, noCode string) string {
	if errors.Is(err, apperror.ErrEmptySource) {
		return noCode
	}
	return MsgUnsupported
}

func errorMessage(err error) string {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}
