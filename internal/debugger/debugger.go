// Package debugger reconstructs a best-effort variable table and call stack.
//
// TWO VARIANTS:
//
//	python      static parse + one execution in a fresh namespace (harness.py)
//	javascript  lexical scan of declarations + optional plain node run
//
// Debugging never fails outright. Runtime exceptions, timeouts and a missing
// interpreter all become entries in State.Errors (or State.Output, for node),
// and whatever was already gathered is still returned.
package debugger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/sakif/code-runner/internal/apperror"
	"github.com/sakif/code-runner/internal/language"
	"github.com/sakif/code-runner/internal/pipeline"
	"github.com/sakif/code-runner/internal/runner"
	"github.com/sakif/code-runner/internal/workspace"
)

// MaxValueRunes bounds a rendered variable value.
const MaxValueRunes = 256

// NodeMissing is reported as the output when node is not installed.
const NodeMissing = "Node.js not installed - cannot execute JavaScript"

// Variable is one row of the variable table.
type Variable struct {
	Name  string `json:"name"`
	Value string `json:"value"`
	Type  string `json:"type"`
}

// State is the debugger view of one execution.
type State struct {
	Variables []Variable `json:"variables"`
	CallStack []string   `json:"callStack"`
	Output    string     `json:"output"`
	Errors    []string   `json:"errors"`
}

func newState() *State {
	return &State{
		Variables: []Variable{},
		CallStack: []string{},
		Errors:    []string{},
	}
}

// Debugger dispatches to the per-language extractor.
type Debugger struct {
	harness       *Harness
	runner        runner.Runner
	workspaces    *workspace.Manager
	javascript    pipeline.Pipeline
	scriptTimeout time.Duration
	logger        *slog.Logger
}

// Config wires a Debugger.
type Config struct {
	Harness    *Harness
	Runner     runner.Runner
	Workspaces *workspace.Manager
	// JavaScript is the node pipeline used for the optional output run.
	JavaScript    pipeline.Pipeline
	ScriptTimeout time.Duration
}

// New creates a Debugger.
func New(cfg Config, logger *slog.Logger) *Debugger {
	if cfg.ScriptTimeout <= 0 {
		cfg.ScriptTimeout = 5 * time.Second
	}
	return &Debugger{
		harness:       cfg.Harness,
		runner:        cfg.Runner,
		workspaces:    cfg.Workspaces,
		javascript:    cfg.JavaScript,
		scriptTimeout: cfg.ScriptTimeout,
		logger:        logger,
	}
}

// Debug extracts the debug state of code. breakpoints are accepted for
// forward compatibility and only logged.
func (d *Debugger) Debug(ctx context.Context, lang language.ID, code string, breakpoints []int) *State {
	if len(breakpoints) > 0 {
		d.logger.Debug("breakpoints ignored",
			slog.String("language", lang.String()),
			slog.Any("breakpoints", breakpoints),
		)
	}

	switch lang {
	case language.Python:
		return d.python(ctx, code)
	case language.JavaScript:
		return d.javascriptState(ctx, code)
	default:
		st := newState()
		st.Errors = append(st.Errors, fmt.Sprintf("Debugging not yet implemented for %s", lang))
		return st
	}
}

func (d *Debugger) python(ctx context.Context, code string) *State {
	st := newState()

	out, res, err := d.harness.trace(ctx, code)
	switch {
	case errors.Is(err, errNoResult):
		st.Output = res.Output
		st.Errors = append(st.Errors, fmt.Sprintf("Runtime error: process exited with status %d", res.ExitCode))
		st.CallStack = append(st.CallStack, "main (line 1)")
		return st
	case err != nil:
		d.logger.Warn("python debug failed", slog.String("error", err.Error()))
		st.Errors = append(st.Errors, "Debug error: "+toolchainMessage(err))
		return st
	case res.TimedOut:
		st.Output = res.Output
		st.Errors = append(st.Errors, fmt.Sprintf("Execution timed out (%s limit).", d.harness.Timeout()))
		st.CallStack = append(st.CallStack, "main (line 1)")
		return st
	}

	if out.SyntaxError != nil {
		st.Errors = append(st.Errors, fmt.Sprintf("Syntax error on line %d: %s", out.SyntaxError.Line, out.SyntaxError.Msg))
		return st
	}

	for _, f := range out.Frames {
		st.CallStack = append(st.CallStack, fmt.Sprintf("Function: %s (line %d)", f.Name, f.Line))
	}
	if len(st.CallStack) == 0 {
		st.CallStack = append(st.CallStack, "main (line 1)")
	}

	st.Output = withMarker(out.Output, out.Truncated)
	st.Variables = assembleVariables(out.Names, out.Bindings)
	st.Errors = append(st.Errors, out.Errors...)
	return st
}

// assembleVariables orders the table: statically discovered assignment
// targets that ended up bound come first, in source order, then every other
// non-dunder binding in creation order.
func assembleVariables(names []string, bindings []binding) []Variable {
	bound := make(map[string]binding, len(bindings))
	for _, b := range bindings {
		bound[b.Name] = b
	}

	static := mapset.NewThreadUnsafeSet[string](names...)
	vars := make([]Variable, 0, len(bindings))
	for _, name := range names {
		if b, ok := bound[name]; ok {
			vars = append(vars, toVariable(b))
		}
	}
	for _, b := range bindings {
		if static.Contains(b.Name) || strings.HasPrefix(b.Name, "__") {
			continue
		}
		vars = append(vars, toVariable(b))
	}
	return vars
}

func toVariable(b binding) Variable {
	return Variable{Name: b.Name, Value: truncateValue(b.Value), Type: b.Type}
}

func truncateValue(v string) string {
	if utf8.RuneCountInString(v) <= MaxValueRunes {
		return v
	}
	return string([]rune(v)[:MaxValueRunes]) + "..."
}

var (
	jsDeclRe = regexp.MustCompile(`(?:let|const|var)\s+(\w+)\s*=`)
	jsFuncRe = regexp.MustCompile(`function\s+(\w+)\s*\(`)
)

func (d *Debugger) javascriptState(ctx context.Context, code string) *State {
	st := newState()

	for _, m := range jsDeclRe.FindAllStringSubmatch(code, -1) {
		st.Variables = append(st.Variables, Variable{Name: m[1], Value: "undefined", Type: "variable"})
	}
	for _, m := range jsFuncRe.FindAllStringSubmatch(code, -1) {
		st.CallStack = append(st.CallStack, "Function: "+m[1])
	}
	if len(st.CallStack) == 0 {
		st.CallStack = append(st.CallStack, "main")
	}

	ws, err := d.workspaces.AcquireAs(d.javascript.SourceName(code), code)
	if err != nil {
		st.Errors = append(st.Errors, "Execution error: "+err.Error())
		return st
	}
	defer ws.Release()

	res, err := d.javascript.Execute(ctx, d.runner, ws, pipeline.Options{RunTimeout: d.scriptTimeout})
	switch {
	case errors.Is(err, apperror.ErrToolchainMissing):
		st.Output = NodeMissing
	case err != nil:
		st.Errors = append(st.Errors, "Execution error: "+err.Error())
	case res.TimedOut:
		st.Output = res.Output
		st.Errors = append(st.Errors, fmt.Sprintf("Execution error: timed out after %s", d.scriptTimeout))
	default:
		st.Output = res.Output
	}
	return st
}

func toolchainMessage(err error) string {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}
