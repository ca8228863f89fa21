// Package pipeline encodes how each supported language is compiled and run.
//
// TWO SHAPES OF PIPELINE:
//
//	run-only          source ──interpreter──▶ output          (python, javascript)
//	compile-then-run  source ──compiler──▶ artifact ──run──▶ output   (java, cpp)
//
// A compile-then-run pipeline stops after the compile step when the compiler
// exits non-zero: the compiler's diagnostics become the result and the run
// step is never invoked.
//
// Pipelines never create files themselves. The workspace names the source and
// every artifact, so cleanup stays in one place.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/sakif/code-runner/internal/language"
	"github.com/sakif/code-runner/internal/runner"
	"github.com/sakif/code-runner/internal/workspace"
)

// Default step bounds.
const (
	DefaultRunTimeout     = 10 * time.Second
	DefaultCompileTimeout = 30 * time.Second
)

// Result is the outcome of one pipeline execution. At most one of TimedOut
// and CompileFailed is set; neither means the program ran to completion.
type Result struct {
	Output        string
	TimedOut      bool
	CompileFailed bool
	ExitCode      int
	// Phase is the step that produced Output: "compile" or "run".
	Phase    string
	Duration time.Duration
}

// Options bound a single execution.
type Options struct {
	Stdin          string
	RunTimeout     time.Duration
	CompileTimeout time.Duration
}

func (o Options) runTimeout() time.Duration {
	if o.RunTimeout > 0 {
		return o.RunTimeout
	}
	return DefaultRunTimeout
}

func (o Options) compileTimeout() time.Duration {
	if o.CompileTimeout > 0 {
		return o.CompileTimeout
	}
	return DefaultCompileTimeout
}

// Pipeline is the compile/run protocol of one language.
type Pipeline interface {
	Language() language.ID
	// SourceName is the file name the source must be written under.
	SourceName(code string) string
	// Tools lists the executables the pipeline needs on PATH.
	Tools() []string
	// Execute compiles (if needed) and runs the workspace's source.
	Execute(ctx context.Context, r runner.Runner, ws *workspace.Workspace, opts Options) (*Result, error)
}

// vars builds the placeholder table for a workspace. Derived paths are
// registered with the workspace so Release removes them.
func vars(ws *workspace.Workspace, artifactSuffix string, compiled bool) map[string]string {
	v := map[string]string{
		VarSource: ws.SourcePath,
		VarDir:    ws.Dir,
		VarClass:  ws.ClassName(),
	}
	if compiled {
		v[VarBinary] = ws.Derived(artifactSuffix)
	}
	return v
}

func command(tpl Template, v map[string]string, dir, stdin string, timeout time.Duration) (runner.Command, error) {
	argv, err := tpl.Expand(v)
	if err != nil {
		return runner.Command{}, err
	}
	return runner.Command{
		Path:    argv[0],
		Args:    argv[1:],
		Dir:     dir,
		Stdin:   stdin,
		Timeout: timeout,
	}, nil
}

func fromRun(res *runner.Result, phase string) *Result {
	return &Result{
		Output:   res.Output,
		TimedOut: res.TimedOut,
		ExitCode: res.ExitCode,
		Phase:    phase,
		Duration: res.Duration,
	}
}

// Set holds one pipeline per supported language.
type Set struct {
	pipelines map[language.ID]Pipeline
}

// NewSet builds pipelines from per-language templates. Missing entries fall
// back to DefaultTemplates.
func NewSet(templates map[language.ID]Templates) (*Set, error) {
	s := &Set{pipelines: make(map[language.ID]Pipeline, len(language.All))}
	for _, id := range language.All {
		t, ok := templates[id]
		if !ok {
			t = DefaultTemplates[id]
		}

		var p Pipeline
		switch id {
		case language.Python, language.JavaScript:
			p = NewInterpreted(id, t.Run)
		case language.Java:
			p = NewJVM(t.Compile, t.Run)
		case language.Cpp:
			p = NewNative(id, t.Compile, t.Run)
		default:
			return nil, fmt.Errorf("pipeline: no pipeline for %s", id)
		}

		if _, err := t.Run.Split(); err != nil {
			return nil, fmt.Errorf("pipeline: %s run: %w", id, err)
		}
		if id.Compiled() {
			if _, err := t.Compile.Split(); err != nil {
				return nil, fmt.Errorf("pipeline: %s compile: %w", id, err)
			}
		}
		s.pipelines[id] = p
	}
	return s, nil
}

// Get returns the pipeline for id.
func (s *Set) Get(id language.ID) (Pipeline, bool) {
	p, ok := s.pipelines[id]
	return p, ok
}

// Templates is the command pair for one language.
type Templates struct {
	Compile Template
	Run     Template
}

// DefaultTemplates mirrors what a stock Linux host provides.
var DefaultTemplates = map[language.ID]Templates{
	language.Python:     {Run: "python3 {src}"},
	language.JavaScript: {Run: "node {src}"},
	language.Java:       {Compile: "javac {src}", Run: "java -cp {dir} {class}"},
	language.Cpp:        {Compile: "g++ {src} -o {bin}", Run: "{bin}"},
}
