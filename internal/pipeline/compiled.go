package pipeline

import (
	"context"
	"fmt"

	"github.com/sakif/code-runner/internal/language"
	"github.com/sakif/code-runner/internal/metrics"
	"github.com/sakif/code-runner/internal/runner"
	"github.com/sakif/code-runner/internal/workspace"
)

// Compiled runs a compile step, then the artifact it produced.
type Compiled struct {
	lang    language.ID
	compile Template
	run     Template
	// artifact is appended to the source path minus its extension:
	// "" for a native binary, ".class" for JVM bytecode.
	artifact   string
	sourceName func(code string) string
}

var _ Pipeline = (*Compiled)(nil)

// NewNative creates a pipeline whose compile step produces an executable at {bin}.
func NewNative(lang language.ID, compile, run Template) *Compiled {
	return &Compiled{
		lang:       lang,
		compile:    compile,
		run:        run,
		artifact:   "",
		sourceName: func(string) string { return "main" + lang.Extension() },
	}
}

// NewJVM creates the Java pipeline. The source is written as <Class>.java so
// javac accepts a public class, and the run step loads <Class> from {dir}.
func NewJVM(compile, run Template) *Compiled {
	return &Compiled{
		lang:       language.Java,
		compile:    compile,
		run:        run,
		artifact:   ".class",
		sourceName: func(code string) string { return JavaClassName(code) + ".java" },
	}
}

func (p *Compiled) Language() language.ID { return p.lang }

func (p *Compiled) SourceName(code string) string { return p.sourceName(code) }

func (p *Compiled) Tools() []string {
	var tools []string
	for _, t := range []Template{p.compile, p.run} {
		if tool := t.Tool(); tool != "" {
			tools = append(tools, tool)
		}
	}
	return tools
}

// Execute compiles and, only if the compiler exited 0, runs the artifact.
func (p *Compiled) Execute(ctx context.Context, r runner.Runner, ws *workspace.Workspace, opts Options) (*Result, error) {
	v := vars(ws, p.artifact, true)

	compileCmd, err := command(p.compile, v, ws.Dir, "", opts.compileTimeout())
	if err != nil {
		return nil, err
	}
	compiled, err := r.Run(ctx, compileCmd)
	if err != nil {
		return nil, fmt.Errorf("pipeline: compiling %s: %w", p.lang, err)
	}
	observe(p.lang, "compile", compiled)

	if compiled.TimedOut {
		return fromRun(compiled, "compile"), nil
	}
	if compiled.ExitCode != 0 {
		metrics.CompileFailures.WithLabelValues(p.lang.String()).Inc()
		res := fromRun(compiled, "compile")
		res.CompileFailed = true
		return res, nil
	}

	runCmd, err := command(p.run, v, ws.Dir, opts.Stdin, opts.runTimeout())
	if err != nil {
		return nil, err
	}
	ran, err := r.Run(ctx, runCmd)
	if err != nil {
		return nil, fmt.Errorf("pipeline: running %s: %w", p.lang, err)
	}
	observe(p.lang, "run", ran)

	res := fromRun(ran, "run")
	res.Duration += compiled.Duration
	return res, nil
}
