package pipeline

import (
	"context"
	"fmt"

	"github.com/sakif/code-runner/internal/language"
	"github.com/sakif/code-runner/internal/metrics"
	"github.com/sakif/code-runner/internal/runner"
	"github.com/sakif/code-runner/internal/workspace"
)

// Interpreted passes the source file straight to an interpreter.
type Interpreted struct {
	lang language.ID
	run  Template
}

var _ Pipeline = (*Interpreted)(nil)

// NewInterpreted creates a run-only pipeline.
func NewInterpreted(lang language.ID, run Template) *Interpreted {
	return &Interpreted{lang: lang, run: run}
}

func (p *Interpreted) Language() language.ID { return p.lang }

func (p *Interpreted) SourceName(string) string { return "main" + p.lang.Extension() }

func (p *Interpreted) Tools() []string {
	if tool := p.run.Tool(); tool != "" {
		return []string{tool}
	}
	return nil
}

// Interpreter returns the interpreter argv without the source argument,
// for callers that launch their own script with it (the debug harness).
func (p *Interpreted) Interpreter() ([]string, error) {
	argv, err := p.run.Prefix()
	if err != nil {
		return nil, err
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("pipeline: %s run template has no interpreter", p.lang)
	}
	return argv, nil
}

// Execute runs the interpreter once under opts.RunTimeout.
func (p *Interpreted) Execute(ctx context.Context, r runner.Runner, ws *workspace.Workspace, opts Options) (*Result, error) {
	cmd, err := command(p.run, vars(ws, "", false), ws.Dir, opts.Stdin, opts.runTimeout())
	if err != nil {
		return nil, err
	}

	res, err := r.Run(ctx, cmd)
	if err != nil {
		return nil, fmt.Errorf("pipeline: running %s: %w", p.lang, err)
	}

	observe(p.lang, "run", res)
	return fromRun(res, "run"), nil
}

func observe(lang language.ID, phase string, res *runner.Result) {
	metrics.ExecutionDuration.WithLabelValues(lang.String(), phase).Observe(float64(res.Duration.Milliseconds()))
	if res.TimedOut {
		metrics.TimeoutsTotal.WithLabelValues(lang.String(), phase).Inc()
	}
}
