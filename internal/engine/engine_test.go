package engine

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/code-runner/internal/apperror"
	"github.com/sakif/code-runner/internal/runner"
	"github.com/sakif/code-runner/internal/testrunner"
	"github.com/sakif/code-runner/internal/workspace"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// countingRunner counts spawns and answers with results in order; once the
// script runs out it answers with an empty successful result.
type countingRunner struct {
	calls   atomic.Int32
	results []*runner.Result
	err     error
}

func (c *countingRunner) Run(ctx context.Context, cmd runner.Command) (*runner.Result, error) {
	n := int(c.calls.Add(1))
	if c.err != nil {
		return nil, c.err
	}
	if n <= len(c.results) {
		return c.results[n-1], nil
	}
	return &runner.Result{}, nil
}

func newTestEngine(t *testing.T, r runner.Runner, opts Options) (*Engine, *workspace.Manager) {
	t.Helper()
	wm, err := workspace.NewManager(t.TempDir(), discardLogger())
	require.NoError(t, err)
	e, err := Assemble(opts, r, wm, discardLogger())
	require.NoError(t, err)
	return e, wm
}

func assertRootEmpty(t *testing.T, wm *workspace.Manager) {
	t.Helper()
	entries, err := os.ReadDir(wm.Root())
	require.NoError(t, err)
	assert.Empty(t, entries, "workspace root should hold no leftovers")
	assert.EqualValues(t, 0, wm.Active())
}

func TestEmptySource_NoSpawnInAnyMode(t *testing.T) {
	r := &countingRunner{}
	e, wm := newTestEngine(t, r, Options{})
	ctx := context.Background()

	for _, code := range []string{"", "   \n\t"} {
		req := Request{Language: "python", Code: code}

		assert.Equal(t, []string{MsgNoCode}, e.Analyze(ctx, req).Issues)
		assert.Equal(t, MsgNoCodeToRun, e.Run(ctx, req).Output)
		assert.Equal(t, MsgNoCode, e.Debug(ctx, req).Error)
		assert.Equal(t, MsgNoCode, e.Test(ctx, req).Error)
	}

	assert.Zero(t, r.calls.Load())
	assertRootEmpty(t, wm)
}

func TestUnsupportedLanguage_FixedMessageInAnyMode(t *testing.T) {
	r := &countingRunner{}
	e, wm := newTestEngine(t, r, Options{})
	ctx := context.Background()

	for _, tag := range []string{"ruby", "", "Python3"} {
		req := Request{Language: tag, Code: "print(1)"}

		assert.Equal(t, []string{MsgUnsupported}, e.Analyze(ctx, req).Issues)
		assert.Equal(t, MsgUnsupported, e.Run(ctx, req).Output)
		assert.Equal(t, MsgUnsupported, e.Debug(ctx, req).Error)
		assert.Equal(t, MsgUnsupported, e.Test(ctx, req).Error)
	}

	assert.Zero(t, r.calls.Load())
	assertRootEmpty(t, wm)
}

func TestAnalyze_CppScenarioSpawnsNothing(t *testing.T) {
	r := &countingRunner{}
	e, _ := newTestEngine(t, r, Options{})

	res := e.Analyze(context.Background(), Request{Language: "cpp", Code: "int main(){return 0;}"})

	assert.Contains(t, res.Issues, "No #include directives found.")
	assert.NotContains(t, res.Issues, "No main() function found.")
	assert.Zero(t, r.calls.Load())
}

func TestRun_Outcomes(t *testing.T) {
	tests := []struct {
		name    string
		lang    string
		results []*runner.Result
		err     error
		want    RunResponse
		spawns  int32
	}{
		{
			name:    "python ok",
			lang:    "python",
			results: []*runner.Result{{Output: "hello\n"}},
			want:    RunResponse{Output: "hello\n"},
			spawns:  1,
		},
		{
			name:    "timeout without output",
			lang:    "javascript",
			results: []*runner.Result{{TimedOut: true, ExitCode: -1}},
			want:    RunResponse{Output: "Execution timed out (10s limit).", TimedOut: true},
			spawns:  1,
		},
		{
			name:    "timeout keeps partial output",
			lang:    "python",
			results: []*runner.Result{{TimedOut: true, Output: "tick"}},
			want:    RunResponse{Output: "tick\nExecution timed out (10s limit).", TimedOut: true},
			spawns:  1,
		},
		{
			name:    "cpp compile failure never runs",
			lang:    "cpp",
			results: []*runner.Result{{ExitCode: 1, Output: "main.cpp:1: error"}},
			want:    RunResponse{Output: "main.cpp:1: error", CompileFailed: true},
			spawns:  1,
		},
		{
			name:    "java compile then run",
			lang:    "java",
			results: []*runner.Result{{}, {Output: "hi\n"}},
			want:    RunResponse{Output: "hi\n"},
			spawns:  2,
		},
		{
			name:   "missing toolchain",
			lang:   "javascript",
			err:    apperror.ToolchainMissing("node"),
			want:   RunResponse{Output: "Error: node not found on PATH"},
			spawns: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &countingRunner{results: tt.results, err: tt.err}
			e, wm := newTestEngine(t, r, Options{})

			got := e.Run(context.Background(), Request{Language: tt.lang, Code: "x"})
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.spawns, r.calls.Load())
			assertRootEmpty(t, wm)
		})
	}
}

func TestDebug_CompiledLanguage(t *testing.T) {
	e, _ := newTestEngine(t, &countingRunner{}, Options{})

	res := e.Debug(context.Background(), Request{Language: "java", Code: "class A {}"})
	require.NotNil(t, res.State)
	assert.Equal(t, []string{"Debugging not yet implemented for java"}, res.Errors)
}

func TestResponses_JSONShape(t *testing.T) {
	data, err := json.Marshal(TestResponse{Error: MsgNoCode})
	require.NoError(t, err)
	assert.JSONEq(t, `{"error":"No code provided."}`, string(data))

	data, err = json.Marshal(TestResponse{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"results":[]}`, string(data))

	data, err = json.Marshal(TestResponse{Results: []testrunner.Result{{Name: "a", Passed: true, Actual: "1", Expected: "1"}}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"results":[{"name":"a","passed":true,"actual":"1","expected":"1","error":null}]}`, string(data))

	data, err = json.Marshal(DebugResponse{Error: MsgUnsupported})
	require.NoError(t, err)
	assert.JSONEq(t, `{"error":"Unsupported language."}`, string(data))
}

func TestLanguagesAndToolchains(t *testing.T) {
	e, _ := newTestEngine(t, &countingRunner{}, Options{
		LookPath: func(file string) (string, error) {
			if file == "javac" {
				return "", exec.ErrNotFound
			}
			return "/usr/bin/" + file, nil
		},
	})

	langs := e.Languages()
	require.Len(t, langs, 4)
	assert.Equal(t, "python", langs[0].ID)
	assert.Equal(t, ".java", langs[2].Extension)
	assert.True(t, langs[3].Compiled)

	tc := e.Toolchains()
	assert.True(t, tc["python"])
	assert.False(t, tc["java"])
	assert.True(t, tc["cpp"])
}

func TestTimeoutOutput(t *testing.T) {
	assert.Equal(t, "Execution timed out (2s limit).", TimeoutOutput("", 2*time.Second))
	assert.Equal(t, "a\nExecution timed out (2s limit).", TimeoutOutput("a\n", 2*time.Second))
}

// The tests below drive real toolchains and skip when one is missing.

func requireTool(t *testing.T, tools ...string) {
	t.Helper()
	for _, tool := range tools {
		if _, err := exec.LookPath(tool); err != nil {
			t.Skipf("%s not installed", tool)
		}
	}
}

func TestRun_HelloWorldEveryLanguage(t *testing.T) {
	programs := []struct {
		lang  string
		tools []string
		code  string
	}{
		{"python", []string{"python3"}, `print("hello")`},
		{"javascript", []string{"node"}, `console.log("hello")`},
		{"java", []string{"javac", "java"}, `public class Hello { public static void main(String[] a) { System.out.println("hello"); } }`},
		{"cpp", []string{"g++"}, "#include <iostream>\nint main() { std::cout << \"hello\" << std::endl; return 0; }"},
	}
	for _, p := range programs {
		t.Run(p.lang, func(t *testing.T) {
			requireTool(t, p.tools...)
			local := runner.NewLocal(discardLogger(), 1<<20)
			e, wm := newTestEngine(t, local, Options{})

			res := e.Run(context.Background(), Request{Language: p.lang, Code: p.code})
			assert.Equal(t, "hello\n", res.Output)
			assert.False(t, res.TimedOut)
			assert.False(t, res.CompileFailed)
			assertRootEmpty(t, wm)
		})
	}
}

func TestRun_RealTimeout(t *testing.T) {
	requireTool(t, "python3")
	local := runner.NewLocal(discardLogger(), 1<<20)
	e, wm := newTestEngine(t, local, Options{RunTimeout: time.Second})

	start := time.Now()
	res := e.Run(context.Background(), Request{Language: "python", Code: "while True:\n    pass\n"})

	assert.True(t, res.TimedOut)
	assert.Less(t, time.Since(start), 3*time.Second)
	assert.Contains(t, res.Output, "Execution timed out (1s limit).")
	assert.Zero(t, local.Live())
	assertRootEmpty(t, wm)
}

func TestRun_RealCompileFailure(t *testing.T) {
	requireTool(t, "g++")
	var spawns atomic.Int32
	local := runner.NewLocal(discardLogger(), 1<<20)
	counted := runner.Func(func(ctx context.Context, cmd runner.Command) (*runner.Result, error) {
		spawns.Add(1)
		return local.Run(ctx, cmd)
	})
	e, wm := newTestEngine(t, counted, Options{})

	res := e.Run(context.Background(), Request{Language: "cpp", Code: "int main( { return 0 }"})

	assert.True(t, res.CompileFailed)
	assert.Contains(t, res.Output, "error")
	assert.EqualValues(t, 1, spawns.Load())
	assertRootEmpty(t, wm)
}
