package testrunner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/code-runner/internal/apperror"
	"github.com/sakif/code-runner/internal/debugger"
	"github.com/sakif/code-runner/internal/language"
	"github.com/sakif/code-runner/internal/pipeline"
	"github.com/sakif/code-runner/internal/runner"
	"github.com/sakif/code-runner/internal/workspace"
)

type capturerFunc func(ctx context.Context, code, stdin string) (*debugger.Capture, error)

func (f capturerFunc) Capture(ctx context.Context, code, stdin string) (*debugger.Capture, error) {
	return f(ctx, code, stdin)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRunner(t *testing.T, py Capturer, r runner.Runner) (*Runner, *workspace.Manager) {
	t.Helper()
	wm, err := workspace.NewManager(t.TempDir(), discardLogger())
	require.NoError(t, err)
	set, err := pipeline.NewSet(nil)
	require.NoError(t, err)
	return New(Config{
		Python:        py,
		Pipelines:     set,
		Runner:        r,
		Workspaces:    wm,
		ScriptTimeout: 5 * time.Second,
	}, discardLogger()), wm
}

func TestRun_CaseIndependence(t *testing.T) {
	// The second case makes the program raise; the others still get verdicts.
	py := capturerFunc(func(ctx context.Context, code, stdin string) (*debugger.Capture, error) {
		switch stdin {
		case "boom":
			return &debugger.Capture{Error: "division by zero"}, nil
		default:
			return &debugger.Capture{Output: stdin + "\n"}, nil
		}
	})
	tr, _ := newTestRunner(t, py, nil)

	results := tr.Run(context.Background(), language.Python, "print(input())", []Case{
		{Name: "first", Input: "a", Expected: "a"},
		{Name: "second", Input: "boom", Expected: "b"},
		{Name: "third", Input: "c", Expected: "wrong"},
	})

	require.Len(t, results, 3)
	assert.True(t, results[0].Passed)
	assert.Nil(t, results[0].Error)

	assert.False(t, results[1].Passed)
	require.NotNil(t, results[1].Error)
	assert.Equal(t, "division by zero", *results[1].Error)

	assert.False(t, results[2].Passed)
	assert.Nil(t, results[2].Error)
	assert.Equal(t, "c\n", results[2].Actual)
	assert.Equal(t, "wrong", results[2].Expected)
}

func TestRun_TrimsTrailingWhitespaceOnly(t *testing.T) {
	py := capturerFunc(func(ctx context.Context, code, stdin string) (*debugger.Capture, error) {
		return &debugger.Capture{Output: "  42  \n\n"}, nil
	})
	tr, _ := newTestRunner(t, py, nil)

	results := tr.Run(context.Background(), language.Python, "print('  42  ')", []Case{
		{Expected: "  42\n"},
		{Expected: "42"},
	})

	assert.True(t, results[0].Passed)
	assert.Equal(t, "Test 1", results[0].Name)
	assert.Equal(t, "  42  \n\n", results[0].Actual, "recorded untrimmed")
	assert.Equal(t, "  42\n", results[0].Expected, "recorded untrimmed")
	assert.False(t, results[1].Passed, "leading whitespace is significant")
	assert.Equal(t, "Test 2", results[1].Name)
}

func TestRun_JavaScriptWiresStdinAndScriptTimeout(t *testing.T) {
	var runs atomic.Int32
	r := runner.Func(func(ctx context.Context, cmd runner.Command) (*runner.Result, error) {
		runs.Add(1)
		assert.Equal(t, "node", cmd.Path)
		assert.Equal(t, 5*time.Second, cmd.Timeout)
		return &runner.Result{Output: strings.ToUpper(cmd.Stdin)}, nil
	})
	tr, wm := newTestRunner(t, nil, r)

	results := tr.Run(context.Background(), language.JavaScript, "/* upper */", []Case{
		{Name: "one", Input: "abc", Expected: "ABC"},
		{Name: "two", Input: "xyz", Expected: "XYZ"},
	})

	assert.EqualValues(t, 2, runs.Load())
	assert.True(t, results[0].Passed)
	assert.True(t, results[1].Passed)
	assert.EqualValues(t, 0, wm.Active())
}

func TestRun_JavaScriptNodeMissing(t *testing.T) {
	r := runner.Func(func(ctx context.Context, cmd runner.Command) (*runner.Result, error) {
		return nil, apperror.ToolchainMissing("node")
	})
	tr, _ := newTestRunner(t, nil, r)

	results := tr.Run(context.Background(), language.JavaScript, "console.log(1)", []Case{{Expected: "1"}})
	require.NotNil(t, results[0].Error)
	assert.Equal(t, "Node.js not installed", *results[0].Error)
}

func TestRun_CompiledOutcomes(t *testing.T) {
	tests := []struct {
		name    string
		compile *runner.Result
		run     *runner.Result
		wantErr string
		passed  bool
	}{
		{name: "pass", compile: &runner.Result{}, run: &runner.Result{Output: "ok\n"}, passed: true},
		{name: "compile failure", compile: &runner.Result{ExitCode: 1, Output: "error"}, wantErr: "Compilation failed"},
		{name: "timeout", compile: &runner.Result{}, run: &runner.Result{TimedOut: true, ExitCode: -1}, wantErr: "Execution timed out (10s limit)."},
		{name: "crash", compile: &runner.Result{}, run: &runner.Result{ExitCode: 139, Output: "ok\n"}, wantErr: "exited with status 139"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			r := runner.Func(func(ctx context.Context, cmd runner.Command) (*runner.Result, error) {
				if calls.Add(1) == 1 {
					return tt.compile, nil
				}
				return tt.run, nil
			})
			tr, wm := newTestRunner(t, nil, r)

			results := tr.Run(context.Background(), language.Cpp, "int main(){}", []Case{{Expected: "ok"}})
			assert.Equal(t, tt.passed, results[0].Passed)
			if tt.wantErr == "" {
				assert.Nil(t, results[0].Error)
			} else {
				require.NotNil(t, results[0].Error)
				assert.Equal(t, tt.wantErr, *results[0].Error)
			}
			assert.EqualValues(t, 0, wm.Active())
		})
	}
}

func TestRun_HarnessFailureIsPerCase(t *testing.T) {
	py := capturerFunc(func(ctx context.Context, code, stdin string) (*debugger.Capture, error) {
		return nil, errors.New("disk full")
	})
	tr, _ := newTestRunner(t, py, nil)

	results := tr.Run(context.Background(), language.Python, "print(1)", []Case{{}, {}})
	require.Len(t, results, 2)
	for _, res := range results {
		require.NotNil(t, res.Error)
		assert.Equal(t, "disk full", *res.Error)
	}
}

func TestRun_RealPython(t *testing.T) {
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not installed")
	}
	wm, err := workspace.NewManager(t.TempDir(), discardLogger())
	require.NoError(t, err)
	local := runner.NewLocal(discardLogger(), 1<<20)
	h, err := debugger.NewHarness(local, wm, debugger.HarnessConfig{Interpreter: []string{"python3"}}, discardLogger())
	require.NoError(t, err)
	set, err := pipeline.NewSet(nil)
	require.NoError(t, err)
	tr := New(Config{Python: h, Pipelines: set, Runner: local, Workspaces: wm}, discardLogger())

	code := "n = int(input())\nprint(10 // n)\n"
	results := tr.Run(context.Background(), language.Python, code, []Case{
		{Name: "two", Input: "2\n", Expected: "5"},
		{Name: "zero", Input: "0\n", Expected: "0"},
		{Name: "five", Input: "5\n", Expected: "2"},
	})

	assert.True(t, results[0].Passed)
	assert.False(t, results[1].Passed)
	require.NotNil(t, results[1].Error)
	assert.Contains(t, *results[1].Error, "division by zero")
	assert.True(t, results[2].Passed)
	assert.EqualValues(t, 0, wm.Active())
}

func TestRun_RealPythonBaseExceptionKeepsOutput(t *testing.T) {
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not installed")
	}
	wm, err := workspace.NewManager(t.TempDir(), discardLogger())
	require.NoError(t, err)
	local := runner.NewLocal(discardLogger(), 1<<20)
	h, err := debugger.NewHarness(local, wm, debugger.HarnessConfig{Interpreter: []string{"python3"}}, discardLogger())
	require.NoError(t, err)
	tr := New(Config{Python: h, Runner: local, Workspaces: wm}, discardLogger())

	code := "x = 1\nprint('before')\nraise KeyboardInterrupt\n"
	results := tr.Run(context.Background(), language.Python, code, []Case{{Name: "interrupt", Expected: "before"}})

	require.Len(t, results, 1)
	assert.False(t, results[0].Passed)
	assert.Equal(t, "before\n", results[0].Actual)
	require.NotNil(t, results[0].Error)
	assert.Equal(t, "KeyboardInterrupt", *results[0].Error)
	assert.EqualValues(t, 0, wm.Active())
}
