//go:build unix

package runner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/sakif/code-runner/internal/apperror"
)

func newTestRunner(t *testing.T, maxOutput int) *LocalRunner {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	return NewLocal(slog.New(slog.NewTextHandler(io.Discard, nil)), maxOutput)
}

func sh(script string, timeout time.Duration) Command {
	return Command{Path: "sh", Args: []string{"-c", script}, Timeout: timeout}
}

func TestRun_CapturesMergedOutput(t *testing.T) {
	r := newTestRunner(t, 0)

	res, err := r.Run(context.Background(), sh("echo out; echo err 1>&2; exit 3", 5*time.Second))
	require.NoError(t, err)

	assert.Equal(t, 3, res.ExitCode)
	assert.False(t, res.TimedOut)
	assert.Contains(t, res.Output, "out\n")
	assert.Contains(t, res.Output, "err\n")
}

func TestRun_FeedsStdin(t *testing.T) {
	r := newTestRunner(t, 0)

	cmd := sh("read line; echo got:$line", 5*time.Second)
	cmd.Stdin = "hello\n"
	res, err := r.Run(context.Background(), cmd)
	require.NoError(t, err)
	assert.Equal(t, "got:hello\n", res.Output)
}

func TestRun_EmptyStdinIsEOF(t *testing.T) {
	r := newTestRunner(t, 0)

	// Without an explicit stdin the child would block on the server's terminal.
	res, err := r.Run(context.Background(), sh("cat; echo done", 5*time.Second))
	require.NoError(t, err)
	assert.Equal(t, "done\n", res.Output)
}

func TestRun_TimeoutKillsProcessTree(t *testing.T) {
	r := newTestRunner(t, 0)

	// The grandchild prints its pid, then both sleep far past the bound.
	script := "sleep 30 & echo $!; echo partial; wait"
	start := time.Now()
	res, err := r.Run(context.Background(), sh(script, 500*time.Millisecond))
	elapsed := time.Since(start)
	require.NoError(t, err)

	assert.True(t, res.TimedOut)
	assert.Less(t, elapsed, 500*time.Millisecond+3*time.Second)
	assert.Contains(t, res.Output, "partial")

	pid, convErr := strconv.Atoi(strings.SplitN(res.Output, "\n", 2)[0])
	require.NoError(t, convErr)
	assert.Eventually(t, func() bool {
		return errors.Is(unix.Kill(pid, 0), unix.ESRCH)
	}, 2*time.Second, 20*time.Millisecond, "grandchild %d still alive", pid)
	assert.Equal(t, 0, r.Live())
}

func TestRun_BackgroundChildKilledAfterNormalExit(t *testing.T) {
	r := newTestRunner(t, 0)

	// The parent exits at once, leaving a sleeper that inherited stdout.
	res, err := r.Run(context.Background(), sh("sleep 30 & echo $!", 5*time.Second))
	require.NoError(t, err)
	assert.False(t, res.TimedOut)

	pid, convErr := strconv.Atoi(strings.TrimSpace(res.Output))
	require.NoError(t, convErr)
	assert.Eventually(t, func() bool {
		return errors.Is(unix.Kill(pid, 0), unix.ESRCH)
	}, 2*time.Second, 20*time.Millisecond)
}

func TestRun_MissingToolchain(t *testing.T) {
	r := newTestRunner(t, 0)

	_, err := r.Run(context.Background(), Command{Path: "definitely-not-a-compiler-xyz"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperror.ErrToolchainMissing))
}

func TestRun_OutputCap(t *testing.T) {
	r := newTestRunner(t, 16)

	res, err := r.Run(context.Background(), sh("printf '%0100d' 0", 5*time.Second))
	require.NoError(t, err)
	assert.True(t, res.Truncated)
	assert.True(t, strings.HasSuffix(res.Output, TruncationMarker))
	assert.Len(t, strings.TrimSuffix(res.Output, TruncationMarker), 16)
}

func TestRun_CallerCancellationIsAnError(t *testing.T) {
	r := newTestRunner(t, 0)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()
	res, err := r.Run(ctx, sh("sleep 30", 10*time.Second))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, res.TimedOut)
}

func TestShutdown_KillsRunningProcesses(t *testing.T) {
	r := newTestRunner(t, 0)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = r.Run(context.Background(), sh("sleep 30", 30*time.Second))
	}()

	require.Eventually(t, func() bool { return r.Live() == 1 }, 2*time.Second, 10*time.Millisecond)
	r.Shutdown()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Shutdown")
	}
	assert.Equal(t, 0, r.Live())
}
