package process

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "sqlferry/internal/errors"
	"sqlferry/internal/logging"
)

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("POSIX shell required")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not found")
	}
}

func TestRunCapturesOutput(t *testing.T) {
	requireShell(t)

	result, err := NewExecutor(nil).Run(context.Background(), Command{
		Path: "sh",
		Args: []string{"-c", "echo out; echo err >&2"},
	})
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, result.State)
	assert.Equal(t, 0, result.ExitCode)
	assert.True(t, result.Success())
	assert.Equal(t, "out\n", string(result.Stdout))
	assert.Equal(t, "err\n", string(result.Stderr))
	assert.Equal(t, int64(4), result.StdoutBytes)
}

func TestRunNonZeroExit(t *testing.T) {
	requireShell(t)

	result, err := NewExecutor(nil).Run(context.Background(), Command{
		Path: "sh",
		Args: []string{"-c", "echo broken >&2; exit 3"},
	})
	require.Error(t, err)

	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 3, exitErr.Code)
	assert.Equal(t, "broken", exitErr.Stderr)
	assert.Equal(t, 3, result.ExitCode)
	assert.Equal(t, StateCompleted, result.State)
	assert.False(t, result.Success())
}

func TestRunTimeoutKillsProcess(t *testing.T) {
	requireShell(t)

	start := time.Now()
	result, err := NewExecutor(nil).Run(context.Background(), Command{
		Path:    "sh",
		Args:    []string{"-c", "sleep 10; echo finished"},
		Timeout: time.Second,
	})
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindTimeout), "got %v", err)
	assert.Equal(t, StateTimedOut, result.State)
	assert.Less(t, elapsed, 4*time.Second)
	assert.NotContains(t, string(result.Stdout), "finished")
}

func TestRunContextCancel(t *testing.T) {
	requireShell(t)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	result, err := NewExecutor(nil).Run(ctx, Command{Path: "sleep", Args: []string{"10"}})
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindTimeout))
	assert.Equal(t, StateTimedOut, result.State)
	assert.Less(t, result.Duration, 4*time.Second)
}

func TestRunSpawnFailed(t *testing.T) {
	result, err := NewExecutor(nil).Run(context.Background(), Command{Path: "/nonexistent/sqlferry-tool"})
	require.Error(t, err)
	assert.Equal(t, StateSpawnFailed, result.State)
	assert.True(t, apperrors.IsKind(err, apperrors.KindStrategyUnavailable))

	_, err = NewExecutor(nil).Run(context.Background(), Command{})
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidationFailed))
}

func TestRunStdinAndEnv(t *testing.T) {
	requireShell(t)

	result, err := NewExecutor(nil).Run(context.Background(), Command{
		Path:  "sh",
		Args:  []string{"-c", `read line; echo "$line-$SQLFERRY_TEST_VALUE"`},
		Env:   []string{"SQLFERRY_TEST_VALUE=env"},
		Stdin: strings.NewReader("stdin\n"),
	})
	require.NoError(t, err)
	assert.Equal(t, "stdin-env\n", string(result.Stdout))
}

func TestRunStdoutSink(t *testing.T) {
	requireShell(t)

	var sink bytes.Buffer
	result, err := NewExecutor(nil).Run(context.Background(), Command{
		Path:   "sh",
		Args:   []string{"-c", "printf 'CREATE TABLE t (id int);'"},
		Stdout: &sink,
	})
	require.NoError(t, err)
	assert.Equal(t, "CREATE TABLE t (id int);", sink.String())
	assert.Empty(t, result.Stdout)
	assert.Equal(t, int64(sink.Len()), result.StdoutBytes)
}

func TestRunReportsProgress(t *testing.T) {
	requireShell(t)

	var calls atomic.Int32
	executor := NewExecutor(nil)
	executor.PollInterval = 10 * time.Millisecond
	executor.ProgressInterval = 50 * time.Millisecond
	executor.Progress = func(elapsed time.Duration, stdoutBytes, stderrBytes int64) {
		calls.Add(1)
	}

	_, err := executor.Run(context.Background(), Command{Path: "sh", Args: []string{"-c", "sleep 0.4"}})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, calls.Load(), int32(2))
}

func TestRunNeverLogsSecrets(t *testing.T) {
	requireShell(t)

	var buf bytes.Buffer
	logger, err := logging.NewLogger(logging.Config{Level: logging.LogLevelDebug, Output: &buf, Format: "text"})
	require.NoError(t, err)

	const secret = "hunter2"
	executor := NewExecutor(logger)
	_, runErr := executor.Run(context.Background(), Command{
		Path:    "sh",
		Args:    []string{"-c", `echo "access denied for $MYSQL_PWD" >&2; exit 1`, "--password=" + secret},
		Env:     []string{"MYSQL_PWD=" + secret},
		Secrets: []string{secret},
	})
	require.Error(t, runErr)
	assert.NotContains(t, runErr.Error(), secret)

	_, err = executor.Run(context.Background(), Command{
		Path:    "sh",
		Args:    []string{"-c", "true", "-p" + secret},
		Env:     []string{"PGPASSWORD=" + secret},
		Secrets: []string{secret},
	})
	require.NoError(t, err)

	logs := buf.String()
	assert.Contains(t, logs, "process_execution")
	assert.Contains(t, logs, logging.RedactedMarker)
	assert.NotContains(t, logs, secret)
}

func TestAvailable(t *testing.T) {
	requireShell(t)
	if _, err := exec.LookPath(lookupCommand); err != nil {
		t.Skipf("%s not found", lookupCommand)
	}

	executor := NewExecutor(nil)
	assert.True(t, executor.Available(context.Background(), "sh"))
	assert.False(t, executor.Available(context.Background(), "sqlferry-no-such-binary"))
	assert.False(t, executor.Available(context.Background(), ""))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "timed_out", StateTimedOut.String())
	assert.Equal(t, "spawn_failed", StateSpawnFailed.String())
	assert.Equal(t, "state(42)", State(42).String())
}
