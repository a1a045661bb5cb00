//go:build !windows

package process

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "sqlferry/internal/errors"
)

// groupAlive reports whether any non-zombie process still belongs to the
// process group pgid
func groupAlive(pgid int) bool {
	stats, err := filepath.Glob("/proc/[0-9]*/stat")
	if err != nil || len(stats) == 0 {
		return !errors.Is(syscall.Kill(-pgid, 0), syscall.ESRCH)
	}
	for _, path := range stats {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		// fields after the command name: state ppid pgrp ...
		text := string(data)
		fields := strings.Fields(text[strings.LastIndexByte(text, ')')+1:])
		if len(fields) < 3 || fields[0] == "Z" {
			continue
		}
		if group, err := strconv.Atoi(fields[2]); err == nil && group == pgid {
			return true
		}
	}
	return false
}

func TestRunTimeoutLeavesNoProcessRunning(t *testing.T) {
	requireShell(t)

	result, err := NewExecutor(nil).Run(context.Background(), Command{
		Path:    "sh",
		Args:    []string{"-c", "echo $$; sleep 10 & sleep 10; echo finished"},
		Timeout: time.Second,
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindTimeout), "got %v", err)
	assert.Equal(t, StateTimedOut, result.State)

	pid, convErr := strconv.Atoi(strings.TrimSpace(string(result.Stdout)))
	require.NoError(t, convErr, "stdout: %q", result.Stdout)

	assert.Eventually(t, func() bool { return !groupAlive(pid) }, 3*time.Second, 50*time.Millisecond,
		"process group %d still has running members", pid)
}
