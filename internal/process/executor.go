// Package process runs external dump and load tools with credential isolation,
// a hard wall-clock timeout and polled output collection.
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	apperrors "sqlferry/internal/errors"
	"sqlferry/internal/logging"
)

const (
	// DefaultPollInterval is how often the run loop wakes up to check the process
	DefaultPollInterval = 100 * time.Millisecond
	// DefaultProgressInterval is how often the progress callback fires
	DefaultProgressInterval = time.Second
	// waitDelay bounds how long Wait keeps draining pipes after the process is gone
	waitDelay = 2 * time.Second
)

// State is the lifecycle position of a single invocation
type State int

const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StateCompleted
	StateTimedOut
	StateSpawnFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateTimedOut:
		return "timed_out"
	case StateSpawnFailed:
		return "spawn_failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Command describes one external tool invocation. Credentials belong in Env
// or Stdin, never in Args. Secrets lists literal values that must not show up
// in logs or error messages.
type Command struct {
	Path    string
	Args    []string
	Env     []string
	Stdin   io.Reader
	Secrets []string
	Timeout time.Duration
	Dir     string

	// Stdout, when set, receives standard output instead of the in-memory buffer
	Stdout io.Writer
}

// Result is what a finished invocation produced
type Result struct {
	ExitCode    int
	Stdout      []byte
	Stderr      []byte
	StdoutBytes int64
	StderrBytes int64
	Duration    time.Duration
	State       State
}

// Success reports whether the process completed with exit code zero
func (r *Result) Success() bool {
	return r != nil && r.State == StateCompleted && r.ExitCode == 0
}

// ExitError is returned when the process ran to completion with a non-zero code
type ExitError struct {
	Path   string
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("%s exited with code %d", e.Path, e.Code)
	}
	return fmt.Sprintf("%s exited with code %d: %s", e.Path, e.Code, e.Stderr)
}

// ProgressFunc receives periodic updates while a process runs
type ProgressFunc func(elapsed time.Duration, stdoutBytes, stderrBytes int64)

// Executor runs one command at a time per call; it holds no per-run state and
// can be shared.
type Executor struct {
	PollInterval     time.Duration
	ProgressInterval time.Duration
	Progress         ProgressFunc

	logger *logging.Logger
}

// NewExecutor creates an executor with default intervals
func NewExecutor(logger *logging.Logger) *Executor {
	return &Executor{
		PollInterval:     DefaultPollInterval,
		ProgressInterval: DefaultProgressInterval,
		logger:           logging.OrNop(logger),
	}
}

// outputBuffer collects one stream. exec's copy goroutine writes into it while
// the poll loop reads the byte count.
type outputBuffer struct {
	mu   sync.Mutex
	buf  bytes.Buffer
	sink io.Writer
	n    int64
}

func (b *outputBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var (
		n   int
		err error
	)
	if b.sink != nil {
		n, err = b.sink.Write(p)
	} else {
		n, err = b.buf.Write(p)
	}
	b.n += int64(n)
	return n, err
}

func (b *outputBuffer) Len() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.n
}

func (b *outputBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}

// Run starts the command and blocks until it exits, times out or ctx is done.
// A non-nil Result is returned on every path after the spawn attempt.
func (e *Executor) Run(ctx context.Context, command Command) (*Result, error) {
	result := &Result{State: StateIdle, ExitCode: -1}
	if command.Path == "" {
		return result, apperrors.New(apperrors.KindValidationFailed, "no command path given", nil)
	}

	stdout := &outputBuffer{sink: command.Stdout}
	stderr := &outputBuffer{}

	cmd := exec.Command(command.Path, command.Args...)
	cmd.Dir = command.Dir
	cmd.Stdin = command.Stdin
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = waitDelay
	if len(command.Env) > 0 {
		cmd.Env = append(os.Environ(), command.Env...)
	}
	setProcessGroup(cmd)

	result.State = StateStarting
	start := time.Now()
	if err := cmd.Start(); err != nil {
		result.State = StateSpawnFailed
		result.Duration = time.Since(start)
		spawnErr := e.spawnError(command, err)
		e.log(command, result, spawnErr)
		return result, spawnErr
	}
	result.State = StateRunning

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	poll := e.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	progressEvery := e.ProgressInterval
	if progressEvery <= 0 {
		progressEvery = DefaultProgressInterval
	}

	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	lastProgress := start

	var runErr error
loop:
	for {
		select {
		case waitErr := <-done:
			result.State = StateCompleted
			runErr = e.exitError(command, cmd, stderr, waitErr)
			break loop

		case <-ctx.Done():
			killProcessGroup(cmd)
			<-done
			result.State = StateTimedOut
			runErr = apperrors.Wrap(ctx.Err(), apperrors.KindTimeout,
				fmt.Sprintf("%s interrupted", command.Path))
			break loop

		case now := <-ticker.C:
			elapsed := now.Sub(start)
			if command.Timeout > 0 && elapsed >= command.Timeout {
				killProcessGroup(cmd)
				<-done
				result.State = StateTimedOut
				runErr = apperrors.NewTimeout(
					fmt.Sprintf("%s did not finish within %s", command.Path, command.Timeout),
					command.Timeout).WithContext("command", command.Path)
				break loop
			}
			if e.Progress != nil && now.Sub(lastProgress) >= progressEvery {
				lastProgress = now
				e.Progress(elapsed, stdout.Len(), stderr.Len())
			}
		}
	}

	result.Duration = time.Since(start)
	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}
	result.Stdout = stdout.Bytes()
	result.Stderr = stderr.Bytes()
	result.StdoutBytes = stdout.Len()
	result.StderrBytes = stderr.Len()

	e.log(command, result, runErr)
	return result, runErr
}

func (e *Executor) spawnError(command Command, err error) error {
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
		return apperrors.NewStrategyUnavailable(command.Path, err)
	}
	return apperrors.New(apperrors.KindGeneral, fmt.Sprintf("failed to start %s", command.Path), err).
		WithContext("command", command.Path)
}

func (e *Executor) exitError(command Command, cmd *exec.Cmd, stderr *outputBuffer, waitErr error) error {
	if waitErr == nil {
		return nil
	}

	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return &ExitError{
			Path:   command.Path,
			Code:   exitErr.ExitCode(),
			Stderr: logging.RedactSecrets(logging.Preview(string(stderr.Bytes()), 500), command.Secrets...),
		}
	}
	if errors.Is(waitErr, exec.ErrWaitDelay) && cmd.ProcessState != nil && cmd.ProcessState.Success() {
		// a child kept a pipe open after the tool itself exited cleanly
		return nil
	}
	return apperrors.New(apperrors.KindGeneral, fmt.Sprintf("waiting for %s failed", command.Path), waitErr)
}

func (e *Executor) log(command Command, result *Result, err error) {
	args := make([]string, len(command.Args))
	for i, arg := range command.Args {
		args[i] = logging.RedactSecrets(arg, command.Secrets...)
	}
	env := make([]string, len(command.Env))
	for i, kv := range command.Env {
		env[i] = logging.RedactSecrets(kv, command.Secrets...)
	}
	if err != nil {
		err = errors.New(logging.RedactSecrets(err.Error(), command.Secrets...))
	}
	e.logger.LogProcessExecution(command.Path, args, env, result.ExitCode, result.Duration, err)
}
