// Package executor runs opaque shell command strings as subprocesses
// with captured output, per-invocation timeouts, and a global
// concurrency bound.
package executor

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Sentinel exit codes. Real shell exit codes are 0-255, so negative
// values never collide with a process's own status.
const (
	// ExitTimedOut marks a command that was forcibly terminated after
	// its timeout elapsed.
	ExitTimedOut = -1
	// ExitLaunchFailed marks a command the host shell failed to even
	// start; the underlying error is carried in Result.Stderr.
	ExitLaunchFailed = -2
	// ExitCancelled marks a command terminated by an explicit operator
	// stop instruction.
	ExitCancelled = -3
)

// Result captures one command invocation. It is immutable once
// returned and is never persisted.
type Result struct {
	Command   string
	ExitCode  int
	Stdout    string
	Stderr    string
	Duration  time.Duration
	Truncated bool
}

// TimedOut reports whether the command hit its timeout
func (r Result) TimedOut() bool { return r.ExitCode == ExitTimedOut }

// LaunchFailed reports whether the command never started
func (r Result) LaunchFailed() bool { return r.ExitCode == ExitLaunchFailed }

// Cancelled reports whether the command was stopped by the operator
func (r Result) Cancelled() bool { return r.ExitCode == ExitCancelled }

// Executor runs commands through the host shell. At most maxConcurrent
// commands run at once; excess invocations block in arrival order on
// the slot channel rather than being rejected.
type Executor struct {
	shell          []string
	maxOutputBytes int
	slots          chan struct{}
	logger         *slog.Logger

	mu       sync.Mutex
	inflight map[string]context.CancelFunc // by owner id
}

// New creates an executor. shell is the command prefix the opaque
// command string is appended to, e.g. ["/bin/sh", "-c"].
func New(shell []string, maxConcurrent, maxOutputBytes int, logger *slog.Logger) *Executor {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Executor{
		shell:          shell,
		maxOutputBytes: maxOutputBytes,
		slots:          make(chan struct{}, maxConcurrent),
		logger:         logger,
		inflight:       make(map[string]context.CancelFunc),
	}
}

// Run executes command through the host shell and blocks until it
// finishes, times out, or is cancelled. ownerID scopes explicit
// cancellation (see Cancel); callers serialize invocations per owner,
// so at most one command is in flight per owner at a time.
func (e *Executor) Run(ctx context.Context, ownerID, command string, timeout time.Duration) Result {
	start := time.Now()

	// FIFO admission: blocked senders are woken in arrival order
	select {
	case e.slots <- struct{}{}:
	case <-ctx.Done():
		return Result{
			Command:  command,
			ExitCode: ExitCancelled,
			Stderr:   ctx.Err().Error(),
			Duration: time.Since(start),
		}
	}
	defer func() { <-e.slots }()

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	if ownerID != "" {
		e.mu.Lock()
		e.inflight[ownerID] = stop
		e.mu.Unlock()
		defer func() {
			e.mu.Lock()
			delete(e.inflight, ownerID)
			e.mu.Unlock()
		}()
	}

	deadlineCtx, cancel := context.WithTimeout(runCtx, timeout)
	defer cancel()

	args := append(append([]string{}, e.shell[1:]...), command)
	cmd := exec.CommandContext(deadlineCtx, e.shell[0], args...)

	// The shell runs in its own process group and termination is sent
	// to the whole group. Killing only the shell leaves pipeline
	// children alive holding the output pipes, which stalls Wait far
	// past the timeout.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		if errors.Is(err, syscall.ESRCH) {
			return os.ErrProcessDone
		}
		return err
	}
	// Backstop for processes that left the group (setsid) and still
	// hold the pipes open.
	cmd.WaitDelay = 5 * time.Second

	stdout := newCappedBuffer(e.maxOutputBytes)
	stderr := newCappedBuffer(e.maxOutputBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	e.logger.Info("running command", "owner", ownerID, "command", command, "timeout", timeout)

	if err := cmd.Start(); err != nil {
		e.logger.Warn("command failed to launch", "owner", ownerID, "error", err)
		return Result{
			Command:  command,
			ExitCode: ExitLaunchFailed,
			Stderr:   err.Error(),
			Duration: time.Since(start),
		}
	}

	waitErr := cmd.Wait()

	result := Result{
		Command:   command,
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		Duration:  time.Since(start),
		Truncated: stdout.Truncated() || stderr.Truncated(),
	}

	switch {
	case errors.Is(deadlineCtx.Err(), context.DeadlineExceeded):
		result.ExitCode = ExitTimedOut
	case runCtx.Err() != nil:
		result.ExitCode = ExitCancelled
	case waitErr == nil:
		result.ExitCode = 0
	default:
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			// Wait failed for a non-exit reason (I/O error on the pipes)
			result.ExitCode = ExitLaunchFailed
			result.Stderr = waitErr.Error()
		}
	}

	e.logger.Info("command finished",
		"owner", ownerID,
		"exit_code", result.ExitCode,
		"duration", result.Duration,
		"truncated", result.Truncated)

	return result
}

// Cancel signals termination to the owner's in-flight command, if any.
// Returns true when a running command was signalled.
func (e *Executor) Cancel(ownerID string) bool {
	e.mu.Lock()
	stop, ok := e.inflight[ownerID]
	e.mu.Unlock()

	if !ok {
		return false
	}
	e.logger.Info("cancelling command", "owner", ownerID)
	stop()
	return true
}
