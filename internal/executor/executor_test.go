package executor

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExecutor(maxConcurrent, maxOutputBytes int) *Executor {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New([]string{"/bin/sh", "-c"}, maxConcurrent, maxOutputBytes, logger)
}

func TestRunEchoHello(t *testing.T) {
	exec := newTestExecutor(1, 65536)

	result := exec.Run(context.Background(), "conv-1", "echo hello", time.Second)

	assert.Equal(t, 0, result.ExitCode)
	assert.Contains(t, result.Stdout, "hello")
	assert.Empty(t, result.Stderr)
	assert.False(t, result.Truncated)
	assert.Greater(t, result.Duration, time.Duration(0))
}

func TestRunNonZeroExit(t *testing.T) {
	exec := newTestExecutor(1, 65536)

	result := exec.Run(context.Background(), "conv-1", "echo oops >&2; exit 3", time.Second)

	assert.Equal(t, 3, result.ExitCode)
	assert.Contains(t, result.Stderr, "oops")
}

func TestRunTimeout(t *testing.T) {
	exec := newTestExecutor(1, 65536)

	start := time.Now()
	result := exec.Run(context.Background(), "conv-1", "sleep 10", 200*time.Millisecond)
	elapsed := time.Since(start)

	assert.Equal(t, ExitTimedOut, result.ExitCode)
	assert.True(t, result.TimedOut())
	// Bounded margin above the timeout: the process must not linger
	assert.Less(t, elapsed, 2*time.Second)
}

func TestRunTimeoutKillsPipelineChildren(t *testing.T) {
	exec := newTestExecutor(1, 65536)

	// Pipeline children get their own output pipe write ends; if only
	// the shell dies, they keep the pipes open and Wait stalls for the
	// full sleep duration.
	start := time.Now()
	result := exec.Run(context.Background(), "conv-1", "sleep 3 | sleep 3", 200*time.Millisecond)
	elapsed := time.Since(start)

	assert.Equal(t, ExitTimedOut, result.ExitCode)
	assert.Less(t, elapsed, time.Second)
}

func TestCancelKillsPipelineChildren(t *testing.T) {
	exec := newTestExecutor(1, 65536)

	done := make(chan Result, 1)
	go func() {
		done <- exec.Run(context.Background(), "conv-1", "sleep 5 | sleep 5", 10*time.Second)
	}()

	require.Eventually(t, func() bool {
		return exec.Cancel("conv-1")
	}, 2*time.Second, 10*time.Millisecond)

	select {
	case result := <-done:
		assert.Equal(t, ExitCancelled, result.ExitCode)
		assert.True(t, result.Cancelled())
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestRunLaunchFailed(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	exec := New([]string{"/nonexistent-shell", "-c"}, 1, 65536, logger)

	result := exec.Run(context.Background(), "conv-1", "echo hi", time.Second)

	assert.Equal(t, ExitLaunchFailed, result.ExitCode)
	assert.True(t, result.LaunchFailed())
	assert.NotEmpty(t, result.Stderr)
}

func TestRunTruncatesOutput(t *testing.T) {
	exec := newTestExecutor(1, 64)

	result := exec.Run(context.Background(), "conv-1", "seq 1 10000", 5*time.Second)

	assert.Equal(t, 0, result.ExitCode)
	assert.True(t, result.Truncated)
	assert.LessOrEqual(t, len(result.Stdout), 64)
}

func TestRunQueuesBeyondConcurrencyLimit(t *testing.T) {
	exec := newTestExecutor(1, 65536)

	const n = 3
	var wg sync.WaitGroup
	results := make([]Result, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = exec.Run(context.Background(), "", "sleep 0.1; echo done", 5*time.Second)
		}(i)
	}
	wg.Wait()

	// All three are serviced, never dropped or failed from contention
	for i, r := range results {
		assert.Equal(t, 0, r.ExitCode, "request %d", i)
		assert.Contains(t, r.Stdout, "done", "request %d", i)
	}
}

func TestCancelStopsInFlightCommand(t *testing.T) {
	exec := newTestExecutor(2, 65536)

	done := make(chan Result, 1)
	go func() {
		done <- exec.Run(context.Background(), "conv-1", "sleep 10", time.Minute)
	}()

	// Wait for the command to register as in flight
	require.Eventually(t, func() bool {
		exec.mu.Lock()
		defer exec.mu.Unlock()
		_, ok := exec.inflight["conv-1"]
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	assert.True(t, exec.Cancel("conv-1"))

	select {
	case result := <-done:
		assert.Equal(t, ExitCancelled, result.ExitCode)
		assert.True(t, result.Cancelled())
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled command did not return")
	}
}

func TestCancelUnknownOwner(t *testing.T) {
	exec := newTestExecutor(1, 65536)
	assert.False(t, exec.Cancel("nobody"))
}

func TestCancelIsScopedToOwner(t *testing.T) {
	exec := newTestExecutor(2, 65536)

	done := make(chan Result, 1)
	go func() {
		done <- exec.Run(context.Background(), "conv-other", "sleep 0.3; echo survived", 5*time.Second)
	}()

	time.Sleep(50 * time.Millisecond)
	// Cancelling a different conversation must not touch this one
	exec.Cancel("conv-1")

	result := <-done
	assert.Equal(t, 0, result.ExitCode)
	assert.Contains(t, result.Stdout, "survived")
}
