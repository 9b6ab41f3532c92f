//go:build !windows

package worker_test

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kinegraphx/orchestrator/internal/channel"
	"github.com/kinegraphx/orchestrator/internal/worker"
)

func newLocalWorker(script string, mutate func(*worker.LocalConfig)) *worker.LocalWorker {
	config := worker.LocalConfig{
		Start: worker.StartConfig{
			Cmd:  "sh",
			Args: []string{"-c", script},
		},
		Grace: 5 * time.Second,
	}

	if mutate != nil {
		mutate(&config)
	}

	return worker.NewLocalWorker(worker.Params{
		Name:       "client",
		Generation: "test",
		Channel:    channel.New(),
		Log:        zap.NewNop(),
	}, config)
}

var startedLine = regexp.MustCompile(`^client process started \(pid (\d+)\)$`)

func pidFromLines(t *testing.T, lines []string) int {
	t.Helper()

	for _, line := range lines {
		if m := startedLine.FindStringSubmatch(line); m != nil {
			pid, err := strconv.Atoi(m[1])
			require.NoError(t, err)
			return pid
		}
	}

	t.Fatalf("no startup line in %v", lines)
	return 0
}

func TestLocalWorker_Start_ForwardsOutput(t *testing.T) {
	w := newLocalWorker("echo hello; echo world; sleep 30", nil)

	require.NoError(t, w.Start(context.Background()))
	assert.True(t, w.IsAlive())

	var lines []string
	require.Eventually(t, func() bool {
		lines = append(lines, w.Channel().Drain()...)
		return len(lines) >= 3
	}, 5*time.Second, 10*time.Millisecond)

	pid := pidFromLines(t, lines)
	assert.True(t, worker.IsProcessAlive(pid))

	// the startup line may race with the first output line
	var output []string
	for _, line := range lines {
		if !startedLine.MatchString(line) {
			output = append(output, line)
		}
	}
	assert.Equal(t, []string{"hello", "world"}, output)

	outcome, err := w.Terminate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, worker.OutcomeClean, outcome)

	assert.False(t, w.IsAlive())
	assert.False(t, worker.IsProcessAlive(pid))
}

func TestLocalWorker_Start_FailsIfStarted(t *testing.T) {
	w := newLocalWorker("sleep 30", nil)

	require.NoError(t, w.Start(context.Background()))
	defer w.Terminate(context.Background())

	err := w.Start(context.Background())
	assert.ErrorIs(t, err, worker.ErrWorkerAlreadyStarted)
}

func TestLocalWorker_Start_ReturnsErrorIfInvalidCommand(t *testing.T) {
	w := newLocalWorker("", func(c *worker.LocalConfig) {
		c.Start = worker.StartConfig{Cmd: "/does/not/exist"}
	})

	err := w.Start(context.Background())
	assert.Error(t, err)
	assert.False(t, w.IsAlive())

	lines := w.Channel().Drain()
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "failed to start client process")

	_, err = w.Terminate(context.Background())
	assert.ErrorIs(t, err, worker.ErrWorkerNotStarted)
}

func TestLocalWorker_Start_CancelledContext(t *testing.T) {
	w := newLocalWorker("sleep 30", nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := w.Start(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, w.IsAlive())
}

func TestLocalWorker_Start_OutlivesContext(t *testing.T) {
	w := newLocalWorker("sleep 30", nil)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))
	cancel()

	time.Sleep(100 * time.Millisecond)
	assert.True(t, w.IsAlive())

	_, err := w.Terminate(context.Background())
	require.NoError(t, err)
}

func TestLocalWorker_Terminate_SendsTerminationSignal(t *testing.T) {
	w := newLocalWorker("sleep 30", nil)

	require.NoError(t, w.Start(context.Background()))

	outcome, err := w.Terminate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, worker.OutcomeClean, outcome)

	lines := w.Channel().Drain()
	assert.Contains(t, lines, "about to stop the client worker")
	assert.Contains(t, lines, "client subprocess terminated (terminated by signal 15)")
	assert.NotContains(t, lines, "client forcefully terminated.")
}

func TestLocalWorker_Terminate_WritesSentinel(t *testing.T) {
	dir := t.TempDir()

	w := newLocalWorker(
		"while [ ! -f exit_flag.txt ]; do sleep 0.05; done; echo bye",
		func(c *worker.LocalConfig) {
			c.Start.Cwd = dir
			c.Sentinel = "exit_flag.txt"
		},
	)

	require.NoError(t, w.Start(context.Background()))

	outcome, err := w.Terminate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, worker.OutcomeClean, outcome)

	lines := w.Channel().Drain()
	assert.Contains(t, lines, "bye")
	assert.Contains(t, lines, "client subprocess terminated (exited with code 0)")
	assert.Equal(t, "exit flag reset", lines[len(lines)-1])

	assert.NoFileExists(t, filepath.Join(dir, "exit_flag.txt"))
}

func TestLocalWorker_Terminate_ForcesAfterGrace(t *testing.T) {
	dir := t.TempDir()

	// ignores the sentinel
	w := newLocalWorker("sleep 30", func(c *worker.LocalConfig) {
		c.Start.Cwd = dir
		c.Sentinel = "exit_flag.txt"
		c.Grace = 200 * time.Millisecond
	})

	require.NoError(t, w.Start(context.Background()))
	pid := pidFromLines(t, w.Channel().Drain())

	start := time.Now()

	outcome, err := w.Terminate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, worker.OutcomeForced, outcome)
	assert.Less(t, time.Since(start), 3*time.Second)

	lines := w.Channel().Drain()
	assert.Contains(t, lines, "client forcefully terminated.")
	assert.Contains(t, lines, "client subprocess terminated (terminated by signal 9)")
	assert.Contains(t, lines, "exit flag reset")

	assert.False(t, w.IsAlive())
	assert.False(t, worker.IsProcessAlive(pid))
	assert.NoFileExists(t, filepath.Join(dir, "exit_flag.txt"))
}

func TestLocalWorker_Terminate_ContextCutsGraceShort(t *testing.T) {
	w := newLocalWorker("trap '' TERM; echo ready; sleep 30 & wait", func(c *worker.LocalConfig) {
		c.Grace = time.Minute
	})

	require.NoError(t, w.Start(context.Background()))

	// the trap must be installed before the termination signal arrives
	var seen []string
	require.Eventually(t, func() bool {
		seen = append(seen, w.Channel().Drain()...)
		return slices.Contains(seen, "ready")
	}, 5*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	outcome, err := w.Terminate(ctx)
	require.NoError(t, err)
	assert.Equal(t, worker.OutcomeForced, outcome)
}

func TestLocalWorker_StaleSentinelRemoved(t *testing.T) {
	dir := t.TempDir()
	sentinel := filepath.Join(dir, "exit_flag.txt")

	require.NoError(t, os.WriteFile(sentinel, []byte("EXIT"), 0o644))

	w := newLocalWorker("sleep 30", func(c *worker.LocalConfig) {
		c.Start.Cwd = dir
		c.Sentinel = "exit_flag.txt"
		c.Grace = 100 * time.Millisecond
	})

	require.NoError(t, w.Start(context.Background()))
	defer w.Terminate(context.Background())

	lines := w.Channel().Drain()
	require.NotEmpty(t, lines)
	assert.Equal(t, "stale exit flag removed", lines[0])
	assert.NoFileExists(t, sentinel)
}

func TestLocalWorker_ProcessExit_Reported(t *testing.T) {
	w := newLocalWorker("echo oops >&2; exit 3", nil)

	require.NoError(t, w.Start(context.Background()))

	require.Eventually(t, func() bool {
		return !w.IsAlive()
	}, 5*time.Second, 10*time.Millisecond)

	lines := w.Channel().Drain()
	assert.Contains(t, lines, "client process exited with code 3")
	assert.Contains(t, lines, "oops")

	// terminating a dead worker is clean
	outcome, err := w.Terminate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, worker.OutcomeClean, outcome)
}

func TestLocalWorker_Env(t *testing.T) {
	w := newLocalWorker(`echo "$GREETING"`, func(c *worker.LocalConfig) {
		c.Start.Env = map[string]string{"GREETING": "hi there"}
	})

	require.NoError(t, w.Start(context.Background()))

	require.Eventually(t, func() bool {
		return !w.IsAlive()
	}, 5*time.Second, 10*time.Millisecond)

	assert.Contains(t, w.Channel().Drain(), "hi there")
}
