//go:build !windows

package worker_test

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kinegraphx/orchestrator/internal/channel"
	"github.com/kinegraphx/orchestrator/internal/remote"
	"github.com/kinegraphx/orchestrator/internal/remote/remotetest"
	"github.com/kinegraphx/orchestrator/internal/worker"
)

func remoteConfig(address string) remote.Config {
	return remote.Config{
		Address:  address,
		Port:     22,
		Password: remotetest.Password,
		Timeout:  2 * time.Second,
		Pty:      true,
		Term:     "xterm",
		Interrupt: remote.InterruptConfig{
			Launch:  remote.LaunchBackground,
			Pattern: "python3",
			Signal:  "INT",
			Timeout: 5 * time.Second,
		},
	}
}

func newRemoteWorker(t *testing.T, config remote.Config, command string, grace time.Duration) *worker.RemoteWorker {
	t.Helper()

	session, err := remote.NewSession(config, zap.NewNop())
	require.NoError(t, err)

	return worker.NewRemoteWorker(worker.Params{
		Name:       "server",
		Generation: "test",
		Channel:    channel.New(),
		Log:        zap.NewNop(),
	}, worker.RemoteConfig{
		Command: command,
		Grace:   grace,
	}, session)
}

func TestRemoteWorker_StartTerminate(t *testing.T) {
	srv := remotetest.NewServer(t)

	w := newRemoteWorker(t, remoteConfig(srv.Addr), "echo ready; sleep 30", 8*time.Second)

	require.NoError(t, w.Start(context.Background()))
	assert.True(t, w.IsAlive())

	var lines []string
	require.Eventually(t, func() bool {
		lines = append(lines, w.Channel().Drain()...)
		for _, line := range lines {
			if line == "ready" {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, "connected to tester@127.0.0.1", lines[0])

	outcome, err := w.Terminate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, worker.OutcomeClean, outcome)
	assert.False(t, w.IsAlive())

	lines = w.Channel().Drain()
	assert.Contains(t, lines, "about to stop the server worker")
	assert.Contains(t, lines, "interrupt sent to the remote posix process")
	assert.Equal(t, "disconnected from 127.0.0.1", lines[len(lines)-1])
}

func TestRemoteWorker_Start_ConnectionError(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	w := newRemoteWorker(t, remoteConfig("tester@"+addr), "sleep 30", time.Second)

	err = w.Start(context.Background())
	require.ErrorIs(t, err, remote.ErrConnection)
	assert.False(t, w.IsAlive())

	lines := w.Channel().Drain()
	require.Len(t, lines, 1)
	assert.True(t, strings.HasPrefix(lines[0], "failed to connect to 127.0.0.1"))

	_, err = w.Terminate(context.Background())
	assert.ErrorIs(t, err, worker.ErrWorkerNotStarted)
}

func TestRemoteWorker_Start_FailsIfStarted(t *testing.T) {
	srv := remotetest.NewServer(t)

	w := newRemoteWorker(t, remoteConfig(srv.Addr), "sleep 30", 8*time.Second)

	require.NoError(t, w.Start(context.Background()))
	defer w.Terminate(context.Background())

	assert.ErrorIs(t, w.Start(context.Background()), worker.ErrWorkerAlreadyStarted)
}

func TestRemoteWorker_CommandEnds(t *testing.T) {
	srv := remotetest.NewServer(t)

	w := newRemoteWorker(t, remoteConfig(srv.Addr), "echo hi; exit 2", 8*time.Second)

	require.NoError(t, w.Start(context.Background()))

	require.Eventually(t, func() bool {
		return !w.IsAlive()
	}, 5*time.Second, 10*time.Millisecond)

	lines := w.Channel().Drain()
	assert.Contains(t, lines, "hi")
	assert.Contains(t, lines, "remote command exited with status 2")
	assert.Equal(t, "disconnected from 127.0.0.1", lines[len(lines)-1])

	outcome, err := w.Terminate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, worker.OutcomeClean, outcome)
}

func TestRemoteWorker_Terminate_UnresponsiveRemote(t *testing.T) {
	srv := remotetest.NewServer(t)

	config := remoteConfig(srv.Addr)
	config.Interrupt.Launch = remote.LaunchForeground
	config.Interrupt.Timeout = time.Minute

	w := newRemoteWorker(t, config, "sleep 30", 200*time.Millisecond)

	require.NoError(t, w.Start(context.Background()))

	// the interrupt probe never gets an answer
	srv.Stall()

	start := time.Now()

	outcome, err := w.Terminate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, worker.OutcomeForced, outcome)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.False(t, w.IsAlive())

	lines := w.Channel().Drain()
	assert.Contains(t, lines, "server forcefully terminated.")
	assert.Contains(t, lines, "disconnected from 127.0.0.1")
}

func TestRemoteWorker_RetryAfterFailedStart(t *testing.T) {
	srv := remotetest.NewServer(t)

	config := remoteConfig(srv.Addr)
	config.Password = "wrong"

	w := newRemoteWorker(t, config, "sleep 30", 8*time.Second)
	require.ErrorIs(t, w.Start(context.Background()), remote.ErrConnection)

	w = newRemoteWorker(t, remoteConfig(srv.Addr), "sleep 30", 8*time.Second)
	require.NoError(t, w.Start(context.Background()))

	_, err := w.Terminate(context.Background())
	require.NoError(t, err)
}
