package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kinegraphx/orchestrator/internal/channel"
	"github.com/kinegraphx/orchestrator/internal/remote"
)

// interruptWait bounds the wait for the remote command to end after the
// interrupt was sent, before the session is closed anyway.
const interruptWait = 2 * time.Second

// RemoteWorker drives a long-running command on a remote host through its
// own session. The remote output is forwarded to the channel by the
// session.
type RemoteWorker struct {
	name    string
	config  RemoteConfig
	session *remote.Session
	ch      *channel.Channel

	mu     sync.Mutex
	cancel context.CancelFunc
	abort  context.CancelFunc
	done   chan struct{}

	log *zap.Logger
}

func NewRemoteWorker(params Params, config RemoteConfig, session *remote.Session) *RemoteWorker {
	return &RemoteWorker{
		name:    params.Name,
		config:  config,
		session: session,
		ch:      params.channel(),
		log:     params.logger(KindRemote),
	}
}

var _ Worker = (*RemoteWorker)(nil)

func (w *RemoteWorker) Name() string {
	return w.name
}

func (w *RemoteWorker) Kind() Kind {
	return KindRemote
}

func (w *RemoteWorker) Channel() *channel.Channel {
	return w.ch
}

// Start connects to the remote host and launches the command. Connection
// failures are returned as errors wrapping remote.ErrConnection, and no
// connection is left open on failure.
func (w *RemoteWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.done != nil {
		return ErrWorkerAlreadyStarted
	}

	if ctx.Err() != nil {
		return fmt.Errorf("failed to start remote command: %w", ctx.Err())
	}

	w.log.Debug("starting remote worker", zap.String("command", w.config.Command))

	if err := w.session.Connect(ctx, w.ch); err != nil {
		w.log.Error("failed to connect", zap.Error(err))
		return err
	}

	cmd, err := w.session.RunCommand(ctx, w.config.Command, w.ch)
	if err != nil {
		w.session.Disconnect(w.ch)
		return err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	abortCtx, abort := context.WithCancel(context.WithoutCancel(ctx))

	w.cancel = cancel
	w.abort = abort
	w.done = make(chan struct{})

	go w.run(runCtx, abortCtx, cmd, w.done)

	return nil
}

func (w *RemoteWorker) run(
	ctx context.Context,
	abortCtx context.Context,
	cmd *remote.Command,
	done chan struct{},
) {
	defer close(done)

	defer func() {
		if r := recover(); r != nil {
			w.log.Error("worker panicked", zap.Any("panic", r))
			w.ch.Putf("raised exception in %s worker: %v", w.name, r)
			w.session.Disconnect(w.ch)
		}
	}()

	select {
	case <-cmd.Done():
		// the remote command ended on its own or the connection dropped
		status, err := cmd.ExitStatus()
		w.log.Warn("remote command ended", zap.Int("status", status), zap.Error(err))
		w.session.Disconnect(w.ch)
		return
	case <-ctx.Done():
	}

	w.ch.Putf("about to stop the %s worker", w.name)

	if err := w.session.SendInterrupt(abortCtx, w.ch); err != nil {
		w.log.Warn("interrupt failed", zap.Error(err))
	}

	select {
	case <-cmd.Done():
	case <-abortCtx.Done():
	case <-time.After(interruptWait):
		w.log.Warn("remote command still running after interrupt")
	}

	w.session.Disconnect(w.ch)
}

// Terminate interrupts the remote command and disconnects. If this takes
// longer than the grace period the connection is dropped, which ends the
// remote command unless it was detached from the session.
func (w *RemoteWorker) Terminate(ctx context.Context) (Outcome, error) {
	w.mu.Lock()
	cancel := w.cancel
	abort := w.abort
	done := w.done
	w.mu.Unlock()

	if done == nil {
		return OutcomeClean, ErrWorkerNotStarted
	}

	cancel()

	timer := time.NewTimer(w.config.Grace)
	defer timer.Stop()

	select {
	case <-done:
		return OutcomeClean, nil
	case <-timer.C:
	case <-ctx.Done():
	}

	w.log.Warn("grace period expired, dropping connection", zap.Duration("grace", w.config.Grace))

	abort()
	w.session.Disconnect(w.ch)
	w.ch.Putf("%s forcefully terminated.", w.name)

	select {
	case <-done:
	case <-time.After(killWait):
		return OutcomeForced, ErrKillTimeout
	}

	return OutcomeForced, nil
}

// IsAlive reports whether the remote command is running.
func (w *RemoteWorker) IsAlive() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.done == nil {
		return false
	}

	select {
	case <-w.done:
		return false
	default:
		return true
	}
}
