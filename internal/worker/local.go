package worker

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kinegraphx/orchestrator/internal/channel"
)

// killWait bounds the wait for a killed process to be reaped.
const killWait = 5 * time.Second

// LocalWorker runs a native executable as a child process of the
// controller. The child's stdout is forwarded to the channel line by line.
//
// Stopping is cooperative first: the worker writes the sentinel file the
// child polls for (or sends SIGTERM if none is configured), waits for the
// grace period and kills the process group if the child is still alive.
type LocalWorker struct {
	name   string
	config LocalConfig
	ch     *channel.Channel

	mu      sync.Mutex
	process *proc
	cancel  context.CancelFunc
	done    chan struct{}

	log *zap.Logger
}

func NewLocalWorker(params Params, config LocalConfig) *LocalWorker {
	return &LocalWorker{
		name:   params.Name,
		config: config,
		ch:     params.channel(),
		log:    params.logger(KindLocal),
	}
}

var _ Worker = (*LocalWorker)(nil)

func (w *LocalWorker) Name() string {
	return w.name
}

func (w *LocalWorker) Kind() Kind {
	return KindLocal
}

func (w *LocalWorker) Channel() *channel.Channel {
	return w.ch
}

// Start spawns the child process.
func (w *LocalWorker) Start(ctx context.Context) error {
	config := w.config.Start

	w.log.With(
		zap.String("command", config.Cmd),
		zap.Strings("args", config.Args),
		zap.String("cwd", config.Cwd),
	).Debug("starting worker process")

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.process != nil {
		return ErrWorkerAlreadyStarted
	}

	// exit early if the context is already cancelled
	if ctx.Err() != nil {
		return fmt.Errorf("failed to start process: %w", ctx.Err())
	}

	// a sentinel left behind by a crashed run would stop the child at once
	if w.removeSentinel() {
		w.ch.Put("stale exit flag removed")
	}

	stdout := channel.NewLineWriter(w.ch)

	process, err := startProc(config, stdout, w.log)
	if err != nil {
		w.log.Error("failed to start process", zap.Error(err))
		w.ch.Putf("failed to start %s process: %v", w.name, err)
		return fmt.Errorf("failed to start process: %w", err)
	}

	// the execution context outlives the request that started it
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	w.process = process
	w.cancel = cancel
	w.done = make(chan struct{})

	w.ch.Putf("%s process started (pid %d)", w.name, process.pid)

	go w.run(runCtx, process, stdout, w.done)

	return nil
}

func (w *LocalWorker) run(
	ctx context.Context,
	process *proc,
	stdout *channel.LineWriter,
	done chan struct{},
) {
	defer close(done)

	defer func() {
		if r := recover(); r != nil {
			w.log.Error("worker panicked", zap.Any("panic", r))
			w.ch.Putf("raised exception in %s worker: %v", w.name, r)
		}

		if w.removeSentinel() {
			w.ch.Put("exit flag reset")
		}
	}()

	select {
	case <-process.Done():
		// the child ended on its own
		stdout.Flush()
		w.reportExit(process.ExitEvent(), false)
		return
	case <-ctx.Done():
	}

	w.ch.Putf("about to stop the %s worker", w.name)

	if err := w.writeSentinel(); err != nil {
		w.log.Warn("failed to write sentinel", zap.Error(err))
		w.ch.Putf("failed to write exit flag: %v", err)
		process.Terminate()
	} else if w.config.Sentinel == "" {
		process.Terminate()
	}

	<-process.Done()

	stdout.Flush()
	w.reportExit(process.ExitEvent(), true)
}

func (w *LocalWorker) reportExit(event ExitEvent, requested bool) {
	w.log.Info("process exited",
		zap.Intp("code", event.Code),
		zap.Intp("signal", event.Signal),
		zap.Bool("requested", requested),
	)

	if requested {
		w.ch.Putf("%s subprocess terminated (%s)", w.name, event)
	} else {
		w.ch.Putf("%s process %s", w.name, event)
	}

	if stderr := strings.TrimSpace(event.Stderr); stderr != "" {
		w.ch.Put(stderr)
	}
}

// Terminate stops the child, forcing it after the grace period. Cancelling
// ctx cuts the grace period short.
func (w *LocalWorker) Terminate(ctx context.Context) (Outcome, error) {
	w.mu.Lock()
	process := w.process
	cancel := w.cancel
	done := w.done
	w.mu.Unlock()

	if process == nil {
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

	w.log.Warn("grace period expired, killing process", zap.Duration("grace", w.config.Grace))

	err := process.Kill(killWait)
	w.ch.Putf("%s forcefully terminated.", w.name)

	if err != nil {
		return OutcomeForced, err
	}

	// let the execution context report the exit and clean up
	select {
	case <-done:
	case <-time.After(killWait):
		return OutcomeForced, ErrKillTimeout
	}

	return OutcomeForced, nil
}

// IsAlive reports whether the child process is running.
func (w *LocalWorker) IsAlive() bool {
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

func (w *LocalWorker) sentinelPath() string {
	path := w.config.Sentinel
	if path == "" || filepath.IsAbs(path) {
		return path
	}

	return filepath.Join(w.config.Start.Cwd, path)
}

func (w *LocalWorker) writeSentinel() error {
	path := w.sentinelPath()
	if path == "" {
		return nil
	}

	return os.WriteFile(path, []byte("EXIT"), 0o644)
}

// removeSentinel removes the sentinel file and reports whether it existed.
func (w *LocalWorker) removeSentinel() bool {
	path := w.sentinelPath()
	if path == "" {
		return false
	}

	err := os.Remove(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		w.log.Warn("failed to remove sentinel", zap.Error(err))
	}

	return err == nil
}
