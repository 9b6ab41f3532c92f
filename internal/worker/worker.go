package worker

import (
	"context"
	"errors"
	"os/exec"
	"syscall"

	"go.uber.org/zap"

	"github.com/kinegraphx/orchestrator/internal/channel"
)

// Worker is a managed unit of execution. A worker instance runs at most
// once: after Terminate it is discarded and replaced by a fresh instance.
type Worker interface {
	Name() string
	Kind() Kind

	// Start begins execution and returns without waiting for it to end.
	// Spawn and connection failures are returned, leaving the worker
	// not started.
	Start(context.Context) error

	// Terminate asks the execution context to wind down, waits for the
	// worker's grace period and forces termination if it did not end in
	// time. It never waits indefinitely for a remote host.
	Terminate(context.Context) (Outcome, error)

	// IsAlive reports whether the execution context is still running.
	IsAlive() bool

	// Channel returns the channel the worker reports to.
	Channel() *channel.Channel
}

type Params struct {
	// Name is the unique name of the worker
	Name string

	// Generation identifies this instance among all instances created
	// for the same name
	Generation string

	// Channel receives the lines the worker reports
	Channel *channel.Channel

	Log *zap.Logger
}

func (p Params) logger(kind Kind) *zap.Logger {
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}

	return log.Named("worker").With(
		zap.String("worker", p.Name),
		zap.String("kind", string(kind)),
		zap.String("generation", p.Generation),
	)
}

func (p Params) channel() *channel.Channel {
	if p.Channel == nil {
		return channel.New()
	}

	return p.Channel
}

// MARK: - Helpers

func getExitEvent(err error, stderr string) ExitEvent {
	var cell int
	var exitStatus *int
	var signo *int

	var exitError *exec.ExitError

	if err == nil {
		// the process exited successfully, set the exit code to 0
		exitStatus = &cell
	} else if errors.As(err, &exitError) {
		// the process exited with an error
		if status, ok := exitError.Sys().(syscall.WaitStatus); ok {
			if code := status.ExitStatus(); code >= 0 {
				// the process exited with an exit code
				cell = code
				exitStatus = &cell
			} else {
				// the process was terminated by a signal
				cell = int(status.Signal())
				signo = &cell
			}
		}
	}

	if signo == nil && exitStatus == nil {
		// could not determine the exit status or signal,
		// set exit status to 1
		cell = 1
		exitStatus = &cell
	}

	return ExitEvent{
		Code:   exitStatus,
		Signal: signo,
		Stderr: stderr,
	}
}
