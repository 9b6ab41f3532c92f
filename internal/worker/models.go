package worker

import (
	"fmt"
	"time"
)

var (
	ErrKillTimeout          = fmt.Errorf("kill timeout")
	ErrWorkerNotStarted     = fmt.Errorf("worker not started")
	ErrWorkerAlreadyStarted = fmt.Errorf("worker already started")
)

// Kind is the kind of execution context behind a worker.
type Kind string

const (
	KindLocal  Kind = "local"
	KindRemote Kind = "remote"
)

// Outcome tells how a worker ended after Terminate.
type Outcome string

const (
	// OutcomeClean means the worker wound down within its grace period.
	OutcomeClean Outcome = "clean"

	// OutcomeForced means the grace period expired and the execution
	// context was killed.
	OutcomeForced Outcome = "forced"
)

type StartConfig struct {
	// Cmd is the path or name of the binary to execute
	Cmd string `conf:"cmd"`

	// Cwd is the working directory in which
	// the binary should be executed
	Cwd string `conf:"cwd"`

	// Args is the list of arguments to pass to the command
	Args []string `conf:"args"`

	// Env is a map of environment variables
	// to add when running the command
	Env map[string]string `conf:"env"`
}

type LocalConfig struct {
	Start StartConfig

	// Sentinel is a file the child polls for and exits when it appears.
	// Relative paths are resolved against Start.Cwd. If empty, the child
	// is asked to stop with SIGTERM.
	Sentinel string

	// Grace is the time to wait for the child to exit before killing it.
	Grace time.Duration
}

type RemoteConfig struct {
	// Command is the full command line run on the remote host.
	Command string

	// Grace is the time to wait for the interrupt and disconnect
	// sequence before dropping the connection.
	Grace time.Duration
}

type ExitEvent struct {
	// Code is the exit code of the process
	Code *int

	// Signal is the signal that caused the process to exit
	Signal *int

	// Stderr is the stderr output of the process
	Stderr string
}

func (e ExitEvent) String() string {
	if e.Signal != nil {
		return fmt.Sprintf("terminated by signal %d", *e.Signal)
	}

	if e.Code != nil {
		return fmt.Sprintf("exited with code %d", *e.Code)
	}

	return "exited"
}
