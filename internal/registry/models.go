package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/kinegraphx/orchestrator/internal/worker"
)

var (
	ErrNotFound       = errors.New("worker not found")
	ErrAlreadyRunning = errors.New("worker already running")
	ErrNotRunning     = errors.New("worker not running")
)

// State is the lifecycle state of a worker as seen by the registry.
type State string

const (
	StateStopped State = "STOPPED"
	StateRunning State = "RUNNING"
	StateError   State = "ERROR"
)

// Status is the answer to every registry operation: the state, a human
// readable status string and the lines drained from the worker's channel.
type Status struct {
	State        State    `json:"state"`
	Status       string   `json:"status"`
	MessageStack []string `json:"message_stack"`
}

// Summary describes a worker without draining its channel.
type Summary struct {
	Name  string      `json:"name"`
	Kind  worker.Kind `json:"kind"`
	State State       `json:"state"`
}

// Factory creates a fresh, not yet started worker instance.
type Factory func(worker.Params) (worker.Worker, error)

// Definitions maps worker names to the factory of their instances.
type Definitions map[string]Factory

type Manager interface {
	// Start starts the named worker.
	Start(ctx context.Context, name string) (Status, error)

	// Stop stops the named worker and replaces it with a fresh instance.
	Stop(ctx context.Context, name string) (Status, error)

	// Status reports the state of the named worker and drains its channel.
	// It never fails.
	Status(name string) Status

	// Restart stops, then starts the named worker.
	Restart(ctx context.Context, name string) (Status, error)

	// List summarizes all known workers, sorted by name.
	List() []Summary
}

func statusString(name string, state State) string {
	switch state {
	case StateRunning:
		return fmt.Sprintf("%s running", name)
	case StateError:
		return fmt.Sprintf("%s error", name)
	default:
		return fmt.Sprintf("%s stopped", name)
	}
}

func unknownStatus(name string) Status {
	return Status{
		State:        StateStopped,
		Status:       fmt.Sprintf("ERROR : %s : No instance available for Worker", name),
		MessageStack: []string{},
	}
}
