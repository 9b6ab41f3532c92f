package registry

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kinegraphx/orchestrator/internal/channel"
	"github.com/kinegraphx/orchestrator/internal/worker"
)

// entry is the record the registry keeps per worker name.
type entry struct {
	name    string
	factory Factory

	// lock serializes start, stop and restart
	lock sync.Mutex

	// mu guards the fields below
	mu         sync.Mutex
	state      State
	worker     worker.Worker
	generation string
}

type WorkerRegistry struct {
	entries map[string]*entry
	names   []string

	log *zap.Logger
}

var _ Manager = (*WorkerRegistry)(nil)

type Params struct {
	// Definitions is the fixed set of workers managed by the registry
	Definitions Definitions

	// Log is the logger to use for the registry
	Log *zap.Logger
}

// New creates a registry holding a fresh, stopped instance of every
// defined worker.
func New(params Params) (*WorkerRegistry, error) {
	log := params.Log.Named("registry")

	r := &WorkerRegistry{
		entries: make(map[string]*entry, len(params.Definitions)),
		log:     log,
	}

	for name, factory := range params.Definitions {
		if factory == nil {
			return nil, fmt.Errorf("no factory for worker %q", name)
		}

		e := &entry{name: name, factory: factory}

		if err := r.reset(e); err != nil {
			return nil, err
		}

		r.entries[name] = e
		r.names = append(r.names, name)
	}

	slices.Sort(r.names)

	return r, nil
}

// Start starts the named worker. Lines already reported by the worker,
// including those of a failed start, are returned in the message stack.
func (r *WorkerRegistry) Start(ctx context.Context, name string) (Status, error) {
	e, ok := r.entries[name]
	if !ok {
		return unknownStatus(name), ErrNotFound
	}

	e.lock.Lock()
	defer e.lock.Unlock()

	return r.start(ctx, e, nil)
}

func (r *WorkerRegistry) start(ctx context.Context, e *entry, lines []string) (Status, error) {
	log := r.log.With(zap.String("worker", e.name))

	state, w := r.observe(e)

	switch state {
	case StateRunning:
		// the channel is left untouched
		return r.snapshot(e, lines), ErrAlreadyRunning
	case StateError:
		// the dead instance cannot be started again
		lines = append(lines, r.release(ctx, e, w)...)
		if err := r.reset(e); err != nil {
			return r.snapshot(e, lines), err
		}
		_, w = r.observe(e)
	}

	log.Info("starting worker")

	if err := w.Start(ctx); err != nil {
		log.Error("failed to start worker", zap.Error(err))

		lines = append(lines, w.Channel().Drain()...)

		// discard the instance so a retry starts from scratch
		if resetErr := r.reset(e); resetErr != nil {
			err = errors.Join(err, resetErr)
		}

		return r.snapshot(e, lines), err
	}

	e.mu.Lock()
	e.state = StateRunning
	e.mu.Unlock()

	return r.snapshot(e, append(lines, w.Channel().Drain()...)), nil
}

// Stop terminates the named worker and replaces it with a fresh instance.
// If the worker is not running, ErrNotRunning is returned, but the worker
// is reset all the same.
func (r *WorkerRegistry) Stop(ctx context.Context, name string) (Status, error) {
	e, ok := r.entries[name]
	if !ok {
		return unknownStatus(name), ErrNotFound
	}

	e.lock.Lock()
	defer e.lock.Unlock()

	return r.stop(ctx, e)
}

func (r *WorkerRegistry) stop(ctx context.Context, e *entry) (Status, error) {
	state, w := r.observe(e)

	lines := r.release(ctx, e, w)

	if err := r.reset(e); err != nil {
		return r.snapshot(e, lines), err
	}

	if state != StateRunning {
		return r.snapshot(e, lines), ErrNotRunning
	}

	return r.snapshot(e, lines), nil
}

// Status reports the state of the named worker, correcting RUNNING to
// ERROR if its execution context died, and drains its channel.
func (r *WorkerRegistry) Status(name string) Status {
	e, ok := r.entries[name]
	if !ok {
		return unknownStatus(name)
	}

	state, w := r.observe(e)

	return Status{
		State:        state,
		Status:       statusString(e.name, state),
		MessageStack: w.Channel().Drain(),
	}
}

// Restart stops the worker, then starts it again. The returned status is
// the one of the start; the message stack holds the lines of the stop
// followed by those of the start. A worker that was not running is
// started all the same.
func (r *WorkerRegistry) Restart(ctx context.Context, name string) (Status, error) {
	e, ok := r.entries[name]
	if !ok {
		return unknownStatus(name), ErrNotFound
	}

	e.lock.Lock()
	defer e.lock.Unlock()

	stopped, err := r.stop(ctx, e)

	lines := stopped.MessageStack
	if errors.Is(err, ErrNotRunning) {
		lines = append(lines, fmt.Sprintf("%s was not running", e.name))
	} else if err != nil {
		return stopped, err
	}

	return r.start(ctx, e, lines)
}

// List summarizes all workers.
func (r *WorkerRegistry) List() []Summary {
	summaries := make([]Summary, 0, len(r.names))

	for _, name := range r.names {
		e := r.entries[name]
		state, w := r.observe(e)

		summaries = append(summaries, Summary{
			Name:  name,
			Kind:  w.Kind(),
			State: state,
		})
	}

	return summaries
}

// Shutdown stops all running workers concurrently. A failing stop does
// not cut the grace period of the others.
func (r *WorkerRegistry) Shutdown(ctx context.Context) error {
	var g errgroup.Group

	for _, name := range r.names {
		e := r.entries[name]

		if state, _ := r.observe(e); state != StateRunning {
			continue
		}

		g.Go(func() error {
			status, err := r.Stop(ctx, e.name)
			if errors.Is(err, ErrNotRunning) {
				return nil
			}

			r.log.Info("worker stopped on shutdown",
				zap.String("worker", e.name),
				zap.Strings("messages", status.MessageStack),
				zap.Error(err),
			)

			return err
		})
	}

	return g.Wait()
}

// observe returns the state and instance of the worker. A running worker
// whose execution context died is moved to ERROR.
func (r *WorkerRegistry) observe(e *entry) (State, worker.Worker) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateRunning && !e.worker.IsAlive() {
		r.log.Warn("worker died",
			zap.String("worker", e.name),
			zap.String("generation", e.generation),
		)
		e.state = StateError
	}

	return e.state, e.worker
}

// release terminates the instance if it was started and returns the lines
// it reported.
func (r *WorkerRegistry) release(ctx context.Context, e *entry, w worker.Worker) []string {
	log := r.log.With(zap.String("worker", e.name))

	outcome, err := w.Terminate(ctx)
	switch {
	case errors.Is(err, worker.ErrWorkerNotStarted):
		// never started, nothing to release
	case err != nil:
		log.Error("failed to terminate worker", zap.Error(err))
		w.Channel().Putf("failed to terminate %s: %v", e.name, err)
	default:
		log.Info("worker terminated", zap.String("outcome", string(outcome)))
	}

	return w.Channel().Drain()
}

// reset replaces the instance with a fresh one with its own channel.
func (r *WorkerRegistry) reset(e *entry) error {
	generation := uuid.NewString()

	w, err := e.factory(worker.Params{
		Name:       e.name,
		Generation: generation,
		Channel:    channel.New(),
		Log:        r.log,
	})
	if err != nil {
		return fmt.Errorf("failed to create worker %q: %w", e.name, err)
	}

	e.mu.Lock()
	e.state = StateStopped
	e.worker = w
	e.generation = generation
	e.mu.Unlock()

	r.log.Debug("worker reset",
		zap.String("worker", e.name),
		zap.String("generation", generation),
	)

	return nil
}

func (r *WorkerRegistry) snapshot(e *entry, lines []string) Status {
	e.mu.Lock()
	state := e.state
	e.mu.Unlock()

	if lines == nil {
		lines = []string{}
	}

	return Status{
		State:        state,
		Status:       statusString(e.name, state),
		MessageStack: lines,
	}
}
