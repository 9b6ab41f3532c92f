package worker

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"
)

// waitDelay bounds how long Wait keeps copying output after the child
// exited, in case a grandchild still holds the pipes.
const waitDelay = 2 * time.Second

type proc struct {
	pid     int
	process *os.Process

	termination chan struct{}
	exitEvent   ExitEvent

	stderr syncBuffer

	log *zap.Logger
}

func startProc(config StartConfig, stdout io.Writer, log *zap.Logger) (*proc, error) {
	cmd := exec.Command(config.Cmd, config.Args...)

	if config.Env != nil {
		env := os.Environ()
		for k, v := range config.Env {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		cmd.Env = env
	}

	if config.Cwd != "" {
		cmd.Dir = config.Cwd
	}

	process := &proc{
		termination: make(chan struct{}),
	}

	cmd.Stdout = stdout
	cmd.Stderr = &process.stderr
	cmd.WaitDelay = waitDelay

	initCmd(cmd)

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	process.pid = cmd.Process.Pid
	process.process = cmd.Process
	process.log = log.Named("proc").With(zap.Int("pid", cmd.Process.Pid))

	go func() {
		// block until the process exits and its output is copied
		err := cmd.Wait()

		process.exitEvent = getExitEvent(err, process.stderr.String())

		// closing publishes exitEvent
		close(process.termination)
	}()

	return process, nil
}

// Done is closed once the process has exited.
func (p *proc) Done() <-chan struct{} {
	return p.termination
}

// ExitEvent returns the exit status of the process. It is only valid after
// Done is closed.
func (p *proc) ExitEvent() ExitEvent {
	<-p.termination
	return p.exitEvent
}

func (p *proc) Exited() bool {
	select {
	case <-p.termination:
		return true
	default:
		return false
	}
}

// Terminate asks the process group to exit.
func (p *proc) Terminate() {
	p.signal(false)
}

// Kill kills the process group and waits up to timeout for the process to
// exit.
func (p *proc) Kill(timeout time.Duration) error {
	// kill should report success if the process terminated
	// by the time the request is received
	if p.Exited() {
		p.log.Debug("process already terminated")
		return nil
	}

	p.signal(true)

	return p.waitForTermination(timeout)
}

func (p *proc) waitForTermination(timeout time.Duration) error {
	// if timeout is 0, wait indefinitely
	if timeout <= 0 {
		<-p.termination
		return nil
	}

	select {
	case <-p.termination:
		return nil
	case <-time.After(timeout):
		return ErrKillTimeout
	}
}

func (p *proc) signal(force bool) {
	log := p.log.With(zap.Bool("force", force))

	log.Info("sending signal")

	// best effort, ignore errors
	if err := p.sendKillSignal(force); err != nil {
		log.Error("stop failed", zap.Error(err))
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.String()
}
