package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"

	"github.com/kinegraphx/orchestrator/internal/channel"
)

// pidMarker prefixes the line a background launch prints with the job pid.
const pidMarker = "orchestrator-remote-pid="

// Command is the handle of a remote command started with RunCommand.
type Command struct {
	command string

	done chan struct{}

	mu         sync.Mutex
	session    *ssh.Session
	pid        int
	exitStatus int
	err        error

	stderr syncBuffer
}

func newCommand(command string) *Command {
	return &Command{
		command:    command,
		done:       make(chan struct{}),
		exitStatus: -1,
	}
}

// Done is closed once the remote command has ended and its output has
// been forwarded.
func (c *Command) Done() <-chan struct{} {
	return c.done
}

// ExitStatus returns the exit status of the command. It is only valid
// after Done is closed. The error is set if the command ended without
// reporting a status, e.g. because the connection was lost.
func (c *Command) ExitStatus() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.exitStatus, c.err
}

// Pid returns the remote pid reported by a background launch, or 0.
func (c *Command) Pid() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.pid
}

func (c *Command) running() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

func (c *Command) finish(status int, err error) {
	c.mu.Lock()
	c.exitStatus = status
	c.err = err
	c.mu.Unlock()

	close(c.done)
}

// capturePID swallows the pid marker line of a background launch.
func (c *Command) capturePID(line string) bool {
	rest, ok := strings.CutPrefix(strings.TrimSpace(line), pidMarker)
	if !ok {
		return true
	}

	if pid, err := strconv.Atoi(rest); err == nil {
		c.mu.Lock()
		c.pid = pid
		c.mu.Unlock()
	}

	return false
}

func (c *Command) signal(sig ssh.Signal) error {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()

	if session == nil {
		return ErrNotConnected
	}

	return session.Signal(sig)
}

func (c *Command) wait(session *ssh.Session, stdout *channel.LineWriter, ch *channel.Channel) {
	defer session.Close()

	err := session.Wait()
	stdout.Flush()

	status, err := exitStatus(err)
	if err != nil {
		ch.Putf("remote command ended without exit status: %v", err)
	} else {
		ch.Putf("remote command exited with status %d", status)
	}

	if stderr := strings.TrimSpace(c.stderr.String()); stderr != "" {
		ch.Put(stderr)
	}

	c.finish(status, err)
}

// RunCommand starts command on the remote host and returns immediately. A
// background goroutine forwards the remote stdout line by line into ch
// until the stream ends, then reports the exit status and any stderr
// content as a single line. Completion is observable via Command.Done.
func (s *Session) RunCommand(
	ctx context.Context,
	command string,
	ch *channel.Channel,
) (*Command, error) {
	cmd := newCommand(command)

	s.mu.Lock()
	client := s.client
	if client == nil {
		s.mu.Unlock()
		return nil, ErrNotConnected
	}
	if s.command != nil && s.command.running() {
		s.mu.Unlock()
		return nil, ErrCommandInFlight
	}
	s.command = cmd
	s.mu.Unlock()

	ch.Put("running a command on the remote server")

	session, err := s.startCommand(ctx, client, cmd, ch)
	if err != nil {
		s.log.Error("failed to run command", zap.Error(err))
		ch.Putf("failed to run remote command: %v", err)
		cmd.finish(-1, err)
		return nil, fmt.Errorf("failed to run remote command: %w", err)
	}

	cmd.mu.Lock()
	cmd.session = session
	cmd.mu.Unlock()

	return cmd, nil
}

func (s *Session) startCommand(
	ctx context.Context,
	client *ssh.Client,
	cmd *Command,
	ch *channel.Channel,
) (*ssh.Session, error) {
	launch := cmd.command

	if s.config.Interrupt.Launch == LaunchBackground {
		family, err := s.detectOS(ctx, client)
		if err == nil && family == OSPosix {
			launch = backgroundLaunch(cmd.command)
		} else {
			s.log.Warn("background launch unavailable, running in foreground",
				zap.String("os", string(family)),
				zap.Error(err),
			)
		}
	}

	session, err := openSession(ctx, client)
	if err != nil {
		return nil, err
	}

	if s.config.Pty {
		modes := ssh.TerminalModes{
			ssh.ECHO:          0,
			ssh.TTY_OP_ISPEED: 14400,
			ssh.TTY_OP_OSPEED: 14400,
		}

		if err := session.RequestPty(s.config.Term, 40, 160, modes); err != nil {
			session.Close()
			return nil, fmt.Errorf("failed to request pty: %w", err)
		}
	}

	stdout := channel.NewLineWriter(ch).WithFilter(cmd.capturePID)

	session.Stdout = stdout
	session.Stderr = &cmd.stderr

	s.log.Debug("starting remote command", zap.String("command", launch))

	if err := session.Start(launch); err != nil {
		session.Close()
		return nil, err
	}

	go cmd.wait(session, stdout, ch)

	return session, nil
}

// backgroundLaunch wraps command so that the shell reports the pid of the
// background job and waits for it.
func backgroundLaunch(command string) string {
	return fmt.Sprintf("{ %s; } & echo %s$!; wait $!", command, pidMarker)
}

func exitStatus(err error) (int, error) {
	if err == nil {
		return 0, nil
	}

	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitStatus(), nil
	}

	return -1, err
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
