//go:build !windows

// Package remotetest provides an in-process ssh server for tests. Commands
// are executed locally with sh -c.
package remotetest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"

	"golang.org/x/crypto/ssh"
)

const (
	User     = "tester"
	Password = "secret"
)

type Server struct {
	// Addr is the user@host:port address of the server.
	Addr string

	// KeyFile is the path of a private key accepted by the server.
	KeyFile string

	listener net.Listener
	config   *ssh.ServerConfig

	stall atomic.Bool

	mu       sync.Mutex
	commands []string
	conns    map[net.Conn]struct{}
	procs    map[*exec.Cmd]struct{}

	wg sync.WaitGroup
}

// NewServer starts a server listening on a random local port. The server
// is closed when the test ends.
func NewServer(t testing.TB) *Server {
	t.Helper()

	hostKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate host key: %v", err)
	}

	hostSigner, err := ssh.NewSignerFromKey(hostKey)
	if err != nil {
		t.Fatalf("host signer: %v", err)
	}

	clientKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate client key: %v", err)
	}

	clientPub, err := ssh.NewPublicKey(&clientKey.PublicKey)
	if err != nil {
		t.Fatalf("client public key: %v", err)
	}

	keyFile, err := writeKeyFile(t.TempDir(), clientKey)
	if err != nil {
		t.Fatalf("write client key: %v", err)
	}

	config := &ssh.ServerConfig{
		PasswordCallback: func(conn ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			if conn.User() == User && string(password) == Password {
				return nil, nil
			}
			return nil, errors.New("access denied")
		},
		PublicKeyCallback: func(conn ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if conn.User() == User && string(key.Marshal()) == string(clientPub.Marshal()) {
				return nil, nil
			}
			return nil, errors.New("unknown key")
		},
	}
	config.AddHostKey(hostSigner)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	s := &Server{
		Addr:     fmt.Sprintf("%s@%s", User, listener.Addr().String()),
		KeyFile:  keyFile,
		listener: listener,
		config:   config,
		conns:    make(map[net.Conn]struct{}),
		procs:    make(map[*exec.Cmd]struct{}),
	}

	s.wg.Add(1)
	go s.serve()

	t.Cleanup(s.Close)

	return s
}

// Stall makes the server stop answering new session requests, simulating
// an unresponsive remote host.
func (s *Server) Stall() {
	s.stall.Store(true)
}

// Commands returns every command executed so far.
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.commands...)
}

// Close stops the server, drops all connections and kills all processes.
func (s *Server) Close() {
	s.listener.Close()

	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	for cmd := range s.procs {
		killGroup(cmd)
	}
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Server) serve() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		conn.Close()
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()

	_, chans, reqs, err := ssh.NewServerConn(conn, s.config)
	if err != nil {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ssh.DiscardRequests(reqs)
	}()

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			newChannel.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}

		if s.stall.Load() {
			// never answer
			continue
		}

		channel, requests, err := newChannel.Accept()
		if err != nil {
			continue
		}

		s.wg.Add(1)
		go s.handleSession(channel, requests)
	}
}

func (s *Server) handleSession(channel ssh.Channel, requests <-chan *ssh.Request) {
	defer s.wg.Done()

	var cmd *exec.Cmd
	done := make(chan struct{})

	for req := range requests {
		switch req.Type {
		case "exec":
			var payload struct{ Command string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil || cmd != nil {
				req.Reply(false, nil)
				continue
			}

			s.mu.Lock()
			s.commands = append(s.commands, payload.Command)
			s.mu.Unlock()

			cmd = exec.Command("sh", "-c", payload.Command)
			cmd.Stdout = channel
			cmd.Stderr = channel.Stderr()
			cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

			if err := cmd.Start(); err != nil {
				req.Reply(false, nil)
				channel.Close()
				continue
			}

			s.mu.Lock()
			s.procs[cmd] = struct{}{}
			s.mu.Unlock()

			req.Reply(true, nil)

			go func(cmd *exec.Cmd) {
				defer close(done)

				status := exitCode(cmd.Wait())

				s.mu.Lock()
				delete(s.procs, cmd)
				s.mu.Unlock()

				channel.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{status}))
				channel.Close()
			}(cmd)
		case "pty-req", "env":
			req.Reply(true, nil)
		default:
			// signal and others are not supported
			req.Reply(false, nil)
		}
	}

	// the client closed the session, hang up on the process
	if cmd != nil {
		killGroup(cmd)
		<-done
	}

	channel.Close()
}

func exitCode(err error) uint32 {
	if err == nil {
		return 0
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			return uint32(128 + int(status.Signal()))
		}
		return uint32(exitErr.ExitCode())
	}

	return 255
}

func killGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}

	syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}

func writeKeyFile(dir string, key *ecdsa.PrivateKey) (string, error) {
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return "", err
	}

	path := filepath.Join(dir, "id_ecdsa")
	data := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der})

	return path, os.WriteFile(path, data, 0o600)
}
