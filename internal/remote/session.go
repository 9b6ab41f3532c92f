package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/kinegraphx/orchestrator/internal/channel"
)

// Session owns a single authenticated ssh connection. At most one
// long-running command may be in flight per session.
type Session struct {
	config  Config
	address Address

	mu       sync.Mutex
	client   *ssh.Client
	stopKeep chan struct{}
	command  *Command
	family   OSFamily

	log *zap.Logger
}

// NewSession validates the config and returns an unconnected session.
func NewSession(config Config, log *zap.Logger) (*Session, error) {
	address, err := ParseAddress(config.Address, config.Port)
	if err != nil {
		return nil, err
	}

	return &Session{
		config:  config,
		address: address,
		log: log.Named("remote").With(
			zap.String("host", address.Host),
			zap.String("user", address.User),
		),
	}, nil
}

// Address returns the parsed remote address.
func (s *Session) Address() Address {
	return s.address
}

// Connect authenticates against the remote host. Dialing and the handshake
// are bounded by the configured timeout. On failure a line is written to ch
// and an error wrapping ErrConnection is returned. Connecting an already
// connected session is a no-op.
func (s *Session) Connect(ctx context.Context, ch *channel.Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		return nil
	}

	fail := func(err error) error {
		s.log.Debug("connect failed", zap.Error(err))
		ch.Putf("failed to connect to %s: %v", s.address.Host, err)
		return fmt.Errorf("%w: failed to connect to %s: %v", ErrConnection, s.address.Host, err)
	}

	auth, err := s.authMethod()
	if err != nil {
		return fail(err)
	}

	hostKeyCallback, err := s.hostKeyCallback()
	if err != nil {
		return fail(err)
	}

	clientConfig := &ssh.ClientConfig{
		User:            s.address.User,
		Auth:            []ssh.AuthMethod{auth},
		HostKeyCallback: hostKeyCallback,
		Timeout:         s.config.Timeout,
	}

	s.log.Debug("connecting", zap.Duration("timeout", s.config.Timeout))

	client, err := dial(ctx, s.address.String(), clientConfig, s.config.Timeout)
	if err != nil {
		return fail(err)
	}

	s.client = client
	s.stopKeep = make(chan struct{})

	if s.config.KeepAlive > 0 {
		go s.keepAlive(client, ch, s.stopKeep)
	}

	s.log.Info("connected")
	ch.Putf("connected to %s@%s", s.address.User, s.address.Host)

	return nil
}

// Disconnect closes the connection, ending any running command. Calling
// Disconnect on a closed session is a no-op.
func (s *Session) Disconnect(ch *channel.Channel) error {
	s.mu.Lock()
	client := s.client
	stop := s.stopKeep
	s.client = nil
	s.stopKeep = nil
	s.mu.Unlock()

	if client == nil {
		return nil
	}

	close(stop)

	if err := client.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.log.Debug("close failed", zap.Error(err))
	}

	s.log.Info("disconnected")
	ch.Putf("disconnected from %s", s.address.Host)

	return nil
}

// Connected reports whether the session holds an open connection.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.client != nil
}

func (s *Session) authMethod() (ssh.AuthMethod, error) {
	keyFile := s.config.KeyFile
	if s.address.IsLocal() && s.config.LocalKeyFile != "" {
		keyFile = s.config.LocalKeyFile
	}

	if keyFile != "" {
		key, err := os.ReadFile(keyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read key file: %w", err)
		}

		signer, err := ssh.ParsePrivateKey(key)

		var missing *ssh.PassphraseMissingError
		if errors.As(err, &missing) && s.config.Password != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(key, []byte(s.config.Password))
		}

		if err != nil {
			return nil, fmt.Errorf("failed to parse key file: %w", err)
		}

		return ssh.PublicKeys(signer), nil
	}

	if s.config.Password != "" {
		return ssh.Password(s.config.Password), nil
	}

	return nil, ErrMissingCredential
}

func (s *Session) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if s.config.KnownHosts == "" {
		return ssh.InsecureIgnoreHostKey(), nil
	}

	return knownhosts.New(s.config.KnownHosts)
}

// keepAlive probes the connection until stop is closed. If KeepAliveMax
// consecutive probes go unanswered or a probe fails, the connection is
// closed, which ends the running command.
func (s *Session) keepAlive(client *ssh.Client, ch *channel.Channel, stop <-chan struct{}) {
	ticker := time.NewTicker(s.config.KeepAlive)
	defer ticker.Stop()

	maxMissed := s.config.KeepAliveMax
	if maxMissed <= 0 {
		maxMissed = 1
	}

	missed := 0

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		reply := make(chan error, 1)
		go func() {
			_, _, err := client.SendRequest("keepalive@openssh.com", true, nil)
			reply <- err
		}()

		select {
		case <-stop:
			return
		case err := <-reply:
			if err == nil {
				missed = 0
				continue
			}
			s.log.Warn("keep-alive failed", zap.Error(err))
			ch.Putf("connection to %s lost: %v", s.address.Host, err)
		case <-time.After(s.config.KeepAlive):
			missed++
			if missed < maxMissed {
				continue
			}
			s.log.Warn("keep-alive timed out", zap.Int("missed", missed))
			ch.Putf("connection to %s lost: %d keep-alive probes unanswered", s.address.Host, missed)
		}

		client.Close()
		return
	}
}

// dial opens the tcp connection and performs the ssh handshake. Both are
// bounded by timeout and abort when ctx is cancelled.
func dial(
	ctx context.Context,
	addr string,
	config *ssh.ClientConfig,
	timeout time.Duration,
) (*ssh.Client, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var dialer net.Dialer

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	// the handshake itself is not context aware, abort it by
	// expiring the connection deadline
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now())
	})

	c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		stop()
		conn.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: %v", ctxErr, err)
		}
		return nil, err
	}

	if !stop() {
		c.Close()
		return nil, ctx.Err()
	}

	conn.SetDeadline(time.Time{})

	return ssh.NewClient(c, chans, reqs), nil
}

// openSession opens a new ssh session, giving up when ctx is done.
func openSession(ctx context.Context, client *ssh.Client) (*ssh.Session, error) {
	type result struct {
		session *ssh.Session
		err     error
	}

	res := make(chan result, 1)
	go func() {
		session, err := client.NewSession()
		res <- result{session, err}
	}()

	select {
	case r := <-res:
		return r.session, r.err
	case <-ctx.Done():
		go func() {
			if r := <-res; r.session != nil {
				r.session.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

// output runs a short-lived command and returns its combined output.
func output(ctx context.Context, client *ssh.Client, command string) (string, error) {
	session, err := openSession(ctx, client)
	if err != nil {
		return "", err
	}

	type result struct {
		out []byte
		err error
	}

	res := make(chan result, 1)
	go func() {
		defer session.Close()
		out, err := session.CombinedOutput(command)
		res <- result{out, err}
	}()

	select {
	case r := <-res:
		return string(r.out), r.err
	case <-ctx.Done():
		session.Close()
		return "", ctx.Err()
	}
}
