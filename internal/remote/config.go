package remote

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// LaunchMode describes how a remote command is launched, which in turn
// decides how SendInterrupt locates the remote process.
type LaunchMode string

const (
	// LaunchForeground runs the command as the session's main process.
	// The process is located by matching Pattern against command lines.
	LaunchForeground LaunchMode = "foreground"

	// LaunchBackground runs the command as a background job of a POSIX
	// shell which reports the job's pid ($!). The process is located by
	// that pid. Falls back to foreground on Windows hosts.
	LaunchBackground LaunchMode = "background"
)

type InterruptConfig struct {
	// Launch is the launch mode of remote commands.
	Launch LaunchMode `conf:"launch"`

	// Pattern is a command line fragment identifying the remote process.
	Pattern string `conf:"pattern"`

	// Signal is the POSIX signal name sent to the remote process, e.g. INT.
	Signal string `conf:"signal"`

	// Timeout bounds the whole interrupt round trip.
	Timeout time.Duration `conf:"timeout"`
}

type Config struct {
	// Address is the remote address, formatted as user@host[:port].
	Address string `conf:"address"`

	// Port is used when Address does not carry a port.
	Port int `conf:"port"`

	// KeyFile is the private key used for authentication. Takes
	// precedence over Password.
	KeyFile string `conf:"key_file"`

	// LocalKeyFile replaces KeyFile when the remote host is the local
	// machine.
	LocalKeyFile string `conf:"local_key_file"`

	// Password is used for authentication if no key file is configured.
	Password string `conf:"password"`

	// KnownHosts is an optional known_hosts file. If empty, host keys
	// are not verified.
	KnownHosts string `conf:"known_hosts"`

	// Timeout bounds dialing and the ssh handshake.
	Timeout time.Duration `conf:"timeout"`

	// KeepAlive is the interval between keep-alive probes. Zero disables
	// keep-alive probing.
	KeepAlive time.Duration `conf:"keepalive"`

	// KeepAliveMax is the number of unanswered probes after which the
	// connection is considered dead.
	KeepAliveMax int `conf:"keepalive_max"`

	// Pty requests a pseudo-terminal for remote commands.
	Pty bool `conf:"pty"`

	// Term is the terminal type requested with the pseudo-terminal.
	Term string `conf:"term"`

	// Interrupt configures how remote commands are stopped.
	Interrupt InterruptConfig `conf:"interrupt"`
}

var Defaults = map[string]any{
	"port":              22,
	"timeout":           10 * time.Second,
	"keepalive":         15 * time.Second,
	"keepalive_max":     3,
	"pty":               true,
	"term":              "xterm",
	"interrupt.launch":  string(LaunchForeground),
	"interrupt.pattern": "daemon.py",
	"interrupt.signal":  "INT",
	"interrupt.timeout": 5 * time.Second,
}

// Address is a parsed user@host[:port] remote address.
type Address struct {
	User string
	Host string
	Port int
}

// ParseAddress parses a user@host[:port] address. If the address does not
// carry a port, defaultPort is used.
func ParseAddress(address string, defaultPort int) (Address, error) {
	user, hostport, ok := strings.Cut(address, "@")
	if !ok || user == "" || hostport == "" {
		return Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}

	if defaultPort <= 0 {
		defaultPort = 22
	}

	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		// no port given
		return Address{
			User: user,
			Host: strings.Trim(hostport, "[]"),
			Port: defaultPort,
		}, nil
	}

	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 || host == "" {
		return Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}

	return Address{User: user, Host: host, Port: port}, nil
}

// String returns the dialable host:port form of the address.
func (a Address) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// IsLocal reports whether the address points at the local machine.
func (a Address) IsLocal() bool {
	switch strings.ToLower(a.Host) {
	case "localhost", "127.0.0.1", "::1":
		return true
	}

	return false
}
