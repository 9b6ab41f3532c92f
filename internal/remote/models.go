package remote

import "errors"

var (
	ErrConnection        = errors.New("connection error")
	ErrNotConnected      = errors.New("ssh connection is not established")
	ErrCommandInFlight   = errors.New("a remote command is already running on this session")
	ErrInvalidAddress    = errors.New("invalid remote address, expected user@host[:port]")
	ErrMissingCredential = errors.New("neither key file nor password configured")
	ErrUnknownOS         = errors.New("could not detect remote operating system")
	ErrNoInterruptTarget = errors.New("no pid or pattern to locate the remote process")
)

// OSFamily is the operating system family of the remote host.
type OSFamily string

const (
	OSPosix   OSFamily = "posix"
	OSWindows OSFamily = "windows"
)
