package remote

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKillCommand(t *testing.T) {
	tests := []struct {
		name    string
		family  OSFamily
		signal  string
		pid     int
		pattern string
		want    string
	}{
		{
			name:    "posix pid",
			family:  OSPosix,
			signal:  "TERM",
			pid:     42,
			pattern: "python3",
			want:    "pkill -TERM -P 42; kill -TERM 42",
		},
		{
			name:   "posix pid interrupt",
			family: OSPosix,
			signal: "INT",
			pid:    42,
			want:   "pkill -TERM -P 42; kill -TERM 42",
		},
		{
			name:    "posix pattern",
			family:  OSPosix,
			signal:  "INT",
			pattern: "python3",
			want:    "pkill -INT -f '[p]ython3'",
		},
		{
			name:    "posix pattern quoted",
			family:  OSPosix,
			signal:  "INT",
			pattern: "it's",
			want:    `pkill -INT -f '[i]t'\''s'`,
		},
		{
			name:   "windows pid",
			family: OSWindows,
			signal: "INT",
			pid:    7,
			want:   "taskkill /PID 7 /T /F",
		},
		{
			name:    "windows pattern",
			family:  OSWindows,
			signal:  "INT",
			pattern: `daemon.py"`,
			want:    `wmic process where "CommandLine like '%daemon.py%' and not CommandLine like '%wmic%'" call terminate`,
		},
		{
			name:   "no target",
			family: OSPosix,
			signal: "INT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, killCommand(tt.family, tt.signal, tt.pid, tt.pattern))
		})
	}
}

func TestSelfExcluding(t *testing.T) {
	assert.Equal(t, "[p]ython3", selfExcluding("python3"))
	assert.Equal(t, "", selfExcluding(""))
	assert.Equal(t, "-u daemon", selfExcluding("-u daemon"))
}

func TestNormalizeSignal(t *testing.T) {
	assert.Equal(t, "INT", normalizeSignal(""))
	assert.Equal(t, "INT", normalizeSignal("sigint"))
	assert.Equal(t, "TERM", normalizeSignal(" SIGTERM "))
	assert.Equal(t, "HUP", normalizeSignal("hup"))
}

func TestBackgroundLaunch(t *testing.T) {
	assert.Equal(t,
		"{ python -u daemon.py; } & echo orchestrator-remote-pid=$!; wait $!",
		backgroundLaunch("python -u daemon.py"),
	)
}

func TestCommand_CapturePID(t *testing.T) {
	cmd := newCommand("sleep 1")

	assert.True(t, cmd.capturePID("hello"))
	assert.Equal(t, 0, cmd.Pid())

	assert.False(t, cmd.capturePID("orchestrator-remote-pid=1234\r"))
	assert.Equal(t, 1234, cmd.Pid())
}

func TestParseAddress(t *testing.T) {
	tests := []struct {
		address string
		want    Address
		err     bool
	}{
		{address: "ubuntu@10.0.0.5", want: Address{User: "ubuntu", Host: "10.0.0.5", Port: 22}},
		{address: "ubuntu@10.0.0.5:2222", want: Address{User: "ubuntu", Host: "10.0.0.5", Port: 2222}},
		{address: "root@localhost", want: Address{User: "root", Host: "localhost", Port: 22}},
		{address: "root@[::1]:22", want: Address{User: "root", Host: "::1", Port: 22}},
		{address: "10.0.0.5", err: true},
		{address: "@10.0.0.5", err: true},
		{address: "ubuntu@", err: true},
		{address: "ubuntu@host:0", err: true},
		{address: "ubuntu@host:port", err: true},
	}

	for _, tt := range tests {
		t.Run(tt.address, func(t *testing.T) {
			got, err := ParseAddress(tt.address, 22)
			if tt.err {
				require.ErrorIs(t, err, ErrInvalidAddress)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAddress(t *testing.T) {
	addr := Address{User: "root", Host: "::1", Port: 22}
	assert.Equal(t, "[::1]:22", addr.String())
	assert.True(t, addr.IsLocal())

	assert.False(t, Address{Host: "10.0.0.5"}.IsLocal())
	assert.True(t, Address{Host: "LocalHost"}.IsLocal())
}
