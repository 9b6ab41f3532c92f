package config

import (
	"time"

	"github.com/kinegraphx/orchestrator/internal/remote"
	"github.com/kinegraphx/orchestrator/internal/server"
	"github.com/kinegraphx/orchestrator/internal/worker"
	"github.com/kinegraphx/orchestrator/util/conf"
)

type ServerWorkerConfig struct {
	// Command is the command run on a remote host
	Command string `conf:"command"`

	// LocalCommand replaces Command if the remote host is localhost
	LocalCommand string `conf:"local_command"`

	// LocalPath is the server checkout on the local machine, available
	// to the command templates as .Path
	LocalPath string `conf:"local_path"`

	// EnvInit prepares the remote shell environment. It is prepended to
	// the command.
	EnvInit string `conf:"env_init"`

	// Grace is the time given to the interrupt and disconnect sequence
	Grace time.Duration `conf:"grace"`
}

type LocalWorkerConfig struct {
	// Debug is used when running from a source checkout. Relative paths
	// resolve against the working directory.
	Debug worker.StartConfig `conf:"debug"`

	// Dist is used when running from a distributed bundle. Relative paths
	// resolve against the directory of the executable.
	Dist worker.StartConfig `conf:"dist"`

	// Sentinel is the exit flag file polled by the child, relative to
	// its working directory
	Sentinel string `conf:"sentinel"`

	// Grace is the time given to the child to exit
	Grace time.Duration `conf:"grace"`
}

type WorkersConfig struct {
	Server   ServerWorkerConfig `conf:"server"`
	Playback LocalWorkerConfig  `conf:"playback"`
	Client   LocalWorkerConfig  `conf:"client"`
}

type Config struct {
	// LogLevel is the log level for the application
	LogLevel string `conf:"log_level"`

	// LogFormat is the log format for the application
	LogFormat string `conf:"log_format"`

	// Debug selects the debug start configs of local workers
	Debug bool `conf:"debug"`

	// Dist selects the dist start configs of local workers, unless Debug
	// is set as well
	Dist bool `conf:"dist"`

	// Remote configures the session of the remote worker
	Remote remote.Config `conf:"remote"`

	// Workers configures the individual workers
	Workers WorkersConfig `conf:"workers"`

	// Http configures the front end server
	Http server.HttpConfig `conf:"http"`
}

const residentDir = "../Wav2Lip_resident/"

var DefaultConfig = conf.Defaults(
	conf.DefaultConfig{
		"log_level":  "info",
		"log_format": "production",
		"debug":      false,
		"dist":       false,
	},
	conf.MergeDefaults("remote", remote.Defaults),
	conf.MergeDefaults("workers.server", map[string]any{
		"command":       "python -u Wav2Lip_with_cache/daemon.py",
		"local_command": `cd "{{ .Path }}" && python -u daemon.py`,
		"env_init":      "source /settings/.lightningrc && ",
		"grace":         8 * time.Second,
	}),
	conf.MergeDefaults("workers.playback", map[string]any{
		"debug.cmd":  "python",
		"debug.args": []string{"-u", "video_playback_vlc.py"},
		"debug.cwd":  residentDir,
		"dist.cmd":   "python",
		"dist.args":  []string{"-u", "video_playback_vlc.py"},
		"dist.cwd":   "Wav2Lip_resident",
		"sentinel":   "exit_flag.txt",
		"grace":      5 * time.Second,
	}),
	conf.MergeDefaults("workers.client", map[string]any{
		"debug.cmd":  "python",
		"debug.args": []string{"-u", "worker.py"},
		"debug.cwd":  residentDir,
		"dist.cmd":   "python",
		"dist.args":  []string{"-u", "worker.py"},
		"dist.cwd":   "Wav2Lip_resident",
		"grace":      5 * time.Second,
	}),
	conf.MergeDefaults("http", map[string]any{
		"host": "127.0.0.1",
		"port": 51312,
		"h2c":  false,
	}),
)
