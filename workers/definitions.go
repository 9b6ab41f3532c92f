// Package workers defines the fixed set of workers managed by the
// orchestrator.
package workers

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/kinegraphx/orchestrator/config"
	"github.com/kinegraphx/orchestrator/internal/registry"
	"github.com/kinegraphx/orchestrator/internal/remote"
	"github.com/kinegraphx/orchestrator/internal/worker"
)

const (
	Server   = "server"
	Playback = "playback"
	Client   = "client"
)

// executable is replaced in tests.
var executable = os.Executable

type Params struct {
	fx.In

	Config config.Config
	Logger *zap.Logger
}

// CommandData is available to the server command templates.
type CommandData struct {
	User string
	Host string
	Port int
	Path string
}

// NewDefinitions builds the worker definitions from the config. The server
// worker is left out if no remote address is configured.
func NewDefinitions(params Params) (registry.Definitions, error) {
	cfg := params.Config
	log := params.Logger.Named("workers")

	dist := cfg.Dist && !cfg.Debug

	playback, err := localStart(cfg.Workers.Playback, dist)
	if err != nil {
		return nil, err
	}

	client, err := localStart(cfg.Workers.Client, dist)
	if err != nil {
		return nil, err
	}

	definitions := registry.Definitions{
		Playback: localFactory(worker.LocalConfig{
			Start:    playback,
			Sentinel: cfg.Workers.Playback.Sentinel,
			Grace:    cfg.Workers.Playback.Grace,
		}),
		Client: localFactory(worker.LocalConfig{
			Start:    client,
			Sentinel: cfg.Workers.Client.Sentinel,
			Grace:    cfg.Workers.Client.Grace,
		}),
	}

	if cfg.Remote.Address == "" {
		log.Warn("no remote address configured, the server worker is unavailable")
		return definitions, nil
	}

	command, err := ServerCommand(cfg.Remote, cfg.Workers.Server)
	if err != nil {
		return nil, err
	}

	log.Debug("server command", zap.String("command", command))

	definitions[Server] = remoteFactory(cfg.Remote, worker.RemoteConfig{
		Command: command,
		Grace:   cfg.Workers.Server.Grace,
	})

	return definitions, nil
}

// ServerCommand renders the command launching the server on the remote
// host, prefixed with the environment init.
func ServerCommand(remoteConfig remote.Config, serverConfig config.ServerWorkerConfig) (string, error) {
	address, err := remote.ParseAddress(remoteConfig.Address, remoteConfig.Port)
	if err != nil {
		return "", err
	}

	data := CommandData{
		User: address.User,
		Host: address.Host,
		Port: address.Port,
		Path: serverConfig.LocalPath,
	}

	command := serverConfig.Command
	if address.IsLocal() && serverConfig.LocalCommand != "" {
		command = serverConfig.LocalCommand
	}

	envInit, err := render("env_init", serverConfig.EnvInit, data)
	if err != nil {
		return "", err
	}

	command, err = render("command", command, data)
	if err != nil {
		return "", err
	}

	return envInit + command, nil
}

func render(name, text string, data CommandData) (string, error) {
	tmpl, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return "", fmt.Errorf("invalid %s template: %w", name, err)
	}

	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("failed to render %s: %w", name, err)
	}

	return sb.String(), nil
}

// localStart selects the start config. In dist mode relative paths are
// resolved against the directory of the executable.
func localStart(cfg config.LocalWorkerConfig, dist bool) (worker.StartConfig, error) {
	if !dist {
		return cfg.Debug, nil
	}

	start := cfg.Dist

	exe, err := executable()
	if err != nil {
		return start, fmt.Errorf("failed to locate executable: %w", err)
	}

	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}

	dir := filepath.Dir(exe)

	if start.Cwd == "" {
		start.Cwd = dir
	} else if !filepath.IsAbs(start.Cwd) {
		start.Cwd = filepath.Join(dir, start.Cwd)
	}

	// bare names are looked up in PATH
	if strings.ContainsRune(start.Cmd, filepath.Separator) && !filepath.IsAbs(start.Cmd) {
		start.Cmd = filepath.Join(dir, start.Cmd)
	}

	return start, nil
}

func localFactory(config worker.LocalConfig) registry.Factory {
	return func(params worker.Params) (worker.Worker, error) {
		return worker.NewLocalWorker(params, config), nil
	}
}

func remoteFactory(remoteConfig remote.Config, config worker.RemoteConfig) registry.Factory {
	return func(params worker.Params) (worker.Worker, error) {
		session, err := remote.NewSession(remoteConfig, params.Log)
		if err != nil {
			return nil, err
		}

		return worker.NewRemoteWorker(params, config, session), nil
	}
}

func Module() fx.Option {
	return fx.Module("workers",
		// provide worker definitions
		fx.Provide(NewDefinitions),
	)
}
