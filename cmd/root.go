package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/kinegraphx/orchestrator/config"
	"github.com/kinegraphx/orchestrator/internal/shell"
	"github.com/kinegraphx/orchestrator/util/conf"
	"github.com/kinegraphx/orchestrator/util/logging"
)

const envPrefix = "ORCHESTRATOR_"

var (
	appName  = "orchestrator"
	appUsage = `Start, stop and supervise the avatar workers: a server daemon
on a remote GPU host and the playback and client processes
running next to the orchestrator.`
	// cliMap maps flag names to config keys. Flags not listed here
	// map to their snake cased name.
	cliMap = map[string]string{
		"ssh-addr":           "remote.address",
		"ssh-key-file":       "remote.key_file",
		"ssh-local-key-file": "remote.local_key_file",
		"ssh-password":       "remote.password",
		"ssh-known-hosts":    "remote.known_hosts",
		"server-path":        "workers.server.local_path",
		"host":               "http.host",
		"port":               "http.port",
		"h2c":                "http.h2c",
	}
	rootApp = &cli.App{
		Name:            appName,
		Usage:           appUsage,
		HideHelpCommand: true,
		Flags: []cli.Flag{
			// general flags
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "set the log level. Options: debug, info, warn, error, panic, fatal.",
				EnvVars: []string{"LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "set the log format. Options: production, development.",
				EnvVars: []string{"LOG_FORMAT"},
			},
			&cli.PathFlag{
				Name:    "config",
				Usage:   "an optional JSON configuration file.",
				Aliases: []string{"C"},
				EnvVars: []string{"ORCHESTRATOR_CONFIG"},
			},
			&cli.PathFlag{
				Name:    "env-file",
				Usage:   "an optional dotenv file. Only keys prefixed with " + envPrefix + " are read.",
				Value:   ".env",
				EnvVars: []string{"ORCHESTRATOR_ENV_FILE"},
			},
			// remote flags
			&cli.StringFlag{
				Name:     "ssh-addr",
				Usage:    "the remote server address, formatted as user@host[:port].",
				Category: "remote",
				EnvVars:  []string{"SSH_ADDR"},
			},
			&cli.PathFlag{
				Name:     "ssh-key-file",
				Usage:    "the private key used to authenticate with the remote server.",
				Category: "remote",
				EnvVars:  []string{"SSH_KEY_FILE", "SSH_PUBLIC_KEY_FILE"},
			},
			&cli.PathFlag{
				Name:     "ssh-local-key-file",
				Usage:    "the private key used if the remote server is localhost.",
				Category: "remote",
				EnvVars:  []string{"SSH_KEY_PATH"},
			},
			&cli.StringFlag{
				Name:     "ssh-password",
				Usage:    "the password used if no key file is configured.",
				Category: "remote",
				EnvVars:  []string{"SSH_PASSWORD"},
			},
			&cli.PathFlag{
				Name:     "ssh-known-hosts",
				Usage:    "a known_hosts file to verify the remote host key against.",
				Category: "remote",
				EnvVars:  []string{"SSH_KNOWN_HOSTS"},
			},
			&cli.PathFlag{
				Name:     "server-path",
				Usage:    "the server checkout used if the remote server is localhost.",
				Category: "remote",
				EnvVars:  []string{"SERVER_PATH"},
			},
			// worker flags
			&cli.BoolFlag{
				Name:     "debug",
				Usage:    "run local workers from the source checkout.",
				Category: "workers",
				EnvVars:  []string{"ORCHESTRATOR_DEBUG"},
			},
			&cli.BoolFlag{
				Name:     "dist",
				Usage:    "run local workers relative to the executable.",
				Category: "workers",
				EnvVars:  []string{"ORCHESTRATOR_DIST"},
			},
		},
		Before: func(ctx *cli.Context) error {
			// create the logger
			log, err := createLogger(ctx)
			if err != nil {
				return err
			}

			// inject logger into cli context
			ctx.Context = logging.ContextWithLogger(ctx.Context, log)

			// parse config using defaults, files, env and flags
			cfg, err := parseConfig[config.Config](ctx, log)
			if err != nil {
				return err
			}

			// inject the config into the cli context
			ctx.Context = conf.ContextWithConfig(ctx.Context, cfg)

			return nil
		},
		After: func(ctx *cli.Context) error {
			log, err := logging.LoggerFromContext(ctx.Context)
			if err != nil {
				return err
			}

			log.Sync()

			return nil
		},
	}
)

func init() {
	cli.VersionFlag = &cli.BoolFlag{
		Name:               "version",
		Usage:              "print the version",
		DisableDefaultText: true,
	}
}

type ExecuteParams struct {
	Version  string
	Compiled time.Time
}

// Execute runs the app and returns its exit code.
func Execute(params ExecuteParams) int {
	rootApp.Version = params.Version
	rootApp.Compiled = params.Compiled

	return run(context.Background(), os.Args)
}

func run(ctx context.Context, args []string) int {
	err := rootApp.RunContext(ctx, args)

	// if app exited without error, return
	if err == nil {
		return 0
	}

	// if app exited with ExitError, exit with given exit code
	var exitErr *shell.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode
	}

	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		if msg := exitCoder.Error(); msg != "" {
			fmt.Fprintln(os.Stderr, msg)
		}
		return exitCoder.ExitCode()
	}

	// otherwise, exit with exit code 1
	fmt.Fprintf(os.Stderr, "exit error: %s\n", err.Error())

	return 1
}

// parseConfig parses C from the default config, the config files, the
// environment and the flags of ctx.
func parseConfig[C any](ctx *cli.Context, log *zap.Logger) (C, error) {
	return conf.Parse[C](conf.ParseOptions{
		Cli:         ctx,
		CliMap:      cliMap,
		Defaults:    config.DefaultConfig,
		EnvPrefix:   envPrefix,
		EnvFileName: ctx.Path("env-file"),
		FileName:    ctx.Path("config"),
		Log:         log,
	})
}

func createLogger(ctx *cli.Context) (*zap.Logger, error) {
	return logging.New(logging.Options{
		App:    appName,
		Level:  ctx.String("log-level"),
		Format: ctx.String("log-format"),
		Sentry: sentry.CurrentHub(),
	})
}
