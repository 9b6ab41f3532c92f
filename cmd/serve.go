package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/kinegraphx/orchestrator/app"
	"github.com/kinegraphx/orchestrator/app/standalone"
	"github.com/kinegraphx/orchestrator/util/logging"
)

var (
	serveCmdDescription = `The serve command starts the worker registry and a http
server exposing it. Workers are started, stopped and polled
through the http endpoints.

The command blocks until it receives an interrupt signal.
Running workers are stopped before it exits.`
	serveCmd = &cli.Command{
		Name:        "serve",
		Usage:       "Start the worker registry and the http front end.",
		Description: serveCmdDescription,
		Action:      serveAction,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "host",
				Aliases:  []string{"H"},
				Usage:    "The host to listen on. Defaults to 127.0.0.1.",
				Category: "http",
				EnvVars:  []string{"HTTP_HOST"},
			},
			&cli.IntFlag{
				Name:     "port",
				Aliases:  []string{"P"},
				Usage:    "The port to listen on. Defaults to 51312.",
				Category: "http",
				EnvVars:  []string{"HTTP_PORT"},
			},
			&cli.BoolFlag{
				Name:     "h2c",
				Usage:    "Enable HTTP/2 cleartext upgrade.",
				Category: "http",
				EnvVars:  []string{"HTTP_H2C"},
			},
		},
	}
)

func serveAction(ctx *cli.Context) error {
	log, err := logging.LoggerFromContext(ctx.Context)
	if err != nil {
		return err
	}

	app, err := app.New(ctx)
	if err != nil {
		return err
	}

	cfg, err := parseConfig[standalone.Config](ctx, log)
	if err != nil {
		return err
	}

	return app.Run(ctx.Context, standalone.Module(cfg))
}

func init() {
	rootApp.Commands = append(rootApp.Commands, serveCmd)
}
